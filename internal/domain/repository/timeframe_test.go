package repository

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("15m")
	require.NoError(t, err)
	require.Equal(t, TF15m, tf)

	_, err = ParseTimeframe("2h")
	require.ErrorIs(t, err, ErrUnknownTimeframe)

	require.Equal(t, TF1h, NormalizeTimeframe("bogus"))
}

func TestLadderNeighbours(t *testing.T) {
	_, ok := TF1m.Finer()
	require.False(t, ok)
	_, ok = TF12h.Coarser()
	require.False(t, ok)

	f, ok := TF1h.Finer()
	require.True(t, ok)
	require.Equal(t, TF15m, f)

	c, ok := TF1h.Coarser()
	require.True(t, ok)
	require.Equal(t, TF4h, c)
}

func TestRatioAndWidths(t *testing.T) {
	require.Equal(t, 4.0, Ratio(TF15m, TF1h))
	require.Equal(t, 3.0, Ratio(TF4h, TF12h))
	require.Equal(t, 5.0, Ratio(TF1m, TF5m))

	require.Equal(t, int64(7200), TF1h.BucketSeconds())
	require.Equal(t, int64(3600), Timeframe("2h").BucketSeconds())
	require.Equal(t, int64(900), TF15m.PeriodSeconds())
}
