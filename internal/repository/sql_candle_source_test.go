package repository

import (
	"context"
	"testing"

	domrepo "ChartSync/internal/domain/repository"
	"ChartSync/pkg/sqlite"
	"ChartSync/pkg/util"

	"github.com/stretchr/testify/require"
)

func newSQLiteSource(t *testing.T) (*SQLCandleSource, *sqlite.Client) {
	t.Helper()
	client, err := sqlite.NewClient(sqlite.WithPath(":memory:"), sqlite.WithWAL(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.InitSchema(context.Background(), SchemaStatements(DialectSQLite)))
	return NewSQLCandleSource(client.DB(), DialectSQLite), client
}

func TestAssetRouting(t *testing.T) {
	cases := []struct {
		symbol string
		asset  string
		ok     bool
	}{
		{"BTCUSD", "bitcoin", true},
		{"BTC/USD", "bitcoin", true},
		{"EURUSD", "forex", true},
		{"GBP/JPY", "forex", true},
		{"EURXYZ", "", false},
		{"AAPL", "", false},
		{"EUR-USD", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.symbol, func(t *testing.T) {
			asset, err := AssetClass(tc.symbol)
			if !tc.ok {
				require.ErrorIs(t, err, ErrUnknownAsset)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.asset, asset)
		})
	}

	table, err := CandleTable("EURUSD", domrepo.TF4h)
	require.NoError(t, err)
	require.Equal(t, "forex_candles_4h", table)

	_, err = CandleTable("EURUSD", "7m")
	require.ErrorIs(t, err, domrepo.ErrUnknownTimeframe)

	ticks, err := TicksTable("BTCUSD")
	require.NoError(t, err)
	require.Equal(t, "bitcoin_ticks", ticks)
}

func TestSQLCandleSource_FetchCandles(t *testing.T) {
	src, client := newSQLiteSource(t)
	ctx := context.Background()
	db := client.DB()

	for _, row := range []struct {
		ts    int64
		o, c  float64
		ticks int64
	}{
		{1754863200, 1.0845, 1.0850, 12},
		{1754866800, 1.0850, 1.0861, 30},
		{1754870400, 1.0861, 1.0858, 7},
	} {
		_, err := db.ExecContext(ctx, `INSERT INTO forex_candles_1h (symbol, time, open, high, low, close, tick_count) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			"EURUSD", row.ts, row.o, row.c+0.001, row.o-0.001, row.c, row.ticks)
		require.NoError(t, err)
	}
	_, err := db.ExecContext(ctx, `INSERT INTO forex_candles_1h (symbol, time, open, high, low, close, tick_count) VALUES ('GBPUSD', 1754866800, 1, 1, 1, 1, 1)`)
	require.NoError(t, err)
	for _, ts := range []int64{1754860000, 1754871000} {
		_, err := db.ExecContext(ctx, `INSERT INTO forex_ticks (symbol, time, bid, ask) VALUES ('EURUSD', ?, 1.08, 1.09)`, ts)
		require.NoError(t, err)
	}

	resp, err := src.FetchCandles(ctx, "EURUSD", domrepo.TF1h, 1754863200, 1754866800)
	require.NoError(t, err)
	require.Len(t, resp.Candles, 2)
	require.Equal(t, "2025-08-10T22:00:00Z", resp.Candles[0].Time)
	open, ok := util.ParseFloat(resp.Candles[0].Open)
	require.True(t, ok)
	require.InDelta(t, 1.0845, open, 1e-9)
	closePx, ok := util.ParseFloat(resp.Candles[1].Close)
	require.True(t, ok)
	require.InDelta(t, 1.0861, closePx, 1e-9)
	require.NotNil(t, resp.Candles[1].Volume)
	require.Equal(t, int64(30), *resp.Candles[1].Volume)

	require.NotNil(t, resp.Metadata)
	require.True(t, resp.Metadata.HasData)
	require.Equal(t, int64(1754860000), resp.Metadata.DataFrom)
	require.Equal(t, int64(1754871000), resp.Metadata.DataTo)
	require.Equal(t, int64(2), *resp.Metadata.TotalTicks)
}

func TestSQLCandleSource_EmptyAndErrors(t *testing.T) {
	src, _ := newSQLiteSource(t)
	ctx := context.Background()

	resp, err := src.FetchCandles(ctx, "BTCUSD", domrepo.TF5m, 0, 100)
	require.NoError(t, err)
	require.Empty(t, resp.Candles)
	require.NotNil(t, resp.Metadata)
	require.False(t, resp.Metadata.HasData)

	meta, err := src.FetchSymbolMetadata(ctx, "BTCUSD")
	require.NoError(t, err)
	require.False(t, meta.HasData)
	require.Nil(t, meta.TotalTicks)

	_, err = src.FetchCandles(ctx, "DOGE", domrepo.TF5m, 0, 100)
	require.ErrorIs(t, err, ErrUnknownAsset)
	_, err = src.FetchSymbolMetadata(ctx, "DOGE")
	require.ErrorIs(t, err, ErrUnknownAsset)
}

func TestSQLCandleSource_ListSymbols(t *testing.T) {
	src, client := newSQLiteSource(t)
	ctx := context.Background()

	got, err := src.ListSymbols(ctx)
	require.NoError(t, err)
	require.Empty(t, got)

	for _, q := range []string{
		`INSERT INTO forex_ticks (symbol, time, bid, ask) VALUES ('GBPUSD', 1754860000, 1.3, 1.31)`,
		`INSERT INTO forex_ticks (symbol, time, bid, ask) VALUES ('EURUSD', 1754860000, 1.08, 1.09)`,
		`INSERT INTO forex_ticks (symbol, time, bid, ask) VALUES ('EURUSD', 1754870400, 1.08, 1.09)`,
		`INSERT INTO bitcoin_ticks (symbol, time, bid, ask) VALUES ('BTCUSD', 1754866800, 60000, 60010)`,
	} {
		_, err := client.DB().ExecContext(ctx, q)
		require.NoError(t, err)
	}

	got, err = src.ListSymbols(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []string{"BTCUSD", "EURUSD", "GBPUSD"}, []string{got[0].Symbol, got[1].Symbol, got[2].Symbol})
	require.Equal(t, "bitcoin", got[0].Source)
	require.Equal(t, "EUR/USD", got[1].Label)
	require.True(t, got[1].HasData)
	require.NotNil(t, got[1].LastTick)
	require.Equal(t, "2025-08-11T00:00:00Z", *got[1].LastTick)
}

func TestUnixTimeScan(t *testing.T) {
	var u unixTime
	require.NoError(t, u.Scan(int64(42)))
	require.Equal(t, unixTime{Unix: 42, Valid: true}, u)
	require.NoError(t, u.Scan([]byte("2025-08-11T00:00:00Z")))
	require.Equal(t, int64(1754870400), u.Unix)
	require.NoError(t, u.Scan(nil))
	require.False(t, u.Valid)
	require.Error(t, u.Scan("not a time"))
	require.Error(t, u.Scan(true))
}
