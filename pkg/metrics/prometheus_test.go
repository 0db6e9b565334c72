package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorder_IndependentRegistries(t *testing.T) {
	r1 := New(prometheus.NewRegistry())
	r2 := New(prometheus.NewRegistry())

	r1.RecordCacheResult("hit")
	r1.RecordCacheResult("hit")
	r2.RecordCacheResult("hit")

	require.Equal(t, 2.0, testutil.ToFloat64(r1.cacheResults.WithLabelValues("hit")))
	require.Equal(t, 1.0, testutil.ToFloat64(r2.cacheResults.WithLabelValues("hit")))
}

func TestRecorder_BackendCallResultLabel(t *testing.T) {
	r := New(prometheus.NewRegistry())
	r.RecordBackendCall("candles", 0.01, nil)
	r.RecordBackendCall("candles", 0.02, errors.New("boom"))

	require.Equal(t, 1.0, testutil.ToFloat64(r.backendCalls.WithLabelValues("candles", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.backendCalls.WithLabelValues("candles", "error")))
}

func TestRecorder_MergeAndTransition(t *testing.T) {
	r := New(prometheus.NewRegistry())
	r.RecordMerge(true)
	r.RecordMerge(false)
	r.RecordTransition("1h", "15m", "zoom")
	r.SetPendingRequests(3)

	require.Equal(t, 1.0, testutil.ToFloat64(r.merges.WithLabelValues("kept")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.merges.WithLabelValues("none")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("1h", "15m", "zoom")))
	require.Equal(t, 3.0, testutil.ToFloat64(r.pending))
}
