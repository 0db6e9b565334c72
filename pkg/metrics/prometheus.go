package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cacheResults   *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	backendCalls   *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	pending        prometheus.Gauge
	transitions    *prometheus.CounterVec
	merges         *prometheus.CounterVec
	discards       *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
}

// New creates a Prometheus metrics recorder registered on reg.
// A nil reg registers on the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		cacheResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartsync_cache_lookups_total",
				Help: "Candle cache lookups by result (hit, miss, stale, forced)",
			},
			[]string{"result"},
		),
		cacheEvictions: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chartsync_cache_evictions_total",
				Help: "Candle cache entries evicted for capacity",
			},
		),
		backendCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartsync_backend_calls_total",
				Help: "Calls issued to the candle backend",
			},
			[]string{"op", "result"},
		),
		backendLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chartsync_backend_call_duration_seconds",
				Help:    "Duration of backend calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		pending: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chartsync_pending_requests",
				Help: "In-flight backend requests tracked by the fetch coordinator",
			},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartsync_timeframe_transitions_total",
				Help: "Timeframe transitions by cause",
			},
			[]string{"from", "to", "cause"},
		),
		merges: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartsync_refresh_merges_total",
				Help: "Refresh merges into the view buffer",
			},
			[]string{"placeholder"},
		),
		discards: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartsync_refresh_discarded_total",
				Help: "Fetch results dropped before reaching the view",
			},
			[]string{"reason"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartsync_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

// RecordCacheResult records a cache lookup outcome.
func (r *Recorder) RecordCacheResult(result string) {
	r.cacheResults.WithLabelValues(result).Inc()
}

// RecordCacheEviction records a capacity eviction.
func (r *Recorder) RecordCacheEviction() {
	r.cacheEvictions.Inc()
}

// RecordBackendCall records one backend call and its latency.
func (r *Recorder) RecordBackendCall(op string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.backendCalls.WithLabelValues(op, result).Inc()
	r.backendLatency.WithLabelValues(op).Observe(seconds)
}

// SetPendingRequests records the size of the in-flight table.
func (r *Recorder) SetPendingRequests(n int) {
	r.pending.Set(float64(n))
}

// RecordTransition records a timeframe switch.
func (r *Recorder) RecordTransition(from, to, cause string) {
	r.transitions.WithLabelValues(from, to, cause).Inc()
}

// RecordMerge records a refresh merge.
func (r *Recorder) RecordMerge(placeholderKept bool) {
	label := "none"
	if placeholderKept {
		label = "kept"
	}
	r.merges.WithLabelValues(label).Inc()
}

// RecordDiscard records a dropped fetch result.
func (r *Recorder) RecordDiscard(reason string) {
	r.discards.WithLabelValues(reason).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
