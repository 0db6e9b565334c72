package usecase

import (
	"sort"
	"sync"
	"time"

	"ChartSync/internal/domain/models"
	domrepo "ChartSync/internal/domain/repository"
	applogger "ChartSync/pkg/logger"
)

// DefaultPlaceholderWindow is how long placeholder creation stays armed
// after it fires.
const DefaultPlaceholderWindow = 5 * time.Second

// ReconcilerOption configures LiveReconciler.
type ReconcilerOption func(*LiveReconciler)

// WithPlaceholderWindow sets the re-entrancy window for CreatePlaceholder.
func WithPlaceholderWindow(d time.Duration) ReconcilerOption {
	return func(r *LiveReconciler) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithReconcilerClock overrides the wall clock.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *LiveReconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithReconcilerLogger injects a structured logger.
func WithReconcilerLogger(l *applogger.Logger) ReconcilerOption {
	return func(r *LiveReconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithReconcilerMetrics injects a metrics recorder.
func WithReconcilerMetrics(m domrepo.Metrics) ReconcilerOption {
	return func(r *LiveReconciler) {
		if m != nil {
			r.metrics = m
		}
	}
}

// LiveReconciler owns the view buffer and the single outstanding
// placeholder. The buffer is always strictly ascending by time.
type LiveReconciler struct {
	window  time.Duration
	now     func() time.Time
	logger  *applogger.Logger
	metrics domrepo.Metrics

	mu             sync.Mutex
	buffer         []models.Candle
	placeholder    int64
	hasPlaceholder bool
	armedUntil     time.Time
}

// NewLiveReconciler creates an empty reconciler.
func NewLiveReconciler(opts ...ReconcilerOption) *LiveReconciler {
	r := &LiveReconciler{
		window:  DefaultPlaceholderWindow,
		now:     time.Now,
		logger:  applogger.Nop(),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreatePlaceholder appends a flat candle at candleTime priced at the last
// close. It is a no-op while armed, on an empty buffer, or when candleTime
// does not extend the buffer. An earlier placeholder that no refresh has
// confirmed yet is dropped first, so the buffer never holds two. Reports
// whether a candle was added.
func (r *LiveReconciler) CreatePlaceholder(candleTime int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Before(r.armedUntil) || len(r.buffer) == 0 {
		return false
	}
	last := r.buffer[len(r.buffer)-1]
	if candleTime <= last.Time {
		return false
	}

	if r.hasPlaceholder {
		if i, ok := indexOfTime(r.buffer, r.placeholder); ok && r.buffer[i].IsPlaceholder() {
			r.buffer = append(r.buffer[:i], r.buffer[i+1:]...)
			r.metrics.RecordDiscard("stale_placeholder")
			r.logger.Debug("stale placeholder dropped", applogger.Int64("time", r.placeholder))
		}
		r.hasPlaceholder = false
		if len(r.buffer) == 0 {
			return false
		}
		last = r.buffer[len(r.buffer)-1]
	}

	r.armedUntil = now.Add(r.window)
	r.buffer = append(r.buffer, models.Candle{
		Time:  candleTime,
		Open:  last.Close,
		High:  last.Close,
		Low:   last.Close,
		Close: last.Close,
	})
	r.placeholder, r.hasPlaceholder = candleTime, true

	r.logger.Debug("placeholder created",
		applogger.Int64("time", candleTime),
		applogger.Float64("price", last.Close),
	)
	return true
}

// MergeRefresh folds refreshed candles into the buffer and returns the
// result. History before the first refreshed time is kept; everything at or
// after it is replaced, except an outstanding placeholder the refresh does
// not cover yet.
func (r *LiveReconciler) MergeRefresh(fresh []models.Candle) []models.Candle {
	incoming := sortUnique(append([]models.Candle(nil), fresh...))

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buffer) == 0 {
		r.buffer = incoming
		r.hasPlaceholder = false
		r.metrics.RecordMerge(false)
		return r.snapshot()
	}
	if len(incoming) == 0 {
		return r.snapshot()
	}

	first := incoming[0].Time
	cut := sort.Search(len(r.buffer), func(i int) bool { return r.buffer[i].Time >= first })

	var (
		kept     models.Candle
		keep     bool
		promoted bool
	)
	if r.hasPlaceholder {
		promoted = containsTime(incoming, r.placeholder)
		if !promoted && r.placeholder >= first {
			if i, ok := indexOfTime(r.buffer[cut:], r.placeholder); ok {
				kept, keep = r.buffer[cut+i], true
			}
		}
	}

	merged := make([]models.Candle, 0, cut+len(incoming)+1)
	merged = append(merged, r.buffer[:cut]...)
	merged = append(merged, incoming...)
	if keep {
		at := sort.Search(len(merged), func(i int) bool { return merged[i].Time > kept.Time })
		merged = append(merged, models.Candle{})
		copy(merged[at+1:], merged[at:])
		merged[at] = kept
	}
	r.buffer = merged

	switch {
	case promoted:
		r.hasPlaceholder = false
		r.logger.Debug("placeholder promoted", applogger.Int64("time", r.placeholder))
	case r.hasPlaceholder && !keep:
		if _, ok := indexOfTime(r.buffer, r.placeholder); !ok {
			r.hasPlaceholder = false
		}
	}

	r.metrics.RecordMerge(keep)
	return r.snapshot()
}

// Reset replaces the buffer wholesale and forgets any placeholder.
func (r *LiveReconciler) Reset(candles []models.Candle) []models.Candle {
	buf := sortUnique(append([]models.Candle(nil), candles...))

	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = buf
	r.hasPlaceholder = false
	r.armedUntil = time.Time{}
	return r.snapshot()
}

// Buffer returns a copy of the view buffer.
func (r *LiveReconciler) Buffer() []models.Candle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Last returns the newest candle.
func (r *LiveReconciler) Last() (models.Candle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buffer) == 0 {
		return models.Candle{}, false
	}
	return r.buffer[len(r.buffer)-1], true
}

// Placeholder returns the outstanding placeholder time, if any.
func (r *LiveReconciler) Placeholder() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.placeholder, r.hasPlaceholder
}

func (r *LiveReconciler) snapshot() []models.Candle {
	out := make([]models.Candle, len(r.buffer))
	copy(out, r.buffer)
	return out
}

func indexOfTime(candles []models.Candle, t int64) (int, bool) {
	i := sort.Search(len(candles), func(i int) bool { return candles[i].Time >= t })
	if i < len(candles) && candles[i].Time == t {
		return i, true
	}
	return 0, false
}

func containsTime(candles []models.Candle, t int64) bool {
	_, ok := indexOfTime(candles, t)
	return ok
}
