package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ChartSync/internal/domain/models"
	domrepo "ChartSync/internal/domain/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type candleCall struct {
	Symbol   string
	TF       domrepo.Timeframe
	From, To int64
}

// fakeSource is a scripted CandleSource. When gate is non-nil every call
// blocks until the gate is closed or receives a value.
type fakeSource struct {
	mu         sync.Mutex
	calls      []candleCall
	metaCalls  int
	resp       func(call candleCall) (*models.CandleResponse, error)
	meta       *models.SymbolMetadata
	metaErr    error
	symbols    []models.AvailableSymbol
	symbolsErr error
	gate       chan struct{}
	started    chan candleCall
}

func (s *fakeSource) FetchCandles(ctx context.Context, symbol string, tf domrepo.Timeframe, from, to int64) (*models.CandleResponse, error) {
	call := candleCall{Symbol: symbol, TF: tf, From: from, To: to}
	s.mu.Lock()
	s.calls = append(s.calls, call)
	gate, started, resp := s.gate, s.started, s.resp
	s.mu.Unlock()

	if started != nil {
		started <- call
	}
	if gate != nil {
		<-gate
	}
	if resp == nil {
		return &models.CandleResponse{Candles: []models.RawCandle{}}, nil
	}
	return resp(call)
}

func (s *fakeSource) FetchSymbolMetadata(ctx context.Context, symbol string) (*models.SymbolMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metaCalls++
	if s.metaErr != nil {
		return nil, s.metaErr
	}
	return s.meta, nil
}

func (s *fakeSource) ListSymbols(ctx context.Context) ([]models.AvailableSymbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.symbolsErr != nil {
		return nil, s.symbolsErr
	}
	return s.symbols, nil
}

func (s *fakeSource) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSource) LastCall() candleCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func (s *fakeSource) SetGate(gate chan struct{}) {
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
}

// rawSeries renders candles as backend rows with RFC3339 timestamps.
func rawSeries(candles ...models.Candle) *models.CandleResponse {
	rows := make([]models.RawCandle, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, models.RawCandle{
			Time:  time.Unix(c.Time, 0).UTC().Format(time.RFC3339),
			Open:  fmt.Sprint(c.Open),
			High:  fmt.Sprint(c.High),
			Low:   fmt.Sprint(c.Low),
			Close: fmt.Sprint(c.Close),
		})
	}
	return &models.CandleResponse{Candles: rows}
}

func bar(t int64, o, h, l, c float64) models.Candle {
	return models.Candle{Time: t, Open: o, High: h, Low: l, Close: c}
}

type fakeRenderer struct {
	mu      sync.Mutex
	buffers [][]models.Candle
	spacing float64
	applied []float64
	visible models.TimeRange
}

func (r *fakeRenderer) ReplaceBuffer(candles []models.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]models.Candle, len(candles))
	copy(cp, candles)
	r.buffers = append(r.buffers, cp)
}

func (r *fakeRenderer) ApplyBarSpacing(spacing float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spacing = spacing
	r.applied = append(r.applied, spacing)
}

func (r *fakeRenderer) CurrentBarSpacing() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spacing
}

func (r *fakeRenderer) CurrentVisibleRange() models.TimeRange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visible
}

func (r *fakeRenderer) Last() []models.Candle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buffers) == 0 {
		return nil
	}
	return r.buffers[len(r.buffers)-1]
}

func (r *fakeRenderer) Renders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}

type recordingMetrics struct {
	noopMetrics
	mu          sync.Mutex
	results     map[string]int
	transitions []string
	discards    map[string]int
	merges      []bool
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{results: map[string]int{}, discards: map[string]int{}}
}

func (m *recordingMetrics) RecordCacheResult(result string) {
	m.mu.Lock()
	m.results[result]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordTransition(from, to, cause string) {
	m.mu.Lock()
	m.transitions = append(m.transitions, from+">"+to+":"+cause)
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordDiscard(reason string) {
	m.mu.Lock()
	m.discards[reason]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordMerge(kept bool) {
	m.mu.Lock()
	m.merges = append(m.merges, kept)
	m.mu.Unlock()
}

func (m *recordingMetrics) Discards(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discards[reason]
}

func (m *recordingMetrics) Transitions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.transitions...)
}

type fakeMonitor struct {
	mu      sync.Mutex
	ch      chan models.UpdateNotification
	starts  int
	stops   int
	failErr error
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{ch: make(chan models.UpdateNotification, 8)}
}

func (m *fakeMonitor) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.starts++
	return nil
}

func (m *fakeMonitor) Stop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return nil
}

func (m *fakeMonitor) Notifications() <-chan models.UpdateNotification { return m.ch }

func (m *fakeMonitor) Counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}
