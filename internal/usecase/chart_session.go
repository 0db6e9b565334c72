package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ChartSync/internal/domain/models"
	domrepo "ChartSync/internal/domain/repository"
	applogger "ChartSync/pkg/logger"
	"ChartSync/pkg/util"

	"github.com/robfig/cron/v3"
)

// ErrTransitionInProgress is returned for a manual switch requested while
// another switch is still loading.
var ErrTransitionInProgress = errors.New("timeframe transition already in progress")

const (
	DefaultRefreshSchedule     = "@every 60s"
	DefaultPlaceholderSchedule = "@every 5s"
	DefaultFadeDelay           = 150 * time.Millisecond
	defaultRefreshTimeout      = 30 * time.Second
)

// SessionOption configures ChartSession.
type SessionOption func(*ChartSession)

// WithUpdateMonitor attaches the backend update stream.
func WithUpdateMonitor(m domrepo.UpdateMonitor) SessionOption {
	return func(s *ChartSession) { s.monitor = m }
}

// WithFadeDelay sets the pause between applying the new spacing and
// fetching the new timeframe.
func WithFadeDelay(d time.Duration) SessionOption {
	return func(s *ChartSession) {
		if d >= 0 {
			s.fadeDelay = d
		}
	}
}

// WithSchedules sets the cron specs for refresh and placeholder ticks.
func WithSchedules(refresh, placeholder string) SessionOption {
	return func(s *ChartSession) {
		if refresh != "" {
			s.refreshSpec = refresh
		}
		if placeholder != "" {
			s.placeholderSpec = placeholder
		}
	}
}

// WithRequireUpdateHint gates periodic refresh on a pending update hint.
func WithRequireUpdateHint(require bool) SessionOption {
	return func(s *ChartSession) { s.requireHint = require }
}

// WithSessionClock overrides the wall clock.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *ChartSession) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSessionLogger injects a structured logger.
func WithSessionLogger(l *applogger.Logger) SessionOption {
	return func(s *ChartSession) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSessionMetrics injects a metrics recorder.
func WithSessionMetrics(m domrepo.Metrics) SessionOption {
	return func(s *ChartSession) {
		if m != nil {
			s.metrics = m
		}
	}
}

// SessionSnapshot is a read-only view of a chart session.
type SessionSnapshot struct {
	Symbol        string            `json:"symbol"`
	Timeframe     domrepo.Timeframe `json:"timeframe"`
	Generation    uint64            `json:"generation"`
	Running       bool              `json:"running"`
	Transitioning bool              `json:"transitioning"`
	Resolution    ResolutionState   `json:"resolution"`
	Candles       int               `json:"candles"`
	Placeholder   *int64            `json:"placeholder,omitempty"`
	Hints         []string          `json:"hints"`
	Pending       int               `json:"pending_requests"`
}

// ChartSession drives one chart: it loads the subject, reacts to zoom,
// refreshes on a schedule and keeps the renderer in sync.
type ChartSession struct {
	coord    *FetchCoordinator
	ctrl     *ResolutionController
	recon    *LiveReconciler
	renderer domrepo.Renderer
	monitor  domrepo.UpdateMonitor

	fadeDelay       time.Duration
	refreshSpec     string
	placeholderSpec string
	requireHint     bool
	now             func() time.Time
	logger          *applogger.Logger
	metrics         domrepo.Metrics

	mu            sync.Mutex
	symbol        string
	tf            domrepo.Timeframe
	generation    uint64
	transitioning bool
	hints         map[domrepo.Timeframe]bool

	lifeMu     sync.Mutex
	running    bool
	cron       *cron.Cron
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
}

// NewChartSession wires the three state machines to a renderer.
func NewChartSession(coord *FetchCoordinator, ctrl *ResolutionController, recon *LiveReconciler, renderer domrepo.Renderer, opts ...SessionOption) *ChartSession {
	s := &ChartSession{
		coord:           coord,
		ctrl:            ctrl,
		recon:           recon,
		renderer:        renderer,
		fadeDelay:       DefaultFadeDelay,
		refreshSpec:     DefaultRefreshSchedule,
		placeholderSpec: DefaultPlaceholderSchedule,
		requireHint:     true,
		now:             time.Now,
		logger:          applogger.Nop(),
		metrics:         noopMetrics{},
		tf:              ctrl.Timeframe(),
		hints:           make(map[domrepo.Timeframe]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load switches the chart to symbol/tf and renders the default window.
func (s *ChartSession) Load(ctx context.Context, symbol string, tf domrepo.Timeframe) error {
	if !domrepo.IsValidTimeframe(tf) {
		return fmt.Errorf("load: %w: %q", domrepo.ErrUnknownTimeframe, tf)
	}

	s.mu.Lock()
	s.symbol = symbol
	s.tf = tf
	s.generation++
	gen := s.generation
	s.hints = make(map[domrepo.Timeframe]bool)
	if err := s.ctrl.Reset(tf, s.renderer.CurrentBarSpacing()); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.logger.Info("chart load",
		applogger.String("symbol", symbol),
		applogger.String("timeframe", string(tf)),
	)

	candles, err := s.coord.Fetch(ctx, symbol, tf, FetchOptions{})
	if err != nil {
		s.metrics.RecordError("load")
		return fmt.Errorf("load %s %s: %w", symbol, tf, err)
	}
	s.apply(gen, "load", func() {
		s.renderer.ReplaceBuffer(s.recon.Reset(candles))
	})
	return nil
}

// OnBarSpacing feeds a zoom sample. A transition decision loads the new
// timeframe before returning.
func (s *ChartSession) OnBarSpacing(ctx context.Context, spacing float64) (Decision, error) {
	s.mu.Lock()
	if s.transitioning {
		tf := s.tf
		s.mu.Unlock()
		return Decision{Kind: DecisionNone, From: tf, To: tf, BarSpacing: spacing}, nil
	}
	d := s.ctrl.Sample(spacing)
	if d.IsTransition() {
		s.transitioning = true
	}
	s.mu.Unlock()

	switch {
	case d.Kind == DecisionClamp:
		s.renderer.ApplyBarSpacing(d.BarSpacing)
	case d.IsTransition():
		return d, s.transition(ctx, d)
	}
	return d, nil
}

// RequestTimeframe performs a manual switch.
func (s *ChartSession) RequestTimeframe(ctx context.Context, tf domrepo.Timeframe) (Decision, error) {
	s.mu.Lock()
	if s.transitioning {
		s.mu.Unlock()
		return Decision{}, ErrTransitionInProgress
	}
	d, err := s.ctrl.RequestTimeframe(tf)
	if err != nil {
		s.mu.Unlock()
		return Decision{}, err
	}
	s.transitioning = true
	s.mu.Unlock()

	return d, s.transition(ctx, d)
}

// SetLocked forwards the lock signal to the resolution controller.
func (s *ChartSession) SetLocked(locked bool) {
	s.ctrl.SetLocked(locked)
}

// transition runs a committed timeframe switch. The caller has set
// s.transitioning.
func (s *ChartSession) transition(ctx context.Context, d Decision) error {
	defer func() {
		s.mu.Lock()
		s.transitioning = false
		s.mu.Unlock()
	}()

	prevSpacing := s.renderer.CurrentBarSpacing()

	s.mu.Lock()
	s.tf = d.To
	s.generation++
	gen := s.generation
	symbol := s.symbol
	s.mu.Unlock()

	s.metrics.RecordTransition(string(d.From), string(d.To), d.Kind.String())
	s.logger.Info("timeframe switch",
		applogger.String("symbol", symbol),
		applogger.String("from", string(d.From)),
		applogger.String("to", string(d.To)),
		applogger.String("cause", d.Kind.String()),
	)
	s.renderer.ApplyBarSpacing(d.BarSpacing)

	if s.fadeDelay > 0 {
		t := time.NewTimer(s.fadeDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			s.revert(gen, d, prevSpacing)
			return ctx.Err()
		}
	}

	candles, err := s.coord.Fetch(ctx, symbol, d.To, FetchOptions{})
	if err != nil {
		s.metrics.RecordError("transition")
		s.revert(gen, d, prevSpacing)
		return fmt.Errorf("switch to %s: %w", d.To, err)
	}
	s.apply(gen, "transition", func() {
		s.renderer.ReplaceBuffer(s.recon.Reset(candles))
	})
	return nil
}

// revert restores the previous timeframe after a failed switch, unless the
// subject moved on meanwhile.
func (s *ChartSession) revert(gen uint64, d Decision, spacing float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	s.tf = d.From
	s.generation++
	if err := s.ctrl.Reset(d.From, spacing); err != nil {
		s.logger.Error("revert timeframe", applogger.Error(err))
		return
	}
	s.renderer.ApplyBarSpacing(spacing)
	s.logger.Warn("timeframe switch reverted",
		applogger.String("from", string(d.To)),
		applogger.String("to", string(d.From)),
	)
}

// Refresh pulls the latest candles for the active subject and merges them
// into the view. Without a pending update hint it does nothing when hints
// are required.
func (s *ChartSession) Refresh(ctx context.Context) error {
	s.mu.Lock()
	symbol, tf, gen := s.symbol, s.tf, s.generation
	if symbol == "" || s.transitioning {
		s.mu.Unlock()
		return nil
	}
	if s.requireHint && s.monitor != nil && !s.hints[tf] {
		s.mu.Unlock()
		s.logger.Debug("refresh skipped, no update hint", applogger.String("timeframe", string(tf)))
		return nil
	}
	delete(s.hints, tf)
	s.mu.Unlock()

	now := s.now().Unix()
	r, ok := s.coord.DefaultRange(symbol, tf)
	if !ok {
		r = models.TimeRange{From: now - int64(tf.DefaultWindow()/time.Second)}
	}
	r.To = now

	candles, err := s.coord.Fetch(ctx, symbol, tf, FetchOptions{Range: &r, ForceRefresh: true})
	if err != nil {
		s.mu.Lock()
		if s.generation == gen {
			s.hints[tf] = true
		}
		s.mu.Unlock()
		s.metrics.RecordError("refresh")
		return fmt.Errorf("refresh %s %s: %w", symbol, tf, err)
	}
	s.apply(gen, "refresh", func() {
		s.renderer.ReplaceBuffer(s.recon.MergeRefresh(candles))
	})
	return nil
}

// TickPlaceholder adds a placeholder once the clock has entered a period
// past the last candle. Reports whether one was added.
func (s *ChartSession) TickPlaceholder() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.symbol == "" || s.transitioning {
		return false
	}
	last, ok := s.recon.Last()
	if !ok {
		return false
	}
	start := util.FloorUnix(s.now().Unix(), s.tf.PeriodSeconds())
	if start <= last.Time {
		return false
	}
	if !s.recon.CreatePlaceholder(start) {
		return false
	}
	s.renderer.ReplaceBuffer(s.recon.Buffer())
	return true
}

// OnUpdate records an update hint; it never fetches.
func (s *ChartSession) OnUpdate(n models.UpdateNotification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.Symbol != "" && n.Symbol != s.symbol {
		return
	}
	tf := s.tf
	if n.Timeframe != "" {
		parsed, err := domrepo.ParseTimeframe(n.Timeframe)
		if err != nil {
			s.logger.Debug("update hint ignored", applogger.String("timeframe", n.Timeframe))
			return
		}
		tf = parsed
	}
	s.hints[tf] = true
}

// Start begins scheduled refreshes and the update stream.
func (s *ChartSession) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.refreshSpec, s.scheduledRefresh); err != nil {
		return fmt.Errorf("register refresh: %w", err)
	}
	if _, err := c.AddFunc(s.placeholderSpec, func() { s.TickPlaceholder() }); err != nil {
		return fmt.Errorf("register placeholder tick: %w", err)
	}

	if s.monitor != nil {
		if err := s.monitor.Start(ctx); err != nil {
			return fmt.Errorf("start update monitor: %w", err)
		}
		pumpCtx, cancel := context.WithCancel(context.Background())
		s.pumpCancel = cancel
		s.pumpDone = make(chan struct{})
		go s.pump(pumpCtx, s.monitor.Notifications(), s.pumpDone)
	}

	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("chart session started",
		applogger.String("refresh", s.refreshSpec),
		applogger.String("placeholder", s.placeholderSpec),
	)
	return nil
}

// Stop halts scheduling, stops the update stream and drops in-flight
// bookkeeping.
func (s *ChartSession) Stop(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	var errs []error
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait scheduled jobs: %w", ctx.Err()))
	}

	if s.monitor != nil {
		if err := s.monitor.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop update monitor: %w", err))
		}
		s.pumpCancel()
		select {
		case <-s.pumpDone:
		case <-ctx.Done():
		}
	}

	if n := s.coord.CancelPending(); n > 0 {
		s.logger.Debug("cleared pending requests", applogger.Int("count", n))
	}
	s.logger.Info("chart session stopped")
	return errors.Join(errs...)
}

// Snapshot describes the session state.
func (s *ChartSession) Snapshot() SessionSnapshot {
	s.lifeMu.Lock()
	running := s.running
	s.lifeMu.Unlock()

	s.mu.Lock()
	hints := make([]string, 0, len(s.hints))
	for tf := range s.hints {
		hints = append(hints, string(tf))
	}
	snap := SessionSnapshot{
		Symbol:        s.symbol,
		Timeframe:     s.tf,
		Generation:    s.generation,
		Running:       running,
		Transitioning: s.transitioning,
	}
	s.mu.Unlock()
	sort.Strings(hints)
	snap.Hints = hints

	snap.Resolution = s.ctrl.State()
	snap.Candles = len(s.recon.Buffer())
	if ph, ok := s.recon.Placeholder(); ok {
		snap.Placeholder = &ph
	}
	snap.Pending = s.coord.PendingCount()
	return snap
}

// Buffer returns the current view buffer.
func (s *ChartSession) Buffer() []models.Candle {
	return s.recon.Buffer()
}

// apply runs fn only if the subject generation is still gen; otherwise
// the result is dropped.
func (s *ChartSession) apply(gen uint64, op string, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		s.metrics.RecordDiscard("subject_changed")
		s.logger.Debug("stale result discarded", applogger.String("op", op))
		return false
	}
	fn()
	return true
}

func (s *ChartSession) scheduledRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRefreshTimeout)
	defer cancel()
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("scheduled refresh failed", applogger.Error(err))
	}
}

func (s *ChartSession) pump(ctx context.Context, ch <-chan models.UpdateNotification, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			s.OnUpdate(n)
		}
	}
}
