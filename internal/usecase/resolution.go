package usecase

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	domrepo "ChartSync/internal/domain/repository"
	applogger "ChartSync/pkg/logger"
)

var (
	// ErrCooldown is returned for a manual switch inside the cooldown window.
	ErrCooldown = errors.New("timeframe change rejected: cooldown active")
	// ErrSameTimeframe is returned for a manual switch to the active timeframe.
	ErrSameTimeframe = errors.New("timeframe change rejected: already active")
	// ErrInvalidLadder is returned when thresholds could make adjacent rungs oscillate.
	ErrInvalidLadder = errors.New("invalid resolution ladder")
)

// DecisionKind is the outcome of feeding a sample to the controller.
type DecisionKind int

const (
	DecisionNone DecisionKind = iota
	DecisionZoomIn
	DecisionZoomOut
	DecisionClamp
	DecisionManual
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionZoomIn:
		return "zoom_in"
	case DecisionZoomOut:
		return "zoom_out"
	case DecisionClamp:
		return "clamp"
	case DecisionManual:
		return "manual"
	default:
		return "none"
	}
}

// Decision tells the caller what to do after a sample or request.
// BarSpacing is the spacing the renderer should apply for Clamp and
// transition kinds.
type Decision struct {
	Kind       DecisionKind      `json:"kind"`
	From       domrepo.Timeframe `json:"from"`
	To         domrepo.Timeframe `json:"to"`
	BarSpacing float64           `json:"bar_spacing"`
}

// IsTransition reports whether the decision switched timeframe.
func (d Decision) IsTransition() bool {
	return d.Kind == DecisionZoomIn || d.Kind == DecisionZoomOut || d.Kind == DecisionManual
}

// Thresholds holds the per-timeframe bar spacing limits. Spacing above
// ZoomIn moves one rung finer, below ZoomOut one rung coarser.
type Thresholds struct {
	ZoomIn  float64 `json:"zoom_in"`
	ZoomOut float64 `json:"zoom_out"`
}

// ResolutionConfig describes the ladder the controller walks.
type ResolutionConfig struct {
	Ladder        []domrepo.Timeframe
	Thresholds    map[domrepo.Timeframe]Thresholds
	MinSpacing    float64
	MaxSpacing    float64
	CoarsestFloor float64
	Cooldown      time.Duration
}

// DefaultResolutionConfig is the stock ladder: 1m..12h, zoom in above 32,
// zoom out below 8, spacing clamped to [3, 50], 700ms cooldown.
func DefaultResolutionConfig() ResolutionConfig {
	th := make(map[domrepo.Timeframe]Thresholds, len(domrepo.Ladder))
	for _, tf := range domrepo.Ladder {
		th[tf] = Thresholds{ZoomIn: 32, ZoomOut: 8}
	}
	return ResolutionConfig{
		Ladder:        append([]domrepo.Timeframe(nil), domrepo.Ladder...),
		Thresholds:    th,
		MinSpacing:    3,
		MaxSpacing:    50,
		CoarsestFloor: 4,
		Cooldown:      700 * time.Millisecond,
	}
}

func (c ResolutionConfig) clamp(v float64) float64 {
	return math.Min(c.MaxSpacing, math.Max(c.MinSpacing, v))
}

// Validate rejects ladders whose thresholds overlap between adjacent rungs.
func (c ResolutionConfig) Validate() error {
	if len(c.Ladder) == 0 {
		return fmt.Errorf("%w: empty ladder", ErrInvalidLadder)
	}
	if c.MinSpacing <= 0 || c.MaxSpacing <= c.MinSpacing {
		return fmt.Errorf("%w: spacing bounds [%g, %g]", ErrInvalidLadder, c.MinSpacing, c.MaxSpacing)
	}
	if c.CoarsestFloor < c.MinSpacing || c.CoarsestFloor > c.MaxSpacing {
		return fmt.Errorf("%w: coarsest floor %g outside [%g, %g]", ErrInvalidLadder, c.CoarsestFloor, c.MinSpacing, c.MaxSpacing)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: negative cooldown", ErrInvalidLadder)
	}

	for i, tf := range c.Ladder {
		if !domrepo.IsValidTimeframe(tf) {
			return fmt.Errorf("%w: %w: %q", ErrInvalidLadder, domrepo.ErrUnknownTimeframe, tf)
		}
		th, ok := c.Thresholds[tf]
		if !ok {
			return fmt.Errorf("%w: no thresholds for %s", ErrInvalidLadder, tf)
		}
		if th.ZoomOut >= th.ZoomIn {
			return fmt.Errorf("%w: %s zoom_out %g must be below zoom_in %g", ErrInvalidLadder, tf, th.ZoomOut, th.ZoomIn)
		}
		if i == 0 {
			continue
		}

		fine, coarse := c.Ladder[i-1], tf
		r := domrepo.Ratio(fine, coarse)
		if r <= 1 {
			return fmt.Errorf("%w: %s is not coarser than %s", ErrInvalidLadder, coarse, fine)
		}
		fineTh := c.Thresholds[fine]
		if landed := c.clamp(th.ZoomIn * r); landed < fineTh.ZoomOut {
			return fmt.Errorf("%w: zooming in from %s lands at %g, below %s zoom_out %g",
				ErrInvalidLadder, coarse, landed, fine, fineTh.ZoomOut)
		}
		if landed := c.clamp(fineTh.ZoomOut / r); landed > th.ZoomIn {
			return fmt.Errorf("%w: zooming out from %s lands at %g, above %s zoom_in %g",
				ErrInvalidLadder, fine, landed, coarse, th.ZoomIn)
		}
	}
	return nil
}

// ResolutionState is a snapshot of the controller.
type ResolutionState struct {
	Timeframe        domrepo.Timeframe `json:"timeframe"`
	BarSpacing       float64           `json:"bar_spacing"`
	LastTransitionAt time.Time         `json:"last_transition_at"`
	Locked           bool              `json:"locked"`
}

// ResolutionOption configures ResolutionController.
type ResolutionOption func(*ResolutionController)

// WithResolutionClock overrides the wall clock used by the cooldown gate.
func WithResolutionClock(now func() time.Time) ResolutionOption {
	return func(c *ResolutionController) {
		if now != nil {
			c.now = now
		}
	}
}

// WithResolutionLogger injects a structured logger.
func WithResolutionLogger(l *applogger.Logger) ResolutionOption {
	return func(c *ResolutionController) {
		if l != nil {
			c.logger = l
		}
	}
}

// ResolutionController picks the timeframe from observed bar spacing with
// hysteresis and a cooldown between switches.
type ResolutionController struct {
	cfg    ResolutionConfig
	index  map[domrepo.Timeframe]int
	now    func() time.Time
	logger *applogger.Logger

	mu             sync.Mutex
	tf             domrepo.Timeframe
	spacing        float64
	lastTransition time.Time
	locked         bool
}

// NewResolutionController validates cfg and starts at initial.
func NewResolutionController(cfg ResolutionConfig, initial domrepo.Timeframe, spacing float64, opts ...ResolutionOption) (*ResolutionController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &ResolutionController{
		cfg:     cfg,
		index:   make(map[domrepo.Timeframe]int, len(cfg.Ladder)),
		now:     time.Now,
		logger:  applogger.Nop(),
		spacing: spacing,
	}
	for i, tf := range cfg.Ladder {
		c.index[tf] = i
	}
	if _, ok := c.index[initial]; !ok {
		return nil, fmt.Errorf("initial timeframe: %w: %q", domrepo.ErrUnknownTimeframe, initial)
	}
	c.tf = initial
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Sample evaluates one bar spacing reading.
func (c *ResolutionController) Sample(spacing float64) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.spacing = spacing
	cur := c.tf
	idx := c.index[cur]
	none := Decision{Kind: DecisionNone, From: cur, To: cur, BarSpacing: spacing}

	if idx == len(c.cfg.Ladder)-1 && spacing < c.cfg.CoarsestFloor {
		c.spacing = c.cfg.CoarsestFloor
		return Decision{Kind: DecisionClamp, From: cur, To: cur, BarSpacing: c.cfg.CoarsestFloor}
	}
	if c.locked {
		return none
	}
	if c.now().Sub(c.lastTransition) < c.cfg.Cooldown {
		return none
	}

	th := c.cfg.Thresholds[cur]
	switch {
	case idx > 0 && spacing > th.ZoomIn:
		next := c.cfg.Ladder[idx-1]
		return c.transition(DecisionZoomIn, next, c.cfg.clamp(spacing*domrepo.Ratio(next, cur)))
	case idx < len(c.cfg.Ladder)-1 && spacing < th.ZoomOut:
		next := c.cfg.Ladder[idx+1]
		return c.transition(DecisionZoomOut, next, c.cfg.clamp(spacing/domrepo.Ratio(cur, next)))
	}
	return none
}

// RequestTimeframe switches to tf on request, subject to the cooldown.
// Bar spacing is left as is.
func (c *ResolutionController) RequestTimeframe(tf domrepo.Timeframe) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[tf]; !ok {
		return Decision{}, fmt.Errorf("%w: %q", domrepo.ErrUnknownTimeframe, tf)
	}
	if tf == c.tf {
		return Decision{}, ErrSameTimeframe
	}
	if c.now().Sub(c.lastTransition) < c.cfg.Cooldown {
		return Decision{}, ErrCooldown
	}
	return c.transition(DecisionManual, tf, c.spacing), nil
}

// Reset moves to tf unconditionally, as for an external subject change.
// The cooldown restarts so the stale spacing cannot trigger a switch.
func (c *ResolutionController) Reset(tf domrepo.Timeframe, spacing float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[tf]; !ok {
		return fmt.Errorf("%w: %q", domrepo.ErrUnknownTimeframe, tf)
	}
	c.tf = tf
	if spacing > 0 {
		c.spacing = spacing
	}
	c.lastTransition = c.now()
	return nil
}

// SetLocked suspends automatic transitions while locked.
func (c *ResolutionController) SetLocked(locked bool) {
	c.mu.Lock()
	c.locked = locked
	c.mu.Unlock()
}

// State returns a snapshot.
func (c *ResolutionController) State() ResolutionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ResolutionState{
		Timeframe:        c.tf,
		BarSpacing:       c.spacing,
		LastTransitionAt: c.lastTransition,
		Locked:           c.locked,
	}
}

// Timeframe returns the active timeframe.
func (c *ResolutionController) Timeframe() domrepo.Timeframe {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tf
}

// transition commits a switch. Caller holds the lock.
func (c *ResolutionController) transition(kind DecisionKind, to domrepo.Timeframe, spacing float64) Decision {
	from := c.tf
	c.tf = to
	c.spacing = spacing
	c.lastTransition = c.now()

	c.logger.Debug("timeframe transition",
		applogger.String("from", string(from)),
		applogger.String("to", string(to)),
		applogger.String("cause", kind.String()),
		applogger.Float64("bar_spacing", spacing),
	)
	return Decision{Kind: kind, From: from, To: to, BarSpacing: spacing}
}
