package renderer

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"ChartSync/internal/domain/models"
	domrepo "ChartSync/internal/domain/repository"
	"ChartSync/internal/service/ratelimit"
	"ChartSync/internal/usecase"
	applogger "ChartSync/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/mailru/easyjson"
)

// Controller is the chart the hub forwards client input to.
type Controller interface {
	OnBarSpacing(ctx context.Context, spacing float64) (usecase.Decision, error)
	RequestTimeframe(ctx context.Context, tf domrepo.Timeframe) (usecase.Decision, error)
	SetLocked(locked bool)
	Snapshot() usecase.SessionSnapshot
}

// Option configures Hub.
type Option func(*Hub)

// WithInitialSpacing sets the bar spacing reported before any client zooms.
func WithInitialSpacing(spacing float64) Option {
	return func(h *Hub) {
		if spacing > 0 {
			h.spacing = spacing
		}
	}
}

// WithSendBuffer sets the per-client outbound queue length.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithTimeouts sets the write deadline and ping period. The read deadline is
// derived from the ping period.
func WithTimeouts(write, ping time.Duration) Option {
	return func(h *Hub) {
		if write > 0 {
			h.writeWait = write
		}
		if ping > 0 {
			h.pingPeriod = ping
		}
	}
}

// WithZoomLimit bounds zoom samples per client to burst, refilled at rate per second.
func WithZoomLimit(burst, rate float64) Option {
	return func(h *Hub) {
		if burst > 0 && rate > 0 {
			h.zoomBurst, h.zoomRate = burst, rate
		}
	}
}

// WithHubLogger sets the structured logger.
func WithHubLogger(l *applogger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.l = l
		}
	}
}

// WithOpTimeout bounds each controller call made for a client message.
func WithOpTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.opTimeout = d
		}
	}
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// Hub is the websocket drawing surface: it implements Renderer by pushing
// frames to every connected chart client and turns client zoom and range
// reports into controller calls.
type Hub struct {
	upgrader   websocket.Upgrader
	limiter    *ratelimit.Limiter
	l          *applogger.Logger
	sendBuffer int
	writeWait  time.Duration
	pingPeriod time.Duration
	opTimeout  time.Duration
	zoomBurst  float64
	zoomRate   float64

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	clients    map[*client]struct{}
	spacing    float64
	visible    models.TimeRange
	lastBuffer []byte
	ctrl       Controller
	closed     bool
}

var _ domrepo.Renderer = (*Hub)(nil)

func NewHub(opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		limiter:    ratelimit.New(),
		l:          applogger.Nop(),
		sendBuffer: 32,
		writeWait:  10 * time.Second,
		pingPeriod: 30 * time.Second,
		opTimeout:  30 * time.Second,
		zoomBurst:  30,
		zoomRate:   30,
		ctx:        ctx,
		cancel:     cancel,
		clients:    make(map[*client]struct{}),
		spacing:    12,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetController attaches the chart that receives client input.
func (h *Hub) SetController(c Controller) {
	h.mu.Lock()
	h.ctrl = c
	h.mu.Unlock()
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.serve)
}

// ReplaceBuffer broadcasts the full view buffer and keeps it for late joiners.
func (h *Hub) ReplaceBuffer(candles []models.Candle) {
	b := encode(Frame{Type: FrameBuffer, Candles: candles})
	h.mu.Lock()
	h.lastBuffer = b
	h.mu.Unlock()
	h.broadcast(b)
}

// ApplyBarSpacing records the spacing and pushes it to clients.
func (h *Hub) ApplyBarSpacing(spacing float64) {
	h.mu.Lock()
	h.spacing = spacing
	h.mu.Unlock()
	h.broadcast(encode(Frame{Type: FrameSpacing, BarSpacing: spacing}))
}

func (h *Hub) CurrentBarSpacing() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.spacing
}

func (h *Hub) CurrentVisibleRange() models.TimeRange {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.visible
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.cancel()
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.drop(c)
	}
	return nil
}

func (h *Hub) serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.l.Warn("websocket upgrade failed", applogger.Error(err))
		return nil
	}

	cl := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, max(h.sendBuffer, 4))}
	if !h.register(cl) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(h.writeWait))
		_ = conn.Close()
		return nil
	}

	go h.writePump(cl)
	h.readPump(cl)
	return nil
}

// register queues the greeting frames before the client becomes visible to
// broadcasts, so a late joiner always sees state, spacing and buffer first.
func (h *Hub) register(cl *client) bool {
	h.mu.RLock()
	ctrl := h.ctrl
	h.mu.RUnlock()
	var snap *usecase.SessionSnapshot
	if ctrl != nil {
		// Taken outside h.mu: the session holds its own lock while rendering.
		s := ctrl.Snapshot()
		snap = &s
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if snap != nil {
		cl.send <- encode(Frame{
			Type:       FrameState,
			Symbol:     snap.Symbol,
			Timeframe:  string(snap.Timeframe),
			Locked:     snap.Resolution.Locked,
			BarSpacing: h.spacing,
		})
	}
	cl.send <- encode(Frame{Type: FrameSpacing, BarSpacing: h.spacing})
	if h.lastBuffer != nil {
		cl.send <- h.lastBuffer
	}
	h.clients[cl] = struct{}{}
	h.l.Info("chart client connected", applogger.String("client", cl.id), applogger.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) broadcast(b []byte) {
	h.mu.RLock()
	var slow []*client
	for cl := range h.clients {
		select {
		case cl.send <- b:
		default:
			slow = append(slow, cl)
		}
	}
	h.mu.RUnlock()
	for _, cl := range slow {
		h.l.Warn("chart client too slow, disconnecting", applogger.String("client", cl.id))
		h.drop(cl)
	}
}

func (h *Hub) drop(cl *client) {
	cl.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, cl)
		n := len(h.clients)
		h.mu.Unlock()
		close(cl.send)
		h.limiter.Forget(cl.id)
		h.l.Info("chart client disconnected", applogger.String("client", cl.id), applogger.Int("clients", n))
	})
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case b, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(cl *client) {
	defer h.drop(cl)

	readWait := h.pingPeriod * 2
	cl.conn.SetReadLimit(4096)
	_ = cl.conn.SetReadDeadline(time.Now().Add(readWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.l.Warn("websocket read error", applogger.String("client", cl.id), applogger.Error(err))
			}
			return
		}
		_ = cl.conn.SetReadDeadline(time.Now().Add(readWait))

		var msg ClientMessage
		if err := easyjson.Unmarshal(data, &msg); err != nil {
			h.reply(cl, Frame{Type: FrameError, Code: "ERR_BAD_MESSAGE", Message: err.Error()})
			continue
		}
		h.dispatch(cl, msg)
	}
}

func (h *Hub) dispatch(cl *client, msg ClientMessage) {
	h.mu.RLock()
	ctrl := h.ctrl
	h.mu.RUnlock()

	switch msg.Type {
	case MsgVisibleRange:
		if msg.From > msg.To {
			h.reply(cl, Frame{Type: FrameError, Code: "ERR_BAD_RANGE", Message: "from must be <= to"})
			return
		}
		h.mu.Lock()
		h.visible = models.TimeRange{From: msg.From, To: msg.To}
		h.mu.Unlock()
		return
	case MsgZoom:
		if msg.BarSpacing <= 0 {
			h.reply(cl, Frame{Type: FrameError, Code: "ERR_BAD_SPACING", Message: "bar_spacing must be > 0"})
			return
		}
		if !h.limiter.Allow(cl.id, h.zoomBurst, h.zoomRate) {
			return
		}
		h.mu.Lock()
		h.spacing = msg.BarSpacing
		h.mu.Unlock()
	case MsgTimeframe, MsgLock:
	default:
		h.reply(cl, Frame{Type: FrameError, Code: "ERR_UNKNOWN_TYPE", Message: "unknown message type " + msg.Type})
		return
	}

	if ctrl == nil {
		h.reply(cl, Frame{Type: FrameError, Code: "ERR_NO_CHART", Message: "no chart attached"})
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.opTimeout)
	defer cancel()

	var (
		d   usecase.Decision
		err error
	)
	switch msg.Type {
	case MsgZoom:
		d, err = ctrl.OnBarSpacing(ctx, msg.BarSpacing)
	case MsgTimeframe:
		var tf domrepo.Timeframe
		tf, err = domrepo.ParseTimeframe(msg.Timeframe)
		if err == nil {
			d, err = ctrl.RequestTimeframe(ctx, tf)
		}
	case MsgLock:
		ctrl.SetLocked(msg.Locked)
		return
	}

	if err != nil {
		h.reply(cl, Frame{Type: FrameError, Code: errorCode(err), Message: err.Error()})
		return
	}
	if d.Kind != usecase.DecisionNone {
		h.reply(cl, Frame{
			Type:       FrameDecision,
			Decision:   d.Kind.String(),
			From:       string(d.From),
			To:         string(d.To),
			BarSpacing: d.BarSpacing,
		})
	}
}

func (h *Hub) reply(cl *client, f Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[cl]; !ok {
		return
	}
	select {
	case cl.send <- encode(f):
	default:
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, usecase.ErrTransitionInProgress):
		return "ERR_CONFLICT"
	case errors.Is(err, usecase.ErrCooldown):
		return "ERR_COOLDOWN"
	case errors.Is(err, usecase.ErrSameTimeframe):
		return "ERR_SAME_TIMEFRAME"
	case errors.Is(err, domrepo.ErrUnknownTimeframe):
		return "ERR_UNKNOWN_TIMEFRAME"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "ERR_TIMEOUT"
	default:
		return "ERR_INTERNAL"
	}
}
