package api

import (
	"context"
	"errors"
	"net/http"

	"ChartSync/internal/domain/models"
	domrepo "ChartSync/internal/domain/repository"
	"ChartSync/internal/repository"
	"ChartSync/internal/usecase"
	xhttp "ChartSync/pkg/http"
	xlogger "ChartSync/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ChartController is the live chart driven by the control endpoints.
type ChartController interface {
	Load(ctx context.Context, symbol string, tf domrepo.Timeframe) error
	OnBarSpacing(ctx context.Context, spacing float64) (usecase.Decision, error)
	RequestTimeframe(ctx context.Context, tf domrepo.Timeframe) (usecase.Decision, error)
	SetLocked(locked bool)
	Refresh(ctx context.Context) error
	Snapshot() usecase.SessionSnapshot
}

// CoordinatorAdmin exposes cache and in-flight management.
type CoordinatorAdmin interface {
	GetMetadata(ctx context.Context, symbol string) (*models.SymbolMetadata, error)
	Invalidate(ctx context.Context, pattern string) error
	CancelPending() int
	PendingKeys() []string
}

// ChartEchoHandler serves the chart control API.
type ChartEchoHandler struct {
	logger    *xlogger.Logger
	candles   *usecase.CandlesUseCase
	coord     CoordinatorAdmin
	chart     ChartController
	publisher domrepo.UpdatePublisher
}

// NewChartEchoHandler builds the handler. publisher may be nil when Kafka is
// disabled; the trigger endpoint then answers 503.
func NewChartEchoHandler(
	logger *xlogger.Logger,
	candles *usecase.CandlesUseCase,
	coord CoordinatorAdmin,
	chart ChartController,
	publisher domrepo.UpdatePublisher,
) *ChartEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &ChartEchoHandler{logger: logger, candles: candles, coord: coord, chart: chart, publisher: publisher}
}

func (h *ChartEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/candles", h.Candles)
	g.GET("/metadata", h.Metadata)
	g.GET("/symbols", h.Symbols)

	g.POST("/cache/invalidate", h.Invalidate)
	g.GET("/cache/pending", h.Pending)
	g.POST("/cache/pending/cancel", h.CancelPending)

	g.GET("/chart", h.Chart)
	g.POST("/chart/load", h.Load)
	g.POST("/chart/timeframe", h.Timeframe)
	g.POST("/chart/lock", h.Lock)
	g.POST("/chart/zoom", h.Zoom)
	g.POST("/chart/refresh", h.Refresh)

	g.POST("/updates/trigger", h.TriggerUpdate)
}

func (h *ChartEchoHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.candles.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		Symbol:    req.Symbol,
		From:      req.From,
		To:        req.To,
		Timeframe: domrepo.NormalizeTimeframe(req.TF),
		Force:     req.Force,
	})
	if err != nil {
		return h.fail(c, "candles", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

func (h *ChartEchoHandler) Metadata(c echo.Context) error {
	req := &models.MetadataRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	meta, err := h.coord.GetMetadata(c.Request().Context(), req.Symbol)
	if err != nil {
		return h.fail(c, "metadata", err)
	}
	return xhttp.SuccessResponse(c, meta)
}

func (h *ChartEchoHandler) Symbols(c echo.Context) error {
	symbols, err := h.candles.ListSymbols(c.Request().Context())
	if err != nil {
		return h.fail(c, "symbols", err)
	}
	return xhttp.ListResponse(c, symbols, int64(len(symbols)))
}

func (h *ChartEchoHandler) Invalidate(c echo.Context) error {
	req := &models.InvalidateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.coord.Invalidate(c.Request().Context(), req.Pattern); err != nil {
		return h.fail(c, "invalidate", err)
	}
	return xhttp.SuccessResponse(c, map[string]string{"pattern": req.Pattern})
}

func (h *ChartEchoHandler) Pending(c echo.Context) error {
	keys := h.coord.PendingKeys()
	return xhttp.ListResponse(c, keys, int64(len(keys)))
}

func (h *ChartEchoHandler) CancelPending(c echo.Context) error {
	n := h.coord.CancelPending()
	h.logger.Info("pending requests cancelled", xlogger.Int("count", n))
	return xhttp.SuccessResponse(c, map[string]int{"cancelled": n})
}

func (h *ChartEchoHandler) Chart(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.chart.Snapshot())
}

func (h *ChartEchoHandler) Load(c echo.Context) error {
	req := &models.LoadChartRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.chart.Load(c.Request().Context(), req.Symbol, domrepo.NormalizeTimeframe(req.TF)); err != nil {
		return h.fail(c, "chart load", err)
	}
	return xhttp.SuccessResponse(c, h.chart.Snapshot())
}

func (h *ChartEchoHandler) Timeframe(c echo.Context) error {
	req := &models.TimeframeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	d, err := h.chart.RequestTimeframe(c.Request().Context(), domrepo.Timeframe(req.TF))
	if err != nil {
		return h.fail(c, "chart timeframe", err)
	}
	return xhttp.SuccessResponse(c, decisionResponse(d))
}

func (h *ChartEchoHandler) Lock(c echo.Context) error {
	req := &models.LockRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.chart.SetLocked(req.Locked)
	return xhttp.SuccessResponse(c, h.chart.Snapshot().Resolution)
}

func (h *ChartEchoHandler) Zoom(c echo.Context) error {
	req := &models.ZoomRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	d, err := h.chart.OnBarSpacing(c.Request().Context(), req.BarSpacing)
	if err != nil {
		return h.fail(c, "chart zoom", err)
	}
	return xhttp.SuccessResponse(c, decisionResponse(d))
}

func (h *ChartEchoHandler) Refresh(c echo.Context) error {
	if err := h.chart.Refresh(c.Request().Context()); err != nil {
		return h.fail(c, "chart refresh", err)
	}
	return xhttp.SuccessResponse(c, h.chart.Snapshot())
}

func (h *ChartEchoHandler) TriggerUpdate(c echo.Context) error {
	if h.publisher == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("update publishing is disabled"))
	}
	req := &models.TriggerUpdateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	n := models.UpdateNotification{Symbol: req.Symbol, Timeframe: req.TF}
	if err := h.publisher.Publish(c.Request().Context(), n); err != nil {
		return h.fail(c, "trigger update", err)
	}
	return xhttp.AcceptedResponse(c, n)
}

type decisionBody struct {
	Decision   string  `json:"decision"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	BarSpacing float64 `json:"bar_spacing"`
}

func decisionResponse(d usecase.Decision) decisionBody {
	return decisionBody{Decision: d.Kind.String(), From: string(d.From), To: string(d.To), BarSpacing: d.BarSpacing}
}

// fail maps domain errors onto AppError responses. Anything unrecognised
// came from a backend and is reported as a bad gateway.
func (h *ChartEchoHandler) fail(c echo.Context, op string, err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.Is(err, domrepo.ErrUnknownTimeframe),
		errors.Is(err, usecase.ErrInvalidRange),
		errors.Is(err, repository.ErrUnknownAsset):
		appErr = xhttp.BadRequestError(err.Error())
	case errors.Is(err, usecase.ErrTransitionInProgress),
		errors.Is(err, usecase.ErrSameTimeframe):
		appErr = xhttp.ConflictError(err.Error())
	case errors.Is(err, usecase.ErrCooldown):
		appErr = xhttp.TooManyRequestsError(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		appErr = xhttp.NewAppError("ERR_TIMEOUT", "", err.Error(), http.StatusGatewayTimeout)
	default:
		h.logger.Error(op+" failed", xlogger.Error(err))
		appErr = xhttp.BadGatewayError(op + " failed")
	}
	return xhttp.AppErrorResponse(c, appErr.WithError(err))
}
