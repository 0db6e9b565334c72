package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	xhttp "ChartSync/pkg/http"
	xlogger "ChartSync/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HealthChecker reports whether a backing dependency answers.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthEchoHandler serves /health over the named dependencies.
type HealthEchoHandler struct {
	logger  *xlogger.Logger
	checks  map[string]HealthChecker
	timeout time.Duration
}

func NewHealthEchoHandler(logger *xlogger.Logger, checks map[string]HealthChecker, timeout time.Duration) *HealthEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthEchoHandler{logger: logger, checks: checks, timeout: timeout}
}

func (h *HealthEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
}

// Health answers 200 when every dependency is reachable, 503 otherwise. The
// body maps dependency name to "ok" or the failure text.
func (h *HealthEchoHandler) Health(c echo.Context) error {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
		err := h.checks[name].Health(ctx)
		cancel()
		if err != nil {
			healthy = false
			status[name] = err.Error()
			h.logger.Warn("health check failed", xlogger.String("dependency", name), xlogger.Error(err))
			continue
		}
		status[name] = "ok"
	}

	if !healthy {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, status)
	}
	return xhttp.SuccessResponse(c, status)
}
