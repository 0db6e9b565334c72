package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

type stubHealth struct{ err error }

func (s stubHealth) Health(context.Context) error { return s.err }

func TestHealthEndpoint(t *testing.T) {
	e := echo.New()
	NewHealthEchoHandler(nil, map[string]HealthChecker{"source": stubHealth{}}, 0).RegisterRoutes(e)

	code, env := do(t, e, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"source":"ok"}`, string(env.Data))

	e = echo.New()
	NewHealthEchoHandler(nil, map[string]HealthChecker{
		"source": stubHealth{err: errors.New("dial tcp: connection refused")},
		"cache":  stubHealth{},
	}, 0).RegisterRoutes(e)

	code, env = do(t, e, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.JSONEq(t, `{"cache":"ok","source":"dial tcp: connection refused"}`, string(env.Data))
}
