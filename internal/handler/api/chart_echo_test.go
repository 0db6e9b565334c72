package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"ChartSync/internal/domain/models"
	domrepo "ChartSync/internal/domain/repository"
	"ChartSync/internal/usecase"
	"ChartSync/pkg/cache"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	err error
}

func (s *stubSource) FetchCandles(_ context.Context, symbol string, tf domrepo.Timeframe, from, to int64) (*models.CandleResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.CandleResponse{Candles: []models.RawCandle{
		{Time: "2025-08-10T22:00:00Z", Open: "1", High: "2", Low: "0.5", Close: "1.5"},
		{Time: "2025-08-10T23:00:00Z", Open: "1.5", High: "2.5", Low: "1", Close: "2"},
	}}, nil
}

func (s *stubSource) FetchSymbolMetadata(_ context.Context, symbol string) (*models.SymbolMetadata, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.SymbolMetadata{Symbol: symbol, DataFrom: 1754863200, DataTo: 1754866800, HasData: true}, nil
}

func (s *stubSource) ListSymbols(context.Context) ([]models.AvailableSymbol, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []models.AvailableSymbol{{Symbol: "EURUSD", Label: "EUR/USD", Source: "forex", HasData: true}}, nil
}

type stubChart struct {
	mu     sync.Mutex
	err    error
	locked bool
	loaded []string
}

func (s *stubChart) Load(_ context.Context, symbol string, tf domrepo.Timeframe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = append(s.loaded, symbol+"/"+string(tf))
	return s.err
}

func (s *stubChart) OnBarSpacing(_ context.Context, spacing float64) (usecase.Decision, error) {
	return usecase.Decision{Kind: usecase.DecisionClamp, From: "1m", To: "1m", BarSpacing: 2}, s.err
}

func (s *stubChart) RequestTimeframe(_ context.Context, tf domrepo.Timeframe) (usecase.Decision, error) {
	if s.err != nil {
		return usecase.Decision{}, s.err
	}
	return usecase.Decision{Kind: usecase.DecisionManual, From: "1h", To: tf, BarSpacing: 12}, nil
}

func (s *stubChart) SetLocked(locked bool) {
	s.mu.Lock()
	s.locked = locked
	s.mu.Unlock()
}

func (s *stubChart) Refresh(context.Context) error { return s.err }

func (s *stubChart) Snapshot() usecase.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return usecase.SessionSnapshot{Symbol: "BTCUSD", Timeframe: "1h", Resolution: usecase.ResolutionState{Timeframe: "1h", Locked: s.locked}}
}

type stubPublisher struct {
	got []models.UpdateNotification
	err error
}

func (p *stubPublisher) Publish(_ context.Context, n models.UpdateNotification) error {
	p.got = append(p.got, n)
	return p.err
}

func (p *stubPublisher) Close() error { return nil }

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newTestHandler(t *testing.T, src *stubSource, chart *stubChart, pub domrepo.UpdatePublisher) *echo.Echo {
	t.Helper()
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	coord := usecase.NewFetchCoordinator(src, mem)
	h := NewChartEchoHandler(nil, usecase.NewCandlesUseCase(coord), coord, chart, pub)
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.Equal(t, rec.Code, env.Status)
	return rec.Code, env
}

func TestCandlesEndpoint(t *testing.T) {
	e := newTestHandler(t, &stubSource{}, &stubChart{}, nil)

	code, env := do(t, e, http.MethodGet, "/api/candles?symbol=BTCUSD&tf=1h&from=1754863200&to=1754870400", "")
	require.Equal(t, http.StatusOK, code)
	var res usecase.GetCandlesResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.Equal(t, "BTCUSD", res.Symbol)
	require.Equal(t, 2, res.Count)
	require.Equal(t, int64(1754863200), res.Candles[0].Time)
	require.NotEmpty(t, res.Key)

	code, _ = do(t, e, http.MethodGet, "/api/candles?symbol=BTCUSD&tf=2h", "")
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, e, http.MethodGet, "/api/candles?tf=1h", "")
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, e, http.MethodGet, "/api/candles?symbol=BTCUSD&tf=1h&from=200&to=100", "")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestBackendErrorsAreBadGateway(t *testing.T) {
	e := newTestHandler(t, &stubSource{err: errors.New("connection refused")}, &stubChart{}, nil)

	code, _ := do(t, e, http.MethodGet, "/api/candles?symbol=BTCUSD&tf=1h&from=1754863200&to=1754870400", "")
	require.Equal(t, http.StatusBadGateway, code)

	code, _ = do(t, e, http.MethodGet, "/api/metadata?symbol=BTCUSD", "")
	require.Equal(t, http.StatusBadGateway, code)
}

func TestMetadataAndCacheEndpoints(t *testing.T) {
	e := newTestHandler(t, &stubSource{}, &stubChart{}, nil)

	code, env := do(t, e, http.MethodGet, "/api/metadata?symbol=EURUSD", "")
	require.Equal(t, http.StatusOK, code)
	var meta models.SymbolMetadata
	require.NoError(t, json.Unmarshal(env.Data, &meta))
	require.True(t, meta.HasData)
	require.Equal(t, "EURUSD", meta.Symbol)

	code, _ = do(t, e, http.MethodPost, "/api/cache/invalidate", `{"pattern":"BTCUSD"}`)
	require.Equal(t, http.StatusOK, code)

	code, env = do(t, e, http.MethodGet, "/api/cache/pending", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"rows":[],"total":0}`, string(env.Data))

	code, env = do(t, e, http.MethodPost, "/api/cache/pending/cancel", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"cancelled":0}`, string(env.Data))
}

func TestSymbolsEndpoint(t *testing.T) {
	e := newTestHandler(t, &stubSource{}, &stubChart{}, nil)

	code, env := do(t, e, http.MethodGet, "/api/symbols", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"rows":[{"symbol":"EURUSD","label":"EUR/USD","source":"forex","has_data":true}],"total":1}`, string(env.Data))

	e = newTestHandler(t, &stubSource{err: errors.New("connection refused")}, &stubChart{}, nil)
	code, _ = do(t, e, http.MethodGet, "/api/symbols", "")
	require.Equal(t, http.StatusBadGateway, code)
}

func TestChartControlEndpoints(t *testing.T) {
	chart := &stubChart{}
	e := newTestHandler(t, &stubSource{}, chart, nil)

	code, _ := do(t, e, http.MethodPost, "/api/chart/load", `{"symbol":"BTCUSD"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []string{"BTCUSD/1h"}, chart.loaded)

	code, env := do(t, e, http.MethodPost, "/api/chart/timeframe", `{"tf":"4h"}`)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"decision":"manual","from":"1h","to":"4h","bar_spacing":12}`, string(env.Data))

	code, env = do(t, e, http.MethodPost, "/api/chart/zoom", `{"bar_spacing":1.2}`)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"decision":"clamp","from":"1m","to":"1m","bar_spacing":2}`, string(env.Data))

	code, _ = do(t, e, http.MethodPost, "/api/chart/zoom", `{"bar_spacing":0}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, e, http.MethodPost, "/api/chart/lock", `{"locked":true}`)
	require.Equal(t, http.StatusOK, code)
	require.True(t, chart.locked)

	code, env = do(t, e, http.MethodGet, "/api/chart", "")
	require.Equal(t, http.StatusOK, code)
	var snap usecase.SessionSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	require.Equal(t, "BTCUSD", snap.Symbol)
	require.True(t, snap.Resolution.Locked)
}

func TestChartErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{usecase.ErrCooldown, http.StatusTooManyRequests},
		{usecase.ErrTransitionInProgress, http.StatusConflict},
		{usecase.ErrSameTimeframe, http.StatusConflict},
		{domrepo.ErrUnknownTimeframe, http.StatusBadRequest},
		{errors.New("clickhouse down"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		e := newTestHandler(t, &stubSource{}, &stubChart{err: tc.err}, nil)
		code, _ := do(t, e, http.MethodPost, "/api/chart/timeframe", `{"tf":"4h"}`)
		require.Equal(t, tc.want, code, tc.err.Error())
	}
}

func TestTriggerUpdate(t *testing.T) {
	e := newTestHandler(t, &stubSource{}, &stubChart{}, nil)
	code, _ := do(t, e, http.MethodPost, "/api/updates/trigger", `{"symbol":"BTCUSD","tf":"1h"}`)
	require.Equal(t, http.StatusServiceUnavailable, code)

	pub := &stubPublisher{}
	e = newTestHandler(t, &stubSource{}, &stubChart{}, pub)
	code, _ = do(t, e, http.MethodPost, "/api/updates/trigger", `{"symbol":"BTCUSD","tf":"1h"}`)
	require.Equal(t, http.StatusAccepted, code)
	require.Equal(t, []models.UpdateNotification{{Symbol: "BTCUSD", Timeframe: "1h"}}, pub.got)

	code, _ = do(t, e, http.MethodPost, "/api/updates/trigger", `{"symbol":"BTCUSD","tf":"7m"}`)
	require.Equal(t, http.StatusBadRequest, code)
}
