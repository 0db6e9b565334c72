package renderer

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ChartSync/internal/domain/models"
	domrepo "ChartSync/internal/domain/repository"
	"ChartSync/internal/usecase"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu       sync.Mutex
	spacings []float64
	tfs      []domrepo.Timeframe
	locked   bool
	decision usecase.Decision
	err      error
}

func (f *fakeController) OnBarSpacing(_ context.Context, spacing float64) (usecase.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spacings = append(f.spacings, spacing)
	return f.decision, f.err
}

func (f *fakeController) RequestTimeframe(_ context.Context, tf domrepo.Timeframe) (usecase.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tfs = append(f.tfs, tf)
	return usecase.Decision{Kind: usecase.DecisionManual, From: domrepo.Timeframe("1h"), To: tf}, nil
}

func (f *fakeController) SetLocked(locked bool) {
	f.mu.Lock()
	f.locked = locked
	f.mu.Unlock()
}

func (f *fakeController) Snapshot() usecase.SessionSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return usecase.SessionSnapshot{
		Symbol:     "BTCUSD",
		Timeframe:  "1h",
		Resolution: usecase.ResolutionState{Timeframe: "1h", Locked: f.locked},
	}
}

func (f *fakeController) recorded() ([]float64, []domrepo.Timeframe, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.spacings...), append([]domrepo.Timeframe(nil), f.tfs...), f.locked
}

func startHub(t *testing.T, h *Hub) string {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		_ = h.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHubGreetsLateJoinerWithStateSpacingAndBuffer(t *testing.T) {
	h := NewHub(WithInitialSpacing(9))
	ctrl := &fakeController{}
	h.SetController(ctrl)
	h.ReplaceBuffer([]models.Candle{{Time: 1754863200, Open: 1, High: 2, Low: 0.5, Close: 1.5}})

	conn := dial(t, startHub(t, h))

	state := readFrame(t, conn)
	require.Equal(t, FrameState, state["type"])
	require.Equal(t, "BTCUSD", state["symbol"])
	require.Equal(t, "1h", state["timeframe"])

	spacing := readFrame(t, conn)
	require.Equal(t, FrameSpacing, spacing["type"])
	require.InDelta(t, 9.0, spacing["bar_spacing"], 1e-9)

	buf := readFrame(t, conn)
	require.Equal(t, FrameBuffer, buf["type"])
	candles := buf["candles"].([]any)
	require.Len(t, candles, 1)
	require.InDelta(t, 1754863200.0, candles[0].(map[string]any)["time"], 0)

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHubForwardsClientInput(t *testing.T) {
	h := NewHub()
	ctrl := &fakeController{decision: usecase.Decision{Kind: usecase.DecisionZoomIn, From: "1h", To: "15m", BarSpacing: 55}}
	h.SetController(ctrl)

	conn := dial(t, startHub(t, h))
	readFrame(t, conn) // state
	readFrame(t, conn) // spacing

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"visible_range","from":100,"to":200}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"zoom","bar_spacing":55}`)))

	d := readFrame(t, conn)
	require.Equal(t, FrameDecision, d["type"])
	require.Equal(t, "zoom_in", d["decision"])
	require.Equal(t, "15m", d["to"])

	spacings, _, _ := ctrl.recorded()
	require.Equal(t, []float64{55}, spacings)
	require.InDelta(t, 55.0, h.CurrentBarSpacing(), 1e-9)
	require.Equal(t, models.TimeRange{From: 100, To: 200}, h.CurrentVisibleRange())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"tf","tf":"4h"}`)))
	e := readFrame(t, conn)
	require.Equal(t, FrameError, e["type"])
	require.Equal(t, "ERR_UNKNOWN_TYPE", e["code"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"timeframe","tf":"4h"}`)))
	m := readFrame(t, conn)
	require.Equal(t, "manual", m["decision"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"lock","locked":true}`)))
	require.Eventually(t, func() bool {
		_, tfs, locked := ctrl.recorded()
		return locked && len(tfs) == 1 && tfs[0] == "4h"
	}, time.Second, 10*time.Millisecond)
}

func TestHubReportsControllerErrors(t *testing.T) {
	h := NewHub()
	h.SetController(&fakeController{err: usecase.ErrTransitionInProgress})

	conn := dial(t, startHub(t, h))
	readFrame(t, conn)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"zoom","bar_spacing":3}`)))
	e := readFrame(t, conn)
	require.Equal(t, FrameError, e["type"])
	require.Equal(t, "ERR_CONFLICT", e["code"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"zoom","bar_spacing":-1}`)))
	e = readFrame(t, conn)
	require.Equal(t, "ERR_BAD_SPACING", e["code"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	e = readFrame(t, conn)
	require.Equal(t, "ERR_BAD_MESSAGE", e["code"])
}

func TestHubBroadcastsSpacingAndBuffer(t *testing.T) {
	h := NewHub()
	conn := dial(t, startHub(t, h))
	readFrame(t, conn) // spacing, no controller attached
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	h.ApplyBarSpacing(20)
	f := readFrame(t, conn)
	require.Equal(t, FrameSpacing, f["type"])
	require.InDelta(t, 20.0, f["bar_spacing"], 1e-9)

	h.ReplaceBuffer(nil)
	f = readFrame(t, conn)
	require.Equal(t, FrameBuffer, f["type"])
	require.Empty(t, f["candles"])

	require.NoError(t, h.Close())
	require.Equal(t, 0, h.ClientCount())
}

func TestFrameEncoding(t *testing.T) {
	require.JSONEq(t, `{"type":"error","code":"X","message":"boom"}`,
		string(encode(Frame{Type: FrameError, Code: "X", Message: "boom"})))
	require.JSONEq(t, `{"type":"decision","decision":"clamp","from":"1m","to":"1m","bar_spacing":2.5}`,
		string(encode(Frame{Type: FrameDecision, Decision: "clamp", From: "1m", To: "1m", BarSpacing: 2.5})))
}
