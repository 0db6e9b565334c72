package repository

import (
	"context"
	"errors"
	"testing"

	"ChartSync/internal/domain/models"
	pkgkafka "ChartSync/pkg/kafka"
	"ChartSync/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newTestHandler(buffer int) *UpdateHandler {
	return NewUpdateHandler("candle_updates", buffer, metrics.New(prometheus.NewRegistry()), nil)
}

func TestUpdateHandler_Decodes(t *testing.T) {
	h := newTestHandler(4)
	require.Equal(t, "candle_updates", h.Topic())

	ctx := context.Background()
	require.NoError(t, h.Handle(ctx, []byte(`{"symbol":"EURUSD","timeframe":"1h","timestamp":"2025-08-11T00:00:00Z"}`)))

	select {
	case n := <-h.Notifications():
		require.Equal(t, models.UpdateNotification{Symbol: "EURUSD", Timeframe: "1h", Timestamp: "2025-08-11T00:00:00Z"}, n)
	default:
		t.Fatal("expected a notification")
	}
}

func TestUpdateHandler_DropsBadAndOverflow(t *testing.T) {
	h := newTestHandler(1)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, []byte(`not json`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"timeframe":"1h"}`)))
	require.Empty(t, h.Notifications())

	require.NoError(t, h.Handle(ctx, []byte(`{"symbol":"EURUSD","timeframe":"1h"}`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"symbol":"EURUSD","timeframe":"4h"}`)))
	require.Len(t, h.Notifications(), 1)
	n := <-h.Notifications()
	require.Equal(t, "1h", n.Timeframe)
}

func TestKafkaUpdateMonitor_StartFailureAndIdleStop(t *testing.T) {
	boom := errors.New("no brokers")
	m := NewKafkaUpdateMonitor(newTestHandler(1), func() (*pkgkafka.Consumer, error) { return nil, boom }, nil)

	err := m.Start(context.Background())
	require.ErrorIs(t, err, boom)
	require.False(t, m.Running())
	require.NoError(t, m.Stop(context.Background()))
	require.NotNil(t, m.Notifications())
}

func TestKafkaUpdatePublisher_RequiresSymbol(t *testing.T) {
	p := NewKafkaUpdatePublisher(nil, "candle_updates")
	require.Error(t, p.Publish(context.Background(), models.UpdateNotification{Timeframe: "1h"}))
	require.NoError(t, p.Close())
}
