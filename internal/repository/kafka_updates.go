package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ChartSync/internal/domain/models"
	domrepo "ChartSync/internal/domain/repository"
	pkgkafka "ChartSync/pkg/kafka"
	applogger "ChartSync/pkg/logger"

	"github.com/mailru/easyjson"
	"github.com/segmentio/kafka-go"
)

// ErrMonitorRunning is returned by Start on a monitor that is already started.
var ErrMonitorRunning = errors.New("update monitor already running")

// UpdateHandler decodes candle update messages into a notification channel.
type UpdateHandler struct {
	topic   string
	out     chan models.UpdateNotification
	metrics domrepo.Metrics
	l       *applogger.Logger
}

func NewUpdateHandler(topic string, buffer int, metrics domrepo.Metrics, l *applogger.Logger) *UpdateHandler {
	if buffer <= 0 {
		buffer = 16
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &UpdateHandler{topic: topic, out: make(chan models.UpdateNotification, buffer), metrics: metrics, l: l}
}

func (h *UpdateHandler) Topic() string { return h.topic }

// Handle never fails on bad payloads: a malformed hint is dropped rather than
// retried, and a full channel drops the newest hint since hints coalesce.
func (h *UpdateHandler) Handle(ctx context.Context, b []byte) error {
	var n models.UpdateNotification
	if err := easyjson.Unmarshal(b, &n); err != nil {
		h.metrics.RecordError("update_unmarshal")
		h.l.Warn("update notification dropped", applogger.String("reason", "unmarshal"), applogger.Error(err))
		return nil
	}
	if n.Symbol == "" {
		h.metrics.RecordError("update_invalid")
		h.l.Warn("update notification dropped", applogger.String("reason", "missing symbol"))
		return nil
	}
	select {
	case h.out <- n:
	case <-ctx.Done():
		return ctx.Err()
	default:
		h.l.Debug("update notification coalesced",
			applogger.String("symbol", n.Symbol),
			applogger.String("tf", n.Timeframe),
		)
	}
	return nil
}

// Notifications is the receive side of the handler's channel.
func (h *UpdateHandler) Notifications() <-chan models.UpdateNotification { return h.out }

// KafkaUpdateMonitor implements UpdateMonitor on top of a consumer group.
// Consumers cannot be restarted, so each Start builds a fresh one.
type KafkaUpdateMonitor struct {
	handler     *UpdateHandler
	newConsumer func() (*pkgkafka.Consumer, error)
	l           *applogger.Logger

	mu       sync.Mutex
	consumer *pkgkafka.Consumer
}

func NewKafkaUpdateMonitor(handler *UpdateHandler, newConsumer func() (*pkgkafka.Consumer, error), l *applogger.Logger) *KafkaUpdateMonitor {
	if l == nil {
		l = applogger.Nop()
	}
	return &KafkaUpdateMonitor{handler: handler, newConsumer: newConsumer, l: l}
}

func (m *KafkaUpdateMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumer != nil {
		return ErrMonitorRunning
	}
	c, err := m.newConsumer()
	if err != nil {
		return fmt.Errorf("update monitor: %w", err)
	}
	c.WithConsumerHook(m.hook())
	c.RegisterHandler(m.handler)
	if err := c.Start(); err != nil {
		return fmt.Errorf("update monitor start: %w", err)
	}
	m.consumer = c
	m.l.Info("update monitor started", applogger.String("topic", m.handler.Topic()))
	return nil
}

func (m *KafkaUpdateMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.consumer
	m.consumer = nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	if err := c.Stop(ctx); err != nil {
		return fmt.Errorf("update monitor stop: %w", err)
	}
	m.l.Info("update monitor stopped", applogger.String("topic", m.handler.Topic()))
	return nil
}

func (m *KafkaUpdateMonitor) Notifications() <-chan models.UpdateNotification {
	return m.handler.Notifications()
}

// Running reports whether a consumer is attached.
func (m *KafkaUpdateMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumer != nil
}

func (m *KafkaUpdateMonitor) hook() pkgkafka.ConsumerHook {
	return pkgkafka.NewHookChain(
		pkgkafka.HookFuncs{
			Before: func(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
				ctx = pkgkafka.WithStartTime(ctx, time.Now())
				return pkgkafka.WithTraceID(ctx, pkgkafka.ExtractTraceID(km)), km, data, nil
			},
			After: func(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
				start, ok := pkgkafka.StartTime(ctx)
				if !ok || err != nil {
					return
				}
				m.l.Debug("update message handled",
					applogger.String("topic", topic),
					applogger.String("trace_id", pkgkafka.TraceID(ctx)),
					applogger.Duration("took", time.Since(start)),
				)
			},
			Err: func(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
				m.l.Warn("update message failed",
					applogger.String("topic", topic),
					applogger.Int("partition", km.Partition),
					applogger.Int64("offset", km.Offset),
					applogger.Error(err),
				)
			},
		},
	)
}

// KafkaUpdatePublisher emits manual update triggers keyed by symbol.
type KafkaUpdatePublisher struct {
	producer *pkgkafka.Producer
	topic    string
	now      func() time.Time
}

func NewKafkaUpdatePublisher(producer *pkgkafka.Producer, topic string) *KafkaUpdatePublisher {
	return &KafkaUpdatePublisher{producer: producer, topic: topic, now: time.Now}
}

// Publish stamps the notification with the current time when the caller left it blank.
func (p *KafkaUpdatePublisher) Publish(ctx context.Context, n models.UpdateNotification) error {
	if n.Symbol == "" {
		return fmt.Errorf("publish update: symbol is required")
	}
	if n.Timestamp == "" {
		n.Timestamp = p.now().UTC().Format(time.RFC3339)
	}
	if err := p.producer.Publish(ctx, p.topic, []byte(n.Symbol), n); err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	return nil
}

func (p *KafkaUpdatePublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var (
	_ pkgkafka.MessageHandler = (*UpdateHandler)(nil)
	_ domrepo.UpdateMonitor   = (*KafkaUpdateMonitor)(nil)
	_ domrepo.UpdatePublisher = (*KafkaUpdatePublisher)(nil)
)
