package di

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	domrepo "ChartSync/internal/domain/repository"
	"ChartSync/internal/handler/api"
	internalrepo "ChartSync/internal/repository"
	"ChartSync/internal/service/renderer"
	"ChartSync/internal/usecase"
	"ChartSync/pkg/cache"
	pkgch "ChartSync/pkg/clickhouse"
	"ChartSync/pkg/config"
	xhttp "ChartSync/pkg/http"
	pkgkafka "ChartSync/pkg/kafka"
	applogger "ChartSync/pkg/logger"
	"ChartSync/pkg/metrics"
	"ChartSync/pkg/server"
	"ChartSync/pkg/sqlite"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// SourceConn is the opened candle database and the dialect spoken over it.
type SourceConn struct {
	DB      *sql.DB
	Dialect internalrepo.Dialect
	closer  io.Closer
	health  func(ctx context.Context) error
}

func (c *SourceConn) Close() error { return c.closer.Close() }

// Health pings the underlying database.
func (c *SourceConn) Health(ctx context.Context) error { return c.health(ctx) }

// ProvideLogger builds the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the Prometheus registry every collector lands on.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pkgkafka.SetMetricsRegisterer(reg)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) domrepo.Metrics {
	return metrics.New(reg)
}

// ProvideCache builds the bounded in-memory store, layered over Redis when
// enabled.
func ProvideCache(cfg *config.Config, m domrepo.Metrics, l *applogger.Logger) (cache.Service, error) {
	mem := cache.NewMemoryCache(
		cache.WithMemoryMaxSize(cfg.Cache.MaxEntries),
		cache.WithMemoryCleanup(cfg.Cache.CleanupInterval),
		cache.WithMemoryEvictHook(func(key string) {
			m.RecordCacheEviction()
			l.Debug("candle cache evicted", applogger.String("key", key))
		}),
	)
	if !cfg.Cache.Redis.Enabled {
		return mem, nil
	}

	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Cache.Redis.Host),
		cache.WithRedisPort(cfg.Cache.Redis.Port),
		cache.WithRedisPassword(cfg.Cache.Redis.Password),
		cache.WithRedisDB(cfg.Cache.Redis.DB),
		cache.WithRedisPrefix(cfg.Cache.Redis.Prefix),
	)
	if err != nil {
		_ = mem.Close()
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	l.Info("redis cache enabled",
		applogger.String("host", cfg.Cache.Redis.Host),
		applogger.Int("port", cfg.Cache.Redis.Port),
	)
	return cache.NewLayeredCache(mem, rc, cache.WithLayeredBackfillTTL(cfg.Cache.TTL)), nil
}

// ProvideSourceConn opens the candle database selected by source.driver.
func ProvideSourceConn(cfg *config.Config, l *applogger.Logger) (*SourceConn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.Source.Driver {
	case "sqlite":
		client, err := sqlite.NewClient(sqlite.WithPath(cfg.Source.SQLitePath))
		if err != nil {
			return nil, fmt.Errorf("sqlite client: %w", err)
		}
		if cfg.Source.InitSchema {
			if err := client.InitSchema(ctx, internalrepo.SchemaStatements(internalrepo.DialectSQLite)); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("sqlite schema: %w", err)
			}
		}
		l.Info("candle source ready", applogger.String("driver", "sqlite"), applogger.String("path", cfg.Source.SQLitePath))
		return &SourceConn{DB: client.DB(), Dialect: internalrepo.DialectSQLite, closer: client, health: client.Health}, nil

	default:
		client, err := pkgch.NewClient(
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		if cfg.Source.InitSchema {
			if err := client.InitSchema(ctx, internalrepo.SchemaStatements(internalrepo.DialectClickHouse)); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("clickhouse schema: %w", err)
			}
		}
		l.Info("candle source ready",
			applogger.String("driver", "clickhouse"),
			applogger.String("host", cfg.ClickHouse.Host),
			applogger.String("database", cfg.ClickHouse.Database),
		)
		return &SourceConn{DB: client.DB(), Dialect: internalrepo.DialectClickHouse, closer: client, health: client.Health}, nil
	}
}

// ProvideCandleSource creates the SQL candle repository.
func ProvideCandleSource(conn *SourceConn, l *applogger.Logger) domrepo.CandleSource {
	src := internalrepo.NewSQLCandleSource(conn.DB, conn.Dialect)
	src.SetLogger(l.With(applogger.String("component", "candle_source")))
	return src
}

// ProvideFetchCoordinator creates the deduplicating, caching fetch layer.
func ProvideFetchCoordinator(src domrepo.CandleSource, store cache.Service, cfg *config.Config, m domrepo.Metrics, l *applogger.Logger) *usecase.FetchCoordinator {
	return usecase.NewFetchCoordinator(src, store,
		usecase.WithCacheTTL(cfg.Cache.TTL),
		usecase.WithCoordinatorLogger(l.With(applogger.String("component", "fetch"))),
		usecase.WithCoordinatorMetrics(m),
	)
}

// ProvideResolutionController builds the ladder from the resolution section.
func ProvideResolutionController(cfg *config.Config, l *applogger.Logger) (*usecase.ResolutionController, error) {
	rc := usecase.DefaultResolutionConfig()
	for tf := range rc.Thresholds {
		rc.Thresholds[tf] = usecase.Thresholds{ZoomIn: cfg.Resolution.ZoomInAbove, ZoomOut: cfg.Resolution.ZoomOutBelow}
	}
	rc.MinSpacing = cfg.Resolution.MinBarSpacing
	rc.MaxSpacing = cfg.Resolution.MaxBarSpacing
	rc.CoarsestFloor = cfg.Resolution.CoarsestFloor
	rc.Cooldown = cfg.Resolution.Cooldown

	ctrl, err := usecase.NewResolutionController(rc,
		domrepo.NormalizeTimeframe(cfg.Chart.Timeframe),
		cfg.Resolution.InitialSpacing,
		usecase.WithResolutionLogger(l.With(applogger.String("component", "resolution"))),
	)
	if err != nil {
		return nil, fmt.Errorf("resolution controller: %w", err)
	}
	return ctrl, nil
}

// ProvideReconciler creates the live candle reconciler.
func ProvideReconciler(cfg *config.Config, m domrepo.Metrics, l *applogger.Logger) *usecase.LiveReconciler {
	return usecase.NewLiveReconciler(
		usecase.WithPlaceholderWindow(cfg.Chart.PlaceholderWindow),
		usecase.WithReconcilerLogger(l.With(applogger.String("component", "reconciler"))),
		usecase.WithReconcilerMetrics(m),
	)
}

// ProvideHub creates the websocket rendering surface.
func ProvideHub(cfg *config.Config, l *applogger.Logger) *renderer.Hub {
	return renderer.NewHub(
		renderer.WithInitialSpacing(cfg.Resolution.InitialSpacing),
		renderer.WithSendBuffer(cfg.Hub.SendBuffer),
		renderer.WithTimeouts(cfg.Hub.WriteTimeout, cfg.Hub.PingInterval),
		renderer.WithOpTimeout(cfg.Hub.OpTimeout),
		renderer.WithZoomLimit(cfg.Hub.ZoomBurst, cfg.Hub.ZoomRate),
		renderer.WithHubLogger(l.With(applogger.String("component", "hub"))),
	)
}

// ProvideUpdateMonitor creates the Kafka-backed update monitor, or nil when
// Kafka is disabled.
func ProvideUpdateMonitor(cfg *config.Config, m domrepo.Metrics, l *applogger.Logger) domrepo.UpdateMonitor {
	if !cfg.Kafka.Enabled {
		return nil
	}
	ml := l.With(applogger.String("component", "update_monitor"))
	handler := internalrepo.NewUpdateHandler(cfg.Kafka.Topic, cfg.Kafka.Consumer.BufferSize, m, ml)
	return internalrepo.NewKafkaUpdateMonitor(handler, func() (*pkgkafka.Consumer, error) {
		return pkgkafka.NewConsumer(
			pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
			pkgkafka.WithConsumerLatest(true),
			pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
			pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
			pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
			pkgkafka.WithConsumerLogger(ml),
		)
	}, ml)
}

// ProvideUpdatePublisher creates the manual update trigger, or nil when
// Kafka is disabled.
func ProvideUpdatePublisher(cfg *config.Config) (domrepo.UpdatePublisher, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.Producer.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchTimeout),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithAutoCreateTopic(cfg.Kafka.Producer.AutoCreateTopic),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaUpdatePublisher(producer, cfg.Kafka.Topic), nil
}

// ProvideChartSession assembles the chart and attaches it to the hub as the
// receiver of client input.
func ProvideChartSession(
	coord *usecase.FetchCoordinator,
	ctrl *usecase.ResolutionController,
	recon *usecase.LiveReconciler,
	hub *renderer.Hub,
	monitor domrepo.UpdateMonitor,
	cfg *config.Config,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.ChartSession {
	opts := []usecase.SessionOption{
		usecase.WithFadeDelay(cfg.Chart.FadeDelay),
		usecase.WithSchedules(cfg.Chart.RefreshSchedule, cfg.Chart.PlaceholderSchedule),
		usecase.WithRequireUpdateHint(cfg.Chart.RequireUpdateHint),
		usecase.WithSessionLogger(l.With(applogger.String("component", "session"))),
		usecase.WithSessionMetrics(m),
	}
	if monitor != nil {
		opts = append(opts, usecase.WithUpdateMonitor(monitor))
	}
	session := usecase.NewChartSession(coord, ctrl, recon, hub, opts...)
	hub.SetController(session)
	return session
}

// ProvideCandlesUseCase creates the ad-hoc candle query use case.
func ProvideCandlesUseCase(coord *usecase.FetchCoordinator) *usecase.CandlesUseCase {
	return usecase.NewCandlesUseCase(coord)
}

// ProvideChartHandler creates the HTTP control handler.
func ProvideChartHandler(
	l *applogger.Logger,
	candles *usecase.CandlesUseCase,
	coord *usecase.FetchCoordinator,
	session *usecase.ChartSession,
	pub domrepo.UpdatePublisher,
) *api.ChartEchoHandler {
	return api.NewChartEchoHandler(l.With(applogger.String("component", "api")), candles, coord, session, pub)
}

// ProvideHealthHandler exposes the candle database as the /health dependency.
func ProvideHealthHandler(conn *SourceConn, l *applogger.Logger) *api.HealthEchoHandler {
	return api.NewHealthEchoHandler(
		l.With(applogger.String("component", "health")),
		map[string]api.HealthChecker{"source": conn},
		2*time.Second,
	)
}

// ProvideHTTPServer mounts the control API, health, websocket hub and metrics.
func ProvideHTTPServer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger, h *api.ChartEchoHandler, health *api.HealthEchoHandler, hub *renderer.Hub) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowRequest(cfg.Server.SlowRequest),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithLogger(l.With(applogger.String("component", "http"))),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, reg, reg))
	} else {
		opts = append(opts, xhttp.WithMetrics("", nil, nil))
	}
	return xhttp.NewServer([]xhttp.Handler{h, health, hub}, opts...)
}

// ProvideResources lists what the app closes on shutdown, hub first so
// websocket clients see a close frame before the backends go away.
func ProvideResources(hub *renderer.Hub, pub domrepo.UpdatePublisher, store cache.Service, conn *SourceConn) server.Resources {
	res := server.Resources{hub}
	if pub != nil {
		res = append(res, pub)
	}
	return append(res, store, conn)
}

// ProvideApp creates the application.
func ProvideApp(cfg *config.Config, l *applogger.Logger, session *usecase.ChartSession, srv *xhttp.Server, res server.Resources) *server.App {
	return server.New(cfg, l, session, srv, res)
}
