package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/WAL-Service/internal/application/audit"
	"github.com/turtacn/WAL-Service/internal/application/ingestion"
	"github.com/turtacn/WAL-Service/internal/application/transaction"
	"github.com/turtacn/WAL-Service/internal/config"
	"github.com/turtacn/WAL-Service/internal/domain/identity"
	"github.com/turtacn/WAL-Service/internal/domain/namespace"
	"github.com/turtacn/WAL-Service/internal/infrastructure/database/postgres"
	"github.com/turtacn/WAL-Service/internal/infrastructure/database/postgres/repositories"
	redisdb "github.com/turtacn/WAL-Service/internal/infrastructure/database/redis"
	"github.com/turtacn/WAL-Service/internal/infrastructure/messaging"
	kafkadriver "github.com/turtacn/WAL-Service/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/WAL-Service/internal/infrastructure/messaging/redisstream"
	sqsdriver "github.com/turtacn/WAL-Service/internal/infrastructure/messaging/sqs"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/prometheus"
	httpserver "github.com/turtacn/WAL-Service/internal/interfaces/http"
	"github.com/turtacn/WAL-Service/internal/interfaces/http/handlers"
	"github.com/turtacn/WAL-Service/internal/interfaces/http/middleware"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// ServeOption customises Serve behaviour.
type ServeOption func(*serveOptions)

type serveOptions struct {
	watchPath string
}

// WithConfigWatch enables hot-reload of the safe settings (rate limits)
// from the given config file.
func WithConfigWatch(path string) ServeOption {
	return func(o *serveOptions) { o.watchPath = path }
}

// Serve wires the full service graph from cfg and runs the HTTP server
// until ctx is cancelled or a termination signal arrives.
func Serve(ctx context.Context, cfg *config.Config, opts ...ServeOption) error {
	var options serveOptions
	for _, opt := range opts {
		opt(&options)
	}
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)
	logger.Info("starting wal-service", logging.String("version", Version))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics.
	collector := prometheus.NewNopCollector()
	if cfg.Metrics.Enabled {
		collector, err = prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            "wal",
			EnableProcessMetrics: cfg.Metrics.EnableProcessMetrics,
			EnableGoMetrics:      cfg.Metrics.EnableGoMetrics,
		}, logger)
		if err != nil {
			return err
		}
	}
	appMetrics := prometheus.NewAppMetrics(collector)

	// Namespace policy store: PostgreSQL when reachable, in-memory
	// otherwise so a development run works without infrastructure.
	var store namespace.Store
	pool, poolErr := postgres.NewConnectionPool(ctx, cfg.Database, logger)
	if poolErr != nil {
		logger.Warn("namespace store falling back to in-memory", logging.Err(poolErr))
		store = namespace.NewInMemoryStore()
	} else {
		defer pool.Close()
		if err := postgres.RunMigrations(cfg.Database.DSN(), "file://"+cfg.Database.MigrationPath); err != nil {
			logger.Error("migrations failed", logging.Err(err))
			return err
		}
		store = repositories.NewNamespaceRepo(pool, logger)
	}
	registry := namespace.NewRegistry(store, cfg.WAL.NamespaceCacheTTL, logger)

	// Producer factory with one builder per backend. Drivers connect
	// lazily, so constructing builders is free until a namespace routes to
	// them.
	builders := map[wal.Backend]messaging.Builder{
		wal.BackendRedis: func(_ context.Context) (messaging.Producer, error) {
			client := redisdb.NewClient(cfg.Redis, logger)
			return redisstream.New(client, cfg.Redis.CommandTimeout, logger), nil
		},
		wal.BackendKafka: func(_ context.Context) (messaging.Producer, error) {
			return kafkadriver.New(cfg.Kafka, logger)
		},
		wal.BackendSQS: func(buildCtx context.Context) (messaging.Producer, error) {
			return sqsdriver.New(buildCtx, cfg.SQS, logger)
		},
	}
	factory := messaging.NewFactory(builders, cfg.WAL.HealthCheckInterval, appMetrics, logger)
	factory.StartHealthLoop()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		factory.Shutdown(shutdownCtx)
	}()

	// Transaction orchestrator with its sweep loop.
	orchestrator := transaction.New(cfg.WAL.TransactionTimeout, nil, appMetrics, logger)
	orchestrator.Start()
	defer orchestrator.Stop()

	// Audit: always logs; mirrors to Kafka when a topic is configured and
	// the producer is constructible.
	var auditProducer messaging.Producer
	if cfg.Audit.Topic != "" {
		if p, err := factory.Get(ctx, wal.BackendKafka); err == nil {
			auditProducer = p
		} else {
			logger.Warn("audit mirror disabled, kafka unavailable", logging.Err(err))
		}
	}
	auditEmitter := audit.NewEmitter(auditProducer, cfg.Audit.Topic, logger)

	service := ingestion.NewService(ingestion.Config{
		Registry:      registry,
		Enricher:      ingestion.NewEnricher(registry, cfg.Auth.APIKeys, logger),
		Factory:       factory,
		Orchestrator:  orchestrator,
		Partitioner:   identity.NewPartitioner(),
		Audit:         auditEmitter,
		Metrics:       appMetrics,
		Logger:        logger,
		LegacyModulus: cfg.WAL.LegacyPartitionModulus,
	})

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			SkipPaths:         []string{"/healthz", "/readyz", "/metrics"},
		}, logger)
	}

	if options.watchPath != "" {
		config.Watch(options.watchPath, func(next *config.Config) {
			if limiter != nil && next.RateLimit.Enabled {
				limiter.SetRate(next.RateLimit.RequestsPerSecond, next.RateLimit.Burst)
			}
		})
	}

	router := httpserver.NewRouter(httpserver.RouterConfig{
		WALHandler:         handlers.NewWALHandler(service),
		NamespaceHandler:   handlers.NewNamespaceHandler(registry),
		TransactionHandler: handlers.NewTransactionHandler(orchestrator),
		HealthHandler:      handlers.NewHealthHandler(factory, orchestrator, Version),
		RateLimiter:        limiter,
		MetricsHandler:     collector.Handler(),
		RequestTimeout:     cfg.Server.RequestTimeout,
		MaxBodySize:        cfg.Server.MaxBodySize,
		Logger:             logger,
	})

	server := httpserver.NewServer(cfg.Server, router, logger)
	return server.Start(ctx)
}
