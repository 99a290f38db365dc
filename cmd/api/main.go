package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/smartgrip/internal/api"
	"example.com/smartgrip/internal/auth"
	"example.com/smartgrip/internal/cache"
	"example.com/smartgrip/internal/config"
	"example.com/smartgrip/internal/connectivity"
	"example.com/smartgrip/internal/events"
	"example.com/smartgrip/internal/kvstore"
	"example.com/smartgrip/internal/logging"
	"example.com/smartgrip/internal/orchestrator"
	"example.com/smartgrip/internal/remote"
	remotepg "example.com/smartgrip/internal/remote/postgres"
	httptransport "example.com/smartgrip/internal/transport/http"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, err := kvstore.NewSQLite(cfg.CachePath)
	if err != nil {
		logger.Fatal("failed to open local cache", zap.String("path", cfg.CachePath), zap.Error(err))
	}
	defer kv.Close()

	// pgxpool connects lazily, so an unreachable backend at start-up only
	// means starting offline.
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("invalid postgres configuration", zap.Error(err))
	}
	defer pool.Close()

	documents := remotepg.NewDocumentStore(pool)
	gateway := remote.NewGateway(documents, remote.WithLogger(logger.Named("gateway")))

	bus := events.NewBus(logger.Named("events"))
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		forwarder := events.NewForwarder(producer, cfg.KafkaTopic, logger.Named("forwarder"))
		bus.Subscribe(forwarder.Handle)
		logger.Info("forwarding sync events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	orch := orchestrator.New(ctx,
		cache.New(kv, cache.WithLogger(logger.Named("cache"))),
		gateway,
		orchestrator.WithLogger(logger.Named("orchestrator")),
		orchestrator.WithBus(bus),
		orchestrator.WithSessionLimit(cfg.SessionLimit),
		orchestrator.WithDeadLetterPolicy(cfg.DLQMaxRetries, cfg.DLQBaseDelay, cfg.DLQBatchSize),
		orchestrator.WithInitialOnline(false),
	)

	monitor := connectivity.NewMonitor(documents, orch, cfg.ProbeInterval,
		connectivity.WithLogger(logger.Named("connectivity")),
		connectivity.WithProbeTimeout(cfg.ProbeTimeout),
		connectivity.WithFailureThreshold(cfg.ProbeFailThreshold),
	)
	go monitor.Start(ctx)

	retryDone := make(chan struct{})
	go func() {
		defer close(retryDone)
		retryDeadLetters(ctx, orch, cfg.DLQPollInterval, logger.Named("dlq"))
	}()

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer,
		httptransport.RequestLogger(logger.Named("http")),
		httptransport.CORS(cfg.CORSOrigin),
	)
	api.NewHandler(orch, api.WithLogger(logger.Named("api"))).RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(router))

	if err := httptransport.Run(ctx, server, 15*time.Second, logger); err != nil {
		logger.Error("http server stopped", zap.Error(err))
		os.Exit(1)
	}

	stop()
	monitor.Wait()
	<-retryDone
}

// retryDeadLetters runs one dead-letter retry pass per interval.
func retryDeadLetters(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("dead letter retries started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := orch.RetryDeadLetters(ctx)
			if err != nil {
				logger.Warn("dead letter retry run failed", zap.Error(err))
			}
			if n := len(report.Replayed) + len(report.Rescheduled) + len(report.Quarantined); n > 0 {
				logger.Info("dead letter retry run",
					zap.Int("replayed", len(report.Replayed)),
					zap.Int("rescheduled", len(report.Rescheduled)),
					zap.Int("quarantined", len(report.Quarantined)),
				)
			}
		}
	}
}
