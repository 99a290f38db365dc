package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"example.com/smartgrip/internal/config"
	"example.com/smartgrip/internal/consumer"
	"example.com/smartgrip/internal/logging"
	httptransport "example.com/smartgrip/internal/transport/http"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	metricsSrv := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.MetricsAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}, promhttp.Handler())
	metricsDone := make(chan struct{})
	go func() {
		defer close(metricsDone)
		if err := httptransport.Run(ctx, metricsSrv, 10*time.Second, logger.Named("metrics")); err != nil {
			logger.Warn("metrics server error", zap.Error(err))
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.KafkaGroupID,
		Topic:           cfg.KafkaTopic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})
	defer reader.Close()

	proc := consumer.NewProcessor(reader, consumer.NewPersistenceHandler(pool),
		consumer.WithLogger(logger.Named("consumer")),
	)

	logger.Info("consumer started", zap.String("topic", cfg.KafkaTopic), zap.String("group", cfg.KafkaGroupID))
	if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped with error", zap.Error(err))
	}

	stop()
	<-metricsDone
}
