package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"sagaflow/cmd/orchestrator/config"
	"sagaflow/internal/contracts"
	"sagaflow/internal/observability"
	"sagaflow/internal/outbox"
	"sagaflow/internal/realtime"
	"sagaflow/internal/reliability"
	"sagaflow/internal/saga"
	"sagaflow/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("orchestrator error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	kafkaCfg, err := config.LoadKafka()
	if err != nil {
		return err
	}
	dlqCfg, err := config.LoadDeadLetter()
	if err != nil {
		return err
	}
	outboxCfg, err := config.LoadOutbox()
	if err != nil {
		return err
	}
	dispCfg, err := config.LoadDispatcher()
	if err != nil {
		return err
	}

	store, cleanupStore, err := buildStore(ctx, config.LoadStore(), logger)
	if err != nil {
		return err
	}
	defer cleanupStore()

	sink, cleanupSink := buildDeadLetter(dlqCfg, logger)
	defer cleanupSink()

	metrics := observability.NewMetrics()

	hub := realtime.NewHub(logger)
	go hub.Run(ctx)

	kafkaPublisher := transport.NewKafkaPublisher(kafkaCfg.Brokers, logger)
	defer func() {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Warn("close kafka publisher", zap.Error(err))
		}
	}()

	outboxPublisher := outbox.NewPublisher(outbox.PublisherConfig{
		Store:     store,
		Transport: kafkaPublisher,
		Guard: reliability.Guard{
			Breaker: reliability.NewCircuitBreaker(reliability.CircuitBreakerConfig{
				MaxFailures:  outboxCfg.BreakerMaxFails,
				ResetTimeout: outboxCfg.BreakerReset,
			}),
			Retry: reliability.RetryPolicy{
				MaxAttempts: outboxCfg.RetryMaxAttempts,
				BaseDelay:   outboxCfg.RetryBaseDelay,
				MaxDelay:    outboxCfg.RetryMaxDelay,
			},
		},
		Logger:    logger,
		Metrics:   metrics,
		Interval:  outboxCfg.Interval,
		BatchSize: outboxCfg.BatchSize,
	})
	go outboxPublisher.Run(ctx)

	dispatcher := saga.NewDispatcher(saga.DispatcherConfig{
		Store:        store,
		DeadLetter:   sink,
		Logger:       logger,
		Metrics:      metrics,
		OnTransition: hub.Notify,
		KickOutbox:   outboxPublisher.Kick,
		StoreRetry: reliability.RetryPolicy{
			MaxAttempts: dispCfg.StoreRetryAttempts,
			BaseDelay:   dispCfg.StoreRetryDelay,
		},
		MaxConflictRetries: dispCfg.MaxConflictRetries,
	})

	consumer := transport.NewKafkaConsumer(transport.KafkaConsumerConfig{
		Brokers:    kafkaCfg.Brokers,
		Topic:      contracts.TopicSagaEvents,
		GroupID:    kafkaCfg.GroupID,
		Workers:    kafkaCfg.Workers,
		RetryDelay: kafkaCfg.RetryDelay,
		Logger:     logger,
	})

	healthCfg := config.LoadHealth()
	lis, err := net.Listen("tcp", healthCfg.Addr)
	if err != nil {
		return err
	}

	server := grpcpkg.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if env := os.Getenv("APP_ENV"); env != "production" {
		reflection.Register(server)
		logger.Info("gRPC reflection enabled", zap.String("env", env))
	}

	obsSrv := startObservabilityServer(metrics, hub, logger)

	logger.Info("orchestrator running",
		zap.Strings("brokers", kafkaCfg.Brokers),
		zap.String("group", kafkaCfg.GroupID),
		zap.Int("workers", kafkaCfg.Workers),
	)

	errCh := make(chan error, 2)
	go func() {
		errCh <- server.Serve(lis)
	}()
	go func() {
		errCh <- consumer.Run(ctx, dispatcher.Handle)
	}()

	select {
	case <-ctx.Done():
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		server.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		outboxPublisher.Drain(shutdownCtx)
		_ = obsSrv.Shutdown(shutdownCtx)
		metrics.MarkShutdown(metrics.Snapshot().InFlight)
		return nil
	case err := <-errCh:
		return err
	}
}

func startObservabilityServer(metrics *observability.Metrics, hub *realtime.Hub, logger *zap.Logger) *http.Server {
	obsCfg := config.LoadObservability()

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))
	mux.Handle("/ws", hub.Handler())

	srv := &http.Server{
		Addr:    obsCfg.Addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("observability server", zap.Error(err))
		}
	}()
	return srv
}
