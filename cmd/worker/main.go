// Command worker runs the screening worker: it consumes screening jobs
// from the Redis Streams queue, calls the inference API, and records job
// status and history.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/verifyd/screening-worker/internal/armor"
	"github.com/verifyd/screening-worker/internal/config"
	"github.com/verifyd/screening-worker/internal/domain"
	"github.com/verifyd/screening-worker/internal/history"
	"github.com/verifyd/screening-worker/internal/logger"
	"github.com/verifyd/screening-worker/internal/model"
	"github.com/verifyd/screening-worker/internal/queue"
	"github.com/verifyd/screening-worker/internal/ratelimit"
	"github.com/verifyd/screening-worker/internal/screen"
	"github.com/verifyd/screening-worker/internal/server"
	"github.com/verifyd/screening-worker/internal/source"
	"github.com/verifyd/screening-worker/internal/state"
	"github.com/verifyd/screening-worker/internal/telemetry"
)

const defaultConfigPath = "config.yml"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.GetConfigPath(defaultConfigPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.Must(cfg.Logging)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel := telemetry.NewProvider()

	// Queue and state store share one Redis connection pool
	streams, err := queue.NewStreamsClient(queue.StreamsConfig{
		Addr:     cfg.Queue.Addr,
		Password: cfg.Queue.Password,
		DB:       cfg.Queue.DB,
		Prefix:   cfg.Queue.Prefix,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer streams.Close()

	consumerID := cfg.Queue.ConsumerID
	if consumerID == "" {
		consumerID = fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	}

	consumer, err := queue.NewConsumer(streams, queue.ConsumerConfig{
		ConsumerGroup: cfg.Queue.ConsumerGroup,
		ConsumerID:    consumerID,
		BlockTimeout:  cfg.Queue.BlockTimeout,
		BatchSize:     cfg.Queue.BatchSize,
		ClaimMinIdle:  cfg.Queue.ClaimMinIdle,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	if err := consumer.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize consumer group: %w", err)
	}

	store := state.NewRedisStore(streams.Client(), state.RedisStoreConfig{
		KeyPrefix: cfg.State.KeyPrefix,
		OpTimeout: cfg.State.OpTimeout,
	})

	reconciler := state.NewReconciler(store, log, state.ReconcilerConfig{
		Interval:   cfg.State.ReconcileInterval,
		StaleAfter: cfg.State.StaleAfter,
	})

	var auditor screen.Auditor
	if cfg.History.Enabled {
		db, dbErr := history.NewDB(history.DBConfig{
			DSN:             cfg.History.DSN,
			MaxOpenConns:    cfg.History.MaxOpenConns,
			MaxIdleConns:    cfg.History.MaxIdleConns,
			ConnMaxLifetime: cfg.History.ConnMaxLifetime,
		})
		if dbErr != nil {
			return fmt.Errorf("connect postgres: %w", dbErr)
		}
		defer db.Close()
		auditor = history.NewRepository(db)
	}

	client, err := model.NewHTTPClient(model.HTTPClientConfig{
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
		Timeout: cfg.Model.Timeout,
	}, log)
	if err != nil {
		return fmt.Errorf("create model client: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit.MinCallInterval, cfg.RateLimit.SafetyMargin)
	caller := model.NewCaller(client, limiter, model.RetryPolicy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
	}, log)

	sanitizer := armor.NewClient(armor.Config{
		Enabled:  cfg.Armor.Enabled,
		Endpoint: cfg.Armor.Endpoint,
		Timeout:  cfg.Armor.Timeout,
	}, log)

	resolver := source.NewResolver(0)
	scheduler := screen.NewChunkScheduler(cfg.Worker.MaxConcurrentChunks, log)

	processors := map[domain.JobType]screen.Processor{
		domain.JobTypeDocument: screen.NewDocumentProcessor(
			caller, resolver, sanitizer, scheduler,
			screen.DocumentProcessorConfig{
				ChunkSize: cfg.Worker.ChunkSize,
				ModelName: cfg.Model.DocumentModel,
			}, log, tel),
		domain.JobTypeTextAnalysis: screen.NewTextAnalysisProcessor(caller, sanitizer, log, tel),
	}

	dispatcher := screen.NewDispatcher(store, processors, auditor, log, tel)
	worker := screen.NewWorker(consumer, dispatcher, screen.WorkerConfig{
		MaxWorkers:      cfg.Worker.MaxWorkers,
		ErrorBackoff:    cfg.Queue.ErrorBackoff,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	}, log, tel)

	srv := server.New(server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, worker, streams, tel, log)

	worker.Start(ctx)
	reconciler.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	log.Info("screening worker running",
		logger.String("consumer_id", consumerID),
		logger.Int("max_workers", cfg.Worker.MaxWorkers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			log.Error("http server error", logger.Error(err))
		}
	}

	// Drain in-flight jobs before tearing anything down
	worker.Stop()
	reconciler.Stop()
	cancel()

	if err := srv.Shutdown(); err != nil {
		log.Error("http server shutdown failed", logger.Error(err))
	}

	log.Info("shutdown complete")
	return nil
}
