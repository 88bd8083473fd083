// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"intellidoc-pipeline/internal/config"
	aiAdapter "intellidoc-pipeline/internal/infra/adapters/ai"
	"intellidoc-pipeline/internal/infra/adapters/extract"
	pg "intellidoc-pipeline/internal/infra/db/postgres"
	"intellidoc-pipeline/internal/infra/logging"
	"intellidoc-pipeline/internal/infra/metrics"
	"intellidoc-pipeline/internal/infra/notify"
	red "intellidoc-pipeline/internal/infra/redis"
	"intellidoc-pipeline/internal/infra/sched"
	"intellidoc-pipeline/internal/infra/storage"
	"intellidoc-pipeline/internal/infra/web"
	"intellidoc-pipeline/internal/infra/worker"
	"intellidoc-pipeline/internal/pipeline"
	"intellidoc-pipeline/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, no auth)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if err := pg.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("schema")
	}
	tm := pg.NewTxManager(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	statusCache := red.NewStatusCache(redisClient, cfg.Redis.TTL, logger)

	// ---- Object store ----
	store, err := storage.NewFSStore(cfg.Storage.Root)
	if err != nil {
		logger.Fatal().Err(err).Msg("object store")
	}

	// ---- Repositories ----
	jobRepo := pg.NewJobRepo(pool, tm)
	webhookRepo := pg.NewWebhookRepo(pool)
	batchRepo := pg.NewBatchRepo(pool)

	// ---- Stage registry ----
	ai := aiAdapter.NewClient(&cfg.AI, logger)
	extractor := extract.New(ai, logger)
	registry, err := pipeline.NewDefaultRegistry(pipeline.StageFuncs{
		Extract:   extractor.Fn,
		Classify:  ai.Classify,
		Entities:  ai.Entities,
		Sentiment: ai.Sentiment,
		Embed:     ai.Embed,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("stage registry")
	}

	// ---- Orchestrator and use cases ----
	orch := usecase.NewOrchestrator(tm, jobRepo, webhookRepo, store, statusCache, registry,
		usecase.RetryPolicy{MaxAttempts: cfg.Pipeline.MaxAttempts, Base: cfg.Pipeline.RetryBase}, logger)
	jobUC := usecase.NewJobUC(orch, tm, jobRepo, statusCache, logger)
	resultUC := usecase.NewResultUC(jobRepo, store, logger)
	batchUC := usecase.NewBatchUC(orch, batchRepo, cfg.Pipeline.BatchFailFast(), logger)
	webhookUC := usecase.NewWebhookUC(webhookRepo, logger)

	// ---- Workers ----
	fleet := worker.NewFleet(worker.FleetConfig{
		Budgets:      cfg.Pipeline.StageBudgets,
		StageTimeout: cfg.Pipeline.StageTimeout,
		PollInterval: cfg.Pipeline.PollInterval,
	}, registry, jobRepo, store, orch, logger)
	orch.SetKicker(fleet)
	fleet.Start(ctx)
	defer fleet.Stop()

	dispatcher := notify.NewDispatcher(webhookRepo, cfg.Webhook, logger)
	orch.SetNotifier(dispatcher)
	go dispatcher.Start(ctx)

	retention := sched.NewRetentionWorker(cfg.Retention.TTL, cfg.Retention.Interval, jobRepo, logger)
	go func() { _ = retention.Run(ctx) }()

	// ---- HTTP server ----
	pingers := map[string]web.Pinger{
		"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx) },
	}
	srv := web.NewServer(jobUC, resultUC, batchUC, webhookUC, pingers, cfg.Server.APIKey, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
}
