package main

import (
	"context"
	"log/slog"
	"time"

	"fetcharr/internal/assets"
	"fetcharr/internal/config"
	"fetcharr/internal/daemon"
	"fetcharr/internal/decision"
	"fetcharr/internal/notifications"
	"fetcharr/internal/orchestrator"
	"fetcharr/internal/providers"
	"fetcharr/internal/providers/local"
	"fetcharr/internal/queue"
	"fetcharr/internal/workers"
)

// buildDaemon wires every component in dependency order: stores, registry,
// orchestrator, decision gate, worker pool, daemon. The returned close
// function releases the stores.
func buildDaemon(cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, func(), error) {
	queueStore, err := queue.Open(cfg)
	if err != nil {
		return nil, nil, err
	}

	library, err := assets.Open(cfg)
	if err != nil {
		queueStore.Close()
		return nil, nil, err
	}
	closeAll := func() {
		library.Close()
		queueStore.Close()
	}

	registry := providers.NewRegistry(library, providers.Limits{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstCapacity:     cfg.RateLimit.BurstCapacity,
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		ResetTimeout:      time.Duration(cfg.Breaker.ResetTimeoutSeconds) * time.Second,
	}, logger)
	if err := registerProviders(registry, cfg); err != nil {
		closeAll()
		return nil, nil, err
	}

	downloader := orchestrator.NewDownloader(
		cfg.Paths.TempDir,
		time.Duration(cfg.Fetch.DownloadTimeoutSeconds)*time.Second,
		logger,
	)
	orch := orchestrator.New(registry, library, orchestrator.NewScorer(cfg.Scoring), downloader, cfg.Fetch, logger)

	gate := decision.NewService(library, orch, decision.Config{
		StaleDataThresholdDays: cfg.Decision.StaleDataThresholdDays,
		ForceRescrapeAfterDays: cfg.Decision.ForceRescrapeAfterDays,
		ChangeDetection:        cfg.Decision.ChangeDetection,
	}, logger)

	notifier := notifications.NewService(cfg)

	pool := workers.NewPool(queueStore, cfg.Queue, logger)
	enrich := workers.EnrichHandler(gate, orch, logger)
	pool.Register(queue.TypeEnrichMovie, enrich)
	pool.Register(queue.TypeEnrichSeries, enrich)
	pool.Register(queue.TypeEnrichMusic, enrich)
	pool.Register(queue.TypeRefreshCheck, workers.RefreshHandler(library, queueStore, logger))
	pool.OnJobFailed = func(job *queue.Job, err error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = notifier.NotifyJobFailed(ctx, string(job.Type), err)
	}
	pool.OnJobCompleted = func(job *queue.Job, result string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = notifier.NotifyJobCompleted(ctx, string(job.Type), result)
	}
	pool.OnQueueDrained = func(completed, failed int, duration time.Duration) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = notifier.NotifyQueueDrained(ctx, completed, failed, duration)
	}

	d, err := daemon.New(cfg, logger, queueStore, library, registry, pool, downloader, notifier)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return d, closeAll, nil
}

// registerProviders enumerates every built-in provider constructor. The
// active set is exactly what is listed here; nothing registers itself as an
// import side effect.
func registerProviders(registry *providers.Registry, cfg *config.Config) error {
	if cfg.Local.Enabled {
		if err := registry.Register(local.Name, local.NewConstructor(cfg.Local.Dir)); err != nil {
			return err
		}
	}
	return nil
}
