// Package daemon composes the long-running process: queue workers, the
// provider registry, the HTTP API, and the temp sweeper, behind a
// single-instance file lock.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"fetcharr/internal/assets"
	"fetcharr/internal/config"
	"fetcharr/internal/logging"
	"fetcharr/internal/notifications"
	"fetcharr/internal/orchestrator"
	"fetcharr/internal/providers"
	"fetcharr/internal/queue"
	"fetcharr/internal/workers"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	queue    *queue.Store
	library  *assets.Store
	registry *providers.Registry
	pool     *workers.Pool
	sweeper  *orchestrator.Downloader
	notifier notifications.Service
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	QueueDBPath  string
	LockFilePath string
	Queue        queue.HealthSummary
	Providers    []ProviderStatus
}

// ProviderStatus is one provider's health snapshot.
type ProviderStatus struct {
	Name         string
	CircuitState string
	FailureCount int
}

// New constructs a daemon from initialized dependencies.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	queueStore *queue.Store,
	library *assets.Store,
	registry *providers.Registry,
	pool *workers.Pool,
	sweeper *orchestrator.Downloader,
	notifier notifications.Service,
) (*Daemon, error) {
	if cfg == nil || logger == nil || queueStore == nil || library == nil || registry == nil || pool == nil {
		return nil, errors.New("daemon requires config, logger, stores, registry, and worker pool")
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	lockPath := filepath.Join(cfg.Paths.StateDir, "fetcharrd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "daemon")),
		queue:    queueStore,
		library:  library,
		registry: registry,
		pool:     pool,
		sweeper:  sweeper,
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches workers, the API server, and
// the temp sweeper.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another fetcharr daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	if err := d.pool.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.notifyError(err, "worker pool start")
		return fmt.Errorf("start workers: %w", err)
	}

	if d.api != nil {
		if err := d.api.start(); err != nil {
			d.pool.Stop()
			_ = d.lock.Unlock()
			cancel()
			d.notifyError(err, "api server start")
			return err
		}
	}

	go d.runSweeper(runCtx)

	d.running.Store(true)
	d.logger.Info("fetcharr daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts down background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.cancel()
	d.pool.Stop()
	if d.api != nil {
		d.api.stop()
	}
	<-d.done
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("releasing daemon lock failed", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("fetcharr daemon stopped")
}

// Status reports runtime health for the CLI and API.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	health, err := d.queue.Health(ctx)
	if err != nil {
		return Status{}, err
	}
	status := Status{
		Running:      d.running.Load(),
		QueueDBPath:  d.queue.Path(),
		LockFilePath: d.lockPath,
		Queue:        health,
	}
	for _, client := range d.registry.Clients(ctx) {
		stats := client.BreakerStats()
		status.Providers = append(status.Providers, ProviderStatus{
			Name:         client.Name(),
			CircuitState: stats.State.String(),
			FailureCount: stats.FailureCount,
		})
	}
	return status, nil
}

// notifyError pushes an infrastructure failure to the configured notifier.
func (d *Daemon) notifyError(err error, label string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if notifyErr := d.notifier.NotifyError(ctx, err, label); notifyErr != nil {
		d.logger.Warn("error notification failed", logging.Error(notifyErr))
	}
}

// runSweeper clears stale download temp files left by crashed runs.
func (d *Daemon) runSweeper(ctx context.Context) {
	defer close(d.done)
	if d.sweeper == nil {
		<-ctx.Done()
		return
	}

	maxAge := time.Duration(d.cfg.Fetch.TempMaxAgeMinutes) * time.Minute
	if maxAge <= 0 {
		maxAge = time.Hour
	}

	ticker := time.NewTicker(maxAge / 2)
	defer ticker.Stop()
	d.sweeper.SweepTemp(maxAge)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweeper.SweepTemp(maxAge)
		}
	}
}
