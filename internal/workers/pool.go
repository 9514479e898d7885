// Package workers drains the job queue with a bounded pool: each worker
// loops dequeue, handle, complete or fail, one job at a time. Job failures
// are isolated per job; only infrastructure failures surface in logs as
// worker-level errors.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fetcharr/internal/config"
	"fetcharr/internal/logging"
	"fetcharr/internal/queue"
	"fetcharr/internal/services"
)

// HandlerFunc executes one job and returns a human-readable result summary.
type HandlerFunc func(ctx context.Context, job *queue.Job) (string, error)

// Pool runs N worker loops over the queue store.
type Pool struct {
	store  *queue.Store
	logger *slog.Logger

	workers           int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	stuckThreshold    time.Duration

	handlers map[queue.JobType]HandlerFunc

	// OnJobCompleted and OnJobFailed fire after a job reaches a terminal
	// state. Failure means retries are exhausted, not a single attempt.
	OnJobCompleted func(job *queue.Job, result string)
	OnJobFailed    func(job *queue.Job, err error)

	// OnQueueDrained fires once when the last runnable job finishes and
	// nothing is left pending, retrying, or processing. Counts cover the
	// batch since work last resumed.
	OnQueueDrained func(completed, failed int, duration time.Duration)

	batchMu       sync.Mutex
	batchActive   bool
	batchStart    time.Time
	baseCompleted int
	baseFailed    int

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewPool builds a pool from the queue configuration section.
func NewPool(store *queue.Store, cfg config.Queue, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		store:             store,
		logger:            logger.With(logging.String(logging.FieldComponent, "workers")),
		workers:           workers,
		pollInterval:      time.Duration(cfg.PollIntervalSeconds) * time.Second,
		heartbeatInterval: time.Duration(cfg.HeartbeatSeconds) * time.Second,
		heartbeatTimeout:  time.Duration(cfg.HeartbeatTimeoutSecs) * time.Second,
		stuckThreshold:    time.Duration(cfg.StuckJobMinutes) * time.Minute,
		handlers:          make(map[queue.JobType]HandlerFunc),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (p *Pool) Register(jobType queue.JobType, handler HandlerFunc) {
	p.handlers[jobType] = handler
}

// Start sweeps stuck jobs left by a dead process, then launches the worker
// loops and the stale-heartbeat reclaimer.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	reset, err := p.store.ResetStuckProcessing(ctx, p.stuckThreshold)
	if err != nil {
		return fmt.Errorf("reset stuck jobs: %w", err)
	}
	if reset > 0 {
		p.logger.Info("requeued jobs from dead workers", logging.Int64("count", reset))
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.runWorker(runCtx, worker)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runReclaimer(runCtx)
	}()

	go func() {
		wg.Wait()
		close(p.done)
	}()

	p.logger.Info("worker pool started", logging.Int("workers", p.workers))
	return nil
}

// Stop cancels the loops and waits for in-flight jobs to drain.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	running := p.running
	p.running = false
	p.mu.Unlock()

	if !running {
		return
	}
	cancel()
	<-done
	p.logger.Info("worker pool stopped")
}

func (p *Pool) runWorker(ctx context.Context, worker int) {
	logger := p.logger.With(logging.Int("worker", worker))
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.store.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the queue database"))
			p.sleep(ctx, p.pollInterval)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.pollInterval)
			continue
		}

		p.noteJobClaimed(ctx)
		p.runJob(ctx, logger, job)
	}
}

// runJob executes one claimed job with a heartbeat goroutine alongside it.
// Handler panics and errors are contained to the job.
func (p *Pool) runJob(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	jobCtx := services.WithJobID(ctx, job.ID)
	jobLogger := logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobType, string(job.Type)))
	jobLogger.Info("job started")

	stopHeartbeat := p.startHeartbeat(jobCtx, job.ID)
	defer stopHeartbeat()

	result, err := p.invoke(jobCtx, job)
	if err != nil {
		jobLogger.Warn("job attempt failed", logging.Error(err))
		p.finishFailed(jobCtx, jobLogger, job, err)
		return
	}

	if completeErr := p.store.Complete(jobCtx, job.ID, result); completeErr != nil {
		jobLogger.Error("completing job failed", logging.Error(completeErr))
		return
	}
	jobLogger.Info("job completed", logging.String("result", result))
	if p.OnJobCompleted != nil {
		p.OnJobCompleted(job, result)
	}
	p.noteJobFinished(jobCtx)
}

func (p *Pool) invoke(ctx context.Context, job *queue.Job) (result string, err error) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		return "", services.Wrap(services.ErrValidation, "", "dispatch", fmt.Sprintf("no handler for job type %q", job.Type), nil)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (p *Pool) finishFailed(ctx context.Context, logger *slog.Logger, job *queue.Job, jobErr error) {
	if err := p.store.Fail(ctx, job.ID, jobErr); err != nil {
		logger.Error("recording job failure failed", logging.Error(err))
		return
	}

	// Fail either schedules a retry or archives the job; only the terminal
	// case notifies.
	current, err := p.store.GetByID(ctx, job.ID)
	if err != nil {
		logger.Error("reading job after failure failed", logging.Error(err))
		return
	}
	if current == nil {
		logger.Warn("job failed permanently", logging.Error(jobErr))
		if p.OnJobFailed != nil {
			p.OnJobFailed(job, jobErr)
		}
		p.noteJobFinished(ctx)
	}
}

// noteJobClaimed opens a drain-tracking batch when work resumes after an idle
// period, remembering the terminal counts it started from.
func (p *Pool) noteJobClaimed(ctx context.Context) {
	if p.OnQueueDrained == nil {
		return
	}
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	if p.batchActive {
		return
	}
	p.batchActive = true
	p.batchStart = time.Now()
	if health, err := p.store.Health(ctx); err == nil {
		p.baseCompleted = health.Completed
		p.baseFailed = health.Failed
	}
}

// noteJobFinished fires OnQueueDrained when no runnable work remains. The
// counts diff the health snapshot against the batch baseline; archival moves
// a job out of the jobs table and into history atomically, and Health reads
// the jobs table first, so a drained snapshot already includes every batch
// job in its history counts. The batchActive flag guarantees a single report
// even when two workers finish simultaneously.
func (p *Pool) noteJobFinished(ctx context.Context) {
	if p.OnQueueDrained == nil {
		return
	}
	health, err := p.store.Health(ctx)
	if err != nil || health.Pending > 0 || health.Retrying > 0 || health.Processing > 0 {
		return
	}

	p.batchMu.Lock()
	if !p.batchActive {
		p.batchMu.Unlock()
		return
	}
	completed := health.Completed - p.baseCompleted
	failures := health.Failed - p.baseFailed
	duration := time.Since(p.batchStart)
	p.batchActive = false
	p.batchMu.Unlock()

	p.OnQueueDrained(completed, failures, duration)
}

// startHeartbeat stamps liveness for the job until the returned stop
// function runs.
func (p *Pool) startHeartbeat(ctx context.Context, jobID string) func() {
	interval := p.heartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := p.store.UpdateHeartbeat(hbCtx, jobID); err != nil && hbCtx.Err() == nil {
					p.logger.Warn("heartbeat update failed",
						logging.String(logging.FieldJobID, jobID),
						logging.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// runReclaimer periodically requeues processing jobs whose heartbeat went
// silent, covering workers that died without the process restarting.
func (p *Pool) runReclaimer(ctx context.Context) {
	interval := p.heartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := p.heartbeatTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-timeout)
			reclaimed, err := p.store.ReclaimStaleProcessing(ctx, cutoff)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("stale job reclaim failed", logging.Error(err))
				}
				continue
			}
			if reclaimed > 0 {
				p.logger.Warn("reclaimed jobs with expired heartbeats", logging.Int64("count", reclaimed))
			}
		}
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
