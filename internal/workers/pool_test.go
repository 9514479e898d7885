package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fetcharr/internal/queue"
	"fetcharr/internal/ratelimit"
	"fetcharr/internal/testsupport"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPoolProcessesJobsToCompletion(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(2))
	store := testsupport.MustOpenQueue(t, cfg)

	var handled atomic.Int64
	pool := NewPool(store, cfg.Queue, nil)
	pool.Register(queue.TypeEnrichMovie, func(ctx context.Context, job *queue.Job) (string, error) {
		handled.Add(1)
		return "done", nil
	})

	var mu sync.Mutex
	var completed []string
	pool.OnJobCompleted = func(job *queue.Job, result string) {
		mu.Lock()
		completed = append(completed, job.ID)
		mu.Unlock()
	}

	for i := int64(1); i <= 3; i++ {
		testsupport.EnqueueJob(t, store, i, 10)
	}

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop()

	waitFor(t, 10*time.Second, func() bool { return handled.Load() == 3 })

	waitFor(t, 5*time.Second, func() bool {
		health, err := store.Health(ctx)
		return err == nil && health.Completed == 3 && health.Pending == 0 && health.Processing == 0
	})

	mu.Lock()
	defer mu.Unlock()
	if len(completed) != 3 {
		t.Fatalf("OnJobCompleted fired %d times", len(completed))
	}
}

func TestPoolRetriesThenArchivesFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(1))
	cfg.Queue.RetryBackoffSeconds = 0
	store := testsupport.MustOpenQueue(t, cfg)

	var attempts atomic.Int64
	pool := NewPool(store, cfg.Queue, nil)
	pool.Register(queue.TypeEnrichMovie, func(ctx context.Context, job *queue.Job) (string, error) {
		attempts.Add(1)
		return "", errors.New("provider unavailable")
	})

	failedTerminal := make(chan struct{})
	pool.OnJobFailed = func(job *queue.Job, err error) {
		close(failedTerminal)
	}

	job := testsupport.EnqueueJob(t, store, 1, 10)

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop()

	select {
	case <-failedTerminal:
	case <-time.After(15 * time.Second):
		t.Fatal("terminal failure callback never fired")
	}

	// First attempt plus one retry.
	if got := attempts.Load(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}

	entry, err := store.HistoryByID(ctx, job.ID)
	if err != nil || entry == nil {
		t.Fatalf("history entry: %+v err=%v", entry, err)
	}
	if entry.Status != queue.StatusFailed {
		t.Fatalf("status = %s", entry.Status)
	}
}

func TestPoolIsolatesHandlerPanics(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(0))
	store := testsupport.MustOpenQueue(t, cfg)

	pool := NewPool(store, cfg.Queue, nil)
	pool.Register(queue.TypeEnrichMovie, func(ctx context.Context, job *queue.Job) (string, error) {
		panic("unreachable metadata")
	})

	panicking := testsupport.EnqueueJob(t, store, 1, 5)

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop()

	waitFor(t, 10*time.Second, func() bool {
		entry, err := store.HistoryByID(ctx, panicking.ID)
		return err == nil && entry != nil
	})
	entry, _ := store.HistoryByID(ctx, panicking.ID)
	if entry.Status != queue.StatusFailed {
		t.Fatalf("panicking job status = %s", entry.Status)
	}
}

func TestPoolRejectsJobWithoutHandler(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(3))
	store := testsupport.MustOpenQueue(t, cfg)

	pool := NewPool(store, cfg.Queue, nil)
	// No handler registered for movie jobs.
	job := testsupport.EnqueueJob(t, store, 1, 10)

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop()

	// Dispatch failures are validation errors: archived without retries.
	waitFor(t, 10*time.Second, func() bool {
		entry, err := store.HistoryByID(ctx, job.ID)
		return err == nil && entry != nil
	})
	entry, _ := store.HistoryByID(ctx, job.ID)
	if entry.Status != queue.StatusFailed {
		t.Fatalf("status = %s", entry.Status)
	}
	if entry.RetryCount != 0 {
		t.Fatalf("retry_count = %d, want no retries", entry.RetryCount)
	}
}

func TestPoolReportsQueueDrained(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(2), testsupport.WithMaxRetries(0))
	store := testsupport.MustOpenQueue(t, cfg)

	pool := NewPool(store, cfg.Queue, nil)
	pool.Register(queue.TypeEnrichMovie, func(ctx context.Context, job *queue.Job) (string, error) {
		payload, err := job.DecodePayload()
		if err != nil {
			return "", err
		}
		if payload.EntityID == 3 {
			return "", errors.New("provider unavailable")
		}
		return "done", nil
	})

	type drain struct {
		completed int
		failed    int
	}
	drained := make(chan drain, 1)
	pool.OnQueueDrained = func(completed, failed int, duration time.Duration) {
		drained <- drain{completed: completed, failed: failed}
	}

	for i := int64(1); i <= 3; i++ {
		testsupport.EnqueueJob(t, store, i, 10)
	}

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop()

	select {
	case got := <-drained:
		if got.completed != 2 || got.failed != 1 {
			t.Fatalf("drain = %+v, want 2 completed 1 failed", got)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("queue never reported drained")
	}
}

func TestClassForSource(t *testing.T) {
	cases := map[string]ratelimit.Class{
		"webhook": ratelimit.ClassWebhook,
		"user":    ratelimit.ClassUser,
		"cli":     ratelimit.ClassUser,
		"api":     ratelimit.ClassUser,
		"refresh": ratelimit.ClassBackground,
		"":        ratelimit.ClassBackground,
	}
	for source, want := range cases {
		if got := classForSource(source); got != want {
			t.Fatalf("classForSource(%q) = %s, want %s", source, got, want)
		}
	}
}
