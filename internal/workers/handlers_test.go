package workers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fetcharr/internal/config"
	"fetcharr/internal/decision"
	"fetcharr/internal/orchestrator"
	"fetcharr/internal/providers"
	"fetcharr/internal/queue"
	"fetcharr/internal/services"
	"fetcharr/internal/testsupport"
)

type staticRefreshLog struct {
	lastChecked time.Time
}

func (s staticRefreshLog) LastChecked(ctx context.Context, entityType string, entityID int64) (time.Time, error) {
	return s.lastChecked, nil
}

func newEnrichFixture(t *testing.T, lastChecked time.Time) (HandlerFunc, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	queueStore := testsupport.MustOpenQueue(t, cfg)
	library := testsupport.MustOpenLibrary(t, cfg)

	registry := providers.NewRegistry(nil, providers.Limits{
		RequestsPerSecond: 100,
		BurstCapacity:     100,
		FailureThreshold:  5,
		ResetTimeout:      time.Minute,
	}, nil)
	scorer := orchestrator.NewScorer(cfg.Scoring)
	downloader := orchestrator.NewDownloader(cfg.Paths.TempDir, time.Second, nil)
	orch := orchestrator.New(registry, library, scorer, downloader, config.Fetch{}, nil)

	gate := decision.NewService(staticRefreshLog{lastChecked: lastChecked}, nil, decision.Config{
		StaleDataThresholdDays: 7,
	}, nil)

	return EnrichHandler(gate, orch, nil), queueStore
}

func TestEnrichHandlerSkipsFreshEntities(t *testing.T) {
	handler, store := newEnrichFixture(t, time.Now().UTC().Add(-24*time.Hour))
	job := testsupport.EnqueueJob(t, store, 42, 10)

	result, err := handler(context.Background(), job)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.HasPrefix(result, "skipped: ") {
		t.Fatalf("result = %q", result)
	}
	if !strings.Contains(result, decision.ReasonDataFresh) {
		t.Fatalf("result = %q", result)
	}
}

func TestEnrichHandlerRunsPipelineForNewEntities(t *testing.T) {
	handler, store := newEnrichFixture(t, time.Time{})
	job := testsupport.EnqueueJob(t, store, 42, 10)

	result, err := handler(context.Background(), job)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.HasPrefix(result, "enriched: ") {
		t.Fatalf("result = %q", result)
	}
	if !strings.Contains(result, "reason="+decision.ReasonNeverScraped) {
		t.Fatalf("result = %q", result)
	}
}

func TestEnrichHandlerRejectsBadPayload(t *testing.T) {
	handler, _ := newEnrichFixture(t, time.Time{})
	job := &queue.Job{
		ID:      "bad",
		Type:    queue.TypeEnrichMovie,
		Payload: []byte(`{invalid`),
	}
	_, err := handler(context.Background(), job)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRefreshHandlerEnqueuesFlaggedEntities(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	queueStore := testsupport.MustOpenQueue(t, cfg)
	library := testsupport.MustOpenLibrary(t, cfg)
	ctx := context.Background()

	// Two providers flag the same movie; it must enqueue once.
	if err := library.TouchRefresh(ctx, "movie", 1, "tmdb", true); err != nil {
		t.Fatalf("TouchRefresh: %v", err)
	}
	if err := library.TouchRefresh(ctx, "movie", 1, "fanart", true); err != nil {
		t.Fatalf("TouchRefresh: %v", err)
	}
	if err := library.TouchRefresh(ctx, "series", 2, "tmdb", true); err != nil {
		t.Fatalf("TouchRefresh: %v", err)
	}
	if err := library.TouchRefresh(ctx, "movie", 3, "tmdb", false); err != nil {
		t.Fatalf("TouchRefresh: %v", err)
	}

	handler := RefreshHandler(library, queueStore, nil)
	result, err := handler(ctx, &queue.Job{ID: "refresh", Type: queue.TypeRefreshCheck})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result != "refresh check: flagged=3 enqueued=2" {
		t.Fatalf("result = %q", result)
	}

	jobs, err := queueStore.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("enqueued %d jobs", len(jobs))
	}
	for _, job := range jobs {
		if job.Priority != 50 {
			t.Fatalf("priority = %d, want background 50", job.Priority)
		}
	}
}
