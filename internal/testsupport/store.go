package testsupport

import (
	"context"
	"encoding/json"
	"testing"

	"fetcharr/internal/assets"
	"fetcharr/internal/config"
	"fetcharr/internal/queue"
)

// MustOpenQueue opens a queue.Store for tests and registers cleanup.
func MustOpenQueue(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenLibrary opens an assets.Store for tests and registers cleanup.
func MustOpenLibrary(t testing.TB, cfg *config.Config) *assets.Store {
	t.Helper()

	store, err := assets.Open(cfg)
	if err != nil {
		t.Fatalf("assets.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// EnqueueJob inserts a movie enrichment job with a valid payload.
func EnqueueJob(t testing.TB, store *queue.Store, entityID int64, priority int) *queue.Job {
	t.Helper()

	payload, err := json.Marshal(queue.Payload{
		EntityType:  "movie",
		EntityID:    entityID,
		ExternalIDs: map[string]string{"tmdb": "123"},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	job, err := store.Enqueue(context.Background(), queue.TypeEnrichMovie, payload, priority)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return job
}
