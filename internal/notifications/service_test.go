package notifications

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fetcharr/internal/config"
)

type recorded struct {
	title    string
	tags     string
	priority string
	body     string
}

func newNtfyFixture(t *testing.T, mutate func(*config.Notifications)) (Service, func() []recorded) {
	t.Helper()

	var mu sync.Mutex
	var requests []recorded
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, recorded{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.JobFailures = true
	cfg.Notifications.QueueSummary = true
	cfg.Notifications.Errors = true
	if mutate != nil {
		mutate(&cfg.Notifications)
	}

	return NewService(&cfg), func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recorded, len(requests))
		copy(out, requests)
		return out
	}
}

func TestNewServiceWithoutTopicIsNoop(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := NewService(&cfg)
	if _, ok := svc.(noopService); !ok {
		t.Fatalf("expected noop service, got %T", svc)
	}
	if err := svc.NotifyJobFailed(context.Background(), "enrich_movie", errors.New("x")); err != nil {
		t.Fatalf("noop NotifyJobFailed: %v", err)
	}
}

func TestNotifyJobFailedSendsHighPriority(t *testing.T) {
	svc, sent := newNtfyFixture(t, nil)

	err := svc.NotifyJobFailed(context.Background(), "enrich_movie", errors.New("provider down"))
	if err != nil {
		t.Fatalf("NotifyJobFailed: %v", err)
	}

	requests := sent()
	if len(requests) != 1 {
		t.Fatalf("sent %d requests", len(requests))
	}
	got := requests[0]
	if got.title != "Fetcharr - Job Failed" {
		t.Fatalf("title = %q", got.title)
	}
	if got.priority != "high" {
		t.Fatalf("priority = %q", got.priority)
	}
	if got.tags != "fetcharr,job,failed" {
		t.Fatalf("tags = %q", got.tags)
	}
	if !strings.Contains(got.body, "enrich_movie") || !strings.Contains(got.body, "provider down") {
		t.Fatalf("body = %q", got.body)
	}
}

func TestNotifyJobFailedRespectsToggle(t *testing.T) {
	svc, sent := newNtfyFixture(t, func(n *config.Notifications) {
		n.JobFailures = false
	})

	if err := svc.NotifyJobFailed(context.Background(), "enrich_movie", errors.New("x")); err != nil {
		t.Fatalf("NotifyJobFailed: %v", err)
	}
	if got := sent(); len(got) != 0 {
		t.Fatalf("disabled toggle still sent %d requests", len(got))
	}
}

func TestNotifyQueueDrained(t *testing.T) {
	svc, sent := newNtfyFixture(t, nil)

	if err := svc.NotifyQueueDrained(context.Background(), 10, 0, 90*time.Second); err != nil {
		t.Fatalf("NotifyQueueDrained: %v", err)
	}
	if err := svc.NotifyQueueDrained(context.Background(), 8, 2, time.Minute); err != nil {
		t.Fatalf("NotifyQueueDrained: %v", err)
	}

	requests := sent()
	if len(requests) != 2 {
		t.Fatalf("sent %d requests", len(requests))
	}
	if !strings.Contains(requests[0].body, "10 jobs completed in 1m30s") {
		t.Fatalf("clean drain body = %q", requests[0].body)
	}
	if !strings.Contains(requests[1].body, "8 completed, 2 failed") {
		t.Fatalf("drain-with-errors body = %q", requests[1].body)
	}
	if requests[1].title != "Fetcharr - Queue Drained (with errors)" {
		t.Fatalf("title = %q", requests[1].title)
	}
}

func TestSendSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic over quota", http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := NewService(&cfg)

	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}
