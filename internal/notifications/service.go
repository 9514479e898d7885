package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fetcharr/internal/config"
)

const userAgent = "Fetcharr/0.1.0"

// Service defines the push notification surface exposed to the daemon and
// worker pool.
type Service interface {
	NotifyJobCompleted(ctx context.Context, jobType, summary string) error
	NotifyJobFailed(ctx context.Context, jobType string, jobErr error) error
	NotifyQueueDrained(ctx context.Context, completed, failed int, duration time.Duration) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:     topic,
		client:       &http.Client{Timeout: timeout},
		jobFailures:  cfg.Notifications.JobFailures,
		queueSummary: cfg.Notifications.QueueSummary,
		errors:       cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	client       *http.Client
	jobFailures  bool
	queueSummary bool
	errors       bool
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, jobType, summary string) error {
	if !n.queueSummary {
		return nil
	}
	data := payload{
		title:   "Fetcharr - Job Complete",
		message: fmt.Sprintf("%s: %s", jobType, strings.TrimSpace(summary)),
		tags:    []string{"fetcharr", "job", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobType string, jobErr error) error {
	if !n.jobFailures {
		return nil
	}
	message := "unknown error"
	if jobErr != nil {
		message = strings.TrimSpace(jobErr.Error())
	}
	data := payload{
		title:    "Fetcharr - Job Failed",
		message:  fmt.Sprintf("%s failed after all retries: %s", jobType, message),
		tags:     []string{"fetcharr", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueueDrained(ctx context.Context, completed, failed int, duration time.Duration) error {
	if !n.queueSummary {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	var title, message string
	if failed == 0 {
		title = "Fetcharr - Queue Drained"
		message = fmt.Sprintf("Queue drained: %d jobs completed in %s", completed, duration)
	} else {
		title = "Fetcharr - Queue Drained (with errors)"
		message = fmt.Sprintf("Queue drained: %d completed, %d failed in %s", completed, failed, duration)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"fetcharr", "queue", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Fetcharr - Error",
		message:  builder.String(),
		tags:     []string{"fetcharr", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Fetcharr - Test",
		message:  "Notification system test",
		tags:     []string{"fetcharr", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, string, string) error            { return nil }
func (noopService) NotifyJobFailed(context.Context, string, error) error                { return nil }
func (noopService) NotifyQueueDrained(context.Context, int, int, time.Duration) error   { return nil }
func (noopService) NotifyError(context.Context, error, string) error                    { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
