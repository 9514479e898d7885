package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fetcharr/internal/services"
)

// Enqueue validates the payload and inserts a new pending job. Validation
// failures wrap services.ErrValidation and write nothing.
func (s *Store) Enqueue(ctx context.Context, jobType JobType, payload json.RawMessage, priority int) (*Job, error) {
	if !KnownJobType(jobType) {
		return nil, services.Wrap(services.ErrValidation, "", "enqueue", fmt.Sprintf("unknown job type %q", jobType), nil)
	}
	if err := validatePayload(jobType, payload); err != nil {
		return nil, err
	}

	now := s.now()
	timestamp := now.Format(time.RFC3339Nano)
	id := uuid.NewString()

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, type, priority, payload, status, retry_count, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		id,
		string(jobType),
		priority,
		string(payload),
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, services.Wrap(services.ErrDatabase, "", "enqueue", "insert job", err)
	}

	return s.GetByID(ctx, id)
}

func validatePayload(jobType JobType, payload json.RawMessage) error {
	if len(payload) == 0 || !json.Valid(payload) {
		return services.Wrap(services.ErrValidation, "", "enqueue", "payload must be valid JSON", nil)
	}
	if jobType == TypeRefreshCheck {
		return nil
	}
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return services.Wrap(services.ErrValidation, "", "enqueue", "payload schema", err)
	}
	if strings.TrimSpace(p.EntityType) == "" {
		return services.Wrap(services.ErrValidation, "", "enqueue", "payload missing entity_type", nil)
	}
	if p.EntityID <= 0 {
		return services.Wrap(services.ErrValidation, "", "enqueue", "payload missing entity_id", nil)
	}
	return nil
}

// Dequeue atomically claims the most urgent claimable job: lowest priority
// value first, then earliest created_at. The claim is a conditional update so
// concurrent workers can never win the same row. Returns nil when nothing is
// claimable.
func (s *Store) Dequeue(ctx context.Context) (*Job, error) {
	for {
		now := s.now()
		nowStr := now.Format(time.RFC3339Nano)

		row := s.db.QueryRowContext(
			ctx,
			`SELECT id FROM jobs
             WHERE status IN (?, ?) AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
             ORDER BY priority ASC, created_at ASC
             LIMIT 1`,
			StatusPending,
			StatusRetrying,
			nowStr,
		)
		var id string
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("select claimable job: %w", err)
		}

		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, started_at = ?, last_heartbeat = ?, next_attempt_at = NULL, updated_at = ?
             WHERE id = ? AND status IN (?, ?)`,
			StatusProcessing,
			nowStr,
			nowStr,
			nowStr,
			id,
			StatusPending,
			StatusRetrying,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 1 {
			return s.GetByID(ctx, id)
		}
		// Another worker won the race; look for the next candidate.
	}
}

// Complete marks a processing job as completed and archives it to history.
func (s *Store) Complete(ctx context.Context, id, result string) error {
	return s.archive(ctx, id, StatusCompleted, "", result)
}

// Fail records a job failure. Retryable failures below the retry budget move
// the job to retrying with an exponential backoff delay; everything else is
// archived as failed.
func (s *Store) Fail(ctx context.Context, id string, jobErr error) error {
	message := "job failed"
	if jobErr != nil {
		message = jobErr.Error()
	}

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("fail job %s: not found", id)
	}

	retryCount := job.RetryCount + 1
	if retryCount <= s.maxRetries && services.Retryable(jobErr) {
		now := s.now()
		nextAttempt := now.Add(s.backoffDelay(job.RetryCount))
		_, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, retry_count = ?, error_message = ?, started_at = NULL,
                 last_heartbeat = NULL, next_attempt_at = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusRetrying,
			retryCount,
			message,
			nextAttempt.Format(time.RFC3339Nano),
			now.Format(time.RFC3339Nano),
			id,
			StatusProcessing,
		)
		if err != nil {
			return fmt.Errorf("schedule retry: %w", err)
		}
		return nil
	}

	return s.archive(ctx, id, StatusFailed, message, "")
}

// backoffDelay computes base * 2^retry capped at the configured maximum.
func (s *Store) backoffDelay(retryCount int) time.Duration {
	delay := s.backoffBase
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= s.backoffCap {
			return s.backoffCap
		}
	}
	if delay > s.backoffCap {
		delay = s.backoffCap
	}
	return delay
}

// archive moves a job into job_history and removes it from the active table
// within one transaction, so a job is never visible in both.
func (s *Store) archive(ctx context.Context, id string, terminal Status, errorMessage, result string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("archive job %s: not found", id)
	}
	if err != nil {
		return fmt.Errorf("archive load job: %w", err)
	}

	now := s.now()
	var durationMS int64
	if job.StartedAt != nil {
		durationMS = now.Sub(*job.StartedAt).Milliseconds()
		if durationMS < 0 {
			durationMS = 0
		}
	}

	if errorMessage == "" {
		errorMessage = job.ErrorMessage
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO job_history (id, type, priority, payload, status, retry_count, error_message, result, created_at, started_at, completed_at, duration_ms)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		string(job.Type),
		job.Priority,
		string(job.Payload),
		terminal,
		job.RetryCount,
		nullableString(errorMessage),
		nullableString(result),
		job.CreatedAt.Format(time.RFC3339Nano),
		nullableTime(job.StartedAt),
		now.Format(time.RFC3339Nano),
		durationMS,
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove archived job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	return nil
}

// UpdateHeartbeat records liveness for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := s.now().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now,
		now,
		id,
		StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ResetStuckProcessing requeues processing jobs whose claim is older than the
// cutoff. Run at startup: the worker that held them is assumed dead.
func (s *Store) ResetStuckProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	cutoff := now.Add(-olderThan)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, started_at = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`,
		StatusPending,
		now.Format(time.RFC3339Nano),
		StatusProcessing,
		cutoff.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimStaleProcessing requeues processing jobs whose heartbeat expired.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	now := s.now()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, started_at = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusPending,
		now.Format(time.RFC3339Nano),
		StatusProcessing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}
