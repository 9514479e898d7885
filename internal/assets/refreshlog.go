package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetRefresh returns the refresh log entry for one (entity, provider) pair,
// nil when the provider has never been consulted for the entity.
func (s *Store) GetRefresh(ctx context.Context, entityType string, entityID int64, provider string) (*RefreshEntry, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT entity_type, entity_id, provider, last_checked, needs_refresh
         FROM provider_refresh_log
         WHERE entity_type = ? AND entity_id = ? AND provider = ?`,
		entityType, entityID, provider,
	)
	var (
		entry      RefreshEntry
		checkedRaw string
		needs      int
	)
	err := row.Scan(&entry.EntityType, &entry.EntityID, &entry.Provider, &checkedRaw, &needs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh entry: %w", err)
	}
	if t, err := parseTimeString(checkedRaw); err == nil {
		entry.LastChecked = t
	}
	entry.NeedsRefresh = needs != 0
	return &entry, nil
}

// LastChecked returns the most recent check time across all providers for an
// entity, zero time when never checked.
func (s *Store) LastChecked(ctx context.Context, entityType string, entityID int64) (time.Time, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT MAX(last_checked) FROM provider_refresh_log
         WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID,
	)
	var checkedRaw sql.NullString
	if err := row.Scan(&checkedRaw); err != nil {
		return time.Time{}, fmt.Errorf("last checked: %w", err)
	}
	if !checkedRaw.Valid || checkedRaw.String == "" {
		return time.Time{}, nil
	}
	t, err := parseTimeString(checkedRaw.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last checked: %w", err)
	}
	return t, nil
}

// TouchRefresh records that a provider was consulted for an entity now.
func (s *Store) TouchRefresh(ctx context.Context, entityType string, entityID int64, provider string, needsRefresh bool) error {
	needs := 0
	if needsRefresh {
		needs = 1
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO provider_refresh_log (entity_type, entity_id, provider, last_checked, needs_refresh)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (entity_type, entity_id, provider) DO UPDATE SET
            last_checked = excluded.last_checked,
            needs_refresh = excluded.needs_refresh`,
		entityType, entityID, provider, s.now().Format(time.RFC3339Nano), needs,
	)
	if err != nil {
		return fmt.Errorf("touch refresh entry: %w", err)
	}
	return nil
}

// EntitiesNeedingRefresh lists (entity_type, entity_id) pairs flagged for a
// refresh check, capped at limit.
func (s *Store) EntitiesNeedingRefresh(ctx context.Context, limit int) ([]RefreshEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT entity_type, entity_id, provider, last_checked, needs_refresh
         FROM provider_refresh_log WHERE needs_refresh = 1
         ORDER BY last_checked ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list refresh entries: %w", err)
	}
	defer rows.Close()

	var entries []RefreshEntry
	for rows.Next() {
		var (
			entry      RefreshEntry
			checkedRaw string
			needs      int
		)
		if err := rows.Scan(&entry.EntityType, &entry.EntityID, &entry.Provider, &checkedRaw, &needs); err != nil {
			return nil, err
		}
		if t, err := parseTimeString(checkedRaw); err == nil {
			entry.LastChecked = t
		}
		entry.NeedsRefresh = needs != 0
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
