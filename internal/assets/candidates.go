package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertCandidate inserts a candidate or refreshes an existing row matched by
// (entity_type, entity_id, asset_type, url). Selection and block flags on an
// existing row are preserved; a re-fetch never unblocks or deselects. When a
// re-fetch replaces the row's content hash, the previous cache reference is
// released.
func (s *Store) UpsertCandidate(ctx context.Context, c *Candidate) (int64, error) {
	now := s.now().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var previousHash sql.NullString
	err = tx.QueryRowContext(
		ctx,
		`SELECT content_hash FROM asset_candidates WHERE entity_type = ? AND entity_id = ? AND asset_type = ? AND url = ?`,
		c.EntityType, c.EntityID, c.AssetType, c.URL,
	).Scan(&previousHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read candidate hash: %w", err)
	}

	var id int64
	err = tx.QueryRowContext(
		ctx,
		`INSERT INTO asset_candidates
            (entity_type, entity_id, asset_type, provider, url, width, height, language, vote_average, vote_count, score, content_hash, perceptual_hash, last_refreshed)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (entity_type, entity_id, asset_type, url) DO UPDATE SET
            provider = excluded.provider,
            width = excluded.width,
            height = excluded.height,
            language = excluded.language,
            vote_average = excluded.vote_average,
            vote_count = excluded.vote_count,
            score = excluded.score,
            content_hash = excluded.content_hash,
            perceptual_hash = excluded.perceptual_hash,
            last_refreshed = excluded.last_refreshed
         RETURNING id`,
		c.EntityType,
		c.EntityID,
		c.AssetType,
		c.Provider,
		c.URL,
		c.Width,
		c.Height,
		c.Language,
		c.VoteAverage,
		c.VoteCount,
		c.Score,
		nullableString(c.ContentHash),
		int64(c.PerceptualHash),
		now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert candidate: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	c.ID = id

	if previousHash.Valid && previousHash.String != "" && previousHash.String != c.ContentHash {
		if err := s.Release(ctx, previousHash.String); err != nil {
			return id, fmt.Errorf("release replaced content: %w", err)
		}
	}
	return id, nil
}

// GetCandidate fetches one candidate by identifier.
func (s *Store) GetCandidate(ctx context.Context, id int64) (*Candidate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM asset_candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	return c, nil
}

// ListCandidates returns all candidates for one entity and asset type,
// best score first. Blocked rows are included; callers filter.
func (s *Store) ListCandidates(ctx context.Context, entityType string, entityID int64, assetType string) ([]*Candidate, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+candidateColumns+` FROM asset_candidates
         WHERE entity_type = ? AND entity_id = ? AND asset_type = ?
         ORDER BY score DESC, width * height DESC, provider ASC`,
		entityType, entityID, assetType,
	)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// ListEntityCandidates returns every candidate for an entity across asset
// types, grouped by asset type then best score first.
func (s *Store) ListEntityCandidates(ctx context.Context, entityType string, entityID int64) ([]*Candidate, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+candidateColumns+` FROM asset_candidates
         WHERE entity_type = ? AND entity_id = ?
         ORDER BY asset_type ASC, score DESC, width * height DESC, provider ASC`,
		entityType, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list entity candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// SelectedCandidate returns the currently selected candidate for an entity
// and asset type, or nil when none is selected.
func (s *Store) SelectedCandidate(ctx context.Context, entityType string, entityID int64, assetType string) (*Candidate, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+candidateColumns+` FROM asset_candidates
         WHERE entity_type = ? AND entity_id = ? AND asset_type = ? AND is_selected = 1`,
		entityType, entityID, assetType,
	)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get selected candidate: %w", err)
	}
	return c, nil
}

// NearDuplicates reports stored candidates whose perceptual hash is within
// maxDistance bits of the given hash, for the same entity and asset type.
func (s *Store) NearDuplicates(ctx context.Context, entityType string, entityID int64, assetType string, hash uint64, maxDistance int) ([]*Candidate, error) {
	candidates, err := s.ListCandidates(ctx, entityType, entityID, assetType)
	if err != nil {
		return nil, err
	}
	var matches []*Candidate
	for _, c := range candidates {
		if c.PerceptualHash == 0 {
			continue
		}
		if HashDistance(hash, c.PerceptualHash) <= maxDistance {
			matches = append(matches, c)
		}
	}
	return matches, nil
}
