package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fetcharr/internal/services"
)

// Select marks one candidate as the chosen asset for its entity and asset
// type. The previous selection is cleared and the new one set inside a single
// transaction so at most one row is ever selected, even under concurrent
// select and block calls.
func (s *Store) Select(ctx context.Context, id int64) (*Candidate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin select tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := getCandidateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "select candidate", fmt.Sprintf("candidate %d", id), nil)
	}
	if c.IsBlocked {
		return nil, services.Wrap(services.ErrValidation, "", "select candidate", "candidate is blocked", nil)
	}

	if err := clearSelectionTx(ctx, tx, c.EntityType, c.EntityID, c.AssetType); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE asset_candidates SET is_selected = 1 WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("set selection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit select: %w", err)
	}
	c.IsSelected = true
	return c, nil
}

// Block marks a candidate as rejected. The row stays for auditing but is
// excluded from selection; blocking the currently selected candidate
// immediately promotes the best remaining unblocked one in the same
// transaction, so a blocked asset is never left selected.
func (s *Store) Block(ctx context.Context, id int64) (*Candidate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin block tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := getCandidateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "block candidate", fmt.Sprintf("candidate %d", id), nil)
	}
	wasSelected := c.IsSelected

	if _, err := tx.ExecContext(ctx, `UPDATE asset_candidates SET is_blocked = 1, is_selected = 0 WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("block candidate: %w", err)
	}

	var promoted *Candidate
	if wasSelected {
		promoted, err = promoteBestTx(ctx, tx, c.EntityType, c.EntityID, c.AssetType)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit block: %w", err)
	}
	return promoted, nil
}

// Unblock clears the blocked flag. The candidate becomes eligible for
// selection again but is not automatically selected.
func (s *Store) Unblock(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE asset_candidates SET is_blocked = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("unblock candidate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "", "unblock candidate", fmt.Sprintf("candidate %d", id), nil)
	}
	return nil
}

// EnsureSelection promotes the best unblocked candidate when nothing is
// selected for the entity and asset type. Called after an orchestration run
// so freshly fetched entities end up with a chosen asset without manual
// intervention.
func (s *Store) EnsureSelection(ctx context.Context, entityType string, entityID int64, assetType string) (*Candidate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ensure-selection tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM asset_candidates
         WHERE entity_type = ? AND entity_id = ? AND asset_type = ? AND is_selected = 1`,
		entityType, entityID, assetType,
	)
	var selected int
	if err := row.Scan(&selected); err != nil {
		return nil, fmt.Errorf("count selected: %w", err)
	}
	if selected > 0 {
		return nil, tx.Commit()
	}

	promoted, err := promoteBestTx(ctx, tx, entityType, entityID, assetType)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ensure-selection: %w", err)
	}
	return promoted, nil
}

// promoteBestTx selects the highest-scoring unblocked candidate within an
// open transaction. Ties break by pixel area, then provider name.
func promoteBestTx(ctx context.Context, tx *sql.Tx, entityType string, entityID int64, assetType string) (*Candidate, error) {
	row := tx.QueryRowContext(
		ctx,
		`SELECT `+candidateColumns+` FROM asset_candidates
         WHERE entity_type = ? AND entity_id = ? AND asset_type = ? AND is_blocked = 0
         ORDER BY score DESC, width * height DESC, provider ASC
         LIMIT 1`,
		entityType, entityID, assetType,
	)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find best candidate: %w", err)
	}

	if err := clearSelectionTx(ctx, tx, entityType, entityID, assetType); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE asset_candidates SET is_selected = 1 WHERE id = ?`, c.ID); err != nil {
		return nil, fmt.Errorf("promote candidate: %w", err)
	}
	c.IsSelected = true
	return c, nil
}

func clearSelectionTx(ctx context.Context, tx *sql.Tx, entityType string, entityID int64, assetType string) error {
	_, err := tx.ExecContext(
		ctx,
		`UPDATE asset_candidates SET is_selected = 0
         WHERE entity_type = ? AND entity_id = ? AND asset_type = ? AND is_selected = 1`,
		entityType, entityID, assetType,
	)
	if err != nil {
		return fmt.Errorf("clear selection: %w", err)
	}
	return nil
}

func getCandidateTx(ctx context.Context, tx *sql.Tx, id int64) (*Candidate, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM asset_candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load candidate: %w", err)
	}
	return c, nil
}
