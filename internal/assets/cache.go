package assets

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// HashBytes returns the hex SHA-256 digest used as the cache key.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StoreBytes writes content into the content-addressed cache. Byte-identical
// content from different source URLs lands on a single row; repeat stores
// increment reference_count instead of duplicating the file.
func (s *Store) StoreBytes(ctx context.Context, data []byte, mimeType string) (*CacheAsset, error) {
	if len(data) == 0 {
		return nil, errors.New("store empty content")
	}
	hash := HashBytes(data)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin cache tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := getCacheAssetTx(ctx, tx, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE cache_assets SET reference_count = reference_count + 1 WHERE content_hash = ?`, hash); err != nil {
			return nil, fmt.Errorf("bump reference count: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit cache tx: %w", err)
		}
		existing.ReferenceCount++
		return existing, nil
	}

	path := s.cachePath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write cache file: %w", err)
	}

	now := s.now()
	asset := &CacheAsset{
		ContentHash:    hash,
		FilePath:       path,
		FileSize:       int64(len(data)),
		MimeType:       mimeType,
		ReferenceCount: 1,
		CreatedAt:      now,
	}
	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO cache_assets (content_hash, file_path, file_size, mime_type, reference_count, created_at)
         VALUES (?, ?, ?, ?, 1, ?)`,
		asset.ContentHash, asset.FilePath, asset.FileSize, asset.MimeType, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("insert cache asset: %w", err)
	}
	if err := tx.Commit(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("commit cache tx: %w", err)
	}
	return asset, nil
}

// Release decrements a cache entry's reference count. At zero the row and
// its file are removed.
func (s *Store) Release(ctx context.Context, hash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	asset, err := getCacheAssetTx(ctx, tx, hash)
	if err != nil {
		return err
	}
	if asset == nil {
		return nil
	}

	if asset.ReferenceCount <= 1 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_assets WHERE content_hash = ?`, hash); err != nil {
			return fmt.Errorf("delete cache row: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit release: %w", err)
		}
		if err := os.Remove(asset.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove cache file: %w", err)
		}
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE cache_assets SET reference_count = reference_count - 1 WHERE content_hash = ?`, hash); err != nil {
		return fmt.Errorf("drop reference count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit release: %w", err)
	}
	return nil
}

// GetCacheAsset fetches one cache entry by content hash, nil when absent.
func (s *Store) GetCacheAsset(ctx context.Context, hash string) (*CacheAsset, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT content_hash, file_path, file_size, mime_type, reference_count, created_at
         FROM cache_assets WHERE content_hash = ?`,
		hash,
	)
	return scanCacheAsset(row)
}

// CacheStats reports row count and total bytes held by the cache.
func (s *Store) CacheStats(ctx context.Context) (count int, bytes int64, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1), COALESCE(SUM(file_size), 0) FROM cache_assets`)
	if err := row.Scan(&count, &bytes); err != nil {
		return 0, 0, fmt.Errorf("cache stats: %w", err)
	}
	return count, bytes, nil
}

// cachePath shards cache files by hash prefix to keep directories small.
func (s *Store) cachePath(hash string) string {
	return filepath.Join(s.cacheDir, hash[:2], hash)
}

func getCacheAssetTx(ctx context.Context, tx *sql.Tx, hash string) (*CacheAsset, error) {
	row := tx.QueryRowContext(
		ctx,
		`SELECT content_hash, file_path, file_size, mime_type, reference_count, created_at
         FROM cache_assets WHERE content_hash = ?`,
		hash,
	)
	return scanCacheAsset(row)
}

func scanCacheAsset(row *sql.Row) (*CacheAsset, error) {
	var (
		asset      CacheAsset
		createdRaw string
	)
	err := row.Scan(&asset.ContentHash, &asset.FilePath, &asset.FileSize, &asset.MimeType, &asset.ReferenceCount, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan cache asset: %w", err)
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		asset.CreatedAt = t
	}
	return &asset, nil
}
