package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"fetcharr/internal/config"
)

// Store manages the media library database: asset candidates, the
// content-addressed cache, the provider refresh log, and provider
// configuration rows.
type Store struct {
	db       *sql.DB
	path     string
	cacheDir string

	now func() time.Time
}

// Open initializes or connects to the library database and applies the
// schema. Cached asset files live under the configured cache directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.StateDir, "library.db")
	// Pragmas ride the DSN so every pooled connection applies them, not just
	// the connection that happens to serve a one-off Exec.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{
		db:       db,
		path:     dbPath,
		cacheDir: cfg.Paths.CacheDir,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the library database location.
func (s *Store) Path() string {
	return s.path
}

// CacheDir returns the content cache directory.
func (s *Store) CacheDir() string {
	return s.cacheDir
}

// SetClock overrides the store clock. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

const candidateColumns = "id, entity_type, entity_id, asset_type, provider, url, width, height, language, vote_average, vote_count, score, content_hash, perceptual_hash, is_selected, is_blocked, last_refreshed"

func scanCandidate(scanner interface{ Scan(dest ...any) error }) (*Candidate, error) {
	var (
		c           Candidate
		contentHash sql.NullString
		phash       int64
		selected    int
		blocked     int
		refreshed   string
	)
	if err := scanner.Scan(
		&c.ID,
		&c.EntityType,
		&c.EntityID,
		&c.AssetType,
		&c.Provider,
		&c.URL,
		&c.Width,
		&c.Height,
		&c.Language,
		&c.VoteAverage,
		&c.VoteCount,
		&c.Score,
		&contentHash,
		&phash,
		&selected,
		&blocked,
		&refreshed,
	); err != nil {
		return nil, err
	}
	c.ContentHash = contentHash.String
	c.PerceptualHash = uint64(phash)
	c.IsSelected = selected != 0
	c.IsBlocked = blocked != 0
	if t, err := parseTimeString(refreshed); err == nil {
		c.LastRefreshed = t
	}
	return &c, nil
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
