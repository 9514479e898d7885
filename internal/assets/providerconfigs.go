package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fetcharr/internal/providers"
)

// GetProviderConfig loads one provider configuration row, nil when the
// provider has never been configured. Satisfies providers.ConfigSource.
func (s *Store) GetProviderConfig(ctx context.Context, name string) (*providers.ProviderConfig, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, enabled, api_key, enabled_asset_types, last_test_status, updated_at
         FROM provider_configs WHERE name = ?`,
		name,
	)
	var (
		cfg        providers.ProviderConfig
		enabled    int
		assetTypes string
		updatedRaw string
	)
	err := row.Scan(&cfg.ID, &cfg.Name, &enabled, &cfg.APIKey, &assetTypes, &cfg.LastTestStatus, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get provider config: %w", err)
	}
	cfg.Enabled = enabled != 0
	cfg.EnabledAssetTypes = parseAssetTypes(assetTypes)
	if t, err := parseTimeString(updatedRaw); err == nil {
		cfg.UpdatedAt = t
	}
	return &cfg, nil
}

// SaveProviderConfig inserts or updates a provider configuration row keyed
// by provider name. Satisfies providers.ConfigSource.
func (s *Store) SaveProviderConfig(ctx context.Context, cfg *providers.ProviderConfig) error {
	if cfg == nil || strings.TrimSpace(cfg.Name) == "" {
		return errors.New("provider config requires a name")
	}
	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}
	updated := cfg.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO provider_configs (name, enabled, api_key, enabled_asset_types, last_test_status, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT (name) DO UPDATE SET
            enabled = excluded.enabled,
            api_key = excluded.api_key,
            enabled_asset_types = excluded.enabled_asset_types,
            last_test_status = excluded.last_test_status,
            updated_at = excluded.updated_at`,
		cfg.Name, enabled, cfg.APIKey, joinAssetTypes(cfg.EnabledAssetTypes), cfg.LastTestStatus,
		updated.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save provider config: %w", err)
	}
	return nil
}

// RecordProviderTest stores the outcome of the latest connectivity test.
func (s *Store) RecordProviderTest(ctx context.Context, name, status string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO provider_configs (name, enabled, last_test_status, updated_at)
         VALUES (?, 1, ?, ?)
         ON CONFLICT (name) DO UPDATE SET
            last_test_status = excluded.last_test_status,
            updated_at = excluded.updated_at`,
		name, status, s.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record provider test: %w", err)
	}
	return nil
}

// ListProviderConfigs returns every stored provider configuration, by name.
func (s *Store) ListProviderConfigs(ctx context.Context) ([]*providers.ProviderConfig, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, enabled, api_key, enabled_asset_types, last_test_status, updated_at
         FROM provider_configs ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list provider configs: %w", err)
	}
	defer rows.Close()

	var configs []*providers.ProviderConfig
	for rows.Next() {
		var (
			cfg        providers.ProviderConfig
			enabled    int
			assetTypes string
			updatedRaw string
		)
		if err := rows.Scan(&cfg.ID, &cfg.Name, &enabled, &cfg.APIKey, &assetTypes, &cfg.LastTestStatus, &updatedRaw); err != nil {
			return nil, err
		}
		cfg.Enabled = enabled != 0
		cfg.EnabledAssetTypes = parseAssetTypes(assetTypes)
		if t, err := parseTimeString(updatedRaw); err == nil {
			cfg.UpdatedAt = t
		}
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}

func parseAssetTypes(raw string) []providers.AssetType {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	types := make([]providers.AssetType, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			types = append(types, providers.AssetType(part))
		}
	}
	return types
}

func joinAssetTypes(types []providers.AssetType) string {
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ",")
}
