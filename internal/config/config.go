package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
	CacheDir  string `toml:"cache_dir"`
	TempDir   string `toml:"temp_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Queue contains job queue and worker pool settings.
type Queue struct {
	Workers                int `toml:"workers"`
	MaxRetries             int `toml:"max_retries"`
	RetryBackoffSeconds    int `toml:"retry_backoff_seconds"`
	RetryBackoffMaxSeconds int `toml:"retry_backoff_max_seconds"`
	StuckJobMinutes        int `toml:"stuck_job_minutes"`
	PollIntervalSeconds    int `toml:"poll_interval_seconds"`
	HeartbeatSeconds       int `toml:"heartbeat_seconds"`
	HeartbeatTimeoutSecs   int `toml:"heartbeat_timeout_seconds"`
}

// Decision contains staleness and change-detection thresholds.
type Decision struct {
	StaleDataThresholdDays int  `toml:"stale_data_threshold_days"`
	ForceRescrapeAfterDays int  `toml:"force_rescrape_after_days"`
	ChangeDetection        bool `toml:"change_detection"`
}

// Fetch contains orchestrator settings for provider calls and downloads.
type Fetch struct {
	AssetConcurrency       int                 `toml:"asset_concurrency"`
	DownloadTimeoutSeconds int                 `toml:"download_timeout_seconds"`
	TempMaxAgeMinutes      int                 `toml:"temp_max_age_minutes"`
	ProviderOrder          []string            `toml:"provider_order"`
	FieldPriorities        map[string][]string `toml:"field_priorities"`
}

// Scoring contains the weights of the deterministic asset scoring formula.
// Weights are configuration so operators can tune selection without a rebuild.
type Scoring struct {
	ResolutionWeight   float64  `toml:"resolution_weight"`
	VoteWeight         float64  `toml:"vote_weight"`
	ProviderWeight     float64  `toml:"provider_weight"`
	LanguageWeight     float64  `toml:"language_weight"`
	VoteCountDamping   float64  `toml:"vote_count_damping"`
	PreferredLanguages []string `toml:"preferred_languages"`
}

// RateLimit contains default per-provider pacing values, applied when a
// provider's capabilities do not declare their own.
type RateLimit struct {
	RequestsPerSecond int `toml:"requests_per_second"`
	BurstCapacity     int `toml:"burst_capacity"`
}

// Breaker contains circuit breaker thresholds for provider calls.
type Breaker struct {
	FailureThreshold    int `toml:"failure_threshold"`
	ResetTimeoutSeconds int `toml:"reset_timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobFailures    bool   `toml:"job_failures"`
	QueueSummary   bool   `toml:"queue_summary"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Local contains configuration for the built-in local artwork provider.
type Local struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// Config encapsulates all configuration values for Fetcharr.
//
// Configuration sections by subsystem:
//   - Paths: state/log/cache directories and API bind address
//   - Queue: worker pool size, retry policy, stuck-job recovery
//   - Decision: staleness thresholds gating enrichment
//   - Fetch: orchestrator concurrency and provider priority order
//   - Scoring: asset scoring weights and language preference
//   - RateLimit / Breaker: provider resilience defaults
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
//   - Local: sidecar artwork provider
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Decision      Decision      `toml:"decision"`
	Fetch         Fetch         `toml:"fetch"`
	Scoring       Scoring       `toml:"scoring"`
	RateLimit     RateLimit     `toml:"rate_limit"`
	Breaker       Breaker       `toml:"breaker"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Local         Local         `toml:"local"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/fetcharr/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("fetcharr.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.CacheDir, c.Paths.TempDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
