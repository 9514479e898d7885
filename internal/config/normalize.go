package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeDecision()
	c.normalizeFetch()
	c.normalizeScoring()
	c.normalizeResilience()
	c.normalizeLogging()
	if c.Local.Enabled {
		var err error
		if c.Local.Dir, err = expandPath(c.Local.Dir); err != nil {
			return fmt.Errorf("local.dir: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = defaultTempDir
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeQueue() {
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = defaultWorkers
	}
	if c.Queue.MaxRetries < 0 {
		c.Queue.MaxRetries = defaultMaxRetries
	}
	if c.Queue.RetryBackoffSeconds <= 0 {
		c.Queue.RetryBackoffSeconds = defaultRetryBackoffSeconds
	}
	if c.Queue.RetryBackoffMaxSeconds <= 0 {
		c.Queue.RetryBackoffMaxSeconds = defaultRetryBackoffMaxSeconds
	}
	if c.Queue.StuckJobMinutes <= 0 {
		c.Queue.StuckJobMinutes = defaultStuckJobMinutes
	}
	if c.Queue.PollIntervalSeconds <= 0 {
		c.Queue.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.Queue.HeartbeatSeconds <= 0 {
		c.Queue.HeartbeatSeconds = defaultHeartbeatSeconds
	}
	if c.Queue.HeartbeatTimeoutSecs <= 0 {
		c.Queue.HeartbeatTimeoutSecs = defaultHeartbeatTimeoutSecs
	}
}

func (c *Config) normalizeDecision() {
	if c.Decision.StaleDataThresholdDays <= 0 {
		c.Decision.StaleDataThresholdDays = defaultStaleDataThresholdDays
	}
	if c.Decision.ForceRescrapeAfterDays <= 0 {
		c.Decision.ForceRescrapeAfterDays = defaultForceRescrapeAfterDays
	}
}

func (c *Config) normalizeFetch() {
	if c.Fetch.AssetConcurrency <= 0 {
		c.Fetch.AssetConcurrency = defaultAssetConcurrency
	}
	if c.Fetch.DownloadTimeoutSeconds <= 0 {
		c.Fetch.DownloadTimeoutSeconds = defaultDownloadTimeoutSeconds
	}
	if c.Fetch.TempMaxAgeMinutes <= 0 {
		c.Fetch.TempMaxAgeMinutes = defaultTempMaxAgeMinutes
	}
	for i, name := range c.Fetch.ProviderOrder {
		c.Fetch.ProviderOrder[i] = strings.ToLower(strings.TrimSpace(name))
	}
}

func (c *Config) normalizeScoring() {
	defaults := Default().Scoring
	if c.Scoring.ResolutionWeight <= 0 {
		c.Scoring.ResolutionWeight = defaults.ResolutionWeight
	}
	if c.Scoring.VoteWeight <= 0 {
		c.Scoring.VoteWeight = defaults.VoteWeight
	}
	if c.Scoring.ProviderWeight < 0 {
		c.Scoring.ProviderWeight = defaults.ProviderWeight
	}
	if c.Scoring.LanguageWeight < 0 {
		c.Scoring.LanguageWeight = defaults.LanguageWeight
	}
	if c.Scoring.VoteCountDamping <= 0 {
		c.Scoring.VoteCountDamping = defaults.VoteCountDamping
	}
	if len(c.Scoring.PreferredLanguages) == 0 {
		c.Scoring.PreferredLanguages = defaults.PreferredLanguages
	}
}

func (c *Config) normalizeResilience() {
	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = defaultRequestsPerSecond
	}
	if c.RateLimit.BurstCapacity < c.RateLimit.RequestsPerSecond {
		c.RateLimit.BurstCapacity = c.RateLimit.RequestsPerSecond
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = defaultFailureThreshold
	}
	if c.Breaker.ResetTimeoutSeconds <= 0 {
		c.Breaker.ResetTimeoutSeconds = defaultResetTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// Validate checks configuration invariants that normalization cannot repair.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Local.Enabled && strings.TrimSpace(c.Local.Dir) == "" {
		return fmt.Errorf("local.dir: required when local.enabled is true")
	}
	return nil
}
