package config

const (
	defaultStateDir = "~/.local/share/fetcharr/state"
	defaultLogDir   = "~/.local/share/fetcharr/logs"
	defaultCacheDir = "~/.local/share/fetcharr/cache"
	defaultTempDir  = "~/.local/share/fetcharr/tmp"
	defaultAPIBind  = "127.0.0.1:7878"

	defaultWorkers                = 4
	defaultMaxRetries             = 3
	defaultRetryBackoffSeconds    = 30
	defaultRetryBackoffMaxSeconds = 1800
	defaultStuckJobMinutes        = 5
	defaultPollIntervalSeconds    = 5
	defaultHeartbeatSeconds       = 15
	defaultHeartbeatTimeoutSecs   = 120

	defaultStaleDataThresholdDays = 7
	defaultForceRescrapeAfterDays = 90

	defaultAssetConcurrency       = 10
	defaultDownloadTimeoutSeconds = 8
	defaultTempMaxAgeMinutes      = 60

	defaultRequestsPerSecond = 10
	defaultBurstCapacity     = 15

	defaultFailureThreshold    = 5
	defaultResetTimeoutSeconds = 60

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			CacheDir: defaultCacheDir,
			TempDir:  defaultTempDir,
			APIBind:  defaultAPIBind,
		},
		Queue: Queue{
			Workers:                defaultWorkers,
			MaxRetries:             defaultMaxRetries,
			RetryBackoffSeconds:    defaultRetryBackoffSeconds,
			RetryBackoffMaxSeconds: defaultRetryBackoffMaxSeconds,
			StuckJobMinutes:        defaultStuckJobMinutes,
			PollIntervalSeconds:    defaultPollIntervalSeconds,
			HeartbeatSeconds:       defaultHeartbeatSeconds,
			HeartbeatTimeoutSecs:   defaultHeartbeatTimeoutSecs,
		},
		Decision: Decision{
			StaleDataThresholdDays: defaultStaleDataThresholdDays,
			ForceRescrapeAfterDays: defaultForceRescrapeAfterDays,
			ChangeDetection:        true,
		},
		Fetch: Fetch{
			AssetConcurrency:       defaultAssetConcurrency,
			DownloadTimeoutSeconds: defaultDownloadTimeoutSeconds,
			TempMaxAgeMinutes:      defaultTempMaxAgeMinutes,
		},
		Scoring: Scoring{
			ResolutionWeight:   50,
			VoteWeight:         30,
			ProviderWeight:     10,
			LanguageWeight:     10,
			VoteCountDamping:   1000,
			PreferredLanguages: []string{"en"},
		},
		RateLimit: RateLimit{
			RequestsPerSecond: defaultRequestsPerSecond,
			BurstCapacity:     defaultBurstCapacity,
		},
		Breaker: Breaker{
			FailureThreshold:    defaultFailureThreshold,
			ResetTimeoutSeconds: defaultResetTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			JobFailures:    true,
			QueueSummary:   true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
