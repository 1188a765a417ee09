package config

const (
	defaultOutputDir                 = "~/.local/share/studio/outputs"
	defaultDataDir                   = "~/.local/share/studio"
	defaultAPIBind                   = "127.0.0.1:7860"
	defaultStateFileName             = "queue.json"
	defaultPollTimeoutSeconds        = 5
	defaultExportRetentionDays       = 30
	defaultStatsIntervalSeconds      = 2
	defaultCurrentJobIntervalSeconds = 1
	defaultRunnerPollSeconds         = 2
	defaultRunnerStopGraceSeconds    = 10
	defaultAPIRateLimit              = 5.0
	defaultAPIRateBurst              = 10
	defaultNtfyTimeoutSeconds        = 10
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultLogRetentionDays          = 30
	defaultLogMaxSizeMB              = 20
	defaultLogMaxBackups             = 5
)

// Default returns a Config populated with repository defaults.
// Directory fields left empty are derived from DataDir/OutputDir during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			DataDir:   defaultDataDir,
			APIBind:   defaultAPIBind,
		},
		Queue: Queue{
			PollTimeoutSeconds:  defaultPollTimeoutSeconds,
			ExportRetentionDays: defaultExportRetentionDays,
		},
		Refresh: Refresh{
			StatsIntervalSeconds:      defaultStatsIntervalSeconds,
			CurrentJobIntervalSeconds: defaultCurrentJobIntervalSeconds,
		},
		Runner: Runner{
			Enabled:             false,
			PollIntervalSeconds: defaultRunnerPollSeconds,
			StopGraceSeconds:    defaultRunnerStopGraceSeconds,
		},
		API: API{
			RateLimit: defaultAPIRateLimit,
			RateBurst: defaultAPIRateBurst,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
			JobCompleted:          true,
			JobFailed:             true,
			QueueDrained:          true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
			MaxSizeMB:     defaultLogMaxSizeMB,
			MaxBackups:    defaultLogMaxBackups,
		},
	}
}
