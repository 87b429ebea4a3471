package config

// DefaultConfig returns a Config with sensible default values.
// The daemon table is empty by default; daemons come from the
// configuration file.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			GracePeriodSeconds: 10,
			LogBufferLines:     1000,
		},
	}
}

// applyDefaults fills zero-valued fields with defaults after unmarshaling.
func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.Supervisor.GracePeriodSeconds == 0 {
		cfg.Supervisor.GracePeriodSeconds = defaults.Supervisor.GracePeriodSeconds
	}
	if cfg.Supervisor.LogBufferLines == 0 {
		cfg.Supervisor.LogBufferLines = defaults.Supervisor.LogBufferLines
	}
}
