package config

// DefaultUserAgent identifies postvault to the upstream API.
const DefaultUserAgent = "postvault/1.0 (+https://github.com/runnerr0/postvault)"

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Publication: "",
			// Larger pages come back with inconsistent counts.
			PageSize:              12,
			PageDelaySeconds:      2,
			ContentDelaySeconds:   1,
			RequestTimeoutSeconds: 30,
			UserAgent:             DefaultUserAgent,
			MaxBodyBytes:          20 * 1024 * 1024,
		},
		Storage: StorageConfig{
			Path:       "~/.config/postvault",
			SQLiteFile: "postvault.db",
		},
		Logging: LoggingConfig{
			Level:       "info",
			Development: false,
		},
		Metrics: MetricsConfig{
			Textfile: "",
		},
	}
}
