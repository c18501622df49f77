package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/postvault/config.yaml"

// ErrNoDefaultConfig wraps failures to locate or create the default config
// file. A default file that exists but does not load is not wrapped.
var ErrNoDefaultConfig = errors.New("default config unavailable")

// Environment variables that override the config file.
const (
	EnvPublication = "POSTVAULT_PUBLICATION"
	EnvDBPath      = "POSTVAULT_DB_PATH"
	EnvLogLevel    = "POSTVAULT_LOG_LEVEL"
)

// Config holds all postvault configuration.
type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type SourceConfig struct {
	// Publication is a bare slug ("demo") or a base URL.
	Publication           string `yaml:"publication"`
	PageSize              int    `yaml:"page_size"`
	PageDelaySeconds      int    `yaml:"page_delay_seconds"`
	ContentDelaySeconds   int    `yaml:"content_delay_seconds"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	UserAgent             string `yaml:"user_agent"`
	MaxBodyBytes          int    `yaml:"max_body_bytes"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	SQLiteFile string `yaml:"sqlite_file"`
	// DBPath, when set, replaces Path/SQLiteFile.
	DBPath string `yaml:"db_path,omitempty"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type MetricsConfig struct {
	// Textfile is where run metrics are written after each ingest. Empty
	// disables the export.
	Textfile string `yaml:"textfile"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays the POSTVAULT_* environment variables.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvPublication); ok && v != "" {
		c.Source.Publication = v
	}
	if v, ok := os.LookupEnv(EnvDBPath); ok && v != "" {
		c.Storage.DBPath = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the settings an ingest run depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source.Publication) == "" {
		return fmt.Errorf("no publication configured: set source.publication or %s", EnvPublication)
	}
	if c.Source.PageSize < 1 {
		return fmt.Errorf("source.page_size must be at least 1, got %d", c.Source.PageSize)
	}
	if c.Source.PageDelaySeconds < 0 || c.Source.ContentDelaySeconds < 0 {
		return errors.New("source delays must not be negative")
	}
	if _, err := ResolveBaseURL(c.Source.Publication); err != nil {
		return err
	}
	return nil
}

// DBPath returns the expanded path of the archive database.
func (c *Config) DBPath() (string, error) {
	if c.Storage.DBPath != "" {
		return expandPath(c.Storage.DBPath)
	}
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// MetricsPath returns the expanded metrics textfile path, or "" when the
// export is disabled.
func (c *Config) MetricsPath() (string, error) {
	if c.Metrics.Textfile == "" {
		return "", nil
	}
	return expandPath(c.Metrics.Textfile)
}

func (s SourceConfig) PageDelay() time.Duration {
	return time.Duration(s.PageDelaySeconds) * time.Second
}

func (s SourceConfig) ContentDelay() time.Duration {
	return time.Duration(s.ContentDelaySeconds) * time.Second
}

func (s SourceConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// ResolveBaseURL turns the configured publication into a base URL. A bare
// slug maps to https://{slug}.substack.com, a bare host gets https://, an
// explicit http(s) URL is kept. The trailing slash is dropped.
func ResolveBaseURL(publication string) (string, error) {
	p := strings.TrimSpace(publication)
	if p == "" {
		return "", errors.New("empty publication")
	}

	switch {
	case strings.HasPrefix(p, "http://"), strings.HasPrefix(p, "https://"):
	case strings.Contains(p, "."):
		p = "https://" + p
	default:
		p = "https://" + p + ".substack.com"
	}

	u, err := url.Parse(p)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid publication %q", publication)
	}
	return strings.TrimRight(u.Scheme+"://"+u.Host+u.Path, "/"), nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoDefaultConfig, err)
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	_, err := os.Stat(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %w", ErrNoDefaultConfig, err)
	}
	if os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: creating config directory: %w", ErrNoDefaultConfig, err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("%w: writing default config: %w", ErrNoDefaultConfig, err)
		}

		return cfg, nil
	}

	return Load(path)
}
