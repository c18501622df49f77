package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/runnerr0/postvault/internal/config"
	"github.com/runnerr0/postvault/internal/logging"
	"github.com/runnerr0/postvault/internal/storage"
)

const dateLayout = "2006-01-02"

// loadConfig resolves configuration.
// Priority: --db-path flag > environment > config file > defaults.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if globals != nil && globals.Config != "" {
		cfg, err = config.Load(globals.Config)
		if err != nil {
			return nil, err
		}
	} else {
		cfg, err = config.LoadOrCreate()
		switch {
		case errors.Is(err, config.ErrNoDefaultConfig):
			// An unwritable home directory should not block read commands.
			fmt.Fprintf(os.Stderr, "warning: %v; using defaults\n", err)
			cfg = config.DefaultConfig()
		case err != nil:
			return nil, err
		}
	}

	cfg.ApplyEnv()
	if globals != nil && globals.DBPath != "" {
		cfg.Storage.DBPath = globals.DBPath
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, globals *GlobalFlags) (*zap.Logger, error) {
	level := cfg.Logging.Level
	if globals != nil && globals.Verbose {
		level = "debug"
	}
	return logging.New(level, cfg.Logging.Development)
}

// openReader opens a short-lived read-only connection to the archive.
func openReader(globals *GlobalFlags) (*storage.SQLiteStore, error) {
	cfg, err := loadConfig(globals)
	if err != nil {
		return nil, err
	}
	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, err
	}

	store, err := storage.OpenReadOnly(globals.runContext(), dbPath)
	if errors.Is(err, storage.ErrNoArchive) {
		return nil, fmt.Errorf("no archive at %s; run `postvault ingest` first", dbPath)
	}
	return store, err
}

func wantJSON(globals *GlobalFlags) bool {
	return globals != nil && globals.JSON
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDate parses a YYYY-MM-DD flag value as a UTC midnight.
func parseDate(flag, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s value %q (want YYYY-MM-DD)", flag, s)
	}
	return t, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(dateLayout)
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
