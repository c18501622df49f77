package cli

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/runnerr0/postvault/internal/config"
	"github.com/runnerr0/postvault/internal/ingest"
	"github.com/runnerr0/postvault/internal/metrics"
	"github.com/runnerr0/postvault/internal/source"
	"github.com/runnerr0/postvault/internal/storage"
)

// Execute implements the go-flags Commander interface for IngestCommand.
func (c *IngestCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg, c.globals)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	dbPath, err := cfg.DBPath()
	if err != nil {
		return err
	}

	ctx := c.globals.runContext()
	store, err := storage.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.NewIngest()
	src := source.New(source.Config{
		PageSize:    cfg.Source.PageSize,
		PageDelay:   cfg.Source.PageDelay(),
		Timeout:     cfg.Source.RequestTimeout(),
		UserAgent:   cfg.Source.UserAgent,
		MaxBodySize: cfg.Source.MaxBodyBytes,
		OnPage:      m.ObservePage,
	}, logger.Named("source"))

	logger.Debug("archive opened", zap.String("path", dbPath))
	return c.executeWithStore(ctx, cfg, store, src, m, logger)
}

// executeWithStore runs ingestion against a provided store and source (for testing).
func (c *IngestCommand) executeWithStore(
	ctx context.Context,
	cfg *config.Config,
	store storage.Writer,
	src ingest.Source,
	m *metrics.Ingest,
	logger *zap.Logger,
) error {
	baseURL, err := config.ResolveBaseURL(cfg.Source.Publication)
	if err != nil {
		return err
	}

	mode := ingest.ModeIncremental
	if c.Full {
		mode = ingest.ModeFull
	}

	runner := ingest.New(src, store, ingest.Options{
		BaseURL:      baseURL,
		Mode:         mode,
		ContentDelay: cfg.Source.ContentDelay(),
		Out:          os.Stdout,
		Logger:       logger,
		Metrics:      m,
	})
	_, runErr := runner.Run(ctx)

	// Metrics are exported for failed runs too.
	if path, err := cfg.MetricsPath(); err != nil {
		logger.Warn("resolve metrics path", zap.Error(err))
	} else if path != "" && m != nil {
		if err := m.WriteTextfile(path); err != nil {
			logger.Warn("write metrics textfile", zap.String("path", path), zap.Error(err))
		}
	}

	return runErr
}
