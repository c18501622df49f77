// Package metrics exposes Prometheus collectors for ingestion runs.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for ArticlesTotal.
const (
	OutcomeSaved   = "saved"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Ingest holds the collectors updated by an ingestion run.
type Ingest struct {
	registry *prometheus.Registry

	articlesTotal  *prometheus.CounterVec
	pagesTotal     prometheus.Counter
	entriesTotal   prometheus.Counter
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	lastSuccessful prometheus.Gauge
}

// NewIngest registers the ingestion collectors on a fresh registry.
func NewIngest() *Ingest {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Ingest{
		registry: reg,
		articlesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postvault_articles_total",
				Help: "Listing entries processed, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		pagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "postvault_archive_pages_total",
			Help: "Non-empty archive listing pages fetched.",
		}),
		entriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "postvault_archive_entries_total",
			Help: "Raw listing entries received, before filtering.",
		}),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postvault_ingest_runs_total",
				Help: "Ingestion runs, labeled by status.",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "postvault_ingest_run_duration_seconds",
			Help:    "Wall-clock duration of ingestion runs.",
			Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600},
		}),
		lastSuccessful: factory.NewGauge(prometheus.GaugeOpts{
			Name: "postvault_last_success_timestamp_seconds",
			Help: "Unix time of the last successful ingestion run.",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Ingest) Registry() *prometheus.Registry {
	return m.registry
}

// ObservePage records one non-empty listing page.
func (m *Ingest) ObservePage(entries int) {
	m.pagesTotal.Inc()
	m.entriesTotal.Add(float64(entries))
}

// ObserveArticle records the outcome of one listing entry.
func (m *Ingest) ObserveArticle(outcome string) {
	m.articlesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun records a finished run.
func (m *Ingest) ObserveRun(success bool, elapsed time.Duration, finished time.Time) {
	status := "failed"
	if success {
		status = "success"
		m.lastSuccessful.Set(float64(finished.Unix()))
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

// WriteTextfile writes the registry in the node_exporter textfile format.
// The write is atomic.
func (m *Ingest) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
