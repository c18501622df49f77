// Package ingest sequences one archive ingestion run: listing fetch,
// publication metadata, then per-post dedup, content fetch, normalization
// and persistence.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/runnerr0/postvault/internal/extract"
	"github.com/runnerr0/postvault/internal/metrics"
	"github.com/runnerr0/postvault/internal/source"
	"github.com/runnerr0/postvault/internal/storage"
	"github.com/runnerr0/postvault/internal/textnorm"
)

// Mode selects how existing articles are treated.
type Mode string

const (
	// ModeIncremental skips listing entries whose url is already stored,
	// without fetching their content.
	ModeIncremental Mode = "incremental"
	// ModeFull processes every entry. Rows that already exist are still
	// never overwritten; they count as skipped.
	ModeFull Mode = "full"
)

// Source is the upstream the run reads from.
type Source interface {
	FetchArchive(ctx context.Context, baseURL string) ([]source.Post, error)
	FetchContent(ctx context.Context, baseURL, slug string) (string, error)
}

// Options configures a Runner. Zero values get defaults in New.
type Options struct {
	BaseURL      string
	Mode         Mode
	ContentDelay time.Duration

	Out     io.Writer
	Logger  *zap.Logger
	Metrics *metrics.Ingest

	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Summary reports the outcome of one run.
type Summary struct {
	RunID    string
	Mode     Mode
	Total    int
	Saved    int
	Skipped  int
	Failed   int
	Started  time.Time
	Finished time.Time
}

// Runner executes ingestion runs against one store.
type Runner struct {
	src   Source
	store storage.Writer
	opts  Options
}

// New creates a Runner.
func New(src Source, store storage.Writer, opts Options) *Runner {
	if opts.Mode == "" {
		opts.Mode = ModeIncremental
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sleep == nil {
		opts.Sleep = source.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{src: src, store: store, opts: opts}
}

// Run performs one ingestion run. An error means the run did not complete:
// either the archive listing could not be fetched (nothing is written), a
// store write failed, or ctx was cancelled. Individual content fetch
// failures are counted in the summary and are not errors.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	sum := Summary{
		RunID:   uuid.NewString(),
		Mode:    r.opts.Mode,
		Started: r.opts.Now(),
	}
	log := r.opts.Logger.With(
		zap.String("run_id", sum.RunID),
		zap.String("mode", string(sum.Mode)),
		zap.String("base_url", r.opts.BaseURL),
	)
	log.Info("ingest run started")

	sum, err := r.run(ctx, log, sum)
	sum.Finished = r.opts.Now()

	if r.opts.Metrics != nil {
		r.opts.Metrics.ObserveRun(err == nil, sum.Finished.Sub(sum.Started), sum.Finished)
	}
	if err != nil {
		log.Error("ingest run failed", zap.Error(err))
		return sum, err
	}

	log.Info("ingest run finished",
		zap.Int("total", sum.Total),
		zap.Int("saved", sum.Saved),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
		zap.Duration("elapsed", sum.Finished.Sub(sum.Started)))
	return sum, nil
}

func (r *Runner) run(ctx context.Context, log *zap.Logger, sum Summary) (Summary, error) {
	out := r.opts.Out

	fmt.Fprintf(out, "Connecting to %s... ", r.opts.BaseURL)
	posts, err := r.src.FetchArchive(ctx, r.opts.BaseURL)
	if err != nil {
		fmt.Fprintln(out, "FAILED")
		return sum, fmt.Errorf("fetch archive: %w", err)
	}
	fmt.Fprintln(out, "OK")

	if len(posts) == 0 {
		fmt.Fprintln(out, "No articles found.")
		return sum, nil
	}

	pub := extract.Publication(r.opts.BaseURL, posts)
	if err := r.store.UpsertPublication(ctx, &pub); err != nil {
		return sum, err
	}

	existing := map[string]struct{}{}
	if r.opts.Mode != ModeFull {
		existing, err = r.store.ArticleURLs(ctx)
		if err != nil {
			return sum, err
		}
	}

	sum.Total = len(posts)
	fmt.Fprintf(out, "Fetching article archive... found %d articles\n", sum.Total)

	for i, p := range posts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		fields := extract.Article(p, r.opts.BaseURL)
		a := fields.Article
		fmt.Fprintf(out, "[%3d/%d] %q (%s)... ", i+1, sum.Total, a.Title, displayDate(a.PublishedAt))

		if _, ok := existing[a.URL]; ok {
			fmt.Fprintln(out, "already exists, skipped")
			r.observe(&sum, metrics.OutcomeSkipped)
			continue
		}

		markup, fetchErr := r.src.FetchContent(ctx, r.opts.BaseURL, fields.Slug)
		if fetchErr != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(out, "interrupted")
				return sum, ctx.Err()
			}
			fmt.Fprintln(out, "FAILED (could not fetch content)")
			log.Warn("content fetch failed", zap.String("slug", fields.Slug), zap.Error(fetchErr))
			r.observe(&sum, metrics.OutcomeFailed)
		} else {
			outcome, err := r.persist(ctx, &a, markup, fields.WordCountHint)
			if err != nil {
				fmt.Fprintln(out, "FAILED")
				return sum, err
			}
			if outcome == storage.Inserted {
				fmt.Fprintln(out, "saved")
				r.observe(&sum, metrics.OutcomeSaved)
			} else {
				fmt.Fprintln(out, "already exists, skipped")
				r.observe(&sum, metrics.OutcomeSkipped)
			}
		}

		if err := r.opts.Sleep(ctx, r.opts.ContentDelay); err != nil {
			return sum, err
		}
	}

	finishedAt := r.opts.Now()
	if err := r.store.TouchPublication(ctx, finishedAt); err != nil {
		return sum, err
	}
	if err := r.store.RecordRun(ctx, &storage.Run{
		ID:         sum.RunID,
		Mode:       string(sum.Mode),
		StartedAt:  sum.Started,
		FinishedAt: finishedAt,
		Total:      sum.Total,
		Saved:      sum.Saved,
		Skipped:    sum.Skipped,
		Failed:     sum.Failed,
	}); err != nil {
		return sum, err
	}

	fmt.Fprintf(out, "\nDone: %d saved, %d skipped, %d failed (of %d)\n", sum.Saved, sum.Skipped, sum.Failed, sum.Total)
	return sum, nil
}

// persist fills in the body-derived fields and inserts the article. The
// word count is the token count of the normalized text; the listing's hint
// is used only when there is no text.
func (r *Runner) persist(ctx context.Context, a *storage.Article, markup string, hint int) (storage.InsertOutcome, error) {
	a.ContentHTML = markup
	a.ContentText = textnorm.Normalize(markup)
	a.WordCount = textnorm.WordCount(a.ContentText)
	if a.ContentText == "" {
		a.WordCount = hint
	}
	a.FetchedAt = r.opts.Now()

	return r.store.InsertArticle(ctx, a)
}

func (r *Runner) observe(sum *Summary, outcome string) {
	switch outcome {
	case metrics.OutcomeSaved:
		sum.Saved++
	case metrics.OutcomeSkipped:
		sum.Skipped++
	case metrics.OutcomeFailed:
		sum.Failed++
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.ObserveArticle(outcome)
	}
}

func displayDate(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format("2006-01-02")
}
