package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/runnerr0/postvault/internal/metrics"
	"github.com/runnerr0/postvault/internal/source"
	"github.com/runnerr0/postvault/internal/storage"
)

const testBase = "https://demo.substack.com"

type fakeSource struct {
	posts        []source.Post
	archiveErr   error
	bodies       map[string]string
	contentCalls []string
}

func (f *fakeSource) FetchArchive(_ context.Context, _ string) ([]source.Post, error) {
	if f.archiveErr != nil {
		return nil, f.archiveErr
	}
	return f.posts, nil
}

func (f *fakeSource) FetchContent(_ context.Context, _ string, slug string) (string, error) {
	f.contentCalls = append(f.contentCalls, slug)
	body, ok := f.bodies[slug]
	if !ok {
		return "", errors.New("404")
	}
	return body, nil
}

// recordingWriter records every call in order.
type recordingWriter struct {
	calls []string
}

func (w *recordingWriter) UpsertPublication(context.Context, *storage.Publication) error {
	w.calls = append(w.calls, "UpsertPublication")
	return nil
}

func (w *recordingWriter) InsertArticle(context.Context, *storage.Article) (storage.InsertOutcome, error) {
	w.calls = append(w.calls, "InsertArticle")
	return storage.Inserted, nil
}

func (w *recordingWriter) ArticleURLs(context.Context) (map[string]struct{}, error) {
	w.calls = append(w.calls, "ArticleURLs")
	return map[string]struct{}{}, nil
}

func (w *recordingWriter) TouchPublication(context.Context, time.Time) error {
	w.calls = append(w.calls, "TouchPublication")
	return nil
}

func (w *recordingWriter) RecordRun(context.Context, *storage.Run) error {
	w.calls = append(w.calls, "RecordRun")
	return nil
}

func post(slug, title string) source.Post {
	return source.Post{
		Type:     source.TypeNewsletter,
		Slug:     slug,
		Title:    title,
		PostDate: "2024-05-01T08:00:00Z",
		Publication: &source.Publication{
			Name: "Demo",
		},
	}
}

func openStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type harness struct {
	out    *bytes.Buffer
	sleeps []time.Duration
}

func newRunner(src Source, w storage.Writer, mode Mode, h *harness, extra ...func(*Options)) *Runner {
	opts := Options{
		BaseURL:      testBase,
		Mode:         mode,
		ContentDelay: time.Second,
		Out:          h.out,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		},
	}
	for _, fn := range extra {
		fn(&opts)
	}
	return New(src, w, opts)
}

func allArticles(t *testing.T, store *storage.SQLiteStore) []storage.ArticleSummary {
	t.Helper()
	res, err := store.Search(context.Background(), storage.SearchQuery{Limit: 100})
	require.NoError(t, err)
	return res
}

func TestRun_SavesAndReportsSummary(t *testing.T) {
	store := openStore(t)
	src := &fakeSource{
		posts:  []source.Post{post("a", "Alpha"), post("b", "Beta")},
		bodies: map[string]string{"a": "<p>one two three</p>", "b": "<p>four</p><p>five</p>"},
	}
	h := &harness{out: &bytes.Buffer{}}

	sum, err := newRunner(src, store, ModeIncremental, h).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 2, sum.Saved)
	assert.Zero(t, sum.Skipped)
	assert.Zero(t, sum.Failed)
	assert.NotEmpty(t, sum.RunID)

	out := h.out.String()
	assert.Contains(t, out, "Connecting to https://demo.substack.com... OK")
	assert.Contains(t, out, "found 2 articles")
	assert.Contains(t, out, `[  1/2] "Alpha" (2024-05-01)... saved`)
	assert.Contains(t, out, "Done: 2 saved, 0 skipped, 0 failed (of 2)")

	articles := allArticles(t, store)
	require.Len(t, articles, 2)

	info, err := store.PublicationInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Demo", info.Name)
	assert.False(t, info.LastFetched.IsZero())
	require.NotNil(t, info.LastRun)
	assert.Equal(t, sum.RunID, info.LastRun.ID)
	assert.Equal(t, 2, info.LastRun.Saved)
}

func TestRun_IncrementalIsIdempotent(t *testing.T) {
	store := openStore(t)
	src := &fakeSource{
		posts:  []source.Post{post("a", "Alpha"), post("b", "Beta")},
		bodies: map[string]string{"a": "<p>x</p>", "b": "<p>y</p>"},
	}
	h := &harness{out: &bytes.Buffer{}}

	_, err := newRunner(src, store, ModeIncremental, h).Run(context.Background())
	require.NoError(t, err)
	src.contentCalls = nil

	sum, err := newRunner(src, store, ModeIncremental, h).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Saved)
	assert.Equal(t, 2, sum.Skipped)
	assert.Empty(t, src.contentCalls, "incremental runs never fetch known posts")
	assert.Len(t, allArticles(t, store), 2)
}

func TestRun_FullModeNeverOverwrites(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	src := &fakeSource{
		posts:  []source.Post{post("a", "Alpha")},
		bodies: map[string]string{"a": "<p>original body</p>"},
	}
	h := &harness{out: &bytes.Buffer{}}
	_, err := newRunner(src, store, ModeIncremental, h).Run(ctx)
	require.NoError(t, err)

	src.bodies["a"] = "<p>edited upstream body</p>"
	src.contentCalls = nil
	sum, err := newRunner(src, store, ModeFull, h).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, src.contentCalls, "full mode refetches")
	assert.Zero(t, sum.Saved)
	assert.Equal(t, 1, sum.Skipped)

	articles := allArticles(t, store)
	require.Len(t, articles, 1)
	d, err := store.GetArticle(ctx, articles[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "original body", d.ContentText)
}

func TestRun_ContentFailureIsCountedNotFatal(t *testing.T) {
	store := openStore(t)
	src := &fakeSource{
		posts:  []source.Post{post("a", "Alpha"), post("c", "Gamma")},
		bodies: map[string]string{"a": "<p>ok</p>"},
	}
	h := &harness{out: &bytes.Buffer{}}

	sum, err := newRunner(src, store, ModeIncremental, h).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Saved)
	assert.Equal(t, 1, sum.Failed)
	assert.Contains(t, h.out.String(), `"Gamma" (2024-05-01)... FAILED (could not fetch content)`)

	articles := allArticles(t, store)
	require.Len(t, articles, 1)
	assert.Equal(t, "Alpha", articles[0].Title)

	info, err := store.PublicationInfo(context.Background())
	require.NoError(t, err)
	assert.False(t, info.LastFetched.IsZero(), "timestamp updated despite failures")
}

func TestRun_ArchiveFailureWritesNothing(t *testing.T) {
	w := &recordingWriter{}
	src := &fakeSource{archiveErr: errors.New("status 503")}
	h := &harness{out: &bytes.Buffer{}}
	m := metrics.NewIngest()

	_, err := newRunner(src, w, ModeIncremental, h, func(o *Options) { o.Metrics = m }).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch archive")
	assert.Empty(t, w.calls)
	assert.Contains(t, h.out.String(), "FAILED")
	runs, err := testutil.GatherAndCount(m.Registry(), "postvault_ingest_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
}

func TestRun_EmptyArchive(t *testing.T) {
	w := &recordingWriter{}
	h := &harness{out: &bytes.Buffer{}}

	sum, err := newRunner(&fakeSource{}, w, ModeIncremental, h).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
	assert.Empty(t, w.calls)
	assert.Contains(t, h.out.String(), "No articles found.")
}

func TestRun_WordCount(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	withText := post("words", "Words")
	withText.WordCount = 999
	empty := post("empty", "Empty")
	empty.WordCount = 42

	src := &fakeSource{
		posts:  []source.Post{withText, empty},
		bodies: map[string]string{"words": "<p>one two</p><p>three</p>", "empty": "<div> <br> </div>"},
	}
	h := &harness{out: &bytes.Buffer{}}
	_, err := newRunner(src, store, ModeIncremental, h).Run(ctx)
	require.NoError(t, err)

	byTitle := map[string]int{}
	for _, a := range allArticles(t, store) {
		byTitle[a.Title] = a.WordCount
	}
	assert.Equal(t, 3, byTitle["Words"], "token count of normalized text, not the hint")
	assert.Equal(t, 42, byTitle["Empty"], "hint only when text is empty")
}

func TestRun_DelayAfterEveryContentFetch(t *testing.T) {
	store := openStore(t)
	src := &fakeSource{
		posts:  []source.Post{post("a", "A"), post("b", "B"), post("c", "C")},
		bodies: map[string]string{"a": "<p>a</p>", "c": "<p>c</p>"},
	}
	h := &harness{out: &bytes.Buffer{}}

	_, err := newRunner(src, store, ModeIncremental, h).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, h.sleeps)

	// Skipped entries are not fetched, so they are not delayed.
	h.sleeps = nil
	_, err = newRunner(src, store, ModeIncremental, h).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second}, h.sleeps, "only the previously failed post is fetched")
}

func TestRun_DuplicateListingEntryIsSkipped(t *testing.T) {
	store := openStore(t)
	src := &fakeSource{
		posts:  []source.Post{post("a", "Alpha"), post("a", "Alpha again")},
		bodies: map[string]string{"a": "<p>x</p>"},
	}
	h := &harness{out: &bytes.Buffer{}}

	sum, err := newRunner(src, store, ModeIncremental, h).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Saved)
	assert.Equal(t, 1, sum.Skipped)
	assert.Len(t, allArticles(t, store), 1)
}

func TestRun_CancelledRunDoesNotFinalize(t *testing.T) {
	w := &recordingWriter{}
	src := &fakeSource{
		posts:  []source.Post{post("a", "A"), post("b", "B")},
		bodies: map[string]string{"a": "<p>a</p>", "b": "<p>b</p>"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{out: &bytes.Buffer{}}
	r := newRunner(src, w, ModeIncremental, h, func(o *Options) {
		o.Sleep = func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}
	})

	_, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"UpsertPublication", "ArticleURLs", "InsertArticle"}, w.calls)
}

func TestRun_CancelledRunKeepsLastFetched(t *testing.T) {
	store := openStore(t)
	src := &fakeSource{
		posts:  []source.Post{post("a", "A")},
		bodies: map[string]string{"a": "<p>a</p>", "b": "<p>b</p>"},
	}
	first := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := first
	now := func(o *Options) { o.Now = func() time.Time { return clock } }

	h := &harness{out: &bytes.Buffer{}}
	_, err := newRunner(src, store, ModeIncremental, h, now).Run(context.Background())
	require.NoError(t, err)

	clock = first.Add(24 * time.Hour)
	src.posts = append(src.posts, post("b", "B"))
	ctx, cancel := context.WithCancel(context.Background())
	r := newRunner(src, store, ModeIncremental, h, now, func(o *Options) {
		o.Sleep = func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}
	})
	_, err = r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	info, err := store.PublicationInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, first.Equal(info.LastFetched), "got %s", info.LastFetched)
	require.NotNil(t, info.LastRun)
	assert.True(t, first.Equal(info.LastRun.FinishedAt))
	assert.Len(t, allArticles(t, store), 2, "articles inserted before the cancel stay")
}

func TestRun_CancelledFirstRunLeavesLastFetchedUnset(t *testing.T) {
	store := openStore(t)
	src := &fakeSource{
		posts:  []source.Post{post("a", "A"), post("b", "B")},
		bodies: map[string]string{"a": "<p>a</p>", "b": "<p>b</p>"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{out: &bytes.Buffer{}}
	r := newRunner(src, store, ModeIncremental, h, func(o *Options) {
		o.Sleep = func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}
	})

	_, err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	info, err := store.PublicationInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, info.LastFetched.IsZero())
	assert.Nil(t, info.LastRun)
}

func TestRun_MetricsAndLogging(t *testing.T) {
	store := openStore(t)
	src := &fakeSource{
		posts:  []source.Post{post("a", "A"), post("b", "B")},
		bodies: map[string]string{"a": "<p>a</p>"},
	}
	core, logs := observer.New(zap.InfoLevel)
	m := metrics.NewIngest()
	h := &harness{out: &bytes.Buffer{}}

	sum, err := newRunner(src, store, ModeIncremental, h, func(o *Options) {
		o.Metrics = m
		o.Logger = zap.New(core)
	}).Run(context.Background())
	require.NoError(t, err)

	series, err := testutil.GatherAndCount(m.Registry(), "postvault_articles_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series, "saved and failed series")

	finished := logs.FilterMessage("ingest run finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, sum.RunID, finished[0].ContextMap()["run_id"])
	assert.Equal(t, 1, logs.FilterMessage("content fetch failed").Len())
}

// TestRun_AgainstHTTPSource wires the real colly client to a fake upstream:
// a reshare is dropped, a failing post is counted, only newsletters persist.
func TestRun_AgainstHTTPSource(t *testing.T) {
	listing := []map[string]any{
		{"type": "newsletter", "slug": "a", "title": "A", "post_date": "2024-01-02T00:00:00Z",
			"publishedBylines": []map[string]any{{"name": "Ada"}}},
		{"type": "reshare", "slug": "b", "title": "B"},
		{"type": "newsletter", "slug": "c", "title": "C"},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/archive", func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		page := []map[string]any{}
		if offset < len(listing) {
			page = listing[offset:]
		}
		_ = json.NewEncoder(w).Encode(page)
	})
	mux.HandleFunc("/api/v1/posts/a", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"body_html": "<p>hello world</p>"}`))
	})
	mux.HandleFunc("/api/v1/posts/c", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := openStore(t)
	client := source.New(source.Config{PageSize: 12, Timeout: 5 * time.Second}, nil)
	h := &harness{out: &bytes.Buffer{}}
	r := newRunner(client, store, ModeIncremental, h, func(o *Options) { o.BaseURL = srv.URL })

	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Saved)
	assert.Equal(t, 1, sum.Failed)

	articles := allArticles(t, store)
	require.Len(t, articles, 1)
	assert.Equal(t, "A", articles[0].Title)
	assert.True(t, strings.HasSuffix(articles[0].URL, "/p/a"))

	info, err := store.PublicationInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ada", info.Author)
}
