package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runnerr0/postvault/internal/storage"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// captureStderr is captureOutput for stderr.
func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stderr
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stderr = w

	fn()

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// setupStore opens a fresh writable archive in a temp dir.
func setupStore(t *testing.T) (*storage.SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "postvault.db")
	store, err := storage.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

// seedStore writes a publication and four articles.
func seedStore(t *testing.T, store *storage.SQLiteStore) []int64 {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.UpsertPublication(ctx, &storage.Publication{
		Slug: "demo", URL: "https://demo.substack.com", Name: "Demo Weekly",
		Author: "Ada", Description: "Notes on engines",
		LastFetched: time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC),
	}))

	articles := []storage.Article{
		{Title: "Difference engines", Subtitle: "gears", URL: "https://demo.substack.com/p/difference",
			PublishedAt: time.Date(2023, 3, 1, 9, 0, 0, 0, time.UTC), ContentText: "babbage built gears",
			WordCount: 1500, Audience: "everyone", ReactionCount: 12, CommentCount: 3,
			CategoriesJSON: `["history"]`},
		{Title: "Analytical engines", URL: "https://demo.substack.com/p/analytical",
			PublishedAt: time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC), ContentText: "punched cards and loops",
			WordCount: 2200, Audience: "only_paid", ReactionCount: 30, CommentCount: 1},
		{Title: "Notes on notes", URL: "https://demo.substack.com/p/notes",
			PublishedAt: time.Date(2024, 12, 31, 22, 0, 0, 0, time.UTC), ContentText: "the first program",
			WordCount: 800, Audience: "everyone", ReactionCount: 5, CommentCount: 20},
		{Title: "Looms", URL: "https://demo.substack.com/p/looms",
			PublishedAt: time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC), ContentText: "jacquard punched cards",
			WordCount: 600, Audience: "everyone", ReactionCount: 7, CommentCount: 0},
	}

	var ids []int64
	for i := range articles {
		a := articles[i]
		_, err := store.InsertArticle(ctx, &a)
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	return ids
}

// writeConfig writes a config file pointing at dbPath and returns its path.
func writeConfig(t *testing.T, dbPath string, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "storage:\n  db_path: " + dbPath + "\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
