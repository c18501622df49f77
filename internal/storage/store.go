package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Writer is the set of operations the ingestion run performs against the
// archive. Each call commits on its own.
type Writer interface {
	UpsertPublication(ctx context.Context, p *Publication) error
	InsertArticle(ctx context.Context, a *Article) (InsertOutcome, error)
	ArticleURLs(ctx context.Context) (map[string]struct{}, error)
	TouchPublication(ctx context.Context, at time.Time) error
	RecordRun(ctx context.Context, run *Run) error
}

// Reader is the read-only query surface.
type Reader interface {
	PublicationInfo(ctx context.Context) (*PublicationInfo, error)
	Search(ctx context.Context, q SearchQuery) ([]ArticleSummary, error)
	FullTextSearch(ctx context.Context, query string, limit int) ([]SearchHit, error)
	GetArticle(ctx context.Context, id int64) (*ArticleDetail, error)
	GetArticles(ctx context.Context, ids []int64) ([]ArticleDetail, error)
	Stats(ctx context.Context) (*Stats, error)
	TopArticles(ctx context.Context, metric Metric, limit int) ([]ArticleSummary, error)
	LastRun(ctx context.Context) (*Run, error)
}

// SQLiteStore implements Writer and Reader backed by a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	ownsDB bool

	// Prepared statements
	upsertPublication *sql.Stmt
	touchPublication  *sql.Stmt
	insertArticle     *sql.Stmt
	getArticle        *sql.Stmt
	insertRun         *sql.Stmt
}

var (
	_ Writer = (*SQLiteStore)(nil)
	_ Reader = (*SQLiteStore)(nil)
)

// Open opens (creating if needed) the archive at path for writing, applies
// migrations and returns a store that closes the database on Close.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := NewMigrationRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// OpenReadOnly opens an existing archive without migrating it. The
// connection cannot write. ErrNoArchive is returned when the file or its
// schema is missing.
func OpenReadOnly(ctx context.Context, path string) (*SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoArchive
		}
		return nil, fmt.Errorf("stat database: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	v, err := NewMigrationRunner(db).Version(ctx)
	if err != nil || v < 1 {
		db.Close()
		if err != nil && !strings.Contains(err.Error(), "no such table") {
			return nil, fmt.Errorf("read schema version: %w", err)
		}
		return nil, ErrNoArchive
	}

	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewSQLiteStore creates a store over an already-opened and migrated
// database. The caller keeps ownership of db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}

	if err := s.prepareStatements(); err != nil {
		s.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.upsertPublication, err = s.db.Prepare(`
		INSERT INTO newsletter (id, name, slug, url, description, author, last_fetched)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, slug = excluded.slug, url = excluded.url,
			description = excluded.description, author = excluded.author,
			last_fetched = COALESCE(newsletter.last_fetched, excluded.last_fetched)
	`)
	if err != nil {
		return err
	}

	s.touchPublication, err = s.db.Prepare(`UPDATE newsletter SET last_fetched = ? WHERE id = 1`)
	if err != nil {
		return err
	}

	s.insertArticle, err = s.db.Prepare(`
		INSERT INTO articles
			(title, subtitle, url, published_date, content_html, content_text,
			 word_count, audience, reaction_count, comment_count, reactions_json,
			 categories, featured_image_url, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO NOTHING
	`)
	if err != nil {
		return err
	}

	s.getArticle, err = s.db.Prepare(`SELECT ` + articleColumns + ` FROM articles WHERE id = ?`)
	if err != nil {
		return err
	}

	s.insertRun, err = s.db.Prepare(`
		INSERT INTO ingest_runs (id, mode, started_at, finished_at, total, saved, skipped, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	return nil
}

// UpsertPublication writes the singleton publication row. An existing
// last_fetched is kept; only TouchPublication advances it.
func (s *SQLiteStore) UpsertPublication(ctx context.Context, p *Publication) error {
	_, err := s.upsertPublication.ExecContext(ctx,
		p.Name, p.Slug, p.URL,
		nullString(p.Description), nullString(p.Author), nullTime(p.LastFetched),
	)
	if err != nil {
		return fmt.Errorf("upsert publication: %w", err)
	}
	return nil
}

// TouchPublication sets the publication's last_fetched timestamp.
func (s *SQLiteStore) TouchPublication(ctx context.Context, at time.Time) error {
	res, err := s.touchPublication.ExecContext(ctx, formatTime(at))
	if err != nil {
		return fmt.Errorf("update last_fetched: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update last_fetched: publication %w", ErrNotFound)
	}
	return nil
}

// InsertArticle stores a previously unseen article. An existing row with the
// same url is left untouched and AlreadyExists is returned. The FTS row is
// written by trigger inside the same transaction. On insert a.ID is set.
func (s *SQLiteStore) InsertArticle(ctx context.Context, a *Article) (InsertOutcome, error) {
	if a.FetchedAt.IsZero() {
		a.FetchedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.StmtContext(ctx, s.insertArticle).ExecContext(ctx,
		a.Title, nullString(a.Subtitle), a.URL, nullTime(a.PublishedAt),
		nullString(a.ContentHTML), nullString(a.ContentText), a.WordCount,
		nullString(a.Audience), a.ReactionCount, a.CommentCount,
		nullString(a.ReactionsJSON), nullString(a.CategoriesJSON),
		nullString(a.FeaturedImageURL), formatTime(a.FetchedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert article: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return AlreadyExists, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit article: %w", err)
	}
	a.ID = id
	return Inserted, nil
}

// ArticleURLs returns the set of urls already archived.
func (s *SQLiteStore) ArticleURLs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT url FROM articles")
	if err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	defer rows.Close()

	urls := make(map[string]struct{})
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		urls[u] = struct{}{}
	}
	return urls, rows.Err()
}

// RecordRun appends a completed run to the run ledger.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *Run) error {
	_, err := s.insertRun.ExecContext(ctx,
		run.ID, run.Mode, formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.Total, run.Saved, run.Skipped, run.Failed,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Close releases prepared statements, and the database when the store
// opened it itself.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.upsertPublication, s.touchPublication, s.insertArticle,
		s.getArticle, s.insertRun,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// storedTimeLayout is fixed width with millisecond precision, the form
// archived rows already carry (2024-01-15T10:00:00.000Z). Values in this
// form compare lexically in time order, also against second-precision rows.
const storedTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// formatTime renders timestamps the way they are stored.
func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// parseTimestamp accepts both our RFC3339 form and the isoformat variants
// older archives contain.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

// parseNullTime returns the zero time for NULL or unparsable values.
func parseNullTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, _ := parseTimestamp(ns.String)
	return t
}
