package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"
)

const (
	defaultSearchLimit = 20
	defaultFTSLimit    = 10
	defaultTopLimit    = 10
)

const articleColumns = `id, title, subtitle, url, published_date, content_html, content_text,
	word_count, audience, reaction_count, comment_count, reactions_json,
	categories, featured_image_url, fetched_at`

var summaryColumns = []string{
	"id", "title", "subtitle", "url", "published_date", "word_count",
	"audience", "reaction_count", "comment_count",
}

// PublicationInfo returns the publication row with headline totals.
// ErrNotFound means ingestion has never completed an archive fetch.
func (s *SQLiteStore) PublicationInfo(ctx context.Context) (*PublicationInfo, error) {
	var (
		info                    PublicationInfo
		desc, author, lastFetch sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, slug, url, description, author, last_fetched FROM newsletter WHERE id = 1`,
	).Scan(&info.Name, &info.Slug, &info.URL, &desc, &author, &lastFetch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("publication %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get publication: %w", err)
	}
	info.Description = desc.String
	info.Author = author.String
	info.LastFetched = parseNullTime(lastFetch)

	var earliest, latest sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       MIN(published_date),
		       MAX(published_date),
		       COALESCE(SUM(reaction_count), 0),
		       COALESCE(SUM(comment_count), 0),
		       COALESCE(ROUND(AVG(word_count)), 0)
		FROM articles
	`).Scan(&info.TotalArticles, &earliest, &latest,
		&info.TotalReactions, &info.TotalComments, &info.AvgWordCount)
	if err != nil {
		return nil, fmt.Errorf("article totals: %w", err)
	}
	info.Range = DateRange{Earliest: parseNullTime(earliest), Latest: parseNullTime(latest)}

	info.LastRun, err = s.LastRun(ctx)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Search filters articles by keyword (title or subtitle substring), date
// range and audience, newest first. Results carry no body text.
func (s *SQLiteStore) Search(ctx context.Context, q SearchQuery) ([]ArticleSummary, error) {
	if q.Limit <= 0 {
		q.Limit = defaultSearchLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	b := sq.Select(summaryColumns...).From("articles")
	if q.Keyword != "" {
		pattern := "%" + q.Keyword + "%"
		b = b.Where(sq.Or{sq.Like{"title": pattern}, sq.Like{"subtitle": pattern}})
	}
	if !q.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"published_date": formatTime(q.Since)})
	}
	if !q.Until.IsZero() {
		b = b.Where(sq.Lt{"published_date": formatTime(q.Until)})
	}
	if q.Audience != "" {
		b = b.Where(sq.Eq{"audience": q.Audience})
	}
	b = b.OrderBy("published_date DESC").Limit(uint64(q.Limit)).Offset(uint64(q.Offset))

	return s.querySummaries(ctx, b)
}

// TopArticles ranks articles by one of the allow-listed metrics.
func (s *SQLiteStore) TopArticles(ctx context.Context, metric Metric, limit int) ([]ArticleSummary, error) {
	if limit <= 0 {
		limit = defaultTopLimit
	}
	// Re-parse so only allow-listed column names reach the ORDER BY.
	metric = ParseMetric(string(metric))

	b := sq.Select(summaryColumns...).From("articles").
		OrderBy(string(metric)+" DESC", "published_date DESC").
		Limit(uint64(limit))

	return s.querySummaries(ctx, b)
}

func (s *SQLiteStore) querySummaries(ctx context.Context, b sq.SelectBuilder) ([]ArticleSummary, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	results := []ArticleSummary{}
	for rows.Next() {
		var (
			a                  ArticleSummary
			subtitle, audience sql.NullString
			published          sql.NullString
			words              sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.Title, &subtitle, &a.URL, &published,
			&words, &audience, &a.ReactionCount, &a.CommentCount); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		a.Subtitle = subtitle.String
		a.Audience = audience.String
		a.PublishedAt = parseNullTime(published)
		a.WordCount = int(words.Int64)
		results = append(results, a)
	}
	return results, rows.Err()
}

// FullTextSearch matches query against title, subtitle and body text,
// best match first. FTS5 syntax (AND, OR, NOT, "phrases") is accepted; a
// query FTS5 rejects is retried once as plain prefix terms.
func (s *SQLiteStore) FullTextSearch(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return []SearchHit{}, nil
	}
	if limit <= 0 {
		limit = defaultFTSLimit
	}

	hits, err := s.matchFTS(ctx, query, limit)
	var sqlErr sqlite3.Error
	if err != nil && errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrError {
		if fallback := ftsQuery(query); fallback != "" && fallback != query {
			hits, err = s.matchFTS(ctx, fallback, limit)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	return hits, nil
}

func (s *SQLiteStore) matchFTS(ctx context.Context, match string, limit int) ([]SearchHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.title, a.published_date, a.url,
		       snippet(articles_fts, 2, '<b>', '</b>', '...', 40)
		FROM articles_fts f
		JOIN articles a ON a.id = f.rowid
		WHERE articles_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := []SearchHit{}
	for rows.Next() {
		var (
			h                  SearchHit
			published, snippet sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.Title, &published, &h.URL, &snippet); err != nil {
			return nil, err
		}
		h.PublishedAt = parseNullTime(published)
		h.Snippet = snippet.String
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery converts free text into a safe FTS5 query: each word becomes a
// quoted prefix token, joined with OR.
func ftsQuery(input string) string {
	words := strings.Fields(input)
	if len(words) == 0 {
		return ""
	}
	parts := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ReplaceAll(w, `"`, `""`)
		parts = append(parts, `"`+w+`"*`)
	}
	return strings.Join(parts, " OR ")
}

// GetArticle returns one full article by id.
func (s *SQLiteStore) GetArticle(ctx context.Context, id int64) (*ArticleDetail, error) {
	d, err := scanArticle(s.getArticle.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("article %d %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get article: %w", err)
	}
	return d, nil
}

// GetArticles returns full articles for at most the first MaxBatch ids, in
// the order requested. Unknown ids are skipped.
func (s *SQLiteStore) GetArticles(ctx context.Context, ids []int64) ([]ArticleDetail, error) {
	if len(ids) > MaxBatch {
		ids = ids[:MaxBatch]
	}
	if len(ids) == 0 {
		return []ArticleDetail{}, nil
	}

	query, args, err := sq.Select(articleColumns).From("articles").
		Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]ArticleDetail, len(ids))
	for rows.Next() {
		d, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		byID[d.ID] = *d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]ArticleDetail, 0, len(byID))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		d, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		results = append(results, d)
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*ArticleDetail, error) {
	var (
		d                                      ArticleDetail
		subtitle, published, html, text        sql.NullString
		audience, reactions, categories, image sql.NullString
		fetched                                sql.NullString
		words, reactionCount, commentCount     sql.NullInt64
	)
	err := row.Scan(&d.ID, &d.Title, &subtitle, &d.URL, &published, &html, &text,
		&words, &audience, &reactionCount, &commentCount, &reactions,
		&categories, &image, &fetched)
	if err != nil {
		return nil, err
	}

	d.Subtitle = subtitle.String
	d.PublishedAt = parseNullTime(published)
	d.ContentHTML = html.String
	d.ContentText = text.String
	d.WordCount = int(words.Int64)
	d.Audience = audience.String
	d.ReactionCount = int(reactionCount.Int64)
	d.CommentCount = int(commentCount.Int64)
	d.ReactionsJSON = reactions.String
	d.CategoriesJSON = categories.String
	d.FeaturedImageURL = image.String
	d.FetchedAt = parseNullTime(fetched)

	d.Reactions = decodeAux(d.ReactionsJSON)
	d.Categories = decodeAux(d.CategoriesJSON)
	return &d, nil
}

// decodeAux parses a stored JSON payload. Malformed payloads come back as
// the raw string; an empty column is nil.
func decodeAux(raw string) any {
	if raw == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// Stats returns aggregate statistics about the archive.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		AudienceBreakdown: map[string]int64{},
		ArticlesByYear:    map[string]int64{},
	}

	var earliest, latest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(reaction_count), 0),
		       COALESCE(SUM(comment_count), 0),
		       COALESCE(ROUND(AVG(word_count)), 0),
		       COALESCE(ROUND(AVG(reaction_count), 1), 0),
		       COALESCE(ROUND(AVG(comment_count), 1), 0),
		       MIN(published_date),
		       MAX(published_date)
		FROM articles
	`).Scan(&st.TotalArticles, &st.TotalReactions, &st.TotalComments,
		&st.AvgWordCount, &st.AvgReactions, &st.AvgComments, &earliest, &latest)
	if err != nil {
		return nil, fmt.Errorf("article totals: %w", err)
	}
	st.Range = DateRange{Earliest: parseNullTime(earliest), Latest: parseNullTime(latest)}

	if err := s.countBy(ctx,
		`SELECT COALESCE(audience, ''), COUNT(*) FROM articles GROUP BY audience`,
		st.AudienceBreakdown); err != nil {
		return nil, fmt.Errorf("audience breakdown: %w", err)
	}

	if err := s.countBy(ctx,
		`SELECT strftime('%Y', published_date) AS year, COUNT(*)
		 FROM articles
		 WHERE published_date IS NOT NULL
		 GROUP BY year ORDER BY year`,
		st.ArticlesByYear); err != nil {
		return nil, fmt.Errorf("articles by year: %w", err)
	}

	return st, nil
}

func (s *SQLiteStore) countBy(ctx context.Context, query string, into map[string]int64) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   sql.NullString
			count int64
		)
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key.String] = count
	}
	return rows.Err()
}

// LastRun returns the most recently finished ingestion run, or nil when the
// ledger is empty.
func (s *SQLiteStore) LastRun(ctx context.Context) (*Run, error) {
	var (
		r                 Run
		started, finished sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mode, started_at, finished_at, total, saved, skipped, failed
		FROM ingest_runs ORDER BY finished_at DESC LIMIT 1
	`).Scan(&r.ID, &r.Mode, &started, &finished, &r.Total, &r.Saved, &r.Skipped, &r.Failed)
	if err != nil {
		// Archives opened read-only may predate the run ledger.
		if errors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "no such table") {
			return nil, nil
		}
		return nil, fmt.Errorf("last run: %w", err)
	}
	r.StartedAt = parseNullTime(started)
	r.FinishedAt = parseNullTime(finished)
	return &r, nil
}
