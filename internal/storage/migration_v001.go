package storage

import (
	"context"
	"database/sql"
)

// migrateV001 creates the archive schema: the singleton publication row,
// articles keyed by unique url, and the FTS5 index kept in step with
// articles by triggers. Table and column names match archives written by
// earlier tooling so existing databases open unchanged.
func migrateV001(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS newsletter (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			name         TEXT NOT NULL,
			slug         TEXT NOT NULL,
			url          TEXT NOT NULL,
			description  TEXT,
			author       TEXT,
			last_fetched TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS articles (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			title              TEXT NOT NULL,
			subtitle           TEXT,
			url                TEXT UNIQUE NOT NULL,
			published_date     TIMESTAMP,
			content_html       TEXT,
			content_text       TEXT,
			word_count         INTEGER,
			audience           TEXT,
			reaction_count     INTEGER DEFAULT 0,
			comment_count      INTEGER DEFAULT 0,
			reactions_json     TEXT,
			categories         TEXT,
			featured_image_url TEXT,
			fetched_at         TIMESTAMP
		)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS articles_fts USING fts5(
			title,
			subtitle,
			content_text,
			content='articles',
			content_rowid='id'
		)`,

		`CREATE TRIGGER IF NOT EXISTS articles_ai AFTER INSERT ON articles BEGIN
			INSERT INTO articles_fts(rowid, title, subtitle, content_text)
			VALUES (new.id, new.title, new.subtitle, new.content_text);
		END`,

		`CREATE TRIGGER IF NOT EXISTS articles_ad AFTER DELETE ON articles BEGIN
			INSERT INTO articles_fts(articles_fts, rowid, title, subtitle, content_text)
			VALUES ('delete', old.id, old.title, old.subtitle, old.content_text);
		END`,

		`CREATE TRIGGER IF NOT EXISTS articles_au AFTER UPDATE ON articles BEGIN
			INSERT INTO articles_fts(articles_fts, rowid, title, subtitle, content_text)
			VALUES ('delete', old.id, old.title, old.subtitle, old.content_text);
			INSERT INTO articles_fts(rowid, title, subtitle, content_text)
			VALUES (new.id, new.title, new.subtitle, new.content_text);
		END`,

		`CREATE INDEX IF NOT EXISTS idx_articles_published_date ON articles(published_date)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_audience       ON articles(audience)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// migrateV002 adds the run ledger.
func migrateV002(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ingest_runs (
			id          TEXT PRIMARY KEY,
			mode        TEXT NOT NULL CHECK (mode IN ('full', 'incremental')),
			started_at  TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			total       INTEGER NOT NULL DEFAULT 0,
			saved       INTEGER NOT NULL DEFAULT 0,
			skipped     INTEGER NOT NULL DEFAULT 0,
			failed      INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ingest_runs_finished_at ON ingest_runs(finished_at)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
