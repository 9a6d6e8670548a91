package corpus

import (
	"fmt"

	"go.uber.org/zap"
)

// Schema versions:
// v1: corpus tables (threads/messages/attachments, posts/comments,
//     sources/articles) with timestamp and engagement indexes
// v2: fts5 virtual tables + sync triggers for messages, posts, articles
//     (applied only when the backend supports fts5)
const currentSchemaVersion = 2

var baseSchema = []string{
	`CREATE TABLE IF NOT EXISTS threads (
		thread_id    TEXT PRIMARY KEY,
		title        TEXT NOT NULL DEFAULT '',
		participants TEXT NOT NULL DEFAULT '[]',
		tags         TEXT NOT NULL DEFAULT '[]',
		started_at   DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id TEXT REFERENCES threads(thread_id),
		role      TEXT NOT NULL DEFAULT 'user',
		content   TEXT NOT NULL,
		ts        DATETIME NOT NULL,
		source    TEXT NOT NULL DEFAULT '',
		channel   TEXT NOT NULL DEFAULT '',
		meta      TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts)`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER REFERENCES messages(id),
		kind       TEXT NOT NULL DEFAULT '',
		url        TEXT NOT NULL DEFAULT '',
		meta       TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		platform   TEXT NOT NULL DEFAULT '',
		content    TEXT NOT NULL,
		ts         DATETIME NOT NULL,
		url        TEXT NOT NULL DEFAULT '',
		hashtags   TEXT NOT NULL DEFAULT '[]',
		mentions   TEXT NOT NULL DEFAULT '[]',
		engagement INTEGER NOT NULL DEFAULT 0,
		meta       TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_platform ON posts(platform)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_ts ON posts(ts)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_engagement ON posts(engagement)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id    INTEGER REFERENCES posts(id),
		author     TEXT NOT NULL DEFAULT '',
		content    TEXT NOT NULL,
		ts         DATETIME,
		engagement INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS sources (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		domain          TEXT NOT NULL UNIQUE,
		authority_score REAL NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS articles (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		title     TEXT NOT NULL DEFAULT '',
		content   TEXT NOT NULL,
		ts        DATETIME NOT NULL,
		author    TEXT NOT NULL DEFAULT '',
		url       TEXT NOT NULL DEFAULT '',
		tags      TEXT NOT NULL DEFAULT '[]',
		meta      TEXT NOT NULL DEFAULT '{}',
		source_id INTEGER REFERENCES sources(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_ts ON articles(ts)`,
}

// ftsSchema keeps a content-synced fts5 index per searchable table. The
// triggers make the token vectors transparent to row writers.
var ftsSchema = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(content, content='messages', content_rowid='id')`,
	`CREATE TRIGGER IF NOT EXISTS messages_fts_ai AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS messages_fts_ad AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS messages_fts_au AFTER UPDATE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
		INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
	END`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS posts_fts USING fts5(content, content='posts', content_rowid='id')`,
	`CREATE TRIGGER IF NOT EXISTS posts_fts_ai AFTER INSERT ON posts BEGIN
		INSERT INTO posts_fts(rowid, content) VALUES (new.id, new.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS posts_fts_ad AFTER DELETE ON posts BEGIN
		INSERT INTO posts_fts(posts_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS posts_fts_au AFTER UPDATE ON posts BEGIN
		INSERT INTO posts_fts(posts_fts, rowid, content) VALUES ('delete', old.id, old.content);
		INSERT INTO posts_fts(rowid, content) VALUES (new.id, new.content);
	END`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS articles_fts USING fts5(content, content='articles', content_rowid='id')`,
	`CREATE TRIGGER IF NOT EXISTS articles_fts_ai AFTER INSERT ON articles BEGIN
		INSERT INTO articles_fts(rowid, content) VALUES (new.id, new.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS articles_fts_ad AFTER DELETE ON articles BEGIN
		INSERT INTO articles_fts(articles_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS articles_fts_au AFTER UPDATE ON articles BEGIN
		INSERT INTO articles_fts(articles_fts, rowid, content) VALUES ('delete', old.id, old.content);
		INSERT INTO articles_fts(rowid, content) VALUES (new.id, new.content);
	END`,
}

// migrate applies pending schema versions inside a transaction per
// version.
func (db *DB) migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var version int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&version); err != nil {
		return err
	}

	for v := version + 1; v <= currentSchemaVersion; v++ {
		stmts, ok := db.statementsFor(v)
		if !ok {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration v%d: %w", v, err)
			}
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, v); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		db.logger.Debug("applied corpus migration", zap.Int("version", v))
	}
	return nil
}

func (db *DB) statementsFor(version int) ([]string, bool) {
	switch version {
	case 1:
		return baseSchema, true
	case 2:
		if !db.fts {
			// Fallback search needs no extra schema; the version is
			// still recorded as applied.
			return nil, true
		}
		return ftsSchema, true
	}
	return nil, false
}
