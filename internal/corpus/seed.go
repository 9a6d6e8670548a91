package corpus

import (
	"encoding/json"
	"time"
)

// Insert helpers used by the ingest command and by tests. Importers
// proper (chat export, social, article scrapers) live outside the core;
// these cover the write path the search layer depends on.

// InsertThread creates a conversation thread.
func (db *DB) InsertThread(threadID, title string, tags []string, startedAt time.Time) error {
	tagsJSON, _ := json.Marshal(tags)
	_, err := db.Exec(
		`INSERT OR IGNORE INTO threads (thread_id, title, tags, started_at) VALUES (?, ?, ?, ?)`,
		threadID, title, string(tagsJSON), startedAt.UTC(),
	)
	return err
}

// InsertMessage adds a message to the personal corpus.
func (db *DB) InsertMessage(threadID, role, content string, ts time.Time, source string) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO messages (thread_id, role, content, ts, source) VALUES (?, ?, ?, ?, ?)`,
		threadID, role, content, ts.UTC(), source,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertPost adds a post to the social corpus.
func (db *DB) InsertPost(platform, content string, ts time.Time, engagement int, hashtags []string) (int64, error) {
	tagsJSON, _ := json.Marshal(hashtags)
	res, err := db.Exec(
		`INSERT INTO posts (platform, content, ts, engagement, hashtags) VALUES (?, ?, ?, ?, ?)`,
		platform, content, ts.UTC(), engagement, string(tagsJSON),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertArticle adds an article to the published corpus, creating its
// source row by domain when needed.
func (db *DB) InsertArticle(title, content, author string, ts time.Time, tags []string, domain string, authority float64) (int64, error) {
	var sourceID *int64
	if domain != "" {
		if _, err := db.Exec(
			`INSERT INTO sources (domain, authority_score) VALUES (?, ?)
			 ON CONFLICT(domain) DO UPDATE SET authority_score = excluded.authority_score`,
			domain, authority,
		); err != nil {
			return 0, err
		}
		var id int64
		if err := db.QueryRow(`SELECT id FROM sources WHERE domain = ?`, domain).Scan(&id); err != nil {
			return 0, err
		}
		sourceID = &id
	}

	tagsJSON, _ := json.Marshal(tags)
	res, err := db.Exec(
		`INSERT INTO articles (title, content, ts, author, tags, source_id) VALUES (?, ?, ?, ?, ?, ?)`,
		title, content, ts.UTC(), author, string(tagsJSON), sourceID,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
