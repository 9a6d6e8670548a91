package corpus

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Snapshot is the JSON document accepted by the ingest command: one
// bundle of rows for any subset of the three corpora. Timestamps are
// RFC 3339.
type Snapshot struct {
	Threads  []ThreadRow  `json:"threads,omitempty"`
	Messages []MessageRow `json:"messages,omitempty"`
	Posts    []PostRow    `json:"posts,omitempty"`
	Articles []ArticleRow `json:"articles,omitempty"`
}

// ThreadRow is one conversation thread.
type ThreadRow struct {
	ThreadID  string    `json:"thread_id"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// MessageRow is one personal-corpus message.
type MessageRow struct {
	ThreadID string    `json:"thread_id"`
	Role     string    `json:"role"`
	Content  string    `json:"content"`
	Ts       time.Time `json:"ts"`
	Source   string    `json:"source"`
}

// PostRow is one social-corpus post.
type PostRow struct {
	Platform   string    `json:"platform"`
	Content    string    `json:"content"`
	Ts         time.Time `json:"ts"`
	Engagement int       `json:"engagement"`
	Hashtags   []string  `json:"hashtags,omitempty"`
}

// ArticleRow is one published-corpus article.
type ArticleRow struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	Ts        time.Time `json:"ts"`
	Tags      []string  `json:"tags,omitempty"`
	Domain    string    `json:"domain,omitempty"`
	Authority float64   `json:"authority,omitempty"`
}

// ImportCounts reports the rows written by one import.
type ImportCounts struct {
	Threads  int
	Messages int
	Posts    int
	Articles int
}

// ImportSnapshot decodes a snapshot document and loads it through the
// insert helpers. The first failing row aborts the import with its
// position; rows already written stay.
func (db *DB) ImportSnapshot(r io.Reader) (ImportCounts, error) {
	var counts ImportCounts

	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return counts, fmt.Errorf("decode snapshot: %w", err)
	}

	for i, t := range snap.Threads {
		if err := db.InsertThread(t.ThreadID, t.Title, t.Tags, t.StartedAt); err != nil {
			return counts, fmt.Errorf("thread %d (%s): %w", i, t.ThreadID, err)
		}
		counts.Threads++
	}
	for i, m := range snap.Messages {
		if _, err := db.InsertMessage(m.ThreadID, m.Role, m.Content, m.Ts, m.Source); err != nil {
			return counts, fmt.Errorf("message %d: %w", i, err)
		}
		counts.Messages++
	}
	for i, p := range snap.Posts {
		if _, err := db.InsertPost(p.Platform, p.Content, p.Ts, p.Engagement, p.Hashtags); err != nil {
			return counts, fmt.Errorf("post %d: %w", i, err)
		}
		counts.Posts++
	}
	for i, a := range snap.Articles {
		if _, err := db.InsertArticle(a.Title, a.Content, a.Author, a.Ts, a.Tags, a.Domain, a.Authority); err != nil {
			return counts, fmt.Errorf("article %d: %w", i, err)
		}
		counts.Articles++
	}
	return counts, nil
}
