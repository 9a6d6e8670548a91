package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dansasser/multi-corpus-governance-agent/internal/contextpack"
)

// candidate carries a row through Go-side re-ranking on the full-text
// path: the combined rank is fts score plus corpus bonuses, and ties
// break on recency.
type candidate struct {
	snippet contextpack.Snippet
	rank    float64
	ts      time.Time
}

func rankAndTake(cands []candidate, limit int) []contextpack.Snippet {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].rank != cands[j].rank {
			return cands[i].rank > cands[j].rank
		}
		return cands[i].ts.After(cands[j].ts)
	})
	if len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]contextpack.Snippet, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.snippet)
	}
	return out
}

// candidateLimit oversamples the fts result so Go-side bonus ranking has
// room to reorder.
func candidateLimit(limit int) int {
	n := limit * 4
	if n < 50 {
		n = 50
	}
	return n
}

func (c *Connector) queryPersonal(ctx context.Context, text string, f Filters, limit int) ([]contextpack.Snippet, error) {
	if c.db.FTS() {
		expr := ftsMatchExpr(text)
		if expr == "" {
			return nil, nil
		}
		q := `SELECT m.id, m.role, m.content, m.ts, m.source, COALESCE(t.tags, '[]'), bm25(messages_fts)
			FROM messages_fts
			JOIN messages m ON m.id = messages_fts.rowid
			LEFT JOIN threads t ON t.thread_id = m.thread_id
			WHERE messages_fts MATCH ?`
		args := []any{expr}
		q, args = personalFilterClauses(q, args, f)
		q += ` ORDER BY bm25(messages_fts) LIMIT ?`
		args = append(args, candidateLimit(limit))

		rows, err := c.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var cands []candidate
		for rows.Next() {
			var (
				id       int64
				role     string
				content  string
				ts       time.Time
				source   string
				tagsJSON string
				score    float64
			)
			if err := rows.Scan(&id, &role, &content, &ts, &source, &tagsJSON, &score); err != nil {
				return nil, err
			}
			cands = append(cands, candidate{
				snippet: c.personalSnippet(id, role, content, ts, source, tagsJSON),
				rank:    -score, // bm25 is smaller-is-better
				ts:      ts,
			})
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return rankAndTake(cands, limit), nil
	}

	// Fallback: substring filter ordered by recency.
	q := `SELECT m.id, m.role, m.content, m.ts, m.source, COALESCE(t.tags, '[]')
		FROM messages m
		LEFT JOIN threads t ON t.thread_id = m.thread_id
		WHERE instr(lower(m.content), lower(?)) > 0`
	args := []any{text}
	q, args = personalFilterClauses(q, args, f)
	q += ` ORDER BY m.ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contextpack.Snippet
	for rows.Next() {
		var (
			id       int64
			role     string
			content  string
			ts       time.Time
			source   string
			tagsJSON string
		)
		if err := rows.Scan(&id, &role, &content, &ts, &source, &tagsJSON); err != nil {
			return nil, err
		}
		out = append(out, c.personalSnippet(id, role, content, ts, source, tagsJSON))
	}
	return out, rows.Err()
}

func personalFilterClauses(q string, args []any, f Filters) (string, []any) {
	if !f.From.IsZero() {
		q += ` AND m.ts >= ?`
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		q += ` AND m.ts <= ?`
		args = append(args, f.To.UTC())
	}
	if f.Role != "" {
		q += ` AND m.role = ?`
		args = append(args, f.Role)
	}
	if f.Source != "" {
		q += ` AND m.source = ?`
		args = append(args, f.Source)
	}
	if f.ThreadID != "" {
		q += ` AND m.thread_id = ?`
		args = append(args, f.ThreadID)
	}
	for _, tag := range f.Tags {
		q += ` AND t.tags LIKE ?`
		args = append(args, `%"`+tag+`"%`)
	}
	return q, args
}

func (c *Connector) personalSnippet(id int64, role, content string, ts time.Time, source, tagsJSON string) contextpack.Snippet {
	return contextpack.Snippet{
		Text:        c.trim(content),
		Origin:      contextpack.OriginPersonal,
		Date:        ts,
		Tags:        decodeTags(tagsJSON),
		Attribution: fmt.Sprintf("personal:message:%d", id),
		Notes:       fmt.Sprintf("role=%s source=%s", role, source),
	}
}

func (c *Connector) querySocial(ctx context.Context, text string, f Filters, limit int) ([]contextpack.Snippet, error) {
	if c.db.FTS() {
		expr := ftsMatchExpr(text)
		if expr == "" {
			return nil, nil
		}
		q := `SELECT p.id, p.platform, p.content, p.ts, p.engagement, COALESCE(p.hashtags, '[]'), bm25(posts_fts)
			FROM posts_fts
			JOIN posts p ON p.id = posts_fts.rowid
			WHERE posts_fts MATCH ?`
		args := []any{expr}
		q, args = socialFilterClauses(q, args, f)
		q += ` ORDER BY bm25(posts_fts) LIMIT ?`
		args = append(args, candidateLimit(limit))

		rows, err := c.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var cands []candidate
		for rows.Next() {
			var (
				id         int64
				platform   string
				content    string
				ts         time.Time
				engagement int
				tagsJSON   string
				score      float64
			)
			if err := rows.Scan(&id, &platform, &content, &ts, &engagement, &tagsJSON, &score); err != nil {
				return nil, err
			}
			cands = append(cands, candidate{
				snippet: c.socialSnippet(id, platform, content, ts, engagement, tagsJSON),
				rank:    -score + engagementBonus(engagement),
				ts:      ts,
			})
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return rankAndTake(cands, limit), nil
	}

	q := `SELECT p.id, p.platform, p.content, p.ts, p.engagement, COALESCE(p.hashtags, '[]')
		FROM posts p
		WHERE instr(lower(p.content), lower(?)) > 0`
	args := []any{text}
	q, args = socialFilterClauses(q, args, f)
	q += ` ORDER BY p.ts DESC, p.engagement DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contextpack.Snippet
	for rows.Next() {
		var (
			id         int64
			platform   string
			content    string
			ts         time.Time
			engagement int
			tagsJSON   string
		)
		if err := rows.Scan(&id, &platform, &content, &ts, &engagement, &tagsJSON); err != nil {
			return nil, err
		}
		out = append(out, c.socialSnippet(id, platform, content, ts, engagement, tagsJSON))
	}
	return out, rows.Err()
}

func socialFilterClauses(q string, args []any, f Filters) (string, []any) {
	if !f.From.IsZero() {
		q += ` AND p.ts >= ?`
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		q += ` AND p.ts <= ?`
		args = append(args, f.To.UTC())
	}
	if f.Platform != "" {
		q += ` AND p.platform = ?`
		args = append(args, f.Platform)
	}
	for _, tag := range f.Hashtags {
		q += ` AND p.hashtags LIKE ?`
		args = append(args, `%"`+tag+`"%`)
	}
	for _, mention := range f.Mentions {
		q += ` AND p.mentions LIKE ?`
		args = append(args, `%"`+mention+`"%`)
	}
	return q, args
}

func (c *Connector) socialSnippet(id int64, platform, content string, ts time.Time, engagement int, tagsJSON string) contextpack.Snippet {
	return contextpack.Snippet{
		Text:        c.trim(content),
		Origin:      contextpack.OriginSocial,
		Date:        ts,
		Tags:        decodeTags(tagsJSON),
		Attribution: fmt.Sprintf("social:post:%d", id),
		Notes:       fmt.Sprintf("platform=%s engagement=%d", platform, engagement),
	}
}

func (c *Connector) queryPublished(ctx context.Context, text string, f Filters, limit int) ([]contextpack.Snippet, error) {
	if c.db.FTS() {
		expr := ftsMatchExpr(text)
		if expr == "" {
			return nil, nil
		}
		q := `SELECT a.id, a.title, a.content, a.ts, a.author, COALESCE(a.tags, '[]'), COALESCE(s.authority_score, 0), bm25(articles_fts)
			FROM articles_fts
			JOIN articles a ON a.id = articles_fts.rowid
			LEFT JOIN sources s ON s.id = a.source_id
			WHERE articles_fts MATCH ?`
		args := []any{expr}
		q, args = publishedFilterClauses(q, args, f)
		q += ` ORDER BY bm25(articles_fts) LIMIT ?`
		args = append(args, candidateLimit(limit))

		rows, err := c.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var cands []candidate
		for rows.Next() {
			var (
				id        int64
				title     string
				content   string
				ts        time.Time
				author    string
				tagsJSON  string
				authority float64
				score     float64
			)
			if err := rows.Scan(&id, &title, &content, &ts, &author, &tagsJSON, &authority, &score); err != nil {
				return nil, err
			}
			cands = append(cands, candidate{
				snippet: c.publishedSnippet(id, title, content, ts, author, tagsJSON),
				rank:    -score + authorityBonus(authority),
				ts:      ts,
			})
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return rankAndTake(cands, limit), nil
	}

	q := `SELECT a.id, a.title, a.content, a.ts, a.author, COALESCE(a.tags, '[]')
		FROM articles a
		WHERE instr(lower(a.content), lower(?)) > 0`
	args := []any{text}
	q, args = publishedFilterClauses(q, args, f)
	q += ` ORDER BY a.ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contextpack.Snippet
	for rows.Next() {
		var (
			id       int64
			title    string
			content  string
			ts       time.Time
			author   string
			tagsJSON string
		)
		if err := rows.Scan(&id, &title, &content, &ts, &author, &tagsJSON); err != nil {
			return nil, err
		}
		out = append(out, c.publishedSnippet(id, title, content, ts, author, tagsJSON))
	}
	return out, rows.Err()
}

func publishedFilterClauses(q string, args []any, f Filters) (string, []any) {
	if !f.From.IsZero() {
		q += ` AND a.ts >= ?`
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		q += ` AND a.ts <= ?`
		args = append(args, f.To.UTC())
	}
	if f.Author != "" {
		q += ` AND a.author = ?`
		args = append(args, f.Author)
	}
	for _, tag := range f.Tags {
		q += ` AND a.tags LIKE ?`
		args = append(args, `%"`+tag+`"%`)
	}
	return q, args
}

func (c *Connector) publishedSnippet(id int64, title, content string, ts time.Time, author, tagsJSON string) contextpack.Snippet {
	return contextpack.Snippet{
		Text:        c.trim(content),
		Origin:      contextpack.OriginPublished,
		Date:        ts,
		Tags:        decodeTags(tagsJSON),
		Attribution: fmt.Sprintf("published:article:%d", id),
		Notes:       fmt.Sprintf("title=%s author=%s", title, author),
	}
}
