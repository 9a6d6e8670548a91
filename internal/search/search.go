// Package search implements the multi-corpus search layer. Each corpus
// has one connector sharing the same query shape: consult the request
// cache, open a short-lived read session, branch on whether the backend
// supports full-text ranking, project rows into attributed snippets, and
// cache the serialized result. Database failures degrade to an empty
// result so the pipeline can proceed with less context.
package search

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dansasser/multi-corpus-governance-agent/internal/cache"
	"github.com/dansasser/multi-corpus-governance-agent/internal/contextpack"
	"github.com/dansasser/multi-corpus-governance-agent/internal/corpus"
	"github.com/dansasser/multi-corpus-governance-agent/internal/governance"
)

// Per-corpus snippet character budgets. Longer rows are truncated with a
// trailing ellipsis.
const (
	personalCharBudget  = 240
	socialCharBudget    = 180
	publishedCharBudget = 360
)

// Ranking bonuses applied on top of the full-text score.
const (
	engagementBonusWeight = 0.05
	authorityBonusWeight  = 0.1
)

// DefaultTTL is the request-cache lifetime for search results.
const DefaultTTL = 5 * time.Minute

// Filters narrows a corpus query. Fields apply per corpus: Role, Source,
// ThreadID, and Tags to personal; Platform, Hashtags, and Mentions to
// social; Author and Tags to published. The date range applies to all.
type Filters struct {
	From     time.Time `json:"from,omitempty"`
	To       time.Time `json:"to,omitempty"`
	Role     string    `json:"role,omitempty"`
	Source   string    `json:"source,omitempty"`
	ThreadID string    `json:"thread_id,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	Platform string    `json:"platform,omitempty"`
	Hashtags []string  `json:"hashtags,omitempty"`
	Mentions []string  `json:"mentions,omitempty"`
	Author   string    `json:"author,omitempty"`
}

// Result is one connector's answer to a query.
type Result struct {
	Corpus   governance.Corpus     `json:"corpus"`
	Snippets []contextpack.Snippet `json:"snippets"`
}

// Connector queries one corpus. Safe for concurrent use; each query runs
// on its own database session from the shared pool.
type Connector struct {
	corpus governance.Corpus
	db     *corpus.DB
	cache  cache.Cache
	ttl    time.Duration
	budget int
	logger *zap.Logger
}

// NewConnector builds a connector for the given corpus.
func NewConnector(c governance.Corpus, db *corpus.DB, store cache.Cache, ttl time.Duration, logger *zap.Logger) *Connector {
	if store == nil {
		store = cache.Noop{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	budget := publishedCharBudget
	switch c {
	case governance.CorpusPersonal:
		budget = personalCharBudget
	case governance.CorpusSocial:
		budget = socialCharBudget
	}
	return &Connector{
		corpus: c,
		db:     db,
		cache:  store,
		ttl:    ttl,
		budget: budget,
		logger: logger.Named("search").With(zap.String("corpus", string(c))),
	}
}

// Corpus returns the corpus this connector serves.
func (c *Connector) Corpus() governance.Corpus { return c.corpus }

type cacheArgs struct {
	Query   string  `json:"query"`
	Filters Filters `json:"filters"`
	Limit   int     `json:"limit"`
}

// Query runs a ranked (or fallback) search. It never returns an error:
// backend failures are logged and produce an empty result.
func (c *Connector) Query(ctx context.Context, text string, f Filters, limit int) Result {
	if limit <= 0 {
		limit = 5
	}
	key := cache.Key(string(c.corpus), cacheArgs{Query: text, Filters: f, Limit: limit})
	if raw, ok := c.cache.Get(ctx, key); ok {
		var cached Result
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached
		}
	}

	var (
		snippets []contextpack.Snippet
		err      error
	)
	switch c.corpus {
	case governance.CorpusPersonal:
		snippets, err = c.queryPersonal(ctx, text, f, limit)
	case governance.CorpusSocial:
		snippets, err = c.querySocial(ctx, text, f, limit)
	case governance.CorpusPublished:
		snippets, err = c.queryPublished(ctx, text, f, limit)
	}
	if err != nil {
		// Fail closed: degraded context beats a dead pipeline.
		c.logger.Warn("corpus query failed, returning empty result", zap.Error(err))
		return Result{Corpus: c.corpus}
	}

	res := Result{Corpus: c.corpus, Snippets: snippets}
	if raw, err := json.Marshal(res); err == nil {
		_ = c.cache.SetWithTTL(ctx, key, raw, c.ttl)
	}
	return res
}

var matchTokenRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// ftsMatchExpr turns free text into a safe fts5 OR-query. Returns empty
// when the text has no indexable tokens.
func ftsMatchExpr(text string) string {
	tokens := matchTokenRe.FindAllString(text, 12)
	if len(tokens) == 0 {
		return ""
	}
	for i, tok := range tokens {
		tokens[i] = `"` + tok + `"`
	}
	return strings.Join(tokens, " OR ")
}

// trim cuts text to the corpus character budget, substituting an
// ellipsis on truncation.
func (c *Connector) trim(text string) string {
	runes := []rune(text)
	if len(runes) <= c.budget {
		return text
	}
	if c.budget <= 3 {
		return string(runes[:c.budget])
	}
	return string(runes[:c.budget-3]) + "..."
}

// engagementBonus is log-scaled so viral posts do not drown the text
// score.
func engagementBonus(engagement int) float64 {
	if engagement <= 0 {
		return 0
	}
	return engagementBonusWeight * math.Log1p(float64(engagement))
}

func authorityBonus(score float64) float64 {
	return authorityBonusWeight * score
}

func decodeTags(raw string) []string {
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}
