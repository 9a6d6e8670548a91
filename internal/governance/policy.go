package governance

import (
	"fmt"

	"github.com/dansasser/multi-corpus-governance-agent/internal/transform"
)

// StagePermissions is the immutable capability record for one stage.
type StagePermissions struct {
	// MaxAPICalls is the external model call ceiling per task.
	MaxAPICalls int

	// CorpusAccess lists the corpora the stage may query.
	CorpusAccess []Corpus

	// RetrievalAccess grants the external retrieval endpoint.
	RetrievalAccess bool

	// Transformer flags. Required implies Access; Preferred implies Access.
	TransformerAccess    bool
	TransformerPreferred bool
	TransformerRequired  bool
}

// AllowsCorpus reports whether c is in the stage's access set.
func (p StagePermissions) AllowsCorpus(c Corpus) bool {
	for _, v := range p.CorpusAccess {
		if v == c {
			return true
		}
	}
	return false
}

// DefaultCorpusRateLimit is the per-minute ceiling on corpus queries for
// one (task, stage, corpus) combination.
const DefaultCorpusRateLimit = 10

// defaultReviseTemplate is the fixed instruction used by the Ideator's
// revise-on-failure path.
const defaultReviseTemplate = "Revise the following text for clarity while preserving its meaning and voice. Return only the revised text.\n\n%s"

// Catalog is the static policy source of truth: per-stage permissions,
// stage order, punctuation policy, and corpus rate limits. It is read-only
// after construction and safe for concurrent use.
type Catalog struct {
	perms          map[Stage]StagePermissions
	order          []Stage
	punctuation    transform.Policy
	reviseTemplate string
	rateLimit      int
	rateOverrides  map[Corpus]int
}

// CatalogOption adjusts catalog construction.
type CatalogOption func(*Catalog)

// WithPunctuationPolicy replaces the default punctuation policy.
func WithPunctuationPolicy(p transform.Policy) CatalogOption {
	return func(c *Catalog) { c.punctuation = p }
}

// WithCorpusRateLimit sets the default per-minute corpus query ceiling.
func WithCorpusRateLimit(n int) CatalogOption {
	return func(c *Catalog) {
		if n > 0 {
			c.rateLimit = n
		}
	}
}

// WithCorpusRateOverride sets a per-corpus rate limit above or below the
// default.
func WithCorpusRateOverride(corpus Corpus, n int) CatalogOption {
	return func(c *Catalog) {
		if n > 0 {
			c.rateOverrides[corpus] = n
		}
	}
}

// NewCatalog builds the catalog with the canonical permission table:
//
//	Ideator     2 calls, all corpora, no retrieval, transformer allowed
//	Drafter     1 call, social+published, no retrieval, transformer allowed
//	Critic      2 calls, all corpora, retrieval, transformer allowed
//	Revisor     1 call (fallback only), no corpora, transformer preferred
//	Summarizer  0 calls (emergency only), no corpora, transformer required
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		perms: map[Stage]StagePermissions{
			StageIdeator: {
				MaxAPICalls:       2,
				CorpusAccess:      []Corpus{CorpusPersonal, CorpusSocial, CorpusPublished},
				TransformerAccess: true,
			},
			StageDrafter: {
				MaxAPICalls:       1,
				CorpusAccess:      []Corpus{CorpusSocial, CorpusPublished},
				TransformerAccess: true,
			},
			StageCritic: {
				MaxAPICalls:       2,
				CorpusAccess:      []Corpus{CorpusPersonal, CorpusSocial, CorpusPublished},
				RetrievalAccess:   true,
				TransformerAccess: true,
			},
			StageRevisor: {
				MaxAPICalls:          1,
				TransformerAccess:    true,
				TransformerPreferred: true,
			},
			StageSummarizer: {
				MaxAPICalls:         0,
				TransformerAccess:   true,
				TransformerRequired: true,
			},
		},
		order:          append([]Stage(nil), stageOrder...),
		punctuation:    transform.DefaultPolicy(),
		reviseTemplate: defaultReviseTemplate,
		rateLimit:      DefaultCorpusRateLimit,
		rateOverrides:  make(map[Corpus]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	for s, p := range c.perms {
		if (p.TransformerRequired || p.TransformerPreferred) && !p.TransformerAccess {
			panic(fmt.Sprintf("catalog invariant broken for stage %s: transformer required/preferred without access", s))
		}
	}
	return c
}

// PermissionsFor returns the permission record for stage.
func (c *Catalog) PermissionsFor(s Stage) (StagePermissions, bool) {
	p, ok := c.perms[s]
	return p, ok
}

// StagesInOrder returns the pipeline sequence. The returned slice is a
// copy; callers may not mutate catalog state.
func (c *Catalog) StagesInOrder() []Stage {
	return append([]Stage(nil), c.order...)
}

// RetrievalStages returns the stages holding retrieval access, in
// pipeline order.
func (c *Catalog) RetrievalStages() []Stage {
	var out []Stage
	for _, s := range c.order {
		if c.perms[s].RetrievalAccess {
			out = append(out, s)
		}
	}
	return out
}

// PunctuationPolicy returns the deterministic transformer policy.
func (c *Catalog) PunctuationPolicy() transform.Policy {
	return c.punctuation
}

// ReviseCallTemplate returns the fixed revise instruction template.
func (c *Catalog) ReviseCallTemplate() string {
	return c.reviseTemplate
}

// CorpusRateLimit returns the per-minute query ceiling for a corpus.
func (c *Catalog) CorpusRateLimit(corpus Corpus) int {
	if n, ok := c.rateOverrides[corpus]; ok {
		return n
	}
	return c.rateLimit
}
