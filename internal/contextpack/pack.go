// Package contextpack defines the attributed snippet sequence threaded
// through the pipeline: snippets gathered once per task by the context
// assembler, attribution records binding content to its origin, and the
// pack container whose contents are frozen after the Ideator stage.
package contextpack

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/dansasser/multi-corpus-governance-agent/internal/governance"
)

// Origin labels where a snippet's text came from.
type Origin string

const (
	OriginPersonal  Origin = "personal"
	OriginSocial    Origin = "social"
	OriginPublished Origin = "published"
	OriginExternal  Origin = "external"
)

// Snippet is one attributed piece of context. Snippets are value types;
// once inside a pack they are never mutated.
type Snippet struct {
	Text        string    `json:"text"`
	Origin      Origin    `json:"origin"`
	Date        time.Time `json:"date"`
	Tags        []string  `json:"tags,omitempty"`
	VoiceTerms  []string  `json:"voice_terms,omitempty"`
	Attribution string    `json:"attribution"`
	Notes       string    `json:"notes,omitempty"`
}

// Scores carries optional pack-level aggregates.
type Scores struct {
	CoverageScore float64 `json:"coverage_score"`
	ToneScore     float64 `json:"tone_score"`
	DiversityOK   bool    `json:"diversity_ok"`
}

// Pack is the ordered snippet sequence for one task. It is built by the
// assembler during the Ideator stage, sealed, then passed by reference
// through the remaining stages. Append after sealing is ignored: only
// the assembler may grow a pack, and only before the Ideator completes.
type Pack struct {
	snippets []Snippet
	sealed   bool

	Scores Scores
}

// New returns an empty, unsealed pack.
func New() *Pack {
	return &Pack{}
}

// Append adds snippets preserving insertion order. Returns whether the
// snippets were accepted (false once sealed).
func (p *Pack) Append(snippets ...Snippet) bool {
	if p.sealed {
		return false
	}
	p.snippets = append(p.snippets, snippets...)
	return true
}

// Seal freezes the pack. Called by the driver at Ideator exit.
func (p *Pack) Seal() { p.sealed = true }

// Sealed reports whether the pack is frozen.
func (p *Pack) Sealed() bool { return p.sealed }

// Len returns the snippet count.
func (p *Pack) Len() int { return len(p.snippets) }

// Snippets returns the snippets in insertion order. The slice is a copy;
// the snippets themselves are immutable values.
func (p *Pack) Snippets() []Snippet {
	return append([]Snippet(nil), p.snippets...)
}

// AttributionRecord immutably binds produced or consumed content to its
// source.
type AttributionRecord struct {
	AttributionID  string           `json:"attribution_id"`
	SourceType     string           `json:"source_type"` // corpus, retrieval, generated, user_input
	SourceID       string           `json:"source_id,omitempty"`
	ContentHash    string           `json:"content_hash"`
	ProducingStage governance.Stage `json:"producing_stage"`
	TaskID         string           `json:"task_id"`
	Timestamp      time.Time        `json:"timestamp"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
}

// Source types for attribution records.
const (
	SourceCorpus    = "corpus"
	SourceRetrieval = "retrieval"
	SourceGenerated = "generated"
	SourceUserInput = "user_input"
)

// NewAttribution builds a record for content produced or consumed by a
// stage. The content hash is the hex SHA-256 of the text.
func NewAttribution(sourceType, sourceID, content string, stage governance.Stage, taskID string) AttributionRecord {
	sum := sha256.Sum256([]byte(content))
	return AttributionRecord{
		AttributionID:  uuid.NewString(),
		SourceType:     sourceType,
		SourceID:       sourceID,
		ContentHash:    hex.EncodeToString(sum[:]),
		ProducingStage: stage,
		TaskID:         taskID,
		Timestamp:      time.Now().UTC(),
	}
}
