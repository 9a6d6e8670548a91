package pipeline

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/dansasser/multi-corpus-governance-agent/internal/contextpack"
	"github.com/dansasser/multi-corpus-governance-agent/internal/governance"
	"github.com/dansasser/multi-corpus-governance-agent/internal/provider"
)

// ChangeLogEntry records one content modification made by the Critic or
// the Revisor.
type ChangeLogEntry struct {
	ChangeID     string        `json:"change_id"`
	OriginalText string        `json:"original_text"`
	RevisedText  string        `json:"revised_text"`
	Reason       string        `json:"reason"`
	AppliedBy    string        `json:"applied_by"`
	Rules        []string      `json:"rules,omitempty"`
	ProviderInfo provider.Info `json:"provider_info,omitempty"`
}

// Change reasons recorded in the log.
const (
	ReasonPunctuationNormalization = "punctuation_normalization"
	ReasonCriticRevision           = "critic_revision"
)

// NormalizationNote is the Summarizer's record of the final
// deterministic pass.
type NormalizationNote struct {
	Applied      bool          `json:"applied"`
	Rules        []string      `json:"rules,omitempty"`
	ProviderInfo provider.Info `json:"provider_info,omitempty"`
}

// TokenStats is a coarse whitespace-token accounting of the prompt and
// the final output.
type TokenStats struct {
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Scores carries the Critic's validation verdicts. Under pass-through
// semantics they report what was checked, not a model judgment.
type Scores struct {
	Truth  float64 `json:"truth"`
	Safety float64 `json:"safety"`
	Voice  float64 `json:"voice"`
}

// Bundle is the final metadata record emitted once per task. It grows
// monotonically across stages; no stage removes what an earlier stage
// wrote.
type Bundle struct {
	TaskID       string                          `json:"task_id"`
	Role         governance.Stage                `json:"role"`
	InputSources []string                        `json:"input_sources"`
	Attribution  []contextpack.AttributionRecord `json:"attribution"`
	ToneFlags    []string                        `json:"tone_flags,omitempty"`
	Scores       Scores                          `json:"scores"`
	ChangeLog    []ChangeLogEntry                `json:"change_log"`

	LongTailKeywords []string   `json:"long_tail_keywords,omitempty"`
	TokenStats       TokenStats `json:"token_stats"`
	TrimmedSections  []string   `json:"trimmed_sections,omitempty"`
	FinalOutput      string     `json:"final_output"`

	PunctuationNormalization NormalizationNote   `json:"punctuation_normalization"`
	Governance               *governance.Summary `json:"governance,omitempty"`
}

// newBundle starts the bundle with the user's prompt attributed.
func newBundle(taskID, prompt string) *Bundle {
	return &Bundle{
		TaskID:    taskID,
		ChangeLog: []ChangeLogEntry{},
		Attribution: []contextpack.AttributionRecord{
			contextpack.NewAttribution(contextpack.SourceUserInput, "", prompt, governance.StageIdeator, taskID),
		},
		TokenStats: TokenStats{PromptTokens: countTokens(prompt)},
	}
}

func (b *Bundle) appendChange(stage governance.Stage, reason, original, revised string, rules []string, info provider.Info) {
	b.ChangeLog = append(b.ChangeLog, ChangeLogEntry{
		ChangeID:     uuid.NewString(),
		OriginalText: original,
		RevisedText:  revised,
		Reason:       reason,
		AppliedBy:    string(stage),
		Rules:        rules,
		ProviderInfo: info,
	})
}

func countTokens(text string) int {
	return len(strings.Fields(text))
}

// longTailKeywords extracts the distinct longer terms of the output,
// lowercased and sorted, capped at eight.
func longTailKeywords(text string) []string {
	seen := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(field, `.,;:!?"'()[]`)
		if len(word) < 8 {
			continue
		}
		seen[word] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	if len(out) > 8 {
		out = out[:8]
	}
	return out
}
