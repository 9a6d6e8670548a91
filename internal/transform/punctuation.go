// Package transform implements the deterministic text transformer used by
// the Revisor and Summarizer stages. Every rule is pure string rewriting:
// no I/O, no randomness, no model calls. The rule order is fixed and load
// bearing; applying the transformer twice must equal applying it once.
package transform

import (
	"regexp"
	"strings"
)

// Rule names reported to the audit trail and change log.
const (
	RuleNormalizeQuotes       = "normalize_quotes"
	RuleNormalizeEllipsis     = "normalize_ellipsis"
	RuleCollapseTerminators   = "collapse_repeated_terminators"
	RuleSpaceAfterPunctuation = "enforce_space_after_punctuation"
	RuleCapExclamations       = "cap_exclamation_density"
)

// Policy toggles individual rules. The zero value disables everything;
// use DefaultPolicy for the standard punctuation_only behavior.
type Policy struct {
	NormalizeQuotes       bool
	NormalizeEllipsis     bool
	CollapseTerminators   bool
	SpaceAfterPunctuation bool
	CapExclamations       bool

	// MaxExclamationsPer100Words caps exclamation density. Excess '!'
	// characters are demoted to '.' starting from the last occurrence.
	MaxExclamationsPer100Words int
}

// DefaultPolicy enables all five rules with an exclamation cap of 2 per
// 100 words.
func DefaultPolicy() Policy {
	return Policy{
		NormalizeQuotes:            true,
		NormalizeEllipsis:          true,
		CollapseTerminators:        true,
		SpaceAfterPunctuation:      true,
		CapExclamations:            true,
		MaxExclamationsPer100Words: 2,
	}
}

var (
	quoteReplacer = strings.NewReplacer(
		"“", `"`, // left double curly
		"”", `"`, // right double curly
		"„", `"`, // low double
		"‘", "'", // left single curly
		"’", "'", // right single curly
		"‚", "'", // low single
	)
	manyDotsRe    = regexp.MustCompile(`\.{3,}`)
	terminatorRe  = regexp.MustCompile(`[!?]{2,}`)
	punctLetterRe = regexp.MustCompile(`([.!?])(\p{L})`)
)

// Apply runs the enabled rules in their fixed order and returns the
// rewritten text plus the names of the rules that ran. Callers decide
// whether anything changed by comparing input and output.
func Apply(text string, p Policy) (string, []string) {
	var applied []string

	if p.NormalizeQuotes {
		text = quoteReplacer.Replace(text)
		applied = append(applied, RuleNormalizeQuotes)
	}
	if p.NormalizeEllipsis {
		text = strings.ReplaceAll(text, "…", "...")
		text = manyDotsRe.ReplaceAllString(text, "...")
		applied = append(applied, RuleNormalizeEllipsis)
	}
	if p.CollapseTerminators {
		text = terminatorRe.ReplaceAllStringFunc(text, collapseRun)
		applied = append(applied, RuleCollapseTerminators)
	}
	if p.SpaceAfterPunctuation {
		text = punctLetterRe.ReplaceAllString(text, "$1 $2")
		applied = append(applied, RuleSpaceAfterPunctuation)
	}
	if p.CapExclamations {
		text = capExclamations(text, p.MaxExclamationsPer100Words)
		applied = append(applied, RuleCapExclamations)
	}

	return text, applied
}

// collapseRun reduces a run of terminators to at most two characters.
// Uniform runs keep a single character; mixed runs keep the first
// character's class followed by the other.
func collapseRun(run string) string {
	bang := strings.Contains(run, "!")
	quest := strings.Contains(run, "?")
	switch {
	case bang && quest:
		if run[0] == '!' {
			return "!?"
		}
		return "?!"
	case bang:
		return "!"
	default:
		return "?"
	}
}

// capExclamations demotes excess '!' to '.', scanning from the end of the
// text so earlier emphasis survives. Demotion can join an existing
// ellipsis into a 4+ dot run, so dots are re-collapsed afterward to keep
// the transform idempotent.
func capExclamations(text string, maxPer100 int) string {
	if maxPer100 <= 0 {
		maxPer100 = 2
	}
	words := len(strings.Fields(text))
	if words == 0 {
		return text
	}
	allowed := maxPer100 * ((words + 99) / 100)
	count := strings.Count(text, "!")
	if count <= allowed {
		return text
	}

	excess := count - allowed
	b := []byte(text)
	for i := len(b) - 1; i >= 0 && excess > 0; i-- {
		if b[i] == '!' {
			b[i] = '.'
			excess--
		}
	}
	return manyDotsRe.ReplaceAllString(string(b), "...")
}
