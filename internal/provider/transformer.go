package provider

import (
	"context"
	"errors"

	"github.com/dansasser/multi-corpus-governance-agent/internal/transform"
)

// TransformerMode selects the deterministic transformer behavior.
type TransformerMode string

const (
	// ModePunctuationOnly runs the punctuation normalization rules.
	ModePunctuationOnly TransformerMode = "punctuation_only"

	// ModeNoop passes text through unchanged.
	ModeNoop TransformerMode = "noop"

	// ModeHTTP is a placeholder for a remote transformer service. It is
	// currently inert: a transformer in this mode reports itself
	// unavailable, which forces the required-transformer governance
	// path.
	ModeHTTP TransformerMode = "http"
)

// Transformer is the internal provider for stages that must run without
// external model calls. Revise and Summarize both apply the
// deterministic rules; Generate is unsupported.
type Transformer struct {
	mode   TransformerMode
	policy transform.Policy
}

// NewTransformer builds the transformer-only provider.
func NewTransformer(mode TransformerMode, policy transform.Policy) *Transformer {
	if mode == "" {
		mode = ModePunctuationOnly
	}
	return &Transformer{mode: mode, policy: policy}
}

// Name implements Provider.
func (t *Transformer) Name() string { return "deterministic_transformer" }

// Mode returns the configured mode.
func (t *Transformer) Mode() TransformerMode { return t.mode }

// Available reports whether the transformer can serve revise and
// summarize calls.
func (t *Transformer) Available() bool {
	return t.mode == ModePunctuationOnly || t.mode == ModeNoop
}

// Generate implements Provider. The transformer cannot produce new text.
func (t *Transformer) Generate(_ context.Context, _ string, _ map[string]any) (string, Info, error) {
	info := Info{Provider: t.Name(), Operation: OpGenerate}
	return "", info, &Error{Provider: t.Name(), Operation: OpGenerate, Err: errors.New("deterministic transformer cannot generate text")}
}

// Revise implements Provider.
func (t *Transformer) Revise(_ context.Context, text string, _ map[string]any) (string, Info, error) {
	return t.apply(OpRevise, text)
}

// Summarize implements Provider. Compression is not attempted: the
// transformer guarantees only normalization, and a faithful no-op beats
// a lossy heuristic.
func (t *Transformer) Summarize(_ context.Context, text string, _ map[string]any) (string, Info, error) {
	return t.apply(OpSummarize, text)
}

func (t *Transformer) apply(op, text string) (string, Info, error) {
	info := Info{Provider: t.Name(), Operation: op}
	switch t.mode {
	case ModeNoop:
		return text, info, nil
	case ModeHTTP:
		return "", info, &Error{Provider: t.Name(), Operation: op, Err: errors.New("http transformer mode is not implemented")}
	default:
		out, rules := transform.Apply(text, t.policy)
		info.AppliedRules = rules
		return out, info, nil
	}
}
