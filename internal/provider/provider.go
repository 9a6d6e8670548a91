// Package provider abstracts the external text generator behind a
// three-operation contract. The chat implementation talks to a
// chat-completions HTTP endpoint; the transformer implementation runs
// the deterministic punctuation normalizer so stages forbidden from
// external calls can still revise and summarize.
package provider

import (
	"context"
	"fmt"
)

// Info attributes every transformation for the audit trail.
type Info struct {
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	Operation    string   `json:"operation"`
	AppliedRules []string `json:"applied_rules,omitempty"`
}

// Operation labels carried in Info.
const (
	OpGenerate  = "generate"
	OpRevise    = "revise"
	OpSummarize = "summarize"
)

// Provider is the external generator contract. Implementations must be
// safe for concurrent use.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, params map[string]any) (string, Info, error)
	Revise(ctx context.Context, text string, meta map[string]any) (string, Info, error)
	Summarize(ctx context.Context, text string, meta map[string]any) (string, Info, error)
}

// Error wraps a provider failure: HTTP error, timeout, or response
// schema mismatch.
type Error struct {
	Provider   string
	Operation  string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s %s failed: status %d: %v", e.Provider, e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s %s failed: %v", e.Provider, e.Operation, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
