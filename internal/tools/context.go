package tools

import (
	"context"

	"github.com/dansasser/multi-corpus-governance-agent/internal/governance"
)

// Invocation is the ambient run context the wrapper reads on every tool
// call: which task and stage are executing. The driver binds it at
// stage entry; nothing uses mutable globals.
type Invocation struct {
	TaskID         string
	Stage          governance.Stage
	Classification string
}

type invocationKey struct{}

// WithInvocation binds the invocation context for a stage's tool calls.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom extracts the bound invocation context.
func InvocationFrom(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}
