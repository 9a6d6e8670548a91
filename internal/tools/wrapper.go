package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dansasser/multi-corpus-governance-agent/internal/audit"
	"github.com/dansasser/multi-corpus-governance-agent/internal/governance"
)

// Wrapper is the single call path from a stage to any tool. It resolves
// the ambient invocation context, walks the enforcement sequence for
// the tool's policy, audits the execution, and validates the output.
// Governance denials surface as typed governance errors; the matching
// violation record is written before the error returns.
type Wrapper struct {
	registry *Registry
	enforcer *governance.Enforcer
	trail    *audit.Trail
	logger   *zap.Logger

	// transformerUp reports live transformer availability for tools
	// whose policy demands transformer-primary execution. Nil means
	// unavailable.
	transformerUp func() bool
}

// WrapperOption customizes a Wrapper.
type WrapperOption func(*Wrapper)

// WithTransformerAvailability wires the availability probe used for
// transformer-gated tools.
func WithTransformerAvailability(up func() bool) WrapperOption {
	return func(w *Wrapper) { w.transformerUp = up }
}

// NewWrapper builds the governed tool wrapper.
func NewWrapper(registry *Registry, enforcer *governance.Enforcer, trail *audit.Trail, logger *zap.Logger, opts ...WrapperOption) *Wrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Wrapper{
		registry: registry,
		enforcer: enforcer,
		trail:    trail,
		logger:   logger.Named("tools"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Registry exposes the wrapped registry for startup wiring.
func (w *Wrapper) Registry() *Registry { return w.registry }

// Invoke runs one governed tool call. The full enforcement sequence
// runs before the tool executes; any denial aborts the call with the
// violation already recorded.
func (w *Wrapper) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	inv, ok := InvocationFrom(ctx)
	if !ok {
		return nil, ErrNoInvocationContext
	}

	tool := w.registry.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	if err := w.enforce(inv, tool, args); err != nil {
		w.trail.GovernanceViolation(inv.TaskID, inv.Stage, violationKind(err), map[string]any{
			"tool": tool.Name,
		})
		return nil, err
	}

	w.trail.ToolExecutionStart(inv.TaskID, inv.Stage, tool.Name)
	start := time.Now()

	result, err := tool.Execute(ctx, args)
	elapsed := time.Since(start)

	if err == nil {
		err = validateResult(tool.Name, result)
	}
	if err != nil {
		w.trail.ToolExecutionError(inv.TaskID, inv.Stage, tool.Name, elapsed, err)
		w.logger.Warn("tool execution failed",
			zap.String("tool", tool.Name),
			zap.String("task_id", inv.TaskID),
			zap.String("stage", string(inv.Stage)),
			zap.Error(err))
		return nil, err
	}

	w.trail.ToolExecutionSuccess(inv.TaskID, inv.Stage, tool.Name, elapsed)
	return result, nil
}

// enforce walks the policy checks in order: stage permissions, corpus
// binding and access, retrieval access, call budget, transformer
// requirement. The first denial wins.
func (w *Wrapper) enforce(inv Invocation, tool *Tool, args map[string]any) error {
	pol := tool.Policy

	if err := w.enforcer.ValidateStagePermissions(inv.Stage, pol.RequiredPermissions, inv.TaskID); err != nil {
		return err
	}

	if len(pol.AllowedCorpora) > 0 {
		corpus, ok := corpusFromArgs(args)
		if !ok {
			// A corpus-bound tool defaults to its sole binding.
			if len(pol.AllowedCorpora) != 1 {
				return fmt.Errorf("tool %s: corpus argument required", tool.Name)
			}
			corpus = pol.AllowedCorpora[0]
		}
		if !corpusAllowed(pol.AllowedCorpora, corpus) {
			w.enforcer.RecordViolation(inv.TaskID, inv.Stage, governance.KindUnauthorizedCorpusAccess, map[string]any{
				"tool":            tool.Name,
				"corpus":          string(corpus),
				"allowed_corpora": pol.AllowedCorpora,
			})
			return &governance.UnauthorizedCorpusError{
				Stage:   inv.Stage,
				TaskID:  inv.TaskID,
				Corpus:  corpus,
				Allowed: append([]governance.Corpus(nil), pol.AllowedCorpora...),
			}
		}
		if err := w.enforcer.ValidateCorpusAccess(inv.Stage, corpus, inv.TaskID); err != nil {
			return err
		}
	}

	if pol.RequiresRetrieval {
		if err := w.enforcer.ValidateRetrievalAccess(inv.Stage, inv.TaskID); err != nil {
			return err
		}
	}

	if pol.MaxCallsPerTask > 0 {
		if err := w.enforcer.ValidateAPICall(inv.Stage, inv.TaskID); err != nil {
			return err
		}
	}

	if pol.RequiresTransformerPrimary {
		available := w.transformerUp != nil && w.transformerUp()
		if _, err := w.enforcer.ValidateTransformerRequirement(inv.Stage, inv.TaskID, available); err != nil {
			return err
		}
	}

	return nil
}

// corpusFromArgs resolves the corpus a tool call targets. Explicit
// "corpus" or "corpus_type" arguments win; otherwise any string value
// naming a known corpus is taken.
func corpusFromArgs(args map[string]any) (governance.Corpus, bool) {
	for _, key := range []string{"corpus", "corpus_type"} {
		if raw, ok := args[key]; ok {
			if s, ok := raw.(string); ok {
				if c, ok := governance.ParseCorpus(s); ok {
					return c, true
				}
			}
		}
	}
	for _, raw := range args {
		if s, ok := raw.(string); ok {
			if c, ok := governance.ParseCorpus(s); ok {
				return c, true
			}
		}
	}
	return "", false
}

func corpusAllowed(allowed []governance.Corpus, corpus governance.Corpus) bool {
	for _, c := range allowed {
		if c == corpus {
			return true
		}
	}
	return false
}

// validateResult rejects nil and blank-string tool outputs.
func validateResult(name string, result any) error {
	if result == nil {
		return fmt.Errorf("%w: %s", ErrNoResult, name)
	}
	if s, ok := result.(string); ok && strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrNoResult, name)
	}
	return nil
}

func violationKind(err error) string {
	if kind, ok := governance.KindOf(err); ok {
		return kind
	}
	return "error"
}
