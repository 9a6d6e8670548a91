package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/dansasser/multi-corpus-governance-agent/internal/audit"
	"github.com/dansasser/multi-corpus-governance-agent/internal/governance"
)

func newTestWrapper(t *testing.T, opts ...WrapperOption) (*Wrapper, *governance.Enforcer, *audit.MemorySink) {
	t.Helper()
	enforcer := governance.NewEnforcer(
		governance.NewCatalog(),
		governance.NewCallTracker(),
		governance.NewViolationLog(),
		nil, nil)
	sink := audit.NewMemorySink()
	w := NewWrapper(NewRegistry(), enforcer, audit.NewTrail(sink, nil), nil, opts...)
	return w, enforcer, sink
}

func echoTool(name string) *Tool {
	return &Tool{
		Name: name,
		Execute: func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	}
}

func invokeCtx(stage governance.Stage) context.Context {
	return WithInvocation(context.Background(), Invocation{
		TaskID:         "task-1",
		Stage:          stage,
		Classification: "writing",
	})
}

func TestInvokeRequiresInvocationContext(t *testing.T) {
	w, _, _ := newTestWrapper(t)
	w.Registry().MustRegister(echoTool("echo"))

	_, err := w.Invoke(context.Background(), "echo", map[string]any{"text": "hi"})
	if !errors.Is(err, ErrNoInvocationContext) {
		t.Fatalf("expected ErrNoInvocationContext, got %v", err)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	w, _, _ := newTestWrapper(t)
	_, err := w.Invoke(invokeCtx(governance.StageIdeator), "nope", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestInvokeSearchToolAllowed(t *testing.T) {
	w, enforcer, _ := newTestWrapper(t)
	w.Registry().MustRegister(NewSearchTool(governance.CorpusPersonal,
		func(context.Context, map[string]any) (any, error) {
			return []string{"snippet"}, nil
		}))

	enforcer.BeginTask("task-1", "user-1", "writing")
	got, err := w.Invoke(invokeCtx(governance.StageIdeator), "search_personal",
		map[string]any{"query": "leadership"})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if len(got.([]string)) != 1 {
		t.Fatalf("unexpected result: %v", got)
	}
	if n := len(enforcer.Violations("task-1")); n != 0 {
		t.Fatalf("expected no violations, got %d", n)
	}
}

func TestInvokeDeniesCorpusOutsideStageAccess(t *testing.T) {
	w, enforcer, sink := newTestWrapper(t)
	w.Registry().MustRegister(NewSearchTool(governance.CorpusPersonal,
		func(context.Context, map[string]any) (any, error) {
			t.Fatal("execute must not run after a denial")
			return nil, nil
		}))

	enforcer.BeginTask("task-1", "user-1", "writing")
	// The Drafter holds social and published only.
	_, err := w.Invoke(invokeCtx(governance.StageDrafter), "search_personal",
		map[string]any{"query": "tone"})

	var denied *governance.UnauthorizedCorpusError
	if !errors.As(err, &denied) {
		t.Fatalf("expected UnauthorizedCorpusError, got %v", err)
	}
	if denied.Corpus != governance.CorpusPersonal {
		t.Fatalf("wrong corpus in error: %s", denied.Corpus)
	}

	violations := enforcer.Violations("task-1")
	if len(violations) != 1 || violations[0].Kind != governance.KindUnauthorizedCorpusAccess {
		t.Fatalf("unexpected violations: %+v", violations)
	}

	found := false
	for _, ev := range sink.Events() {
		if ev.Kind == audit.EventGovernanceViolation {
			found = true
		}
	}
	if !found {
		t.Fatal("denial not audited")
	}
}

func TestInvokeDeniesCorpusOutsideToolBinding(t *testing.T) {
	w, enforcer, _ := newTestWrapper(t)
	w.Registry().MustRegister(NewSearchTool(governance.CorpusPersonal,
		func(context.Context, map[string]any) (any, error) { return "x", nil }))

	enforcer.BeginTask("task-1", "user-1", "writing")
	// Explicit corpus argument naming a corpus the tool is not bound to.
	_, err := w.Invoke(invokeCtx(governance.StageIdeator), "search_personal",
		map[string]any{"query": "tone", "corpus": "social"})

	var denied *governance.UnauthorizedCorpusError
	if !errors.As(err, &denied) {
		t.Fatalf("expected UnauthorizedCorpusError, got %v", err)
	}
	if denied.Corpus != governance.CorpusSocial {
		t.Fatalf("wrong corpus in error: %s", denied.Corpus)
	}
}

func TestInvokeModelCallConsumesBudget(t *testing.T) {
	w, enforcer, _ := newTestWrapper(t)
	w.Registry().MustRegister(NewModelCallTool(
		func(context.Context, map[string]any) (any, error) { return "draft", nil }))

	enforcer.BeginTask("task-1", "user-1", "writing")
	ctx := invokeCtx(governance.StageDrafter)

	// The Drafter's budget is one call.
	if _, err := w.Invoke(ctx, ToolCallExternalModel, nil); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	_, err := w.Invoke(ctx, ToolCallExternalModel, nil)
	var limit *governance.APICallLimitError
	if !errors.As(err, &limit) {
		t.Fatalf("expected APICallLimitError, got %v", err)
	}
	if limit.Max != 1 || limit.Attempted != 2 {
		t.Fatalf("unexpected limit error: %+v", limit)
	}
}

func TestInvokeRetrievalCriticOnly(t *testing.T) {
	w, enforcer, _ := newTestWrapper(t)
	w.Registry().MustRegister(NewRetrievalTool(
		func(context.Context, map[string]any) (any, error) { return "facts", nil }))

	enforcer.BeginTask("task-1", "user-1", "writing")

	if _, err := w.Invoke(invokeCtx(governance.StageCritic), ToolCallRetrieval,
		map[string]any{"query": "claim"}); err != nil {
		t.Fatalf("critic retrieval failed: %v", err)
	}

	_, err := w.Invoke(invokeCtx(governance.StageDrafter), ToolCallRetrieval,
		map[string]any{"query": "claim"})
	var denied *governance.UnauthorizedRetrievalError
	if !errors.As(err, &denied) {
		t.Fatalf("expected UnauthorizedRetrievalError, got %v", err)
	}
}

func TestInvokeRejectsEmptyResult(t *testing.T) {
	w, enforcer, _ := newTestWrapper(t)
	w.Registry().MustRegister(&Tool{
		Name: "blank",
		Execute: func(context.Context, map[string]any) (any, error) {
			return "   ", nil
		},
	})

	enforcer.BeginTask("task-1", "user-1", "writing")
	_, err := w.Invoke(invokeCtx(governance.StageIdeator), "blank", nil)
	if !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
}

func TestInvokeTransformerGatedTool(t *testing.T) {
	up := false
	w, enforcer, _ := newTestWrapper(t, WithTransformerAvailability(func() bool { return up }))
	w.Registry().MustRegister(&Tool{
		Name: "finalize_summary",
		Policy: Policy{
			RequiredPermissions:        []string{governance.PermFinalSummarization},
			RequiresTransformerPrimary: true,
		},
		Execute: func(context.Context, map[string]any) (any, error) { return "done", nil },
	})

	enforcer.BeginTask("task-1", "user-1", "writing")
	ctx := invokeCtx(governance.StageSummarizer)

	_, err := w.Invoke(ctx, "finalize_summary", nil)
	var required *governance.TransformerRequiredError
	if !errors.As(err, &required) {
		t.Fatalf("expected TransformerRequiredError, got %v", err)
	}

	up = true
	if _, err := w.Invoke(ctx, "finalize_summary", nil); err != nil {
		t.Fatalf("invoke with transformer up failed: %v", err)
	}
}
