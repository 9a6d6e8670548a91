package contextpack

import (
	"context"
	"testing"
	"time"

	"github.com/dansasser/multi-corpus-governance-agent/internal/audit"
	"github.com/dansasser/multi-corpus-governance-agent/internal/governance"
	"github.com/dansasser/multi-corpus-governance-agent/internal/tools"
)

func fakeSearchTool(corpus governance.Corpus, texts ...string) *tools.Tool {
	return tools.NewSearchTool(corpus, func(_ context.Context, args map[string]any) (any, error) {
		snippets := make([]Snippet, 0, len(texts))
		for i, text := range texts {
			snippets = append(snippets, Snippet{
				Text:        text,
				Origin:      Origin(corpus),
				Date:        time.Date(2025, 3, 1+i, 0, 0, 0, 0, time.UTC),
				Attribution: string(corpus) + ":row:1",
			})
		}
		return snippets, nil
	})
}

func newAssemblerFixture(t *testing.T) (*Assembler, *governance.Enforcer) {
	t.Helper()
	enforcer := governance.NewEnforcer(
		governance.NewCatalog(),
		governance.NewCallTracker(),
		governance.NewViolationLog(),
		nil, nil)
	registry := tools.NewRegistry()
	registry.MustRegister(fakeSearchTool(governance.CorpusPersonal, "email excerpt"))
	registry.MustRegister(fakeSearchTool(governance.CorpusSocial, "post one", "post two"))
	registry.MustRegister(fakeSearchTool(governance.CorpusPublished, "article excerpt"))

	wrapper := tools.NewWrapper(registry, enforcer, audit.NewTrail(audit.NewMemorySink(), nil), nil)
	return NewAssembler(wrapper, nil), enforcer
}

func TestAssembleOrdersByCorpus(t *testing.T) {
	asm, enforcer := newAssemblerFixture(t)
	enforcer.BeginTask("task-1", "user-1", "writing")

	ctx := tools.WithInvocation(context.Background(), tools.Invocation{
		TaskID: "task-1",
		Stage:  governance.StageIdeator,
	})
	pack, records, err := asm.Assemble(ctx, "task-1", "leadership lessons")
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	snippets := pack.Snippets()
	wantOrigins := []Origin{OriginPersonal, OriginSocial, OriginSocial, OriginPublished}
	if len(snippets) != len(wantOrigins) {
		t.Fatalf("snippet count = %d, want %d", len(snippets), len(wantOrigins))
	}
	for i, want := range wantOrigins {
		if snippets[i].Origin != want {
			t.Fatalf("snippet[%d].Origin = %s, want %s", i, snippets[i].Origin, want)
		}
	}

	if len(records) != len(snippets) {
		t.Fatalf("attribution count = %d, want %d", len(records), len(snippets))
	}
	for i, rec := range records {
		if rec.SourceType != SourceCorpus {
			t.Fatalf("record[%d].SourceType = %s", i, rec.SourceType)
		}
		if rec.ProducingStage != governance.StageIdeator {
			t.Fatalf("record[%d].ProducingStage = %s", i, rec.ProducingStage)
		}
		if rec.ContentHash == "" || rec.AttributionID == "" {
			t.Fatalf("record[%d] incomplete: %+v", i, rec)
		}
	}

	if pack.Sealed() {
		t.Fatal("assembler must not seal the pack")
	}
}

func TestAssembleFailsOutsideIdeator(t *testing.T) {
	asm, enforcer := newAssemblerFixture(t)
	enforcer.BeginTask("task-1", "user-1", "writing")

	// The Summarizer holds no corpus access at all.
	ctx := tools.WithInvocation(context.Background(), tools.Invocation{
		TaskID: "task-1",
		Stage:  governance.StageSummarizer,
	})
	if _, _, err := asm.Assemble(ctx, "task-1", "anything"); err == nil {
		t.Fatal("expected governance denial for summarizer assembly")
	}
}

func TestPackSealStopsAppends(t *testing.T) {
	p := New()
	if !p.Append(Snippet{Text: "a"}) {
		t.Fatal("append before seal rejected")
	}
	p.Seal()
	if p.Append(Snippet{Text: "b"}) {
		t.Fatal("append after seal accepted")
	}
	if p.Len() != 1 {
		t.Fatalf("len = %d, want 1", p.Len())
	}
}
