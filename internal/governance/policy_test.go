package governance

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestCatalogTable pins the permission table. Any drift from the canonical
// matrix is a bug, not a tuning decision.
func TestCatalogTable(t *testing.T) {
	c := NewCatalog()

	want := map[Stage]StagePermissions{
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
			TransformerAccess:   true,
			TransformerRequired: true,
		},
	}

	for stage, wantPerms := range want {
		got, ok := c.PermissionsFor(stage)
		if !ok {
			t.Fatalf("PermissionsFor(%s): missing", stage)
		}
		if diff := cmp.Diff(wantPerms, got); diff != "" {
			t.Fatalf("permissions for %s mismatch (-want +got):\n%s", stage, diff)
		}
	}
}

func TestCatalogStageOrder(t *testing.T) {
	c := NewCatalog()
	want := []Stage{StageIdeator, StageDrafter, StageCritic, StageRevisor, StageSummarizer}
	if diff := cmp.Diff(want, c.StagesInOrder()); diff != "" {
		t.Fatalf("stage order mismatch (-want +got):\n%s", diff)
	}

	// Returned slice is a copy: mutating it must not corrupt the catalog.
	order := c.StagesInOrder()
	order[0] = StageSummarizer
	if c.StagesInOrder()[0] != StageIdeator {
		t.Fatal("StagesInOrder leaked internal state")
	}
}

func TestCatalogRetrievalStages(t *testing.T) {
	c := NewCatalog()
	got := c.RetrievalStages()
	if len(got) != 1 || got[0] != StageCritic {
		t.Fatalf("RetrievalStages() = %v, want [critic]", got)
	}
}

func TestCatalogRateLimits(t *testing.T) {
	c := NewCatalog(WithCorpusRateOverride(CorpusSocial, 3))
	if got := c.CorpusRateLimit(CorpusPersonal); got != DefaultCorpusRateLimit {
		t.Fatalf("personal limit = %d, want default %d", got, DefaultCorpusRateLimit)
	}
	if got := c.CorpusRateLimit(CorpusSocial); got != 3 {
		t.Fatalf("social limit = %d, want override 3", got)
	}
}

func TestParseCorpus(t *testing.T) {
	if c, ok := ParseCorpus("personal"); !ok || c != CorpusPersonal {
		t.Fatalf("ParseCorpus(personal) = %v, %v", c, ok)
	}
	if _, ok := ParseCorpus("archive"); ok {
		t.Fatal("ParseCorpus(archive) should fail")
	}
}
