package governance

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestEnforcer(opts ...CatalogOption) *Enforcer {
	catalog := NewCatalog(opts...)
	return NewEnforcer(catalog, NewCallTracker(), NewViolationLog(), nil, nil)
}

func TestValidateAPICall_BudgetBoundary(t *testing.T) {
	e := newTestEnforcer()
	e.BeginTask("t1", "u1", "standard")

	// Drafter holds exactly one call.
	if err := e.ValidateAPICall(StageDrafter, "t1"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	err := e.ValidateAPICall(StageDrafter, "t1")
	var limitErr *APICallLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("second call error = %v, want APICallLimitError", err)
	}
	if limitErr.Max != 1 || limitErr.Attempted != 2 || limitErr.Stage != StageDrafter {
		t.Fatalf("limit error = %+v, want max=1 attempted=2 stage=drafter", limitErr)
	}
	if kind, _ := KindOf(err); kind != KindAPICallLimitExceeded {
		t.Fatalf("kind = %q", kind)
	}
	if got := e.vlog.Count("t1"); got != 1 {
		t.Fatalf("violations = %d, want 1", got)
	}
}

func TestValidateAPICall_SummarizerHasNoBudget(t *testing.T) {
	e := newTestEnforcer()
	e.BeginTask("t1", "u1", "standard")
	err := e.ValidateAPICall(StageSummarizer, "t1")
	var limitErr *APICallLimitError
	if !errors.As(err, &limitErr) || limitErr.Max != 0 || limitErr.Attempted != 1 {
		t.Fatalf("err = %v, want limit error max=0 attempted=1", err)
	}
}

func TestValidateAPICall_EmergencyAuthorization(t *testing.T) {
	e := NewEnforcer(NewCatalog(), NewCallTracker(), NewViolationLog(), allowAllAuthorizer{}, nil)
	e.BeginTask("t1", "u1", "standard")

	// An authorized zero-budget stage holds api_access and consumes a
	// tracked slot without raising a violation.
	if err := e.ValidateStagePermissions(StageSummarizer, []string{PermAPIAccess}, "t1"); err != nil {
		t.Fatalf("authorized api_access: %v", err)
	}
	if err := e.ValidateAPICall(StageSummarizer, "t1"); err != nil {
		t.Fatalf("authorized call: %v", err)
	}
	if got := e.tracker.Count("t1", StageSummarizer); got != 1 {
		t.Fatalf("tracked calls = %d, want 1", got)
	}
	if got := e.vlog.Count("t1"); got != 0 {
		t.Fatalf("violations = %d, want 0", got)
	}

	// Exhausted positive budgets are never emergency-eligible.
	if err := e.ValidateAPICall(StageDrafter, "t1"); err != nil {
		t.Fatalf("first drafter call: %v", err)
	}
	err := e.ValidateAPICall(StageDrafter, "t1")
	if kind, _ := KindOf(err); kind != KindAPICallLimitExceeded {
		t.Fatalf("over-budget err = %v, want api_call_limit_exceeded", err)
	}
}

// Concurrent attempts on one budget can never grant more than max slots,
// even though the driver itself runs stages sequentially.
func TestValidateAPICall_AtomicUnderConcurrency(t *testing.T) {
	e := newTestEnforcer()
	e.BeginTask("t1", "u1", "standard")

	const attempts = 32
	var wg sync.WaitGroup
	granted := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.ValidateAPICall(StageCritic, "t1"); err == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	n := 0
	for range granted {
		n++
	}
	if n != 2 {
		t.Fatalf("granted %d calls, want exactly 2 (critic budget)", n)
	}
}

func TestValidateCorpusAccess_Unauthorized(t *testing.T) {
	e := newTestEnforcer()
	e.BeginTask("t1", "u1", "standard")

	err := e.ValidateCorpusAccess(StageDrafter, CorpusPersonal, "t1")
	var corpusErr *UnauthorizedCorpusError
	if !errors.As(err, &corpusErr) {
		t.Fatalf("err = %v, want UnauthorizedCorpusError", err)
	}
	if corpusErr.Corpus != CorpusPersonal || corpusErr.Stage != StageDrafter {
		t.Fatalf("err = %+v", corpusErr)
	}
	if len(corpusErr.Allowed) != 2 || corpusErr.Allowed[0] != CorpusSocial || corpusErr.Allowed[1] != CorpusPublished {
		t.Fatalf("allowed = %v, want [social published]", corpusErr.Allowed)
	}

	recs := e.vlog.ForTask("t1")
	if len(recs) != 1 || recs[0].Kind != KindUnauthorizedCorpusAccess {
		t.Fatalf("violation log = %+v, want one unauthorized_corpus_access", recs)
	}
}

func TestValidateCorpusAccess_RateLimitBoundary(t *testing.T) {
	e := newTestEnforcer(WithCorpusRateLimit(3))
	e.BeginTask("t1", "u1", "standard")

	for i := 0; i < 3; i++ {
		if err := e.ValidateCorpusAccess(StageIdeator, CorpusPersonal, "t1"); err != nil {
			t.Fatalf("query %d: %v", i+1, err)
		}
	}
	err := e.ValidateCorpusAccess(StageIdeator, CorpusPersonal, "t1")
	if kind, _ := KindOf(err); kind != KindCorpusRateLimitExceeded {
		t.Fatalf("err = %v, want corpus_rate_limit_exceeded", err)
	}

	// The window is keyed per corpus: another corpus is unaffected.
	if err := e.ValidateCorpusAccess(StageIdeator, CorpusSocial, "t1"); err != nil {
		t.Fatalf("other corpus blocked: %v", err)
	}
}

func TestValidateRetrievalAccess_CriticOnly(t *testing.T) {
	e := newTestEnforcer()
	e.BeginTask("t1", "u1", "standard")

	for _, stage := range []Stage{StageIdeator, StageDrafter, StageRevisor, StageSummarizer} {
		err := e.ValidateRetrievalAccess(stage, "t1")
		var retErr *UnauthorizedRetrievalError
		if !errors.As(err, &retErr) {
			t.Fatalf("stage %s: err = %v, want UnauthorizedRetrievalError", stage, err)
		}
		if len(retErr.Authorized) != 1 || retErr.Authorized[0] != StageCritic {
			t.Fatalf("stage %s: authorized = %v, want [critic]", stage, retErr.Authorized)
		}
	}
	if err := e.ValidateRetrievalAccess(StageCritic, "t1"); err != nil {
		t.Fatalf("critic: %v", err)
	}
}

func TestValidateStagePermissions(t *testing.T) {
	e := newTestEnforcer()
	e.BeginTask("t1", "u1", "standard")

	if err := e.ValidateStagePermissions(StageIdeator, []string{PermCorpusAccess, PermOutlineGeneration}, "t1"); err != nil {
		t.Fatalf("ideator: %v", err)
	}
	if err := e.ValidateStagePermissions(StageCritic, []string{PermRetrievalAccess, PermTruthValidation}, "t1"); err != nil {
		t.Fatalf("critic: %v", err)
	}

	err := e.ValidateStagePermissions(StageDrafter, []string{PermRetrievalAccess}, "t1")
	if kind, _ := KindOf(err); kind != "missing_permission_retrieval_access" {
		t.Fatalf("err = %v, want missing_permission_retrieval_access", err)
	}

	// Identity permission held by a different stage.
	err = e.ValidateStagePermissions(StageDrafter, []string{PermTruthValidation}, "t1")
	if kind, _ := KindOf(err); kind != "missing_permission_truth_validation" {
		t.Fatalf("err = %v, want missing_permission_truth_validation", err)
	}

	// Summarizer has no API budget, so api_access is not held.
	err = e.ValidateStagePermissions(StageSummarizer, []string{PermAPIAccess}, "t1")
	if kind, _ := KindOf(err); kind != "missing_permission_api_access" {
		t.Fatalf("err = %v, want missing_permission_api_access", err)
	}
}

func TestValidateTransformerRequirement(t *testing.T) {
	e := newTestEnforcer()
	e.BeginTask("t1", "u1", "standard")

	// Summarizer: transformer required.
	dec, err := e.ValidateTransformerRequirement(StageSummarizer, "t1", true)
	if err != nil || !dec.UseTransformer || dec.Method != MethodTransformerOnly {
		t.Fatalf("summarizer available: dec=%+v err=%v", dec, err)
	}

	_, err = e.ValidateTransformerRequirement(StageSummarizer, "t1", false)
	var reqErr *TransformerRequiredError
	if !errors.As(err, &reqErr) {
		t.Fatalf("summarizer unavailable: err = %v, want TransformerRequiredError", err)
	}
	if reqErr.Reason != "transformer required but unavailable and no API fallback permission" {
		t.Fatalf("reason = %q", reqErr.Reason)
	}

	// Revisor: transformer preferred with a one-call fallback budget.
	dec, err = e.ValidateTransformerRequirement(StageRevisor, "t1", true)
	if err != nil || !dec.UseTransformer || !dec.CanFallbackToAPI || dec.Method != MethodTransformerPrimary {
		t.Fatalf("revisor available: dec=%+v err=%v", dec, err)
	}
	dec, err = e.ValidateTransformerRequirement(StageRevisor, "t1", false)
	if err != nil || dec.UseTransformer || !dec.CanFallbackToAPI || dec.Method != MethodAPIFallback {
		t.Fatalf("revisor unavailable: dec=%+v err=%v", dec, err)
	}
}

type allowAllAuthorizer struct{}

func (allowAllAuthorizer) AuthorizeEmergencyAPICall(string, Stage) bool { return true }

func TestValidateTransformerRequirement_EmergencyAuthorization(t *testing.T) {
	catalog := NewCatalog()
	e := NewEnforcer(catalog, NewCallTracker(), NewViolationLog(), allowAllAuthorizer{}, nil)
	e.BeginTask("t1", "u1", "standard")

	dec, err := e.ValidateTransformerRequirement(StageSummarizer, "t1", false)
	if err != nil {
		t.Fatalf("authorized fallback: %v", err)
	}
	if !dec.CanFallbackToAPI || dec.Method != MethodAPIFallback {
		t.Fatalf("dec = %+v, want api_fallback", dec)
	}
}

func TestValidateStageOutput(t *testing.T) {
	e := newTestEnforcer()
	e.BeginTask("t1", "u1", "standard")

	if err := e.ValidateStageOutput(StageIdeator, "hello", "t1"); err != nil {
		t.Fatalf("valid output: %v", err)
	}

	err := e.ValidateStageOutput(StageIdeator, "   \n\t", "t1")
	if kind, _ := KindOf(err); kind != KindEmptyOutput {
		t.Fatalf("blank output err = %v, want empty_output", err)
	}

	err = e.ValidateStageOutput(Stage("composer"), "hello", "t1")
	if kind, _ := KindOf(err); kind != KindInvalidStageRole {
		t.Fatalf("bad stage err = %v, want invalid_stage_role", err)
	}

	// Unregistered task has no classification.
	err = e.ValidateStageOutput(StageIdeator, "hello", "ghost")
	if kind, _ := KindOf(err); kind != KindMissingClassification {
		t.Fatalf("missing classification err = %v", err)
	}
}

func TestFinalize_IdempotentAndSwept(t *testing.T) {
	e := newTestEnforcer()
	e.BeginTask("t1", "u1", "sensitive")

	if err := e.ValidateAPICall(StageDrafter, "t1"); err != nil {
		t.Fatalf("api call: %v", err)
	}
	_ = e.ValidateCorpusAccess(StageIdeator, CorpusPersonal, "t1")
	_ = e.ValidateCorpusAccess(StageDrafter, CorpusPersonal, "t1") // violation

	first, err := e.Finalize("t1")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if first.TotalAPICalls != 1 || first.CallsByStage[StageDrafter] != 1 {
		t.Fatalf("summary calls = %+v", first)
	}
	if first.CorpusQueries != 1 || first.ViolationCount != 1 {
		t.Fatalf("summary = %+v, want 1 corpus query and 1 violation", first)
	}
	if first.Classification != "sensitive" {
		t.Fatalf("classification = %q", first.Classification)
	}

	second, err := e.Finalize("t1")
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if second != first {
		t.Fatal("second finalize built a new summary; want the same object")
	}

	// Zero retention: sweep evicts immediately.
	if n := e.Sweep(0); n != 1 {
		t.Fatalf("sweep evicted %d, want 1", n)
	}
	if _, err := e.Finalize("t1"); err == nil {
		t.Fatal("finalize after eviction should fail")
	}
	if e.tracker.Count("t1", StageDrafter) != 0 {
		t.Fatal("tracker state survived sweep")
	}
}

func TestSweep_RetainsWithinGrace(t *testing.T) {
	e := newTestEnforcer()
	e.BeginTask("t1", "u1", "standard")
	if _, err := e.Finalize("t1"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if n := e.Sweep(time.Hour); n != 0 {
		t.Fatalf("sweep evicted %d inside grace window, want 0", n)
	}
	if _, err := e.Finalize("t1"); err != nil {
		t.Fatalf("finalize lookup within grace: %v", err)
	}
}
