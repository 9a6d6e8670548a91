package governance

import (
	"sync"
	"testing"
)

func TestCallTracker_CountsPerTaskAndStage(t *testing.T) {
	tr := NewCallTracker()
	tr.Increment("a", StageDrafter)
	tr.Increment("a", StageDrafter)
	tr.Increment("a", StageCritic)
	tr.Increment("b", StageDrafter)

	if got := tr.Count("a", StageDrafter); got != 2 {
		t.Fatalf("a/drafter = %d, want 2", got)
	}
	if got := tr.Count("a", StageCritic); got != 1 {
		t.Fatalf("a/critic = %d, want 1", got)
	}
	if got := tr.Count("b", StageDrafter); got != 1 {
		t.Fatalf("b/drafter = %d, want 1", got)
	}
	if got := tr.Count("c", StageIdeator); got != 0 {
		t.Fatalf("unknown task = %d, want 0", got)
	}

	tr.Reset("a")
	if got := tr.Count("a", StageDrafter); got != 0 {
		t.Fatalf("after reset = %d, want 0", got)
	}
	if got := tr.Count("b", StageDrafter); got != 1 {
		t.Fatalf("reset leaked across tasks: b/drafter = %d", got)
	}
}

func TestCallTracker_NoLostUpdates(t *testing.T) {
	tr := NewCallTracker()
	const goroutines = 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Increment("t", StageIdeator)
		}()
	}
	wg.Wait()
	if got := tr.Count("t", StageIdeator); got != goroutines {
		t.Fatalf("count = %d, want %d", got, goroutines)
	}
}

func TestCallTracker_TryAcquire(t *testing.T) {
	tr := NewCallTracker()
	ok, attempted := tr.TryAcquire("t", StageDrafter, 1)
	if !ok || attempted != 1 {
		t.Fatalf("first acquire = %v, %d", ok, attempted)
	}
	ok, attempted = tr.TryAcquire("t", StageDrafter, 1)
	if ok || attempted != 2 {
		t.Fatalf("second acquire = %v, %d, want denied attempt 2", ok, attempted)
	}
	if got := tr.Count("t", StageDrafter); got != 1 {
		t.Fatalf("denied acquire mutated count: %d", got)
	}
}

func TestViolationLog_AppendOnlyCopies(t *testing.T) {
	l := NewViolationLog()
	l.Append(ViolationRecord{TaskID: "t", Kind: KindEmptyOutput, Stage: StageIdeator})
	l.Append(ViolationRecord{TaskID: "t", Kind: KindAPICallLimitExceeded, Stage: StageDrafter})

	recs := l.ForTask("t")
	if len(recs) != 2 || recs[0].Kind != KindEmptyOutput || recs[1].Kind != KindAPICallLimitExceeded {
		t.Fatalf("recs = %+v", recs)
	}

	// Mutating the returned slice must not touch the log.
	recs[0].Kind = "tampered"
	if l.ForTask("t")[0].Kind != KindEmptyOutput {
		t.Fatal("ForTask leaked internal slice")
	}

	if l.Count("other") != 0 {
		t.Fatal("count leaked across tasks")
	}
}
