package governance

import "sync"

// CallTracker counts external model calls per task and stage. All
// operations are safe under concurrent tasks; TryAcquire is the atomic
// check-and-increment used by the enforcer so a budget can never be
// overrun by racing callers.
type CallTracker struct {
	mu    sync.Mutex
	calls map[string]map[Stage]int
}

// NewCallTracker returns an empty tracker.
func NewCallTracker() *CallTracker {
	return &CallTracker{calls: make(map[string]map[Stage]int)}
}

// Count returns the calls consumed so far by (task, stage).
func (t *CallTracker) Count(taskID string, stage Stage) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[taskID][stage]
}

// Increment adds one call to (task, stage).
func (t *CallTracker) Increment(taskID string, stage Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bump(taskID, stage)
}

// TryAcquire consumes one call slot if the current count is below max.
// It returns whether the slot was granted and the attempt number
// (count+1) either way.
func (t *CallTracker) TryAcquire(taskID string, stage Stage, max int) (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.calls[taskID][stage]
	if cur >= max {
		return false, cur + 1
	}
	t.bump(taskID, stage)
	return true, cur + 1
}

// ForceAcquire consumes one call slot regardless of budget and returns
// the new count. The enforcer uses it to account for emergency-authorized
// calls so they appear in the finalize summary like any other call.
func (t *CallTracker) ForceAcquire(taskID string, stage Stage) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bump(taskID, stage)
	return t.calls[taskID][stage]
}

// Snapshot returns a copy of the per-stage counts for a task.
func (t *CallTracker) Snapshot(taskID string) map[Stage]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Stage]int, len(t.calls[taskID]))
	for s, n := range t.calls[taskID] {
		out[s] = n
	}
	return out
}

// Reset drops all counts for a task.
func (t *CallTracker) Reset(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.calls, taskID)
}

func (t *CallTracker) bump(taskID string, stage Stage) {
	m, ok := t.calls[taskID]
	if !ok {
		m = make(map[Stage]int)
		t.calls[taskID] = m
	}
	m[stage]++
}
