package governance

import (
	"sync"
	"time"
)

// ViolationRecord is one append-only entry in a task's violation history.
type ViolationRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	TaskID    string         `json:"task_id"`
	Kind      string         `json:"kind"`
	Stage     Stage          `json:"stage"`
	Details   map[string]any `json:"details,omitempty"`
}

// ViolationLog is the concurrency-safe per-task violation list. Entries
// are only ever appended; ForTask returns copies so readers never observe
// later mutation.
type ViolationLog struct {
	mu      sync.Mutex
	entries map[string][]ViolationRecord
}

// NewViolationLog returns an empty log.
func NewViolationLog() *ViolationLog {
	return &ViolationLog{entries: make(map[string][]ViolationRecord)}
}

// Append records a violation for its task.
func (l *ViolationLog) Append(rec ViolationRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[rec.TaskID] = append(l.entries[rec.TaskID], rec)
}

// ForTask returns a copy of the task's violations in append order.
func (l *ViolationLog) ForTask(taskID string) []ViolationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ViolationRecord(nil), l.entries[taskID]...)
}

// Count returns the number of violations recorded for a task.
func (l *ViolationLog) Count(taskID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries[taskID])
}

// Drop removes a task's violations. Called only by the age sweeper after
// the retention window.
func (l *ViolationLog) Drop(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, taskID)
}
