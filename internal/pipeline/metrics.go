package pipeline

import (
	"sync"

	"github.com/dansasser/multi-corpus-governance-agent/internal/governance"
)

// StageMetrics counts per-stage successes and failures plus running
// totals. Counters advance synchronously as each stage completes.
type StageMetrics struct {
	mu      sync.Mutex
	success map[governance.Stage]int
	failure map[governance.Stage]int
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Success      map[governance.Stage]int `json:"success"`
	Failure      map[governance.Stage]int `json:"failure"`
	TotalSuccess int                      `json:"total_success"`
	TotalFailure int                      `json:"total_failure"`
}

// NewStageMetrics returns zeroed counters.
func NewStageMetrics() *StageMetrics {
	return &StageMetrics{
		success: make(map[governance.Stage]int),
		failure: make(map[governance.Stage]int),
	}
}

// RecordSuccess marks one successful stage completion.
func (m *StageMetrics) RecordSuccess(stage governance.Stage) {
	m.mu.Lock()
	m.success[stage]++
	m.mu.Unlock()
}

// RecordFailure marks one failed stage.
func (m *StageMetrics) RecordFailure(stage governance.Stage) {
	m.mu.Lock()
	m.failure[stage]++
	m.mu.Unlock()
}

// Snapshot copies the counters.
func (m *StageMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		Success: make(map[governance.Stage]int, len(m.success)),
		Failure: make(map[governance.Stage]int, len(m.failure)),
	}
	for s, n := range m.success {
		snap.Success[s] = n
		snap.TotalSuccess += n
	}
	for s, n := range m.failure {
		snap.Failure[s] = n
		snap.TotalFailure += n
	}
	return snap
}
