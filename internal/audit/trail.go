// Package audit provides the append-only audit trail: tool executions,
// stage completions, governance violations, and final metadata bundles.
// The default sink serializes events through a structured logger; a WORM
// or external store can replace it without touching callers. Writes are
// best effort and never disrupt the pipeline.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dansasser/multi-corpus-governance-agent/internal/governance"
)

// EventKind discriminates the four audit record shapes.
type EventKind string

const (
	EventToolExecution       EventKind = "tool_execution"
	EventStageCompletion     EventKind = "stage_completion"
	EventGovernanceViolation EventKind = "governance_violation"
	EventMetadataBundle      EventKind = "metadata_bundle"
)

// Event is one append-only audit record.
type Event struct {
	Kind      EventKind        `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
	TaskID    string           `json:"task_id"`
	Stage     governance.Stage `json:"stage,omitempty"`
	Fields    map[string]any   `json:"fields,omitempty"`
}

// Sink accepts audit events. Implementations must be safe for
// concurrent appends.
type Sink interface {
	Write(Event) error
}

// ZapSink serializes events as structured log records.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink wraps a logger as an audit sink.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

// Write implements Sink.
func (s *ZapSink) Write(ev Event) error {
	s.logger.Info(string(ev.Kind),
		zap.Time("timestamp", ev.Timestamp),
		zap.String("task_id", ev.TaskID),
		zap.String("stage", string(ev.Stage)),
		zap.Any("fields", ev.Fields))
	return nil
}

// MemorySink retains events in order. Used by tests and by the serve
// command's recent-events view.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Write implements Sink.
func (s *MemorySink) Write(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything written so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Trail is the write-side API used by the tool wrapper and the pipeline
// driver.
type Trail struct {
	sink   Sink
	logger *zap.Logger
}

// NewTrail builds a trail over a sink. A nil sink discards events.
func NewTrail(sink Sink, logger *zap.Logger) *Trail {
	if sink == nil {
		sink = NewZapSink(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trail{sink: sink, logger: logger.Named("audit")}
}

func (t *Trail) write(kind EventKind, taskID string, stage governance.Stage, fields map[string]any) {
	ev := Event{
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		Stage:     stage,
		Fields:    fields,
	}
	if err := t.sink.Write(ev); err != nil {
		// Best effort only.
		t.logger.Debug("audit write failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// ToolExecutionStart records the beginning of a governed tool call.
func (t *Trail) ToolExecutionStart(taskID string, stage governance.Stage, tool string) {
	t.write(EventToolExecution, taskID, stage, map[string]any{
		"tool":   tool,
		"status": "start",
	})
}

// ToolExecutionSuccess records a completed tool call with its duration.
func (t *Trail) ToolExecutionSuccess(taskID string, stage governance.Stage, tool string, duration time.Duration) {
	t.write(EventToolExecution, taskID, stage, map[string]any{
		"tool":        tool,
		"status":      "success",
		"duration_ms": duration.Milliseconds(),
	})
}

// ToolExecutionError records a failed tool call. The error kind is the
// governance violation kind when applicable, "error" otherwise.
func (t *Trail) ToolExecutionError(taskID string, stage governance.Stage, tool string, duration time.Duration, err error) {
	kind := "error"
	if vk, ok := governance.KindOf(err); ok {
		kind = vk
	}
	t.write(EventToolExecution, taskID, stage, map[string]any{
		"tool":        tool,
		"status":      "fail",
		"duration_ms": duration.Milliseconds(),
		"error_kind":  kind,
		"error":       err.Error(),
	})
}

// StageCompletion records a stage finishing with the given status
// ("success" or "fail").
func (t *Trail) StageCompletion(taskID string, stage governance.Stage, status string, duration time.Duration) {
	t.write(EventStageCompletion, taskID, stage, map[string]any{
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
}

// GovernanceViolation records a denied operation.
func (t *Trail) GovernanceViolation(taskID string, stage governance.Stage, kind string, details map[string]any) {
	t.write(EventGovernanceViolation, taskID, stage, map[string]any{
		"violation_kind": kind,
		"details":        details,
	})
}

// MetadataBundle records the final bundle for a completed task.
func (t *Trail) MetadataBundle(taskID string, bundle any) {
	t.write(EventMetadataBundle, taskID, "", map[string]any{
		"bundle": bundle,
	})
}
