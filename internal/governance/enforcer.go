package governance

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskState tracks governance bookkeeping for one task. It is created on
// prompt receipt, mutated only through Enforcer methods, finalized on
// pipeline completion, and evicted by the age sweeper.
type TaskState struct {
	TaskID              string
	UserID              string
	Classification      string
	CreatedAt           time.Time
	CorpusAccessCount   int
	RetrievalQueryCount int

	finalized   bool
	finalizedAt time.Time
	summary     *Summary
}

// Summary is the completion record produced by Finalize. Finalize is
// idempotent: repeated calls return the same summary.
type Summary struct {
	TaskID           string            `json:"task_id"`
	UserID           string            `json:"user_id"`
	Classification   string            `json:"classification"`
	CallsByStage     map[Stage]int     `json:"calls_by_stage"`
	TotalAPICalls    int               `json:"total_api_calls"`
	CorpusQueries    int               `json:"corpus_queries"`
	RetrievalQueries int               `json:"retrieval_queries"`
	ViolationCount   int               `json:"violation_count"`
	Violations       []ViolationRecord `json:"violations,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	FinalizedAt      time.Time         `json:"finalized_at"`
}

// Transformer decision methods.
const (
	MethodTransformerOnly    = "transformer_only"
	MethodTransformerPrimary = "transformer_primary"
	MethodAPIFallback        = "api_fallback"
)

// TransformerDecision tells a stage how to run its text operation.
type TransformerDecision struct {
	UseTransformer   bool
	CanFallbackToAPI bool
	Method           string
}

// Authorizer decides whether a stage without API budget may make an
// emergency external call. The default denies everything; the activation
// mechanism is deliberately external to the core. Implementations must
// answer consistently for one (task, stage): the enforcer consults the
// authorizer at each enforcement step of the call.
type Authorizer interface {
	AuthorizeEmergencyAPICall(taskID string, stage Stage) bool
}

// DenyAllAuthorizer is the default emergency authorizer.
type DenyAllAuthorizer struct{}

// AuthorizeEmergencyAPICall always returns false.
func (DenyAllAuthorizer) AuthorizeEmergencyAPICall(string, Stage) bool { return false }

type rateKey struct {
	task   string
	stage  Stage
	corpus Corpus
}

// Enforcer validates every governed operation against the catalog and
// records violations before raising them. It owns the task state table;
// the call tracker and violation log are shared with the finalizer.
type Enforcer struct {
	catalog    *Catalog
	tracker    *CallTracker
	vlog       *ViolationLog
	authorizer Authorizer
	logger     *zap.Logger

	mu    sync.Mutex
	tasks map[string]*TaskState
	rate  map[rateKey][]time.Time
}

// NewEnforcer wires an enforcer to its catalog, tracker, and violation
// log. A nil authorizer means deny-all; a nil logger means no-op.
func NewEnforcer(catalog *Catalog, tracker *CallTracker, vlog *ViolationLog, authorizer Authorizer, logger *zap.Logger) *Enforcer {
	if authorizer == nil {
		authorizer = DenyAllAuthorizer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{
		catalog:    catalog,
		tracker:    tracker,
		vlog:       vlog,
		authorizer: authorizer,
		logger:     logger.Named("enforcer"),
		tasks:      make(map[string]*TaskState),
		rate:       make(map[rateKey][]time.Time),
	}
}

// Catalog returns the policy catalog backing this enforcer.
func (e *Enforcer) Catalog() *Catalog { return e.catalog }

// Violations returns the task's violation records in append order.
func (e *Enforcer) Violations(taskID string) []ViolationRecord {
	return e.vlog.ForTask(taskID)
}

// BeginTask registers governance state for a new task. Re-registering an
// existing task is a no-op.
func (e *Enforcer) BeginTask(taskID, userID, classification string) *TaskState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.tasks[taskID]; ok {
		return st
	}
	st := &TaskState{
		TaskID:         taskID,
		UserID:         userID,
		Classification: classification,
		CreatedAt:      time.Now().UTC(),
	}
	e.tasks[taskID] = st
	return st
}

// Classification returns the task's classification, if registered.
func (e *Enforcer) Classification(taskID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.tasks[taskID]
	if !ok {
		return "", false
	}
	return st.Classification, true
}

// ValidateStagePermissions checks a named permission set against the
// stage's record. Unknown or unheld permissions raise a violation of kind
// missing_permission_<name>.
func (e *Enforcer) ValidateStagePermissions(stage Stage, required []string, taskID string) error {
	perms, ok := e.catalog.PermissionsFor(stage)
	if !ok {
		return e.violation(&ViolationError{
			Kind:   KindInvalidStageRole,
			Stage:  stage,
			TaskID: taskID,
			Details: map[string]any{
				"valid_stages": e.catalog.StagesInOrder(),
			},
		})
	}

	for _, name := range required {
		if e.holdsPermission(stage, perms, name) {
			continue
		}
		// A zero-budget stage holds api_access only under an emergency
		// grant; the budget check consumes the slot.
		if name == PermAPIAccess && e.authorizer.AuthorizeEmergencyAPICall(taskID, stage) {
			continue
		}
		return e.violation(&ViolationError{
			Kind:   "missing_permission_" + name,
			Stage:  stage,
			TaskID: taskID,
			Details: map[string]any{
				"permission": name,
			},
		})
	}
	return nil
}

func (e *Enforcer) holdsPermission(stage Stage, perms StagePermissions, name string) bool {
	switch name {
	case PermCorpusAccess:
		return len(perms.CorpusAccess) > 0
	case PermRetrievalAccess:
		return perms.RetrievalAccess
	case PermTransformerAccess:
		return perms.TransformerAccess
	case PermAPIAccess:
		return perms.MaxAPICalls > 0
	}
	if owner, ok := stageIdentityPerms[name]; ok {
		return owner == stage
	}
	return false
}

// ValidateCorpusAccess checks that the stage may query the corpus and
// that the per-minute rate limit for (task, stage, corpus) has headroom.
// On success the task's corpus access counter advances.
func (e *Enforcer) ValidateCorpusAccess(stage Stage, corpus Corpus, taskID string) error {
	perms, ok := e.catalog.PermissionsFor(stage)
	if !ok {
		return e.violation(&ViolationError{Kind: KindInvalidStageRole, Stage: stage, TaskID: taskID})
	}
	if !perms.AllowsCorpus(corpus) {
		e.record(taskID, stage, KindUnauthorizedCorpusAccess, map[string]any{
			"corpus":          string(corpus),
			"allowed_corpora": perms.CorpusAccess,
		})
		return &UnauthorizedCorpusError{
			Stage:   stage,
			TaskID:  taskID,
			Corpus:  corpus,
			Allowed: append([]Corpus(nil), perms.CorpusAccess...),
		}
	}

	limit := e.catalog.CorpusRateLimit(corpus)
	now := time.Now()
	key := rateKey{task: taskID, stage: stage, corpus: corpus}

	e.mu.Lock()
	window := e.rate[key][:0]
	for _, ts := range e.rate[key] {
		if now.Sub(ts) < time.Minute {
			window = append(window, ts)
		}
	}
	if len(window) >= limit {
		e.rate[key] = window
		e.mu.Unlock()
		e.record(taskID, stage, KindCorpusRateLimitExceeded, map[string]any{
			"corpus":    string(corpus),
			"limit":     limit,
			"window":    "1m",
			"attempted": len(window) + 1,
		})
		return &ViolationError{
			Kind:   KindCorpusRateLimitExceeded,
			Stage:  stage,
			TaskID: taskID,
			Details: map[string]any{
				"corpus": string(corpus),
				"limit":  limit,
			},
		}
	}
	e.rate[key] = append(window, now)
	if st, ok := e.tasks[taskID]; ok {
		st.CorpusAccessCount++
	}
	e.mu.Unlock()
	return nil
}

// ValidateRetrievalAccess checks the stage's retrieval capability. Only
// the Critic passes under the default catalog.
func (e *Enforcer) ValidateRetrievalAccess(stage Stage, taskID string) error {
	perms, ok := e.catalog.PermissionsFor(stage)
	if !ok {
		return e.violation(&ViolationError{Kind: KindInvalidStageRole, Stage: stage, TaskID: taskID})
	}
	if !perms.RetrievalAccess {
		authorized := e.catalog.RetrievalStages()
		e.record(taskID, stage, KindUnauthorizedRetrievalAccess, map[string]any{
			"authorized_stages": authorized,
		})
		return &UnauthorizedRetrievalError{Stage: stage, TaskID: taskID, Authorized: authorized}
	}

	e.mu.Lock()
	if st, ok := e.tasks[taskID]; ok {
		st.RetrievalQueryCount++
	}
	e.mu.Unlock()
	return nil
}

// ValidateAPICall atomically checks the stage's call budget and consumes
// one slot on success. Callers must not pre-check the count separately:
// permission and consumption are one step. A zero-budget stage gets one
// tracked slot per grant from the emergency authorizer; exhausted
// positive budgets are never emergency-eligible.
func (e *Enforcer) ValidateAPICall(stage Stage, taskID string) error {
	perms, ok := e.catalog.PermissionsFor(stage)
	if !ok {
		return e.violation(&ViolationError{Kind: KindInvalidStageRole, Stage: stage, TaskID: taskID})
	}
	granted, attempted := e.tracker.TryAcquire(taskID, stage, perms.MaxAPICalls)
	if !granted {
		if perms.MaxAPICalls == 0 && e.authorizer.AuthorizeEmergencyAPICall(taskID, stage) {
			n := e.tracker.ForceAcquire(taskID, stage)
			e.logger.Warn("emergency api call consumed",
				zap.String("task_id", taskID),
				zap.String("stage", string(stage)),
				zap.Int("count", n))
			return nil
		}
		e.record(taskID, stage, KindAPICallLimitExceeded, map[string]any{
			"max":       perms.MaxAPICalls,
			"attempted": attempted,
		})
		return &APICallLimitError{
			Stage:     stage,
			TaskID:    taskID,
			Max:       perms.MaxAPICalls,
			Attempted: attempted,
		}
	}
	return nil
}

// ValidateTransformerRequirement decides how a stage runs its text
// operation given transformer availability. Stages with
// TransformerRequired and no available transformer fail unless the
// emergency authorizer grants an API fallback.
func (e *Enforcer) ValidateTransformerRequirement(stage Stage, taskID string, transformerAvailable bool) (TransformerDecision, error) {
	perms, ok := e.catalog.PermissionsFor(stage)
	if !ok {
		return TransformerDecision{}, e.violation(&ViolationError{Kind: KindInvalidStageRole, Stage: stage, TaskID: taskID})
	}

	switch {
	case perms.TransformerRequired:
		if transformerAvailable {
			return TransformerDecision{UseTransformer: true, Method: MethodTransformerOnly}, nil
		}
		if e.authorizer.AuthorizeEmergencyAPICall(taskID, stage) {
			e.logger.Warn("emergency api fallback authorized",
				zap.String("task_id", taskID), zap.String("stage", string(stage)))
			return TransformerDecision{CanFallbackToAPI: true, Method: MethodAPIFallback}, nil
		}
		e.record(taskID, stage, KindTransformerRequiredUnavailable, map[string]any{
			"transformer_available": false,
			"emergency_authorized":  false,
		})
		return TransformerDecision{}, &TransformerRequiredError{
			Stage:  stage,
			TaskID: taskID,
			Reason: "transformer required but unavailable and no API fallback permission",
		}

	case perms.TransformerPreferred:
		if transformerAvailable {
			return TransformerDecision{
				UseTransformer:   true,
				CanFallbackToAPI: perms.MaxAPICalls > 0,
				Method:           MethodTransformerPrimary,
			}, nil
		}
		if perms.MaxAPICalls > 0 {
			return TransformerDecision{CanFallbackToAPI: true, Method: MethodAPIFallback}, nil
		}
		e.record(taskID, stage, KindTransformerRequiredUnavailable, map[string]any{
			"transformer_available": false,
		})
		return TransformerDecision{}, &TransformerRequiredError{
			Stage:  stage,
			TaskID: taskID,
			Reason: "transformer preferred but unavailable and no API budget",
		}

	default:
		if transformerAvailable && perms.TransformerAccess {
			return TransformerDecision{
				UseTransformer:   true,
				CanFallbackToAPI: perms.MaxAPICalls > 0,
				Method:           MethodTransformerPrimary,
			}, nil
		}
		return TransformerDecision{
			CanFallbackToAPI: perms.MaxAPICalls > 0,
			Method:           MethodAPIFallback,
		}, nil
	}
}

// ValidateStageOutput checks the universal stage-output invariants:
// known stage, non-empty content, classification present in the
// governance context. Violations are fatal for the task.
func (e *Enforcer) ValidateStageOutput(stage Stage, content, taskID string) error {
	if !ValidStage(stage) {
		return e.violation(&ViolationError{Kind: KindInvalidStageRole, Stage: stage, TaskID: taskID})
	}
	if strings.TrimSpace(content) == "" {
		return e.violation(&ViolationError{
			Kind:    KindEmptyOutput,
			Stage:   stage,
			TaskID:  taskID,
			Details: map[string]any{"content_length": len(content)},
		})
	}
	if cls, ok := e.Classification(taskID); !ok || strings.TrimSpace(cls) == "" {
		return e.violation(&ViolationError{Kind: KindMissingClassification, Stage: stage, TaskID: taskID})
	}
	return nil
}

// Finalize closes governance tracking for a task and returns the
// completion summary. The first call builds the summary; later calls
// return the same object unchanged. Task state is retained for the grace
// window and evicted by the sweeper.
func (e *Enforcer) Finalize(taskID string) (*Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("finalize: unknown task %s", taskID)
	}
	if st.finalized {
		return st.summary, nil
	}

	calls := e.tracker.Snapshot(taskID)
	total := 0
	for _, n := range calls {
		total += n
	}
	violations := e.vlog.ForTask(taskID)

	st.finalized = true
	st.finalizedAt = time.Now().UTC()
	st.summary = &Summary{
		TaskID:           taskID,
		UserID:           st.UserID,
		Classification:   st.Classification,
		CallsByStage:     calls,
		TotalAPICalls:    total,
		CorpusQueries:    st.CorpusAccessCount,
		RetrievalQueries: st.RetrievalQueryCount,
		ViolationCount:   len(violations),
		Violations:       violations,
		CreatedAt:        st.CreatedAt,
		FinalizedAt:      st.finalizedAt,
	}

	e.logger.Info("task finalized",
		zap.String("task_id", taskID),
		zap.Int("api_calls", total),
		zap.Int("violations", len(violations)))
	return st.summary, nil
}

// Sweep evicts finalized tasks older than retention, releasing tracker,
// violation, and rate-limit state. Returns the number of evicted tasks.
func (e *Enforcer) Sweep(retention time.Duration) int {
	now := time.Now().UTC()

	e.mu.Lock()
	var evict []string
	for id, st := range e.tasks {
		if st.finalized && now.Sub(st.finalizedAt) > retention {
			evict = append(evict, id)
		}
	}
	for _, id := range evict {
		delete(e.tasks, id)
		for key := range e.rate {
			if key.task == id {
				delete(e.rate, key)
			}
		}
	}
	e.mu.Unlock()

	for _, id := range evict {
		e.tracker.Reset(id)
		e.vlog.Drop(id)
	}
	if len(evict) > 0 {
		e.logger.Debug("governance state swept", zap.Int("evicted", len(evict)))
	}
	return len(evict)
}

// StartSweeper runs Sweep on a fixed interval until the returned stop
// function is called.
func (e *Enforcer) StartSweeper(interval, retention time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Sweep(retention)
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// RecordViolation appends a violation on behalf of an enforcement
// layer that detected a denial outside the validate methods (the tool
// wrapper's per-tool corpus constraint).
func (e *Enforcer) RecordViolation(taskID string, stage Stage, kind string, details map[string]any) {
	e.record(taskID, stage, kind, details)
}

// record appends a violation to the log. Writes happen before any error
// is returned to the caller.
func (e *Enforcer) record(taskID string, stage Stage, kind string, details map[string]any) {
	e.vlog.Append(ViolationRecord{
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		Kind:      kind,
		Stage:     stage,
		Details:   details,
	})
	e.logger.Warn("governance violation",
		zap.String("task_id", taskID),
		zap.String("stage", string(stage)),
		zap.String("kind", kind))
}

// violation records and returns an umbrella violation error.
func (e *Enforcer) violation(err *ViolationError) error {
	e.record(err.TaskID, err.Stage, err.Kind, err.Details)
	return err
}
