package governance

import (
	"errors"
	"fmt"
)

// Violation kinds recorded in the violation log and carried by governance
// errors. Permission denials from ValidateStagePermissions use the
// "missing_permission_<name>" form.
const (
	KindAPICallLimitExceeded           = "api_call_limit_exceeded"
	KindUnauthorizedCorpusAccess       = "unauthorized_corpus_access"
	KindUnauthorizedRetrievalAccess    = "unauthorized_retrieval_access"
	KindTransformerRequiredUnavailable = "transformer_required_unavailable"
	KindCorpusRateLimitExceeded        = "corpus_rate_limit_exceeded"
	KindInvalidStageRole               = "invalid_stage_role"
	KindMissingClassification          = "missing_classification"
	KindEmptyOutput                    = "empty_output"
)

// GovernanceError is implemented by every error the enforcer raises.
// KindOf extracts the kind without callers knowing the concrete type.
type GovernanceError interface {
	error
	ViolationKind() string
}

// KindOf returns the violation kind carried by err, if any.
func KindOf(err error) (string, bool) {
	var ge GovernanceError
	if errors.As(err, &ge) {
		return ge.ViolationKind(), true
	}
	return "", false
}

// ViolationError is the umbrella governance violation. Specific denial
// paths use the dedicated types below so callers can match on structure.
type ViolationError struct {
	Kind    string
	Stage   Stage
	TaskID  string
	Details map[string]any
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("governance violation %s: stage=%s task=%s", e.Kind, e.Stage, e.TaskID)
}

// ViolationKind implements GovernanceError.
func (e *ViolationError) ViolationKind() string { return e.Kind }

// APICallLimitError reports an exhausted per-stage call budget. Attempted
// is always Max+1 or higher: the permission check consumes the slot on
// success, so the first denied attempt is max+1.
type APICallLimitError struct {
	Stage     Stage
	TaskID    string
	Max       int
	Attempted int
}

func (e *APICallLimitError) Error() string {
	return fmt.Sprintf("api call limit exceeded: stage=%s task=%s max=%d attempted=%d",
		e.Stage, e.TaskID, e.Max, e.Attempted)
}

func (e *APICallLimitError) ViolationKind() string { return KindAPICallLimitExceeded }

// UnauthorizedCorpusError reports a corpus query outside the stage's
// access set.
type UnauthorizedCorpusError struct {
	Stage   Stage
	TaskID  string
	Corpus  Corpus
	Allowed []Corpus
}

func (e *UnauthorizedCorpusError) Error() string {
	return fmt.Sprintf("unauthorized corpus access: stage=%s corpus=%s allowed=%v",
		e.Stage, e.Corpus, e.Allowed)
}

func (e *UnauthorizedCorpusError) ViolationKind() string { return KindUnauthorizedCorpusAccess }

// UnauthorizedRetrievalError reports a retrieval query from a stage
// without retrieval access.
type UnauthorizedRetrievalError struct {
	Stage      Stage
	TaskID     string
	Authorized []Stage
}

func (e *UnauthorizedRetrievalError) Error() string {
	return fmt.Sprintf("unauthorized retrieval access: stage=%s authorized=%v",
		e.Stage, e.Authorized)
}

func (e *UnauthorizedRetrievalError) ViolationKind() string { return KindUnauthorizedRetrievalAccess }

// TransformerRequiredError reports that a stage requiring the
// deterministic transformer ran without one and no fallback was
// authorized.
type TransformerRequiredError struct {
	Stage  Stage
	TaskID string
	Reason string
}

func (e *TransformerRequiredError) Error() string {
	return fmt.Sprintf("transformer required: stage=%s task=%s: %s", e.Stage, e.TaskID, e.Reason)
}

func (e *TransformerRequiredError) ViolationKind() string { return KindTransformerRequiredUnavailable }
