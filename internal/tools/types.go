// Package tools implements the governed tool layer: every leaf
// operation a stage may perform (search a corpus, call the external
// model, call the retrieval endpoint) is registered as a tool with a
// declarative policy record, and the wrapper runs the full enforcement
// sequence around each invocation. The wrapper is the only legitimate
// call path from a stage to the search layer or a provider.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/dansasser/multi-corpus-governance-agent/internal/governance"
)

// Canonical tool names.
const (
	ToolSearchPersonal    = "search_personal"
	ToolSearchSocial      = "search_social"
	ToolSearchPublished   = "search_published"
	ToolCallExternalModel = "call_external_model"
	ToolCallRetrieval     = "call_retrieval_endpoint"
)

// Func executes a tool with named arguments.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Policy binds a tool to its enforcement parameters. The wrapper
// traverses each set field before execution.
type Policy struct {
	// RequiredPermissions are checked against the invoking stage's
	// permission record.
	RequiredPermissions []string

	// AllowedCorpora restricts which corpus argument the tool accepts.
	// Empty means the tool takes no corpus argument.
	AllowedCorpora []governance.Corpus

	// MaxCallsPerTask, when positive, routes the call through the
	// atomic budget check. The actual ceiling comes from the catalog.
	MaxCallsPerTask int

	// RequiresRetrieval gates the call on retrieval access.
	RequiresRetrieval bool

	// RequiresTransformerPrimary gates the call on the transformer
	// requirement decision.
	RequiresTransformerPrimary bool
}

// Tool is one registered, governed operation.
type Tool struct {
	Name        string
	Description string
	Policy      Policy
	Execute     Func
}

// Validate checks the tool definition is complete.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return errors.New("tool name required")
	}
	if t.Execute == nil {
		return fmt.Errorf("tool %s: execute func required", t.Name)
	}
	return nil
}

// NewSearchTool declares a corpus search tool bound to one corpus. The
// wrapper resolves the corpus argument and checks it against both the
// tool binding and the stage's access set.
func NewSearchTool(corpus governance.Corpus, run Func) *Tool {
	return &Tool{
		Name:        "search_" + string(corpus),
		Description: "Ranked search over the " + string(corpus) + " corpus",
		Policy: Policy{
			RequiredPermissions: []string{governance.PermCorpusAccess},
			AllowedCorpora:      []governance.Corpus{corpus},
		},
		Execute: run,
	}
}

// NewModelCallTool declares the external model call tool. Every
// invocation consumes one slot of the invoking stage's budget.
func NewModelCallTool(run Func) *Tool {
	return &Tool{
		Name:        ToolCallExternalModel,
		Description: "One governed call to the external text generator",
		Policy: Policy{
			RequiredPermissions: []string{governance.PermAPIAccess},
			MaxCallsPerTask:     1,
		},
		Execute: run,
	}
}

// NewRetrievalTool declares the retrieval endpoint tool, available only
// to stages holding retrieval access.
func NewRetrievalTool(run Func) *Tool {
	return &Tool{
		Name:        ToolCallRetrieval,
		Description: "Query the external retrieval endpoint",
		Policy: Policy{
			RequiredPermissions: []string{governance.PermRetrievalAccess},
			RequiresRetrieval:   true,
		},
		Execute: run,
	}
}
