package pipeline

import (
	"context"
	"fmt"

	"github.com/dansasser/multi-corpus-governance-agent/internal/contextpack"
	"github.com/dansasser/multi-corpus-governance-agent/internal/provider"
	"github.com/dansasser/multi-corpus-governance-agent/internal/search"
	"github.com/dansasser/multi-corpus-governance-agent/internal/tools"
)

// ModelResult is the payload returned by the external model tool.
type ModelResult struct {
	Text string
	Info provider.Info
}

// RetrievalFunc queries the external retrieval endpoint. The reference
// deployment points it at a fact-lookup service; tests stub it.
type RetrievalFunc func(ctx context.Context, query string) ([]contextpack.Snippet, error)

// RegisterSearchTools registers one governed search tool per connector.
// The tool projects the connector's result into context snippets; the
// connector itself fails closed, so the tool only errors on governance
// denials.
func RegisterSearchTools(registry *tools.Registry, connectors ...*search.Connector) {
	for _, conn := range connectors {
		registry.MustRegister(tools.NewSearchTool(conn.Corpus(), searchFunc(conn)))
	}
}

func searchFunc(conn *search.Connector) tools.Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		query, _ := args["query"].(string)
		limit, _ := args["limit"].(int)
		var filters search.Filters
		if f, ok := args["filters"].(search.Filters); ok {
			filters = f
		}
		result := conn.Query(ctx, query, filters, limit)
		if result.Snippets == nil {
			return []contextpack.Snippet{}, nil
		}
		return result.Snippets, nil
	}
}

// RegisterModelTool registers the governed external model call. Each
// invocation consumes one budget slot of the invoking stage.
func RegisterModelTool(registry *tools.Registry, p provider.Provider) {
	registry.MustRegister(tools.NewModelCallTool(func(ctx context.Context, args map[string]any) (any, error) {
		op, _ := args["operation"].(string)
		text, _ := args["text"].(string)
		meta, _ := args["meta"].(map[string]any)

		var (
			out  string
			info provider.Info
			err  error
		)
		switch op {
		case provider.OpGenerate:
			out, info, err = p.Generate(ctx, text, meta)
		case provider.OpRevise:
			out, info, err = p.Revise(ctx, text, meta)
		case provider.OpSummarize:
			out, info, err = p.Summarize(ctx, text, meta)
		default:
			return nil, fmt.Errorf("unknown model operation %q", op)
		}
		if err != nil {
			return nil, err
		}
		return ModelResult{Text: out, Info: info}, nil
	}))
}

// RegisterRetrievalTool registers the governed retrieval endpoint call.
func RegisterRetrievalTool(registry *tools.Registry, retrieve RetrievalFunc) {
	registry.MustRegister(tools.NewRetrievalTool(func(ctx context.Context, args map[string]any) (any, error) {
		query, _ := args["query"].(string)
		snippets, err := retrieve(ctx, query)
		if err != nil {
			return nil, err
		}
		if snippets == nil {
			snippets = []contextpack.Snippet{}
		}
		return snippets, nil
	}))
}

// callModel invokes the external model tool through the wrapper under
// the current invocation context.
func callModel(ctx context.Context, w *tools.Wrapper, op, text string, meta map[string]any) (ModelResult, error) {
	raw, err := w.Invoke(ctx, tools.ToolCallExternalModel, map[string]any{
		"operation": op,
		"text":      text,
		"meta":      meta,
	})
	if err != nil {
		return ModelResult{}, err
	}
	result, ok := raw.(ModelResult)
	if !ok {
		return ModelResult{}, fmt.Errorf("model tool returned unexpected type %T", raw)
	}
	return result, nil
}

// callRetrieval invokes the retrieval tool through the wrapper.
func callRetrieval(ctx context.Context, w *tools.Wrapper, query string) ([]contextpack.Snippet, error) {
	raw, err := w.Invoke(ctx, tools.ToolCallRetrieval, map[string]any{"query": query})
	if err != nil {
		return nil, err
	}
	snippets, ok := raw.([]contextpack.Snippet)
	if !ok {
		return nil, fmt.Errorf("retrieval tool returned unexpected type %T", raw)
	}
	return snippets, nil
}
