package contextpack

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dansasser/multi-corpus-governance-agent/internal/governance"
	"github.com/dansasser/multi-corpus-governance-agent/internal/tools"
)

// Assembler gathers the task's context pack during the Ideator stage by
// running the three corpus search tools through the governed wrapper.
// The queries fan out concurrently but the pack order is deterministic:
// all personal results, then social, then published, each in the order
// the search layer ranked them.
type Assembler struct {
	wrapper *tools.Wrapper
	logger  *zap.Logger
}

// NewAssembler wires an assembler to the tool wrapper.
func NewAssembler(wrapper *tools.Wrapper, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{wrapper: wrapper, logger: logger.Named("assembler")}
}

// Assemble queries each corpus and returns the unsealed pack plus one
// attribution record per snippet. The caller must run it under the
// Ideator's invocation context; the wrapper enforces corpus access per
// query.
func (a *Assembler) Assemble(ctx context.Context, taskID, query string) (*Pack, []AttributionRecord, error) {
	corpora := governance.Corpora()
	gathered := make([][]Snippet, len(corpora))

	g, gctx := errgroup.WithContext(ctx)
	for i, corpus := range corpora {
		g.Go(func() error {
			result, err := a.wrapper.Invoke(gctx, "search_"+string(corpus), map[string]any{
				"query":  query,
				"corpus": string(corpus),
			})
			if err != nil {
				return fmt.Errorf("assemble %s context: %w", corpus, err)
			}
			snippets, ok := result.([]Snippet)
			if !ok {
				return fmt.Errorf("assemble %s context: unexpected result type %T", corpus, result)
			}
			gathered[i] = snippets
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	pack := New()
	var records []AttributionRecord
	for i, corpus := range corpora {
		if len(gathered[i]) == 0 {
			a.logger.Debug("corpus returned no context",
				zap.String("task_id", taskID),
				zap.String("corpus", string(corpus)))
			continue
		}
		pack.Append(gathered[i]...)
		for _, sn := range gathered[i] {
			records = append(records, NewAttribution(
				SourceCorpus, sn.Attribution, sn.Text, governance.StageIdeator, taskID))
		}
	}

	a.logger.Info("context pack assembled",
		zap.String("task_id", taskID),
		zap.Int("snippets", pack.Len()))
	return pack, records, nil
}
