// Package pipeline drives a task through the five governed stages in
// catalog order, threading the context pack and the metadata bundle,
// applying the deterministic transformer at the Revisor and Summarizer,
// and finalizing governance whether the task succeeds or fails.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dansasser/multi-corpus-governance-agent/internal/audit"
	"github.com/dansasser/multi-corpus-governance-agent/internal/contextpack"
	"github.com/dansasser/multi-corpus-governance-agent/internal/governance"
	"github.com/dansasser/multi-corpus-governance-agent/internal/provider"
	"github.com/dansasser/multi-corpus-governance-agent/internal/tools"
	"github.com/dansasser/multi-corpus-governance-agent/internal/transform"
)

// classifyWritingThreshold is the prompt length at which a task is
// classified as writing instead of chat.
const classifyWritingThreshold = 80

// Task classifications. The classification rides in the governance
// context; it never alters stage order.
const (
	ClassificationChat    = "chat"
	ClassificationWriting = "writing"
)

// Classify buckets a prompt by length.
func Classify(prompt string) string {
	if len(prompt) >= classifyWritingThreshold {
		return ClassificationWriting
	}
	return ClassificationChat
}

// TaskError wraps a stage failure with the allocated task id so callers
// can correlate with audit records.
type TaskError struct {
	TaskID string
	Stage  governance.Stage
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed at %s: %v", e.TaskID, e.Stage, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Outcome is the result of one completed task.
type Outcome struct {
	TaskID     string              `json:"task_id"`
	FinalStage governance.Stage    `json:"final_stage"`
	Content    string              `json:"content"`
	Bundle     *Bundle             `json:"metadata"`
	Governance *governance.Summary `json:"governance"`
}

// Deps wires a driver. Enforcer, Wrapper, Assembler, and Internal are
// required; External is optional (pass-through drafting without it).
type Deps struct {
	Enforcer  *governance.Enforcer
	Wrapper   *tools.Wrapper
	Assembler *contextpack.Assembler
	External  provider.Provider
	Internal  *provider.Transformer
	Trail     *audit.Trail
	Metrics   *StageMetrics
	Logger    *zap.Logger
}

// Driver sequences the five stages for one task at a time. A single
// driver serves concurrent tasks; stages of the same task never overlap.
type Driver struct {
	enforcer  *governance.Enforcer
	wrapper   *tools.Wrapper
	assembler *contextpack.Assembler
	external  provider.Provider
	internal  *provider.Transformer
	trail     *audit.Trail
	metrics   *StageMetrics
	logger    *zap.Logger
}

// NewDriver builds a driver from its dependencies.
func NewDriver(d Deps) *Driver {
	if d.Internal == nil {
		d.Internal = provider.NewTransformer(provider.ModePunctuationOnly, transform.DefaultPolicy())
	}
	if d.Trail == nil {
		d.Trail = audit.NewTrail(nil, d.Logger)
	}
	if d.Metrics == nil {
		d.Metrics = NewStageMetrics()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Driver{
		enforcer:  d.Enforcer,
		wrapper:   d.Wrapper,
		assembler: d.Assembler,
		external:  d.External,
		internal:  d.Internal,
		trail:     d.Trail,
		metrics:   d.Metrics,
		logger:    d.Logger.Named("pipeline"),
	}
}

// Metrics exposes the stage counters.
func (d *Driver) Metrics() *StageMetrics { return d.metrics }

// taskRun is the mutable state threaded through one task's stages.
type taskRun struct {
	taskID         string
	classification string
	content        string
	pack           *contextpack.Pack
	bundle         *Bundle
}

// Run drives one prompt through all five stages. On stage failure the
// stage is recorded as failed, governance is finalized, and the error
// propagates wrapped in a TaskError carrying the task id.
func (d *Driver) Run(ctx context.Context, userID, prompt string) (*Outcome, error) {
	taskID := uuid.NewString()
	classification := Classify(prompt)
	d.enforcer.BeginTask(taskID, userID, classification)

	d.logger.Info("task started",
		zap.String("task_id", taskID),
		zap.String("classification", classification),
		zap.Int("prompt_len", len(prompt)))

	run := &taskRun{
		taskID:         taskID,
		classification: classification,
		content:        prompt,
		bundle:         newBundle(taskID, prompt),
	}

	stageFns := map[governance.Stage]func(context.Context, *taskRun) error{
		governance.StageIdeator:    d.runIdeator,
		governance.StageDrafter:    d.runDrafter,
		governance.StageCritic:     d.runCritic,
		governance.StageRevisor:    d.runRevisor,
		governance.StageSummarizer: d.runSummarizer,
	}

	var lastStage governance.Stage
	for _, stage := range d.enforcer.Catalog().StagesInOrder() {
		lastStage = stage
		sctx := tools.WithInvocation(ctx, tools.Invocation{
			TaskID:         taskID,
			Stage:          stage,
			Classification: classification,
		})

		start := time.Now()
		err := stageFns[stage](sctx, run)
		if err == nil {
			err = d.enforcer.ValidateStageOutput(stage, run.content, taskID)
		}
		if err != nil {
			d.metrics.RecordFailure(stage)
			d.trail.StageCompletion(taskID, stage, "fail", time.Since(start))
			if _, ferr := d.enforcer.Finalize(taskID); ferr != nil {
				d.logger.Error("finalize after stage failure", zap.String("task_id", taskID), zap.Error(ferr))
			}
			return nil, &TaskError{TaskID: taskID, Stage: stage, Err: err}
		}
		d.metrics.RecordSuccess(stage)
		d.trail.StageCompletion(taskID, stage, "success", time.Since(start))
	}

	run.bundle.Role = lastStage
	run.bundle.FinalOutput = run.content
	run.bundle.TokenStats.OutputTokens = countTokens(run.content)
	run.bundle.LongTailKeywords = longTailKeywords(run.content)

	summary, err := d.enforcer.Finalize(taskID)
	if err != nil {
		return nil, &TaskError{TaskID: taskID, Stage: lastStage, Err: err}
	}
	run.bundle.Governance = summary
	d.trail.MetadataBundle(taskID, run.bundle)

	d.logger.Info("task completed",
		zap.String("task_id", taskID),
		zap.Int("changes", len(run.bundle.ChangeLog)),
		zap.Int("violations", summary.ViolationCount))

	return &Outcome{
		TaskID:     taskID,
		FinalStage: lastStage,
		Content:    run.content,
		Bundle:     run.bundle,
		Governance: summary,
	}, nil
}

// runIdeator assembles and seals the context pack. Content passes
// through unchanged.
func (d *Driver) runIdeator(ctx context.Context, run *taskRun) error {
	pack, records, err := d.assembler.Assemble(ctx, run.taskID, run.content)
	if err != nil {
		return err
	}
	pack.Seal()
	run.pack = pack
	run.bundle.Attribution = append(run.bundle.Attribution, records...)
	run.bundle.InputSources = inputSources(pack)
	return nil
}

// runDrafter optionally generates a draft through the governed model
// tool. Without an external provider the prompt passes through.
func (d *Driver) runDrafter(ctx context.Context, run *taskRun) error {
	if d.external == nil {
		return nil
	}
	res, err := callModel(ctx, d.wrapper, provider.OpGenerate, draftPrompt(run), nil)
	if err != nil {
		return err
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil
	}
	run.bundle.Attribution = append(run.bundle.Attribution, contextpack.NewAttribution(
		contextpack.SourceGenerated, res.Info.Model, res.Text, governance.StageDrafter, run.taskID))
	run.content = res.Text
	return nil
}

// runCritic validates the draft. Under pass-through semantics it emits
// neutral scores, flags tone, and consults retrieval when the endpoint
// is registered.
func (d *Driver) runCritic(ctx context.Context, run *taskRun) error {
	run.bundle.Scores = Scores{Truth: 1.0, Safety: 1.0, Voice: 1.0}
	if strings.Count(run.content, "!") > 3 {
		run.bundle.ToneFlags = append(run.bundle.ToneFlags, "exclamatory")
	}

	if !d.wrapper.Registry().Has(tools.ToolCallRetrieval) {
		return nil
	}
	snippets, err := callRetrieval(ctx, d.wrapper, run.content)
	if err != nil {
		return err
	}
	for _, sn := range snippets {
		run.bundle.Attribution = append(run.bundle.Attribution, contextpack.NewAttribution(
			contextpack.SourceRetrieval, sn.Attribution, sn.Text, governance.StageCritic, run.taskID))
	}
	return nil
}

// runRevisor revises through the preferred path decided by the
// enforcer, then always applies the deterministic rules. A content
// change appends a change-log entry.
func (d *Driver) runRevisor(ctx context.Context, run *taskRun) error {
	decision, err := d.enforcer.ValidateTransformerRequirement(
		governance.StageRevisor, run.taskID, d.internal.Available())
	if err != nil {
		return err
	}

	prior := run.content
	revised := prior
	var info provider.Info

	switch {
	case decision.UseTransformer:
		revised, info, err = d.internal.Revise(ctx, prior, nil)
		if err != nil {
			return err
		}
	case decision.CanFallbackToAPI && d.external != nil:
		instruction := fmt.Sprintf(d.enforcer.Catalog().ReviseCallTemplate(), prior)
		res, err := callModel(ctx, d.wrapper, provider.OpRevise, instruction, nil)
		if err != nil {
			return err
		}
		revised = res.Text
		info = res.Info
	}

	normalized, rules := transform.Apply(revised, d.enforcer.Catalog().PunctuationPolicy())
	if normalized != prior {
		run.bundle.appendChange(governance.StageRevisor, ReasonPunctuationNormalization,
			prior, normalized, rules, info)
	}
	run.content = normalized
	return nil
}

// runSummarizer runs the mandatory transformer pass. An external call
// happens only under emergency authorization, which defaults to denied,
// and runs through the wrapper like every other call so it is tracked,
// audited, and attributed.
func (d *Driver) runSummarizer(ctx context.Context, run *taskRun) error {
	decision, err := d.enforcer.ValidateTransformerRequirement(
		governance.StageSummarizer, run.taskID, d.internal.Available())
	if err != nil {
		return err
	}

	prior := run.content
	out := prior
	var info provider.Info

	switch {
	case decision.UseTransformer:
		out, info, err = d.internal.Summarize(ctx, prior, nil)
		if err != nil {
			return err
		}
	case decision.CanFallbackToAPI && d.external != nil:
		res, err := callModel(ctx, d.wrapper, provider.OpSummarize, prior, nil)
		if err != nil {
			return err
		}
		out = res.Text
		info = res.Info
		run.bundle.Attribution = append(run.bundle.Attribution, contextpack.NewAttribution(
			contextpack.SourceGenerated, res.Info.Model, res.Text, governance.StageSummarizer, run.taskID))
	}

	normalized, rules := transform.Apply(out, d.enforcer.Catalog().PunctuationPolicy())
	if normalized != prior {
		run.bundle.PunctuationNormalization = NormalizationNote{
			Applied:      true,
			Rules:        rules,
			ProviderInfo: info,
		}
	}
	run.content = normalized
	return nil
}

// inputSources lists the user prompt plus the distinct corpus origins
// that contributed context, in pack order.
func inputSources(pack *contextpack.Pack) []string {
	sources := []string{"user_input"}
	seen := make(map[contextpack.Origin]struct{})
	for _, sn := range pack.Snippets() {
		if _, ok := seen[sn.Origin]; ok {
			continue
		}
		seen[sn.Origin] = struct{}{}
		sources = append(sources, string(sn.Origin))
	}
	return sources
}

// draftPrompt folds a bounded slice of context into the generation
// prompt.
func draftPrompt(run *taskRun) string {
	snippets := run.pack.Snippets()
	if len(snippets) == 0 {
		return run.content
	}
	if len(snippets) > 6 {
		snippets = snippets[:6]
	}
	var b strings.Builder
	b.WriteString(run.content)
	b.WriteString("\n\nContext:\n")
	for _, sn := range snippets {
		b.WriteString("- [")
		b.WriteString(string(sn.Origin))
		b.WriteString("] ")
		b.WriteString(sn.Text)
		b.WriteString("\n")
	}
	return b.String()
}
