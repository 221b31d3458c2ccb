// Package orchestrator sequences one caller run across the configured stages and
// isolates per-spec failures into a structured summary.
package orchestrator

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paw2paw/hf-pipeline/internal/guardrail"
	"github.com/paw2paw/hf-pipeline/internal/logging"
	"github.com/paw2paw/hf-pipeline/internal/spec"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// #endregion

// #region orchestrator-struct

// Orchestrator runs the pipeline for one caller at a time. Independent callers may
// run concurrently on the same Orchestrator.
type Orchestrator struct {
	c           Components
	decisions   *logging.DecisionLog
	specTimeout time.Duration
	logger      *slog.Logger
}

// Options tune an orchestrator. The zero value is usable.
type Options struct {
	// SpecTimeout bounds each spec's execution; zero disables the bound.
	SpecTimeout time.Duration
	// Decisions receives one entry per spec decision; nil disables the decision log.
	Decisions *logging.DecisionLog
	Logger    *slog.Logger
}

// #endregion

// #region constructor

// NewOrchestrator wires the collaborators. Stages, Specs, Validator and Guardrails
// are required; a nil Aggregator or Adapter leaves that output type without an
// executor.
func NewOrchestrator(c Components, opts Options) (*Orchestrator, error) {
	switch {
	case c.Stages == nil:
		return nil, errors.New("orchestrator: stage loader is required")
	case c.Specs == nil:
		return nil, errors.New("orchestrator: spec finder is required")
	case c.Validator == nil:
		return nil, errors.New("orchestrator: dependency validator is required")
	case c.Guardrails == nil:
		return nil, errors.New("orchestrator: guardrail loader is required")
	}
	return &Orchestrator{
		c:           c,
		decisions:   opts.Decisions,
		specTimeout: opts.SpecTimeout,
		logger:      logging.OrDefault(opts.Logger).With("component", "orchestrator"),
	}, nil
}

// #endregion

// #region run

// Run executes every stage for callerID. When outputTypes is non-empty only those
// output types are processed. The returned error is non-nil only for an empty caller
// id or a missing or malformed stage configuration; every other failure lands in
// RunSummary.Errors.
func (o *Orchestrator) Run(ctx context.Context, callerID string, outputTypes ...spec.OutputType) (*RunSummary, error) {
	if strings.TrimSpace(callerID) == "" {
		return nil, errors.New("caller id is required")
	}
	sum := &RunSummary{RunID: uuid.NewString(), CallerID: callerID}
	log := o.logger.With("run", sum.RunID, "caller", callerID)

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("run_id", sum.RunID),
			attribute.String("caller_id", callerID),
		),
	)
	defer span.End()

	stageList, err := o.c.Stages.LoadStages(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage configuration")
		o.record(ctx, logging.DecisionEntry{
			RunID: sum.RunID, CallerID: callerID, OutputType: string(spec.OutputPipeline),
			Decision: logging.DecisionFailed, Reason: err.Error(),
		})
		recordRun(ctx, "config_error")
		return nil, fmt.Errorf("load stages: %w", err)
	}

	clamp, warnings, err := o.c.Guardrails.Load(ctx)
	sum.Warnings = append(sum.Warnings, warnings...)
	if err != nil {
		log.Warn("guardrails unavailable, using defaults", "error", err)
		sum.Warnings = append(sum.Warnings, fmt.Sprintf("guardrails unavailable, using defaults: %v", err))
		clamp = guardrail.DefaultConfig()
	}
	sum.GuardrailSpec = clamp.SourceSpec

	wanted := make(map[spec.OutputType]bool, len(outputTypes))
	for _, ot := range outputTypes {
		wanted[ot] = true
	}
	done := make(map[spec.OutputType]bool)

	for _, stage := range stageList {
		sum.Stages = append(sum.Stages, stage.Name)
		for _, ot := range stage.OutputTypes {
			if len(wanted) > 0 && !wanted[ot] {
				continue
			}
			if done[ot] || !o.hasExecutor(ot) {
				continue
			}
			done[ot] = true
			if err := ctx.Err(); err != nil {
				sum.Errors = append(sum.Errors, fmt.Sprintf("run cancelled before %s: %v", ot, err))
				break
			}
			o.runOutputType(ctx, log, sum, stage.Name, ot, clamp)
		}
	}

	span.SetAttributes(
		attribute.Int("specs_run", sum.SpecsRun),
		attribute.Int("profile_updates", sum.ProfileUpdates),
		attribute.Int("targets_created", sum.TargetsCreated),
		attribute.Int("targets_updated", sum.TargetsUpdated),
		attribute.Int("errors", len(sum.Errors)),
	)
	outcome := "ok"
	if !sum.OK() {
		outcome = "partial"
		span.SetStatus(codes.Error, "spec failures")
	}
	recordRun(ctx, outcome)
	log.Info("pipeline run complete", "specs_run", sum.SpecsRun, "profile_updates", sum.ProfileUpdates,
		"targets_created", sum.TargetsCreated, "targets_updated", sum.TargetsUpdated,
		"skipped", len(sum.Skipped), "errors", len(sum.Errors))
	return sum, nil
}

func (o *Orchestrator) hasExecutor(ot spec.OutputType) bool {
	switch ot {
	case spec.OutputAggregate:
		return o.c.Aggregator != nil
	case spec.OutputAdapt:
		return o.c.Adapter != nil
	}
	return false
}

// #endregion

// #region output-type

// runOutputType resolves, validates and executes every spec of one output type.
func (o *Orchestrator) runOutputType(ctx context.Context, log *slog.Logger, sum *RunSummary, stageName string, ot spec.OutputType, clamp guardrail.Config) {
	specs, err := o.c.Specs.FindActiveSpecsByOutputType(ctx, ot)
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("stage %s: resolve %s specs: %v", stageName, ot, err))
		return
	}
	if len(specs) == 0 {
		log.Debug("no active specs", "stage", stageName, "output_type", ot)
		return
	}

	slugs := make([]string, len(specs))
	for i, s := range specs {
		slugs[i] = s.Slug
	}
	report, err := o.c.Validator.Validate(ctx, slugs)
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("stage %s: validate %s specs: %v", stageName, ot, err))
		return
	}
	sum.Warnings = append(sum.Warnings, report.Warnings...)
	sum.Skipped = append(sum.Skipped, report.Skipped...)

	for _, s := range specs {
		if report.IsSkipped(s.Slug) {
			reason := "missing dependencies: " + strings.Join(report.MissingFor(s.Slug), ", ")
			log.Info("spec skipped", "spec", s.Slug, "reason", reason)
			recordSpec(ctx, string(ot), string(logging.DecisionSkipped))
			o.record(ctx, logging.DecisionEntry{
				RunID: sum.RunID, CallerID: sum.CallerID, SpecSlug: s.Slug, OutputType: string(ot),
				Decision: logging.DecisionSkipped, Reason: reason,
			})
			continue
		}

		out := o.execute(ctx, sum.CallerID, s, clamp)
		sum.Warnings = append(sum.Warnings, out.warnings...)
		for _, e := range out.errors {
			sum.Errors = append(sum.Errors, e.Error())
		}

		entry := logging.DecisionEntry{
			RunID: sum.RunID, CallerID: sum.CallerID, SpecSlug: s.Slug, OutputType: string(ot),
			Details: map[string]int{
				"profileUpdates": out.profileUpdates,
				"targetsCreated": out.targetsCreated,
				"targetsUpdated": out.targetsUpdated,
				"ruleErrors":     len(out.errors),
			},
		}
		if out.err != nil {
			msg := fmt.Sprintf("spec %s: %v", s.Slug, out.err)
			var re *spec.RuleEvaluationError
			if errors.As(out.err, &re) {
				msg = out.err.Error()
			}
			sum.Errors = append(sum.Errors, msg)
			log.Warn("spec failed", "spec", s.Slug, "error", out.err)
			entry.Decision, entry.Reason = logging.DecisionFailed, out.err.Error()
		} else {
			sum.SpecsRun++
			sum.ProfileUpdates += out.profileUpdates
			sum.TargetsCreated += out.targetsCreated
			sum.TargetsUpdated += out.targetsUpdated
			entry.Decision = logging.DecisionRan
			recordWrites(ctx, "attribute", out.profileUpdates)
			recordWrites(ctx, "target", out.targetsCreated+out.targetsUpdated)
		}
		recordSpec(ctx, string(ot), string(entry.Decision))
		o.record(ctx, entry)
	}
}

// #endregion

// #region execute

// execute runs one spec under the per-spec timeout. A panic in the engine becomes
// the spec's error.
func (o *Orchestrator) execute(ctx context.Context, callerID string, s spec.ActiveSpec, clamp guardrail.Config) (out specOutcome) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "pipeline.Spec",
		trace.WithAttributes(
			attribute.String("spec", s.Slug),
			attribute.String("output_type", string(s.OutputType)),
		),
	)
	defer span.End()

	if o.specTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.specTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("panic: %v", r)
		}
		if out.err != nil {
			span.RecordError(out.err)
			span.SetStatus(codes.Error, "spec failed")
		}
	}()

	switch s.OutputType {
	case spec.OutputAggregate:
		res, err := o.c.Aggregator.RunSpec(ctx, callerID, s)
		out.profileUpdates = res.ProfileUpdates
		out.errors = res.Errors
		out.err = err
	case spec.OutputAdapt:
		res, err := o.c.Adapter.RunSpec(ctx, callerID, s, clamp)
		out.targetsCreated = res.TargetsCreated
		out.targetsUpdated = res.TargetsUpdated
		out.warnings = res.Warnings
		out.errors = res.Errors
		out.err = err
	default:
		out.err = fmt.Errorf("no executor for output type %s", s.OutputType)
	}
	if out.err == nil && ctx.Err() != nil {
		out.err = ctx.Err()
	}
	return out
}

// #endregion

// #region decision-log

func (o *Orchestrator) record(ctx context.Context, entry logging.DecisionEntry) {
	if err := o.decisions.Record(ctx, entry); err != nil {
		o.logger.Warn("decision log write failed", "run", entry.RunID, "spec", entry.SpecSlug, "error", err)
	}
}

// Summary renders a summary as indented JSON for CLI output and fixtures.
func Summary(s *RunSummary) string {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", *s)
	}
	return string(data)
}

// #endregion
