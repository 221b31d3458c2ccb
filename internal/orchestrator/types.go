package orchestrator

// #region imports
import (
	"context"

	"github.com/paw2paw/hf-pipeline/internal/adapt"
	"github.com/paw2paw/hf-pipeline/internal/aggregate"
	"github.com/paw2paw/hf-pipeline/internal/deps"
	"github.com/paw2paw/hf-pipeline/internal/guardrail"
	"github.com/paw2paw/hf-pipeline/internal/spec"
	"github.com/paw2paw/hf-pipeline/internal/stages"
)

// #endregion

// #region collaborators

// StageLoader resolves the ordered stage list.
type StageLoader interface {
	LoadStages(ctx context.Context) ([]stages.Stage, error)
}

// SpecFinder resolves active specs by output type.
type SpecFinder interface {
	FindActiveSpecsByOutputType(ctx context.Context, outputType spec.OutputType) ([]spec.ActiveSpec, error)
}

// DependencyValidator reports specs with unresolved prerequisites.
type DependencyValidator interface {
	Validate(ctx context.Context, slugs []string) (deps.Report, error)
}

// GuardrailLoader loads the current guardrail configuration.
type GuardrailLoader interface {
	Load(ctx context.Context) (guardrail.Config, []string, error)
}

// AggregateRunner executes one AGGREGATE spec.
type AggregateRunner interface {
	RunSpec(ctx context.Context, callerID string, s spec.ActiveSpec) (aggregate.SpecResult, error)
}

// AdaptRunner executes one ADAPT spec under the given guardrails.
type AdaptRunner interface {
	RunSpec(ctx context.Context, callerID string, s spec.ActiveSpec, clamp adapt.Clamper) (adapt.SpecResult, error)
}

// Components are the collaborators an orchestrator sequences.
type Components struct {
	Stages     StageLoader
	Specs      SpecFinder
	Validator  DependencyValidator
	Guardrails GuardrailLoader
	Aggregator AggregateRunner
	Adapter    AdaptRunner
}

// #endregion

// #region run-summary

// RunSummary is the structured result of one caller run.
type RunSummary struct {
	RunID          string             `json:"runId"`
	CallerID       string             `json:"callerId"`
	Stages         []string           `json:"stages"`
	GuardrailSpec  string             `json:"guardrailSpec,omitempty"`
	SpecsRun       int                `json:"specsRun"`
	ProfileUpdates int                `json:"profileUpdates"`
	TargetsCreated int                `json:"targetsCreated"`
	TargetsUpdated int                `json:"targetsUpdated"`
	Skipped        []deps.SkippedSpec `json:"skipped,omitempty"`
	Warnings       []string           `json:"warnings,omitempty"`
	Errors         []string           `json:"errors,omitempty"`
}

// OK reports whether the run finished without errors.
func (s *RunSummary) OK() bool {
	return len(s.Errors) == 0
}

// #endregion

// #region spec-outcome

// specOutcome is what one spec contributed to the run.
type specOutcome struct {
	profileUpdates int
	targetsCreated int
	targetsUpdated int
	warnings       []string
	errors         []error
	err            error // the spec as a whole failed
}

// #endregion
