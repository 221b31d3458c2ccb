// Package stages resolves the ordered list of pipeline stages from the primary
// PIPELINE spec.
package stages

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/paw2paw/hf-pipeline/internal/logging"
	"github.com/paw2paw/hf-pipeline/internal/spec"
)

// #region types
// DefaultStageSpec is the slug of the primary stage configuration spec.
const DefaultStageSpec = "PIPELINE-001"

// Mode controls what happens when the stage spec is missing.
type Mode string

const (
	// ModeStrict treats a missing stage spec as a configuration error.
	ModeStrict Mode = "strict"
	// ModeFallback uses DefaultStages when the stage spec is missing.
	ModeFallback Mode = "fallback"
)

// ParseMode parses a mode name. Empty means strict.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeStrict:
		return ModeStrict, nil
	case ModeFallback:
		return ModeFallback, nil
	}
	return "", fmt.Errorf("unknown stage mode %q (want strict or fallback)", s)
}

// Stage is one named step of a run.
type Stage struct {
	Name        string            `json:"name"`
	Order       int               `json:"order"`
	OutputTypes []spec.OutputType `json:"outputTypes"`
}

// Handles reports whether the stage processes outputType.
func (s Stage) Handles(outputType spec.OutputType) bool {
	for _, ot := range s.OutputTypes {
		if ot == outputType {
			return true
		}
	}
	return false
}

// DefaultStages is the compiled-in stage list used in fallback mode.
func DefaultStages() []Stage {
	return []Stage{
		{Name: "EXTRACT", Order: 10, OutputTypes: []spec.OutputType{spec.OutputLearn, spec.OutputMeasure}},
		{Name: "SCORE_AGENT", Order: 20, OutputTypes: []spec.OutputType{spec.OutputMeasureAgent}},
		{Name: "AGGREGATE", Order: 30, OutputTypes: []spec.OutputType{spec.OutputAggregate}},
		{Name: "REWARD", Order: 40, OutputTypes: []spec.OutputType{spec.OutputReward}},
		{Name: "ADAPT", Order: 50, OutputTypes: []spec.OutputType{spec.OutputAdapt}},
		{Name: "SUPERVISE", Order: 60, OutputTypes: []spec.OutputType{spec.OutputSupervise}},
		{Name: "COMPOSE", Order: 70, OutputTypes: []spec.OutputType{spec.OutputCompose}},
	}
}

// #endregion types

// #region scheduler
// SpecLookup finds one active spec by slug, returning nil when there is none.
type SpecLookup interface {
	FindActive(ctx context.Context, slug string) (*spec.ActiveSpec, error)
}

// Scheduler loads stage definitions.
type Scheduler struct {
	specs  SpecLookup
	slug   string
	mode   Mode
	logger *slog.Logger
}

// NewScheduler creates a scheduler reading stageSpec (DefaultStageSpec when empty).
func NewScheduler(specs SpecLookup, stageSpec string, mode Mode, logger *slog.Logger) *Scheduler {
	if stageSpec == "" {
		stageSpec = DefaultStageSpec
	}
	if mode == "" {
		mode = ModeStrict
	}
	return &Scheduler{
		specs:  specs,
		slug:   stageSpec,
		mode:   mode,
		logger: logging.OrDefault(logger).With("component", "stages"),
	}
}

// LoadStages returns the stages ordered by Order. Stages with equal Order keep
// their declared order. A missing spec is fatal in strict mode; a malformed one is
// fatal in every mode.
func (s *Scheduler) LoadStages(ctx context.Context) ([]Stage, error) {
	rec, err := s.specs.FindActive(ctx, s.slug)
	if err != nil {
		return nil, &spec.ConfigurationError{Slug: s.slug, Reason: fmt.Sprintf("stage spec lookup failed: %v", err)}
	}
	if rec == nil {
		if s.mode == ModeFallback {
			s.logger.Warn("stage spec not active, using default stages", "spec", s.slug)
			return DefaultStages(), nil
		}
		return nil, &spec.ConfigurationError{
			Slug:   s.slug,
			Reason: "stage spec is missing, inactive or dirty",
			Hint:   "activate the PIPELINE spec or run with stage mode \"fallback\"",
		}
	}

	stages, err := Parse(rec)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("stages loaded", "spec", s.slug, "count", len(stages))
	return stages, nil
}

// #endregion scheduler

// #region parse
// Parse extracts {"stages":[{name, order, outputTypes}]} from a PIPELINE spec.
func Parse(rec *spec.ActiveSpec) ([]Stage, error) {
	malformed := func(reason string) error {
		return &spec.ConfigurationError{Slug: rec.Slug, Reason: reason, Hint: `expected {"stages":[{"name","order","outputTypes":[...]}]}`}
	}

	items, errs, found := spec.DecodeList[Stage](rec.Config, "stages")
	if !found {
		return nil, malformed("config has no stages list")
	}
	for _, err := range errs {
		if err != nil {
			return nil, malformed(err.Error())
		}
	}
	if len(items) == 0 {
		return nil, malformed("stages list is empty")
	}

	for i := range items {
		items[i].Name = strings.TrimSpace(items[i].Name)
		if items[i].Name == "" {
			return nil, malformed(fmt.Sprintf("stages[%d] has no name", i))
		}
		if len(items[i].OutputTypes) == 0 {
			return nil, malformed(fmt.Sprintf("stage %s declares no output types", items[i].Name))
		}
		for j, ot := range items[i].OutputTypes {
			norm := spec.OutputType(strings.ToUpper(strings.TrimSpace(string(ot))))
			if !spec.KnownOutputType(norm) {
				return nil, malformed(fmt.Sprintf("stage %s: unknown output type %q", items[i].Name, ot))
			}
			items[i].OutputTypes[j] = norm
		}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	return items, nil
}

// #endregion parse
