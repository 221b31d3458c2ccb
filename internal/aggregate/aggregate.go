// Package aggregate turns windows of score events into learner-profile attributes
// according to the rules of active AGGREGATE specs.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/paw2paw/hf-pipeline/internal/logging"
	"github.com/paw2paw/hf-pipeline/internal/spec"
	"github.com/paw2paw/hf-pipeline/internal/store"
)

// #region collaborators
// SpecFinder resolves active specs by output type.
type SpecFinder interface {
	FindActiveSpecsByOutputType(ctx context.Context, outputType spec.OutputType) ([]spec.ActiveSpec, error)
}

// ScoreReader returns the latest windowSize events, most recent first.
type ScoreReader interface {
	FindRecentScores(ctx context.Context, callerID, parameterID string, windowSize int) ([]store.ScoreEvent, error)
}

// AttributeWriter upserts one profile attribute keyed by (caller, key, scope).
type AttributeWriter interface {
	UpsertAttribute(ctx context.Context, callerID, key, value string, confidence float64, scope string) error
}

// #endregion collaborators

// #region result
// Result accumulates the outcome of one or more AGGREGATE specs.
type Result struct {
	SpecsRun       int
	ProfileUpdates int
	Errors         []error
}

// SpecResult is the outcome of a single spec.
type SpecResult struct {
	RulesFired     int
	ProfileUpdates int
	Errors         []error
}

// #endregion result

// #region engine
// Engine runs aggregation rules.
type Engine struct {
	specs  SpecFinder
	scores ScoreReader
	attrs  AttributeWriter
	logger *slog.Logger
}

// NewEngine creates an aggregation engine.
func NewEngine(specs SpecFinder, scores ScoreReader, attrs AttributeWriter, logger *slog.Logger) *Engine {
	return &Engine{
		specs:  specs,
		scores: scores,
		attrs:  attrs,
		logger: logging.OrDefault(logger).With("component", "aggregate"),
	}
}

// RunAggregateSpecs runs every active AGGREGATE spec for callerID. Failures inside a
// spec are collected in Result.Errors; only a failure to list specs is returned.
func (e *Engine) RunAggregateSpecs(ctx context.Context, callerID string) (Result, error) {
	specs, err := e.specs.FindActiveSpecsByOutputType(ctx, spec.OutputAggregate)
	if err != nil {
		return Result{}, fmt.Errorf("find aggregate specs: %w", err)
	}

	var res Result
	for _, s := range specs {
		sr, err := e.RunSpec(ctx, callerID, s)
		res.Errors = append(res.Errors, sr.Errors...)
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		res.SpecsRun++
		res.ProfileUpdates += sr.ProfileUpdates
	}
	return res, nil
}

// batchEntry is one attribute pending write.
type batchEntry struct {
	key   string
	value string
	scope string
}

// RunSpec evaluates every rule of one spec and writes the fired outputs as one
// batch. The returned error covers failures of the spec as a whole (no rule list,
// cancelled context); rule failures are reported in SpecResult.Errors.
func (e *Engine) RunSpec(ctx context.Context, callerID string, s spec.ActiveSpec) (SpecResult, error) {
	rules, decodeErrs, found := spec.DecodeList[spec.AggregationRule](s.Config, "aggregationRules", "rules")
	if !found {
		return SpecResult{}, &spec.RuleEvaluationError{SpecSlug: s.Slug, Err: errors.New("config has no aggregationRules list")}
	}
	if rules == nil && len(decodeErrs) > 0 {
		return SpecResult{}, &spec.RuleEvaluationError{SpecSlug: s.Slug, Err: decodeErrs[0]}
	}
	defaultScope := strings.TrimSpace(spec.String(s.Config, "scope"))
	if defaultScope == "" {
		defaultScope = store.ScopeLearnerProfile
	}

	var (
		res        SpecResult
		batch      []batchEntry
		index      = make(map[string]int)
		confidence float64
	)
	for i, rule := range rules {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := ruleName(rule, i)
		if decodeErrs[i] != nil {
			res.Errors = append(res.Errors, &spec.RuleEvaluationError{SpecSlug: s.Slug, Rule: name, Err: decodeErrs[i]})
			continue
		}

		out, fired, err := e.evaluateRule(ctx, callerID, rule)
		if err != nil {
			e.logger.Warn("aggregation rule failed", "spec", s.Slug, "rule", name, "error", err)
			res.Errors = append(res.Errors, &spec.RuleEvaluationError{SpecSlug: s.Slug, Rule: name, Err: err})
			continue
		}
		if !fired {
			continue
		}

		scope := strings.TrimSpace(rule.Scope)
		if scope == "" {
			scope = defaultScope
		}
		entry := batchEntry{key: rule.TargetProfileKey, value: out.Value, scope: scope}
		id := scope + "\x00" + entry.key
		if j, dup := index[id]; dup {
			batch[j] = entry
		} else {
			index[id] = len(batch)
			batch = append(batch, entry)
		}
		confidence += out.Confidence
		res.RulesFired++
	}

	if res.RulesFired == 0 {
		e.logger.Debug("no aggregation rule fired", "spec", s.Slug, "caller", callerID)
		return res, nil
	}

	confidence /= float64(res.RulesFired)
	for _, entry := range batch {
		if err := e.attrs.UpsertAttribute(ctx, callerID, entry.key, entry.value, confidence, entry.scope); err != nil {
			res.Errors = append(res.Errors, &spec.RuleEvaluationError{SpecSlug: s.Slug, Rule: entry.key, Err: err})
			continue
		}
		res.ProfileUpdates++
	}
	e.logger.Debug("aggregation spec applied", "spec", s.Slug, "caller", callerID,
		"rules_fired", res.RulesFired, "updates", res.ProfileUpdates)
	return res, nil
}

// evaluateRule fetches the window and applies the rule. fired is false for a short
// window or an unmatched threshold mapping.
func (e *Engine) evaluateRule(ctx context.Context, callerID string, rule spec.AggregationRule) (Outcome, bool, error) {
	if err := validateRule(rule); err != nil {
		return Outcome{}, false, err
	}
	minObs := rule.MinimumObservations
	if minObs < 1 {
		minObs = 1
	}

	events, err := e.scores.FindRecentScores(ctx, callerID, rule.SourceParameter, rule.WindowSize)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("read scores for %s: %w", rule.SourceParameter, err)
	}
	if len(events) < minObs {
		e.logger.Log(ctx, logging.LevelTrace, "insufficient observations",
			"parameter", rule.SourceParameter, "have", len(events), "need", minObs)
		return Outcome{}, false, nil
	}

	w := NewWindow(events)
	out, ok, err := Evaluate(rule, w)
	if err != nil {
		return Outcome{}, false, err
	}
	if !ok {
		e.logger.Debug("no threshold band matched", "parameter", rule.SourceParameter, "mean", w.WeightedMean)
		return Outcome{}, false, nil
	}
	e.logger.Log(ctx, logging.LevelTrace, "rule evaluated", "parameter", rule.SourceParameter,
		"method", rule.Method, "mean", w.WeightedMean, "value", out.Value, "confidence", out.Confidence)
	return out, true, nil
}

// #endregion engine

// #region helpers
func validateRule(rule spec.AggregationRule) error {
	switch {
	case strings.TrimSpace(rule.SourceParameter) == "":
		return errors.New("sourceParameter is required")
	case strings.TrimSpace(rule.TargetProfileKey) == "":
		return errors.New("targetProfileKey is required")
	case rule.WindowSize < 1:
		return fmt.Errorf("windowSize must be positive, got %d", rule.WindowSize)
	case rule.Method != spec.MethodWeightedAverage && rule.Method != spec.MethodThresholdMapping && rule.Method != spec.MethodConsensus:
		return fmt.Errorf("unknown aggregation method %q", rule.Method)
	case rule.Method == spec.MethodThresholdMapping && len(rule.Thresholds) == 0:
		return errors.New("threshold_mapping requires thresholds")
	}
	return nil
}

func ruleName(rule spec.AggregationRule, i int) string {
	if rule.TargetProfileKey != "" {
		return rule.TargetProfileKey
	}
	if rule.SourceParameter != "" {
		return rule.SourceParameter
	}
	return fmt.Sprintf("#%d", i)
}

// #endregion helpers
