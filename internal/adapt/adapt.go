// Package adapt evaluates adaptation rules against a caller's profile and writes
// clamped behavior targets.
package adapt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/paw2paw/hf-pipeline/internal/guardrail"
	"github.com/paw2paw/hf-pipeline/internal/logging"
	"github.com/paw2paw/hf-pipeline/internal/spec"
	"github.com/paw2paw/hf-pipeline/internal/store"
)

const (
	defaultSetValue   = 0.5
	defaultCurrent    = 0.5
	defaultDelta      = 0.1
	targetConfidence  = 0.8
	keySeparator      = "\x00"
	profileScopeField = "profileScope"
)

// #region collaborators
// SpecFinder resolves active specs by output type.
type SpecFinder interface {
	FindActiveSpecsByOutputType(ctx context.Context, outputType spec.OutputType) ([]spec.ActiveSpec, error)
}

// ProfileReader returns a caller's attributes for one scope as key -> value.
type ProfileReader interface {
	FindAttributes(ctx context.Context, callerID, scope string) (map[string]string, error)
}

// TargetStore reads and upserts behavior targets.
type TargetStore interface {
	FindTarget(ctx context.Context, callerID, parameterID string) (*store.Target, error)
	UpsertTarget(ctx context.Context, callerID, parameterID string, value, confidence float64, sourceSpec, rationale string) error
}

// ParameterFinder looks up parameter definitions. A nil result means unknown.
type ParameterFinder interface {
	FindParameter(ctx context.Context, id string) (*store.Parameter, error)
}

// Clamper applies guardrail bounds. guardrail.Config satisfies it.
type Clamper interface {
	Clamp(v float64) float64
	ClampConfidence(v float64) float64
}

// GuardrailLoader loads the current guardrail configuration.
type GuardrailLoader interface {
	Load(ctx context.Context) (guardrail.Config, []string, error)
}

// #endregion collaborators

// #region result
// Result accumulates the outcome of one or more ADAPT specs.
type Result struct {
	SpecsRun       int
	TargetsCreated int
	TargetsUpdated int
	Errors         []error
	Warnings       []string
}

// SpecResult is the outcome of a single spec.
type SpecResult struct {
	RulesMatched   int
	TargetsCreated int
	TargetsUpdated int
	Errors         []error
	Warnings       []string
}

// #endregion result

// #region engine
// Engine runs adaptation rules.
type Engine struct {
	specs      SpecFinder
	profiles   ProfileReader
	targets    TargetStore
	params     ParameterFinder
	guardrails GuardrailLoader
	locks      *keyLock
	logger     *slog.Logger
}

// NewEngine creates an adaptation engine. guardrails may be nil, in which case
// RunAdaptSpecs clamps with guardrail.DefaultConfig.
func NewEngine(specs SpecFinder, profiles ProfileReader, targets TargetStore, params ParameterFinder,
	guardrails GuardrailLoader, logger *slog.Logger) *Engine {
	return &Engine{
		specs:      specs,
		profiles:   profiles,
		targets:    targets,
		params:     params,
		guardrails: guardrails,
		locks:      newKeyLock(),
		logger:     logging.OrDefault(logger).With("component", "adapt"),
	}
}

// RunAdaptSpecs runs every active ADAPT spec for callerID. A guardrail load failure
// falls back to defaults with a warning; only a failure to list specs is returned.
func (e *Engine) RunAdaptSpecs(ctx context.Context, callerID string) (Result, error) {
	var res Result
	clamp := guardrail.DefaultConfig()
	if e.guardrails != nil {
		cfg, warnings, err := e.guardrails.Load(ctx)
		res.Warnings = append(res.Warnings, warnings...)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("guardrails unavailable, using defaults: %v", err))
		} else {
			clamp = cfg
		}
	}

	specs, err := e.specs.FindActiveSpecsByOutputType(ctx, spec.OutputAdapt)
	if err != nil {
		return res, fmt.Errorf("find adapt specs: %w", err)
	}
	for _, s := range specs {
		sr, err := e.RunSpec(ctx, callerID, s, clamp)
		res.Warnings = append(res.Warnings, sr.Warnings...)
		res.Errors = append(res.Errors, sr.Errors...)
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		res.SpecsRun++
		res.TargetsCreated += sr.TargetsCreated
		res.TargetsUpdated += sr.TargetsUpdated
	}
	return res, nil
}

// RunSpec evaluates one ADAPT spec. Every persisted value is clamped to [0, 1] and
// then through clamp. Action failures are reported in SpecResult.Errors; the
// returned error covers failures of the spec as a whole.
func (e *Engine) RunSpec(ctx context.Context, callerID string, s spec.ActiveSpec, clamp Clamper) (SpecResult, error) {
	var res SpecResult
	rules, decodeErrs, found := spec.DecodeList[spec.AdaptationRule](s.Config, "adaptationRules", "rules")
	if !found {
		return res, &spec.RuleEvaluationError{SpecSlug: s.Slug, Err: errors.New("config has no adaptationRules list")}
	}
	if rules == nil && len(decodeErrs) > 0 {
		return res, &spec.RuleEvaluationError{SpecSlug: s.Slug, Err: decodeErrs[0]}
	}

	scope := strings.TrimSpace(spec.String(s.Config, profileScopeField))
	if scope == "" {
		scope = store.ScopeLearnerProfile
	}
	profile, err := e.profiles.FindAttributes(ctx, callerID, scope)
	if err != nil {
		return res, &spec.RuleEvaluationError{SpecSlug: s.Slug, Err: fmt.Errorf("read profile: %w", err)}
	}
	keys := newKeyResolver(spec.StringMap(s.Config, "keyMap"))

	for i, rule := range rules {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := ruleName(rule, i)
		if decodeErrs[i] != nil {
			res.Errors = append(res.Errors, &spec.RuleEvaluationError{SpecSlug: s.Slug, Rule: name, Err: decodeErrs[i]})
			continue
		}

		actual, ok := keys.lookup(profile, rule.Condition.ProfileKey)
		if !ok || actual != rule.Condition.Value {
			e.logger.Log(ctx, logging.LevelTrace, "condition not met", "spec", s.Slug, "rule", name,
				"key", rule.Condition.ProfileKey, "want", rule.Condition.Value, "have", actual)
			continue
		}
		res.RulesMatched++

		for _, action := range rule.Actions {
			created, warning, err := e.apply(ctx, callerID, s.Slug, rule, action, clamp)
			switch {
			case err != nil:
				e.logger.Warn("adaptation action failed", "spec", s.Slug, "rule", name,
					"parameter", action.TargetParameter, "error", err)
				res.Errors = append(res.Errors, &spec.RuleEvaluationError{
					SpecSlug: s.Slug, Rule: name + "/" + action.TargetParameter, Err: err,
				})
			case warning != "":
				e.logger.Warn("adaptation action skipped", "spec", s.Slug, "rule", name, "reason", warning)
				res.Warnings = append(res.Warnings, fmt.Sprintf("spec %s: rule %s: %s", s.Slug, name, warning))
			case created:
				res.TargetsCreated++
			default:
				res.TargetsUpdated++
			}
		}
	}
	e.logger.Debug("adaptation spec applied", "spec", s.Slug, "caller", callerID,
		"matched", res.RulesMatched, "created", res.TargetsCreated, "updated", res.TargetsUpdated)
	return res, nil
}

// apply executes one action. A non-empty warning means the action was skipped on
// purpose (unknown or fixed parameter).
func (e *Engine) apply(ctx context.Context, callerID, slug string, rule spec.AdaptationRule, action spec.Action, clamp Clamper) (created bool, warning string, err error) {
	param := strings.TrimSpace(action.TargetParameter)
	if param == "" {
		return false, "", errors.New("targetParameter is required")
	}
	switch action.Adjustment {
	case spec.AdjustSet, spec.AdjustIncrease, spec.AdjustDecrease:
	default:
		return false, "", fmt.Errorf("unknown adjustment %q", action.Adjustment)
	}

	def, err := e.params.FindParameter(ctx, param)
	if err != nil {
		return false, "", fmt.Errorf("lookup parameter: %w", err)
	}
	if def == nil {
		return false, fmt.Sprintf("unknown parameter %s", param), nil
	}
	if !def.IsAdjustable {
		return false, fmt.Sprintf("parameter %s is not adjustable", param), nil
	}

	unlock := e.locks.Lock(callerID + keySeparator + param)
	defer unlock()

	current, err := e.targets.FindTarget(ctx, callerID, param)
	if err != nil {
		return false, "", fmt.Errorf("read target: %w", err)
	}
	var cur *float64
	if current != nil {
		cur = &current.TargetValue
	}

	value := clamp.Clamp(guardrail.Unit(NextValue(action, cur)))
	rationale := action.Rationale
	if rationale == "" {
		rationale = rule.Rationale
	}
	if err := e.targets.UpsertTarget(ctx, callerID, param, value, clamp.ClampConfidence(targetConfidence), slug, rationale); err != nil {
		return false, "", fmt.Errorf("write target: %w", err)
	}
	e.logger.Log(ctx, logging.LevelTrace, "target written", "caller", callerID, "parameter", param,
		"adjustment", action.Adjustment, "value", value)
	return current == nil, "", nil
}

// #endregion engine

// #region arithmetic
// NextValue computes the unclamped target for an action given the current target
// (nil when none exists).
func NextValue(action spec.Action, current *float64) float64 {
	base := defaultCurrent
	if current != nil {
		base = *current
	}
	delta := defaultDelta
	if action.Delta != nil {
		delta = *action.Delta
	}
	switch action.Adjustment {
	case spec.AdjustSet:
		if action.Value != nil {
			return *action.Value
		}
		return defaultSetValue
	case spec.AdjustIncrease:
		return base + delta
	case spec.AdjustDecrease:
		return base - delta
	}
	return base
}

// #endregion arithmetic

// #region key-resolution
// keyResolver maps condition keys onto stored profile keys through the rule set's
// authored keyMap, consulted forward then in reverse.
type keyResolver struct {
	forward map[string]string
	reverse map[string]string
}

func newKeyResolver(keyMap map[string]string) keyResolver {
	r := keyResolver{forward: keyMap, reverse: make(map[string]string, len(keyMap))}
	from := make([]string, 0, len(keyMap))
	for k := range keyMap {
		from = append(from, k)
	}
	sort.Strings(from)
	for _, k := range from {
		if _, dup := r.reverse[keyMap[k]]; !dup {
			r.reverse[keyMap[k]] = k
		}
	}
	return r
}

func (r keyResolver) lookup(profile map[string]string, key string) (string, bool) {
	if v, ok := profile[key]; ok {
		return v, true
	}
	if alias, ok := r.forward[key]; ok {
		if v, ok := profile[alias]; ok {
			return v, true
		}
	}
	if alias, ok := r.reverse[key]; ok {
		if v, ok := profile[alias]; ok {
			return v, true
		}
	}
	return "", false
}

func ruleName(rule spec.AdaptationRule, i int) string {
	if rule.ID != "" {
		return rule.ID
	}
	if rule.Condition.ProfileKey != "" {
		return rule.Condition.ProfileKey + "=" + rule.Condition.Value
	}
	return fmt.Sprintf("#%d", i)
}

// #endregion key-resolution
