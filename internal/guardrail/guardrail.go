// Package guardrail loads the safety bounds applied to every computed target and
// confidence before it is persisted.
package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/paw2paw/hf-pipeline/internal/logging"
	"github.com/paw2paw/hf-pipeline/internal/spec"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region policy
// SpecFinder resolves active specs by output type.
type SpecFinder interface {
	FindActiveSpecsByOutputType(ctx context.Context, outputType spec.OutputType) ([]spec.ActiveSpec, error)
}

// Policy loads guardrails from the active SUPERVISE spec.
type Policy struct {
	specs  SpecFinder
	logger *slog.Logger
}

// NewPolicy creates a policy reading SUPERVISE specs from specs.
func NewPolicy(specs SpecFinder, logger *slog.Logger) *Policy {
	return &Policy{specs: specs, logger: logging.OrDefault(logger).With("component", "guardrail")}
}

// Load returns the merged guardrail configuration and any warnings produced while
// merging. With no active SUPERVISE spec the compiled defaults are returned.
func (p *Policy) Load(ctx context.Context) (Config, []string, error) {
	specs, err := p.specs.FindActiveSpecsByOutputType(ctx, spec.OutputSupervise)
	if err != nil {
		return DefaultConfig(), nil, fmt.Errorf("load guardrails: %w", err)
	}
	if len(specs) == 0 {
		p.logger.Debug("no active SUPERVISE spec, using defaults")
		return DefaultConfig(), nil, nil
	}

	sort.SliceStable(specs, func(i, j int) bool { return specs[i].Slug < specs[j].Slug })
	var warnings []string
	if len(specs) > 1 {
		w := fmt.Sprintf("%d active SUPERVISE specs, using %s", len(specs), specs[0].Slug)
		p.logger.Warn(w)
		warnings = append(warnings, w)
	}

	cfg, mergeWarnings := Merge(specs[0].Config)
	cfg.SourceSpec = specs[0].Slug
	for _, w := range mergeWarnings {
		p.logger.Warn("guardrail override rejected", "spec", specs[0].Slug, "reason", w)
	}
	return cfg, append(warnings, mergeWarnings...), nil
}

// #endregion policy

// #region merge
// Merge overlays a SUPERVISE payload onto the defaults field by field. A sub-config
// whose merged values are out of range reverts to its default and yields a warning.
// The payload may hold the sub-configs at top level or under "guardrails".
func Merge(payload *structpb.Struct) (Config, []string) {
	cfg := DefaultConfig()
	def := DefaultConfig()
	root := payload
	if nested := spec.Field(payload, "guardrails").GetStructValue(); nested != nil {
		root = nested
	}

	var warnings []string
	decode := func(key string, out any) bool {
		v := spec.Field(root, key)
		if v == nil {
			return false
		}
		if err := spec.Decode(v, out); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return false
		}
		return true
	}

	var tc targetClampOverride
	if decode("targetClamp", &tc) {
		setFloat(&cfg.TargetClamp.MinValue, tc.MinValue)
		setFloat(&cfg.TargetClamp.MaxValue, tc.MaxValue)
		if err := cfg.TargetClamp.validate(); err != nil {
			warnings = append(warnings, "targetClamp: "+err.Error())
			cfg.TargetClamp = def.TargetClamp
		}
	}

	var cb confidenceBoundsOverride
	if decode("confidenceBounds", &cb) {
		setFloat(&cfg.ConfidenceBounds.Min, cb.Min)
		setFloat(&cfg.ConfidenceBounds.Max, cb.Max)
		setFloat(&cfg.ConfidenceBounds.Default, cb.Default)
		if err := cfg.ConfidenceBounds.validate(); err != nil {
			warnings = append(warnings, "confidenceBounds: "+err.Error())
			cfg.ConfidenceBounds = def.ConfidenceBounds
		}
	}

	var mb mockBehaviorOverride
	if decode("mockBehavior", &mb) {
		if mb.Enabled != nil {
			cfg.MockBehavior.Enabled = *mb.Enabled
		}
		setFloat(&cfg.MockBehavior.ScoreMin, mb.ScoreMin)
		setFloat(&cfg.MockBehavior.ScoreMax, mb.ScoreMax)
		if err := unitRange(cfg.MockBehavior.ScoreMin, cfg.MockBehavior.ScoreMax); err != nil {
			warnings = append(warnings, "mockBehavior: "+err.Error())
			cfg.MockBehavior = def.MockBehavior
		}
	}

	var ag aggregationOverride
	if decode("aggregation", &ag) {
		setFloat(&cfg.Aggregation.DecayHalfLifeDays, ag.DecayHalfLifeDays)
		setFloat(&cfg.Aggregation.ConfidenceGrowthBase, ag.ConfidenceGrowthBase)
		setFloat(&cfg.Aggregation.ConfidenceGrowthPerCall, ag.ConfidenceGrowthPerCall)
		setFloat(&cfg.Aggregation.MaxAggregatedConfidence, ag.MaxAggregatedConfidence)
		if err := cfg.Aggregation.validate(); err != nil {
			warnings = append(warnings, "aggregation: "+err.Error())
			cfg.Aggregation = def.Aggregation
		}
	}

	var ai aiSettingsOverride
	if decode("aiSettings", &ai) {
		setFloat(&cfg.AISettings.Temperature, ai.Temperature)
		if ai.MaxRetries != nil {
			cfg.AISettings.MaxRetries = *ai.MaxRetries
		}
		if cfg.AISettings.Temperature < 0 || cfg.AISettings.Temperature > 2 || cfg.AISettings.MaxRetries < 0 {
			warnings = append(warnings, fmt.Sprintf("aiSettings: temperature %.2f or maxRetries %d out of range",
				cfg.AISettings.Temperature, cfg.AISettings.MaxRetries))
			cfg.AISettings = def.AISettings
		}
	}

	return cfg, warnings
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// #endregion merge

// #region validation
func unitRange(lo, hi float64) error {
	if math.IsNaN(lo) || math.IsNaN(hi) || lo < 0 || hi > 1 || lo > hi {
		return fmt.Errorf("bounds [%.2f, %.2f] not within [0, 1] or inverted", lo, hi)
	}
	return nil
}

func (t TargetClamp) validate() error {
	return unitRange(t.MinValue, t.MaxValue)
}

func (c ConfidenceBounds) validate() error {
	if err := unitRange(c.Min, c.Max); err != nil {
		return err
	}
	if c.Default < c.Min || c.Default > c.Max {
		return fmt.Errorf("default %.2f outside [%.2f, %.2f]", c.Default, c.Min, c.Max)
	}
	return nil
}

func (a Aggregation) validate() error {
	if a.DecayHalfLifeDays <= 0 {
		return fmt.Errorf("decayHalfLifeDays must be positive, got %.2f", a.DecayHalfLifeDays)
	}
	if a.ConfidenceGrowthBase < 0 || a.ConfidenceGrowthPerCall < 0 {
		return fmt.Errorf("confidence growth must be non-negative")
	}
	if a.MaxAggregatedConfidence < 0 || a.MaxAggregatedConfidence > 1 {
		return fmt.Errorf("maxAggregatedConfidence %.2f not within [0, 1]", a.MaxAggregatedConfidence)
	}
	return nil
}

// #endregion validation

// #region clamp
// Clamp bounds a target value to the target clamp. NaN maps to the lower bound.
func (c Config) Clamp(v float64) float64 {
	return clampTo(v, c.TargetClamp.MinValue, c.TargetClamp.MaxValue)
}

// ClampConfidence bounds a confidence to the confidence bounds. NaN maps to Default.
func (c Config) ClampConfidence(v float64) float64 {
	if math.IsNaN(v) {
		return c.ConfidenceBounds.Default
	}
	return clampTo(v, c.ConfidenceBounds.Min, c.ConfidenceBounds.Max)
}

// Unit bounds v to [0, 1]. NaN maps to 0.
func Unit(v float64) float64 {
	return clampTo(v, 0, 1)
}

func clampTo(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// #endregion clamp
