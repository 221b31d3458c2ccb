package adapt

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/paw2paw/hf-pipeline/internal/guardrail"
	"github.com/paw2paw/hf-pipeline/internal/spec"
	"github.com/paw2paw/hf-pipeline/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region helpers
type fakeSpecs []spec.ActiveSpec

func (f fakeSpecs) FindActiveSpecsByOutputType(_ context.Context, ot spec.OutputType) ([]spec.ActiveSpec, error) {
	var out []spec.ActiveSpec
	for _, s := range f {
		if s.OutputType == ot {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeGuardrails struct {
	cfg guardrail.Config
	err error
}

func (f fakeGuardrails) Load(context.Context) (guardrail.Config, []string, error) {
	return f.cfg, nil, f.err
}

func setup(t *testing.T) (*store.Store, context.Context) {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "adapt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	for _, p := range []store.Parameter{
		{ID: "response_length", Kind: "BEHAVIOR", IsAdjustable: true},
		{ID: "formality", Kind: "BEHAVIOR", IsAdjustable: true},
		{ID: "persona", Kind: "BEHAVIOR", IsAdjustable: false},
	} {
		require.NoError(t, st.PutParameter(ctx, p))
	}
	return st, ctx
}

func adaptSpec(t *testing.T, slug string, cfg map[string]any) spec.ActiveSpec {
	t.Helper()
	c, err := spec.NewConfig(cfg)
	require.NoError(t, err)
	return spec.ActiveSpec{Slug: slug, OutputType: spec.OutputAdapt, Config: c}
}

func fastRule(actions ...any) map[string]any {
	return map[string]any{
		"condition": map[string]any{"profileKey": "pacePreference", "value": "fast"},
		"actions":   actions,
		"rationale": "fast learners",
	}
}

func newEngine(st *store.Store, specs fakeSpecs, g GuardrailLoader) *Engine {
	return NewEngine(specs, st, st, st, g, nil)
}

// #endregion helpers

// #region arithmetic-tests
func TestNextValue(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		name    string
		action  spec.Action
		current *float64
		want    float64
	}{
		{"set explicit", spec.Action{Adjustment: spec.AdjustSet, Value: f(0.3)}, f(0.9), 0.3},
		{"set default", spec.Action{Adjustment: spec.AdjustSet}, nil, 0.5},
		{"increase from current", spec.Action{Adjustment: spec.AdjustIncrease, Delta: f(0.15)}, f(0.5), 0.65},
		{"increase default delta", spec.Action{Adjustment: spec.AdjustIncrease}, f(0.4), 0.5},
		{"increase without current", spec.Action{Adjustment: spec.AdjustIncrease}, nil, 0.6},
		{"decrease default", spec.Action{Adjustment: spec.AdjustDecrease}, nil, 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, NextValue(tt.action, tt.current), 1e-9)
		})
	}
}

// #endregion arithmetic-tests

// #region engine-tests
func TestRunSpec_IncreaseWithinGuardrail(t *testing.T) {
	st, ctx := setup(t)
	require.NoError(t, st.UpsertAttribute(ctx, "c1", "pacePreference", "fast", 0.9, store.ScopeLearnerProfile))
	require.NoError(t, st.UpsertTarget(ctx, "c1", "response_length", 0.5, 0.8, "seed", ""))
	s := adaptSpec(t, "ADAPT-PACE", map[string]any{"adaptationRules": []any{
		fastRule(map[string]any{"targetParameter": "response_length", "adjustment": "increase", "delta": 0.15}),
	}})

	res, err := newEngine(st, nil, nil).RunSpec(ctx, "c1", s, guardrail.DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.RulesMatched)
	assert.Equal(t, 0, res.TargetsCreated)
	assert.Equal(t, 1, res.TargetsUpdated)

	got, err := st.FindTarget(ctx, "c1", "response_length")
	require.NoError(t, err)
	assert.InDelta(t, 0.65, got.TargetValue, 1e-9)
	assert.Equal(t, 0.8, got.Confidence)
	assert.Equal(t, "ADAPT-PACE", got.SourceSpec)
	assert.Equal(t, "fast learners", got.Rationale, "falls back to rule rationale")
}

func TestRunSpec_DoubleClamp(t *testing.T) {
	st, ctx := setup(t)
	require.NoError(t, st.UpsertAttribute(ctx, "c1", "pacePreference", "fast", 0.9, store.ScopeLearnerProfile))
	require.NoError(t, st.UpsertTarget(ctx, "c1", "formality", 0.25, 0.8, "seed", ""))
	s := adaptSpec(t, "ADAPT-PACE", map[string]any{"adaptationRules": []any{
		fastRule(
			map[string]any{"targetParameter": "response_length", "adjustment": "set", "value": 1.7, "rationale": "max out"},
			map[string]any{"targetParameter": "formality", "adjustment": "decrease", "delta": 0.5},
		),
	}})

	res, err := newEngine(st, nil, nil).RunSpec(ctx, "c1", s, guardrail.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TargetsCreated)
	assert.Equal(t, 1, res.TargetsUpdated)

	rl, _ := st.FindTarget(ctx, "c1", "response_length")
	assert.Equal(t, 0.8, rl.TargetValue)
	assert.Equal(t, "max out", rl.Rationale)
	fm, _ := st.FindTarget(ctx, "c1", "formality")
	assert.Equal(t, 0.2, fm.TargetValue)
}

func TestRunSpec_ConfidenceClampedByGuardrail(t *testing.T) {
	st, ctx := setup(t)
	require.NoError(t, st.UpsertAttribute(ctx, "c1", "pacePreference", "fast", 0.9, store.ScopeLearnerProfile))
	s := adaptSpec(t, "ADAPT-PACE", map[string]any{"adaptationRules": []any{
		fastRule(map[string]any{"targetParameter": "response_length", "adjustment": "set"}),
	}})
	cfg := guardrail.DefaultConfig()
	cfg.ConfidenceBounds = guardrail.ConfidenceBounds{Min: 0.3, Max: 0.6, Default: 0.5}

	_, err := newEngine(st, nil, nil).RunSpec(ctx, "c1", s, cfg)
	require.NoError(t, err)
	got, _ := st.FindTarget(ctx, "c1", "response_length")
	assert.Equal(t, 0.5, got.TargetValue)
	assert.Equal(t, 0.6, got.Confidence)
}

func TestRunSpec_UnknownAndFixedParametersWarn(t *testing.T) {
	st, ctx := setup(t)
	require.NoError(t, st.UpsertAttribute(ctx, "c1", "pacePreference", "fast", 0.9, store.ScopeLearnerProfile))
	s := adaptSpec(t, "ADAPT-PACE", map[string]any{"adaptationRules": []any{
		fastRule(
			map[string]any{"targetParameter": "humor", "adjustment": "set"},
			map[string]any{"targetParameter": "persona", "adjustment": "set"},
			map[string]any{"targetParameter": "response_length", "adjustment": "stretch"},
			map[string]any{"targetParameter": "formality", "adjustment": "set", "value": 0.4},
		),
	}})

	res, err := newEngine(st, nil, nil).RunSpec(ctx, "c1", s, guardrail.DefaultConfig())
	require.NoError(t, err)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "unknown parameter humor")
	assert.Contains(t, res.Warnings[1], "not adjustable")
	require.Len(t, res.Errors, 1, "unknown adjustment is an action error")
	assert.Equal(t, 1, res.TargetsCreated, "sibling action still runs")

	persona, _ := st.FindTarget(ctx, "c1", "persona")
	assert.Nil(t, persona)
}

func TestRunSpec_KeyMapResolution(t *testing.T) {
	st, ctx := setup(t)
	require.NoError(t, st.UpsertAttribute(ctx, "c1", "pace_preference", "fast", 0.9, store.ScopeLearnerProfile))
	require.NoError(t, st.UpsertAttribute(ctx, "c1", "depthPreference", "deep", 0.9, store.ScopeLearnerProfile))

	rules := []any{
		fastRule(map[string]any{"targetParameter": "response_length", "adjustment": "set", "value": 0.6}),
		map[string]any{
			"condition": map[string]any{"profileKey": "depth_preference", "value": "deep"},
			"actions":   []any{map[string]any{"targetParameter": "formality", "adjustment": "set", "value": 0.7}},
		},
	}

	t.Run("no guessing without a key map", func(t *testing.T) {
		s := adaptSpec(t, "ADAPT-RAW", map[string]any{"adaptationRules": rules})
		res, err := newEngine(st, nil, nil).RunSpec(ctx, "c1", s, guardrail.DefaultConfig())
		require.NoError(t, err)
		assert.Zero(t, res.RulesMatched)
	})

	t.Run("forward and reverse key map", func(t *testing.T) {
		s := adaptSpec(t, "ADAPT-MAPPED", map[string]any{
			"adaptationRules": rules,
			"keyMap":          map[string]string{"pacePreference": "pace_preference", "depthPreference": "depth_preference"},
		})
		res, err := newEngine(st, nil, nil).RunSpec(ctx, "c1", s, guardrail.DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, 2, res.RulesMatched)
		assert.Equal(t, 2, res.TargetsCreated)
	})
}

func TestRunSpec_ExactMatchOnly(t *testing.T) {
	st, ctx := setup(t)
	require.NoError(t, st.UpsertAttribute(ctx, "c1", "pacePreference", "Fast", 0.9, store.ScopeLearnerProfile))
	s := adaptSpec(t, "ADAPT-PACE", map[string]any{"rules": []any{
		fastRule(map[string]any{"targetParameter": "response_length", "adjustment": "set"}),
	}})
	res, err := newEngine(st, nil, nil).RunSpec(ctx, "c1", s, guardrail.DefaultConfig())
	require.NoError(t, err)
	assert.Zero(t, res.RulesMatched)
}

func TestRunSpec_ProfileScope(t *testing.T) {
	st, ctx := setup(t)
	require.NoError(t, st.UpsertAttribute(ctx, "c1", "pacePreference", "fast", 0.9, "SESSION_PROFILE"))
	s := adaptSpec(t, "ADAPT-SESSION", map[string]any{
		"profileScope":    "SESSION_PROFILE",
		"adaptationRules": []any{fastRule(map[string]any{"targetParameter": "response_length", "adjustment": "set"})},
	})
	res, err := newEngine(st, nil, nil).RunSpec(ctx, "c1", s, guardrail.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, res.RulesMatched)
}

func TestRunAdaptSpecs_GuardrailFailureFallsBack(t *testing.T) {
	st, ctx := setup(t)
	require.NoError(t, st.UpsertAttribute(ctx, "c1", "pacePreference", "fast", 0.9, store.ScopeLearnerProfile))
	specs := fakeSpecs{
		adaptSpec(t, "ADAPT-PACE", map[string]any{"adaptationRules": []any{
			fastRule(map[string]any{"targetParameter": "response_length", "adjustment": "set", "value": 0.95}),
		}}),
		adaptSpec(t, "ADAPT-BROKEN", map[string]any{"adaptationRules": "oops"}),
	}

	res, err := newEngine(st, specs, fakeGuardrails{err: errors.New("db down")}).RunAdaptSpecs(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.SpecsRun)
	assert.Equal(t, 1, res.TargetsCreated)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error(), "ADAPT-BROKEN")
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "using defaults")

	got, _ := st.FindTarget(ctx, "c1", "response_length")
	assert.Equal(t, 0.8, got.TargetValue)
}

func TestRunAdaptSpecs_Idempotent(t *testing.T) {
	st, ctx := setup(t)
	require.NoError(t, st.UpsertAttribute(ctx, "c1", "pacePreference", "fast", 0.9, store.ScopeLearnerProfile))
	specs := fakeSpecs{adaptSpec(t, "ADAPT-PACE", map[string]any{"adaptationRules": []any{
		fastRule(map[string]any{"targetParameter": "response_length", "adjustment": "set", "value": 0.6}),
	}})}
	engine := newEngine(st, specs, fakeGuardrails{cfg: guardrail.DefaultConfig()})

	first, err := engine.RunAdaptSpecs(ctx, "c1")
	require.NoError(t, err)
	second, err := engine.RunAdaptSpecs(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.TargetsCreated)
	assert.Equal(t, 1, second.TargetsUpdated)

	targets, _ := st.ListTargets(ctx, "c1")
	require.Len(t, targets, 1)
	assert.Equal(t, 0.6, targets[0].TargetValue)
}

func TestRunSpec_ConcurrentIncrementsSerialize(t *testing.T) {
	st, ctx := setup(t)
	require.NoError(t, st.UpsertAttribute(ctx, "c1", "pacePreference", "fast", 0.9, store.ScopeLearnerProfile))
	s := adaptSpec(t, "ADAPT-PACE", map[string]any{"adaptationRules": []any{
		fastRule(map[string]any{"targetParameter": "response_length", "adjustment": "increase", "delta": 0.05}),
	}})
	engine := newEngine(st, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.RunSpec(ctx, "c1", s, guardrail.DefaultConfig())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// First write starts from 0.5, so five serialized increments land on 0.75.
	got, _ := st.FindTarget(ctx, "c1", "response_length")
	assert.InDelta(t, 0.75, got.TargetValue, 1e-9)
	assert.Zero(t, engine.locks.size())
}

// #endregion engine-tests

// #region keylock-tests
func TestKeyLock_ReleasesEntries(t *testing.T) {
	l := newKeyLock()
	unlockA := l.Lock("a")
	unlockB := l.Lock("b")
	assert.Equal(t, 2, l.size())
	unlockA()
	unlockB()
	assert.Zero(t, l.size())
}

// #endregion keylock-tests
