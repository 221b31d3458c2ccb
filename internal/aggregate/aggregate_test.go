package aggregate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

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

func tempStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "agg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seed appends scores oldest first, one minute apart.
func seed(t *testing.T, s *store.Store, callerID, param string, scores ...float64) {
	t.Helper()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, sc := range scores {
		require.NoError(t, s.AppendScore(context.Background(), store.ScoreEvent{
			CallerID: callerID, ParameterID: param, Score: sc, Confidence: 0.9,
			ScoredAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func aggSpec(t *testing.T, slug string, cfg map[string]any) spec.ActiveSpec {
	t.Helper()
	c, err := spec.NewConfig(cfg)
	require.NoError(t, err)
	return spec.ActiveSpec{Slug: slug, OutputType: spec.OutputAggregate, Config: c}
}

func paceBands() []any {
	return []any{
		map[string]any{"max": 0.3, "value": "slow"},
		map[string]any{"min": 0.3, "max": 0.7, "value": "medium"},
		map[string]any{"min": 0.7, "value": "fast"},
	}
}

func paceRule(minObs int) map[string]any {
	return map[string]any{
		"sourceParameter":     "pace",
		"targetProfileKey":    "pacePreference",
		"method":              "threshold_mapping",
		"thresholds":          paceBands(),
		"windowSize":          5,
		"minimumObservations": minObs,
	}
}

// #endregion helpers

// #region window-tests
func TestNewWindow_RecencyWeighting(t *testing.T) {
	w := NewWindow([]store.ScoreEvent{
		{Score: 0.9, Confidence: 1}, {Score: 0.85, Confidence: 0.5}, {Score: 0.8, Confidence: 0.6},
	})
	assert.InDelta(t, 0.868, w.WeightedMean, 0.001)
	assert.InDelta(t, 0.7, w.MeanConfidence, 1e-9)
}

func TestNewWindow_ClampsInputs(t *testing.T) {
	w := NewWindow([]store.ScoreEvent{{Score: 1.7, Confidence: -1}})
	assert.Equal(t, 1.0, w.WeightedMean)
	assert.Equal(t, 0.0, w.MeanConfidence)
	assert.Equal(t, Window{Scores: []float64{}}, NewWindow(nil))
}

func TestEvaluate_ThresholdHalfOpen(t *testing.T) {
	lo, hi := 0.3, 0.7
	rule := spec.AggregationRule{Method: spec.MethodThresholdMapping, Thresholds: []spec.Threshold{
		{Max: &lo, Value: "slow"},
		{Min: &lo, Max: &hi, Value: "medium"},
		{Min: &hi, Value: "fast"},
	}}
	for score, want := range map[float64]string{0.7: "fast", 0.3: "medium", 0.29: "slow", 0.69: "medium"} {
		out, ok, err := Evaluate(rule, NewWindow([]store.ScoreEvent{{Score: score, Confidence: 1}}))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, out.Value, "score %.2f", score)
	}
}

func TestEvaluate_ThresholdBoundaryWithManyEvents(t *testing.T) {
	for _, tc := range []struct {
		score float64
		n     int
	}{
		{0.7, 2}, {0.3, 5}, {0.6, 5}, {0.7, 3}, {0.1, 4},
	} {
		v := tc.score
		rule := spec.AggregationRule{Method: spec.MethodThresholdMapping, Thresholds: []spec.Threshold{
			{Max: &v, Value: "below"},
			{Min: &v, Value: "at-or-above"},
		}}
		events := make([]store.ScoreEvent, tc.n)
		for i := range events {
			events[i] = store.ScoreEvent{Score: v, Confidence: 1}
		}
		w := NewWindow(events)
		assert.Equal(t, v, w.WeightedMean, "constant window of %d x %.1f", tc.n, v)

		out, ok, err := Evaluate(rule, w)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "at-or-above", out.Value, "constant window of %d x %.1f", tc.n, v)
	}
}

func TestRunAggregateSpecs_BoundaryWindowMapsToUpperBand(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	seed(t, s, "c1", "pace", 0.7, 0.7)
	e := NewEngine(fakeSpecs{aggSpec(t, "AGG-PACE", map[string]any{"aggregationRules": []any{paceRule(2)}})}, s, s, nil)

	_, err := e.RunAggregateSpecs(ctx, "c1")
	require.NoError(t, err)
	prof, err := s.FindAttributes(ctx, "c1", store.ScopeLearnerProfile)
	require.NoError(t, err)
	assert.Equal(t, "fast", prof["pacePreference"])
}

func TestEvaluate_ThresholdNoBandAndConfidenceCap(t *testing.T) {
	lo := 0.5
	bandConf := 0.4
	rule := spec.AggregationRule{Method: spec.MethodThresholdMapping, Thresholds: []spec.Threshold{
		{Min: &lo, Value: "high", Confidence: &bandConf},
	}}

	_, ok, err := Evaluate(rule, NewWindow([]store.ScoreEvent{{Score: 0.2, Confidence: 1}}))
	require.NoError(t, err)
	assert.False(t, ok, "no band matched")

	out, ok, err := Evaluate(rule, NewWindow([]store.ScoreEvent{{Score: 0.9, Confidence: 0.8}}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.4, out.Confidence, "band confidence caps mean confidence")

	out, _, _ = Evaluate(rule, NewWindow([]store.ScoreEvent{{Score: 0.9, Confidence: 0.3}}))
	assert.Equal(t, 0.3, out.Confidence, "never exceeds mean confidence")
}

func TestEvaluate_WeightedAverage(t *testing.T) {
	rule := spec.AggregationRule{Method: spec.MethodWeightedAverage}
	out, ok, err := Evaluate(rule, NewWindow([]store.ScoreEvent{
		{Score: 0.5, Confidence: 0.8}, {Score: 0.2, Confidence: 0.6},
	}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0.40", out.Value)
	assert.InDelta(t, 0.7, out.Confidence, 1e-9)
}

func TestEvaluate_ConsensusTieGoesToFirstSeen(t *testing.T) {
	rule := spec.AggregationRule{Method: spec.MethodConsensus}
	out, ok, err := Evaluate(rule, NewWindow([]store.ScoreEvent{
		{Score: 0.31}, {Score: 0.52}, {Score: 0.29}, {Score: 0.48},
	}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0.3", out.Value)
	assert.Equal(t, 0.5, out.Confidence)

	out, _, _ = Evaluate(rule, NewWindow([]store.ScoreEvent{{Score: 0.1}, {Score: 0.62}, {Score: 0.58}}))
	assert.Equal(t, "0.6", out.Value)
	assert.InDelta(t, 2.0/3.0, out.Confidence, 1e-9)
}

func TestEvaluate_UnknownMethod(t *testing.T) {
	_, _, err := Evaluate(spec.AggregationRule{Method: "median"}, Window{})
	assert.Error(t, err)
}

// #endregion window-tests

// #region engine-tests
func TestRunAggregateSpecs_FastLearner(t *testing.T) {
	st := tempStore(t)
	seed(t, st, "c1", "pace", 0.8, 0.85, 0.9)
	specs := fakeSpecs{aggSpec(t, "AGG-PACE", map[string]any{"aggregationRules": []any{paceRule(3)}})}

	res, err := NewEngine(specs, st, st, nil).RunAggregateSpecs(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.SpecsRun)
	assert.Equal(t, 1, res.ProfileUpdates)

	prof, err := st.FindAttributes(context.Background(), "c1", store.ScopeLearnerProfile)
	require.NoError(t, err)
	assert.Equal(t, "fast", prof["pacePreference"])
}

func TestRunAggregateSpecs_InsufficientObservationsIsSilent(t *testing.T) {
	st := tempStore(t)
	seed(t, st, "c1", "pace", 0.9, 0.9)
	specs := fakeSpecs{aggSpec(t, "AGG-PACE", map[string]any{"aggregationRules": []any{paceRule(3)}})}

	res, err := NewEngine(specs, st, st, nil).RunAggregateSpecs(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.SpecsRun)
	assert.Zero(t, res.ProfileUpdates)

	attrs, _ := st.ListAttributes(context.Background(), "c1")
	assert.Empty(t, attrs)
}

func TestRunSpec_BatchConfidenceAndScope(t *testing.T) {
	st := tempStore(t)
	ctx := context.Background()
	// pace: mean confidence 0.9; depth: band confidence 0.5 caps it.
	seed(t, st, "c1", "pace", 0.9)
	seed(t, st, "c1", "depth", 0.2)
	s := aggSpec(t, "AGG-MIX", map[string]any{
		"scope": "SESSION_PROFILE",
		"rules": []any{
			paceRule(1),
			map[string]any{
				"sourceParameter": "depth", "targetProfileKey": "depthPreference", "method": "threshold_mapping",
				"thresholds": []any{map[string]any{"max": 0.5, "value": "shallow", "confidence": 0.5}},
				"windowSize": 3, "minimumObservations": 1, "scope": "LEARNER_PROFILE",
			},
		},
	})

	res, err := NewEngine(nil, st, st, nil).RunSpec(ctx, "c1", s)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RulesFired)
	assert.Equal(t, 2, res.ProfileUpdates)

	attrs, err := st.ListAttributes(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	for _, a := range attrs {
		assert.InDelta(t, 0.7, a.Confidence, 1e-9, "batch confidence is the mean of fired rules")
	}
	session, _ := st.FindAttributes(ctx, "c1", "SESSION_PROFILE")
	assert.Equal(t, "fast", session["pacePreference"])
	learner, _ := st.FindAttributes(ctx, "c1", store.ScopeLearnerProfile)
	assert.Equal(t, "shallow", learner["depthPreference"])
}

func TestRunSpec_RuleFailureIsolated(t *testing.T) {
	st := tempStore(t)
	seed(t, st, "c1", "pace", 0.9)
	s := aggSpec(t, "AGG-PARTIAL", map[string]any{"aggregationRules": []any{
		map[string]any{"sourceParameter": "pace", "targetProfileKey": "x", "method": "median", "windowSize": 3},
		map[string]any{"sourceParameter": "pace", "targetProfileKey": "y", "windowSize": "three"},
		paceRule(1),
	}})

	res, err := NewEngine(nil, st, st, nil).RunSpec(context.Background(), "c1", s)
	require.NoError(t, err)
	require.Len(t, res.Errors, 2)
	var re *spec.RuleEvaluationError
	require.True(t, errors.As(res.Errors[0], &re))
	assert.Equal(t, "AGG-PARTIAL", re.SpecSlug)
	assert.Equal(t, "x", re.Rule)
	assert.Equal(t, 1, res.ProfileUpdates)
}

func TestRunAggregateSpecs_SpecWithoutRules(t *testing.T) {
	st := tempStore(t)
	specs := fakeSpecs{
		aggSpec(t, "AGG-EMPTY", map[string]any{"note": "nothing here"}),
		aggSpec(t, "AGG-PACE", map[string]any{"aggregationRules": []any{paceRule(1)}}),
	}
	seed(t, st, "c1", "pace", 0.1)

	res, err := NewEngine(specs, st, st, nil).RunAggregateSpecs(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.SpecsRun)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error(), "AGG-EMPTY")
	assert.Equal(t, 1, res.ProfileUpdates)
}

func TestRunAggregateSpecs_Idempotent(t *testing.T) {
	st := tempStore(t)
	ctx := context.Background()
	seed(t, st, "c1", "pace", 0.4, 0.5, 0.45)
	specs := fakeSpecs{aggSpec(t, "AGG-PACE", map[string]any{"aggregationRules": []any{paceRule(2)}})}
	engine := NewEngine(specs, st, st, nil)

	_, err := engine.RunAggregateSpecs(ctx, "c1")
	require.NoError(t, err)
	first, _ := st.ListAttributes(ctx, "c1")
	_, err = engine.RunAggregateSpecs(ctx, "c1")
	require.NoError(t, err)
	second, _ := st.ListAttributes(ctx, "c1")

	require.Len(t, second, 1)
	assert.Equal(t, first[0].Value, second[0].Value)
	assert.Equal(t, first[0].Confidence, second[0].Confidence)
	assert.Equal(t, "medium", second[0].Value)
}

// #endregion engine-tests
