package guardrail

// #region bounds
// TargetClamp bounds every persisted behavior target.
type TargetClamp struct {
	MinValue float64 `json:"minValue"`
	MaxValue float64 `json:"maxValue"`
}

// ConfidenceBounds bounds persisted confidences. Default is used where no confidence
// was computed.
type ConfidenceBounds struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
}

// #endregion bounds

// #region aux-config
// MockBehavior configures synthetic scoring used by upstream stages in test deployments.
type MockBehavior struct {
	Enabled  bool    `json:"enabled"`
	ScoreMin float64 `json:"scoreMin"`
	ScoreMax float64 `json:"scoreMax"`
}

// Aggregation holds decay and confidence-growth parameters for aggregators.
type Aggregation struct {
	DecayHalfLifeDays       float64 `json:"decayHalfLifeDays"`
	ConfidenceGrowthBase    float64 `json:"confidenceGrowthBase"`
	ConfidenceGrowthPerCall float64 `json:"confidenceGrowthPerCall"`
	MaxAggregatedConfidence float64 `json:"maxAggregatedConfidence"`
}

// AISettings holds completion defaults for upstream stages.
type AISettings struct {
	Temperature float64 `json:"temperature"`
	MaxRetries  int     `json:"maxRetries"`
}

// #endregion aux-config

// #region config
// Config is the merged guardrail configuration.
type Config struct {
	TargetClamp      TargetClamp      `json:"targetClamp"`
	ConfidenceBounds ConfidenceBounds `json:"confidenceBounds"`
	MockBehavior     MockBehavior     `json:"mockBehavior"`
	Aggregation      Aggregation      `json:"aggregation"`
	AISettings       AISettings       `json:"aiSettings"`

	// SourceSpec is the SUPERVISE spec the values came from, empty for defaults.
	SourceSpec string `json:"sourceSpec,omitempty"`
}

// DefaultConfig returns the compiled-in guardrails used when no SUPERVISE spec is active.
func DefaultConfig() Config {
	return Config{
		TargetClamp:      TargetClamp{MinValue: 0.2, MaxValue: 0.8},
		ConfidenceBounds: ConfidenceBounds{Min: 0.3, Max: 0.95, Default: 0.7},
		MockBehavior:     MockBehavior{Enabled: false, ScoreMin: 0.4, ScoreMax: 0.8},
		Aggregation: Aggregation{
			DecayHalfLifeDays:       30,
			ConfidenceGrowthBase:    0.5,
			ConfidenceGrowthPerCall: 0.1,
			MaxAggregatedConfidence: 0.95,
		},
		AISettings: AISettings{Temperature: 0.3, MaxRetries: 2},
	}
}

// #endregion config

// #region overrides
// Partial sub-configs decoded from a SUPERVISE spec. Nil fields keep the default.
type targetClampOverride struct {
	MinValue *float64 `json:"minValue"`
	MaxValue *float64 `json:"maxValue"`
}

type confidenceBoundsOverride struct {
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	Default *float64 `json:"default"`
}

type mockBehaviorOverride struct {
	Enabled  *bool    `json:"enabled"`
	ScoreMin *float64 `json:"scoreMin"`
	ScoreMax *float64 `json:"scoreMax"`
}

type aggregationOverride struct {
	DecayHalfLifeDays       *float64 `json:"decayHalfLifeDays"`
	ConfidenceGrowthBase    *float64 `json:"confidenceGrowthBase"`
	ConfidenceGrowthPerCall *float64 `json:"confidenceGrowthPerCall"`
	MaxAggregatedConfidence *float64 `json:"maxAggregatedConfidence"`
}

type aiSettingsOverride struct {
	Temperature *float64 `json:"temperature"`
	MaxRetries  *int     `json:"maxRetries"`
}

// #endregion overrides
