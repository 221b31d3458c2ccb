package spec

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// #region output-type

// OutputType is the role tag a specification record declares.
type OutputType string

const (
	OutputLearn        OutputType = "LEARN"
	OutputMeasure      OutputType = "MEASURE"
	OutputMeasureAgent OutputType = "MEASURE_AGENT"
	OutputAggregate    OutputType = "AGGREGATE"
	OutputReward       OutputType = "REWARD"
	OutputAdapt        OutputType = "ADAPT"
	OutputSupervise    OutputType = "SUPERVISE"
	OutputCompose      OutputType = "COMPOSE"
	OutputPipeline     OutputType = "PIPELINE"
)

// KnownOutputType reports whether ot is one of the declared output types.
func KnownOutputType(ot OutputType) bool {
	switch ot {
	case OutputLearn, OutputMeasure, OutputMeasureAgent, OutputAggregate, OutputReward,
		OutputAdapt, OutputSupervise, OutputCompose, OutputPipeline:
		return true
	}
	return false
}

// #endregion output-type

// #region record

// Record is a specification record as stored by the authoring tool.
// The pipeline only ever reads records.
type Record struct {
	Slug       string
	OutputType OutputType
	IsActive   bool
	IsDirty    bool
	Config     *structpb.Struct // rule payload
	RawSource  *structpb.Struct // authoring source document, may be nil
	Version    int
	UpdatedAt  time.Time
}

// Active reports whether the record may be loaded into the active rule set.
func (r Record) Active() bool {
	return r.IsActive && !r.IsDirty
}

// #endregion record

// #region active-spec

// ActiveSpec is the registry's view of an active record.
type ActiveSpec struct {
	Slug       string
	OutputType OutputType
	Config     *structpb.Struct
	DependsOn  []string
	Version    int
}

// FromRecord converts a stored record into its active view, resolving dependencies.
func FromRecord(r Record) ActiveSpec {
	return ActiveSpec{
		Slug:       r.Slug,
		OutputType: r.OutputType,
		Config:     r.Config,
		DependsOn:  DependsOn(r.Config, r.RawSource),
		Version:    r.Version,
	}
}

// #endregion active-spec

// #region aggregation-rule

// Aggregation methods.
const (
	MethodThresholdMapping = "threshold_mapping"
	MethodWeightedAverage  = "weighted_average"
	MethodConsensus        = "consensus"
)

// Threshold is one half-open band [Min, Max) of a threshold mapping.
type Threshold struct {
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	Value      string   `json:"value"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Contains reports whether x falls inside the band.
func (t Threshold) Contains(x float64) bool {
	if t.Min != nil && x < *t.Min {
		return false
	}
	if t.Max != nil && x >= *t.Max {
		return false
	}
	return true
}

// AggregationRule maps a window of score events onto one profile key.
type AggregationRule struct {
	SourceParameter     string      `json:"sourceParameter"`
	TargetProfileKey    string      `json:"targetProfileKey"`
	Method              string      `json:"method"`
	Thresholds          []Threshold `json:"thresholds,omitempty"`
	WindowSize          int         `json:"windowSize"`
	MinimumObservations int         `json:"minimumObservations"`
	Scope               string      `json:"scope,omitempty"`
}

// #endregion aggregation-rule

// #region adaptation-rule

// Adjustment kinds.
const (
	AdjustSet      = "set"
	AdjustIncrease = "increase"
	AdjustDecrease = "decrease"
)

// Condition is an exact-match test against one profile key.
type Condition struct {
	ProfileKey string `json:"profileKey"`
	Value      string `json:"value"`
}

// Action adjusts one behavior target.
type Action struct {
	TargetParameter string   `json:"targetParameter"`
	Adjustment      string   `json:"adjustment"`
	Value           *float64 `json:"value,omitempty"`
	Delta           *float64 `json:"delta,omitempty"`
	Rationale       string   `json:"rationale,omitempty"`
}

// AdaptationRule fires its actions when the condition matches the caller's profile.
type AdaptationRule struct {
	ID        string    `json:"id,omitempty"`
	Condition Condition `json:"condition"`
	Actions   []Action  `json:"actions"`
	Rationale string    `json:"rationale,omitempty"`
}

// #endregion adaptation-rule

