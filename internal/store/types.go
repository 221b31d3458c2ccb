package store

import "time"

// #region scopes

// ScopeLearnerProfile is the attribute scope for derived learner characteristics.
const ScopeLearnerProfile = "LEARNER_PROFILE"

// #endregion scopes

// #region parameter

// Parameter is a behavior parameter definition. Reference data, read-only to the pipeline.
type Parameter struct {
	ID           string
	Kind         string // e.g. "BEHAVIOR"
	IsAdjustable bool
	HighLabel    string // meaning of a value near 1
	LowLabel     string // meaning of a value near 0
}

// #endregion parameter

// #region score-event

// ScoreEvent is one measurement of a caller against a parameter. Append-only.
type ScoreEvent struct {
	CallerID    string
	ParameterID string
	Score       float64
	Confidence  float64
	ScoredAt    time.Time
}

// #endregion score-event

// #region attribute

// Attribute is a derived profile value keyed by (CallerID, Key, Scope).
type Attribute struct {
	ID         string
	CallerID   string
	Key        string
	Value      string
	Confidence float64
	Scope      string
	UpdatedAt  time.Time
}

// #endregion attribute

// #region target

// Target is the desired behavior value for one caller and parameter.
type Target struct {
	ID          string
	CallerID    string
	ParameterID string
	TargetValue float64
	Confidence  float64
	SourceSpec  string
	Rationale   string
	UpdatedAt   time.Time
}

// #endregion target

// #region erase-result

// EraseResult counts rows removed by EraseCallerData.
type EraseResult struct {
	Attributes int64
	Targets    int64
	Scores     int64
}

// #endregion erase-result
