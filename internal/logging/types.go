package logging

import "time"

// #region decision
// Decision is the outcome recorded for one spec in a run.
type Decision string

const (
	DecisionRan     Decision = "ran"
	DecisionSkipped Decision = "skipped"
	DecisionFailed  Decision = "failed"
)

// #endregion decision

// #region decision-entry
// DecisionEntry is a single row in the pipeline_log table.
type DecisionEntry struct {
	RunID      string
	CallerID   string
	SpecSlug   string
	OutputType string
	Decision   Decision
	Reason     string
	Details    any // marshalled into details_json; nil leaves the column NULL
	CreatedAt  time.Time
}

// #endregion decision-entry

// #region stored-entry
// StoredEntry is a pipeline_log row as read back.
type StoredEntry struct {
	ID          int64
	RunID       string
	CallerID    string
	SpecSlug    string
	OutputType  string
	Decision    Decision
	Reason      string
	DetailsJSON string
	CreatedAt   time.Time
}

// #endregion stored-entry
