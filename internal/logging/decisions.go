package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// #region decision-log
// DecisionLog writes run decisions to the pipeline_log table. A nil *DecisionLog
// is valid and records nothing.
type DecisionLog struct {
	db *sql.DB
}

// NewDecisionLog wraps a database that already carries the pipeline_log table.
func NewDecisionLog(db *sql.DB) *DecisionLog {
	if db == nil {
		return nil
	}
	return &DecisionLog{db: db}
}

// Record writes one decision entry.
func (l *DecisionLog) Record(ctx context.Context, entry DecisionEntry) error {
	if l == nil {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var details interface{}
	if entry.Details != nil {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal decision details: %w", err)
		}
		details = string(data)
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO pipeline_log (run_id, caller_id, spec_slug, output_type, decision, reason, details_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.CallerID,
		nullIfEmpty(entry.SpecSlug),
		nullIfEmpty(entry.OutputType),
		string(entry.Decision),
		nullIfEmpty(entry.Reason),
		details,
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// ListRun returns the entries of one run in insertion order.
func (l *DecisionLog) ListRun(ctx context.Context, runID string) ([]StoredEntry, error) {
	if l == nil {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, caller_id, spec_slug, output_type, decision, reason, details_json, created_at
		 FROM pipeline_log WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []StoredEntry
	for rows.Next() {
		var (
			e                                 StoredEntry
			slug, outputType, reason, details sql.NullString
			decision, createdAt               string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.CallerID, &slug, &outputType, &decision, &reason, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.SpecSlug = slug.String
		e.OutputType = outputType.String
		e.Decision = Decision(decision)
		e.Reason = reason.String
		e.DetailsJSON = details.String
		e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion decision-log

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
