package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// #region upsert-attribute
// UpsertAttribute writes a profile value keyed by (callerID, key, scope).
func (s *Store) UpsertAttribute(ctx context.Context, callerID, key, value string, confidence float64, scope string) error {
	if callerID == "" || key == "" || scope == "" {
		return fmt.Errorf("upsert attribute: caller, key and scope are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attributes (id, caller_id, key, scope, value, confidence, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(caller_id, key, scope) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at`,
		uuid.New().String(), callerID, key, scope, value, confidence, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert attribute %s/%s: %w", scope, key, err)
	}
	return nil
}
// #endregion upsert-attribute

// #region find-attributes
// FindAttributes returns the caller's profile values in one scope as key → value.
func (s *Store) FindAttributes(ctx context.Context, callerID, scope string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM attributes WHERE caller_id = ? AND scope = ?`, callerID, scope,
	)
	if err != nil {
		return nil, fmt.Errorf("find attributes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ListAttributes returns every attribute of a caller ordered by scope and key.
func (s *Store) ListAttributes(ctx context.Context, callerID string) ([]Attribute, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, caller_id, key, value, confidence, scope, updated_at
		 FROM attributes WHERE caller_id = ? ORDER BY scope, key`, callerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attributes: %w", err)
	}
	defer rows.Close()

	var attrs []Attribute
	for rows.Next() {
		var a Attribute
		var updatedStr string
		if err := rows.Scan(&a.ID, &a.CallerID, &a.Key, &a.Value, &a.Confidence, &a.Scope, &updatedStr); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		a.UpdatedAt = parseTime(updatedStr)
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}
// #endregion find-attributes

// #region upsert-target
// UpsertTarget writes a behavior target keyed by (callerID, parameterID). Last write wins.
func (s *Store) UpsertTarget(ctx context.Context, callerID, parameterID string, value, confidence float64, sourceSpec, rationale string) error {
	if callerID == "" || parameterID == "" {
		return fmt.Errorf("upsert target: caller and parameter are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO targets (id, caller_id, parameter_id, target_value, confidence, source_spec, rationale, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(caller_id, parameter_id) DO UPDATE SET
			target_value = excluded.target_value,
			confidence = excluded.confidence,
			source_spec = excluded.source_spec,
			rationale = excluded.rationale,
			updated_at = excluded.updated_at`,
		uuid.New().String(), callerID, parameterID, value, confidence,
		nullIfEmpty(sourceSpec), nullIfEmpty(rationale), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert target %s: %w", parameterID, err)
	}
	return nil
}
// #endregion upsert-target

// #region find-target
const targetColumns = `id, caller_id, parameter_id, target_value, confidence, source_spec, rationale, updated_at`

// FindTarget returns the caller's current target for a parameter, or nil when none exists.
func (s *Store) FindTarget(ctx context.Context, callerID, parameterID string) (*Target, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE caller_id = ? AND parameter_id = ?`,
		callerID, parameterID,
	)
	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find target %s: %w", parameterID, err)
	}
	return &t, nil
}

// ListTargets returns every target of a caller ordered by parameter.
func (s *Store) ListTargets(ctx context.Context, callerID string) ([]Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE caller_id = ? ORDER BY parameter_id`, callerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTarget(row scanner) (Target, error) {
	var t Target
	var source, rationale sql.NullString
	var updatedStr string
	if err := row.Scan(&t.ID, &t.CallerID, &t.ParameterID, &t.TargetValue, &t.Confidence, &source, &rationale, &updatedStr); err != nil {
		return Target{}, err
	}
	t.SourceSpec = source.String
	t.Rationale = rationale.String
	t.UpdatedAt = parseTime(updatedStr)
	return t, nil
}
// #endregion find-target

// #region erase
// EraseCallerData removes a caller's attributes, targets and score events in one
// transaction. The pipeline never calls this; it backs the external erase operation.
func (s *Store) EraseCallerData(ctx context.Context, callerID string) (EraseResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return EraseResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var res EraseResult
	steps := []struct {
		query string
		count *int64
	}{
		{`DELETE FROM attributes WHERE caller_id = ?`, &res.Attributes},
		{`DELETE FROM targets WHERE caller_id = ?`, &res.Targets},
		{`DELETE FROM score_events WHERE caller_id = ?`, &res.Scores},
	}
	for _, st := range steps {
		r, err := tx.ExecContext(ctx, st.query, callerID)
		if err != nil {
			return EraseResult{}, fmt.Errorf("erase caller %s: %w", callerID, err)
		}
		*st.count, _ = r.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return EraseResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}
// #endregion erase
