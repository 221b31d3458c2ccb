package store

import (
	"context"
	"fmt"
	"time"
)

// #region append-score
// AppendScore records one score event. Values are stored as given; consumers clamp.
func (s *Store) AppendScore(ctx context.Context, ev ScoreEvent) error {
	if ev.CallerID == "" || ev.ParameterID == "" {
		return fmt.Errorf("append score: caller and parameter are required")
	}
	if ev.ScoredAt.IsZero() {
		ev.ScoredAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO score_events (caller_id, parameter_id, score, confidence, scored_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.CallerID, ev.ParameterID, ev.Score, ev.Confidence, formatTime(ev.ScoredAt),
	)
	if err != nil {
		return fmt.Errorf("append score: %w", err)
	}
	return nil
}
// #endregion append-score

// #region find-recent-scores
// FindRecentScores returns up to windowSize events for (callerID, parameterID),
// most recent first. Events with equal timestamps keep insertion order, newest first.
func (s *Store) FindRecentScores(ctx context.Context, callerID, parameterID string, windowSize int) ([]ScoreEvent, error) {
	if windowSize <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT caller_id, parameter_id, score, confidence, scored_at
		 FROM score_events
		 WHERE caller_id = ? AND parameter_id = ?
		 ORDER BY scored_at DESC, seq DESC
		 LIMIT ?`,
		callerID, parameterID, windowSize,
	)
	if err != nil {
		return nil, fmt.Errorf("find recent scores: %w", err)
	}
	defer rows.Close()

	var events []ScoreEvent
	for rows.Next() {
		var ev ScoreEvent
		var scoredStr string
		if err := rows.Scan(&ev.CallerID, &ev.ParameterID, &ev.Score, &ev.Confidence, &scoredStr); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		ev.ScoredAt = parseTime(scoredStr)
		events = append(events, ev)
	}
	return events, rows.Err()
}
// #endregion find-recent-scores
