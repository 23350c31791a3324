package sqlite

import (
	"context"
	"fmt"

	"github.com/loom-sh/loom/internal/events"
)

// AddEvent appends an event to the activity trail. The row id is written
// back into the event.
func (s *Store) AddEvent(ctx context.Context, e *events.Event) error {
	if e.Type == "" || e.Message == "" {
		return fmt.Errorf("event type and message are required")
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_events (event_type, severity, issue_id, execution_id, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.Type, e.Severity, e.IssueID, e.ExecutionID, e.Message, e.Metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add event: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// GetEvents returns events matching the filter, newest first.
func (s *Store) GetEvents(ctx context.Context, filter events.Filter) ([]*events.Event, error) {
	query := `
		SELECT id, event_type, severity, issue_id, execution_id, message, metadata, created_at
		FROM scheduler_events
	`
	var conditions []string
	var args []interface{}

	if filter.IssueID != "" {
		conditions = append(conditions, "issue_id = ?")
		args = append(args, filter.IssueID)
	}
	if filter.ExecutionID != "" {
		conditions = append(conditions, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.Type != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, filter.Type)
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, filter.Severity)
	}
	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var result []*events.Event
	for rows.Next() {
		var e events.Event
		err := rows.Scan(&e.ID, &e.Type, &e.Severity, &e.IssueID,
			&e.ExecutionID, &e.Message, &e.Metadata, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

// PruneEvents deletes all but the newest keep events, returning the number
// of rows removed.
func (s *Store) PruneEvents(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must be non-negative, got %d", keep)
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM scheduler_events
		WHERE id NOT IN (
			SELECT id FROM scheduler_events ORDER BY created_at DESC, id DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check prune result: %w", err)
	}
	return int(n), nil
}
