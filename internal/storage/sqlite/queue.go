package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/loom-sh/loom/internal/types"
)

// AddQueueEntry inserts a merge queue entry. Position is assigned by the
// caller; the queue view recomputes display positions on read.
func (s *Store) AddQueueEntry(ctx context.Context, e *types.QueueEntry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid queue entry: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_entries (id, execution_id, stream_id, target_branch,
			position, priority, status, added_at, error, merge_commit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ExecutionID, e.StreamID, e.TargetBranch, e.Position,
		e.Priority, e.Status, e.AddedAt, e.Error, e.MergeCommit)
	if err != nil {
		return fmt.Errorf("failed to add queue entry: %w", err)
	}
	return nil
}

// GetQueueEntry retrieves a queue entry by id.
func (s *Store) GetQueueEntry(ctx context.Context, id string) (*types.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, queueSelect+" WHERE id = ?", id)
	e, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("queue entry not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return e, nil
}

// GetQueueEntryByExecution returns the queue entry for an execution, or nil
// if the execution was never queued.
func (s *Store) GetQueueEntryByExecution(ctx context.Context, executionID string) (*types.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, queueSelect+" WHERE execution_id = ?", executionID)
	e, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry by execution: %w", err)
	}
	return e, nil
}

// ListQueueEntries returns queue entries ordered by position then insertion
// time. A zero-value filter lists everything.
func (s *Store) ListQueueEntries(ctx context.Context, filter types.QueueFilter) ([]*types.QueueEntry, error) {
	query := queueSelect
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.TargetBranch != "" {
		conditions = append(conditions, "target_branch = ?")
		args = append(args, filter.TargetBranch)
	}
	if filter.StreamID != "" {
		conditions = append(conditions, "stream_id = ?")
		args = append(args, filter.StreamID)
	}
	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY position ASC, added_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*types.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateQueueEntry rewrites the mutable fields of a queue entry.
func (s *Store) UpdateQueueEntry(ctx context.Context, e *types.QueueEntry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid queue entry: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries
		SET position = ?, priority = ?, status = ?, error = ?, merge_commit = ?
		WHERE id = ?
	`, e.Position, e.Priority, e.Status, e.Error, e.MergeCommit, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update queue entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("queue entry not found: %s", e.ID)
	}
	return nil
}

// RemoveQueueEntry deletes a queue entry. Removing a missing entry is not
// an error so completion cleanup stays idempotent.
func (s *Store) RemoveQueueEntry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM queue_entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to remove queue entry: %w", err)
	}
	return nil
}

const queueSelect = `
	SELECT id, execution_id, stream_id, target_branch, position, priority,
		status, added_at, error, merge_commit
	FROM queue_entries
`

func scanQueueEntry(row rowScanner) (*types.QueueEntry, error) {
	var e types.QueueEntry
	err := row.Scan(&e.ID, &e.ExecutionID, &e.StreamID, &e.TargetBranch,
		&e.Position, &e.Priority, &e.Status, &e.AddedAt, &e.Error, &e.MergeCommit)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
