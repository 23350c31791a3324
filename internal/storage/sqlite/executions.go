package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/loom-sh/loom/internal/types"
)

// CreateExecution inserts a new execution record.
func (s *Store) CreateExecution(ctx context.Context, exec *types.Execution) error {
	if err := exec.Validate(); err != nil {
		return fmt.Errorf("invalid execution: %w", err)
	}

	files, err := json.Marshal(exec.FilesChanged)
	if err != nil {
		return fmt.Errorf("failed to marshal files_changed: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, issue_id, status, worktree_path, branch_name,
			started_at, completed_at, exit_code, error_message, files_changed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exec.ID, exec.IssueID, exec.Status, exec.WorktreePath, exec.BranchName,
		exec.StartedAt, exec.CompletedAt, exec.ExitCode, exec.ErrorMessage, string(files))
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by id.
func (s *Store) GetExecution(ctx context.Context, id string) (*types.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, issue_id, status, worktree_path, branch_name,
			started_at, completed_at, exit_code, error_message, files_changed
		FROM executions WHERE id = ?
	`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

// UpdateExecution persists the mutable fields of an execution.
func (s *Store) UpdateExecution(ctx context.Context, exec *types.Execution) error {
	if err := exec.Validate(); err != nil {
		return fmt.Errorf("invalid execution: %w", err)
	}

	files, err := json.Marshal(exec.FilesChanged)
	if err != nil {
		return fmt.Errorf("failed to marshal files_changed: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET status = ?, worktree_path = ?, branch_name = ?, completed_at = ?,
			exit_code = ?, error_message = ?, files_changed = ?
		WHERE id = ?
	`, exec.Status, exec.WorktreePath, exec.BranchName, exec.CompletedAt,
		exec.ExitCode, exec.ErrorMessage, string(files), exec.ID)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("execution not found: %s", exec.ID)
	}
	return nil
}

// ListExecutionsByStatus returns executions with the given status,
// oldest first.
func (s *Store) ListExecutionsByStatus(ctx context.Context, status types.ExecutionStatus) ([]*types.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issue_id, status, worktree_path, branch_name,
			started_at, completed_at, exit_code, error_message, files_changed
		FROM executions WHERE status = ? ORDER BY started_at ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var execs []*types.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(row rowScanner) (*types.Execution, error) {
	var exec types.Execution
	var files string
	err := row.Scan(&exec.ID, &exec.IssueID, &exec.Status, &exec.WorktreePath,
		&exec.BranchName, &exec.StartedAt, &exec.CompletedAt, &exec.ExitCode,
		&exec.ErrorMessage, &files)
	if err != nil {
		return nil, err
	}
	if files != "" {
		if err := json.Unmarshal([]byte(files), &exec.FilesChanged); err != nil {
			return nil, fmt.Errorf("failed to unmarshal files_changed: %w", err)
		}
	}
	return &exec, nil
}
