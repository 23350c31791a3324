package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/loom-sh/loom/internal/types"
)

// CreateCheckpoint inserts a new checkpoint. Checkpoints are immutable
// apart from their review status, so there is no general update.
func (s *Store) CreateCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}

	files, err := json.Marshal(cp.ChangedFiles)
	if err != nil {
		return fmt.Errorf("failed to marshal changed_files: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, issue_id, execution_id, stream_id, commit_sha,
			parent_commit, changed_files, review_status, target_branch, queue_position,
			issue_snapshot, spec_snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cp.ID, cp.IssueID, cp.ExecutionID, cp.StreamID, cp.CommitSHA,
		cp.ParentCommit, string(files), cp.ReviewStatus, cp.TargetBranch,
		cp.QueuePosition, cp.IssueSnapshot, cp.SpecSnapshot, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves a checkpoint by id.
func (s *Store) GetCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, checkpointSelect+" WHERE id = ?", id)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("checkpoint not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns checkpoints with the given review status in
// creation order. Creation order is the discovery order the overlay engine
// uses as its topological tie-break.
func (s *Store) ListCheckpoints(ctx context.Context, reviewStatus types.ReviewStatus) ([]*types.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		checkpointSelect+" WHERE review_status = ? ORDER BY created_at ASC, id ASC", reviewStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	return scanCheckpoints(rows)
}

// GetLatestCheckpointForIssue returns the most recent checkpoint recorded
// for an issue, or nil if there is none.
func (s *Store) GetLatestCheckpointForIssue(ctx context.Context, issueID string) (*types.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		checkpointSelect+" WHERE issue_id = ? ORDER BY created_at DESC, id DESC LIMIT 1", issueID)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	return cp, nil
}

// UpdateCheckpointReviewStatus applies a review transition, enforcing the
// pending -> approved/rejected -> merged state machine.
func (s *Store) UpdateCheckpointReviewStatus(ctx context.Context, id string, status types.ReviewStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid review status: %s", status)
	}

	cp, err := s.GetCheckpoint(ctx, id)
	if err != nil {
		return err
	}
	if !cp.ReviewStatus.CanTransitionTo(status) {
		return fmt.Errorf("invalid review transition %s -> %s for checkpoint %s",
			cp.ReviewStatus, status, id)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE checkpoints SET review_status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update review status: %w", err)
	}
	return nil
}

// GetMergedIssueIDs returns the set of issue ids with at least one merged
// checkpoint.
func (s *Store) GetMergedIssueIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT issue_id FROM checkpoints
		WHERE review_status = 'merged' AND issue_id != ''
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query merged issues: %w", err)
	}
	defer rows.Close()

	merged := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan merged issue id: %w", err)
		}
		merged[id] = true
	}
	return merged, rows.Err()
}

const checkpointSelect = `
	SELECT id, issue_id, execution_id, stream_id, commit_sha, parent_commit,
		changed_files, review_status, target_branch, queue_position,
		issue_snapshot, spec_snapshot, created_at
	FROM checkpoints
`

func scanCheckpoint(row rowScanner) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	var files string
	err := row.Scan(&cp.ID, &cp.IssueID, &cp.ExecutionID, &cp.StreamID,
		&cp.CommitSHA, &cp.ParentCommit, &files, &cp.ReviewStatus,
		&cp.TargetBranch, &cp.QueuePosition, &cp.IssueSnapshot,
		&cp.SpecSnapshot, &cp.CreatedAt)
	if err != nil {
		return nil, err
	}
	if files != "" {
		if err := json.Unmarshal([]byte(files), &cp.ChangedFiles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changed_files: %w", err)
		}
	}
	return &cp, nil
}

func scanCheckpoints(rows *sql.Rows) ([]*types.Checkpoint, error) {
	var cps []*types.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}
