package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/loom-sh/loom/internal/types"
)

// CreateIssue inserts a new issue. A missing id is generated.
func (s *Store) CreateIssue(ctx context.Context, issue *types.Issue) error {
	if issue.ID == "" {
		issue.ID = uuid.New().String()
	}
	if issue.Status == "" {
		issue.Status = types.IssueStatusOpen
	}
	now := time.Now().UTC()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	issue.UpdatedAt = now

	if err := issue.Validate(); err != nil {
		return fmt.Errorf("invalid issue: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (id, title, content, status, priority, group_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, issue.ID, issue.Title, issue.Content, issue.Status, issue.Priority,
		nullIfEmpty(issue.GroupID), issue.CreatedAt, issue.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}
	return nil
}

// GetIssue retrieves an issue by id.
func (s *Store) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, status, priority, COALESCE(group_id, ''), created_at, updated_at
		FROM issues WHERE id = ?
	`, id)
	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	return issue, nil
}

// ListIssues retrieves issues matching the filter.
func (s *Store) ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error) {
	query := `
		SELECT id, title, content, status, priority, COALESCE(group_id, ''), created_at, updated_at
		FROM issues WHERE 1=1
	`
	var args []interface{}
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, *filter.Status)
	}
	if filter.Priority != nil {
		query += " AND priority = ?"
		args = append(args, *filter.Priority)
	}
	if filter.GroupID != nil {
		query += " AND group_id = ?"
		args = append(args, *filter.GroupID)
	}
	query += " ORDER BY priority ASC, created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	return scanIssues(rows)
}

// UpdateIssueStatus transitions an issue to the given status.
func (s *Store) UpdateIssueStatus(ctx context.Context, id string, status types.IssueStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid status: %s", status)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE issues SET status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update issue status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("issue not found: %s", id)
	}
	return nil
}

// GetReadyIssues returns open issues with no unresolved blocking
// relationship, ordered by priority ascending then created_at ascending.
// An issue is blocked when some non-closed issue blocks it, or when it
// depends on a non-closed issue.
func (s *Store) GetReadyIssues(ctx context.Context) ([]*types.Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.title, i.content, i.status, i.priority, COALESCE(i.group_id, ''), i.created_at, i.updated_at
		FROM issues i
		WHERE i.status = 'open'
		  AND NOT EXISTS (
		      SELECT 1 FROM relationships r
		      JOIN issues blocker ON blocker.id = r.issue_id
		      WHERE r.type = 'blocks' AND r.target_id = i.id
		        AND blocker.status != 'closed'
		  )
		  AND NOT EXISTS (
		      SELECT 1 FROM relationships r
		      JOIN issues dep ON dep.id = r.target_id
		      WHERE r.type = 'depends-on' AND r.issue_id = i.id
		        AND dep.status != 'closed'
		  )
		ORDER BY i.priority ASC, i.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ready issues: %w", err)
	}
	defer rows.Close()

	return scanIssues(rows)
}

// AddRelationship inserts a directed issue link.
func (s *Store) AddRelationship(ctx context.Context, rel *types.Relationship) error {
	if !rel.Type.IsValid() {
		return fmt.Errorf("invalid relationship type: %s", rel.Type)
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (issue_id, target_id, type, created_at)
		VALUES (?, ?, ?, ?)
	`, rel.IssueID, rel.TargetID, rel.Type, rel.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add relationship: %w", err)
	}
	return nil
}

// RemoveRelationship deletes a directed issue link.
func (s *Store) RemoveRelationship(ctx context.Context, issueID, targetID string, relType types.RelationshipType) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM relationships WHERE issue_id = ? AND target_id = ? AND type = ?
	`, issueID, targetID, relType)
	if err != nil {
		return fmt.Errorf("failed to remove relationship: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("relationship not found: %s -> %s (%s)", issueID, targetID, relType)
	}
	return nil
}

// GetRelationships returns all links where the issue is on either side.
func (s *Store) GetRelationships(ctx context.Context, issueID string) ([]*types.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_id, target_id, type, created_at
		FROM relationships
		WHERE issue_id = ? OR target_id = ?
		ORDER BY created_at ASC
	`, issueID, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to get relationships: %w", err)
	}
	defer rows.Close()

	var rels []*types.Relationship
	for rows.Next() {
		var rel types.Relationship
		if err := rows.Scan(&rel.IssueID, &rel.TargetID, &rel.Type, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		rels = append(rels, &rel)
	}
	return rels, rows.Err()
}

// GetDependencyIssueIDs returns the issue ids this issue depends on.
// Note the directional inversion for blocks: if A blocks B, B depends on A.
func (s *Store) GetDependencyIssueIDs(ctx context.Context, issueID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_id FROM relationships WHERE type = 'blocks' AND target_id = ?
		UNION
		SELECT target_id FROM relationships WHERE type = 'depends-on' AND issue_id = ?
	`, issueID, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to get dependencies: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan dependency id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateSpec inserts a new spec document.
func (s *Store) CreateSpec(ctx context.Context, spec *types.Spec) error {
	if spec.ID == "" {
		spec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = now
	}
	spec.UpdatedAt = now

	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid spec: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO specs (id, title, content, issue_id, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, spec.ID, spec.Title, spec.Content, nullIfEmpty(spec.IssueID), spec.Archived, spec.CreatedAt, spec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create spec: %w", err)
	}
	return nil
}

// GetSpec retrieves a spec by id.
func (s *Store) GetSpec(ctx context.Context, id string) (*types.Spec, error) {
	var spec types.Spec
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, COALESCE(issue_id, ''), archived, created_at, updated_at
		FROM specs WHERE id = ?
	`, id).Scan(&spec.ID, &spec.Title, &spec.Content, &spec.IssueID, &spec.Archived, &spec.CreatedAt, &spec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("spec not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get spec: %w", err)
	}
	return &spec, nil
}

// ListSpecs returns all spec documents.
func (s *Store) ListSpecs(ctx context.Context) ([]*types.Spec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, COALESCE(issue_id, ''), archived, created_at, updated_at
		FROM specs ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list specs: %w", err)
	}
	defer rows.Close()

	var specs []*types.Spec
	for rows.Next() {
		var spec types.Spec
		if err := rows.Scan(&spec.ID, &spec.Title, &spec.Content, &spec.IssueID, &spec.Archived, &spec.CreatedAt, &spec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan spec: %w", err)
		}
		specs = append(specs, &spec)
	}
	return specs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIssue(row rowScanner) (*types.Issue, error) {
	var issue types.Issue
	err := row.Scan(&issue.ID, &issue.Title, &issue.Content, &issue.Status,
		&issue.Priority, &issue.GroupID, &issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func scanIssues(rows *sql.Rows) ([]*types.Issue, error) {
	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
