package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/loom-sh/loom/internal/types"
)

// CreateGroup inserts a new execution group.
func (s *Store) CreateGroup(ctx context.Context, g *types.Group) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("invalid group: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, name, working_branch, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, g.ID, g.Name, g.WorkingBranch, g.Status, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by id.
func (s *Store) GetGroup(ctx context.Context, id string) (*types.Group, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, working_branch, status, created_at FROM groups WHERE id = ?", id)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("group not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// GetGroupForIssue returns the group an issue belongs to, or nil if the
// issue is ungrouped.
func (s *Store) GetGroupForIssue(ctx context.Context, issueID string) (*types.Group, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT g.id, g.name, g.working_branch, g.status, g.created_at
		FROM groups g
		JOIN issues i ON i.group_id = g.id
		WHERE i.id = ?
	`, issueID)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group for issue: %w", err)
	}
	return g, nil
}

// UpdateGroupStatus pauses or resumes a group.
func (s *Store) UpdateGroupStatus(ctx context.Context, id string, status types.GroupStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid group status: %s", status)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE groups SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update group status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("group not found: %s", id)
	}
	return nil
}

// ListStacks returns all stacks with their entries ordered by depth.
func (s *Store) ListStacks(ctx context.Context) ([]*types.Stack, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stack_name, issue_id, depth FROM stack_entries
		ORDER BY stack_name ASC, depth ASC, issue_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stacks: %w", err)
	}
	defer rows.Close()

	var stacks []*types.Stack
	byName := make(map[string]*types.Stack)
	for rows.Next() {
		var name string
		var entry types.StackEntry
		if err := rows.Scan(&name, &entry.IssueID, &entry.Depth); err != nil {
			return nil, fmt.Errorf("failed to scan stack entry: %w", err)
		}
		stack, ok := byName[name]
		if !ok {
			stack = &types.Stack{Name: name}
			byName[name] = stack
			stacks = append(stacks, stack)
		}
		stack.Entries = append(stack.Entries, entry)
	}
	return stacks, rows.Err()
}

// AddStackEntry places an issue at a depth within a stack, replacing any
// previous placement of that issue in the same stack.
func (s *Store) AddStackEntry(ctx context.Context, stackName, issueID string, depth int) error {
	if stackName == "" || issueID == "" {
		return fmt.Errorf("stack name and issue id are required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stack_entries (stack_name, issue_id, depth)
		VALUES (?, ?, ?)
		ON CONFLICT(stack_name, issue_id) DO UPDATE SET depth = excluded.depth
	`, stackName, issueID, depth)
	if err != nil {
		return fmt.Errorf("failed to add stack entry: %w", err)
	}
	return nil
}

// GetStackMembership resolves stack placement for a batch of issue ids in
// one query. Issues not in any stack are absent from the result.
func (s *Store) GetStackMembership(ctx context.Context, issueIDs []string) (map[string]types.StackMembership, error) {
	membership := make(map[string]types.StackMembership)
	if len(issueIDs) == 0 {
		return membership, nil
	}

	placeholders := strings.Repeat("?,", len(issueIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(issueIDs))
	for i, id := range issueIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT issue_id, stack_name, depth FROM stack_entries WHERE issue_id IN ("+placeholders+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stack membership: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var issueID string
		var m types.StackMembership
		if err := rows.Scan(&issueID, &m.StackName, &m.Depth); err != nil {
			return nil, fmt.Errorf("failed to scan stack membership: %w", err)
		}
		membership[issueID] = m
	}
	return membership, rows.Err()
}

func scanGroup(row rowScanner) (*types.Group, error) {
	var g types.Group
	err := row.Scan(&g.ID, &g.Name, &g.WorkingBranch, &g.Status, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}
