package types

import (
	"fmt"
	"time"
)

// Group clusters issues that share a working branch. Executions for issues
// in the same group are serialized to avoid racing on the branch.
type Group struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	WorkingBranch string      `json:"working_branch"`
	Status        GroupStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Validate checks if the group has valid field values
func (g *Group) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("id is required")
	}
	if g.Name == "" {
		return fmt.Errorf("name is required")
	}
	if g.WorkingBranch == "" {
		return fmt.Errorf("working_branch is required")
	}
	if !g.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", g.Status)
	}
	return nil
}

// GroupStatus represents whether a group accepts new executions.
type GroupStatus string

const (
	GroupActive GroupStatus = "active"
	GroupPaused GroupStatus = "paused"
)

// IsValid checks if the group status value is valid
func (s GroupStatus) IsValid() bool {
	return s == GroupActive || s == GroupPaused
}

// StackEntry places one issue at a depth within a stack of stacked branches.
type StackEntry struct {
	IssueID string `json:"issue_id"`
	Depth   int    `json:"depth"`
}

// Stack is a named sequence of stacked issues over one working branch.
type Stack struct {
	Name    string       `json:"stack"`
	Entries []StackEntry `json:"entries"`
}

// StackMembership is the stack placement of a single issue, returned from
// batch membership lookups.
type StackMembership struct {
	StackName string `json:"stack_name"`
	Depth     int    `json:"depth"`
}
