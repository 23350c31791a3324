package types

import (
	"fmt"
	"time"
)

// Issue represents a backlog work item.
type Issue struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Content   string      `json:"content,omitempty"`
	Status    IssueStatus `json:"status"`
	Priority  int         `json:"priority"` // 0 = highest
	GroupID   string      `json:"group_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Validate checks if the issue has valid field values
func (i *Issue) Validate() error {
	if len(i.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(i.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(i.Title))
	}
	if i.Priority < 0 {
		return fmt.Errorf("priority cannot be negative (got %d)", i.Priority)
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", i.Status)
	}
	return nil
}

// IssueStatus represents the current state of an issue.
// Status transitions are driven only by the scheduler or explicit user action.
type IssueStatus string

const (
	IssueStatusOpen        IssueStatus = "open"
	IssueStatusInProgress  IssueStatus = "in_progress"
	IssueStatusBlocked     IssueStatus = "blocked"
	IssueStatusNeedsReview IssueStatus = "needs_review"
	IssueStatusClosed      IssueStatus = "closed"
)

// IsValid checks if the status value is valid
func (s IssueStatus) IsValid() bool {
	switch s {
	case IssueStatusOpen, IssueStatusInProgress, IssueStatusBlocked,
		IssueStatusNeedsReview, IssueStatusClosed:
		return true
	}
	return false
}

// Relationship represents a directed link between two issues.
type Relationship struct {
	IssueID   string           `json:"issue_id"`
	TargetID  string           `json:"target_id"`
	Type      RelationshipType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
}

// RelationshipType categorizes the link between issues.
type RelationshipType string

const (
	// RelBlocks means the issue blocks the target: the target depends on it.
	RelBlocks RelationshipType = "blocks"
	// RelDependsOn means the issue depends on the target.
	RelDependsOn RelationshipType = "depends-on"
	// RelRelated is an informational link with no scheduling effect.
	RelRelated RelationshipType = "related"
)

// IsValid checks if the relationship type value is valid
func (r RelationshipType) IsValid() bool {
	switch r {
	case RelBlocks, RelDependsOn, RelRelated:
		return true
	}
	return false
}

// IssueFilter is used to filter issue queries
type IssueFilter struct {
	Status   *IssueStatus
	Priority *int
	GroupID  *string
	Limit    int
}
