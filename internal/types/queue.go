package types

import (
	"fmt"
	"time"
)

// QueueEntry is one pending merge request for a target branch.
type QueueEntry struct {
	ID           string      `json:"id"`
	ExecutionID  string      `json:"execution_id"`
	StreamID     string      `json:"stream_id"`
	TargetBranch string      `json:"target_branch"`
	Position     int         `json:"position"`
	Priority     int         `json:"priority"`
	Status       QueueStatus `json:"status"`
	AddedAt      time.Time   `json:"added_at"`
	Error        string      `json:"error,omitempty"`
	MergeCommit  string      `json:"merge_commit,omitempty"`
}

// Validate checks if the queue entry has valid field values
func (q *QueueEntry) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("id is required")
	}
	if q.ExecutionID == "" {
		return fmt.Errorf("execution_id is required")
	}
	if q.TargetBranch == "" {
		return fmt.Errorf("target_branch is required")
	}
	if !q.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", q.Status)
	}
	return nil
}

// QueueStatus represents the state of a merge queue entry.
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueReady     QueueStatus = "ready"
	QueueMerging   QueueStatus = "merging"
	QueueMerged    QueueStatus = "merged"
	QueueFailed    QueueStatus = "failed"
	QueueCancelled QueueStatus = "cancelled"
)

// IsValid checks if the queue status value is valid
func (s QueueStatus) IsValid() bool {
	switch s {
	case QueuePending, QueueReady, QueueMerging, QueueMerged, QueueFailed, QueueCancelled:
		return true
	}
	return false
}

// EnrichedQueueEntry is a QueueEntry decorated with issue identity, stack
// membership and promotion eligibility. It is computed fresh on every query
// and never persisted.
type EnrichedQueueEntry struct {
	QueueEntry

	IssueID        string       `json:"issue_id,omitempty"`
	IssueTitle     string       `json:"issue_title,omitempty"`
	StackName      string       `json:"stack_name,omitempty"`
	StackDepth     int          `json:"stack_depth,omitempty"`
	DependencyIDs  []string     `json:"dependency_ids,omitempty"`
	ReviewStatus   ReviewStatus `json:"review_status,omitempty"`
	CanPromote     bool         `json:"can_promote"`
	BlockedReasons []string     `json:"blocked_reasons,omitempty"`
}

// QueueFilter narrows a queue listing. Zero-value fields are ignored.
type QueueFilter struct {
	Status       QueueStatus
	TargetBranch string
	StreamID     string
}

// QueueStats aggregates queue composition over the unfiltered entry set.
type QueueStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByStack  map[string]int `json:"by_stack"`
}

// StandaloneStackKey buckets queue entries whose issue belongs to no stack.
const StandaloneStackKey = "standalone"

// ReorderValidation is the structured result of a queue reorder request.
// A dependency violation is an expected user-facing condition, not an error.
type ReorderValidation struct {
	Valid     bool     `json:"valid"`
	BlockedBy []string `json:"blocked_by,omitempty"`
}
