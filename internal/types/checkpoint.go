package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Checkpoint is an immutable snapshot of one execution's output at a point
// in time. Checkpoints form a DAG via stream/parent pointers; only the
// review status may change after creation.
type Checkpoint struct {
	ID            string       `json:"id"`
	IssueID       string       `json:"issue_id"`
	ExecutionID   string       `json:"execution_id"`
	StreamID      string       `json:"stream_id"`
	CommitSHA     string       `json:"commit_sha"`
	ParentCommit  string       `json:"parent_commit,omitempty"`
	ChangedFiles  []string     `json:"changed_files,omitempty"`
	ReviewStatus  ReviewStatus `json:"review_status"`
	TargetBranch  string       `json:"target_branch"`
	QueuePosition int          `json:"queue_position,omitempty"`
	// IssueSnapshot and SpecSnapshot are optional serialized change-lists
	// ([]SnapshotEntry as JSON) captured from the execution's database.
	IssueSnapshot string    `json:"issue_snapshot,omitempty"`
	SpecSnapshot  string    `json:"spec_snapshot,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks if the checkpoint has valid field values
func (c *Checkpoint) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.ExecutionID == "" {
		return fmt.Errorf("execution_id is required")
	}
	if c.StreamID == "" {
		return fmt.Errorf("stream_id is required")
	}
	if !c.ReviewStatus.IsValid() {
		return fmt.Errorf("invalid review status: %s", c.ReviewStatus)
	}
	if c.IssueSnapshot != "" {
		if _, err := ParseSnapshot(c.IssueSnapshot); err != nil {
			return fmt.Errorf("issue_snapshot: %w", err)
		}
	}
	if c.SpecSnapshot != "" {
		if _, err := ParseSnapshot(c.SpecSnapshot); err != nil {
			return fmt.Errorf("spec_snapshot: %w", err)
		}
	}
	return nil
}

// ReviewStatus represents where a checkpoint sits in the review pipeline.
// Transitions: pending -> approved/rejected, approved -> merged.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
	ReviewMerged   ReviewStatus = "merged"
)

// IsValid checks if the review status value is valid
func (s ReviewStatus) IsValid() bool {
	switch s {
	case ReviewPending, ReviewApproved, ReviewRejected, ReviewMerged:
		return true
	}
	return false
}

// CanTransitionTo checks if a review status transition is allowed
func (s ReviewStatus) CanTransitionTo(target ReviewStatus) bool {
	switch s {
	case ReviewPending:
		return target == ReviewApproved || target == ReviewRejected
	case ReviewApproved:
		return target == ReviewMerged || target == ReviewRejected
	}
	return false
}

// ChangeType tags a snapshot entry with the kind of change it records.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// IsValid checks if the change type value is valid
func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeCreated, ChangeModified, ChangeDeleted:
		return true
	}
	return false
}

// SnapshotEntry is one change recorded in a checkpoint snapshot. Entity
// holds the full serialized entity for created/modified entries and may be
// empty for deletions.
type SnapshotEntry struct {
	ID         string          `json:"id"`
	ChangeType ChangeType      `json:"changeType"`
	Entity     json.RawMessage `json:"entity,omitempty"`
}

// ParseSnapshot decodes a serialized change-list. Entries with a missing id
// or an unknown change type are rejected so a half-written snapshot cannot
// silently corrupt an overlay.
func ParseSnapshot(raw string) ([]SnapshotEntry, error) {
	var entries []SnapshotEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("snapshot entry %d: id is required", i)
		}
		if !e.ChangeType.IsValid() {
			return nil, fmt.Errorf("snapshot entry %d: invalid change type %q", i, e.ChangeType)
		}
	}
	return entries, nil
}
