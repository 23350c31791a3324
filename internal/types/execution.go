package types

import (
	"fmt"
	"time"
)

// Execution represents one run attempt against an issue. It is created by
// the scheduler, mutated by the execution runtime as it progresses, and
// finalized when the runtime reports a terminal status.
type Execution struct {
	ID           string          `json:"id"`
	IssueID      string          `json:"issue_id"`
	Status       ExecutionStatus `json:"status"`
	WorktreePath string          `json:"worktree_path,omitempty"`
	BranchName   string          `json:"branch_name,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ExitCode     *int            `json:"exit_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	FilesChanged []string        `json:"files_changed,omitempty"`
}

// Validate checks if the execution has valid field values
func (e *Execution) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.IssueID == "" {
		return fmt.Errorf("issue_id is required")
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", e.Status)
	}
	return nil
}

// ExecutionStatus represents the state of an execution. Several of the
// string values overlap with queue entry statuses, but the two are distinct
// types so one can never be assigned where the other is expected.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionStopped   ExecutionStatus = "stopped"
)

// IsValid checks if the execution status value is valid
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionPending, ExecutionRunning, ExecutionCompleted,
		ExecutionFailed, ExecutionCancelled, ExecutionStopped:
		return true
	}
	return false
}

// IsTerminal reports whether the execution has finished and will not
// transition again. The scheduler reconciles terminal executions on its
// next tick rather than via callbacks.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionStopped:
		return true
	}
	return false
}
