// Package events defines the structured activity-trail events emitted by
// the scheduler and merge queue. Events are persisted to storage and drive
// the activity feed; they are observability, not control flow.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies what happened.
type EventType string

const (
	// EventExecutionStarted indicates the scheduler started an execution.
	EventExecutionStarted EventType = "execution_started"
	// EventExecutionCompleted indicates an execution reached a terminal status.
	EventExecutionCompleted EventType = "execution_completed"
	// EventExecutionStartFailed indicates an execution could not be started.
	EventExecutionStartFailed EventType = "execution_start_failed"
	// EventGatesCompleted indicates quality gates ran for an execution.
	EventGatesCompleted EventType = "gates_completed"
	// EventQueuePromoted indicates a queue entry was promoted to merging.
	EventQueuePromoted EventType = "queue_promoted"
	// EventQueueMerged indicates a queue entry was merged to its target branch.
	EventQueueMerged EventType = "queue_merged"
	// EventQueueMergeFailed indicates a merge attempt failed.
	EventQueueMergeFailed EventType = "queue_merge_failed"
	// EventCheckpointSkipped indicates the overlay engine skipped an
	// unreadable checkpoint snapshot.
	EventCheckpointSkipped EventType = "checkpoint_skipped"
	// EventConflictDetected indicates the conflict pre-check flagged overlap.
	EventConflictDetected EventType = "conflict_detected"
)

// Severity classifies an event for display filtering.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one activity-trail entry.
type Event struct {
	ID          int64     `json:"id"`
	Type        EventType `json:"type"`
	Severity    Severity  `json:"severity"`
	IssueID     string    `json:"issue_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Message     string    `json:"message"`
	Metadata    string    `json:"metadata,omitempty"` // JSON object
	CreatedAt   time.Time `json:"created_at"`
}

// New constructs an event with metadata serialized to JSON. A nil metadata
// map produces an empty metadata field.
func New(eventType EventType, severity Severity, issueID, executionID, message string, metadata map[string]interface{}) (*Event, error) {
	var meta string
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event metadata: %w", err)
		}
		meta = string(raw)
	}

	return &Event{
		Type:        eventType,
		Severity:    severity,
		IssueID:     issueID,
		ExecutionID: executionID,
		Message:     message,
		Metadata:    meta,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Filter narrows event queries.
type Filter struct {
	IssueID     string
	ExecutionID string
	Type        EventType
	Severity    Severity
	Limit       int
}
