// Package storage defines the backlog store consumed by the scheduler,
// merge queue and overlay engine.
package storage

import (
	"context"

	"github.com/loom-sh/loom/internal/events"
	"github.com/loom-sh/loom/internal/storage/sqlite"
	"github.com/loom-sh/loom/internal/types"
)

// Storage defines the interface for backlog storage backends.
type Storage interface {
	// Issues
	CreateIssue(ctx context.Context, issue *types.Issue) error
	GetIssue(ctx context.Context, id string) (*types.Issue, error)
	ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error)
	UpdateIssueStatus(ctx context.Context, id string, status types.IssueStatus) error

	// Ready work: open issues with no unresolved blocking relationship,
	// ordered by priority then age.
	GetReadyIssues(ctx context.Context) ([]*types.Issue, error)

	// Relationships
	AddRelationship(ctx context.Context, rel *types.Relationship) error
	RemoveRelationship(ctx context.Context, issueID, targetID string, relType types.RelationshipType) error
	GetRelationships(ctx context.Context, issueID string) ([]*types.Relationship, error)
	// GetDependencyIssueIDs returns the issue ids the given issue depends
	// on, derived from both directions: A blocks B means B depends on A.
	GetDependencyIssueIDs(ctx context.Context, issueID string) ([]string, error)

	// Specs
	CreateSpec(ctx context.Context, spec *types.Spec) error
	GetSpec(ctx context.Context, id string) (*types.Spec, error)
	ListSpecs(ctx context.Context) ([]*types.Spec, error)

	// Executions
	CreateExecution(ctx context.Context, exec *types.Execution) error
	GetExecution(ctx context.Context, id string) (*types.Execution, error)
	UpdateExecution(ctx context.Context, exec *types.Execution) error
	ListExecutionsByStatus(ctx context.Context, status types.ExecutionStatus) ([]*types.Execution, error)

	// Checkpoints
	CreateCheckpoint(ctx context.Context, cp *types.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error)
	ListCheckpoints(ctx context.Context, reviewStatus types.ReviewStatus) ([]*types.Checkpoint, error)
	GetLatestCheckpointForIssue(ctx context.Context, issueID string) (*types.Checkpoint, error)
	UpdateCheckpointReviewStatus(ctx context.Context, id string, status types.ReviewStatus) error
	// GetMergedIssueIDs returns the set of issue ids that have at least
	// one merged checkpoint.
	GetMergedIssueIDs(ctx context.Context) (map[string]bool, error)

	// Merge queue
	AddQueueEntry(ctx context.Context, entry *types.QueueEntry) error
	GetQueueEntry(ctx context.Context, id string) (*types.QueueEntry, error)
	GetQueueEntryByExecution(ctx context.Context, executionID string) (*types.QueueEntry, error)
	ListQueueEntries(ctx context.Context, filter types.QueueFilter) ([]*types.QueueEntry, error)
	UpdateQueueEntry(ctx context.Context, entry *types.QueueEntry) error
	RemoveQueueEntry(ctx context.Context, id string) error

	// Groups and stacks
	CreateGroup(ctx context.Context, group *types.Group) error
	GetGroup(ctx context.Context, id string) (*types.Group, error)
	GetGroupForIssue(ctx context.Context, issueID string) (*types.Group, error)
	UpdateGroupStatus(ctx context.Context, id string, status types.GroupStatus) error
	ListStacks(ctx context.Context) ([]*types.Stack, error)
	AddStackEntry(ctx context.Context, stackName, issueID string, depth int) error
	// GetStackMembership maps issue id to (stack name, depth) for the
	// given issue ids in one query.
	GetStackMembership(ctx context.Context, issueIDs []string) (map[string]types.StackMembership, error)

	// Activity trail
	AddEvent(ctx context.Context, event *events.Event) error
	GetEvents(ctx context.Context, filter events.Filter) ([]*events.Event, error)
	PruneEvents(ctx context.Context, keep int) (int, error)

	// Config
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// DefaultDBPath is the database location relative to the repository root.
const DefaultDBPath = ".loom/loom.db"

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path.
	// Default: ".loom/loom.db". ":memory:" creates an in-memory database.
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: DefaultDBPath,
	}
}

// NewStorage creates a new SQLite storage backend.
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultDBPath
	}
	return sqlite.New(cfg.Path)
}
