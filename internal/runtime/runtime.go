// Package runtime spawns and supervises agent executions. Each execution
// runs the configured agent command inside an isolated worktree; the
// runtime reports terminal outcomes back to the scheduler over a channel.
package runtime

import (
	"context"

	"github.com/loom-sh/loom/internal/config"
	"github.com/loom-sh/loom/internal/gates"
	"github.com/loom-sh/loom/internal/types"
)

// Completion is delivered when an execution reaches a terminal status.
// Checkpoint is nil when the execution produced no commits or failed
// before recording one.
type Completion struct {
	Execution   *types.Execution
	Checkpoint  *types.Checkpoint
	GateResults []*gates.Result
	GatesPassed bool
	GatesRan    bool
}

// Runtime starts and cancels executions.
type Runtime interface {
	// StartExecution provisions a worktree for the issue and launches the
	// agent command in it. The returned execution is already persisted
	// with status running.
	StartExecution(ctx context.Context, issue *types.Issue, baseBranch string, cfg *config.Config) (*types.Execution, error)

	// CancelExecution stops a running execution. Cancelling an unknown or
	// already-finished execution is not an error.
	CancelExecution(ctx context.Context, executionID string) error

	// Completions delivers terminal outcomes. The channel is closed by
	// Close.
	Completions() <-chan Completion

	// ActiveCount reports how many executions are currently running.
	ActiveCount() int

	// Close cancels all running executions and releases resources.
	Close() error
}
