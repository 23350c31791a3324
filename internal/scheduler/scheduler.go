// Package scheduler runs the poll loop that turns ready issues into agent
// executions. It enforces the concurrency ceiling, serializes executions
// within a group, and routes terminal executions back into issue statuses
// and the merge queue.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/loom-sh/loom/internal/config"
	"github.com/loom-sh/loom/internal/events"
	"github.com/loom-sh/loom/internal/gates"
	"github.com/loom-sh/loom/internal/runtime"
	"github.com/loom-sh/loom/internal/storage"
	"github.com/loom-sh/loom/internal/types"
)

// pruneEvery controls how many ticks pass between activity-trail prunes.
const pruneEvery = 120

// ActiveExecution is the scheduler's view of one in-flight execution.
type ActiveExecution struct {
	ExecutionID string    `json:"execution_id"`
	IssueID     string    `json:"issue_id"`
	GroupID     string    `json:"group_id,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// Status is a snapshot of the scheduler for display.
type Status struct {
	Running        bool              `json:"running"`
	MaxConcurrency int               `json:"max_concurrency"`
	PollInterval   time.Duration     `json:"poll_interval"`
	Active         []ActiveExecution `json:"active"`
}

// Scheduler polls storage for ready work and dispatches it to the runtime.
type Scheduler struct {
	store   storage.Storage
	runtime runtime.Runtime
	watcher *config.Watcher

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// sem guards admission at the configured concurrency ceiling. When the
	// ceiling is lowered below the live execution count, deficit tracks
	// completions that must drain before tokens are released again.
	sem     *semaphore.Weighted
	maxConc int
	deficit int

	active    map[string]ActiveExecution
	tickCount int
}

// New creates a scheduler. Start must be called before it does anything.
func New(store storage.Storage, rt runtime.Runtime, watcher *config.Watcher) *Scheduler {
	cfg := watcher.Current()
	return &Scheduler{
		store:   store,
		runtime: rt,
		watcher: watcher,
		sem:     semaphore.NewWeighted(int64(cfg.Scheduler.MaxConcurrency)),
		maxConc: cfg.Scheduler.MaxConcurrency,
		active:  make(map[string]ActiveExecution),
	}
}

// Start launches the poll loop and the completion consumer. Calling Start
// on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if err := s.reconcile(ctx); err != nil {
		return fmt.Errorf("failed to reconcile stale executions: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(loopCtx)
	go s.consumeCompletions()
	return nil
}

// Stop halts the poll loop and cancels in-flight executions. Calling Stop
// on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.runtime.Close()
}

// GetStatus returns a snapshot of the scheduler state.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.watcher.Current()
	st := Status{
		Running:        s.running,
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
		PollInterval:   cfg.Scheduler.PollInterval.Std(),
	}
	for _, a := range s.active {
		st.Active = append(st.Active, a)
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	cfg := s.watcher.Current()
	ticker := time.NewTicker(cfg.Scheduler.PollInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next := s.tick(ctx)
			if next > 0 {
				ticker.Reset(next)
			}
		}
	}
}

// tick refreshes config, prunes the activity trail on schedule, and fills
// free capacity with ready issues. It returns a new poll interval when the
// config changed it, zero otherwise.
func (s *Scheduler) tick(ctx context.Context) time.Duration {
	prev := s.watcher.Current()
	cfg, err := s.watcher.Refresh()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: config reload failed, keeping previous: %v\n", err)
	}
	if cfg.Scheduler.MaxConcurrency != s.maxConc {
		s.resize(cfg.Scheduler.MaxConcurrency)
	}

	s.tickCount++
	if s.tickCount%pruneEvery == 0 {
		if n, err := s.store.PruneEvents(ctx, cfg.Events.Retain); err != nil {
			fmt.Fprintf(os.Stderr, "warning: event prune failed: %v\n", err)
		} else if n > 0 {
			fmt.Fprintf(os.Stderr, "pruned %d activity events\n", n)
		}
	}

	for s.sem.TryAcquire(1) {
		started, err := s.startNext(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to start execution: %v\n", err)
		}
		if !started {
			s.sem.Release(1)
			break
		}
	}

	if cfg.Scheduler.PollInterval != prev.Scheduler.PollInterval {
		return cfg.Scheduler.PollInterval.Std()
	}
	return 0
}

// resize swaps in a semaphore sized to the new ceiling, re-acquiring a
// token for every live execution. Executions beyond the new ceiling run to
// completion; their finishes drain the deficit instead of releasing.
func (s *Scheduler) resize(newMax int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sem := semaphore.NewWeighted(int64(newMax))
	liveCount := len(s.active)
	reacquired := liveCount
	if reacquired > newMax {
		reacquired = newMax
	}
	if reacquired > 0 {
		// Cannot fail: the semaphore is fresh and reacquired <= newMax.
		_ = sem.TryAcquire(int64(reacquired))
	}
	s.sem = sem
	s.maxConc = newMax
	s.deficit = liveCount - reacquired
}

// startNext selects the highest-priority ready issue whose group is free
// and launches it. Returns false when nothing is startable.
func (s *Scheduler) startNext(ctx context.Context, cfg *config.Config) (bool, error) {
	issue, group, err := s.selectNextIssue(ctx)
	if err != nil || issue == nil {
		return false, err
	}

	baseBranch := cfg.Scheduler.DefaultBranch
	groupID := ""
	if group != nil {
		baseBranch = group.WorkingBranch
		groupID = group.ID
	}

	if err := s.store.UpdateIssueStatus(ctx, issue.ID, types.IssueStatusInProgress); err != nil {
		return false, fmt.Errorf("failed to mark issue in progress: %w", err)
	}

	execution, err := s.runtime.StartExecution(ctx, issue, baseBranch, cfg)
	if err != nil {
		if stErr := s.store.UpdateIssueStatus(ctx, issue.ID, types.IssueStatusNeedsReview); stErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to flag issue %s after start failure: %v\n", issue.ID, stErr)
		}
		s.emit(ctx, events.EventExecutionStartFailed, events.SeverityError, issue.ID, "",
			fmt.Sprintf("failed to start execution for issue %s: %v", issue.ID, err), nil)
		return false, fmt.Errorf("failed to start execution for issue %s: %w", issue.ID, err)
	}

	s.mu.Lock()
	s.active[execution.ID] = ActiveExecution{
		ExecutionID: execution.ID,
		IssueID:     issue.ID,
		GroupID:     groupID,
		StartedAt:   execution.StartedAt,
	}
	s.mu.Unlock()

	s.emit(ctx, events.EventExecutionStarted, events.SeverityInfo, issue.ID, execution.ID,
		fmt.Sprintf("started execution for issue %q on branch %s", issue.Title, execution.BranchName), nil)
	return true, nil
}

// selectNextIssue picks the first ready issue, in priority then age order,
// that is not already executing and whose group is neither busy nor
// paused. Paused groups are skipped silently.
func (s *Scheduler) selectNextIssue(ctx context.Context) (*types.Issue, *types.Group, error) {
	ready, err := s.store.GetReadyIssues(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list ready issues: %w", err)
	}

	s.mu.Lock()
	activeIssues := make(map[string]bool, len(s.active))
	busyGroups := make(map[string]bool, len(s.active))
	for _, a := range s.active {
		activeIssues[a.IssueID] = true
		if a.GroupID != "" {
			busyGroups[a.GroupID] = true
		}
	}
	s.mu.Unlock()

	for _, issue := range ready {
		if activeIssues[issue.ID] {
			continue
		}

		group, err := s.store.GetGroupForIssue(ctx, issue.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to resolve group for issue %s: %v\n", issue.ID, err)
			continue
		}
		if group != nil {
			if group.Status == types.GroupPaused {
				continue
			}
			if busyGroups[group.ID] {
				continue
			}
		}
		return issue, group, nil
	}
	return nil, nil, nil
}

func (s *Scheduler) consumeCompletions() {
	for completion := range s.runtime.Completions() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		s.onExecutionComplete(ctx, completion)
		cancel()
	}
}

// onExecutionComplete routes a terminal execution back into issue state:
// completed work closes the issue (or flags it for review when gates
// failed), failures flag for review, cancellation reopens. The active slot
// is always freed.
func (s *Scheduler) onExecutionComplete(ctx context.Context, completion runtime.Completion) {
	execution := completion.Execution

	s.mu.Lock()
	delete(s.active, execution.ID)
	if s.deficit > 0 {
		s.deficit--
	} else {
		s.sem.Release(1)
	}
	s.mu.Unlock()

	issueID := execution.IssueID
	var issueStatus types.IssueStatus

	switch execution.Status {
	case types.ExecutionCompleted:
		if completion.GatesRan {
			s.emitGates(ctx, completion)
		}
		if completion.GatesRan && !completion.GatesPassed {
			issueStatus = types.IssueStatusNeedsReview
		} else {
			issueStatus = types.IssueStatusClosed
			s.enqueueCheckpoint(ctx, completion)
		}
	case types.ExecutionCancelled:
		issueStatus = types.IssueStatusOpen
	default:
		issueStatus = types.IssueStatusNeedsReview
	}

	if err := s.store.UpdateIssueStatus(ctx, issueID, issueStatus); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to update issue %s to %s: %v\n", issueID, issueStatus, err)
	}

	severity := events.SeverityInfo
	if execution.Status == types.ExecutionFailed {
		severity = events.SeverityError
	}
	s.emit(ctx, events.EventExecutionCompleted, severity, issueID, execution.ID,
		fmt.Sprintf("execution finished with status %s, issue moved to %s", execution.Status, issueStatus),
		map[string]interface{}{"execution_status": string(execution.Status)})
}

// enqueueCheckpoint adds the execution's checkpoint to the merge queue.
// Executions that produced no commits have nothing to queue.
func (s *Scheduler) enqueueCheckpoint(ctx context.Context, completion runtime.Completion) {
	cp := completion.Checkpoint
	if cp == nil {
		return
	}

	existing, err := s.store.ListQueueEntries(ctx, types.QueueFilter{TargetBranch: cp.TargetBranch})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to inspect merge queue: %v\n", err)
		return
	}

	entry := &types.QueueEntry{
		ID:           uuid.New().String(),
		ExecutionID:  cp.ExecutionID,
		StreamID:     cp.StreamID,
		TargetBranch: cp.TargetBranch,
		Position:     len(existing) + 1,
		Status:       types.QueuePending,
		AddedAt:      time.Now().UTC(),
	}
	if err := s.store.AddQueueEntry(ctx, entry); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to enqueue execution %s: %v\n", cp.ExecutionID, err)
	}
}

func (s *Scheduler) emitGates(ctx context.Context, completion runtime.Completion) {
	severity := events.SeverityInfo
	if !completion.GatesPassed {
		severity = events.SeverityWarning
	}
	s.emit(ctx, events.EventGatesCompleted, severity,
		completion.Execution.IssueID, completion.Execution.ID,
		gates.Summarize(completion.GateResults), nil)
}

func (s *Scheduler) emit(ctx context.Context, eventType events.EventType, severity events.Severity, issueID, executionID, message string, metadata map[string]interface{}) {
	event, err := events.New(eventType, severity, issueID, executionID, message, metadata)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to build event: %v\n", err)
		return
	}
	if err := s.store.AddEvent(ctx, event); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record event: %v\n", err)
	}
}

// reconcile marks executions that storage believes are running but no
// runtime tracks as failed. This happens after a crash or hard kill.
func (s *Scheduler) reconcile(ctx context.Context) error {
	stale, err := s.store.ListExecutionsByStatus(ctx, types.ExecutionRunning)
	if err != nil {
		return err
	}

	for _, execution := range stale {
		now := time.Now().UTC()
		execution.Status = types.ExecutionFailed
		execution.CompletedAt = &now
		execution.ErrorMessage = "orphaned: scheduler restarted while execution was running"
		if err := s.store.UpdateExecution(ctx, execution); err != nil {
			return fmt.Errorf("failed to fail orphaned execution %s: %w", execution.ID, err)
		}
		if err := s.store.UpdateIssueStatus(ctx, execution.IssueID, types.IssueStatusNeedsReview); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to flag issue %s for orphaned execution: %v\n", execution.IssueID, err)
		}
	}
	return nil
}
