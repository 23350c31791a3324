package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/loom-sh/loom/internal/config"
	"github.com/loom-sh/loom/internal/gates"
	"github.com/loom-sh/loom/internal/gitops"
	"github.com/loom-sh/loom/internal/storage"
	"github.com/loom-sh/loom/internal/types"
	"github.com/loom-sh/loom/internal/vcs"
	"github.com/loom-sh/loom/internal/worktree"
)

// errorMessageLimit caps how much agent output is persisted on failure.
const errorMessageLimit = 4096

type activeExecution struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Local runs agent executions as subprocesses on this machine.
type Local struct {
	store     storage.Storage
	runner    vcs.Runner
	repoRoot  string
	worktrees *worktree.Manager
	msggen    *gitops.MessageGenerator

	// limiter throttles worktree provisioning so a burst of ready issues
	// does not hammer git.
	limiter *rate.Limiter

	completions chan Completion
	wg          sync.WaitGroup

	mu      sync.Mutex
	running map[string]*activeExecution
	closed  bool
}

// NewLocal creates a local runtime rooted at the project repository.
// msggen may be nil; commit messages then fall back to a template.
func NewLocal(store storage.Storage, runner vcs.Runner, repoRoot string, msggen *gitops.MessageGenerator) (*Local, error) {
	wm, err := worktree.NewManager(runner, repoRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to create worktree manager: %w", err)
	}

	return &Local{
		store:       store,
		runner:      runner,
		repoRoot:    repoRoot,
		worktrees:   wm,
		msggen:      msggen,
		limiter:     rate.NewLimiter(rate.Every(time.Second), 2),
		completions: make(chan Completion, 16),
		running:     make(map[string]*activeExecution),
	}, nil
}

// StartExecution provisions a worktree off baseBranch and launches the
// configured agent command in it.
func (l *Local) StartExecution(ctx context.Context, issue *types.Issue, baseBranch string, cfg *config.Config) (*types.Execution, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("spawn throttled: %w", err)
	}

	execution := &types.Execution{
		ID:        uuid.New().String(),
		IssueID:   issue.ID,
		Status:    types.ExecutionRunning,
		StartedAt: time.Now().UTC(),
	}

	wt, err := l.worktrees.Create(ctx, execution.ID, baseBranch)
	if err != nil {
		return nil, fmt.Errorf("failed to create worktree: %w", err)
	}
	execution.WorktreePath = wt.Path
	execution.BranchName = wt.Branch

	ops := gitops.New(l.runner, wt.Path)
	baseSHA, err := ops.Head(ctx)
	if err != nil {
		l.cleanupWorktree(execution.ID)
		return nil, fmt.Errorf("failed to resolve base commit: %w", err)
	}

	if err := l.store.CreateExecution(ctx, execution); err != nil {
		l.cleanupWorktree(execution.ID)
		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	// The agent outlives the caller's context; the scheduler tick that
	// started it returns long before the agent finishes.
	var runCtx context.Context
	var cancel context.CancelFunc
	if cfg.Executor.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), cfg.Executor.Timeout.Std())
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}

	active := &activeExecution{cancel: cancel}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		cancel()
		l.cleanupWorktree(execution.ID)
		return nil, fmt.Errorf("runtime is closed")
	}
	l.running[execution.ID] = active
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		l.run(runCtx, active, execution, issue, baseBranch, baseSHA, cfg)
	}()

	return execution, nil
}

// CancelExecution stops a running execution. Unknown ids are ignored.
func (l *Local) CancelExecution(ctx context.Context, executionID string) error {
	l.mu.Lock()
	active, ok := l.running[executionID]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	active.cancelled.Store(true)
	active.cancel()
	return nil
}

// Completions delivers terminal outcomes.
func (l *Local) Completions() <-chan Completion {
	return l.completions
}

// ActiveCount reports how many executions are currently running.
func (l *Local) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.running)
}

// Close cancels all running executions, waits for them to finish, and
// closes the completions channel.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for _, active := range l.running {
		active.cancelled.Store(true)
		active.cancel()
	}
	l.mu.Unlock()

	l.wg.Wait()
	close(l.completions)
	return nil
}

func (l *Local) run(ctx context.Context, active *activeExecution, execution *types.Execution, issue *types.Issue, baseBranch, baseSHA string, cfg *config.Config) {
	argv := append(append([]string{}, cfg.Executor.AgentCommand...), issue.ID)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = execution.WorktreePath
	cmd.Env = append(os.Environ(),
		"LOOM_ISSUE_ID="+issue.ID,
		"LOOM_EXECUTION_ID="+execution.ID,
		"LOOM_BRANCH="+execution.BranchName,
	)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	runErr := cmd.Run()

	completion := l.finalize(active, execution, issue, baseBranch, baseSHA, cfg, runErr, output.Bytes())

	l.mu.Lock()
	delete(l.running, execution.ID)
	l.mu.Unlock()

	l.completions <- completion
}

// finalize translates the process outcome into execution status, records a
// checkpoint for any produced commits, and runs quality gates.
func (l *Local) finalize(active *activeExecution, execution *types.Execution, issue *types.Issue, baseBranch, baseSHA string, cfg *config.Config, runErr error, output []byte) Completion {
	// Storage updates here must not inherit the (possibly expired)
	// process context.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	now := time.Now().UTC()
	execution.CompletedAt = &now

	switch {
	case active.cancelled.Load():
		execution.Status = types.ExecutionCancelled
	case runErr != nil:
		execution.Status = types.ExecutionFailed
		execution.ErrorMessage = tail(output, errorMessageLimit)
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			code := exitErr.ExitCode()
			execution.ExitCode = &code
		}
	default:
		execution.Status = types.ExecutionCompleted
		zero := 0
		execution.ExitCode = &zero
	}

	completion := Completion{Execution: execution}

	if execution.Status == types.ExecutionCompleted {
		ops := gitops.New(l.runner, execution.WorktreePath)
		cp, err := l.recordCheckpoint(ctx, ops, execution, issue, baseBranch, baseSHA)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to record checkpoint for execution %s: %v\n", execution.ID, err)
		}
		completion.Checkpoint = cp

		if cfg.Gates.Enabled && cp != nil {
			runner := gates.NewRunner(gates.Options{
				Checks:     cfg.Gates.Checks,
				WorkingDir: execution.WorktreePath,
			})
			completion.GateResults, completion.GatesPassed = runner.RunAll(ctx)
			completion.GatesRan = true
		}
	}

	if err := l.store.UpdateExecution(ctx, execution); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to update execution %s: %v\n", execution.ID, err)
	}

	return completion
}

// recordCheckpoint commits any leftover changes in the worktree and, if the
// branch advanced past its base, persists a pending checkpoint. Returns nil
// when the agent produced no commits.
func (l *Local) recordCheckpoint(ctx context.Context, ops *gitops.Sync, execution *types.Execution, issue *types.Issue, baseBranch, baseSHA string) (*types.Checkpoint, error) {
	if !ops.IsWorkingTreeClean(ctx) {
		if err := l.commitLeftovers(ctx, ops, execution, issue, baseSHA); err != nil {
			return nil, err
		}
	}

	head, err := ops.Head(ctx)
	if err != nil {
		return nil, err
	}
	if head == baseSHA {
		return nil, nil
	}

	diff, err := ops.GetDiff(ctx, baseSHA, head)
	if err != nil {
		return nil, err
	}
	var changed []string
	for _, fc := range diff.Files {
		changed = append(changed, fc.Path)
	}
	execution.FilesChanged = changed

	cp := &types.Checkpoint{
		ID:           uuid.New().String(),
		IssueID:      issue.ID,
		ExecutionID:  execution.ID,
		StreamID:     execution.BranchName,
		CommitSHA:    head,
		ParentCommit: baseSHA,
		ChangedFiles: changed,
		ReviewStatus: types.ReviewPending,
		TargetBranch: baseBranch,
		CreatedAt:    time.Now().UTC(),
	}
	if err := l.store.CreateCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (l *Local) commitLeftovers(ctx context.Context, ops *gitops.Sync, execution *types.Execution, issue *types.Issue, baseSHA string) error {
	if _, err := l.runner.Run(ctx, execution.WorktreePath, "add", "-A"); err != nil {
		return fmt.Errorf("failed to stage leftover changes: %w", err)
	}

	files, err := ops.GetUncommittedFiles(ctx, "")
	if err != nil {
		files = nil
	}

	req := gitops.MessageRequest{
		IssueID:      issue.ID,
		IssueTitle:   issue.Title,
		IssueContent: issue.Content,
		ChangedFiles: files,
	}
	message := gitops.FallbackMessage(req)
	if l.msggen != nil {
		if resp, err := l.msggen.Generate(ctx, req); err == nil {
			message = resp.Subject
			if resp.Body != "" {
				message += "\n\n" + resp.Body
			}
		} else {
			fmt.Fprintf(os.Stderr, "warning: commit message generation failed, using fallback: %v\n", err)
		}
	}

	if _, err := l.runner.Run(ctx, execution.WorktreePath, "commit", "-m", message); err != nil {
		return fmt.Errorf("failed to commit leftover changes: %w", err)
	}
	return nil
}

func (l *Local) cleanupWorktree(executionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := l.worktrees.Remove(ctx, executionID, true); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to clean up worktree for %s: %v\n", executionID, err)
	}
}

func tail(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[len(b)-limit:])
}
