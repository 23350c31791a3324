// Package worktree manages the isolated git worktrees that executions run
// in. Each execution gets its own worktree and branch so the repository's
// primary working copy is never touched by agent processes.
package worktree

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loom-sh/loom/internal/vcs"
)

// DefaultWorktreeDir is the default directory name for storing worktrees.
const DefaultWorktreeDir = ".loom/worktrees"

// BranchPrefix is the prefix for execution branch names.
const BranchPrefix = "loom/"

// ErrWorktreeExists is returned when a worktree already exists for the execution.
var ErrWorktreeExists = errors.New("worktree already exists")

// ErrWorktreeNotFound is returned when a worktree doesn't exist for the execution.
var ErrWorktreeNotFound = errors.New("worktree not found")

// Worktree represents an active execution worktree.
type Worktree struct {
	Path        string    // Absolute path to worktree directory
	Branch      string    // Branch name (e.g., loom/<execution-id>)
	ExecutionID string    // Associated execution ID
	Created     time.Time // When worktree was created
}

// Manager handles worktree lifecycle against one parent repository.
type Manager struct {
	runner      vcs.Runner
	repoRoot    string
	worktreeDir string
}

// NewManager creates a worktree manager for the given repository.
// Returns an error if the path is not a git repository.
func NewManager(runner vcs.Runner, repoRoot string) (*Manager, error) {
	gitPath := filepath.Join(repoRoot, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", repoRoot, vcs.ErrNotARepository)
	}
	// .git is a directory in a normal repo and a file inside a worktree.
	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", repoRoot, vcs.ErrNotARepository)
	}

	return &Manager{
		runner:      runner,
		repoRoot:    repoRoot,
		worktreeDir: filepath.Join(repoRoot, DefaultWorktreeDir),
	}, nil
}

// Create creates a worktree and branch for an execution, based on baseBranch.
func (m *Manager) Create(ctx context.Context, executionID, baseBranch string) (*Worktree, error) {
	wtPath := m.worktreePath(executionID)
	branch := m.branchName(executionID)

	if _, err := os.Stat(wtPath); err == nil {
		return nil, ErrWorktreeExists
	}

	if err := os.MkdirAll(m.worktreeDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create worktree directory: %w", err)
	}

	if m.branchExists(ctx, branch) {
		if _, err := m.runner.Run(ctx, m.repoRoot, "worktree", "add", wtPath, branch); err != nil {
			return nil, fmt.Errorf("failed to create worktree: %w", err)
		}
	} else {
		if _, err := m.runner.Run(ctx, m.repoRoot, "worktree", "add", wtPath, "-b", branch, baseBranch); err != nil {
			return nil, fmt.Errorf("failed to create worktree: %w", err)
		}
	}

	absPath, err := filepath.Abs(wtPath)
	if err != nil {
		_ = m.Remove(ctx, executionID, true)
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	return &Worktree{
		Path:        absPath,
		Branch:      branch,
		ExecutionID: executionID,
		Created:     time.Now(),
	}, nil
}

// Remove deletes a worktree and optionally its branch. Removal is forced so
// uncommitted changes in an abandoned worktree do not block cleanup.
func (m *Manager) Remove(ctx context.Context, executionID string, deleteBranch bool) error {
	wtPath := m.worktreePath(executionID)
	branch := m.branchName(executionID)

	if _, err := os.Stat(wtPath); os.IsNotExist(err) {
		return ErrWorktreeNotFound
	}

	if _, err := m.runner.Run(ctx, m.repoRoot, "worktree", "remove", wtPath, "--force"); err != nil {
		// The worktree may already be broken; fall back to manual removal
		// and prune the bookkeeping.
		if rmErr := os.RemoveAll(wtPath); rmErr != nil {
			return fmt.Errorf("failed to remove worktree directory: %w", rmErr)
		}
		_, _ = m.runner.Run(ctx, m.repoRoot, "worktree", "prune")
	}

	if deleteBranch && m.branchExists(ctx, branch) {
		if _, err := m.runner.Run(ctx, m.repoRoot, "branch", "-D", branch); err != nil {
			return fmt.Errorf("failed to delete branch %s: %w", branch, err)
		}
	}

	return nil
}

// Get returns the worktree for an execution, or nil if none exists.
func (m *Manager) Get(ctx context.Context, executionID string) (*Worktree, error) {
	worktrees, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, wt := range worktrees {
		if wt.ExecutionID == executionID {
			return wt, nil
		}
	}
	return nil, nil
}

// List returns all active execution worktrees.
func (m *Manager) List(ctx context.Context) ([]*Worktree, error) {
	out, err := m.runner.Run(ctx, m.repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}
	return parseWorktreeList(out)
}

// Prune removes stale worktree bookkeeping and deletes any orphaned
// execution branches whose worktree is gone. Called on scheduler startup.
func (m *Manager) Prune(ctx context.Context) error {
	if _, err := m.runner.Run(ctx, m.repoRoot, "worktree", "prune"); err != nil {
		return fmt.Errorf("worktree prune: %w", err)
	}

	out, err := m.runner.Run(ctx, m.repoRoot, "branch", "--list", BranchPrefix+"*", "--format=%(refname:short)")
	if err != nil {
		return fmt.Errorf("list execution branches: %w", err)
	}

	active, err := m.List(ctx)
	if err != nil {
		return err
	}
	live := make(map[string]bool, len(active))
	for _, wt := range active {
		live[wt.Branch] = true
	}

	for _, branch := range strings.Split(out, "\n") {
		branch = strings.TrimSpace(branch)
		if branch == "" || live[branch] {
			continue
		}
		if _, err := m.runner.Run(ctx, m.repoRoot, "branch", "-D", branch); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to delete orphaned branch %s: %v\n", branch, err)
		}
	}

	return nil
}

// worktreePath returns the path for an execution's worktree.
func (m *Manager) worktreePath(executionID string) string {
	return filepath.Join(m.worktreeDir, executionID)
}

// branchName returns the branch name for an execution.
func (m *Manager) branchName(executionID string) string {
	return BranchPrefix + executionID
}

// branchExists checks if a branch exists.
func (m *Manager) branchExists(ctx context.Context, branch string) bool {
	_, err := m.runner.Run(ctx, m.repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// parseWorktreeList parses the output of `git worktree list --porcelain`.
// Format:
//
//	worktree /path/to/worktree
//	HEAD <commit>
//	branch refs/heads/<branch>
//	<blank line>
func parseWorktreeList(output string) ([]*Worktree, error) {
	var worktrees []*Worktree
	var current *Worktree

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "worktree ") {
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		} else if strings.HasPrefix(line, "branch ") && current != nil {
			branch := strings.TrimPrefix(line, "branch refs/heads/")
			current.Branch = branch
			if strings.HasPrefix(branch, BranchPrefix) {
				current.ExecutionID = strings.TrimPrefix(branch, BranchPrefix)
				worktrees = append(worktrees, current)
			}
			current = nil
		} else if line == "" {
			current = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse worktree list: %w", err)
	}

	return worktrees, nil
}
