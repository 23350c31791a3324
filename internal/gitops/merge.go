package gitops

import (
	"context"
	"fmt"
	"strings"
)

// CherryPickResult reports the outcome of applying a commit range. A
// conflict is an expected condition the caller resolves, not an error.
type CherryPickResult struct {
	Success           bool     `json:"success"`
	ConflictingCommit string   `json:"conflicting_commit,omitempty"`
	ConflictingFiles  []string `json:"conflicting_files,omitempty"`
}

// MergeOptions configures MergeBranch.
type MergeOptions struct {
	// Squash collapses the source branch into one staged change set
	// instead of creating a merge commit.
	Squash bool

	// Message is the commit message for squash merges.
	Message string
}

// MergeResult reports the outcome of MergeBranch.
type MergeResult struct {
	Merged           bool     `json:"merged"`
	FastForward      bool     `json:"fast_forward"`
	Commit           string   `json:"commit,omitempty"`
	ConflictingFiles []string `json:"conflicting_files,omitempty"`
}

// SquashMerge performs a squash merge of source followed by a single commit.
// It mutates the working tree; the caller must have verified a clean state
// and must hold the per-branch serialization.
func (s *Sync) SquashMerge(ctx context.Context, source, message string) (string, error) {
	if _, err := s.runner.Run(ctx, s.repoPath, "merge", "--squash", source); err != nil {
		return "", fmt.Errorf("squash merge of %s: %w", source, err)
	}

	if _, err := s.runner.Run(ctx, s.repoPath, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("commit after squash of %s: %w", source, err)
	}

	return s.Head(ctx)
}

// CherryPickRange applies start..end onto the current branch. On conflict it
// reports the commit being applied and the unmerged files instead of
// returning an error, leaving resolution policy to the caller.
func (s *Sync) CherryPickRange(ctx context.Context, start, end string) (*CherryPickResult, error) {
	_, err := s.runner.Run(ctx, s.repoPath, "cherry-pick", start+".."+end)
	if err == nil {
		return &CherryPickResult{Success: true}, nil
	}

	conflicting := s.conflictedFiles(ctx)
	if len(conflicting) == 0 {
		// Not a conflict, a real failure.
		return nil, fmt.Errorf("cherry-pick %s..%s: %w", start, end, err)
	}

	head, headErr := s.Head(ctx)
	if headErr != nil {
		head = ""
	}

	return &CherryPickResult{
		Success:           false,
		ConflictingCommit: head,
		ConflictingFiles:  conflicting,
	}, nil
}

// AbortCherryPick abandons an in-progress conflicted cherry-pick.
func (s *Sync) AbortCherryPick(ctx context.Context) error {
	if _, err := s.runner.Run(ctx, s.repoPath, "cherry-pick", "--abort"); err != nil {
		return fmt.Errorf("cherry-pick --abort: %w", err)
	}
	return nil
}

// MergeBranch integrates source into the current branch. The strategy is a
// small state machine: fast-forward when source is a strict descendant of
// HEAD, otherwise a real merge or squash per options. On a conflicted merge
// the unmerged files are reported and the merge is aborted so the tree is
// left clean.
func (s *Sync) MergeBranch(ctx context.Context, source string, opts MergeOptions) (*MergeResult, error) {
	if s.isAncestorOfSource(ctx, source) {
		if _, err := s.runner.Run(ctx, s.repoPath, "merge", "--ff-only", source); err != nil {
			return nil, fmt.Errorf("fast-forward to %s: %w", source, err)
		}
		head, err := s.Head(ctx)
		if err != nil {
			return nil, err
		}
		return &MergeResult{Merged: true, FastForward: true, Commit: head}, nil
	}

	if opts.Squash {
		message := opts.Message
		if message == "" {
			message = fmt.Sprintf("Squash merge of %s", source)
		}
		commit, err := s.SquashMerge(ctx, source, message)
		if err != nil {
			if conflicting := s.conflictedFiles(ctx); len(conflicting) > 0 {
				s.abortMerge(ctx)
				return &MergeResult{Merged: false, ConflictingFiles: conflicting}, nil
			}
			return nil, err
		}
		return &MergeResult{Merged: true, Commit: commit}, nil
	}

	if _, err := s.runner.Run(ctx, s.repoPath, "merge", "--no-ff", source); err != nil {
		if conflicting := s.conflictedFiles(ctx); len(conflicting) > 0 {
			s.abortMerge(ctx)
			return &MergeResult{Merged: false, ConflictingFiles: conflicting}, nil
		}
		return nil, fmt.Errorf("merge of %s: %w", source, err)
	}

	head, err := s.Head(ctx)
	if err != nil {
		return nil, err
	}
	return &MergeResult{Merged: true, Commit: head}, nil
}

// isAncestorOfSource reports whether HEAD is an ancestor of source, which
// makes source fast-forwardable.
func (s *Sync) isAncestorOfSource(ctx context.Context, source string) bool {
	_, err := s.runner.Run(ctx, s.repoPath, "merge-base", "--is-ancestor", "HEAD", source)
	if err != nil {
		return false
	}
	// Exclude the no-op case where HEAD already equals source.
	out, err := s.runner.Run(ctx, s.repoPath, "rev-parse", source)
	if err != nil {
		return false
	}
	head, headErr := s.Head(ctx)
	if headErr != nil {
		return false
	}
	return strings.TrimSpace(out) != head
}

// abortMerge abandons an in-progress conflicted merge, restoring the tree.
func (s *Sync) abortMerge(ctx context.Context) {
	// Squash conflicts leave no MERGE_HEAD; reset instead.
	if _, err := s.runner.Run(ctx, s.repoPath, "merge", "--abort"); err != nil {
		_, _ = s.runner.Run(ctx, s.repoPath, "reset", "--hard", "HEAD")
	}
}
