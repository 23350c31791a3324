// Package gitops provides the merge/diff/conflict operations needed for
// isolated execution and safe integration. Read-only analysis never touches
// the working tree; mutating operations assume the caller holds the
// per-branch serialization that the merge queue provides.
package gitops

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/loom-sh/loom/internal/vcs"
)

// Sync wraps a vcs.Runner with the higher-level operations the scheduler
// and merge queue need.
type Sync struct {
	runner   vcs.Runner
	repoPath string
}

// New creates a Sync engine for the repository at repoPath.
func New(runner vcs.Runner, repoPath string) *Sync {
	return &Sync{runner: runner, repoPath: repoPath}
}

// FileChange describes one changed file in a diff.
type FileChange struct {
	Path      string `json:"path"`
	Status    string `json:"status"` // A, M, D, R...
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// DiffSummary combines a name-status diff with a numstat diff.
type DiffSummary struct {
	Files     []FileChange `json:"files"`
	Additions int          `json:"additions"`
	Deletions int          `json:"deletions"`
}

// Commit is one entry in a commit list, used for attribution and changelogs.
type Commit struct {
	SHA       string    `json:"sha"`
	Author    string    `json:"author"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// ConflictCheck is the result of the static conflict pre-check.
type ConflictCheck struct {
	HasConflicts bool     `json:"has_conflicts"`
	MergeBase    string   `json:"merge_base"`
	Files        []string `json:"files,omitempty"`
}

// GetMergeBase returns the common-ancestor commit of a and b. The output is
// validated against the strict hash format before being trusted.
func (s *Sync) GetMergeBase(ctx context.Context, a, b string) (string, error) {
	out, err := s.runner.Run(ctx, s.repoPath, "merge-base", a, b)
	if err != nil {
		// Exit code 1 means no common ancestor; anything else is a real
		// command failure and keeps its captured context.
		if cmdErr, ok := vcs.AsCommandError(err); ok && cmdErr.ExitCode == 1 {
			return "", fmt.Errorf("merge-base of %s and %s: %w", a, b, vcs.ErrNoMergeBase)
		}
		return "", fmt.Errorf("merge-base of %s and %s: %w", a, b, err)
	}

	base := strings.TrimSpace(out)
	if !vcs.IsValidSHA(base) {
		return "", fmt.Errorf("merge-base returned invalid commit identifier %q", base)
	}
	return base, nil
}

// GetDiff returns the combined name-status and numstat diff from one ref to
// another. Malformed numeric fields (binary files report "-") count as zero.
func (s *Sync) GetDiff(ctx context.Context, from, to string) (*DiffSummary, error) {
	nameStatus, err := s.runner.Run(ctx, s.repoPath, "diff", "--name-status", from, to)
	if err != nil {
		return nil, fmt.Errorf("diff --name-status %s..%s: %w", from, to, err)
	}

	numstat, err := s.runner.Run(ctx, s.repoPath, "diff", "--numstat", from, to)
	if err != nil {
		return nil, fmt.Errorf("diff --numstat %s..%s: %w", from, to, err)
	}

	summary := &DiffSummary{}
	statuses := make(map[string]string)

	for _, line := range strings.Split(nameStatus, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) < 2 {
			continue
		}
		// Renames report "R<score>\told\tnew"; keep the new path.
		path := parts[len(parts)-1]
		statuses[path] = string(parts[0][0])
	}

	for _, line := range strings.Split(numstat, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		added := parseNumstatField(parts[0])
		deleted := parseNumstatField(parts[1])
		path := resolveRenamePath(parts[2])

		status, ok := statuses[path]
		if !ok {
			status = "M"
		}
		summary.Files = append(summary.Files, FileChange{
			Path:      path,
			Status:    status,
			Additions: added,
			Deletions: deleted,
		})
		summary.Additions += added
		summary.Deletions += deleted
	}

	return summary, nil
}

// resolveRenamePath reduces a numstat rename path to the post-rename path.
// Git emits either the plain form "old => new" or, when the rename is
// confined to one directory segment, the brace form "dir/{old => new}/f.go".
func resolveRenamePath(path string) string {
	arrow := strings.Index(path, " => ")
	if arrow < 0 {
		return path
	}
	open := strings.Index(path, "{")
	if open >= 0 && open < arrow {
		if end := strings.Index(path[arrow:], "}"); end >= 0 {
			end += arrow
			joined := path[:open] + path[arrow+4:end] + path[end+1:]
			// An empty new segment ("dir/{old => }/f.go") leaves a
			// double slash behind.
			return strings.ReplaceAll(joined, "//", "/")
		}
	}
	return path[arrow+4:]
}

// parseNumstatField converts a numstat count to an int. Binary files report
// "-", which is treated as zero rather than an error.
func parseNumstatField(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// CheckMergeConflicts computes the merge base of source and target and
// intersects the file sets each side changed since that base.
//
// This is a static approximation: it never checks out or stages anything, so
// it is safe to run while a merge is in flight elsewhere. It can both
// over-approximate (two sides touching disjoint lines of one file) and
// under-approximate (renames), so treat the answer as an advisory pre-check
// rather than a final verdict.
func (s *Sync) CheckMergeConflicts(ctx context.Context, source, target string) (*ConflictCheck, error) {
	base, err := s.GetMergeBase(ctx, source, target)
	if err != nil {
		return nil, err
	}

	sourceFiles, err := s.changedFilesSince(ctx, base, source)
	if err != nil {
		return nil, fmt.Errorf("changed files in %s: %w", source, err)
	}
	targetFiles, err := s.changedFilesSince(ctx, base, target)
	if err != nil {
		return nil, fmt.Errorf("changed files in %s: %w", target, err)
	}

	inTarget := make(map[string]bool, len(targetFiles))
	for _, f := range targetFiles {
		inTarget[f] = true
	}

	var overlap []string
	for _, f := range sourceFiles {
		if inTarget[f] {
			overlap = append(overlap, f)
		}
	}
	sort.Strings(overlap)

	return &ConflictCheck{
		HasConflicts: len(overlap) > 0,
		MergeBase:    base,
		Files:        overlap,
	}, nil
}

// changedFilesSince lists files changed between base and ref.
func (s *Sync) changedFilesSince(ctx context.Context, base, ref string) ([]string, error) {
	out, err := s.runner.Run(ctx, s.repoPath, "diff", "--name-only", base, ref)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// GetCommitList returns the ordered commits in base..head, oldest first.
func (s *Sync) GetCommitList(ctx context.Context, base, head string) ([]Commit, error) {
	// NUL-separated fields so commit subjects with tabs survive parsing.
	format := "%H%x00%an%x00%ae%x00%at%x00%s"
	out, err := s.runner.Run(ctx, s.repoPath, "log", "--reverse", "--format="+format,
		base+".."+head)
	if err != nil {
		return nil, fmt.Errorf("commit list %s..%s: %w", base, head, err)
	}

	var commits []Commit
	for _, line := range splitLines(out) {
		parts := strings.SplitN(line, "\x00", 5)
		if len(parts) != 5 {
			continue
		}
		ts, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			ts = 0
		}
		commits = append(commits, Commit{
			SHA:       parts[0],
			Author:    parts[1],
			Email:     parts[2],
			Timestamp: time.Unix(ts, 0).UTC(),
			Message:   parts[4],
		})
	}
	return commits, nil
}

// IsWorkingTreeClean reports whether the tree has no uncommitted changes.
// On any underlying error it returns false: callers use this as a gate
// before mutating operations, and the gate fails closed.
func (s *Sync) IsWorkingTreeClean(ctx context.Context) bool {
	out, err := s.runner.Run(ctx, s.repoPath, "status", "--porcelain")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == ""
}

// GetUncommittedFiles parses porcelain status lines ("XY <path>") into a
// list of paths. Filenames containing spaces come through intact. When
// pattern is non-empty, only paths containing it are returned.
func (s *Sync) GetUncommittedFiles(ctx context.Context, pattern string) ([]string, error) {
	out, err := s.runner.Run(ctx, s.repoPath, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		// Renames are reported as "XY old -> new".
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}
		if pattern != "" && !strings.Contains(path, pattern) {
			continue
		}
		files = append(files, path)
	}
	return files, nil
}

// CreateSafetyTag force-creates an annotated tag at ref so a risky operation
// can be rolled back. Re-running with the same name re-tags it.
func (s *Sync) CreateSafetyTag(ctx context.Context, name, ref string) error {
	msg := fmt.Sprintf("safety tag before integration at %s", time.Now().UTC().Format(time.RFC3339))
	if _, err := s.runner.Run(ctx, s.repoPath, "tag", "-f", "-a", name, "-m", msg, ref); err != nil {
		return fmt.Errorf("create safety tag %s: %w", name, err)
	}
	return nil
}

// RollbackToTag hard-resets the current branch to a previously created
// safety tag.
func (s *Sync) RollbackToTag(ctx context.Context, name string) error {
	if _, err := s.runner.Run(ctx, s.repoPath, "reset", "--hard", name); err != nil {
		return fmt.Errorf("rollback to %s: %w", name, err)
	}
	return nil
}

// Head returns the current HEAD commit.
func (s *Sync) Head(ctx context.Context) (string, error) {
	out, err := s.runner.Run(ctx, s.repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("rev-parse HEAD: %w", err)
	}
	sha := strings.TrimSpace(out)
	if !vcs.IsValidSHA(sha) {
		return "", fmt.Errorf("rev-parse returned invalid commit identifier %q", sha)
	}
	return sha, nil
}

// conflictedFiles lists unmerged paths in the working tree.
func (s *Sync) conflictedFiles(ctx context.Context) []string {
	out, err := s.runner.Run(ctx, s.repoPath, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil
	}
	return splitLines(out)
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
