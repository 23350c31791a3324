package gitops

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/loom-sh/loom/internal/vcs"
)

const (
	shaA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	shaB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	shaC = "cccccccccccccccccccccccccccccccccccccccc"
)

// fakeRunner scripts git invocations: each key is the joined argument list,
// each value the stdout (or the error) to return. Unscripted calls fail the
// test so unexpected git traffic is caught.
type fakeRunner struct {
	t       *testing.T
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func newFakeRunner(t *testing.T) *fakeRunner {
	return &fakeRunner{
		t:       t,
		outputs: make(map[string]string),
		errs:    make(map[string]error),
	}
}

func (f *fakeRunner) script(output string, args ...string) {
	f.outputs[strings.Join(args, " ")] = output
}

func (f *fakeRunner) scriptErr(err error, args ...string) {
	f.errs[strings.Join(args, " ")] = err
}

func (f *fakeRunner) Run(ctx context.Context, repoPath string, args ...string) (string, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return "", err
	}
	out, ok := f.outputs[key]
	if !ok {
		f.t.Fatalf("unscripted git call: %s", key)
	}
	return out, nil
}

func (f *fakeRunner) called(args ...string) bool {
	key := strings.Join(args, " ")
	for _, c := range f.calls {
		if c == key {
			return true
		}
	}
	return false
}

func TestGetMergeBase(t *testing.T) {
	runner := newFakeRunner(t)
	runner.script(shaA+"\n", "merge-base", "feature", "main")

	s := New(runner, "/repo")
	base, err := s.GetMergeBase(context.Background(), "feature", "main")
	if err != nil {
		t.Fatalf("GetMergeBase failed: %v", err)
	}
	if base != shaA {
		t.Errorf("expected %s, got %s", shaA, base)
	}
}

func TestGetMergeBaseNoCommonAncestor(t *testing.T) {
	runner := newFakeRunner(t)
	runner.scriptErr(&vcs.CommandError{
		Args:     []string{"merge-base", "feature", "main"},
		ExitCode: 1,
	}, "merge-base", "feature", "main")

	s := New(runner, "/repo")
	_, err := s.GetMergeBase(context.Background(), "feature", "main")
	if !errors.Is(err, vcs.ErrNoMergeBase) {
		t.Errorf("expected ErrNoMergeBase, got %v", err)
	}
}

func TestGetMergeBaseKeepsCommandFailureContext(t *testing.T) {
	runner := newFakeRunner(t)
	runner.scriptErr(&vcs.CommandError{
		Args:     []string{"merge-base", "feature", "main"},
		Stderr:   "fatal: not a git repository",
		ExitCode: 128,
	}, "merge-base", "feature", "main")

	s := New(runner, "/repo")
	_, err := s.GetMergeBase(context.Background(), "feature", "main")
	if errors.Is(err, vcs.ErrNoMergeBase) {
		t.Fatalf("exit 128 must not map to ErrNoMergeBase, got %v", err)
	}
	cmdErr, ok := vcs.AsCommandError(err)
	if !ok {
		t.Fatalf("expected CommandError in chain, got %v", err)
	}
	if cmdErr.Stderr != "fatal: not a git repository" {
		t.Errorf("Stderr = %q", cmdErr.Stderr)
	}
}

func TestGetMergeBaseRejectsGarbageOutput(t *testing.T) {
	runner := newFakeRunner(t)
	runner.script("not-a-sha\n", "merge-base", "feature", "main")

	s := New(runner, "/repo")
	if _, err := s.GetMergeBase(context.Background(), "feature", "main"); err == nil {
		t.Error("expected error for invalid merge-base output")
	}
}

func TestGetDiff(t *testing.T) {
	runner := newFakeRunner(t)
	runner.script("M\tmain.go\nA\tnew.go\nD\told.go\n", "diff", "--name-status", shaA, shaB)
	runner.script("10\t2\tmain.go\n30\t0\tnew.go\n0\t15\told.go\n", "diff", "--numstat", shaA, shaB)

	s := New(runner, "/repo")
	diff, err := s.GetDiff(context.Background(), shaA, shaB)
	if err != nil {
		t.Fatalf("GetDiff failed: %v", err)
	}

	if len(diff.Files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(diff.Files))
	}
	if diff.Additions != 40 || diff.Deletions != 17 {
		t.Errorf("expected 40/17 totals, got %d/%d", diff.Additions, diff.Deletions)
	}
	if diff.Files[0].Path != "main.go" || diff.Files[0].Status != "M" {
		t.Errorf("unexpected first file: %+v", diff.Files[0])
	}
	if diff.Files[1].Additions != 30 {
		t.Errorf("expected 30 additions for new.go, got %d", diff.Files[1].Additions)
	}
}

func TestGetDiffBinaryFilesCountZero(t *testing.T) {
	runner := newFakeRunner(t)
	runner.script("M\timage.png\n", "diff", "--name-status", shaA, shaB)
	runner.script("-\t-\timage.png\n", "diff", "--numstat", shaA, shaB)

	s := New(runner, "/repo")
	diff, err := s.GetDiff(context.Background(), shaA, shaB)
	if err != nil {
		t.Fatalf("GetDiff failed: %v", err)
	}
	if diff.Files[0].Additions != 0 || diff.Files[0].Deletions != 0 {
		t.Errorf("binary file should count zero, got %+v", diff.Files[0])
	}
}

func TestGetDiffRenamedFile(t *testing.T) {
	runner := newFakeRunner(t)
	runner.script("R100\told.go\trenamed.go\n", "diff", "--name-status", shaA, shaB)
	runner.script("0\t0\told.go => renamed.go\n", "diff", "--numstat", shaA, shaB)

	s := New(runner, "/repo")
	diff, err := s.GetDiff(context.Background(), shaA, shaB)
	if err != nil {
		t.Fatalf("GetDiff failed: %v", err)
	}
	if len(diff.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(diff.Files))
	}
	if diff.Files[0].Path != "renamed.go" {
		t.Errorf("expected new path, got %q", diff.Files[0].Path)
	}
	if diff.Files[0].Status != "R" {
		t.Errorf("expected R status, got %q", diff.Files[0].Status)
	}
}

func TestGetDiffRenamedFileBraceForm(t *testing.T) {
	runner := newFakeRunner(t)
	runner.script("R095\tinternal/old/util.go\tinternal/new/util.go\n",
		"diff", "--name-status", shaA, shaB)
	runner.script("3\t1\tinternal/{old => new}/util.go\n",
		"diff", "--numstat", shaA, shaB)

	s := New(runner, "/repo")
	diff, err := s.GetDiff(context.Background(), shaA, shaB)
	if err != nil {
		t.Fatalf("GetDiff failed: %v", err)
	}
	if len(diff.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(diff.Files))
	}
	if diff.Files[0].Path != "internal/new/util.go" {
		t.Errorf("expected resolved rename path, got %q", diff.Files[0].Path)
	}
	if diff.Files[0].Status != "R" {
		t.Errorf("expected R status, got %q", diff.Files[0].Status)
	}
}

func TestResolveRenamePath(t *testing.T) {
	cases := map[string]string{
		"plain.go":                       "plain.go",
		"old.go => new.go":               "new.go",
		"internal/{old => new}/util.go":  "internal/new/util.go",
		"{old => new}/util.go":           "new/util.go",
		"internal/{old => }/util.go":     "internal/util.go",
		"internal/{ => new}/util.go":     "internal/new/util.go",
		"a/{b => c}/d/{ignored}/file.go": "a/c/d/{ignored}/file.go",
	}
	for in, want := range cases {
		if got := resolveRenamePath(in); got != want {
			t.Errorf("resolveRenamePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCheckMergeConflicts(t *testing.T) {
	runner := newFakeRunner(t)
	runner.script(shaA+"\n", "merge-base", "feature", "main")
	runner.script("shared.go\nfeature.go\n", "diff", "--name-only", shaA, "feature")
	runner.script("shared.go\nmain.go\n", "diff", "--name-only", shaA, "main")

	s := New(runner, "/repo")
	check, err := s.CheckMergeConflicts(context.Background(), "feature", "main")
	if err != nil {
		t.Fatalf("CheckMergeConflicts failed: %v", err)
	}
	if !check.HasConflicts {
		t.Error("expected overlap to be flagged")
	}
	if len(check.Files) != 1 || check.Files[0] != "shared.go" {
		t.Errorf("expected [shared.go], got %v", check.Files)
	}
	if check.MergeBase != shaA {
		t.Errorf("expected merge base %s, got %s", shaA, check.MergeBase)
	}
}

func TestCheckMergeConflictsSymmetric(t *testing.T) {
	script := func(runner *fakeRunner, a, b string) {
		runner.script(shaA+"\n", "merge-base", a, b)
		runner.script("x.go\ny.go\n", "diff", "--name-only", shaA, "feature")
		runner.script("y.go\nz.go\n", "diff", "--name-only", shaA, "main")
	}

	r1 := newFakeRunner(t)
	script(r1, "feature", "main")
	c1, err := New(r1, "/repo").CheckMergeConflicts(context.Background(), "feature", "main")
	if err != nil {
		t.Fatalf("forward check failed: %v", err)
	}

	r2 := newFakeRunner(t)
	script(r2, "main", "feature")
	c2, err := New(r2, "/repo").CheckMergeConflicts(context.Background(), "main", "feature")
	if err != nil {
		t.Fatalf("reverse check failed: %v", err)
	}

	if len(c1.Files) != len(c2.Files) {
		t.Fatalf("conflict detection is not symmetric: %v vs %v", c1.Files, c2.Files)
	}
	for i := range c1.Files {
		if c1.Files[i] != c2.Files[i] {
			t.Errorf("file %d differs: %s vs %s", i, c1.Files[i], c2.Files[i])
		}
	}
}

func TestCheckMergeConflictsNoOverlap(t *testing.T) {
	runner := newFakeRunner(t)
	runner.script(shaA+"\n", "merge-base", "feature", "main")
	runner.script("feature.go\n", "diff", "--name-only", shaA, "feature")
	runner.script("main.go\n", "diff", "--name-only", shaA, "main")

	s := New(runner, "/repo")
	check, err := s.CheckMergeConflicts(context.Background(), "feature", "main")
	if err != nil {
		t.Fatalf("CheckMergeConflicts failed: %v", err)
	}
	if check.HasConflicts {
		t.Errorf("expected no conflicts, got %v", check.Files)
	}
}

func TestGetCommitList(t *testing.T) {
	runner := newFakeRunner(t)
	out := shaB + "\x00Alice\x00alice@example.com\x001700000000\x00Add feature\n" +
		shaC + "\x00Bob\x00bob@example.com\x001700000100\x00Fix tests\n"
	runner.script(out, "log", "--reverse", "--format=%H%x00%an%x00%ae%x00%at%x00%s", shaA+".."+shaB)

	s := New(runner, "/repo")
	commits, err := s.GetCommitList(context.Background(), shaA, shaB)
	if err != nil {
		t.Fatalf("GetCommitList failed: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(commits))
	}
	if commits[0].Author != "Alice" || commits[0].Message != "Add feature" {
		t.Errorf("unexpected first commit: %+v", commits[0])
	}
	if commits[1].SHA != shaC {
		t.Errorf("expected %s, got %s", shaC, commits[1].SHA)
	}
}

func TestIsWorkingTreeClean(t *testing.T) {
	runner := newFakeRunner(t)
	runner.script("", "status", "--porcelain")

	s := New(runner, "/repo")
	if !s.IsWorkingTreeClean(context.Background()) {
		t.Error("empty status should report clean")
	}
}

func TestIsWorkingTreeCleanFailsClosed(t *testing.T) {
	runner := newFakeRunner(t)
	runner.scriptErr(errors.New("not a git repository"), "status", "--porcelain")

	s := New(runner, "/repo")
	if s.IsWorkingTreeClean(context.Background()) {
		t.Error("status failure must report dirty")
	}
}

func TestGetUncommittedFiles(t *testing.T) {
	runner := newFakeRunner(t)
	runner.script(" M main.go\n?? notes with spaces.txt\nR  old.go -> new.go\n", "status", "--porcelain")

	s := New(runner, "/repo")
	files, err := s.GetUncommittedFiles(context.Background(), "")
	if err != nil {
		t.Fatalf("GetUncommittedFiles failed: %v", err)
	}
	want := []string{"main.go", "notes with spaces.txt", "new.go"}
	if len(files) != len(want) {
		t.Fatalf("expected %v, got %v", want, files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("file %d: expected %q, got %q", i, want[i], files[i])
		}
	}
}

func TestGetUncommittedFilesPattern(t *testing.T) {
	runner := newFakeRunner(t)
	runner.script(" M main.go\n M readme.md\n", "status", "--porcelain")

	s := New(runner, "/repo")
	files, err := s.GetUncommittedFiles(context.Background(), ".go")
	if err != nil {
		t.Fatalf("GetUncommittedFiles failed: %v", err)
	}
	if len(files) != 1 || files[0] != "main.go" {
		t.Errorf("expected [main.go], got %v", files)
	}
}

func TestHeadValidatesSHA(t *testing.T) {
	runner := newFakeRunner(t)
	runner.script("HEAD\n", "rev-parse", "HEAD")

	s := New(runner, "/repo")
	if _, err := s.Head(context.Background()); err == nil {
		t.Error("expected error for symbolic rev-parse output")
	}
}
