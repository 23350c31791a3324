package runtime

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loom-sh/loom/internal/config"
	"github.com/loom-sh/loom/internal/storage/sqlite"
	"github.com/loom-sh/loom/internal/types"
)

// nopRunner accepts every git command. rev-parse returns a fixed SHA so
// ref resolution succeeds; everything else reports empty success.
type nopRunner struct{}

func (nopRunner) Run(ctx context.Context, repoPath string, args ...string) (string, error) {
	if len(args) > 0 && args[0] == "rev-parse" {
		return "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", nil
	}
	return "", nil
}

func newTestLocal(t *testing.T) *Local {
	t.Helper()

	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir .git: %v", err)
	}

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	l, err := NewLocal(store, nopRunner{}, root, nil)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	return l
}

func TestNewLocalRejectsNonRepo(t *testing.T) {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	defer store.Close()

	if _, err := NewLocal(store, nopRunner{}, t.TempDir(), nil); err == nil {
		t.Fatal("expected error for directory without .git")
	}
}

func TestCancelExecutionUnknownID(t *testing.T) {
	l := newTestLocal(t)
	defer l.Close()

	if err := l.CancelExecution(context.Background(), "exec-missing"); err != nil {
		t.Fatalf("CancelExecution() on unknown id error = %v", err)
	}
}

func TestCloseIsIdempotentAndClosesCompletions(t *testing.T) {
	l := newTestLocal(t)

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if _, ok := <-l.Completions(); ok {
		t.Fatal("completions channel should be closed")
	}
	if n := l.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount() = %d, want 0", n)
	}
}

func TestStartExecutionAfterClose(t *testing.T) {
	l := newTestLocal(t)
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	issue := &types.Issue{
		ID:        "issue-1",
		Title:     "test issue",
		Status:    types.IssueStatusInProgress,
		Priority:  2,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := l.store.CreateIssue(context.Background(), issue); err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}

	cfg := config.Default()
	_, err := l.StartExecution(context.Background(), issue, "main", cfg)
	if err == nil {
		t.Fatal("expected error starting execution on closed runtime")
	}
	if !strings.Contains(err.Error(), "closed") {
		t.Errorf("error = %v, want runtime closed", err)
	}
}

func TestTail(t *testing.T) {
	if got := tail([]byte("short"), 10); got != "short" {
		t.Errorf("tail() = %q, want %q", got, "short")
	}
	long := strings.Repeat("a", 20) + "TAIL"
	if got := tail([]byte(long), 4); got != "TAIL" {
		t.Errorf("tail() = %q, want %q", got, "TAIL")
	}
	if got := tail(nil, 4); got != "" {
		t.Errorf("tail(nil) = %q, want empty", got)
	}
}
