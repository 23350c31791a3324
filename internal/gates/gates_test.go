package gates

import (
	"context"
	"strings"
	"testing"

	"github.com/loom-sh/loom/internal/config"
)

// fakeProvider returns canned results.
type fakeProvider struct {
	results []*Result
	passed  bool
}

func (f *fakeProvider) RunAll(ctx context.Context) ([]*Result, bool) {
	return f.results, f.passed
}

func TestRunAllUsesProvider(t *testing.T) {
	provider := &fakeProvider{
		results: []*Result{{Name: "test", Passed: true}},
		passed:  true,
	}
	runner := NewRunner(Options{Provider: provider})

	results, passed := runner.RunAll(context.Background())
	if !passed {
		t.Error("expected pass")
	}
	if len(results) != 1 || results[0].Name != "test" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestRunAllRealCommands(t *testing.T) {
	runner := NewRunner(Options{
		Checks: []config.GateCheck{
			{Name: "ok", Command: []string{"true"}},
			{Name: "bad", Command: []string{"false"}},
			{Name: "after", Command: []string{"true"}},
		},
		WorkingDir: t.TempDir(),
	})

	results, passed := runner.RunAll(context.Background())
	if passed {
		t.Error("expected failure when one gate fails")
	}
	if len(results) != 3 {
		t.Fatalf("a failing gate must not stop later gates, got %d results", len(results))
	}
	if !results[0].Passed || results[1].Passed || !results[2].Passed {
		t.Errorf("unexpected pass pattern: %v %v %v",
			results[0].Passed, results[1].Passed, results[2].Passed)
	}
	if results[1].Error == nil {
		t.Error("failing gate should carry an error")
	}
}

func TestRunCheckMissingBinary(t *testing.T) {
	runner := NewRunner(Options{
		Checks: []config.GateCheck{
			{Name: "ghost", Command: []string{"definitely-not-a-real-binary-xyz"}},
		},
	})

	results, passed := runner.RunAll(context.Background())
	if passed {
		t.Error("expected failure for missing binary")
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Error == nil || !strings.Contains(results[0].Error.Error(), "not found in PATH") {
		t.Errorf("unexpected error: %v", results[0].Error)
	}
}

func TestRunCheckCapturesOutput(t *testing.T) {
	runner := NewRunner(Options{
		Checks: []config.GateCheck{
			{Name: "echo", Command: []string{"echo", "hello gates"}},
		},
	})

	results, passed := runner.RunAll(context.Background())
	if !passed {
		t.Fatalf("echo should pass: %+v", results[0])
	}
	if !strings.Contains(results[0].Output, "hello gates") {
		t.Errorf("expected captured output, got %q", results[0].Output)
	}
}

func TestSummarize(t *testing.T) {
	out := Summarize([]*Result{
		{Name: "test", Passed: true},
		{Name: "build", Passed: false, Error: context.DeadlineExceeded},
	})
	if !strings.Contains(out, "test: PASS") {
		t.Errorf("missing pass line: %q", out)
	}
	if !strings.Contains(out, "build: FAIL") {
		t.Errorf("missing fail line: %q", out)
	}
	if !strings.Contains(out, "deadline exceeded") {
		t.Errorf("missing error detail: %q", out)
	}
}
