// Package gates runs configured quality checks against an execution's
// worktree before its work is eligible for the merge queue.
package gates

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loom-sh/loom/internal/config"
)

// Result represents the outcome of a single quality gate check.
type Result struct {
	Name     string
	Passed   bool
	Output   string
	Duration time.Duration
	Error    error
}

// Provider is an interface for running quality gates. It allows pluggable
// gate implementations, mainly for testing.
type Provider interface {
	// RunAll executes all configured gates in sequence.
	// Returns the results and whether all gates passed.
	RunAll(ctx context.Context) ([]*Result, bool)
}

// Runner executes the configured gate commands inside a working directory.
type Runner struct {
	checks     []config.GateCheck
	workingDir string
	provider   Provider
}

// Options holds gate runner configuration.
type Options struct {
	Checks     []config.GateCheck
	WorkingDir string   // Directory where gate commands are executed
	Provider   Provider // Optional: overrides the built-in command runner
}

// NewRunner creates a quality gate runner.
func NewRunner(opts Options) *Runner {
	if opts.WorkingDir == "" {
		opts.WorkingDir = "."
	}
	return &Runner{
		checks:     opts.Checks,
		workingDir: opts.WorkingDir,
		provider:   opts.Provider,
	}
}

// RunAll executes all configured gates in sequence. A failing gate does not
// stop later gates, so the caller gets feedback about every quality issue
// at once.
func (r *Runner) RunAll(ctx context.Context) ([]*Result, bool) {
	if r.provider != nil {
		return r.provider.RunAll(ctx)
	}

	var results []*Result
	allPassed := true

	for _, check := range r.checks {
		result := r.runCheck(ctx, check)
		results = append(results, result)
		if !result.Passed {
			allPassed = false
		}
	}

	return results, allPassed
}

func (r *Runner) runCheck(ctx context.Context, check config.GateCheck) *Result {
	result := &Result{Name: check.Name}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	if len(check.Command) == 0 {
		result.Error = fmt.Errorf("gate %q has no command", check.Name)
		return result
	}

	if _, err := exec.LookPath(check.Command[0]); err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", check.Command[0])
		result.Output = fmt.Sprintf("%s is not installed or not in PATH", check.Command[0])
		return result
	}

	cmd := exec.CommandContext(ctx, check.Command[0], check.Command[1:]...)
	cmd.Dir = r.workingDir

	output, err := cmd.CombinedOutput()
	result.Output = string(output)
	if err != nil {
		result.Error = fmt.Errorf("gate %s failed: %w", check.Name, err)
		return result
	}

	result.Passed = true
	return result
}

// Summarize renders gate results as a short human-readable report.
func Summarize(results []*Result) string {
	var b strings.Builder
	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "%s: %s (%s)\n", r.Name, status, r.Duration.Round(time.Millisecond))
		if !r.Passed && r.Error != nil {
			fmt.Fprintf(&b, "  %v\n", r.Error)
		}
	}
	return b.String()
}
