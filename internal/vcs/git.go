package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git implements Runner using the git CLI. Arguments are passed as an argv
// vector directly to the process, so no shell is involved and no quoting of
// caller-supplied values is ever required.
type Git struct {
	gitPath string
}

// NewGit creates a new Git runner. It verifies that git is available.
func NewGit(ctx context.Context) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, gitPath, "version")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}

	return &Git{gitPath: gitPath}, nil
}

// Version returns the trimmed output of `git version`.
func (g *Git) Version(ctx context.Context) (string, error) {
	out, err := g.Run(ctx, ".", "version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Run executes one git command with the repository selected via -C.
// SECURITY: repoPath must be a validated, trusted path. This function
// does not perform path validation or sandboxing.
func (g *Git) Run(ctx context.Context, repoPath string, args ...string) (string, error) {
	full := append([]string{"-C", repoPath}, args...)
	cmd := exec.CommandContext(ctx, g.gitPath, full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return "", &CommandError{
			Args:     args,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: exitCode,
			Err:      err,
		}
	}

	return stdout.String(), nil
}

// IsRepo checks whether repoPath is inside a git repository.
func (g *Git) IsRepo(ctx context.Context, repoPath string) bool {
	_, err := g.Run(ctx, repoPath, "rev-parse", "--git-dir")
	return err == nil
}
