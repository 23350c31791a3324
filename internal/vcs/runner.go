// Package vcs wraps invocation of an external version control tool.
// It exposes a single narrow command-execution interface so every layer
// above it can be tested with a fake that returns scripted output.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNotARepository is returned when the directory is not a VCS repository.
	ErrNotARepository = errors.New("not a repository")

	// ErrNoMergeBase is returned when two refs share no common ancestor.
	ErrNoMergeBase = errors.New("no merge base")
)

// Runner executes a single VCS command against a repository path and returns
// its standard output. A failing command must be reported as *CommandError,
// never as a raw process error.
type Runner interface {
	Run(ctx context.Context, repoPath string, args ...string) (string, error)
}

// CommandError is the typed error for every failing VCS invocation. It
// carries the failing command and its captured output so callers can decide
// whether the failure is a conflict, a malformed ref, or a real fault.
type CommandError struct {
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s failed (exit %d)", strings.Join(e.Args, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// AsCommandError unwraps err to a *CommandError if one is in the chain.
func AsCommandError(err error) (*CommandError, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr, true
	}
	return nil, false
}

// shaPattern matches a full 40-hex-character commit identifier. Anything
// shorter or longer is rejected before being trusted as a ref, so malformed
// upstream data can never be spliced into a later command.
var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// IsValidSHA reports whether s is a full-length commit identifier.
func IsValidSHA(s string) bool {
	return shaPattern.MatchString(s)
}
