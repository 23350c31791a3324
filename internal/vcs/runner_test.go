package vcs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsValidSHA(t *testing.T) {
	tests := []struct {
		name  string
		sha   string
		valid bool
	}{
		{"full sha", "0123456789abcdef0123456789abcdef01234567", true},
		{"all zeros", strings.Repeat("0", 40), true},
		{"short sha", "abc1234", false},
		{"empty", "", false},
		{"uppercase", "0123456789ABCDEF0123456789ABCDEF01234567", false},
		{"too long", strings.Repeat("a", 41), false},
		{"symbolic ref", "HEAD", false},
		{"injection attempt", "abc; rm -rf /", false},
		{"whitespace", "0123456789abcdef0123456789abcdef01234567\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidSHA(tt.sha); got != tt.valid {
				t.Errorf("IsValidSHA(%q) = %v, want %v", tt.sha, got, tt.valid)
			}
		})
	}
}

func TestCommandErrorMessage(t *testing.T) {
	err := &CommandError{
		Args:     []string{"merge", "--ff-only", "feature"},
		Stderr:   "fatal: Not possible to fast-forward, aborting.\n",
		ExitCode: 128,
	}

	msg := err.Error()
	if !strings.Contains(msg, "merge --ff-only feature") {
		t.Errorf("message should name the command: %q", msg)
	}
	if !strings.Contains(msg, "exit 128") {
		t.Errorf("message should carry the exit code: %q", msg)
	}
	if !strings.Contains(msg, "Not possible to fast-forward") {
		t.Errorf("message should include stderr: %q", msg)
	}
}

func TestCommandErrorUnwrap(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &CommandError{Args: []string{"status"}, Err: inner}

	if !errors.Is(err, inner) {
		t.Error("Unwrap should expose the process error")
	}
}

func TestAsCommandError(t *testing.T) {
	cmdErr := &CommandError{Args: []string{"status"}, ExitCode: 1}
	wrapped := fmt.Errorf("checking tree: %w", cmdErr)

	got, ok := AsCommandError(wrapped)
	if !ok {
		t.Fatal("expected to find CommandError in chain")
	}
	if got.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", got.ExitCode)
	}

	if _, ok := AsCommandError(errors.New("plain")); ok {
		t.Error("plain error must not match")
	}
}
