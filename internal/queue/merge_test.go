package queue

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-sh/loom/internal/events"
	"github.com/loom-sh/loom/internal/types"
)

const mergeSHA = "dddddddddddddddddddddddddddddddddddddddd"
const baseSHA = "eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

// scriptedGit dispatches each git invocation to a handler function so
// commands with dynamic arguments (safety tags carry a timestamp) can
// still be matched.
type scriptedGit struct {
	handle func(args []string) (string, error)
	calls  [][]string
}

func (g *scriptedGit) Run(ctx context.Context, repoPath string, args ...string) (string, error) {
	g.calls = append(g.calls, args)
	return g.handle(args)
}

func (g *scriptedGit) sawPrefix(prefix ...string) bool {
	for _, call := range g.calls {
		if len(call) < len(prefix) {
			continue
		}
		match := true
		for i, p := range prefix {
			if call[i] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// cleanMergeGit scripts a repository where the squash merge of stream
// succeeds and lands as mergeSHA.
func cleanMergeGit(stream string) *scriptedGit {
	return &scriptedGit{handle: func(args []string) (string, error) {
		switch args[0] {
		case "status":
			return "", nil
		case "merge-base":
			if args[1] == "--is-ancestor" {
				return "", errors.New("not an ancestor")
			}
			return baseSHA + "\n", nil
		case "diff":
			// Conflict pre-check file listings: disjoint sets.
			if args[len(args)-1] == stream {
				return "feature.go\n", nil
			}
			return "other.go\n", nil
		case "checkout", "tag", "commit", "merge":
			return "", nil
		case "rev-parse":
			return mergeSHA + "\n", nil
		}
		return "", errors.New("unexpected git call: " + strings.Join(args, " "))
	}}
}

func TestProcessNextMergesEligibleEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedEntry(t, store, "a", 1, types.ReviewApproved)
	git := cleanMergeGit("loom/exec-a")
	p := NewProcessor(store, git, "/repo")

	entry, err := p.ProcessNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "q-a", entry.ID)

	got, err := store.GetQueueEntry(ctx, "q-a")
	require.NoError(t, err)
	assert.Equal(t, types.QueueMerged, got.Status)
	assert.Equal(t, mergeSHA, got.MergeCommit)

	// The approved checkpoint follows the merge.
	cp, err := store.GetCheckpoint(ctx, "cp-a")
	require.NoError(t, err)
	assert.Equal(t, types.ReviewMerged, cp.ReviewStatus)

	mergedEvents, err := store.GetEvents(ctx, events.Filter{Type: events.EventQueueMerged})
	require.NoError(t, err)
	assert.Len(t, mergedEvents, 1)

	assert.True(t, git.sawPrefix("checkout", "main"))
	assert.True(t, git.sawPrefix("tag", "-f", "-a"), "safety tag should be created")
	assert.True(t, git.sawPrefix("merge", "--squash", "loom/exec-a"))
}

func TestProcessNextSkipsIneligibleEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedEntry(t, store, "pending", 1, types.ReviewPending)
	seedEntry(t, store, "ready", 2, types.ReviewApproved)
	git := cleanMergeGit("loom/exec-ready")
	p := NewProcessor(store, git, "/repo")

	entry, err := p.ProcessNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "q-ready", entry.ID, "the unreviewed entry is skipped")
}

func TestProcessNextNothingPromotable(t *testing.T) {
	store := newTestStore(t)
	seedEntry(t, store, "pending", 1, types.ReviewPending)
	p := NewProcessor(store, &scriptedGit{handle: func([]string) (string, error) {
		return "", errors.New("git must not run")
	}}, "/repo")

	entry, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestMergeRefusesDirtyTree(t *testing.T) {
	store := newTestStore(t)
	seedEntry(t, store, "a", 1, types.ReviewApproved)
	git := &scriptedGit{handle: func(args []string) (string, error) {
		if args[0] == "status" {
			return " M main.go\n", nil
		}
		return "", errors.New("unexpected git call")
	}}
	p := NewProcessor(store, git, "/repo")

	_, err := p.ProcessNext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not clean")
}

func TestMergeConflictFailsEntryWithoutError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedEntry(t, store, "a", 1, types.ReviewApproved)
	git := &scriptedGit{handle: func(args []string) (string, error) {
		switch args[0] {
		case "status", "checkout", "tag", "reset":
			return "", nil
		case "merge-base":
			if args[1] == "--is-ancestor" {
				return "", errors.New("not an ancestor")
			}
			return baseSHA + "\n", nil
		case "diff":
			if len(args) >= 2 && args[len(args)-1] == "--diff-filter=U" {
				return "shared.go\n", nil
			}
			return "shared.go\n", nil
		case "merge":
			return "", errors.New("conflict")
		}
		return "", errors.New("unexpected git call: " + strings.Join(args, " "))
	}}
	p := NewProcessor(store, git, "/repo")

	// A conflicted merge is an expected outcome, not a processor error.
	entry, err := p.ProcessNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)

	got, err := store.GetQueueEntry(ctx, "q-a")
	require.NoError(t, err)
	assert.Equal(t, types.QueueFailed, got.Status)
	assert.Contains(t, got.Error, "shared.go")

	// The overlap pre-check and the conflict itself are both recorded.
	conflicts, err := store.GetEvents(ctx, events.Filter{Type: events.EventConflictDetected})
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
	failures, err := store.GetEvents(ctx, events.Filter{Type: events.EventQueueMergeFailed})
	require.NoError(t, err)
	assert.Len(t, failures, 1)
}

func TestPromoteRejectsIneligibleEntry(t *testing.T) {
	store := newTestStore(t)
	seedEntry(t, store, "a", 1, types.ReviewPending)
	p := NewProcessor(store, &scriptedGit{handle: func([]string) (string, error) {
		return "", errors.New("git must not run")
	}}, "/repo")

	err := p.Promote(context.Background(), "q-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not promotable")
	assert.Contains(t, err.Error(), "review status is pending")
}

func TestPromoteUnknownEntry(t *testing.T) {
	store := newTestStore(t)
	seedEntry(t, store, "a", 1, types.ReviewApproved)
	p := NewProcessor(store, cleanMergeGit("loom/exec-a"), "/repo")

	err := p.Promote(context.Background(), "q-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
