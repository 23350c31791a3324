package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-sh/loom/internal/events"
	"github.com/loom-sh/loom/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func makeIssue(t *testing.T, store *Store, title string, priority int) *types.Issue {
	t.Helper()
	issue := &types.Issue{Title: title, Priority: priority}
	require.NoError(t, store.CreateIssue(context.Background(), issue))
	return issue
}

func TestIssueCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := &types.Issue{Title: "Add retry logic", Content: "details", Priority: 1}
	require.NoError(t, store.CreateIssue(ctx, issue))
	assert.NotEmpty(t, issue.ID, "id should be generated")
	assert.Equal(t, types.IssueStatusOpen, issue.Status, "status should default to open")

	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "Add retry logic", got.Title)
	assert.Equal(t, 1, got.Priority)

	require.NoError(t, store.UpdateIssueStatus(ctx, issue.ID, types.IssueStatusInProgress))
	got, err = store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, types.IssueStatusInProgress, got.Status)

	_, err = store.GetIssue(ctx, "missing")
	assert.Error(t, err)

	err = store.UpdateIssueStatus(ctx, "missing", types.IssueStatusClosed)
	assert.Error(t, err)
}

func TestCreateIssueRejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	err := store.CreateIssue(context.Background(), &types.Issue{Title: ""})
	assert.Error(t, err)
}

func TestListIssuesFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	makeIssue(t, store, "low", 3)
	high := makeIssue(t, store, "high", 0)
	require.NoError(t, store.UpdateIssueStatus(ctx, high.ID, types.IssueStatusClosed))

	closed := types.IssueStatusClosed
	got, err := store.ListIssues(ctx, types.IssueFilter{Status: &closed})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, high.ID, got[0].ID)

	all, err := store.ListIssues(ctx, types.IssueFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	// Priority ascending.
	assert.Equal(t, "high", all[0].Title)
}

func TestGetReadyIssuesBlocksDirection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	blocker := makeIssue(t, store, "blocker", 2)
	blocked := makeIssue(t, store, "blocked", 2)
	require.NoError(t, store.AddRelationship(ctx, &types.Relationship{
		IssueID:  blocker.ID,
		TargetID: blocked.ID,
		Type:     types.RelBlocks,
	}))

	ready, err := store.GetReadyIssues(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1, "only the blocker is ready")
	assert.Equal(t, blocker.ID, ready[0].ID)

	// Closing the blocker releases the blocked issue.
	require.NoError(t, store.UpdateIssueStatus(ctx, blocker.ID, types.IssueStatusClosed))
	ready, err = store.GetReadyIssues(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, blocked.ID, ready[0].ID)
}

func TestGetReadyIssuesDependsOnDirection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	dep := makeIssue(t, store, "dependency", 2)
	issue := makeIssue(t, store, "dependent", 2)
	require.NoError(t, store.AddRelationship(ctx, &types.Relationship{
		IssueID:  issue.ID,
		TargetID: dep.ID,
		Type:     types.RelDependsOn,
	}))

	ready, err := store.GetReadyIssues(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, dep.ID, ready[0].ID)
}

func TestGetReadyIssuesIgnoresRelatedLinks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := makeIssue(t, store, "a", 2)
	b := makeIssue(t, store, "b", 2)
	require.NoError(t, store.AddRelationship(ctx, &types.Relationship{
		IssueID:  a.ID,
		TargetID: b.ID,
		Type:     types.RelRelated,
	}))

	ready, err := store.GetReadyIssues(ctx)
	require.NoError(t, err)
	assert.Len(t, ready, 2, "related links have no scheduling effect")
}

func TestGetReadyIssuesOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := &types.Issue{Title: "older", Priority: 1, CreatedAt: base}
	newer := &types.Issue{Title: "newer", Priority: 1, CreatedAt: base.Add(time.Hour)}
	urgent := &types.Issue{Title: "urgent", Priority: 0, CreatedAt: base.Add(2 * time.Hour)}
	require.NoError(t, store.CreateIssue(ctx, newer))
	require.NoError(t, store.CreateIssue(ctx, older))
	require.NoError(t, store.CreateIssue(ctx, urgent))

	ready, err := store.GetReadyIssues(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 3)
	assert.Equal(t, "urgent", ready[0].Title)
	assert.Equal(t, "older", ready[1].Title)
	assert.Equal(t, "newer", ready[2].Title)
}

func TestGetDependencyIssueIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := makeIssue(t, store, "a", 2)
	b := makeIssue(t, store, "b", 2)
	c := makeIssue(t, store, "c", 2)

	// a blocks c, and c depends on b: c's dependencies are {a, b}.
	require.NoError(t, store.AddRelationship(ctx, &types.Relationship{
		IssueID: a.ID, TargetID: c.ID, Type: types.RelBlocks,
	}))
	require.NoError(t, store.AddRelationship(ctx, &types.Relationship{
		IssueID: c.ID, TargetID: b.ID, Type: types.RelDependsOn,
	}))

	deps, err := store.GetDependencyIssueIDs(ctx, c.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, deps)
}

func TestRemoveRelationship(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := makeIssue(t, store, "a", 2)
	b := makeIssue(t, store, "b", 2)
	require.NoError(t, store.AddRelationship(ctx, &types.Relationship{
		IssueID: a.ID, TargetID: b.ID, Type: types.RelBlocks,
	}))

	require.NoError(t, store.RemoveRelationship(ctx, a.ID, b.ID, types.RelBlocks))
	err := store.RemoveRelationship(ctx, a.ID, b.ID, types.RelBlocks)
	assert.Error(t, err, "removing twice should fail")
}

func makeExecution(t *testing.T, store *Store, issueID string) *types.Execution {
	t.Helper()
	exec := &types.Execution{
		ID:        fmt.Sprintf("exec-%s", issueID),
		IssueID:   issueID,
		Status:    types.ExecutionRunning,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateExecution(context.Background(), exec))
	return exec
}

func TestExecutionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue(t, store, "work", 2)
	exec := makeExecution(t, store, issue.ID)

	running, err := store.ListExecutionsByStatus(ctx, types.ExecutionRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)

	done := time.Now().UTC()
	code := 0
	exec.Status = types.ExecutionCompleted
	exec.CompletedAt = &done
	exec.ExitCode = &code
	exec.FilesChanged = []string{"main.go"}
	require.NoError(t, store.UpdateExecution(ctx, exec))

	got, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionCompleted, got.Status)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	assert.Equal(t, []string{"main.go"}, got.FilesChanged)
}

func makeCheckpoint(t *testing.T, store *Store, id, issueID string, status types.ReviewStatus, createdAt time.Time) *types.Checkpoint {
	t.Helper()
	cp := &types.Checkpoint{
		ID:           id,
		IssueID:      issueID,
		ExecutionID:  "exec-" + id,
		StreamID:     "loom/" + id,
		ReviewStatus: status,
		TargetBranch: "main",
		CreatedAt:    createdAt,
	}
	require.NoError(t, store.CreateCheckpoint(context.Background(), cp))
	return cp
}

func TestCheckpointReviewTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	cp := makeCheckpoint(t, store, "cp-1", "issue-1", types.ReviewPending, now)

	// pending -> merged is not allowed.
	err := store.UpdateCheckpointReviewStatus(ctx, cp.ID, types.ReviewMerged)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid review transition")

	require.NoError(t, store.UpdateCheckpointReviewStatus(ctx, cp.ID, types.ReviewApproved))
	require.NoError(t, store.UpdateCheckpointReviewStatus(ctx, cp.ID, types.ReviewMerged))

	got, err := store.GetCheckpoint(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewMerged, got.ReviewStatus)

	// merged is terminal.
	err = store.UpdateCheckpointReviewStatus(ctx, cp.ID, types.ReviewRejected)
	assert.Error(t, err)
}

func TestListCheckpointsOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	makeCheckpoint(t, store, "cp-b", "issue-1", types.ReviewPending, base.Add(time.Minute))
	makeCheckpoint(t, store, "cp-a", "issue-1", types.ReviewPending, base)
	makeCheckpoint(t, store, "cp-c", "issue-2", types.ReviewApproved, base)

	pending, err := store.ListCheckpoints(ctx, types.ReviewPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "cp-a", pending[0].ID, "creation order, oldest first")
	assert.Equal(t, "cp-b", pending[1].ID)
}

func TestGetLatestCheckpointForIssue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cp, err := store.GetLatestCheckpointForIssue(ctx, "issue-1")
	require.NoError(t, err)
	assert.Nil(t, cp, "no checkpoint yet")

	makeCheckpoint(t, store, "cp-1", "issue-1", types.ReviewPending, base)
	makeCheckpoint(t, store, "cp-2", "issue-1", types.ReviewPending, base.Add(time.Minute))

	cp, err = store.GetLatestCheckpointForIssue(ctx, "issue-1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "cp-2", cp.ID)
}

func TestGetMergedIssueIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	makeCheckpoint(t, store, "cp-1", "issue-1", types.ReviewMerged, now)
	makeCheckpoint(t, store, "cp-2", "issue-2", types.ReviewPending, now)

	merged, err := store.GetMergedIssueIDs(ctx)
	require.NoError(t, err)
	assert.True(t, merged["issue-1"])
	assert.False(t, merged["issue-2"])
}

func TestCheckpointChangedFilesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cp := &types.Checkpoint{
		ID:           "cp-1",
		IssueID:      "issue-1",
		ExecutionID:  "exec-1",
		StreamID:     "loom/exec-1",
		ReviewStatus: types.ReviewPending,
		TargetBranch: "main",
		ChangedFiles: []string{"a.go", "b.go"},
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.CreateCheckpoint(ctx, cp))

	got, err := store.GetCheckpoint(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, got.ChangedFiles)
}

func makeQueueEntry(t *testing.T, store *Store, id string, position int, status types.QueueStatus) *types.QueueEntry {
	t.Helper()
	e := &types.QueueEntry{
		ID:           id,
		ExecutionID:  "exec-" + id,
		StreamID:     "loom/exec-" + id,
		TargetBranch: "main",
		Position:     position,
		Priority:     2,
		Status:       status,
		AddedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.AddQueueEntry(context.Background(), e))
	return e
}

func TestQueueEntryCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := makeQueueEntry(t, store, "q-1", 1, types.QueuePending)

	got, err := store.GetQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Position)

	byExec, err := store.GetQueueEntryByExecution(ctx, e.ExecutionID)
	require.NoError(t, err)
	require.NotNil(t, byExec)
	assert.Equal(t, e.ID, byExec.ID)

	byExec, err = store.GetQueueEntryByExecution(ctx, "never-queued")
	require.NoError(t, err)
	assert.Nil(t, byExec)

	e.Status = types.QueueMerged
	e.MergeCommit = "abc"
	require.NoError(t, store.UpdateQueueEntry(ctx, e))
	got, err = store.GetQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, types.QueueMerged, got.Status)
	assert.Equal(t, "abc", got.MergeCommit)

	require.NoError(t, store.RemoveQueueEntry(ctx, e.ID))
	require.NoError(t, store.RemoveQueueEntry(ctx, e.ID), "removal is idempotent")
	_, err = store.GetQueueEntry(ctx, e.ID)
	assert.Error(t, err)
}

func TestListQueueEntriesFilterAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	makeQueueEntry(t, store, "q-2", 2, types.QueuePending)
	makeQueueEntry(t, store, "q-1", 1, types.QueuePending)
	makeQueueEntry(t, store, "q-3", 3, types.QueueMerged)

	all, err := store.ListQueueEntries(ctx, types.QueueFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "q-1", all[0].ID, "ordered by position")

	pending, err := store.ListQueueEntries(ctx, types.QueueFilter{Status: types.QueuePending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	other, err := store.ListQueueEntries(ctx, types.QueueFilter{TargetBranch: "release"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestGroupsAndStacks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	group := &types.Group{
		ID:            "grp-1",
		Name:          "payments",
		WorkingBranch: "feature/payments",
		Status:        types.GroupActive,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.CreateGroup(ctx, group))

	issue := &types.Issue{Title: "grouped", GroupID: group.ID}
	require.NoError(t, store.CreateIssue(ctx, issue))
	loner := makeIssue(t, store, "loner", 2)

	got, err := store.GetGroupForIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "payments", got.Name)

	none, err := store.GetGroupForIssue(ctx, loner.ID)
	require.NoError(t, err)
	assert.Nil(t, none, "ungrouped issue has no group")

	require.NoError(t, store.UpdateGroupStatus(ctx, group.ID, types.GroupPaused))
	got, err = store.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, types.GroupPaused, got.Status)

	require.NoError(t, store.AddStackEntry(ctx, "payments-stack", issue.ID, 0))
	require.NoError(t, store.AddStackEntry(ctx, "payments-stack", loner.ID, 1))
	// Re-adding replaces the depth.
	require.NoError(t, store.AddStackEntry(ctx, "payments-stack", loner.ID, 2))

	stacks, err := store.ListStacks(ctx)
	require.NoError(t, err)
	require.Len(t, stacks, 1)
	require.Len(t, stacks[0].Entries, 2)
	assert.Equal(t, 2, stacks[0].Entries[1].Depth)

	membership, err := store.GetStackMembership(ctx, []string{issue.ID, loner.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, membership, 2)
	assert.Equal(t, "payments-stack", membership[issue.ID].StackName)
	assert.Equal(t, 2, membership[loner.ID].Depth)
}

func TestEventsAddGetPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e, err := events.New(events.EventExecutionStarted, events.SeverityInfo,
			"issue-1", fmt.Sprintf("exec-%d", i), "started", nil)
		require.NoError(t, err)
		require.NoError(t, store.AddEvent(ctx, e))
		assert.NotZero(t, e.ID, "id should be assigned on insert")
	}
	warn, err := events.New(events.EventQueueMergeFailed, events.SeverityError,
		"issue-2", "", "merge failed", map[string]interface{}{"files": []string{"a.go"}})
	require.NoError(t, err)
	require.NoError(t, store.AddEvent(ctx, warn))

	byIssue, err := store.GetEvents(ctx, events.Filter{IssueID: "issue-1"})
	require.NoError(t, err)
	assert.Len(t, byIssue, 5)

	bySeverity, err := store.GetEvents(ctx, events.Filter{Severity: events.SeverityError})
	require.NoError(t, err)
	require.Len(t, bySeverity, 1)
	assert.Equal(t, events.EventQueueMergeFailed, bySeverity[0].Type)
	assert.Contains(t, bySeverity[0].Metadata, "a.go")

	limited, err := store.GetEvents(ctx, events.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	pruned, err := store.PruneEvents(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)

	remaining, err := store.GetEvents(ctx, events.Filter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 4)
}

func TestConfigRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	val, err := store.GetConfig(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, val, "missing keys read as empty")

	require.NoError(t, store.SetConfig(ctx, "scheduler.paused", "true"))
	require.NoError(t, store.SetConfig(ctx, "scheduler.paused", "false"))

	val, err = store.GetConfig(ctx, "scheduler.paused")
	require.NoError(t, err)
	assert.Equal(t, "false", val)
}
