// Package queue presents the merge queue: persisted entries enriched with
// issue identity, stack membership, dependency state, and promotion
// eligibility. Enrichment is computed fresh on every query so the view
// never goes stale against issue or review changes.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loom-sh/loom/internal/storage"
	"github.com/loom-sh/loom/internal/types"
)

// enrichConcurrency bounds the per-entry lookup fan-out.
const enrichConcurrency = 8

// Manager computes merge queue views over storage.
type Manager struct {
	store storage.Storage
}

// NewManager creates a queue manager.
func NewManager(store storage.Storage) *Manager {
	return &Manager{store: store}
}

// GetEnrichedQueue returns queue entries matching the filter, enriched and
// re-numbered. Positions are 1-indexed over the filtered result, so a
// filtered view always shows a contiguous 1..n ordering.
func (m *Manager) GetEnrichedQueue(ctx context.Context, filter types.QueueFilter) ([]*types.EnrichedQueueEntry, error) {
	entries, err := m.store.ListQueueEntries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	merged, err := m.store.GetMergedIssueIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve merged issues: %w", err)
	}

	enriched := make([]*types.EnrichedQueueEntry, len(entries))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			e, err := m.enrich(gctx, entry, merged)
			if err != nil {
				return err
			}
			mu.Lock()
			enriched[i] = e
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	issueIDs := make([]string, 0, len(enriched))
	for _, e := range enriched {
		if e.IssueID != "" {
			issueIDs = append(issueIDs, e.IssueID)
		}
	}
	membership, err := m.store.GetStackMembership(ctx, issueIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve stack membership: %w", err)
	}
	for _, e := range enriched {
		if ms, ok := membership[e.IssueID]; ok {
			e.StackName = ms.StackName
			e.StackDepth = ms.Depth
		}
	}

	for i, e := range enriched {
		e.Position = i + 1
	}
	return enriched, nil
}

// enrich resolves one entry's issue identity, dependencies, review status,
// and promotion eligibility. A missing execution or issue degrades to an
// unenriched entry rather than failing the whole view.
func (m *Manager) enrich(ctx context.Context, entry *types.QueueEntry, merged map[string]bool) (*types.EnrichedQueueEntry, error) {
	e := &types.EnrichedQueueEntry{QueueEntry: *entry}

	execution, err := m.store.GetExecution(ctx, entry.ExecutionID)
	if err != nil {
		e.BlockedReasons = append(e.BlockedReasons, "execution record missing")
		return e, nil
	}
	e.IssueID = execution.IssueID

	if issue, err := m.store.GetIssue(ctx, execution.IssueID); err == nil {
		e.IssueTitle = issue.Title
	}

	deps, err := m.store.GetDependencyIssueIDs(ctx, execution.IssueID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dependencies for issue %s: %w", execution.IssueID, err)
	}
	sort.Strings(deps)
	e.DependencyIDs = deps

	cp, err := m.store.GetLatestCheckpointForIssue(ctx, execution.IssueID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve checkpoint for issue %s: %w", execution.IssueID, err)
	}
	if cp != nil {
		e.ReviewStatus = cp.ReviewStatus
	}

	e.CanPromote, e.BlockedReasons = promotability(e, merged)
	return e, nil
}

// promotability applies the promotion rule: the checkpoint must be
// approved (or already merged) and every dependency issue must have merged
// work. Reasons are collected rather than short-circuited so the display
// can show everything holding an entry back.
func promotability(e *types.EnrichedQueueEntry, merged map[string]bool) (bool, []string) {
	var reasons []string

	switch e.ReviewStatus {
	case types.ReviewApproved, types.ReviewMerged:
	case "":
		reasons = append(reasons, "no checkpoint recorded")
	default:
		reasons = append(reasons, fmt.Sprintf("review status is %s", e.ReviewStatus))
	}

	for _, dep := range e.DependencyIDs {
		if !merged[dep] {
			reasons = append(reasons, fmt.Sprintf("dependency %s not merged", dep))
		}
	}

	return len(reasons) == 0, reasons
}

// ValidateReorder checks whether the entry may move to newPosition within
// its target branch's queue ordering. Positions are per target branch;
// entries queued for other branches are not part of the numbering. Moving
// an entry ahead of a dependency whose work is not yet merged is rejected;
// the violating issue ids come back in BlockedBy. Moves to a later position
// are always valid.
func (m *Manager) ValidateReorder(ctx context.Context, entryID string, newPosition int) (*types.ReorderValidation, error) {
	raw, err := m.store.GetQueueEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	entries, err := m.GetEnrichedQueue(ctx, types.QueueFilter{TargetBranch: raw.TargetBranch})
	if err != nil {
		return nil, err
	}

	var target *types.EnrichedQueueEntry
	for _, e := range entries {
		if e.ID == entryID {
			target = e
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("queue entry not found: %s", entryID)
	}
	if newPosition < 1 || newPosition > len(entries) {
		return nil, fmt.Errorf("position %d out of range 1..%d", newPosition, len(entries))
	}

	if newPosition >= target.Position {
		return &types.ReorderValidation{Valid: true}, nil
	}

	merged, err := m.store.GetMergedIssueIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve merged issues: %w", err)
	}

	deps := make(map[string]bool, len(target.DependencyIDs))
	for _, dep := range target.DependencyIDs {
		deps[dep] = true
	}

	// Entries the target would jump over. Any of them carrying an
	// unmerged dependency of the target blocks the move.
	var blockedBy []string
	for _, e := range entries {
		if e.Position < newPosition || e.Position >= target.Position {
			continue
		}
		if deps[e.IssueID] && !merged[e.IssueID] {
			blockedBy = append(blockedBy, e.IssueID)
		}
	}
	if len(blockedBy) > 0 {
		return &types.ReorderValidation{Valid: false, BlockedBy: blockedBy}, nil
	}
	return &types.ReorderValidation{Valid: true}, nil
}

// Reorder validates and applies a position change, renumbering the entry's
// target-branch queue to stay contiguous. Other branches' numbering is left
// untouched.
func (m *Manager) Reorder(ctx context.Context, entryID string, newPosition int) (*types.ReorderValidation, error) {
	validation, err := m.ValidateReorder(ctx, entryID, newPosition)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return validation, nil
	}

	raw, err := m.store.GetQueueEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	entries, err := m.store.ListQueueEntries(ctx, types.QueueFilter{TargetBranch: raw.TargetBranch})
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}

	idx := -1
	for i, e := range entries {
		if e.ID == entryID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("queue entry not found: %s", entryID)
	}

	moved := entries[idx]
	entries = append(entries[:idx], entries[idx+1:]...)
	insertAt := newPosition - 1
	if insertAt > len(entries) {
		insertAt = len(entries)
	}
	entries = append(entries[:insertAt], append([]*types.QueueEntry{moved}, entries[insertAt:]...)...)

	for i, e := range entries {
		if e.Position == i+1 {
			continue
		}
		e.Position = i + 1
		if err := m.store.UpdateQueueEntry(ctx, e); err != nil {
			return nil, fmt.Errorf("failed to renumber queue entry %s: %w", e.ID, err)
		}
	}
	return validation, nil
}

// GetQueueStats aggregates over the unfiltered queue regardless of any
// display filter, so totals stay stable while the user narrows the view.
func (m *Manager) GetQueueStats(ctx context.Context) (*types.QueueStats, error) {
	entries, err := m.GetEnrichedQueue(ctx, types.QueueFilter{})
	if err != nil {
		return nil, err
	}

	stats := &types.QueueStats{
		Total:    len(entries),
		ByStatus: make(map[string]int),
		ByStack:  make(map[string]int),
	}
	for _, e := range entries {
		stats.ByStatus[string(e.Status)]++
		stack := e.StackName
		if stack == "" {
			stack = types.StandaloneStackKey
		}
		stats.ByStack[stack]++
	}
	return stats, nil
}

// GetQueueWithStats returns the filtered view alongside unfiltered stats.
func (m *Manager) GetQueueWithStats(ctx context.Context, filter types.QueueFilter) ([]*types.EnrichedQueueEntry, *types.QueueStats, error) {
	entries, err := m.GetEnrichedQueue(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	stats, err := m.GetQueueStats(ctx)
	if err != nil {
		return nil, nil, err
	}
	return entries, stats, nil
}
