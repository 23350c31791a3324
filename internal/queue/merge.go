package queue

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/loom-sh/loom/internal/events"
	"github.com/loom-sh/loom/internal/gitops"
	"github.com/loom-sh/loom/internal/storage"
	"github.com/loom-sh/loom/internal/types"
	"github.com/loom-sh/loom/internal/vcs"
)

// Processor promotes eligible queue entries and lands their work on the
// target branch. All merges execute in the primary checkout, one entry at
// a time, so target branches never see concurrent writes.
type Processor struct {
	store    storage.Storage
	runner   vcs.Runner
	repoRoot string
	manager  *Manager
}

// NewProcessor creates a merge processor rooted at the primary checkout.
func NewProcessor(store storage.Storage, runner vcs.Runner, repoRoot string) *Processor {
	return &Processor{
		store:    store,
		runner:   runner,
		repoRoot: repoRoot,
		manager:  NewManager(store),
	}
}

// ProcessNext merges the first promotable entry, in queue order. Returns
// the entry it acted on, or nil when nothing is promotable.
func (p *Processor) ProcessNext(ctx context.Context) (*types.EnrichedQueueEntry, error) {
	entries, err := p.manager.GetEnrichedQueue(ctx, types.QueueFilter{})
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.Status != types.QueuePending && entry.Status != types.QueueReady {
			continue
		}
		if !entry.CanPromote {
			continue
		}
		if err := p.merge(ctx, entry); err != nil {
			return entry, err
		}
		return entry, nil
	}
	return nil, nil
}

// Promote merges one specific entry regardless of its position, provided
// it is eligible.
func (p *Processor) Promote(ctx context.Context, entryID string) error {
	entries, err := p.manager.GetEnrichedQueue(ctx, types.QueueFilter{})
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.ID != entryID {
			continue
		}
		if !entry.CanPromote {
			return fmt.Errorf("entry %s is not promotable: %s", entryID, strings.Join(entry.BlockedReasons, "; "))
		}
		return p.merge(ctx, entry)
	}
	return fmt.Errorf("queue entry not found: %s", entryID)
}

// merge lands one entry: advisory conflict pre-check, safety tag, checkout
// of the target, squash merge of the stream branch, then bookkeeping. A
// merge conflict fails the entry with its conflicting files recorded; any
// partial merge state is already aborted by the sync layer.
func (p *Processor) merge(ctx context.Context, entry *types.EnrichedQueueEntry) error {
	ops := gitops.New(p.runner, p.repoRoot)

	if !ops.IsWorkingTreeClean(ctx) {
		return fmt.Errorf("refusing to merge: working tree at %s is not clean", p.repoRoot)
	}

	entry.Status = types.QueueMerging
	if err := p.store.UpdateQueueEntry(ctx, &entry.QueueEntry); err != nil {
		return fmt.Errorf("failed to mark entry merging: %w", err)
	}
	p.emit(ctx, events.EventQueuePromoted, events.SeverityInfo, entry,
		fmt.Sprintf("promoted %s for merge into %s", entry.StreamID, entry.TargetBranch))

	// Advisory only: overlapping files flag likely conflicts but never
	// block the attempt.
	if check, err := ops.CheckMergeConflicts(ctx, entry.StreamID, entry.TargetBranch); err == nil && check.HasConflicts {
		p.emit(ctx, events.EventConflictDetected, events.SeverityWarning, entry,
			fmt.Sprintf("%d overlapping file(s) between %s and %s: %s",
				len(check.Files), entry.StreamID, entry.TargetBranch,
				strings.Join(check.Files, ", ")))
	}

	if _, err := p.runner.Run(ctx, p.repoRoot, "checkout", entry.TargetBranch); err != nil {
		return p.failEntry(ctx, entry, fmt.Errorf("failed to checkout %s: %w", entry.TargetBranch, err))
	}

	tag := fmt.Sprintf("loom-premerge-%s-%d", shortID(entry.ID), time.Now().Unix())
	if err := ops.CreateSafetyTag(ctx, tag, "HEAD"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to create safety tag: %v\n", err)
		tag = ""
	}

	message := fmt.Sprintf("Merge %s into %s", entry.StreamID, entry.TargetBranch)
	if entry.IssueTitle != "" {
		message = fmt.Sprintf("%s (%s)", entry.IssueTitle, entry.IssueID)
	}

	result, err := ops.MergeBranch(ctx, entry.StreamID, gitops.MergeOptions{Squash: true, Message: message})
	if err != nil {
		if tag != "" {
			if rbErr := ops.RollbackToTag(ctx, tag); rbErr != nil {
				fmt.Fprintf(os.Stderr, "warning: rollback to %s failed: %v\n", tag, rbErr)
			}
		}
		return p.failEntry(ctx, entry, fmt.Errorf("merge failed: %w", err))
	}
	if !result.Merged {
		entry.Error = fmt.Sprintf("merge conflicts in: %s", strings.Join(result.ConflictingFiles, ", "))
		entry.Status = types.QueueFailed
		if err := p.store.UpdateQueueEntry(ctx, &entry.QueueEntry); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to record conflict on entry %s: %v\n", entry.ID, err)
		}
		p.emit(ctx, events.EventQueueMergeFailed, events.SeverityError, entry, entry.Error)
		return nil
	}

	entry.Status = types.QueueMerged
	entry.MergeCommit = result.Commit
	if err := p.store.UpdateQueueEntry(ctx, &entry.QueueEntry); err != nil {
		return fmt.Errorf("failed to record merge on entry %s: %w", entry.ID, err)
	}

	if cp, err := p.store.GetLatestCheckpointForIssue(ctx, entry.IssueID); err == nil && cp != nil {
		if cp.ReviewStatus == types.ReviewApproved {
			if err := p.store.UpdateCheckpointReviewStatus(ctx, cp.ID, types.ReviewMerged); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to mark checkpoint %s merged: %v\n", cp.ID, err)
			}
		}
	}

	p.emit(ctx, events.EventQueueMerged, events.SeverityInfo, entry,
		fmt.Sprintf("merged %s into %s as %s", entry.StreamID, entry.TargetBranch, shortSHA(result.Commit)))
	return nil
}

func (p *Processor) failEntry(ctx context.Context, entry *types.EnrichedQueueEntry, cause error) error {
	entry.Status = types.QueueFailed
	entry.Error = cause.Error()
	if err := p.store.UpdateQueueEntry(ctx, &entry.QueueEntry); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record failure on entry %s: %v\n", entry.ID, err)
	}
	p.emit(ctx, events.EventQueueMergeFailed, events.SeverityError, entry, cause.Error())
	return cause
}

func (p *Processor) emit(ctx context.Context, eventType events.EventType, severity events.Severity, entry *types.EnrichedQueueEntry, message string) {
	event, err := events.New(eventType, severity, entry.IssueID, entry.ExecutionID, message, nil)
	if err != nil {
		return
	}
	if err := p.store.AddEvent(ctx, event); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record event: %v\n", err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
