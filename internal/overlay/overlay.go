// Package overlay projects the issue and spec state that would exist if
// every pending checkpoint were applied. The projection is read-only: it
// replays checkpoint snapshots over the persisted base state without
// touching storage, so reviewers see the combined effect of in-flight work
// before anything merges.
package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/loom-sh/loom/internal/events"
	"github.com/loom-sh/loom/internal/storage"
	"github.com/loom-sh/loom/internal/types"
)

// Decoration keys added to projected entities. The underscore prefix keeps
// them clear of real entity fields.
const (
	keyProjected   = "_isProjected"
	keyChangeType  = "_changeType"
	keyAttribution = "_attribution"
)

// Attribution records which stream produced a projected entity.
type Attribution struct {
	StreamID     string `json:"streamId"`
	ExecutionID  string `json:"executionId"`
	CheckpointID string `json:"checkpointId"`
	WorktreePath string `json:"worktreePath,omitempty"`
	BranchName   string `json:"branchName,omitempty"`
}

// Skip explains why one checkpoint was excluded from the overlay.
type Skip struct {
	CheckpointID string `json:"checkpointId"`
	Reason       string `json:"reason"`
}

// Entity is a projected entity: the raw fields plus decoration keys for
// projected ones.
type Entity map[string]interface{}

// Result is a computed overlay.
type Result struct {
	Issues          []Entity `json:"issues"`
	Specs           []Entity `json:"specs"`
	ProjectedIssues int      `json:"projectedIssues"`
	ProjectedSpecs  int      `json:"projectedSpecs"`
	Checkpoints     int      `json:"checkpoints"`
	Skipped         []Skip   `json:"skipped,omitempty"`
}

// Engine computes overlays from storage.
type Engine struct {
	store storage.Storage
}

// NewEngine creates an overlay engine.
func NewEngine(store storage.Storage) *Engine {
	return &Engine{store: store}
}

// Compute builds the overlay: base state seeded from persisted issues and
// specs, then pending and approved checkpoints replayed in topological
// order. A checkpoint whose snapshots cannot be parsed is skipped whole,
// with its reason reported; the rest of the overlay still applies.
func (e *Engine) Compute(ctx context.Context) (*Result, error) {
	checkpoints, err := e.loadCheckpoints(ctx)
	if err != nil {
		return nil, err
	}

	issues, err := e.baseIssues(ctx)
	if err != nil {
		return nil, err
	}
	specs, err := e.baseSpecs(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{Checkpoints: len(checkpoints)}
	issueOrder := keysInOrder(issues)
	specOrder := keysInOrder(specs)

	for _, cp := range sortCheckpoints(checkpoints) {
		issueEntries, err := parseSnapshotField(cp.IssueSnapshot)
		if err != nil {
			result.Skipped = append(result.Skipped, e.skip(ctx, cp, fmt.Sprintf("issue snapshot: %v", err)))
			continue
		}
		specEntries, err := parseSnapshotField(cp.SpecSnapshot)
		if err != nil {
			result.Skipped = append(result.Skipped, e.skip(ctx, cp, fmt.Sprintf("spec snapshot: %v", err)))
			continue
		}

		attribution := e.attributionFor(ctx, cp)
		issueOrder.apply(issues, issueEntries, attribution)
		specOrder.apply(specs, specEntries, attribution)
	}

	for _, id := range *issueOrder {
		entity := issues[id]
		result.Issues = append(result.Issues, entity)
		if projected, _ := entity[keyProjected].(bool); projected {
			result.ProjectedIssues++
		}
	}
	for _, id := range *specOrder {
		entity := specs[id]
		result.Specs = append(result.Specs, entity)
		if projected, _ := entity[keyProjected].(bool); projected {
			result.ProjectedSpecs++
		}
	}
	return result, nil
}

// skip records the skipped checkpoint in the activity trail and returns the
// entry for the overlay result. A failed event write only warns; the
// projection itself is unaffected.
func (e *Engine) skip(ctx context.Context, cp *types.Checkpoint, reason string) Skip {
	event, err := events.New(events.EventCheckpointSkipped, events.SeverityWarning,
		cp.IssueID, cp.ExecutionID,
		fmt.Sprintf("checkpoint %s skipped: %s", cp.ID, reason),
		map[string]interface{}{"checkpoint_id": cp.ID})
	if err == nil {
		if err := e.store.AddEvent(ctx, event); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to record event: %v\n", err)
		}
	}
	return Skip{CheckpointID: cp.ID, Reason: reason}
}

// loadCheckpoints gathers the un-merged review pipeline: pending plus
// approved. Rejected and merged checkpoints are not part of the projection.
func (e *Engine) loadCheckpoints(ctx context.Context) ([]*types.Checkpoint, error) {
	pending, err := e.store.ListCheckpoints(ctx, types.ReviewPending)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending checkpoints: %w", err)
	}
	approved, err := e.store.ListCheckpoints(ctx, types.ReviewApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to load approved checkpoints: %w", err)
	}
	return append(pending, approved...), nil
}

func (e *Engine) baseIssues(ctx context.Context) (map[string]Entity, error) {
	list, err := e.store.ListIssues(ctx, types.IssueFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load issues: %w", err)
	}
	base := make(map[string]Entity, len(list))
	for _, issue := range list {
		entity, err := toEntity(issue)
		if err != nil {
			return nil, err
		}
		base[issue.ID] = entity
	}
	return base, nil
}

func (e *Engine) baseSpecs(ctx context.Context) (map[string]Entity, error) {
	list, err := e.store.ListSpecs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load specs: %w", err)
	}
	base := make(map[string]Entity, len(list))
	for _, spec := range list {
		entity, err := toEntity(spec)
		if err != nil {
			return nil, err
		}
		base[spec.ID] = entity
	}
	return base, nil
}

// attributionFor resolves worktree details from the checkpoint's execution.
// A missing execution record degrades to checkpoint-only attribution.
func (e *Engine) attributionFor(ctx context.Context, cp *types.Checkpoint) Attribution {
	attribution := Attribution{
		StreamID:     cp.StreamID,
		ExecutionID:  cp.ExecutionID,
		CheckpointID: cp.ID,
	}
	if execution, err := e.store.GetExecution(ctx, cp.ExecutionID); err == nil {
		attribution.WorktreePath = execution.WorktreePath
		attribution.BranchName = execution.BranchName
	}
	return attribution
}

// order tracks first-seen entity ids so output ordering is stable: base
// entities first in listing order, then projected creations in replay
// order.
type order []string

func keysInOrder(base map[string]Entity) *order {
	o := make(order, 0, len(base))
	for id := range base {
		o = append(o, id)
	}
	sort.Strings(o)
	return &o
}

// apply replays one snapshot's entries over the entity set. A modified
// entry whose target does not exist is applied as a creation, so streams
// editing each other's unmerged entities still project.
func (o *order) apply(entities map[string]Entity, entries []types.SnapshotEntry, attribution Attribution) {
	for _, entry := range entries {
		existing, exists := entities[entry.ID]

		switch entry.ChangeType {
		case types.ChangeDeleted:
			if !exists {
				continue
			}
			existing["archived"] = true
			decorate(existing, types.ChangeDeleted, attribution)

		case types.ChangeCreated, types.ChangeModified:
			entity := decodeEntity(entry.Entity)
			if entity == nil {
				continue
			}
			entity["id"] = entry.ID

			changeType := entry.ChangeType
			if !exists {
				changeType = types.ChangeCreated
				*o = append(*o, entry.ID)
			} else if entry.ChangeType == types.ChangeModified {
				// Merge onto the existing entity, keeping fields the
				// snapshot did not touch.
				merged := make(Entity, len(existing)+len(entity))
				for k, v := range existing {
					merged[k] = v
				}
				for k, v := range entity {
					merged[k] = v
				}
				entity = merged
			}
			decorate(entity, changeType, attribution)
			entities[entry.ID] = entity
		}
	}
}

func decorate(entity Entity, changeType types.ChangeType, attribution Attribution) {
	entity[keyProjected] = true
	entity[keyChangeType] = string(changeType)
	entity[keyAttribution] = attribution
}

func decodeEntity(raw json.RawMessage) Entity {
	if len(raw) == 0 {
		return nil
	}
	var entity Entity
	if err := json.Unmarshal(raw, &entity); err != nil {
		return nil
	}
	return entity
}

func toEntity(v interface{}) (Entity, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize base entity: %w", err)
	}
	var entity Entity
	if err := json.Unmarshal(raw, &entity); err != nil {
		return nil, fmt.Errorf("failed to decode base entity: %w", err)
	}
	return entity, nil
}

// parseSnapshotField treats an empty field as an empty change-list.
func parseSnapshotField(raw string) ([]types.SnapshotEntry, error) {
	if raw == "" {
		return nil, nil
	}
	return types.ParseSnapshot(raw)
}
