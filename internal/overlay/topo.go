package overlay

import (
	"github.com/loom-sh/loom/internal/types"
)

// sortCheckpoints orders checkpoints so that every checkpoint comes after
// the checkpoint that produced its parent commit. Checkpoints whose parents
// are unknown (already merged, or outside the pending set) are roots. Ties
// break on discovery order, which is creation order, so the result is
// deterministic for a given input.
func sortCheckpoints(checkpoints []*types.Checkpoint) []*types.Checkpoint {
	byCommit := make(map[string]*types.Checkpoint, len(checkpoints))
	for _, cp := range checkpoints {
		if cp.CommitSHA != "" {
			byCommit[cp.CommitSHA] = cp
		}
	}

	// children in discovery order
	children := make(map[string][]*types.Checkpoint, len(checkpoints))
	indegree := make(map[string]int, len(checkpoints))
	for _, cp := range checkpoints {
		indegree[cp.ID] = 0
	}
	for _, cp := range checkpoints {
		parent, ok := byCommit[cp.ParentCommit]
		if !ok || parent.ID == cp.ID {
			continue
		}
		children[parent.ID] = append(children[parent.ID], cp)
		indegree[cp.ID]++
	}

	// Kahn's algorithm with a FIFO queue seeded in discovery order.
	var queue []*types.Checkpoint
	for _, cp := range checkpoints {
		if indegree[cp.ID] == 0 {
			queue = append(queue, cp)
		}
	}

	ordered := make([]*types.Checkpoint, 0, len(checkpoints))
	for len(queue) > 0 {
		cp := queue[0]
		queue = queue[1:]
		ordered = append(ordered, cp)
		for _, child := range children[cp.ID] {
			indegree[child.ID]--
			if indegree[child.ID] == 0 {
				queue = append(queue, child)
			}
		}
	}

	// A parent cycle cannot happen with real commits, but a corrupt store
	// must not drop checkpoints: append leftovers in discovery order.
	if len(ordered) < len(checkpoints) {
		seen := make(map[string]bool, len(ordered))
		for _, cp := range ordered {
			seen[cp.ID] = true
		}
		for _, cp := range checkpoints {
			if !seen[cp.ID] {
				ordered = append(ordered, cp)
			}
		}
	}
	return ordered
}
