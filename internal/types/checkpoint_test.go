package types

import (
	"testing"
)

func TestReviewStatusTransitions(t *testing.T) {
	tests := []struct {
		from    ReviewStatus
		to      ReviewStatus
		allowed bool
	}{
		{ReviewPending, ReviewApproved, true},
		{ReviewPending, ReviewRejected, true},
		{ReviewPending, ReviewMerged, false},
		{ReviewApproved, ReviewMerged, true},
		{ReviewApproved, ReviewRejected, true},
		{ReviewApproved, ReviewPending, false},
		{ReviewRejected, ReviewApproved, false},
		{ReviewRejected, ReviewMerged, false},
		{ReviewMerged, ReviewApproved, false},
		{ReviewMerged, ReviewPending, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestParseSnapshot(t *testing.T) {
	raw := `[
		{"id": "i-1", "changeType": "created", "entity": {"id": "i-1", "title": "New"}},
		{"id": "i-2", "changeType": "modified", "entity": {"id": "i-2", "title": "Edited"}},
		{"id": "i-3", "changeType": "deleted"}
	]`

	entries, err := ParseSnapshot(raw)
	if err != nil {
		t.Fatalf("ParseSnapshot failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ChangeType != ChangeCreated {
		t.Errorf("expected created, got %s", entries[0].ChangeType)
	}
	if entries[2].ChangeType != ChangeDeleted {
		t.Errorf("expected deleted, got %s", entries[2].ChangeType)
	}
	if len(entries[2].Entity) != 0 {
		t.Errorf("deletion should carry no entity, got %s", entries[2].Entity)
	}
}

func TestParseSnapshotRejectsMissingID(t *testing.T) {
	_, err := ParseSnapshot(`[{"changeType": "created", "entity": {}}]`)
	if err == nil {
		t.Fatal("expected error for entry without id")
	}
}

func TestParseSnapshotRejectsUnknownChangeType(t *testing.T) {
	_, err := ParseSnapshot(`[{"id": "i-1", "changeType": "renamed"}]`)
	if err == nil {
		t.Fatal("expected error for unknown change type")
	}
}

func TestParseSnapshotRejectsMalformedJSON(t *testing.T) {
	_, err := ParseSnapshot(`[{"id": "i-1"`)
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestCheckpointValidate(t *testing.T) {
	cp := &Checkpoint{
		ID:           "cp-1",
		ExecutionID:  "exec-1",
		StreamID:     "loom/exec-1",
		ReviewStatus: ReviewPending,
	}
	if err := cp.Validate(); err != nil {
		t.Errorf("valid checkpoint rejected: %v", err)
	}

	cp.ExecutionID = ""
	if err := cp.Validate(); err == nil {
		t.Error("expected error for missing execution id")
	}
}
