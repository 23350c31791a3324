package types

import (
	"fmt"
	"time"
)

// Spec is a design document attached to the backlog. Specs move through the
// same checkpoint/overlay pipeline as issues but carry no scheduling state.
type Spec struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	IssueID   string    `json:"issue_id,omitempty"`
	Archived  bool      `json:"archived,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the spec has valid field values
func (s *Spec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}
