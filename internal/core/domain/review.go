package domain

import (
	"fmt"
	"time"
)

// SystemReviewerID marks decisions made automatically by the confidence
// router rather than by a human reviewer.
const SystemReviewerID = "system"

type ReviewAction string

const (
	ActionApproved ReviewAction = "approved"
	ActionRejected ReviewAction = "rejected"
)

// TerminalState maps a review action to the terminal document state it
// produces.
func (a ReviewAction) TerminalState() (DocumentState, error) {
	switch a {
	case ActionApproved:
		return StateApproved, nil
	case ActionRejected:
		return StateRejected, nil
	default:
		return "", WrapError(ErrValidation, "resolve review action", fmt.Errorf("unknown action %q", a))
	}
}

// ReviewDecision is an immutable audit event. Decisions are only ever
// appended, never mutated or deleted.
type ReviewDecision struct {
	DocumentID string       `json:"document_id"`
	ReviewerID string       `json:"reviewer_id"`
	Action     ReviewAction `json:"action"`
	Notes      string       `json:"notes,omitempty"`
	DecidedAt  time.Time    `json:"decided_at"`
}

// DashboardStats is the read-only aggregate served to reporting clients.
type DashboardStats struct {
	TotalDocuments int                   `json:"total_documents"`
	CountsByState  map[DocumentState]int `json:"counts_by_state"`
	QueueSize      int                   `json:"queue_size"`
}
