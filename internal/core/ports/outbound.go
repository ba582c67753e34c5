package ports

import (
	"context"
	"time"

	"github.com/docuflow/review-engine/internal/core/domain"
)

// DocumentRegistry is the single source of truth for document records and
// their lifecycle state.
type DocumentRegistry interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	// Transition is a compare-and-swap on the document state: it fails with
	// ErrConflict when the current state differs from `from`, and with
	// ErrInvalidTransition when the state machine forbids from -> to.
	// mutate, when non-nil, is applied to the document under the same guard.
	Transition(ctx context.Context, id string, from, to domain.DocumentState, mutate func(*domain.Document) error) error
	CountByState(ctx context.Context) (map[domain.DocumentState]int, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Document, error)
}

// ReviewQueue exposes the unclaimed backlog in (uploadedAt, id) order and
// arbitrates exclusive claims. Implementations change queue membership in
// the same transaction as the registry transition entering or leaving
// needs_review, so a document is never simultaneously finalized and
// claimable.
type ReviewQueue interface {
	// Enqueue transitions an analyzing document to needs_review, records
	// the analysis result and inserts the document into the backlog at its
	// (uploadedAt, id) position. Enqueueing an already queued document is
	// a no-op.
	Enqueue(ctx context.Context, documentID string, result domain.AnalysisResult) error
	// ClaimNext returns the earliest unclaimed document, atomically marked
	// claimed by reviewerID for the lease duration. Two concurrent callers
	// never receive the same document. ErrQueueEmpty when nothing is
	// claimable.
	ClaimNext(ctx context.Context, reviewerID string, lease time.Duration) (*domain.Document, error)
	// Release voluntarily returns a claimed document to the unclaimed pool
	// at its original queue position. ErrNotOwner when reviewerID does not
	// hold a live claim.
	Release(ctx context.Context, documentID, reviewerID string) error
	// ExpireClaims releases every claim whose lease lapsed before now and
	// reports how many were released.
	ExpireClaims(ctx context.Context, now time.Time) (int, error)
	// Size counts queued entries, claimed and unclaimed alike.
	Size(ctx context.Context) (int, error)
}

// DecisionLog appends immutable review decisions and finalizes documents.
type DecisionLog interface {
	// FinalizeAuto commits an automatic routing decision: CAS
	// analyzing -> to, stores the analysis result and appends the decision.
	FinalizeAuto(ctx context.Context, documentID string, to domain.DocumentState, result domain.AnalysisResult, dec domain.ReviewDecision) error
	// FinalizeReview commits a reviewer decision: verifies the claim is
	// held, unexpired and owned by the decision's reviewer, CAS
	// needs_review -> to, removes the queue entry and appends the decision,
	// all in one transaction. Fails with ErrNotOwner, ErrClaimExpired or
	// ErrConflict, leaving state untouched.
	FinalizeReview(ctx context.Context, documentID string, to domain.DocumentState, dec domain.ReviewDecision) error
	History(ctx context.Context, documentID string) ([]domain.ReviewDecision, error)
}

// MessageQueue publishes and consumes document lifecycle events.
type MessageQueue interface {
	PublishAnalysisRequested(ctx context.Context, documentID string) error
	SubscribeAnalysisRequested(ctx context.Context, handler func(context.Context, string) error) error
	PublishDocumentRouted(ctx context.Context, documentID string, outcome domain.RoutingOutcome) error
}

// DocumentAnalyzer is the external analysis collaborator.
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, doc *domain.Document) (domain.AnalysisResult, error)
}
