package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/docuflow/review-engine/internal/core/domain"
)

type reviewQueueFake struct {
	claimed      *domain.Document
	claimErr     error
	lastReviewer string
	lastLease    time.Duration
	released     []string
	releaseErr   error
}

func (f *reviewQueueFake) Enqueue(context.Context, string, domain.AnalysisResult) error { return nil }

func (f *reviewQueueFake) ClaimNext(_ context.Context, reviewerID string, lease time.Duration) (*domain.Document, error) {
	f.lastReviewer = reviewerID
	f.lastLease = lease
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.claimed, nil
}

func (f *reviewQueueFake) Release(_ context.Context, documentID, _ string) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.released = append(f.released, documentID)
	return nil
}

func (f *reviewQueueFake) ExpireClaims(context.Context, time.Time) (int, error) { return 0, nil }

func (f *reviewQueueFake) Size(context.Context) (int, error) { return 0, nil }

type reviewDecisionsFake struct {
	finalized   []domain.ReviewDecision
	finalizeErr error
}

func (f *reviewDecisionsFake) FinalizeAuto(context.Context, string, domain.DocumentState, domain.AnalysisResult, domain.ReviewDecision) error {
	return nil
}

func (f *reviewDecisionsFake) FinalizeReview(_ context.Context, _ string, _ domain.DocumentState, dec domain.ReviewDecision) error {
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	f.finalized = append(f.finalized, dec)
	return nil
}

func (f *reviewDecisionsFake) History(context.Context, string) ([]domain.ReviewDecision, error) {
	return nil, nil
}

func TestClaimNextPassesLease(t *testing.T) {
	queue := &reviewQueueFake{claimed: &domain.Document{ID: "doc-1"}}
	uc := NewReviewUseCase(&routeRegistryFake{}, queue, &reviewDecisionsFake{}, 15*time.Minute)

	doc, err := uc.ClaimNext(context.Background(), " alice ")
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if doc.ID != "doc-1" {
		t.Fatalf("unexpected document %s", doc.ID)
	}
	if queue.lastReviewer != "alice" || queue.lastLease != 15*time.Minute {
		t.Fatalf("expected trimmed reviewer and configured lease, got %q/%v", queue.lastReviewer, queue.lastLease)
	}
}

func TestClaimNextRejectsBlankReviewer(t *testing.T) {
	uc := NewReviewUseCase(&routeRegistryFake{}, &reviewQueueFake{}, &reviewDecisionsFake{}, time.Minute)

	if _, err := uc.ClaimNext(context.Background(), "   "); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestClaimNextRejectsSystemReviewer(t *testing.T) {
	uc := NewReviewUseCase(&routeRegistryFake{}, &reviewQueueFake{}, &reviewDecisionsFake{}, time.Minute)

	if _, err := uc.ClaimNext(context.Background(), domain.SystemReviewerID); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for reserved reviewer id, got %v", err)
	}
}

func TestClaimNextPropagatesEmptyQueue(t *testing.T) {
	queue := &reviewQueueFake{claimErr: domain.WrapError(domain.ErrQueueEmpty, "claim", domain.ErrQueueEmpty)}
	uc := NewReviewUseCase(&routeRegistryFake{}, queue, &reviewDecisionsFake{}, time.Minute)

	if _, err := uc.ClaimNext(context.Background(), "alice"); !domain.IsKind(err, domain.ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestSubmitRecordsDecision(t *testing.T) {
	registry := &routeRegistryFake{doc: &domain.Document{ID: "doc-1", State: domain.StateApproved}}
	decisions := &reviewDecisionsFake{}
	uc := NewReviewUseCase(registry, &reviewQueueFake{}, decisions, time.Minute)

	doc, err := uc.Submit(context.Background(), "doc-1", "alice", domain.ActionApproved, "  looks fine  ")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if doc.ID != "doc-1" {
		t.Fatalf("expected finalized document back, got %+v", doc)
	}
	if len(decisions.finalized) != 1 {
		t.Fatalf("expected one finalized decision")
	}
	dec := decisions.finalized[0]
	if dec.ReviewerID != "alice" || dec.Action != domain.ActionApproved || dec.Notes != "looks fine" {
		t.Fatalf("unexpected decision %+v", dec)
	}
}

func TestSubmitRejectsUnknownAction(t *testing.T) {
	uc := NewReviewUseCase(&routeRegistryFake{}, &reviewQueueFake{}, &reviewDecisionsFake{}, time.Minute)

	if _, err := uc.Submit(context.Background(), "doc-1", "alice", "escalate", ""); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSubmitPropagatesClaimErrors(t *testing.T) {
	for _, kind := range []error{domain.ErrNotOwner, domain.ErrClaimExpired, domain.ErrConflict} {
		decisions := &reviewDecisionsFake{finalizeErr: domain.WrapError(kind, "finalize", kind)}
		uc := NewReviewUseCase(&routeRegistryFake{}, &reviewQueueFake{}, decisions, time.Minute)

		if _, err := uc.Submit(context.Background(), "doc-1", "alice", domain.ActionRejected, ""); !domain.IsKind(err, kind) {
			t.Fatalf("expected %v, got %v", kind, err)
		}
	}
}

func TestReleaseDelegates(t *testing.T) {
	queue := &reviewQueueFake{}
	uc := NewReviewUseCase(&routeRegistryFake{}, queue, &reviewDecisionsFake{}, time.Minute)

	if err := uc.Release(context.Background(), "doc-1", "alice"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if len(queue.released) != 1 || queue.released[0] != "doc-1" {
		t.Fatalf("expected doc-1 released, got %v", queue.released)
	}
}
