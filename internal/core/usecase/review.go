package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docuflow/review-engine/internal/core/domain"
	"github.com/docuflow/review-engine/internal/core/ports"
)

// ReviewUseCase serves reviewer clients: claiming the next document,
// releasing a claim and submitting decisions.
type ReviewUseCase struct {
	registry  ports.DocumentRegistry
	queue     ports.ReviewQueue
	decisions ports.DecisionLog
	lease     time.Duration
}

func NewReviewUseCase(
	registry ports.DocumentRegistry,
	queue ports.ReviewQueue,
	decisions ports.DecisionLog,
	lease time.Duration,
) *ReviewUseCase {
	return &ReviewUseCase{
		registry:  registry,
		queue:     queue,
		decisions: decisions,
		lease:     lease,
	}
}

func (uc *ReviewUseCase) ClaimNext(ctx context.Context, reviewerID string) (*domain.Document, error) {
	reviewerID, err := normalizeReviewerID(reviewerID)
	if err != nil {
		return nil, err
	}
	doc, err := uc.queue.ClaimNext(ctx, reviewerID, uc.lease)
	if err != nil {
		return nil, fmt.Errorf("claim next document: %w", err)
	}
	return doc, nil
}

func (uc *ReviewUseCase) Release(ctx context.Context, documentID, reviewerID string) error {
	reviewerID, err := normalizeReviewerID(reviewerID)
	if err != nil {
		return err
	}
	if err := uc.queue.Release(ctx, documentID, reviewerID); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

func (uc *ReviewUseCase) Submit(ctx context.Context, documentID, reviewerID string, action domain.ReviewAction, notes string) (*domain.Document, error) {
	reviewerID, err := normalizeReviewerID(reviewerID)
	if err != nil {
		return nil, err
	}
	to, err := action.TerminalState()
	if err != nil {
		return nil, err
	}

	dec := domain.ReviewDecision{
		DocumentID: documentID,
		ReviewerID: reviewerID,
		Action:     action,
		Notes:      strings.TrimSpace(notes),
		DecidedAt:  time.Now().UTC(),
	}
	if err := uc.decisions.FinalizeReview(ctx, documentID, to, dec); err != nil {
		return nil, fmt.Errorf("finalize review decision: %w", err)
	}

	doc, err := uc.registry.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch finalized document: %w", err)
	}
	return doc, nil
}

func normalizeReviewerID(reviewerID string) (string, error) {
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return "", domain.WrapError(domain.ErrValidation, "check reviewer", errors.New("reviewer id is required"))
	}
	if reviewerID == domain.SystemReviewerID {
		return "", domain.WrapError(domain.ErrValidation, "check reviewer", errors.New("reviewer id is reserved"))
	}
	return reviewerID, nil
}
