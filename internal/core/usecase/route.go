package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docuflow/review-engine/internal/core/domain"
	"github.com/docuflow/review-engine/internal/core/ports"
)

// RouteAnalysisUseCase is the confidence router. Apart from finalizing or
// enqueueing the document it is pure, and it is idempotent: routing a
// result for an already finalized document reports success without side
// effects, which supports at-least-once delivery from the analysis
// collaborator.
type RouteAnalysisUseCase struct {
	registry  ports.DocumentRegistry
	queue     ports.ReviewQueue
	decisions ports.DecisionLog
	events    ports.MessageQueue
	policy    domain.ReviewPolicy
}

func NewRouteAnalysisUseCase(
	registry ports.DocumentRegistry,
	queue ports.ReviewQueue,
	decisions ports.DecisionLog,
	events ports.MessageQueue,
	policy domain.ReviewPolicy,
) *RouteAnalysisUseCase {
	return &RouteAnalysisUseCase{
		registry:  registry,
		queue:     queue,
		decisions: decisions,
		events:    events,
		policy:    policy,
	}
}

func (uc *RouteAnalysisUseCase) Route(ctx context.Context, documentID string, result domain.AnalysisResult) (domain.RoutingOutcome, error) {
	if err := result.Validate(); err != nil {
		return "", err
	}

	doc, err := uc.registry.GetByID(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("fetch document for routing: %w", err)
	}

	outcome := uc.policy.For(doc.Type).Route(result.Confidence)

	// Redelivered result for a finalized document: report success, touch
	// nothing.
	if doc.State.Terminal() {
		return outcome, nil
	}

	// The push-style callback can arrive before anything marked the
	// document analyzing.
	if doc.State == domain.StateIngested {
		err := uc.registry.Transition(ctx, documentID, domain.StateIngested, domain.StateAnalyzing, nil)
		if err != nil && !domain.IsKind(err, domain.ErrConflict) {
			return "", fmt.Errorf("mark document analyzing: %w", err)
		}
	}

	switch outcome {
	case domain.OutcomeAutoApprove, domain.OutcomeAutoReject:
		to := domain.StateApproved
		action := domain.ActionApproved
		if outcome == domain.OutcomeAutoReject {
			to = domain.StateRejected
			action = domain.ActionRejected
		}
		dec := domain.ReviewDecision{
			DocumentID: documentID,
			ReviewerID: domain.SystemReviewerID,
			Action:     action,
			Notes:      fmt.Sprintf("confidence %.3f (model %s)", result.Confidence, result.ModelVersion),
			DecidedAt:  time.Now().UTC(),
		}
		if err := uc.decisions.FinalizeAuto(ctx, documentID, to, result, dec); err != nil {
			if resolved, ok := uc.lostRaceToFinal(ctx, documentID, err); ok {
				return resolved, nil
			}
			return "", fmt.Errorf("finalize automatic decision: %w", err)
		}
	case domain.OutcomeNeedsReview:
		if err := uc.queue.Enqueue(ctx, documentID, result); err != nil {
			if resolved, ok := uc.lostRaceToFinal(ctx, documentID, err); ok {
				return resolved, nil
			}
			return "", fmt.Errorf("enqueue for review: %w", err)
		}
	}

	uc.notifyRouted(ctx, documentID, outcome)
	return outcome, nil
}

// lostRaceToFinal absorbs CAS conflicts caused by a concurrent duplicate
// delivery that already finalized the document.
func (uc *RouteAnalysisUseCase) lostRaceToFinal(ctx context.Context, documentID string, cause error) (domain.RoutingOutcome, bool) {
	if !domain.IsKind(cause, domain.ErrConflict) {
		return "", false
	}
	doc, err := uc.registry.GetByID(ctx, documentID)
	if err != nil {
		return "", false
	}
	switch doc.State {
	case domain.StateApproved:
		return domain.OutcomeAutoApprove, true
	case domain.StateRejected:
		return domain.OutcomeAutoReject, true
	case domain.StateNeedsReview:
		return domain.OutcomeNeedsReview, true
	default:
		return "", false
	}
}

// Routed notifications are best effort: dashboards poll anyway.
func (uc *RouteAnalysisUseCase) notifyRouted(ctx context.Context, documentID string, outcome domain.RoutingOutcome) {
	if err := uc.events.PublishDocumentRouted(ctx, documentID, outcome); err != nil {
		slog.Warn("routed_event_publish_failed", "document_id", documentID, "outcome", outcome, "error", err)
	}
}
