package usecase

import (
	"context"
	"fmt"

	"github.com/docuflow/review-engine/internal/core/domain"
	"github.com/docuflow/review-engine/internal/core/ports"
)

// ProcessDocumentUseCase drives the worker pipeline: mark the document
// analyzing, call the external analyzer and hand the result to the
// confidence router.
type ProcessDocumentUseCase struct {
	registry ports.DocumentRegistry
	analyzer ports.DocumentAnalyzer
	router   ports.AnalysisRouter
}

func NewProcessDocumentUseCase(
	registry ports.DocumentRegistry,
	analyzer ports.DocumentAnalyzer,
	router ports.AnalysisRouter,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		registry: registry,
		analyzer: analyzer,
		router:   router,
	}
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	err := uc.registry.Transition(ctx, documentID, domain.StateIngested, domain.StateAnalyzing, nil)
	if err != nil {
		proceed, err := uc.resolveRedelivery(ctx, documentID, err)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}

	doc, err := uc.registry.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}

	result, err := uc.analyzer.Analyze(ctx, doc)
	if err != nil {
		// The document stays analyzing; redelivery retries the whole
		// pipeline.
		return fmt.Errorf("analyze document: %w", err)
	}

	if _, err := uc.router.Route(ctx, documentID, result); err != nil {
		return fmt.Errorf("route analysis result: %w", err)
	}
	return nil
}

// resolveRedelivery decides what to do when the ingested->analyzing CAS
// fails. A document already routed is a successful no-op; a document stuck
// analyzing (worker crashed mid-pipeline) is retried.
func (uc *ProcessDocumentUseCase) resolveRedelivery(ctx context.Context, documentID string, cause error) (bool, error) {
	if !domain.IsKind(cause, domain.ErrConflict) {
		return false, fmt.Errorf("mark document analyzing: %w", cause)
	}
	doc, err := uc.registry.GetByID(ctx, documentID)
	if err != nil {
		return false, fmt.Errorf("fetch document after transition conflict: %w", err)
	}
	if doc.State == domain.StateAnalyzing {
		return true, nil
	}
	return false, nil
}
