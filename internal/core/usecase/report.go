package usecase

import (
	"context"
	"fmt"

	"github.com/docuflow/review-engine/internal/core/domain"
	"github.com/docuflow/review-engine/internal/core/ports"
)

// ReportUseCase answers dashboard queries. Strictly read-only.
type ReportUseCase struct {
	registry  ports.DocumentRegistry
	queue     ports.ReviewQueue
	decisions ports.DecisionLog
}

func NewReportUseCase(registry ports.DocumentRegistry, queue ports.ReviewQueue, decisions ports.DecisionLog) *ReportUseCase {
	return &ReportUseCase{registry: registry, queue: queue, decisions: decisions}
}

func (uc *ReportUseCase) Stats(ctx context.Context) (*domain.DashboardStats, error) {
	counts, err := uc.registry.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents by state: %w", err)
	}
	size, err := uc.queue.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("measure review queue: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return &domain.DashboardStats{
		TotalDocuments: total,
		CountsByState:  counts,
		QueueSize:      size,
	}, nil
}

func (uc *ReportUseCase) Recent(ctx context.Context, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = 20
	}
	docs, err := uc.registry.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent documents: %w", err)
	}
	return docs, nil
}

func (uc *ReportUseCase) History(ctx context.Context, documentID string) ([]domain.ReviewDecision, error) {
	history, err := uc.decisions.History(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document history: %w", err)
	}
	return history, nil
}

func (uc *ReportUseCase) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := uc.registry.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}
