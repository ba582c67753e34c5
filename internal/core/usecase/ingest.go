package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docuflow/review-engine/internal/core/domain"
	"github.com/docuflow/review-engine/internal/core/ports"
)

type IngestDocumentUseCase struct {
	registry ports.DocumentRegistry
	events   ports.MessageQueue
}

func NewIngestDocumentUseCase(registry ports.DocumentRegistry, events ports.MessageQueue) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{registry: registry, events: events}
}

func (uc *IngestDocumentUseCase) Ingest(ctx context.Context, req ports.IngestRequest) (*domain.Document, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.WrapError(domain.ErrValidation, "ingest document", errors.New("document name is required"))
	}
	if _, err := domain.ParseDocumentType(string(req.Type)); err != nil {
		return nil, err
	}
	uploadedBy := strings.TrimSpace(req.UploadedBy)
	if uploadedBy == "" {
		uploadedBy = "anonymous"
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:         uuid.NewString(),
		Name:       name,
		Type:       req.Type,
		UploadedAt: now,
		UploadedBy: uploadedBy,
		State:      domain.StateIngested,
		History:    []domain.ReviewDecision{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := uc.registry.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document record: %w", err)
	}

	if err := uc.events.PublishAnalysisRequested(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("publish analysis request: %w", err)
	}

	return doc, nil
}
