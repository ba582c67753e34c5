package ports

import (
	"context"

	"github.com/docuflow/review-engine/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document registration.
type DocumentIngestor interface {
	Ingest(ctx context.Context, req IngestRequest) (*domain.Document, error)
}

type IngestRequest struct {
	Name       string
	Type       domain.DocumentType
	UploadedBy string
}

// AnalysisRouter routes a completed analysis result. It tolerates
// at-least-once delivery: routing a result for an already finalized
// document is a successful no-op.
type AnalysisRouter interface {
	Route(ctx context.Context, documentID string, result domain.AnalysisResult) (domain.RoutingOutcome, error)
}

// DocumentProcessor drives the asynchronous analyze-then-route pipeline.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// ReviewService is the inbound contract for reviewer clients.
type ReviewService interface {
	ClaimNext(ctx context.Context, reviewerID string) (*domain.Document, error)
	Release(ctx context.Context, documentID, reviewerID string) error
	Submit(ctx context.Context, documentID, reviewerID string, action domain.ReviewAction, notes string) (*domain.Document, error)
}

// ReviewReporter serves read-only dashboard queries. It never mutates
// state.
type ReviewReporter interface {
	Stats(ctx context.Context) (*domain.DashboardStats, error)
	Recent(ctx context.Context, limit int) ([]domain.Document, error)
	History(ctx context.Context, documentID string) ([]domain.ReviewDecision, error)
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}
