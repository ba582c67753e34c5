package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/docuflow/review-engine/internal/core/domain"
)

type analyzerFake struct {
	result domain.AnalysisResult
	err    error
	calls  int
}

func (f *analyzerFake) Analyze(context.Context, *domain.Document) (domain.AnalysisResult, error) {
	f.calls++
	if f.err != nil {
		return domain.AnalysisResult{}, f.err
	}
	return f.result, nil
}

type routerFake struct {
	outcome domain.RoutingOutcome
	err     error
	routed  []string
}

func (f *routerFake) Route(_ context.Context, documentID string, _ domain.AnalysisResult) (domain.RoutingOutcome, error) {
	if f.err != nil {
		return "", f.err
	}
	f.routed = append(f.routed, documentID)
	return f.outcome, nil
}

func TestProcessByIDRunsPipeline(t *testing.T) {
	registry := &routeRegistryFake{doc: &domain.Document{ID: "doc-1", State: domain.StateIngested}}
	analyzer := &analyzerFake{result: analysisResult(0.95)}
	router := &routerFake{outcome: domain.OutcomeAutoApprove}
	uc := NewProcessDocumentUseCase(registry, analyzer, router)

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if registry.doc.State != domain.StateAnalyzing {
		t.Fatalf("expected analyzing state, got %s", registry.doc.State)
	}
	if analyzer.calls != 1 || len(router.routed) != 1 {
		t.Fatalf("expected analyze+route once, got %d/%d", analyzer.calls, len(router.routed))
	}
}

func TestProcessByIDIgnoresRedeliveryAfterRouting(t *testing.T) {
	registry := &routeRegistryFake{doc: &domain.Document{ID: "doc-1", State: domain.StateNeedsReview}}
	analyzer := &analyzerFake{}
	uc := NewProcessDocumentUseCase(registry, analyzer, &routerFake{})

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("redelivery should be a no-op, got %v", err)
	}
	if analyzer.calls != 0 {
		t.Fatalf("redelivered document must not be re-analyzed")
	}
}

func TestProcessByIDResumesStuckAnalysis(t *testing.T) {
	registry := &routeRegistryFake{doc: &domain.Document{ID: "doc-1", State: domain.StateAnalyzing}}
	analyzer := &analyzerFake{result: analysisResult(0.2)}
	router := &routerFake{outcome: domain.OutcomeAutoReject}
	uc := NewProcessDocumentUseCase(registry, analyzer, router)

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if analyzer.calls != 1 {
		t.Fatalf("stuck analyzing document should be retried")
	}
}

func TestProcessByIDPropagatesAnalyzerError(t *testing.T) {
	registry := &routeRegistryFake{doc: &domain.Document{ID: "doc-1", State: domain.StateIngested}}
	uc := NewProcessDocumentUseCase(registry, &analyzerFake{err: errors.New("vision service down")}, &routerFake{})

	if err := uc.ProcessByID(context.Background(), "doc-1"); err == nil {
		t.Fatalf("expected analyzer error")
	}
	if registry.doc.State != domain.StateAnalyzing {
		t.Fatalf("document should stay analyzing for redelivery, got %s", registry.doc.State)
	}
}
