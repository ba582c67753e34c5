package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/docuflow/review-engine/internal/core/domain"
	"github.com/docuflow/review-engine/internal/core/ports"
	"github.com/docuflow/review-engine/internal/infrastructure/registry/memory"
)

// The scenario tests run the full engine against the in-memory store:
// ingest, route, claim, decide, report. No fakes except the event bus.

type engineFixture struct {
	store   *memory.Store
	ingest  *IngestDocumentUseCase
	route   *RouteAnalysisUseCase
	review  *ReviewUseCase
	report  *ReportUseCase
	events  *eventsFake
	current *time.Time
}

func newEngineFixture(t *testing.T, lease time.Duration) *engineFixture {
	t.Helper()
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := memory.NewStoreWithClock(func() time.Time { return current })
	events := &eventsFake{}
	policy := domain.ReviewPolicy{Default: domain.Thresholds{High: 0.9, Low: 0.5}}
	return &engineFixture{
		store:   store,
		ingest:  NewIngestDocumentUseCase(store, events),
		route:   NewRouteAnalysisUseCase(store, store, store, events, policy),
		review:  NewReviewUseCase(store, store, store, lease),
		report:  NewReportUseCase(store, store, store),
		events:  events,
		current: &current,
	}
}

func (f *engineFixture) advance(d time.Duration) { *f.current = f.current.Add(d) }

func (f *engineFixture) ingestDocument(t *testing.T, name string) string {
	t.Helper()
	doc, err := f.ingest.Ingest(context.Background(), ports.IngestRequest{
		Name:       name,
		Type:       domain.TypeInvoice,
		UploadedBy: "uploader",
	})
	if err != nil {
		t.Fatalf("Ingest(%s) error = %v", name, err)
	}
	return doc.ID
}

func TestScenarioAutoDecisionsSkipReviewers(t *testing.T) {
	f := newEngineFixture(t, 15*time.Minute)
	ctx := context.Background()

	approved := f.ingestDocument(t, "clean.pdf")
	rejected := f.ingestDocument(t, "garbage.pdf")

	if _, err := f.route.Route(ctx, approved, analysisResult(0.97)); err != nil {
		t.Fatalf("Route(high) error = %v", err)
	}
	if _, err := f.route.Route(ctx, rejected, analysisResult(0.12)); err != nil {
		t.Fatalf("Route(low) error = %v", err)
	}

	for id, want := range map[string]domain.DocumentState{
		approved: domain.StateApproved,
		rejected: domain.StateRejected,
	} {
		doc, err := f.report.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID(%s) error = %v", id, err)
		}
		if doc.State != want {
			t.Fatalf("document %s = %s, want %s", id, doc.State, want)
		}
		if len(doc.History) != 1 || doc.History[0].ReviewerID != domain.SystemReviewerID {
			t.Fatalf("expected single system decision for %s, got %+v", id, doc.History)
		}
	}

	stats, err := f.report.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.QueueSize != 0 {
		t.Fatalf("auto-decided documents must not reach the queue, size=%d", stats.QueueSize)
	}
	if _, err := f.review.ClaimNext(ctx, "alice"); !domain.IsKind(err, domain.ErrQueueEmpty) {
		t.Fatalf("expected empty queue, got %v", err)
	}
}

func TestScenarioManualReviewLifecycle(t *testing.T) {
	f := newEngineFixture(t, 15*time.Minute)
	ctx := context.Background()

	first := f.ingestDocument(t, "first.pdf")
	f.advance(time.Second)
	second := f.ingestDocument(t, "second.pdf")

	if _, err := f.route.Route(ctx, first, analysisResult(0.6)); err != nil {
		t.Fatalf("Route(first) error = %v", err)
	}
	if _, err := f.route.Route(ctx, second, analysisResult(0.7)); err != nil {
		t.Fatalf("Route(second) error = %v", err)
	}

	// Oldest upload first, regardless of analysis order.
	claimed, err := f.review.ClaimNext(ctx, "alice")
	if err != nil {
		t.Fatalf("ClaimNext(alice) error = %v", err)
	}
	if claimed.ID != first {
		t.Fatalf("expected oldest document %s, got %s", first, claimed.ID)
	}

	// Bob cannot decide alice's claim, and cannot see the same entry.
	if _, err := f.review.Submit(ctx, first, "bob", domain.ActionApproved, ""); !domain.IsKind(err, domain.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for bob, got %v", err)
	}
	other, err := f.review.ClaimNext(ctx, "bob")
	if err != nil {
		t.Fatalf("ClaimNext(bob) error = %v", err)
	}
	if other.ID != second {
		t.Fatalf("bob should get the remaining document, got %s", other.ID)
	}

	done, err := f.review.Submit(ctx, first, "alice", domain.ActionApproved, "amounts check out")
	if err != nil {
		t.Fatalf("Submit(alice) error = %v", err)
	}
	if done.State != domain.StateApproved || done.Claim != nil {
		t.Fatalf("expected approved unclaimed document, got state=%s claim=%+v", done.State, done.Claim)
	}

	history, err := f.report.History(ctx, first)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].ReviewerID != "alice" || history[0].Notes != "amounts check out" {
		t.Fatalf("unexpected history %+v", history)
	}

	// A second decision on the same document must hit the CAS guard.
	if _, err := f.review.Submit(ctx, first, "alice", domain.ActionRejected, ""); !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict on double decide, got %v", err)
	}

	stats, err := f.report.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.QueueSize != 1 || stats.CountsByState[domain.StateApproved] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestScenarioExpiredLeaseLateSubmit(t *testing.T) {
	f := newEngineFixture(t, 10*time.Minute)
	ctx := context.Background()

	id := f.ingestDocument(t, "contested.pdf")
	if _, err := f.route.Route(ctx, id, analysisResult(0.6)); err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	if _, err := f.review.ClaimNext(ctx, "bob"); err != nil {
		t.Fatalf("ClaimNext(bob) error = %v", err)
	}

	// Bob's lease lapses; carol picks the document up.
	f.advance(11 * time.Minute)
	claimed, err := f.review.ClaimNext(ctx, "carol")
	if err != nil {
		t.Fatalf("ClaimNext(carol) error = %v", err)
	}
	if claimed.ID != id || claimed.Claim.ReviewerID != "carol" {
		t.Fatalf("expected carol to hold %s, got %+v", id, claimed.Claim)
	}

	// Bob's late submit reports the lapsed lease, not a generic refusal.
	if _, err := f.review.Submit(ctx, id, "bob", domain.ActionApproved, ""); !domain.IsKind(err, domain.ErrClaimExpired) {
		t.Fatalf("expected ErrClaimExpired for bob, got %v", err)
	}

	done, err := f.review.Submit(ctx, id, "carol", domain.ActionRejected, "illegible scan")
	if err != nil {
		t.Fatalf("Submit(carol) error = %v", err)
	}
	if done.State != domain.StateRejected {
		t.Fatalf("expected rejected, got %s", done.State)
	}
	if len(done.History) != 1 || done.History[0].ReviewerID != "carol" {
		t.Fatalf("unexpected history %+v", done.History)
	}
}

func TestScenarioDuplicateRoutingDelivery(t *testing.T) {
	f := newEngineFixture(t, 15*time.Minute)
	ctx := context.Background()

	id := f.ingestDocument(t, "dup.pdf")
	result := analysisResult(0.97)

	if _, err := f.route.Route(ctx, id, result); err != nil {
		t.Fatalf("first Route() error = %v", err)
	}
	outcome, err := f.route.Route(ctx, id, result)
	if err != nil {
		t.Fatalf("redelivered Route() error = %v", err)
	}
	if outcome != domain.OutcomeAutoApprove {
		t.Fatalf("expected stable outcome, got %s", outcome)
	}

	history, err := f.report.History(ctx, id)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("redelivery must not add decisions, got %d", len(history))
	}
}
