package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/docuflow/review-engine/internal/core/domain"
)

// Store is a mutex-guarded implementation of the registry, review queue
// and decision log. The single lock makes every multi-step operation
// (transition + queue membership + decision append) atomic, which is the
// same guarantee the postgres store gets from SQL transactions.
//
// Intended for tests and single-process deployments.
type Store struct {
	mu    sync.Mutex
	docs  map[string]*domain.Document
	queue []*queueEntry

	// now is a test hook; defaults to time.Now.
	now func() time.Time
}

type queueEntry struct {
	documentID string
	uploadedAt time.Time
	claim      *domain.ReviewClaim
	// lastExpiredBy remembers the most recent holder whose lease lapsed,
	// so their late submit reports Expired rather than NotOwner.
	lastExpiredBy string
}

func NewStore() *Store {
	return &Store{
		docs: make(map[string]*domain.Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// NewStoreWithClock injects a clock for lease-expiry tests.
func NewStoreWithClock(now func() time.Time) *Store {
	s := NewStore()
	s.now = now
	return s
}

func (s *Store) Create(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[doc.ID]; exists {
		return domain.WrapError(domain.ErrConflict, "create document", fmt.Errorf("id %s already registered", doc.ID))
	}
	stored := cloneDocument(doc)
	s.docs[doc.ID] = stored
	return nil
}

func (s *Store) GetByID(_ context.Context, id string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("id %s", id))
	}
	return cloneDocument(doc), nil
}

func (s *Store) Transition(_ context.Context, id string, from, to domain.DocumentState, mutate func(*domain.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "transition document", fmt.Errorf("id %s", id))
	}
	// Mutate a copy so a failing mutator leaves no partial write.
	updated := cloneDocument(doc)
	if err := s.transitionLocked(updated, from, to); err != nil {
		return err
	}
	if mutate != nil {
		if err := mutate(updated); err != nil {
			return fmt.Errorf("apply transition mutator: %w", err)
		}
	}
	updated.UpdatedAt = s.now()
	s.docs[id] = updated
	return nil
}

// transitionLocked is the compare-and-swap primitive every state change
// funnels through.
func (s *Store) transitionLocked(doc *domain.Document, from, to domain.DocumentState) error {
	if !from.CanTransition(to) {
		return domain.WrapError(domain.ErrInvalidTransition, "transition document", fmt.Errorf("%s -> %s", from, to))
	}
	if doc.State != from {
		return domain.WrapError(domain.ErrConflict, "transition document", fmt.Errorf("expected %s, found %s", from, doc.State))
	}
	doc.State = to
	return nil
}

func (s *Store) CountByState(context.Context) (map[domain.DocumentState]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.DocumentState]int)
	for _, doc := range s.docs {
		counts[doc.State]++
	}
	return counts, nil
}

func (s *Store) ListRecent(_ context.Context, limit int) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]domain.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, *cloneDocument(doc))
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UploadedAt.Equal(docs[j].UploadedAt) {
			return docs[i].UploadedAt.After(docs[j].UploadedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *Store) Enqueue(_ context.Context, documentID string, result domain.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "enqueue document", fmt.Errorf("id %s", documentID))
	}
	if doc.State == domain.StateNeedsReview && s.entryLocked(documentID) != nil {
		return nil // duplicate delivery, already queued
	}
	if err := s.transitionLocked(doc, domain.StateAnalyzing, domain.StateNeedsReview); err != nil {
		return err
	}
	res := result
	doc.Analysis = &res
	doc.UpdatedAt = s.now()

	entry := &queueEntry{documentID: documentID, uploadedAt: doc.UploadedAt}
	s.queue = append(s.queue, entry)
	sort.Slice(s.queue, func(i, j int) bool {
		if !s.queue[i].uploadedAt.Equal(s.queue[j].uploadedAt) {
			return s.queue[i].uploadedAt.Before(s.queue[j].uploadedAt)
		}
		return s.queue[i].documentID < s.queue[j].documentID
	})
	return nil
}

func (s *Store) ClaimNext(_ context.Context, reviewerID string, lease time.Duration) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expireLocked(now)

	for _, entry := range s.queue {
		if entry.claim != nil {
			continue
		}
		doc := s.docs[entry.documentID]
		claim := &domain.ReviewClaim{
			ReviewerID: reviewerID,
			ClaimedAt:  now,
			ExpiresAt:  now.Add(lease),
		}
		entry.claim = claim
		claimCopy := *claim
		doc.Claim = &claimCopy
		doc.UpdatedAt = now
		return cloneDocument(doc), nil
	}
	return nil, domain.WrapError(domain.ErrQueueEmpty, "claim next document", errors.New("no unclaimed entries"))
}

func (s *Store) Release(_ context.Context, documentID, reviewerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "release claim", fmt.Errorf("id %s", documentID))
	}
	entry := s.entryLocked(documentID)
	if entry == nil {
		return domain.WrapError(domain.ErrNotOwner, "release claim", fmt.Errorf("document %s is not queued", documentID))
	}
	s.expireEntryLocked(entry, s.now())
	if entry.claim == nil || entry.claim.ReviewerID != reviewerID {
		return domain.WrapError(domain.ErrNotOwner, "release claim", fmt.Errorf("reviewer %s does not hold the claim", reviewerID))
	}
	entry.claim = nil
	doc.Claim = nil
	doc.UpdatedAt = s.now()
	return nil
}

func (s *Store) ExpireClaims(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expireLocked(now), nil
}

func (s *Store) Size(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), nil
}

func (s *Store) FinalizeAuto(_ context.Context, documentID string, to domain.DocumentState, result domain.AnalysisResult, dec domain.ReviewDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "finalize automatic decision", fmt.Errorf("id %s", documentID))
	}
	if err := s.transitionLocked(doc, domain.StateAnalyzing, to); err != nil {
		return err
	}
	res := result
	doc.Analysis = &res
	doc.History = append(doc.History, dec)
	doc.UpdatedAt = s.now()
	return nil
}

func (s *Store) FinalizeReview(_ context.Context, documentID string, to domain.DocumentState, dec domain.ReviewDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "finalize review decision", fmt.Errorf("id %s", documentID))
	}
	if doc.State != domain.StateNeedsReview {
		return domain.WrapError(domain.ErrConflict, "finalize review decision", fmt.Errorf("document is %s", doc.State))
	}
	entry := s.entryLocked(documentID)
	if entry == nil {
		return domain.WrapError(domain.ErrConflict, "finalize review decision", errors.New("document missing from queue"))
	}

	s.expireEntryLocked(entry, s.now())
	switch {
	case entry.claim != nil && entry.claim.ReviewerID == dec.ReviewerID:
		// live claim held by the submitter
	case entry.lastExpiredBy == dec.ReviewerID:
		return domain.WrapError(domain.ErrClaimExpired, "finalize review decision", fmt.Errorf("lease for %s lapsed", dec.ReviewerID))
	default:
		return domain.WrapError(domain.ErrNotOwner, "finalize review decision", fmt.Errorf("reviewer %s does not hold the claim", dec.ReviewerID))
	}

	if err := s.transitionLocked(doc, domain.StateNeedsReview, to); err != nil {
		return err
	}
	doc.Claim = nil
	doc.History = append(doc.History, dec)
	doc.UpdatedAt = s.now()
	s.removeEntryLocked(documentID)
	return nil
}

func (s *Store) History(_ context.Context, documentID string) ([]domain.ReviewDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "fetch history", fmt.Errorf("id %s", documentID))
	}
	history := make([]domain.ReviewDecision, len(doc.History))
	copy(history, doc.History)
	return history, nil
}

func (s *Store) expireLocked(now time.Time) int {
	expired := 0
	for _, entry := range s.queue {
		if s.expireEntryLocked(entry, now) {
			expired++
		}
	}
	return expired
}

func (s *Store) expireEntryLocked(entry *queueEntry, now time.Time) bool {
	if entry.claim == nil || !entry.claim.Expired(now) {
		return false
	}
	entry.lastExpiredBy = entry.claim.ReviewerID
	entry.claim = nil
	if doc, ok := s.docs[entry.documentID]; ok {
		doc.Claim = nil
	}
	return true
}

func (s *Store) entryLocked(documentID string) *queueEntry {
	for _, entry := range s.queue {
		if entry.documentID == documentID {
			return entry
		}
	}
	return nil
}

func (s *Store) removeEntryLocked(documentID string) {
	for i, entry := range s.queue {
		if entry.documentID == documentID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

func cloneDocument(doc *domain.Document) *domain.Document {
	out := *doc
	if doc.Analysis != nil {
		analysis := *doc.Analysis
		analysis.ExtractedFields = make(map[string]string, len(doc.Analysis.ExtractedFields))
		for k, v := range doc.Analysis.ExtractedFields {
			analysis.ExtractedFields[k] = v
		}
		analysis.UncertainFields = append([]string(nil), doc.Analysis.UncertainFields...)
		out.Analysis = &analysis
	}
	if doc.Claim != nil {
		claim := *doc.Claim
		out.Claim = &claim
	}
	out.History = append([]domain.ReviewDecision(nil), doc.History...)
	return &out
}
