package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/docuflow/review-engine/internal/core/domain"
)

// Store backs the registry, review queue and decision log with postgres.
// Every multi-step operation runs in a single transaction with row locks,
// so the queue membership and the document state can never disagree.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026030101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL,
	uploaded_by TEXT NOT NULL,
	state TEXT NOT NULL,
	analysis JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_state ON documents(state);
CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at DESC);

CREATE TABLE IF NOT EXISTS review_queue (
	document_id TEXT PRIMARY KEY REFERENCES documents(id),
	uploaded_at TIMESTAMPTZ NOT NULL,
	claim_reviewer TEXT,
	claim_claimed_at TIMESTAMPTZ,
	claim_expires_at TIMESTAMPTZ,
	last_expired_by TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_review_queue_order ON review_queue(uploaded_at, document_id);

CREATE TABLE IF NOT EXISTS review_decisions (
	id BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	reviewer_id TEXT NOT NULL,
	action TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	decided_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_decisions_document ON review_decisions(document_id, id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, doc *domain.Document) error {
	analysisJSON, err := marshalAnalysis(doc.Analysis)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO documents (id, name, doc_type, uploaded_at, uploaded_by, state, analysis, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		doc.ID, doc.Name, string(doc.Type), doc.UploadedAt, doc.UploadedBy,
		string(doc.State), analysisJSON, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrConflict, "create document", fmt.Errorf("id %s already registered", doc.ID))
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := s.loadDocument(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	history, err := s.History(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.History = history
	return doc, nil
}

func (s *Store) Transition(ctx context.Context, id string, from, to domain.DocumentState, mutate func(*domain.Document) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		doc, err := s.loadDocument(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if !from.CanTransition(to) {
			return domain.WrapError(domain.ErrInvalidTransition, "transition document", fmt.Errorf("%s -> %s", from, to))
		}
		if doc.State != from {
			return domain.WrapError(domain.ErrConflict, "transition document", fmt.Errorf("expected %s, found %s", from, doc.State))
		}
		doc.State = to
		if mutate != nil {
			if err := mutate(doc); err != nil {
				return fmt.Errorf("apply transition mutator: %w", err)
			}
		}
		return s.saveDocument(ctx, tx, doc)
	})
}

func (s *Store) CountByState(ctx context.Context) (map[domain.DocumentState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM documents GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count documents by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.DocumentState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		counts[domain.DocumentState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts: %w", err)
	}
	return counts, nil
}

// ListRecent returns documents newest first. Histories are not hydrated
// for listings; fetch a single document to get its decisions.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT d.id, d.name, d.doc_type, d.uploaded_at, d.uploaded_by, d.state, d.analysis, d.created_at, d.updated_at,
       q.claim_reviewer, q.claim_claimed_at, q.claim_expires_at
FROM documents d
LEFT JOIN review_queue q ON q.document_id = d.id
ORDER BY d.uploaded_at DESC, d.id
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent documents: %w", err)
	}
	return docs, nil
}

func (s *Store) Enqueue(ctx context.Context, documentID string, result domain.AnalysisResult) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		doc, err := s.loadDocument(ctx, tx, documentID, true)
		if err != nil {
			return err
		}
		if doc.State == domain.StateNeedsReview {
			var queued bool
			err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM review_queue WHERE document_id = $1)`, documentID).Scan(&queued)
			if err != nil {
				return fmt.Errorf("check queue membership: %w", err)
			}
			if queued {
				return nil // duplicate delivery, already queued
			}
		}
		if doc.State != domain.StateAnalyzing {
			return domain.WrapError(domain.ErrConflict, "enqueue document", fmt.Errorf("expected %s, found %s", domain.StateAnalyzing, doc.State))
		}
		doc.State = domain.StateNeedsReview
		res := result
		doc.Analysis = &res
		if err := s.saveDocument(ctx, tx, doc); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO review_queue (document_id, uploaded_at) VALUES ($1, $2)
`, documentID, doc.UploadedAt)
		if err != nil {
			return fmt.Errorf("insert queue entry: %w", err)
		}
		return nil
	})
}

func (s *Store) ClaimNext(ctx context.Context, reviewerID string, lease time.Duration) (*domain.Document, error) {
	var claimed *domain.Document
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		if err := expireInTx(ctx, tx, now); err != nil {
			return err
		}

		// Oldest upload first; SKIP LOCKED keeps concurrent claimers from
		// serializing on each other's candidate rows.
		var documentID string
		err := tx.QueryRowContext(ctx, `
SELECT document_id FROM review_queue
WHERE claim_reviewer IS NULL
ORDER BY uploaded_at, document_id
LIMIT 1
FOR UPDATE SKIP LOCKED
`).Scan(&documentID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrQueueEmpty, "claim next document", errors.New("no unclaimed entries"))
		}
		if err != nil {
			return fmt.Errorf("select next queue entry: %w", err)
		}

		expiresAt := now.Add(lease)
		_, err = tx.ExecContext(ctx, `
UPDATE review_queue
SET claim_reviewer = $2, claim_claimed_at = $3, claim_expires_at = $4
WHERE document_id = $1
`, documentID, reviewerID, now, expiresAt)
		if err != nil {
			return fmt.Errorf("record claim: %w", err)
		}

		doc, err := s.loadDocument(ctx, tx, documentID, false)
		if err != nil {
			return err
		}
		doc.Claim = &domain.ReviewClaim{ReviewerID: reviewerID, ClaimedAt: now, ExpiresAt: expiresAt}
		claimed = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) Release(ctx context.Context, documentID, reviewerID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.loadDocument(ctx, tx, documentID, true); err != nil {
			return err
		}
		claim, _, err := lockQueueEntry(ctx, tx, documentID, s.now())
		if err != nil {
			if domain.IsKind(err, domain.ErrConflict) {
				return domain.WrapError(domain.ErrNotOwner, "release claim", fmt.Errorf("document %s is not queued", documentID))
			}
			return err
		}
		if claim == nil || claim.ReviewerID != reviewerID {
			return domain.WrapError(domain.ErrNotOwner, "release claim", fmt.Errorf("reviewer %s does not hold the claim", reviewerID))
		}
		_, err = tx.ExecContext(ctx, `
UPDATE review_queue
SET claim_reviewer = NULL, claim_claimed_at = NULL, claim_expires_at = NULL
WHERE document_id = $1
`, documentID)
		if err != nil {
			return fmt.Errorf("clear claim: %w", err)
		}
		return nil
	})
}

func (s *Store) ExpireClaims(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE review_queue
SET last_expired_by = claim_reviewer, claim_reviewer = NULL, claim_claimed_at = NULL, claim_expires_at = NULL
WHERE claim_expires_at IS NOT NULL AND claim_expires_at <= $1
`, now)
	if err != nil {
		return 0, fmt.Errorf("expire claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count expired claims: %w", err)
	}
	return int(n), nil
}

func (s *Store) Size(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM review_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("measure review queue: %w", err)
	}
	return n, nil
}

func (s *Store) FinalizeAuto(ctx context.Context, documentID string, to domain.DocumentState, result domain.AnalysisResult, dec domain.ReviewDecision) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		doc, err := s.loadDocument(ctx, tx, documentID, true)
		if err != nil {
			return err
		}
		if !domain.StateAnalyzing.CanTransition(to) {
			return domain.WrapError(domain.ErrInvalidTransition, "finalize automatic decision", fmt.Errorf("%s -> %s", domain.StateAnalyzing, to))
		}
		if doc.State != domain.StateAnalyzing {
			return domain.WrapError(domain.ErrConflict, "finalize automatic decision", fmt.Errorf("document is %s", doc.State))
		}
		doc.State = to
		res := result
		doc.Analysis = &res
		if err := s.saveDocument(ctx, tx, doc); err != nil {
			return err
		}
		return insertDecision(ctx, tx, dec)
	})
}

func (s *Store) FinalizeReview(ctx context.Context, documentID string, to domain.DocumentState, dec domain.ReviewDecision) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		doc, err := s.loadDocument(ctx, tx, documentID, true)
		if err != nil {
			return err
		}
		if doc.State != domain.StateNeedsReview {
			return domain.WrapError(domain.ErrConflict, "finalize review decision", fmt.Errorf("document is %s", doc.State))
		}
		claim, lastExpiredBy, err := lockQueueEntry(ctx, tx, documentID, s.now())
		if err != nil {
			return err
		}
		switch {
		case claim != nil && claim.ReviewerID == dec.ReviewerID:
			// live claim held by the submitter
		case lastExpiredBy == dec.ReviewerID:
			return domain.WrapError(domain.ErrClaimExpired, "finalize review decision", fmt.Errorf("lease for %s lapsed", dec.ReviewerID))
		default:
			return domain.WrapError(domain.ErrNotOwner, "finalize review decision", fmt.Errorf("reviewer %s does not hold the claim", dec.ReviewerID))
		}
		if !domain.StateNeedsReview.CanTransition(to) {
			return domain.WrapError(domain.ErrInvalidTransition, "finalize review decision", fmt.Errorf("%s -> %s", domain.StateNeedsReview, to))
		}

		doc.State = to
		if err := s.saveDocument(ctx, tx, doc); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM review_queue WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("remove queue entry: %w", err)
		}
		return insertDecision(ctx, tx, dec)
	})
}

func (s *Store) History(ctx context.Context, documentID string) ([]domain.ReviewDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT document_id, reviewer_id, action, notes, decided_at
FROM review_decisions
WHERE document_id = $1
ORDER BY id
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch decisions: %w", err)
	}
	defer rows.Close()

	history := []domain.ReviewDecision{}
	for rows.Next() {
		var dec domain.ReviewDecision
		var action string
		if err := rows.Scan(&dec.DocumentID, &dec.ReviewerID, &action, &dec.Notes, &dec.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		dec.Action = domain.ReviewAction(action)
		history = append(history, dec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return history, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// querier covers *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) loadDocument(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Document, error) {
	query := `
SELECT d.id, d.name, d.doc_type, d.uploaded_at, d.uploaded_by, d.state, d.analysis, d.created_at, d.updated_at,
       q.claim_reviewer, q.claim_claimed_at, q.claim_expires_at
FROM documents d
LEFT JOIN review_queue q ON q.document_id = d.id
WHERE d.id = $1
`
	if forUpdate {
		query += "FOR UPDATE OF d\n"
	}
	doc, err := scanDocument(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("id %s", id))
		}
		return nil, err
	}
	return doc, nil
}

func (s *Store) saveDocument(ctx context.Context, tx *sql.Tx, doc *domain.Document) error {
	analysisJSON, err := marshalAnalysis(doc.Analysis)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
UPDATE documents
SET state = $2, analysis = $3, updated_at = $4
WHERE id = $1
`, doc.ID, string(doc.State), analysisJSON, s.now())
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

// lockQueueEntry loads the queue row for update, applying lazy expiry
// first. A missing row maps to ErrConflict: the document left the queue.
func lockQueueEntry(ctx context.Context, tx *sql.Tx, documentID string, now time.Time) (*domain.ReviewClaim, string, error) {
	var reviewer sql.NullString
	var claimedAt, expiresAt sql.NullTime
	var lastExpiredBy string
	err := tx.QueryRowContext(ctx, `
SELECT claim_reviewer, claim_claimed_at, claim_expires_at, last_expired_by
FROM review_queue
WHERE document_id = $1
FOR UPDATE
`, documentID).Scan(&reviewer, &claimedAt, &expiresAt, &lastExpiredBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", domain.WrapError(domain.ErrConflict, "lock queue entry", errors.New("document missing from queue"))
	}
	if err != nil {
		return nil, "", fmt.Errorf("lock queue entry: %w", err)
	}

	if reviewer.Valid && expiresAt.Valid && !now.Before(expiresAt.Time) {
		_, err := tx.ExecContext(ctx, `
UPDATE review_queue
SET last_expired_by = claim_reviewer, claim_reviewer = NULL, claim_claimed_at = NULL, claim_expires_at = NULL
WHERE document_id = $1
`, documentID)
		if err != nil {
			return nil, "", fmt.Errorf("expire lapsed claim: %w", err)
		}
		return nil, reviewer.String, nil
	}
	if !reviewer.Valid {
		return nil, lastExpiredBy, nil
	}
	return &domain.ReviewClaim{
		ReviewerID: reviewer.String,
		ClaimedAt:  claimedAt.Time,
		ExpiresAt:  expiresAt.Time,
	}, lastExpiredBy, nil
}

func expireInTx(ctx context.Context, tx *sql.Tx, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
UPDATE review_queue
SET last_expired_by = claim_reviewer, claim_reviewer = NULL, claim_claimed_at = NULL, claim_expires_at = NULL
WHERE claim_expires_at IS NOT NULL AND claim_expires_at <= $1
`, now)
	if err != nil {
		return fmt.Errorf("expire claims: %w", err)
	}
	return nil
}

func insertDecision(ctx context.Context, tx *sql.Tx, dec domain.ReviewDecision) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO review_decisions (document_id, reviewer_id, action, notes, decided_at)
VALUES ($1,$2,$3,$4,$5)
`, dec.DocumentID, dec.ReviewerID, string(dec.Action), dec.Notes, dec.DecidedAt)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var docType, state string
	var analysisRaw []byte
	var claimReviewer sql.NullString
	var claimedAt, expiresAt sql.NullTime

	err := row.Scan(
		&doc.ID, &doc.Name, &docType, &doc.UploadedAt, &doc.UploadedBy, &state,
		&analysisRaw, &doc.CreatedAt, &doc.UpdatedAt,
		&claimReviewer, &claimedAt, &expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	doc.Type = domain.DocumentType(docType)
	doc.State = domain.DocumentState(state)
	doc.History = []domain.ReviewDecision{}
	if len(analysisRaw) > 0 {
		var analysis domain.AnalysisResult
		if err := json.Unmarshal(analysisRaw, &analysis); err != nil {
			return nil, fmt.Errorf("unmarshal analysis: %w", err)
		}
		doc.Analysis = &analysis
	}
	if claimReviewer.Valid {
		doc.Claim = &domain.ReviewClaim{
			ReviewerID: claimReviewer.String,
			ClaimedAt:  claimedAt.Time,
			ExpiresAt:  expiresAt.Time,
		}
	}
	return &doc, nil
}

func marshalAnalysis(analysis *domain.AnalysisResult) ([]byte, error) {
	if analysis == nil {
		return nil, nil
	}
	raw, err := json.Marshal(analysis)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis: %w", err)
	}
	return raw, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
