package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

type DocumentState string

const (
	StateIngested    DocumentState = "ingested"
	StateAnalyzing   DocumentState = "analyzing"
	StateNeedsReview DocumentState = "needs_review"
	StateApproved    DocumentState = "approved"
	StateRejected    DocumentState = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s DocumentState) Terminal() bool {
	return s == StateApproved || s == StateRejected
}

var stateMachine = map[DocumentState][]DocumentState{
	StateIngested:    {StateAnalyzing},
	StateAnalyzing:   {StateApproved, StateRejected, StateNeedsReview},
	StateNeedsReview: {StateApproved, StateRejected},
}

// CanTransition reports whether the state machine allows s -> to.
func (s DocumentState) CanTransition(to DocumentState) bool {
	for _, next := range stateMachine[s] {
		if next == to {
			return true
		}
	}
	return false
}

type DocumentType string

const (
	TypeInvoice        DocumentType = "invoice"
	TypeContract       DocumentType = "contract"
	TypeMedical        DocumentType = "medical"
	TypeReceipt        DocumentType = "receipt"
	TypeIdentification DocumentType = "identification"
	TypeOther          DocumentType = "other"
)

func ParseDocumentType(raw string) (DocumentType, error) {
	switch DocumentType(raw) {
	case TypeInvoice, TypeContract, TypeMedical, TypeReceipt, TypeIdentification, TypeOther:
		return DocumentType(raw), nil
	default:
		return "", WrapError(ErrValidation, "parse document type", fmt.Errorf("unknown type %q", raw))
	}
}

type Document struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Type       DocumentType     `json:"type"`
	UploadedAt time.Time        `json:"uploaded_at"`
	UploadedBy string           `json:"uploaded_by"`
	State      DocumentState    `json:"state"`
	Analysis   *AnalysisResult  `json:"analysis,omitempty"`
	Claim      *ReviewClaim     `json:"claim,omitempty"`
	History    []ReviewDecision `json:"history"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// AnalysisResult is the output of the external analysis collaborator.
type AnalysisResult struct {
	Confidence      float64           `json:"confidence" validate:"gte=0,lte=1"`
	ExtractedFields map[string]string `json:"extracted_fields"`
	UncertainFields []string          `json:"uncertain_fields"`
	ModelVersion    string            `json:"model_version" validate:"required"`
	ProcessingMS    int64             `json:"processing_ms" validate:"gte=0"`
}

var validate = validator.New()

// Validate enforces the analysis-result invariants, in particular that
// every uncertain field names a key of the extracted fields.
func (r AnalysisResult) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return WrapError(ErrValidation, "validate analysis result", verrs)
		}
		return fmt.Errorf("validate analysis result: %w", err)
	}
	for _, field := range r.UncertainFields {
		if _, ok := r.ExtractedFields[field]; !ok {
			return WrapError(
				ErrValidation,
				"validate analysis result",
				fmt.Errorf("uncertain field %q not present in extracted fields", field),
			)
		}
	}
	return nil
}

// ReviewClaim is a time-bounded exclusive hold on a queued document.
type ReviewClaim struct {
	ReviewerID string    `json:"reviewer_id"`
	ClaimedAt  time.Time `json:"claimed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (c ReviewClaim) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
