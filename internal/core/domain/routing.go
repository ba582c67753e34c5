package domain

import "fmt"

type RoutingOutcome string

const (
	OutcomeAutoApprove RoutingOutcome = "auto_approve"
	OutcomeAutoReject  RoutingOutcome = "auto_reject"
	OutcomeNeedsReview RoutingOutcome = "needs_review"
)

// Thresholds are the confidence cut-offs for automatic routing.
// High must be strictly greater than Low.
type Thresholds struct {
	High float64 `yaml:"high" json:"high"`
	Low  float64 `yaml:"low" json:"low"`
}

func (t Thresholds) Validate() error {
	if t.High < 0 || t.High > 1 || t.Low < 0 || t.Low > 1 {
		return WrapError(ErrValidation, "validate thresholds", fmt.Errorf("thresholds out of [0,1]: high=%v low=%v", t.High, t.Low))
	}
	if t.High <= t.Low {
		return WrapError(ErrValidation, "validate thresholds", fmt.Errorf("high %v must exceed low %v", t.High, t.Low))
	}
	return nil
}

// Route maps a confidence score to a routing outcome. Confidence at
// exactly High auto-approves; at exactly Low it needs review.
func (t Thresholds) Route(confidence float64) RoutingOutcome {
	switch {
	case confidence >= t.High:
		return OutcomeAutoApprove
	case confidence < t.Low:
		return OutcomeAutoReject
	default:
		return OutcomeNeedsReview
	}
}

// ReviewPolicy holds the routing thresholds, optionally specialized per
// document type.
type ReviewPolicy struct {
	Default Thresholds
	PerType map[DocumentType]Thresholds
}

func (p ReviewPolicy) Validate() error {
	if err := p.Default.Validate(); err != nil {
		return err
	}
	for docType, t := range p.PerType {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("thresholds for type %q: %w", docType, err)
		}
	}
	return nil
}

// For returns the thresholds for a document type, falling back to the
// defaults when no override exists.
func (p ReviewPolicy) For(docType DocumentType) Thresholds {
	if t, ok := p.PerType[docType]; ok {
		return t
	}
	return p.Default
}
