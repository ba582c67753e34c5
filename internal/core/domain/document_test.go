package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to DocumentState
		want     bool
	}{
		{StateIngested, StateAnalyzing, true},
		{StateIngested, StateApproved, false},
		{StateAnalyzing, StateApproved, true},
		{StateAnalyzing, StateRejected, true},
		{StateAnalyzing, StateNeedsReview, true},
		{StateNeedsReview, StateApproved, true},
		{StateNeedsReview, StateRejected, true},
		{StateNeedsReview, StateAnalyzing, false},
		{StateApproved, StateAnalyzing, false},
		{StateApproved, StateRejected, false},
		{StateRejected, StateNeedsReview, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []DocumentState{StateApproved, StateRejected} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []DocumentState{StateIngested, StateAnalyzing, StateNeedsReview} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestParseDocumentType(t *testing.T) {
	if _, err := ParseDocumentType("invoice"); err != nil {
		t.Fatalf("ParseDocumentType(invoice) error = %v", err)
	}
	_, err := ParseDocumentType("spreadsheet")
	if err == nil {
		t.Fatalf("expected error for unknown type")
	}
	if !IsKind(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAnalysisResultValidate(t *testing.T) {
	valid := AnalysisResult{
		Confidence:      0.8,
		ExtractedFields: map[string]string{"amount": "$12.50", "vendor": "ACME"},
		UncertainFields: []string{"vendor"},
		ModelVersion:    "vision-2.1",
		ProcessingMS:    420,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	overConfident := valid
	overConfident.Confidence = 1.2
	if err := overConfident.Validate(); !IsKind(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for confidence > 1, got %v", err)
	}

	noModel := valid
	noModel.ModelVersion = ""
	if err := noModel.Validate(); !IsKind(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing model version, got %v", err)
	}

	badSubset := valid
	badSubset.UncertainFields = []string{"total"}
	if err := badSubset.Validate(); !IsKind(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for uncertain field outside extracted fields, got %v", err)
	}
}

func TestReviewClaimExpired(t *testing.T) {
	now := time.Now()
	claim := ReviewClaim{ReviewerID: "alice", ClaimedAt: now, ExpiresAt: now.Add(time.Minute)}
	if claim.Expired(now) {
		t.Fatalf("claim should not be expired at claim time")
	}
	if !claim.Expired(now.Add(time.Minute)) {
		t.Fatalf("claim should be expired exactly at its expiry instant")
	}
}

func TestReviewActionTerminalState(t *testing.T) {
	if s, err := ActionApproved.TerminalState(); err != nil || s != StateApproved {
		t.Fatalf("ActionApproved = (%v, %v)", s, err)
	}
	if s, err := ActionRejected.TerminalState(); err != nil || s != StateRejected {
		t.Fatalf("ActionRejected = (%v, %v)", s, err)
	}
	if _, err := ReviewAction("maybe").TerminalState(); !IsKind(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown action, got %v", err)
	}
}
