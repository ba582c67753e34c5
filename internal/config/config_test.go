package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docuflow/review-engine/internal/core/domain"
)

func TestLoadAppliesRoutingDefaults(t *testing.T) {
	t.Setenv("CONFIDENCE_HIGH", "")
	t.Setenv("CONFIDENCE_LOW", "")
	t.Setenv("CLAIM_LEASE", "")
	t.Setenv("STORE_DRIVER", "")

	cfg := Load()
	if cfg.ConfidenceHigh != 0.9 {
		t.Fatalf("expected default high threshold 0.9, got %v", cfg.ConfidenceHigh)
	}
	if cfg.ConfidenceLow != 0.5 {
		t.Fatalf("expected default low threshold 0.5, got %v", cfg.ConfidenceLow)
	}
	if cfg.ClaimLease != 15*time.Minute {
		t.Fatalf("expected default lease 15m, got %v", cfg.ClaimLease)
	}
	if cfg.StoreDriver != "postgres" {
		t.Fatalf("expected default store driver postgres, got %q", cfg.StoreDriver)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("CONFIDENCE_HIGH", "0.95")
	t.Setenv("CLAIM_LEASE", "30m")
	t.Setenv("API_RATE_LIMIT_RPS", "10")

	cfg := Load()
	if cfg.ConfidenceHigh != 0.95 {
		t.Fatalf("expected high threshold 0.95, got %v", cfg.ConfidenceHigh)
	}
	if cfg.ClaimLease != 30*time.Minute {
		t.Fatalf("expected lease 30m, got %v", cfg.ClaimLease)
	}
	if cfg.APIRateLimitRPS != 10 {
		t.Fatalf("expected rate limit 10, got %v", cfg.APIRateLimitRPS)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CONFIDENCE_HIGH", "not-a-number")
	t.Setenv("CLAIM_LEASE", "soon")

	cfg := Load()
	if cfg.ConfidenceHigh != 0.9 {
		t.Fatalf("malformed float should fall back, got %v", cfg.ConfidenceHigh)
	}
	if cfg.ClaimLease != 15*time.Minute {
		t.Fatalf("malformed duration should fall back, got %v", cfg.ClaimLease)
	}
}

func TestLoadReviewPolicyWithoutFile(t *testing.T) {
	policy, err := LoadReviewPolicy("", domain.Thresholds{High: 0.9, Low: 0.5})
	if err != nil {
		t.Fatalf("LoadReviewPolicy() error = %v", err)
	}
	if policy.Default.High != 0.9 || len(policy.PerType) != 0 {
		t.Fatalf("unexpected policy %+v", policy)
	}
}

func TestLoadReviewPolicyFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := []byte(`
default:
  high: 0.85
  low: 0.4
per_type:
  medical:
    high: 0.97
    low: 0.7
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	policy, err := LoadReviewPolicy(path, domain.Thresholds{High: 0.9, Low: 0.5})
	if err != nil {
		t.Fatalf("LoadReviewPolicy() error = %v", err)
	}
	if policy.Default.High != 0.85 || policy.Default.Low != 0.4 {
		t.Fatalf("file defaults not applied: %+v", policy.Default)
	}
	medical := policy.For(domain.TypeMedical)
	if medical.High != 0.97 || medical.Low != 0.7 {
		t.Fatalf("per-type thresholds not applied: %+v", medical)
	}
	if other := policy.For(domain.TypeReceipt); other.High != 0.85 {
		t.Fatalf("unlisted type should use default, got %+v", other)
	}
}

func TestLoadReviewPolicyRejectsBadThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := []byte(`
default:
  high: 0.4
  low: 0.6
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	if _, err := LoadReviewPolicy(path, domain.Thresholds{High: 0.9, Low: 0.5}); err == nil {
		t.Fatalf("expected validation error for inverted thresholds")
	}
}

func TestLoadReviewPolicyRejectsUnknownType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := []byte(`
per_type:
  spreadsheet:
    high: 0.9
    low: 0.5
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	if _, err := LoadReviewPolicy(path, domain.Thresholds{High: 0.9, Low: 0.5}); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
