package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/docuflow/review-engine/internal/core/domain"
)

type thresholdsYAML struct {
	High float64 `yaml:"high"`
	Low  float64 `yaml:"low"`
}

type policyYAML struct {
	Default *thresholdsYAML           `yaml:"default"`
	PerType map[string]thresholdsYAML `yaml:"per_type"`
}

// LoadReviewPolicy builds the routing policy from an optional YAML file.
// An empty path yields a policy with just the given default thresholds.
func LoadReviewPolicy(path string, defaults domain.Thresholds) (domain.ReviewPolicy, error) {
	policy := domain.ReviewPolicy{Default: defaults}
	if path == "" {
		if err := policy.Validate(); err != nil {
			return domain.ReviewPolicy{}, err
		}
		return policy, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.ReviewPolicy{}, fmt.Errorf("read review policy file: %w", err)
	}
	var parsed policyYAML
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return domain.ReviewPolicy{}, fmt.Errorf("parse review policy file: %w", err)
	}

	if parsed.Default != nil {
		policy.Default = domain.Thresholds{High: parsed.Default.High, Low: parsed.Default.Low}
	}
	if len(parsed.PerType) > 0 {
		policy.PerType = make(map[domain.DocumentType]domain.Thresholds, len(parsed.PerType))
		for rawType, th := range parsed.PerType {
			docType, err := domain.ParseDocumentType(rawType)
			if err != nil {
				return domain.ReviewPolicy{}, fmt.Errorf("review policy file: %w", err)
			}
			policy.PerType[docType] = domain.Thresholds{High: th.High, Low: th.Low}
		}
	}

	if err := policy.Validate(); err != nil {
		return domain.ReviewPolicy{}, fmt.Errorf("review policy file: %w", err)
	}
	return policy, nil
}
