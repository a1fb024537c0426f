package classifier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crossbridge-dev/crossbridge/internal/domain"
)

// rulesFile is the on-disk shape of a rule set YAML document.
type rulesFile struct {
	Rules []domain.ClassificationRule `yaml:"rules"`
}

// LoadRules reads a YAML rule set from path, matching the
// ClassificationRule shape (spec §4.5).
func LoadRules(path string) ([]domain.ClassificationRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return f.Rules, nil
}

// DefaultRules returns the built-in rule set shipped with CrossBridge,
// covering the common signature patterns spec §4.5 names as examples.
func DefaultRules() []domain.ClassificationRule {
	return []domain.ClassificationRule{
		{
			RuleID:             "connection-refused",
			RequiredSubstrings: []string{"connection refused"},
			Category:           domain.CategoryEnvironmentIssue,
			BaseConfidence:     0.85,
			Priority:           10,
		},
		{
			RuleID:             "dns-resolution",
			RequiredSubstrings: []string{"no such host"},
			Category:           domain.CategoryEnvironmentIssue,
			BaseConfidence:     0.85,
			Priority:           10,
		},
		{
			RuleID:             "no-such-element",
			RequiredSubstrings: []string{"NoSuchElementException"},
			Category:           domain.CategoryAutomationDefect,
			BaseConfidence:     0.95,
			Priority:           18,
		},
		{
			RuleID:             "stale-element-reference-exception",
			RequiredSubstrings: []string{"StaleElementReferenceException"},
			Category:           domain.CategoryAutomationDefect,
			BaseConfidence:     0.9,
			Priority:           18,
		},
		{
			RuleID:             "element-not-found",
			RequiredSubstrings: []string{"element not found"},
			Category:           domain.CategoryAutomationDefect,
			BaseConfidence:     0.7,
			Priority:           20,
		},
		{
			RuleID:             "stale-element",
			RequiredSubstrings: []string{"stale element reference"},
			Category:           domain.CategoryAutomationDefect,
			BaseConfidence:     0.75,
			Priority:           20,
		},
		{
			RuleID:             "timeout-exception",
			RequiredSubstrings: []string{"TimeoutException"},
			Category:           domain.CategoryAutomationDefect,
			BaseConfidence:     0.8,
			Priority:           28,
		},
		{
			RuleID:             "timeout-waiting",
			RequiredSubstrings: []string{"timed out", "waiting for"},
			Category:           domain.CategoryAutomationDefect,
			BaseConfidence:     0.6,
			Priority:           30,
		},
		{
			RuleID:             "assertion-mismatch",
			RequiredSubstrings: []string{"assertionerror"},
			ExcludeSubstrings:  []string{"timed out"},
			Category:           domain.CategoryProductDefect,
			BaseConfidence:     0.65,
			Priority:           40,
		},
		{
			RuleID:             "config-missing-env",
			RequiredSubstrings: []string{"environment variable", "not set"},
			Category:           domain.CategoryConfigIssue,
			BaseConfidence:     0.8,
			Priority:           15,
		},
		{
			RuleID:             "import-error-module",
			RequiredSubstrings: []string{"ImportError", "No module named"},
			Category:           domain.CategoryConfigIssue,
			BaseConfidence:     0.8,
			Priority:           14,
		},
		{
			RuleID:             "connection-error-exception",
			RequiredSubstrings: []string{"ConnectionError"},
			Category:           domain.CategoryEnvironmentIssue,
			BaseConfidence:     0.85,
			Priority:           10,
		},
		{
			RuleID:             "out-of-memory",
			RequiredSubstrings: []string{"Out of memory"},
			Category:           domain.CategoryEnvironmentIssue,
			BaseConfidence:     0.85,
			Priority:           11,
		},
		{
			RuleID:             "max-retries-exceeded",
			RequiredSubstrings: []string{"Max retries exceeded"},
			Category:           domain.CategoryEnvironmentIssue,
			BaseConfidence:     0.8,
			Priority:           13,
		},
		{
			RuleID:             "http-5xx",
			RequiredSubstrings: []string{"500 internal server error"},
			Category:           domain.CategoryProductDefect,
			BaseConfidence:     0.7,
			Priority:           25,
		},
	}
}
