// Package classifier implements the two-stage failure classification
// pipeline (spec §4.5): an ordered, first-match-wins deterministic rule
// engine, followed by optional bounded AI enrichment. The rule-priority/
// first-match idiom is grounded on resilience.DefaultErrorClassifier's
// ordered-predicate-checks shape; AI enrichment wraps an AIClient
// interface shaped after ai.AIClient.GenerateResponse, with a mock
// implementation standing in for ai/providers/mock as the test double.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/crossbridge-dev/crossbridge/internal/domain"
	"github.com/crossbridge-dev/crossbridge/internal/logger"
	"github.com/crossbridge-dev/crossbridge/internal/resilience"
)

// aiConfidenceDeltaBound is the ±0.1 envelope spec §4.5 allows AI
// enrichment to move the deterministic confidence by.
const aiConfidenceDeltaBound = 0.1

// History-layer confidence levels, distinct from the 0.80-0.95 typical
// range signature rules use (spec §4.5's "Confidence scoring" paragraph
// only covers the signature stage); these are heuristic weights for
// reliability evidence derived from run history rather than a matched
// string pattern.
const (
	confidenceFlakyRetry    = 0.70
	confidenceFlakyRate     = 0.65
	confidenceRegression    = 0.75
	confidenceNew           = 0.50
	confidenceStable        = 0.90
	minHistoryRunsForRate   = 5
	flakyRateLowerExclusive = 0.05
	flakyRateUpperExclusive = 0.40
	stableRateCeiling       = 0.05
)

// AIClient enriches a deterministic classification. Shaped after
// ai.AIClient.GenerateResponse so a real provider (OpenAI, Anthropic,
// ...) can be wired in without changing this package.
type AIClient interface {
	GenerateResponse(ctx context.Context, prompt string) (string, error)
}

// Config tunes the classifier beyond the static rule set.
type Config struct {
	Rules          []domain.ClassificationRule
	WorkspaceRoot  string
	ExcludeGlobs   []string // framework-internal paths excluded from code references
	AIEnabled      bool
	AITimeout      time.Duration
	AIMaxBudget    int // max AI calls per run, 0 = unlimited
}

// Classifier runs the deterministic rule stage and, optionally, the
// bounded AI enrichment stage.
type Classifier struct {
	cfg     Config
	ai      AIClient
	breaker *resilience.CircuitBreaker
	log     logger.Logger
	rules   []domain.ClassificationRule

	aiCallsThisRun int
}

func New(cfg Config, ai AIClient, log logger.Logger) *Classifier {
	if log == nil {
		log = logger.NoOp{}
	}
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = 30 * time.Second
	}

	rules := make([]domain.ClassificationRule, len(cfg.Rules))
	copy(rules, cfg.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	breakerCfg := resilience.DefaultConfig("classifier-ai")
	breakerCfg.Logger = log

	return &Classifier{
		cfg:     cfg,
		ai:      ai,
		breaker: resilience.New(breakerCfg),
		log:     log.WithComponent("classifier"),
		rules:   rules,
	}
}

// Classify runs the history stage, then the signature-rule stage, then
// (if enabled and budget remains) the AI enrichment stage, for a single
// test. history is the test's run history and tr its outcome in the
// current run; changesetHit reports whether a file this test covers
// appears in the current changeset (used for REGRESSION detection).
func (c *Classifier) Classify(ctx context.Context, testID, signature string, tr domain.TestResult, history domain.TestHistoryEntry, changesetHit bool) domain.FailureClassification {
	classification, ok := classifyFromHistory(testID, tr, history, changesetHit)
	if !ok {
		classification = c.classifyDeterministic(testID, signature)
		if classification.Category == domain.CategoryUnknown {
			if fallback, fallbackOK := classifyHistoryFallback(testID, tr, history); fallbackOK {
				classification = fallback
			}
		}
	}
	classification.CodeReference = c.resolveCodeReference(signature)

	if c.ai != nil && c.cfg.AIEnabled && (c.cfg.AIMaxBudget == 0 || c.aiCallsThisRun < c.cfg.AIMaxBudget) {
		c.aiCallsThisRun++
		if enrichment := c.enrich(ctx, classification, signature); enrichment != nil {
			classification.AIEnrichment = enrichment
			classification.AIEnhanced = true
			classification.Confidence = clampConfidence(classification.Confidence + enrichment.ConfidenceDelta)
		}
	}

	return classification
}

// classifyDeterministic applies the ordered rule set; cannot fail — the
// worst case is UNKNOWN with zero confidence (spec §4.5).
func (c *Classifier) classifyDeterministic(testID, signature string) domain.FailureClassification {
	for _, rule := range c.rules {
		if ruleMatches(rule, signature) {
			confidence := rule.BaseConfidence
			if len(rule.RequiredSubstrings) == 1 && len(signature) < 100 {
				confidence -= 0.10
			}
			if confidence < 0.50 {
				confidence = 0.50
			}

			evidence := make([]domain.Evidence, 0, len(rule.RequiredSubstrings))
			for _, substr := range rule.RequiredSubstrings {
				if idx := indexFold(signature, substr); idx >= 0 {
					evidence = append(evidence, domain.Evidence{
						PatternID:        rule.RuleID,
						MatchedSubstring: substr,
						LineOffset:       strings.Count(signature[:idx], "\n"),
					})
				}
			}

			return domain.FailureClassification{
				TestID:     testID,
				Category:   rule.Category,
				Confidence: confidence,
				Evidence:   evidence,
			}
		}
	}
	return domain.FailureClassification{TestID: testID, Category: domain.CategoryUnknown, Confidence: 0}
}

// ruleMatches is case-insensitive: signatures come from real framework
// stack traces (NoSuchElementException, AssertionError, ...) whose
// capitalization a rule author shouldn't have to replicate exactly.
func ruleMatches(rule domain.ClassificationRule, signature string) bool {
	for _, required := range rule.RequiredSubstrings {
		if indexFold(signature, required) < 0 {
			return false
		}
	}
	for _, excluded := range rule.ExcludeSubstrings {
		if indexFold(signature, excluded) >= 0 {
			return false
		}
	}
	return true
}

// indexFold is a case-insensitive strings.Index.
func indexFold(s, substr string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(substr))
}

// classifyFromHistory applies the two history-layer categories spec
// §4.5 defines as taking precedence over signature matching: FLAKY
// (retried-then-passed, or a middling historical fail rate) and
// REGRESSION (a previously stable test now failing on a changed,
// covered file). Returns ok=false when neither condition holds, leaving
// the signature-rule stage to decide.
func classifyFromHistory(testID string, tr domain.TestResult, history domain.TestHistoryEntry, changesetHit bool) (domain.FailureClassification, bool) {
	if tr.RetryCount >= 1 && tr.Status == domain.OutcomePassed {
		return domain.FailureClassification{TestID: testID, Category: domain.CategoryFlaky, Confidence: confidenceFlakyRetry}, true
	}

	if history.Runs >= minHistoryRunsForRate {
		rate := history.FailRate()
		if rate > flakyRateLowerExclusive && rate < flakyRateUpperExclusive {
			return domain.FailureClassification{TestID: testID, Category: domain.CategoryFlaky, Confidence: confidenceFlakyRate}, true
		}
		if rate <= stableRateCeiling && changesetHit && tr.Status != domain.OutcomePassed {
			return domain.FailureClassification{TestID: testID, Category: domain.CategoryRegression, Confidence: confidenceRegression}, true
		}
	}

	return domain.FailureClassification{}, false
}

// classifyHistoryFallback covers NEW/STABLE, used only when no
// signature rule matched: a test with under 5 recorded runs is too new
// to judge, and a historically stable test that is currently passing
// confirms stability. Both beat returning bare UNKNOWN when history
// data is available.
func classifyHistoryFallback(testID string, tr domain.TestResult, history domain.TestHistoryEntry) (domain.FailureClassification, bool) {
	if history.Runs == 0 {
		return domain.FailureClassification{}, false
	}
	if history.Runs < minHistoryRunsForRate {
		return domain.FailureClassification{TestID: testID, Category: domain.CategoryNew, Confidence: confidenceNew}, true
	}
	if history.FailRate() <= stableRateCeiling && tr.Status == domain.OutcomePassed {
		return domain.FailureClassification{TestID: testID, Category: domain.CategoryStable, Confidence: confidenceStable}, true
	}
	return domain.FailureClassification{}, false
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// enrich wraps the AI call in a circuit breaker and timeout; any failure
// (timeout, provider error, invalid response) is swallowed and the
// deterministic result stands unchanged, per spec §4.5's "AI failure is
// swallowed" hard constraint.
func (c *Classifier) enrich(ctx context.Context, det domain.FailureClassification, signature string) *domain.AIEnrichment {
	prompt := fmt.Sprintf("Given failure category %s (confidence %.2f) and signature:\n%s\nSuggest root cause and fixes.",
		det.Category, det.Confidence, signature)

	var raw string
	err := c.breaker.ExecuteWithTimeout(ctx, c.cfg.AITimeout, func() error {
		resp, genErr := c.ai.GenerateResponse(ctx, prompt)
		raw = resp
		return genErr
	})
	if err != nil {
		c.log.Debug("ai enrichment failed, keeping deterministic result", map[string]interface{}{"error": err.Error(), "test_id": det.TestID})
		return nil
	}

	return parseAIResponse(raw)
}

// aiResponseBody is the provider response shape spec §8 scenario 6
// seeds (`{delta, category, reasoning}`). category has no field here, so
// it is never decoded or applied — spec §4.5 forbids AI enrichment from
// changing the deterministic category.
type aiResponseBody struct {
	Delta          float64  `json:"delta"`
	Reasoning      string   `json:"reasoning"`
	SuggestedFixes []string `json:"suggested_fixes"`
}

// parseAIResponse extracts a bounded confidence delta and suggested
// fixes from the provider's raw reply. Non-JSON replies (a plain-text
// suggestion) are kept verbatim as reasoning with a zero delta rather
// than treated as a failure, since the enrichment's free-text field
// alone is still useful annotation.
func parseAIResponse(raw string) *domain.AIEnrichment {
	var body aiResponseBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return &domain.AIEnrichment{Reasoning: raw}
	}

	reasoning := body.Reasoning
	if reasoning == "" {
		reasoning = raw
	}
	return &domain.AIEnrichment{
		Reasoning:       reasoning,
		SuggestedFixes:  body.SuggestedFixes,
		ConfidenceDelta: clampDelta(body.Delta),
	}
}

func clampDelta(delta float64) float64 {
	if delta > aiConfidenceDeltaBound {
		return aiConfidenceDeltaBound
	}
	if delta < -aiConfidenceDeltaBound {
		return -aiConfidenceDeltaBound
	}
	return delta
}

// resolveCodeReference finds the first in-workspace stack frame that
// isn't a framework-internal path, per spec §4.5's code reference
// resolver. Resolver failure (no match) never aborts classification.
func (c *Classifier) resolveCodeReference(signature string) *domain.CodeReference {
	lines := strings.Split(signature, "\n")
	for i, line := range lines {
		file, lineNo, fn, ok := parseStackFrame(line)
		if !ok {
			continue
		}
		if !strings.HasPrefix(file, c.cfg.WorkspaceRoot) && c.cfg.WorkspaceRoot != "" {
			continue
		}
		if matchesAnyGlob(c.cfg.ExcludeGlobs, file) {
			continue
		}
		return &domain.CodeReference{
			File:            file,
			Line:            lineNo,
			FunctionOrClass: fn,
			Snippet:         snippetAround(lines, i, 5),
		}
	}
	return nil
}

func snippetAround(lines []string, idx, radius int) string {
	start := idx - radius
	if start < 0 {
		start = 0
	}
	end := idx + radius + 1
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n")
}

func matchesAnyGlob(globs []string, path string) bool {
	for _, g := range globs {
		if strings.Contains(path, g) {
			return true
		}
	}
	return false
}
