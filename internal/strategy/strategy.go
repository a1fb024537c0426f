// Package strategy implements the four selection strategies (spec §4.2):
// smoke, impacted, risk, full. Each is registered under its tag with
// register(), mirroring gomind's ai.Register provider-factory pattern
// (ai/providers/*/init() registering by name) generalized from AI
// providers to test-selection strategies.
package strategy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/crossbridge-dev/crossbridge/internal/apperrors"
	"github.com/crossbridge-dev/crossbridge/internal/domain"
)

// Strategy selects tests for an ExecutionContext, deterministically.
type Strategy interface {
	SelectTests(ctx *domain.ExecutionContext) (*domain.ExecutionPlan, error)
}

// Factory builds a Strategy from config-derived parameters.
type Factory func(cfg Config) Strategy

var registry = map[domain.Strategy]Factory{}

// Register adds a strategy factory under tag. Called from this package's
// init(), much as ai/providers/*/init() registers AI backends.
func Register(tag domain.Strategy, factory Factory) {
	registry[tag] = factory
}

// New resolves tag to a Strategy via the registered factory, failing with
// ErrUnknownStrategy per spec §4.1's plan() contract.
func New(tag domain.Strategy, cfg Config) (Strategy, error) {
	factory, ok := registry[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownStrategy, tag)
	}
	return factory(cfg), nil
}

// Config carries the tunables spec §4.2 names as strategy defaults,
// overridable via internal/config.ExecutionConfig.
type Config struct {
	SmokeTags          map[string]struct{}
	ImpactedMinTests   int
	ImpactedSimilarity float64
	RiskMaxTests       int
}

func init() {
	Register(domain.StrategySmoke, func(cfg Config) Strategy { return &smokeStrategy{cfg: cfg} })
	Register(domain.StrategyImpacted, func(cfg Config) Strategy { return &impactedStrategy{cfg: cfg} })
	Register(domain.StrategyRisk, func(cfg Config) Strategy { return &riskStrategy{cfg: cfg} })
	Register(domain.StrategyFull, func(cfg Config) Strategy { return &fullStrategy{} })
}

// sortPlan applies the common tie-break: stable sort by priority ascending
// then by test-id lexicographic, required for spec §4.2's "bit-for-bit"
// determinism guarantee.
func sortPlan(selected []string, priority map[string]int) []string {
	out := make([]string, len(selected))
	copy(out, selected)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := priority[out[i]], priority[out[j]]
		if pi != pj {
			return pi < pj
		}
		return out[i] < out[j]
	})
	return out
}

func newPlan(tag domain.Strategy, now time.Time) *domain.ExecutionPlan {
	return &domain.ExecutionPlan{
		Priority:    map[string]int{},
		Reason:      map[string]string{},
		Strategy:    tag,
		GeneratedAt: now,
		Metadata:    map[string]string{},
	}
}

// --- Smoke ---

type smokeStrategy struct{ cfg Config }

func (s *smokeStrategy) SelectTests(c *domain.ExecutionContext) (*domain.ExecutionPlan, error) {
	plan := newPlan(domain.StrategySmoke, c.Now)
	tags := s.cfg.SmokeTags
	if len(tags) == 0 {
		tags = map[string]struct{}{"smoke": {}, "sanity": {}, "critical": {}, "p0": {}}
	}

	var selected []string
	for _, id := range c.AvailableTests {
		hist := c.History[id]
		for tag := range tags {
			if hist.HasTag(tag) {
				selected = append(selected, id)
				plan.Priority[id] = 1
				plan.Reason[id] = fmt.Sprintf("tag:%s", tag)
				break
			}
		}
	}

	// Fallback: no test carries a smoke tag but tests exist — take the
	// highest-priority critical tests from history so smoke never returns
	// empty when there's something to run.
	if len(selected) == 0 && len(c.AvailableTests) > 0 {
		type scored struct {
			id   string
			rate float64
		}
		var candidates []scored
		for _, id := range c.AvailableTests {
			hist := c.History[id]
			if hist.HasTag("critical") {
				candidates = append(candidates, scored{id, hist.FailRate()})
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].rate != candidates[j].rate {
				return candidates[i].rate > candidates[j].rate
			}
			return candidates[i].id < candidates[j].id
		})
		limit := 10
		if len(candidates) < limit {
			limit = len(candidates)
		}
		for _, sc := range candidates[:limit] {
			selected = append(selected, sc.id)
			plan.Priority[sc.id] = 1
			plan.Reason[sc.id] = "critical-safety-net-fallback"
		}
	}

	plan.Selected = sortPlan(selected, plan.Priority)
	return plan, nil
}

// --- Impacted ---

type impactedStrategy struct{ cfg Config }

func (s *impactedStrategy) SelectTests(c *domain.ExecutionContext) (*domain.ExecutionPlan, error) {
	plan := newPlan(domain.StrategyImpacted, c.Now)
	minTests := s.cfg.ImpactedMinTests
	if minTests <= 0 {
		minTests = 5
	}
	tau := s.cfg.ImpactedSimilarity
	if tau <= 0 {
		tau = 0.7
	}

	seen := map[string]struct{}{}
	add := func(id, reason string, priority int) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		plan.Priority[id] = priority
		plan.Reason[id] = reason
	}

	for file := range c.Changeset {
		for id := range c.Coverage[file] {
			add(id, fmt.Sprintf("covers:%s", file), 2)
		}
	}

	for file := range c.Changeset {
		fileEmb, ok := c.Embeddings[file]
		if !ok {
			continue
		}
		for _, id := range c.AvailableTests {
			testEmb, ok := c.Embeddings[id]
			if !ok {
				continue
			}
			score := cosineSimilarity(fileEmb, testEmb)
			if score >= tau {
				add(id, fmt.Sprintf("semantic:%s:%.2f", file, score), 3)
			}
		}
	}

	for _, id := range c.AvailableTests {
		if c.History[id].HasTag("critical") {
			add(id, "critical-safety-net", 1)
		}
	}

	selected := make([]string, 0, len(seen))
	for id := range seen {
		selected = append(selected, id)
	}

	if len(selected) < minTests {
		fallback := &smokeStrategy{cfg: Config{SmokeTags: nil}}
		smokePlan, err := fallback.SelectTests(c)
		if err != nil {
			return nil, err
		}
		smokePlan.Metadata["fallback_reason"] = "impacted<min"
		smokePlan.Strategy = domain.StrategyImpacted
		return smokePlan, nil
	}

	plan.Selected = sortPlan(selected, plan.Priority)
	return plan, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// --- Risk ---

type riskStrategy struct{ cfg Config }

func (s *riskStrategy) SelectTests(c *domain.ExecutionContext) (*domain.ExecutionPlan, error) {
	plan := newPlan(domain.StrategyRisk, c.Now)
	maxTests := s.cfg.RiskMaxTests
	if maxTests <= 0 {
		maxTests = 100
	}

	type scoredTest struct {
		id    string
		score float64
	}
	scores := make([]scoredTest, 0, len(c.AvailableTests))
	for _, id := range c.AvailableTests {
		hist := c.History[id]

		failureRate := hist.FailRate()

		churn := 0.0
		coveredFiles := testCoveredFiles(c, id)
		if len(coveredFiles) > 0 {
			changed := 0
			for f := range coveredFiles {
				if _, ok := c.Changeset[f]; ok {
					changed++
				}
			}
			churn = float64(changed) / float64(len(coveredFiles))
		}

		criticality := 0.25
		if hist.HasTag("critical") {
			criticality = 1
		} else if hist.HasTag("high") {
			criticality = 0.5
		}

		flakiness := 0.0
		if _, ok := c.FlakyCache[id]; ok {
			flakiness = 1
		}

		score := 0.4*failureRate + 0.2*churn + 0.3*criticality - 0.1*flakiness
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}

		scores = append(scores, scoredTest{id, score})
		plan.Reason[id] = fmt.Sprintf("failure_rate=%.2f churn=%.2f criticality=%.2f flaky=%.2f score=%.2f",
			failureRate, churn, criticality, flakiness, score)
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].id < scores[j].id
	})

	if len(scores) > maxTests {
		scores = scores[:maxTests]
	}

	selected := make([]string, 0, len(scores))
	for _, st := range scores {
		selected = append(selected, st.id)
		priority := 5 - int(math.Floor(st.score*4))
		if priority < 1 {
			priority = 1
		} else if priority > 5 {
			priority = 5
		}
		plan.Priority[st.id] = priority
	}

	plan.Selected = sortPlan(selected, plan.Priority)
	return plan, nil
}

func testCoveredFiles(c *domain.ExecutionContext, testID string) map[string]struct{} {
	out := map[string]struct{}{}
	for file, ids := range c.Coverage {
		if _, ok := ids[testID]; ok {
			out[file] = struct{}{}
		}
	}
	return out
}

// --- Full ---

type fullStrategy struct{}

func (s *fullStrategy) SelectTests(c *domain.ExecutionContext) (*domain.ExecutionPlan, error) {
	plan := newPlan(domain.StrategyFull, c.Now)
	for _, id := range c.AvailableTests {
		plan.Priority[id] = 5
		plan.Reason[id] = "full-suite"
	}
	plan.Selected = sortPlan(c.AvailableTests, plan.Priority)
	return plan, nil
}
