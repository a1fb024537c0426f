// Package orchestrator implements the Orchestrator (C1): plan/run/execute
// over an ExecutionRequest, composed from the strategy and adapter
// registries. Grounded on pkg/orchestration/orchestrator.go's
// StandardOrchestrator (config+deps struct, history ring, response
// cache, circuit-breaker gate) retargeted from natural-language request
// routing onto test-selection/execution.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crossbridge-dev/crossbridge/internal/adapter"
	"github.com/crossbridge-dev/crossbridge/internal/apperrors"
	"github.com/crossbridge-dev/crossbridge/internal/classifier"
	"github.com/crossbridge-dev/crossbridge/internal/domain"
	"github.com/crossbridge-dev/crossbridge/internal/logger"
	"github.com/crossbridge-dev/crossbridge/internal/persistence"
	"github.com/crossbridge-dev/crossbridge/internal/resilience"
	"github.com/crossbridge-dev/crossbridge/internal/strategy"
)

// ContextProvider supplies the fallback-on-failure inputs context
// assembly needs (spec §4.1 step 2-5): git diff, history, coverage,
// flaky cache. Each method is allowed to fail; Orchestrator treats a
// non-nil error as "use the documented default" rather than aborting.
type ContextProvider interface {
	Changeset(ctx context.Context, baseBranch string) (map[string]struct{}, error)
	HistorySlice(ctx context.Context, testIDs []string) (map[string]domain.TestHistoryEntry, error)
	Coverage(ctx context.Context) (map[string]map[string]struct{}, error)
	FlakyCache(ctx context.Context) (map[string]struct{}, error)
	Embeddings(ctx context.Context) (map[string][]float64, error)
}

// Config tunes the orchestrator's bookkeeping (history ring size, cache
// TTL) independent of strategy/sidecar config.
type Config struct {
	HistorySize      int
	CacheEnabled     bool
	CacheTTL         time.Duration
	StrategyConfig   strategy.Config
	WorkspaceRoot    string
	ArtifactsDir     string
	SidecarURL       string
	GraceSeconds     int
}

func DefaultConfig() *Config {
	return &Config{
		HistorySize:  200,
		CacheEnabled: true,
		CacheTTL:     5 * time.Minute,
		GraceSeconds: 10,
	}
}

// ExecutionRecord is a single diagnostic history entry, mirroring the
// teacher's ExecutionRecord used for CI-dashboard introspection.
type ExecutionRecord struct {
	RunID         string
	Timestamp     time.Time
	Framework     domain.Framework
	Strategy      domain.Strategy
	Status        domain.RunStatus
	DurationMs    int64
	TestsSelected int
	TestsFailed   int
	Success       bool
}

// Metrics is the orchestrator's own operational counters, distinct from
// the sidecar's Prometheus metrics (C7 owns those).
type Metrics struct {
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	LastRunTime    time.Time
	UptimeSeconds  int64
}

// Orchestrator coordinates a single execution from request to result
// (spec §4.1).
type Orchestrator struct {
	config    *Config
	context   ContextProvider
	persist   *persistence.Store
	classify  *classifier.Classifier
	breaker   *resilience.CircuitBreaker
	log       logger.Logger

	historyMu sync.RWMutex
	history   []ExecutionRecord

	metricsMu sync.RWMutex
	metrics   Metrics

	cacheMu sync.RWMutex
	cache   map[string]*cachedPlan

	startTime time.Time
}

type cachedPlan struct {
	plan      *domain.ExecutionPlan
	expiresAt time.Time
}

// New builds an Orchestrator wired to its collaborators.
func New(cfg *Config, ctxProvider ContextProvider, store *persistence.Store, classify *classifier.Classifier, log logger.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.NoOp{}
	}
	breakerCfg := resilience.DefaultConfig("orchestrator")
	breakerCfg.Logger = log
	o := &Orchestrator{
		config:    cfg,
		context:   ctxProvider,
		persist:   store,
		classify:  classify,
		breaker:   resilience.New(breakerCfg),
		log:       log.WithComponent("orchestrator"),
		history:   make([]ExecutionRecord, 0, cfg.HistorySize),
		cache:     make(map[string]*cachedPlan),
		startTime: time.Now(),
	}
	return o
}

// Plan builds context then invokes the chosen strategy (spec §4.1
// plan()). Fails with a ConfigError-kind error if no strategy or adapter
// is registered; never spawns a test process.
func (o *Orchestrator) Plan(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionPlan, error) {
	plan, _, err := o.plan(ctx, req)
	return plan, err
}

// plan is Plan's internal form, also returning the assembled execution
// context so Execute can reuse its history/coverage/changeset data for
// classification without reassembling it.
func (o *Orchestrator) plan(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionPlan, *domain.ExecutionContext, error) {
	a, err := adapter.Get(req.Framework)
	if err != nil {
		return nil, nil, &apperrors.ConfigError{Op: "plan.adapter", Err: err}
	}

	strat, err := strategy.New(req.Strategy, o.config.StrategyConfig)
	if err != nil {
		return nil, nil, &apperrors.ConfigError{Op: "plan.strategy", Err: err}
	}

	execContext, err := o.assembleContext(ctx, req, a)
	if err != nil {
		return nil, nil, &apperrors.ConfigError{Op: "plan.context", Err: err}
	}

	plan, err := strat.SelectTests(execContext)
	if err != nil {
		return nil, execContext, &apperrors.ConfigError{Op: "plan.select", Err: err}
	}
	return plan, execContext, nil
}

// assembleContext implements spec §4.1's 5-step fallback-on-failure order:
// discover -> diff -> history -> coverage -> flaky cache. A discover
// failure aborts; each later step that errors yields its documented
// default rather than aborting the run.
func (o *Orchestrator) assembleContext(ctx context.Context, req *domain.ExecutionRequest, a adapter.Adapter) (*domain.ExecutionContext, error) {
	available, err := a.Discover(ctx, o.config.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("discover available tests: %w", err)
	}

	changeset, err := o.context.Changeset(ctx, req.BaseBranch)
	if err != nil {
		o.log.Warn("changeset lookup failed, using empty set", map[string]interface{}{"error": err.Error()})
		changeset = map[string]struct{}{}
	}

	history, err := o.context.HistorySlice(ctx, available)
	if err != nil {
		o.log.Warn("history lookup failed, using defaults", map[string]interface{}{"error": err.Error()})
		history = map[string]domain.TestHistoryEntry{}
	}
	for _, id := range available {
		if _, ok := history[id]; !ok {
			history[id] = domain.TestHistoryEntry{TestID: id}
		}
	}

	coverage, err := o.context.Coverage(ctx)
	if err != nil {
		o.log.Warn("coverage lookup failed, using empty map", map[string]interface{}{"error": err.Error()})
		coverage = map[string]map[string]struct{}{}
	}

	flaky, err := o.context.FlakyCache(ctx)
	if err != nil {
		o.log.Warn("flaky cache lookup failed, using empty set", map[string]interface{}{"error": err.Error()})
		flaky = map[string]struct{}{}
	}

	embeddings, err := o.context.Embeddings(ctx)
	if err != nil {
		embeddings = map[string][]float64{}
	}

	return &domain.ExecutionContext{
		Request:        req,
		Changeset:      changeset,
		History:        history,
		Coverage:       coverage,
		Embeddings:     embeddings,
		FlakyCache:     flaky,
		AvailableTests: available,
		Now:            time.Now(),
	}, nil
}

// Run dispatches plan to the selected adapter (spec §4.1 run()).
func (o *Orchestrator) Run(ctx context.Context, req *domain.ExecutionRequest, plan *domain.ExecutionPlan) (*domain.ExecutionResult, error) {
	if req.DryRun {
		return &domain.ExecutionResult{
			Status:  domain.StatusPassed,
			Passed:  map[string]struct{}{},
			Failed:  map[string]struct{}{},
			Skipped: map[string]struct{}{},
			Tests:   map[string]domain.TestResult{},
		}, nil
	}

	a, err := adapter.Get(req.Framework)
	if err != nil {
		return nil, &apperrors.ConfigError{Op: "run.adapter", Err: err}
	}
	if req.Parallel && !a.Info().ParallelCapable {
		req = cloneWithSerial(req)
	}

	opts := adapter.ExecuteOptions{
		MaxDurationMinutes: req.MaxDurationMinutes,
		GraceSeconds:       o.config.GraceSeconds,
		SidecarURL:         o.config.SidecarURL,
		ArtifactsDir:       o.config.ArtifactsDir,
	}

	var result *domain.ExecutionResult
	execErr := o.breaker.Execute(ctx, func() error {
		var runErr error
		result, runErr = a.Execute(ctx, plan, o.config.WorkspaceRoot, opts)
		return runErr
	})
	if execErr != nil {
		if result == nil {
			result = &domain.ExecutionResult{Status: domain.StatusError, ExitCode: -1}
		}
		return result, &apperrors.ExecutionError{Op: "run.execute", Err: execErr}
	}
	return result, nil
}

// coversChangedFile reports whether any file covering testID (per
// execContext.Coverage) also appears in execContext.Changeset, the
// signal spec §4.5's REGRESSION rule needs.
func coversChangedFile(ec *domain.ExecutionContext, testID string) bool {
	for file, tests := range ec.Coverage {
		if _, ok := tests[testID]; !ok {
			continue
		}
		if _, changed := ec.Changeset[file]; changed {
			return true
		}
	}
	return false
}

func cloneWithSerial(req *domain.ExecutionRequest) *domain.ExecutionRequest {
	clone := *req
	clone.Parallel = false
	return &clone
}

// Execute is the full run(plan(request)) composition plus classification
// and persistence (spec §4.1 execute()).
func (o *Orchestrator) Execute(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
	runID := uuid.New().String()
	ctx = logger.WithRunID(ctx, runID)
	start := time.Now()

	o.incrementTotal()

	plan, execContext, err := o.plan(ctx, req)
	if err != nil {
		o.incrementFailed()
		return nil, err
	}

	result, err := o.Run(ctx, req, plan)
	if err != nil {
		o.incrementFailed()
		o.recordHistory(runID, req, plan, result, start, false)
		return result, err
	}

	var classifications []domain.FailureClassification
	if o.classify != nil {
		for testID := range result.Failed {
			tr := result.Tests[testID]
			hist := execContext.History[testID]
			changesetHit := coversChangedFile(execContext, testID)
			c := o.classify.Classify(ctx, testID, tr.ErrorSignature, tr, hist, changesetHit)
			classifications = append(classifications, c)
		}
	}

	if o.persist != nil {
		if saveErr := o.persist.SaveExecution(ctx, req, plan, result, classifications); saveErr != nil {
			o.log.Warn("persist execution failed", map[string]interface{}{"error": saveErr.Error(), "run_id": runID})
		}
	}

	success := result.Status == domain.StatusPassed
	if success {
		o.incrementSuccess()
	} else {
		o.incrementFailed()
	}
	o.recordHistory(runID, req, plan, result, start, success)

	return result, nil
}

func (o *Orchestrator) recordHistory(runID string, req *domain.ExecutionRequest, plan *domain.ExecutionPlan, result *domain.ExecutionResult, start time.Time, success bool) {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()

	rec := ExecutionRecord{
		RunID:         runID,
		Timestamp:     time.Now(),
		Framework:     req.Framework,
		Strategy:      req.Strategy,
		DurationMs:    time.Since(start).Milliseconds(),
		Success:       success,
	}
	if plan != nil {
		rec.TestsSelected = len(plan.Selected)
	}
	if result != nil {
		rec.Status = result.Status
		rec.TestsFailed = len(result.Failed)
	}

	o.history = append(o.history, rec)
	if len(o.history) > o.config.HistorySize {
		o.history = o.history[1:]
	}
}

// GetExecutionHistory returns a defensive copy of recent runs, for CI
// dashboard consumption beyond the minimal execute() contract.
func (o *Orchestrator) GetExecutionHistory() []ExecutionRecord {
	o.historyMu.RLock()
	defer o.historyMu.RUnlock()
	out := make([]ExecutionRecord, len(o.history))
	copy(out, o.history)
	return out
}

// GetMetrics returns a snapshot of orchestrator-level counters.
func (o *Orchestrator) GetMetrics() Metrics {
	o.metricsMu.RLock()
	defer o.metricsMu.RUnlock()
	m := o.metrics
	m.UptimeSeconds = int64(time.Since(o.startTime).Seconds())
	return m
}

func (o *Orchestrator) incrementTotal() {
	o.metricsMu.Lock()
	defer o.metricsMu.Unlock()
	o.metrics.TotalRuns++
	o.metrics.LastRunTime = time.Now()
}

func (o *Orchestrator) incrementSuccess() {
	o.metricsMu.Lock()
	defer o.metricsMu.Unlock()
	o.metrics.SuccessfulRuns++
}

func (o *Orchestrator) incrementFailed() {
	o.metricsMu.Lock()
	defer o.metricsMu.Unlock()
	o.metrics.FailedRuns++
}
