// Package resilience provides the circuit breaker and retry primitives
// CrossBridge wraps around framework process spawns, AI enrichment calls,
// and persistence writes. Adapted from gomind's resilience.CircuitBreaker:
// same sliding-window error-rate design and half-open token accounting,
// generalized away from the gomind-specific error classifier.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crossbridge-dev/crossbridge/internal/apperrors"
	"github.com/crossbridge-dev/crossbridge/internal/logger"
)

// CircuitState is the lifecycle state of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrorClassifier decides whether an error should count toward the
// breaker's failure rate (client cancellation and user errors shouldn't).
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts everything except context cancellation —
// a caller giving up isn't the protected call misbehaving.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Config configures a CircuitBreaker.
type Config struct {
	Name             string
	ErrorThreshold   float64       // error rate (0..1) that triggers opening
	VolumeThreshold  int           // minimum requests before evaluation
	SleepWindow      time.Duration // time before trying half-open
	HalfOpenRequests int           // probe requests allowed while half-open
	SuccessThreshold float64       // success rate needed to close from half-open
	WindowSize       time.Duration
	BucketCount      int
	ErrorClassifier  ErrorClassifier
	Logger           logger.Logger
}

// DefaultConfig mirrors gomind's production defaults.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		ErrorThreshold:   0.5,
		VolumeThreshold:  10,
		SleepWindow:      30 * time.Second,
		HalfOpenRequests: 5,
		SuccessThreshold: 0.6,
		WindowSize:       60 * time.Second,
		BucketCount:      10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           logger.NoOp{},
	}
}

// CircuitBreaker is a sliding-window, error-rate circuit breaker with
// token-tracked half-open probing.
type CircuitBreaker struct {
	config *Config

	state          atomic.Value // CircuitState
	stateChangedAt atomic.Value // time.Time

	window *slidingWindow

	halfOpenTotal     atomic.Int32
	halfOpenSuccesses atomic.Int32
	halfOpenFailures  atomic.Int32

	forceOpen   atomic.Bool
	forceClosed atomic.Bool

	mu sync.Mutex

	totalExecutions    atomic.Uint64
	rejectedExecutions atomic.Uint64
}

// New creates a CircuitBreaker, applying defaults for any zero fields.
func New(config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig("default")
	}
	if config.WindowSize == 0 {
		config.WindowSize = 60 * time.Second
	}
	if config.BucketCount == 0 {
		config.BucketCount = 10
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = logger.NoOp{}
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 0.6
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = 5
	}

	cb := &CircuitBreaker{
		config: config,
		window: newSlidingWindow(config.WindowSize, config.BucketCount),
	}
	cb.state.Store(StateClosed)
	cb.stateChangedAt.Store(time.Now())
	return cb
}

// Execute runs fn under circuit-breaker protection with no timeout.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	return cb.ExecuteWithTimeout(ctx, 0, fn)
}

// ExecuteWithTimeout runs fn, rejecting immediately if the circuit is open
// and recovering panics into errors (never crashing the caller's goroutine).
func (cb *CircuitBreaker) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	if !cb.allow() {
		cb.rejectedExecutions.Add(1)
		return fmt.Errorf("circuit breaker %q is open: %w", cb.config.Name, apperrors.ErrBackendUnavailable)
	}

	cb.totalExecutions.Add(1)
	halfOpen := cb.GetState() == StateHalfOpen.String()

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				done <- fmt.Errorf("panic in %q: %v\n%s", cb.config.Name, r, stack)
			}
		}()
		done <- fn()
	}()

	var err error
	select {
	case err = <-done:
	case <-runCtx.Done():
		err = runCtx.Err()
	}

	cb.complete(err, halfOpen)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	if cb.forceOpen.Load() {
		return false
	}
	if cb.forceClosed.Load() {
		return true
	}

	switch cb.GetState() {
	case StateClosed.String():
		return true
	case StateOpen.String():
		changedAt, _ := cb.stateChangedAt.Load().(time.Time)
		if time.Since(changedAt) > cb.config.SleepWindow {
			cb.mu.Lock()
			if cb.state.Load().(CircuitState) == StateOpen {
				cb.transitionTo(StateHalfOpen)
				cb.halfOpenTotal.Store(0)
				cb.halfOpenSuccesses.Store(0)
				cb.halfOpenFailures.Store(0)
			}
			cb.mu.Unlock()
			return cb.allow()
		}
		return false
	case StateHalfOpen.String():
		return cb.halfOpenTotal.Add(1) <= int32(cb.config.HalfOpenRequests)
	default:
		return true
	}
}

func (cb *CircuitBreaker) complete(err error, wasHalfOpen bool) {
	failed := cb.config.ErrorClassifier(err)
	if failed {
		cb.window.recordFailure()
	} else {
		cb.window.recordSuccess()
	}

	if wasHalfOpen {
		if failed {
			cb.halfOpenFailures.Add(1)
			cb.mu.Lock()
			cb.transitionTo(StateOpen)
			cb.mu.Unlock()
			return
		}
		successes := cb.halfOpenSuccesses.Add(1)
		total := cb.halfOpenTotal.Load()
		if total > 0 && float64(successes)/float64(total) >= cb.config.SuccessThreshold {
			cb.mu.Lock()
			cb.transitionTo(StateClosed)
			cb.window.reset()
			cb.mu.Unlock()
		}
		return
	}

	cb.evaluate()
}

func (cb *CircuitBreaker) evaluate() {
	total := cb.window.total()
	if int(total) < cb.config.VolumeThreshold {
		return
	}
	if cb.window.errorRate() >= cb.config.ErrorThreshold {
		cb.mu.Lock()
		if cb.state.Load().(CircuitState) == StateClosed {
			cb.transitionTo(StateOpen)
		}
		cb.mu.Unlock()
	}
}

func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	old := cb.state.Load().(CircuitState)
	if old == newState {
		return
	}
	cb.state.Store(newState)
	cb.stateChangedAt.Store(time.Now())
	cb.config.Logger.Info("circuit breaker state change", map[string]interface{}{
		"name": cb.config.Name, "from": old.String(), "to": newState.String(),
	})
}

// GetState returns the current state as a string ("closed"/"open"/"half-open").
func (cb *CircuitBreaker) GetState() string {
	s, _ := cb.state.Load().(CircuitState)
	return s.String()
}

// CanExecute reports whether a call would currently be allowed, without
// consuming a half-open probe slot.
func (cb *CircuitBreaker) CanExecute() bool {
	return cb.GetState() != StateOpen.String() || time.Since(cb.stateChangedAt.Load().(time.Time)) > cb.config.SleepWindow
}

// Metrics exposes a snapshot suitable for /health and /metrics surfaces.
func (cb *CircuitBreaker) Metrics() map[string]interface{} {
	success, failure := cb.window.counts()
	return map[string]interface{}{
		"name":                cb.config.Name,
		"state":               cb.GetState(),
		"total_executions":    cb.totalExecutions.Load(),
		"rejected_executions": cb.rejectedExecutions.Load(),
		"window_success":      success,
		"window_failure":      failure,
		"window_error_rate":   cb.window.errorRate(),
	}
}

// ForceOpen/ForceClosed/ClearForce support manual operator overrides; no
// CLI command in this repository calls them.
func (cb *CircuitBreaker) ForceOpen()   { cb.forceClosed.Store(false); cb.forceOpen.Store(true) }
func (cb *CircuitBreaker) ForceClosed() { cb.forceOpen.Store(false); cb.forceClosed.Store(true) }
func (cb *CircuitBreaker) ClearForce() {
	cb.forceOpen.Store(false)
	cb.forceClosed.Store(false)
}

// bucket/slidingWindow: time-bucketed success/failure counters, matching
// gomind's SlidingWindow (rotating buckets rather than a single long-lived
// counter so old failures age out).
type bucket struct {
	success atomic.Uint64
	failure atomic.Uint64
}

type slidingWindow struct {
	mu          sync.Mutex
	buckets     []bucket
	bucketSpan  time.Duration
	windowSize  time.Duration
	lastRotate  time.Time
	currentIdx  int
}

func newSlidingWindow(windowSize time.Duration, bucketCount int) *slidingWindow {
	if bucketCount <= 0 {
		bucketCount = 10
	}
	return &slidingWindow{
		buckets:    make([]bucket, bucketCount),
		bucketSpan: windowSize / time.Duration(bucketCount),
		windowSize: windowSize,
		lastRotate: time.Now(),
	}
}

func (sw *slidingWindow) rotateLocked() {
	elapsed := time.Since(sw.lastRotate)
	if sw.bucketSpan <= 0 {
		return
	}
	steps := int(elapsed / sw.bucketSpan)
	if steps <= 0 {
		return
	}
	if steps > len(sw.buckets) {
		steps = len(sw.buckets)
	}
	for i := 0; i < steps; i++ {
		sw.currentIdx = (sw.currentIdx + 1) % len(sw.buckets)
		sw.buckets[sw.currentIdx] = bucket{}
	}
	sw.lastRotate = time.Now()
}

func (sw *slidingWindow) recordSuccess() {
	sw.mu.Lock()
	sw.rotateLocked()
	sw.buckets[sw.currentIdx].success.Add(1)
	sw.mu.Unlock()
}

func (sw *slidingWindow) recordFailure() {
	sw.mu.Lock()
	sw.rotateLocked()
	sw.buckets[sw.currentIdx].failure.Add(1)
	sw.mu.Unlock()
}

func (sw *slidingWindow) counts() (success, failure uint64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.rotateLocked()
	for _, b := range sw.buckets {
		success += b.success.Load()
		failure += b.failure.Load()
	}
	return
}

func (sw *slidingWindow) total() uint64 {
	s, f := sw.counts()
	return s + f
}

func (sw *slidingWindow) errorRate() float64 {
	s, f := sw.counts()
	total := s + f
	if total == 0 {
		return 0
	}
	return float64(f) / float64(total)
}

func (sw *slidingWindow) reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.buckets = make([]bucket, len(sw.buckets))
	sw.lastRotate = time.Now()
}
