// Package sidecar implements the C4 sidecar runtime (spec §4.4): the
// HTTP observer, lock-free Sampler, bounded Observer queue, worker pool,
// and Profiler. The Sampler's atomic rate/boost cells generalize
// telemetry.RateLimiter's mutex-guarded interval check into a genuinely
// lock-free path (atomic reads of rate and boost deadline) as spec §4.4
// requires for the common decide() call.
package sidecar

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"
)

// EventType enumerates the sampler's rate buckets.
type EventType string

const (
	EventTypeEvents    EventType = "events"
	EventTypeTraces    EventType = "traces"
	EventTypeProfiling EventType = "profiling"
	EventTypeTestEvent EventType = "test_events"
)

// AdaptiveConfig tunes boost-on-anomaly behavior.
type AdaptiveConfig struct {
	Enabled      bool
	BoostFactor  float64
	BoostDuration time.Duration
}

func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{Enabled: true, BoostFactor: 5.0, BoostDuration: 60 * time.Second}
}

// rateCell holds one event type's base rate and boost deadline as atomics
// so Decide never takes a lock on the hot path. The rate is stored as
// float64 bits (atomic.Uint64) since Go has no atomic.Float64; the boost
// deadline is a UnixNano int64, 0 meaning "no active boost".
type rateCell struct {
	rateBits      atomic.Uint64
	boostDeadline atomic.Int64
}

func newRateCell(rate float64) *rateCell {
	c := &rateCell{}
	c.rateBits.Store(math.Float64bits(rate))
	return c
}

func (c *rateCell) rate() float64 {
	return math.Float64frombits(c.rateBits.Load())
}

func (c *rateCell) setRate(rate float64) {
	c.rateBits.Store(math.Float64bits(rate))
}

func (c *rateCell) boostUntil(deadline time.Time) {
	c.boostDeadline.Store(deadline.UnixNano())
}

func (c *rateCell) boosted(now time.Time) bool {
	deadline := c.boostDeadline.Load()
	return deadline != 0 && now.UnixNano() < deadline
}

// Sampler decides whether to ingest an event, per event type, at a
// configurable base rate with an adaptive anomaly boost (spec §4.4).
type Sampler struct {
	cells    map[EventType]*rateCell
	adaptive AdaptiveConfig
	rand     func() float64
}

// DefaultRates mirrors spec §4.4's defaults: events 0.1, traces 0.05,
// profiling 0.01, test_events 0.2.
func DefaultRates() map[EventType]float64 {
	return map[EventType]float64{
		EventTypeEvents:    0.1,
		EventTypeTraces:    0.05,
		EventTypeProfiling: 0.01,
		EventTypeTestEvent: 0.2,
	}
}

func NewSampler(rates map[EventType]float64, adaptive AdaptiveConfig) *Sampler {
	if rates == nil {
		rates = DefaultRates()
	}
	cells := make(map[EventType]*rateCell, len(rates))
	for t, r := range rates {
		cells[t] = newRateCell(r)
	}
	return &Sampler{cells: cells, adaptive: adaptive, rand: defaultRand}
}

// Decide returns true with probability base_rate * active_boost_factor,
// clipped to 1.0. The common path is two atomic loads and a comparison —
// no locks, no allocation.
func (s *Sampler) Decide(eventType EventType) bool {
	cell, ok := s.cells[eventType]
	if !ok {
		return false
	}
	rate := cell.rate()
	now := time.Now()
	if cell.boosted(now) {
		rate *= s.adaptive.BoostFactor
	}
	if rate > 1.0 {
		rate = 1.0
	}
	return s.rand() < rate
}

// ReportAnomaly boosts the named event type's effective rate for
// adaptive.boost_duration, per spec §4.4's report_anomaly(type, kind).
func (s *Sampler) ReportAnomaly(eventType EventType, kind string) {
	if !s.adaptive.Enabled {
		return
	}
	cell, ok := s.cells[eventType]
	if !ok {
		return
	}
	cell.boostUntil(time.Now().Add(s.adaptive.BoostDuration))
}

// SetRate reconfigures the base rate for eventType, used by
// reload_config(); the profiler's over-budget reduction uses ScaleAll.
func (s *Sampler) SetRate(eventType EventType, rate float64) {
	if cell, ok := s.cells[eventType]; ok {
		cell.setRate(rate)
	}
}

// ScaleAll multiplies every base rate by factor, used when the profiler
// detects a CPU budget overrun (spec §4.4: "lowers all base sampling
// rates to 25% of configured values").
func (s *Sampler) ScaleAll(factor float64) {
	for _, cell := range s.cells {
		cell.setRate(cell.rate() * factor)
	}
}

func defaultRand() float64 {
	return rand.Float64()
}
