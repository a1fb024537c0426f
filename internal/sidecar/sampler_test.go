package sidecar_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/crossbridge-dev/crossbridge/internal/sidecar"
)

func TestSampler_DecideAlwaysTrueAtRateOne(t *testing.T) {
	s := sidecar.NewSampler(map[sidecar.EventType]float64{sidecar.EventTypeEvents: 1.0}, sidecar.AdaptiveConfig{})
	for i := 0; i < 20; i++ {
		assert.True(t, s.Decide(sidecar.EventTypeEvents))
	}
}

func TestSampler_DecideAlwaysFalseAtRateZero(t *testing.T) {
	s := sidecar.NewSampler(map[sidecar.EventType]float64{sidecar.EventTypeEvents: 0}, sidecar.AdaptiveConfig{})
	for i := 0; i < 20; i++ {
		assert.False(t, s.Decide(sidecar.EventTypeEvents))
	}
}

func TestSampler_DecideUnknownEventTypeFalse(t *testing.T) {
	s := sidecar.NewSampler(sidecar.DefaultRates(), sidecar.AdaptiveConfig{})
	assert.False(t, s.Decide(sidecar.EventType("unknown")))
}

func TestSampler_ReportAnomalyBoostsRate(t *testing.T) {
	s := sidecar.NewSampler(map[sidecar.EventType]float64{sidecar.EventTypeEvents: 0},
		sidecar.AdaptiveConfig{Enabled: true, BoostFactor: 100, BoostDuration: time.Minute})

	assert.False(t, s.Decide(sidecar.EventTypeEvents))
	s.ReportAnomaly(sidecar.EventTypeEvents, "error-spike")
	s.SetRate(sidecar.EventTypeEvents, 0.01)
	assert.True(t, s.Decide(sidecar.EventTypeEvents))
}

func TestSampler_ReportAnomalyNoOpWhenAdaptiveDisabled(t *testing.T) {
	s := sidecar.NewSampler(map[sidecar.EventType]float64{sidecar.EventTypeEvents: 0.01},
		sidecar.AdaptiveConfig{Enabled: false, BoostFactor: 1000, BoostDuration: time.Minute})

	s.ReportAnomaly(sidecar.EventTypeEvents, "error-spike")
	trues := 0
	for i := 0; i < 200; i++ {
		if s.Decide(sidecar.EventTypeEvents) {
			trues++
		}
	}
	assert.Less(t, trues, 200)
}

func TestSampler_ScaleAll(t *testing.T) {
	s := sidecar.NewSampler(map[sidecar.EventType]float64{sidecar.EventTypeEvents: 1.0}, sidecar.AdaptiveConfig{})
	s.ScaleAll(0.25)
	s.ScaleAll(4.0) // back to 1.0, verifying ScaleAll is multiplicative rather than a reset
	assert.True(t, s.Decide(sidecar.EventTypeEvents))
}

func TestSampler_SetRate(t *testing.T) {
	s := sidecar.NewSampler(map[sidecar.EventType]float64{sidecar.EventTypeEvents: 0}, sidecar.AdaptiveConfig{})
	s.SetRate(sidecar.EventTypeEvents, 1.0)
	assert.True(t, s.Decide(sidecar.EventTypeEvents))
}
