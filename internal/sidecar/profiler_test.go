package sidecar_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/crossbridge-dev/crossbridge/internal/sidecar"
)

func TestProfiler_IsOverBudget_NoSamplesYet(t *testing.T) {
	p := sidecar.NewProfiler(10*time.Millisecond, time.Second)
	status := p.IsOverBudget(50, 100)
	assert.False(t, status.OverCPU)
	assert.False(t, status.OverMemory)
}

func TestProfiler_RunCollectsSamples(t *testing.T) {
	p := sidecar.NewProfiler(5*time.Millisecond, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	summary := p.GetSummary(time.Second)
	assert.Greater(t, summary.SampleCount, 0)
}

func TestProfiler_RecoveredRequiresTwoConsecutiveInBudgetSamples(t *testing.T) {
	p := sidecar.NewProfiler(time.Millisecond, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	// With huge budgets, every collected sample is in-budget.
	p.IsOverBudget(1e9, 1e9)
	p.IsOverBudget(1e9, 1e9)
	assert.True(t, p.Recovered())
}
