package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbridge-dev/crossbridge/internal/resilience"
)

func TestCircuitBreaker_ClosedAllowsCalls(t *testing.T) {
	cb := resilience.New(resilience.DefaultConfig("test"))
	err := cb.Execute(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "closed", cb.GetState())
}

func TestCircuitBreaker_OpensAfterVolumeAndErrorThreshold(t *testing.T) {
	cfg := resilience.DefaultConfig("opens")
	cfg.VolumeThreshold = 2
	cfg.ErrorThreshold = 0.5
	cb := resilience.New(cfg)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return boom })
	}

	assert.Equal(t, "open", cb.GetState())
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cfg := resilience.DefaultConfig("reject")
	cfg.VolumeThreshold = 1
	cfg.ErrorThreshold = 0.1
	cb := resilience.New(cfg)

	boom := errors.New("boom")
	_ = cb.Execute(context.Background(), func() error { return boom })
	require.Equal(t, "open", cb.GetState())

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.Error(t, err)
}

func TestCircuitBreaker_HalfOpenClosesOnSuccess(t *testing.T) {
	cfg := resilience.DefaultConfig("half-open")
	cfg.VolumeThreshold = 1
	cfg.ErrorThreshold = 0.1
	cfg.SleepWindow = 10 * time.Millisecond
	cfg.SuccessThreshold = 0.5
	cfg.HalfOpenRequests = 2
	cb := resilience.New(cfg)

	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	require.Equal(t, "open", cb.GetState())

	time.Sleep(20 * time.Millisecond)

	_ = cb.Execute(context.Background(), func() error { return nil })
	assert.Equal(t, "closed", cb.GetState())
}

func TestCircuitBreaker_ForceOpenAndClear(t *testing.T) {
	cb := resilience.New(resilience.DefaultConfig("force"))
	cb.ForceOpen()
	err := cb.Execute(context.Background(), func() error { return nil })
	assert.Error(t, err)

	cb.ClearForce()
	err = cb.Execute(context.Background(), func() error { return nil })
	assert.NoError(t, err)
}

func TestCircuitBreaker_PanicRecovered(t *testing.T) {
	cb := resilience.New(resilience.DefaultConfig("panic"))
	err := cb.ExecuteWithTimeout(context.Background(), 0, func() error {
		panic("kaboom")
	})
	assert.Error(t, err)
}

func TestCircuitBreaker_Metrics(t *testing.T) {
	cb := resilience.New(resilience.DefaultConfig("metrics"))
	_ = cb.Execute(context.Background(), func() error { return nil })
	m := cb.Metrics()
	assert.Equal(t, "metrics", m["name"])
	assert.Equal(t, uint64(1), m["total_executions"])
}
