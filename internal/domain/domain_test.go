package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crossbridge-dev/crossbridge/internal/domain"
)

func TestTestHistoryEntry_FailRate(t *testing.T) {
	cases := []struct {
		name string
		h    domain.TestHistoryEntry
		want float64
	}{
		{"no runs", domain.TestHistoryEntry{}, 0},
		{"all passed", domain.TestHistoryEntry{Runs: 10, Passes: 10}, 0},
		{"all failed", domain.TestHistoryEntry{Runs: 10, Passes: 0}, 1},
		{"half failed", domain.TestHistoryEntry{Runs: 10, Passes: 5}, 0.5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.h.FailRate())
		})
	}
}

func TestTestHistoryEntry_HasTag(t *testing.T) {
	h := domain.TestHistoryEntry{Tags: map[string]struct{}{"smoke": {}}}
	assert.True(t, h.HasTag("smoke"))
	assert.False(t, h.HasTag("critical"))
	assert.False(t, domain.TestHistoryEntry{}.HasTag("smoke"))
}
