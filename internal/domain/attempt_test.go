package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from AttemptState
		to   AttemptState
		ok   bool
	}{
		{"queued to filling", StateQueued, StateFilling, true},
		{"queued to failed_retryable", StateQueued, StateFailedRetryable, true},
		{"queued to failed_terminal", StateQueued, StateFailedTerminal, true},
		{"queued to needs_manual_review", StateQueued, StateNeedsManualReview, true},
		{"queued cannot submit directly", StateQueued, StateSubmitted, false},
		{"filling to submitted", StateFilling, StateSubmitted, true},
		{"filling to needs_manual_review", StateFilling, StateNeedsManualReview, true},
		{"filling to failed_retryable", StateFilling, StateFailedRetryable, true},
		{"filling to failed_terminal", StateFilling, StateFailedTerminal, true},
		{"filling cannot requeue", StateFilling, StateQueued, false},
		{"submitted is terminal", StateSubmitted, StateFilling, false},
		{"submitted cannot fail", StateSubmitted, StateFailedRetryable, false},
		{"failed_terminal is terminal", StateFailedTerminal, StateQueued, false},
		{"failed_retryable is terminal for the row", StateFailedRetryable, StateFilling, false},
		{"needs_manual_review is terminal", StateNeedsManualReview, StateSubmitted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestInFlight(t *testing.T) {
	assert.True(t, StateQueued.InFlight())
	assert.True(t, StateFilling.InFlight())
	assert.False(t, StateSubmitted.InFlight())
	assert.False(t, StateFailedRetryable.InFlight())
	assert.False(t, StateFailedTerminal.InFlight())
	assert.False(t, StateNeedsManualReview.InFlight())
}

func TestStrategyForTier(t *testing.T) {
	assert.Equal(t, StrategyFullAuto, StrategyForTier(Tier1))
	assert.Equal(t, StrategyDelayedAuto, StrategyForTier(Tier2))
	assert.Equal(t, StrategyPrefillOnly, StrategyForTier(Tier3))
}
