package domain

import "time"

// AttemptState is the lifecycle state of one automation attempt.
// Transitions are one-directional: queued -> filling -> an end state.
// An end state is never mutated back; a retry is a brand-new attempt
// record with the next attempt number.
type AttemptState string

const (
	StateQueued            AttemptState = "queued"
	StateFilling           AttemptState = "filling"
	StateSubmitted         AttemptState = "submitted"
	StateNeedsManualReview AttemptState = "needs_manual_review"
	StateFailedRetryable   AttemptState = "failed_retryable"
	StateFailedTerminal    AttemptState = "failed_terminal"
)

// InFlight reports whether the state still holds the per-fingerprint
// in-flight slot in the ledger.
func (s AttemptState) InFlight() bool {
	return s == StateQueued || s == StateFilling
}

// Valid reports whether s is a known state.
func (s AttemptState) Valid() bool {
	switch s {
	case StateQueued, StateFilling, StateSubmitted,
		StateNeedsManualReview, StateFailedRetryable, StateFailedTerminal:
		return true
	}
	return false
}

// CanTransition reports whether s -> next is a legal transition.
func (s AttemptState) CanTransition(next AttemptState) bool {
	switch s {
	case StateQueued:
		// An attempt can fail or be parked before any browser work
		// (session setup failure, shutdown mid-queue).
		return next == StateFilling || next == StateFailedRetryable ||
			next == StateFailedTerminal || next == StateNeedsManualReview
	case StateFilling:
		return next == StateSubmitted || next == StateNeedsManualReview ||
			next == StateFailedRetryable || next == StateFailedTerminal
	}
	return false
}

// AutomationAttempt is one tracked try at submitting an application.
// The ledger is the sole owner of these records.
type AutomationAttempt struct {
	ID          int64        `json:"id"`
	Fingerprint string       `json:"fingerprint"`
	Tier        Tier         `json:"tier"`
	AttemptNo   int          `json:"attempt_no"`
	State       AttemptState `json:"state"`
	Reason      string       `json:"reason,omitempty"` // failure/park reason code
	SessionID   string       `json:"session_id,omitempty"`
	Checkpoint  string       `json:"checkpoint,omitempty"` // last completed checkpoint, progress metadata only
	Confirmed   bool         `json:"confirmed"` // external confirmation evidence observed
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
