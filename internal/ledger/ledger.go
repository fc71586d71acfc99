// Package ledger is the durable record of every automation attempt and the
// synchronization point for the whole pipeline: Propose is the only way an
// attempt comes into existence, and it refuses a second in-flight attempt
// for the same fingerprint.
package ledger

import (
	"database/sql"
	"errors"
)

var (
	// ErrDuplicateInFlight means the fingerprint already has a queued or
	// filling attempt. Callers resolve this silently as a skip.
	ErrDuplicateInFlight = errors.New("ledger: attempt already in flight for fingerprint")

	// ErrIllegalTransition means the requested state change would violate
	// the one-directional state machine.
	ErrIllegalTransition = errors.New("ledger: illegal state transition")

	// ErrUnknownAttempt means the handle does not reference a stored attempt.
	ErrUnknownAttempt = errors.New("ledger: unknown attempt")
)

// Ledger owns all AutomationAttempt records. Other components propose and
// read; only the ledger mutates.
type Ledger struct {
	db *sql.DB
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// AttemptHandle identifies one proposed attempt for later Record calls.
type AttemptHandle struct {
	ID          int64
	Fingerprint string
	Tier        int
	AttemptNo   int
}
