package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"applyflow-engine/internal/domain"
)

// Propose opens a new attempt in state queued, or rejects if the
// fingerprint already has one in flight. All workers must get a handle
// here before touching any website; the partial unique index on
// attempts(fingerprint) WHERE in_flight=1 backs the check even when two
// Propose calls race.
func (l *Ledger) Propose(ctx context.Context, fingerprint string, tier domain.Tier) (AttemptHandle, error) {
	var h AttemptHandle

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return h, err
	}
	defer func() { _ = tx.Rollback() }()

	var inFlight int
	if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM attempts WHERE fingerprint = ? AND in_flight = 1;`,
		fingerprint).Scan(&inFlight); err != nil {
		return h, err
	}
	if inFlight > 0 {
		return h, ErrDuplicateInFlight
	}

	var nextNo int
	if err := tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(attempt_no), 0) + 1 FROM attempts WHERE fingerprint = ?;`,
		fingerprint).Scan(&nextNo); err != nil {
		return h, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `
INSERT INTO attempts(fingerprint, tier, attempt_no, state, in_flight, created_at, updated_at)
VALUES(?,?,?,?,1,?,?);`,
		fingerprint, int(tier), nextNo, string(domain.StateQueued), now, now,
	)
	if err != nil {
		// Raced with another Propose between the check and the insert;
		// the unique index turns that into a constraint error.
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "constraint") {
			return h, ErrDuplicateInFlight
		}
		return h, fmt.Errorf("propose attempt: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return h, err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO attempt_history(attempt_id, old_state, new_state, changed_at)
VALUES(?, '', ?, ?);`,
		id, string(domain.StateQueued), now,
	); err != nil {
		return h, err
	}

	if err := tx.Commit(); err != nil {
		return h, err
	}

	h = AttemptHandle{ID: id, Fingerprint: fingerprint, Tier: int(tier), AttemptNo: nextNo}
	return h, nil
}
