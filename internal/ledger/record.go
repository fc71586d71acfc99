package ledger

import (
	"context"
	"fmt"
	"time"

	"applyflow-engine/internal/domain"
)

// Meta carries transition metadata. Zero values leave the stored column
// untouched except Reason, which always overwrites.
type Meta struct {
	Reason     string
	SessionID  string
	Checkpoint string
}

// Record durably persists a state transition. It is called before the
// engine takes the action the new state implies (write-ahead ordering),
// so a crash never loses more than the action in progress.
func (l *Ledger) Record(ctx context.Context, h AttemptHandle, next domain.AttemptState, meta Meta) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrIllegalTransition, next)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var cur string
	if err := tx.QueryRowContext(ctx, `
SELECT state FROM attempts WHERE id = ?;`, h.ID).Scan(&cur); err != nil {
		return ErrUnknownAttempt
	}

	curState := domain.AttemptState(cur)
	if !curState.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s (attempt %d)", ErrIllegalTransition, cur, next, h.ID)
	}

	inFlight := 0
	if next.InFlight() {
		inFlight = 1
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `
UPDATE attempts
SET state = ?, reason = ?, in_flight = ?,
    session_id = CASE WHEN ? != '' THEN ? ELSE session_id END,
    checkpoint = CASE WHEN ? != '' THEN ? ELSE checkpoint END,
    updated_at = ?
WHERE id = ?;`,
		string(next), meta.Reason, inFlight,
		meta.SessionID, meta.SessionID,
		meta.Checkpoint, meta.Checkpoint,
		now, h.ID,
	); err != nil {
		return fmt.Errorf("record transition: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO attempt_history(attempt_id, old_state, new_state, reason, checkpoint, changed_at)
VALUES(?,?,?,?,?,?);`,
		h.ID, cur, string(next), meta.Reason, meta.Checkpoint, now,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// Progress updates checkpoint metadata while an attempt stays in filling.
// Checkpoints are progress breadcrumbs, not states: a crash resumes from
// the last durable one.
func (l *Ledger) Progress(ctx context.Context, h AttemptHandle, checkpoint string) error {
	res, err := l.db.ExecContext(ctx, `
UPDATE attempts
SET checkpoint = ?, updated_at = ?
WHERE id = ? AND state = ?;`,
		checkpoint, time.Now().UTC().Format(time.RFC3339), h.ID, string(domain.StateFilling),
	)
	if err != nil {
		return fmt.Errorf("record checkpoint: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrUnknownAttempt
	}
	return nil
}

// MarkConfirmed backfills external confirmation evidence (e.g. a
// confirmation email) onto the newest submitted attempt for a fingerprint.
func (l *Ledger) MarkConfirmed(ctx context.Context, fingerprint string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
UPDATE attempts
SET confirmed = 1, updated_at = ?
WHERE id = (
  SELECT id FROM attempts
  WHERE fingerprint = ? AND state = ?
  ORDER BY attempt_no DESC LIMIT 1
);`,
		time.Now().UTC().Format(time.RFC3339), fingerprint, string(domain.StateSubmitted),
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
