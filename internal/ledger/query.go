package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"applyflow-engine/internal/domain"
)

// Filter narrows a Query. Zero fields mean "any".
type Filter struct {
	Fingerprint string
	States      []domain.AttemptState
	Tier        domain.Tier
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Query is the stable read contract over the ledger, used by the router
// for dedup checks and by the HTTP surface for reporting.
func (l *Ledger) Query(ctx context.Context, f Filter) ([]domain.AutomationAttempt, error) {
	var conds []string
	var args []any

	if f.Fingerprint != "" {
		conds = append(conds, "fingerprint = ?")
		args = append(args, f.Fingerprint)
	}
	if len(f.States) > 0 {
		ph := make([]string, len(f.States))
		for i, s := range f.States {
			ph[i] = "?"
			args = append(args, string(s))
		}
		conds = append(conds, "state IN ("+strings.Join(ph, ",")+")")
	}
	if f.Tier.Valid() {
		conds = append(conds, "tier = ?")
		args = append(args, int(f.Tier))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "updated_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "updated_at < ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	if f.Limit <= 0 || f.Limit > 2000 {
		f.Limit = 500
	}
	args = append(args, f.Limit)

	query := fmt.Sprintf(`
SELECT id, fingerprint, tier, attempt_no, state, reason, session_id, checkpoint, confirmed, created_at, updated_at
FROM attempts
%s
ORDER BY updated_at DESC
LIMIT ?;`, where)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AutomationAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Latest returns the newest attempt for a fingerprint, if any.
func (l *Ledger) Latest(ctx context.Context, fingerprint string) (domain.AutomationAttempt, bool, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT id, fingerprint, tier, attempt_no, state, reason, session_id, checkpoint, confirmed, created_at, updated_at
FROM attempts
WHERE fingerprint = ?
ORDER BY attempt_no DESC
LIMIT 1;`, fingerprint)

	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return a, false, nil
	}
	if err != nil {
		return a, false, err
	}
	return a, true, nil
}

// HasInFlight reports whether a non-terminal attempt exists.
func (l *Ledger) HasInFlight(ctx context.Context, fingerprint string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM attempts WHERE fingerprint = ? AND in_flight = 1;`,
		fingerprint).Scan(&n)
	return n > 0, err
}

// HasSubmitted reports whether a successful attempt exists.
func (l *Ledger) HasSubmitted(ctx context.Context, fingerprint string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM attempts WHERE fingerprint = ? AND state = ?;`,
		fingerprint, string(domain.StateSubmitted)).Scan(&n)
	return n > 0, err
}

// InFlight returns all attempts still holding the in-flight slot. Used at
// startup to recover work interrupted by a crash.
func (l *Ledger) InFlight(ctx context.Context) ([]domain.AutomationAttempt, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT id, fingerprint, tier, attempt_no, state, reason, session_id, checkpoint, confirmed, created_at, updated_at
FROM attempts
WHERE in_flight = 1
ORDER BY created_at ASC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AutomationAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(r rowScanner) (domain.AutomationAttempt, error) {
	var a domain.AutomationAttempt
	var tier, confirmed int
	var state, created, updated string
	if err := r.Scan(
		&a.ID, &a.Fingerprint, &tier, &a.AttemptNo, &state, &a.Reason,
		&a.SessionID, &a.Checkpoint, &confirmed, &created, &updated,
	); err != nil {
		return a, err
	}
	a.Tier = domain.Tier(tier)
	a.State = domain.AttemptState(state)
	a.Confirmed = confirmed > 0
	a.CreatedAt, _ = time.Parse(time.RFC3339, created)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return a, nil
}
