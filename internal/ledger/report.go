package ledger

import (
	"context"
)

// Report is the operator-facing rollup: counts per state and per reason
// code. Individual failures never surface here, only their tallies.
type Report struct {
	Total    int            `json:"total"`
	ByState  map[string]int `json:"by_state"`
	ByTier   map[int]int    `json:"by_tier"`
	ByReason map[string]int `json:"by_reason"`
}

func (l *Ledger) Report(ctx context.Context) (Report, error) {
	rep := Report{
		ByState:  map[string]int{},
		ByTier:   map[int]int{},
		ByReason: map[string]int{},
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT state, COUNT(*) FROM attempts GROUP BY state;`)
	if err != nil {
		return rep, err
	}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return rep, err
		}
		rep.ByState[state] = n
		rep.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return rep, err
	}

	rows, err = l.db.QueryContext(ctx, `
SELECT tier, COUNT(*) FROM attempts GROUP BY tier;`)
	if err != nil {
		return rep, err
	}
	for rows.Next() {
		var tier, n int
		if err := rows.Scan(&tier, &n); err != nil {
			rows.Close()
			return rep, err
		}
		rep.ByTier[tier] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return rep, err
	}

	rows, err = l.db.QueryContext(ctx, `
SELECT reason, COUNT(*) FROM attempts WHERE reason != '' GROUP BY reason;`)
	if err != nil {
		return rep, err
	}
	defer rows.Close()
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return rep, err
		}
		rep.ByReason[reason] = n
	}
	return rep, rows.Err()
}
