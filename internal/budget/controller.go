// Package budget bounds how many attempts each tier may make per hour
// and per day. Windows are rows in sqlite, so caps survive restarts;
// rollover is computed from the wall clock at check time, never from a
// timer task.
package budget

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"applyflow-engine/internal/config"
	"applyflow-engine/internal/domain"
)

const (
	kindHour = "hour"
	kindDay  = "day"
)

// Controller is the sole owner of BudgetWindow state. Reserve is an
// atomic check-and-increment: two workers racing for the last token
// cannot both win.
type Controller struct {
	db   *sql.DB
	mu   sync.Mutex
	caps func(t domain.Tier) config.TierBudget
}

func NewController(db *sql.DB, caps func(t domain.Tier) config.TierBudget) *Controller {
	return &Controller{db: db, caps: caps}
}

func windowStart(kind string, now time.Time) time.Time {
	now = now.UTC()
	if kind == kindDay {
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	return now.Truncate(time.Hour)
}

func capFor(b config.TierBudget, kind string) int {
	if kind == kindDay {
		return b.Daily
	}
	return b.Hourly
}

// currentUsed returns the live counter for (tier, kind), rolling the
// window over inside tx if the stored one has expired.
func currentUsed(ctx context.Context, tx *sql.Tx, tier domain.Tier, kind string, now time.Time) (int, error) {
	start := windowStart(kind, now).Format(time.RFC3339)

	if _, err := tx.ExecContext(ctx, `
INSERT INTO budget_windows(tier, kind, window_start, used, consumed)
VALUES(?,?,?,0,0)
ON CONFLICT(tier, kind) DO UPDATE SET
  used = CASE WHEN budget_windows.window_start != excluded.window_start THEN 0 ELSE budget_windows.used END,
  consumed = CASE WHEN budget_windows.window_start != excluded.window_start THEN 0 ELSE budget_windows.consumed END,
  window_start = excluded.window_start;`,
		int(tier), kind, start,
	); err != nil {
		return 0, fmt.Errorf("roll budget window: %w", err)
	}

	var used int
	err := tx.QueryRowContext(ctx, `
SELECT used FROM budget_windows WHERE tier = ? AND kind = ?;`,
		int(tier), kind).Scan(&used)
	return used, err
}

// Reserve claims one token in both the hourly and daily window, or
// neither. A false return is a deferral, not an error.
func (c *Controller) Reserve(ctx context.Context, tier domain.Tier) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	caps := c.caps(tier)
	now := time.Now()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, kind := range []string{kindHour, kindDay} {
		used, err := currentUsed(ctx, tx, tier, kind, now)
		if err != nil {
			return false, err
		}
		if used >= capFor(caps, kind) {
			return false, nil
		}
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE budget_windows SET used = used + 1 WHERE tier = ? AND kind IN (?, ?);`,
		int(tier), kindHour, kindDay,
	); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// Consume marks a reserved token as spent on a real website interaction.
// The token stays counted against the caps; consumed is kept as a stat.
func (c *Controller) Consume(ctx context.Context, tier domain.Tier) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, `
UPDATE budget_windows SET consumed = consumed + 1 WHERE tier = ? AND kind IN (?, ?);`,
		int(tier), kindHour, kindDay,
	)
	return err
}

// Release returns a reserved token that never reached the website
// (session setup failure, block signal before any interaction). A token
// whose window has already rolled over is simply gone.
func (c *Controller) Release(ctx context.Context, tier domain.Tier) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, `
UPDATE budget_windows SET used = CASE WHEN used > 0 THEN used - 1 ELSE 0 END
WHERE tier = ? AND kind IN (?, ?);`,
		int(tier), kindHour, kindDay,
	)
	return err
}

// WindowStatus is the operator view of one live window.
type WindowStatus struct {
	Tier        int    `json:"tier"`
	Kind        string `json:"kind"`
	WindowStart string `json:"window_start"`
	Used        int    `json:"used"`
	Consumed    int    `json:"consumed"`
	Cap         int    `json:"cap"`
}

func (c *Controller) Status(ctx context.Context) ([]WindowStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var out []WindowStatus

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, tier := range []domain.Tier{domain.Tier1, domain.Tier2, domain.Tier3} {
		caps := c.caps(tier)
		for _, kind := range []string{kindHour, kindDay} {
			used, err := currentUsed(ctx, tx, tier, kind, now)
			if err != nil {
				return nil, err
			}
			var consumed int
			var start string
			if err := tx.QueryRowContext(ctx, `
SELECT consumed, window_start FROM budget_windows WHERE tier = ? AND kind = ?;`,
				int(tier), kind).Scan(&consumed, &start); err != nil {
				return nil, err
			}
			out = append(out, WindowStatus{
				Tier: int(tier), Kind: kind, WindowStart: start,
				Used: used, Consumed: consumed, Cap: capFor(caps, kind),
			})
		}
	}

	return out, tx.Commit()
}
