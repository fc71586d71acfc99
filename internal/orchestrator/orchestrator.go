// Package orchestrator ties the pipeline stages together: fetch, ingest,
// classify, score, route, enqueue. One RunOnce is one full pass over the
// recent posting window; passes are cheap to repeat because every stage
// downstream of ingest is idempotent.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"applyflow-engine/internal/classify"
	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/engine"
	"applyflow-engine/internal/events"
	"applyflow-engine/internal/ingest"
	"applyflow-engine/internal/ledger"
	"applyflow-engine/internal/route"
	"applyflow-engine/internal/score"
	"applyflow-engine/internal/source"
	"applyflow-engine/internal/store"
)

// RunStats summarizes one pipeline pass.
type RunStats struct {
	Fetched    int `json:"fetched"`
	Added      int `json:"added"`
	Invalid    int `json:"invalid"`
	Dispatched int `json:"dispatched"`
	Skipped    int `json:"skipped"`
	Deferred   int `json:"deferred"`
}

// RunStatus is the externally visible poller state, stored in an
// atomic.Value and served by the HTTP surface.
type RunStatus struct {
	LastRunAt string   `json:"last_run_at"`
	LastOkAt  string   `json:"last_ok_at"`
	LastError string   `json:"last_error"`
	Last      RunStats `json:"last"`
	Running   bool     `json:"running"`
}

type Pipeline struct {
	DB         *sql.DB
	Ledger     *ledger.Ledger
	Classifier *classify.Classifier
	Scorer     score.Scorer
	Router     *route.Router
	Engine     *engine.Engine
	Fetchers   []source.Fetcher
	Hub        *events.Hub
	Status     *atomic.Value // stores RunStatus

	running atomic.Bool
}

// RunOnce executes one full pass. Dispatch failures on individual
// postings are logged and counted, not fatal; only infrastructure
// errors (db, ledger) abort the pass.
func (p *Pipeline) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats

	raws := source.FetchAll(ctx, p.Fetchers, 0)
	stats.Fetched = len(raws)

	added, invalid, err := ingest.Run(ctx, p.DB, raws)
	if err != nil {
		return stats, fmt.Errorf("ingest: %w", err)
	}
	stats.Added = added
	stats.Invalid = invalid
	if added > 0 {
		p.publish("postings_added", map[string]any{"added": added})
	}

	postings, err := store.ListPostings(ctx, p.DB, store.ListPostingsOpts{Window: "7d"})
	if err != nil {
		return stats, fmt.Errorf("list postings: %w", err)
	}

	for _, posting := range postings {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		cls, err := p.Classifier.Classify(ctx, posting)
		if err != nil {
			return stats, fmt.Errorf("classify %s: %w", posting.Fingerprint, err)
		}

		fit, _ := p.Scorer.Score(posting)

		decision, err := p.Router.Route(ctx, posting, cls, fit)
		if err != nil {
			return stats, fmt.Errorf("route %s: %w", posting.Fingerprint, err)
		}

		switch decision.Kind {
		case domain.DecisionDispatch:
			task := engine.Task{Posting: posting, Classification: cls}
			if err := p.Engine.Enqueue(ctx, task); err != nil {
				log.Printf("[pipeline] enqueue fp=%s err=%v", posting.Fingerprint, err)
				continue
			}
			stats.Dispatched++
			p.publish("attempt_dispatched", map[string]any{
				"fingerprint": posting.Fingerprint,
				"tier":        int(decision.Tier),
				"strategy":    string(decision.Strategy),
			})
		case domain.DecisionDefer:
			stats.Deferred++
		default:
			stats.Skipped++
		}
	}

	log.Printf("[pipeline] pass done fetched=%d added=%d dispatched=%d skipped=%d deferred=%d",
		stats.Fetched, stats.Added, stats.Dispatched, stats.Skipped, stats.Deferred)
	return stats, nil
}

// Run is the scheduler entrypoint. It updates the shared status value
// around RunOnce so /run and /status stay consistent. The CAS is the
// real mutual exclusion; a tick racing a manual /run yields one pass,
// not two.
func (p *Pipeline) Run(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	defer p.running.Store(false)

	st, _ := p.Status.Load().(RunStatus)
	st.Running = true
	st.LastRunAt = time.Now().UTC().Format(time.RFC3339)
	p.Status.Store(st)

	stats, err := p.RunOnce(ctx)

	next, _ := p.Status.Load().(RunStatus)
	next.Running = false
	next.LastRunAt = time.Now().UTC().Format(time.RFC3339)
	next.Last = stats
	if err != nil {
		next.LastError = err.Error()
		log.Printf("[pipeline] pass err=%v", err)
	} else {
		next.LastError = ""
		next.LastOkAt = next.LastRunAt
	}
	p.Status.Store(next)
}

func (p *Pipeline) publish(typ string, data any) {
	if p.Hub == nil {
		return
	}
	p.Hub.Publish(events.MakeEvent("", typ, 1, data))
}

// Recover sweeps attempts stranded in flight by a crash. An attempt we
// find in queued or filling at startup cannot still be running; its
// budget token was reserved and never settled, so give it back, then
// close the row out so the next pass can re-route the posting.
func Recover(ctx context.Context, lg *ledger.Ledger, eng *engine.Engine, maxRetries int) (int, error) {
	stranded, err := lg.InFlight(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover scan: %w", err)
	}

	recovered := 0
	for _, a := range stranded {
		h := ledger.AttemptHandle{
			ID:          a.ID,
			Fingerprint: a.Fingerprint,
			Tier:        int(a.Tier),
			AttemptNo:   a.AttemptNo,
		}

		next := domain.StateFailedRetryable
		reason := "recovered-after-crash"
		if maxRetries > 0 && a.AttemptNo >= maxRetries {
			next = domain.StateFailedTerminal
			reason = "recovered-after-crash: retries exhausted"
		}

		if err := lg.Record(ctx, h, next, ledger.Meta{Reason: reason}); err != nil {
			return recovered, fmt.Errorf("recover attempt %d: %w", a.ID, err)
		}
		// no checkpoint means the attempt died before its first site
		// interaction, so its budget token was reserved but never spent
		if eng != nil && a.Checkpoint == "" {
			_ = eng.Budget.Release(ctx, a.Tier)
		}
		recovered++
		log.Printf("[recover] attempt=%d fp=%s state=%s->%s checkpoint=%q",
			a.ID, a.Fingerprint, a.State, next, a.Checkpoint)
	}
	return recovered, nil
}
