// Package engine drives stateful submission attempts. Workers run in
// parallel per tier, each owning one session and one in-flight attempt;
// the ledger's Propose is the only cross-worker serialization point.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"applyflow-engine/internal/budget"
	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/ledger"
	"applyflow-engine/internal/profile"
)

// Task is one dispatched posting. The router already reserved a budget
// token for it.
type Task struct {
	Posting        domain.JobPosting
	Classification domain.Classification
}

type Options struct {
	MaxRetries        int
	Backoff           Backoff
	CheckpointTimeout time.Duration
	Pacer             Pacer
	Workers           map[domain.Tier]int
}

type Engine struct {
	Ledger   *ledger.Ledger
	Budget   *budget.Controller
	Drivers  DriverFactory
	Sessions *SessionManager
	Profile  func(ctx context.Context) (profile.Profile, error)
	Publish  func(evt string)
	Opts     Options

	queues map[domain.Tier]chan Task
}

func New(l *ledger.Ledger, b *budget.Controller, drivers DriverFactory, sessions *SessionManager,
	prof func(ctx context.Context) (profile.Profile, error), opts Options) *Engine {

	queues := make(map[domain.Tier]chan Task)
	for _, t := range []domain.Tier{domain.Tier1, domain.Tier2, domain.Tier3} {
		n := opts.Workers[t]
		if n < 0 {
			n = 0
		}
		queues[t] = make(chan Task, 4*n+4)
	}

	return &Engine{
		Ledger:   l,
		Budget:   b,
		Drivers:  drivers,
		Sessions: sessions,
		Profile:  prof,
		Opts:     opts,
		queues:   queues,
	}
}

// Start launches the per-tier worker pools and blocks until ctx is done
// and all workers drained.
func (e *Engine) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for tier, queue := range e.queues {
		n := e.Opts.Workers[tier]
		for i := 0; i < n; i++ {
			tier, queue, i := tier, queue, i
			g.Go(func() error {
				e.worker(gctx, tier, i, queue)
				return nil
			})
		}
	}

	return g.Wait()
}

// Enqueue hands a dispatched task to the tier's pool. Blocks when the
// pool is saturated; that backpressure is intentional.
func (e *Engine) Enqueue(ctx context.Context, t Task) error {
	tier := t.Classification.Tier
	if !tier.Valid() {
		tier = domain.Tier3
	}
	q, ok := e.queues[tier]
	if !ok || e.Opts.Workers[tier] == 0 {
		// no pool for this tier; give the token back
		_ = e.Budget.Release(ctx, tier)
		return fmt.Errorf("no workers configured for tier %d", tier)
	}
	select {
	case <-ctx.Done():
		_ = e.Budget.Release(ctx, tier)
		return ctx.Err()
	case q <- t:
		return nil
	}
}

func (e *Engine) worker(ctx context.Context, tier domain.Tier, idx int, queue chan Task) {
	sess := e.Sessions.New()
	log.Printf("[engine] worker started tier=%d idx=%d session=%s", tier, idx, sess.ID)

	for {
		select {
		case <-ctx.Done():
			e.drain(queue)
			return
		case task := <-queue:
			sess = e.runTask(ctx, sess, tier, task)
			// anti-correlation gap between applications
			if err := e.Opts.Pacer.Sleep(ctx); err != nil {
				e.drain(queue)
				return
			}
		}
	}
}

// drain returns the budget tokens of tasks that were dispatched but
// never ran. Without this a token reserved for a task still sitting in
// the queue at shutdown would stay spent until the window rolls over;
// crash recovery cannot see it because the attempt was never proposed.
func (e *Engine) drain(queue chan Task) {
	for {
		select {
		case task := <-queue:
			tier := task.Classification.Tier
			if !tier.Valid() {
				tier = domain.Tier3
			}
			// worker ctx is already done; the release gets its own
			_ = e.Budget.Release(context.Background(), tier)
			log.Printf("[engine] shutdown released token fingerprint=%s tier=%d",
				task.Posting.Fingerprint, tier)
		default:
			return
		}
	}
}

// runTask proposes the attempt and drives it through retries. Returns
// the session the worker should keep using (possibly rotated).
func (e *Engine) runTask(ctx context.Context, sess *Session, tier domain.Tier, task Task) *Session {
	fp := task.Posting.Fingerprint

	h, err := e.Ledger.Propose(ctx, fp, tier)
	if err != nil {
		// lost the race to another worker or a prior attempt is stuck;
		// either way this dispatch never executes, so the token goes back
		_ = e.Budget.Release(ctx, tier)
		if errors.Is(err, ledger.ErrDuplicateInFlight) {
			log.Printf("[engine] duplicate in flight fingerprint=%s", fp)
		} else {
			log.Printf("[engine] propose failed fingerprint=%s err=%v", fp, err)
		}
		return sess
	}

	for {
		out := e.runAttempt(ctx, sess, h, task)
		sess.Served++
		sess = e.Sessions.Rotate(sess, out.blocked)

		if !out.retry {
			return sess
		}

		// bounded exponential backoff before the next attempt record
		delay := e.Opts.Backoff.For(h.AttemptNo)
		log.Printf("[engine] retrying fingerprint=%s attempt=%d backoff=%s reason=%q",
			fp, h.AttemptNo, delay, out.reason)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return sess
		case <-t.C:
		}

		// each attempt is budgeted on its own; if the window filled up
		// while backing off, the posting stays failed_retryable and the
		// next pipeline pass re-routes it
		ok, err := e.Budget.Reserve(ctx, tier)
		if err != nil || !ok {
			log.Printf("[engine] retry deferred fingerprint=%s tier=%d err=%v", fp, tier, err)
			return sess
		}

		nh, err := e.Ledger.Propose(ctx, fp, tier)
		if err != nil {
			_ = e.Budget.Release(ctx, tier)
			log.Printf("[engine] retry propose failed fingerprint=%s err=%v", fp, err)
			return sess
		}
		h = nh
	}
}

type attemptOutcome struct {
	retry   bool
	blocked bool
	reason  string
}

func (e *Engine) record(ctx context.Context, h ledger.AttemptHandle, s domain.AttemptState, meta ledger.Meta) {
	if err := e.Ledger.Record(ctx, h, s, meta); err != nil {
		log.Printf("[engine] record failed attempt=%d state=%s err=%v", h.ID, s, err)
		return
	}
	e.publish(h, s, meta.Reason)
}

func (e *Engine) publish(h ledger.AttemptHandle, s domain.AttemptState, reason string) {
	if e.Publish == nil {
		return
	}
	e.Publish(fmt.Sprintf(`{"type":"attempt_state","fingerprint":%q,"attempt":%d,"state":%q,"reason":%q}`,
		h.Fingerprint, h.AttemptNo, string(s), reason))
}

// runAttempt walks one attempt through the checkpoint sequence. Every
// transition is persisted before the next action (write-ahead ordering).
func (e *Engine) runAttempt(ctx context.Context, sess *Session, h ledger.AttemptHandle, task Task) attemptOutcome {
	tier := domain.Tier(h.Tier)
	strategy := domain.StrategyForTier(tier)
	drv := e.Drivers(task.Classification.Platform)
	consumed := false

	releaseIfUnspent := func() {
		if !consumed {
			_ = e.Budget.Release(ctx, tier)
		}
	}

	// transient failure: retryable until the attempt count is exhausted
	transient := func(reason string) attemptOutcome {
		releaseIfUnspent()
		if h.AttemptNo >= e.Opts.MaxRetries {
			e.record(ctx, h, domain.StateFailedTerminal, ledger.Meta{Reason: reason})
			return attemptOutcome{reason: reason}
		}
		e.record(ctx, h, domain.StateFailedRetryable, ledger.Meta{Reason: reason})
		return attemptOutcome{retry: true, reason: reason}
	}

	blocked := func() attemptOutcome {
		releaseIfUnspent()
		e.record(ctx, h, domain.StateNeedsManualReview, ledger.Meta{Reason: "anti-automation"})
		return attemptOutcome{blocked: true, reason: "anti-automation"}
	}

	cancelled := func() attemptOutcome {
		releaseIfUnspent()
		e.record(ctx, h, domain.StateFailedRetryable, ledger.Meta{Reason: "cancelled"})
		return attemptOutcome{reason: "cancelled"}
	}

	prof, err := e.Profile(ctx)
	if err != nil {
		// profile endpoint down: no website was touched yet
		return transient(fmt.Sprintf("profile-unavailable: %v", err))
	}

	e.record(ctx, h, domain.StateFilling, ledger.Meta{SessionID: sess.ID})

	step := func(name string, fn func(context.Context) error) error {
		cctx, cancel := context.WithTimeout(ctx, e.Opts.CheckpointTimeout)
		defer cancel()
		if err := fn(cctx); err != nil {
			return err
		}
		if err := e.Ledger.Progress(ctx, h, name); err != nil {
			log.Printf("[engine] checkpoint record failed attempt=%d cp=%s err=%v", h.ID, name, err)
		}
		return nil
	}

	pace := func() error {
		if strategy != domain.StrategyDelayedAuto {
			return ctx.Err()
		}
		// tier 2 also jitters between page actions, not just between apps
		return Pacer{Min: e.Opts.Pacer.Min / 4, Max: e.Opts.Pacer.Max / 4}.Sleep(ctx)
	}

	// --- load
	if err := step(CheckpointLoad, func(c context.Context) error {
		return drv.Load(c, sess, task.Posting)
	}); err != nil {
		if errors.Is(err, ErrBlocked) {
			return blocked()
		}
		return transient(fmt.Sprintf("load: %v", err))
	}
	consumed = true
	_ = e.Budget.Consume(ctx, tier)

	if ctx.Err() != nil {
		return cancelled()
	}
	if err := pace(); err != nil && ctx.Err() != nil {
		return cancelled()
	}

	// --- fill
	if err := step(CheckpointFill, func(c context.Context) error {
		return drv.Fill(c, sess, task.Posting, prof)
	}); err != nil {
		switch {
		case errors.Is(err, ErrBlocked):
			return blocked()
		case errors.Is(err, ErrMissingField):
			// data integrity failure: terminal, logged with the field
			e.record(ctx, h, domain.StateFailedTerminal, ledger.Meta{Reason: err.Error()})
			return attemptOutcome{reason: err.Error()}
		default:
			return transient(fmt.Sprintf("fill: %v", err))
		}
	}

	if ctx.Err() != nil {
		return cancelled()
	}

	// tier 3 never auto-finalizes: the filled form waits for a human
	if strategy == domain.StrategyPrefillOnly {
		e.record(ctx, h, domain.StateNeedsManualReview, ledger.Meta{Reason: "prefill-complete"})
		return attemptOutcome{reason: "prefill-complete"}
	}

	if err := pace(); err != nil && ctx.Err() != nil {
		return cancelled()
	}

	// --- submit
	if err := step(CheckpointSubmit, func(c context.Context) error {
		return drv.Submit(c, sess)
	}); err != nil {
		if errors.Is(err, ErrBlocked) {
			return blocked()
		}
		return transient(fmt.Sprintf("submit: %v", err))
	}

	// --- confirm
	var confirmed bool
	if err := step(CheckpointConfirm, func(c context.Context) error {
		var cerr error
		confirmed, cerr = drv.Confirm(c, sess)
		return cerr
	}); err != nil {
		// the submit already fired; retrying from scratch risks a double
		// submission, so treat a failed confirmation check like an
		// unconfirmed one
		e.record(ctx, h, domain.StateNeedsManualReview, ledger.Meta{Reason: fmt.Sprintf("confirm: %v", err)})
		return attemptOutcome{reason: "confirm-error"}
	}

	if !confirmed {
		// The POST may or may not have landed; retrying risks a double
		// submission, so a human sorts it out.
		e.record(ctx, h, domain.StateNeedsManualReview, ledger.Meta{Reason: "unconfirmed-submission"})
		return attemptOutcome{reason: "unconfirmed-submission"}
	}

	e.record(ctx, h, domain.StateSubmitted, ledger.Meta{})
	log.Printf("[engine] submitted fingerprint=%s tier=%d attempt=%d session=%s",
		h.Fingerprint, h.Tier, h.AttemptNo, sess.ID)
	return attemptOutcome{}
}
