// Package route decides, per classified and scored posting, whether an
// automation attempt happens at all and under which strategy. Everything
// it skips resolves silently; a defer means "try again later".
package route

import (
	"context"
	"fmt"

	"applyflow-engine/internal/budget"
	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/ledger"
)

type Router struct {
	Ledger    *ledger.Ledger
	Budget    *budget.Controller
	Threshold int // minimum fit score, 0..100
}

// Route applies the dispatch policy in order: score gate, dedup against
// the ledger, budget check, then dispatch with the tier's strategy.
// A Dispatch decision holds one reserved budget token; the engine either
// consumes it on first website interaction or releases it if the attempt
// dies before touching the site.
func (r *Router) Route(ctx context.Context, p domain.JobPosting, cls domain.Classification, score int) (domain.Decision, error) {
	if p.Fingerprint == "" {
		return domain.Skip(domain.SkipInvalidPosting), nil
	}

	if score < r.Threshold {
		return domain.Skip(domain.SkipBelowThreshold), nil
	}

	inFlight, err := r.Ledger.HasInFlight(ctx, p.Fingerprint)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("router dedup check: %w", err)
	}
	if inFlight {
		return domain.Skip(domain.SkipDuplicateInFlight), nil
	}

	submitted, err := r.Ledger.HasSubmitted(ctx, p.Fingerprint)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("router applied check: %w", err)
	}
	if submitted {
		return domain.Skip(domain.SkipAlreadyApplied), nil
	}

	// A posting whose last attempt already ended in a dead-end state
	// gets no new automatic attempt.
	if last, ok, err := r.Ledger.Latest(ctx, p.Fingerprint); err != nil {
		return domain.Decision{}, err
	} else if ok {
		switch last.State {
		case domain.StateFailedTerminal:
			return domain.Skip(domain.SkipRetriesExhausted), nil
		case domain.StateNeedsManualReview:
			return domain.Skip(domain.SkipManualReviewPending), nil
		}
	}

	tier := cls.Tier
	if !tier.Valid() {
		tier = domain.Tier3
	}

	ok, err := r.Budget.Reserve(ctx, tier)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("router budget reserve: %w", err)
	}
	if !ok {
		return domain.Defer(domain.DeferBudgetExhausted), nil
	}

	return domain.Dispatch(tier), nil
}
