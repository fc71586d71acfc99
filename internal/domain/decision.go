package domain

// DecisionKind is the router's verdict for one posting.
type DecisionKind string

const (
	DecisionDispatch DecisionKind = "dispatch"
	DecisionSkip     DecisionKind = "skip"
	DecisionDefer    DecisionKind = "defer"
)

// Skip reasons. Skips resolve silently inside the pipeline; they are
// counted, not surfaced as errors.
const (
	SkipBelowThreshold      = "below-threshold"
	SkipDuplicateInFlight   = "duplicate-in-flight"
	SkipAlreadyApplied      = "already-applied"
	SkipInvalidPosting      = "invalid-posting"
	SkipRetriesExhausted    = "retries-exhausted"
	SkipManualReviewPending = "manual-review-pending"
)

// Defer reasons. A defer is "try again later", never a failure.
const DeferBudgetExhausted = "budget-exhausted"

// Decision is the router's output for one scored, classified posting.
type Decision struct {
	Kind     DecisionKind
	Tier     Tier
	Strategy Strategy
	Reason   string // set for skip/defer
}

func Dispatch(tier Tier) Decision {
	return Decision{Kind: DecisionDispatch, Tier: tier, Strategy: StrategyForTier(tier)}
}

func Skip(reason string) Decision {
	return Decision{Kind: DecisionSkip, Reason: reason}
}

func Defer(reason string) Decision {
	return Decision{Kind: DecisionDefer, Reason: reason}
}
