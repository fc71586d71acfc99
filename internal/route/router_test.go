package route

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"applyflow-engine/internal/budget"
	"applyflow-engine/internal/config"
	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/ledger"
	"applyflow-engine/internal/store"
)

func newTestRouter(t *testing.T, hourly, daily int) (*Router, *ledger.Ledger) {
	t.Helper()
	d, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, store.Migrate(d.Pool))

	lg := ledger.New(d.Pool)
	bud := budget.NewController(d.Pool, func(domain.Tier) config.TierBudget {
		return config.TierBudget{Hourly: hourly, Daily: daily}
	})
	return &Router{Ledger: lg, Budget: bud, Threshold: 60}, lg
}

func posting(fp string) domain.JobPosting {
	return domain.JobPosting{
		Fingerprint: fp,
		Company:     "Acme",
		Title:       "Backend Engineer",
		URL:         "https://jobs.lever.co/acme/role",
		Source:      "lever",
	}
}

var tier2 = domain.Classification{Platform: "lever", Tier: domain.Tier2, Confidence: 0.9}

func TestRouteDispatchesAboveThreshold(t *testing.T) {
	r, _ := newTestRouter(t, 5, 10)

	dec, err := r.Route(context.Background(), posting("fp-d"), tier2, 75)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionDispatch, dec.Kind)
	assert.Equal(t, domain.Tier2, dec.Tier)
	assert.Equal(t, domain.StrategyDelayedAuto, dec.Strategy)
}

func TestRouteSkipsBelowThreshold(t *testing.T) {
	r, _ := newTestRouter(t, 5, 10)

	dec, err := r.Route(context.Background(), posting("fp-low"), tier2, 59)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, dec.Kind)
	assert.Equal(t, domain.SkipBelowThreshold, dec.Reason)
}

func TestRouteSkipsInvalidPosting(t *testing.T) {
	r, _ := newTestRouter(t, 5, 10)

	p := posting("")
	dec, err := r.Route(context.Background(), p, tier2, 90)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, dec.Kind)
	assert.Equal(t, domain.SkipInvalidPosting, dec.Reason)
}

func TestRouteSkipsDuplicateInFlight(t *testing.T) {
	r, lg := newTestRouter(t, 5, 10)
	ctx := context.Background()

	_, err := lg.Propose(ctx, "fp-dup", domain.Tier2)
	require.NoError(t, err)

	dec, err := r.Route(ctx, posting("fp-dup"), tier2, 90)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, dec.Kind)
	assert.Equal(t, domain.SkipDuplicateInFlight, dec.Reason)
}

func TestRouteSkipsAlreadyApplied(t *testing.T) {
	r, lg := newTestRouter(t, 5, 10)
	ctx := context.Background()

	h, err := lg.Propose(ctx, "fp-done", domain.Tier2)
	require.NoError(t, err)
	require.NoError(t, lg.Record(ctx, h, domain.StateFilling, ledger.Meta{}))
	require.NoError(t, lg.Record(ctx, h, domain.StateSubmitted, ledger.Meta{}))

	dec, err := r.Route(ctx, posting("fp-done"), tier2, 90)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, dec.Kind)
	assert.Equal(t, domain.SkipAlreadyApplied, dec.Reason)
}

func TestRouteSkipsExhaustedAndParked(t *testing.T) {
	r, lg := newTestRouter(t, 5, 10)
	ctx := context.Background()

	h, err := lg.Propose(ctx, "fp-dead", domain.Tier2)
	require.NoError(t, err)
	require.NoError(t, lg.Record(ctx, h, domain.StateFailedTerminal, ledger.Meta{Reason: "load: gone"}))

	dec, err := r.Route(ctx, posting("fp-dead"), tier2, 90)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, dec.Kind)
	assert.Equal(t, domain.SkipRetriesExhausted, dec.Reason)

	h2, err := lg.Propose(ctx, "fp-parked", domain.Tier2)
	require.NoError(t, err)
	require.NoError(t, lg.Record(ctx, h2, domain.StateNeedsManualReview, ledger.Meta{Reason: "anti-automation"}))

	dec, err = r.Route(ctx, posting("fp-parked"), tier2, 90)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, dec.Kind)
	assert.Equal(t, domain.SkipManualReviewPending, dec.Reason)
}

func TestRouteRetryableIsRoutableAgain(t *testing.T) {
	r, lg := newTestRouter(t, 5, 10)
	ctx := context.Background()

	h, err := lg.Propose(ctx, "fp-again", domain.Tier2)
	require.NoError(t, err)
	require.NoError(t, lg.Record(ctx, h, domain.StateFailedRetryable, ledger.Meta{Reason: "load: timeout"}))

	dec, err := r.Route(ctx, posting("fp-again"), tier2, 90)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionDispatch, dec.Kind)
}

func TestRouteDefersWhenBudgetExhausted(t *testing.T) {
	r, _ := newTestRouter(t, 1, 10)
	ctx := context.Background()

	dec, err := r.Route(ctx, posting("fp-one"), tier2, 90)
	require.NoError(t, err)
	require.Equal(t, domain.DecisionDispatch, dec.Kind)

	dec, err = r.Route(ctx, posting("fp-two"), tier2, 90)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionDefer, dec.Kind)
	assert.Equal(t, domain.DeferBudgetExhausted, dec.Reason)
}

func TestRouteInvalidTierFallsBackToTier3(t *testing.T) {
	r, _ := newTestRouter(t, 5, 10)

	cls := domain.Classification{Platform: domain.PlatformUnknown, Tier: 0, Confidence: 0.2}
	dec, err := r.Route(context.Background(), posting("fp-t0"), cls, 90)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionDispatch, dec.Kind)
	assert.Equal(t, domain.Tier3, dec.Tier)
	assert.Equal(t, domain.StrategyPrefillOnly, dec.Strategy)
}
