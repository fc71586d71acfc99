package orchestrator

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"applyflow-engine/internal/budget"
	"applyflow-engine/internal/classify"
	"applyflow-engine/internal/config"
	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/engine"
	"applyflow-engine/internal/ledger"
	"applyflow-engine/internal/profile"
	"applyflow-engine/internal/route"
	"applyflow-engine/internal/source"
	"applyflow-engine/internal/store"
)

type fixedScorer int

func (s fixedScorer) Score(domain.JobPosting) (int, []string) { return int(s), nil }

type staticSource struct{ raws []domain.RawPosting }

func (staticSource) Name() string { return "static" }
func (s staticSource) Fetch(context.Context) ([]domain.RawPosting, error) {
	return s.raws, nil
}

func newTestPipeline(t *testing.T, fit int, raws []domain.RawPosting) (*Pipeline, *ledger.Ledger, *engine.Engine) {
	t.Helper()
	d, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, store.Migrate(d.Pool))

	lg := ledger.New(d.Pool)
	bud := budget.NewController(d.Pool, func(domain.Tier) config.TierBudget {
		return config.TierBudget{Hourly: 10, Daily: 10}
	})

	prof := func(context.Context) (profile.Profile, error) {
		return profile.Profile{Name: "Jane Doe", Email: "jane@example.com"}, nil
	}
	eng := engine.New(lg, bud, func(string) engine.Driver { return nil }, &engine.SessionManager{}, prof, engine.Options{
		Workers: map[domain.Tier]int{domain.Tier1: 1, domain.Tier2: 1, domain.Tier3: 1},
	})

	var status atomic.Value
	status.Store(RunStatus{})

	p := &Pipeline{
		DB:         d.Pool,
		Ledger:     lg,
		Classifier: &classify.Classifier{DB: d.Pool},
		Scorer:     fixedScorer(fit),
		Router:     &route.Router{Ledger: lg, Budget: bud, Threshold: 60},
		Engine:     eng,
		Fetchers:   []source.Fetcher{staticSource{raws: raws}},
		Status:     &status,
	}
	return p, lg, eng
}

func rawPosting(title, url string) domain.RawPosting {
	return domain.RawPosting{
		Company: "Acme", Title: title, URL: url, Source: "lever",
	}
}

func TestRunOnceDispatchesGoodPostings(t *testing.T) {
	p, _, _ := newTestPipeline(t, 80, []domain.RawPosting{
		rawPosting("Backend Engineer", "https://jobs.lever.co/acme/r1"),
		rawPosting("Platform Engineer", "https://jobs.lever.co/acme/r2"),
	})

	// workers are not started, so dispatched tasks sit in the queues
	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 2, stats.Dispatched)
	assert.Zero(t, stats.Skipped)
}

func TestRunOnceSkipsBelowThreshold(t *testing.T) {
	p, _, _ := newTestPipeline(t, 30, []domain.RawPosting{
		rawPosting("Backend Engineer", "https://jobs.lever.co/acme/r1"),
	})

	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Dispatched)
	assert.Equal(t, 1, stats.Skipped)
}

func TestRunOnceIsIdempotentAcrossPasses(t *testing.T) {
	p, lg, _ := newTestPipeline(t, 80, []domain.RawPosting{
		rawPosting("Backend Engineer", "https://jobs.lever.co/acme/r1"),
	})
	ctx := context.Background()

	stats, err := p.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Dispatched)

	// the attempt is still queued in flight, so the second pass skips it
	_, err = lg.Propose(ctx, fingerprintOf(t, lg, ctx), domain.Tier2)
	require.ErrorIs(t, err, ledger.ErrDuplicateInFlight)

	stats, err = p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Added)
	assert.Zero(t, stats.Dispatched)
	assert.Equal(t, 1, stats.Skipped)
}

// fingerprintOf pulls the single in-flight fingerprint from the ledger.
func fingerprintOf(t *testing.T, lg *ledger.Ledger, ctx context.Context) string {
	t.Helper()
	attempts, err := lg.InFlight(ctx)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	return attempts[0].Fingerprint
}

func TestRunUpdatesStatus(t *testing.T) {
	p, _, _ := newTestPipeline(t, 80, nil)

	p.Run(context.Background())

	st := p.Status.Load().(RunStatus)
	assert.False(t, st.Running)
	assert.NotEmpty(t, st.LastOkAt)
	assert.Empty(t, st.LastError)
}

func TestRunRefusesOverlappingPasses(t *testing.T) {
	p, _, _ := newTestPipeline(t, 80, []domain.RawPosting{
		rawPosting("Backend Engineer", "https://jobs.lever.co/acme/r1"),
	})

	// simulate a pass already holding the slot
	require.True(t, p.running.CompareAndSwap(false, true))
	p.Run(context.Background())

	st := p.Status.Load().(RunStatus)
	assert.Empty(t, st.LastRunAt, "the overlapping call must not touch status")

	p.running.Store(false)
	p.Run(context.Background())
	st = p.Status.Load().(RunStatus)
	assert.Equal(t, 1, st.Last.Dispatched)
	assert.False(t, st.Running)
}

func TestRecoverClosesStrandedAttempts(t *testing.T) {
	_, lg, eng := newTestPipeline(t, 80, nil)
	ctx := context.Background()

	_, err := lg.Propose(ctx, "fp-young", domain.Tier1)
	require.NoError(t, err)

	// third attempt of three: recovery must close it for good
	for i := 0; i < 2; i++ {
		h, err := lg.Propose(ctx, "fp-old", domain.Tier2)
		require.NoError(t, err)
		require.NoError(t, lg.Record(ctx, h, domain.StateFailedRetryable, ledger.Meta{Reason: "load: timeout"}))
	}
	_, err = lg.Propose(ctx, "fp-old", domain.Tier2)
	require.NoError(t, err)

	n, err := Recover(ctx, lg, eng, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a1, ok, err := lg.Latest(ctx, "fp-young")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StateFailedRetryable, a1.State)
	assert.Equal(t, "recovered-after-crash", a1.Reason)

	a2, ok, err := lg.Latest(ctx, "fp-old")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StateFailedTerminal, a2.State, "attempt 3 of 3 has no retries left")

	stranded, err := lg.InFlight(ctx)
	require.NoError(t, err)
	assert.Empty(t, stranded)

	assert.Less(t, time.Since(a1.UpdatedAt), time.Minute)
}
