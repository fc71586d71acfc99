package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/store"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	d, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, store.Migrate(d.Pool))
	return New(d.Pool)
}

func TestProposeRejectsSecondInFlight(t *testing.T) {
	lg := newTestLedger(t)
	ctx := context.Background()

	h, err := lg.Propose(ctx, "fp-1", domain.Tier1)
	require.NoError(t, err)
	assert.Equal(t, 1, h.AttemptNo)

	_, err = lg.Propose(ctx, "fp-1", domain.Tier1)
	assert.ErrorIs(t, err, ErrDuplicateInFlight)

	// a different fingerprint is unaffected
	_, err = lg.Propose(ctx, "fp-2", domain.Tier2)
	assert.NoError(t, err)
}

func TestProposeConcurrentAtMostOne(t *testing.T) {
	lg := newTestLedger(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = lg.Propose(ctx, "fp-race", domain.Tier1)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateInFlight)
		}
	}
	assert.Equal(t, 1, won, "exactly one concurrent Propose must win")
}

func TestAttemptNumberingAcrossRetries(t *testing.T) {
	lg := newTestLedger(t)
	ctx := context.Background()

	h1, err := lg.Propose(ctx, "fp-retry", domain.Tier2)
	require.NoError(t, err)
	require.NoError(t, lg.Record(ctx, h1, domain.StateFailedRetryable, Meta{Reason: "load: timeout"}))

	h2, err := lg.Propose(ctx, "fp-retry", domain.Tier2)
	require.NoError(t, err)
	assert.Equal(t, 2, h2.AttemptNo)
	assert.NotEqual(t, h1.ID, h2.ID, "a retry is a new attempt row, never a reset")

	latest, ok, err := lg.Latest(ctx, "fp-retry")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, latest.AttemptNo)
	assert.Equal(t, domain.StateQueued, latest.State)
}

func TestRecordRejectsIllegalTransitions(t *testing.T) {
	lg := newTestLedger(t)
	ctx := context.Background()

	h, err := lg.Propose(ctx, "fp-legal", domain.Tier1)
	require.NoError(t, err)

	// queued cannot go straight to submitted
	err = lg.Record(ctx, h, domain.StateSubmitted, Meta{})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	require.NoError(t, lg.Record(ctx, h, domain.StateFilling, Meta{SessionID: "s-1"}))
	require.NoError(t, lg.Record(ctx, h, domain.StateSubmitted, Meta{}))

	// submitted is terminal
	err = lg.Record(ctx, h, domain.StateFilling, Meta{})
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRecordUnknownAttempt(t *testing.T) {
	lg := newTestLedger(t)
	err := lg.Record(context.Background(), AttemptHandle{ID: 999}, domain.StateFilling, Meta{})
	assert.ErrorIs(t, err, ErrUnknownAttempt)
}

func TestProgressOnlyWhileFilling(t *testing.T) {
	lg := newTestLedger(t)
	ctx := context.Background()

	h, err := lg.Propose(ctx, "fp-cp", domain.Tier1)
	require.NoError(t, err)

	assert.ErrorIs(t, lg.Progress(ctx, h, "load"), ErrUnknownAttempt)

	require.NoError(t, lg.Record(ctx, h, domain.StateFilling, Meta{SessionID: "s-1"}))
	require.NoError(t, lg.Progress(ctx, h, "load"))

	a, ok, err := lg.Latest(ctx, "fp-cp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "load", a.Checkpoint)
}

func TestHasInFlightAndSubmitted(t *testing.T) {
	lg := newTestLedger(t)
	ctx := context.Background()

	h, err := lg.Propose(ctx, "fp-q", domain.Tier1)
	require.NoError(t, err)

	inFlight, err := lg.HasInFlight(ctx, "fp-q")
	require.NoError(t, err)
	assert.True(t, inFlight)

	require.NoError(t, lg.Record(ctx, h, domain.StateFilling, Meta{}))
	require.NoError(t, lg.Record(ctx, h, domain.StateSubmitted, Meta{}))

	inFlight, err = lg.HasInFlight(ctx, "fp-q")
	require.NoError(t, err)
	assert.False(t, inFlight)

	submitted, err := lg.HasSubmitted(ctx, "fp-q")
	require.NoError(t, err)
	assert.True(t, submitted)
}

func TestMarkConfirmed(t *testing.T) {
	lg := newTestLedger(t)
	ctx := context.Background()

	h, err := lg.Propose(ctx, "fp-conf", domain.Tier1)
	require.NoError(t, err)

	// nothing submitted yet
	ok, err := lg.MarkConfirmed(ctx, "fp-conf")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lg.Record(ctx, h, domain.StateFilling, Meta{}))
	require.NoError(t, lg.Record(ctx, h, domain.StateSubmitted, Meta{}))

	ok, err = lg.MarkConfirmed(ctx, "fp-conf")
	require.NoError(t, err)
	assert.True(t, ok)

	a, found, err := lg.Latest(ctx, "fp-conf")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, a.Confirmed)
}

func TestQueryFilters(t *testing.T) {
	lg := newTestLedger(t)
	ctx := context.Background()

	h1, err := lg.Propose(ctx, "fp-a", domain.Tier1)
	require.NoError(t, err)
	require.NoError(t, lg.Record(ctx, h1, domain.StateFailedTerminal, Meta{Reason: "fill: missing field"}))

	_, err = lg.Propose(ctx, "fp-b", domain.Tier2)
	require.NoError(t, err)

	byState, err := lg.Query(ctx, Filter{States: []domain.AttemptState{domain.StateFailedTerminal}})
	require.NoError(t, err)
	require.Len(t, byState, 1)
	assert.Equal(t, "fp-a", byState[0].Fingerprint)

	byTier, err := lg.Query(ctx, Filter{Tier: domain.Tier2})
	require.NoError(t, err)
	require.Len(t, byTier, 1)
	assert.Equal(t, "fp-b", byTier[0].Fingerprint)
}

func TestReportCounts(t *testing.T) {
	lg := newTestLedger(t)
	ctx := context.Background()

	h1, err := lg.Propose(ctx, "fp-r1", domain.Tier1)
	require.NoError(t, err)
	require.NoError(t, lg.Record(ctx, h1, domain.StateFilling, Meta{}))
	require.NoError(t, lg.Record(ctx, h1, domain.StateSubmitted, Meta{}))

	h2, err := lg.Propose(ctx, "fp-r2", domain.Tier3)
	require.NoError(t, err)
	require.NoError(t, lg.Record(ctx, h2, domain.StateNeedsManualReview, Meta{Reason: "prefill-complete"}))

	rep, err := lg.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Total)
	assert.Equal(t, 1, rep.ByState[string(domain.StateSubmitted)])
	assert.Equal(t, 1, rep.ByState[string(domain.StateNeedsManualReview)])
	assert.Equal(t, 1, rep.ByReason["prefill-complete"])
	assert.Equal(t, 1, rep.ByTier[1])
	assert.Equal(t, 1, rep.ByTier[3])
}
