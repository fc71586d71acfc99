package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"applyflow-engine/internal/budget"
	"applyflow-engine/internal/config"
	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/events"
	"applyflow-engine/internal/ledger"
	"applyflow-engine/internal/orchestrator"
	"applyflow-engine/internal/store"
)

func testDeps(t *testing.T) (Deps, *ledger.Ledger) {
	t.Helper()
	d, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, store.Migrate(d.Pool))

	lg := ledger.New(d.Pool)
	bud := budget.NewController(d.Pool, func(domain.Tier) config.TierBudget {
		return config.TierBudget{Hourly: 5, Daily: 10}
	})

	cfgPath := filepath.Join(t.TempDir(), "config.yml")
	cfg := testConfigValue()
	require.NoError(t, config.SaveAtomic(cfgPath, cfg))

	var cfgVal atomic.Value
	cfgVal.Store(cfg)
	var runStatus atomic.Value
	runStatus.Store(orchestrator.RunStatus{})

	return Deps{
		DB:          d.Pool,
		Ledger:      lg,
		Budget:      bud,
		Hub:         events.NewHub(),
		CfgVal:      &cfgVal,
		RunStatus:   &runStatus,
		UserCfgPath: cfgPath,
		LoadCfg:     func() (config.Config, error) { return config.Load(cfgPath) },
		RunPipeline: func(context.Context) {},
	}, lg
}

func testConfigValue() config.Config {
	var cfg config.Config
	cfg.App.Port = 38471
	cfg.Scoring.Threshold = 60
	cfg.Budgets.Tier1 = config.TierBudget{Hourly: 5, Daily: 10}
	cfg.Budgets.Tier2 = config.TierBudget{Hourly: 3, Daily: 6}
	cfg.Budgets.Tier3 = config.TierBudget{Hourly: 2, Daily: 4}
	cfg.Execution.MaxRetries = 3
	cfg.Execution.BackoffBaseSeconds = 30
	cfg.Execution.BackoffMaxSeconds = 900
	cfg.Execution.SessionMaxAttempts = 10
	cfg.Execution.CheckpointTimeoutSeconds = 90
	cfg.Execution.PacingMaxSeconds = 20
	return cfg
}

func TestAttemptsEndpointFilters(t *testing.T) {
	deps, lg := testDeps(t)
	ctx := context.Background()

	h, err := lg.Propose(ctx, "fp-1", domain.Tier1)
	require.NoError(t, err)
	require.NoError(t, lg.Record(ctx, h, domain.StateFilling, ledger.Meta{SessionID: "s-1"}))
	require.NoError(t, lg.Record(ctx, h, domain.StateSubmitted, ledger.Meta{}))

	_, err = lg.Propose(ctx, "fp-2", domain.Tier2)
	require.NoError(t, err)

	srv := httptest.NewServer(NewMux(deps))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/attempts?state=submitted")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var attempts []domain.AutomationAttempt
	require.NoError(t, json.NewDecoder(res.Body).Decode(&attempts))
	require.Len(t, attempts, 1)
	assert.Equal(t, "fp-1", attempts[0].Fingerprint)

	res, err = http.Get(srv.URL + "/attempts?state=bogus")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestReportEndpoint(t *testing.T) {
	deps, lg := testDeps(t)
	ctx := context.Background()

	_, err := lg.Propose(ctx, "fp-1", domain.Tier1)
	require.NoError(t, err)

	srv := httptest.NewServer(NewMux(deps))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/attempts/report")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var rep ledger.Report
	require.NoError(t, json.NewDecoder(res.Body).Decode(&rep))
	assert.Equal(t, 1, rep.Total)
}

func TestConfigPutValidatesAndReloads(t *testing.T) {
	deps, _ := testDeps(t)
	srv := httptest.NewServer(NewMux(deps))
	defer srv.Close()

	cfg := testConfigValue()
	cfg.Scoring.Threshold = 75
	body, err := json.Marshal(cfg)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/config", strings.NewReader(string(body)))
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	stored := deps.CfgVal.Load().(config.Config)
	assert.Equal(t, 75, stored.Scoring.Threshold)

	// a rejected config leaves the stored value untouched
	cfg.Scoring.Threshold = 400
	body, _ = json.Marshal(cfg)
	req, _ = http.NewRequest(http.MethodPut, srv.URL+"/config", strings.NewReader(string(body)))
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	stored = deps.CfgVal.Load().(config.Config)
	assert.Equal(t, 75, stored.Scoring.Threshold)
}

func TestMethodNotAllowed(t *testing.T) {
	deps, _ := testDeps(t)
	srv := httptest.NewServer(NewMux(deps))
	defer srv.Close()

	res, err := http.Post(srv.URL+"/attempts", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestBudgetEndpoint(t *testing.T) {
	deps, _ := testDeps(t)
	srv := httptest.NewServer(NewMux(deps))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/budget")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var windows []budget.WindowStatus
	require.NoError(t, json.NewDecoder(res.Body).Decode(&windows))
	assert.Len(t, windows, 6)
}
