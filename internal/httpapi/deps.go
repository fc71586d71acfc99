package httpapi

import (
	"context"
	"database/sql"
	"sync/atomic"

	"applyflow-engine/internal/budget"
	"applyflow-engine/internal/config"
	"applyflow-engine/internal/events"
	"applyflow-engine/internal/ledger"
)

type Deps struct {
	DB *sql.DB

	Ledger *ledger.Ledger
	Budget *budget.Controller
	Hub    *events.Hub

	// Atomic stores
	CfgVal    *atomic.Value // stores config.Config
	RunStatus *atomic.Value // stores orchestrator.RunStatus

	// Config persistence
	UserCfgPath string
	LoadCfg     func() (config.Config, error)

	// Pipeline entrypoint (inject for testability)
	RunPipeline func(ctx context.Context)
}
