package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"applyflow-engine/internal/budget"
	"applyflow-engine/internal/classify"
	"applyflow-engine/internal/config"
	"applyflow-engine/internal/confirmmail"
	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/events"
	"applyflow-engine/internal/httpapi"
	"applyflow-engine/internal/ledger"
	"applyflow-engine/internal/orchestrator"
	"applyflow-engine/internal/route"
	"applyflow-engine/internal/scheduler"
	"applyflow-engine/internal/score"
	"applyflow-engine/internal/source"
	"applyflow-engine/internal/store"
)

func main() {
	// Engine data dir: use env if provided, else local folder.
	dataDir := os.Getenv("APPLYFLOW_DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatal(err)
	}

	// Two engines against one ledger means double submissions; refuse
	// to start if another instance holds the data dir.
	lock := flock.New(filepath.Join(dataDir, "engine.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("data dir lock: %v", err)
	}
	if !locked {
		log.Fatalf("another engine instance is running in %s", dataDir)
	}
	defer func() { _ = lock.Unlock() }()

	defaultCfgPath := filepath.Join("config", "config.yml")
	userCfgPath, err := config.EnsureUserConfig(dataDir, defaultCfgPath)
	if err != nil {
		log.Fatalf("config bootstrap failed: %v", err)
	}

	// Load config and keep it reloadable
	var cfgVal atomic.Value // stores config.Config
	loadCfg := func() (config.Config, error) {
		return config.Load(userCfgPath)
	}
	cfg, err := loadCfg()
	if err != nil {
		log.Fatalf("config load failed (%s): %v", userCfgPath, err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config invalid (%s): %v", userCfgPath, err)
	}
	cfgVal.Store(cfg)

	dbPath := filepath.Join(dataDir, "applyflow.db")
	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := store.Migrate(db.Pool); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub()
	lg := ledger.New(db.Pool)

	// caps read through cfgVal so a config PUT takes effect on the
	// next reservation, not the next restart
	bud := budget.NewController(db.Pool, func(t domain.Tier) config.TierBudget {
		return cfgVal.Load().(config.Config).BudgetFor(int(t))
	})

	router := &route.Router{
		Ledger:    lg,
		Budget:    bud,
		Threshold: cfg.Scoring.Threshold,
	}

	eng := buildEngine(cfg, lg, bud, hub)

	// close out attempts stranded by a previous crash before anything
	// new is dispatched
	if n, err := orchestrator.Recover(ctx, lg, eng, cfg.Execution.MaxRetries); err != nil {
		log.Fatalf("crash recovery failed: %v", err)
	} else if n > 0 {
		log.Printf("[main] recovered stranded attempts n=%d", n)
	}

	var runStatus atomic.Value
	runStatus.Store(orchestrator.RunStatus{})

	pipeline := &orchestrator.Pipeline{
		DB:         db.Pool,
		Ledger:     lg,
		Classifier: &classify.Classifier{DB: db.Pool, HC: &http.Client{Timeout: 20 * time.Second}},
		Scorer:     score.RulesScorer{Cfg: cfg},
		Router:     router,
		Engine:     eng,
		Fetchers:   buildFetchers(cfg),
		Hub:        hub,
		Status:     &runStatus,
	}

	go func() {
		if err := eng.Start(ctx); err != nil {
			log.Printf("[main] engine stopped err=%v", err)
		}
	}()

	pipelineEvery := time.Duration(cfg.Polling.PipelineSeconds) * time.Second
	if pipelineEvery <= 0 {
		pipelineEvery = 15 * time.Minute
	}
	go scheduler.Every(ctx, pipelineEvery, "pipeline", func(c context.Context) error {
		pipeline.Run(c)
		return nil
	})

	emailEvery := time.Duration(cfg.Polling.EmailSeconds) * time.Second
	if emailEvery <= 0 {
		emailEvery = 10 * time.Minute
	}
	go scheduler.Every(ctx, emailEvery, "confirmmail", func(c context.Context) error {
		cur := cfgVal.Load().(config.Config)
		n, err := confirmmail.RunOnce(c, db.Pool, lg, cur)
		if n > 0 {
			hub.Publish(events.MakeEvent("", "attempts_confirmed", 1, map[string]any{"confirmed": n}))
		}
		return err
	})

	mux := httpapi.NewMux(httpapi.Deps{
		DB:          db.Pool,
		Ledger:      lg,
		Budget:      bud,
		Hub:         hub,
		CfgVal:      &cfgVal,
		RunStatus:   &runStatus,
		UserCfgPath: userCfgPath,
		LoadCfg:     loadCfg,
		RunPipeline: pipeline.Run,
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "time": time.Now().Format(time.RFC3339)})
	})

	addr := net.JoinHostPort("127.0.0.1", portFor(cfg))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("engine listening on http://%s (db=%s)", addr, dbPath)

	srv := &http.Server{
		Handler: httpapi.Chain(mux,
			httpapi.Cors,
			httpapi.RequestID,
			httpapi.Recover,
			httpapi.AccessLog,
		),
		ReadHeaderTimeout: 5 * time.Second,
	}

	token, err := randomToken(16)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("shutdown token: %s", token)
	mux.HandleFunc("/shutdown", shutdownHandler(&token, srv))

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func portFor(cfg config.Config) string {
	if cfg.App.Port > 0 {
		return itoa(cfg.App.Port)
	}
	return "38471"
}

func buildFetchers(cfg config.Config) []source.Fetcher {
	var fetchers []source.Fetcher
	if cfg.Sources.Greenhouse.Enabled {
		fetchers = append(fetchers, source.NewGreenhouse(toSourceCompanies(cfg.Sources.Greenhouse.Companies)))
	}
	if cfg.Sources.Lever.Enabled {
		fetchers = append(fetchers, source.NewLever(toSourceCompanies(cfg.Sources.Lever.Companies)))
	}
	return fetchers
}

func toSourceCompanies(in []config.Company) []source.Company {
	out := make([]source.Company, 0, len(in))
	for _, c := range in {
		out = append(out, source.Company{Slug: c.Slug, Name: c.Name})
	}
	return out
}
