package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"applyflow-engine/internal/budget"
	"applyflow-engine/internal/config"
	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/engine"
	"applyflow-engine/internal/events"
	"applyflow-engine/internal/ledger"
	"applyflow-engine/internal/profile"
)

func itoa(n int) string { return strconv.Itoa(n) }

func buildEngine(cfg config.Config, lg *ledger.Ledger, bud *budget.Controller, hub *events.Hub) *engine.Engine {
	limiter := engine.NewHostLimiter(0.5, 1)
	drivers := func(string) engine.Driver {
		return &engine.FormDriver{Limiter: limiter}
	}

	sessions := &engine.SessionManager{MaxAttempts: cfg.Execution.SessionMaxAttempts}

	opts := engine.Options{
		MaxRetries:        cfg.Execution.MaxRetries,
		Backoff: engine.Backoff{
			Base: time.Duration(cfg.Execution.BackoffBaseSeconds) * time.Second,
			Max:  time.Duration(cfg.Execution.BackoffMaxSeconds) * time.Second,
		},
		CheckpointTimeout: time.Duration(cfg.Execution.CheckpointTimeoutSeconds) * time.Second,
		Pacer: engine.Pacer{
			Min: time.Duration(cfg.Execution.PacingMinSeconds) * time.Second,
			Max: time.Duration(cfg.Execution.PacingMaxSeconds) * time.Second,
		},
		Workers: map[domain.Tier]int{
			domain.Tier1: cfg.WorkersFor(1),
			domain.Tier2: cfg.WorkersFor(2),
			domain.Tier3: cfg.WorkersFor(3),
		},
	}

	eng := engine.New(lg, bud, drivers, sessions, cachedProfile(cfg.Profile.URL), opts)
	eng.Publish = hub.Publish
	return eng
}

// cachedProfile fetches the operator profile once and reuses it for a
// while; every attempt needs it and the endpoint rarely changes.
func cachedProfile(url string) func(ctx context.Context) (profile.Profile, error) {
	client := profile.NewClient(url)

	var mu sync.Mutex
	var cached profile.Profile
	var fetchedAt time.Time

	return func(ctx context.Context) (profile.Profile, error) {
		mu.Lock()
		defer mu.Unlock()

		if !fetchedAt.IsZero() && time.Since(fetchedAt) < 10*time.Minute {
			return cached, nil
		}
		p, err := client.Fetch(ctx)
		if err != nil {
			if !fetchedAt.IsZero() {
				// stale beats failing the attempt
				return cached, nil
			}
			return profile.Profile{}, err
		}
		cached = p
		fetchedAt = time.Now()
		return cached, nil
	}
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func shutdownHandler(token *string, srv *http.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		// Local-only guard (covers typical desktop usage)
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			// RemoteAddr can sometimes be just a host; fall back safely
			host = r.RemoteAddr
		}
		if host != "127.0.0.1" && host != "::1" && host != "localhost" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		// Token guard
		got := r.Header.Get("X-Shutdown-Token")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(*token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		// Respond immediately, then shutdown asynchronously
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("shutting down\n"))

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}
}
