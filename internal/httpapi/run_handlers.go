package httpapi

import (
	"context"
	"net/http"
	"sync/atomic"

	"applyflow-engine/internal/orchestrator"
)

type RunHandler struct {
	RunStatus   *atomic.Value // orchestrator.RunStatus
	RunPipeline func(ctx context.Context)
}

func (h RunHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, _ := h.RunStatus.Load().(orchestrator.RunStatus)
	writeJSON(w, st)
}

// Run triggers an immediate pipeline pass. The pass runs detached from
// the request; poll /run/status for the outcome. The status read here is
// only for the response message; the pipeline's own compare-and-swap is
// what prevents overlapping passes.
func (h RunHandler) Run(w http.ResponseWriter, r *http.Request) {
	st, _ := h.RunStatus.Load().(orchestrator.RunStatus)
	if st.Running {
		writeJSON(w, map[string]any{"ok": false, "msg": "already running"})
		return
	}

	go h.RunPipeline(context.Background())

	writeJSON(w, map[string]any{"ok": true})
}
