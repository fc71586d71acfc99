package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/ledger"
)

type AttemptsHandler struct {
	Ledger *ledger.Ledger
}

// List serves /attempts with optional state, tier, fingerprint and
// window query params. window accepts 24h or 7d.
func (h AttemptsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var f ledger.Filter
	f.Fingerprint = q.Get("fingerprint")
	f.Limit = 500

	if s := q.Get("state"); s != "" {
		for _, part := range strings.Split(s, ",") {
			st := domain.AttemptState(strings.TrimSpace(part))
			if !st.Valid() {
				WriteError(w, r, http.StatusBadRequest, "bad_state", "unknown state: "+part)
				return
			}
			f.States = append(f.States, st)
		}
	}

	if t := q.Get("tier"); t != "" {
		n, err := strconv.Atoi(t)
		if err != nil || !domain.Tier(n).Valid() {
			WriteError(w, r, http.StatusBadRequest, "bad_tier", "tier must be 1, 2 or 3")
			return
		}
		f.Tier = domain.Tier(n)
	}

	switch q.Get("window") {
	case "24h":
		f.Since = time.Now().UTC().Add(-24 * time.Hour)
	case "7d":
		f.Since = time.Now().UTC().AddDate(0, 0, -7)
	}

	attempts, err := h.Ledger.Query(r.Context(), f)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if attempts == nil {
		attempts = []domain.AutomationAttempt{}
	}
	writeJSON(w, attempts)
}

// Report serves /attempts/report, the aggregate counters.
func (h AttemptsHandler) Report(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Ledger.Report(r.Context())
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "report_failed", err.Error())
		return
	}
	writeJSON(w, rep)
}
