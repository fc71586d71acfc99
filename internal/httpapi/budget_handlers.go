package httpapi

import (
	"net/http"

	"applyflow-engine/internal/budget"
)

type BudgetHandler struct {
	Budget *budget.Controller
}

// Status serves /budget: the current hour and day windows per tier with
// used counts against their caps.
func (h BudgetHandler) Status(w http.ResponseWriter, r *http.Request) {
	windows, err := h.Budget.Status(r.Context())
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "budget_failed", err.Error())
		return
	}
	if windows == nil {
		windows = []budget.WindowStatus{}
	}
	writeJSON(w, windows)
}
