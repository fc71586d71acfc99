package httpapi

import (
	"database/sql"
	"net/http"

	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/store"
)

type PostingsHandler struct {
	DB *sql.DB
}

func (h PostingsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	postings, err := store.ListPostings(r.Context(), h.DB, store.ListPostingsOpts{
		Window: q.Get("window"),
	})
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	if postings == nil {
		postings = []domain.JobPosting{}
	}
	writeJSON(w, postings)
}
