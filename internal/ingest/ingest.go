// Package ingest turns the duck-typed records heterogeneous scrapers
// produce into one canonical JobPosting shape. Unknown fields ride along
// in Extra; they are stored but never inspected downstream.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/store"
)

// ErrInvalidPosting marks a raw record missing required identity fields.
// The pipeline resolves it as Skip("invalid-posting"), never a crash.
var ErrInvalidPosting = errors.New("ingest: invalid posting")

// Normalize validates and canonicalizes one raw record.
func Normalize(raw domain.RawPosting) (domain.JobPosting, error) {
	company := CleanText(raw.Company)
	title := CleanText(raw.Title)
	url := CleanText(raw.URL)
	source := CleanText(raw.Source)

	if company == "" || title == "" || url == "" || source == "" {
		return domain.JobPosting{}, ErrInvalidPosting
	}

	discovered := time.Now().UTC()
	if raw.PostedAt != nil && !raw.PostedAt.IsZero() {
		discovered = raw.PostedAt.UTC()
	}

	location := NormalizeLocation(raw.Location)
	if location == "" {
		location = "Unknown"
	}

	return domain.JobPosting{
		Fingerprint:  Fingerprint(company, title, location, source),
		Company:      company,
		Title:        title,
		Location:     location,
		Source:       source,
		URL:          url,
		Description:  CleanText(raw.Description),
		DiscoveredAt: discovered,
		Extra:        raw.Extra,
	}, nil
}

// Run normalizes and stores a batch of raw records. Malformed records are
// counted and logged, not fatal.
func Run(ctx context.Context, db *sql.DB, raws []domain.RawPosting) (added, invalid int, err error) {
	for _, raw := range raws {
		p, nerr := Normalize(raw)
		if nerr != nil {
			invalid++
			log.Printf("[ingest] skipped (invalid-posting) source=%q title=%q url=%q",
				raw.Source, raw.Title, raw.URL)
			continue
		}
		ok, ierr := store.InsertPostingIfNew(ctx, db, p)
		if ierr != nil {
			return added, invalid, ierr
		}
		if ok {
			added++
		}
	}
	return added, invalid, nil
}
