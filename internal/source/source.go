// Package source holds the built-in job source connectors. Connectors
// yield RawPosting records; everything downstream of ingest treats them
// identically regardless of origin.
package source

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"applyflow-engine/internal/domain"
)

type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.RawPosting, error)
}

// FetchAll runs every fetcher concurrently with its own timeout. One
// broken board never cancels its siblings; the run is best effort.
func FetchAll(ctx context.Context, fetchers []Fetcher, timeout time.Duration) []domain.RawPosting {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	var g errgroup.Group
	results := make(chan []domain.RawPosting, len(fetchers))

	for _, f := range fetchers {
		f := f
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			log.Printf("[source:%s] running", f.Name())
			raws, err := f.Fetch(fctx)
			if err != nil {
				log.Printf("[source:%s] error: %v", f.Name(), err)
				return nil
			}
			results <- raws
			return nil
		})
	}

	_ = g.Wait()
	close(results)

	var out []domain.RawPosting
	for batch := range results {
		out = append(out, batch...)
	}
	return out
}
