// Package score defines the fit-scoring boundary. The scoring logic
// itself is a collaborator; the engine only needs a deterministic 0..100
// number per posting per run.
package score

import "applyflow-engine/internal/domain"

// Scorer rates how well a posting fits the applicant. Implementations
// must be repeatable: the router may re-evaluate the same posting within
// one run and expects the same answer.
type Scorer interface {
	Score(p domain.JobPosting) (score int, tags []string)
}
