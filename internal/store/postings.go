package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"applyflow-engine/internal/domain"
)

// InsertPostingIfNew inserts a posting keyed by fingerprint. Re-ingesting
// the same posting is a no-op (idempotent ingestion).
func InsertPostingIfNew(ctx context.Context, db *sql.DB, p domain.JobPosting) (added bool, err error) {
	extraB, _ := json.Marshal(p.Extra)
	if p.Extra == nil {
		extraB = []byte(`{}`)
	}
	if p.DiscoveredAt.IsZero() {
		p.DiscoveredAt = time.Now().UTC()
	}

	res, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO postings(fingerprint, company, title, location, source, url, description, extra, discovered_at)
VALUES(?,?,?,?,?,?,?,?,?);`,
		p.Fingerprint, p.Company, p.Title, p.Location, p.Source, p.URL, p.Description,
		string(extraB), p.DiscoveredAt.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("insert posting: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func GetPosting(ctx context.Context, db *sql.DB, fingerprint string) (domain.JobPosting, error) {
	var p domain.JobPosting
	var extraJSON, discovered string
	err := db.QueryRowContext(ctx, `
SELECT fingerprint, company, title, location, source, url, description, extra, discovered_at
FROM postings WHERE fingerprint = ?;`, fingerprint).Scan(
		&p.Fingerprint, &p.Company, &p.Title, &p.Location, &p.Source, &p.URL,
		&p.Description, &extraJSON, &discovered,
	)
	if err != nil {
		return p, err
	}
	_ = json.Unmarshal([]byte(extraJSON), &p.Extra)
	p.DiscoveredAt, _ = time.Parse(time.RFC3339, discovered)
	return p, nil
}

type ListPostingsOpts struct {
	Window string // 24h | 7d | all
	Limit  int
}

func ListPostings(ctx context.Context, db *sql.DB, opts ListPostingsOpts) ([]domain.JobPosting, error) {
	where := ""
	switch opts.Window {
	case "24h":
		where = "WHERE discovered_at >= datetime('now','-24 hours')"
	case "all":
		// no filter
	default:
		where = "WHERE discovered_at >= datetime('now','-7 days')"
	}
	if opts.Limit <= 0 || opts.Limit > 2000 {
		opts.Limit = 500
	}

	query := fmt.Sprintf(`
SELECT fingerprint, company, title, location, source, url, description, extra, discovered_at
FROM postings
%s
ORDER BY discovered_at DESC
LIMIT ?;`, where)

	rows, err := db.QueryContext(ctx, query, opts.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.JobPosting
	for rows.Next() {
		var p domain.JobPosting
		var extraJSON, discovered string
		if err := rows.Scan(
			&p.Fingerprint, &p.Company, &p.Title, &p.Location, &p.Source, &p.URL,
			&p.Description, &extraJSON, &discovered,
		); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(extraJSON), &p.Extra)
		p.DiscoveredAt, _ = time.Parse(time.RFC3339, discovered)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveClassification records the active classification for a posting.
// Re-classification overwrites, never duplicates.
func SaveClassification(ctx context.Context, db *sql.DB, fingerprint string, c domain.Classification) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO classifications(fingerprint, platform, tier, confidence, classified_at)
VALUES(?,?,?,?,?)
ON CONFLICT(fingerprint) DO UPDATE SET
  platform = excluded.platform,
  tier = excluded.tier,
  confidence = excluded.confidence,
  classified_at = excluded.classified_at;`,
		fingerprint, c.Platform, int(c.Tier), c.Confidence, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save classification: %w", err)
	}
	return nil
}

// GetClassification returns the cached classification, if any.
func GetClassification(ctx context.Context, db *sql.DB, fingerprint string) (domain.Classification, bool, error) {
	var c domain.Classification
	var tier int
	err := db.QueryRowContext(ctx, `
SELECT platform, tier, confidence FROM classifications WHERE fingerprint = ?;`,
		fingerprint).Scan(&c.Platform, &tier, &c.Confidence)
	if err == sql.ErrNoRows {
		return c, false, nil
	}
	if err != nil {
		return c, false, err
	}
	c.Tier = domain.Tier(tier)
	return c, true, nil
}
