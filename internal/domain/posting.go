package domain

import "time"

// JobPosting is the canonical, deduplicated form of a scraped posting.
// Fingerprint is the stable identity; re-ingesting the same posting
// must always resolve to the same fingerprint.
type JobPosting struct {
	Fingerprint  string    `json:"fingerprint"`
	Company      string    `json:"company"`
	Title        string    `json:"title"`
	Location     string    `json:"location"`
	Source       string    `json:"source"` // greenhouse/lever/email/etc.
	URL          string    `json:"url"`
	Description  string    `json:"description,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`

	// Extra holds unknown fields from heterogeneous scrapers, carried
	// opaquely and never inspected by the core.
	Extra map[string]string `json:"extra,omitempty"`
}

// RawPosting is what source connectors yield before normalization.
type RawPosting struct {
	Company     string
	Title       string
	Location    string
	Source      string
	URL         string
	Description string
	PostedAt    *time.Time
	Extra       map[string]string
}
