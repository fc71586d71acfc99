package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/ingest"
)

// Lever pulls postings from the public Lever postings API per company.
type Lever struct {
	Companies []Company
	hc        *http.Client
}

func NewLever(companies []Company) *Lever {
	return &Lever{
		Companies: companies,
		hc:        &http.Client{Timeout: 20 * time.Second},
	}
}

func (s *Lever) Name() string { return "lever" }

type leverPosting struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	HostedURL  string `json:"hostedUrl"`
	ApplyURL   string `json:"applyUrl"`
	CreatedAt  int64  `json:"createdAt"`
	Categories struct {
		Location   string `json:"location"`
		Team       string `json:"team"`
		Commitment string `json:"commitment"`
	} `json:"categories"`
	DescriptionPlain string `json:"descriptionPlain"`
}

func (s *Lever) Fetch(ctx context.Context) ([]domain.RawPosting, error) {
	var out []domain.RawPosting
	for _, co := range s.Companies {
		raws, err := s.fetchCompany(ctx, co)
		if err != nil {
			log.Printf("[source:lever] company=%q err=%v", co.Name, err)
			continue
		}
		out = append(out, raws...)
	}
	return out, nil
}

func (s *Lever) fetchCompany(ctx context.Context, co Company) ([]domain.RawPosting, error) {
	apiURL := fmt.Sprintf("https://api.lever.co/v0/postings/%s?mode=json", co.Slug)
	return s.fetchCompanyURL(ctx, co, apiURL)
}

func (s *Lever) fetchCompanyURL(ctx context.Context, co Company, apiURL string) ([]domain.RawPosting, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ApplyFlow/1.0 (+local)")

	res, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lever get postings: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("lever postings status %d", res.StatusCode)
	}

	var postings []leverPosting
	if err := json.NewDecoder(res.Body).Decode(&postings); err != nil {
		return nil, fmt.Errorf("lever decode postings: %w", err)
	}

	out := make([]domain.RawPosting, 0, len(postings))
	for _, p := range postings {
		title := ingest.CleanText(p.Text)
		if title == "" || p.HostedURL == "" {
			continue
		}
		var posted *time.Time
		if p.CreatedAt > 0 {
			t := time.UnixMilli(p.CreatedAt).UTC()
			posted = &t
		}
		out = append(out, domain.RawPosting{
			Company:     co.Name,
			Title:       title,
			Location:    ingest.CleanText(p.Categories.Location),
			Source:      "lever",
			URL:         p.HostedURL,
			Description: p.DescriptionPlain,
			PostedAt:    posted,
			Extra: map[string]string{
				"lever_id":  p.ID,
				"apply_url": p.ApplyURL,
				"team":      p.Categories.Team,
			},
		})
	}

	log.Printf("[source:lever] company=%q postings=%d", co.Name, len(out))
	return out, nil
}
