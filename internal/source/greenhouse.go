package source

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/ingest"
)

type Company struct {
	Slug string
	Name string
}

// Greenhouse scrapes public boards.greenhouse.io listings.
type Greenhouse struct {
	Companies []Company
	hc        *http.Client
}

func NewGreenhouse(companies []Company) *Greenhouse {
	return &Greenhouse{
		Companies: companies,
		hc:        &http.Client{Timeout: 20 * time.Second},
	}
}

func (s *Greenhouse) Name() string { return "greenhouse" }

func (s *Greenhouse) Fetch(ctx context.Context) ([]domain.RawPosting, error) {
	var out []domain.RawPosting
	for _, co := range s.Companies {
		raws, err := s.fetchBoard(ctx, co)
		if err != nil {
			// one board down is not a run failure
			log.Printf("[source:greenhouse] company=%q err=%v", co.Name, err)
			continue
		}
		out = append(out, raws...)
	}
	return out, nil
}

var ghJobIDRe = regexp.MustCompile(`/jobs/(\d+)`)

func (s *Greenhouse) fetchBoard(ctx context.Context, co Company) ([]domain.RawPosting, error) {
	boardURL := fmt.Sprintf("https://boards.greenhouse.io/%s", co.Slug)
	return s.fetchBoardURL(ctx, co, boardURL)
}

func (s *Greenhouse) fetchBoardURL(ctx context.Context, co Company, boardURL string) ([]domain.RawPosting, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, boardURL, nil)
	req.Header.Set("User-Agent", "ApplyFlow/1.0 (+local)")

	res, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("greenhouse get board: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("greenhouse board status %d", res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("greenhouse parse board html: %w", err)
	}

	seen := map[string]bool{}
	var out []domain.RawPosting

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}

		abs := href
		if strings.HasPrefix(href, "/") {
			abs = "https://boards.greenhouse.io" + href
		}
		low := strings.ToLower(abs)
		if !strings.Contains(low, "boards.greenhouse.io") || !strings.Contains(low, "/jobs/") {
			return
		}

		m := ghJobIDRe.FindStringSubmatch(abs)
		if m == nil {
			return
		}
		jobID := m[1]
		if seen[jobID] {
			return
		}
		seen[jobID] = true

		title := ingest.CleanText(a.Text())
		if title == "" {
			return
		}

		location := ""
		if sib := a.Parent().Find(".location").First(); sib.Length() > 0 {
			location = ingest.CleanText(sib.Text())
		}

		out = append(out, domain.RawPosting{
			Company:  co.Name,
			Title:    title,
			Location: location,
			Source:   "greenhouse",
			URL:      abs,
			Extra:    map[string]string{"board_slug": co.Slug, "job_id": jobID},
		})
	})

	log.Printf("[source:greenhouse] company=%q postings=%d", co.Name, len(out))
	return out, nil
}
