// Package profile fetches the applicant's resume/profile document. The
// document is read-only input served by an external endpoint; the engine
// never writes it back.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Profile struct {
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone"`
	Links     map[string]string `json:"links"` // linkedin/github/portfolio
	Skills    []string          `json:"skills"`
	Summary   string            `json:"summary"`
	ResumeURL string            `json:"resume_url"`
}

// FirstName splits for forms that want first/last separately.
func (p Profile) FirstName() string {
	parts := strings.Fields(p.Name)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func (p Profile) LastName() string {
	parts := strings.Fields(p.Name)
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[1:], " ")
}

type Client struct {
	URL string
	hc  *http.Client
}

func NewClient(url string) *Client {
	return &Client{
		URL: url,
		hc:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Fetch(ctx context.Context) (Profile, error) {
	var p Profile
	if strings.TrimSpace(c.URL) == "" {
		return p, fmt.Errorf("profile url is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return p, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.hc.Do(req)
	if err != nil {
		return p, fmt.Errorf("profile fetch: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return p, fmt.Errorf("profile fetch status %d", res.StatusCode)
	}

	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return p, fmt.Errorf("profile decode: %w", err)
	}
	if strings.TrimSpace(p.Email) == "" {
		return p, fmt.Errorf("profile missing email")
	}
	return p, nil
}
