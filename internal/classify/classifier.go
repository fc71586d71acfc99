// Package classify maps a job posting to an ATS platform identity and an
// automation tier. Classification is pure pattern matching over the
// posting URL and (when available) the apply-page DOM; results are cached
// per fingerprint so re-submission never re-matches.
package classify

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/store"
)

// unknownConfidence is deliberately low: an unmatched posting is the
// least trusted thing in the pipeline and always lands in tier 3.
const unknownConfidence = 0.2

// FromURL classifies by hostname and URL pattern alone.
func FromURL(raw string) domain.Classification {
	lower := strings.ToLower(strings.TrimSpace(raw))
	host := ""
	if u, err := url.Parse(lower); err == nil {
		host = strings.ToLower(u.Hostname())
	}

	for _, sig := range signatures {
		for _, d := range sig.domains {
			if hostMatches(host, d) {
				return domain.Classification{Platform: sig.platform, Tier: sig.tier, Confidence: sig.confidence}
			}
		}
		for _, re := range sig.urlRe {
			if re.MatchString(lower) {
				return domain.Classification{Platform: sig.platform, Tier: sig.tier, Confidence: sig.confidence * 0.9}
			}
		}
	}

	return unknown()
}

// FromDocument classifies from a parsed apply page. URL evidence wins
// when present; DOM markers are the fallback for aggregator links that
// hide the ATS behind a redirect.
func FromDocument(rawURL string, doc *goquery.Document) domain.Classification {
	if c := FromURL(rawURL); c.Platform != domain.PlatformUnknown {
		return c
	}
	if doc == nil {
		return unknown()
	}

	var blob strings.Builder
	doc.Find("script[src], link[href], form[action], iframe[src]").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"src", "href", "action"} {
			if v, ok := s.Attr(attr); ok {
				blob.WriteString(strings.ToLower(v))
				blob.WriteByte(' ')
			}
		}
	})
	doc.Find("meta[name=generator], meta[property]").Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("content"); ok {
			blob.WriteString(strings.ToLower(v))
			blob.WriteByte(' ')
		}
	})
	blob.WriteString(strings.ToLower(doc.Find("body").Text()))

	text := blob.String()
	for _, sig := range signatures {
		for _, marker := range sig.domMarkers {
			if strings.Contains(text, marker) {
				// DOM-only evidence is weaker than a domain match.
				return domain.Classification{Platform: sig.platform, Tier: sig.tier, Confidence: sig.confidence * 0.7}
			}
		}
	}

	return unknown()
}

// hostMatches accepts the ATS domain itself or any subdomain of it.
// Substring matching is off the table: "clever.com" must never read as
// "lever.co".
func hostMatches(host, d string) bool {
	return host != "" && (host == d || strings.HasSuffix(host, "."+d))
}

func unknown() domain.Classification {
	return domain.Classification{
		Platform:   domain.PlatformUnknown,
		Tier:       domain.Tier3,
		Confidence: unknownConfidence,
	}
}

// Classifier resolves and caches classifications per fingerprint.
// When HC is set, a posting whose URL matches nothing gets one page
// fetch so DOM markers can identify an ATS hiding behind an aggregator
// or vanity careers domain.
type Classifier struct {
	DB *sql.DB
	HC *http.Client // nil disables the DOM fallback
}

// Classify returns the cached classification for a posting or computes
// and stores one. Re-classification overwrites the cache row.
func (c *Classifier) Classify(ctx context.Context, p domain.JobPosting) (domain.Classification, error) {
	if cached, ok, err := store.GetClassification(ctx, c.DB, p.Fingerprint); err != nil {
		return domain.Classification{}, err
	} else if ok {
		return cached, nil
	}

	cls := FromURL(p.URL)
	if cls.Platform == domain.PlatformUnknown && c.HC != nil {
		if doc, err := c.fetchDoc(ctx, p.URL); err != nil {
			// unreachable page stays unknown/tier 3; the fetch is only
			// ever an upgrade
			log.Printf("[classify] dom fetch fp=%s err=%v", p.Fingerprint, err)
		} else {
			cls = FromDocument(p.URL, doc)
		}
	}

	if err := store.SaveClassification(ctx, c.DB, p.Fingerprint, cls); err != nil {
		return cls, err
	}
	return cls, nil
}

func (c *Classifier) fetchDoc(ctx context.Context, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.HC.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("classify fetch status %d", res.StatusCode)
	}
	return goquery.NewDocumentFromReader(res.Body)
}
