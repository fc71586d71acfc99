package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/profile"
)

// loadedForm is the parsed apply form carried between checkpoints. sel
// is the form Load picked; Fill must walk the same one, not whatever
// form happens to come first on the page.
type loadedForm struct {
	action string
	method string
	values url.Values
	sel    *goquery.Selection

	result *goquery.Document // response after submit
}

// FormDriver is the generic HTTP driver: fetch the apply page, map
// profile data onto the form goquery finds, post it, and look for
// confirmation evidence in the response. Per-ATS layout quirks stay out
// of the engine; boards that need more than this end up in manual review.
type FormDriver struct {
	Limiter *HostLimiter
}

var captchaMarkers = []string{
	"captcha", "recaptcha", "hcaptcha", "cf-challenge", "challenge-platform",
	"are you a robot", "verify you are human",
}

var confirmMarkers = []string{
	"thank you for applying", "application received", "application submitted",
	"thanks for applying", "your application has been received",
	"we have received your application",
}

func looksBlocked(status int, doc *goquery.Document) bool {
	if status == http.StatusForbidden || status == http.StatusTooManyRequests {
		return true
	}
	if doc == nil {
		return false
	}
	text := strings.ToLower(doc.Text())
	for _, m := range captchaMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	// unexpected auth wall
	if doc.Find("input[type=password]").Length() > 0 {
		return true
	}
	return false
}

func (d *FormDriver) get(ctx context.Context, sess *Session, rawURL string) (*goquery.Document, int, error) {
	if d.Limiter != nil {
		if err := d.Limiter.WaitURL(ctx, rawURL); err != nil {
			return nil, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", sess.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	res, err := sess.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, res.StatusCode, fmt.Errorf("parse page: %w", err)
	}
	return doc, res.StatusCode, nil
}

func (d *FormDriver) Load(ctx context.Context, sess *Session, p domain.JobPosting) error {
	doc, status, err := d.get(ctx, sess, p.URL)
	if err != nil {
		return fmt.Errorf("load apply page: %w", err)
	}
	if looksBlocked(status, doc) {
		return ErrBlocked
	}
	if status >= 400 {
		return fmt.Errorf("apply page status %d", status)
	}

	form := doc.Find("form").FilterFunction(func(_ int, f *goquery.Selection) bool {
		return f.Find("input[type=email], input[name*=email], input[type=file]").Length() > 0
	}).First()
	if form.Length() == 0 {
		form = doc.Find("form").First()
	}
	if form.Length() == 0 {
		return fmt.Errorf("no application form found")
	}

	action, _ := form.Attr("action")
	method, _ := form.Attr("method")
	if method == "" {
		method = http.MethodPost
	}

	base, _ := url.Parse(p.URL)
	resolved := p.URL
	if action != "" && base != nil {
		if ref, err := url.Parse(action); err == nil {
			resolved = base.ResolveReference(ref).String()
		}
	}

	values := url.Values{}
	form.Find("input[type=hidden]").Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok || name == "" {
			return
		}
		v, _ := in.Attr("value")
		values.Set(name, v)
	})

	sess.form = &loadedForm{
		action: resolved,
		method: strings.ToUpper(method),
		values: values,
		sel:    form,
	}
	return nil
}

// fieldHints maps the profile onto common input naming conventions.
func fieldHints(prof profile.Profile) []struct {
	hints []string
	value string
} {
	return []struct {
		hints []string
		value string
	}{
		{[]string{"first_name", "firstname", "first"}, prof.FirstName()},
		{[]string{"last_name", "lastname", "last", "surname"}, prof.LastName()},
		{[]string{"full_name", "name"}, prof.Name},
		{[]string{"email"}, prof.Email},
		{[]string{"phone", "tel", "mobile"}, prof.Phone},
		{[]string{"linkedin"}, prof.Links["linkedin"]},
		{[]string{"github"}, prof.Links["github"]},
		{[]string{"website", "portfolio", "url"}, prof.Links["portfolio"]},
		{[]string{"resume", "cv"}, prof.ResumeURL},
	}
}

func (d *FormDriver) Fill(ctx context.Context, sess *Session, p domain.JobPosting, prof profile.Profile) error {
	if sess.form == nil {
		return fmt.Errorf("fill called before load")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	form := sess.form.sel
	hints := fieldHints(prof)

	var missing string
	form.Find("input, textarea, select").Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok || name == "" {
			return
		}
		typ, _ := in.Attr("type")
		switch typ {
		case "hidden", "submit", "button", "file", "checkbox", "radio":
			return
		}

		lower := strings.ToLower(name)
		if id, ok := in.Attr("id"); ok {
			lower += " " + strings.ToLower(id)
		}
		if ph, ok := in.Attr("placeholder"); ok {
			lower += " " + strings.ToLower(ph)
		}
		if typ == "email" {
			lower += " email"
		}
		if typ == "tel" {
			lower += " phone"
		}

		for _, h := range hints {
			for _, hint := range h.hints {
				if strings.Contains(lower, hint) && h.value != "" {
					sess.form.values.Set(name, h.value)
					return
				}
			}
		}

		if in.Is("textarea") {
			// cover-letter style free text
			sess.form.values.Set(name, prof.Summary)
			return
		}

		if _, required := in.Attr("required"); required && missing == "" {
			missing = name
		}
	})

	if missing != "" {
		return fmt.Errorf("%w: %s", ErrMissingField, missing)
	}
	return nil
}

func (d *FormDriver) Submit(ctx context.Context, sess *Session) error {
	if sess.form == nil {
		return fmt.Errorf("submit called before load")
	}
	if d.Limiter != nil {
		if err := d.Limiter.WaitURL(ctx, sess.form.action); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, sess.form.method, sess.form.action,
		strings.NewReader(sess.form.values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", sess.UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := sess.Client.Do(req)
	if err != nil {
		return fmt.Errorf("submit form: %w", err)
	}
	defer res.Body.Close()

	doc, perr := goquery.NewDocumentFromReader(res.Body)
	if looksBlocked(res.StatusCode, doc) {
		return ErrBlocked
	}
	if res.StatusCode >= 400 {
		return fmt.Errorf("submit status %d", res.StatusCode)
	}
	if perr != nil {
		return fmt.Errorf("parse submit response: %w", perr)
	}

	sess.form.result = doc
	return nil
}

func (d *FormDriver) Confirm(ctx context.Context, sess *Session) (bool, error) {
	if sess.form == nil || sess.form.result == nil {
		return false, fmt.Errorf("confirm called before submit")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	doc := sess.form.result
	if doc.Find(".application-confirmation, #application_confirmed, .confirmation-message").Length() > 0 {
		return true, nil
	}
	text := strings.ToLower(doc.Text())
	for _, m := range confirmMarkers {
		if strings.Contains(text, m) {
			return true, nil
		}
	}
	// A successful POST alone is not evidence.
	return false, nil
}
