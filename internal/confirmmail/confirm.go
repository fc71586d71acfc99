// Package confirmmail backfills submission confirmations from the
// mailbox. ATS platforms send a receipt email shortly after a successful
// submission; matching one against a submitted attempt upgrades that
// attempt's confirmed flag without re-touching the target site.
package confirmmail

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/emersion/go-imap/v2"

	"applyflow-engine/internal/config"
	"applyflow-engine/internal/ledger"
	"applyflow-engine/internal/secrets"
)

// Default receipt subjects seen across ATS platforms. Config patterns
// extend this list, they do not replace it.
var defaultSubjectPatterns = []string{
	`(?i)application\s+(received|confirmation|submitted)`,
	`(?i)thank\s+you\s+for\s+(applying|your\s+application)`,
	`(?i)we('|’)ve\s+received\s+your\s+application`,
}

type pendingAttempt struct {
	Fingerprint string
	Company     string
}

// RunOnce polls the configured mailbox once and marks confirmed any
// submitted attempt whose company appears in a receipt email. Returns
// the number of attempts newly confirmed.
func RunOnce(ctx context.Context, db *sql.DB, lg *ledger.Ledger, cfg config.Config) (int, error) {
	if !cfg.Email.Enabled {
		return 0, nil
	}
	if cfg.Email.IMAPHost == "" || cfg.Email.Username == "" {
		return 0, fmt.Errorf("email enabled but missing imap_host/username")
	}

	pending, err := listUnconfirmed(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("list unconfirmed: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	patterns, err := compilePatterns(cfg.Email.SubjectPatterns)
	if err != nil {
		return 0, err
	}

	password, err := secrets.GetIMAPPassword(secrets.IMAPKeyringAccount(cfg))
	if err != nil {
		return 0, fmt.Errorf("imap credentials: %w", err)
	}

	port := cfg.Email.IMAPPort
	if port == 0 {
		port = 993
	}
	addr := fmt.Sprintf("%s:%d", cfg.Email.IMAPHost, port)

	c, err := dialAndLogin(ctx, addr, cfg.Email.Username, password)
	if err != nil {
		return 0, err
	}
	defer logoutAndClose(c)

	if err := selectMailbox(c, cfg.Email.Mailbox); err != nil {
		return 0, err
	}

	msgs, err := fetchUnseen(ctx, c, 50)
	if err != nil {
		return 0, err
	}

	confirmed := 0
	var matchedUIDs []imap.UID
	for _, m := range msgs {
		if !subjectMatches(patterns, m.Subject) {
			continue
		}
		p, ok := matchCompany(pending, m)
		if !ok {
			continue
		}
		updated, err := lg.MarkConfirmed(ctx, p.Fingerprint)
		if err != nil {
			return confirmed, fmt.Errorf("mark confirmed: %w", err)
		}
		if updated {
			confirmed++
			matchedUIDs = append(matchedUIDs, m.UID)
			log.Printf("[confirmmail] confirmed company=%q subject=%q", p.Company, m.Subject)
		}
	}

	if err := markSeen(c, matchedUIDs); err != nil {
		// the confirmation already landed in the ledger; reprocessing
		// the same message next pass is harmless
		log.Printf("[confirmmail] mark seen err=%v", err)
	}
	return confirmed, nil
}

func listUnconfirmed(ctx context.Context, db *sql.DB) ([]pendingAttempt, error) {
	rows, err := db.QueryContext(ctx, `
SELECT DISTINCT a.fingerprint, p.company
FROM attempts a
JOIN postings p ON p.fingerprint = a.fingerprint
WHERE a.state = 'submitted' AND a.confirmed = 0
  AND a.updated_at >= datetime('now', '-30 days');`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pendingAttempt
	for rows.Next() {
		var p pendingAttempt
		if err := rows.Scan(&p.Fingerprint, &p.Company); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func compilePatterns(extra []string) ([]*regexp.Regexp, error) {
	raw := append(append([]string{}, defaultSubjectPatterns...), extra...)
	out := make([]*regexp.Regexp, 0, len(raw))
	for _, s := range raw {
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("bad subject pattern %q: %w", s, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func subjectMatches(patterns []*regexp.Regexp, subject string) bool {
	for _, re := range patterns {
		if re.MatchString(subject) {
			return true
		}
	}
	return false
}

// matchCompany looks for a pending company name in the subject or the
// sender address. Company names shorter than 3 characters are skipped
// to avoid matching on noise.
func matchCompany(pending []pendingAttempt, m Message) (pendingAttempt, bool) {
	subject := strings.ToLower(m.Subject)
	from := strings.ToLower(m.From)
	for _, p := range pending {
		name := strings.ToLower(strings.TrimSpace(p.Company))
		if len(name) < 3 {
			continue
		}
		if strings.Contains(subject, name) || strings.Contains(from, strings.ReplaceAll(name, " ", "")) {
			return p, true
		}
	}
	return pendingAttempt{}, false
}
