package config

import (
	"errors"
	"fmt"
	"strings"
)

func Validate(cfg Config) error {
	var errs []string

	if cfg.App.Port <= 0 || cfg.App.Port > 65535 {
		errs = append(errs, "app.port must be 1..65535")
	}

	if cfg.Scoring.Threshold < 0 || cfg.Scoring.Threshold > 100 {
		errs = append(errs, "scoring.threshold must be 0..100")
	}

	checkBudget := func(name string, b TierBudget) {
		if b.Hourly < 0 {
			errs = append(errs, fmt.Sprintf("budgets.%s.hourly must be >= 0", name))
		}
		if b.Daily < 0 {
			errs = append(errs, fmt.Sprintf("budgets.%s.daily must be >= 0", name))
		}
		if b.Daily > 0 && b.Hourly > b.Daily {
			errs = append(errs, fmt.Sprintf("budgets.%s.hourly exceeds its daily cap", name))
		}
	}
	checkBudget("tier1", cfg.Budgets.Tier1)
	checkBudget("tier2", cfg.Budgets.Tier2)
	checkBudget("tier3", cfg.Budgets.Tier3)

	if cfg.Execution.MaxRetries < 0 {
		errs = append(errs, "execution.max_retries must be >= 0")
	}
	if cfg.Execution.BackoffBaseSeconds <= 0 {
		errs = append(errs, "execution.backoff_base_seconds must be > 0")
	}
	if cfg.Execution.BackoffMaxSeconds < cfg.Execution.BackoffBaseSeconds {
		errs = append(errs, "execution.backoff_max_seconds must be >= backoff_base_seconds")
	}
	if cfg.Execution.SessionMaxAttempts <= 0 {
		errs = append(errs, "execution.session_max_attempts must be > 0")
	}
	if cfg.Execution.CheckpointTimeoutSeconds <= 0 {
		errs = append(errs, "execution.checkpoint_timeout_seconds must be > 0")
	}
	if cfg.Execution.PacingMinSeconds < 0 || cfg.Execution.PacingMaxSeconds < cfg.Execution.PacingMinSeconds {
		errs = append(errs, "execution.pacing_min_seconds/pacing_max_seconds must satisfy 0 <= min <= max")
	}
	for _, w := range []struct {
		name string
		n    int
	}{
		{"tier1", cfg.Execution.Workers.Tier1},
		{"tier2", cfg.Execution.Workers.Tier2},
		{"tier3", cfg.Execution.Workers.Tier3},
	} {
		if w.n < 0 {
			errs = append(errs, fmt.Sprintf("execution.workers.%s must be >= 0", w.name))
		}
	}

	checkRules := func(name string, rules []Rule) {
		for i, r := range rules {
			if r.Tag == "" {
				errs = append(errs, fmt.Sprintf("%s[%d].tag is required", name, i))
			}
			if len(r.Any) == 0 {
				errs = append(errs, fmt.Sprintf("%s[%d].any must have at least 1 term", name, i))
			}
			for j, term := range r.Any {
				if term == "" {
					errs = append(errs, fmt.Sprintf("%s[%d].any[%d] cannot be empty", name, i, j))
				}
			}
		}
	}
	checkRules("scoring.title_rules", cfg.Scoring.TitleRules)
	checkRules("scoring.keyword_rules", cfg.Scoring.KeywordRules)

	for i, p := range cfg.Scoring.Penalties {
		if p.Reason == "" {
			errs = append(errs, fmt.Sprintf("scoring.penalties[%d].reason is required", i))
		}
		if len(p.Any) == 0 {
			errs = append(errs, fmt.Sprintf("scoring.penalties[%d].any must have at least 1 term", i))
		}
	}

	if cfg.Email.Enabled {
		if strings.TrimSpace(cfg.Email.IMAPHost) == "" {
			errs = append(errs, "email.imap_host is required when email.enabled=true")
		}
		if cfg.Email.IMAPPort == 0 {
			errs = append(errs, "email.imap_port is required when email.enabled=true")
		}
		if strings.TrimSpace(cfg.Email.Username) == "" {
			errs = append(errs, "email.username is required when email.enabled=true")
		}
		if strings.TrimSpace(cfg.Email.Mailbox) == "" {
			errs = append(errs, "email.mailbox is required when email.enabled=true")
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n- " + strings.Join(errs, "\n- "))
	}
	return nil
}
