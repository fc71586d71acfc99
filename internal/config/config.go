package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Rule struct {
	Tag    string   `yaml:"tag"`
	Weight int      `yaml:"weight"`
	Any    []string `yaml:"any"`
}

type Penalty struct {
	Reason string   `yaml:"reason"`
	Weight int      `yaml:"weight"`
	Any    []string `yaml:"any"`
}

type TierBudget struct {
	Hourly int `yaml:"hourly"`
	Daily  int `yaml:"daily"`
}

type Company struct {
	Slug string `yaml:"slug"`
	Name string `yaml:"name"`
}

type SourceConfig struct {
	Enabled   bool      `yaml:"enabled"`
	Companies []Company `yaml:"companies"`
}

type Config struct {
	App struct {
		Port    int    `yaml:"port"`
		DataDir string `yaml:"data_dir"`
	} `yaml:"app"`

	Profile struct {
		URL string `yaml:"url"`
	} `yaml:"profile"`

	Polling struct {
		PipelineSeconds int `yaml:"pipeline_seconds"`
		EmailSeconds    int `yaml:"email_seconds"`
	} `yaml:"polling"`

	Scoring struct {
		Threshold    int       `yaml:"threshold"` // minimum fit score 0..100
		TitleRules   []Rule    `yaml:"title_rules"`
		KeywordRules []Rule    `yaml:"keyword_rules"`
		Penalties    []Penalty `yaml:"penalties"`
	} `yaml:"scoring"`

	Budgets struct {
		Tier1 TierBudget `yaml:"tier1"`
		Tier2 TierBudget `yaml:"tier2"`
		Tier3 TierBudget `yaml:"tier3"`
	} `yaml:"budgets"`

	Execution struct {
		MaxRetries               int `yaml:"max_retries"`
		BackoffBaseSeconds       int `yaml:"backoff_base_seconds"`
		BackoffMaxSeconds        int `yaml:"backoff_max_seconds"`
		SessionMaxAttempts       int `yaml:"session_max_attempts"`
		CheckpointTimeoutSeconds int `yaml:"checkpoint_timeout_seconds"`
		PacingMinSeconds         int `yaml:"pacing_min_seconds"`
		PacingMaxSeconds         int `yaml:"pacing_max_seconds"`
		Workers                  struct {
			Tier1 int `yaml:"tier1"`
			Tier2 int `yaml:"tier2"`
			Tier3 int `yaml:"tier3"`
		} `yaml:"workers"`
	} `yaml:"execution"`

	Sources struct {
		Greenhouse SourceConfig `yaml:"greenhouse"`
		Lever      SourceConfig `yaml:"lever"`
	} `yaml:"sources"`

	Email struct {
		Enabled         bool     `yaml:"enabled"`
		IMAPHost        string   `yaml:"imap_host"`
		IMAPPort        int      `yaml:"imap_port"`
		Username        string   `yaml:"username"`
		Mailbox         string   `yaml:"mailbox"`
		SubjectPatterns []string `yaml:"subject_patterns"`
	} `yaml:"email"`
}

func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = yaml.Unmarshal(b, &cfg)
	return cfg, err
}

// BudgetFor returns the configured caps for a tier (1..3).
func (c Config) BudgetFor(tier int) TierBudget {
	switch tier {
	case 1:
		return c.Budgets.Tier1
	case 2:
		return c.Budgets.Tier2
	default:
		return c.Budgets.Tier3
	}
}

// WorkersFor returns the worker pool size for a tier (1..3).
func (c Config) WorkersFor(tier int) int {
	switch tier {
	case 1:
		return c.Execution.Workers.Tier1
	case 2:
		return c.Execution.Workers.Tier2
	default:
		return c.Execution.Workers.Tier3
	}
}
