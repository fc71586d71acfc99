package score

import (
	"strings"

	"applyflow-engine/internal/config"
	"applyflow-engine/internal/domain"
)

// RulesScorer is the built-in Scorer: weighted keyword rules from config,
// clamped to 0..100. It stands in for the external AI matcher when one
// is not wired up.
type RulesScorer struct {
	Cfg config.Config
}

func (s RulesScorer) Score(p domain.JobPosting) (int, []string) {
	text := strings.ToLower(p.Title + " " + p.Description)

	score := 0
	var tags []string

	applyRules := func(rules []config.Rule) {
		for _, r := range rules {
			for _, needle := range r.Any {
				if strings.Contains(text, strings.ToLower(needle)) {
					score += r.Weight
					tags = append(tags, r.Tag)
					break
				}
			}
		}
	}

	applyRules(s.Cfg.Scoring.TitleRules)
	applyRules(s.Cfg.Scoring.KeywordRules)

	for _, pen := range s.Cfg.Scoring.Penalties {
		for _, needle := range pen.Any {
			if strings.Contains(text, strings.ToLower(needle)) {
				score -= pen.Weight
				break
			}
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return score, uniq(tags)
}

func uniq(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, t := range in {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
