package classify

import (
	"regexp"

	"applyflow-engine/internal/domain"
)

// signature describes how one ATS platform shows up in job URLs and in
// the DOM of its apply pages.
type signature struct {
	platform   string
	tier       domain.Tier
	confidence float64 // confidence when matched by domain/URL
	domains    []string
	urlRe      []*regexp.Regexp
	domMarkers []string // case-insensitive markers in page text/assets
}

// urlPat guards the pattern with non-alphanumeric boundaries so that
// `lever\.co` cannot fire inside "clever.com".
func urlPat(pat string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[^a-z0-9])` + pat + `(?:[^a-z0-9]|$)`)
}

// Known platforms, grouped by automation friction. Low-friction boards
// (tier 1) run fully automated; the big enterprise suites (tier 3) only
// get prefilled and wait for a human.
var signatures = []signature{
	// Tier 1: low friction
	{
		platform: "jazzhr", tier: domain.Tier1, confidence: 0.9,
		domains:    []string{"applytojob.com", "jazzhr.com"},
		urlRe:      []*regexp.Regexp{urlPat(`applytojob\.com`), urlPat(`jazzhr\.com`)},
		domMarkers: []string{"jazzhr", "jazz-hr"},
	},
	{
		platform: "bamboohr", tier: domain.Tier1, confidence: 0.9,
		domains:    []string{"bamboohr.com"},
		urlRe:      []*regexp.Regexp{urlPat(`bamboohr\.com`)},
		domMarkers: []string{"bamboohr", "bamboo-hr"},
	},
	{
		platform: "recruitee", tier: domain.Tier1, confidence: 0.9,
		domains:    []string{"recruitee.com"},
		urlRe:      []*regexp.Regexp{urlPat(`recruitee\.com`)},
		domMarkers: []string{"recruitee"},
	},
	{
		platform: "manatal", tier: domain.Tier1, confidence: 0.85,
		domains:    []string{"manatal.com"},
		urlRe:      []*regexp.Regexp{urlPat(`manatal\.com`)},
		domMarkers: []string{"manatal"},
	},
	{
		platform: "pinpoint", tier: domain.Tier1, confidence: 0.85,
		domains:    []string{"pinpointhq.com"},
		urlRe:      []*regexp.Regexp{urlPat(`pinpointhq\.com`)},
		domMarkers: []string{"pinpoint-hq", "pinpoint"},
	},

	// Tier 2: medium friction
	{
		platform: "lever", tier: domain.Tier2, confidence: 0.9,
		domains:    []string{"lever.co", "jobs.lever.co"},
		urlRe:      []*regexp.Regexp{urlPat(`jobs\.lever\.co`), urlPat(`lever\.co`)},
		domMarkers: []string{"lever-portal", "lever"},
	},
	{
		platform: "greenhouse", tier: domain.Tier2, confidence: 0.9,
		domains:    []string{"greenhouse.io", "boards.greenhouse.io"},
		urlRe:      []*regexp.Regexp{urlPat(`boards\.greenhouse\.io`), urlPat(`greenhouse\.io`)},
		domMarkers: []string{"greenhouse-portal", "greenhouse"},
	},
	{
		platform: "ashby", tier: domain.Tier2, confidence: 0.85,
		domains:    []string{"ashbyhq.com"},
		urlRe:      []*regexp.Regexp{urlPat(`jobs\.ashbyhq\.com`), urlPat(`ashbyhq\.com`)},
		domMarkers: []string{"ashby-portal", "ashby"},
	},
	{
		platform: "bullhorn", tier: domain.Tier2, confidence: 0.8,
		domains:    []string{"bullhornstaffing.com"},
		urlRe:      []*regexp.Regexp{urlPat(`bullhornstaffing\.com`)},
		domMarkers: []string{"bullhorn-portal", "bullhorn"},
	},
	{
		platform: "trakstar", tier: domain.Tier2, confidence: 0.8,
		domains:    []string{"trakstar.com", "hire.trakstar.com"},
		urlRe:      []*regexp.Regexp{urlPat(`hire\.trakstar\.com`), urlPat(`trakstar\.com`)},
		domMarkers: []string{"trakstar-hire", "trakstar"},
	},

	// Tier 3: high friction
	{
		platform: "workday", tier: domain.Tier3, confidence: 0.9,
		domains:    []string{"myworkdayjobs.com"},
		urlRe:      []*regexp.Regexp{urlPat(`myworkdayjobs\.com`), urlPat(`workday\.com`)},
		domMarkers: []string{"workday-portal", "workday"},
	},
	{
		platform: "icims", tier: domain.Tier3, confidence: 0.85,
		domains:    []string{"icims.com"},
		urlRe:      []*regexp.Regexp{urlPat(`icims\.com`), urlPat(`careers-icims`)},
		domMarkers: []string{"icims-portal", "icims"},
	},
	{
		platform: "taleo", tier: domain.Tier3, confidence: 0.85,
		domains:    []string{"taleo.net"},
		urlRe:      []*regexp.Regexp{urlPat(`taleo\.net`), urlPat(`oracle\.com/taleo`)},
		domMarkers: []string{"taleo-portal", "oracle taleo", "taleo"},
	},
	{
		platform: "smartrecruiters", tier: domain.Tier3, confidence: 0.85,
		domains:    []string{"smartrecruiters.com"},
		urlRe:      []*regexp.Regexp{urlPat(`jobs\.smartrecruiters\.com`), urlPat(`smartrecruiters\.com`)},
		domMarkers: []string{"smartrecruiters-portal", "smartrecruiters"},
	},
	{
		platform: "successfactors", tier: domain.Tier3, confidence: 0.85,
		domains:    []string{"successfactors.com", "successfactors.eu"},
		urlRe:      []*regexp.Regexp{urlPat(`successfactors\.(?:com|eu)`), urlPat(`sap\.com/successfactors`)},
		domMarkers: []string{"sap successfactors", "successfactors"},
	},
	{
		platform: "jobvite", tier: domain.Tier3, confidence: 0.8,
		domains:    []string{"jobvite.com"},
		urlRe:      []*regexp.Regexp{urlPat(`jobs\.jobvite\.com`), urlPat(`jobvite\.com`)},
		domMarkers: []string{"jobvite-portal", "jobvite"},
	},
	{
		platform: "ukgpro", tier: domain.Tier3, confidence: 0.8,
		domains:    []string{"ultipro.com"},
		urlRe:      []*regexp.Regexp{urlPat(`ultipro\.com`), urlPat(`ukg\.com`)},
		domMarkers: []string{"ukg pro", "ultipro"},
	},
	{
		platform: "dayforce", tier: domain.Tier3, confidence: 0.8,
		domains:    []string{"dayforcehcm.com"},
		urlRe:      []*regexp.Regexp{urlPat(`dayforcehcm\.com`), urlPat(`dayforce\.com`)},
		domMarkers: []string{"dayforce", "ceridian"},
	},
	{
		platform: "avature", tier: domain.Tier3, confidence: 0.8,
		domains:    []string{"avature.net"},
		urlRe:      []*regexp.Regexp{urlPat(`avature\.net`), urlPat(`careers-avature`)},
		domMarkers: []string{"avature-portal", "avature"},
	},
}
