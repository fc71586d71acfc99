package domain

// Tier is the risk/automation capability bucket for an ATS platform.
type Tier int

const (
	Tier1 Tier = 1 // full automatic fill + submit
	Tier2 Tier = 2 // fill + submit with pacing and session rotation
	Tier3 Tier = 3 // prefill only; human confirms submission
)

func (t Tier) Valid() bool { return t >= Tier1 && t <= Tier3 }

// Strategy is the automation strategy bound statically to a tier.
type Strategy string

const (
	StrategyFullAuto    Strategy = "full-auto"
	StrategyDelayedAuto Strategy = "delayed-auto"
	StrategyPrefillOnly Strategy = "prefill-only"
)

// StrategyForTier returns the strategy a tier dispatches with.
func StrategyForTier(t Tier) Strategy {
	switch t {
	case Tier1:
		return StrategyFullAuto
	case Tier2:
		return StrategyDelayedAuto
	default:
		return StrategyPrefillOnly
	}
}

// PlatformUnknown is used when no ATS signature matches. Unknown postings
// always land in tier 3, never in a more automated tier.
const PlatformUnknown = "unknown"

// Classification maps a posting to a platform identity and tier.
// A posting has at most one active classification; re-classifying
// overwrites it.
type Classification struct {
	Platform   string
	Tier       Tier
	Confidence float64
}
