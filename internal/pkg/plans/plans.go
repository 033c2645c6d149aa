package plans

import "strings"

type Tier string

const (
	TierStarter Tier = "starter"
	TierCreator Tier = "creator"
	TierBrand   Tier = "brand"
	TierPro     Tier = "pro"
	TierAdmin   Tier = "admin"
)

// PlanLimits describes what a tier includes: the monthly generation pool, the
// base price and the per-unit overage rate charged past the pool.
type PlanLimits struct {
	PoolLimit        int
	PriceCents       int
	OverageRateCents int
}

// adminPoolLimit is high enough that an admin can never exhaust it in practice.
const adminPoolLimit = 1_000_000

var planLimits = map[Tier]PlanLimits{
	TierStarter: {PoolLimit: 50, PriceCents: 999, OverageRateCents: 10},
	TierCreator: {PoolLimit: 200, PriceCents: 2499, OverageRateCents: 8},
	TierBrand:   {PoolLimit: 500, PriceCents: 4999, OverageRateCents: 6},
	TierPro:     {PoolLimit: 2000, PriceCents: 9999, OverageRateCents: 5},
	TierAdmin:   {PoolLimit: adminPoolLimit, PriceCents: 0, OverageRateCents: 0},
}

// Limits returns the catalog entry for a tier. Unknown tiers fall back to
// starter so the ledger always has a usable limit to work with.
func Limits(t Tier) PlanLimits {
	if l, ok := planLimits[t]; ok {
		return l
	}
	return planLimits[TierStarter]
}

// NormalizeTier maps a free-form tier string (plan names coming from the
// commerce platform, config values, stored rows) onto a known tier via
// case-insensitive substring matching. ok=false means resolution failed;
// callers must not substitute a default tier for a failed match.
func NormalizeTier(raw string) (Tier, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	switch {
	case strings.Contains(s, "starter"):
		return TierStarter, true
	case strings.Contains(s, "creator"):
		return TierCreator, true
	case strings.Contains(s, "brand"):
		return TierBrand, true
	case strings.Contains(s, "professional"), strings.Contains(s, "pro"):
		return TierPro, true
	default:
		return "", false
	}
}
