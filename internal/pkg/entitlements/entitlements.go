package entitlements

import "strings"

type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
	TierUnknown    Tier = "unknown"
)

// UnlimitedQuota marks tiers without a daily call ceiling.
const UnlimitedQuota int64 = -1

// NormalizeTier maps arbitrary input to a known tier. Unrecognized values
// collapse to TierUnknown so the caller can log and keep going.
func NormalizeTier(tier string) Tier {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case string(TierFree):
		return TierFree
	case string(TierPro):
		return TierPro
	case string(TierEnterprise):
		return TierEnterprise
	default:
		return TierUnknown
	}
}

// DailyQuota returns the number of tracked calls a license of the given tier
// may make per UTC day. Unknown tiers get the free quota until an operator
// fixes the product mapping.
func DailyQuota(tier Tier) int64 {
	switch tier {
	case TierEnterprise:
		return UnlimitedQuota
	case TierPro:
		return 1000
	default:
		return 50
	}
}

// MaxServers returns how many server installs a license of the tier covers.
func MaxServers(tier Tier) int {
	switch tier {
	case TierEnterprise:
		return 25
	case TierPro:
		return 5
	default:
		return 1
	}
}

// TierRank orders tiers for best-plan reconciliation.
func TierRank(tier Tier) int {
	switch tier {
	case TierEnterprise:
		return 2
	case TierPro:
		return 1
	default:
		return 0
	}
}
