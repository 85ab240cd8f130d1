package billing

import (
	"strings"

	"github.com/keygate-io/keygate/internal/pkg/entitlements"
	"github.com/keygate-io/keygate/internal/pkg/env"
)

// productTierMap resolves provider product ids to internal tiers. Product ids
// are environment-configured because they differ per deployment (test vs.
// live provider accounts).
func productTierMap() map[string]entitlements.Tier {
	m := make(map[string]entitlements.Tier, 3)
	if id := strings.TrimSpace(env.GetEnv("PRODUCT_ID_FREE", "")); id != "" {
		m[id] = entitlements.TierFree
	}
	if id := strings.TrimSpace(env.GetEnv("PRODUCT_ID_PRO", "")); id != "" {
		m[id] = entitlements.TierPro
	}
	if id := strings.TrimSpace(env.GetEnv("PRODUCT_ID_ENTERPRISE", "")); id != "" {
		m[id] = entitlements.TierEnterprise
	}
	return m
}

// TierForProduct maps a provider product id to an internal tier. Unknown
// product ids yield TierUnknown; callers log and continue rather than fail
// the event.
func TierForProduct(productID string) entitlements.Tier {
	id := strings.TrimSpace(productID)
	if id == "" {
		return entitlements.TierUnknown
	}
	// Allow literal tier names as product ids so test fixtures and manual
	// provisioning work without env configuration.
	if t := entitlements.NormalizeTier(id); t != entitlements.TierUnknown {
		return t
	}
	if t, ok := productTierMap()[id]; ok {
		return t
	}
	return entitlements.TierUnknown
}
