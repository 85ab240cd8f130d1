package entitlements

import "testing"

func TestNormalizeTier(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
	}{
		{in: "free", want: TierFree},
		{in: "pro", want: TierPro},
		{in: "enterprise", want: TierEnterprise},
		{in: " PRO ", want: TierPro},
		{in: "gold", want: TierUnknown},
		{in: "", want: TierUnknown},
	}

	for _, tt := range tests {
		if got := NormalizeTier(tt.in); got != tt.want {
			t.Fatalf("NormalizeTier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDailyQuota(t *testing.T) {
	if DailyQuota(TierEnterprise) != UnlimitedQuota {
		t.Fatalf("expected enterprise quota to be unlimited")
	}
	if DailyQuota(TierPro) <= DailyQuota(TierFree) {
		t.Fatalf("expected pro quota to exceed free quota")
	}
	if DailyQuota(TierUnknown) != DailyQuota(TierFree) {
		t.Fatalf("expected unknown tier to fall back to the free quota")
	}
}

func TestTierRank(t *testing.T) {
	if TierRank(TierFree) >= TierRank(TierPro) {
		t.Fatalf("expected pro to outrank free")
	}
	if TierRank(TierPro) >= TierRank(TierEnterprise) {
		t.Fatalf("expected enterprise to outrank pro")
	}
}
