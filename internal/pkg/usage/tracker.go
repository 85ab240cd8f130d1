package usage

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/keygate-io/keygate/app/models"
	"github.com/keygate-io/keygate/internal/pkg/billing"
	"github.com/keygate-io/keygate/internal/pkg/entitlements"
	"github.com/keygate-io/keygate/internal/pkg/env"
)

// LicenseSource resolves license keys to license records. Satisfied by the
// billing repository.
type LicenseSource interface {
	GetLicenseByKey(key string) (*models.License, error)
}

// Result is the outcome of a usage check. Failures are reported here as
// Allowed=false with a descriptive Error, never as a Go error to the caller.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int64     `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
	Error     string    `json:"error,omitempty"`
}

// Tracker gates per-call usage against the license tier's daily quota.
type Tracker struct {
	licenses LicenseSource
	counters CounterStore
	now      func() time.Time
}

// NewTracker creates a tracker from an injected license source and counter
// store.
func NewTracker(licenses LicenseSource, counters CounterStore) *Tracker {
	return &Tracker{licenses: licenses, counters: counters, now: time.Now}
}

// TrackCall checks and counts one call against the license's daily quota.
// The counter is incremented atomically; an over-quota increment is
// compensated so the stored value never exceeds the quota.
func (t *Tracker) TrackCall(ctx context.Context, licenseKey string, operation string) Result {
	now := t.now().UTC()
	reset := nextReset(now)

	if BypassEnabled() {
		return Result{Allowed: true, Remaining: entitlements.UnlimitedQuota, ResetTime: reset}
	}

	lic, res, ok := t.resolveLicense(licenseKey, now, reset)
	if !ok {
		return res
	}

	quota := entitlements.DailyQuota(entitlements.NormalizeTier(lic.Tier))
	day := dayKey(now)

	n, err := t.counters.Increment(ctx, lic.ID, day)
	if err != nil {
		log.Printf("usage counter increment failed for license %d: %v", lic.ID, err)
		return Result{Allowed: false, Remaining: 0, ResetTime: reset, Error: "usage tracking unavailable"}
	}

	if quota != entitlements.UnlimitedQuota && n > quota {
		if err := t.counters.Decrement(ctx, lic.ID, day); err != nil {
			log.Printf("usage counter compensation failed for license %d: %v", lic.ID, err)
		}
		log.Printf("license %d denied operation %q: daily quota %d exhausted", lic.ID, operation, quota)
		return Result{Allowed: false, Remaining: 0, ResetTime: reset, Error: billing.ErrRateLimited.Error()}
	}

	remaining := entitlements.UnlimitedQuota
	if quota != entitlements.UnlimitedQuota {
		remaining = quota - n
	}
	return Result{Allowed: true, Remaining: remaining, ResetTime: reset}
}

// Snapshot returns the current usage for a license without counting a call.
func (t *Tracker) Snapshot(ctx context.Context, licenseKey string) Result {
	now := t.now().UTC()
	reset := nextReset(now)

	if BypassEnabled() {
		return Result{Allowed: true, Remaining: entitlements.UnlimitedQuota, ResetTime: reset}
	}

	lic, res, ok := t.resolveLicense(licenseKey, now, reset)
	if !ok {
		return res
	}

	quota := entitlements.DailyQuota(entitlements.NormalizeTier(lic.Tier))
	n, err := t.counters.Get(ctx, lic.ID, dayKey(now))
	if err != nil {
		log.Printf("usage counter read failed for license %d: %v", lic.ID, err)
		return Result{Allowed: false, Remaining: 0, ResetTime: reset, Error: "usage tracking unavailable"}
	}

	remaining := entitlements.UnlimitedQuota
	if quota != entitlements.UnlimitedQuota {
		remaining = quota - n
		if remaining < 0 {
			remaining = 0
		}
	}
	return Result{Allowed: remaining != 0, Remaining: remaining, ResetTime: reset}
}

func (t *Tracker) resolveLicense(licenseKey string, now time.Time, reset time.Time) (*models.License, Result, bool) {
	key := strings.TrimSpace(licenseKey)
	if key == "" {
		return nil, Result{Allowed: false, Remaining: 0, ResetTime: reset, Error: "license key is required"}, false
	}

	lic, err := t.licenses.GetLicenseByKey(key)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return nil, Result{Allowed: false, Remaining: 0, ResetTime: reset, Error: "unknown license key"}, false
		}
		log.Printf("license lookup failed: %v", err)
		return nil, Result{Allowed: false, Remaining: 0, ResetTime: reset, Error: "license lookup failed"}, false
	}
	if !lic.IsUsable(now) {
		return nil, Result{Allowed: false, Remaining: 0, ResetTime: reset, Error: "license inactive or expired"}, false
	}
	return lic, Result{}, true
}

// BypassEnabled reports whether license checking is globally disabled. The
// bypass only takes effect in dev environments; a production process with
// the flag set keeps enforcing quotas and logs the refusal.
func BypassEnabled() bool {
	if env.GetEnv("LICENSE_CHECK_DISABLED", "false") != "true" {
		return false
	}
	if !env.IsDev() {
		log.Print("LICENSE_CHECK_DISABLED is set but APP_ENV is not dev, ignoring")
		return false
	}
	return true
}

func dayKey(now time.Time) string {
	return now.Format("2006-01-02")
}

func nextReset(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
