package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keygate-io/keygate/app/models"
)

// brokenCounterStore fails every operation, standing in for an unreachable
// Redis.
type brokenCounterStore struct {
	err   error
	calls int
}

func (b *brokenCounterStore) Increment(context.Context, uint, string) (int64, error) {
	b.calls++
	return 0, b.err
}

func (b *brokenCounterStore) Decrement(context.Context, uint, string) error {
	b.calls++
	return b.err
}

func (b *brokenCounterStore) Get(context.Context, uint, string) (int64, error) {
	b.calls++
	return 0, b.err
}

func TestFallbackCounterStoreUsesFallbackOnPrimaryError(t *testing.T) {
	primary := &brokenCounterStore{err: errors.New("connection refused")}
	fallback := newMemCounterStore()
	store := NewFallbackCounterStore(primary, fallback)
	ctx := context.Background()

	n, err := store.Increment(ctx, 7, "2026-08-30")
	if err != nil {
		t.Fatalf("Increment() error = %v, want fallback to absorb the failure", err)
	}
	if n != 1 {
		t.Fatalf("Increment() = %d, want 1", n)
	}

	n, err = store.Get(ctx, 7, "2026-08-30")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Get() = %d, want 1", n)
	}

	if err := store.Decrement(ctx, 7, "2026-08-30"); err != nil {
		t.Fatalf("Decrement() error = %v", err)
	}
	if n, _ := fallback.Get(ctx, 7, "2026-08-30"); n != 0 {
		t.Fatalf("fallback counter = %d after decrement, want 0", n)
	}
}

func TestFallbackCounterStorePrefersPrimary(t *testing.T) {
	primary := newMemCounterStore()
	fallback := newMemCounterStore()
	store := NewFallbackCounterStore(primary, fallback)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Increment(ctx, 9, "2026-08-30"); err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
	}

	if n, _ := primary.Get(ctx, 9, "2026-08-30"); n != 3 {
		t.Fatalf("primary counter = %d, want 3", n)
	}
	if n, _ := fallback.Get(ctx, 9, "2026-08-30"); n != 0 {
		t.Fatalf("fallback counter = %d, want 0 when primary is healthy", n)
	}
}

// The tracker keeps serving and enforcing quotas when the primary counter
// store is down and counting degrades to the fallback.
func TestTrackCallSurvivesPrimaryCounterOutage(t *testing.T) {
	lic := &models.License{ID: 4, LicenseKey: "KG-FREE-AAAA0000BBBB1111", Tier: "free", IsActive: true}
	licenses := &memLicenseSource{licenses: map[string]*models.License{lic.LicenseKey: lic}}

	primary := &brokenCounterStore{err: errors.New("connection refused")}
	fallback := newMemCounterStore()
	tr := NewTracker(licenses, NewFallbackCounterStore(primary, fallback))
	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	res := tr.TrackCall(context.Background(), lic.LicenseKey, "lookup")
	if !res.Allowed {
		t.Fatalf("TrackCall() denied during primary outage: %s", res.Error)
	}
	if n, _ := fallback.Get(context.Background(), lic.ID, dayKey(fixed)); n != 1 {
		t.Fatalf("fallback counter = %d, want 1", n)
	}
	if primary.calls == 0 {
		t.Fatal("primary store was never attempted")
	}
}
