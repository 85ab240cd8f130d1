package license

import (
	"regexp"
	"strings"
	"testing"
)

var keyPattern = regexp.MustCompile(`^KG-[A-Z_]+-[0-9A-F]{16}$`)

func TestGenerateKeyFormat(t *testing.T) {
	key := GenerateKey("pro", "42", "sub_123")
	if !keyPattern.MatchString(key) {
		t.Fatalf("key %q does not match expected format", key)
	}
	if !strings.Contains(key, "-PRO-") {
		t.Fatalf("key %q does not embed the tier", key)
	}
}

func TestGenerateKeyNoCollisions(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		key := GenerateKey("pro", "42", "sub_123")
		if !keyPattern.MatchString(key) {
			t.Fatalf("key %q does not match expected format", key)
		}
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate key generated after %d iterations: %q", i, key)
		}
		seen[key] = struct{}{}
	}
}

func TestGenerateFreeKeyDeterministic(t *testing.T) {
	a := GenerateFreeKey("alice@example.com")
	b := GenerateFreeKey("  Alice@Example.COM ")
	if a != b {
		t.Fatalf("expected free keys to be deterministic per email, got %q and %q", a, b)
	}
	if !strings.Contains(a, "-FREE-") {
		t.Fatalf("free key %q missing FREE marker", a)
	}

	other := GenerateFreeKey("bob@example.com")
	if other == a {
		t.Fatalf("different emails produced the same free key: %q", a)
	}
}
