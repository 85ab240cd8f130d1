package license

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/keygate-io/keygate/internal/pkg/env"
)

const keyHashLen = 16

// GenerateKey derives a license key for a paid subscription. The key embeds
// the tier for greppability and a hash of tier, subject, subscription and a
// nanosecond timestamp so keys are never reused across subscriptions.
// Format: <PREFIX>-<TIER>-<HASH>.
func GenerateKey(tier string, subjectID string, subscriptionID string) string {
	seed := fmt.Sprintf("%s|%s|%s|%d", tier, subjectID, subscriptionID, time.Now().UnixNano())
	sum := sha256.Sum256([]byte(seed))
	hash := strings.ToUpper(hex.EncodeToString(sum[:]))[:keyHashLen]
	return fmt.Sprintf("%s-%s-%s", keyPrefix(), strings.ToUpper(tier), hash)
}

// GenerateFreeKey derives the free-tier key for an email address. It is
// deliberately deterministic: the same email always yields the same key, so
// a re-requested free key matches the one already on record. Paid keys come
// from GenerateKey and must never go through this path.
func GenerateFreeKey(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := sha256.Sum256([]byte("free:" + normalized))
	hash := strings.ToUpper(hex.EncodeToString(sum[:]))[:keyHashLen]
	return fmt.Sprintf("%s-FREE-%s", keyPrefix(), hash)
}

func keyPrefix() string {
	return strings.ToUpper(strings.TrimSpace(env.GetEnv("LICENSE_KEY_PREFIX", "KG")))
}
