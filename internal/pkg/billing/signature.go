package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/keygate-io/keygate/internal/pkg/env"
)

const defaultReplayTolerance = 5 * time.Minute

// VerifyWebhookSignature validates the authenticity of an inbound webhook
// payload. It fails closed: a missing header or an unset secret rejects the
// payload. The signature header carries a versioned token in the form
// "t=<unix-ts>,v1=<hex-hmac>" where the HMAC-SHA256 is computed over
// "<timestamp>.<rawBody>" with the shared secret.
func VerifyWebhookSignature(rawBody []byte, signatureHeader, timestampHeader, idHeader, secret string) bool {
	return verifyWebhookSignatureAt(time.Now(), rawBody, signatureHeader, timestampHeader, idHeader, secret)
}

func verifyWebhookSignatureAt(now time.Time, rawBody []byte, signatureHeader, timestampHeader, idHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	ts := strings.TrimSpace(timestampHeader)
	id := strings.TrimSpace(idHeader)
	sec := strings.TrimSpace(secret)
	if sig == "" || ts == "" || id == "" || sec == "" {
		return false
	}

	v1 := extractSignaturePart(sig, "v1")
	if v1 == "" {
		return false
	}
	expectedSig, err := hex.DecodeString(strings.ToLower(v1))
	if err != nil {
		return false
	}

	// Reject stale timestamps so a captured payload cannot be replayed
	// outside the tolerance window.
	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	age := now.Sub(time.Unix(tsUnix, 0))
	if age < 0 {
		age = -age
	}
	if age > replayTolerance() {
		return false
	}

	mac := hmac.New(sha256.New, []byte(sec))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}

// extractSignaturePart pulls a named component out of a comma-separated
// "k=v" signature token.
func extractSignaturePart(header, key string) string {
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && kv[0] == key {
			return strings.TrimSpace(kv[1])
		}
	}
	return ""
}

func replayTolerance() time.Duration {
	raw := strings.TrimSpace(env.GetEnv("WEBHOOK_REPLAY_TOLERANCE_SECONDS", ""))
	if raw == "" {
		return defaultReplayTolerance
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return defaultReplayTolerance
	}
	return time.Duration(secs) * time.Second
}
