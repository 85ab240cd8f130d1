package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"testing"
	"time"
)

func signPayload(t *testing.T, payload []byte, ts int64, secret string) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"type":"subscription.created"}`)
	secret := "top-secret"
	now := time.Now()
	ts := now.Unix()
	tsHeader := strconv.FormatInt(ts, 10)
	sig := signPayload(t, payload, ts, secret)

	if !verifyWebhookSignatureAt(now, payload, sig, tsHeader, "evt_1", secret) {
		t.Fatalf("expected valid signature to verify")
	}
	if verifyWebhookSignatureAt(now, []byte(`{"type":"tampered"}`), sig, tsHeader, "evt_1", secret) {
		t.Fatalf("expected tampered body to fail verification")
	}
	if verifyWebhookSignatureAt(now, payload, sig, tsHeader, "evt_1", "wrong-secret") {
		t.Fatalf("expected wrong secret to fail verification")
	}
}

func TestVerifyWebhookSignature_FailsClosed(t *testing.T) {
	payload := []byte(`{}`)
	secret := "top-secret"
	now := time.Now()
	tsHeader := strconv.FormatInt(now.Unix(), 10)
	sig := signPayload(t, payload, now.Unix(), secret)

	tests := []struct {
		name      string
		signature string
		timestamp string
		id        string
		secret    string
	}{
		{name: "missing signature", signature: "", timestamp: tsHeader, id: "evt_1", secret: secret},
		{name: "missing timestamp", signature: sig, timestamp: "", id: "evt_1", secret: secret},
		{name: "missing id", signature: sig, timestamp: tsHeader, id: "", secret: secret},
		{name: "unset secret", signature: sig, timestamp: tsHeader, id: "evt_1", secret: ""},
		{name: "no v1 component", signature: "t=" + tsHeader, timestamp: tsHeader, id: "evt_1", secret: secret},
		{name: "garbage hex", signature: "t=" + tsHeader + ",v1=zzzz", timestamp: tsHeader, id: "evt_1", secret: secret},
	}

	for _, tt := range tests {
		if verifyWebhookSignatureAt(now, payload, tt.signature, tt.timestamp, tt.id, tt.secret) {
			t.Fatalf("%s: expected verification to fail closed", tt.name)
		}
	}
}

func TestVerifyWebhookSignature_ReplayWindow(t *testing.T) {
	payload := []byte(`{}`)
	secret := "top-secret"
	now := time.Now()

	stale := now.Add(-10 * time.Minute).Unix()
	staleSig := signPayload(t, payload, stale, secret)
	if verifyWebhookSignatureAt(now, payload, staleSig, strconv.FormatInt(stale, 10), "evt_1", secret) {
		t.Fatalf("expected stale timestamp to be rejected")
	}

	future := now.Add(10 * time.Minute).Unix()
	futureSig := signPayload(t, payload, future, secret)
	if verifyWebhookSignatureAt(now, payload, futureSig, strconv.FormatInt(future, 10), "evt_1", secret) {
		t.Fatalf("expected far-future timestamp to be rejected")
	}

	recent := now.Add(-1 * time.Minute).Unix()
	recentSig := signPayload(t, payload, recent, secret)
	if !verifyWebhookSignatureAt(now, payload, recentSig, strconv.FormatInt(recent, 10), "evt_1", secret) {
		t.Fatalf("expected timestamp inside the window to verify")
	}
}
