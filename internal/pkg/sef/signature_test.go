package sef

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/e-fakture/sefsync/internal/pkg/boundedcache"
)

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func freshTimestamp() string {
	return fmt.Sprintf("%d", time.Now().Unix())
}

func rejectReason(t *testing.T, err error) RejectReason {
	t.Helper()
	var rej *RejectError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectError, got %v", err)
	}
	return rej.Reason
}

func TestVerifyValidSignature(t *testing.T) {
	body := []byte(`{"sefId":"X1","eventType":"ACCEPTANCE"}`)
	secret := "top-secret"
	v := NewVerifier(secret)

	if err := v.Verify(body, signBody(body, secret), freshTimestamp(), ""); err != nil {
		t.Fatalf("bare hex signature should validate: %v", err)
	}
	if err := v.Verify(body, "sha256="+signBody(body, secret), freshTimestamp(), ""); err != nil {
		t.Fatalf("prefixed signature should validate: %v", err)
	}
}

func TestVerifyTamperedBody(t *testing.T) {
	body := []byte(`{"sefId":"X1","eventType":"ACCEPTANCE"}`)
	secret := "top-secret"
	sig := signBody(body, secret)

	tampered := append([]byte(nil), body...)
	tampered[10] ^= 0x01

	v := NewVerifier(secret)
	err := v.Verify(tampered, sig, freshTimestamp(), "")
	if got := rejectReason(t, err); got != RejectInvalidSignature {
		t.Fatalf("reason = %s, want invalid_signature", got)
	}
}

func TestVerifyMissingSignature(t *testing.T) {
	v := NewVerifier("top-secret")
	err := v.Verify([]byte(`{}`), "", freshTimestamp(), "")
	if got := rejectReason(t, err); got != RejectMissingSignature {
		t.Fatalf("reason = %s, want missing_signature", got)
	}
}

func TestVerifyStaleTimestamp(t *testing.T) {
	body := []byte(`{}`)
	secret := "top-secret"
	v := NewVerifier(secret)

	stale := fmt.Sprintf("%d", time.Now().Add(-10*time.Minute).Unix())
	err := v.Verify(body, signBody(body, secret), stale, "")
	if got := rejectReason(t, err); got != RejectExpired {
		t.Fatalf("reason = %s, want expired", got)
	}

	future := fmt.Sprintf("%d", time.Now().Add(10*time.Minute).Unix())
	err = v.Verify(body, signBody(body, secret), future, "")
	if got := rejectReason(t, err); got != RejectExpired {
		t.Fatalf("premature timestamp: reason = %s, want expired", got)
	}

	err = v.Verify(body, signBody(body, secret), "", "")
	if got := rejectReason(t, err); got != RejectExpired {
		t.Fatalf("missing timestamp: reason = %s, want expired", got)
	}
}

func TestVerifyRFC3339Timestamp(t *testing.T) {
	body := []byte(`{}`)
	secret := "top-secret"
	v := NewVerifier(secret)

	ts := time.Now().Format(time.RFC3339)
	if err := v.Verify(body, signBody(body, secret), ts, ""); err != nil {
		t.Fatalf("RFC3339 timestamp should be accepted: %v", err)
	}
}

func TestVerifyNonceReplay(t *testing.T) {
	body := []byte(`{}`)
	secret := "top-secret"
	v := NewVerifier(secret)

	if err := v.Verify(body, signBody(body, secret), freshTimestamp(), "nonce-1"); err != nil {
		t.Fatalf("first sight of nonce should pass: %v", err)
	}
	err := v.Verify(body, signBody(body, secret), freshTimestamp(), "nonce-1")
	if got := rejectReason(t, err); got != RejectReplay {
		t.Fatalf("reason = %s, want replay", got)
	}
}

func TestVerifyNonceExpiry(t *testing.T) {
	body := []byte(`{}`)
	secret := "top-secret"
	// Short replay window so the test does not wait five minutes.
	v := &Verifier{
		secret: secret,
		nonces: boundedcache.New(16, 20*time.Millisecond),
		now:    time.Now,
	}

	if err := v.Verify(body, signBody(body, secret), freshTimestamp(), "nonce-2"); err != nil {
		t.Fatalf("first sight of nonce should pass: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if err := v.Verify(body, signBody(body, secret), freshTimestamp(), "nonce-2"); err != nil {
		t.Fatalf("nonce reused after the window should count as new: %v", err)
	}
}

func TestVerifyRelaxedMode(t *testing.T) {
	v := NewVerifier("")
	if err := v.Verify([]byte(`{}`), "", "", ""); err != nil {
		t.Fatalf("unconfigured secret should pass everything: %v", err)
	}
}
