package sef

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/e-fakture/sefsync/internal/pkg/boundedcache"
)

// Webhook headers sent by the exchange.
const (
	SignatureHeader = "X-SEF-Signature"
	TimestampHeader = "X-SEF-Timestamp"
	NonceHeader     = "X-SEF-Nonce"
)

const (
	// maxClockSkew bounds how far a notification timestamp may drift from
	// local time in either direction.
	maxClockSkew = 5 * time.Minute
	// nonceTTL is the replay window; a nonce reappearing within it is a
	// replay, after it the cache has forgotten it and the event counts as new.
	nonceTTL = 5 * time.Minute
	// nonceCapacity bounds the replay cache so an attacker cannot grow it
	// without limit.
	nonceCapacity = 10000
)

// RejectReason identifies why verification failed. The HTTP layer answers
// 401 for every reason without leaking detail to the sender.
type RejectReason string

const (
	RejectMissingSignature RejectReason = "missing_signature"
	RejectExpired          RejectReason = "expired"
	RejectReplay           RejectReason = "replay"
	RejectInvalidSignature RejectReason = "invalid_signature"
)

// RejectError is a typed verification failure.
type RejectError struct {
	Reason RejectReason
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("webhook rejected: %s", e.Reason)
}

// Verifier checks authenticity and freshness of inbound notifications before
// they reach business logic. With no secret configured it runs in an
// explicit relaxed mode that passes everything; that mode is for
// non-production use only.
type Verifier struct {
	secret string
	nonces *boundedcache.Cache
	now    func() time.Time
}

// NewVerifier creates a verifier for the shared webhook secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: strings.TrimSpace(secret),
		nonces: boundedcache.New(nonceCapacity, nonceTTL),
		now:    time.Now,
	}
}

// Verify runs the three checks in order: freshness, replay, signature. The
// signature is an HMAC-SHA256 over the exact raw body, accepted either as
// bare hex or prefixed with "sha256=". A nil return means the notification
// may be processed.
func (v *Verifier) Verify(body []byte, signature, timestamp, nonce string) error {
	if v.secret == "" {
		log.Warn("[Webhook] no webhook secret configured, accepting unverified notification")
		return nil
	}

	if !v.fresh(timestamp) {
		log.Warnf("[Webhook] rejected: timestamp %q outside ±%s window", timestamp, maxClockSkew)
		return &RejectError{Reason: RejectExpired}
	}

	if nonce = strings.TrimSpace(nonce); nonce != "" {
		if !v.nonces.PutIfAbsent(nonce, "") {
			log.Warnf("[Webhook] rejected: nonce replayed within %s", nonceTTL)
			return &RejectError{Reason: RejectReplay}
		}
	}

	sig := strings.TrimSpace(signature)
	if sig == "" {
		log.Warn("[Webhook] rejected: missing signature")
		return &RejectError{Reason: RejectMissingSignature}
	}
	sig = strings.TrimPrefix(sig, "sha256=")
	expected, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil || !verifyHMAC(body, expected, []byte(v.secret)) {
		log.Warnf("[Webhook] rejected: signature mismatch (sig prefix %q, body %d bytes)",
			sigPrefix(sig), len(body))
		return &RejectError{Reason: RejectInvalidSignature}
	}
	return nil
}

// fresh reports whether the supplied timestamp is within the skew window.
// Both unix seconds and RFC 3339 are accepted; a missing or unparseable
// timestamp fails the check.
func (v *Verifier) fresh(timestamp string) bool {
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return false
	}

	var at time.Time
	if secs, err := strconv.ParseInt(ts, 10, 64); err == nil {
		at = time.Unix(secs, 0)
	} else if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
		at = parsed
	} else {
		return false
	}

	diff := v.now().Sub(at)
	if diff < 0 {
		diff = -diff
	}
	return diff <= maxClockSkew
}

func verifyHMAC(payload, expectedSig, secret []byte) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}

// sigPrefix returns a short prefix safe for logs. Full signatures are never
// logged.
func sigPrefix(sig string) string {
	if len(sig) > 8 {
		return sig[:8]
	}
	return sig
}
