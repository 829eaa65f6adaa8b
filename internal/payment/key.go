package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for derived identifiers.
// Version suffix enables future algorithm migration.
const (
	DomainAutoKey   = "chargeonce/autokey/v1"
	DomainReference = "chargeonce/reference/v1"
)

// Idempotency key shape constraints.
const (
	// MaxKeyLength caps normalized keys; longer input is truncated.
	MaxKeyLength = 120

	// MinKeyLength is the minimum normalized length; shorter keys carry
	// too little entropy to be trusted as client-chosen identities.
	MinKeyLength = 8

	// AutoKeyPrefix marks keys derived by the service rather than
	// supplied by the client.
	AutoKeyPrefix = "auto-"

	// ReferencePrefix marks correlation references derived from a key.
	ReferencePrefix = "co-"

	autoKeyDigestChars   = 48
	referenceDigestChars = 20
)

// TimeBucketWindow is the derivation window for automatic keys. Two
// otherwise-identical requests inside the same window collapse onto the
// same key; across windows they are distinct purchases.
const TimeBucketWindow = 10 * time.Minute

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeKey canonicalizes a client-supplied idempotency key:
// characters outside [A-Za-z0-9._:-] are replaced with '-', runs of '-'
// collapse to a single dash, and the result is capped at MaxKeyLength.
// Replacement keeps word boundaries visible in the echoed key, so
// "order 2024" and "order2024" stay distinct identities.
//
// Returns an error when the normalized key is shorter than MinKeyLength;
// the caller should surface that as a client error rather than silently
// deriving a key.
func NormalizeKey(raw string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw))
	prevDash := false
	for _, r := range raw {
		ok := (r >= 'A' && r <= 'Z') ||
			(r >= 'a' && r <= 'z') ||
			(r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == ':' || r == '-'
		if !ok {
			r = '-'
		}
		if r == '-' {
			if prevDash {
				continue
			}
			prevDash = true
		} else {
			prevDash = false
		}
		b.WriteRune(r)
	}

	key := b.String()
	if len(key) > MaxKeyLength {
		key = key[:MaxKeyLength]
	}
	if len(key) < MinKeyLength {
		return "", fmt.Errorf("idempotency key too short after normalization (%d chars, need %d)", len(key), MinKeyLength)
	}
	return key, nil
}

// TimeBucket returns the derivation window index for an instant:
// floor(unix milliseconds / window). Stable within a window, monotonic
// across windows.
func TimeBucket(at time.Time) int64 {
	return at.UnixMilli() / TimeBucketWindow.Milliseconds()
}

// DeriveAutoKey computes the deterministic idempotency key for an intent
// that arrived without a client key.
//
// The derivation input is the pipe-joined tuple of business identity
// fields plus the time bucket. Only the card BIN and last four digits
// participate; the full PAN never enters the digest. The joined string is
// NFC-normalized so visually identical input cannot fork the key.
func DeriveAutoKey(intent PaymentIntent, at time.Time) string {
	fields := []string{
		intent.LeadID,
		intent.CourseSlug,
		strconv.FormatInt(intent.AmountCents, 10),
		strconv.Itoa(intent.Installments),
		BIN(intent.Card.Number),
		Last4(intent.Card.Number),
		strconv.Itoa(intent.Card.ExpirationMonth),
		strconv.Itoa(intent.Card.ExpirationYear),
		strconv.FormatInt(TimeBucket(at), 10),
	}
	joined := norm.NFC.String(strings.Join(fields, "|"))
	digest := hashWithDomain(DomainAutoKey, []byte(joined))
	return AutoKeyPrefix + digest[:autoKeyDigestChars]
}

// ResolveKey returns the effective idempotency key for an intent:
// the normalized client key when one was supplied, otherwise the derived
// automatic key. derived reports which path was taken.
func ResolveKey(intent PaymentIntent, at time.Time) (key string, derived bool, err error) {
	if strings.TrimSpace(intent.IdempotencyKey) != "" {
		key, err = NormalizeKey(intent.IdempotencyKey)
		return key, false, err
	}
	return DeriveAutoKey(intent, at), true, nil
}

// DeriveReference computes the correlation reference for an idempotency
// key. Deterministic: anyone holding the key can recompute the reference,
// which is what makes the by-reference fallback lookup converge with the
// by-key lookup.
func DeriveReference(key string) string {
	digest := hashWithDomain(DomainReference, []byte(key))
	return ReferencePrefix + digest[:referenceDigestChars]
}
