// Package signing implements the shared-secret HMAC used to authenticate
// geolocation payloads produced by the mobile client.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrMissingSecret is returned when the signer has no key material.
var ErrMissingSecret = errors.New("signing secret is not configured")

// HMACSigner signs and verifies messages with HMAC-SHA256.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner constructs a signer for the provided secret.
func NewHMACSigner(secret string) *HMACSigner {
	return &HMACSigner{secret: []byte(secret)}
}

// Sign returns the lowercase hex HMAC-SHA256 of message.
func (s *HMACSigner) Sign(message []byte) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrMissingSecret
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether signature is the hex HMAC of message. The comparison is
// constant time over the encoded form, so a change in letter case is a mismatch.
// A signer without a secret never verifies anything.
func (s *HMACSigner) Verify(message []byte, signature string) bool {
	expected, err := s.Sign(message)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
