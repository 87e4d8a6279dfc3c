// Copyright (c) 2026 Gatehouse. All rights reserved.

// Package sec provides cryptographic primitives for the authentication core.
//
// # Architecture
//
// This package isolates security-sensitive code (secure token generation,
// constant-time comparison) from the domain logic. Both the anti-CSRF state
// tokens and the opaque session identifiers are built from the same
// construction, in independent namespaces.
package sec

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// TokenByteLength is the entropy, in bytes, of every opaque token the
// platform issues. Hex encoding doubles it on the wire.
const TokenByteLength = 32

// TokenHexLength is the encoded width of a generated token.
const TokenHexLength = TokenByteLength * 2

// GenerateToken returns 32 bytes of cryptographically secure randomness,
// hex-encoded (64 characters).
func GenerateToken() (string, error) {
	buf := make([]byte, TokenByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("sec: failed to read entropy source: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidateToken compares a request-supplied token against the stored one.
//
// # Timing Safety
//
// It returns false if either value is absent or the lengths differ; otherwise
// it performs a constant-time comparison that never short-circuits on the
// first mismatching byte, so response timing reveals nothing about where a
// forgery diverges.
func ValidateToken(requestToken, storedToken string) bool {
	if requestToken == "" || storedToken == "" {
		return false
	}
	if len(requestToken) != len(storedToken) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(requestToken), []byte(storedToken)) == 1
}

// SessionPrincipal is the per-request identity resolved from a valid session
// cookie. It is what the middleware injects into the request context.
type SessionPrincipal struct {
	SessionID string
	UserID    string
	Username  string
	Email     string
	Provider  string
}
