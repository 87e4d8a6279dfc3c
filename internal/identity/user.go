// Copyright (c) 2026 Gatehouse. All rights reserved.

/*
Package identity implements the authentication and session core of the
Gatehouse SSO gateway.

It defines the core domain entities (User, Session), the OAuth profile
normalization logic, and the orchestration of the login/callback/logout
protocol across external identity providers.

# Architecture

This layer is the "Truth" of the system. A User binds exactly one external
identity — the (provider, provider user id) pair is globally unique — to one
local account. Sessions are opaque, server-side rows; nothing about a user
travels inside the cookie.
*/
package identity

import (
	"context"
	"time"

	"gatehouse/internal/platform/apperr"
)

// # Providers

// Provider identifies an external OAuth2 identity service.
type Provider string

const (
	// ProviderMicrosoft is the Microsoft 365 identity provider.
	ProviderMicrosoft Provider = "microsoft"

	// ProviderGitHub is the GitHub identity provider.
	ProviderGitHub Provider = "github"
)

// ParseProvider converts a raw string into a recognized [Provider].
// Unknown values fail with an UNSUPPORTED_PROVIDER error.
func ParseProvider(raw string) (Provider, error) {
	switch Provider(raw) {
	case ProviderMicrosoft:
		return ProviderMicrosoft, nil
	case ProviderGitHub:
		return ProviderGitHub, nil
	default:
		return "", apperr.UnsupportedProvider(raw)
	}
}

// Valid reports whether the provider is one of the recognized values.
func (p Provider) Valid() bool {
	return p == ProviderMicrosoft || p == ProviderGitHub
}

// # Domain Entities

// User represents one local identity bound to exactly one external identity.
//
// Provider and ProviderUserID are immutable after creation; Username and
// Email are refreshed from the provider profile on subsequent logins.
type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	Provider       Provider  `json:"provider"`
	ProviderUserID string    `json:"provider_user_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Session represents one authenticated browser session.
//
// The ID is an opaque 64-character hex token (32 bytes of entropy) and is
// the only value that ever reaches the browser.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStats summarizes the session table for introspection endpoints.
type SessionStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

// # Provider Payloads

// Profile is the canonical, provider-independent shape of an external
/// identity. It is a transient value: consumed immediately to create or
// refresh a [User], never persisted as-is.
type Profile struct {
	ProviderUserID string
	Username       string
	Email          string
	Provider       Provider
}

// ProfileUpdate carries the mutable fields of a partial profile refresh.
// Nil fields are left untouched.
type ProfileUpdate struct {
	Username *string
	Email    *string
}

// ProviderEmail is one entry of a provider's "list user emails" response.
type ProviderEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// RawProfile is the undigested provider response handed to [Normalize].
//
// Fields holds the decoded profile JSON object; Emails is populated only for
// providers that resolve addresses through a secondary listing call (GitHub).
type RawProfile struct {
	Provider Provider
	Fields   map[string]any
	Emails   []ProviderEmail
}

// # External Contracts

// ProviderClient is the per-provider OAuth2 exchange client.
//
// FetchProfile performs the full code-for-profile exchange: token endpoint,
// profile endpoint, and (where applicable) the email listing. Every failure —
// HTTP-level or network-level — surfaces as one of the TOKEN_EXCHANGE_FAILED /
// PROFILE_FETCH_FAILED error kinds so the orchestrator has a single failure
// shape to handle.
type ProviderClient interface {
	// AuthURL builds the provider's authorization URL with the given
	// anti-CSRF state embedded, using the fixed registered scopes.
	AuthURL(state string) string

	// FetchProfile exchanges an authorization code for the raw provider profile.
	FetchProfile(ctx context.Context, code string) (*RawProfile, error)
}
