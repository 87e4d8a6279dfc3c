// Copyright (c) 2026 Gatehouse. All rights reserved.

package identity

import "time"

// # Authentication Constraints

const (
	// DefaultSessionTTL is the lifetime of a newly created browser session.
	DefaultSessionTTL = 24 * time.Hour

	// StateTTL is how long a stashed anti-CSRF state token survives.
	// One OAuth round-trip should comfortably finish within this window.
	StateTTL = 10 * time.Minute

	// FallbackUsername is used when a provider profile carries no usable
	// display name. Validation happens at User creation, never here.
	FallbackUsername = "Unknown"

	// MaxUsernameLength bounds what we accept from provider profiles.
	MaxUsernameLength = 120
)

// # Field Identifiers

// Field names for validation details in the identity domain.
const (
	FieldUsername       = "username"
	FieldEmail          = "email"
	FieldProvider       = "provider"
	FieldProviderUserID = "provider_user_id"
	FieldUserID         = "user_id"
	FieldSessionID      = "session_id"
	FieldExpiresAt      = "expires_at"
)

// # OAuth Scopes

const (
	// MicrosoftScopes is the fixed scope list requested from Microsoft 365.
	MicrosoftScopes = "openid profile email"

	// GitHubScopes is the fixed scope list requested from GitHub.
	GitHubScopes = "user:email"
)
