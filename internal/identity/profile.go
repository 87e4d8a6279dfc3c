// Copyright (c) 2026 Gatehouse. All rights reserved.

package identity

import (
	"strconv"
	"strings"

	"gatehouse/internal/platform/apperr"
)

// # Profile Normalization

/*
Normalize maps a provider-specific raw profile payload into the canonical
[Profile] shape.

Description: Pure and deterministic — no I/O, no side effects. Malformed but
well-typed input never fails here; missing fields degrade to the fallback
username or an empty email. Semantic validation happens later, at User
creation.

Parameters:
  - raw: *RawProfile (Provider tag plus undigested payload)

Returns:
  - *Profile: Canonical provider-independent profile
  - error: UNSUPPORTED_PROVIDER for an unrecognized provider tag
*/
func Normalize(raw *RawProfile) (*Profile, error) {
	switch raw.Provider {
	case ProviderMicrosoft:
		return normalizeMicrosoft(raw), nil
	case ProviderGitHub:
		return normalizeGitHub(raw), nil
	default:
		return nil, apperr.UnsupportedProvider(string(raw.Provider))
	}
}

// normalizeMicrosoft digests a Microsoft Graph /me payload.
//
// Username resolution: displayName, else the local-part of the primary
// email, else the fallback. Email resolution: "mail", else the
// userPrincipalName (which for most tenants is the login email), else empty.
func normalizeMicrosoft(raw *RawProfile) *Profile {
	email := stringField(raw.Fields, "mail")
	if email == "" {
		email = stringField(raw.Fields, "userPrincipalName")
	}

	username := stringField(raw.Fields, "displayName")
	if username == "" {
		username = localPart(email)
	}
	if username == "" {
		username = FallbackUsername
	}

	return &Profile{
		ProviderUserID: stringField(raw.Fields, "id"),
		Username:       username,
		Email:          email,
		Provider:       ProviderMicrosoft,
	}
}

// normalizeGitHub digests a GitHub /user payload plus the /user/emails listing.
//
// Username resolution: login handle, else display name, else the fallback.
// Email resolution: the listing entry marked primary, else the first entry,
// else empty.
func normalizeGitHub(raw *RawProfile) *Profile {
	username := stringField(raw.Fields, "login")
	if username == "" {
		username = stringField(raw.Fields, "name")
	}
	if username == "" {
		username = FallbackUsername
	}

	return &Profile{
		ProviderUserID: stringField(raw.Fields, "id"),
		Username:       username,
		Email:          primaryEmail(raw.Emails),
		Provider:       ProviderGitHub,
	}
}

// primaryEmail selects the entry marked primary, else the first entry,
// else the empty string.
func primaryEmail(emails []ProviderEmail) string {
	for _, entry := range emails {
		if entry.Primary {
			return entry.Email
		}
	}
	if len(emails) > 0 {
		return emails[0].Email
	}
	return ""
}

// localPart returns everything before the "@" of an email address.
func localPart(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	return email[:at]
}

// stringField extracts a string value from a decoded JSON object.
//
// JSON numbers (GitHub's numeric user id) are rendered in their canonical
// decimal form so provider ids are always handled as strings downstream.
func stringField(fields map[string]any, key string) string {
	switch value := fields[key].(type) {
	case string:
		return value
	case float64:
		return formatJSONNumber(value)
	default:
		return ""
	}
}

// formatJSONNumber renders a JSON number without a trailing ".0" for
// integral values. Provider ids fit in the float64 integer range.
func formatJSONNumber(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return ""
}
