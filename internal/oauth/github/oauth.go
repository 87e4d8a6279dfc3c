// Copyright (c) 2026 Gatehouse. All rights reserved.

/*
Package github implements the GitHub OAuth 2.0 provider client.

GitHub issues plain OAuth 2.0 access tokens (no ID token), so the profile is
assembled from two REST calls: /user for the account and /user/emails for the
address listing, since the /user payload hides private emails.
*/
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gatehouse/internal/identity"
	"gatehouse/internal/platform/apperr"
	"gatehouse/internal/platform/config"
)

// Production endpoints. Tests point these at httptest servers.
const (
	DefaultAuthEndpoint  = "https://github.com/login/oauth/authorize"
	DefaultTokenEndpoint = "https://github.com/login/oauth/access_token"
	DefaultUserEndpoint  = "https://api.github.com/user"
	DefaultEmailEndpoint = "https://api.github.com/user/emails"
)

// clientTimeout bounds every provider round-trip. No retries: a slow or
// flaky provider fails the login, and the user simply tries again.
const clientTimeout = 10 * time.Second

// Client is the GitHub implementation of [identity.ProviderClient].
type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string

	AuthEndpoint  string
	TokenEndpoint string
	UserEndpoint  string
	EmailEndpoint string

	http *http.Client
}

// New creates a GitHub OAuth client from the registered application credentials.
func New(credentials config.OAuthProvider) *Client {
	return &Client{
		clientID:      credentials.ClientID,
		clientSecret:  credentials.ClientSecret,
		redirectURI:   credentials.RedirectURI,
		AuthEndpoint:  DefaultAuthEndpoint,
		TokenEndpoint: DefaultTokenEndpoint,
		UserEndpoint:  DefaultUserEndpoint,
		EmailEndpoint: DefaultEmailEndpoint,
		http:          &http.Client{Timeout: clientTimeout},
	}
}

// AuthURL builds the GitHub authorization URL with the anti-CSRF state embedded.
func (client *Client) AuthURL(state string) string {
	query := url.Values{}
	query.Set("client_id", client.clientID)
	query.Set("redirect_uri", client.redirectURI)
	query.Set("scope", identity.GitHubScopes)
	query.Set("state", state)

	return client.AuthEndpoint + "?" + query.Encode()
}

// tokenResponse is the shape of GitHub's token endpoint reply. GitHub reports
// failures with a 200 status and an error field, so both must be checked.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

/*
FetchProfile exchanges an authorization code for the raw GitHub profile.

Description: Three sequential calls — token exchange, /user, /user/emails.
Every failure mode maps onto exactly two error kinds: TOKEN_EXCHANGE_FAILED
for the exchange leg and PROFILE_FETCH_FAILED for the profile legs. The
provider's raw error bodies travel only in the error cause, never to clients.

Parameters:
  - context: context.Context
  - code: string (authorization code from the callback)

Returns:
  - *identity.RawProfile: Undigested /user payload plus the email listing
  - error: apperr.TokenExchange or apperr.ProfileFetch
*/
func (client *Client) FetchProfile(context context.Context, code string) (*identity.RawProfile, error) {
	accessToken, err := client.exchangeCode(context, code)
	if err != nil {
		return nil, apperr.TokenExchange(err)
	}

	fields, err := client.fetchUser(context, accessToken)
	if err != nil {
		return nil, apperr.ProfileFetch(err)
	}

	emails, err := client.fetchEmails(context, accessToken)
	if err != nil {
		return nil, apperr.ProfileFetch(err)
	}

	return &identity.RawProfile{
		Provider: identity.ProviderGitHub,
		Fields:   fields,
		Emails:   emails,
	}, nil
}

// exchangeCode swaps the authorization code for an access token.
func (client *Client) exchangeCode(context context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", client.clientID)
	form.Set("client_secret", client.clientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", client.redirectURI)

	request, err := http.NewRequestWithContext(context, http.MethodPost, client.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("github_token_request_build_failed: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Accept", "application/json")

	response, err := client.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("github_token_request_failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return "", fmt.Errorf("github_token_endpoint_status_%d: %s", response.StatusCode, string(body))
	}

	var token tokenResponse
	if err := json.NewDecoder(response.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("github_token_decode_failed: %w", err)
	}

	if token.Error != "" {
		return "", fmt.Errorf("github_token_rejected: %s - %s", token.Error, token.ErrorDesc)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("github_token_missing_access_token")
	}

	return token.AccessToken, nil
}

// fetchUser retrieves the undigested /user payload.
func (client *Client) fetchUser(context context.Context, accessToken string) (map[string]any, error) {
	request, err := http.NewRequestWithContext(context, http.MethodGet, client.UserEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("github_user_request_build_failed: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)
	request.Header.Set("Accept", "application/json")

	response, err := client.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("github_user_request_failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return nil, fmt.Errorf("github_user_endpoint_status_%d: %s", response.StatusCode, string(body))
	}

	var fields map[string]any
	if err := json.NewDecoder(response.Body).Decode(&fields); err != nil {
		return nil, fmt.Errorf("github_user_decode_failed: %w", err)
	}

	return fields, nil
}

// fetchEmails retrieves the /user/emails listing. The normalizer picks the
// address; this layer just transports the list.
func (client *Client) fetchEmails(context context.Context, accessToken string) ([]identity.ProviderEmail, error) {
	request, err := http.NewRequestWithContext(context, http.MethodGet, client.EmailEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("github_emails_request_build_failed: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)
	request.Header.Set("Accept", "application/json")

	response, err := client.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("github_emails_request_failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return nil, fmt.Errorf("github_emails_endpoint_status_%d: %s", response.StatusCode, string(body))
	}

	var emails []identity.ProviderEmail
	if err := json.NewDecoder(response.Body).Decode(&emails); err != nil {
		return nil, fmt.Errorf("github_emails_decode_failed: %w", err)
	}

	return emails, nil
}
