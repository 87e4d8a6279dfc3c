// Copyright (c) 2026 Gatehouse. All rights reserved.

/*
Package microsoft implements the Microsoft 365 OAuth 2.0 provider client.

It talks to the Azure AD v2.0 endpoints (common tenant) and reads the profile
from Microsoft Graph /me. Unlike GitHub, the token endpoint reports failures
with a non-2xx status, and no secondary email listing is needed — the address
lives on the profile itself.
*/
package microsoft

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
	DefaultAuthEndpoint  = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	DefaultTokenEndpoint = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	DefaultGraphEndpoint = "https://graph.microsoft.com/v1.0/me"
)

// clientTimeout bounds every provider round-trip. No retries.
const clientTimeout = 10 * time.Second

// Client is the Microsoft 365 implementation of [identity.ProviderClient].
type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string

	AuthEndpoint  string
	TokenEndpoint string
	GraphEndpoint string

	http *http.Client
}

// New creates a Microsoft 365 OAuth client from the registered application credentials.
func New(credentials config.OAuthProvider) *Client {
	return &Client{
		clientID:      credentials.ClientID,
		clientSecret:  credentials.ClientSecret,
		redirectURI:   credentials.RedirectURI,
		AuthEndpoint:  DefaultAuthEndpoint,
		TokenEndpoint: DefaultTokenEndpoint,
		GraphEndpoint: DefaultGraphEndpoint,
		http:          &http.Client{Timeout: clientTimeout},
	}
}

// AuthURL builds the Azure AD authorization URL with the anti-CSRF state embedded.
func (client *Client) AuthURL(state string) string {
	query := url.Values{}
	query.Set("client_id", client.clientID)
	query.Set("response_type", "code")
	query.Set("redirect_uri", client.redirectURI)
	query.Set("response_mode", "query")
	query.Set("scope", identity.MicrosoftScopes)
	query.Set("state", state)

	return client.AuthEndpoint + "?" + query.Encode()
}

// tokenResponse is the shape of the v2.0 token endpoint reply.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

/*
FetchProfile exchanges an authorization code for the raw Microsoft Graph profile.

Description: Two sequential calls — token exchange against the v2.0 endpoint,
then Graph /me. Failures map onto TOKEN_EXCHANGE_FAILED for the exchange leg
and PROFILE_FETCH_FAILED for the profile leg; raw provider error bodies travel
only in the error cause.

Parameters:
  - context: context.Context
  - code: string (authorization code from the callback)

Returns:
  - *identity.RawProfile: Undigested Graph /me payload
  - error: apperr.TokenExchange or apperr.ProfileFetch
*/
func (client *Client) FetchProfile(context context.Context, code string) (*identity.RawProfile, error) {
	accessToken, err := client.exchangeCode(context, code)
	if err != nil {
		return nil, apperr.TokenExchange(err)
	}

	fields, err := client.fetchProfileFields(context, accessToken)
	if err != nil {
		return nil, apperr.ProfileFetch(err)
	}

	return &identity.RawProfile{
		Provider: identity.ProviderMicrosoft,
		Fields:   fields,
	}, nil
}

// exchangeCode swaps the authorization code for an access token.
func (client *Client) exchangeCode(context context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", client.clientID)
	form.Set("client_secret", client.clientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", client.redirectURI)
	form.Set("grant_type", "authorization_code")
	form.Set("scope", identity.MicrosoftScopes)

	request, err := http.NewRequestWithContext(context, http.MethodPost, client.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("microsoft_token_request_build_failed: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := client.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("microsoft_token_request_failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return "", fmt.Errorf("microsoft_token_endpoint_status_%d: %s", response.StatusCode, string(body))
	}

	var token tokenResponse
	if err := json.NewDecoder(response.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("microsoft_token_decode_failed: %w", err)
	}

	if token.Error != "" {
		return "", fmt.Errorf("microsoft_token_rejected: %s - %s", token.Error, token.ErrorDesc)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("microsoft_token_missing_access_token")
	}

	return token.AccessToken, nil
}

// fetchProfileFields retrieves the undigested Graph /me payload.
func (client *Client) fetchProfileFields(context context.Context, accessToken string) (map[string]any, error) {
	request, err := http.NewRequestWithContext(context, http.MethodGet, client.GraphEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("microsoft_profile_request_build_failed: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)
	request.Header.Set("Accept", "application/json")

	response, err := client.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("microsoft_profile_request_failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return nil, fmt.Errorf("microsoft_profile_endpoint_status_%d: %s", response.StatusCode, string(body))
	}

	var fields map[string]any
	if err := json.NewDecoder(response.Body).Decode(&fields); err != nil {
		return nil, fmt.Errorf("microsoft_profile_decode_failed: %w", err)
	}

	return fields, nil
}
