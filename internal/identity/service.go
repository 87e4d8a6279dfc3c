// Copyright (c) 2026 Gatehouse. All rights reserved.

package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gatehouse/internal/platform/apperr"
	"gatehouse/internal/platform/sec"
)

// # Orchestrator

// Service orchestrates the full SSO login protocol: initiation, callback
// handling, profile upsert, and the session lifecycle.
//
// # Review Process
//
// This service is critical for security. Any changes to state validation,
// callback handling, or session logic must be reviewed carefully.
type Service struct {
	users    UserStore
	sessions SessionStore
	states   StateStore
	logger   *slog.Logger

	mu          sync.RWMutex
	providers   map[Provider]ProviderClient
	initialized bool
}

// NewService constructs a new identity [Service] with its storage dependencies.
// Provider clients are registered separately and the service is armed by [Service.Init].
func NewService(users UserStore, sessions SessionStore, states StateStore, logger *slog.Logger) *Service {
	return &Service{
		users:     users,
		sessions:  sessions,
		states:    states,
		logger:    logger,
		providers: make(map[Provider]ProviderClient),
	}
}

// RegisterProvider wires one provider's OAuth client into the service.
// Registration happens during composition, strictly before [Service.Init].
func (service *Service) RegisterProvider(provider Provider, client ProviderClient) {
	service.mu.Lock()
	defer service.mu.Unlock()
	service.providers[provider] = client
}

// Init arms the service. Callback and session operations invoked before Init
// fail with PROVIDER_ERROR — a misconfigured gateway must never half-work.
func (service *Service) Init() error {
	service.mu.Lock()
	defer service.mu.Unlock()

	if len(service.providers) == 0 {
		return apperr.Provider("No identity providers registered")
	}

	service.initialized = true
	return nil
}

// requireInit gates the operational surface on a completed Init.
func (service *Service) requireInit() error {
	service.mu.RLock()
	defer service.mu.RUnlock()

	if !service.initialized {
		return apperr.Provider("Identity service is not initialized")
	}
	return nil
}

// client looks up the registered OAuth client for a provider.
func (service *Service) client(provider Provider) (ProviderClient, error) {
	service.mu.RLock()
	defer service.mu.RUnlock()

	client, ok := service.providers[provider]
	if !ok {
		return nil, apperr.UnsupportedProvider(string(provider))
	}
	return client, nil
}

// # Login Flow

/*
Initiate starts one OAuth login round-trip.

Description: Generates a fresh anti-CSRF state token and builds the provider's
authorization URL with it embedded. Stashing the state for the callback leg is
the transport layer's job (it owns the browser nonce).

Parameters:
  - provider: Provider

Returns:
  - string: Provider authorization URL (redirect target)
  - string: The generated state token
  - error: UNSUPPORTED_PROVIDER or entropy failures
*/
func (service *Service) Initiate(provider Provider) (string, string, error) {
	client, err := service.client(provider)
	if err != nil {
		return "", "", err
	}

	state, err := sec.GenerateToken()
	if err != nil {
		return "", "", fmt.Errorf("identity_service_state_generation_failed: %w", err)
	}

	return client.AuthURL(state), state, nil
}

/*
HandleCallback completes the OAuth round-trip and upserts the user.

Description: The cheap checks run first — a missing code or a state mismatch
fails before any provider traffic. State validation is skipped only when BOTH
sides are absent (bare programmatic use); a single present side is treated as
an attack. The code-for-profile exchange and normalization failures surface as
TOKEN_ERROR unless already a recognized kind; upsert failures surface as
PROFILE_ERROR under the same rule.

Parameters:
  - context: context.Context
  - provider: Provider
  - code: string (authorization code from the provider redirect)
  - requestState: string (state echoed back on the callback URL)
  - storedState: string (state stashed at initiation; empty if none)

Returns:
  - *User: The created or refreshed account
  - error: CALLBACK_ERROR, INVALID_STATE, TOKEN_ERROR, PROFILE_ERROR, or a
    recognized kind passed through unchanged
*/
func (service *Service) HandleCallback(context context.Context, provider Provider, code, requestState, storedState string) (*User, error) {
	if err := service.requireInit(); err != nil {
		return nil, err
	}

	client, err := service.client(provider)
	if err != nil {
		return nil, err
	}

	// ── 1. Callback Sanity ────────────────────────────────────────────────
	if code == "" {
		return nil, apperr.InvalidCallback("Missing authorization code")
	}

	if requestState != "" || storedState != "" {
		if !sec.ValidateToken(requestState, storedState) {
			return nil, apperr.InvalidState()
		}
	}

	// ── 2. Code-for-Profile Exchange ──────────────────────────────────────
	raw, err := client.FetchProfile(context, code)
	if err != nil {
		if apperr.IsAppError(err) {
			return nil, err
		}
		return nil, apperr.Token(err)
	}

	profile, err := Normalize(raw)
	if err != nil {
		if apperr.IsAppError(err) {
			return nil, err
		}
		return nil, apperr.Token(err)
	}

	// ── 3. Account Upsert ─────────────────────────────────────────────────
	user, err := service.upsertUser(context, profile)
	if err != nil {
		if apperr.IsAppError(err) {
			return nil, err
		}
		return nil, apperr.Profile(err)
	}

	return user, nil
}

// upsertUser creates the account on first login and refreshes the mutable
// profile fields on subsequent ones. The write is skipped entirely when
// nothing changed, so a stable profile never burns updatedat.
func (service *Service) upsertUser(context context.Context, profile *Profile) (*User, error) {
	user, err := service.users.FindByProviderID(context, profile.ProviderUserID, profile.Provider)

	if err != nil {
		if !apperr.IsCode(err, apperr.CodeNotFound) {
			return nil, err
		}
		return service.users.Create(context, *profile)
	}

	changes := ProfileUpdate{}
	if profile.Username != user.Username {
		changes.Username = &profile.Username
	}
	if profile.Email != user.Email {
		changes.Email = &profile.Email
	}

	if changes.Username == nil && changes.Email == nil {
		return user, nil
	}

	return service.users.Update(context, user.ID, changes)
}

// # Session Lifecycle

/*
CreateSession mints a new browser session for an authenticated user.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - *Session: The created session (id goes into the cookie)
  - error: VALIDATION_ERROR for an empty id, PROVIDER_ERROR pre-init,
    AUTHENTICATION_FAILED for everything else
*/
func (service *Service) CreateSession(context context.Context, userID string) (*Session, error) {
	if err := service.requireInit(); err != nil {
		return nil, err
	}

	session, err := service.sessions.Create(context, userID, DefaultSessionTTL)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeValidation) {
			return nil, err
		}
		return nil, apperr.AuthenticationFailed(err)
	}

	return session, nil
}

/*
ValidateSession resolves an opaque session id to its session and owning user.

Description: Non-erroring past the init gate. Invalid, expired, and orphaned
sessions degrade to (nil, nil); infrastructure failures are logged and degrade
the same way — a flaky store must never lock every browser out with 500s.

Parameters:
  - context: context.Context
  - sessionID: string

Returns:
  - *Session: Live session, or nil
  - *User: Owning account, or nil
  - error: PROVIDER_ERROR pre-init only
*/
func (service *Service) ValidateSession(context context.Context, sessionID string) (*Session, *User, error) {
	if err := service.requireInit(); err != nil {
		return nil, nil, err
	}

	session, user, err := service.sessions.GetWithUser(context, sessionID)
	if err != nil {
		service.logger.Error("session validation degraded to anonymous",
			slog.String("error", err.Error()),
		)
		return nil, nil, nil
	}

	return session, user, nil
}

/*
DestroySession terminates one browser session (logout).

Description: Destroying a session that no longer exists is a success — from
the browser's perspective, logout always works.

Parameters:
  - context: context.Context
  - sessionID: string

Returns:
  - error: VALIDATION_ERROR for an empty id, PROVIDER_ERROR pre-init,
    AUTHENTICATION_FAILED for everything else
*/
func (service *Service) DestroySession(context context.Context, sessionID string) error {
	if err := service.requireInit(); err != nil {
		return err
	}

	if err := service.sessions.Destroy(context, sessionID); err != nil {
		if apperr.IsCode(err, apperr.CodeValidation) {
			return err
		}
		return apperr.AuthenticationFailed(err)
	}

	return nil
}

// # Middleware Contract

// Resolve implements the session middleware's resolver contract.
//
// A live session resolves to a [sec.SessionPrincipal]; anything else resolves
// to (nil, nil). When less than half the session TTL remains, the expiry
// slides forward so active browsers stay signed in across the absolute window.
func (service *Service) Resolve(request *http.Request, sessionID string) (*sec.SessionPrincipal, error) {
	ctx := request.Context()

	session, user, err := service.ValidateSession(ctx, sessionID)
	if err != nil || session == nil {
		return nil, err
	}

	if time.Until(session.ExpiresAt) < DefaultSessionTTL/2 {
		if _, err := service.sessions.Extend(ctx, session.ID, DefaultSessionTTL); err != nil {
			// The session is still valid as-is; the slide is best-effort.
			service.logger.Warn("session extension failed",
				slog.String("error", err.Error()),
			)
		}
	}

	return &sec.SessionPrincipal{
		SessionID: session.ID,
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Provider:  string(user.Provider),
	}, nil
}

// # Introspection

/*
GetUser retrieves one account by id.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - *User: Hydrated entity
  - error: NOT_FOUND or retrieval failures
*/
func (service *Service) GetUser(context context.Context, userID string) (*User, error) {
	return service.users.FindByID(context, userID)
}

/*
ListUsers retrieves one page of accounts, newest first.

Parameters:
  - context: context.Context
  - limit: int
  - offset: int

Returns:
  - []User: Page of accounts
  - int: Total count
  - error: Retrieval failures
*/
func (service *Service) ListUsers(context context.Context, limit, offset int) ([]User, int, error) {
	return service.users.List(context, limit, offset)
}

/*
ListUserSessions retrieves a user's active sessions, newest first.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - []Session: Active sessions
  - error: NOT_FOUND if the user is absent, else retrieval failures
*/
func (service *Service) ListUserSessions(context context.Context, userID string) ([]Session, error) {
	if _, err := service.users.FindByID(context, userID); err != nil {
		return nil, err
	}
	return service.sessions.ListForUser(context, userID)
}

/*
DeleteUser removes an account and revokes every session it owns.

Description: Sessions cascade at the schema level; the explicit destroy here
keeps the count observable for the audit log.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - error: NOT_FOUND if no account was removed, else execution failures
*/
func (service *Service) DeleteUser(context context.Context, userID string) error {
	revoked, err := service.sessions.DestroyAllForUser(context, userID)
	if err != nil {
		return err
	}

	removed, err := service.users.Delete(context, userID)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.NotFound("User")
	}

	service.logger.Info("user deleted",
		slog.String("user_id", userID),
		slog.Int("sessions_revoked", revoked),
	)

	return nil
}

/*
CleanupSessions removes every expired session row.

Parameters:
  - context: context.Context

Returns:
  - int: Number of rows removed
  - error: Execution failures
*/
func (service *Service) CleanupSessions(context context.Context) (int, error) {
	removed, err := service.sessions.DeleteExpired(context)
	if err != nil {
		return 0, fmt.Errorf("identity_service_cleanup_failed: %w", err)
	}

	if removed > 0 {
		service.logger.Info("expired sessions removed", slog.Int("count", removed))
	}

	return removed, nil
}

/*
SessionStatistics aggregates session counts for the introspection endpoint.

Parameters:
  - context: context.Context

Returns:
  - *SessionStats: Total/active/expired counts
  - error: Retrieval failures
*/
func (service *Service) SessionStatistics(context context.Context) (*SessionStats, error) {
	return service.sessions.Stats(context)
}
