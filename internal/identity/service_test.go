// Copyright (c) 2026 Gatehouse. All rights reserved.

package identity_test

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/internal/identity"
	"gatehouse/internal/platform/apperr"
	"gatehouse/internal/platform/sec"
	"gatehouse/internal/platform/validate"
)

// # In-Memory Fakes

// fakeUserStore is an in-memory [identity.UserStore] for orchestrator tests.
type fakeUserStore struct {
	mu      sync.Mutex
	users   map[string]*identity.User
	nextID  int
	updates int // number of Update calls, for upsert assertions
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*identity.User)}
}

func (store *fakeUserStore) FindByProviderID(_ context.Context, providerUserID string, provider identity.Provider) (*identity.User, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	providerUserID = strings.TrimSpace(providerUserID)
	for _, user := range store.users {
		if user.Provider == provider && user.ProviderUserID == providerUserID {
			copied := *user
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("User")
}

func (store *fakeUserStore) Create(_ context.Context, profile identity.Profile) (*identity.User, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	username := strings.TrimSpace(profile.Username)
	if username == "" {
		return nil, validate.RequiredError("username", "This field is required")
	}

	for _, existing := range store.users {
		if existing.Provider == profile.Provider && existing.ProviderUserID == strings.TrimSpace(profile.ProviderUserID) {
			return nil, apperr.Conflict("An account for this external identity already exists")
		}
	}

	store.nextID++
	now := time.Now().UTC()
	user := &identity.User{
		ID:             fmt.Sprintf("user-%d", store.nextID),
		Username:       username,
		Email:          strings.TrimSpace(profile.Email),
		Provider:       profile.Provider,
		ProviderUserID: strings.TrimSpace(profile.ProviderUserID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	store.users[user.ID] = user

	copied := *user
	return &copied, nil
}

func (store *fakeUserStore) Update(_ context.Context, userID string, changes identity.ProfileUpdate) (*identity.User, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	user, ok := store.users[userID]
	if !ok {
		return nil, apperr.NotFound("User")
	}

	if changes.Username != nil {
		user.Username = strings.TrimSpace(*changes.Username)
	}
	if changes.Email != nil {
		user.Email = strings.TrimSpace(*changes.Email)
	}
	user.UpdatedAt = time.Now().UTC()
	store.updates++

	copied := *user
	return &copied, nil
}

func (store *fakeUserStore) FindByID(_ context.Context, userID string) (*identity.User, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	user, ok := store.users[userID]
	if !ok {
		return nil, apperr.NotFound("User")
	}
	copied := *user
	return &copied, nil
}

func (store *fakeUserStore) Delete(_ context.Context, userID string) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	_, ok := store.users[userID]
	delete(store.users, userID)
	return ok, nil
}

func (store *fakeUserStore) List(_ context.Context, limit, offset int) ([]identity.User, int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	all := make([]identity.User, 0, len(store.users))
	for _, user := range store.users {
		all = append(all, *user)
	}
	return all, len(all), nil
}

// fakeSessionStore is an in-memory [identity.SessionStore].
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*identity.Session
	users    *fakeUserStore
}

func newFakeSessionStore(users *fakeUserStore) *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*identity.Session), users: users}
}

func (store *fakeSessionStore) Create(_ context.Context, userID string, ttl time.Duration) (*identity.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, validate.RequiredError("user_id", "This field is required")
	}
	if ttl <= 0 {
		ttl = identity.DefaultSessionTTL
	}

	store.users.mu.Lock()
	_, exists := store.users.users[userID]
	store.users.mu.Unlock()
	if !exists {
		return nil, apperr.NotFound("User")
	}

	id, err := sec.GenerateToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &identity.Session{ID: id, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(ttl)}

	store.mu.Lock()
	store.sessions[id] = session
	store.mu.Unlock()

	copied := *session
	return &copied, nil
}

func (store *fakeSessionStore) Validate(_ context.Context, sessionID string) (*identity.Session, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	session, ok := store.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if !time.Now().Before(session.ExpiresAt) {
		delete(store.sessions, sessionID)
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (store *fakeSessionStore) Destroy(_ context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return validate.RequiredError("session_id", "This field is required")
	}
	store.mu.Lock()
	delete(store.sessions, sessionID)
	store.mu.Unlock()
	return nil
}

func (store *fakeSessionStore) DeleteExpired(_ context.Context) (int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	removed := 0
	for id, session := range store.sessions {
		if !time.Now().Before(session.ExpiresAt) {
			delete(store.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (store *fakeSessionStore) GetWithUser(ctx context.Context, sessionID string) (*identity.Session, *identity.User, error) {
	session, err := store.Validate(ctx, sessionID)
	if err != nil || session == nil {
		return nil, nil, err
	}

	user, err := store.users.FindByID(ctx, session.UserID)
	if err != nil {
		_ = store.Destroy(ctx, session.ID)
		return nil, nil, nil
	}
	return session, user, nil
}

func (store *fakeSessionStore) DestroyAllForUser(_ context.Context, userID string) (int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	removed := 0
	for id, session := range store.sessions {
		if session.UserID == userID {
			delete(store.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (store *fakeSessionStore) ListForUser(_ context.Context, userID string) ([]identity.Session, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var sessions []identity.Session
	for _, session := range store.sessions {
		if session.UserID == userID && time.Now().Before(session.ExpiresAt) {
			sessions = append(sessions, *session)
		}
	}
	return sessions, nil
}

func (store *fakeSessionStore) Extend(ctx context.Context, sessionID string, ttl time.Duration) (*identity.Session, error) {
	session, err := store.Validate(ctx, sessionID)
	if err != nil || session == nil {
		return nil, err
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	stored := store.sessions[sessionID]
	stored.ExpiresAt = time.Now().UTC().Add(ttl)
	copied := *stored
	return &copied, nil
}

func (store *fakeSessionStore) Stats(_ context.Context) (*identity.SessionStats, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	stats := &identity.SessionStats{}
	for _, session := range store.sessions {
		stats.Total++
		if time.Now().Before(session.ExpiresAt) {
			stats.Active++
		} else {
			stats.Expired++
		}
	}
	return stats, nil
}

// fakeStateStore is an in-memory [identity.StateStore].
type fakeStateStore struct {
	mu     sync.Mutex
	states map[string]string
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{states: make(map[string]string)}
}

func (store *fakeStateStore) Set(_ context.Context, nonce, state string, _ time.Duration) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.states[nonce] = state
	return nil
}

func (store *fakeStateStore) Take(_ context.Context, nonce string) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	state, ok := store.states[nonce]
	if !ok {
		return "", apperr.NotFound("OAuth state")
	}
	delete(store.states, nonce)
	return state, nil
}

// fakeProviderClient is a scripted [identity.ProviderClient] that records
// how many times the exchange was attempted.
type fakeProviderClient struct {
	profile *identity.RawProfile
	err     error
	calls   int
}

func (client *fakeProviderClient) AuthURL(state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (client *fakeProviderClient) FetchProfile(_ context.Context, _ string) (*identity.RawProfile, error) {
	client.calls++
	if client.err != nil {
		return nil, client.err
	}
	return client.profile, nil
}

// # Test Harness

type serviceFixture struct {
	service  *identity.Service
	users    *fakeUserStore
	sessions *fakeSessionStore
	states   *fakeStateStore
	github   *fakeProviderClient
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	users := newFakeUserStore()
	sessions := newFakeSessionStore(users)
	states := newFakeStateStore()

	github := &fakeProviderClient{
		profile: &identity.RawProfile{
			Provider: identity.ProviderGitHub,
			Fields:   map[string]any{"id": float64(583231), "login": "octocat"},
			Emails: []identity.ProviderEmail{
				{Email: "octocat@github.example", Primary: true, Verified: true},
			},
		},
	}

	service := identity.NewService(users, sessions, states, slog.Default())
	service.RegisterProvider(identity.ProviderGitHub, github)
	require.NoError(t, service.Init())

	return &serviceFixture{service: service, users: users, sessions: sessions, states: states, github: github}
}

// # Orchestrator Tests

/*
TestService_FirstLogin walks the happy path: callback creates the account,
then a session is minted for it.
*/
func TestService_FirstLogin(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	state, err := sec.GenerateToken()
	require.NoError(t, err)

	user, err := fx.service.HandleCallback(ctx, identity.ProviderGitHub, "auth-code", state, state)
	require.NoError(t, err)

	assert.Equal(t, "octocat", user.Username)
	assert.Equal(t, "octocat@github.example", user.Email)
	assert.Equal(t, "583231", user.ProviderUserID)
	assert.Equal(t, 1, fx.github.calls)

	session, err := fx.service.CreateSession(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, session.ID, sec.TokenHexLength)
	assert.True(t, session.ExpiresAt.After(session.CreatedAt))
}

/*
TestService_ReturningLogin verifies upsert semantics: an unchanged profile
writes nothing, a changed username updates the same account exactly once.
*/
func TestService_ReturningLogin(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	first, err := fx.service.HandleCallback(ctx, identity.ProviderGitHub, "code-1", "", "")
	require.NoError(t, err)

	// Same profile again: no update.
	second, err := fx.service.HandleCallback(ctx, identity.ProviderGitHub, "code-2", "", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 0, fx.users.updates)

	// Renamed on the provider side: exactly one update, same account.
	fx.github.profile.Fields["login"] = "monalisa"
	third, err := fx.service.HandleCallback(ctx, identity.ProviderGitHub, "code-3", "", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, "monalisa", third.Username)
	assert.Equal(t, 1, fx.users.updates)
}

/*
TestService_Callback_MissingCode verifies the short-circuit: an empty code
fails with CALLBACK_ERROR before any provider traffic.
*/
func TestService_Callback_MissingCode(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.service.HandleCallback(context.Background(), identity.ProviderGitHub, "", "", "")

	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidCallback))
	assert.Equal(t, 0, fx.github.calls)
}

/*
TestService_Callback_StateValidation covers the tightened CSRF rules: both
sides absent skips the check, a mismatch or a single present side fails
before the provider is called.
*/
func TestService_Callback_StateValidation(t *testing.T) {
	tests := []struct {
		name         string
		requestState string
		storedState  string
		wantInvalid  bool
	}{
		{"both_absent_skips_check", "", "", false},
		{"matching_states", "aaaa", "aaaa", false},
		{"mismatched_states", "aaaa", "bbbb", true},
		{"request_only", "aaaa", "", true},
		{"stored_only", "", "aaaa", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newServiceFixture(t)

			_, err := fx.service.HandleCallback(context.Background(), identity.ProviderGitHub, "auth-code", tt.requestState, tt.storedState)

			if tt.wantInvalid {
				require.Error(t, err)
				assert.True(t, apperr.IsCode(err, apperr.CodeInvalidState))
				assert.Equal(t, 0, fx.github.calls)
			} else {
				require.NoError(t, err)
				assert.Equal(t, 1, fx.github.calls)
			}
		})
	}
}

/*
TestService_Callback_ProviderFailure verifies that provider-level errors
keep their taxonomy code through the orchestrator.
*/
func TestService_Callback_ProviderFailure(t *testing.T) {
	fx := newServiceFixture(t)
	fx.github.err = apperr.TokenExchange(fmt.Errorf("upstream said no"))

	_, err := fx.service.HandleCallback(context.Background(), identity.ProviderGitHub, "auth-code", "", "")

	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeTokenExchange))
}

/*
TestService_Callback_UnknownProvider verifies the unregistered provider path.
*/
func TestService_Callback_UnknownProvider(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.service.HandleCallback(context.Background(), identity.ProviderMicrosoft, "auth-code", "", "")

	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeUnsupportedProvider))
}

/*
TestService_PreInitGate verifies that callback and session operations fail
with PROVIDER_ERROR before Init.
*/
func TestService_PreInitGate(t *testing.T) {
	users := newFakeUserStore()
	service := identity.NewService(users, newFakeSessionStore(users), newFakeStateStore(), slog.Default())
	service.RegisterProvider(identity.ProviderGitHub, &fakeProviderClient{})

	_, err := service.HandleCallback(context.Background(), identity.ProviderGitHub, "code", "", "")
	assert.True(t, apperr.IsCode(err, apperr.CodeProvider))

	_, err = service.CreateSession(context.Background(), "user-1")
	assert.True(t, apperr.IsCode(err, apperr.CodeProvider))

	err = service.DestroySession(context.Background(), "some-session")
	assert.True(t, apperr.IsCode(err, apperr.CodeProvider))
}

/*
TestService_CreateSession_EmptyUser verifies the VALIDATION_ERROR contract.
*/
func TestService_CreateSession_EmptyUser(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.service.CreateSession(context.Background(), "   ")

	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

/*
TestService_ValidateSession_Expired verifies lazy expiration: validating an
expired session resolves to anonymous and removes the row.
*/
func TestService_ValidateSession_Expired(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	user, err := fx.users.Create(ctx, identity.Profile{
		ProviderUserID: "42", Username: "octocat", Provider: identity.ProviderGitHub,
	})
	require.NoError(t, err)

	session, err := fx.service.CreateSession(ctx, user.ID)
	require.NoError(t, err)

	// Force the session past its expiry.
	fx.sessions.mu.Lock()
	fx.sessions.sessions[session.ID].ExpiresAt = time.Now().Add(-time.Minute)
	fx.sessions.mu.Unlock()

	gotSession, gotUser, err := fx.service.ValidateSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, gotSession)
	assert.Nil(t, gotUser)

	// Row is gone: a second validate also misses.
	gotSession, _, err = fx.service.ValidateSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, gotSession)
}

/*
TestService_ValidateSession_Orphaned verifies that a session whose user was
deleted resolves to anonymous and is reaped.
*/
func TestService_ValidateSession_Orphaned(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	user, err := fx.users.Create(ctx, identity.Profile{
		ProviderUserID: "42", Username: "octocat", Provider: identity.ProviderGitHub,
	})
	require.NoError(t, err)

	session, err := fx.service.CreateSession(ctx, user.ID)
	require.NoError(t, err)

	_, err = fx.users.Delete(ctx, user.ID)
	require.NoError(t, err)

	gotSession, gotUser, err := fx.service.ValidateSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, gotSession)
	assert.Nil(t, gotUser)

	fx.sessions.mu.Lock()
	_, stillThere := fx.sessions.sessions[session.ID]
	fx.sessions.mu.Unlock()
	assert.False(t, stillThere)
}

/*
TestService_DestroySession_Idempotent verifies logout semantics.
*/
func TestService_DestroySession_Idempotent(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	user, err := fx.users.Create(ctx, identity.Profile{
		ProviderUserID: "42", Username: "octocat", Provider: identity.ProviderGitHub,
	})
	require.NoError(t, err)

	session, err := fx.service.CreateSession(ctx, user.ID)
	require.NoError(t, err)

	require.NoError(t, fx.service.DestroySession(ctx, session.ID))
	require.NoError(t, fx.service.DestroySession(ctx, session.ID))

	err = fx.service.DestroySession(ctx, "")
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

/*
TestService_Resolve_SlidingExtension verifies that resolving a session with
less than half its TTL remaining pushes the expiry forward.
*/
func TestService_Resolve_SlidingExtension(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	user, err := fx.users.Create(ctx, identity.Profile{
		ProviderUserID: "42", Username: "octocat", Provider: identity.ProviderGitHub,
	})
	require.NoError(t, err)

	session, err := fx.service.CreateSession(ctx, user.ID)
	require.NoError(t, err)

	// Push the session into its second half.
	nearExpiry := time.Now().Add(time.Hour)
	fx.sessions.mu.Lock()
	fx.sessions.sessions[session.ID].ExpiresAt = nearExpiry
	fx.sessions.mu.Unlock()

	request := httptest.NewRequest("GET", "/dashboard", nil)
	principal, err := fx.service.Resolve(request, session.ID)
	require.NoError(t, err)
	require.NotNil(t, principal)
	assert.Equal(t, user.ID, principal.UserID)
	assert.Equal(t, "octocat", principal.Username)

	fx.sessions.mu.Lock()
	extended := fx.sessions.sessions[session.ID].ExpiresAt
	fx.sessions.mu.Unlock()
	assert.True(t, extended.After(nearExpiry))
}

/*
TestService_Resolve_Anonymous verifies that unknown session ids resolve to
a nil principal without error.
*/
func TestService_Resolve_Anonymous(t *testing.T) {
	fx := newServiceFixture(t)

	request := httptest.NewRequest("GET", "/dashboard", nil)
	principal, err := fx.service.Resolve(request, "no-such-session")

	require.NoError(t, err)
	assert.Nil(t, principal)
}

/*
TestService_DeleteUser verifies the admin cascade: the account and all its
sessions disappear together.
*/
func TestService_DeleteUser(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	user, err := fx.users.Create(ctx, identity.Profile{
		ProviderUserID: "42", Username: "octocat", Provider: identity.ProviderGitHub,
	})
	require.NoError(t, err)

	_, err = fx.service.CreateSession(ctx, user.ID)
	require.NoError(t, err)
	_, err = fx.service.CreateSession(ctx, user.ID)
	require.NoError(t, err)

	require.NoError(t, fx.service.DeleteUser(ctx, user.ID))

	sessions, err := fx.sessions.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	err = fx.service.DeleteUser(ctx, user.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

/*
TestService_CleanupSessions verifies the sweep counts only expired rows.
*/
func TestService_CleanupSessions(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	user, err := fx.users.Create(ctx, identity.Profile{
		ProviderUserID: "42", Username: "octocat", Provider: identity.ProviderGitHub,
	})
	require.NoError(t, err)

	live, err := fx.service.CreateSession(ctx, user.ID)
	require.NoError(t, err)
	dead, err := fx.service.CreateSession(ctx, user.ID)
	require.NoError(t, err)

	fx.sessions.mu.Lock()
	fx.sessions.sessions[dead.ID].ExpiresAt = time.Now().Add(-time.Minute)
	fx.sessions.mu.Unlock()

	removed, err := fx.service.CleanupSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stillLive, err := fx.sessions.Validate(ctx, live.ID)
	require.NoError(t, err)
	assert.NotNil(t, stillLive)
}
