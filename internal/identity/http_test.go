// Copyright (c) 2026 Gatehouse. All rights reserved.

package identity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/internal/identity"
	"gatehouse/internal/platform/constants"
	"gatehouse/internal/platform/middleware"
	"gatehouse/internal/platform/sec"
)

// newTestRouter assembles the handler surface the way the server composition
// root does: session resolution in front, auth flow, pages, and the JSON API.
func newTestRouter(fx *serviceFixture) http.Handler {
	handler := identity.NewHandler(fx.service, fx.states, false)

	router := chi.NewRouter()
	router.Use(middleware.SessionAuth(fx.service))
	router.Mount("/auth", handler.AuthRoutes())
	router.Mount("/api/v1", handler.APIRoutes())
	router.Mount("/", handler.SiteRoutes())

	return router
}

// cookieByName plucks a Set-Cookie entry from a recorded response.
func cookieByName(t *testing.T, recorder *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

/*
TestHTTP_Start verifies login initiation: the browser is bounced to the
provider with a stashed state keyed by a fresh nonce cookie.
*/
func TestHTTP_Start(t *testing.T) {
	fx := newServiceFixture(t)
	router := newTestRouter(fx)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/auth/github", nil))

	require.Equal(t, http.StatusFound, recorder.Code)

	location, err := url.Parse(recorder.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "provider.example", location.Host)

	state := location.Query().Get("state")
	assert.Len(t, state, sec.TokenHexLength)

	nonce := cookieByName(t, recorder, constants.StateNonceCookieName)
	require.NotNil(t, nonce)
	assert.True(t, nonce.HttpOnly)

	// The stash holds exactly the state embedded in the redirect.
	stashed, err := fx.states.Take(context.Background(), nonce.Value)
	require.NoError(t, err)
	assert.Equal(t, state, stashed)
}

/*
TestHTTP_Start_UnknownProvider verifies the graceful failure redirect.
*/
func TestHTTP_Start_UnknownProvider(t *testing.T) {
	fx := newServiceFixture(t)
	router := newTestRouter(fx)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/auth/bitbucket", nil))

	require.Equal(t, http.StatusFound, recorder.Code)
	location := recorder.Header().Get("Location")
	assert.Contains(t, location, constants.LoginPath+"?error=")
}

// performLogin drives the full start→callback flow and returns the recorded
// callback response.
func performLogin(t *testing.T, router http.Handler, echoState bool) *httptest.ResponseRecorder {
	t.Helper()

	startRecorder := httptest.NewRecorder()
	router.ServeHTTP(startRecorder, httptest.NewRequest("GET", "/auth/github", nil))
	require.Equal(t, http.StatusFound, startRecorder.Code)

	location, err := url.Parse(startRecorder.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")

	nonce := cookieByName(t, startRecorder, constants.StateNonceCookieName)
	require.NotNil(t, nonce)

	callbackURL := "/auth/callback/github?code=auth-code&state=" + state
	if !echoState {
		callbackURL = "/auth/callback/github?code=auth-code&state=forged-state-value"
	}

	request := httptest.NewRequest("GET", callbackURL, nil)
	request.AddCookie(&http.Cookie{Name: constants.StateNonceCookieName, Value: nonce.Value})

	callbackRecorder := httptest.NewRecorder()
	router.ServeHTTP(callbackRecorder, request)
	return callbackRecorder
}

/*
TestHTTP_Callback_FullFlow verifies the happy path end to end: session cookie
set, browser lands on the dashboard, and the account exists.
*/
func TestHTTP_Callback_FullFlow(t *testing.T) {
	fx := newServiceFixture(t)
	router := newTestRouter(fx)

	recorder := performLogin(t, router, true)

	require.Equal(t, http.StatusFound, recorder.Code)
	assert.Equal(t, constants.ProtectedPath, recorder.Header().Get("Location"))

	session := cookieByName(t, recorder, constants.SessionCookieName)
	require.NotNil(t, session)
	assert.Len(t, session.Value, sec.TokenHexLength)
	assert.True(t, session.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, session.SameSite)

	// The account was upserted.
	user, err := fx.users.FindByProviderID(context.Background(), "583231", identity.ProviderGitHub)
	require.NoError(t, err)
	assert.Equal(t, "octocat", user.Username)
}

/*
TestHTTP_Callback_ForgedState verifies that a state mismatch never mints a
session and degrades to a login redirect.
*/
func TestHTTP_Callback_ForgedState(t *testing.T) {
	fx := newServiceFixture(t)
	router := newTestRouter(fx)

	recorder := performLogin(t, router, false)

	require.Equal(t, http.StatusFound, recorder.Code)
	assert.Contains(t, recorder.Header().Get("Location"), constants.LoginPath+"?error=")
	assert.Nil(t, cookieByName(t, recorder, constants.SessionCookieName))
	assert.Equal(t, 0, fx.github.calls)
}

/*
TestHTTP_Callback_ReplayedNonce verifies one-shot state consumption: a second
callback with the same nonce has no stash left and is rejected.
*/
func TestHTTP_Callback_ReplayedNonce(t *testing.T) {
	fx := newServiceFixture(t)
	router := newTestRouter(fx)

	startRecorder := httptest.NewRecorder()
	router.ServeHTTP(startRecorder, httptest.NewRequest("GET", "/auth/github", nil))
	location, err := url.Parse(startRecorder.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	nonce := cookieByName(t, startRecorder, constants.StateNonceCookieName)
	require.NotNil(t, nonce)

	replay := func() *httptest.ResponseRecorder {
		request := httptest.NewRequest("GET", "/auth/callback/github?code=auth-code&state="+state, nil)
		request.AddCookie(&http.Cookie{Name: constants.StateNonceCookieName, Value: nonce.Value})
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, request)
		return recorder
	}

	first := replay()
	assert.Equal(t, constants.ProtectedPath, first.Header().Get("Location"))

	second := replay()
	assert.Contains(t, second.Header().Get("Location"), constants.LoginPath+"?error=")
	assert.Nil(t, cookieByName(t, second, constants.SessionCookieName))
}

/*
TestHTTP_DashboardGuard verifies the protected area: anonymous browsers are
redirected, a valid session cookie gets through.
*/
func TestHTTP_DashboardGuard(t *testing.T) {
	fx := newServiceFixture(t)
	router := newTestRouter(fx)

	// Anonymous: bounced to login.
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", constants.ProtectedPath, nil))
	assert.Equal(t, http.StatusFound, recorder.Code)
	assert.Equal(t, constants.LoginPath, recorder.Header().Get("Location"))

	// Signed in: rendered.
	login := performLogin(t, router, true)
	session := cookieByName(t, login, constants.SessionCookieName)
	require.NotNil(t, session)

	request := httptest.NewRequest("GET", constants.ProtectedPath, nil)
	request.AddCookie(&http.Cookie{Name: constants.SessionCookieName, Value: session.Value})
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "octocat")
}

/*
TestHTTP_Logout verifies session destruction and cookie clearing, including
the idempotent second logout.
*/
func TestHTTP_Logout(t *testing.T) {
	fx := newServiceFixture(t)
	router := newTestRouter(fx)

	login := performLogin(t, router, true)
	session := cookieByName(t, login, constants.SessionCookieName)
	require.NotNil(t, session)

	logout := func() *httptest.ResponseRecorder {
		request := httptest.NewRequest("POST", "/logout", nil)
		request.AddCookie(&http.Cookie{Name: constants.SessionCookieName, Value: session.Value})
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, request)
		return recorder
	}

	first := logout()
	assert.Equal(t, constants.LoginPath, first.Header().Get("Location"))

	cleared := cookieByName(t, first, constants.SessionCookieName)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)

	// The session row is gone: the dashboard rejects the old cookie.
	request := httptest.NewRequest("GET", constants.ProtectedPath, nil)
	request.AddCookie(&http.Cookie{Name: constants.SessionCookieName, Value: session.Value})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	assert.Equal(t, constants.LoginPath, recorder.Header().Get("Location"))

	// Logging out again still lands on /login.
	second := logout()
	assert.Equal(t, constants.LoginPath, second.Header().Get("Location"))
}

/*
TestHTTP_Me verifies the profile endpoint for both anonymous and signed-in
requests.
*/
func TestHTTP_Me(t *testing.T) {
	fx := newServiceFixture(t)
	router := newTestRouter(fx)

	// Anonymous: 401 JSON error.
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/api/v1/me", nil))
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	// Signed in: profile envelope.
	login := performLogin(t, router, true)
	session := cookieByName(t, login, constants.SessionCookieName)
	require.NotNil(t, session)

	request := httptest.NewRequest("GET", "/api/v1/me", nil)
	request.AddCookie(&http.Cookie{Name: constants.SessionCookieName, Value: session.Value})
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)

	var envelope struct {
		Data identity.User `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	assert.Equal(t, "octocat", envelope.Data.Username)
	assert.Equal(t, identity.ProviderGitHub, envelope.Data.Provider)
}

/*
TestHTTP_AdminSurface smoke-tests the introspection endpoints.
*/
func TestHTTP_AdminSurface(t *testing.T) {
	fx := newServiceFixture(t)
	router := newTestRouter(fx)

	login := performLogin(t, router, true)
	require.NotNil(t, cookieByName(t, login, constants.SessionCookieName))

	// Paginated user listing.
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/api/v1/admin/users", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	var listing struct {
		Data []identity.User `json:"data"`
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Meta.Total)
	require.Len(t, listing.Data, 1)

	userID := listing.Data[0].ID

	// Session listing for the account.
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/api/v1/admin/users/"+userID+"/sessions", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)

	// Stats counters.
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("GET", "/api/v1/admin/sessions/stats", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	var stats struct {
		Data identity.SessionStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Data.Total)
	assert.Equal(t, 1, stats.Data.Active)

	// Manual sweep (nothing expired).
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("POST", "/api/v1/admin/sessions/cleanup", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)

	// Account removal cascades.
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("DELETE", "/api/v1/admin/users/"+userID, nil))
	assert.Equal(t, http.StatusNoContent, recorder.Code)

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest("DELETE", "/api/v1/admin/users/"+userID, nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}
