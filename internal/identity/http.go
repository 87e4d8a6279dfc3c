// Copyright (c) 2026 Gatehouse. All rights reserved.

package identity

import (
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gatehouse/internal/platform/apperr"
	"gatehouse/internal/platform/constants"
	"gatehouse/internal/platform/middleware"
	requestutil "gatehouse/internal/platform/request"
	"gatehouse/internal/platform/respond"
	"gatehouse/internal/platform/sec"
	"gatehouse/pkg/pagination"
)

// # Definitions & Constructors

// Handler implements the browser-facing SSO endpoints and the admin API.
//
// # Scope
//
// This layer is strictly responsible for transport concerns: cookies,
// redirects, status codes, and JSON envelopes. All protocol decisions
// (state validation, upsert, session rules) live in [Service].
type Handler struct {
	service *Service
	states  StateStore

	// secureCookies marks session and nonce cookies Secure. Enabled in
	// production, off in development so plain-HTTP localhost flows work.
	secureCookies bool
}

// NewHandler constructs a new [Handler] with its dependencies.
func NewHandler(service *Service, states StateStore, secureCookies bool) *Handler {
	return &Handler{
		service:       service,
		states:        states,
		secureCookies: secureCookies,
	}
}

// AuthRoutes returns the OAuth login routes, mounted at /auth.
//
// # Endpoints
//   - GET /{provider}          : Redirects the browser to the provider.
//   - GET /callback/{provider} : Completes the round-trip, mints the session.
func (handler *Handler) AuthRoutes() chi.Router {
	router := chi.NewRouter()

	router.Get("/{provider}", handler.start)
	router.Get("/callback/{provider}", handler.callback)

	return router
}

// SiteRoutes returns the browser page routes, mounted at the server root.
func (handler *Handler) SiteRoutes() chi.Router {
	router := chi.NewRouter()

	router.Get(constants.LoginPath, handler.loginPage)
	router.Post("/logout", handler.logout)

	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession)
		r.Get(constants.ProtectedPath, handler.dashboard)
	})

	return router
}

// APIRoutes returns the JSON API routes, mounted at /api/v1.
//
// # Endpoints
//   - GET    /me                         : Profile of the signed-in user.
//   - GET    /admin/users                : Paginated account listing.
//   - GET    /admin/users/{id}/sessions  : Active sessions of one account.
//   - DELETE /admin/users/{id}           : Remove an account and its sessions.
//   - POST   /admin/sessions/cleanup     : Sweep expired sessions now.
//   - GET    /admin/sessions/stats       : Session table counters.
func (handler *Handler) APIRoutes() chi.Router {
	router := chi.NewRouter()

	router.Get("/me", handler.me)

	router.Route("/admin", func(r chi.Router) {
		r.Get("/users", handler.listUsers)
		r.Get("/users/{id}/sessions", handler.listUserSessions)
		r.Delete("/users/{id}", handler.deleteUser)
		r.Post("/sessions/cleanup", handler.cleanupSessions)
		r.Get("/sessions/stats", handler.sessionStats)
	})

	return router
}

// # Login Flow

/*
start begins one OAuth login round-trip.

GET /auth/{provider}

Description: Generates the anti-CSRF state, stashes it server-side under a
fresh browser nonce, drops the nonce cookie, and bounces the browser to the
provider's authorization URL.

Response:
  - 302: Redirect to the provider
  - 302: Redirect to /login?error=... on failure
*/
func (handler *Handler) start(writer http.ResponseWriter, request *http.Request) {
	provider, err := ParseProvider(requestutil.Param(request, "provider"))
	if err != nil {
		respond.RedirectError(writer, request, constants.LoginPath, err)
		return
	}

	authURL, state, err := handler.service.Initiate(provider)
	if err != nil {
		respond.RedirectError(writer, request, constants.LoginPath, err)
		return
	}

	nonce, err := sec.GenerateToken()
	if err != nil {
		respond.RedirectError(writer, request, constants.LoginPath, err)
		return
	}

	if err := handler.states.Set(request.Context(), nonce, state, StateTTL); err != nil {
		respond.RedirectError(writer, request, constants.LoginPath, err)
		return
	}

	handler.setNonceCookie(writer, nonce)
	http.Redirect(writer, request, authURL, http.StatusFound)
}

/*
callback completes the OAuth round-trip.

GET /auth/callback/{provider}?code=...&state=...

Description: Consumes the stashed state (one-shot), hands the full callback to
the orchestrator, mints a session for the upserted user, and lands the browser
on the dashboard. Every failure degrades to a /login redirect carrying only a
human-readable reason.

Response:
  - 302: Redirect to /dashboard with the session cookie set
  - 302: Redirect to /login?error=... on failure
*/
func (handler *Handler) callback(writer http.ResponseWriter, request *http.Request) {
	provider, err := ParseProvider(requestutil.Param(request, "provider"))
	if err != nil {
		respond.RedirectError(writer, request, constants.LoginPath, err)
		return
	}

	storedState, err := handler.consumeState(request)
	handler.clearNonceCookie(writer)
	if err != nil {
		respond.RedirectError(writer, request, constants.LoginPath, err)
		return
	}

	code := request.URL.Query().Get("code")
	requestState := request.URL.Query().Get("state")

	user, err := handler.service.HandleCallback(request.Context(), provider, code, requestState, storedState)
	if err != nil {
		respond.RedirectError(writer, request, constants.LoginPath, err)
		return
	}

	session, err := handler.service.CreateSession(request.Context(), user.ID)
	if err != nil {
		respond.RedirectError(writer, request, constants.LoginPath, err)
		return
	}

	handler.setSessionCookie(writer, session)
	http.Redirect(writer, request, constants.ProtectedPath, http.StatusFound)
}

// consumeState takes the stashed state for this browser's nonce. A missing
// nonce cookie or an expired stash resolves to an empty stored state — the
// orchestrator then rejects any request that still echoes a state.
func (handler *Handler) consumeState(request *http.Request) (string, error) {
	cookie, err := request.Cookie(constants.StateNonceCookieName)
	if err != nil || cookie.Value == "" {
		return "", nil
	}

	state, err := handler.states.Take(request.Context(), cookie.Value)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return "", nil
		}
		return "", err
	}

	return state, nil
}

/*
logout terminates the browser session.

POST /logout

Description: Destroys the session row (if any), clears the cookie, and sends
the browser to the login page. From the user's perspective logout always
succeeds — even with a dead store the cookie is gone.

Response:
  - 302: Redirect to /login
*/
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	if cookie, err := request.Cookie(constants.SessionCookieName); err == nil && cookie.Value != "" {
		// Best effort. The failure is already logged by the service layer.
		_ = handler.service.DestroySession(request.Context(), cookie.Value)
	}

	handler.clearSessionCookie(writer)
	http.Redirect(writer, request, constants.LoginPath, http.StatusFound)
}

// # Pages

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Gatehouse — Sign in</title></head>
<body>
  <h1>Sign in</h1>
  {{if .Error}}<p role="alert">{{.Error}}</p>{{end}}
  <ul>
    <li><a href="/auth/microsoft">Continue with Microsoft 365</a></li>
    <li><a href="/auth/github">Continue with GitHub</a></li>
  </ul>
</body>
</html>
`))

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head><title>Gatehouse — Dashboard</title></head>
<body>
  <h1>Welcome, {{.Username}}</h1>
  <p>Signed in via {{.Provider}}{{if .Email}} as {{.Email}}{{end}}.</p>
  <form method="post" action="/logout"><button type="submit">Sign out</button></form>
</body>
</html>
`))

/*
loginPage renders the landing document with the provider links.

GET /login?error=...

Response:
  - 200: HTML document; an error query parameter is echoed (escaped) as a notice
*/
func (handler *Handler) loginPage(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = loginTemplate.Execute(writer, struct{ Error string }{
		Error: request.URL.Query().Get("error"),
	})
}

/*
dashboard renders the protected landing page.

GET /dashboard

Description: Reachable only through [middleware.RequireSession]; the resolved
principal is already in the request context.

Response:
  - 200: HTML document
  - 302: Redirect to /login for anonymous browsers (by the guard)
*/
func (handler *Handler) dashboard(writer http.ResponseWriter, request *http.Request) {
	principal := requestutil.Principal(request)

	writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = dashboardTemplate.Execute(writer, principal)
}

// # JSON API

/*
me returns the signed-in user's profile.

GET /api/v1/me

Response:
  - 200: {"data": User}
  - 401: Anonymous request
*/
func (handler *Handler) me(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	user, err := handler.service.GetUser(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, user)
}

/*
listUsers returns one page of accounts, newest first.

GET /api/v1/admin/users?page=1&limit=20

Response:
  - 200: {"data": [User], "meta": {...}}
*/
func (handler *Handler) listUsers(writer http.ResponseWriter, request *http.Request) {
	params := pagination.FromRequest(request)

	users, total, err := handler.service.ListUsers(request.Context(), params.Limit, params.Offset())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	if users == nil {
		users = []User{}
	}

	respond.Paginated(writer, users, pagination.NewMeta(params.Page, params.Limit, total))
}

/*
listUserSessions returns one account's active sessions, newest first.

GET /api/v1/admin/users/{id}/sessions

Response:
  - 200: {"data": [Session]}
  - 404: Unknown account
*/
func (handler *Handler) listUserSessions(writer http.ResponseWriter, request *http.Request) {
	sessions, err := handler.service.ListUserSessions(request.Context(), requestutil.Param(request, "id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	if sessions == nil {
		sessions = []Session{}
	}

	respond.OK(writer, sessions)
}

/*
deleteUser removes an account and revokes every session it owns.

DELETE /api/v1/admin/users/{id}

Response:
  - 204: Account removed
  - 404: Unknown account
*/
func (handler *Handler) deleteUser(writer http.ResponseWriter, request *http.Request) {
	if err := handler.service.DeleteUser(request.Context(), requestutil.Param(request, "id")); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

/*
cleanupSessions sweeps expired sessions immediately.

POST /api/v1/admin/sessions/cleanup

Response:
  - 200: {"data": {"removed": N}}
*/
func (handler *Handler) cleanupSessions(writer http.ResponseWriter, request *http.Request) {
	removed, err := handler.service.CleanupSessions(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]int{"removed": removed})
}

/*
sessionStats returns the session table counters.

GET /api/v1/admin/sessions/stats

Response:
  - 200: {"data": SessionStats}
*/
func (handler *Handler) sessionStats(writer http.ResponseWriter, request *http.Request) {
	stats, err := handler.service.SessionStatistics(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, stats)
}

// # Cookie Plumbing

// setSessionCookie installs the opaque session id. HttpOnly keeps scripts
// out; SameSite=Lax still allows the top-level provider redirect to carry it.
func (handler *Handler) setSessionCookie(writer http.ResponseWriter, session *Session) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.SessionCookieName,
		Value:    session.ID,
		Path:     constants.SessionCookiePath,
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   handler.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie expires the session cookie immediately.
func (handler *Handler) clearSessionCookie(writer http.ResponseWriter) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.SessionCookieName,
		Value:    "",
		Path:     constants.SessionCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   handler.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// setNonceCookie installs the short-lived stash key for one OAuth round-trip.
func (handler *Handler) setNonceCookie(writer http.ResponseWriter, nonce string) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.StateNonceCookieName,
		Value:    nonce,
		Path:     constants.SessionCookiePath,
		MaxAge:   int(StateTTL / time.Second),
		HttpOnly: true,
		Secure:   handler.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearNonceCookie removes the stash key once the round-trip is over.
func (handler *Handler) clearNonceCookie(writer http.ResponseWriter) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.StateNonceCookieName,
		Value:    "",
		Path:     constants.SessionCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   handler.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
