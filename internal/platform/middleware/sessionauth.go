// Copyright (c) 2026 Gatehouse. All rights reserved.

package middleware

import (
	"net/http"

	"gatehouse/internal/platform/constants"
	"gatehouse/internal/platform/ctxutil"
	"gatehouse/internal/platform/sec"
)

// SessionResolver defines the interface needed to resolve a session cookie
// into an authenticated principal.
//
// # Why an interface?
//
// Defining SessionResolver here decouples the middleware from the identity
// service implementation, allowing us to easily inject fakes during unit testing.
//
// # Contract
//
// Resolve never fails a working request pipeline: an absent, expired, or
// orphaned session resolves to (nil, nil). A non-nil error is reserved for
// infrastructure failures and is treated the same as an anonymous request.
type SessionResolver interface {
	Resolve(request *http.Request, sessionID string) (*sec.SessionPrincipal, error)
}

// SessionAuth resolves the session cookie on every request.
//
// # Flow
//  1. Check for the session cookie.
//  2. If absent, the request proceeds as anonymous.
//  3. If present, resolve the opaque id via [SessionResolver].
//  4. Inject the [*sec.SessionPrincipal] into the request context for downstream use.
//
// Resolution failures never abort the request here — enforcement is the job
// of [RequireSession] on protected routes.
func SessionAuth(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			cookie, err := request.Cookie(constants.SessionCookieName)

			// ── 1. Anonymous Access ───────────────────────────────────────────
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(writer, request)
				return
			}

			// ── 2. Session Resolution ─────────────────────────────────────────
			principal, err := resolver.Resolve(request, cookie.Value)
			if err != nil || principal == nil {
				// Invalid sessions degrade to anonymous; the guard decides.
				next.ServeHTTP(writer, request)
				return
			}

			// ── 3. Context Injection ──────────────────────────────────────────
			ctx := ctxutil.WithPrincipal(request.Context(), principal)
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// RequireSession guards the protected area.
//
// Anonymous requests (no cookie, or a cookie that failed resolution) are
// redirected to the login page; authenticated requests proceed with the
// resolved principal already in context.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if ctxutil.GetPrincipal(request.Context()) == nil {
			http.Redirect(writer, request, constants.LoginPath, http.StatusFound)
			return
		}
		next.ServeHTTP(writer, request)
	})
}
