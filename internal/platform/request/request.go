// Copyright (c) 2026 Gatehouse. All rights reserved.

/*
Package request provides utilities for extracting data from HTTP requests.

It abstracts away the underlying router's parameter extraction and common
body decoding patterns, ensuring consistent error handling and type safety.
*/
package requestutil

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatehouse/internal/platform/apperr"
	"gatehouse/internal/platform/ctxutil"
	"gatehouse/internal/platform/sec"
	"gatehouse/internal/platform/validate"
)

/*
DecodeJSON reads the request body and decodes it into the target structure.

Parameters:
  - request: *http.Request
  - target: interface{} (Pointer to the destination struct)

Returns:
  - error: validate.ErrInvalidJSON if decoding fails, otherwise nil
*/
func DecodeJSON(request *http.Request, target interface{}) error {
	if err := json.NewDecoder(request.Body).Decode(target); err != nil {
		return validate.ErrInvalidJSON
	}
	return nil
}

/*
Param retrieves a named URL parameter from the request.
*/
func Param(request *http.Request, name string) string {
	return chi.URLParam(request, name)
}

/*
Principal extracts the session-resolved identity from the request context.

Returns nil if the request is anonymous.
*/
func Principal(request *http.Request) *sec.SessionPrincipal {
	return ctxutil.GetPrincipal(request.Context())
}

/*
RequiredPrincipal ensures the request carries a valid session and returns
the resolved identity.

Returns:
  - *sec.SessionPrincipal: The session-resolved identity
  - error: apperr.Unauthorized if the request is anonymous
*/
func RequiredPrincipal(request *http.Request) (*sec.SessionPrincipal, error) {

	// Get the resolved principal
	principal := ctxutil.GetPrincipal(request.Context())

	// If the session was absent or invalid, return an error
	if principal == nil {
		return nil, apperr.Unauthorized("Authentication required")
	}

	return principal, nil
}

/*
RequiredUserID returns the User ID of the currently logged-in user.

Returns:
  - string: User UUID
  - error: apperr.Unauthorized if not authenticated
*/
func RequiredUserID(request *http.Request) (string, error) {

	// Get the resolved principal
	principal, err := RequiredPrincipal(request)

	// If the session was absent or invalid, return an error
	if err != nil {
		return "", err
	}

	return principal.UserID, nil
}
