// Copyright (c) 2026 Gatehouse. All rights reserved.

package identity

import (
	"context"
	"time"
)

// # User Data Access

// UserStore defines the data access contract for user accounts.
//
// Lookup misses surface as NOT_FOUND [apperr.AppError] values; callers branch
// on the code rather than treating a miss as an exceptional failure.
type UserStore interface {

	/*
		FindByProviderID returns the account bound to the given external identity.

		Both arguments are trimmed before matching; provider matching is
		case-sensitive as stored.

		Parameters:
		  - context: context.Context
		  - providerUserID: string (provider-assigned id)
		  - provider: Provider

		Returns:
		  - *User: Hydrated entity
		  - error: VALIDATION_ERROR for empty/unknown arguments, NOT_FOUND on miss
	*/
	FindByProviderID(context context.Context, providerUserID string, provider Provider) (*User, error)

	/*
		Create trims, validates, and persists a brand-new user from a normalized profile.

		Parameters:
		  - context: context.Context
		  - profile: Profile

		Returns:
		  - *User: Created entity with generated id and timestamps
		  - error: VALIDATION_ERROR on bad fields, CONFLICT if the
		    (provider, provider id) pair already exists
	*/
	Create(context context.Context, profile Profile) (*User, error)

	/*
		Update applies a partial profile refresh to an existing user.

		Only non-nil fields are applied; the merged result is re-validated and
		updatedat is bumped.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - changes: ProfileUpdate

		Returns:
		  - *User: Updated entity
		  - error: NOT_FOUND if the user is absent, VALIDATION_ERROR if the
		    merged result is invalid
	*/
	Update(context context.Context, userID string, changes ProfileUpdate) (*User, error)

	/*
		FindByID returns the account with the given ID.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - *User: Hydrated entity
		  - error: NOT_FOUND for an empty id or no match
	*/
	FindByID(context context.Context, userID string) (*User, error)

	/*
		Delete removes a user row. Administrative operation — never part of the
		normal login flow. Sessions cascade at the storage layer.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - bool: Whether a row was actually removed
		  - error: Persistence failures
	*/
	Delete(context context.Context, userID string) (bool, error)

	/*
		List returns users ordered by most-recently-created first.

		Parameters:
		  - context: context.Context
		  - limit: int
		  - offset: int

		Returns:
		  - []User: One page of users
		  - int: Total user count for pagination
		  - error: Persistence failures
	*/
	List(context context.Context, limit, offset int) ([]User, int, error)
}

// # Session Data Access

// SessionStore defines the data access contract for browser sessions.
//
// Validate and the operations built on it are non-throwing by contract: an
// invalid session is a nil result, not an error. Errors are reserved for
// infrastructure failures.
type SessionStore interface {

	/*
		Create persists a new session for an existing user.

		The session id reuses the platform's 32-byte/64-hex token construction
		in an independent namespace. Expiry is now + ttl and must land strictly
		after creation.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - ttl: time.Duration (non-positive values fall back to DefaultSessionTTL)

		Returns:
		  - *Session: Created session
		  - error: VALIDATION_ERROR for an empty userID or broken expiry
		    invariant, NOT_FOUND if the user does not exist
	*/
	Create(context context.Context, userID string, ttl time.Duration) (*Session, error)

	/*
		Validate resolves an opaque session id to a live session.

		An empty id, a missing row, an expired row, or a malformed row all
		resolve to (nil, nil). Expired and malformed rows are deleted before
		returning, so a second Validate on the same id also misses.

		Parameters:
		  - context: context.Context
		  - sessionID: string

		Returns:
		  - *Session: Live session, or nil
		  - error: Infrastructure failures only
	*/
	Validate(context context.Context, sessionID string) (*Session, error)

	/*
		Destroy deletes a session row. Destroying an absent session succeeds
		(idempotent) — logout must always appear to work.

		Parameters:
		  - context: context.Context
		  - sessionID: string

		Returns:
		  - error: VALIDATION_ERROR for an empty id, else persistence failures
	*/
	Destroy(context context.Context, sessionID string) error

	/*
		DeleteExpired removes every row past expiry relative to the store's clock.

		Safe to invoke repeatedly and concurrently with live traffic: rows
		created after the sweep starts are always initially unexpired.

		Parameters:
		  - context: context.Context

		Returns:
		  - int: Number of rows removed
		  - error: Persistence failures
	*/
	DeleteExpired(context context.Context) (int, error)

	/*
		GetWithUser composes Validate with a user lookup.

		A valid session whose owning user no longer exists is orphaned: it is
		deleted on discovery and (nil, nil, nil) is returned.

		Parameters:
		  - context: context.Context
		  - sessionID: string

		Returns:
		  - *Session: Live session, or nil
		  - *User: Owning user, or nil
		  - error: Infrastructure failures only
	*/
	GetWithUser(context context.Context, sessionID string) (*Session, *User, error)

	/*
		DestroyAllForUser removes every session belonging to the user.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - int: Number of sessions removed
		  - error: VALIDATION_ERROR for an empty id, else persistence failures
	*/
	DestroyAllForUser(context context.Context, userID string) (int, error)

	/*
		ListForUser returns the user's active (unexpired) sessions, newest first.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - []Session: Active sessions
		  - error: Persistence failures
	*/
	ListForUser(context context.Context, userID string) ([]Session, error)

	/*
		Extend pushes a session's expiry forward by ttl from now.

		The session is validated first; an invalid session returns (nil, nil).

		Parameters:
		  - context: context.Context
		  - sessionID: string
		  - ttl: time.Duration

		Returns:
		  - *Session: Session with refreshed expiry, or nil if it was invalid
		  - error: Infrastructure failures only
	*/
	Extend(context context.Context, sessionID string, ttl time.Duration) (*Session, error)

	/*
		Stats returns total/active/expired counts over the session table.

		Parameters:
		  - context: context.Context

		Returns:
		  - *SessionStats: Aggregate counts
		  - error: Persistence failures
	*/
	Stats(context context.Context) (*SessionStats, error)
}

// # Volatile Data Access

// StateStore defines the contract for the per-browser anti-CSRF state stash.
//
// State tokens live only for the duration of one OAuth round-trip and are
// never written to the primary store.
type StateStore interface {

	/*
		Set stashes a state token under an opaque browser nonce for a limited duration.

		Parameters:
		  - context: context.Context
		  - nonce: string (cookie-held key)
		  - state: string (the anti-CSRF token)
		  - ttl: time.Duration

		Returns:
		  - error: Persistence failures
	*/
	Set(context context.Context, nonce string, state string, ttl time.Duration) error

	/*
		Take retrieves and deletes the state token for a nonce in one step,
		so a state can never be replayed across callbacks.

		Parameters:
		  - context: context.Context
		  - nonce: string

		Returns:
		  - string: The stashed state token
		  - error: NOT_FOUND if absent or expired, else retrieval failures
	*/
	Take(context context.Context, nonce string) (string, error)
}
