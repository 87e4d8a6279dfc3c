// Copyright (c) 2026 Gatehouse. All rights reserved.

/*
Identity (Postgres) implements the durable storage layer for accounts and sessions.

# Schema Table Mapping
  - users.account: Master identity data, one row per external identity.
  - users.session: Opaque browser sessions with absolute expiry.
*/

package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gatehouse/internal/platform/apperr"
	"gatehouse/internal/platform/database/schema"
	"gatehouse/internal/platform/sec"
	"gatehouse/internal/platform/validate"
	"gatehouse/pkg/uuidv7"
)

// # Store Implementations

// PostgresUserStore implements [UserStore] using pgx.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new Postgres implementation for account management.
func NewUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

// PostgresSessionStore implements [SessionStore] using pgx.
//
// It holds a [UserStore] so GetWithUser can detect and reap sessions whose
// owning account was deleted out from under them.
type PostgresSessionStore struct {
	pool  *pgxpool.Pool
	users UserStore
}

// NewSessionStore creates a new Postgres implementation for session lifecycle.
func NewSessionStore(pool *pgxpool.Pool, users UserStore) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool, users: users}
}

// # UserStore Methods

/*
FindByProviderID retrieves the account bound to one external identity.

Parameters:
  - context: context.Context
  - providerUserID: string
  - provider: Provider

Returns:
  - *User: Hydrated identity entity
  - error: apperr.ValidationError, apperr.NotFound, or database execution failure
*/
func (store *PostgresUserStore) FindByProviderID(context context.Context, providerUserID string, provider Provider) (*User, error) {
	providerUserID = strings.TrimSpace(providerUserID)

	v := &validate.Validator{}
	v.Required(FieldProviderUserID, providerUserID)
	v.Custom(FieldProvider, !provider.Valid(), "Must be a recognized identity provider")
	if err := v.Err(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1 AND %s = $2`,
		schema.UserAccount.ID, schema.UserAccount.Username, schema.UserAccount.Email,
		schema.UserAccount.Provider, schema.UserAccount.ProviderUserID,
		schema.UserAccount.CreatedAt, schema.UserAccount.UpdatedAt,
		schema.UserAccount.Table,
		schema.UserAccount.Provider, schema.UserAccount.ProviderUserID,
	)

	user := &User{}
	err := store.pool.QueryRow(context, query, string(provider), providerUserID).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Provider,
		&user.ProviderUserID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("User")
		}
		return nil, fmt.Errorf("postgres_user_store_find_by_provider_id_failed: %w", err)
	}

	return user, nil
}

/*
Create persists a brand-new account from a normalized provider profile.

Description: All fields are trimmed before validation. Uniqueness of the
(provider, provider user id) pair is enforced by the database constraint;
a violation surfaces as apperr.Conflict rather than a raw pg error.

Parameters:
  - context: context.Context
  - profile: Profile

Returns:
  - *User: Created entity with a fresh UUIDv7 and matching timestamps
  - error: apperr.ValidationError, apperr.Conflict, or insertion failures
*/
func (store *PostgresUserStore) Create(context context.Context, profile Profile) (*User, error) {
	user := &User{
		ID:             uuidv7.New(),
		Username:       strings.TrimSpace(profile.Username),
		Email:          strings.TrimSpace(profile.Email),
		Provider:       profile.Provider,
		ProviderUserID: strings.TrimSpace(profile.ProviderUserID),
	}

	if err := validateUser(user); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		schema.UserAccount.Table,
		schema.UserAccount.ID, schema.UserAccount.Username, schema.UserAccount.Email,
		schema.UserAccount.Provider, schema.UserAccount.ProviderUserID,
		schema.UserAccount.CreatedAt, schema.UserAccount.UpdatedAt,
	)

	_, err := store.pool.Exec(context, query,
		user.ID,
		user.Username,
		user.Email,
		string(user.Provider),
		user.ProviderUserID,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("An account for this external identity already exists")
		}
		return nil, fmt.Errorf("postgres_user_store_create_failed: %w", err)
	}

	return user, nil
}

/*
Update applies a partial profile refresh to an existing account.

Description: The current row is loaded first, non-nil changes are merged in,
and the merged entity is re-validated before the write. Provider identity
fields are immutable and never touched here.

Parameters:
  - context: context.Context
  - userID: string
  - changes: ProfileUpdate

Returns:
  - *User: Updated entity with a refreshed updatedat
  - error: apperr.NotFound, apperr.ValidationError, or update failures
*/
func (store *PostgresUserStore) Update(context context.Context, userID string, changes ProfileUpdate) (*User, error) {
	user, err := store.FindByID(context, userID)
	if err != nil {
		return nil, err
	}

	if changes.Username != nil {
		user.Username = strings.TrimSpace(*changes.Username)
	}
	if changes.Email != nil {
		user.Email = strings.TrimSpace(*changes.Email)
	}

	if err := validateUser(user); err != nil {
		return nil, err
	}

	user.UpdatedAt = time.Now().UTC()

	query := fmt.Sprintf(`
		UPDATE %s
		SET %s = $2, %s = $3, %s = $4
		WHERE %s = $1`,
		schema.UserAccount.Table,
		schema.UserAccount.Username, schema.UserAccount.Email, schema.UserAccount.UpdatedAt,
		schema.UserAccount.ID,
	)

	_, err = store.pool.Exec(context, query,
		user.ID,
		user.Username,
		user.Email,
		user.UpdatedAt,
	)

	// If the update fails, return an error
	if err != nil {
		return nil, fmt.Errorf("postgres_user_store_update_failed: %w", err)
	}

	return user, nil
}

/*
FindByID retrieves an account by its primary key.

Parameters:
  - context: context.Context
  - userID: string (UUID)

Returns:
  - *User: Hydrated identity entity
  - error: apperr.NotFound or database execution failure
*/
func (store *PostgresUserStore) FindByID(context context.Context, userID string) (*User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperr.NotFound("User")
	}

	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1`,
		schema.UserAccount.ID, schema.UserAccount.Username, schema.UserAccount.Email,
		schema.UserAccount.Provider, schema.UserAccount.ProviderUserID,
		schema.UserAccount.CreatedAt, schema.UserAccount.UpdatedAt,
		schema.UserAccount.Table,
		schema.UserAccount.ID,
	)

	user := &User{}
	err := store.pool.QueryRow(context, query, userID).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Provider,
		&user.ProviderUserID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("User")
		}
		return nil, fmt.Errorf("postgres_user_store_find_by_id_failed: %w", err)
	}

	return user, nil
}

/*
Delete removes an account row. Owned sessions cascade at the schema level.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - bool: Whether a row was removed
  - error: Execution failures
*/
func (store *PostgresUserStore) Delete(context context.Context, userID string) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`,
		schema.UserAccount.Table, schema.UserAccount.ID)

	tag, err := store.pool.Exec(context, query, userID)
	if err != nil {
		return false, fmt.Errorf("postgres_user_store_delete_failed: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

/*
List retrieves one page of accounts, newest first, plus the total count.

Parameters:
  - context: context.Context
  - limit: int
  - offset: int

Returns:
  - []User: Page of accounts
  - int: Total account count
  - error: Database retrieval failures
*/
func (store *PostgresUserStore) List(context context.Context, limit, offset int) ([]User, int, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s, %s
		FROM %s
		ORDER BY %s DESC
		LIMIT $1 OFFSET $2`,
		schema.UserAccount.ID, schema.UserAccount.Username, schema.UserAccount.Email,
		schema.UserAccount.Provider, schema.UserAccount.ProviderUserID,
		schema.UserAccount.CreatedAt, schema.UserAccount.UpdatedAt,
		schema.UserAccount.Table,
		schema.UserAccount.CreatedAt,
	)

	rows, err := store.pool.Query(context, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres_user_store_list_failed: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.Email,
			&user.Provider,
			&user.ProviderUserID,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, schema.UserAccount.Table)

	var total int
	if err := store.pool.QueryRow(context, countQuery).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres_user_store_count_failed: %w", err)
	}

	return users, total, nil
}

// validateUser runs the full account rule set against a merged entity.
func validateUser(user *User) error {
	v := &validate.Validator{}
	v.Required(FieldUsername, user.Username)
	v.MaxLen(FieldUsername, user.Username, MaxUsernameLength)
	v.Required(FieldProviderUserID, user.ProviderUserID)
	v.Custom(FieldProvider, !user.Provider.Valid(), "Must be a recognized identity provider")
	if user.Email != "" {
		v.Email(FieldEmail, user.Email)
	}
	return v.Err()
}

// # SessionStore Methods

/*
Create persists a new session row for an existing account.

Description: The expiry invariant (expiresat strictly after createdat) is
checked before the write; the user's existence is enforced by the foreign
key, with a violation translated to apperr.NotFound.

Parameters:
  - context: context.Context
  - userID: string
  - ttl: time.Duration (non-positive falls back to DefaultSessionTTL)

Returns:
  - *Session: Created session with its opaque 64-hex id
  - error: apperr.ValidationError, apperr.NotFound, or insertion failures
*/
func (store *PostgresSessionStore) Create(context context.Context, userID string, ttl time.Duration) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, validate.RequiredError(FieldUserID, "This field is required")
	}

	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	id, err := sec.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("postgres_session_store_token_generation_failed: %w", err)
	}

	now := time.Now().UTC()
	session := &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if !session.ExpiresAt.After(session.CreatedAt) {
		return nil, validate.RequiredError(FieldExpiresAt, "Must be after creation")
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s)
		VALUES ($1, $2, $3, $4)`,
		schema.UserSession.Table,
		schema.UserSession.ID, schema.UserSession.UserID,
		schema.UserSession.CreatedAt, schema.UserSession.ExpiresAt,
	)

	_, err = store.pool.Exec(context, query,
		session.ID,
		session.UserID,
		session.CreatedAt,
		session.ExpiresAt,
	)

	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, apperr.NotFound("User")
		}
		return nil, fmt.Errorf("postgres_session_store_create_failed: %w", err)
	}

	return session, nil
}

/*
Validate resolves an opaque session id to a live session.

Description: Non-throwing by contract. A miss, an expired row, or a row with
a broken expiry invariant all return (nil, nil); expired and broken rows are
deleted eagerly so the id misses on every later lookup too.

Parameters:
  - context: context.Context
  - sessionID: string

Returns:
  - *Session: Live session, or nil
  - error: Infrastructure failures only
*/
func (store *PostgresSessionStore) Validate(context context.Context, sessionID string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s
		FROM %s
		WHERE %s = $1`,
		schema.UserSession.ID, schema.UserSession.UserID,
		schema.UserSession.CreatedAt, schema.UserSession.ExpiresAt,
		schema.UserSession.Table,
		schema.UserSession.ID,
	)

	session := &Session{}
	err := store.pool.QueryRow(context, query, sessionID).Scan(
		&session.ID,
		&session.UserID,
		&session.CreatedAt,
		&session.ExpiresAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres_session_store_validate_failed: %w", err)
	}

	// Lazy expiration: a dead or malformed row is removed on first touch.
	if !time.Now().Before(session.ExpiresAt) || !session.ExpiresAt.After(session.CreatedAt) {
		if err := store.Destroy(context, sessionID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return session, nil
}

/*
Destroy deletes a session row. Deleting an absent session is a success.

Parameters:
  - context: context.Context
  - sessionID: string

Returns:
  - error: apperr.ValidationError for an empty id, else execution failures
*/
func (store *PostgresSessionStore) Destroy(context context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return validate.RequiredError(FieldSessionID, "This field is required")
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`,
		schema.UserSession.Table, schema.UserSession.ID)

	if _, err := store.pool.Exec(context, query, sessionID); err != nil {
		return fmt.Errorf("postgres_session_store_destroy_failed: %w", err)
	}

	return nil
}

/*
DeleteExpired removes every session past expiry in a single statement.

Parameters:
  - context: context.Context

Returns:
  - int: Number of rows removed
  - error: Execution failures
*/
func (store *PostgresSessionStore) DeleteExpired(context context.Context) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s <= NOW()`,
		schema.UserSession.Table, schema.UserSession.ExpiresAt)

	tag, err := store.pool.Exec(context, query)
	if err != nil {
		return 0, fmt.Errorf("postgres_session_store_delete_expired_failed: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

/*
GetWithUser composes session validation with the owning account lookup.

Description: A valid session pointing at a deleted account is orphaned —
it is reaped on discovery and the lookup resolves to anonymous.

Parameters:
  - context: context.Context
  - sessionID: string

Returns:
  - *Session: Live session, or nil
  - *User: Owning account, or nil
  - error: Infrastructure failures only
*/
func (store *PostgresSessionStore) GetWithUser(context context.Context, sessionID string) (*Session, *User, error) {
	session, err := store.Validate(context, sessionID)
	if err != nil || session == nil {
		return nil, nil, err
	}

	user, err := store.users.FindByID(context, session.UserID)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			if destroyErr := store.Destroy(context, session.ID); destroyErr != nil {
				return nil, nil, destroyErr
			}
			return nil, nil, nil
		}
		return nil, nil, err
	}

	return session, user, nil
}

/*
DestroyAllForUser removes every session belonging to one account.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - int: Number of sessions removed
  - error: apperr.ValidationError for an empty id, else execution failures
*/
func (store *PostgresSessionStore) DestroyAllForUser(context context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, validate.RequiredError(FieldUserID, "This field is required")
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`,
		schema.UserSession.Table, schema.UserSession.UserID)

	tag, err := store.pool.Exec(context, query, userID)
	if err != nil {
		return 0, fmt.Errorf("postgres_session_store_destroy_all_failed: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

/*
ListForUser retrieves all active sessions for one account, newest first.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - []Session: Active sessions
  - error: Database retrieval failures
*/
func (store *PostgresSessionStore) ListForUser(context context.Context, userID string) ([]Session, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s
		FROM %s
		WHERE %s = $1 AND %s > NOW()
		ORDER BY %s DESC`,
		schema.UserSession.ID, schema.UserSession.UserID,
		schema.UserSession.CreatedAt, schema.UserSession.ExpiresAt,
		schema.UserSession.Table,
		schema.UserSession.UserID, schema.UserSession.ExpiresAt,
		schema.UserSession.CreatedAt,
	)

	rows, err := store.pool.Query(context, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_session_store_list_failed: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var session Session
		if err := rows.Scan(&session.ID, &session.UserID, &session.CreatedAt, &session.ExpiresAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}

/*
Extend pushes a live session's expiry to now + ttl.

Description: Validation runs first so an expired session can never be
resurrected by an extension racing its expiry.

Parameters:
  - context: context.Context
  - sessionID: string
  - ttl: time.Duration

Returns:
  - *Session: Session with the refreshed expiry, or nil if it was invalid
  - error: Infrastructure failures only
*/
func (store *PostgresSessionStore) Extend(context context.Context, sessionID string, ttl time.Duration) (*Session, error) {
	session, err := store.Validate(context, sessionID)
	if err != nil || session == nil {
		return nil, err
	}

	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	session.ExpiresAt = time.Now().UTC().Add(ttl)

	query := fmt.Sprintf(`UPDATE %s SET %s = $2 WHERE %s = $1`,
		schema.UserSession.Table, schema.UserSession.ExpiresAt, schema.UserSession.ID)

	if _, err := store.pool.Exec(context, query, session.ID, session.ExpiresAt); err != nil {
		return nil, fmt.Errorf("postgres_session_store_extend_failed: %w", err)
	}

	return session, nil
}

/*
Stats aggregates total/active/expired counts over the session table.

Parameters:
  - context: context.Context

Returns:
  - *SessionStats: Aggregate counts, consistent within one snapshot
  - error: Database retrieval failures
*/
func (store *PostgresSessionStore) Stats(context context.Context) (*SessionStats, error) {
	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE %s > NOW()),
			COUNT(*) FILTER (WHERE %s <= NOW())
		FROM %s`,
		schema.UserSession.ExpiresAt, schema.UserSession.ExpiresAt,
		schema.UserSession.Table,
	)

	stats := &SessionStats{}
	if err := store.pool.QueryRow(context, query).Scan(&stats.Total, &stats.Active, &stats.Expired); err != nil {
		return nil, fmt.Errorf("postgres_session_store_stats_failed: %w", err)
	}

	return stats, nil
}

// # Postgres Error Translation

// isUniqueViolation reports whether err is a 23505 unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// isForeignKeyViolation reports whether err is a 23503 foreign-key violation.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}
