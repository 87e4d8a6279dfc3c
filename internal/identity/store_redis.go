// Copyright (c) 2026 Gatehouse. All rights reserved.

package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gatehouse/internal/platform/apperr"
	"gatehouse/internal/platform/constants"
)

// # State Stash

// RedisStateStore implements [StateStore] using Redis.
//
// The stash is keyed by a per-browser nonce so concurrent logins from
// different browsers never read each other's state.
type RedisStateStore struct {
	client *redis.Client
}

// NewStateStore creates a new Redis-backed anti-CSRF state stash.
func NewStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

/*
Set stashes a state token under the browser's nonce with a TTL.

Parameters:
  - context: context.Context
  - nonce: string
  - state: string
  - ttl: time.Duration

Returns:
  - error: Storage failures
*/
func (store *RedisStateStore) Set(context context.Context, nonce string, state string, ttl time.Duration) error {

	// Use constants for key prefix
	key := constants.RedisPrefixOAuthState + nonce

	// Set the state with TTL
	if err := store.client.Set(context, key, state, ttl).Err(); err != nil {
		return fmt.Errorf("redis_oauth_state_set_failed: %w", err)
	}

	// Return nil on success
	return nil
}

/*
Take retrieves and deletes the state token in one atomic GETDEL.

Description: Returns apperr.NotFound if the nonce is absent or the stash
expired. The single-command consume guarantees a state is usable exactly once
even under concurrent callbacks.

Parameters:
  - context: context.Context
  - nonce: string

Returns:
  - string: The stashed state token
  - error: apperr.NotFound or connectivity errors
*/
func (store *RedisStateStore) Take(context context.Context, nonce string) (string, error) {

	// Use constants for key prefix
	key := constants.RedisPrefixOAuthState + nonce

	// Consume the state from Redis
	state, err := store.client.GetDel(context, key).Result()

	// Handle errors
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperr.NotFound("OAuth state")
		}
		return "", fmt.Errorf("redis_oauth_state_take_failed: %w", err)
	}

	// Return the state
	return state, nil
}
