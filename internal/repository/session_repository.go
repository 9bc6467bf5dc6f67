package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/mili-llama-api/pkg/cache"
)

// ErrResetTokenNotFound is returned for unknown or already used reset tokens.
var ErrResetTokenNotFound = errors.New("password reset token not found")

// SessionRepository tracks revoked access tokens and pending password resets.
// Without a Redis client it keeps the same data in process memory, which is
// enough for a single instance deployment.
type SessionRepository struct {
	client *redis.Client

	mu    sync.Mutex
	local map[string]localEntry
	now   func() time.Time
}

type localEntry struct {
	value     string
	expiresAt time.Time
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(client *redis.Client) *SessionRepository {
	return &SessionRepository{client: client, local: make(map[string]localEntry), now: time.Now}
}

func revokedKey(jti string) string { return cache.Key("session", "revoked", jti) }
func resetKey(token string) string { return cache.Key("session", "reset", token) }

// Revoke blocks the token id until ttl elapses.
func (r *SessionRepository) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.set(ctx, revokedKey(jti), "1", ttl)
}

// IsRevoked reports whether the token id was revoked.
func (r *SessionRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, ok, err := r.get(ctx, revokedKey(jti), false)
	return ok, err
}

// SavePasswordReset stores a single use reset token for userID.
func (r *SessionRepository) SavePasswordReset(ctx context.Context, token, userID string, ttl time.Duration) error {
	return r.set(ctx, resetKey(token), userID, ttl)
}

// ConsumePasswordReset returns the user id bound to token and deletes it.
func (r *SessionRepository) ConsumePasswordReset(ctx context.Context, token string) (string, error) {
	userID, ok, err := r.get(ctx, resetKey(token), true)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrResetTokenNotFound
	}
	return userID, nil
}

func (r *SessionRepository) set(ctx context.Context, key, value string, ttl time.Duration) error {
	if r.client != nil {
		if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
			return fmt.Errorf("redis set %s: %w", key, err)
		}
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[key] = localEntry{value: value, expiresAt: r.now().Add(ttl)}
	return nil
}

func (r *SessionRepository) get(ctx context.Context, key string, consume bool) (string, bool, error) {
	if r.client != nil {
		var cmd *redis.StringCmd
		if consume {
			cmd = r.client.GetDel(ctx, key)
		} else {
			cmd = r.client.Get(ctx, key)
		}
		value, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("redis get %s: %w", key, err)
		}
		return value, true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.local[key]
	if !ok {
		return "", false, nil
	}
	if r.now().After(entry.expiresAt) {
		delete(r.local, key)
		return "", false, nil
	}
	if consume {
		delete(r.local, key)
	}
	return entry.value, true, nil
}
