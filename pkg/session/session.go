// Package session stores login sessions in Redis with a fixed TTL.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/idsync/pkg/observability"
	"github.com/platinummonkey/idsync/pkg/store"
)

const keyPrefix = "session:"

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Session is a marked login.
type Session struct {
	ID        string          `json:"id"`
	Account   store.RecordRef `json:"account"`
	NameID    string          `json:"name_id"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Store persists sessions in Redis.
type Store struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewStore creates a session store with the given TTL.
func NewStore(client *redis.Client, ttl time.Duration, logger *observability.Logger) *Store {
	return &Store{redis: client, ttl: ttl, logger: logger}
}

// Mark records a successful login and returns the new session ID.
func (s *Store) Mark(ctx context.Context, account store.RecordRef, nameID string) (string, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.New().String(),
		Account:   account,
		NameID:    nameID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.redis.Set(ctx, keyPrefix+sess.ID, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"session_id": sess.ID,
		"account":    account.String(),
	}).Debug("marked login session")
	return sess.ID, nil
}

// Get returns the session for the given ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, keyPrefix+id).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Count returns the number of live sessions. Used by the periodic metrics
// refresh; Redis expiry handles cleanup itself.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan sessions: %w", err)
		}
		count += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}
