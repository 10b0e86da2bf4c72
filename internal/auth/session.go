// Package auth resolves session credentials to user ids. The payment
// workflow only ever sees the resolved id.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("session not found")

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisSessionStore reads sessions written by the login service as
// session:<id> -> user id.
type RedisSessionStore struct {
	client getter
}

func NewRedisSessionStore(client getter) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) Resolve(ctx context.Context, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", ErrSessionNotFound
	}

	userID, err := s.client.Get(ctx, "session:"+sessionID).Result()
	if errors.Is(err, redis.Nil) || (err == nil && userID == "") {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}
