// Package presence tracks which users hold a live chat session. State
// lives in redis so every instance can answer "is this user online".
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "chat"
	}
	return &Store{client: client, prefix: prefix, ttl: defaultTTL}
}

func (s *Store) key(userID int64) string {
	return fmt.Sprintf("%s:presence:%d", s.prefix, userID)
}

// SetOnline marks the user online. The TTL bounds staleness when a process
// dies without running its disconnect path; JOIN on reconnect refreshes it.
func (s *Store) SetOnline(ctx context.Context, userID int64) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	return s.client.Set(ctx, s.key(userID), now, s.ttl).Err()
}

func (s *Store) SetOffline(ctx context.Context, userID int64) error {
	return s.client.Del(ctx, s.key(userID)).Err()
}

// IsOnline reports whether the user currently has a live session.
func (s *Store) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
