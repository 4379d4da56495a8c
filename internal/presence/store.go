// Package presence tracks which users are currently online, backed by Redis
// so the answer is consistent across server instances. Each user maps to a
// set of live connection IDs with a TTL; a crashed instance's entries age
// out instead of leaking.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// UserPrefix is the Redis key prefix for per-user connection sets.
	UserPrefix = "presence:user:"

	// PresenceTTL is the time-to-live for presence keys. The heartbeat
	// refreshes it while connections are alive.
	PresenceTTL = 90 * time.Second
)

// Store manages online presence in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a presence store connected to Redis.
func NewStore(redisAddr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client}, nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Connected records a live connection for the user and refreshes the TTL.
func (s *Store) Connected(ctx context.Context, userID, connID string) error {
	key := UserPrefix + userID
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, connID)
	pipe.Expire(ctx, key, PresenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Disconnected removes a connection from the user's set. The key is deleted
// once the last connection is gone so the user immediately reads as offline.
func (s *Store) Disconnected(ctx context.Context, userID, connID string) error {
	key := UserPrefix + userID
	if err := s.client.SRem(ctx, key, connID).Err(); err != nil {
		return err
	}
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.client.Del(ctx, key).Err()
	}
	return nil
}

// Heartbeat extends the user's presence TTL.
func (s *Store) Heartbeat(ctx context.Context, userID string) error {
	return s.client.Expire(ctx, UserPrefix+userID, PresenceTTL).Err()
}

// IsOnline reports whether the user has at least one live connection
// anywhere in the cluster.
func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, UserPrefix+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// OnlineCount returns the number of distinct online users across all
// instances. It scans the presence keyspace, so treat it as a diagnostic
// rather than a hot-path read.
func (s *Store) OnlineCount(ctx context.Context) (int64, error) {
	var count int64
	iter := s.client.Scan(ctx, 0, UserPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("presence: scan: %w", err)
	}
	return count, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
