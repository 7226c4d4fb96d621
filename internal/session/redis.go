package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/logsage/logsage/internal/pkg/errors"
)

const redisKeyPrefix = "logsage:session:"

// RedisCache is the distributed Cache implementation backed by Redis.
// Expiry uses Redis-native TTLs: Set writes the entry with an expiration
// equal to its TTL, and Get never touches the expiration, matching the
// contract's only-Set-refreshes rule.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a Redis-backed session cache and verifies the
// connection.
func NewRedisCache(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

// Get returns a snapshot of the entry, or false on miss.
func (c *RedisCache) Get(ctx context.Context, sessionID string) (*Entry, bool, error) {
	data, err := c.client.Get(ctx, redisKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.CacheUnavailableError(err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, apperrors.CacheUnavailableError(err)
	}
	return &entry, true, nil
}

// Set stores the entry with a Redis-native expiration equal to its TTL.
func (c *RedisCache) Set(ctx context.Context, sessionID string, entry *Entry) error {
	stored := entry.Clone()
	stored.LastAccessed = time.Now()

	data, err := json.Marshal(stored)
	if err != nil {
		return apperrors.CacheUnavailableError(err)
	}

	if err := c.client.Set(ctx, redisKey(sessionID), data, stored.TTL).Err(); err != nil {
		return apperrors.CacheUnavailableError(err)
	}
	return nil
}

// Delete removes the entry, reporting whether it existed.
func (c *RedisCache) Delete(ctx context.Context, sessionID string) (bool, error) {
	n, err := c.client.Del(ctx, redisKey(sessionID)).Result()
	if err != nil {
		return false, apperrors.CacheUnavailableError(err)
	}
	return n > 0, nil
}

// Entries returns a snapshot of all live entries keyed by session id.
func (c *RedisCache) Entries(ctx context.Context) (map[string]*Entry, error) {
	out := make(map[string]*Entry)

	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := c.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue // expired between scan and read
		}
		if err != nil {
			return nil, apperrors.CacheUnavailableError(err)
		}

		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		out[key[len(redisKeyPrefix):]] = &entry
	}
	if err := iter.Err(); err != nil {
		return nil, apperrors.CacheUnavailableError(err)
	}
	return out, nil
}

// Values returns a snapshot of all live entries.
func (c *RedisCache) Values(ctx context.Context) ([]*Entry, error) {
	entries, err := c.Entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry)
	}
	return out, nil
}

// Size returns the live entry count.
func (c *RedisCache) Size(ctx context.Context) (int, error) {
	count := 0
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, apperrors.CacheUnavailableError(err)
	}
	return count, nil
}

// CleanupExpiredSessions is a no-op for Redis: expiry is enforced
// natively per key, which already satisfies the remove-all-and-only
// expired-entries contract. Always returns zero.
func (c *RedisCache) CleanupExpiredSessions(context.Context) (int, error) {
	return 0, nil
}

// Close releases the underlying connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
