package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	serverStateKeyPrefix = "server_state_" // hash per server id
	serverStateFieldUpdate = "update"
	serverStateTTL       = 24 * time.Hour
)

// ServerStateRepository keeps transient per-server state in a Redis hash.
// It is a side channel, never the system of record: a missing or expired
// entry means "no pending update", and authoritative status always comes
// from a live provider query.
type ServerStateRepository struct {
	redis *redis.Client
}

// NewServerStateRepository creates a server state repository
func NewServerStateRepository(redisClient *RedisClient) *ServerStateRepository {
	return &ServerStateRepository{
		redis: redisClient.GetClient(),
	}
}

// StateKey returns the cache key for a server id
func StateKey(serverID string) string {
	return serverStateKeyPrefix + serverID
}

// NeedsUpdate reports whether an update message is pending for the server.
// A cold cache is "no update", not an error.
func (r *ServerStateRepository) NeedsUpdate(ctx context.Context, serverID string) (bool, error) {
	exists, err := r.redis.HExists(ctx, StateKey(serverID), serverStateFieldUpdate).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("failed to check server state: %w", err)
	}
	return exists, nil
}

// UpdateMessage returns the pending update message, "" if none
func (r *ServerStateRepository) UpdateMessage(ctx context.Context, serverID string) (string, error) {
	msg, err := r.redis.HGet(ctx, StateKey(serverID), serverStateFieldUpdate).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get update message: %w", err)
	}
	return msg, nil
}

// SetUpdateMessage stores an update message for the server
func (r *ServerStateRepository) SetUpdateMessage(ctx context.Context, serverID, msg string) error {
	key := StateKey(serverID)
	pipe := r.redis.Pipeline()
	pipe.HSet(ctx, key, serverStateFieldUpdate, msg)
	pipe.Expire(ctx, key, serverStateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set update message: %w", err)
	}
	return nil
}

// ClearUpdateMessage removes the pending update message. Deleting a missing
// field is not an error.
func (r *ServerStateRepository) ClearUpdateMessage(ctx context.Context, serverID string) error {
	err := r.redis.HDel(ctx, StateKey(serverID), serverStateFieldUpdate).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to clear update message: %w", err)
	}
	return nil
}

// Purge drops the whole state hash for a server (used on terminate)
func (r *ServerStateRepository) Purge(ctx context.Context, serverID string) error {
	err := r.redis.Del(ctx, StateKey(serverID)).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to purge server state: %w", err)
	}
	return nil
}
