package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	activeSessionsKey = "active_sessions"
	registryTimeout   = 5 * time.Second
)

// Registry records sessions somewhere other processes can see them.
// Register is called when a session starts streaming, Finish once it is
// Closed.
type Registry interface {
	Register(ctx context.Context, r Result) error
	Finish(ctx context.Context, r Result) error
}

// RedisRegistry keeps a hash per session and a set of active session ids
type RedisRegistry struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisRegistry connects to Redis. It returns nil (and no error) when
// Redis is unreachable so callers can run without it.
func NewRedisRegistry(addr, password string, ttl time.Duration, logger *slog.Logger) *RedisRegistry {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable, session registry disabled", slog.String("addr", addr), slog.Any("error", err))
		_ = client.Close()
		return nil
	}

	return &RedisRegistry{redis: client, ttl: ttl}
}

func sessionKey(id string) string {
	return "session:" + id
}

// Register stores a live session
func (r *RedisRegistry) Register(ctx context.Context, res Result) error {
	key := sessionKey(res.SessionID)
	pipe := r.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"created_at": res.StartedAt.Format(time.RFC3339),
		"status":     string(StatusConnected),
		"server":     res.Server,
		"voice":      res.Voice,
	})
	pipe.SAdd(ctx, activeSessionsKey, res.SessionID)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register session %s: %w", res.SessionID, err)
	}
	return nil
}

// Finish writes the final status and removes the session from the active set.
// The hash is kept until its TTL runs out.
func (r *RedisRegistry) Finish(ctx context.Context, res Result) error {
	key := sessionKey(res.SessionID)
	pipe := r.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"status":           string(res.Status),
		"error":            res.Error,
		"closed_at":        time.Now().Format(time.RFC3339),
		"duration_seconds": res.DurationSeconds,
		"chunks_sent":      res.ChunksSent,
		"chunks_dropped":   res.ChunksDropped,
		"frames_received":  res.FramesReceived,
	})
	pipe.SRem(ctx, activeSessionsKey, res.SessionID)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("finish session %s: %w", res.SessionID, err)
	}
	return nil
}

// ActiveSessions returns the ids of sessions currently streaming
func (r *RedisRegistry) ActiveSessions(ctx context.Context) ([]string, error) {
	return r.redis.SMembers(ctx, activeSessionsKey).Result()
}

// Close releases the Redis connection
func (r *RedisRegistry) Close() error {
	return r.redis.Close()
}
