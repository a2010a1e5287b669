package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis session defaults.
const (
	// SessionKeyPrefix namespaces session keys.
	SessionKeyPrefix = "alttutor:session:"
	// DefaultSessionTTL expires idle sessions.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultRedisDialTimeout bounds the startup ping.
	DefaultRedisDialTimeout = 5 * time.Second
)

// RedisSessionStore keeps sessions as JSON documents in Redis.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ SessionStore = (*RedisSessionStore)(nil)

// RedisOpts holds configuration for RedisSessionStore.
type RedisOpts struct {
	URL string
	TTL time.Duration
}

// RedisOption configures RedisSessionStore.
type RedisOption func(*RedisOpts)

// WithRedisURL sets the redis:// connection URL.
func WithRedisURL(url string) RedisOption {
	return func(o *RedisOpts) { o.URL = url }
}

// WithSessionTTL overrides DefaultSessionTTL.
func WithSessionTTL(ttl time.Duration) RedisOption {
	return func(o *RedisOpts) { o.TTL = ttl }
}

// NewRedisSessionStore connects to Redis and verifies the connection.
func NewRedisSessionStore(opts ...RedisOption) (*RedisSessionStore, error) {
	cfg := RedisOpts{TTL: DefaultSessionTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.URL == "" {
		return nil, errors.New("redis URL not set")
	}
	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultRedisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		slog.Error("RedisSessionStore ping failed", "error", err, "addr", redisOpts.Addr)
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Debug("RedisSessionStore connected", "addr", redisOpts.Addr, "ttl", cfg.TTL)
	return newRedisSessionStore(client, cfg.TTL), nil
}

func newRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(userID string) string {
	return SessionKeyPrefix + userID
}

func (r *RedisSessionStore) Get(ctx context.Context, userID string) (*Session, error) {
	data, err := r.client.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		slog.Error("RedisSessionStore Get failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get session for %s: %w", userID, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		slog.Error("RedisSessionStore Get decode failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode session for %s: %w", userID, err)
	}
	return &s, nil
}

func (r *RedisSessionStore) Save(ctx context.Context, s *Session) error {
	if s == nil || s.UserID == "" {
		return errors.New("session requires a user id")
	}
	s.UpdatedAt = time.Now()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(s.UserID), data, r.ttl).Err(); err != nil {
		slog.Error("RedisSessionStore Save failed", "error", err, "userID", s.UserID)
		return fmt.Errorf("failed to save session for %s: %w", s.UserID, err)
	}
	return nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		slog.Error("RedisSessionStore Delete failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (r *RedisSessionStore) Close() error {
	return r.client.Close()
}
