package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Opts holds configuration options for the Redis remote tier.
type Opts struct {
	Addr     string
	Password string
	DB       int
}

// Option defines a configuration option for the Redis remote tier.
type Option func(*Opts)

// WithAddr sets the Redis server address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithPassword sets the Redis password.
func WithPassword(password string) Option {
	return func(o *Opts) {
		o.Password = password
	}
}

// WithDB selects the Redis logical database.
func WithDB(db int) Option {
	return func(o *Opts) {
		o.DB = db
	}
}

// RedisStore is the remote tier, backed by a Redis server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates the remote tier based on provided options. The
// connection is probed with a ping, but a failed ping is only logged: go-redis
// reconnects per operation, so a server that is down at startup is picked up
// again as soon as it answers. Only a missing address is an error.
func NewRedisStore(ctx context.Context, opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("RedisStore.NewRedisStore: creating Redis store", "addr_set", cfg.Addr != "", "db", cfg.DB)

	if cfg.Addr == "" {
		slog.Error("RedisStore address not set")
		return nil, fmt.Errorf("redis address not set")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("RedisStore unreachable at startup, operations retry per call", "error", err, "addr", cfg.Addr)
	} else {
		slog.Debug("RedisStore ping successful", "addr", cfg.Addr)
	}
	return &RedisStore{client: client}, nil
}

// Ping verifies the connection to the Redis server.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get retrieves a value from Redis.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores a value in Redis.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key from Redis.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// AddToSet adds a member to a set-valued key in Redis.
func (s *RedisStore) AddToSet(ctx context.Context, key, member string) error {
	if err := s.client.SAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("redis sadd %s: %w", key, err)
	}
	return nil
}

// IsMember tests set membership in Redis.
func (s *RedisStore) IsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember %s: %w", key, err)
	}
	return ok, nil
}

// SetMembers returns all members of a set-valued key in Redis.
func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", key, err)
	}
	return members, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	slog.Debug("Closing Redis connection")
	return s.client.Close()
}
