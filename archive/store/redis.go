package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acauret/infrastructure-agent/archive"
	agenterrors "github.com/acauret/infrastructure-agent/errors"
)

// RedisStore implements archive.Store using Redis. Each run is one JSON
// value; run IDs live in a sorted set scored by completion time so listing
// stays newest-first without scanning.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedisStore creates a Redis-backed run store.
func NewRedisStore(config *RedisConfig) *RedisStore {
	if config == nil {
		config = &RedisConfig{}
	}
	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}
	if config.Prefix == "" {
		config.Prefix = "infra-agent:runs:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &RedisStore{
		client: client,
		prefix: config.Prefix,
		ttl:    config.TTL,
	}
}

func (s *RedisStore) runKey(id string) string {
	return s.prefix + "run:" + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// SaveRun writes the run and records its ID in the completion-time index.
func (s *RedisStore) SaveRun(ctx context.Context, run *archive.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("store: run and run ID are required")
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("store: marshal run: %w", err)
	}

	if err := s.client.Set(ctx, s.runKey(run.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store: save run: %w", err)
	}
	member := redis.Z{Score: float64(run.CompletedAt.UnixNano()), Member: run.ID}
	if err := s.client.ZAdd(ctx, s.indexKey(), member).Err(); err != nil {
		return fmt.Errorf("store: index run: %w", err)
	}
	return nil
}

// LoadRun returns a run by ID.
func (s *RedisStore) LoadRun(ctx context.Context, id string) (*archive.Run, error) {
	data, err := s.client.Get(ctx, s.runKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("store: run %s: %w", id, agenterrors.ErrRunNotFound)
		}
		return nil, fmt.Errorf("store: load run: %w", err)
	}

	var run archive.Run
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, fmt.Errorf("store: unmarshal run: %w", err)
	}
	return &run, nil
}

// ListRuns returns all run IDs, newest first.
func (s *RedisStore) ListRuns(ctx context.Context) ([]string, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return ids, nil
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
