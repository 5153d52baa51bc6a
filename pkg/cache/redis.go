package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	// redisStoreKey holds the whole cache document under one key.
	redisStoreKey = "sherpa:activity_cache"
	// redisStoreDefaultTTL expires abandoned caches (30 days).
	redisStoreDefaultTTL = 30 * 24 * time.Hour
)

// RedisStore persists the cache document in Redis. Useful when the daemon
// runs where no durable config directory exists (containers, shared hosts).
type RedisStore struct {
	client *redis.Client
	cfg    RedisStoreConfig
	log    *logrus.Entry
}

type RedisStoreConfig struct {
	// Key overrides redisStoreKey, mainly for tests.
	Key string
	// TTL overrides redisStoreDefaultTTL. Zero means the default.
	TTL time.Duration
}

// NewRedisStore creates a Redis-backed cache store.
func NewRedisStore(client *redis.Client, cfg RedisStoreConfig) *RedisStore {
	if cfg.Key == "" {
		cfg.Key = redisStoreKey
	}
	if cfg.TTL == 0 {
		cfg.TTL = redisStoreDefaultTTL
	}
	return &RedisStore{
		client: client,
		cfg:    cfg,
		log:    logrus.WithField("component", "cache_redis"),
	}
}

// Load reads the persisted document. A missing key, unreadable value, or
// version mismatch degrades to a fresh empty manager; the stale value is
// deleted.
func (s *RedisStore) Load(ctx context.Context) (*Manager, error) {
	data, err := s.client.Get(ctx, s.cfg.Key).Result()
	if err == redis.Nil {
		return NewManager(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache from redis: %w", err)
	}

	var doc document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		s.log.Infof("removing incompatible cache value: %v", err)
		if err := s.client.Del(ctx, s.cfg.Key).Err(); err != nil {
			s.log.Warnf("failed to delete stale cache value: %v", err)
		}
		return NewManager(), nil
	}

	m := newManagerFromDocument(doc)
	if doc.Version != SchemaVersion {
		if err := s.client.Del(ctx, s.cfg.Key).Err(); err != nil {
			s.log.Warnf("failed to delete stale cache value: %v", err)
		}
	}
	return m, nil
}

// Save serializes the full store under the configured key with a TTL.
func (s *RedisStore) Save(ctx context.Context, m *Manager) error {
	doc := m.snapshot()
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	if err := s.client.Set(ctx, s.cfg.Key, data, s.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("failed to write cache to redis: %w", err)
	}

	s.log.Debugf("saved cache to redis (%d profiles)", len(doc.Profiles))
	return nil
}
