package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces the keys written to Redis.
const DefaultKeyPrefix = "overlayocr:result:"

// RedisStore shares results between processes through Redis. Values are
// JSON encoded and expire after the configured TTL.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisStore connects to the Redis server at url (redis://...).
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisStoreWithClient(redis.NewClient(opts), ttl, DefaultKeyPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, ttl time.Duration, prefix string) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: prefix}
}

// redisEntry is the stored form of a result.
type redisEntry struct {
	Regions  []ocr.TextRegion `json:"regions"`
	Elapsed  time.Duration    `json:"elapsed"`
	Language string           `json:"language"`
	ROI      *image.Rectangle `json:"roi,omitempty"`
}

func (s *RedisStore) Hash(payload []byte) string { return ContentHash(payload) }

func (s *RedisStore) Get(ctx context.Context, key string) (*ocr.Result, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var e redisEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("decode cached result: %w", err)
	}
	return &ocr.Result{Regions: e.Regions, Elapsed: e.Elapsed, Language: e.Language, ROI: e.ROI}, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, res *ocr.Result) error {
	if res == nil {
		return nil
	}
	data, err := json.Marshal(redisEntry{Regions: res.Regions, Elapsed: res.Elapsed, Language: res.Language, ROI: res.ROI})
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error { return s.client.Close() }
