package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ExpiringStore is a thin TTL-only key-value layer over Redis. Absence and
// unavailability are different outcomes: Get reports a missing key with
// ok=false and a nil error, while any Redis failure comes back as an error.
// Callers must treat errors as hard failures; there is no durable fallback
// for live data.
type ExpiringStore struct {
	client *redis.Client
}

func NewExpiringStore(client *redis.Client) *ExpiringStore {
	return &ExpiringStore{client: client}
}

func (s *ExpiringStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *ExpiringStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return val, true, nil
}

// GetAll returns every live key under the prefix with its value. Keys that
// expire between the scan and the read are simply omitted.
func (s *ExpiringStore) GetAll(ctx context.Context, prefix string) (map[string][]byte, error) {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s*: %w", prefix, err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		out[keys[i]] = []byte(raw)
	}
	return out, nil
}

func (s *ExpiringStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *ExpiringStore) ExtendTTL(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to extend ttl of %s: %w", key, err)
	}
	return nil
}

// ExtendTTLByPrefix refreshes every key under the prefix to the same TTL.
// All keys of a live session carry one shared TTL, so a plain EXPIRE can
// never shorten a longer remainder.
func (s *ExpiringStore) ExtendTTLByPrefix(ctx context.Context, prefix string, ttl time.Duration) error {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, key := range keys {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to extend ttl of %s*: %w", prefix, err)
	}
	return nil
}

func (s *ExpiringStore) scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s*: %w", prefix, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
