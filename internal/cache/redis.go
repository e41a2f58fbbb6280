package cache

import (
	"context"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
	"time"
)

// PendingValue marks a key whose request is still being processed.
const PendingValue = "pending"

// IdempotencyStore keeps Idempotency-Key reservations in Redis. A key holds
// PendingValue while its create is running and the order id afterwards.
type IdempotencyStore struct {
	client      *redis.Client
	serviceName string
}

func NewIdempotencyStore(client *redis.Client, serviceName string) *IdempotencyStore {
	return &IdempotencyStore{client: client, serviceName: serviceName}
}

// NewClient dials addr and checks it answers.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return c, nil
}

func (s *IdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, string, error) {
	k := s.GenerateKey("idempotency", key)
	ok, err := s.client.SetNX(ctx, k, PendingValue, ttl).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, "", nil
	}

	v, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		ok, err = s.client.SetNX(ctx, k, PendingValue, ttl).Result()
		if err != nil {
			return false, "", err
		}
		if ok {
			return true, "", nil
		}
		return false, PendingValue, nil
	}
	if err != nil {
		return false, "", err
	}
	return false, v, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key, orderID string, ttl time.Duration) error {
	return s.client.Set(ctx, s.GenerateKey("idempotency", key), orderID, ttl).Err()
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.GenerateKey("idempotency", key)).Err()
}

func (s *IdempotencyStore) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.serviceName, operation, key)
}
