package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
)

const keyPrefix = "consent:idem:"

// Redis provides a Redis-backed idempotency store shared across instances.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed idempotency store with the given TTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (s *Redis) Get(ctx context.Context, key string) (id.ConsentID, bool, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return id.ConsentID{}, false, nil
		}
		return id.ConsentID{}, false, fmt.Errorf("idempotency get: %w", err)
	}
	consentID, err := id.ParseConsentID(val)
	if err != nil {
		// Corrupt entry; treat as a miss so creation can proceed.
		return id.ConsentID{}, false, nil
	}
	return consentID, true, nil
}

func (s *Redis) Set(ctx context.Context, key string, consentID id.ConsentID) error {
	if err := s.client.Set(ctx, keyPrefix+key, consentID.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency set: %w", err)
	}
	return nil
}
