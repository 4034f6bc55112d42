package payments

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupTTL is how long a processed delivery short-circuits repeats.
const DedupTTL = 24 * time.Hour

// Dedup is a best-effort cache of processed deliveries in front of the
// payment_events unique index.
type Dedup interface {
	Seen(ctx context.Context, provider, externalID string) (bool, error)
	Mark(ctx context.Context, provider, externalID string) error
}

// NoDedup never reports a delivery as seen.
type NoDedup struct{}

func (NoDedup) Seen(context.Context, string, string) (bool, error) { return false, nil }
func (NoDedup) Mark(context.Context, string, string) error         { return nil }

// KV is the Redis surface RedisDedup needs. *redis.Client satisfies it.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type RedisDedup struct {
	client KV
	ttl    time.Duration
}

func NewRedisDedup(client KV) *RedisDedup {
	return &RedisDedup{client: client, ttl: DedupTTL}
}

func dedupKey(provider, externalID string) string {
	return "payments:seen:" + provider + ":" + externalID
}

func (d *RedisDedup) Seen(ctx context.Context, provider, externalID string) (bool, error) {
	err := d.client.Get(ctx, dedupKey(provider, externalID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *RedisDedup) Mark(ctx context.Context, provider, externalID string) error {
	return d.client.Set(ctx, dedupKey(provider, externalID), 1, d.ttl).Err()
}
