package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease elects one sweeper per interval across replicas.
type Lease interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
}

// NoLease always grants the sweep.
type NoLease struct{}

func (NoLease) Acquire(context.Context, time.Duration) (bool, error) { return true, nil }

// LeaseKey is the Redis key holding the current sweep owner.
const LeaseKey = "sweeper:lease"

// RedisLease grants the sweep to whichever replica sets the key first. The
// key expires on its own, so a crashed owner blocks at most one interval.
type RedisLease struct {
	client SetNXer
	owner  string
}

// SetNXer is the Redis surface RedisLease needs. *redis.Client satisfies it.
type SetNXer interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

func NewRedisLease(client SetNXer, owner string) *RedisLease {
	return &RedisLease{client: client, owner: owner}
}

func (l *RedisLease) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, LeaseKey, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire sweeper lease: %w", err)
	}
	return ok, nil
}
