package integration

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
)

// ErrLeaseHeld is returned when another worker holds the lease.
var ErrLeaseHeld = errors.New("integration: lease held elsewhere")

// Leaser grants short exclusive leases keyed by name.
type Leaser interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// RedisLeaser implements Leaser with redislock.
type RedisLeaser struct {
	locker *redislock.Client
}

// NewRedisLeaser wraps a redis client.
func NewRedisLeaser(client redislock.RedisClient) *RedisLeaser {
	return &RedisLeaser{locker: redislock.New(client)}
}

// Acquire obtains key for ttl without waiting.
func (l *RedisLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.locker.Obtain(ctx, key, ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrLeaseHeld
		}
		return nil, err
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}
