// Package limiter throttles repeated failed unlock attempts per client.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultMaxFailures = 10
	DefaultCooldown    = 5 * time.Minute
)

var (
	ErrRateLimited = errors.New("unlock rate limited")
	ErrUnavailable = errors.New("unlock limiter unavailable")
)

// UnlockLimiter counts failed redemptions per client key in Redis. After
// MaxFailures within Cooldown the key is refused until the counter
// expires. A nil *UnlockLimiter allows everything.
type UnlockLimiter struct {
	redis       redis.Cmdable
	maxFailures int64
	cooldown    time.Duration
	prefix      string
}

func New(rdb redis.Cmdable, maxFailures int, cooldown time.Duration) *UnlockLimiter {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &UnlockLimiter{
		redis:       rdb,
		maxFailures: int64(maxFailures),
		cooldown:    cooldown,
		prefix:      "keyway:unlock_fail:",
	}
}

func (l *UnlockLimiter) key(client string) string {
	return l.prefix + client
}

// Check returns ErrRateLimited when client has used up its failures.
func (l *UnlockLimiter) Check(ctx context.Context, client string) error {
	if l == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(client)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= l.maxFailures {
		return ErrRateLimited
	}
	return nil
}

// RecordFailure counts one failure. The window starts at the first one.
func (l *UnlockLimiter) RecordFailure(ctx context.Context, client string) error {
	if l == nil {
		return nil
	}
	count, err := l.redis.Incr(ctx, l.key(client)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(client), l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count >= l.maxFailures {
		return ErrRateLimited
	}
	return nil
}

// Reset clears client's failures after a successful unlock.
func (l *UnlockLimiter) Reset(ctx context.Context, client string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(client)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
