package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	throttleFailPrefix = "okrclub:login:fail:"
	throttleLockPrefix = "okrclub:login:lock:"
)

// RedisThrottle は複数プロセスでログイン失敗回数を共有する Throttle です。
// 失敗回数は Window の TTL 付きカウンタ、ロックは Lock の TTL 付きキーで表します。
type RedisThrottle struct {
	rdb    *redis.Client
	limits ThrottleLimits
}

var _ Throttle = (*RedisThrottle)(nil)

// NewRedisThrottle は RedisThrottle を作成します。
func NewRedisThrottle(rdb *redis.Client, limits ThrottleLimits) *RedisThrottle {
	return &RedisThrottle{
		rdb:    rdb,
		limits: limits.withDefaults(),
	}
}

func (t *RedisThrottle) Check(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := t.rdb.PTTL(ctx, throttleLockPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("throttle: check lock: %w", err)
	}
	// キーが無い場合 (-2) や TTL 無し (-1) は負の値になる
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

func (t *RedisThrottle) Fail(ctx context.Context, key string) (int, error) {
	failKey := throttleFailPrefix + key

	count, err := t.rdb.Incr(ctx, failKey).Result()
	if err != nil {
		return 0, fmt.Errorf("throttle: record failure: %w", err)
	}
	if count == 1 {
		if err := t.rdb.Expire(ctx, failKey, t.limits.Window).Err(); err != nil {
			return 0, fmt.Errorf("throttle: set window: %w", err)
		}
	}

	if count < int64(t.limits.MaxAttempts) {
		return t.limits.MaxAttempts - int(count), nil
	}

	_, err = t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, throttleLockPrefix+key, count, t.limits.Lock)
		pipe.Del(ctx, failKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("throttle: lock: %w", err)
	}
	return 0, nil
}

func (t *RedisThrottle) Reset(ctx context.Context, key string) error {
	if err := t.rdb.Del(ctx, throttleFailPrefix+key, throttleLockPrefix+key).Err(); err != nil {
		return fmt.Errorf("throttle: reset: %w", err)
	}
	return nil
}
