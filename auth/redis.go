package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements Limiter on Redis for multi-node deployments where
// a process-local table would let an attacker spread attempts across
// replicas. Single-node installs should prefer MemoryLimiter.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	cfg    LimiterConfig
}

func NewRedisLimiter(client *redis.Client, prefix string, cfg LimiterConfig) *RedisLimiter {
	if prefix == "" {
		prefix = "worklane:attempts:"
	}
	return &RedisLimiter{client: client, prefix: prefix, cfg: cfg}
}

func (l *RedisLimiter) failureKey(key string) string { return l.prefix + "failures:" + key }
func (l *RedisLimiter) lockKey(key string) string    { return l.prefix + "locked:" + key }

func (l *RedisLimiter) Check(ctx context.Context, key string) (bool, time.Duration, error) {
	ttl, err := l.client.PTTL(ctx, l.lockKey(key)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis limiter: lock check failed: %w", err)
	}
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// recordScript atomically increments the failure counter, starting a new
// window on the first failure, and sets the lock key when the threshold is
// reached.
var recordScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	if count >= tonumber(ARGV[2]) then
		redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
		redis.call('DEL', KEYS[1])
	end
	return count
`)

func (l *RedisLimiter) Record(ctx context.Context, key string, success bool) (int, error) {
	if success {
		if err := l.client.Del(ctx, l.failureKey(key), l.lockKey(key)).Err(); err != nil {
			return 0, fmt.Errorf("redis limiter: clear failed: %w", err)
		}
		return l.cfg.MaxAttempts, nil
	}

	result, err := recordScript.Run(ctx, l.client,
		[]string{l.failureKey(key), l.lockKey(key)},
		l.cfg.Window.Milliseconds(),
		l.cfg.MaxAttempts,
		l.cfg.Lockout.Milliseconds(),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("redis limiter: record failed: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("redis limiter: unexpected result type %T", result)
	}

	left := l.cfg.MaxAttempts - int(count)
	if left < 0 {
		left = 0
	}
	return left, nil
}
