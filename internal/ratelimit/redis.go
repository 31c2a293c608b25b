package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// admitScript trims the window, checks the count and records the request in
// one atomic step, so concurrent workers cannot both take the last slot.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= limit then
  return 0
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisLimiter is a sliding-window limiter backed by a Redis sorted set per
// user, shared by all relay workers.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisLimiter creates a shared limiter admitting up to limit requests per
// user within the trailing window.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Admit runs the check-and-record script against the user's window key.
func (l *RedisLimiter) Admit(ctx context.Context, userID uint) (bool, error) {
	key := fmt.Sprintf("hearth:ratelimit:%d", userID)
	now := time.Now().UnixMilli()

	res, err := admitScript.Run(ctx, l.client,
		[]string{key},
		now,
		l.window.Milliseconds(),
		l.limit,
		// Unique member so two requests in the same millisecond both count.
		fmt.Sprintf("%d-%s", now, uuid.NewString()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	return res == 1, nil
}
