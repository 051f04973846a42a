package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "onb:verify:sent:"

// One sorted set per account, scored by send time in milliseconds.
// Returns {allowed, remaining, retry_after_ms}.
var slidingLogScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count >= limit then
  local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
  local retry = window
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  return {0, 0, retry}
end

redis.call("ZADD", key, now, ARGV[4])
redis.call("PEXPIRE", key, window)
return {1, limit - count - 1, 0}
`)

// RedisLimiter shares the send log between service instances. Keys hold
// the account digest, never the account number.
type RedisLimiter struct {
	client *redis.Client
	policy Policy
	prefix string
}

func NewRedisLimiter(client *redis.Client, policy Policy, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisLimiter{client: client, policy: policy, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key Key, now time.Time) (Decision, error) {
	if !l.policy.valid() {
		return Decision{}, fmt.Errorf("invalid rate policy %d per %s", l.policy.Limit, l.policy.Window)
	}

	nowMS := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMS, uuid.NewString())
	vals, err := slidingLogScript.Run(ctx, l.client, []string{l.prefix + key.Digest()},
		nowMS, l.policy.Window.Milliseconds(), l.policy.Limit, member).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, vals)
	}

	d := Decision{Allowed: vals[0] == 1, Remaining: int(vals[1])}
	if !d.Allowed {
		d.RetryAfter = time.Duration(vals[2]) * time.Millisecond
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}
	return d, nil
}
