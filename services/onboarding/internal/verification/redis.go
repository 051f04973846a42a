package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "onb:verify:"

// Returns {result, pttl}. Results: 1 consumed, 0 missing, 2 mismatch,
// 3 attempts exhausted. pttl is set only for a consumed challenge.
var consumeScript = redis.NewScript(`
local hash = redis.call("HGET", KEYS[1], "hash")
if not hash then
  return {0, 0}
end
if hash == ARGV[1] then
  local ttl = redis.call("PTTL", KEYS[1])
  redis.call("DEL", KEYS[1])
  return {1, ttl}
end
local attempts = redis.call("HINCRBY", KEYS[1], "attempts", 1)
if attempts >= tonumber(ARGV[2]) then
  redis.call("DEL", KEYS[1])
  return {3, 0}
end
return {2, 0}
`)

// Saves the challenge only when the key is free. Returns 1 when saved.
var restoreScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "hash", ARGV[1], "attempts", 0)
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

// RedisStore keeps challenges as hashes that expire with the challenge TTL.
type RedisStore struct {
	client      *redis.Client
	prefix      string
	maxAttempts int
}

func NewRedisStore(client *redis.Client, prefix string, maxAttempts int) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &RedisStore{client: client, prefix: prefix, maxAttempts: maxAttempts}
}

func (s *RedisStore) Save(ctx context.Context, ch Challenge, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("invalid challenge ttl %s", ttl)
	}
	k := s.prefix + key(ch.AccountNumber, ch.BankName)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, "hash", ch.CodeHash, "attempts", 0)
		pipe.PExpire(ctx, k, ttl)
		return nil
	})
	return err
}

// Consume ignores now; expiry is enforced by the key TTL.
func (s *RedisStore) Consume(ctx context.Context, accountNumber, bankName, codeHash string, _ time.Time) (time.Duration, error) {
	k := s.prefix + key(accountNumber, bankName)
	res, err := consumeScript.Run(ctx, s.client, []string{k}, codeHash, s.maxAttempts).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("consume challenge: %w", err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("unexpected consume reply %v", res)
	}
	switch res[0] {
	case 1:
		return time.Duration(res[1]) * time.Millisecond, nil
	case 0:
		return 0, ErrNotFound
	case 2:
		return 0, ErrCodeMismatch
	case 3:
		return 0, ErrTooManyAttempts
	default:
		return 0, fmt.Errorf("unexpected consume result %d", res[0])
	}
}

func (s *RedisStore) Restore(ctx context.Context, ch Challenge, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	k := s.prefix + key(ch.AccountNumber, ch.BankName)
	return restoreScript.Run(ctx, s.client, []string{k}, ch.CodeHash, ttl.Milliseconds()).Err()
}
