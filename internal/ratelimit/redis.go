package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// INCR and the first PEXPIRE run atomically; returns {count, ttl_ms}.
var fixedWindowLua = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisFixedWindow allows Limit requests per Window per key across replicas.
type RedisFixedWindow struct {
	rdb    redis.Scripter
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewRedisFixedWindow(rdb redis.Scripter, prefix string, limit int64, window time.Duration) (*RedisFixedWindow, error) {
	if rdb == nil {
		return nil, fmt.Errorf("ratelimit: redis client is nil")
	}
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("ratelimit: limit and window must be > 0 (got %d, %s)", limit, window)
	}
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisFixedWindow{rdb: rdb, prefix: prefix, limit: limit, window: window, now: time.Now}, nil
}

func (l *RedisFixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindowLua.Run(ctx, l.rdb, []string{l.redisKey(key)}, l.window.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	arr, _ := res.([]any)
	if len(arr) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrUnavailable, res)
	}
	count, ttlMs := toInt64(arr[0]), toInt64(arr[1])

	return Decision{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: l.limit - count,
		Reset:     time.Duration(ttlMs) * time.Millisecond,
	}, nil
}

// redisKey buckets by unix_time/window and hashes the client key.
func (l *RedisFixedWindow) redisKey(key string) string {
	winSec := max(int64(l.window.Seconds()), 1)
	bucket := l.now().Unix() / winSec

	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s:%d:%s", l.prefix, bucket, hex.EncodeToString(sum[:]))
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
