package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript mirrors the in-memory algorithm (spec §4.5.1),
// executed atomically server-side so the read-modify-write is
// serialized by Redis instead of the client.
const tokenBucketScript = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_per_sec = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = capacity
  ts = now_ms
else
  local elapsed = math.max(0, now_ms - ts)
  tokens = math.min(capacity, tokens + (elapsed / 1000.0) * refill_per_sec)
  ts = now_ms
end

local allowed = 0
local retry_ms = 0

if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  local missing = 1 - tokens
  if refill_per_sec > 0 then
    retry_ms = math.ceil((missing / refill_per_sec) * 1000.0)
  else
    retry_ms = ttl_ms
  end
end

redis.call("HMSET", key, "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", key, ttl_ms)
return {allowed, retry_ms}
`

// slidingWindowScript implements spec §4.5.2 with a sorted set keyed
// by timestamp; ZREMRANGEBYSCORE trims, ZCARD counts, ZADD admits.
// The member includes a client-supplied nonce so the script stays
// deterministic (Redis scripting disallows relying on its own
// nondeterministic randomness for writes).
const slidingWindowScript = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local nonce = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now_ms - window_ms)
local count = redis.call("ZCARD", key)

local allowed = 0
local retry_ms = 0

if count < limit then
  allowed = 1
  redis.call("ZADD", key, now_ms, now_ms .. "-" .. nonce)
else
  local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
  if oldest[2] ~= nil then
    retry_ms = math.ceil(tonumber(oldest[2]) + window_ms - now_ms)
  else
    retry_ms = window_ms
  end
  if retry_ms < 0 then
    retry_ms = 0
  end
end

redis.call("PEXPIRE", key, window_ms)
return {allowed, retry_ms}
`

// RedisBackend implements Backend atomically via a single server-side
// Lua script per call (spec §4.5.3). It supports both algorithms; the
// one wired in is fixed at construction.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string

	algorithm string // "token_bucket" | "sliding_window"

	tbCapacity float64
	tbRefill   float64

	swWindow time.Duration
	swMax    int
}

// RedisTokenBucket builds a Redis-backed token-bucket backend.
func RedisTokenBucket(rdb *redis.Client, prefix string, capacity, refill float64) *RedisBackend {
	return &RedisBackend{
		rdb:        rdb,
		prefix:     prefix,
		algorithm:  "token_bucket",
		tbCapacity: capacity,
		tbRefill:   refill,
	}
}

// RedisSlidingWindow builds a Redis-backed sliding-window backend.
func RedisSlidingWindow(rdb *redis.Client, prefix string, window time.Duration, max int) *RedisBackend {
	return &RedisBackend{
		rdb:       rdb,
		prefix:    prefix,
		algorithm: "sliding_window",
		swWindow:  window,
		swMax:     max,
	}
}

func (r *RedisBackend) namespacedKey(key string) string {
	return r.prefix + ":" + key
}

// Check implements Backend.
func (r *RedisBackend) Check(ctx context.Context, key string, now time.Time) (Decision, error) {
	nowMS := now.UnixMilli()
	nk := r.namespacedKey(key)

	switch r.algorithm {
	case "token_bucket":
		// TTL must be at least C/R seconds so idle keys are reclaimed
		// (spec §4.5.3).
		ttlMS := int64(0)
		if r.tbRefill > 0 {
			ttlMS = int64((r.tbCapacity / r.tbRefill) * 1000)
		}
		if ttlMS < 1000 {
			ttlMS = 1000
		}
		res, err := r.rdb.Eval(ctx, tokenBucketScript, []string{nk}, nowMS, r.tbCapacity, r.tbRefill, ttlMS).Result()
		if err != nil {
			return Decision{}, err
		}
		return decodeDecision(res)

	case "sliding_window":
		nonce := rand.Int63()
		ttlMS := r.swWindow.Milliseconds()
		res, err := r.rdb.Eval(ctx, slidingWindowScript, []string{nk}, nowMS, ttlMS, r.swMax, nonce).Result()
		if err != nil {
			return Decision{}, err
		}
		return decodeDecision(res)

	default:
		return Decision{}, fmt.Errorf("ratelimit: unknown redis algorithm %q", r.algorithm)
	}
}

func decodeDecision(res any) (Decision, error) {
	arr, ok := res.([]any)
	if !ok || len(arr) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected redis script result %#v", res)
	}
	allowed := toInt(arr[0]) == 1
	retryMS := toInt(arr[1])
	dec := Decision{Allowed: allowed}
	if !allowed {
		dec.RetryAfterMS = retryMS
	}
	return dec, nil
}

func toInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

// Close implements Backend.
func (r *RedisBackend) Close() error { return r.rdb.Close() }
