package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a redis-backed token bucket shared by every API instance.
// Capacity is the burst size; the bucket refills at capacity/window.
type Limiter struct {
	client   *redis.Client
	capacity int
	refill   float64
	ttl      time.Duration
}

func New(client *redis.Client, threshold int, window time.Duration) *Limiter {
	refill := float64(threshold) / window.Seconds()
	return &Limiter{
		client:   client,
		capacity: threshold,
		refill:   refill,
		ttl:      2 * window,
	}
}

// Allow consumes one token for key if any remain. It fails open: a redis
// error reports allowed so a cache outage never blocks imports.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := refillScript.Run(ctx, l.client, []string{"ratelimit:" + key},
		l.capacity, l.refill, now, l.ttl.Milliseconds()).Result()
	if err != nil {
		return true, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 1 {
		return true, nil
	}
	allowed, _ := arr[0].(int64)
	return allowed == 1, nil
}

var refillScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local elapsed = math.max(0, now - last)
tokens = math.min(capacity, tokens + elapsed / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
