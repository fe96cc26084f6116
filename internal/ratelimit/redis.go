package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const fixedWindowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local data = redis.call("HMGET", KEYS[1], "count", "lastRequest")
local count = tonumber(data[1])
local last = tonumber(data[2])

local allowed = 1
if count == nil or last == nil or now - last > window then
  count = 1
  last = now
elseif count >= max then
  allowed = 0
else
  count = count + 1
  last = now
end

if allowed == 1 then
  redis.call("HSET", KEYS[1], "count", count, "lastRequest", last)
  redis.call("PEXPIRE", KEYS[1], window * 2)
end

-- Return: allowed, count, lastRequest (milliseconds)
return {allowed, count, last}
`

// RedisStorage keeps counters in Redis hashes that expire after two windows.
type RedisStorage struct {
	client redis.UniversalClient
	script *redis.Script
	prefix string
	ttl    time.Duration
}

func NewRedisStorage(client redis.UniversalClient, prefix string, window time.Duration) *RedisStorage {
	if prefix == "" {
		prefix = "chiron"
	}
	return &RedisStorage{
		client: client,
		script: redis.NewScript(fixedWindowScript),
		prefix: prefix,
		ttl:    2 * window,
	}
}

func (s *RedisStorage) key(k string) string {
	return s.prefix + ":ratelimit:" + k
}

func (s *RedisStorage) Get(ctx context.Context, key string) (*Record, error) {
	values, err := s.client.HMGet(ctx, s.key(key), "count", "lastRequest").Result()
	if err != nil {
		return nil, err
	}
	if len(values) < 2 || values[0] == nil || values[1] == nil {
		return nil, nil
	}
	return &Record{Key: key, Count: castToInt(values[0]), LastRequest: castToInt(values[1])}, nil
}

func (s *RedisStorage) Set(ctx context.Context, r Record) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(r.Key), "count", r.Count, "lastRequest", r.LastRequest)
		pipe.PExpire(ctx, s.key(r.Key), s.ttl)
		return nil
	})
	return err
}

// Hit applies one request in a single round trip.
func (s *RedisStorage) Hit(ctx context.Context, key string, nowMillis, windowMillis, max int64) (Record, bool, error) {
	res, err := s.script.Run(ctx, s.client, []string{s.key(key)}, nowMillis, windowMillis, max).Slice()
	if err != nil {
		return Record{}, false, err
	}
	if len(res) < 3 {
		return Record{}, false, errors.New("invalid rate limit script response")
	}
	r := Record{Key: key, Count: castToInt(res[1]), LastRequest: castToInt(res[2])}
	return r, castToInt(res[0]) == 1, nil
}

func castToInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		n, _ := strconv.ParseFloat(val, 64)
		return int64(n)
	default:
		return 0
	}
}
