package redis

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"keygate/internal/ratelimit/models"
)

// allowScript trims the window, then admits the hit if the set is below the
// limit. Returns {allowed, count, oldest_ms}.
var allowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < limit then
  redis.call('ZADD', KEYS[1], now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', KEYS[1], window)
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local oldestMs = now
if #oldest == 2 then
  oldestMs = tonumber(oldest[2])
end
return {allowed, count, oldestMs}
`)

// Store keeps one sorted set per bucket, scored by hit time in milliseconds,
// so every replica sees the same window.
type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Allow(ctx context.Context, key string, limit models.Limit, now time.Time) (*models.Result, error) {
	nowMs := now.UnixMilli()
	res, err := allowScript.Run(ctx, s.client, []string{key},
		nowMs, limit.Window.Milliseconds(), limit.Requests,
		strconv.FormatInt(nowMs, 10)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("rate limit check: unexpected script reply of %d elements", len(res))
	}

	resetAt := time.UnixMilli(res[2]).Add(limit.Window)
	result := &models.Result{
		Allowed:   res[0] == 1,
		Limit:     limit.Requests,
		Remaining: max(0, limit.Requests-int(res[1])),
		ResetAt:   resetAt,
	}
	if !result.Allowed {
		result.RetryAfter = max(1, int(math.Ceil(resetAt.Sub(now).Seconds())))
	}
	return result, nil
}
