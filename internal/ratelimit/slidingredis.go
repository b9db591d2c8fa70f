package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
)

// SlidingWindow is a Limiter backed by Redis sorted sets. It smooths bursts
// that a fixed window lets through at window boundaries.
type SlidingWindow struct {
	Client redis.Cmdable
	Prefix string
	Window time.Duration
	Max    int64
}

// NewSlidingWindow parses a rate such as "600-M".
func NewSlidingWindow(client redis.Cmdable, formatted, prefix string) (SlidingWindow, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return SlidingWindow{}, fmt.Errorf("ratelimit: parse rate %q: %w", formatted, err)
	}
	return SlidingWindow{Client: client, Prefix: prefix, Window: rate.Period, Max: rate.Limit}, nil
}

// Allow registers an event for key and reports whether it is within the limit.
func (l SlidingWindow) Allow(ctx context.Context, key string) (Decision, error) {
	now := time.Now()
	until := now.Add(l.Window)
	if l.Client == nil || l.Max <= 0 || l.Window <= 0 {
		return Decision{Allowed: true, Limit: l.Max, Remaining: l.Max, Reset: until}, nil
	}

	redisKey := l.Prefix + key
	cutoff := float64(now.Add(-l.Window).UnixNano())
	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("%f", cutoff))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: key + ":" + uuid.NewString()})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Reset: until}, err
	}

	current := countCmd.Val()
	remaining := l.Max - current
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: current <= l.Max, Limit: l.Max, Remaining: remaining, Reset: until}, nil
}
