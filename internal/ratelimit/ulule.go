package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// FixedWindow is a Limiter backed by ulule/limiter.
type FixedWindow struct {
	L *limiter.Limiter
}

// NewFixedWindow builds a Redis-backed fixed-window limiter from a rate such
// as "30-M".
func NewFixedWindow(client *redis.Client, formatted, prefix string) (FixedWindow, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return FixedWindow{}, fmt.Errorf("ratelimit: parse rate %q: %w", formatted, err)
	}
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return FixedWindow{}, fmt.Errorf("ratelimit: init store: %w", err)
	}
	return FixedWindow{L: limiter.New(store, rate)}, nil
}

// Allow implements Limiter.
func (f FixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	lc, err := f.L.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   !lc.Reached,
		Limit:     lc.Limit,
		Remaining: lc.Remaining,
		Reset:     time.Unix(lc.Reset, 0),
	}, nil
}
