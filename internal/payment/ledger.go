package payment

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// EventLedger remembers processor event ids that were fully handled.
type EventLedger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// RedisLedger is an EventLedger backed by Redis keys with a TTL.
type RedisLedger struct {
	Client redis.Cmdable
	TTL    time.Duration
	Prefix string
}

// NewRedisLedger returns a ledger keeping event ids for ttl.
func NewRedisLedger(client redis.Cmdable, ttl time.Duration) *RedisLedger {
	return &RedisLedger{Client: client, TTL: ttl, Prefix: "btcpay:evt:"}
}

// Seen reports whether eventID was marked.
func (l *RedisLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := l.Client.Exists(ctx, l.Prefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records eventID. Marking twice keeps the first timestamp.
func (l *RedisLedger) Mark(ctx context.Context, eventID string) error {
	return l.Client.SetNX(ctx, l.Prefix+eventID, time.Now().UTC().Format(time.RFC3339), l.TTL).Err()
}
