package repo

import (
	"context"

	"github.com/noah-isme/toko-btcpay/internal/events"
)

// EventStore implements events.EventStore on the domain_events table.
type EventStore struct {
	DB DB
}

func (s EventStore) InsertDomainEvent(ctx context.Context, ev events.Event) (events.Event, error) {
	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	err := s.DB.QueryRow(ctx, `INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5) RETURNING occurred_at`, ev.ID, ev.Topic, ev.AggregateID, payload, ev.OccurredAt).
		Scan(&ev.OccurredAt)
	return ev, err
}
