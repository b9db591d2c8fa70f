package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-btcpay/internal/channel"
)

// ChannelStore implements channel.Store.
type ChannelStore struct {
	DB DB
}

// FindByToken returns channel.ErrNotFound for unknown tokens.
func (s ChannelStore) FindByToken(ctx context.Context, token string) (channel.Channel, error) {
	var ch channel.Channel
	err := s.DB.QueryRow(ctx, `SELECT id, code, token, default_currency FROM channels WHERE token = $1`, token).
		Scan(&ch.ID, &ch.Code, &ch.Token, &ch.DefaultCurrency)
	if errors.Is(err, pgx.ErrNoRows) {
		return channel.Channel{}, channel.ErrNotFound
	}
	return ch, err
}

// Upsert creates the channel or updates it by code, returning the stored row.
func (s ChannelStore) Upsert(ctx context.Context, ch channel.Channel) (channel.Channel, error) {
	var out channel.Channel
	err := s.DB.QueryRow(ctx, `INSERT INTO channels (code, token, default_currency) VALUES ($1, $2, $3)
ON CONFLICT (code) DO UPDATE SET token = EXCLUDED.token, default_currency = EXCLUDED.default_currency
RETURNING id, code, token, default_currency`, ch.Code, ch.Token, ch.DefaultCurrency).
		Scan(&out.ID, &out.Code, &out.Token, &out.DefaultCurrency)
	return out, err
}
