package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-btcpay/internal/payment"
)

// PaymentMethodStore implements payment.MethodStore and order.MethodLookup.
type PaymentMethodStore struct {
	DB DB
}

const methodColumns = `channel_id, code, handler_code, enabled, handler_args`

func (s PaymentMethodStore) ListForChannel(ctx context.Context, channelID string) ([]payment.StoredMethod, error) {
	return s.list(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE channel_id = $1 ORDER BY code`, channelID)
}

func (s PaymentMethodStore) ListByHandler(ctx context.Context, handlerCode string) ([]payment.StoredMethod, error) {
	return s.list(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE handler_code = $1 AND enabled ORDER BY channel_id, code`, handlerCode)
}

// HandlerCode returns "" for unknown or disabled methods.
func (s PaymentMethodStore) HandlerCode(ctx context.Context, channelID, methodCode string) (string, error) {
	var code string
	err := s.DB.QueryRow(ctx, `SELECT handler_code FROM payment_methods WHERE channel_id = $1 AND code = $2 AND enabled`, channelID, methodCode).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return code, err
}

// Upsert stores a method keyed by (channel, code).
func (s PaymentMethodStore) Upsert(ctx context.Context, m payment.StoredMethod) error {
	args := []byte(m.Args)
	if len(args) == 0 {
		args = []byte(`{}`)
	}
	_, err := s.DB.Exec(ctx, `INSERT INTO payment_methods (channel_id, code, handler_code, enabled, handler_args)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (channel_id, code) DO UPDATE SET handler_code = EXCLUDED.handler_code,
  enabled = EXCLUDED.enabled, handler_args = EXCLUDED.handler_args, updated_at = now()`,
		m.ChannelID, m.Code, m.HandlerCode, m.Enabled, args)
	if err != nil {
		return fmt.Errorf("upsert payment method %s: %w", m.Code, err)
	}
	return nil
}

func (s PaymentMethodStore) list(ctx context.Context, query string, args ...any) ([]payment.StoredMethod, error) {
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[payment.StoredMethod])
}
