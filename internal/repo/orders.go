package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-btcpay/internal/order"
)

// OrderStore implements order.Store. Every query filters on channel_id.
type OrderStore struct {
	DB DB
}

const orderColumns = `id, code, channel_id, state, currency_code, total_with_tax,
COALESCE(customer_id, ''), COALESCE(session_id, ''), created_at, updated_at`

func (s OrderStore) FindByID(ctx context.Context, channelID, id string) (*order.Order, error) {
	return s.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE channel_id = $1 AND id = $2`, channelID, id)
}

func (s OrderStore) FindByCode(ctx context.Context, channelID, code string) (*order.Order, error) {
	return s.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE channel_id = $1 AND code = $2`, channelID, code)
}

// FindActiveBySession returns the most recent order of the session that is
// still being checked out.
func (s OrderStore) FindActiveBySession(ctx context.Context, channelID, sessionID string) (*order.Order, error) {
	return s.findOne(ctx, `SELECT `+orderColumns+` FROM orders
WHERE channel_id = $1 AND session_id = $2
  AND state IN ('AddingItems', 'ArrangingShipping', 'ArrangingPayment')
ORDER BY updated_at DESC LIMIT 1`, channelID, sessionID)
}

// UpdateState is a compare-and-set on the order state.
func (s OrderStore) UpdateState(ctx context.Context, channelID, id string, from, to order.State) error {
	tag, err := s.DB.Exec(ctx, `UPDATE orders SET state = $4, updated_at = now()
WHERE channel_id = $1 AND id = $2 AND state = $3`, channelID, id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE channel_id = $1 AND id = $2)`, channelID, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrStateConflict
}

// RecordPayment locks the order row so concurrent deliveries for the same
// order serialise here. The unique (order_id, transaction_id) key rejects a
// second payment for the same invoice.
func (s OrderStore) RecordPayment(ctx context.Context, channelID string, p order.Payment, from, to order.State) error {
	return pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		var state string
		err := tx.QueryRow(ctx, `SELECT state FROM orders WHERE channel_id = $1 AND id = $2 FOR UPDATE`, channelID, p.OrderID).Scan(&state)
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNotFound
		}
		if err != nil {
			return err
		}
		if order.State(state) != from {
			return order.ErrStateConflict
		}
		metadata := []byte(p.Metadata)
		if len(metadata) == 0 {
			metadata = []byte(`{}`)
		}
		_, err = tx.Exec(ctx, `INSERT INTO payments (id, order_id, method, amount, state, transaction_id, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.ID, p.OrderID, p.Method, p.Amount, string(p.State), p.TransactionID, metadata, p.CreatedAt)
		if isUniqueViolation(err) {
			return order.ErrDuplicatePayment
		}
		if err != nil {
			return err
		}
		if to == from {
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE orders SET state = $3, updated_at = now() WHERE channel_id = $1 AND id = $2`, channelID, p.OrderID, string(to))
		return err
	})
}

// Insert stores a new order with its lines. Missing ids are generated.
func (s OrderStore) Insert(ctx context.Context, ord *order.Order) error {
	if ord.ID == "" {
		ord.ID = uuid.NewString()
	}
	if ord.State == "" {
		ord.State = order.StateAddingItems
	}
	return pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO orders (id, channel_id, code, state, currency_code, total_with_tax, customer_id, session_id)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))`,
			ord.ID, ord.ChannelID, ord.Code, string(ord.State), ord.CurrencyCode, ord.TotalWithTax, ord.CustomerID, ord.SessionID)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		batch := &pgx.Batch{}
		for i := range ord.Lines {
			if ord.Lines[i].ID == "" {
				ord.Lines[i].ID = uuid.NewString()
			}
			l := ord.Lines[i]
			batch.Queue(`INSERT INTO order_lines (id, order_id, sku, quantity, unit_price_with_tax) VALUES ($1, $2, $3, $4, $5)`,
				l.ID, ord.ID, l.SKU, l.Quantity, l.UnitPriceWithTax)
		}
		for i := range ord.ShippingLines {
			if ord.ShippingLines[i].ID == "" {
				ord.ShippingLines[i].ID = uuid.NewString()
			}
			sl := ord.ShippingLines[i]
			batch.Queue(`INSERT INTO shipping_lines (id, order_id, method_code, price_with_tax) VALUES ($1, $2, $3, $4)`,
				sl.ID, ord.ID, sl.MethodCode, sl.PriceWithTax)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert order lines: %w", err)
		}
		return nil
	})
}

func (s OrderStore) findOne(ctx context.Context, query string, args ...any) (*order.Order, error) {
	var (
		ord   order.Order
		state string
	)
	err := s.DB.QueryRow(ctx, query, args...).Scan(
		&ord.ID, &ord.Code, &ord.ChannelID, &state, &ord.CurrencyCode, &ord.TotalWithTax,
		&ord.CustomerID, &ord.SessionID, &ord.CreatedAt, &ord.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ord.State = order.State(state)
	if err := s.loadChildren(ctx, &ord); err != nil {
		return nil, err
	}
	return &ord, nil
}

func (s OrderStore) loadChildren(ctx context.Context, ord *order.Order) error {
	rows, err := s.DB.Query(ctx, `SELECT id, sku, quantity, unit_price_with_tax FROM order_lines WHERE order_id = $1 ORDER BY id`, ord.ID)
	if err != nil {
		return fmt.Errorf("load order lines: %w", err)
	}
	ord.Lines, err = pgx.CollectRows(rows, pgx.RowToStructByPos[order.Line])
	if err != nil {
		return fmt.Errorf("load order lines: %w", err)
	}

	rows, err = s.DB.Query(ctx, `SELECT id, method_code, price_with_tax FROM shipping_lines WHERE order_id = $1 ORDER BY id`, ord.ID)
	if err != nil {
		return fmt.Errorf("load shipping lines: %w", err)
	}
	ord.ShippingLines, err = pgx.CollectRows(rows, pgx.RowToStructByPos[order.ShippingLine])
	if err != nil {
		return fmt.Errorf("load shipping lines: %w", err)
	}

	rows, err = s.DB.Query(ctx, `SELECT id, order_id, method, amount, state, transaction_id, metadata, created_at
FROM payments WHERE order_id = $1 ORDER BY created_at`, ord.ID)
	if err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	ord.Payments, err = pgx.CollectRows(rows, pgx.RowToStructByPos[order.Payment])
	if err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	return nil
}
