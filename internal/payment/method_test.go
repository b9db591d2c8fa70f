package payment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-btcpay/internal/common"
	"github.com/noah-isme/toko-btcpay/internal/order"
	"github.com/noah-isme/toko-btcpay/internal/payment"
)

func TestMethodHandlerRefusesShopScope(t *testing.T) {
	_, err := payment.MethodHandler{}.CreatePayment(shopCtx("sess-1"), &order.Order{}, 1050, map[string]any{"code": "inv-1"})
	require.EqualError(t, err, "CreatePayment is not allowed for apiType 'shop'")
}

func TestMethodHandlerRefusesUnauthorizedAdmin(t *testing.T) {
	ctx := common.WithScope(context.Background(), common.Scope{API: common.APIAdmin, ChannelID: "ch-1"})
	_, err := payment.MethodHandler{}.CreatePayment(ctx, &order.Order{}, 1050, map[string]any{"code": "inv-1"})
	require.Error(t, err)
}

func TestMethodHandlerCreatesSettledPayment(t *testing.T) {
	ctx := common.WithScope(context.Background(), common.SystemScope("ch-1", "token-1"))
	metadata := map[string]any{"id": "evt-1", "code": "inv-1"}

	res, err := payment.MethodHandler{}.CreatePayment(ctx, &order.Order{}, 1050, metadata)
	require.NoError(t, err)
	require.Equal(t, int64(1050), res.Amount)
	require.Equal(t, order.PaymentSettled, res.State)
	require.Equal(t, "inv-1", res.TransactionID)
	require.Equal(t, metadata, res.Metadata)
	require.Equal(t, payment.HandlerCode, payment.MethodHandler{}.Code())
}

func TestMethodHandlerRequiresInvoiceCode(t *testing.T) {
	ctx := common.WithScope(context.Background(), common.SystemScope("ch-1", "token-1"))
	_, err := payment.MethodHandler{}.CreatePayment(ctx, &order.Order{}, 1050, map[string]any{})
	require.Error(t, err)
}

func TestShopCannotAddBTCPayPaymentThroughOrders(t *testing.T) {
	h := newHarness(t, order.StateArrangingPayment)

	_, err := h.orders.AddPayment(shopCtx("sess-1"), "order-1", order.PaymentInput{Method: "btcpay", Metadata: map[string]any{"code": "inv-1"}})
	var perr *order.PaymentError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, order.CodePaymentFailed, perr.Code)
	require.Zero(t, h.store.RecordCalls)
}
