package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/toko-btcpay/internal/common"
	"github.com/noah-isme/toko-btcpay/internal/order"
)

// MethodHandler is the order-system payment handler for BTCPay. A payment it
// creates is already settled, so only elevated callers may create one.
type MethodHandler struct{}

// Code implements order.PaymentHandler.
func (MethodHandler) Code() string { return HandlerCode }

// CreatePayment implements order.PaymentHandler. The invoice code becomes the
// transaction id.
func (MethodHandler) CreatePayment(ctx context.Context, _ *order.Order, amount int64, metadata map[string]any) (order.PaymentResult, error) {
	scope, _ := common.ScopeFrom(ctx)
	if !scope.IsAdmin() {
		return order.PaymentResult{}, fmt.Errorf("CreatePayment is not allowed for apiType '%s'", scope.API)
	}
	code, _ := metadata["code"].(string)
	if code == "" {
		return order.PaymentResult{}, errors.New("payment metadata has no invoice code")
	}
	return order.PaymentResult{
		Amount:        amount,
		State:         order.PaymentSettled,
		TransactionID: code,
		Metadata:      metadata,
	}, nil
}
