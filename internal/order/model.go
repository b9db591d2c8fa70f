package order

import (
	"context"
	"encoding/json"
	"time"
)

// State is a step of the order lifecycle.
type State string

const (
	StateAddingItems       State = "AddingItems"
	StateArrangingShipping State = "ArrangingShipping"
	StateArrangingPayment  State = "ArrangingPayment"
	StatePaymentSettled    State = "PaymentSettled"
	StateShipped           State = "Shipped"
	StateDelivered         State = "Delivered"
	StateCancelled         State = "Cancelled"
)

// Active reports whether an order in this state is still being checked out.
func (s State) Active() bool {
	switch s {
	case StateAddingItems, StateArrangingShipping, StateArrangingPayment:
		return true
	default:
		return false
	}
}

// SettledEquivalent reports whether payment for the order has already been taken.
func (s State) SettledEquivalent() bool {
	switch s {
	case StatePaymentSettled, StateShipped, StateDelivered:
		return true
	default:
		return false
	}
}

// PaymentState is the state of a single payment attached to an order.
type PaymentState string

const (
	PaymentAuthorized PaymentState = "Authorized"
	PaymentSettled    PaymentState = "Settled"
	PaymentDeclined   PaymentState = "Declined"
)

// Line is a purchased product variant.
type Line struct {
	ID               string `json:"id"`
	SKU              string `json:"sku"`
	Quantity         int    `json:"quantity"`
	UnitPriceWithTax int64  `json:"unitPriceWithTax"`
}

// ShippingLine is the shipping method chosen for the order.
type ShippingLine struct {
	ID           string `json:"id"`
	MethodCode   string `json:"methodCode"`
	PriceWithTax int64  `json:"priceWithTax"`
}

// Payment records money taken against an order.
type Payment struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"orderId"`
	Method        string          `json:"method"`
	Amount        int64           `json:"amount"`
	State         PaymentState    `json:"state"`
	TransactionID string          `json:"transactionId"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Order is a channel-scoped order. Monetary amounts are in minor units.
type Order struct {
	ID            string         `json:"id"`
	Code          string         `json:"code"`
	ChannelID     string         `json:"channelId"`
	State         State          `json:"state"`
	CurrencyCode  string         `json:"currencyCode"`
	TotalWithTax  int64          `json:"totalWithTax"`
	CustomerID    string         `json:"customerId,omitempty"`
	SessionID     string         `json:"-"`
	Lines         []Line         `json:"lines"`
	ShippingLines []ShippingLine `json:"shippingLines"`
	Payments      []Payment      `json:"payments"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// PaymentInput is what a caller supplies when adding a payment.
type PaymentInput struct {
	Method   string
	Metadata map[string]any
}

// PaymentResult is what a PaymentHandler decides for a new payment.
type PaymentResult struct {
	Amount        int64
	State         PaymentState
	TransactionID string
	Metadata      map[string]any
}

// PaymentHandler creates payments for a payment method handler code.
type PaymentHandler interface {
	Code() string
	CreatePayment(ctx context.Context, ord *Order, amount int64, metadata map[string]any) (PaymentResult, error)
}
