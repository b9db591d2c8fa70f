package order

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no order matches in the caller's channel.
	ErrNotFound = errors.New("order: not found")
	// ErrStateConflict is returned by a Store when the order left the expected
	// state before the write was applied.
	ErrStateConflict = errors.New("order: state changed concurrently")
	// ErrDuplicatePayment is returned by a Store when a payment with the same
	// transaction id is already recorded for the order.
	ErrDuplicatePayment = errors.New("order: duplicate payment transaction")
	// ErrNoChannel is returned when the context carries no channel scope.
	ErrNoChannel = errors.New("order: no channel in context")
)

// Payment error codes reported by AddPayment.
const (
	CodePaymentStateError       = "ORDER_PAYMENT_STATE_ERROR"
	CodeIneligiblePaymentMethod = "INELIGIBLE_PAYMENT_METHOD"
	CodeDuplicatePayment        = "DUPLICATE_PAYMENT"
	CodePaymentFailed           = "PAYMENT_FAILED"
)

// TransitionError reports a refused state transition.
type TransitionError struct {
	From    State
	To      State
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s: %s", e.From, e.To, e.Message)
}

// PaymentError reports why a payment could not be added.
type PaymentError struct {
	Code    string
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	return e.Code + ": " + e.Message
}

func (e *PaymentError) Unwrap() error { return e.Err }
