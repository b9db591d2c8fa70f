package payment

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/noah-isme/toko-btcpay/internal/common"
)

var (
	// ErrAuthentication is returned when a webhook signature does not verify.
	ErrAuthentication = errors.New("payment: webhook signature verification failed")
	// ErrOrderNotFound is returned when a webhook references an unknown order.
	ErrOrderNotFound = errors.New("payment: order not found")
)

// Validation codes reported by CreatePaymentIntent.
const (
	CodeNoActiveOrder    = "NO_ACTIVE_ORDER"
	CodeEmptyOrder       = "EMPTY_ORDER"
	CodeNoCustomer       = "NO_CUSTOMER"
	CodeNoShippingMethod = "NO_SHIPPING_METHOD"
)

// ConfigurationError reports a missing or incomplete BTCPay payment method.
type ConfigurationError struct {
	MethodCode string
	Missing    []string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Reason != "":
		return "payment: " + e.Reason
	case len(e.Missing) > 0:
		return fmt.Sprintf("payment: method %s has no %s configured", e.MethodCode, strings.Join(e.Missing, ", "))
	default:
		return "payment: payment method misconfigured"
	}
}

// MalformedWebhookError reports a webhook missing required fields.
type MalformedWebhookError struct {
	Missing []string
	Err     error
}

func (e *MalformedWebhookError) Error() string {
	if e.Err != nil {
		return "payment: malformed webhook: " + e.Err.Error()
	}
	return "payment: webhook is missing " + strings.Join(e.Missing, ", ")
}

func (e *MalformedWebhookError) Unwrap() error { return e.Err }

// ProcessorError is a business-level error returned by BTCPay.
type ProcessorError struct {
	Operation  string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ProcessorError) Error() string {
	var b strings.Builder
	b.WriteString("btcpay ")
	b.WriteString(e.Operation)
	b.WriteString(" failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProcessorError) Unwrap() error { return e.Err }

// TransitionFailedError reports that the order could not be moved to ArrangingPayment.
type TransitionFailedError struct {
	OrderCode string
	From      string
	To        string
	Message   string
}

func (e *TransitionFailedError) Error() string {
	return fmt.Sprintf("error transitioning order %s from %s to %s: %s", e.OrderCode, e.From, e.To, e.Message)
}

// PaymentRecordError reports that the order system refused the payment.
type PaymentRecordError struct {
	OrderCode string
	Code      string
	Message   string
}

func (e *PaymentRecordError) Error() string {
	return fmt.Sprintf("error adding payment to order %s: %s", e.OrderCode, e.Message)
}

// ValidationError reports an order that cannot be checked out yet.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// toAppError translates intent errors to the API error shape.
func toAppError(err error) *common.AppError {
	var (
		verr *ValidationError
		cerr *ConfigurationError
		perr *ProcessorError
	)
	switch {
	case errors.As(err, &verr):
		return common.NewAppError(verr.Code, verr.Message, http.StatusBadRequest, err)
	case errors.As(err, &cerr):
		return common.NewAppError("PAYMENT_NOT_CONFIGURED", "btcpay payment method is not configured", http.StatusInternalServerError, err)
	case errors.As(err, &perr):
		return common.NewAppError("PROCESSOR_ERROR", perr.Error(), http.StatusBadGateway, err)
	default:
		return common.NewAppError("INTERNAL", "payment intent failed", http.StatusInternalServerError, err)
	}
}
