package payment

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/noah-isme/toko-btcpay/internal/common"
)

// Settler processes webhook deliveries.
type Settler interface {
	Settle(ctx context.Context, d Delivery) Outcome
}

// Webhook is the HTTP boundary of settlement. It hands the unmodified body
// to the Settler and maps the outcome to a status code.
type Webhook struct {
	Settler      Settler
	MaxBodyBytes int64
}

// Handle serves POST /payments/btcpay.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Settler == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body := io.Reader(r.Body)
	if h.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "payload too large", nil)
			return
		}
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}

	out := h.Settler.Settle(r.Context(), Delivery{Body: raw, Signature: r.Header.Get(SignatureHeader)})
	if out.Acknowledged() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	common.JSONError(w, out.HTTPStatus(), out.ErrorCode(), publicMessage(out), nil)
}

// publicMessage hides internals that should not reach the caller.
func publicMessage(out Outcome) string {
	switch out.Stage {
	case StageRejectedSignature:
		return "signature verification failed"
	case StageInternal:
		return "webhook processing failed"
	case StageConfigurationFailed:
		return "payment method not configured"
	default:
		return out.Reason
	}
}
