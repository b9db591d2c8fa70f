package payment

import (
	"context"
	"net/http"

	"github.com/noah-isme/toko-btcpay/internal/common"
)

// IntentService creates checkout links.
type IntentService interface {
	CreatePaymentIntent(ctx context.Context) (string, error)
}

// Handler exposes the storefront payment endpoints.
type Handler struct {
	Intents IntentService
}

type intentResp struct {
	CheckoutLink string `json:"checkoutLink"`
}

// Intent serves POST /shop-api/payments/btcpay/intent for the session's
// active order.
func (h *Handler) Intent(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Intents == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	if _, ok := common.SessionID(r.Context()); !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "session required", nil)
		return
	}
	link, err := h.Intents.CreatePaymentIntent(r.Context())
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	common.JSON(w, http.StatusOK, intentResp{CheckoutLink: link})
}
