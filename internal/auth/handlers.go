package auth

import (
	"net/http"

	"github.com/noah-isme/toko-btcpay/internal/common"
)

// SessionIssuer starts anonymous storefront sessions.
type SessionIssuer interface {
	StartSession() (Session, error)
}

// Handler exposes the storefront session endpoint.
type Handler struct {
	Sessions SessionIssuer
}

// StartSession handles POST /shop-api/session.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Sessions == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	session, err := h.Sessions.StartSession()
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to start session", nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": session})
}
