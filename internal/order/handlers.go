package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-btcpay/internal/common"
)

// Orders is the subset of Service the HTTP handlers use.
type Orders interface {
	ActiveOrder(ctx context.Context) (*Order, error)
	FindByCode(ctx context.Context, code string) (*Order, error)
	TransitionToState(ctx context.Context, id string, to State) (*Order, error)
}

// Handler serves storefront order endpoints for the session in context.
type Handler struct {
	Svc Orders
}

type transitionRequest struct {
	State State `json:"state"`
}

// Active returns the order the session is checking out.
func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	if _, ok := common.SessionID(r.Context()); !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "session required", nil)
		return
	}
	ord, err := h.Svc.ActiveOrder(r.Context())
	if err != nil {
		writeOrderError(w, err)
		return
	}
	if ord == nil {
		common.JSONError(w, http.StatusNotFound, "NO_ACTIVE_ORDER", "no active order for session", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": ord})
}

// TransitionActive moves the session's active order to the requested state,
// e.g. ArrangingShipping -> ArrangingPayment before checkout.
func (h *Handler) TransitionActive(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	if _, ok := common.SessionID(r.Context()); !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "session required", nil)
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(string(req.State)) == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "state is required", nil)
		return
	}
	ord, err := h.Svc.ActiveOrder(r.Context())
	if err != nil {
		writeOrderError(w, err)
		return
	}
	if ord == nil {
		common.JSONError(w, http.StatusNotFound, "NO_ACTIVE_ORDER", "no active order for session", nil)
		return
	}
	updated, err := h.Svc.TransitionToState(r.Context(), ord.ID, req.State)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": updated})
}

// Get returns an order by code. Shoppers only see orders of their own session;
// this is the page the processor redirects to after checkout.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	sessionID, ok := common.SessionID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "session required", nil)
		return
	}
	ord, err := h.Svc.FindByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeOrderError(w, err)
		return
	}
	if ord.SessionID != sessionID {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": ord})
}

func writeOrderError(w http.ResponseWriter, err error) {
	var terr *TransitionError
	var perr *PaymentError
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrNoChannel):
		common.JSONError(w, http.StatusBadRequest, "CHANNEL_REQUIRED", "channel token required", nil)
	case errors.As(err, &terr):
		common.JSONError(w, http.StatusConflict, "ORDER_STATE_TRANSITION_ERROR", terr.Message, map[string]any{
			"fromState": terr.From,
			"toState":   terr.To,
		})
	case errors.As(err, &perr):
		common.JSONError(w, http.StatusConflict, perr.Code, perr.Message, nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order operation failed", nil)
	}
}
