package order

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-btcpay/internal/common"
)

// AdminHandler provides administrative order management endpoints.
type AdminHandler struct {
	Svc Orders
}

// PatchState moves an order through fulfilment (Shipped, Delivered) or
// cancels it. Settlement is never possible from here.
func (h *AdminHandler) PatchState(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	if scope, ok := common.ScopeFrom(r.Context()); !ok || !scope.IsAdmin() {
		common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "admin access required", nil)
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.State == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "state is required", nil)
		return
	}
	if !isAllowedAdminTarget(req.State) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unsupported state", nil)
		return
	}
	ord, err := h.Svc.FindByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeOrderError(w, err)
		return
	}
	if _, err := h.Svc.TransitionToState(r.Context(), ord.ID, req.State); err != nil {
		writeOrderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isAllowedAdminTarget(state State) bool {
	switch state {
	case StateShipped, StateDelivered, StateCancelled:
		return true
	default:
		return false
	}
}
