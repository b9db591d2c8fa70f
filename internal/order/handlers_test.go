package order_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-btcpay/internal/common"
	"github.com/noah-isme/toko-btcpay/internal/order"
)

func shopRequest(method, target, body, session string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := common.WithScope(req.Context(), common.Scope{API: common.APIShop, ChannelID: "ch-1", ChannelToken: "token-1"})
	if session != "" {
		ctx = common.WithSessionID(ctx, session)
	}
	return req.WithContext(ctx)
}

func withCode(req *http.Request, code string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("code", code)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestActiveHandler(t *testing.T) {
	store, _ := fixture(order.StateArrangingShipping)
	h := &order.Handler{Svc: order.NewService(store, store, nil, zerolog.Nop())}

	rr := httptest.NewRecorder()
	h.Active(rr, shopRequest(http.MethodGet, "/shop-api/orders/active", "", "sess-1"))
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data order.Order `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "ORD-1", body.Data.Code)

	rr = httptest.NewRecorder()
	h.Active(rr, shopRequest(http.MethodGet, "/shop-api/orders/active", "", "sess-other"))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	h.Active(rr, shopRequest(http.MethodGet, "/shop-api/orders/active", "", ""))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestTransitionActiveHandler(t *testing.T) {
	store, ord := fixture(order.StateArrangingShipping)
	h := &order.Handler{Svc: order.NewService(store, store, nil, zerolog.Nop())}

	rr := httptest.NewRecorder()
	h.TransitionActive(rr, shopRequest(http.MethodPost, "/shop-api/orders/active/transition", `{"state":"ArrangingPayment"}`, "sess-1"))
	require.Equal(t, http.StatusOK, rr.Code)
	stored, _ := store.Get(ord.ID)
	require.Equal(t, order.StateArrangingPayment, stored.State)

	rr = httptest.NewRecorder()
	h.TransitionActive(rr, shopRequest(http.MethodPost, "/shop-api/orders/active/transition", `{"state":"PaymentSettled"}`, "sess-1"))
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "ORDER_STATE_TRANSITION_ERROR")
}

func TestGetHandlerHidesOtherSessions(t *testing.T) {
	store, _ := fixture(order.StatePaymentSettled)
	h := &order.Handler{Svc: order.NewService(store, store, nil, zerolog.Nop())}

	rr := httptest.NewRecorder()
	h.Get(rr, withCode(shopRequest(http.MethodGet, "/shop-api/orders/ORD-1", "", "sess-1"), "ORD-1"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.Get(rr, withCode(shopRequest(http.MethodGet, "/shop-api/orders/ORD-1", "", "sess-2"), "ORD-1"))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminPatchState(t *testing.T) {
	store, ord := fixture(order.StatePaymentSettled)
	h := &order.AdminHandler{Svc: order.NewService(store, store, nil, zerolog.Nop())}

	rr := httptest.NewRecorder()
	h.PatchState(rr, withCode(shopRequest(http.MethodPatch, "/admin-api/orders/ORD-1/state", `{"state":"Shipped"}`, "sess-1"), "ORD-1"))
	require.Equal(t, http.StatusForbidden, rr.Code)

	req := httptest.NewRequest(http.MethodPatch, "/admin-api/orders/ORD-1/state", strings.NewReader(`{"state":"Shipped"}`))
	req = req.WithContext(common.WithScope(req.Context(), common.SystemScope("ch-1", "token-1")))
	rr = httptest.NewRecorder()
	h.PatchState(rr, withCode(req, "ORD-1"))
	require.Equal(t, http.StatusNoContent, rr.Code)
	stored, _ := store.Get(ord.ID)
	require.Equal(t, order.StateShipped, stored.State)

	req = httptest.NewRequest(http.MethodPatch, "/admin-api/orders/ORD-1/state", strings.NewReader(`{"state":"PaymentSettled"}`))
	req = req.WithContext(common.WithScope(req.Context(), common.SystemScope("ch-1", "token-1")))
	rr = httptest.NewRecorder()
	h.PatchState(rr, withCode(req, "ORD-1"))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
