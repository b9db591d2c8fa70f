package channel_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-btcpay/internal/channel"
	"github.com/noah-isme/toko-btcpay/internal/common"
)

type mapStore map[string]channel.Channel

func (m mapStore) FindByToken(_ context.Context, token string) (channel.Channel, error) {
	ch, ok := m[token]
	if !ok {
		return channel.Channel{}, channel.ErrNotFound
	}
	return ch, nil
}

type brokenStore struct{}

func (brokenStore) FindByToken(context.Context, string) (channel.Channel, error) {
	return channel.Channel{}, errors.New("db down")
}

func newResolver(defaultToken string) *channel.Resolver {
	svc := &channel.Service{Store: mapStore{
		"token-1": {ID: "ch-1", Code: "default", Token: "token-1", DefaultCurrency: "EUR"},
	}}
	return channel.NewResolver(svc, "", defaultToken)
}

func TestMiddlewareInjectsShopScope(t *testing.T) {
	var scope common.Scope
	handler := newResolver("").Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, _ = common.ScopeFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/shop-api/orders/active", nil)
	req.Header.Set("X-Channel-Token", "token-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, common.APIShop, scope.API)
	require.Equal(t, "ch-1", scope.ChannelID)
	require.Equal(t, "token-1", scope.ChannelToken)
	require.False(t, scope.IsAdmin())
}

func TestMiddlewareFallsBackToDefaultToken(t *testing.T) {
	called := false
	handler := newResolver("token-1").Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, called)
}

func TestMiddlewareRejectsMissingAndUnknownTokens(t *testing.T) {
	called := false
	handler := newResolver("").Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "CHANNEL_REQUIRED")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Channel-Token", "nope")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "CHANNEL_NOT_FOUND")
	require.False(t, called)
}

func TestFromTokenWrapsStoreErrors(t *testing.T) {
	svc := &channel.Service{Store: brokenStore{}}
	_, err := svc.FromToken(context.Background(), "token-1")
	require.Error(t, err)
	require.NotErrorIs(t, err, channel.ErrNotFound)

	_, err = svc.FromToken(context.Background(), " ")
	require.ErrorIs(t, err, channel.ErrNotFound)
}

func TestPrefixKey(t *testing.T) {
	require.Equal(t, "ch-1:idem", channel.PrefixKey("ch-1", "idem"))
	require.Equal(t, "idem", channel.PrefixKey("", "idem"))
}
