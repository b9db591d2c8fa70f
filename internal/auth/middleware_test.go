package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-btcpay/internal/auth"
	"github.com/noah-isme/toko-btcpay/internal/common"
)

type seen struct {
	session string
	scope   common.Scope
	called  bool
}

func capture(s *seen) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.called = true
		s.session, _ = common.SessionID(r.Context())
		s.scope, _ = common.ScopeFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func request(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	ctx := common.WithScope(context.Background(), common.Scope{API: common.APIShop, ChannelID: "ch-1", ChannelToken: "token-1"})
	return req.WithContext(ctx)
}

func TestRequireSession(t *testing.T) {
	svc := newService(t)
	session, err := svc.StartSession()
	require.NoError(t, err)
	mw := auth.Middleware{Tokens: svc}

	var s seen
	rec := httptest.NewRecorder()
	mw.RequireSession(capture(&s)).ServeHTTP(rec, request(session.Token))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, session.SessionID, s.session)
	require.False(t, s.scope.IsAdmin())

	for _, token := range []string{"", "garbage"} {
		var s seen
		rec := httptest.NewRecorder()
		mw.RequireSession(capture(&s)).ServeHTTP(rec, request(token))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.False(t, s.called)
	}
}

func TestAuthenticateIsOptional(t *testing.T) {
	mw := auth.Middleware{Tokens: newService(t)}

	var s seen
	rec := httptest.NewRecorder()
	mw.Authenticate(capture(&s)).ServeHTTP(rec, request("garbage"))
	require.True(t, s.called)
	require.Empty(t, s.session)
}

func TestRequireAdmin(t *testing.T) {
	svc := newService(t)
	mw := auth.Middleware{Tokens: svc}
	shopper, err := svc.StartSession()
	require.NoError(t, err)
	admin, err := svc.Issue("ops", auth.RoleAdmin)
	require.NoError(t, err)

	var s seen
	rec := httptest.NewRecorder()
	mw.RequireAdmin(capture(&s)).ServeHTTP(rec, request(shopper.Token))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, s.called)

	rec = httptest.NewRecorder()
	mw.RequireAdmin(capture(&s)).ServeHTTP(rec, request(admin.Token))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, s.scope.IsAdmin())
	require.Equal(t, "ch-1", s.scope.ChannelID)
}

func TestStartSessionHandler(t *testing.T) {
	svc := newService(t)
	rec := httptest.NewRecorder()

	(&auth.Handler{Sessions: svc}).StartSession(rec, httptest.NewRequest(http.MethodPost, "/shop-api/session", nil))

	require.Equal(t, http.StatusCreated, rec.Code)
	var body struct {
		Data auth.Session `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	claims, err := svc.Parse(body.Data.Token)
	require.NoError(t, err)
	require.Equal(t, body.Data.SessionID, claims.SessionID)
}
