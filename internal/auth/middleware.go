package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/toko-btcpay/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// TokenParser verifies session tokens.
type TokenParser interface {
	Parse(token string) (Claims, error)
}

// Middleware wires session tokens into the request context.
type Middleware struct {
	Tokens TokenParser
}

// Authenticate attaches the session when a valid bearer token is present and
// passes the request through unchanged otherwise.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _, err := m.authenticateRequest(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSession rejects requests without a valid session token.
func (m Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _, err := m.authenticateRequest(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin accepts only tokens with the admin role and elevates the
// request scope of the already resolved channel.
func (m Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, claims, err := m.authenticateRequest(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		if !claims.HasRole(RoleAdmin) {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "admin role required", nil)
			return
		}
		scope, _ := common.ScopeFrom(ctx)
		if scope.ChannelID == "" {
			common.JSONError(w, http.StatusBadRequest, "CHANNEL_REQUIRED", "channel token required", nil)
			return
		}
		ctx = common.WithScope(ctx, common.SystemScope(scope.ChannelID, scope.ChannelToken))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) authenticateRequest(r *http.Request) (context.Context, Claims, error) {
	if m.Tokens == nil {
		return r.Context(), Claims{}, errors.New("auth: token service not configured")
	}
	token := bearerToken(r)
	if token == "" {
		return r.Context(), Claims{}, errNoToken
	}
	claims, err := m.Tokens.Parse(token)
	if err != nil {
		return r.Context(), Claims{}, err
	}
	return common.WithSessionID(r.Context(), claims.SessionID), claims, nil
}

func writeAuthError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusUnauthorized
		}
		common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
