package channel

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/toko-btcpay/internal/common"
)

// Lookup resolves a channel token.
type Lookup interface {
	FromToken(ctx context.Context, token string) (Channel, error)
}

// Resolver resolves the shop channel from a request header and stores it as
// the request scope.
type Resolver struct {
	Channels     Lookup
	HeaderName   string
	DefaultToken string
}

// NewResolver returns a resolver reading headerName, falling back to
// defaultToken when the header is absent. If headerName is empty,
// "X-Channel-Token" is used.
func NewResolver(channels Lookup, headerName, defaultToken string) *Resolver {
	if headerName == "" {
		headerName = "X-Channel-Token"
	}
	return &Resolver{
		Channels:     channels,
		HeaderName:   headerName,
		DefaultToken: strings.TrimSpace(defaultToken),
	}
}

// Middleware rejects requests without a resolvable channel and injects a shop
// scope for the channel otherwise.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		token := r.Token(req)
		if token == "" {
			common.JSONError(w, http.StatusBadRequest, "CHANNEL_REQUIRED", "channel token required", nil)
			return
		}
		ch, err := r.Channels.FromToken(req.Context(), token)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				common.JSONError(w, http.StatusBadRequest, "CHANNEL_NOT_FOUND", "unknown channel token", nil)
				return
			}
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "channel lookup failed", nil)
			return
		}
		ctx := common.WithScope(req.Context(), common.Scope{
			API:          common.APIShop,
			ChannelID:    ch.ID,
			ChannelToken: ch.Token,
		})
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// Token returns the channel token carried by the request, or the default.
func (r *Resolver) Token(req *http.Request) string {
	if r == nil || req == nil {
		return ""
	}
	if token := strings.TrimSpace(req.Header.Get(r.HeaderName)); token != "" {
		return token
	}
	return r.DefaultToken
}
