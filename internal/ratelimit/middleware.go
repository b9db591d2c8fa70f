// Package ratelimit throttles the payment endpoints per caller.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/toko-btcpay/internal/channel"
	"github.com/noah-isme/toko-btcpay/internal/common"
)

// Decision is the limiter verdict for one request.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	Reset     time.Time
}

// Limiter counts one request against key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Handler enforces a Limiter before delegating to the next handler. Limiter
// failures let the request through.
type Handler struct {
	Limiter Limiter
	Key     func(*http.Request) string
	OnError func(error)
}

// Middleware implements the http.Handler middleware interface.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Limiter == nil || h.Key == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := h.Key(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		d, err := h.Limiter.Allow(r.Context(), key)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		headers.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

		if !d.Allowed {
			retryAfter := int(time.Until(d.Reset).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// KeyByIP keys on the client address. It expects RemoteAddr to have been
// normalised by a RealIP middleware.
func KeyByIP(prefix string) func(*http.Request) string {
	return func(r *http.Request) string {
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err != nil {
			host = strings.TrimSpace(r.RemoteAddr)
		}
		if host == "" {
			return ""
		}
		return prefix + host
	}
}

// KeyBySession keys on the storefront session within its channel and falls
// back to the client address for anonymous requests.
func KeyBySession(prefix string) func(*http.Request) string {
	byIP := KeyByIP(prefix + "ip:")
	return func(r *http.Request) string {
		sessionID, ok := common.SessionID(r.Context())
		if !ok {
			return byIP(r)
		}
		scope, _ := common.ScopeFrom(r.Context())
		return prefix + channel.PrefixKey(scope.ChannelID, sessionID)
	}
}
