package common

import "context"

type ctxKey string

const (
	sessionIDKey ctxKey = "auth/session-id"
	scopeKey     ctxKey = "request/scope"
)

// APIType distinguishes storefront traffic from privileged internal calls.
type APIType string

const (
	APIShop  APIType = "shop"
	APIAdmin APIType = "admin"
)

// Scope describes who is acting and on which channel a request operates.
type Scope struct {
	API          APIType
	ChannelID    string
	ChannelToken string
	Authorized   bool
}

// IsAdmin reports whether the scope carries elevated, system-level rights.
func (s Scope) IsAdmin() bool {
	return s.API == APIAdmin && s.Authorized
}

// SystemScope builds an elevated scope bound to a single channel. It is used for
// work triggered by trusted server-to-server callbacks rather than a shopper.
func SystemScope(channelID, channelToken string) Scope {
	return Scope{API: APIAdmin, ChannelID: channelID, ChannelToken: channelToken, Authorized: true}
}

// WithScope stores the request scope on the context.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey, s)
}

// ScopeFrom extracts the request scope from the context if present.
func ScopeFrom(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey).(Scope)
	return s, ok
}

// WithSessionID stores the storefront session identifier on the provided context.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionID extracts the storefront session identifier from the context if present.
func SessionID(ctx context.Context) (string, bool) {
	v := ctx.Value(sessionIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
