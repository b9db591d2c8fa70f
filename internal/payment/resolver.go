package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/toko-btcpay/internal/common"
)

// HandlerCode identifies BTCPay payment methods in the method store.
const HandlerCode = "btcpay-payment-handler"

// MethodConfig is a resolved, validated BTCPay payment method.
type MethodConfig struct {
	MethodCode   string `json:"-"`
	APIKey       string `json:"apiKey" validate:"required"`
	APIURL       string `json:"apiUrl" validate:"required"`
	StoreID      string `json:"storeId" validate:"required"`
	SharedSecret string `json:"sharedSecret" validate:"required"`
	RedirectURL  string `json:"redirectUrl" validate:"required"`
}

// StoredMethod is a payment method row as persisted by the host.
type StoredMethod struct {
	ChannelID   string
	Code        string
	HandlerCode string
	Enabled     bool
	Args        json.RawMessage
}

// MethodStore lists configured payment methods.
type MethodStore interface {
	ListForChannel(ctx context.Context, channelID string) ([]StoredMethod, error)
	ListByHandler(ctx context.Context, handlerCode string) ([]StoredMethod, error)
}

// Resolver finds the BTCPay method of the channel in context. Nothing is
// cached; every call reads the store.
type Resolver struct {
	Store    MethodStore
	validate *validator.Validate
}

// NewResolver returns a Resolver reading from store.
func NewResolver(store MethodStore) *Resolver {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Resolver{Store: store, validate: v}
}

// Resolve returns the BTCPay configuration for the channel in ctx.
func (r *Resolver) Resolve(ctx context.Context) (MethodConfig, error) {
	scope, ok := common.ScopeFrom(ctx)
	if !ok || scope.ChannelID == "" {
		return MethodConfig{}, &ConfigurationError{Reason: "no channel in request context"}
	}
	methods, err := r.Store.ListForChannel(ctx, scope.ChannelID)
	if err != nil {
		return MethodConfig{}, fmt.Errorf("payment: list payment methods: %w", err)
	}
	for _, m := range methods {
		if m.Enabled && m.HandlerCode == HandlerCode {
			return r.configFrom(m)
		}
	}
	return MethodConfig{}, &ConfigurationError{Reason: "no payment method configured with handler " + HandlerCode}
}

// SharedSecrets lists the webhook secrets of every enabled BTCPay method. It is
// used before the delivery's channel is known.
func (r *Resolver) SharedSecrets(ctx context.Context) ([]string, error) {
	methods, err := r.Store.ListByHandler(ctx, HandlerCode)
	if err != nil {
		return nil, fmt.Errorf("payment: list payment methods: %w", err)
	}
	seen := make(map[string]struct{}, len(methods))
	secrets := make([]string, 0, len(methods))
	for _, m := range methods {
		if !m.Enabled {
			continue
		}
		args, err := decodeArgs(m.Args)
		if err != nil || args.SharedSecret == "" {
			continue
		}
		if _, dup := seen[args.SharedSecret]; dup {
			continue
		}
		seen[args.SharedSecret] = struct{}{}
		secrets = append(secrets, args.SharedSecret)
	}
	return secrets, nil
}

func (r *Resolver) configFrom(m StoredMethod) (MethodConfig, error) {
	cfg, err := decodeArgs(m.Args)
	if err != nil {
		return MethodConfig{}, &ConfigurationError{MethodCode: m.Code, Reason: fmt.Sprintf("method %s has unreadable handler args", m.Code)}
	}
	cfg.MethodCode = m.Code
	if err := r.validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return MethodConfig{}, &ConfigurationError{MethodCode: m.Code, Reason: err.Error()}
		}
		missing := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			missing = append(missing, fe.Field())
		}
		return MethodConfig{}, &ConfigurationError{MethodCode: m.Code, Missing: missing}
	}
	cfg.RedirectURL = strings.TrimSuffix(cfg.RedirectURL, "/")
	return cfg, nil
}

func decodeArgs(raw json.RawMessage) (MethodConfig, error) {
	var cfg MethodConfig
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return MethodConfig{}, err
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.APIURL = strings.TrimSpace(cfg.APIURL)
	cfg.StoreID = strings.TrimSpace(cfg.StoreID)
	cfg.SharedSecret = strings.TrimSpace(cfg.SharedSecret)
	cfg.RedirectURL = strings.TrimSpace(cfg.RedirectURL)
	return cfg, nil
}
