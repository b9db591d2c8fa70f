package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-btcpay/internal/common"
	"github.com/noah-isme/toko-btcpay/internal/obs"
	"github.com/noah-isme/toko-btcpay/internal/order"
)

// ActiveOrders returns the order of the session in context, nil when none.
type ActiveOrders interface {
	ActiveOrder(ctx context.Context) (*order.Order, error)
}

// ConfigResolver resolves BTCPay method configuration.
type ConfigResolver interface {
	Resolve(ctx context.Context) (MethodConfig, error)
	SharedSecrets(ctx context.Context) ([]string, error)
}

// IntentCreator opens BTCPay invoices at checkout.
type IntentCreator struct {
	Orders  ActiveOrders
	Methods ConfigResolver
	Clients ClientFactory
	Logger  zerolog.Logger
}

// CreatePaymentIntent opens an invoice for the session's active order and
// returns the BTCPay checkout link. The invoice request is never retried.
func (s *IntentCreator) CreatePaymentIntent(ctx context.Context) (link string, err error) {
	ctx, span := obs.Tracer("payment.intent").Start(ctx, "btcpay.CreatePaymentIntent")
	start := time.Now()
	logger := obs.LoggerFrom(ctx, s.Logger)
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Float64("payment.intent.duration_ms", obs.DurationMillis(time.Since(start))))
		if obs.PaymentIntentTotal != nil {
			obs.PaymentIntentTotal.WithLabelValues(ProviderName, result).Inc()
		}
		span.End()
	}()

	ord, err := s.Orders.ActiveOrder(ctx)
	if err != nil {
		return "", fmt.Errorf("payment: load active order: %w", err)
	}
	if err := checkoutReady(ord); err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("order.code", ord.Code))

	cfg, err := s.Methods.Resolve(ctx)
	if err != nil {
		logger.Error().Err(err).Str("order_code", ord.Code).Msg("btcpay_intent_config_failed")
		return "", err
	}
	scope, _ := common.ScopeFrom(ctx)
	inv, err := s.Clients(cfg).CreateInvoice(ctx, InvoiceIntent{
		Amount:      FormatAmount(ord.TotalWithTax),
		Currency:    ord.CurrencyCode,
		RedirectURL: RedirectFor(cfg.RedirectURL, ord.Code),
		Metadata: InvoiceMetadata{
			OrderID:      ord.Code,
			OrderCode:    ord.Code,
			ChannelToken: scope.ChannelToken,
		},
	})
	if err != nil {
		logger.Error().Err(err).Str("order_code", ord.Code).Msg("btcpay_invoice_create_failed")
		return "", err
	}
	if inv.CheckoutLink == "" {
		return "", &ProcessorError{Operation: "create_invoice", Message: "invoice " + inv.ID + " has no checkoutLink"}
	}
	logger.Info().
		Str("order_code", ord.Code).
		Str("invoice_id", inv.ID).
		Str("amount", FormatAmount(ord.TotalWithTax)).
		Str("currency", ord.CurrencyCode).
		Msg("btcpay_invoice_created")
	return inv.CheckoutLink, nil
}

func checkoutReady(ord *order.Order) error {
	switch {
	case ord == nil:
		return &ValidationError{Code: CodeNoActiveOrder, Message: "No active order found for session"}
	case len(ord.Lines) == 0:
		return &ValidationError{Code: CodeEmptyOrder, Message: "Cannot create payment intent for empty order"}
	case ord.CustomerID == "":
		return &ValidationError{Code: CodeNoCustomer, Message: "Cannot create payment intent for order without customer"}
	case len(ord.ShippingLines) == 0:
		return &ValidationError{Code: CodeNoShippingMethod, Message: "Cannot create payment intent for order without shippingMethod"}
	default:
		return nil
	}
}

// FormatAmount renders a minor-unit amount with two fractional digits.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// RedirectFor builds the post-checkout redirect for an order. base is expected
// to carry no trailing slash.
func RedirectFor(base, orderCode string) string {
	return base + "/" + orderCode
}
