package payment

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-btcpay/internal/channel"
	"github.com/noah-isme/toko-btcpay/internal/common"
	"github.com/noah-isme/toko-btcpay/internal/obs"
	"github.com/noah-isme/toko-btcpay/internal/order"
)

// Orders is the order-system surface settlement needs.
type Orders interface {
	FindByCode(ctx context.Context, code string) (*order.Order, error)
	TransitionToState(ctx context.Context, id string, to order.State) (*order.Order, error)
	AddPayment(ctx context.Context, id string, in order.PaymentInput) (*order.Order, error)
}

// Channels resolves channel tokens.
type Channels interface {
	FromToken(ctx context.Context, token string) (channel.Channel, error)
}

// Delivery is one inbound webhook request.
type Delivery struct {
	Body      []byte
	Signature string
}

// Coordinator settles orders from BTCPay webhook deliveries. Deliveries are
// independent; the coordinator keeps no state between them.
type Coordinator struct {
	Methods  ConfigResolver
	Channels Channels
	Orders   Orders
	Clients  ClientFactory
	// Ledger is optional. When set, fully handled event ids short-circuit.
	Ledger EventLedger
	Logger zerolog.Logger

	duration metric.Float64Histogram
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(methods ConfigResolver, channels Channels, orders Orders, clients ClientFactory, ledger EventLedger, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		Methods:  methods,
		Channels: channels,
		Orders:   orders,
		Clients:  clients,
		Ledger:   ledger,
		Logger:   logger,
		duration: obs.Float64Histogram("payment.settlement", "payment.settlement.duration", "ms", "Duration of BTCPay webhook settlement"),
	}
}

// Settle processes one delivery and reports where it terminated. It never
// panics on untrusted input and performs no downstream call before the
// signature has been verified.
func (c *Coordinator) Settle(ctx context.Context, d Delivery) (out Outcome) {
	ctx, span := obs.Tracer("payment.settlement").Start(ctx, "btcpay.Settle")
	start := time.Now()
	var ev WebhookEvent
	defer func() {
		if out.EventID == "" {
			out.EventID = ev.ID
		}
		if out.OrderCode == "" {
			out.OrderCode = ev.Data.Metadata.OrderCode
		}
		if out.InvoiceID == "" {
			out.InvoiceID = ev.Data.Code
		}
		c.finish(ctx, span, start, d, out)
	}()

	secrets, err := c.Methods.SharedSecrets(ctx)
	if err != nil {
		return failed(StageInternal, err)
	}
	matched, ok := VerifyAny(d.Body, d.Signature, secrets)
	if !ok {
		return rejected(StageRejectedSignature, ErrAuthentication)
	}

	ev, err = DecodeEvent(d.Body)
	if err != nil {
		return rejected(StageRejectedMetadata, &MalformedWebhookError{Err: err})
	}
	if ev.Type != EventInvoiceSettled {
		return ignored(StageIgnoredEventType, fmt.Sprintf("event type %s is not processed", ev.Type))
	}
	if missing := ev.missingFields(); len(missing) > 0 {
		return rejected(StageRejectedMetadata, &MalformedWebhookError{Missing: missing})
	}
	if c.seen(ctx, ev.ID) {
		return Outcome{Kind: KindAlreadySettled, Stage: StageDuplicateEvent, Reason: "event " + ev.ID + " was already processed"}
	}

	orderCode := ev.Data.Metadata.OrderCode
	invoiceID := ev.Data.Code
	ch, err := c.Channels.FromToken(ctx, ev.Data.Metadata.ChannelToken)
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			return rejected(StageRejectedMetadata, &MalformedWebhookError{Err: errors.New("unknown channel token")})
		}
		return failed(StageInternal, err)
	}
	ctx = common.WithScope(ctx, common.SystemScope(ch.ID, ch.Token))

	cfg, err := c.Methods.Resolve(ctx)
	if err != nil {
		var cerr *ConfigurationError
		if errors.As(err, &cerr) {
			return failed(StageConfigurationFailed, err)
		}
		return failed(StageInternal, err)
	}
	if !hmac.Equal([]byte(cfg.SharedSecret), []byte(matched)) {
		res := rejected(StageRejectedSignature, ErrAuthentication)
		res.Reason = "signature was not made with the secret of channel " + ch.Code
		return res
	}

	invoice, err := c.Clients(cfg).GetInvoice(ctx, invoiceID)
	if err != nil {
		return failed(StageProcessorFailed, err)
	}
	if !invoice.Settled() {
		return ignored(StageNotYetConfirmed, fmt.Sprintf("invoice %s has status %s; this payment will not be settled yet", invoiceID, invoice.Status))
	}
	if code := invoice.MetadataOrderCode(); code != "" && code != orderCode {
		return rejected(StageRejectedMetadata, &MalformedWebhookError{
			Err: fmt.Errorf("invoice %s belongs to order %s, not %s", invoiceID, code, orderCode),
		})
	}

	ord, err := c.Orders.FindByCode(ctx, orderCode)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return failed(StageOrderNotFound, fmt.Errorf("%w: unable to find order %s, unable to settle payment %s", ErrOrderNotFound, orderCode, invoiceID))
		}
		return failed(StageInternal, err)
	}
	if ord.State.SettledEquivalent() {
		c.mark(ctx, ev.ID)
		return Outcome{Kind: KindAlreadySettled, Stage: StageAlreadySettled, Reason: fmt.Sprintf("order %s is already %s", ord.Code, ord.State)}
	}
	if ord.State != order.StateArrangingPayment {
		if _, err := c.Orders.TransitionToState(ctx, ord.ID, order.StateArrangingPayment); err != nil {
			return failed(StageTransitionFailed, transitionFailure(ord, err))
		}
	}

	_, err = c.Orders.AddPayment(ctx, ord.ID, order.PaymentInput{
		Method: cfg.MethodCode,
		Metadata: map[string]any{
			"id":        ev.ID,
			"code":      invoiceID,
			"addresses": ev.Data.Addresses,
			"metadata":  ev.Data.Metadata.Raw,
		},
	})
	if err != nil {
		rerr := &PaymentRecordError{OrderCode: ord.Code, Message: err.Error()}
		var perr *order.PaymentError
		if errors.As(err, &perr) {
			rerr.Code = perr.Code
			rerr.Message = perr.Message
		}
		return failed(StagePaymentRecordFailed, rerr)
	}
	c.mark(ctx, ev.ID)
	return Outcome{Kind: KindSettled, Stage: StageSettled, Reason: "payment for order " + ord.Code + " settled"}
}

func transitionFailure(ord *order.Order, err error) *TransitionFailedError {
	var terr *order.TransitionError
	if errors.As(err, &terr) {
		return &TransitionFailedError{OrderCode: ord.Code, From: string(terr.From), To: string(terr.To), Message: terr.Message}
	}
	return &TransitionFailedError{
		OrderCode: ord.Code,
		From:      string(ord.State),
		To:        string(order.StateArrangingPayment),
		Message:   err.Error(),
	}
}

func (c *Coordinator) seen(ctx context.Context, eventID string) bool {
	if c.Ledger == nil || eventID == "" {
		return false
	}
	ok, err := c.Ledger.Seen(ctx, eventID)
	if err != nil {
		logger := obs.LoggerFrom(ctx, c.Logger)
		logger.Warn().Err(err).Str("event_id", eventID).Msg("btcpay_event_ledger_unavailable")
		return false
	}
	return ok
}

func (c *Coordinator) mark(ctx context.Context, eventID string) {
	if c.Ledger == nil || eventID == "" {
		return
	}
	if err := c.Ledger.Mark(ctx, eventID); err != nil {
		logger := obs.LoggerFrom(ctx, c.Logger)
		logger.Warn().Err(err).Str("event_id", eventID).Msg("btcpay_event_ledger_mark_failed")
	}
}

func (c *Coordinator) finish(ctx context.Context, span trace.Span, start time.Time, d Delivery, out Outcome) {
	elapsed := obs.DurationMillis(time.Since(start))
	attrs := []attribute.KeyValue{
		attribute.String("payment.provider", ProviderName),
		attribute.String("payment.webhook.result", out.Kind.String()),
		attribute.String("payment.webhook.stage", string(out.Stage)),
	}
	span.SetAttributes(attrs...)
	span.SetAttributes(
		attribute.String("order.code", out.OrderCode),
		attribute.String("btcpay.event_id", out.EventID),
		attribute.String("btcpay.invoice_id", out.InvoiceID),
	)
	if out.Kind == KindFailed && out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Reason)
	}
	span.End()

	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(ProviderName, out.Kind.String(), string(out.Stage)).Inc()
	}
	if c.duration != nil {
		c.duration.Record(ctx, elapsed, metric.WithAttributes(attrs...))
	}

	logger := obs.LoggerFrom(ctx, c.Logger)
	var evt *zerolog.Event
	switch out.Kind {
	case KindFailed:
		evt = logger.Error().Err(out.Err)
	case KindRejected:
		evt = logger.Warn().Err(out.Err)
		if out.Stage == StageRejectedMetadata {
			evt = evt.Str("payload", truncate(string(d.Body), 4096))
		}
	default:
		evt = logger.Info()
	}
	evt.Str("provider", ProviderName).
		Str("result", out.Kind.String()).
		Str("stage", string(out.Stage)).
		Str("order_code", out.OrderCode).
		Str("event_id", out.EventID).
		Str("invoice_id", out.InvoiceID).
		Str("reason", out.Reason).
		Float64("duration_ms", elapsed).
		Msg("btcpay_webhook_processed")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
