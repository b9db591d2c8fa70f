package payment_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-btcpay/internal/channel"
	"github.com/noah-isme/toko-btcpay/internal/common"
	"github.com/noah-isme/toko-btcpay/internal/order"
	"github.com/noah-isme/toko-btcpay/internal/order/ordertest"
	"github.com/noah-isme/toko-btcpay/internal/payment"
)

const (
	testSecret  = "whsec-channel-1"
	otherSecret = "whsec-channel-2"
)

type memMethods struct {
	methods []payment.StoredMethod
	calls   atomic.Int64
}

func (m *memMethods) ListForChannel(_ context.Context, channelID string) ([]payment.StoredMethod, error) {
	m.calls.Add(1)
	var out []payment.StoredMethod
	for _, sm := range m.methods {
		if sm.ChannelID == channelID {
			out = append(out, sm)
		}
	}
	return out, nil
}

func (m *memMethods) ListByHandler(_ context.Context, handlerCode string) ([]payment.StoredMethod, error) {
	m.calls.Add(1)
	var out []payment.StoredMethod
	for _, sm := range m.methods {
		if sm.HandlerCode == handlerCode {
			out = append(out, sm)
		}
	}
	return out, nil
}

func methodArgs(secret, redirect string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{
		"apiKey":       "api-key",
		"apiUrl":       "https://btcpay.test",
		"storeId":      "store-1",
		"sharedSecret": secret,
		"redirectUrl":  redirect,
	})
	return raw
}

func defaultMethods() *memMethods {
	return &memMethods{methods: []payment.StoredMethod{
		{ChannelID: "ch-1", Code: "btcpay", HandlerCode: payment.HandlerCode, Enabled: true, Args: methodArgs(testSecret, "https://shop.test/thanks/")},
		{ChannelID: "ch-2", Code: "btcpay-eu", HandlerCode: payment.HandlerCode, Enabled: true, Args: methodArgs(otherSecret, "https://eu.shop.test/thanks")},
	}}
}

type stubChannels map[string]channel.Channel

func (s stubChannels) FromToken(_ context.Context, token string) (channel.Channel, error) {
	ch, ok := s[token]
	if !ok {
		return channel.Channel{}, channel.ErrNotFound
	}
	return ch, nil
}

func defaultChannels() stubChannels {
	return stubChannels{
		"token-1": {ID: "ch-1", Code: "default", Token: "token-1", DefaultCurrency: "EUR"},
		"token-2": {ID: "ch-2", Code: "eu", Token: "token-2", DefaultCurrency: "EUR"},
	}
}

type stubProcessor struct {
	mu        sync.Mutex
	invoice   payment.Invoice
	err       error
	gets      []string
	creates   []payment.InvoiceIntent
	configs   []payment.MethodConfig
	factories int
}

func (p *stubProcessor) factory() payment.ClientFactory {
	return func(cfg payment.MethodConfig) payment.Processor {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.factories++
		p.configs = append(p.configs, cfg)
		return p
	}
}

func (p *stubProcessor) CreateInvoice(_ context.Context, intent payment.InvoiceIntent) (payment.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates = append(p.creates, intent)
	return p.invoice, p.err
}

func (p *stubProcessor) GetInvoice(_ context.Context, id string) (payment.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gets = append(p.gets, id)
	return p.invoice, p.err
}

// countingOrders records every call that reaches the order system.
type countingOrders struct {
	payment.Orders
	finds, transitions, adds atomic.Int64
}

func (c *countingOrders) FindByCode(ctx context.Context, code string) (*order.Order, error) {
	c.finds.Add(1)
	return c.Orders.FindByCode(ctx, code)
}

func (c *countingOrders) TransitionToState(ctx context.Context, id string, to order.State) (*order.Order, error) {
	c.transitions.Add(1)
	return c.Orders.TransitionToState(ctx, id, to)
}

func (c *countingOrders) AddPayment(ctx context.Context, id string, in order.PaymentInput) (*order.Order, error) {
	c.adds.Add(1)
	return c.Orders.AddPayment(ctx, id, in)
}

func (c *countingOrders) total() int64 {
	return c.finds.Load() + c.transitions.Load() + c.adds.Load()
}

type harness struct {
	store       *ordertest.MemStore
	orders      *countingOrders
	processor   *stubProcessor
	methods     *memMethods
	coordinator *payment.Coordinator
}

func newHarness(t *testing.T, state order.State) *harness {
	t.Helper()
	store := ordertest.NewMemStore()
	store.Put(order.Order{
		ID:            "order-1",
		Code:          "ORD-1",
		ChannelID:     "ch-1",
		State:         state,
		CurrencyCode:  "EUR",
		TotalWithTax:  1050,
		CustomerID:    "cust-1",
		SessionID:     "sess-1",
		Lines:         []order.Line{{ID: "l1", SKU: "SKU-1", Quantity: 1, UnitPriceWithTax: 1000}},
		ShippingLines: []order.ShippingLine{{ID: "s1", MethodCode: "standard", PriceWithTax: 50}},
	})
	store.AddMethod("ch-1", "btcpay", payment.HandlerCode)

	svc := order.NewService(store, store, nil, zerolog.Nop(), payment.MethodHandler{})
	orders := &countingOrders{Orders: svc}
	processor := &stubProcessor{invoice: payment.Invoice{
		ID:       "inv-1",
		Status:   payment.InvoiceStatusSettled,
		Metadata: json.RawMessage(`{"orderCode":"ORD-1","channelToken":"token-1"}`),
	}}
	methods := defaultMethods()
	coordinator := payment.NewCoordinator(payment.NewResolver(methods), defaultChannels(), orders, processor.factory(), nil, zerolog.Nop())
	return &harness{store: store, orders: orders, processor: processor, methods: methods, coordinator: coordinator}
}

func settledEvent(id, orderCode, channelToken, code string) []byte {
	return []byte(fmt.Sprintf(`{"event":{"id":%q,"type":"InvoiceSettled","data":{"code":%q,"addresses":{"BTC":"bc1qexample"},"metadata":{"orderCode":%q,"channelToken":%q}}}}`,
		id, code, orderCode, channelToken))
}

func signed(body []byte, secret string) payment.Delivery {
	return payment.Delivery{Body: body, Signature: payment.Sign(body, secret)}
}

func shopCtx(sessionID string) context.Context {
	ctx := common.WithScope(context.Background(), common.Scope{API: common.APIShop, ChannelID: "ch-1", ChannelToken: "token-1"})
	if sessionID != "" {
		ctx = common.WithSessionID(ctx, sessionID)
	}
	return ctx
}
