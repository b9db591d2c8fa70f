package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-btcpay/internal/obs"
)

// ProviderName labels BTCPay in metrics and logs.
const ProviderName = "btcpay"

// InvoiceStatusSettled is the Greenfield status of a fully confirmed invoice.
const InvoiceStatusSettled = "Settled"

const maxResponseBytes = 1 << 20

// InvoiceMetadata is echoed back by BTCPay in webhook deliveries.
type InvoiceMetadata struct {
	OrderID      string `json:"orderId,omitempty"`
	OrderCode    string `json:"orderCode"`
	ChannelToken string `json:"channelToken"`
}

// InvoiceIntent is the request to open an invoice.
type InvoiceIntent struct {
	Amount      string
	Currency    string
	RedirectURL string
	Metadata    InvoiceMetadata
}

// Invoice is a BTCPay invoice. Raw keeps the complete response body.
type Invoice struct {
	ID               string
	CheckoutLink     string
	Status           string
	AdditionalStatus string
	Amount           string
	Currency         string
	CreatedTime      int64
	Metadata         json.RawMessage
	Raw              json.RawMessage
}

// Settled reports whether BTCPay considers the invoice fully paid and confirmed.
func (i Invoice) Settled() bool {
	return strings.EqualFold(i.Status, InvoiceStatusSettled)
}

// MetadataOrderCode returns the order code stored on the invoice, if any.
func (i Invoice) MetadataOrderCode() string {
	if len(i.Metadata) == 0 {
		return ""
	}
	var md InvoiceMetadata
	if err := json.Unmarshal(i.Metadata, &md); err != nil {
		return ""
	}
	return md.OrderCode
}

// Processor is the BTCPay Greenfield API surface used here.
type Processor interface {
	CreateInvoice(ctx context.Context, intent InvoiceIntent) (Invoice, error)
	GetInvoice(ctx context.Context, id string) (Invoice, error)
}

// ClientFactory builds a Processor for a resolved payment method.
type ClientFactory func(cfg MethodConfig) Processor

// Doer sends HTTP requests. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// NewClientFactory returns a factory building clients that share one transport.
func NewClientFactory(doer Doer) ClientFactory {
	return func(cfg MethodConfig) Processor {
		return NewClient(cfg, doer)
	}
}

// Client talks to one BTCPay store. It holds no state besides its config.
type Client struct {
	cfg  MethodConfig
	http Doer
}

// NewClient constructs a client for the store in cfg.
func NewClient(cfg MethodConfig, doer Doer) *Client {
	return &Client{cfg: cfg, http: doer}
}

type createInvoiceRequest struct {
	Amount   string          `json:"amount"`
	Currency string          `json:"currency"`
	Metadata InvoiceMetadata `json:"metadata"`
	Checkout checkoutOptions `json:"checkout"`
}

type checkoutOptions struct {
	RedirectURL string `json:"redirectURL,omitempty"`
}

// CreateInvoice opens an invoice. It is sent exactly once.
func (c *Client) CreateInvoice(ctx context.Context, intent InvoiceIntent) (Invoice, error) {
	body, err := json.Marshal(createInvoiceRequest{
		Amount:   intent.Amount,
		Currency: intent.Currency,
		Metadata: intent.Metadata,
		Checkout: checkoutOptions{RedirectURL: intent.RedirectURL},
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("btcpay: encode invoice request: %w", err)
	}
	return c.do(ctx, "create_invoice", http.MethodPost, c.invoicesURL(), body)
}

// GetInvoice fetches an invoice by id.
func (c *Client) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	return c.do(ctx, "get_invoice", http.MethodGet, c.invoicesURL()+"/"+url.PathEscape(id), nil)
}

func (c *Client) invoicesURL() string {
	return strings.TrimRight(c.cfg.APIURL, "/") + "/api/v1/stores/" + url.PathEscape(c.cfg.StoreID) + "/invoices"
}

func (c *Client) do(ctx context.Context, operation, method, target string, body []byte) (inv Invoice, err error) {
	ctx, span := obs.Tracer("payment.btcpay").Start(ctx, "btcpay."+operation)
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if obs.ProcessorRequestDuration != nil {
			obs.ProcessorRequestDuration.WithLabelValues(ProviderName, operation, result).Observe(obs.DurationMillis(time.Since(start)))
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("btcpay.store_id", c.cfg.StoreID),
		attribute.String("http.method", method),
	)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return Invoice{}, &ProcessorError{Operation: operation, Err: err}
	}
	req.Header.Set("Authorization", "token "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return Invoice{}, &ProcessorError{Operation: operation, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Invoice{}, &ProcessorError{Operation: operation, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code, message := parseGreenfieldError(data)
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return Invoice{}, &ProcessorError{Operation: operation, StatusCode: resp.StatusCode, Code: code, Message: message}
	}
	inv, err = decodeInvoice(data)
	if err != nil {
		var perr *ProcessorError
		if errors.As(err, &perr) {
			perr.Operation = operation
			perr.StatusCode = resp.StatusCode
			return Invoice{}, perr
		}
		return Invoice{}, &ProcessorError{Operation: operation, StatusCode: resp.StatusCode, Message: "unreadable response body", Err: err}
	}
	span.SetAttributes(attribute.String("btcpay.invoice_id", inv.ID), attribute.String("btcpay.invoice_status", inv.Status))
	return inv, nil
}

type invoiceWire struct {
	ID               string          `json:"id"`
	CheckoutLink     string          `json:"checkoutLink"`
	Status           string          `json:"status"`
	AdditionalStatus string          `json:"additionalStatus"`
	Amount           flexString      `json:"amount"`
	Currency         string          `json:"currency"`
	CreatedTime      flexString      `json:"createdTime"`
	Metadata         json.RawMessage `json:"metadata"`
}

// decodeInvoice accepts the bare Greenfield invoice as well as a {"data": ...}
// wrapper, and turns an embedded error object into a ProcessorError.
func decodeInvoice(data []byte) (Invoice, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Invoice{}, err
	}
	if raw, ok := top["error"]; ok && !isNull(raw) {
		code, message := parseGreenfieldError(raw)
		if message == "" {
			message = strings.TrimSpace(string(raw))
		}
		return Invoice{}, &ProcessorError{Code: code, Message: message}
	}
	payload := data
	if _, hasID := top["id"]; !hasID {
		if inner, ok := top["data"]; ok && !isNull(inner) {
			payload = inner
		}
	}
	var wire invoiceWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Invoice{}, err
	}
	created, _ := strconv.ParseInt(string(wire.CreatedTime), 10, 64)
	return Invoice{
		ID:               wire.ID,
		CheckoutLink:     wire.CheckoutLink,
		Status:           wire.Status,
		AdditionalStatus: wire.AdditionalStatus,
		Amount:           string(wire.Amount),
		Currency:         wire.Currency,
		CreatedTime:      created,
		Metadata:         wire.Metadata,
		Raw:              append(json.RawMessage(nil), data...),
	}, nil
}

// parseGreenfieldError understands {"code","message"}, {"error": ...} and the
// validation shape [{"path","message"}].
func parseGreenfieldError(data []byte) (code, message string) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", ""
	}
	if data[0] == '"' {
		var s string
		_ = json.Unmarshal(data, &s)
		return "", s
	}
	if data[0] == '[' {
		var problems []struct {
			Path    string `json:"path"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &problems); err != nil {
			return "", ""
		}
		parts := make([]string, 0, len(problems))
		for _, p := range problems {
			if p.Path != "" {
				parts = append(parts, p.Path+": "+p.Message)
			} else {
				parts = append(parts, p.Message)
			}
		}
		return "validation-error", strings.Join(parts, "; ")
	}
	var single struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &single); err != nil {
		return "", ""
	}
	if single.Message == "" && !isNull(single.Error) {
		return parseGreenfieldError(single.Error)
	}
	return single.Code, single.Message
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// flexString decodes a JSON string or number into its textual form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
