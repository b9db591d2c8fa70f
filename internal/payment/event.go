package payment

import (
	"bytes"
	"encoding/json"
	"errors"
)

// EventType is a BTCPay webhook event type.
type EventType string

// EventInvoiceSettled is sent once an invoice is paid and fully confirmed.
// It is the only type that triggers settlement.
const EventInvoiceSettled EventType = "InvoiceSettled"

// EventMetadata is the invoice metadata echoed in a webhook.
type EventMetadata struct {
	OrderCode    string
	ChannelToken string
	Raw          json.RawMessage
}

// EventData is the invoice part of a webhook.
type EventData struct {
	Code      string
	Metadata  EventMetadata
	Addresses json.RawMessage
}

// WebhookEvent is a decoded webhook delivery.
type WebhookEvent struct {
	ID   string
	Type EventType
	Data EventData
}

type eventWire struct {
	ID         string          `json:"id"`
	DeliveryID string          `json:"deliveryId"`
	OriginalID string          `json:"originalDeliveryId"`
	Type       string          `json:"type"`
	InvoiceID  string          `json:"invoiceId"`
	Metadata   json.RawMessage `json:"metadata"`
	Data       *struct {
		Code      string          `json:"code"`
		Metadata  json.RawMessage `json:"metadata"`
		Addresses json.RawMessage `json:"addresses"`
	} `json:"data"`
}

type metadataWire struct {
	OrderCode    string `json:"orderCode"`
	ChannelToken string `json:"channelToken"`
}

// DecodeEvent parses a webhook body. The body may be the event itself or an
// envelope {"event": {...}}. Greenfield's flat shape (invoiceId, metadata) is
// mapped onto Data.
func DecodeEvent(body []byte) (WebhookEvent, error) {
	var envelope struct {
		Event json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return WebhookEvent{}, err
	}
	raw := body
	if trimmed := bytes.TrimSpace(envelope.Event); len(trimmed) > 0 && trimmed[0] == '{' {
		raw = trimmed
	}
	var wire eventWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return WebhookEvent{}, err
	}
	if wire.Type == "" {
		return WebhookEvent{}, errors.New("event has no type")
	}

	ev := WebhookEvent{ID: wire.ID, Type: EventType(wire.Type)}
	if ev.ID == "" {
		// Redeliveries get a fresh deliveryId but keep the first one here.
		ev.ID = wire.OriginalID
	}
	if ev.ID == "" {
		ev.ID = wire.DeliveryID
	}
	mdRaw := wire.Metadata
	ev.Data.Code = wire.InvoiceID
	if wire.Data != nil {
		if wire.Data.Code != "" {
			ev.Data.Code = wire.Data.Code
		}
		if len(wire.Data.Metadata) > 0 {
			mdRaw = wire.Data.Metadata
		}
		ev.Data.Addresses = wire.Data.Addresses
	}
	ev.Data.Metadata.Raw = mdRaw
	if len(mdRaw) > 0 && !isNull(mdRaw) {
		var md metadataWire
		// Non-object metadata is reported as missing fields instead of a decode error.
		if err := json.Unmarshal(mdRaw, &md); err == nil {
			ev.Data.Metadata.OrderCode = md.OrderCode
			ev.Data.Metadata.ChannelToken = md.ChannelToken
		}
	}
	return ev, nil
}

// missingFields lists the required settlement fields absent from ev.
func (ev WebhookEvent) missingFields() []string {
	var missing []string
	if ev.Data.Metadata.OrderCode == "" {
		missing = append(missing, "data.metadata.orderCode")
	}
	if ev.Data.Metadata.ChannelToken == "" {
		missing = append(missing, "data.metadata.channelToken")
	}
	if ev.Data.Code == "" {
		missing = append(missing, "data.code")
	}
	return missing
}
