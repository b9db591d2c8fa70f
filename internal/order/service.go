package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-btcpay/internal/common"
	"github.com/noah-isme/toko-btcpay/internal/events"
)

// Store persists orders. Every lookup is restricted to one channel.
type Store interface {
	FindByID(ctx context.Context, channelID, id string) (*Order, error)
	FindByCode(ctx context.Context, channelID, code string) (*Order, error)
	FindActiveBySession(ctx context.Context, channelID, sessionID string) (*Order, error)
	// UpdateState moves the order from one state to another, returning
	// ErrStateConflict if the stored state is no longer from.
	UpdateState(ctx context.Context, channelID, id string, from, to State) error
	// RecordPayment locks the order row, checks it is still in from, inserts
	// the payment and moves the order to to in a single transaction.
	RecordPayment(ctx context.Context, channelID string, p Payment, from, to State) error
}

// MethodLookup maps a channel's payment method code to its handler code.
// An unknown or disabled method yields an empty handler code.
type MethodLookup interface {
	HandlerCode(ctx context.Context, channelID, methodCode string) (string, error)
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Service implements the order operations the payment flow relies on.
type Service struct {
	Store    Store
	Methods  MethodLookup
	Handlers map[string]PaymentHandler
	Events   Emitter
	Logger   zerolog.Logger
	Now      func() time.Time
}

// NewService wires a Service with the given payment handlers registered by code.
func NewService(store Store, methods MethodLookup, emitter Emitter, logger zerolog.Logger, handlers ...PaymentHandler) *Service {
	byCode := make(map[string]PaymentHandler, len(handlers))
	for _, h := range handlers {
		byCode[h.Code()] = h
	}
	return &Service{Store: store, Methods: methods, Handlers: byCode, Events: emitter, Logger: logger, Now: time.Now}
}

// FindByCode returns the order with the given code in the caller's channel.
func (s *Service) FindByCode(ctx context.Context, code string) (*Order, error) {
	channelID, err := channelFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.Store.FindByCode(ctx, channelID, strings.TrimSpace(code))
}

// ActiveOrder returns the order being checked out by the session in context,
// or nil when the session has none.
func (s *Service) ActiveOrder(ctx context.Context) (*Order, error) {
	channelID, err := channelFrom(ctx)
	if err != nil {
		return nil, err
	}
	sessionID, ok := common.SessionID(ctx)
	if !ok {
		return nil, nil
	}
	ord, err := s.Store.FindActiveBySession(ctx, channelID, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ord, nil
}

// TransitionToState moves an order to another lifecycle state. Refusals are
// returned as *TransitionError.
func (s *Service) TransitionToState(ctx context.Context, id string, to State) (*Order, error) {
	channelID, err := channelFrom(ctx)
	if err != nil {
		return nil, err
	}
	ord, err := s.Store.FindByID(ctx, channelID, id)
	if err != nil {
		return nil, err
	}
	if terr := checkTransition(ord, to); terr != nil {
		return nil, terr
	}
	from := ord.State
	if err := s.Store.UpdateState(ctx, channelID, ord.ID, from, to); err != nil {
		if errors.Is(err, ErrStateConflict) {
			return nil, &TransitionError{From: from, To: to, Message: "order state changed concurrently"}
		}
		return nil, fmt.Errorf("order: update state: %w", err)
	}
	ord.State = to
	s.emit(ctx, stateTopic(to), ord)
	return ord, nil
}

// AddPayment asks the method's handler to create a payment and records it.
// A settled payment moves the order to PaymentSettled in the same write.
func (s *Service) AddPayment(ctx context.Context, id string, in PaymentInput) (*Order, error) {
	channelID, err := channelFrom(ctx)
	if err != nil {
		return nil, err
	}
	ord, err := s.Store.FindByID(ctx, channelID, id)
	if err != nil {
		return nil, err
	}
	if ord.State != StateArrangingPayment {
		return nil, &PaymentError{
			Code:    CodePaymentStateError,
			Message: fmt.Sprintf("a payment cannot be added to an order in state %s", ord.State),
		}
	}
	handler, err := s.handlerFor(ctx, channelID, in.Method)
	if err != nil {
		return nil, err
	}

	result, err := handler.CreatePayment(ctx, ord, outstanding(ord), in.Metadata)
	if err != nil {
		return nil, &PaymentError{Code: CodePaymentFailed, Message: err.Error(), Err: err}
	}
	metadata, err := json.Marshal(result.Metadata)
	if err != nil {
		return nil, &PaymentError{Code: CodePaymentFailed, Message: "payment metadata is not serialisable", Err: err}
	}
	p := Payment{
		ID:            uuid.NewString(),
		OrderID:       ord.ID,
		Method:        in.Method,
		Amount:        result.Amount,
		State:         result.State,
		TransactionID: result.TransactionID,
		Metadata:      metadata,
		CreatedAt:     s.now(),
	}
	to := ord.State
	if p.State == PaymentSettled && p.Amount >= outstanding(ord) {
		to = StatePaymentSettled
	}
	if err := s.Store.RecordPayment(ctx, channelID, p, ord.State, to); err != nil {
		switch {
		case errors.Is(err, ErrDuplicatePayment):
			return nil, &PaymentError{
				Code:    CodeDuplicatePayment,
				Message: fmt.Sprintf("transaction %s is already recorded for order %s", p.TransactionID, ord.Code),
				Err:     err,
			}
		case errors.Is(err, ErrStateConflict):
			return nil, &PaymentError{
				Code:    CodePaymentStateError,
				Message: fmt.Sprintf("order %s left state %s before the payment was recorded", ord.Code, ord.State),
				Err:     err,
			}
		default:
			return nil, fmt.Errorf("order: record payment: %w", err)
		}
	}
	ord.Payments = append(ord.Payments, p)
	ord.State = to
	if to == StatePaymentSettled {
		s.emit(ctx, events.TopicOrderPaid, ord)
	}
	return ord, nil
}

func (s *Service) handlerFor(ctx context.Context, channelID, method string) (PaymentHandler, error) {
	handlerCode, err := s.Methods.HandlerCode(ctx, channelID, method)
	if err != nil {
		return nil, fmt.Errorf("order: lookup payment method: %w", err)
	}
	handler, ok := s.Handlers[handlerCode]
	if handlerCode == "" || !ok {
		return nil, &PaymentError{
			Code:    CodeIneligiblePaymentMethod,
			Message: fmt.Sprintf("payment method %q is not available", method),
		}
	}
	return handler, nil
}

func (s *Service) emit(ctx context.Context, topic string, ord *Order) {
	if s.Events == nil || topic == "" {
		return
	}
	payload := map[string]any{
		"orderId":   ord.ID,
		"orderCode": ord.Code,
		"channelId": ord.ChannelID,
		"state":     ord.State,
		"total":     ord.TotalWithTax,
		"currency":  ord.CurrencyCode,
	}
	if _, err := s.Events.Emit(ctx, topic, ord.ID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Str("order_code", ord.Code).Msg("order_event_emit_failed")
	}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func stateTopic(to State) string {
	switch to {
	case StateCancelled:
		return events.TopicOrderCanceled
	case StateShipped:
		return events.TopicOrderShipped
	case StateDelivered:
		return events.TopicOrderDelivered
	default:
		return ""
	}
}

func outstanding(ord *Order) int64 {
	remaining := ord.TotalWithTax
	for _, p := range ord.Payments {
		if p.State == PaymentSettled {
			remaining -= p.Amount
		}
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

func channelFrom(ctx context.Context) (string, error) {
	scope, ok := common.ScopeFrom(ctx)
	if !ok || scope.ChannelID == "" {
		return "", ErrNoChannel
	}
	return scope.ChannelID, nil
}
