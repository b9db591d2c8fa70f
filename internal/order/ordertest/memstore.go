// Package ordertest provides an in-memory order store for tests.
package ordertest

import (
	"context"
	"sync"

	"github.com/noah-isme/toko-btcpay/internal/order"
)

// MemStore implements order.Store and order.MethodLookup in memory with the
// same guarantees as the Postgres store: compare-and-set state updates and a
// unique (order, transaction id) payment ledger.
type MemStore struct {
	mu      sync.Mutex
	orders  map[string]*order.Order
	methods map[string]string

	RecordCalls int
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{orders: map[string]*order.Order{}, methods: map[string]string{}}
}

// Put stores a copy of ord.
func (m *MemStore) Put(ord order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[ord.ID] = clone(&ord)
}

// Get returns a copy of the stored order.
func (m *MemStore) Get(id string) (*order.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.orders[id]
	if !ok {
		return nil, false
	}
	return clone(ord), true
}

// AddMethod registers a payment method code for a channel.
func (m *MemStore) AddMethod(channelID, methodCode, handlerCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods[channelID+"/"+methodCode] = handlerCode
}

func (m *MemStore) FindByID(_ context.Context, channelID, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.orders[id]
	if !ok || ord.ChannelID != channelID {
		return nil, order.ErrNotFound
	}
	return clone(ord), nil
}

func (m *MemStore) FindByCode(_ context.Context, channelID, code string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ord := range m.orders {
		if ord.Code == code && ord.ChannelID == channelID {
			return clone(ord), nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *MemStore) FindActiveBySession(_ context.Context, channelID, sessionID string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ord := range m.orders {
		if ord.SessionID == sessionID && ord.ChannelID == channelID && ord.State.Active() {
			return clone(ord), nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *MemStore) UpdateState(_ context.Context, channelID, id string, from, to order.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.orders[id]
	if !ok || ord.ChannelID != channelID {
		return order.ErrNotFound
	}
	if ord.State != from {
		return order.ErrStateConflict
	}
	ord.State = to
	return nil
}

func (m *MemStore) RecordPayment(_ context.Context, channelID string, p order.Payment, from, to order.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordCalls++
	ord, ok := m.orders[p.OrderID]
	if !ok || ord.ChannelID != channelID {
		return order.ErrNotFound
	}
	if ord.State != from {
		return order.ErrStateConflict
	}
	for _, existing := range ord.Payments {
		if existing.TransactionID == p.TransactionID {
			return order.ErrDuplicatePayment
		}
	}
	ord.Payments = append(ord.Payments, p)
	ord.State = to
	return nil
}

func (m *MemStore) HandlerCode(_ context.Context, channelID, methodCode string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.methods[channelID+"/"+methodCode], nil
}

func clone(ord *order.Order) *order.Order {
	c := *ord
	c.Lines = append([]order.Line(nil), ord.Lines...)
	c.ShippingLines = append([]order.ShippingLine(nil), ord.ShippingLines...)
	c.Payments = append([]order.Payment(nil), ord.Payments...)
	return &c
}
