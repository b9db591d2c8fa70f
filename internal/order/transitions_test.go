package order_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-btcpay/internal/order"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to order.State
		want     bool
	}{
		{order.StateAddingItems, order.StateArrangingShipping, true},
		{order.StateArrangingShipping, order.StateArrangingPayment, true},
		{order.StateArrangingPayment, order.StatePaymentSettled, true},
		{order.StatePaymentSettled, order.StateShipped, true},
		{order.StateShipped, order.StateDelivered, true},
		{order.StatePaymentSettled, order.StateArrangingPayment, false},
		{order.StateDelivered, order.StateCancelled, false},
		{order.StateCancelled, order.StateAddingItems, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, order.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestSettledEquivalentStates(t *testing.T) {
	require.True(t, order.StatePaymentSettled.SettledEquivalent())
	require.True(t, order.StateShipped.SettledEquivalent())
	require.True(t, order.StateDelivered.SettledEquivalent())
	require.False(t, order.StateArrangingPayment.SettledEquivalent())
	require.False(t, order.StateCancelled.SettledEquivalent())
	require.Empty(t, order.NextStates(order.StateDelivered))
}
