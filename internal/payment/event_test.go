package payment_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-btcpay/internal/payment"
)

func TestDecodeEventShapes(t *testing.T) {
	cases := map[string]string{
		"envelope": `{"event":{"id":"evt-1","type":"InvoiceSettled","data":{"code":"inv-1","metadata":{"orderCode":"ORD-1","channelToken":"tok"}}}}`,
		"bare":     `{"id":"evt-1","type":"InvoiceSettled","data":{"code":"inv-1","metadata":{"orderCode":"ORD-1","channelToken":"tok"}}}`,
		"flat":     `{"deliveryId":"evt-1","type":"InvoiceSettled","invoiceId":"inv-1","metadata":{"orderCode":"ORD-1","channelToken":"tok"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			ev, err := payment.DecodeEvent([]byte(body))
			require.NoError(t, err)
			require.Equal(t, "evt-1", ev.ID)
			require.Equal(t, payment.EventInvoiceSettled, ev.Type)
			require.Equal(t, "inv-1", ev.Data.Code)
			require.Equal(t, "ORD-1", ev.Data.Metadata.OrderCode)
			require.Equal(t, "tok", ev.Data.Metadata.ChannelToken)
		})
	}
}

func TestDecodeEventRedeliveryKeepsOriginalID(t *testing.T) {
	ev, err := payment.DecodeEvent([]byte(`{"deliveryId":"del-2","originalDeliveryId":"del-1","type":"InvoiceSettled","invoiceId":"inv-1","metadata":{"orderCode":"ORD-1","channelToken":"tok"}}`))
	require.NoError(t, err)
	require.Equal(t, "del-1", ev.ID)
}

func TestDecodeEventErrors(t *testing.T) {
	for name, body := range map[string]string{
		"not json": `{`,
		"array":    `[]`,
		"no type":  `{"event":{"id":"evt-1"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := payment.DecodeEvent([]byte(body))
			require.Error(t, err)
		})
	}
}

func TestDecodeEventToleratesOddMetadata(t *testing.T) {
	ev, err := payment.DecodeEvent([]byte(`{"type":"InvoiceSettled","data":{"code":"inv-1","metadata":"oops"}}`))
	require.NoError(t, err)
	require.Empty(t, ev.Data.Metadata.OrderCode)
}
