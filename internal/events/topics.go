package events

// Topic constants for domain events emitted by the order lifecycle.
const (
	TopicOrderPaid      = "order.paid"
	TopicOrderCanceled  = "order.canceled"
	TopicOrderShipped   = "order.shipped"
	TopicOrderDelivered = "order.delivered"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicOrderPaid,
		TopicOrderCanceled,
		TopicOrderShipped,
		TopicOrderDelivered,
	}
}
