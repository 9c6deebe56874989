package orders

const (
	TopicOrderPlaced        = "order.placed"
	TopicPaymentReconciled  = "order.payment.reconciled"
	TopicOrderCancelled     = "order.cancelled"
	TopicOrderStatusChanged = "order.status.changed"
)

// Partition key = order id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
