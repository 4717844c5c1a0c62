package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Checkout события
	EventTypeCheckoutStarted   EventType = "checkout.started"
	EventTypeCheckoutCompleted EventType = "checkout.completed"
	EventTypeCheckoutFailed    EventType = "checkout.failed"

	// Order события
	EventTypeOrderCreated   EventType = "order.created"
	EventTypeOrderConfirmed EventType = "order.confirmed"
	EventTypeOrderCancelled EventType = "order.cancelled"
	EventTypeOrderRefunded  EventType = "order.refunded"
	EventTypeOrderFailed    EventType = "order.failed"

	// Fulfillment события
	EventTypeOrderFulfilled  EventType = "fulfillment.granted"
	EventTypeAccessRevoked   EventType = "fulfillment.revoked"
	EventTypeSlotReserved    EventType = "slot.reserved"
	EventTypeSlotReleased    EventType = "slot.released"
)

// Topics для Kafka
const (
	TopicOrderEvents       = "bms.order.events"
	TopicFulfillmentEvents = "bms.fulfillment.events"
	TopicDeadLetterQueue   = "bms.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие жизненного цикла заказа
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	UserID    string                 `json:"user_id"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// FulfillmentEvent представляет событие выдачи или отзыва доступа
type FulfillmentEvent struct {
	EventType EventType `json:"event_type"`
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	SubjectID string    `json:"subject_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, userID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		UserID:    userID,
		Status:    status,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// NewFulfillmentEvent создает новое событие выдачи доступа
func NewFulfillmentEvent(eventType EventType, orderID, userID, subjectID string) *FulfillmentEvent {
	return &FulfillmentEvent{
		EventType: eventType,
		OrderID:   orderID,
		UserID:    userID,
		SubjectID: subjectID,
		Timestamp: time.Now(),
	}
}
