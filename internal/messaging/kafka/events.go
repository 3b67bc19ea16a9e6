package kafka

import "github.com/vladislavdragonenkov/oms-saga/internal/domain"

// Topics для Kafka
const (
	TopicOrderEvents     = "oms.order.events"
	TopicDeadLetterQueue = "oms.order.events.dlq"
)

// Заголовки сообщений. Контекст трассировки (traceparent) добавляется отдельно.
const (
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderOriginalTopic = "x-original-topic"
)

// EventType определяет тип события заказа в брокере.
type EventType string

const (
	EventTypeOrderConfirmed EventType = domain.OutboxEventOrderConfirm
	EventTypeOrderFailed    EventType = domain.OutboxEventOrderFailed
)

// Known сообщает, публикуется ли тип события оркестратором.
func (t EventType) Known() bool {
	return t == EventTypeOrderConfirmed || t == EventTypeOrderFailed
}
