package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/bms/internal/domain"
)

// outboxEnvelope — формат, в котором outbox-записи уходят подписчикам.
// Сырой payload заворачивается вместе с метаданными, чтобы consumer мог
// маршрутизировать по event_type и дедуплицировать по id, не разбирая тело.
type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// OutboxTopicPublisher доставляет записи transactional outbox в один topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)

// NewOutboxPublisher создаёт паблишер для outbox worker-а. Пустой topic
// означает общий поток событий заказов.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// Publish отправляет запись с ключом агрегата: все события одного заказа
// сохраняют порядок внутри партиции.
func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("outbox publisher: producer is not configured")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	return p.producer.PublishEvent(p.topic, key, outboxEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	})
}
