package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	// Создаем mock producer
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		sync:   mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	// Настраиваем ожидания
	mockProducer.ExpectSendMessageAndSucceed()

	event := NewOrderEvent(
		EventTypeOrderCreated,
		"test-order-123",
		"user-1",
		"created",
		map[string]interface{}{
			"subject_id": "course-go",
		},
	)

	// Публикуем событие
	err := producer.PublishEvent(TopicOrderEvents, "test-order-123", event)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Проверяем, что все ожидания выполнены
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	// Создаем mock producer с ошибкой
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		sync:   mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	// Настраиваем ожидание ошибки
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	event := NewOrderEvent(EventTypeOrderCreated, "test-order-123", "user-1", "created", nil)

	// Публикуем событие
	err := producer.PublishEvent(TopicOrderEvents, "test-order-123", event)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewOrderEvent(t *testing.T) {
	orderID := "order-123"
	userID := "user-1"
	status := "payment_confirmed"
	metadata := map[string]interface{}{
		"amount": 990000,
	}

	event := NewOrderEvent(EventTypeOrderConfirmed, orderID, userID, status, metadata)

	if event.EventType != EventTypeOrderConfirmed {
		t.Errorf("expected event type %s, got %s", EventTypeOrderConfirmed, event.EventType)
	}

	if event.OrderID != orderID {
		t.Errorf("expected order id %s, got %s", orderID, event.OrderID)
	}

	if event.UserID != userID {
		t.Errorf("expected user id %s, got %s", userID, event.UserID)
	}

	if event.Status != status {
		t.Errorf("expected status %s, got %s", status, event.Status)
	}

	// Проверяем, что timestamp установлен
	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}

	if time.Since(event.Timestamp) > time.Second {
		t.Error("timestamp should be close to current time")
	}
}

func TestNewFulfillmentEvent(t *testing.T) {
	event := NewFulfillmentEvent(EventTypeOrderFulfilled, "order-123", "user-1", "course-go")

	if event.EventType != EventTypeOrderFulfilled {
		t.Errorf("expected event type %s, got %s", EventTypeOrderFulfilled, event.EventType)
	}

	if event.OrderID != "order-123" || event.UserID != "user-1" || event.SubjectID != "course-go" {
		t.Error("event fields not set correctly")
	}

	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}
}
