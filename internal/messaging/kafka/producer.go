package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// clientID попадает в метаданные брокера и в клиентские квоты Kafka.
const clientID = "bms-booking-service"

// Producer — синхронный издатель событий бронирования. Синхронный режим
// выбран сознательно: outbox worker подтверждает MarkSent только после
// ответа брокера, асинхронная отправка сломала бы at-least-once доставку.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
}

// NewProducer подключается к брокерам с настройками под события заказов:
// идемпотентный producer, подтверждение всеми in-sync репликами, snappy.
func NewProducer(brokers []string) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Retry.Max = 5
	// Идемпотентность исключает дубли при ретраях на уровне брокера и
	// требует не более одного in-flight запроса на соединение.
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect kafka brokers %v: %w", brokers, err)
	}

	return &Producer{
		sync:   sp,
		logger: log.WithField("component", "kafka-producer"),
	}, nil
}

// PublishEvent сериализует событие в JSON и отправляет его с заданным ключом.
// Ключ — идентификатор заказа: события одного заказа попадают в одну
// партицию и читаются подписчиками в порядке публикации.
func (p *Producer) PublishEvent(topic string, key string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", topic, err)
	}

	partition, offset, err := p.sync.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(body),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("event published")

	return nil
}

// Close дожидается отправки сообщений в полёте и закрывает соединение.
func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
