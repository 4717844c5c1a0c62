package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bms/internal/messaging/kafka"
)

// initKafkaProducer поднимает producer событий бронирования. Kafka опциональна:
// пустой KAFKA_BROKERS оставляет сервис без внешних событий, а ошибка
// подключения не мешает принимать заказы — outbox накапливает записи до
// появления брокера.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	var list []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			list = append(list, broker)
		}
	}
	if len(list) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(list)
	if err != nil {
		logger.WithError(err).Warn("kafka недоступна, события бронирования публиковаться не будут")
		return nil, err
	}

	logger.WithField("brokers", list).Info("kafka producer готов")
	return producer, nil
}

func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("ошибка закрытия kafka producer")
	}
}
