package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config описывает настройки запуска сервиса. Все значения читаются из
// переменных окружения; пустой DATABASE_URL включает in-memory хранилище,
// пустой KAFKA_BROKERS отключает публикацию событий в брокер.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	DatabaseURL  string `env:"DATABASE_URL"`
	KafkaBrokers string `env:"KAFKA_BROKERS"`

	WebhookSecret string `env:"WEBHOOK_SECRET" envDefault:"dev-webhook-secret"`

	ReservationTTL         time.Duration `env:"RESERVATION_TTL" envDefault:"15m"`
	AwaitingPaymentTimeout time.Duration `env:"AWAITING_PAYMENT_TIMEOUT" envDefault:"30m"`
	SweepInterval          time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	RefundRevokesAccess bool `env:"REFUND_REVOKES_ACCESS" envDefault:"false"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadConfig читает конфигурацию из окружения.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config from env: %w", err)
	}

	if cfg.ReservationTTL <= 0 {
		return Config{}, fmt.Errorf("RESERVATION_TTL must be positive, got %s", cfg.ReservationTTL)
	}
	if cfg.AwaitingPaymentTimeout <= 0 {
		return Config{}, fmt.Errorf("AWAITING_PAYMENT_TIMEOUT must be positive, got %s", cfg.AwaitingPaymentTimeout)
	}

	return cfg, nil
}
