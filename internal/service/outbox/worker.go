package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bms/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond

	// maxBackoff ограничивает экспоненциальную паузу между попытками,
	// чтобы один залипший брокер не останавливал выгрузку батча надолго.
	maxBackoff = 30 * time.Second
)

var (
	outboxPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_outbox_publish_attempts_total",
		Help: "Total number of outbox publish attempts grouped by result.",
	}, []string{"result"})
	outboxPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bms_outbox_pending_records",
		Help: "Current number of pending records in transactional outbox.",
	})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bms_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
)

type options struct {
	logger         *log.Entry
	dlqPublisher   domain.OutboxPublisher
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*options)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(o *options) { o.logger = logger }
}

// WithDLQPublisher задаёт publisher для записей, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(o *options) { o.dlqPublisher = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(o *options) { o.pollInterval = interval }
}

// WithBatchSize задаёт сколько записей забирается за один цикл.
func WithBatchSize(batchSize int) Option {
	return func(o *options) { o.batchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток публикации до DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(o *options) { o.maxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт базовую паузу перед повторной попыткой.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(o *options) { o.retryBaseDelay = delay }
}

// Worker доводит записи transactional outbox до брокера. События выдачи
// доступа (OrderFulfilled) — единственный канал, по которому LMS и
// нотификации узнают об исполненном заказе, поэтому запись остаётся pending
// до подтверждения брокера и переотправляется следующим циклом: доставка
// at-least-once, дедупликация на стороне подписчика по id записи.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	opts      options
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, option ...Option) *Worker {
	opts := options{
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, apply := range option {
		apply(&opts)
	}

	if opts.logger == nil {
		opts.logger = log.WithField("component", "outbox-worker")
	}
	if opts.pollInterval <= 0 {
		opts.pollInterval = defaultPollInterval
	}
	if opts.batchSize <= 0 {
		opts.batchSize = defaultBatchSize
	}
	if opts.maxAttempts <= 0 {
		opts.maxAttempts = defaultMaxAttempts
	}
	if opts.retryBaseDelay < 0 {
		opts.retryBaseDelay = 0
	}

	return &Worker{repo: repo, publisher: publisher, opts: opts}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.opts.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.opts.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce забирает один батч pending-записей и доводит каждую до
// брокера либо до DLQ.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.observeBacklog()

	batch, err := w.repo.PullPending(w.opts.batchSize)
	if err != nil {
		w.opts.logger.WithError(err).Warn("failed to pull pending outbox records")
		return
	}
	if len(batch) == 0 {
		return
	}

	for _, record := range batch {
		if ctx.Err() != nil {
			return
		}
		w.dispatch(ctx, record)
	}

	w.observeBacklog()
}

// dispatch решает судьбу одной записи: sent после подтверждения брокера,
// failed + копия в DLQ после исчерпания попыток.
func (w *Worker) dispatch(ctx context.Context, record domain.OutboxMessage) {
	err := w.publish(ctx, record)
	if err == nil {
		if markErr := w.repo.MarkSent(record.ID); markErr != nil {
			w.opts.logger.WithError(markErr).WithField("outbox_id", record.ID).Warn("failed to mark outbox record as sent")
		}
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Остановка сервиса: запись остаётся pending и уйдёт после рестарта.
		return
	}

	w.opts.logger.WithError(err).WithFields(log.Fields{
		"outbox_id":  record.ID,
		"event_type": record.EventType,
	}).Error("outbox publish failed after retries")
	outboxPublishAttempts.WithLabelValues("failed").Inc()

	if dlqErr := w.deadLetter(record, err); dlqErr != nil {
		w.opts.logger.WithError(dlqErr).WithField("outbox_id", record.ID).Warn("failed to publish to DLQ")
		outboxPublishAttempts.WithLabelValues("dlq_failed").Inc()
	}
	if markErr := w.repo.MarkFailed(record.ID); markErr != nil {
		w.opts.logger.WithError(markErr).WithField("outbox_id", record.ID).Warn("failed to mark outbox record as failed")
	}
}

func (w *Worker) publish(ctx context.Context, record domain.OutboxMessage) error {
	var lastErr error

	for attempt := 1; attempt <= w.opts.maxAttempts; attempt++ {
		if attempt > 1 {
			if delay := backoff(w.opts.retryBaseDelay, attempt-1); delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}
		}

		if err := w.publisher.Publish(record); err != nil {
			lastErr = err
			outboxPublishAttempts.WithLabelValues("retry_error").Inc()
			continue
		}

		outboxPublishAttempts.WithLabelValues("sent").Inc()
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", w.opts.maxAttempts, lastErr)
}

// deadLetterRecord сохраняет исходную запись вместе с причиной, по которой
// её не удалось доставить: этого достаточно для ручного переигрывания.
type deadLetterRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

func (w *Worker) deadLetter(record domain.OutboxMessage, publishErr error) error {
	if w.opts.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(deadLetterRecord{
		OutboxID:      record.ID,
		AggregateType: record.AggregateType,
		AggregateID:   record.AggregateID,
		EventType:     record.EventType,
		Payload:       json.RawMessage(record.Payload),
		PublishError:  publishErr.Error(),
		FailedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	dead := domain.OutboxMessage{
		ID:            record.ID,
		AggregateType: record.AggregateType,
		AggregateID:   record.AggregateID,
		EventType:     record.EventType,
		Payload:       payload,
	}
	if err := w.opts.dlqPublisher.Publish(dead); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}

	return nil
}

func (w *Worker) observeBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.opts.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxPendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		outboxOldestPendingAge.Set(0)
		return
	}

	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	outboxOldestPendingAge.Set(age)
}

// backoff отдаёт паузу перед попыткой номер retries+1: base, 2*base, 4*base…
// с потолком maxBackoff.
func backoff(base time.Duration, retries int) time.Duration {
	if base <= 0 || retries < 1 {
		return 0
	}

	delay := base
	for i := 1; i < retries; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}
