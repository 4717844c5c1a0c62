package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bms/internal/domain"
	"github.com/vladislavdragonenkov/bms/internal/service/allocator"
	"github.com/vladislavdragonenkov/bms/internal/service/ledger"
)

const (
	defaultSweepInterval          = time.Minute
	defaultSweepBatchSize         = 100
	defaultAwaitingPaymentTimeout = 30 * time.Minute
)

var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_sweep_runs_total",
		Help: "Total number of sweep runs grouped by result.",
	}, []string{"result"})
	sweepReservationsReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bms_sweep_reservations_released_total",
		Help: "Total number of expired slot reservations released.",
	})
	sweepOrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bms_sweep_orders_cancelled_total",
		Help: "Total number of stale awaiting_payment orders cancelled.",
	})
)

// Options задает параметры фонового sweeper-а.
type Options struct {
	Logger                 *log.Entry
	Interval               time.Duration
	BatchSize              int
	AwaitingPaymentTimeout time.Duration
}

// Option настраивает Sweeper.
type Option func(*Options)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между циклами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задает размер batch одного цикла.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// WithAwaitingPaymentTimeout задает срок жизни заказа в awaiting_payment.
func WithAwaitingPaymentTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.AwaitingPaymentTimeout = timeout
	}
}

// Sweeper периодически освобождает просроченные резервы слотов и отменяет
// заказы, застрявшие в awaiting_payment. Заказы с подтверждённой оплатой
// резерв не теряют, даже если TTL формально истёк.
type Sweeper struct {
	ledger    *ledger.Service
	allocator *allocator.Service

	logger          *log.Entry
	interval        time.Duration
	batchSize       int
	awaitingTimeout time.Duration
}

// New создает sweeper просроченных резервов и заказов.
func New(ledgerSvc *ledger.Service, allocatorSvc *allocator.Service, options ...Option) *Sweeper {
	opts := Options{
		Interval:               defaultSweepInterval,
		BatchSize:              defaultSweepBatchSize,
		AwaitingPaymentTimeout: defaultAwaitingPaymentTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sweeper")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}
	if opts.AwaitingPaymentTimeout <= 0 {
		opts.AwaitingPaymentTimeout = defaultAwaitingPaymentTimeout
	}

	return &Sweeper{
		ledger:          ledgerSvc,
		allocator:       allocatorSvc,
		logger:          logger,
		interval:        opts.Interval,
		batchSize:       opts.BatchSize,
		awaitingTimeout: opts.AwaitingPaymentTimeout,
	}
}

// Run запускает периодический sweep до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx, time.Now().UTC())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, time.Now().UTC())
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, now time.Time) {
	released, cancelled, err := s.SweepOnce(ctx, now)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		sweepRunsTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).Warn("sweep run failed")
		return
	}

	sweepRunsTotal.WithLabelValues("ok").Inc()
	if released > 0 || cancelled > 0 {
		s.logger.WithFields(log.Fields{
			"reservations_released": released,
			"orders_cancelled":      cancelled,
		}).Info("sweep completed")
	}
}

// SweepOnce выполняет один проход: возвращает число освобождённых резервов
// и отменённых заказов.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	released, err := s.allocator.ExpireStale(now, s.batchSize, s.shouldRelease)
	if err != nil {
		return 0, 0, err
	}
	if released > 0 {
		sweepReservationsReleasedTotal.Add(float64(released))
	}

	cancelled, err := s.cancelStaleOrders(ctx, now)
	if err != nil {
		return released, cancelled, err
	}

	return released, cancelled, nil
}

// shouldRelease решает судьбу просроченного резерва: заказ с подтверждённой
// оплатой или уже исполненный место не теряет.
func (s *Sweeper) shouldRelease(orderID string) bool {
	order, err := s.ledger.Get(orderID)
	if err != nil {
		// Осиротевший резерв без заказа освобождается.
		return true
	}
	switch order.Status {
	case domain.OrderStatusPaymentConfirmed, domain.OrderStatusFulfilled:
		return false
	default:
		return true
	}
}

func (s *Sweeper) cancelStaleOrders(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.awaitingTimeout)
	stale, err := s.ledger.ListAwaitingPaymentBefore(cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, order := range stale {
		if err := ctx.Err(); err != nil {
			return cancelled, err
		}

		if _, err := s.ledger.Transition(order.ID, domain.OrderStatusCancelled); err != nil {
			// Оплата могла подтвердиться между выборкой и отменой.
			s.logger.WithError(err).WithField("order_id", order.ID).Debug("stale order transition skipped")
			continue
		}

		if order.SlotID != "" {
			if err := s.allocator.Release(order.SlotID, order.ID); err != nil {
				s.logger.WithError(err).WithFields(log.Fields{
					"order_id": order.ID,
					"slot_id":  order.SlotID,
				}).Warn("release slot for stale order failed")
			}
		}

		cancelled++
		sweepOrdersCancelledTotal.Inc()
	}

	return cancelled, nil
}
