package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики цикла бронирования и оплаты.
type CheckoutMetrics struct {
	// Счётчики операций
	checkoutStarted   prometheus.Counter
	checkoutCompleted prometheus.Counter
	checkoutFailed    prometheus.Counter
	ordersCancelled   prometheus.Counter
	ordersRefunded    prometheus.Counter

	// Callback-и по результату обработки
	callbacks *prometheus.CounterVec

	// Выдача доступа и outbox
	fulfillments prometheus.Counter
	outboxEvents prometheus.Counter

	// Резервы слотов
	slotsReserved prometheus.Counter
	slotsReleased prometheus.Counter

	// Гистограммы времени выполнения
	checkoutDuration prometheus.Histogram

	// Gauge для заказов, ожидающих оплату
	awaitingPayment prometheus.Gauge
}

// NewCheckoutMetrics создаёт новый экземпляр метрик.
func NewCheckoutMetrics() *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkoutStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_checkout_started_total",
			Help: "Total number of checkout operations started",
		}),
		checkoutCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_checkout_completed_total",
			Help: "Total number of checkout operations completed successfully",
		}),
		checkoutFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_checkout_failed_total",
			Help: "Total number of checkout operations failed",
		}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_orders_cancelled_total",
			Help: "Total number of orders cancelled",
		}),
		ordersRefunded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_orders_refunded_total",
			Help: "Total number of orders refunded",
		}),
		callbacks: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "bms_payment_callbacks_total",
			Help: "Total number of payment callbacks by processing result",
		}, []string{"result"}),
		fulfillments: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_fulfillments_total",
			Help: "Total number of enrollments granted",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		slotsReserved: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_slots_reserved_total",
			Help: "Total number of slot seats reserved",
		}),
		slotsReleased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_slots_released_total",
			Help: "Total number of slot seats released",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "bms_checkout_duration_seconds",
			Help:    "Duration of checkout operations in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		awaitingPayment: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "bms_orders_awaiting_payment",
			Help: "Number of orders currently awaiting payment",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordCheckoutStarted увеличивает счётчик начатых checkout-ов.
func (m *CheckoutMetrics) RecordCheckoutStarted() {
	m.checkoutStarted.Inc()
}

// RecordCheckoutCompleted увеличивает счётчик успешных checkout-ов.
func (m *CheckoutMetrics) RecordCheckoutCompleted() {
	m.checkoutCompleted.Inc()
}

// RecordCheckoutFailed увеличивает счётчик неудачных checkout-ов.
func (m *CheckoutMetrics) RecordCheckoutFailed() {
	m.checkoutFailed.Inc()
}

// RecordOrderCancelled увеличивает счётчик отменённых заказов.
func (m *CheckoutMetrics) RecordOrderCancelled() {
	m.ordersCancelled.Inc()
}

// RecordOrderRefunded увеличивает счётчик возвратов.
func (m *CheckoutMetrics) RecordOrderRefunded() {
	m.ordersRefunded.Inc()
}

// RecordCallback увеличивает счётчик callback-ов с меткой результата.
func (m *CheckoutMetrics) RecordCallback(result string) {
	m.callbacks.WithLabelValues(result).Inc()
}

// RecordFulfillment увеличивает счётчик выданных доступов.
func (m *CheckoutMetrics) RecordFulfillment() {
	m.fulfillments.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordSlotReserved увеличивает счётчик занятых мест.
func (m *CheckoutMetrics) RecordSlotReserved() {
	m.slotsReserved.Inc()
}

// RecordSlotReleased увеличивает счётчик освобождённых мест.
func (m *CheckoutMetrics) RecordSlotReleased() {
	m.slotsReleased.Inc()
}

// RecordCheckoutDuration записывает время выполнения checkout.
func (m *CheckoutMetrics) RecordCheckoutDuration(duration time.Duration) {
	m.checkoutDuration.Observe(duration.Seconds())
}

// SetAwaitingPayment выставляет текущее число заказов в ожидании оплаты.
func (m *CheckoutMetrics) SetAwaitingPayment(n int) {
	m.awaitingPayment.Set(float64(n))
}
