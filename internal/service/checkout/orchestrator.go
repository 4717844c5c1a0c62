package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bms/internal/domain"
	"github.com/vladislavdragonenkov/bms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/bms/internal/metrics"
	"github.com/vladislavdragonenkov/bms/internal/service/allocator"
	"github.com/vladislavdragonenkov/bms/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/bms/internal/service/ledger"
	"github.com/vladislavdragonenkov/bms/internal/service/payment"
)

// Request описывает checkout-запрос пользователя.
type Request struct {
	UserID         string
	SubjectType    domain.SubjectType
	SubjectID      string
	SlotID         string
	IdempotencyKey string
}

// Result — итог checkout: заказ и платёжный intent для оплаты.
type Result struct {
	Order  domain.Order
	Intent domain.PaymentIntent
}

// Orchestrator проводит заказ через создание, резерв слота и открытие
// платёжного intent с компенсациями на каждом шаге.
type Orchestrator struct {
	ledger        *ledger.Service
	allocator     *allocator.Service
	bridge        *payment.Bridge
	dispatcher    *fulfillment.Dispatcher
	logger        *log.Entry
	metrics       *metrics.CheckoutMetrics
	kafkaProducer *kafka.Producer // опциональный Kafka producer для event-driven архитектуры

	// RefundRevokesAccess управляет отзывом доступа при возврате средств.
	refundRevokesAccess bool
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(
	ledgerSvc *ledger.Service,
	allocatorSvc *allocator.Service,
	bridge *payment.Bridge,
	dispatcher *fulfillment.Dispatcher,
	logger *log.Entry,
	m *metrics.CheckoutMetrics,
) *Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &Orchestrator{
		ledger:     ledgerSvc,
		allocator:  allocatorSvc,
		bridge:     bridge,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    m,
	}
}

// WithKafka подключает опциональный Kafka producer.
func (o *Orchestrator) WithKafka(producer *kafka.Producer) *Orchestrator {
	o.kafkaProducer = producer
	return o
}

// WithRefundRevokesAccess включает отзыв доступа при refund.
func (o *Orchestrator) WithRefundRevokesAccess(revoke bool) *Orchestrator {
	o.refundRevokesAccess = revoke
	return o
}

// Checkout создаёт заказ, резервирует слот для консультаций и открывает
// платёжный intent. Идемпотентен по IdempotencyKey: повтор возвращает тот же
// заказ и тот же intent. Если слот занят, заказ компенсируется отменой.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordCheckoutStarted()
		defer func() {
			o.metrics.RecordCheckoutDuration(time.Since(start))
		}()
	}

	if req.SubjectType == domain.SubjectTypeConsultation && req.SlotID == "" {
		return Result{}, domain.ErrSlotRequired
	}

	order, err := o.ledger.CreateOrder(ledger.CreateOrderRequest{
		UserID:         req.UserID,
		SubjectType:    req.SubjectType,
		SubjectID:      req.SubjectID,
		SlotID:         req.SlotID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordCheckoutFailed()
		}
		return Result{}, err
	}

	switch order.Status {
	case domain.OrderStatusCreated:
		// Новый заказ либо повтор после сбоя до открытия intent.
		o.publishOrderEvent(kafka.EventTypeOrderCreated, order, nil)
	case domain.OrderStatusAwaitingPayment:
		// Повтор по ключу: резерв удержан, intent уже открыт — провайдер по
		// тому же idempotency-key вернёт тот же intent.
		intent, err := o.bridge.CreateIntent(ctx, order.ID)
		if err != nil {
			return Result{}, err
		}
		return Result{Order: order, Intent: intent}, nil
	default:
		// Повтор по ключу заказа, прошедшего оплату или завершённого: резерв
		// уже потреблён исполнением, повторять шаги нельзя.
		return Result{Order: order}, nil
	}

	if order.SubjectType == domain.SubjectTypeConsultation {
		if _, err := o.allocator.Reserve(order.SlotID, order.ID); err != nil {
			o.compensateReserve(order, err)
			if o.metrics != nil {
				o.metrics.RecordCheckoutFailed()
			}
			return Result{}, err
		}
		if o.metrics != nil {
			o.metrics.RecordSlotReserved()
		}
	}

	intent, err := o.bridge.CreateIntent(ctx, order.ID)
	if err != nil {
		// Заказ остаётся в created с удержанным резервом: intent можно
		// повторить, пока TTL резерва не истёк.
		o.logger.WithError(err).WithField("order_id", order.ID).Warn("create intent failed, checkout retryable")
		if o.metrics != nil {
			o.metrics.RecordCheckoutFailed()
		}
		return Result{}, err
	}

	order, err = o.ledger.Get(order.ID)
	if err != nil {
		return Result{}, err
	}

	if o.metrics != nil {
		o.metrics.RecordCheckoutCompleted()
	}
	o.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"external_ref": intent.ExternalRef,
	}).Info("checkout completed")

	return Result{Order: order, Intent: intent}, nil
}

// ReserveSlot резервирует слот для уже созданного заказа.
func (o *Orchestrator) ReserveSlot(orderID, slotID string) (time.Time, error) {
	order, err := o.ledger.AssignSlot(orderID, slotID)
	if err != nil {
		return time.Time{}, err
	}

	expiresAt, err := o.allocator.Reserve(slotID, order.ID)
	if err != nil {
		return time.Time{}, err
	}
	if o.metrics != nil {
		o.metrics.RecordSlotReserved()
	}

	o.publishOrderEvent(kafka.EventTypeSlotReserved, order, map[string]interface{}{
		"slot_id":    slotID,
		"expires_at": expiresAt.Format(time.RFC3339Nano),
	})

	return expiresAt, nil
}

// Cancel отменяет неоплаченный заказ и освобождает резерв слота. Повторная
// отмена — no-op. Оплаченный заказ отменить нельзя, только refund.
func (o *Orchestrator) Cancel(orderID string) error {
	order, err := o.ledger.Get(orderID)
	if err != nil {
		return err
	}

	if order.Status == domain.OrderStatusCancelled {
		return nil
	}

	if _, err := o.ledger.Transition(order.ID, domain.OrderStatusCancelled); err != nil {
		return err
	}

	if order.SlotID != "" {
		if err := o.allocator.Release(order.SlotID, order.ID); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"slot_id":  order.SlotID,
			}).Warn("release slot on cancel failed")
		} else if o.metrics != nil {
			o.metrics.RecordSlotReleased()
		}
	}

	if o.metrics != nil {
		o.metrics.RecordOrderCancelled()
	}
	o.publishOrderEvent(kafka.EventTypeOrderCancelled, order, nil)
	o.logger.WithField("order_id", order.ID).Info("order cancelled")

	return nil
}

// Refund возвращает средства по исполненному заказу и переводит его в
// refunded. При включённом refundRevokesAccess доступ отзывается и место в
// слоте возвращается; иначе доступ сохраняется. Повторный refund — no-op.
func (o *Orchestrator) Refund(ctx context.Context, orderID string) error {
	order, err := o.ledger.Get(orderID)
	if err != nil {
		return err
	}

	if order.Status == domain.OrderStatusRefunded {
		return nil
	}
	if order.Status != domain.OrderStatusFulfilled {
		return fmt.Errorf("%w: refund in status %s", domain.ErrIllegalTransition, order.Status)
	}

	event, err := o.bridge.Refund(ctx, order)
	if err != nil {
		return err
	}
	if event.Outcome != domain.PaymentOutcomeSuccess {
		return fmt.Errorf("%w: %s", domain.ErrGatewayDeclined, event.Reason)
	}

	if _, err := o.ledger.Transition(order.ID, domain.OrderStatusRefunded); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			// Конкурирующий refund успел первым.
			return nil
		}
		return err
	}

	if o.refundRevokesAccess {
		if err := o.dispatcher.Revoke(order); err != nil {
			o.logger.WithError(err).WithField("order_id", order.ID).Warn("revoke access failed")
		}
	}

	if o.metrics != nil {
		o.metrics.RecordOrderRefunded()
	}
	o.publishOrderEvent(kafka.EventTypeOrderRefunded, order, map[string]interface{}{
		"revoked": o.refundRevokesAccess,
	})
	o.logger.WithField("order_id", order.ID).Info("order refunded")

	return nil
}

// publishOrderEvent публикует событие заказа в Kafka (если producer настроен)
func (o *Orchestrator) publishOrderEvent(eventType kafka.EventType, order domain.Order, metadata map[string]interface{}) {
	if o.kafkaProducer == nil {
		return // Kafka не настроен, пропускаем
	}

	event := kafka.NewOrderEvent(eventType, order.ID, order.UserID, string(order.Status), metadata)
	if err := o.kafkaProducer.PublishEvent(kafka.TopicOrderEvents, order.ID, event); err != nil {
		// Логируем ошибку, но не прерываем обработку: Kafka опциональный
		o.logger.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"order_id":   order.ID,
		}).Warn("failed to publish order event to kafka")
	}
}

func (o *Orchestrator) compensateReserve(order domain.Order, rootErr error) {
	o.logger.WithError(rootErr).WithFields(log.Fields{
		"order_id": order.ID,
		"slot_id":  order.SlotID,
	}).Warn("slot reserve failed, cancelling order")

	if _, err := o.ledger.Transition(order.ID, domain.OrderStatusCancelled); err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("compensation cancel failed")
		return
	}
	o.publishOrderEvent(kafka.EventTypeCheckoutFailed, order, map[string]interface{}{
		"reason": rootErr.Error(),
	})
}
