package fulfillment

import (
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bms/internal/domain"
	"github.com/vladislavdragonenkov/bms/internal/service/allocator"
	"github.com/vladislavdragonenkov/bms/internal/service/ledger"
)

// Dispatcher выдаёт доступ по оплаченным заказам. Выдача exactly-once:
// уникальность (user, subject) в хранилище гасит двойное исполнение при
// любых гонках и повторных доставках callback-ов.
type Dispatcher struct {
	ledger      *ledger.Service
	enrollments domain.EnrollmentRepository
	allocator   *allocator.Service
	outbox      domain.OutboxRepository
	logger      *log.Entry
}

// NewDispatcher создаёт диспетчер исполнения заказов.
func NewDispatcher(
	ledgerSvc *ledger.Service,
	enrollments domain.EnrollmentRepository,
	allocatorSvc *allocator.Service,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Dispatcher {
	if logger == nil {
		logger = log.New().WithField("component", "fulfillment")
	}
	return &Dispatcher{
		ledger:      ledgerSvc,
		enrollments: enrollments,
		allocator:   allocatorSvc,
		outbox:      outbox,
		logger:      logger,
	}
}

// Fulfill исполняет заказ: создаёт enrollment, закрепляет резерв слота и
// переводит заказ в fulfilled. Любой повторный вызов для уже исполненного
// заказа — no-op. Заказ без подтверждённой оплаты не исполняется.
func (d *Dispatcher) Fulfill(orderID string) error {
	order, err := d.ledger.Get(orderID)
	if err != nil {
		return err
	}

	switch order.Status {
	case domain.OrderStatusFulfilled:
		return nil
	case domain.OrderStatusPaymentConfirmed:
		// Единственный статус, из которого разрешена выдача.
	default:
		d.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"status":   order.Status,
		}).Debug("fulfill skipped: payment not confirmed")
		return nil
	}

	now := time.Now().UTC()
	enrollment := domain.Enrollment{
		UserID:      order.UserID,
		SubjectID:   order.SubjectID,
		SubjectType: order.SubjectType,
		OrderID:     order.ID,
		FulfilledAt: now,
	}
	if err := d.enrollments.Create(enrollment); err != nil {
		if !errors.Is(err, domain.ErrEnrollmentExists) {
			return err
		}
		// Доступ уже выдан конкурентным исполнением того же заказа.
		d.logger.WithFields(log.Fields{
			"order_id":   order.ID,
			"user_id":    order.UserID,
			"subject_id": order.SubjectID,
		}).Debug("enrollment already exists")
	}

	if order.SubjectType == domain.SubjectTypeConsultation && order.SlotID != "" {
		if err := d.allocator.Confirm(order.SlotID, order.ID); err != nil {
			d.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"slot_id":  order.SlotID,
			}).Warn("confirm slot reservation failed")
		}
	}

	fulfilled, err := d.ledger.Transition(order.ID, domain.OrderStatusFulfilled)
	if err != nil {
		// Конкурент успел исполнить заказ первым.
		if fresh, getErr := d.ledger.Get(order.ID); getErr == nil &&
			fresh.Status == domain.OrderStatusFulfilled {
			return nil
		}
		return err
	}

	d.emitFulfilled(fulfilled)

	d.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"user_id":    order.UserID,
		"subject_id": order.SubjectID,
	}).Info("order fulfilled")

	return nil
}

// Revoke отзывает выданный доступ после refund: enrollment удаляется,
// место в слоте возвращается. Повторный вызов безопасен.
func (d *Dispatcher) Revoke(order domain.Order) error {
	if err := d.enrollments.Delete(order.UserID, order.SubjectID); err != nil {
		if !errors.Is(err, domain.ErrEnrollmentNotFound) {
			return err
		}
	}

	if order.SubjectType == domain.SubjectTypeConsultation && order.SlotID != "" {
		if err := d.allocator.Reopen(order.SlotID, order.ID); err != nil {
			d.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"slot_id":  order.SlotID,
			}).Warn("reopen slot failed")
		}
	}

	d.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"user_id":    order.UserID,
		"subject_id": order.SubjectID,
	}).Info("access revoked")

	return nil
}

func (d *Dispatcher) emitFulfilled(order domain.Order) {
	fulfilledAt := order.UpdatedAt
	if order.FulfilledAt != nil {
		fulfilledAt = *order.FulfilledAt
	}

	payload, err := json.Marshal(map[string]interface{}{
		"order_id":     order.ID,
		"user_id":      order.UserID,
		"subject_type": order.SubjectType,
		"subject_id":   order.SubjectID,
		"fulfilled_at": fulfilledAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		d.logger.WithError(err).WithField("order_id", order.ID).Error("marshal fulfillment event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     "OrderFulfilled",
		Payload:       payload,
	}
	if _, err := d.outbox.Enqueue(msg); err != nil {
		d.logger.WithError(err).WithField("order_id", order.ID).Error("enqueue fulfillment event failed")
	}
}
