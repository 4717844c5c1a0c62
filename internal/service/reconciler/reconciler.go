package reconciler

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bms/internal/domain"
	"github.com/vladislavdragonenkov/bms/internal/metrics"
	"github.com/vladislavdragonenkov/bms/internal/service/allocator"
	"github.com/vladislavdragonenkov/bms/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/bms/internal/service/ledger"
)

// callbackPayload — провайдерский формат тела callback-а.
type callbackPayload struct {
	Outcome      string `json:"outcome"`
	ExternalRef  string `json:"external_ref"`
	ProviderTxID string `json:"provider_tx_id,omitempty"`
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency"`
	Reason       string `json:"reason,omitempty"`
}

// Service сводит асинхронные платёжные события с журналом заказов.
// Редьюсер Apply сходится к одному итоговому состоянию при любых повторных
// доставках и перестановках событий.
type Service struct {
	verifier   *Verifier
	ledger     *ledger.Service
	allocator  *allocator.Service
	dispatcher *fulfillment.Dispatcher
	logger     *log.Entry
	metrics    *metrics.CheckoutMetrics
}

// NewService создаёт reconciler платёжных событий.
func NewService(
	verifier *Verifier,
	ledgerSvc *ledger.Service,
	allocatorSvc *allocator.Service,
	dispatcher *fulfillment.Dispatcher,
	logger *log.Entry,
	m *metrics.CheckoutMetrics,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "reconciler")
	}
	return &Service{
		verifier:   verifier,
		ledger:     ledgerSvc,
		allocator:  allocatorSvc,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    m,
	}
}

// HandleCallback проверяет подпись, декодирует тело и применяет событие.
// Невалидная подпись отклоняется без каких-либо изменений состояния.
func (s *Service) HandleCallback(rawPayload []byte, signature string) error {
	if err := s.verifier.Verify(rawPayload, signature); err != nil {
		s.logger.Warn("callback signature rejected")
		if s.metrics != nil {
			s.metrics.RecordCallback("invalid_signature")
		}
		return err
	}

	var payload callbackPayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		if s.metrics != nil {
			s.metrics.RecordCallback("malformed")
		}
		return fmt.Errorf("%w: %v", domain.ErrPaymentEventInvalid, err)
	}

	event := domain.PaymentEvent{
		Outcome:      domain.PaymentOutcome(payload.Outcome),
		ExternalRef:  payload.ExternalRef,
		ProviderTxID: payload.ProviderTxID,
		AmountMinor:  payload.AmountMinor,
		Currency:     payload.Currency,
		Reason:       payload.Reason,
	}
	return s.Apply(event)
}

// Apply применяет нормализованное платёжное событие к заказу. Заказ под
// неизвестный ref не создаётся. Сумма и валюта события сверяются с заказом.
func (s *Service) Apply(event domain.PaymentEvent) error {
	if errs := event.Validate(); len(errs) > 0 {
		if s.metrics != nil {
			s.metrics.RecordCallback("malformed")
		}
		return fmt.Errorf("%w: %v", domain.ErrPaymentEventInvalid, errs[0])
	}

	order, err := s.ledger.GetByExternalRef(event.ExternalRef)
	if err != nil {
		if domain.IsNotFound(err) {
			s.logger.WithField("external_ref", event.ExternalRef).Warn("callback for unknown payment ref")
			if s.metrics != nil {
				s.metrics.RecordCallback("unknown_ref")
			}
			return domain.ErrUnknownPaymentRef
		}
		return err
	}

	if event.AmountMinor != order.AmountMinor || event.Currency != order.Currency {
		s.logger.WithFields(log.Fields{
			"order_id":     order.ID,
			"event_amount": event.AmountMinor,
			"order_amount": order.AmountMinor,
		}).Warn("callback amount mismatch")
		if s.metrics != nil {
			s.metrics.RecordCallback("amount_mismatch")
		}
		return domain.ErrAmountMismatch
	}

	switch event.Outcome {
	case domain.PaymentOutcomeSuccess:
		return s.applySuccess(order, event)
	case domain.PaymentOutcomeFailure:
		return s.applyFailure(order, event)
	default:
		return domain.ErrPaymentEventInvalid
	}
}

func (s *Service) applySuccess(order domain.Order, event domain.PaymentEvent) error {
	switch order.Status {
	case domain.OrderStatusCreated:
		// Callback обогнал ответ CreateIntent: заказ проводится через
		// awaiting_payment, минуя ожидание.
		if _, err := s.ledger.BindPaymentRef(order.ID, event.ExternalRef); err != nil {
			return err
		}
		fallthrough
	case domain.OrderStatusAwaitingPayment:
		if _, err := s.ledger.ConfirmPayment(order.ID, event.ProviderTxID); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordCallback("confirmed")
		}
		return s.dispatcher.Fulfill(order.ID)
	case domain.OrderStatusPaymentConfirmed, domain.OrderStatusFulfilled:
		// Повторная доставка: подтверждать нечего, но исполнение
		// доводится до конца, если оно оборвалось.
		if s.metrics != nil {
			s.metrics.RecordCallback("redelivery")
		}
		return s.dispatcher.Fulfill(order.ID)
	default:
		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"status":   order.Status,
		}).Warn("success callback for terminal order")
		if s.metrics != nil {
			s.metrics.RecordCallback("stale")
		}
		return fmt.Errorf("%w: success callback in status %s", domain.ErrStaleOrderState, order.Status)
	}
}

func (s *Service) applyFailure(order domain.Order, event domain.PaymentEvent) error {
	switch order.Status {
	case domain.OrderStatusCreated:
		// Неуспех обогнал ответ CreateIntent: заказ проводится через
		// awaiting_payment тем же путём, что и успех.
		if _, err := s.ledger.BindPaymentRef(order.ID, event.ExternalRef); err != nil {
			return err
		}
		fallthrough
	case domain.OrderStatusAwaitingPayment:
		if _, err := s.ledger.Transition(order.ID, domain.OrderStatusFailed); err != nil {
			return err
		}
		if order.SlotID != "" {
			if err := s.allocator.Release(order.SlotID, order.ID); err != nil {
				s.logger.WithError(err).WithFields(log.Fields{
					"order_id": order.ID,
					"slot_id":  order.SlotID,
				}).Warn("release slot after failed payment")
			}
		}
		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"reason":   event.Reason,
		}).Info("payment failed")
		if s.metrics != nil {
			s.metrics.RecordCallback("failed")
		}
		return nil
	case domain.OrderStatusFailed, domain.OrderStatusCancelled:
		// Повторная доставка неуспеха либо заказ уже закрыт sweep-ом.
		if s.metrics != nil {
			s.metrics.RecordCallback("redelivery")
		}
		return nil
	default:
		// Неуспех после подтверждённой оплаты не откатывает заказ:
		// провайдер уже подтвердил списание более ранним событием.
		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"status":   order.Status,
		}).Warn("failure callback ignored for paid order")
		if s.metrics != nil {
			s.metrics.RecordCallback("stale")
		}
		return nil
	}
}
