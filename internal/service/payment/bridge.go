package payment

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bms/internal/domain"
	"github.com/vladislavdragonenkov/bms/internal/service/ledger"
)

// Bridge связывает заказы с платёжным провайдером. Провайдер получает
// idempotency-key заказа, поэтому повтор любого исходящего вызова не создаёт
// второй charge. Форма интеграции зависит от провайдера: redirect с
// асинхронным callback либо синхронный capture.
type Bridge struct {
	gateway domain.PaymentGateway
	ledger  *ledger.Service
	logger  *log.Entry
}

// NewBridge создаёт мост к платёжному провайдеру.
func NewBridge(gateway domain.PaymentGateway, ledgerSvc *ledger.Service, logger *log.Entry) *Bridge {
	if logger == nil {
		logger = log.New().WithField("component", "payment-bridge")
	}
	return &Bridge{gateway: gateway, ledger: ledgerSvc, logger: logger}
}

// CreateIntent открывает платёжный intent под заказ, привязывает external ref
// и переводит заказ в awaiting_payment. Вызов идемпотентен: повтор для уже
// ожидающего оплаты заказа возвращает тот же ref. При ошибке провайдера заказ
// остаётся в created и вызов можно повторить.
func (b *Bridge) CreateIntent(ctx context.Context, orderID string) (domain.PaymentIntent, error) {
	order, err := b.ledger.Get(orderID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}

	switch order.Status {
	case domain.OrderStatusCreated:
		// Первый вызов или повтор после ошибки провайдера.
	case domain.OrderStatusAwaitingPayment:
		// Повтор: intent уже открыт, провайдер по тому же idempotency-key
		// вернёт тот же intent.
	default:
		return domain.PaymentIntent{}, fmt.Errorf("%w: %s -> %s",
			domain.ErrIllegalTransition, order.Status, domain.OrderStatusAwaitingPayment)
	}

	intent, err := b.gateway.CreateIntent(ctx, order)
	if err != nil {
		b.logger.WithError(err).WithField("order_id", order.ID).Warn("create intent failed")
		return domain.PaymentIntent{}, fmt.Errorf("create payment intent: %w", err)
	}

	if _, err := b.ledger.AttachPaymentRef(order.ID, intent.ExternalRef); err != nil {
		return domain.PaymentIntent{}, err
	}

	if _, err := b.ledger.Transition(order.ID, domain.OrderStatusAwaitingPayment); err != nil {
		// Callback провайдера мог успеть раньше ответа CreateIntent и
		// продвинуть заказ дальше awaiting_payment.
		fresh, getErr := b.ledger.Get(order.ID)
		if getErr != nil || (fresh.Status != domain.OrderStatusPaymentConfirmed &&
			fresh.Status != domain.OrderStatusFulfilled) {
			return domain.PaymentIntent{}, err
		}
	}

	b.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"external_ref": intent.ExternalRef,
	}).Info("payment intent created")

	return intent, nil
}

// Capture синхронно списывает средства (провайдеры без redirect-потока) и
// возвращает нормализованное платёжное событие для Reconciler.
func (b *Bridge) Capture(ctx context.Context, orderID string) (domain.PaymentEvent, error) {
	order, err := b.ledger.Get(orderID)
	if err != nil {
		return domain.PaymentEvent{}, err
	}

	if order.Status != domain.OrderStatusAwaitingPayment {
		return domain.PaymentEvent{}, fmt.Errorf("%w: capture in status %s",
			domain.ErrIllegalTransition, order.Status)
	}

	event, err := b.gateway.Capture(ctx, order)
	if err != nil {
		b.logger.WithError(err).WithField("order_id", order.ID).Warn("capture failed")
		return domain.PaymentEvent{}, fmt.Errorf("capture payment: %w", err)
	}

	if errs := event.Validate(); len(errs) > 0 {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %v", domain.ErrPaymentEventInvalid, errs[0])
	}

	return event, nil
}

// Refund инициирует возврат средств у провайдера.
func (b *Bridge) Refund(ctx context.Context, order domain.Order) (domain.PaymentEvent, error) {
	event, err := b.gateway.Refund(ctx, order)
	if err != nil {
		b.logger.WithError(err).WithField("order_id", order.ID).Warn("refund failed")
		return domain.PaymentEvent{}, fmt.Errorf("refund payment: %w", err)
	}
	return event, nil
}
