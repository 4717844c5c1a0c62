package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bms/internal/domain"
	"github.com/vladislavdragonenkov/bms/internal/service/allocator"
	"github.com/vladislavdragonenkov/bms/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/bms/internal/service/ledger"
	"github.com/vladislavdragonenkov/bms/internal/service/payment"
	"github.com/vladislavdragonenkov/bms/internal/storage/memory"
)

type env struct {
	orchestrator *Orchestrator
	ledger       *ledger.Service
	allocator    *allocator.Service
	dispatcher   *fulfillment.Dispatcher
	gateway      *payment.MockGateway
	slots        domain.SlotRepository
	enrollments  interface{ Count() int }
}

func newEnv(t *testing.T) *env {
	t.Helper()

	orders := memory.NewOrderRepository()
	catalog := memory.NewCatalogRepository()
	catalog.SeedCourse(domain.Course{ID: "course-go", Title: "Go с нуля", Currency: "RUB", AmountMinor: 990000})
	catalog.SeedConsultation(domain.Consultation{ID: "cons-1", Title: "Консультация", Currency: "RUB", AmountMinor: 350000})

	slots := memory.NewSlotRepository()
	slots.Seed(domain.TimeSlot{
		ID:             "slot-1",
		ConsultationID: "cons-1",
		StartAt:        time.Now().Add(time.Hour),
		EndAt:          time.Now().Add(2 * time.Hour),
		Capacity:       1,
		Status:         domain.SlotStatusOpen,
	})

	enrollments := memory.NewEnrollmentRepository()
	gateway := payment.NewMockGateway()
	ledgerSvc := ledger.NewService(orders, catalog, nil)
	allocatorSvc := allocator.NewService(slots, time.Minute, nil)
	bridge := payment.NewBridge(gateway, ledgerSvc, nil)
	dispatcher := fulfillment.NewDispatcher(ledgerSvc, enrollments, allocatorSvc, memory.NewOutboxRepository(), nil)

	return &env{
		orchestrator: NewOrchestrator(ledgerSvc, allocatorSvc, bridge, dispatcher, nil, nil),
		ledger:       ledgerSvc,
		allocator:    allocatorSvc,
		dispatcher:   dispatcher,
		gateway:      gateway,
		slots:        slots,
		enrollments:  enrollments,
	}
}

func courseCheckout(key string) Request {
	return Request{
		UserID:         "user-1",
		SubjectType:    domain.SubjectTypeCourse,
		SubjectID:      "course-go",
		IdempotencyKey: key,
	}
}

func consultationCheckout(user, key string) Request {
	return Request{
		UserID:         user,
		SubjectType:    domain.SubjectTypeConsultation,
		SubjectID:      "cons-1",
		SlotID:         "slot-1",
		IdempotencyKey: key,
	}
}

func TestCheckoutCourse(t *testing.T) {
	e := newEnv(t)

	res, err := e.orchestrator.Checkout(context.Background(), courseCheckout("key-1"))
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusAwaitingPayment, res.Order.Status)
	assert.NotEmpty(t, res.Intent.ExternalRef)
	assert.NotEmpty(t, res.Intent.ApproveURL)
	assert.Equal(t, res.Intent.ExternalRef, res.Order.ExternalPaymentRef)
}

func TestCheckoutIdempotent(t *testing.T) {
	e := newEnv(t)

	first, err := e.orchestrator.Checkout(context.Background(), courseCheckout("key-1"))
	require.NoError(t, err)

	second, err := e.orchestrator.Checkout(context.Background(), courseCheckout("key-1"))
	require.NoError(t, err)

	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.Intent.ExternalRef, second.Intent.ExternalRef)
}

func TestCheckoutConsultationReservesSlot(t *testing.T) {
	e := newEnv(t)

	res, err := e.orchestrator.Checkout(context.Background(), consultationCheckout("user-1", "key-1"))
	require.NoError(t, err)
	assert.Equal(t, "slot-1", res.Order.SlotID)

	slot, err := e.slots.Get("slot-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), slot.ReservedCount)
}

func TestCheckoutConsultationRequiresSlot(t *testing.T) {
	e := newEnv(t)

	req := consultationCheckout("user-1", "key-1")
	req.SlotID = ""
	_, err := e.orchestrator.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrSlotRequired)
}

func TestCheckoutSlotUnavailableCancelsOrder(t *testing.T) {
	e := newEnv(t)

	_, err := e.orchestrator.Checkout(context.Background(), consultationCheckout("user-1", "key-1"))
	require.NoError(t, err)

	_, err = e.orchestrator.Checkout(context.Background(), consultationCheckout("user-2", "key-2"))
	require.ErrorIs(t, err, domain.ErrSlotUnavailable)

	// Компенсация: второй заказ отменён, место первого не тронуто.
	orders, err := e.ledger.ListByUser("user-2", 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusCancelled, orders[0].Status)

	slot, err := e.slots.Get("slot-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), slot.ReservedCount)
}

func TestCheckoutGatewayErrorKeepsOrderRetryable(t *testing.T) {
	e := newEnv(t)
	e.gateway.CreateIntentErr = domain.ErrGatewayTemporary

	_, err := e.orchestrator.Checkout(context.Background(), consultationCheckout("user-1", "key-1"))
	require.ErrorIs(t, err, domain.ErrGatewayTemporary)

	orders, err := e.ledger.ListByUser("user-1", 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusCreated, orders[0].Status)

	// Резерв удержан, повтор после восстановления провайдера успешен.
	e.gateway.CreateIntentErr = nil
	res, err := e.orchestrator.Checkout(context.Background(), consultationCheckout("user-1", "key-1"))
	require.NoError(t, err)
	assert.Equal(t, orders[0].ID, res.Order.ID)
	assert.Equal(t, domain.OrderStatusAwaitingPayment, res.Order.Status)
}

func TestCancelReleasesSlot(t *testing.T) {
	e := newEnv(t)

	res, err := e.orchestrator.Checkout(context.Background(), consultationCheckout("user-1", "key-1"))
	require.NoError(t, err)

	require.NoError(t, e.orchestrator.Cancel(res.Order.ID))
	require.NoError(t, e.orchestrator.Cancel(res.Order.ID)) // повтор — no-op

	fresh, err := e.ledger.Get(res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, fresh.Status)

	slot, err := e.slots.Get("slot-1")
	require.NoError(t, err)
	assert.Zero(t, slot.ReservedCount)
}

func TestCancelPaidOrderRejected(t *testing.T) {
	e := newEnv(t)

	res, err := e.orchestrator.Checkout(context.Background(), courseCheckout("key-1"))
	require.NoError(t, err)

	_, err = e.ledger.ConfirmPayment(res.Order.ID, "tx-1")
	require.NoError(t, err)

	err = e.orchestrator.Cancel(res.Order.ID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestRefundFulfilledOrder(t *testing.T) {
	e := newEnv(t)

	res, err := e.orchestrator.Checkout(context.Background(), courseCheckout("key-1"))
	require.NoError(t, err)
	_, err = e.ledger.ConfirmPayment(res.Order.ID, "tx-1")
	require.NoError(t, err)
	require.NoError(t, e.dispatcher.Fulfill(res.Order.ID))

	require.NoError(t, e.orchestrator.Refund(context.Background(), res.Order.ID))
	require.NoError(t, e.orchestrator.Refund(context.Background(), res.Order.ID)) // повтор — no-op

	fresh, err := e.ledger.Get(res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, fresh.Status)
	assert.Equal(t, 1, e.gateway.RefundCalls)

	// По умолчанию доступ сохраняется.
	assert.Equal(t, 1, e.enrollments.Count())
}

func TestRefundRevokesAccessWhenEnabled(t *testing.T) {
	e := newEnv(t)
	e.orchestrator.WithRefundRevokesAccess(true)

	res, err := e.orchestrator.Checkout(context.Background(), consultationCheckout("user-1", "key-1"))
	require.NoError(t, err)
	_, err = e.ledger.ConfirmPayment(res.Order.ID, "tx-1")
	require.NoError(t, err)
	require.NoError(t, e.dispatcher.Fulfill(res.Order.ID))

	require.NoError(t, e.orchestrator.Refund(context.Background(), res.Order.ID))

	assert.Zero(t, e.enrollments.Count())
	slot, err := e.slots.Get("slot-1")
	require.NoError(t, err)
	assert.Zero(t, slot.ReservedCount)
}

func TestRefundRequiresFulfilled(t *testing.T) {
	e := newEnv(t)

	res, err := e.orchestrator.Checkout(context.Background(), courseCheckout("key-1"))
	require.NoError(t, err)

	err = e.orchestrator.Refund(context.Background(), res.Order.ID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	assert.Zero(t, e.gateway.RefundCalls)
}

func TestReserveSlotForExistingOrder(t *testing.T) {
	e := newEnv(t)

	order, err := e.ledger.CreateOrder(ledger.CreateOrderRequest{
		UserID:         "user-1",
		SubjectType:    domain.SubjectTypeConsultation,
		SubjectID:      "cons-1",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	expiresAt, err := e.orchestrator.ReserveSlot(order.ID, "slot-1")
	require.NoError(t, err)
	assert.False(t, expiresAt.IsZero())

	fresh, err := e.ledger.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, "slot-1", fresh.SlotID)

	// Смена слота запрещена.
	_, err = e.orchestrator.ReserveSlot(order.ID, "slot-other")
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestCheckoutRetryAfterFulfilled(t *testing.T) {
	e := newEnv(t)

	first, err := e.orchestrator.Checkout(context.Background(), consultationCheckout("user-1", "key-1"))
	require.NoError(t, err)

	_, err = e.ledger.ConfirmPayment(first.Order.ID, "tx-1")
	require.NoError(t, err)
	require.NoError(t, e.dispatcher.Fulfill(first.Order.ID))

	// Повтор checkout с тем же ключом после исполнения: резерв уже потреблён
	// выдачей, шаги не повторяются, возвращается существующий заказ.
	retry, err := e.orchestrator.Checkout(context.Background(), consultationCheckout("user-1", "key-1"))
	require.NoError(t, err)
	assert.Equal(t, first.Order.ID, retry.Order.ID)
	assert.Equal(t, domain.OrderStatusFulfilled, retry.Order.Status)

	fresh, err := e.ledger.Get(first.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFulfilled, fresh.Status)

	slot, err := e.slots.Get("slot-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), slot.ReservedCount)
}

func TestCheckoutRetryAfterPaymentConfirmed(t *testing.T) {
	e := newEnv(t)

	first, err := e.orchestrator.Checkout(context.Background(), courseCheckout("key-1"))
	require.NoError(t, err)

	_, err = e.ledger.ConfirmPayment(first.Order.ID, "tx-1")
	require.NoError(t, err)

	retry, err := e.orchestrator.Checkout(context.Background(), courseCheckout("key-1"))
	require.NoError(t, err)
	assert.Equal(t, first.Order.ID, retry.Order.ID)
	assert.Equal(t, domain.OrderStatusPaymentConfirmed, retry.Order.Status)
}
