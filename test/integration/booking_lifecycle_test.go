package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/bms/internal/domain"
	"github.com/vladislavdragonenkov/bms/internal/service/allocator"
	"github.com/vladislavdragonenkov/bms/internal/service/checkout"
	"github.com/vladislavdragonenkov/bms/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/bms/internal/service/ledger"
	"github.com/vladislavdragonenkov/bms/internal/service/payment"
	"github.com/vladislavdragonenkov/bms/internal/service/reconciler"
	"github.com/vladislavdragonenkov/bms/internal/service/sweeper"
	"github.com/vladislavdragonenkov/bms/internal/storage/memory"
)

// bookingEnv собирает полный стек сервисов поверх in-memory хранилища —
// сквозные сценарии бронирования без HTTP-слоя.
type bookingEnv struct {
	orchestrator *checkout.Orchestrator
	ledger       *ledger.Service
	allocator    *allocator.Service
	reconciler   *reconciler.Service
	sweeper      *sweeper.Sweeper
	verifier     *reconciler.Verifier
	slots        domain.SlotRepository
}

func newBookingEnv(reservationTTL time.Duration) *bookingEnv {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

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

	ledgerSvc := ledger.NewService(orders, catalog, logger)
	allocatorSvc := allocator.NewService(slots, reservationTTL, logger)
	bridge := payment.NewBridge(payment.NewMockGateway(), ledgerSvc, logger)
	dispatcher := fulfillment.NewDispatcher(ledgerSvc, memory.NewEnrollmentRepository(), allocatorSvc, memory.NewOutboxRepository(), logger)
	verifier := reconciler.NewVerifier("integration-secret")

	return &bookingEnv{
		orchestrator: checkout.NewOrchestrator(ledgerSvc, allocatorSvc, bridge, dispatcher, logger, nil),
		ledger:       ledgerSvc,
		allocator:    allocatorSvc,
		reconciler:   reconciler.NewService(verifier, ledgerSvc, allocatorSvc, dispatcher, logger, nil),
		sweeper: sweeper.New(ledgerSvc, allocatorSvc,
			sweeper.WithLogger(logger),
			sweeper.WithAwaitingPaymentTimeout(reservationTTL)),
		verifier: verifier,
		slots:    slots,
	}
}

func (e *bookingEnv) successCallback(order domain.Order) []byte {
	return []byte(fmt.Sprintf(
		`{"outcome":"success","external_ref":%q,"provider_tx_id":"tx-%s","amount_minor":%d,"currency":%q}`,
		order.ExternalPaymentRef, order.ID, order.AmountMinor, order.Currency,
	))
}

// BookingLifecycleTestSuite тестирует полный жизненный цикл бронирования.
type BookingLifecycleTestSuite struct {
	suite.Suite
	env *bookingEnv
}

func (suite *BookingLifecycleTestSuite) SetupTest() {
	suite.env = newBookingEnv(time.Minute)
}

func (suite *BookingLifecycleTestSuite) TestCheckoutToFulfilled() {
	e := suite.env

	// 1. Оформляем заказ на курс
	res, err := e.orchestrator.Checkout(context.Background(), checkout.Request{
		UserID:         "user-1",
		SubjectType:    domain.SubjectTypeCourse,
		SubjectID:      "course-go",
		IdempotencyKey: "life-1",
	})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusAwaitingPayment, res.Order.Status)

	// 2. Провайдер подтверждает оплату
	payload := e.successCallback(res.Order)
	require.NoError(suite.T(), e.reconciler.HandleCallback(payload, e.verifier.Sign(payload)))

	order, err := e.ledger.Get(res.Order.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusFulfilled, order.Status)
	require.NotNil(suite.T(), order.FulfilledAt)

	// 3. Повторная доставка того же callback-а не меняет итог
	for i := 0; i < 4; i++ {
		require.NoError(suite.T(), e.reconciler.HandleCallback(payload, e.verifier.Sign(payload)))
	}

	again, err := e.ledger.Get(res.Order.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusFulfilled, again.Status)
	require.Equal(suite.T(), order.FulfilledAt.Unix(), again.FulfilledAt.Unix())
}

func (suite *BookingLifecycleTestSuite) TestSlotContention() {
	e := suite.env

	const contenders = 8
	results := make([]error, contenders)

	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, results[n] = e.orchestrator.Checkout(context.Background(), checkout.Request{
				UserID:         fmt.Sprintf("user-%d", n),
				SubjectType:    domain.SubjectTypeConsultation,
				SubjectID:      "cons-1",
				SlotID:         "slot-1",
				IdempotencyKey: fmt.Sprintf("contender-%d", n),
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			require.ErrorIs(suite.T(), err, domain.ErrSlotUnavailable)
		}
	}
	require.Equal(suite.T(), 1, winners, "slot with capacity 1 must admit exactly one order")

	slot, err := e.slots.Get("slot-1")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), int32(1), slot.ReservedCount)
}

func (suite *BookingLifecycleTestSuite) TestExpiredReservationThenLateCallback() {
	e := newBookingEnv(10 * time.Millisecond)

	res, err := e.orchestrator.Checkout(context.Background(), checkout.Request{
		UserID:         "user-1",
		SubjectType:    domain.SubjectTypeConsultation,
		SubjectID:      "cons-1",
		SlotID:         "slot-1",
		IdempotencyKey: "late-1",
	})
	require.NoError(suite.T(), err)

	time.Sleep(50 * time.Millisecond)

	// Sweep освобождает просроченный резерв и закрывает заказ
	released, cancelled, err := e.sweeper.SweepOnce(context.Background(), time.Now())
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 1, released)
	require.Equal(suite.T(), 1, cancelled)

	order, err := e.ledger.Get(res.Order.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusCancelled, order.Status)

	slot, err := e.slots.Get("slot-1")
	require.NoError(suite.T(), err)
	require.True(suite.T(), slot.HasCapacity(), "expired reservation must free the seat")

	// Запоздавший success-callback по уже отменённому заказу отклоняется
	// без повторного захвата места.
	payload := e.successCallback(order)
	err = e.reconciler.HandleCallback(payload, e.verifier.Sign(payload))
	require.Error(suite.T(), err)
	require.True(suite.T(), errors.Is(err, domain.ErrStaleOrderState))

	slot, err = e.slots.Get("slot-1")
	require.NoError(suite.T(), err)
	require.True(suite.T(), slot.HasCapacity())
}

func (suite *BookingLifecycleTestSuite) TestPaidOrderSurvivesSweep() {
	e := newBookingEnv(10 * time.Millisecond)

	res, err := e.orchestrator.Checkout(context.Background(), checkout.Request{
		UserID:         "user-1",
		SubjectType:    domain.SubjectTypeConsultation,
		SubjectID:      "cons-1",
		SlotID:         "slot-1",
		IdempotencyKey: "paid-1",
	})
	require.NoError(suite.T(), err)

	payload := e.successCallback(res.Order)
	require.NoError(suite.T(), e.reconciler.HandleCallback(payload, e.verifier.Sign(payload)))

	time.Sleep(50 * time.Millisecond)

	// Оплаченный заказ переживает sweep, даже когда TTL формально истёк
	released, cancelled, err := e.sweeper.SweepOnce(context.Background(), time.Now())
	require.NoError(suite.T(), err)
	require.Zero(suite.T(), released)
	require.Zero(suite.T(), cancelled)

	slot, err := e.slots.Get("slot-1")
	require.NoError(suite.T(), err)
	require.False(suite.T(), slot.HasCapacity(), "paid booking must keep the seat")

	order, err := e.ledger.Get(res.Order.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusFulfilled, order.Status)
}

func TestBookingLifecycle(t *testing.T) {
	suite.Run(t, new(BookingLifecycleTestSuite))
}
