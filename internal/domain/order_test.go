package domain

import (
	"testing"
	"time"
)

func validOrder() Order {
	now := time.Now().UTC()
	return Order{
		ID:             "order-1",
		UserID:         "user-1",
		SubjectType:    SubjectTypeCourse,
		SubjectID:      "course-1",
		Status:         OrderStatusCreated,
		Currency:       "USD",
		AmountMinor:    4900,
		IdempotencyKey: "key-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestOrderValidateInvariantsOK(t *testing.T) {
	order := validOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestOrderValidateInvariantsViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Order)
		want   error
	}{
		{"missing user", func(o *Order) { o.UserID = "" }, ErrUserRequired},
		{"missing subject", func(o *Order) { o.SubjectID = "" }, ErrSubjectRequired},
		{"bad subject type", func(o *Order) { o.SubjectType = "webinar" }, ErrSubjectTypeInvalid},
		{"missing currency", func(o *Order) { o.Currency = "" }, ErrCurrencyRequired},
		{"negative amount", func(o *Order) { o.AmountMinor = -1 }, ErrAmountNegative},
		{"missing idempotency key", func(o *Order) { o.IdempotencyKey = "" }, ErrIdempotencyKeyRequired},
		{
			"consultation without slot",
			func(o *Order) { o.SubjectType = SubjectTypeConsultation },
			ErrSlotRequired,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			order := validOrder()
			tc.mutate(&order)

			errs := order.ValidateInvariants()
			found := false
			for _, err := range errs {
				if err == tc.want {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %v among %v", tc.want, errs)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to OrderStatus }{
		{OrderStatusCreated, OrderStatusAwaitingPayment},
		{OrderStatusCreated, OrderStatusCancelled},
		{OrderStatusAwaitingPayment, OrderStatusPaymentConfirmed},
		{OrderStatusAwaitingPayment, OrderStatusFailed},
		{OrderStatusAwaitingPayment, OrderStatusCancelled},
		{OrderStatusPaymentConfirmed, OrderStatusFulfilled},
		{OrderStatusFulfilled, OrderStatusRefunded},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("transition %s -> %s must be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to OrderStatus }{
		// Назад нельзя.
		{OrderStatusAwaitingPayment, OrderStatusCreated},
		{OrderStatusPaymentConfirmed, OrderStatusAwaitingPayment},
		{OrderStatusFulfilled, OrderStatusPaymentConfirmed},
		// Перескок через PaymentConfirmed нельзя.
		{OrderStatusAwaitingPayment, OrderStatusFulfilled},
		{OrderStatusCreated, OrderStatusPaymentConfirmed},
		// Отмена после оплаты нельзя.
		{OrderStatusPaymentConfirmed, OrderStatusCancelled},
		{OrderStatusFulfilled, OrderStatusCancelled},
		// Refund только после исполнения.
		{OrderStatusPaymentConfirmed, OrderStatusRefunded},
		// Из терминальных статусов выхода нет.
		{OrderStatusCancelled, OrderStatusAwaitingPayment},
		{OrderStatusFailed, OrderStatusPaymentConfirmed},
		{OrderStatusRefunded, OrderStatusFulfilled},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("transition %s -> %s must be illegal", tc.from, tc.to)
		}
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusFailed, OrderStatusCancelled, OrderStatusRefunded} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderStatusCreated, OrderStatusAwaitingPayment, OrderStatusPaymentConfirmed, OrderStatusFulfilled} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}
