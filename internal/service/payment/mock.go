package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/bms/internal/domain"
)

// MockGateway — конфигурируемая заглушка PaymentGateway для тестов и
// локального запуска без провайдера. Ref стабилен относительно
// idempotency-key заказа, как у настоящего провайдера.
type MockGateway struct {
	CreateIntentErr error
	CaptureErr      error
	CaptureOutcome  domain.PaymentOutcome
	RefundErr       error

	CreateIntentCalls int
	CaptureCalls      int
	RefundCalls       int

	mu   sync.Mutex
	refs map[string]string // idempotency key -> external ref
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		CaptureOutcome: domain.PaymentOutcomeSuccess,
		refs:           make(map[string]string),
	}
}

// CreateIntent возвращает стабильный ref для idempotency-key заказа.
func (m *MockGateway) CreateIntent(_ context.Context, order domain.Order) (domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateIntentCalls++
	if m.CreateIntentErr != nil {
		return domain.PaymentIntent{}, m.CreateIntentErr
	}

	ref, ok := m.refs[order.IdempotencyKey]
	if !ok {
		ref = "mock-ref-" + uuid.NewString()
		m.refs[order.IdempotencyKey] = ref
	}

	return domain.PaymentIntent{
		ExternalRef: ref,
		ApproveURL:  "https://pay.example.test/approve/" + ref,
	}, nil
}

// Capture возвращает настроенный исход и считает вызовы.
func (m *MockGateway) Capture(_ context.Context, order domain.Order) (domain.PaymentEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CaptureCalls++
	if m.CaptureErr != nil {
		return domain.PaymentEvent{}, m.CaptureErr
	}

	event := domain.PaymentEvent{
		Outcome:     m.CaptureOutcome,
		ExternalRef: order.ExternalPaymentRef,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
	}
	if m.CaptureOutcome == domain.PaymentOutcomeSuccess {
		event.ProviderTxID = "mock-tx-" + order.ID
	} else {
		event.Reason = "declined by mock"
	}

	return event, nil
}

// Refund возвращает настроенный результат и считает вызовы.
func (m *MockGateway) Refund(_ context.Context, order domain.Order) (domain.PaymentEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RefundCalls++
	if m.RefundErr != nil {
		return domain.PaymentEvent{}, m.RefundErr
	}

	return domain.PaymentEvent{
		Outcome:      domain.PaymentOutcomeSuccess,
		ExternalRef:  order.ExternalPaymentRef,
		ProviderTxID: "mock-refund-" + order.ID,
		AmountMinor:  order.AmountMinor,
		Currency:     order.Currency,
	}, nil
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
