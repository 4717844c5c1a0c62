package domain

// PaymentOutcome — нормализованный исход платёжного события шлюза.
type PaymentOutcome string

const (
	// PaymentOutcomeSuccess — оплата подтверждена провайдером.
	PaymentOutcomeSuccess PaymentOutcome = "success"
	// PaymentOutcomeFailure — провайдер отклонил платёж или сессия истекла.
	PaymentOutcomeFailure PaymentOutcome = "failure"
)

// Valid проверяет, что исход относится к поддерживаемым значениям.
func (o PaymentOutcome) Valid() bool {
	switch o {
	case PaymentOutcomeSuccess, PaymentOutcomeFailure:
		return true
	default:
		return false
	}
}

// PaymentEvent — единый внутренний вид события шлюза. Обе формы интеграции
// (redirect + асинхронный callback и create-intent + синхронный capture)
// нормализуются в него на границе моста, поэтому Reconciler не ветвится
// на провайдер-специфичных структурах.
type PaymentEvent struct {
	Outcome     PaymentOutcome
	ExternalRef string
	// ProviderTxID заполняется для успешного исхода.
	ProviderTxID string
	AmountMinor  int64
	Currency     string
	// Reason заполняется провайдером для неуспешного исхода.
	Reason string
}

// Validate проверяет обязательные поля нормализованного события.
func (e *PaymentEvent) Validate() []error {
	var errs []error

	if !e.Outcome.Valid() {
		errs = append(errs, ErrPaymentEventInvalid)
	}
	if e.ExternalRef == "" {
		errs = append(errs, ErrUnknownPaymentRef)
	}
	if e.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	return errs
}

// PaymentIntent — результат открытия intent на стороне провайдера.
type PaymentIntent struct {
	// ExternalRef — провайдерский идентификатор intent; привязывается к заказу.
	ExternalRef string
	// ApproveURL — адрес redirect-а для формы (a); пуст для формы (b).
	ApproveURL string
}
