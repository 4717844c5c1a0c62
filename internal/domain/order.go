package domain

import "time"

// OrderStatus описывает жизненный цикл попытки покупки/бронирования.
type OrderStatus string

const (
	// OrderStatusCreated — заказ создан на чекауте, резерв и оплата ещё не выполнены.
	OrderStatusCreated OrderStatus = "created"
	// OrderStatusAwaitingPayment — платёжный intent открыт у провайдера, ждём подтверждение.
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	// OrderStatusPaymentConfirmed — оплата подтверждена верифицированным событием шлюза.
	OrderStatusPaymentConfirmed OrderStatus = "payment_confirmed"
	// OrderStatusFulfilled — доступ выдан (enrollment/бронь), заказ завершён.
	OrderStatusFulfilled OrderStatus = "fulfilled"
	// OrderStatusFailed — провайдер отклонил платёж.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusCancelled — заказ отменён до оплаты (вручную или sweep-ом по TTL).
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded — средства возвращены после исполнения заказа.
	OrderStatusRefunded OrderStatus = "refunded"
)

// SubjectType различает предмет покупки: курс или консультация.
type SubjectType string

const (
	SubjectTypeCourse       SubjectType = "course"
	SubjectTypeConsultation SubjectType = "consultation"
)

// Valid проверяет, что тип предмета относится к поддерживаемым значениям.
func (t SubjectType) Valid() bool {
	switch t {
	case SubjectTypeCourse, SubjectTypeConsultation:
		return true
	default:
		return false
	}
}

// legalTransitions задаёт единственно допустимые переходы статусов.
// Статус движется только вперёд: обратных переходов и перескоков нет.
var legalTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:          {OrderStatusAwaitingPayment, OrderStatusCancelled},
	OrderStatusAwaitingPayment:  {OrderStatusPaymentConfirmed, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusPaymentConfirmed: {OrderStatusFulfilled},
	OrderStatusFulfilled:        {OrderStatusRefunded},
}

// CanTransition сообщает, допустим ли переход from → to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal сообщает, является ли статус конечным.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFailed, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// Order агрегирует состояние одной попытки покупки/бронирования.
type Order struct {
	ID          string
	UserID      string
	SubjectType SubjectType
	SubjectID   string
	// SlotID заполняется только для консультаций.
	SlotID      string
	Status      OrderStatus
	Currency    string
	AmountMinor int64
	// ExternalPaymentRef — идентификатор intent на стороне провайдера; уникален среди заказов.
	ExternalPaymentRef string
	// ProviderTxID — идентификатор транзакции из подтверждённого события шлюза.
	ProviderTxID string
	// IdempotencyKey — клиентский токен; уникален среди заказов.
	IdempotencyKey string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	FulfilledAt    *time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if !o.SubjectType.Valid() {
		errs = append(errs, ErrSubjectTypeInvalid)
	}
	if o.SubjectID == "" {
		errs = append(errs, ErrSubjectRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if o.IdempotencyKey == "" {
		errs = append(errs, ErrIdempotencyKeyRequired)
	}
	if o.SubjectType == SubjectTypeConsultation && o.SlotID == "" {
		errs = append(errs, ErrSlotRequired)
	}

	return errs
}
