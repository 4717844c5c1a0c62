package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствующего идентификатора предмета покупки.
	ErrSubjectRequired = errors.New("subject_id is required")
	// Ошибка неподдерживаемого типа предмета покупки.
	ErrSubjectTypeInvalid = errors.New("subject_type must be course or consultation")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка отсутствующего idempotency-key при создании заказа.
	ErrIdempotencyKeyRequired = errors.New("idempotency_key is required")
	// Ошибка отсутствующего слота при бронировании консультации.
	ErrSlotRequired = errors.New("slot_id is required for consultation booking")
	// Ошибка отсутствующего идентификатора заказа в резервах/событиях.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка несоответствия суммы/валюты события платёжному заказу.
	ErrAmountMismatch = errors.New("payment event amount does not match order")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrStaleOrderState — текущий статус заказа не совпадает с ожидаемым fromState.
	ErrStaleOrderState = errors.New("stale order state")
	// ErrIllegalTransition — переход не предусмотрен машиной состояний.
	ErrIllegalTransition = errors.New("illegal order status transition")
	// ErrDuplicateIdempotencyKey — idempotency-key уже привязан к другому заказу.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	// ErrDuplicateExternalRef — external payment ref уже привязан к другому заказу.
	ErrDuplicateExternalRef = errors.New("external payment ref already bound")

	// ErrSlotNotFound возвращается, если слот не найден.
	ErrSlotNotFound = errors.New("time slot not found")
	// ErrSlotUnavailable — ёмкость слота исчерпана или слот закрыт.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrEnrollmentExists — у пользователя уже есть доступ к этому предмету.
	ErrEnrollmentExists = errors.New("enrollment already exists")
	// ErrEnrollmentNotFound возвращается, если enrollment отсутствует.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrCourseNotFound возвращается при неизвестном курсе в каталоге.
	ErrCourseNotFound = errors.New("course not found")
	// ErrConsultationNotFound возвращается при неизвестной консультации в каталоге.
	ErrConsultationNotFound = errors.New("consultation not found")

	// ErrInvalidSignature — подпись callback-а не прошла проверку подлинности.
	ErrInvalidSignature = errors.New("invalid callback signature")
	// ErrUnknownPaymentRef — событие ссылается на неизвестный intent; заказ не фабрикуется.
	ErrUnknownPaymentRef = errors.New("unknown external payment ref")
	// ErrPaymentEventInvalid — событие шлюза не содержит обязательных полей.
	ErrPaymentEventInvalid = errors.New("payment event is invalid")

	// ErrGatewayTemporary — временная ошибка шлюза, исходящий вызов можно повторить.
	ErrGatewayTemporary = errors.New("payment gateway temporary error")
	// ErrGatewayDeclined — шлюз отклонил операцию (бизнес-ошибка).
	ErrGatewayDeclined = errors.New("payment gateway declined")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsNotFound проверяет ошибки отсутствия сущностей.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrSlotNotFound) ||
		errors.Is(err, ErrEnrollmentNotFound) ||
		errors.Is(err, ErrCourseNotFound) ||
		errors.Is(err, ErrConsultationNotFound) ||
		errors.Is(err, ErrUnknownPaymentRef)
}

// IsConflict проверяет конфликтные ошибки: они разрешаются чтением текущего
// состояния, а не повтором записи.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrDuplicateExternalRef) ||
		errors.Is(err, ErrEnrollmentExists) ||
		errors.Is(err, ErrStaleOrderState) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrOrderVersionConflict)
}
