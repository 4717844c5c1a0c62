package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrDuplicateIdempotencyKey,
	// если idempotency-key уже занят другим заказом.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// GetByIdempotencyKey ищет заказ по клиентскому idempotency-key.
	GetByIdempotencyKey(key string) (Order, error)
	// GetByExternalRef ищет заказ по провайдерскому payment ref.
	GetByExternalRef(ref string) (Order, error)
	// ListByUser возвращает заказы пользователя с опциональным лимитом.
	ListByUser(userID string, limit int) ([]Order, error)
	// ListAwaitingPaymentBefore возвращает заказы, застрявшие в awaiting_payment
	// с updated_at раньше cutoff (кандидаты на sweep-отмену).
	ListAwaitingPaymentBefore(cutoff time.Time, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// SlotRepository описывает хранилище слотов и резервов по ним.
// Вся ёмкость координируется условными операциями самого хранилища:
// конкурирующие Reserve безопасно гонятся, успевает ровно Capacity.
type SlotRepository interface {
	// Get возвращает слот или ErrSlotNotFound.
	Get(id string) (TimeSlot, error)
	// Reserve атомарно инкрементирует reserved_count, если ёмкость осталась,
	// и создаёт резерв с TTL. Повторный вызов для той же пары (slot, order) —
	// no-op. ErrSlotUnavailable при исчерпанной ёмкости.
	Reserve(slotID, orderID string, expiresAt time.Time) error
	// Release идемпотентно снимает резерв и декрементирует reserved_count;
	// no-op, если резерв уже снят.
	Release(slotID, orderID string) error
	// ConfirmReservation потребляет резерв при исполнении заказа: запись резерва
	// удаляется без декремента, слот помечается booked при исчерпанной ёмкости.
	ConfirmReservation(slotID, orderID string) error
	// ExpiredReservations возвращает до limit резервов с истёкшим TTL.
	ExpiredReservations(now time.Time, limit int) ([]Reservation, error)
	// Reopen возвращает ёмкость после refund с отзывом доступа.
	Reopen(slotID, orderID string) error
}

// EnrollmentRepository хранит факты выданного доступа.
type EnrollmentRepository interface {
	// Create сохраняет enrollment; ErrEnrollmentExists при нарушении
	// уникальности (user_id, subject_id).
	Create(enrollment Enrollment) error
	// Get возвращает enrollment или ErrEnrollmentNotFound.
	Get(userID, subjectID string) (Enrollment, error)
	// Delete идемпотентно удаляет enrollment (refund с отзывом доступа).
	Delete(userID, subjectID string) error
}

// CatalogRepository — read-only справочник покупаемых предметов.
type CatalogRepository interface {
	Course(id string) (Course, error)
	Consultation(id string) (Consultation, error)
}

// PaymentGateway описывает взаимодействие с платёжным провайдером.
// Исходящие вызовы несут IdempotencyKey заказа как провайдерский
// idempotency-токен: повтор не создаёт второй charge.
type PaymentGateway interface {
	// CreateIntent открывает intent под заказ и возвращает его external ref.
	CreateIntent(ctx context.Context, order Order) (PaymentIntent, error)
	// Capture синхронно списывает средства (форма интеграции b) и возвращает
	// нормализованное событие для Reconciler.
	Capture(ctx context.Context, order Order) (PaymentEvent, error)
	// Refund инициирует возврат средств по исполненному заказу.
	Refund(ctx context.Context, order Order) (PaymentEvent, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
