package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/bms/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
// Уникальные индексы по idempotency-key и external ref эмулируются
// вторичными map-ами под тем же mutex-ом.
type orderRepositoryInMemory struct {
	mu        sync.RWMutex
	items     map[string]domain.Order
	byIdemKey map[string]string
	byExtRef  map[string]string
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:     make(map[string]domain.Order),
		byIdemKey: make(map[string]string),
		byExtRef:  make(map[string]string),
	}
}

// Create сохраняет новый заказ, если ID и idempotency-key ещё не заняты.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	if existingID, exists := r.byIdemKey[order.IdempotencyKey]; exists && existingID != order.ID {
		return domain.ErrDuplicateIdempotencyKey
	}
	if order.ExternalPaymentRef != "" {
		if existingID, exists := r.byExtRef[order.ExternalPaymentRef]; exists && existingID != order.ID {
			return domain.ErrDuplicateExternalRef
		}
	}

	r.items[order.ID] = order
	r.byIdemKey[order.IdempotencyKey] = order.ID
	if order.ExternalPaymentRef != "" {
		r.byExtRef[order.ExternalPaymentRef] = order.ID
	}
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// GetByIdempotencyKey возвращает заказ по клиентскому idempotency-key.
func (r *orderRepositoryInMemory) GetByIdempotencyKey(key string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byIdemKey[key]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.items[id], nil
}

// GetByExternalRef возвращает заказ по провайдерскому payment ref.
func (r *orderRepositoryInMemory) GetByExternalRef(ref string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byExtRef[ref]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.items[id], nil
}

// ListByUser возвращает заказы пользователя, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByUser(userID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if order.UserID != userID {
			continue
		}
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// ListAwaitingPaymentBefore возвращает заказы в awaiting_payment старше cutoff.
func (r *orderRepositoryInMemory) ListAwaitingPaymentBefore(cutoff time.Time, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.Status != domain.OrderStatusAwaitingPayment {
			continue
		}
		if order.UpdatedAt.After(cutoff) {
			continue
		}
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	if order.ExternalPaymentRef != "" {
		if existingID, exists := r.byExtRef[order.ExternalPaymentRef]; exists && existingID != order.ID {
			return domain.ErrDuplicateExternalRef
		}
	}

	order.Version++
	r.items[order.ID] = order
	if order.ExternalPaymentRef != "" {
		r.byExtRef[order.ExternalPaymentRef] = order.ID
	}
	return nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
