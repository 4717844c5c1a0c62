package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/bms/internal/domain"
)

type reservationKey struct {
	slotID  string
	orderID string
}

// slotRepositoryInMemory — in-memory реализация SlotRepository.
// Условный инкремент ёмкости выполняется под одним mutex-ом, что даёт
// ту же гарантию, что и conditional UPDATE в PostgreSQL: при ёмкости C
// успевают ровно C конкурирующих Reserve.
type slotRepositoryInMemory struct {
	mu           sync.Mutex
	slots        map[string]domain.TimeSlot
	reservations map[reservationKey]domain.Reservation
}

// NewSlotRepository возвращает in-memory репозиторий слотов.
func NewSlotRepository() *slotRepositoryInMemory {
	return &slotRepositoryInMemory{
		slots:        make(map[string]domain.TimeSlot),
		reservations: make(map[reservationKey]domain.Reservation),
	}
}

// Seed добавляет слот; используется при инициализации dev-окружения и в тестах.
func (r *slotRepositoryInMemory) Seed(slot domain.TimeSlot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slot.Status == "" {
		slot.Status = domain.SlotStatusOpen
	}
	r.slots[slot.ID] = slot
}

// Get возвращает слот или ErrSlotNotFound.
func (r *slotRepositoryInMemory) Get(id string) (domain.TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[id]
	if !ok {
		return domain.TimeSlot{}, domain.ErrSlotNotFound
	}
	return slot, nil
}

// Reserve атомарно занимает единицу ёмкости и создаёт TTL-резерв.
func (r *slotRepositoryInMemory) Reserve(slotID, orderID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[slotID]
	if !ok {
		return domain.ErrSlotNotFound
	}

	key := reservationKey{slotID: slotID, orderID: orderID}
	if _, exists := r.reservations[key]; exists {
		// Повторный вызов для той же пары — уже применён.
		return nil
	}

	if !slot.HasCapacity() {
		return domain.ErrSlotUnavailable
	}

	now := time.Now().UTC()
	slot.ReservedCount++
	slot.UpdatedAt = now
	r.slots[slotID] = slot
	r.reservations[key] = domain.Reservation{
		SlotID:    slotID,
		OrderID:   orderID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	return nil
}

// Release идемпотентно снимает резерв и возвращает единицу ёмкости.
func (r *slotRepositoryInMemory) Release(slotID, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := reservationKey{slotID: slotID, orderID: orderID}
	if _, exists := r.reservations[key]; !exists {
		return nil
	}
	delete(r.reservations, key)

	slot, ok := r.slots[slotID]
	if !ok {
		return nil
	}
	if slot.ReservedCount > 0 {
		slot.ReservedCount--
	}
	slot.UpdatedAt = time.Now().UTC()
	r.slots[slotID] = slot
	return nil
}

// ConfirmReservation потребляет резерв: убирает TTL-запись без декремента
// и помечает слот booked, когда ёмкость исчерпана.
func (r *slotRepositoryInMemory) ConfirmReservation(slotID, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.reservations, reservationKey{slotID: slotID, orderID: orderID})

	slot, ok := r.slots[slotID]
	if !ok {
		return domain.ErrSlotNotFound
	}
	if slot.ReservedCount >= slot.Capacity {
		slot.Status = domain.SlotStatusBooked
	}
	slot.UpdatedAt = time.Now().UTC()
	r.slots[slotID] = slot
	return nil
}

// ExpiredReservations возвращает до limit резервов с истёкшим TTL.
func (r *slotRepositoryInMemory) ExpiredReservations(now time.Time, limit int) ([]domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.Reservation, 0)
	for _, res := range r.reservations {
		if res.Expired(now) {
			result = append(result, res)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Reopen возвращает ёмкость после refund с отзывом доступа.
func (r *slotRepositoryInMemory) Reopen(slotID, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[slotID]
	if !ok {
		return domain.ErrSlotNotFound
	}
	if slot.ReservedCount > 0 {
		slot.ReservedCount--
	}
	if slot.Status == domain.SlotStatusBooked && slot.ReservedCount < slot.Capacity {
		slot.Status = domain.SlotStatusOpen
	}
	slot.UpdatedAt = time.Now().UTC()
	r.slots[slotID] = slot
	return nil
}

var _ domain.SlotRepository = (*slotRepositoryInMemory)(nil)
