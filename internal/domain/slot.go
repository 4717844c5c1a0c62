package domain

import "time"

// SlotStatus отражает состояние бронируемого интервала консультации.
type SlotStatus string

const (
	// SlotStatusOpen — слот доступен для резервирования.
	SlotStatusOpen SlotStatus = "open"
	// SlotStatusBooked — ёмкость слота выкуплена подтверждёнными заказами.
	SlotStatusBooked SlotStatus = "booked"
	// SlotStatusExpired — интервал прошёл, слот закрыт для резервирования.
	SlotStatusExpired SlotStatus = "expired"
)

// TimeSlot описывает интервал консультации с конечной ёмкостью.
// Инвариант: ReservedCount никогда не превышает Capacity; мутируется
// только условными операциями хранилища через Slot Allocator.
type TimeSlot struct {
	ID             string
	ConsultationID string
	StartAt        time.Time
	EndAt          time.Time
	Capacity       int32
	ReservedCount  int32
	Status         SlotStatus
	UpdatedAt      time.Time
}

// HasCapacity сообщает, осталась ли свободная ёмкость.
func (s *TimeSlot) HasCapacity() bool {
	return s.Status == SlotStatusOpen && s.ReservedCount < s.Capacity
}

// Reservation — эфемерный hold ёмкости слота под заказ с TTL.
// Не переживает своё окно: либо подтверждается оплатой, либо снимается sweep-ом.
type Reservation struct {
	SlotID    string
	OrderID   string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired сообщает, истёк ли TTL резерва на момент now.
func (r *Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Validate проверяет, корректно ли заполнены ключевые поля резерва.
func (r *Reservation) Validate() []error {
	var errs []error

	if r.SlotID == "" {
		errs = append(errs, ErrSlotRequired)
	}
	if r.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}

	return errs
}
