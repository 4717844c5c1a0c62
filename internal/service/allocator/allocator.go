package allocator

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bms/internal/domain"
)

// DefaultReservationTTL время жизни резерва до оплаты.
const DefaultReservationTTL = 15 * time.Minute

// Service управляет резервами мест в слотах консультаций. Захват места
// атомарен на уровне хранилища, поэтому перепродажа исключена и при
// конкурентных запросах.
type Service struct {
	slots  domain.SlotRepository
	ttl    time.Duration
	logger *log.Entry
}

// NewService создаёт аллокатор слотов. При ttl <= 0 используется
// DefaultReservationTTL.
func NewService(slots domain.SlotRepository, ttl time.Duration, logger *log.Entry) *Service {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	if logger == nil {
		logger = log.New().WithField("component", "allocator")
	}
	return &Service{slots: slots, ttl: ttl, logger: logger}
}

// TTL возвращает время жизни резерва.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Reserve захватывает место в слоте за заказом и возвращает момент истечения
// резерва. Повторный вызов для той же пары (слот, заказ) не занимает второе
// место.
func (s *Service) Reserve(slotID, orderID string) (time.Time, error) {
	if slotID == "" {
		return time.Time{}, domain.ErrSlotRequired
	}
	if orderID == "" {
		return time.Time{}, domain.ErrOrderIDRequired
	}

	expiresAt := time.Now().UTC().Add(s.ttl)
	if err := s.slots.Reserve(slotID, orderID, expiresAt); err != nil {
		if errors.Is(err, domain.ErrSlotUnavailable) {
			s.logger.WithFields(log.Fields{
				"slot_id":  slotID,
				"order_id": orderID,
			}).Info("slot at capacity")
		}
		return time.Time{}, err
	}

	s.logger.WithFields(log.Fields{
		"slot_id":    slotID,
		"order_id":   orderID,
		"expires_at": expiresAt,
	}).Info("slot reserved")

	return expiresAt, nil
}

// Release снимает резерв и освобождает место. Вызов для несуществующего
// резерва безопасен.
func (s *Service) Release(slotID, orderID string) error {
	if slotID == "" || orderID == "" {
		return nil
	}
	if err := s.slots.Release(slotID, orderID); err != nil {
		return err
	}
	s.logger.WithFields(log.Fields{
		"slot_id":  slotID,
		"order_id": orderID,
	}).Info("slot reservation released")
	return nil
}

// Confirm фиксирует резерв как постоянное бронирование: TTL больше не
// действует, место остаётся занятым.
func (s *Service) Confirm(slotID, orderID string) error {
	if slotID == "" || orderID == "" {
		return nil
	}
	return s.slots.ConfirmReservation(slotID, orderID)
}

// Reopen возвращает место в слот после отзыва бронирования.
func (s *Service) Reopen(slotID, orderID string) error {
	if slotID == "" {
		return nil
	}
	return s.slots.Reopen(slotID, orderID)
}

// ExpireStale освобождает просроченные резервы. Для каждого кандидата
// вызывается shouldRelease: оплаченные заказы резерв не теряют. Возвращает
// количество освобождённых мест.
func (s *Service) ExpireStale(now time.Time, limit int, shouldRelease func(orderID string) bool) (int, error) {
	expired, err := s.slots.ExpiredReservations(now, limit)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, res := range expired {
		if shouldRelease != nil && !shouldRelease(res.OrderID) {
			// Оплата успела пройти: резерв закрепляется за заказом.
			if err := s.slots.ConfirmReservation(res.SlotID, res.OrderID); err != nil {
				s.logger.WithError(err).WithFields(log.Fields{
					"slot_id":  res.SlotID,
					"order_id": res.OrderID,
				}).Warn("confirm expired reservation failed")
			}
			continue
		}

		if err := s.slots.Release(res.SlotID, res.OrderID); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"slot_id":  res.SlotID,
				"order_id": res.OrderID,
			}).Warn("release expired reservation failed")
			continue
		}
		released++
	}

	return released, nil
}
