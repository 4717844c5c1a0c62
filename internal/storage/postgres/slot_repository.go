package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/bms/internal/domain"
)

type slotRepository struct {
	db *sql.DB
}

// NewSlotRepository создаёт PostgreSQL-реализацию SlotRepository.
func NewSlotRepository(store *Store) domain.SlotRepository {
	return &slotRepository{db: store.DB()}
}

func (r *slotRepository) Get(slotID string) (domain.TimeSlot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		slot   domain.TimeSlot
		status string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, consultation_id, start_at, end_at, capacity, reserved_count, status
		FROM time_slots
		WHERE id = $1
	`, slotID).Scan(
		&slot.ID, &slot.ConsultationID, &slot.StartAt, &slot.EndAt,
		&slot.Capacity, &slot.ReservedCount, &status,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TimeSlot{}, domain.ErrSlotNotFound
		}
		return domain.TimeSlot{}, fmt.Errorf("select slot: %w", err)
	}
	slot.Status = domain.SlotStatus(status)

	return slot, nil
}

// Reserve резервирует место в слоте за заказом. Повторный вызов с той же
// парой (slotID, orderID) не занимает второе место. Инкремент счётчика
// выполняется условным UPDATE, поэтому перепродажа невозможна даже при
// конкурентных транзакциях.
func (r *slotRepository) Reserve(slotID, orderID string, expiresAt time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		INSERT INTO slot_reservations (slot_id, order_id, expires_at, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (slot_id, order_id) DO NOTHING
	`, slotID, orderID, expiresAt)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if inserted == 0 {
		// Резерв уже есть, место занято ранее.
		return tx.Commit()
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE time_slots
		SET reserved_count = reserved_count + 1
		WHERE id = $1
		  AND status = $2
		  AND reserved_count < capacity
	`, slotID, string(domain.SlotStatusOpen))
	if err != nil {
		return fmt.Errorf("increment reserved count: %w", err)
	}

	updated, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if updated == 0 {
		// Откат снимает и вставленный резерв.
		if err := tx.Rollback(); err != nil {
			return fmt.Errorf("rollback reserve tx: %w", err)
		}
		if _, err := r.Get(slotID); errors.Is(err, domain.ErrSlotNotFound) {
			return domain.ErrSlotNotFound
		}
		return domain.ErrSlotUnavailable
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reserve tx: %w", err)
	}
	return nil
}

// Release снимает резерв и освобождает место. Повторный вызов для уже
// снятого резерва ничего не меняет.
func (r *slotRepository) Release(slotID, orderID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		DELETE FROM slot_reservations
		WHERE slot_id = $1 AND order_id = $2
	`, slotID, orderID)
	if err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if deleted == 0 {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE time_slots
		SET reserved_count = GREATEST(reserved_count - 1, 0),
		    status = $2
		WHERE id = $1
	`, slotID, string(domain.SlotStatusOpen)); err != nil {
		return fmt.Errorf("decrement reserved count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit release tx: %w", err)
	}
	return nil
}

// ConfirmReservation превращает временный резерв в постоянное бронирование:
// строка резерва с TTL удаляется, счётчик занятых мест не уменьшается.
func (r *slotRepository) ConfirmReservation(slotID, orderID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin confirm tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM slot_reservations
		WHERE slot_id = $1 AND order_id = $2
	`, slotID, orderID); err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE time_slots
		SET status = $2
		WHERE id = $1
		  AND reserved_count >= capacity
	`, slotID, string(domain.SlotStatusBooked)); err != nil {
		return fmt.Errorf("mark slot booked: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit confirm tx: %w", err)
	}
	return nil
}

func (r *slotRepository) ExpiredReservations(now time.Time, limit int) ([]domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT slot_id, order_id, expires_at, created_at
		FROM slot_reservations
		WHERE expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	defer rows.Close()

	reservations := make([]domain.Reservation, 0)
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.SlotID, &res.OrderID, &res.ExpiresAt, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation row: %w", err)
		}
		reservations = append(reservations, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservation rows: %w", err)
	}

	return reservations, nil
}

// Reopen возвращает место в слот после отзыва подтверждённого бронирования.
func (r *slotRepository) Reopen(slotID, orderID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Остаточный резерв пары снимается вместе с возвратом места.
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM slot_reservations
		WHERE slot_id = $1 AND order_id = $2
	`, slotID, orderID); err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE time_slots
		SET reserved_count = GREATEST(reserved_count - 1, 0),
		    status = $2
		WHERE id = $1
	`, slotID, string(domain.SlotStatusOpen))
	if err != nil {
		return fmt.Errorf("reopen slot: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrSlotNotFound
	}
	return nil
}

var _ domain.SlotRepository = (*slotRepository)(nil)
