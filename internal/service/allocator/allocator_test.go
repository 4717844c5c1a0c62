package allocator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bms/internal/domain"
	"github.com/vladislavdragonenkov/bms/internal/storage/memory"
)

func seedSlot(t *testing.T, repo interface{ Seed(domain.TimeSlot) }, capacity int) string {
	t.Helper()
	repo.Seed(domain.TimeSlot{
		ID:             "slot-1",
		ConsultationID: "cons-1",
		StartAt:        time.Now().Add(24 * time.Hour),
		EndAt:          time.Now().Add(25 * time.Hour),
		Capacity:       int32(capacity),
		Status:         domain.SlotStatusOpen,
	})
	return "slot-1"
}

func TestReserveAndRelease(t *testing.T) {
	slots := memory.NewSlotRepository()
	svc := NewService(slots, time.Minute, nil)
	slotID := seedSlot(t, slots, 1)

	expiresAt, err := svc.Reserve(slotID, "order-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 2*time.Second)

	// Второй заказ не проходит: вместимость исчерпана.
	_, err = svc.Reserve(slotID, "order-2")
	assert.ErrorIs(t, err, domain.ErrSlotUnavailable)

	require.NoError(t, svc.Release(slotID, "order-1"))

	_, err = svc.Reserve(slotID, "order-2")
	require.NoError(t, err)
}

func TestReserveIdempotentPerOrder(t *testing.T) {
	slots := memory.NewSlotRepository()
	svc := NewService(slots, time.Minute, nil)
	slotID := seedSlot(t, slots, 1)

	_, err := svc.Reserve(slotID, "order-1")
	require.NoError(t, err)

	// Повтор той же пары не занимает второе место.
	_, err = svc.Reserve(slotID, "order-1")
	require.NoError(t, err)

	slot, err := slots.Get(slotID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), slot.ReservedCount)
}

func TestReserveValidation(t *testing.T) {
	svc := NewService(memory.NewSlotRepository(), time.Minute, nil)

	_, err := svc.Reserve("", "order-1")
	assert.ErrorIs(t, err, domain.ErrSlotRequired)

	_, err = svc.Reserve("slot-1", "")
	assert.ErrorIs(t, err, domain.ErrOrderIDRequired)

	_, err = svc.Reserve("missing", "order-1")
	assert.ErrorIs(t, err, domain.ErrSlotNotFound)
}

func TestExpireStaleReleasesUnpaid(t *testing.T) {
	slots := memory.NewSlotRepository()
	svc := NewService(slots, time.Millisecond, nil)
	slotID := seedSlot(t, slots, 2)

	_, err := svc.Reserve(slotID, "order-unpaid")
	require.NoError(t, err)
	_, err = svc.Reserve(slotID, "order-paid")
	require.NoError(t, err)

	released, err := svc.ExpireStale(time.Now().Add(time.Hour), 10, func(orderID string) bool {
		return orderID == "order-unpaid"
	})
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	// Место неоплаченного заказа снова свободно, оплаченный остаётся занятым.
	slot, err := slots.Get(slotID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), slot.ReservedCount)

	// Закреплённый резерв больше не попадает в просроченные.
	expired, err := slots.ExpiredReservations(time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestConfirmStopsExpiry(t *testing.T) {
	slots := memory.NewSlotRepository()
	svc := NewService(slots, time.Millisecond, nil)
	slotID := seedSlot(t, slots, 1)

	_, err := svc.Reserve(slotID, "order-1")
	require.NoError(t, err)
	require.NoError(t, svc.Confirm(slotID, "order-1"))

	released, err := svc.ExpireStale(time.Now().Add(time.Hour), 10, nil)
	require.NoError(t, err)
	assert.Zero(t, released)

	slot, err := slots.Get(slotID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), slot.ReservedCount)
	assert.Equal(t, domain.SlotStatusBooked, slot.Status)
}

func TestReopenFreesSeat(t *testing.T) {
	slots := memory.NewSlotRepository()
	svc := NewService(slots, time.Minute, nil)
	slotID := seedSlot(t, slots, 1)

	_, err := svc.Reserve(slotID, "order-1")
	require.NoError(t, err)
	require.NoError(t, svc.Confirm(slotID, "order-1"))
	require.NoError(t, svc.Reopen(slotID, "order-1"))

	slot, err := slots.Get(slotID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), slot.ReservedCount)
	assert.Equal(t, domain.SlotStatusOpen, slot.Status)
}
