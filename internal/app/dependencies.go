package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bms/internal/domain"
	"github.com/vladislavdragonenkov/bms/internal/storage/memory"
	"github.com/vladislavdragonenkov/bms/internal/storage/postgres"
)

// Dependencies содержит хранилища приложения.
type Dependencies struct {
	Orders      domain.OrderRepository
	Slots       domain.SlotRepository
	Catalog     domain.CatalogRepository
	Enrollments domain.EnrollmentRepository
	Outbox      domain.OutboxRepository

	// Store заполняется только в postgres-режиме.
	Store  *postgres.Store
	Logger *log.Entry
}

// NewDependencies собирает хранилища: PostgreSQL при заданном DSN, иначе
// in-memory с демо-каталогом для локального запуска.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL is empty, using in-memory storage")
		return newMemoryDependencies(logger), nil
	}

	store, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("postgres storage initialized")

	return &Dependencies{
		Orders:      postgres.NewOrderRepository(store),
		Slots:       postgres.NewSlotRepository(store),
		Catalog:     postgres.NewCatalogRepository(store),
		Enrollments: postgres.NewEnrollmentRepository(store),
		Outbox:      postgres.NewOutboxRepository(store),
		Store:       store,
		Logger:      logger,
	}, nil
}

func newMemoryDependencies(logger *log.Entry) *Dependencies {
	catalog := memory.NewCatalogRepository()
	slots := memory.NewSlotRepository()
	seedDemoCatalog(catalog, slots)

	return &Dependencies{
		Orders:      memory.NewOrderRepository(),
		Slots:       slots,
		Catalog:     catalog,
		Enrollments: memory.NewEnrollmentRepository(),
		Outbox:      memory.NewOutboxRepository(),
		Logger:      logger,
	}
}

// seedDemoCatalog наполняет in-memory каталог для локального запуска и демо.
// В production каталог живёт в PostgreSQL.
func seedDemoCatalog(catalog interface {
	SeedCourse(domain.Course)
	SeedConsultation(domain.Consultation)
}, slots interface {
	Seed(domain.TimeSlot)
},
) {
	catalog.SeedCourse(domain.Course{
		ID:          "course-go-basics",
		Title:       "Go с нуля",
		Currency:    "RUB",
		AmountMinor: 990000,
	})
	catalog.SeedCourse(domain.Course{
		ID:          "course-distributed",
		Title:       "Распределённые системы",
		Currency:    "RUB",
		AmountMinor: 1490000,
	})
	catalog.SeedConsultation(domain.Consultation{
		ID:          "cons-mentoring",
		Title:       "Менторская сессия",
		Currency:    "RUB",
		AmountMinor: 350000,
	})

	now := time.Now().UTC().Truncate(time.Hour)
	for i := 1; i <= 3; i++ {
		start := now.Add(time.Duration(24*i) * time.Hour)
		slots.Seed(domain.TimeSlot{
			ID:             fmt.Sprintf("slot-mentoring-%d", i),
			ConsultationID: "cons-mentoring",
			StartAt:        start,
			EndAt:          start.Add(time.Hour),
			Capacity:       1,
			Status:         domain.SlotStatusOpen,
		})
	}
}

// Close освобождает ресурсы зависимостей.
func (d *Dependencies) Close() error {
	if d.Store != nil {
		return d.Store.Close()
	}
	return nil
}
