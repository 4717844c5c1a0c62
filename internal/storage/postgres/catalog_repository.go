package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/bms/internal/domain"
)

type catalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию CatalogRepository.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepository{db: store.DB()}
}

func (r *catalogRepository) Course(id string) (domain.Course, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var course domain.Course
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, currency, amount_minor
		FROM courses
		WHERE id = $1
	`, id).Scan(&course.ID, &course.Title, &course.Currency, &course.AmountMinor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Course{}, domain.ErrCourseNotFound
		}
		return domain.Course{}, fmt.Errorf("select course: %w", err)
	}
	return course, nil
}

func (r *catalogRepository) Consultation(id string) (domain.Consultation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var cons domain.Consultation
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, currency, amount_minor
		FROM consultations
		WHERE id = $1
	`, id).Scan(&cons.ID, &cons.Title, &cons.Currency, &cons.AmountMinor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Consultation{}, domain.ErrConsultationNotFound
		}
		return domain.Consultation{}, fmt.Errorf("select consultation: %w", err)
	}
	return cons, nil
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
