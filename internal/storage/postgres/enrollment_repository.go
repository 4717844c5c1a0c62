package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/bms/internal/domain"
)

type enrollmentRepository struct {
	db *sql.DB
}

// NewEnrollmentRepository создаёт PostgreSQL-реализацию EnrollmentRepository.
func NewEnrollmentRepository(store *Store) domain.EnrollmentRepository {
	return &enrollmentRepository{db: store.DB()}
}

func (r *enrollmentRepository) Create(enr domain.Enrollment) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO enrollments (user_id, subject_id, subject_type, order_id, fulfilled_at)
		VALUES ($1, $2, $3, $4, $5)
	`, enr.UserID, enr.SubjectID, string(enr.SubjectType), enr.OrderID, enr.FulfilledAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEnrollmentExists
		}
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

func (r *enrollmentRepository) Get(userID, subjectID string) (domain.Enrollment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		enr         domain.Enrollment
		subjectType string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, subject_id, subject_type, order_id, fulfilled_at
		FROM enrollments
		WHERE user_id = $1 AND subject_id = $2
	`, userID, subjectID).Scan(&enr.UserID, &enr.SubjectID, &subjectType, &enr.OrderID, &enr.FulfilledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Enrollment{}, domain.ErrEnrollmentNotFound
		}
		return domain.Enrollment{}, fmt.Errorf("select enrollment: %w", err)
	}
	enr.SubjectType = domain.SubjectType(subjectType)

	return enr, nil
}

func (r *enrollmentRepository) Delete(userID, subjectID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM enrollments
		WHERE user_id = $1 AND subject_id = $2
	`, userID, subjectID)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrEnrollmentNotFound
	}
	return nil
}

var _ domain.EnrollmentRepository = (*enrollmentRepository)(nil)
