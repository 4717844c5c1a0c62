package domain

import "time"

// Enrollment — долговечный факт исполнения: выданный доступ к курсу или
// подтверждённая бронь консультации. Уникален по паре (UserID, SubjectID)
// независимо от числа попыток исполнения.
type Enrollment struct {
	UserID      string
	SubjectID   string
	SubjectType SubjectType
	OrderID     string
	FulfilledAt time.Time
}

// Validate проверяет обязательные поля enrollment.
func (e *Enrollment) Validate() []error {
	var errs []error

	if e.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if e.SubjectID == "" {
		errs = append(errs, ErrSubjectRequired)
	}
	if e.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}

	return errs
}
