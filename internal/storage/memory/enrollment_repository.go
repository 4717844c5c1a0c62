package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/bms/internal/domain"
)

type enrollmentKey struct {
	userID    string
	subjectID string
}

// enrollmentRepositoryInMemory эмулирует уникальный индекс (user_id, subject_id)
// map-ом под mutex-ом: повторное исполнение упирается в ErrEnrollmentExists.
type enrollmentRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[enrollmentKey]domain.Enrollment
}

// NewEnrollmentRepository возвращает in-memory репозиторий enrollments.
func NewEnrollmentRepository() *enrollmentRepositoryInMemory {
	return &enrollmentRepositoryInMemory{
		items: make(map[enrollmentKey]domain.Enrollment),
	}
}

// Create сохраняет enrollment или ErrEnrollmentExists при дубликате.
func (r *enrollmentRepositoryInMemory) Create(enrollment domain.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := enrollmentKey{userID: enrollment.UserID, subjectID: enrollment.SubjectID}
	if _, exists := r.items[key]; exists {
		return domain.ErrEnrollmentExists
	}
	r.items[key] = enrollment
	return nil
}

// Get возвращает enrollment или ErrEnrollmentNotFound.
func (r *enrollmentRepositoryInMemory) Get(userID, subjectID string) (domain.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enrollment, ok := r.items[enrollmentKey{userID: userID, subjectID: subjectID}]
	if !ok {
		return domain.Enrollment{}, domain.ErrEnrollmentNotFound
	}
	return enrollment, nil
}

// Delete идемпотентно удаляет enrollment.
func (r *enrollmentRepositoryInMemory) Delete(userID, subjectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, enrollmentKey{userID: userID, subjectID: subjectID})
	return nil
}

// Count возвращает число записей; используется в тестах свойств exactly-once.
func (r *enrollmentRepositoryInMemory) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items)
}

var _ domain.EnrollmentRepository = (*enrollmentRepositoryInMemory)(nil)
