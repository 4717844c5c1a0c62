package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/bms/internal/domain"
)

// catalogRepositoryInMemory — read-only справочник курсов и консультаций,
// заполняемый при старте dev-окружения и в тестах.
type catalogRepositoryInMemory struct {
	mu            sync.RWMutex
	courses       map[string]domain.Course
	consultations map[string]domain.Consultation
}

// NewCatalogRepository возвращает пустой in-memory каталог.
func NewCatalogRepository() *catalogRepositoryInMemory {
	return &catalogRepositoryInMemory{
		courses:       make(map[string]domain.Course),
		consultations: make(map[string]domain.Consultation),
	}
}

// SeedCourse добавляет курс в каталог.
func (r *catalogRepositoryInMemory) SeedCourse(course domain.Course) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.courses[course.ID] = course
}

// SeedConsultation добавляет консультацию в каталог.
func (r *catalogRepositoryInMemory) SeedConsultation(consultation domain.Consultation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consultations[consultation.ID] = consultation
}

// Course возвращает курс или ErrCourseNotFound.
func (r *catalogRepositoryInMemory) Course(id string) (domain.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	course, ok := r.courses[id]
	if !ok {
		return domain.Course{}, domain.ErrCourseNotFound
	}
	return course, nil
}

// Consultation возвращает консультацию или ErrConsultationNotFound.
func (r *catalogRepositoryInMemory) Consultation(id string) (domain.Consultation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	consultation, ok := r.consultations[id]
	if !ok {
		return domain.Consultation{}, domain.ErrConsultationNotFound
	}
	return consultation, nil
}

var _ domain.CatalogRepository = (*catalogRepositoryInMemory)(nil)
