package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bms/internal/domain"
)

const (
	maxSaveRetries = 3
	baseRetryDelay = 10 * time.Millisecond
)

// CreateOrderRequest описывает параметры создания заказа.
type CreateOrderRequest struct {
	UserID         string
	SubjectType    domain.SubjectType
	SubjectID      string
	SlotID         string
	IdempotencyKey string
}

// Service ведёт журнал заказов: создание, переходы статусов и привязку
// платёжных ссылок. Все мутации проходят через optimistic locking по Version.
type Service struct {
	orders  domain.OrderRepository
	catalog domain.CatalogRepository
	logger  *log.Entry
}

// NewService создаёт сервис журнала заказов.
func NewService(orders domain.OrderRepository, catalog domain.CatalogRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "ledger")
	}
	return &Service{orders: orders, catalog: catalog, logger: logger}
}

// CreateOrder создаёт заказ в статусе created. Цена и валюта берутся из
// каталога на момент создания и фиксируются в заказе. Повторный вызов с тем
// же ключом идемпотентности возвращает уже созданный заказ.
func (s *Service) CreateOrder(req CreateOrderRequest) (domain.Order, error) {
	if req.IdempotencyKey == "" {
		return domain.Order{}, domain.ErrIdempotencyKeyRequired
	}

	if existing, err := s.orders.GetByIdempotencyKey(req.IdempotencyKey); err == nil {
		s.logger.WithFields(log.Fields{
			"order_id":        existing.ID,
			"idempotency_key": req.IdempotencyKey,
		}).Debug("order already exists for idempotency key")
		return existing, nil
	}

	currency, amount, err := s.subjectPrice(req.SubjectType, req.SubjectID)
	if err != nil {
		return domain.Order{}, err
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		SubjectType:    req.SubjectType,
		SubjectID:      req.SubjectID,
		SlotID:         req.SlotID,
		Status:         domain.OrderStatusCreated,
		Currency:       currency,
		AmountMinor:    amount,
		IdempotencyKey: req.IdempotencyKey,
		Version:        0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errs[0]
	}

	if err := s.orders.Create(order); err != nil {
		if domain.IsConflict(err) {
			// Конкурирующий запрос с тем же ключом успел первым.
			existing, getErr := s.orders.GetByIdempotencyKey(req.IdempotencyKey)
			if getErr != nil {
				return domain.Order{}, fmt.Errorf("reload order after duplicate key: %w", getErr)
			}
			return existing, nil
		}
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"user_id":      order.UserID,
		"subject_type": order.SubjectType,
		"subject_id":   order.SubjectID,
	}).Info("order created")

	return order, nil
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(orderID string) (domain.Order, error) {
	return s.orders.Get(orderID)
}

// GetByExternalRef возвращает заказ по внешней платёжной ссылке.
func (s *Service) GetByExternalRef(ref string) (domain.Order, error) {
	return s.orders.GetByExternalRef(ref)
}

// ListByUser возвращает заказы пользователя, новые первыми.
func (s *Service) ListByUser(userID string, limit int) ([]domain.Order, error) {
	return s.orders.ListByUser(userID, limit)
}

// ListAwaitingPaymentBefore возвращает заказы, застрявшие в awaiting_payment
// дольше допустимого.
func (s *Service) ListAwaitingPaymentBefore(cutoff time.Time, limit int) ([]domain.Order, error) {
	return s.orders.ListAwaitingPaymentBefore(cutoff, limit)
}

// Transition переводит заказ в новый статус. Переход в текущий статус
// считается успешным no-op. При version conflict заказ перечитывается и
// попытка повторяется; если после перечитывания переход уже не разрешён,
// возвращается ErrStaleOrderState.
func (s *Service) Transition(orderID string, to domain.OrderStatus) (domain.Order, error) {
	return s.mutate(orderID, func(order *domain.Order) error {
		if order.Status == to {
			return nil
		}
		if !domain.CanTransition(order.Status, to) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, order.Status, to)
		}
		order.Status = to
		if to == domain.OrderStatusFulfilled && order.FulfilledAt == nil {
			now := time.Now().UTC()
			order.FulfilledAt = &now
		}
		return nil
	})
}

// AssignSlot привязывает слот к уже созданному заказу. Допустимо только до
// оплаты; смена уже привязанного слота запрещена.
func (s *Service) AssignSlot(orderID, slotID string) (domain.Order, error) {
	if slotID == "" {
		return domain.Order{}, domain.ErrSlotRequired
	}
	return s.mutate(orderID, func(order *domain.Order) error {
		if order.SlotID == slotID {
			return nil
		}
		if order.SlotID != "" {
			return fmt.Errorf("%w: slot already assigned", domain.ErrIllegalTransition)
		}
		if order.Status != domain.OrderStatusCreated &&
			order.Status != domain.OrderStatusAwaitingPayment {
			return fmt.Errorf("%w: assign slot in status %s", domain.ErrIllegalTransition, order.Status)
		}
		order.SlotID = slotID
		return nil
	})
}

// AttachPaymentRef сохраняет внешнюю платёжную ссылку на заказе, не меняя
// статус. Между привязкой ссылки и переходом в awaiting_payment callback
// провайдера уже может найти заказ по ref.
func (s *Service) AttachPaymentRef(orderID, externalRef string) (domain.Order, error) {
	return s.mutate(orderID, func(order *domain.Order) error {
		if order.ExternalPaymentRef == externalRef {
			return nil
		}
		if order.ExternalPaymentRef != "" {
			return domain.ErrDuplicateExternalRef
		}
		if order.Status != domain.OrderStatusCreated &&
			order.Status != domain.OrderStatusAwaitingPayment {
			return fmt.Errorf("%w: attach ref in status %s", domain.ErrIllegalTransition, order.Status)
		}
		order.ExternalPaymentRef = externalRef
		return nil
	})
}

// BindPaymentRef привязывает к заказу внешнюю платёжную ссылку и переводит
// его в awaiting_payment. Повторная привязка той же ссылки идемпотентна.
func (s *Service) BindPaymentRef(orderID, externalRef string) (domain.Order, error) {
	return s.mutate(orderID, func(order *domain.Order) error {
		if order.ExternalPaymentRef == externalRef &&
			order.Status == domain.OrderStatusAwaitingPayment {
			return nil
		}
		if order.ExternalPaymentRef != "" && order.ExternalPaymentRef != externalRef {
			return domain.ErrDuplicateExternalRef
		}
		if !domain.CanTransition(order.Status, domain.OrderStatusAwaitingPayment) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition,
				order.Status, domain.OrderStatusAwaitingPayment)
		}
		order.ExternalPaymentRef = externalRef
		order.Status = domain.OrderStatusAwaitingPayment
		return nil
	})
}

// ConfirmPayment переводит заказ в payment_confirmed и фиксирует идентификатор
// транзакции провайдера. Повторное подтверждение того же платежа — no-op.
func (s *Service) ConfirmPayment(orderID, providerTxID string) (domain.Order, error) {
	return s.mutate(orderID, func(order *domain.Order) error {
		if order.Status == domain.OrderStatusPaymentConfirmed ||
			order.Status == domain.OrderStatusFulfilled {
			return nil
		}
		if !domain.CanTransition(order.Status, domain.OrderStatusPaymentConfirmed) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition,
				order.Status, domain.OrderStatusPaymentConfirmed)
		}
		order.Status = domain.OrderStatusPaymentConfirmed
		if providerTxID != "" {
			order.ProviderTxID = providerTxID
		}
		return nil
	})
}

// mutate перечитывает заказ, применяет мутацию и сохраняет с retry по
// version conflict и exponential backoff.
func (s *Service) mutate(orderID string, fn func(order *domain.Order) error) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		order, err := s.orders.Get(orderID)
		if err != nil {
			return domain.Order{}, err
		}

		before := order
		if err := fn(&order); err != nil {
			return domain.Order{}, err
		}
		if order == before {
			// Мутация ничего не изменила: сохранять нечего.
			return order, nil
		}

		order.UpdatedAt = time.Now().UTC()
		if err := s.orders.Save(order); err != nil {
			if domain.IsVersionConflict(err) && attempt < maxSaveRetries-1 {
				s.logger.WithFields(log.Fields{
					"order_id": order.ID,
					"attempt":  attempt + 1,
					"version":  order.Version,
				}).Warn("version conflict, retrying")

				time.Sleep(baseRetryDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			return domain.Order{}, err
		}

		order.Version++
		return order, nil
	}

	return domain.Order{}, domain.ErrOrderVersionConflict
}

func (s *Service) subjectPrice(subjectType domain.SubjectType, subjectID string) (string, int64, error) {
	switch subjectType {
	case domain.SubjectTypeCourse:
		course, err := s.catalog.Course(subjectID)
		if err != nil {
			return "", 0, err
		}
		return course.Currency, course.AmountMinor, nil
	case domain.SubjectTypeConsultation:
		cons, err := s.catalog.Consultation(subjectID)
		if err != nil {
			return "", 0, err
		}
		return cons.Currency, cons.AmountMinor, nil
	default:
		return "", 0, domain.ErrSubjectTypeInvalid
	}
}
