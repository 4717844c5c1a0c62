package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/bms/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	ordersIdemKeyConstraint = "orders_idempotency_key_uq"
	ordersExtRefConstraint  = "orders_external_payment_ref_uq"
)

const orderColumns = `
	id, user_id, subject_type, subject_id, slot_id, status, currency,
	amount_minor, external_payment_ref, provider_tx_id, idempotency_key,
	version, created_at, updated_at, fulfilled_at
`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, subject_type, subject_id, slot_id, status, currency,
			amount_minor, external_payment_ref, provider_tx_id, idempotency_key,
			version, created_at, updated_at, fulfilled_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		order.ID, order.UserID, string(order.SubjectType), order.SubjectID,
		nullString(order.SlotID), string(order.Status), order.Currency,
		order.AmountMinor, nullString(order.ExternalPaymentRef),
		nullString(order.ProviderTxID), order.IdempotencyKey,
		order.Version, order.CreatedAt, order.UpdatedAt, order.FulfilledAt,
	)
	if err != nil {
		switch {
		case isUniqueViolationOn(err, ordersIdemKeyConstraint):
			return domain.ErrDuplicateIdempotencyKey
		case isUniqueViolationOn(err, ordersExtRefConstraint):
			return domain.ErrDuplicateExternalRef
		case isUniqueViolation(err):
			return domain.ErrOrderVersionConflict
		default:
			return fmt.Errorf("insert order: %w", err)
		}
	}

	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.queryOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *orderRepository) GetByIdempotencyKey(key string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.queryOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key)
}

func (r *orderRepository) GetByExternalRef(ref string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.queryOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_payment_ref = $1`, ref)
}

func (r *orderRepository) ListByUser(userID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", userID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

func (r *orderRepository) ListAwaitingPaymentBefore(cutoff time.Time, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1
		  AND updated_at <= $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, string(domain.OrderStatusAwaitingPayment), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale awaiting orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    external_payment_ref = $2,
		    provider_tx_id = $3,
		    slot_id = $4,
		    version = version + 1,
		    updated_at = $5,
		    fulfilled_at = $6
		WHERE id = $7
		  AND version = $8
	`,
		string(order.Status),
		nullString(order.ExternalPaymentRef),
		nullString(order.ProviderTxID),
		nullString(order.SlotID),
		order.UpdatedAt,
		order.FulfilledAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		if isUniqueViolationOn(err, ordersExtRefConstraint) {
			return domain.ErrDuplicateExternalRef
		}
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.orderExists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	return nil
}

func (r *orderRepository) queryOne(ctx context.Context, query string, arg any) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, query, arg)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) orderExists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order       domain.Order
		subjectType string
		status      string
		slotID      sql.NullString
		extRef      sql.NullString
		providerTx  sql.NullString
		fulfilledAt sql.NullTime
	)

	if err := row.Scan(
		&order.ID, &order.UserID, &subjectType, &order.SubjectID, &slotID,
		&status, &order.Currency, &order.AmountMinor, &extRef, &providerTx,
		&order.IdempotencyKey, &order.Version, &order.CreatedAt,
		&order.UpdatedAt, &fulfilledAt,
	); err != nil {
		return domain.Order{}, err
	}

	order.SubjectType = domain.SubjectType(subjectType)
	order.Status = domain.OrderStatus(status)
	order.SlotID = slotID.String
	order.ExternalPaymentRef = extRef.String
	order.ProviderTxID = providerTx.String
	if fulfilledAt.Valid {
		t := fulfilledAt.Time
		order.FulfilledAt = &t
	}

	return order, nil
}

func scanOrders(rows *sql.Rows) ([]domain.Order, error) {
	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isUniqueViolationOn(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
