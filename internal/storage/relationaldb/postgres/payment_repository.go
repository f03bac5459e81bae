package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/leasify/leased/internal/domain"
	"github.com/leasify/leased/internal/storage/relationaldb"
)

// PaymentRepository implements the PaymentRepository interface for PostgreSQL
type PaymentRepository struct {
	db *sql.DB
	tx *sql.Tx // Optional transaction context
}

// NewPaymentRepository creates a new PostgreSQL payment repository
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// NewPaymentRepositoryWithTx creates a new PostgreSQL payment repository within a transaction
func NewPaymentRepositoryWithTx(tx *sql.Tx) *PaymentRepository {
	return &PaymentRepository{tx: tx}
}

func (r *PaymentRepository) getExecutor() executor {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

const paymentColumns = `id, lease_id, installment_number, due_date, amount, status, retry_count, last_attempt_at, created_at, updated_at`

func scanPayment(row interface{ Scan(...interface{}) error }) (*domain.Payment, error) {
	var payment domain.Payment
	var status, amount string
	var lastAttempt sql.NullTime

	err := row.Scan(&payment.ID, &payment.LeaseID, &payment.InstallmentNumber,
		&payment.DueDate, &amount, &status, &payment.RetryCount,
		&lastAttempt, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return nil, err
	}

	payment.Status = domain.PaymentStatus(status)
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	payment.Amount = dec
	if lastAttempt.Valid {
		t := lastAttempt.Time
		payment.LastAttemptAt = &t
	}

	return &payment, nil
}

func (r *PaymentRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now

	query := `INSERT INTO payment_schedule
			  (id, lease_id, installment_number, due_date, amount, status, retry_count, last_attempt_at, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	var lastAttempt interface{}
	if payment.LastAttemptAt != nil {
		lastAttempt = *payment.LastAttemptAt
	}

	_, err := r.getExecutor().ExecContext(ctx, query,
		payment.ID, payment.LeaseID, payment.InstallmentNumber,
		payment.DueDate, payment.Amount.StringFixed(2), string(payment.Status),
		payment.RetryCount, lastAttempt, payment.CreatedAt, payment.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code {
			case "23505":
				return relationaldb.NewConstraintError("create_payment", "installment already exists for lease", err)
			case "23503":
				return relationaldb.NewConstraintError("create_payment", "lease does not exist", err)
			}
		}
		return relationaldb.NewQueryError("create_payment", "failed to insert payment", err)
	}

	return nil
}

func (r *PaymentRepository) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_schedule WHERE id = $1`

	payment, err := scanPayment(r.getExecutor().QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, relationaldb.NewDataError("get_payment", "payment not found", relationaldb.ErrPaymentNotFound)
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("get_payment", "failed to query payment", err)
	}

	return payment, nil
}

func (r *PaymentRepository) queryPayments(ctx context.Context, operation, query string, args ...interface{}) ([]domain.Payment, error) {
	rows, err := r.getExecutor().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, relationaldb.NewQueryError(operation, "failed to query payments", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, relationaldb.NewQueryError(operation, "failed to scan payment row", err)
		}
		payments = append(payments, *payment)
	}
	if err := rows.Err(); err != nil {
		return nil, relationaldb.NewQueryError(operation, "error iterating payment rows", err)
	}

	return payments, nil
}

func (r *PaymentRepository) GetPaymentsByLease(ctx context.Context, leaseID uuid.UUID, skip, limit int) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_schedule WHERE lease_id = $1
			  ORDER BY installment_number OFFSET $2 LIMIT $3`
	return r.queryPayments(ctx, "get_payments_by_lease", query, leaseID, skip, limit)
}

func (r *PaymentRepository) GetPaymentsByLeaseAndStatus(ctx context.Context, leaseID uuid.UUID, status domain.PaymentStatus, skip, limit int) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_schedule WHERE lease_id = $1 AND status = $2
			  ORDER BY installment_number OFFSET $3 LIMIT $4`
	return r.queryPayments(ctx, "get_payments_by_lease_and_status", query, leaseID, string(status), skip, limit)
}

func (r *PaymentRepository) GetDuePayments(ctx context.Context, dueBefore time.Time, status domain.PaymentStatus, skip, limit int) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_schedule
			  WHERE due_date <= $1 AND status = $2
			  ORDER BY due_date, installment_number OFFSET $3 LIMIT $4`
	return r.queryPayments(ctx, "get_due_payments", query, dueBefore, string(status), skip, limit)
}

func (r *PaymentRepository) GetNextPendingPayment(ctx context.Context, leaseID uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_schedule
			  WHERE lease_id = $1 AND status = $2
			  ORDER BY due_date, installment_number LIMIT 1`

	payment, err := scanPayment(r.getExecutor().QueryRowContext(ctx, query, leaseID, string(domain.PaymentPending)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("get_next_pending_payment", "failed to query payment", err)
	}

	return payment, nil
}

func (r *PaymentRepository) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus, update relationaldb.PaymentUpdate) error {
	query := `UPDATE payment_schedule SET
			  status = $1,
			  retry_count = COALESCE($2, retry_count),
			  last_attempt_at = COALESCE($3, last_attempt_at),
			  updated_at = $4
			  WHERE id = $5`

	var retryCount interface{}
	if update.RetryCount != nil {
		retryCount = *update.RetryCount
	}
	var lastAttempt interface{}
	if update.LastAttemptAt != nil {
		lastAttempt = *update.LastAttemptAt
	}

	result, err := r.getExecutor().ExecContext(ctx, query,
		string(status), retryCount, lastAttempt, time.Now().UTC(), id)
	if err != nil {
		return relationaldb.NewQueryError("update_payment_status", "failed to update payment status", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return relationaldb.NewQueryError("update_payment_status", "failed to read affected rows", err)
	}
	if affected == 0 {
		return relationaldb.NewDataError("update_payment_status", "payment not found", relationaldb.ErrPaymentNotFound)
	}

	return nil
}

func (r *PaymentRepository) CountPaymentsByLeaseAndStatus(ctx context.Context, leaseID uuid.UUID, status domain.PaymentStatus) (int64, error) {
	var count int64
	err := r.getExecutor().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_schedule WHERE lease_id = $1 AND status = $2`,
		leaseID, string(status)).Scan(&count)
	if err != nil {
		return 0, relationaldb.NewQueryError("count_payments_by_lease_and_status", "failed to count payments", err)
	}
	return count, nil
}
