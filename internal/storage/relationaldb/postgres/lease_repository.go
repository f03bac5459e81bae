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

// LeaseRepository implements the LeaseRepository interface for PostgreSQL
type LeaseRepository struct {
	db *sql.DB
	tx *sql.Tx // Optional transaction context
}

// NewLeaseRepository creates a new PostgreSQL lease repository
func NewLeaseRepository(db *sql.DB) *LeaseRepository {
	return &LeaseRepository{db: db}
}

// NewLeaseRepositoryWithTx creates a new PostgreSQL lease repository within a transaction
func NewLeaseRepositoryWithTx(tx *sql.Tx) *LeaseRepository {
	return &LeaseRepository{tx: tx}
}

func (r *LeaseRepository) getExecutor() executor {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

const leaseColumns = `id, customer_id, status, principal_amount, term_months, created_at, updated_at`

func scanLease(row interface{ Scan(...interface{}) error }) (*domain.Lease, error) {
	var lease domain.Lease
	var status, principal string

	err := row.Scan(&lease.ID, &lease.CustomerID, &status, &principal,
		&lease.TermMonths, &lease.CreatedAt, &lease.UpdatedAt)
	if err != nil {
		return nil, err
	}

	lease.Status = domain.LeaseStatus(status)
	amount, err := decimal.NewFromString(principal)
	if err != nil {
		return nil, err
	}
	lease.PrincipalAmount = amount

	return &lease, nil
}

func (r *LeaseRepository) CreateLease(ctx context.Context, lease *domain.Lease) error {
	if lease.ID == uuid.Nil {
		lease.ID = uuid.New()
	}
	now := time.Now().UTC()
	if lease.CreatedAt.IsZero() {
		lease.CreatedAt = now
	}
	lease.UpdatedAt = now

	query := `INSERT INTO leases (id, customer_id, status, principal_amount, term_months, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.getExecutor().ExecContext(ctx, query,
		lease.ID, lease.CustomerID, string(lease.Status),
		lease.PrincipalAmount.StringFixed(2), lease.TermMonths,
		lease.CreatedAt, lease.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return relationaldb.NewConstraintError("create_lease", "lease already exists", err)
		}
		return relationaldb.NewQueryError("create_lease", "failed to insert lease", err)
	}

	return nil
}

func (r *LeaseRepository) GetLease(ctx context.Context, id uuid.UUID) (*domain.Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases WHERE id = $1`

	lease, err := scanLease(r.getExecutor().QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, relationaldb.NewDataError("get_lease", "lease not found", relationaldb.ErrLeaseNotFound)
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("get_lease", "failed to query lease", err)
	}

	return lease, nil
}

func (r *LeaseRepository) GetLeaseForUpdate(ctx context.Context, id uuid.UUID) (*domain.Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases WHERE id = $1 FOR UPDATE`

	lease, err := scanLease(r.getExecutor().QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, relationaldb.NewDataError("get_lease_for_update", "lease not found", relationaldb.ErrLeaseNotFound)
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("get_lease_for_update", "failed to lock lease row", err)
	}

	return lease, nil
}

func (r *LeaseRepository) queryLeases(ctx context.Context, operation, query string, args ...interface{}) ([]domain.Lease, error) {
	rows, err := r.getExecutor().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, relationaldb.NewQueryError(operation, "failed to query leases", err)
	}
	defer rows.Close()

	var leases []domain.Lease
	for rows.Next() {
		lease, err := scanLease(rows)
		if err != nil {
			return nil, relationaldb.NewQueryError(operation, "failed to scan lease row", err)
		}
		leases = append(leases, *lease)
	}
	if err := rows.Err(); err != nil {
		return nil, relationaldb.NewQueryError(operation, "error iterating lease rows", err)
	}

	return leases, nil
}

func (r *LeaseRepository) GetLeasesByCustomer(ctx context.Context, customerID string, skip, limit int) ([]domain.Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases WHERE customer_id = $1
			  ORDER BY created_at OFFSET $2 LIMIT $3`
	return r.queryLeases(ctx, "get_leases_by_customer", query, customerID, skip, limit)
}

func (r *LeaseRepository) GetLeasesByStatus(ctx context.Context, status domain.LeaseStatus, skip, limit int) ([]domain.Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases WHERE status = $1
			  ORDER BY created_at OFFSET $2 LIMIT $3`
	return r.queryLeases(ctx, "get_leases_by_status", query, string(status), skip, limit)
}

func (r *LeaseRepository) GetLeasesByCustomerAndStatus(ctx context.Context, customerID string, status domain.LeaseStatus, skip, limit int) ([]domain.Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases WHERE customer_id = $1 AND status = $2
			  ORDER BY created_at OFFSET $3 LIMIT $4`
	return r.queryLeases(ctx, "get_leases_by_customer_and_status", query, customerID, string(status), skip, limit)
}

func (r *LeaseRepository) UpdateLeaseStatus(ctx context.Context, id uuid.UUID, status domain.LeaseStatus) error {
	query := `UPDATE leases SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := r.getExecutor().ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return relationaldb.NewQueryError("update_lease_status", "failed to update lease status", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return relationaldb.NewQueryError("update_lease_status", "failed to read affected rows", err)
	}
	if affected == 0 {
		return relationaldb.NewDataError("update_lease_status", "lease not found", relationaldb.ErrLeaseNotFound)
	}

	return nil
}

func (r *LeaseRepository) CountLeasesByStatus(ctx context.Context, status domain.LeaseStatus) (int64, error) {
	var count int64
	err := r.getExecutor().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leases WHERE status = $1`, string(status)).Scan(&count)
	if err != nil {
		return 0, relationaldb.NewQueryError("count_leases_by_status", "failed to count leases", err)
	}
	return count, nil
}
