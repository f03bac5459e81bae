package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/leasify/leased/internal/domain"
	"github.com/leasify/leased/internal/storage/relationaldb"
)

// LedgerRepository implements the append-only event log for PostgreSQL.
// Sequence numbers come from the table's BIGSERIAL column, so allocation
// is atomic with the insert.
type LedgerRepository struct {
	db *sql.DB
	tx *sql.Tx // Optional transaction context
}

// NewLedgerRepository creates a new PostgreSQL ledger repository
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// NewLedgerRepositoryWithTx creates a new PostgreSQL ledger repository within a transaction
func NewLedgerRepositoryWithTx(tx *sql.Tx) *LedgerRepository {
	return &LedgerRepository{tx: tx}
}

func (r *LedgerRepository) getExecutor() executor {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

const ledgerColumns = `sequence_number, lease_id, event_type, event_payload, amount, created_at`

func scanLedgerEntry(row interface{ Scan(...interface{}) error }) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	var eventType string
	var payload []byte
	var amount sql.NullString

	err := row.Scan(&entry.SequenceNumber, &entry.LeaseID, &eventType,
		&payload, &amount, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}

	entry.EventType = domain.EventType(eventType)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &entry.EventPayload); err != nil {
			return nil, err
		}
	}
	if amount.Valid {
		dec, err := decimal.NewFromString(amount.String)
		if err != nil {
			return nil, err
		}
		entry.Amount = &dec
	}

	return &entry, nil
}

func (r *LedgerRepository) Append(ctx context.Context, leaseID uuid.UUID, eventType domain.EventType, payload map[string]interface{}, amount *decimal.Decimal) (*domain.LedgerEntry, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, relationaldb.NewDataError("ledger_append", "failed to encode event payload", err)
	}

	var amountArg interface{}
	if amount != nil {
		amountArg = amount.StringFixed(2)
	}

	query := `INSERT INTO ledger (lease_id, event_type, event_payload, amount, created_at)
			  VALUES ($1, $2, $3, $4, $5)
			  RETURNING sequence_number, created_at`

	entry := &domain.LedgerEntry{
		LeaseID:      leaseID,
		EventType:    eventType,
		EventPayload: payload,
		Amount:       amount,
	}

	err = r.getExecutor().QueryRowContext(ctx, query,
		leaseID, string(eventType), payloadJSON, amountArg, time.Now().UTC()).
		Scan(&entry.SequenceNumber, &entry.CreatedAt)
	if err != nil {
		return nil, relationaldb.NewQueryError("ledger_append", "failed to append ledger entry", err)
	}

	return entry, nil
}

func (r *LedgerRepository) queryEntries(ctx context.Context, operation, query string, args ...interface{}) ([]domain.LedgerEntry, error) {
	rows, err := r.getExecutor().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, relationaldb.NewQueryError(operation, "failed to query ledger", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, relationaldb.NewQueryError(operation, "failed to scan ledger row", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, relationaldb.NewQueryError(operation, "error iterating ledger rows", err)
	}

	return entries, nil
}

func (r *LedgerRepository) GetLeaseHistory(ctx context.Context, leaseID uuid.UUID, skip, limit int) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger WHERE lease_id = $1
			  ORDER BY sequence_number OFFSET $2 LIMIT $3`
	return r.queryEntries(ctx, "get_lease_history", query, leaseID, skip, limit)
}

func (r *LedgerRepository) GetByEventType(ctx context.Context, eventType domain.EventType, skip, limit int) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger WHERE event_type = $1
			  ORDER BY sequence_number OFFSET $2 LIMIT $3`
	return r.queryEntries(ctx, "get_by_event_type", query, string(eventType), skip, limit)
}

func (r *LedgerRepository) GetLeaseHistoryByEventType(ctx context.Context, leaseID uuid.UUID, eventType domain.EventType, skip, limit int) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger WHERE lease_id = $1 AND event_type = $2
			  ORDER BY sequence_number OFFSET $3 LIMIT $4`
	return r.queryEntries(ctx, "get_lease_history_by_event_type", query, leaseID, string(eventType), skip, limit)
}

func (r *LedgerRepository) GetAll(ctx context.Context, skip, limit int) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger
			  ORDER BY sequence_number OFFSET $1 LIMIT $2`
	return r.queryEntries(ctx, "get_all_entries", query, skip, limit)
}

func (r *LedgerRepository) CountForLease(ctx context.Context, leaseID uuid.UUID) (int64, error) {
	var count int64
	err := r.getExecutor().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger WHERE lease_id = $1`, leaseID).Scan(&count)
	if err != nil {
		return 0, relationaldb.NewQueryError("count_for_lease", "failed to count ledger entries", err)
	}
	return count, nil
}

func (r *LedgerRepository) CountByEventType(ctx context.Context, eventType domain.EventType) (int64, error) {
	var count int64
	err := r.getExecutor().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger WHERE event_type = $1`, string(eventType)).Scan(&count)
	if err != nil {
		return 0, relationaldb.NewQueryError("count_by_event_type", "failed to count ledger entries", err)
	}
	return count, nil
}

func (r *LedgerRepository) SumAmountForLease(ctx context.Context, leaseID uuid.UUID) (decimal.Decimal, error) {
	var sum sql.NullString
	err := r.getExecutor().QueryRowContext(ctx,
		`SELECT SUM(amount) FROM ledger WHERE lease_id = $1 AND amount IS NOT NULL`,
		leaseID).Scan(&sum)
	if err != nil {
		return decimal.Zero, relationaldb.NewQueryError("sum_amount_for_lease", "failed to sum ledger amounts", err)
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	dec, err := decimal.NewFromString(sum.String)
	if err != nil {
		return decimal.Zero, relationaldb.NewDataError("sum_amount_for_lease", "invalid amount sum", err)
	}
	return dec, nil
}

// UpdateEntry always fails: the ledger is append-only.
func (r *LedgerRepository) UpdateEntry(ctx context.Context, sequenceNumber int64, payload map[string]interface{}) error {
	return domain.NewImmutableLedgerError("update_entry", "ledger entries cannot be modified")
}

// DeleteEntry always fails: the ledger is append-only.
func (r *LedgerRepository) DeleteEntry(ctx context.Context, sequenceNumber int64) error {
	return domain.NewImmutableLedgerError("delete_entry", "ledger entries cannot be deleted")
}
