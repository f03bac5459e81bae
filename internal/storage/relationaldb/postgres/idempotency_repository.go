package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/leasify/leased/internal/domain"
	"github.com/leasify/leased/internal/storage/relationaldb"
)

// IdempotencyRepository implements the IdempotencyRepository interface
// for PostgreSQL. First-writer-wins is enforced by the primary key on
// the key column together with ON CONFLICT DO NOTHING.
type IdempotencyRepository struct {
	db *sql.DB
	tx *sql.Tx // Optional transaction context
}

// NewIdempotencyRepository creates a new PostgreSQL idempotency repository
func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// NewIdempotencyRepositoryWithTx creates a new PostgreSQL idempotency repository within a transaction
func NewIdempotencyRepositoryWithTx(tx *sql.Tx) *IdempotencyRepository {
	return &IdempotencyRepository{tx: tx}
}

func (r *IdempotencyRepository) getExecutor() executor {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *IdempotencyRepository) CheckAndStore(ctx context.Context, key, operation string, ttl time.Duration) (relationaldb.CheckResult, map[string]interface{}, error) {
	now := time.Now().UTC()
	exec := r.getExecutor()

	// Expired records are dead: remove so the insert below can claim the key.
	_, err := exec.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE key = $1 AND expires_at <= $2`, key, now)
	if err != nil {
		return relationaldb.CheckNew, nil, relationaldb.NewQueryError("check_and_store", "failed to clear expired key", err)
	}

	result, err := exec.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, operation, response_payload, expires_at, created_at)
		 VALUES ($1, $2, NULL, $3, $4)
		 ON CONFLICT (key) DO NOTHING`,
		key, operation, now.Add(ttl), now)
	if err != nil {
		return relationaldb.CheckNew, nil, relationaldb.NewQueryError("check_and_store", "failed to insert idempotency key", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return relationaldb.CheckNew, nil, relationaldb.NewQueryError("check_and_store", "failed to read affected rows", err)
	}
	if affected == 1 {
		return relationaldb.CheckNew, nil, nil
	}

	// Someone else holds the key. Distinguish a cached response from an
	// operation still in flight.
	var payload []byte
	err = exec.QueryRowContext(ctx,
		`SELECT response_payload FROM idempotency_keys WHERE key = $1 AND expires_at > $2`,
		key, now).Scan(&payload)
	if err == sql.ErrNoRows {
		// The competing record expired between our delete and this read.
		return relationaldb.CheckInFlight, nil, nil
	}
	if err != nil {
		return relationaldb.CheckNew, nil, relationaldb.NewQueryError("check_and_store", "failed to read existing key", err)
	}

	if payload == nil {
		return relationaldb.CheckInFlight, nil, nil
	}

	var response map[string]interface{}
	if err := json.Unmarshal(payload, &response); err != nil {
		return relationaldb.CheckNew, nil, relationaldb.NewDataError("check_and_store", "invalid cached response payload", err)
	}
	return relationaldb.CheckReplayed, response, nil
}

func (r *IdempotencyRepository) StoreResponse(ctx context.Context, key string, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return relationaldb.NewDataError("store_response", "failed to encode response payload", err)
	}

	result, err := r.getExecutor().ExecContext(ctx,
		`UPDATE idempotency_keys SET response_payload = $1 WHERE key = $2`, data, key)
	if err != nil {
		return relationaldb.NewQueryError("store_response", "failed to store response", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return relationaldb.NewQueryError("store_response", "failed to read affected rows", err)
	}
	if affected == 0 {
		return relationaldb.NewDataError("store_response", "idempotency key not found", relationaldb.ErrKeyNotFound)
	}

	return nil
}

func (r *IdempotencyRepository) GetKey(ctx context.Context, key string) (*domain.IdempotencyKey, error) {
	var record domain.IdempotencyKey
	var payload []byte

	err := r.getExecutor().QueryRowContext(ctx,
		`SELECT key, operation, response_payload, expires_at, created_at
		 FROM idempotency_keys WHERE key = $1`, key).
		Scan(&record.Key, &record.Operation, &payload, &record.ExpiresAt, &record.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, relationaldb.NewDataError("get_key", "idempotency key not found", relationaldb.ErrKeyNotFound)
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("get_key", "failed to query idempotency key", err)
	}

	if payload != nil {
		if err := json.Unmarshal(payload, &record.ResponsePayload); err != nil {
			return nil, relationaldb.NewDataError("get_key", "invalid cached response payload", err)
		}
	}

	return &record, nil
}

func (r *IdempotencyRepository) DeleteKey(ctx context.Context, key string) (bool, error) {
	result, err := r.getExecutor().ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE key = $1`, key)
	if err != nil {
		return false, relationaldb.NewQueryError("delete_key", "failed to delete idempotency key", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, relationaldb.NewQueryError("delete_key", "failed to read affected rows", err)
	}
	return affected > 0, nil
}

func (r *IdempotencyRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.getExecutor().ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at <= $1`, time.Now().UTC())
	if err != nil {
		return 0, relationaldb.NewQueryError("delete_expired", "failed to delete expired keys", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, relationaldb.NewQueryError("delete_expired", "failed to read affected rows", err)
	}
	return deleted, nil
}
