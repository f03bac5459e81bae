package postgres

import (
	"context"
	"database/sql"

	"github.com/leasify/leased/internal/storage/relationaldb"
)

// SystemRepository implements connection-level operations for PostgreSQL
type SystemRepository struct {
	db *sql.DB
}

// NewSystemRepository creates a new PostgreSQL system repository
func NewSystemRepository(db *sql.DB) *SystemRepository {
	return &SystemRepository{db: db}
}

func (r *SystemRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return relationaldb.NewConnectionError("ping", "database ping failed", err)
	}
	return nil
}

func (r *SystemRepository) Begin(ctx context.Context) (relationaldb.TransactionContext, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, relationaldb.NewTransactionError("begin", "failed to begin transaction", err)
	}
	return NewTransactionContext(tx), nil
}
