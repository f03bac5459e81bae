package postgres

import (
	"context"
	"database/sql"
	"sync"

	"github.com/leasify/leased/internal/storage/relationaldb"
)

// TransactionContext binds repository access to a single sql.Tx.
type TransactionContext struct {
	tx *sql.Tx

	mu     sync.Mutex
	closed bool

	lease       *LeaseRepository
	payment     *PaymentRepository
	ledger      *LedgerRepository
	idempotency *IdempotencyRepository
}

// NewTransactionContext creates a transaction context over tx
func NewTransactionContext(tx *sql.Tx) *TransactionContext {
	return &TransactionContext{
		tx:          tx,
		lease:       NewLeaseRepositoryWithTx(tx),
		payment:     NewPaymentRepositoryWithTx(tx),
		ledger:      NewLedgerRepositoryWithTx(tx),
		idempotency: NewIdempotencyRepositoryWithTx(tx),
	}
}

func (t *TransactionContext) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return relationaldb.NewTransactionError("commit", "transaction already closed", relationaldb.ErrTransactionClosed)
	}
	t.closed = true

	if err := t.tx.Commit(); err != nil {
		return relationaldb.NewTransactionError("commit", "failed to commit transaction", err)
	}
	return nil
}

func (t *TransactionContext) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return relationaldb.NewTransactionError("rollback", "failed to roll back transaction", err)
	}
	return nil
}

func (t *TransactionContext) Lease() relationaldb.LeaseRepository             { return t.lease }
func (t *TransactionContext) Payment() relationaldb.PaymentRepository         { return t.payment }
func (t *TransactionContext) Ledger() relationaldb.LedgerRepository           { return t.ledger }
func (t *TransactionContext) Idempotency() relationaldb.IdempotencyRepository { return t.idempotency }
