/*
store.go - Persistence interface for ledger entries

PURPOSE:
  Defines what the ledger needs from the database. The sqlite store
  implements it both on the plain connection and inside WithTx, so the
  same Ledger code runs standalone or as one step of a larger atomic unit
  (a redemption, a cancellation).

APPEND-ONLY CONTRACT:
  Rows are only ever inserted. The single exception is the status column:
  a PENDING entry moves to APPROVED or REJECTED exactly once. Points,
  type and references never change after insert.

IDEMPOTENCY:
  Every write may carry an idempotency key. A key that already exists is
  rejected with ErrDuplicateIdempotencyKey, both by the Ledger pre-check
  and by the unique index underneath it.

SEE ALSO:
  - ledger.go: Ledger built on this interface
  - store/sqlite/sqlite.go: Concrete implementation
*/
package ledger

import (
	"context"
	"time"
)

// Store handles persistence of ledger entries.
type Store interface {
	// AppendTransaction persists an entry. Returns ErrDuplicateIdempotencyKey
	// if the key exists.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// GetTransaction returns nil, nil when the entry doesn't exist.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// CustomerTransactions returns every entry for a customer, oldest first.
	CustomerTransactions(ctx context.Context, customerID string) ([]Transaction, error)

	// ReferencingTransactions returns entries whose ReferenceID is refID.
	ReferencingTransactions(ctx context.Context, refID string) ([]Transaction, error)

	// TransactionExists checks if an idempotency key was already used.
	TransactionExists(ctx context.Context, idempotencyKey string) (bool, error)

	// UpdateTransactionStatus moves an entry out of PENDING.
	UpdateTransactionStatus(ctx context.Context, id string, status TxStatus, at time.Time) error

	// CustomerExists reports whether the customer row exists.
	CustomerExists(ctx context.Context, customerID string) (bool, error)
}
