/*
ledger.go - Append-only points ledger

PURPOSE:
  The Ledger is the only way entries are written. It applies the sign
  convention, checks idempotency keys and enforces the small state machine
  each entry goes through:

    PENDING  --approve-->  APPROVED
    PENDING  --reject--->  REJECTED
    APPROVED --void----->  (new VOID reversal appended, original untouched)
    APPROVED EARNED --refund--> (new REFUND entry appended)

CORRECTIONS:
  Mistakes are never edited away. A void appends a reversal with the
  negated points; a refund appends a REFUND entry. Each original can be
  reversed once.

  Redemption entries (SPENT, REDEEM_CANCEL) are not voided directly: the
  voucher lifecycle owns them and reverses a SPENT by cancelling the
  voucher.

EXAMPLE FLOW:
  1. Purchase of 49.99:        EARNED        +499  APPROVED
  2. Redeem a 250 reward:      SPENT         -250  APPROVED
  3. Cancel the voucher:       REDEEM_CANCEL +250  APPROVED
  4. Purchase refunded:        REFUND        -499  APPROVED

  Balance: 499 - 250 + 250 - 499 = 0

SEE ALSO:
  - store.go: Persistence interface
  - balance.go: Fold()
  - rewards/engine.go: Uses a Ledger inside each atomic unit
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger writes and reads entries through a Store.
type Ledger struct {
	Store Store
	Now   func() time.Time
	NewID func() string
}

// New creates a ledger over store using the wall clock and random UUIDs.
func New(store Store) *Ledger {
	return &Ledger{Store: store, Now: time.Now, NewID: uuid.NewString}
}

// Record appends a new entry. Points in the entry is a magnitude; the
// stored delta carries the sign for the entry's type.
func (l *Ledger) Record(ctx context.Context, e Entry) (Transaction, error) {
	if !e.Type.Valid() {
		return Transaction{}, fmt.Errorf("%w: unknown transaction type %q", ErrValidation, e.Type)
	}
	if e.Status == "" {
		e.Status = StatusApproved
	}
	if e.Status != StatusApproved && e.Status != StatusPending {
		return Transaction{}, fmt.Errorf("%w: new entries must be PENDING or APPROVED, got %q", ErrValidation, e.Status)
	}

	exists, err := l.Store.CustomerExists(ctx, e.CustomerID)
	if err != nil {
		return Transaction{}, err
	}
	if !exists {
		return Transaction{}, ErrCustomerNotFound
	}

	now := l.Now().UTC()
	tx := Transaction{
		ID:             l.NewID(),
		CustomerID:     e.CustomerID,
		TenantID:       e.TenantID,
		RecordedBy:     e.RecordedBy,
		Type:           e.Type,
		Status:         e.Status,
		Amount:         e.Amount,
		Points:         e.SignedPoints(),
		ReferenceID:    e.ReferenceID,
		Reason:         e.Reason,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := l.append(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

func (l *Ledger) append(ctx context.Context, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.TransactionExists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendTransaction(ctx, tx)
}

// Transactions returns the customer's history, oldest first.
func (l *Ledger) Transactions(ctx context.Context, customerID string) ([]Transaction, error) {
	exists, err := l.Store.CustomerExists(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrCustomerNotFound
	}
	return l.Store.CustomerTransactions(ctx, customerID)
}

// ComputeBalance folds the customer's ledger. A customer with no entries
// has a zero balance.
func (l *Ledger) ComputeBalance(ctx context.Context, customerID string) (Balance, error) {
	txs, err := l.Transactions(ctx, customerID)
	if err != nil {
		return Balance{}, err
	}
	return Fold(txs), nil
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// Get loads an entry or returns ErrTransactionNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (*Transaction, error) {
	tx, err := l.Store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

// Approve moves a PENDING entry to APPROVED.
func (l *Ledger) Approve(ctx context.Context, id string) (Transaction, error) {
	return l.settle(ctx, id, StatusApproved, "approve")
}

// Reject moves a PENDING entry to REJECTED. It never counts afterwards.
func (l *Ledger) Reject(ctx context.Context, id string) (Transaction, error) {
	return l.settle(ctx, id, StatusRejected, "reject")
}

func (l *Ledger) settle(ctx context.Context, id string, to TxStatus, action string) (Transaction, error) {
	tx, err := l.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if tx.Status != StatusPending {
		return Transaction{}, &TransitionError{TransactionID: id, Type: tx.Type, Status: tx.Status, Action: action}
	}
	now := l.Now().UTC()
	if err := l.Store.UpdateTransactionStatus(ctx, id, to, now); err != nil {
		return Transaction{}, err
	}
	tx.Status = to
	tx.UpdatedAt = now
	return *tx, nil
}

// Void cancels an entry. A PENDING entry is rejected in place. An APPROVED
// EARNED or REFUND entry gets a VOID reversal appended; the returned
// transaction is that reversal.
func (l *Ledger) Void(ctx context.Context, id, actor, reason string) (Transaction, error) {
	orig, err := l.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if orig.Status == StatusPending {
		return l.Reject(ctx, id)
	}
	if orig.Status != StatusApproved || (orig.Type != TxEarned && orig.Type != TxRefund) {
		return Transaction{}, &TransitionError{TransactionID: id, Type: orig.Type, Status: orig.Status, Action: "void"}
	}
	if err := l.ensureNotReversed(ctx, id); err != nil {
		return Transaction{}, err
	}

	now := l.Now().UTC()
	reversal := Transaction{
		ID:             l.NewID(),
		CustomerID:     orig.CustomerID,
		TenantID:       orig.TenantID,
		RecordedBy:     actor,
		Type:           orig.Type,
		Status:         StatusVoid,
		Amount:         orig.Amount,
		Points:         -orig.Points,
		ReferenceID:    orig.ID,
		Reason:         reason,
		IdempotencyKey: "void:" + orig.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := l.append(ctx, reversal); err != nil {
		return Transaction{}, err
	}
	return reversal, nil
}

// Refund takes back the points of an APPROVED purchase by appending a
// REFUND entry. Each purchase is refunded at most once.
func (l *Ledger) Refund(ctx context.Context, id, actor, reason string) (Transaction, error) {
	orig, err := l.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if orig.Type != TxEarned || orig.Status != StatusApproved {
		return Transaction{}, &TransitionError{TransactionID: id, Type: orig.Type, Status: orig.Status, Action: "refund"}
	}
	if err := l.ensureNotReversed(ctx, id); err != nil {
		return Transaction{}, err
	}

	return l.Record(ctx, Entry{
		CustomerID:     orig.CustomerID,
		TenantID:       orig.TenantID,
		RecordedBy:     actor,
		Type:           TxRefund,
		Amount:         orig.Amount,
		Points:         orig.Points,
		ReferenceID:    orig.ID,
		Reason:         reason,
		IdempotencyKey: "refund:" + orig.ID,
	})
}

// ensureNotReversed fails when a VOID reversal or REFUND already points at id.
func (l *Ledger) ensureNotReversed(ctx context.Context, id string) error {
	refs, err := l.Store.ReferencingTransactions(ctx, id)
	if err != nil {
		return err
	}
	for _, r := range refs {
		if r.Status == StatusVoid || (r.Type == TxRefund && r.Status.Counts()) {
			return fmt.Errorf("%w: %s reversed by %s", ErrAlreadyReversed, id, r.ID)
		}
	}
	return nil
}
