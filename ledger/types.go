/*
Package ledger records every point-affecting event for a customer and
derives balances from that record.

PURPOSE:
  The transaction log is the source of truth for a customer's points.
  The cached counter on the customer row is display-only; every decision
  that moves points (redeem, cancel, refund) reads the ledger.

KEY CONCEPTS IN THIS FILE (types.go):
  - TxType:      EARNED, SPENT, REFUND, REDEEM_CANCEL
  - TxStatus:    PENDING, APPROVED, VOID, REJECTED
  - Transaction: an immutable, signed point delta

SIGN CONVENTION:
  Points are stored already signed, so a balance is a plain sum.
  The sign is applied once, when an Entry is turned into a Transaction:

    EARNED         +points
    REDEEM_CANCEL  +points
    SPENT          -points
    REFUND         -points

  A void never edits the original row. It appends a reversal whose status
  is VOID and whose points are the original's negated.

STATUS AND BALANCE:
  APPROVED and VOID entries count. PENDING entries wait for approval and
  are reported separately. REJECTED entries (a pending entry that was
  declined) never count.

SEE ALSO:
  - balance.go: Fold()
  - ledger.go: Record / Approve / Void / Refund
  - store/sqlite/sqlite.go: persistence
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION TYPES AND STATUSES
// =============================================================================

type TxType string

const (
	TxEarned       TxType = "EARNED"        // Points from a purchase
	TxSpent        TxType = "SPENT"         // Points exchanged for a voucher
	TxRefund       TxType = "REFUND"        // Purchase refunded, earned points taken back
	TxRedeemCancel TxType = "REDEEM_CANCEL" // Voucher cancelled, spent points given back
)

// Valid reports whether t is a known type.
func (t TxType) Valid() bool {
	switch t {
	case TxEarned, TxSpent, TxRefund, TxRedeemCancel:
		return true
	}
	return false
}

// Sign is +1 for crediting types and -1 for debiting types.
func (t TxType) Sign() int64 {
	switch t {
	case TxSpent, TxRefund:
		return -1
	default:
		return 1
	}
}

type TxStatus string

const (
	StatusPending  TxStatus = "PENDING"
	StatusApproved TxStatus = "APPROVED"
	StatusVoid     TxStatus = "VOID"
	StatusRejected TxStatus = "REJECTED"
)

// Counts reports whether entries with this status contribute to the balance.
func (s TxStatus) Counts() bool {
	return s == StatusApproved || s == StatusVoid
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Transaction is one ledger entry. Points is signed.
type Transaction struct {
	ID         string
	CustomerID string
	TenantID   string
	RecordedBy string

	Type   TxType
	Status TxStatus

	// Amount is the purchase value in currency; zero for non-purchase entries.
	Amount decimal.Decimal
	Points int64

	// ReferenceID links to what caused the entry: the redemption for SPENT
	// and REDEEM_CANCEL, the original transaction for REFUND and VOID.
	ReferenceID    string
	Reason         string
	IdempotencyKey string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsReversal reports whether tx is a void reversal of another entry.
func (tx Transaction) IsReversal() bool {
	return tx.Status == StatusVoid
}

// Entry is the input for recording a transaction. Points is a magnitude;
// the ledger applies the sign for Type.
type Entry struct {
	CustomerID     string
	TenantID       string
	RecordedBy     string
	Type           TxType
	Status         TxStatus // defaults to APPROVED
	Amount         decimal.Decimal
	Points         int64
	ReferenceID    string
	Reason         string
	IdempotencyKey string
}

// SignedPoints returns the delta stored for this entry.
func (e Entry) SignedPoints() int64 {
	p := e.Points
	if p < 0 {
		p = -p
	}
	return e.Type.Sign() * p
}
