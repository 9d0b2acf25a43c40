package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*ledger.Ledger, *memory.Memory) {
	t.Helper()
	store := memory.NewMemory()
	store.AddCustomer("c1")

	// Deterministic ids and a clock that ticks a second per call
	n := 0
	clock := t0
	led := ledger.New(store)
	led.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	led.NewID = func() string {
		n++
		return fmt.Sprintf("tx-%03d", n)
	}
	return led, store
}

func earn(t *testing.T, led *ledger.Ledger, points int64) ledger.Transaction {
	t.Helper()
	tx, err := led.Record(context.Background(), ledger.Entry{
		CustomerID: "c1", TenantID: "t1", Type: ledger.TxEarned, Points: points,
	})
	require.NoError(t, err)
	return tx
}

func balance(t *testing.T, led *ledger.Ledger) ledger.Balance {
	t.Helper()
	b, err := led.ComputeBalance(context.Background(), "c1")
	require.NoError(t, err)
	return b
}

// =============================================================================
// FOLD
// =============================================================================

func TestFold_Empty(t *testing.T) {
	b := ledger.Fold(nil)
	assert.Equal(t, ledger.Balance{}, b)
}

func TestFold_CountsApprovedAndVoidOnly(t *testing.T) {
	txs := []ledger.Transaction{
		{Type: ledger.TxEarned, Status: ledger.StatusApproved, Points: 500},
		{Type: ledger.TxSpent, Status: ledger.StatusApproved, Points: -200},
		{Type: ledger.TxEarned, Status: ledger.StatusPending, Points: 80},
		{Type: ledger.TxEarned, Status: ledger.StatusRejected, Points: 1000},
		{Type: ledger.TxEarned, Status: ledger.StatusApproved, Points: 40},
		{Type: ledger.TxEarned, Status: ledger.StatusVoid, Points: -40},
		{Type: ledger.TxRedeemCancel, Status: ledger.StatusApproved, Points: 200},
		{Type: ledger.TxRefund, Status: ledger.StatusApproved, Points: -100},
	}

	b := ledger.Fold(txs)

	assert.Equal(t, int64(400), b.Available)
	assert.Equal(t, int64(540), b.Earned)
	assert.Equal(t, int64(200), b.Spent)
	assert.Equal(t, int64(200), b.Cancelled)
	assert.Equal(t, int64(100), b.Refunded)
	assert.Equal(t, int64(-40), b.Voided)
	assert.Equal(t, int64(80), b.Pending)
	assert.Equal(t, 8, b.Entries)
}

func TestFold_OrderIndependent(t *testing.T) {
	txs := []ledger.Transaction{
		{Type: ledger.TxEarned, Status: ledger.StatusApproved, Points: 300},
		{Type: ledger.TxSpent, Status: ledger.StatusApproved, Points: -250},
		{Type: ledger.TxRedeemCancel, Status: ledger.StatusApproved, Points: 250},
		{Type: ledger.TxEarned, Status: ledger.StatusPending, Points: 10},
		{Type: ledger.TxRefund, Status: ledger.StatusApproved, Points: -300},
		{Type: ledger.TxEarned, Status: ledger.StatusApproved, Points: 75},
	}
	want := ledger.Fold(txs)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]ledger.Transaction(nil), txs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, ledger.Fold(shuffled))
	}
	// Folding twice gives the same answer.
	assert.Equal(t, want, ledger.Fold(txs))
}

func TestFold_NeverNegative(t *testing.T) {
	txs := []ledger.Transaction{
		{Type: ledger.TxSpent, Status: ledger.StatusApproved, Points: -50},
	}
	assert.Equal(t, int64(0), ledger.Fold(txs).Available)
}

// =============================================================================
// RECORD
// =============================================================================

func TestRecord_AppliesSign(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		typ    ledger.TxType
		points int64
		want   int64
	}{
		{ledger.TxEarned, 100, 100},
		{ledger.TxRedeemCancel, 25, 25},
		{ledger.TxSpent, 30, -30},
		{ledger.TxRefund, 40, -40},
		// Magnitude is taken regardless of the caller's sign
		{ledger.TxSpent, -30, -30},
		{ledger.TxEarned, -5, 5},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			tx, err := led.Record(ctx, ledger.Entry{CustomerID: "c1", Type: tt.typ, Points: tt.points})
			require.NoError(t, err)
			assert.Equal(t, tt.want, tx.Points)
			assert.Equal(t, ledger.StatusApproved, tx.Status)
		})
	}
}

func TestRecord_Validation(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := led.Record(ctx, ledger.Entry{CustomerID: "c1", Type: "BONUS", Points: 1})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = led.Record(ctx, ledger.Entry{CustomerID: "c1", Type: ledger.TxEarned, Status: ledger.StatusVoid, Points: 1})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = led.Record(ctx, ledger.Entry{CustomerID: "ghost", Type: ledger.TxEarned, Points: 1})
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
}

func TestRecord_Idempotency(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	// GIVEN: a purchase recorded with a key
	entry := ledger.Entry{CustomerID: "c1", Type: ledger.TxEarned, Points: 499, IdempotencyKey: "till-7:sale-42"}
	_, err := led.Record(ctx, entry)
	require.NoError(t, err)

	// WHEN: the same purchase is retried
	_, err = led.Record(ctx, entry)

	// THEN: the retry is rejected and the balance counts it once
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
	assert.Equal(t, int64(499), balance(t, led).Available)
}

func TestComputeBalance_NoEntries(t *testing.T) {
	led, _ := newTestLedger(t)

	b := balance(t, led)
	assert.Zero(t, b.Available)
	assert.Zero(t, b.Entries)

	_, err := led.ComputeBalance(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestApprove_PendingBecomesSpendable(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	tx, err := led.Record(ctx, ledger.Entry{CustomerID: "c1", Type: ledger.TxEarned, Status: ledger.StatusPending, Points: 120})
	require.NoError(t, err)

	b := balance(t, led)
	assert.Zero(t, b.Available)
	assert.Equal(t, int64(120), b.Pending)

	approved, err := led.Approve(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, approved.Status)

	b = balance(t, led)
	assert.Equal(t, int64(120), b.Available)
	assert.Zero(t, b.Pending)

	// Approving twice is a transition error
	_, err = led.Approve(ctx, tx.ID)
	var te *ledger.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ledger.StatusApproved, te.Status)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestReject_NeverCounts(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	tx, err := led.Record(ctx, ledger.Entry{CustomerID: "c1", Type: ledger.TxEarned, Status: ledger.StatusPending, Points: 120})
	require.NoError(t, err)

	rejected, err := led.Reject(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejected, rejected.Status)

	b := balance(t, led)
	assert.Zero(t, b.Available)
	assert.Zero(t, b.Pending)

	_, err = led.Approve(ctx, tx.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestVoid_AppendsReversal(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()

	// GIVEN: an approved purchase
	orig := earn(t, led, 300)

	// WHEN: it is voided
	reversal, err := led.Void(ctx, orig.ID, "admin-1", "entered twice")
	require.NoError(t, err)

	// THEN: a VOID entry with negated points references it; the original is untouched
	assert.Equal(t, ledger.StatusVoid, reversal.Status)
	assert.Equal(t, int64(-300), reversal.Points)
	assert.Equal(t, orig.ID, reversal.ReferenceID)
	assert.True(t, reversal.IsReversal())

	stored, err := store.GetTransaction(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, stored.Status)

	b := balance(t, led)
	assert.Zero(t, b.Available)
	assert.Equal(t, int64(-300), b.Voided)

	// AND: it cannot be voided or refunded again
	_, err = led.Void(ctx, orig.ID, "admin-1", "again")
	assert.Error(t, err)
	_, err = led.Refund(ctx, orig.ID, "admin-1", "again")
	assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)
}

func TestVoid_PendingIsRejected(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	tx, err := led.Record(ctx, ledger.Entry{CustomerID: "c1", Type: ledger.TxEarned, Status: ledger.StatusPending, Points: 50})
	require.NoError(t, err)

	out, err := led.Void(ctx, tx.ID, "admin-1", "")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejected, out.Status)
	assert.Equal(t, tx.ID, out.ID)
}

func TestVoid_RedemptionEntriesRefused(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	earn(t, led, 300)
	spent, err := led.Record(ctx, ledger.Entry{CustomerID: "c1", Type: ledger.TxSpent, Points: 250})
	require.NoError(t, err)

	_, err = led.Void(ctx, spent.ID, "admin-1", "")
	var te *ledger.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "void", te.Action)
	assert.Equal(t, ledger.TxSpent, te.Type)
}

func TestRefund(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	orig := earn(t, led, 499)
	earn(t, led, 100)

	refund, err := led.Refund(ctx, orig.ID, "partner-1", "goods returned")
	require.NoError(t, err)
	assert.Equal(t, ledger.TxRefund, refund.Type)
	assert.Equal(t, int64(-499), refund.Points)
	assert.Equal(t, orig.ID, refund.ReferenceID)

	b := balance(t, led)
	assert.Equal(t, int64(100), b.Available)
	assert.Equal(t, int64(499), b.Refunded)

	_, err = led.Refund(ctx, orig.ID, "partner-1", "twice")
	assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)

	// Only approved purchases can be refunded
	_, err = led.Refund(ctx, refund.ID, "partner-1", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestRecord_InsideFailedUnitIsRolledBack(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()
	earn(t, led, 300)

	// GIVEN: a unit that records an entry and then fails
	boom := errors.New("voucher insert failed")
	err := store.WithTx(ctx, func(s ledger.Store) error {
		inner := &ledger.Ledger{Store: s, Now: led.Now, NewID: led.NewID}
		if _, err := inner.Record(ctx, ledger.Entry{CustomerID: "c1", Type: ledger.TxSpent, Points: 250}); err != nil {
			return err
		}
		return boom
	})

	// THEN: the spend never happened
	require.ErrorIs(t, err, boom)
	b := balance(t, led)
	assert.Equal(t, int64(300), b.Available)
	assert.Equal(t, 1, b.Entries)
}

func TestTransitions_NotFound(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := led.Approve(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
	_, err = led.Void(ctx, "missing", "a", "")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
	_, err = led.Refund(ctx, "missing", "a", "")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func TestErrorCodes(t *testing.T) {
	ipe := &ledger.InsufficientPointsError{Required: 250, Available: 50}
	assert.Equal(t, "insufficient points: need 250, have 50", ipe.Error())
	assert.Equal(t, "insufficient_points", ledger.Code(ipe))
	assert.True(t, ledger.IsClientError(ipe))
	assert.False(t, ledger.IsRetryable(ipe))

	nce := &ledger.NotCancellableError{VoucherID: "v1", Reason: ledger.ReasonAlreadyUsed}
	assert.Equal(t, "voucher_already_used", ledger.Code(nce))
	assert.ErrorIs(t, nce, ledger.ErrVoucherNotCancellable)

	assert.True(t, ledger.IsNotFound(ledger.ErrVoucherNotFound))
	assert.Equal(t, "", ledger.Code(fmt.Errorf("plain")))
	assert.True(t, ledger.IsRetryable(fmt.Errorf("database is locked")))
}
