package rewards_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/rewards"
	"github.com/warp/loyalty-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

// tenPerUnit awards 10 points per currency unit with no tiers or bonuses.
const tenPerUnit = `{"basePointsPerUnit": 10}`

type fixture struct {
	engine   *rewards.Engine
	store    *sqlite.Store
	clock    time.Time
	tenant   *rewards.Tenant
	customer *rewards.Customer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, clock: t0}
	f.engine = rewards.NewEngine(store, nil, nil)
	f.engine.Now = func() time.Time { return f.clock }

	ctx := context.Background()
	f.tenant, err = f.engine.CreateTenant(ctx, rewards.NewTenant{Name: "Corner Cafe", PointsConfig: tenPerUnit})
	require.NoError(t, err)
	f.customer, err = f.engine.RegisterCustomer(ctx, rewards.NewCustomer{Email: "Ana@Example.com", Name: "Ana"})
	require.NoError(t, err)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// earn gives the customer amount*10 points through a purchase.
func (f *fixture) earn(t *testing.T, amount string) ledger.Transaction {
	t.Helper()
	res, err := f.engine.RecordPurchase(context.Background(), rewards.Purchase{
		CustomerID: f.customer.ID,
		TenantID:   f.tenant.ID,
		Amount:     decimal.RequireFromString(amount),
		RecordedBy: "partner-1",
	})
	require.NoError(t, err)
	return res.Transaction
}

func (f *fixture) reward(t *testing.T, name string, cost int64) *rewards.Reward {
	t.Helper()
	r, err := f.engine.CreateReward(context.Background(), rewards.NewReward{
		TenantID: f.tenant.ID, Name: name, Points: cost, CreatedBy: "partner-1",
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.engine.Balance(context.Background(), f.customer.ID)
	require.NoError(t, err)
	return b.Available
}

func (f *fixture) cached(t *testing.T) int64 {
	t.Helper()
	c, err := f.store.GetCustomer(context.Background(), f.customer.ID)
	require.NoError(t, err)
	return c.CachedPoints
}

func (f *fixture) entries(t *testing.T) []ledger.Transaction {
	t.Helper()
	txs, err := f.engine.Transactions(context.Background(), f.customer.ID)
	require.NoError(t, err)
	return txs
}

// fixedCodes always proposes the same voucher code.
type fixedCodes struct {
	rewards.RandomCodes
	code string
}

func (c fixedCodes) VoucherCode() (string, error) { return c.code, nil }

// =============================================================================
// REDEEM
// =============================================================================

func TestRedeem_ThenInsufficientPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: a balance of 300 and a reward costing 250
	f.earn(t, "30.00")
	coffee := f.reward(t, "Free Coffee", 250)
	require.Equal(t, int64(300), f.balance(t))

	// WHEN: the customer redeems it
	res, err := f.engine.Redeem(ctx, f.customer.ID, coffee.ID)
	require.NoError(t, err)

	// THEN: an active voucher is issued and 50 points remain
	assert.Equal(t, int64(50), res.NewBalance)
	assert.Equal(t, rewards.VoucherActive, res.Voucher.Status)
	assert.Equal(t, "Free Coffee", res.RewardName)
	assert.Regexp(t, `^LOYAL-[0-9A-F]{4}-[0-9A-F]{4}$`, res.Voucher.Code)
	assert.True(t, t0.Add(rewards.DefaultVoucherValidity).Equal(res.Voucher.ExpiresAt))
	assert.Equal(t, int64(250), res.Redemption.Points)
	assert.Equal(t, int64(50), f.balance(t))
	assert.Equal(t, int64(50), f.cached(t))

	// WHEN: redeeming the same reward again
	_, err = f.engine.Redeem(ctx, f.customer.ID, coffee.ID)

	// THEN: insufficient points, with the numbers a client needs
	var ipe *ledger.InsufficientPointsError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, int64(250), ipe.Required)
	assert.Equal(t, int64(50), ipe.Available)
	assert.Len(t, f.entries(t), 2)
}

func TestRedeem_SpentEntryIsNegative(t *testing.T) {
	f := newFixture(t)
	f.earn(t, "30.00")
	coffee := f.reward(t, "Free Coffee", 250)

	res, err := f.engine.Redeem(context.Background(), f.customer.ID, coffee.ID)
	require.NoError(t, err)

	txs := f.entries(t)
	require.Len(t, txs, 2)
	spent := txs[1]
	assert.Equal(t, ledger.TxSpent, spent.Type)
	assert.Equal(t, int64(-250), spent.Points)
	assert.Equal(t, res.Redemption.ID, spent.ReferenceID)
}

func TestRedeem_NotFoundAndNotRedeemable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.earn(t, "100.00")

	_, err := f.engine.Redeem(ctx, f.customer.ID, "missing")
	assert.ErrorIs(t, err, ledger.ErrRewardNotFound)

	coffee := f.reward(t, "Free Coffee", 250)
	_, err = f.engine.Redeem(ctx, "ghost", coffee.ID)
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)

	// A tenant requiring approval issues PENDING rewards
	strict, err := f.engine.CreateTenant(ctx, rewards.NewTenant{Name: "Strict Shop", RequireRewardApproval: true})
	require.NoError(t, err)
	pending, err := f.engine.CreateReward(ctx, rewards.NewReward{TenantID: strict.ID, Name: "Mug", Points: 100})
	require.NoError(t, err)
	assert.Equal(t, rewards.ApprovalPending, pending.ApprovalStatus)

	_, err = f.engine.Redeem(ctx, f.customer.ID, pending.ID)
	assert.ErrorIs(t, err, ledger.ErrRewardNotRedeemable)

	_, err = f.engine.ApproveReward(ctx, pending.ID, "admin-1")
	require.NoError(t, err)
	_, err = f.engine.Redeem(ctx, f.customer.ID, pending.ID)
	assert.NoError(t, err)
}

func TestRedeem_NoDoubleSpendUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: exactly enough for one redemption
	f.earn(t, "25.00")
	coffee := f.reward(t, "Free Coffee", 250)

	// WHEN: many redemptions race
	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		refused   int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Redeem(ctx, f.customer.ID, coffee.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ledger.ErrInsufficientPoints):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// THEN: exactly one wins and the balance never goes below zero
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, refused)
	assert.Equal(t, int64(0), f.balance(t))
	assert.Equal(t, int64(0), f.cached(t))
}

func TestRedeem_CodeExhaustionLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.earn(t, "60.00")
	coffee := f.reward(t, "Free Coffee", 250)
	f.engine.Codes = fixedCodes{code: "LOYAL-AAAA-BBBB"}

	// GIVEN: the only code the generator knows is already taken
	_, err := f.engine.Redeem(ctx, f.customer.ID, coffee.ID)
	require.NoError(t, err)

	// WHEN: another redemption needs a fresh code
	_, err = f.engine.Redeem(ctx, f.customer.ID, coffee.ID)

	// THEN: it fails and no redemption, voucher or entry for it persists
	assert.ErrorIs(t, err, ledger.ErrCodeGenerationExhausted)
	assert.Len(t, f.entries(t), 2)
	vouchers, err := f.engine.ListVouchers(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Len(t, vouchers, 1)
	assert.Equal(t, int64(350), f.balance(t))
	assert.Equal(t, int64(350), f.cached(t))
}

// =============================================================================
// CANCEL, USE, EXPIRE
// =============================================================================

func TestCancel_RestoresBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.earn(t, "30.00")
	coffee := f.reward(t, "Free Coffee", 250)
	res, err := f.engine.Redeem(ctx, f.customer.ID, coffee.ID)
	require.NoError(t, err)

	// WHEN: cancelled a day later
	f.advance(24 * time.Hour)
	out, err := f.engine.Cancel(ctx, res.Voucher.ID, f.customer.ID)
	require.NoError(t, err)

	// THEN: the full 300 is back, in the ledger and the cached counter
	assert.Equal(t, int64(250), out.RefundedPoints)
	assert.Equal(t, int64(300), out.NewBalance)
	assert.Equal(t, int64(300), f.balance(t))
	assert.Equal(t, int64(300), f.cached(t))

	txs := f.entries(t)
	require.Len(t, txs, 3)
	assert.Equal(t, ledger.TxRedeemCancel, txs[2].Type)
	assert.Equal(t, int64(250), txs[2].Points)

	vouchers, err := f.engine.ListVouchers(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Empty(t, vouchers)

	// AND: a second cancel is refused
	_, err = f.engine.Cancel(ctx, res.Voucher.ID, f.customer.ID)
	var nce *ledger.NotCancellableError
	require.ErrorAs(t, err, &nce)
	assert.Equal(t, ledger.ReasonAlreadyCancelled, nce.Reason)
}

func TestCancel_Refusals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.earn(t, "100.00")
	coffee := f.reward(t, "Free Coffee", 250)

	redeem := func() rewards.Voucher {
		res, err := f.engine.Redeem(ctx, f.customer.ID, coffee.ID)
		require.NoError(t, err)
		return res.Voucher
	}

	t.Run("other customer", func(t *testing.T) {
		v := redeem()
		_, err := f.engine.Cancel(ctx, v.ID, "someone-else")
		assert.ErrorIs(t, err, ledger.ErrVoucherNotFound)
	})

	t.Run("unknown voucher", func(t *testing.T) {
		_, err := f.engine.Cancel(ctx, "missing", f.customer.ID)
		assert.ErrorIs(t, err, ledger.ErrVoucherNotFound)
	})

	t.Run("already used", func(t *testing.T) {
		v := redeem()
		_, err := f.engine.Use(ctx, v.ID, f.tenant.ID)
		require.NoError(t, err)

		_, err = f.engine.Cancel(ctx, v.ID, f.customer.ID)
		var nce *ledger.NotCancellableError
		require.ErrorAs(t, err, &nce)
		assert.Equal(t, ledger.ReasonAlreadyUsed, nce.Reason)
	})
}

func TestExpiry_ForfeitsPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: a redeemed voucher
	f.earn(t, "30.00")
	coffee := f.reward(t, "Free Coffee", 250)
	res, err := f.engine.Redeem(ctx, f.customer.ID, coffee.ID)
	require.NoError(t, err)

	// WHEN: its validity window passes and vouchers are listed
	f.advance(rewards.DefaultVoucherValidity + time.Minute)
	vouchers, err := f.engine.ListVouchers(ctx, f.customer.ID)
	require.NoError(t, err)

	// THEN: it is expired and the balance is unchanged since redemption
	require.Len(t, vouchers, 1)
	assert.Equal(t, rewards.VoucherExpired, vouchers[0].Voucher.Status)
	assert.Equal(t, "Free Coffee", vouchers[0].Reward.Name)
	assert.Equal(t, int64(50), f.balance(t))

	// AND: it can be neither cancelled nor used
	_, err = f.engine.Cancel(ctx, res.Voucher.ID, f.customer.ID)
	var nce *ledger.NotCancellableError
	require.ErrorAs(t, err, &nce)
	assert.Equal(t, ledger.ReasonExpired, nce.Reason)

	_, err = f.engine.Use(ctx, res.Voucher.ID, "")
	assert.ErrorIs(t, err, ledger.ErrVoucherNotUsable)
}

func TestExpireAll_Sweeps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.earn(t, "100.00")
	coffee := f.reward(t, "Free Coffee", 250)
	_, err := f.engine.Redeem(ctx, f.customer.ID, coffee.ID)
	require.NoError(t, err)

	n, err := f.engine.ExpireAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.advance(rewards.DefaultVoucherValidity + time.Second)
	n, err = f.engine.ExpireAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.earn(t, "30.00")
	coffee := f.reward(t, "Free Coffee", 250)
	res, err := f.engine.Redeem(ctx, f.customer.ID, coffee.ID)
	require.NoError(t, err)

	// Another tenant cannot see the voucher
	_, err = f.engine.Use(ctx, res.Voucher.ID, "other-tenant")
	assert.ErrorIs(t, err, ledger.ErrVoucherNotFound)

	f.advance(time.Hour)
	used, err := f.engine.Use(ctx, res.Voucher.ID, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, rewards.VoucherUsed, used.Status)
	require.NotNil(t, used.UsedAt)
	assert.True(t, t0.Add(time.Hour).Equal(*used.UsedAt))

	_, err = f.engine.Use(ctx, res.Voucher.ID, f.tenant.ID)
	assert.ErrorIs(t, err, ledger.ErrVoucherNotUsable)

	// Using a voucher does not move points
	assert.Equal(t, int64(50), f.balance(t))
}

// =============================================================================
// PURCHASES AND LEDGER WORKFLOW
// =============================================================================

func TestRecordPurchase_UsesTenantConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.UpdatePointsConfig(ctx, f.tenant.ID, `{
		"basePointsPerUnit": 1,
		"tiers": [
			{"minAmount": 0, "maxAmount": 50, "pointsPerUnit": 10},
			{"minAmount": 50, "pointsPerUnit": 12}
		],
		"roundPointsUp": false
	}`)
	require.NoError(t, err)

	res, err := f.engine.RecordPurchase(ctx, rewards.Purchase{
		CustomerID: f.customer.ID, TenantID: f.tenant.ID, Amount: decimal.RequireFromString("49.99"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(499), res.Transaction.Points)
	assert.Equal(t, 0, res.Calculation.TierIndex)

	res, err = f.engine.RecordPurchase(ctx, rewards.Purchase{
		CustomerID: f.customer.ID, TenantID: f.tenant.ID, Amount: decimal.RequireFromString("50.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(600), res.Transaction.Points)
	assert.Equal(t, int64(1099), f.balance(t))
	assert.Equal(t, int64(1099), f.cached(t))
}

func TestRecordPurchase_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.RecordPurchase(ctx, rewards.Purchase{CustomerID: f.customer.ID, TenantID: f.tenant.ID, Amount: decimal.Zero})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.engine.RecordPurchase(ctx, rewards.Purchase{CustomerID: f.customer.ID, TenantID: "missing", Amount: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, ledger.ErrTenantNotFound)

	_, err = f.engine.RecordPurchase(ctx, rewards.Purchase{CustomerID: "ghost", TenantID: f.tenant.ID, Amount: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
}

func TestRecordPurchase_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := rewards.Purchase{
		CustomerID: f.customer.ID, TenantID: f.tenant.ID,
		Amount: decimal.NewFromInt(10), IdempotencyKey: "till-3:0042",
	}
	_, err := f.engine.RecordPurchase(ctx, p)
	require.NoError(t, err)
	_, err = f.engine.RecordPurchase(ctx, p)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
	assert.Equal(t, int64(100), f.balance(t))
	assert.Equal(t, int64(100), f.cached(t))
}

func TestPendingPurchase_ApproveAndReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gated, err := f.engine.CreateTenant(ctx, rewards.NewTenant{
		Name: "Gated Grocer", PointsConfig: tenPerUnit, RequirePurchaseApproval: true,
	})
	require.NoError(t, err)

	purchase := func() ledger.Transaction {
		res, err := f.engine.RecordPurchase(ctx, rewards.Purchase{
			CustomerID: f.customer.ID, TenantID: gated.ID, Amount: decimal.NewFromInt(10),
		})
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPending, res.Transaction.Status)
		return res.Transaction
	}

	// Pending points are not spendable
	first := purchase()
	b, err := f.engine.Balance(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Zero(t, b.Available)
	assert.Equal(t, int64(100), b.Pending)
	assert.Zero(t, f.cached(t))

	_, err = f.engine.ApproveTransaction(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), f.balance(t))
	assert.Equal(t, int64(100), f.cached(t))

	second := purchase()
	rejected, err := f.engine.RejectTransaction(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejected, rejected.Status)
	assert.Equal(t, int64(100), f.balance(t))
	assert.Equal(t, int64(100), f.cached(t))
}

func TestVoidAndRefund_MoveCachedCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.earn(t, "10.00")
	b := f.earn(t, "20.00")
	require.Equal(t, int64(300), f.cached(t))

	reversal, err := f.engine.VoidTransaction(ctx, a.ID, "admin-1", "duplicate")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusVoid, reversal.Status)
	assert.Equal(t, int64(200), f.balance(t))
	assert.Equal(t, int64(200), f.cached(t))

	refund, err := f.engine.RefundPurchase(ctx, b.ID, "partner-1", "returned")
	require.NoError(t, err)
	assert.Equal(t, int64(-200), refund.Points)
	assert.Zero(t, f.balance(t))
	assert.Zero(t, f.cached(t))

	_, err = f.engine.RefundPurchase(ctx, b.ID, "partner-1", "again")
	assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)
}

func TestVoidAfterSpend_CachedCounterStopsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: 300 earned and 250 of it spent on a voucher
	earned := f.earn(t, "30.00")
	coffee := f.reward(t, "Free Coffee", 250)
	_, err := f.engine.Redeem(ctx, f.customer.ID, coffee.ID)
	require.NoError(t, err)
	require.Equal(t, int64(50), f.cached(t))

	// WHEN: the purchase is voided
	_, err = f.engine.VoidTransaction(ctx, earned.ID, "admin-1", "entered twice")
	require.NoError(t, err)

	// THEN: ledger and display counter both read zero
	assert.Zero(t, f.balance(t))
	assert.Zero(t, f.cached(t))
}

func TestResyncCachedPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.earn(t, "30.00")

	// GIVEN: a counter that drifted from the ledger
	require.NoError(t, f.store.SetCachedPoints(ctx, f.customer.ID, 9999, t0))

	before, after, err := f.engine.ResyncCachedPoints(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9999), before)
	assert.Equal(t, int64(300), after)
	assert.Equal(t, int64(300), f.cached(t))

	// The display path never trusts the counter
	shown, err := f.engine.DisplayBalance(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), shown)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestRegisterCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "ana@example.com", f.customer.Email)
	assert.Regexp(t, `^[A-HJ-NP-Z2-9]{6}$`, f.customer.DisplayID)
	assert.NotEmpty(t, f.customer.QRCodeID)

	_, err := f.engine.RegisterCustomer(ctx, rewards.NewCustomer{Email: "ANA@example.com"})
	assert.ErrorIs(t, err, ledger.ErrConflict)

	_, err = f.engine.RegisterCustomer(ctx, rewards.NewCustomer{Email: " "})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.engine.RegisterCustomer(ctx, rewards.NewCustomer{Email: "bo@example.com", TenantID: "missing"})
	assert.ErrorIs(t, err, ledger.ErrTenantNotFound)
}

func TestCreateTenant_SlugCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "corner-cafe", f.tenant.Slug)

	again, err := f.engine.CreateTenant(ctx, rewards.NewTenant{Name: "Corner Café"})
	require.NoError(t, err)
	assert.NotEqual(t, f.tenant.Slug, again.Slug)
	assert.Contains(t, again.Slug, "corner-cafe-")

	_, err = f.engine.CreateTenant(ctx, rewards.NewTenant{Name: "Bad", PointsConfig: `{"roundingRule": "nearest_3"}`})
	assert.Error(t, err)
}

func TestRewardApprovalWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	strict, err := f.engine.CreateTenant(ctx, rewards.NewTenant{Name: "Strict Shop", RequireRewardApproval: true})
	require.NoError(t, err)
	r, err := f.engine.CreateReward(ctx, rewards.NewReward{TenantID: strict.ID, Name: "Mug", Points: 100})
	require.NoError(t, err)

	_, err = f.engine.RejectReward(ctx, r.ID, "admin-1", "")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	rejected, err := f.engine.RejectReward(ctx, r.ID, "admin-1", "blurry photo")
	require.NoError(t, err)
	assert.Equal(t, rewards.ApprovalRejected, rejected.ApprovalStatus)
	assert.Equal(t, "blurry photo", rejected.RejectionReason)

	approved, err := f.engine.ApproveReward(ctx, r.ID, "admin-2")
	require.NoError(t, err)
	assert.Equal(t, rewards.ApprovalApproved, approved.ApprovalStatus)
	assert.Equal(t, "admin-2", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)
	assert.Empty(t, approved.RejectionReason)

	_, err = f.engine.ApproveReward(ctx, r.ID, "admin-2")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	// No-approval tenants go straight to redeemable
	open := f.reward(t, "Cookie", 50)
	assert.Equal(t, rewards.ApprovalNone, open.ApprovalStatus)
	assert.True(t, open.Redeemable())
}

func TestDeleteReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unused := f.reward(t, "Cookie", 50)
	require.NoError(t, f.engine.DeleteReward(ctx, unused.ID))
	_, err := f.engine.GetReward(ctx, unused.ID)
	assert.ErrorIs(t, err, ledger.ErrRewardNotFound)

	f.earn(t, "30.00")
	coffee := f.reward(t, "Free Coffee", 250)
	_, err = f.engine.Redeem(ctx, f.customer.ID, coffee.ID)
	require.NoError(t, err)

	err = f.engine.DeleteReward(ctx, coffee.ID)
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		points int64
		want   string
	}{
		{0, rewards.TierStandard},
		{99, rewards.TierStandard},
		{100, rewards.TierSilver},
		{499, rewards.TierSilver},
		{500, rewards.TierGold},
		{999, rewards.TierGold},
		{1000, rewards.TierPlatinum},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rewards.TierFor(tt.points), "points=%d", tt.points)
	}
}
