/*
engine.go - Redemption engine and voucher lifecycle

PURPOSE:
  Every operation that moves points beyond a single ledger entry lives
  here. Each runs inside one Store.WithTx so its reads and writes commit
  or roll back together.

REDEEM (one transaction):
  1. Load customer and reward; the reward must be redeemable
  2. Fold the ledger for the current balance
  3. balance < cost -> InsufficientPointsError, nothing written
  4. Create Redemption (snapshot of cost)
  5. Generate a unique voucher code (bounded retries)
  6. Create Voucher, active, expires after VoucherValidity
  7. Record SPENT -cost referencing the redemption
  8. Decrement the cached counter

  The sqlite store serializes WithTx, so two concurrent redemptions by the
  same customer cannot both pass step 3 against the same balance.

CANCEL (one transaction):
  Owner only, voucher active, unused and unexpired. Deletes voucher and
  redemption, records REDEEM_CANCEL +snapshot and increments the cached
  counter. Balance returns to its value before the redemption. Cancelling
  the same voucher again is refused as already_cancelled.

EXPIRY:
  CheckAndExpire runs before a customer's vouchers are listed; ExpireAll
  is the background sweep. Expired vouchers keep their points spent.

SEE ALSO:
  - catalog.go: Tenant, customer and reward management
  - ledger/ledger.go: Entry recording and transitions
  - api/scheduler.go: Periodic ExpireAll
*/
package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/loyalty-engine/cache"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/logging"
	"github.com/warp/loyalty-engine/points"
)

const (
	// DefaultVoucherValidity is how long a voucher stays usable.
	DefaultVoucherValidity = 30 * 24 * time.Hour

	// DefaultCodeRetries bounds the attempts at finding an unused code.
	DefaultCodeRetries = 5
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs loyalty operations against a transactional store.
type Engine struct {
	Store  TxStore
	Cache  cache.BalanceCache
	Logger *zap.Logger

	Now             func() time.Time
	NewID           func() string
	Codes           CodeGenerator
	VoucherValidity time.Duration
	CodeRetries     int
}

// NewEngine creates an engine with default clock, codes and limits. A nil
// cache disables display caching; a nil logger discards logs.
func NewEngine(store TxStore, balanceCache cache.BalanceCache, logger *zap.Logger) *Engine {
	if balanceCache == nil {
		balanceCache = cache.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Store:           store,
		Cache:           balanceCache,
		Logger:          logger,
		Now:             time.Now,
		NewID:           uuid.NewString,
		Codes:           RandomCodes{},
		VoucherValidity: DefaultVoucherValidity,
		CodeRetries:     DefaultCodeRetries,
	}
}

func (e *Engine) now() time.Time {
	return e.Now().UTC()
}

func (e *Engine) log(ctx context.Context) *zap.Logger {
	return logging.FromContextOr(ctx, e.Logger)
}

// ledgerFor returns a ledger bound to s, sharing the engine's clock and ids.
func (e *Engine) ledgerFor(s ledger.Store) *ledger.Ledger {
	return &ledger.Ledger{Store: s, Now: e.Now, NewID: e.NewID}
}

// invalidate drops the display cache entry. Failures only cost a stale
// display value until the TTL, so they are logged and swallowed.
func (e *Engine) invalidate(ctx context.Context, customerID string) {
	if err := e.Cache.Invalidate(ctx, customerID); err != nil {
		e.log(ctx).Warn("balance cache invalidation failed",
			zap.String("customer_id", customerID), zap.Error(err))
	}
}

// =============================================================================
// BALANCE READS
// =============================================================================

// Balance folds the customer's ledger.
func (e *Engine) Balance(ctx context.Context, customerID string) (ledger.Balance, error) {
	return e.ledgerFor(e.Store).ComputeBalance(ctx, customerID)
}

// Transactions returns the customer's ledger history, oldest first.
func (e *Engine) Transactions(ctx context.Context, customerID string) ([]ledger.Transaction, error) {
	return e.ledgerFor(e.Store).Transactions(ctx, customerID)
}

// DisplayBalance returns the balance for display screens, served from the
// cache when possible and otherwise folded from the ledger and cached.
func (e *Engine) DisplayBalance(ctx context.Context, customerID string) (int64, error) {
	if n, ok, err := e.Cache.Get(ctx, customerID); err == nil && ok {
		return n, nil
	} else if err != nil {
		e.log(ctx).Warn("balance cache read failed", zap.String("customer_id", customerID), zap.Error(err))
	}

	bal, err := e.Balance(ctx, customerID)
	if err != nil {
		return 0, err
	}
	if err := e.Cache.Set(ctx, customerID, bal.Available); err != nil {
		e.log(ctx).Warn("balance cache write failed", zap.String("customer_id", customerID), zap.Error(err))
	}
	return bal.Available, nil
}

// =============================================================================
// REDEEM
// =============================================================================

// RedeemResult is what the customer sees after a redemption.
type RedeemResult struct {
	Voucher    Voucher
	Redemption Redemption
	RewardName string
	NewBalance int64
}

// Redeem exchanges the reward's cost in points for a voucher.
func (e *Engine) Redeem(ctx context.Context, customerID, rewardID string) (*RedeemResult, error) {
	var res *RedeemResult
	err := e.Store.WithTx(ctx, func(s Store) error {
		customer, err := s.GetCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return ledger.ErrCustomerNotFound
		}
		reward, err := s.GetReward(ctx, rewardID)
		if err != nil {
			return err
		}
		if reward == nil {
			return ledger.ErrRewardNotFound
		}
		if !reward.Redeemable() {
			return fmt.Errorf("%w: reward %s is %s (active=%t)",
				ledger.ErrRewardNotRedeemable, reward.ID, reward.ApprovalStatus, reward.Active)
		}

		led := e.ledgerFor(s)
		bal, err := led.ComputeBalance(ctx, customerID)
		if err != nil {
			return err
		}
		if bal.Available < reward.Points {
			return &ledger.InsufficientPointsError{
				CustomerID: customerID,
				Required:   reward.Points,
				Available:  bal.Available,
			}
		}

		now := e.now()
		redemption := Redemption{
			ID:         e.NewID(),
			CustomerID: customerID,
			RewardID:   reward.ID,
			TenantID:   reward.TenantID,
			Points:     reward.Points,
			CreatedAt:  now,
		}
		if err := s.CreateRedemption(ctx, redemption); err != nil {
			return err
		}

		code, err := e.uniqueVoucherCode(ctx, s)
		if err != nil {
			return err
		}
		voucher := Voucher{
			ID:           e.NewID(),
			Code:         code,
			RedemptionID: redemption.ID,
			RewardID:     reward.ID,
			CustomerID:   customerID,
			TenantID:     reward.TenantID,
			Status:       VoucherActive,
			ExpiresAt:    now.Add(e.VoucherValidity),
			CreatedAt:    now,
		}
		if err := s.CreateVoucher(ctx, voucher); err != nil {
			return err
		}

		if _, err := led.Record(ctx, ledger.Entry{
			CustomerID:  customerID,
			TenantID:    reward.TenantID,
			RecordedBy:  customerID,
			Type:        ledger.TxSpent,
			Points:      reward.Points,
			ReferenceID: redemption.ID,
			Reason:      "Redeemed: " + reward.Name,
		}); err != nil {
			return err
		}
		if err := s.AdjustCachedPoints(ctx, customerID, -reward.Points, now); err != nil {
			return err
		}

		res = &RedeemResult{
			Voucher:    voucher,
			Redemption: redemption,
			RewardName: reward.Name,
			NewBalance: bal.Available - reward.Points,
		}
		return nil
	})
	if err != nil {
		e.logFailure(ctx, "redeem failed", err, zap.String("customer_id", customerID), zap.String("reward_id", rewardID))
		return nil, err
	}

	e.invalidate(ctx, customerID)
	e.log(ctx).Info("reward redeemed",
		zap.String("customer_id", customerID),
		zap.String("reward_id", rewardID),
		zap.String("voucher_id", res.Voucher.ID),
		zap.Int64("points", res.Redemption.Points),
		zap.Int64("new_balance", res.NewBalance))
	return res, nil
}

func (e *Engine) uniqueVoucherCode(ctx context.Context, s Store) (string, error) {
	for i := 0; i < e.CodeRetries; i++ {
		code, err := e.Codes.VoucherCode()
		if err != nil {
			return "", err
		}
		exists, err := s.VoucherCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: no unused voucher code after %d attempts", ledger.ErrCodeGenerationExhausted, e.CodeRetries)
}

// logFailure logs business-rule failures at info and everything else at error.
func (e *Engine) logFailure(ctx context.Context, msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if ledger.IsClientError(err) || ledger.IsNotFound(err) {
		e.log(ctx).Info(msg, fields...)
		return
	}
	e.log(ctx).Error(msg, fields...)
}

// =============================================================================
// VOUCHER LIFECYCLE
// =============================================================================

// CancelResult reports the refund of a cancelled voucher.
type CancelResult struct {
	VoucherID      string
	RefundedPoints int64
	NewBalance     int64
}

// Cancel deletes an active voucher and its redemption and gives the
// redemption's points back.
func (e *Engine) Cancel(ctx context.Context, voucherID, customerID string) (*CancelResult, error) {
	var res *CancelResult
	err := e.Store.WithTx(ctx, func(s Store) error {
		v, err := s.GetVoucher(ctx, voucherID)
		if err != nil {
			return err
		}
		if v == nil {
			// A cancelled voucher is deleted; its REDEEM_CANCEL entry remains.
			cancelled, err := s.TransactionExists(ctx, cancelKey(voucherID))
			if err != nil {
				return err
			}
			if cancelled {
				return &ledger.NotCancellableError{VoucherID: voucherID, Reason: ledger.ReasonAlreadyCancelled}
			}
			return ledger.ErrVoucherNotFound
		}
		if v.CustomerID != customerID {
			return ledger.ErrVoucherNotFound
		}

		now := e.now()
		switch {
		case v.Status == VoucherUsed || v.UsedAt != nil:
			return &ledger.NotCancellableError{VoucherID: v.ID, Reason: ledger.ReasonAlreadyUsed}
		case v.Status == VoucherExpired || v.ExpiredAt(now):
			return &ledger.NotCancellableError{VoucherID: v.ID, Reason: ledger.ReasonExpired}
		case v.Status != VoucherActive:
			return &ledger.NotCancellableError{VoucherID: v.ID, Reason: ledger.ReasonNotActive}
		}

		redemption, err := s.GetRedemption(ctx, v.RedemptionID)
		if err != nil {
			return err
		}
		if redemption == nil {
			return fmt.Errorf("voucher %s references missing redemption %s", v.ID, v.RedemptionID)
		}

		if err := s.DeleteVoucher(ctx, v.ID); err != nil {
			return err
		}
		if err := s.DeleteRedemption(ctx, redemption.ID); err != nil {
			return err
		}

		led := e.ledgerFor(s)
		if _, err := led.Record(ctx, ledger.Entry{
			CustomerID:     customerID,
			TenantID:       redemption.TenantID,
			RecordedBy:     customerID,
			Type:           ledger.TxRedeemCancel,
			Points:         redemption.Points,
			ReferenceID:    redemption.ID,
			Reason:         "Voucher cancelled: " + v.Code,
			IdempotencyKey: cancelKey(v.ID),
		}); err != nil {
			return err
		}
		if err := s.AdjustCachedPoints(ctx, customerID, redemption.Points, now); err != nil {
			return err
		}

		bal, err := led.ComputeBalance(ctx, customerID)
		if err != nil {
			return err
		}
		res = &CancelResult{VoucherID: v.ID, RefundedPoints: redemption.Points, NewBalance: bal.Available}
		return nil
	})
	if err != nil {
		e.logFailure(ctx, "voucher cancel failed", err, zap.String("customer_id", customerID), zap.String("voucher_id", voucherID))
		return nil, err
	}

	e.invalidate(ctx, customerID)
	e.log(ctx).Info("voucher cancelled",
		zap.String("customer_id", customerID),
		zap.String("voucher_id", voucherID),
		zap.Int64("refunded", res.RefundedPoints))
	return res, nil
}

func cancelKey(voucherID string) string {
	return "cancel:" + voucherID
}

// Use marks an active, unexpired voucher as used. A non-empty tenantID
// restricts the lookup to vouchers issued by that tenant.
func (e *Engine) Use(ctx context.Context, voucherID, tenantID string) (*Voucher, error) {
	var used *Voucher
	err := e.Store.WithTx(ctx, func(s Store) error {
		v, err := s.GetVoucher(ctx, voucherID)
		if err != nil {
			return err
		}
		if v == nil || (tenantID != "" && v.TenantID != tenantID) {
			return ledger.ErrVoucherNotFound
		}
		now := e.now()
		if v.Status != VoucherActive {
			return fmt.Errorf("%w: voucher %s is %s", ledger.ErrVoucherNotUsable, v.ID, v.Status)
		}
		if v.ExpiredAt(now) {
			return fmt.Errorf("%w: voucher %s expired at %s", ledger.ErrVoucherNotUsable, v.ID, v.ExpiresAt.Format(time.RFC3339))
		}
		if err := s.MarkVoucherUsed(ctx, v.ID, now); err != nil {
			return err
		}
		v.Status = VoucherUsed
		v.UsedAt = &now
		used = v
		return nil
	})
	if err != nil {
		e.logFailure(ctx, "voucher use failed", err, zap.String("voucher_id", voucherID))
		return nil, err
	}
	e.log(ctx).Info("voucher used", zap.String("voucher_id", voucherID), zap.String("tenant_id", used.TenantID))
	return used, nil
}

// CheckAndExpire expires the customer's active vouchers that are past
// their expiry. No points are returned.
func (e *Engine) CheckAndExpire(ctx context.Context, customerID string) (int64, error) {
	n, err := e.Store.ExpireVouchers(ctx, customerID, e.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log(ctx).Info("vouchers expired", zap.String("customer_id", customerID), zap.Int64("count", n))
	}
	return n, nil
}

// ExpireAll expires every overdue active voucher.
func (e *Engine) ExpireAll(ctx context.Context) (int64, error) {
	n, err := e.Store.ExpireVouchers(ctx, "", e.now())
	if err != nil {
		return 0, err
	}
	e.log(ctx).Info("voucher expiry sweep", zap.Int64("expired", n))
	return n, nil
}

// ListVouchers expires overdue vouchers and then lists the customer's
// vouchers with their reward and redemption.
func (e *Engine) ListVouchers(ctx context.Context, customerID string) ([]VoucherDetail, error) {
	c, err := e.Store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ledger.ErrCustomerNotFound
	}
	if _, err := e.CheckAndExpire(ctx, customerID); err != nil {
		return nil, err
	}
	return e.Store.ListVoucherDetails(ctx, customerID)
}

// =============================================================================
// PURCHASES
// =============================================================================

// Purchase is a sale recorded by a partner.
type Purchase struct {
	CustomerID     string
	TenantID       string
	Amount         decimal.Decimal
	RecordedBy     string
	IdempotencyKey string
	// At is when the sale happened; zero means now.
	At time.Time
}

// PurchaseResult is the EARNED entry and how its points were computed.
type PurchaseResult struct {
	Transaction ledger.Transaction
	Calculation points.Result
}

// RecordPurchase scores a purchase with the tenant's configuration and
// records an EARNED entry. Tenants requiring approval get a PENDING entry.
func (e *Engine) RecordPurchase(ctx context.Context, p Purchase) (*PurchaseResult, error) {
	if !p.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ledger.ErrValidation)
	}
	at := p.At
	if at.IsZero() {
		at = e.now()
	}

	var res *PurchaseResult
	err := e.Store.WithTx(ctx, func(s Store) error {
		tenant, err := s.GetTenant(ctx, p.TenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return ledger.ErrTenantNotFound
		}

		calc := points.Calculate(points.LoadConfig(tenant.PointsConfig), p.Amount, at)
		status := ledger.StatusApproved
		if tenant.RequirePurchaseApproval {
			status = ledger.StatusPending
		}

		tx, err := e.ledgerFor(s).Record(ctx, ledger.Entry{
			CustomerID:     p.CustomerID,
			TenantID:       tenant.ID,
			RecordedBy:     p.RecordedBy,
			Type:           ledger.TxEarned,
			Status:         status,
			Amount:         p.Amount,
			Points:         calc.Points,
			Reason:         "Purchase at " + tenant.Name,
			IdempotencyKey: p.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		if status == ledger.StatusApproved && tx.Points != 0 {
			if err := s.AdjustCachedPoints(ctx, p.CustomerID, tx.Points, e.now()); err != nil {
				return err
			}
		}
		res = &PurchaseResult{Transaction: tx, Calculation: calc}
		return nil
	})
	if err != nil {
		e.logFailure(ctx, "purchase failed", err, zap.String("customer_id", p.CustomerID), zap.String("tenant_id", p.TenantID))
		return nil, err
	}

	e.invalidate(ctx, p.CustomerID)
	e.log(ctx).Info("purchase recorded",
		zap.String("customer_id", p.CustomerID),
		zap.String("tenant_id", p.TenantID),
		zap.String("amount", p.Amount.String()),
		zap.Int64("points", res.Transaction.Points),
		zap.String("status", string(res.Transaction.Status)))
	return res, nil
}

// =============================================================================
// LEDGER WORKFLOW
// =============================================================================

// ApproveTransaction approves a PENDING entry.
func (e *Engine) ApproveTransaction(ctx context.Context, id string) (ledger.Transaction, error) {
	return e.transition(ctx, "approve", func(led *ledger.Ledger) (ledger.Transaction, error) {
		return led.Approve(ctx, id)
	})
}

// RejectTransaction rejects a PENDING entry.
func (e *Engine) RejectTransaction(ctx context.Context, id string) (ledger.Transaction, error) {
	return e.transition(ctx, "reject", func(led *ledger.Ledger) (ledger.Transaction, error) {
		return led.Reject(ctx, id)
	})
}

// VoidTransaction voids an entry: a pending one is rejected, an approved
// one gets a reversal.
func (e *Engine) VoidTransaction(ctx context.Context, id, actor, reason string) (ledger.Transaction, error) {
	return e.transition(ctx, "void", func(led *ledger.Ledger) (ledger.Transaction, error) {
		return led.Void(ctx, id, actor, reason)
	})
}

// RefundPurchase takes back the points of an approved purchase.
func (e *Engine) RefundPurchase(ctx context.Context, id, actor, reason string) (ledger.Transaction, error) {
	return e.transition(ctx, "refund", func(led *ledger.Ledger) (ledger.Transaction, error) {
		return led.Refund(ctx, id, actor, reason)
	})
}

// transition runs a ledger operation and moves the cached counter by the
// points it made count, in the same transaction.
func (e *Engine) transition(ctx context.Context, action string, op func(*ledger.Ledger) (ledger.Transaction, error)) (ledger.Transaction, error) {
	var out ledger.Transaction
	err := e.Store.WithTx(ctx, func(s Store) error {
		tx, err := op(e.ledgerFor(s))
		if err != nil {
			return err
		}
		if tx.Status.Counts() && tx.Points != 0 {
			if err := s.AdjustCachedPoints(ctx, tx.CustomerID, tx.Points, e.now()); err != nil {
				return err
			}
		}
		out = tx
		return nil
	})
	if err != nil {
		e.logFailure(ctx, "transaction "+action+" failed", err)
		return ledger.Transaction{}, err
	}
	e.invalidate(ctx, out.CustomerID)
	e.log(ctx).Info("transaction "+action,
		zap.String("transaction_id", out.ID),
		zap.String("customer_id", out.CustomerID),
		zap.String("status", string(out.Status)),
		zap.Int64("points", out.Points))
	return out, nil
}

// ResyncCachedPoints overwrites the cached counter with the ledger balance.
func (e *Engine) ResyncCachedPoints(ctx context.Context, customerID string) (before, after int64, err error) {
	err = e.Store.WithTx(ctx, func(s Store) error {
		c, err := s.GetCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		if c == nil {
			return ledger.ErrCustomerNotFound
		}
		bal, err := e.ledgerFor(s).ComputeBalance(ctx, customerID)
		if err != nil {
			return err
		}
		before, after = c.CachedPoints, bal.Available
		return s.SetCachedPoints(ctx, customerID, bal.Available, e.now())
	})
	if err != nil {
		return 0, 0, err
	}
	e.invalidate(ctx, customerID)
	if before != after {
		e.log(ctx).Warn("cached points drifted from ledger",
			zap.String("customer_id", customerID), zap.Int64("cached", before), zap.Int64("ledger", after))
	}
	return before, after, nil
}
