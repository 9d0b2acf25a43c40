/*
Package rewards implements the loyalty programme on top of the points
ledger: customers, partner tenants, the reward catalog, redemptions and
the vouchers they produce.

PURPOSE:
  The ledger knows how to record and sum point deltas. This package knows
  what those deltas mean: a purchase earns points under the tenant's
  configuration, a redemption exchanges points for a voucher, a cancelled
  voucher gives them back, an expired one does not.

ENTITIES:
  Tenant:     A partner business. Owns its points configuration (JSON blob)
              and its reward catalog.
  Customer:   Tenant-agnostic. Earns and spends at any tenant. Carries a
              cached points counter for display only.
  Reward:     Catalog entry with a points cost and an optional approval
              workflow.
  Redemption: The exchange of points for a reward. Snapshots the cost.
  Voucher:    The code handed to the customer. active -> used | expired,
              or deleted with its redemption on cancellation.

INVARIANT:
  A voucher exists only alongside its redemption and the SPENT entry of
  the same points. All three are written, or removed, in one transaction.

SEE ALSO:
  - engine.go: Redeem / Cancel / Use / CheckAndExpire / RecordPurchase
  - catalog.go: Tenants, customers and reward approval
  - ledger/: Transaction log and balance fold
*/
package rewards

import "time"

// =============================================================================
// TENANT
// =============================================================================

type Tenant struct {
	ID   string
	Name string
	Slug string

	// PointsConfig is the JSON blob read by points.LoadConfig.
	PointsConfig string

	// RequireRewardApproval gates new rewards behind an admin approval.
	RequireRewardApproval bool

	// RequirePurchaseApproval records purchases as PENDING until approved.
	RequirePurchaseApproval bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// CUSTOMER
// =============================================================================

type Customer struct {
	ID     string
	Email  string
	Name   string
	Mobile string

	// DisplayID is the short code printed on the customer's card.
	DisplayID string

	// QRCodeID is encoded into the customer's QR code and never changes.
	QRCodeID string

	// TenantID is the tenant the customer signed up through, if any.
	TenantID string

	// CachedPoints mirrors the ledger balance for display. Never used to
	// decide whether points can be spent.
	CachedPoints int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tier names for the display bands.
const (
	TierStandard = "Standard"
	TierSilver   = "Silver"
	TierGold     = "Gold"
	TierPlatinum = "Platinum"
)

// TierFor maps a points balance to its display band.
func TierFor(points int64) string {
	switch {
	case points >= 1000:
		return TierPlatinum
	case points >= 500:
		return TierGold
	case points >= 100:
		return TierSilver
	default:
		return TierStandard
	}
}

// =============================================================================
// REWARD
// =============================================================================

type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = "NONE" // tenant does not require approval
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

type Reward struct {
	ID          string
	TenantID    string
	Name        string
	Description string
	Points      int64
	Active      bool

	ApprovalStatus  ApprovalStatus
	ApprovedBy      string
	ApprovedAt      *time.Time
	RejectionReason string

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Redeemable reports whether customers may currently redeem the reward.
func (r Reward) Redeemable() bool {
	return r.Active && (r.ApprovalStatus == ApprovalNone || r.ApprovalStatus == ApprovalApproved)
}

// =============================================================================
// REDEMPTION AND VOUCHER
// =============================================================================

type Redemption struct {
	ID         string
	CustomerID string
	RewardID   string
	TenantID   string

	// Points is the reward's cost at redemption time.
	Points int64

	CreatedAt time.Time
}

type VoucherStatus string

const (
	VoucherActive  VoucherStatus = "active"
	VoucherUsed    VoucherStatus = "used"
	VoucherExpired VoucherStatus = "expired"
)

type Voucher struct {
	ID           string
	Code         string
	RedemptionID string
	RewardID     string
	CustomerID   string
	TenantID     string
	Status       VoucherStatus
	ExpiresAt    time.Time
	UsedAt       *time.Time
	CreatedAt    time.Time
}

// ExpiredAt reports whether the voucher is past its expiry at now,
// whatever its stored status.
func (v Voucher) ExpiredAt(now time.Time) bool {
	return v.ExpiresAt.Before(now)
}

// VoucherDetail is a voucher with the reward and redemption it came from.
type VoucherDetail struct {
	Voucher    Voucher
	Reward     Reward
	Redemption Redemption
}
