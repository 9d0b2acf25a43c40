package rewards

import (
	"context"
	"time"

	"github.com/warp/loyalty-engine/ledger"
)

// Store is the persistence the engine needs. Getters return nil, nil for
// missing rows.
type Store interface {
	ledger.Store

	// Tenants
	CreateTenant(ctx context.Context, t Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
	UpdateTenantPointsConfig(ctx context.Context, id, config string, at time.Time) error

	// Customers
	CreateCustomer(ctx context.Context, c Customer) error
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	DisplayIDExists(ctx context.Context, displayID string) (bool, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
	AdjustCachedPoints(ctx context.Context, customerID string, delta int64, at time.Time) error
	SetCachedPoints(ctx context.Context, customerID string, points int64, at time.Time) error

	// Rewards
	CreateReward(ctx context.Context, r Reward) error
	GetReward(ctx context.Context, id string) (*Reward, error)
	ListRewards(ctx context.Context, tenantID string) ([]Reward, error)
	UpdateRewardApproval(ctx context.Context, r Reward) error
	RewardHasRedemptions(ctx context.Context, rewardID string) (bool, error)
	DeleteReward(ctx context.Context, id string) error

	// Redemptions
	CreateRedemption(ctx context.Context, r Redemption) error
	GetRedemption(ctx context.Context, id string) (*Redemption, error)
	DeleteRedemption(ctx context.Context, id string) error

	// Vouchers
	CreateVoucher(ctx context.Context, v Voucher) error
	GetVoucher(ctx context.Context, id string) (*Voucher, error)
	VoucherCodeExists(ctx context.Context, code string) (bool, error)
	ListVoucherDetails(ctx context.Context, customerID string) ([]VoucherDetail, error)
	MarkVoucherUsed(ctx context.Context, id string, at time.Time) error
	// ExpireVouchers moves active vouchers past expiry to expired. An empty
	// customerID sweeps every customer.
	ExpireVouchers(ctx context.Context, customerID string, now time.Time) (int64, error)
	DeleteVoucher(ctx context.Context, id string) error
}

// TxStore is a Store that can run a function as one database transaction.
// Every write made through the Store passed to fn commits or rolls back
// together.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(s Store) error) error
}
