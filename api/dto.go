/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Customers:    CustomerDTO, RegisterCustomerRequest, PointsMobileResponse
  Tenants:      TenantDTO, CreateTenantRequest, PreviewRequest
  Rewards:      RewardDTO, CreateRewardRequest, RejectRewardRequest
  Vouchers:     VoucherDTO, MobileVoucherDTO, RedeemResponse, CancelResponse
  Transactions: TransactionDTO, PurchaseRequest, ReverseRequest
  Scenarios:    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry validator/v10 tags. decodeRequest decodes the body
  and runs them; failures are reported per JSON field name.

SEE ALSO:
  - errors.go: ErrorResponse
  - rewards/types.go: Domain types converted here
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/rewards"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest reads a JSON body into dst and validates it. An empty body
// decodes as the zero value.
func decodeRequest(r *http.Request, dst any) error {
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %v", ledger.ErrValidation, err)
		}
	}
	return validate.Struct(dst)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// RegisterCustomerRequest is the request to sign up a customer.
type RegisterCustomerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=100"`
	Mobile   string `json:"mobile" validate:"omitempty,max=32"`
	TenantID string `json:"tenantId"`
}

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Mobile    string `json:"mobile,omitempty"`
	DisplayID string `json:"displayId"`
	QRCodeID  string `json:"qrCodeId"`
	TenantID  string `json:"tenantId,omitempty"`
	Points    int64  `json:"points"`
	Tier      string `json:"tier"`
	CreatedAt string `json:"createdAt"`
}

func toCustomerDTO(c *rewards.Customer) CustomerDTO {
	return CustomerDTO{
		ID:        c.ID,
		Email:     c.Email,
		Name:      c.Name,
		Mobile:    c.Mobile,
		DisplayID: c.DisplayID,
		QRCodeID:  c.QRCodeID,
		TenantID:  c.TenantID,
		Points:    c.CachedPoints,
		Tier:      rewards.TierFor(c.CachedPoints),
		CreatedAt: formatTime(c.CreatedAt),
	}
}

// PointsMobileResponse is the compact balance card shown by the mobile app.
type PointsMobileResponse struct {
	Points     int64  `json:"points"`
	Tier       string `json:"tier"`
	CustomerID string `json:"customerId"`
	Email      string `json:"email"`
	Name       string `json:"name"`
}

// BalanceDTO is the full ledger summary of a customer.
type BalanceDTO struct {
	CustomerID string `json:"customerId"`
	ledger.Balance
	Tier string `json:"tier"`
}

// =============================================================================
// TENANTS
// =============================================================================

// CreateTenantRequest is the request to register a partner.
type CreateTenantRequest struct {
	Name                    string          `json:"name" validate:"required,max=100"`
	PointsConfig            json.RawMessage `json:"pointsConfig,omitempty"`
	RequireRewardApproval   bool            `json:"requireRewardApproval"`
	RequirePurchaseApproval bool            `json:"requirePurchaseApproval"`
}

// TenantDTO represents a tenant in API responses.
type TenantDTO struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	Slug                    string `json:"slug"`
	RequireRewardApproval   bool   `json:"requireRewardApproval"`
	RequirePurchaseApproval bool   `json:"requirePurchaseApproval"`
	CreatedAt               string `json:"createdAt"`
}

func toTenantDTO(t *rewards.Tenant) TenantDTO {
	return TenantDTO{
		ID:                      t.ID,
		Name:                    t.Name,
		Slug:                    t.Slug,
		RequireRewardApproval:   t.RequireRewardApproval,
		RequirePurchaseApproval: t.RequirePurchaseApproval,
		CreatedAt:               formatTime(t.CreatedAt),
	}
}

// PreviewRequest asks what a purchase would earn without recording it.
type PreviewRequest struct {
	Amount string     `json:"amount" validate:"required,numeric"`
	At     *time.Time `json:"at,omitempty"`
}

// =============================================================================
// REWARDS
// =============================================================================

// CreateRewardRequest is the request to add a reward to a tenant's catalog.
type CreateRewardRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
	Points      int64  `json:"points" validate:"required,gt=0"`
}

// RejectRewardRequest carries the reason shown to the partner.
type RejectRewardRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// RewardDTO represents a reward in API responses.
type RewardDTO struct {
	ID              string  `json:"id"`
	TenantID        string  `json:"tenantId"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Points          int64   `json:"points"`
	Active          bool    `json:"active"`
	ApprovalStatus  string  `json:"approvalStatus"`
	ApprovedBy      string  `json:"approvedBy,omitempty"`
	ApprovedAt      *string `json:"approvedAt,omitempty"`
	RejectionReason string  `json:"rejectionReason,omitempty"`
	Redeemable      bool    `json:"redeemable"`
	CreatedAt       string  `json:"createdAt"`
}

func toRewardDTO(r *rewards.Reward) RewardDTO {
	return RewardDTO{
		ID:              r.ID,
		TenantID:        r.TenantID,
		Name:            r.Name,
		Description:     r.Description,
		Points:          r.Points,
		Active:          r.Active,
		ApprovalStatus:  string(r.ApprovalStatus),
		ApprovedBy:      r.ApprovedBy,
		ApprovedAt:      formatTimePtr(r.ApprovedAt),
		RejectionReason: r.RejectionReason,
		Redeemable:      r.Redeemable(),
		CreatedAt:       formatTime(r.CreatedAt),
	}
}

// =============================================================================
// VOUCHERS
// =============================================================================

// VoucherSummaryDTO is the voucher as returned right after redemption.
type VoucherSummaryDTO struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	RewardName string `json:"rewardName"`
	ExpiresAt  string `json:"expiresAt"`
	Status     string `json:"status"`
}

// RedeemResponse is the result of POST /rewards/{id}/redeem.
type RedeemResponse struct {
	Voucher          VoucherSummaryDTO `json:"voucher"`
	NewPointsBalance int64             `json:"newPointsBalance"`
}

// CancelResponse is the result of POST /vouchers/{id}/cancel.
type CancelResponse struct {
	Success          bool  `json:"success"`
	RefundedPoints   int64 `json:"refundedPoints"`
	NewPointsBalance int64 `json:"newPointsBalance"`
}

// RedemptionDTO is the exchange a voucher came from.
type RedemptionDTO struct {
	ID        string `json:"id"`
	Points    int64  `json:"points"`
	CreatedAt string `json:"createdAt"`
}

// VoucherDTO is a voucher with its reward and redemption, for the web app.
type VoucherDTO struct {
	ID         string        `json:"id"`
	Code       string        `json:"code"`
	Status     string        `json:"status"`
	ExpiresAt  string        `json:"expiresAt"`
	UsedAt     *string       `json:"usedAt,omitempty"`
	CreatedAt  string        `json:"createdAt"`
	Reward     RewardDTO     `json:"reward"`
	Redemption RedemptionDTO `json:"redemption"`
}

func toVoucherDTO(d rewards.VoucherDetail) VoucherDTO {
	return VoucherDTO{
		ID:        d.Voucher.ID,
		Code:      d.Voucher.Code,
		Status:    string(d.Voucher.Status),
		ExpiresAt: formatTime(d.Voucher.ExpiresAt),
		UsedAt:    formatTimePtr(d.Voucher.UsedAt),
		CreatedAt: formatTime(d.Voucher.CreatedAt),
		Reward:    toRewardDTO(&d.Reward),
		Redemption: RedemptionDTO{
			ID:        d.Redemption.ID,
			Points:    d.Redemption.Points,
			CreatedAt: formatTime(d.Redemption.CreatedAt),
		},
	}
}

// MobileVoucherDTO is the flattened voucher row used by the mobile app.
type MobileVoucherDTO struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Status      string `json:"status"`
	RewardName  string `json:"rewardName"`
	PointsCost  int64  `json:"pointsCost"`
	TenantID    string `json:"tenantId"`
	ExpiresAt   string `json:"expiresAt"`
	RedeemedAt  string `json:"redeemedAt"`
	Cancellable bool   `json:"cancellable"`
}

func toMobileVoucherDTO(d rewards.VoucherDetail, now time.Time) MobileVoucherDTO {
	return MobileVoucherDTO{
		ID:          d.Voucher.ID,
		Code:        d.Voucher.Code,
		Status:      string(d.Voucher.Status),
		RewardName:  d.Reward.Name,
		PointsCost:  d.Redemption.Points,
		TenantID:    d.Voucher.TenantID,
		ExpiresAt:   formatTime(d.Voucher.ExpiresAt),
		RedeemedAt:  formatTime(d.Redemption.CreatedAt),
		Cancellable: d.Voucher.Status == rewards.VoucherActive && !d.Voucher.ExpiredAt(now),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// PurchaseRequest records a sale. Partners may omit tenantId; it is taken
// from their token.
type PurchaseRequest struct {
	CustomerID     string     `json:"customerId" validate:"required"`
	TenantID       string     `json:"tenantId"`
	Amount         string     `json:"amount" validate:"required,numeric"`
	IdempotencyKey string     `json:"idempotencyKey" validate:"max=200"`
	At             *time.Time `json:"at,omitempty"`
}

// PurchaseResponse is the recorded entry and how its points were computed.
type PurchaseResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	Calculation any            `json:"calculation"`
}

// ReverseRequest carries the reason for a void or refund.
type ReverseRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// TransactionDTO represents a ledger entry in API responses.
type TransactionDTO struct {
	ID          string `json:"id"`
	CustomerID  string `json:"customerId"`
	TenantID    string `json:"tenantId,omitempty"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	Points      int64  `json:"points"`
	ReferenceID string `json:"referenceId,omitempty"`
	Reason      string `json:"reason,omitempty"`
	RecordedBy  string `json:"recordedBy,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          tx.ID,
		CustomerID:  tx.CustomerID,
		TenantID:    tx.TenantID,
		Type:        string(tx.Type),
		Status:      string(tx.Status),
		Amount:      tx.Amount.StringFixed(2),
		Points:      tx.Points,
		ReferenceID: tx.ReferenceID,
		Reason:      tx.Reason,
		RecordedBy:  tx.RecordedBy,
		CreatedAt:   formatTime(tx.CreatedAt),
	}
}

// ResyncResponse reports a cached counter repair.
type ResyncResponse struct {
	CustomerID string `json:"customerId"`
	Before     int64  `json:"before"`
	After      int64  `json:"after"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
}
