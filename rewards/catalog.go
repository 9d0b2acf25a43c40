package rewards

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/points"
)

// =============================================================================
// TENANTS
// =============================================================================

// NewTenant is the input for CreateTenant.
type NewTenant struct {
	Name                    string
	PointsConfig            string // empty uses points.DefaultConfig
	RequireRewardApproval   bool
	RequirePurchaseApproval bool
}

// CreateTenant registers a partner. The slug is derived from the name and
// suffixed when already taken. A points configuration, if given, must
// validate.
func (e *Engine) CreateTenant(ctx context.Context, in NewTenant) (*Tenant, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: tenant name is required", ledger.ErrValidation)
	}

	cfg := points.DefaultConfig()
	if strings.TrimSpace(in.PointsConfig) != "" {
		parsed, err := points.ParseConfig(in.PointsConfig)
		if err != nil {
			return nil, err
		}
		cfg = parsed
	}
	blob, err := cfg.JSON()
	if err != nil {
		return nil, err
	}

	now := e.now()
	t := Tenant{
		ID:                      e.NewID(),
		Name:                    name,
		PointsConfig:            blob,
		RequireRewardApproval:   in.RequireRewardApproval,
		RequirePurchaseApproval: in.RequirePurchaseApproval,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	err = e.Store.WithTx(ctx, func(s Store) error {
		base := slug.Make(name)
		if base == "" {
			base = "tenant"
		}
		t.Slug = base
		existing, err := s.GetTenantBySlug(ctx, t.Slug)
		if err != nil {
			return err
		}
		if existing != nil {
			suffix := t.ID
			if len(suffix) > 8 {
				suffix = suffix[:8]
			}
			t.Slug = base + "-" + suffix
		}
		return s.CreateTenant(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	e.log(ctx).Info("tenant created", zap.String("tenant_id", t.ID), zap.String("slug", t.Slug))
	return &t, nil
}

// GetTenant returns a tenant or ErrTenantNotFound.
func (e *Engine) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	t, err := e.Store.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ledger.ErrTenantNotFound
	}
	return t, nil
}

// PointsConfig returns the tenant's configuration as used for calculation.
func (e *Engine) PointsConfig(ctx context.Context, tenantID string) (points.Config, error) {
	t, err := e.GetTenant(ctx, tenantID)
	if err != nil {
		return points.Config{}, err
	}
	return points.LoadConfig(t.PointsConfig), nil
}

// UpdatePointsConfig validates and stores a new configuration. Invalid
// configurations are rejected with *points.ValidationError.
func (e *Engine) UpdatePointsConfig(ctx context.Context, tenantID, blob string) (points.Config, error) {
	cfg, err := points.ParseConfig(blob)
	if err != nil {
		return points.Config{}, err
	}
	canonical, err := cfg.JSON()
	if err != nil {
		return points.Config{}, err
	}
	err = e.Store.WithTx(ctx, func(s Store) error {
		t, err := s.GetTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		if t == nil {
			return ledger.ErrTenantNotFound
		}
		return s.UpdateTenantPointsConfig(ctx, tenantID, canonical, e.now())
	})
	if err != nil {
		return points.Config{}, err
	}
	e.log(ctx).Info("points config updated", zap.String("tenant_id", tenantID))
	return cfg, nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// NewCustomer is the input for RegisterCustomer.
type NewCustomer struct {
	Email    string
	Name     string
	Mobile   string
	TenantID string
}

// RegisterCustomer creates a customer with a unique email, a
// collision-checked display id and a fresh QR code id.
func (e *Engine) RegisterCustomer(ctx context.Context, in NewCustomer) (*Customer, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ledger.ErrValidation)
	}

	now := e.now()
	c := Customer{
		ID:        e.NewID(),
		Email:     email,
		Name:      strings.TrimSpace(in.Name),
		Mobile:    strings.TrimSpace(in.Mobile),
		QRCodeID:  uuid.NewString(),
		TenantID:  in.TenantID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := e.Store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetCustomerByEmail(ctx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: email %s already registered", ledger.ErrConflict, email)
		}
		if in.TenantID != "" {
			t, err := s.GetTenant(ctx, in.TenantID)
			if err != nil {
				return err
			}
			if t == nil {
				return ledger.ErrTenantNotFound
			}
		}
		c.DisplayID, err = e.uniqueDisplayID(ctx, s)
		if err != nil {
			return err
		}
		return s.CreateCustomer(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	e.log(ctx).Info("customer registered", zap.String("customer_id", c.ID), zap.String("display_id", c.DisplayID))
	return &c, nil
}

func (e *Engine) uniqueDisplayID(ctx context.Context, s Store) (string, error) {
	for i := 0; i < e.CodeRetries; i++ {
		id, err := e.Codes.DisplayID()
		if err != nil {
			return "", err
		}
		exists, err := s.DisplayIDExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no unused display id after %d attempts", ledger.ErrCodeGenerationExhausted, e.CodeRetries)
}

// GetCustomer returns a customer or ErrCustomerNotFound.
func (e *Engine) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	c, err := e.Store.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ledger.ErrCustomerNotFound
	}
	return c, nil
}

// ListCustomers returns every customer, newest first.
func (e *Engine) ListCustomers(ctx context.Context) ([]Customer, error) {
	return e.Store.ListCustomers(ctx)
}

// =============================================================================
// REWARD CATALOG
// =============================================================================

// NewReward is the input for CreateReward.
type NewReward struct {
	TenantID    string
	Name        string
	Description string
	Points      int64
	CreatedBy   string
}

// CreateReward adds a reward to a tenant's catalog. Tenants requiring
// approval get a PENDING reward that cannot be redeemed yet.
func (e *Engine) CreateReward(ctx context.Context, in NewReward) (*Reward, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: reward name is required", ledger.ErrValidation)
	}
	if in.Points <= 0 {
		return nil, fmt.Errorf("%w: reward points must be positive", ledger.ErrValidation)
	}

	var r Reward
	err := e.Store.WithTx(ctx, func(s Store) error {
		t, err := s.GetTenant(ctx, in.TenantID)
		if err != nil {
			return err
		}
		if t == nil {
			return ledger.ErrTenantNotFound
		}
		now := e.now()
		r = Reward{
			ID:             e.NewID(),
			TenantID:       t.ID,
			Name:           strings.TrimSpace(in.Name),
			Description:    in.Description,
			Points:         in.Points,
			Active:         true,
			ApprovalStatus: ApprovalNone,
			CreatedBy:      in.CreatedBy,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if t.RequireRewardApproval {
			r.ApprovalStatus = ApprovalPending
		}
		return s.CreateReward(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	e.log(ctx).Info("reward created",
		zap.String("reward_id", r.ID), zap.String("tenant_id", r.TenantID), zap.String("approval", string(r.ApprovalStatus)))
	return &r, nil
}

// GetReward returns a reward or ErrRewardNotFound.
func (e *Engine) GetReward(ctx context.Context, id string) (*Reward, error) {
	r, err := e.Store.GetReward(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ledger.ErrRewardNotFound
	}
	return r, nil
}

// ListRewards returns a tenant's catalog.
func (e *Engine) ListRewards(ctx context.Context, tenantID string) ([]Reward, error) {
	if _, err := e.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return e.Store.ListRewards(ctx, tenantID)
}

// ApproveReward approves a PENDING or previously REJECTED reward.
func (e *Engine) ApproveReward(ctx context.Context, id, approvedBy string) (*Reward, error) {
	return e.decideReward(ctx, id, func(r *Reward) error {
		if r.ApprovalStatus != ApprovalPending && r.ApprovalStatus != ApprovalRejected {
			return fmt.Errorf("%w: reward %s is %s", ledger.ErrInvalidTransition, r.ID, r.ApprovalStatus)
		}
		now := e.now()
		r.ApprovalStatus = ApprovalApproved
		r.ApprovedBy = approvedBy
		r.ApprovedAt = &now
		r.RejectionReason = ""
		return nil
	})
}

// RejectReward refuses a PENDING reward with a reason.
func (e *Engine) RejectReward(ctx context.Context, id, rejectedBy, reason string) (*Reward, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ledger.ErrValidation)
	}
	return e.decideReward(ctx, id, func(r *Reward) error {
		if r.ApprovalStatus != ApprovalPending {
			return fmt.Errorf("%w: reward %s is %s", ledger.ErrInvalidTransition, r.ID, r.ApprovalStatus)
		}
		r.ApprovalStatus = ApprovalRejected
		r.ApprovedBy = rejectedBy
		r.ApprovedAt = nil
		r.RejectionReason = reason
		return nil
	})
}

func (e *Engine) decideReward(ctx context.Context, id string, decide func(*Reward) error) (*Reward, error) {
	var out *Reward
	err := e.Store.WithTx(ctx, func(s Store) error {
		r, err := s.GetReward(ctx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return ledger.ErrRewardNotFound
		}
		if err := decide(r); err != nil {
			return err
		}
		r.UpdatedAt = e.now()
		if err := s.UpdateRewardApproval(ctx, *r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log(ctx).Info("reward approval decided", zap.String("reward_id", id), zap.String("status", string(out.ApprovalStatus)))
	return out, nil
}

// DeleteReward removes a reward that has never been redeemed.
func (e *Engine) DeleteReward(ctx context.Context, id string) error {
	return e.Store.WithTx(ctx, func(s Store) error {
		r, err := s.GetReward(ctx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return ledger.ErrRewardNotFound
		}
		used, err := s.RewardHasRedemptions(ctx, id)
		if err != nil {
			return err
		}
		if used {
			return fmt.Errorf("%w: reward %s has redemption history", ledger.ErrConflict, id)
		}
		return s.DeleteReward(ctx, id)
	})
}
