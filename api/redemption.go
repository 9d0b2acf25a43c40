package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/loyalty-engine/rewards"
)

// =============================================================================
// REWARD CATALOG HANDLERS
// =============================================================================

// ListRewards returns a tenant's catalog. Customers only see rewards they
// can redeem.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	if _, err := h.Engine.GetTenant(r.Context(), tenantID); err != nil {
		writeFailure(w, r, "Failed to get tenant", err)
		return
	}

	list, err := h.Engine.ListRewards(r.Context(), tenantID)
	if err != nil {
		writeFailure(w, r, "Failed to list rewards", err)
		return
	}

	p := principal(r)
	dtos := make([]RewardDTO, 0, len(list))
	for i := range list {
		if p.Role == RoleCustomer && !list[i].Redeemable() {
			continue
		}
		dtos = append(dtos, toRewardDTO(&list[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateReward adds a reward to a tenant's catalog.
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	p := principal(r)
	if !canManageTenant(p, tenantID) {
		writeError(w, http.StatusForbidden, "Forbidden", fmt.Errorf("cannot manage tenant %s", tenantID))
		return
	}

	var req CreateRewardRequest
	if err := decodeRequest(r, &req); err != nil {
		writeInvalid(w, err)
		return
	}

	reward, err := h.Engine.CreateReward(r.Context(), rewards.NewReward{
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Points:      req.Points,
		CreatedBy:   p.Subject,
	})
	if err != nil {
		writeFailure(w, r, "Failed to create reward", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRewardDTO(reward))
}

// ApproveReward makes a pending reward redeemable.
func (h *Handler) ApproveReward(w http.ResponseWriter, r *http.Request) {
	reward, err := h.Engine.ApproveReward(r.Context(), chi.URLParam(r, "id"), principal(r).Subject)
	if err != nil {
		writeFailure(w, r, "Failed to approve reward", err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(reward))
}

// RejectReward refuses a pending reward with a reason.
func (h *Handler) RejectReward(w http.ResponseWriter, r *http.Request) {
	var req RejectRewardRequest
	if err := decodeRequest(r, &req); err != nil {
		writeInvalid(w, err)
		return
	}

	reward, err := h.Engine.RejectReward(r.Context(), chi.URLParam(r, "id"), principal(r).Subject, req.Reason)
	if err != nil {
		writeFailure(w, r, "Failed to reject reward", err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(reward))
}

// DeleteReward removes a reward nobody has redeemed.
func (h *Handler) DeleteReward(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reward, err := h.Engine.GetReward(r.Context(), id)
	if err != nil {
		writeFailure(w, r, "Failed to get reward", err)
		return
	}
	if !canManageTenant(principal(r), reward.TenantID) {
		writeError(w, http.StatusNotFound, "Reward not found", nil)
		return
	}

	if err := h.Engine.DeleteReward(r.Context(), id); err != nil {
		writeFailure(w, r, "Failed to delete reward", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REDEMPTION HANDLERS
// =============================================================================

// RedeemReward exchanges points for a voucher. The customer is the caller.
func (h *Handler) RedeemReward(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Redeem(r.Context(), principal(r).Subject, chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, "Redemption failed", err)
		return
	}

	writeJSON(w, http.StatusOK, RedeemResponse{
		Voucher: VoucherSummaryDTO{
			ID:         res.Voucher.ID,
			Code:       res.Voucher.Code,
			RewardName: res.RewardName,
			ExpiresAt:  formatTime(res.Voucher.ExpiresAt),
			Status:     string(res.Voucher.Status),
		},
		NewPointsBalance: res.NewBalance,
	})
}

// CancelVoucher gives the points back for an active voucher the caller
// owns.
func (h *Handler) CancelVoucher(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Cancel(r.Context(), chi.URLParam(r, "id"), principal(r).Subject)
	if err != nil {
		writeFailure(w, r, "Cancellation failed", err)
		return
	}

	writeJSON(w, http.StatusOK, CancelResponse{
		Success:          true,
		RefundedPoints:   res.RefundedPoints,
		NewPointsBalance: res.NewBalance,
	})
}

// UseVoucher marks a voucher as handed over at the counter. Partners can
// only use vouchers for their own tenant.
func (h *Handler) UseVoucher(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	tenantID := ""
	if p.Role == RolePartner {
		tenantID = p.TenantID
	}

	v, err := h.Engine.Use(r.Context(), chi.URLParam(r, "id"), tenantID)
	if err != nil {
		writeFailure(w, r, "Failed to use voucher", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     v.ID,
		"code":   v.Code,
		"status": v.Status,
		"usedAt": formatTimePtr(v.UsedAt),
	})
}

// ListVouchers returns the caller's vouchers with reward and redemption
// detail. Overdue vouchers are expired first.
func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.ListVouchers(r.Context(), principal(r).Subject)
	if err != nil {
		writeFailure(w, r, "Failed to list vouchers", err)
		return
	}

	dtos := make([]VoucherDTO, len(list))
	for i, d := range list {
		dtos[i] = toVoucherDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListVouchersMobile is ListVouchers in the flattened mobile shape.
func (h *Handler) ListVouchersMobile(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.ListVouchers(r.Context(), principal(r).Subject)
	if err != nil {
		writeFailure(w, r, "Failed to list vouchers", err)
		return
	}

	now := h.Engine.Now()
	dtos := make([]MobileVoucherDTO, len(list))
	for i, d := range list {
		dtos[i] = toMobileVoucherDTO(d, now)
	}
	writeJSON(w, http.StatusOK, map[string]any{"vouchers": dtos})
}

// GetPointsMobile returns the caller's balance and tier.
func (h *Handler) GetPointsMobile(w http.ResponseWriter, r *http.Request) {
	id := principal(r).Subject
	c, err := h.Engine.GetCustomer(r.Context(), id)
	if err != nil {
		writeFailure(w, r, "Failed to get customer", err)
		return
	}

	pts, err := h.Engine.DisplayBalance(r.Context(), id)
	if err != nil {
		writeFailure(w, r, "Failed to compute balance", err)
		return
	}

	writeJSON(w, http.StatusOK, PointsMobileResponse{
		Points:     pts,
		Tier:       rewards.TierFor(pts),
		CustomerID: c.ID,
		Email:      c.Email,
		Name:       c.Name,
	})
}
