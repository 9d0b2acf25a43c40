package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/rewards"
)

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

// RecordPurchase scores a sale and credits the customer. Partners record
// for their own tenant; admins name the tenant in the body.
func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeInvalid(w, err)
		return
	}

	p := principal(r)
	tenantID := req.TenantID
	if p.Role == RolePartner {
		if tenantID != "" && tenantID != p.TenantID {
			writeError(w, http.StatusForbidden, "Forbidden", fmt.Errorf("cannot record purchases for tenant %s", tenantID))
			return
		}
		tenantID = p.TenantID
	}
	if tenantID == "" {
		writeInvalid(w, fmt.Errorf("%w: tenantId is required", ledger.ErrValidation))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeInvalid(w, fmt.Errorf("%w: amount: %v", ledger.ErrValidation, err))
		return
	}

	var at time.Time
	if req.At != nil {
		at = *req.At
	}

	res, err := h.Engine.RecordPurchase(r.Context(), rewards.Purchase{
		CustomerID:     req.CustomerID,
		TenantID:       tenantID,
		Amount:         amount,
		RecordedBy:     p.Subject,
		IdempotencyKey: req.IdempotencyKey,
		At:             at,
	})
	if err != nil {
		writeFailure(w, r, "Failed to record purchase", err)
		return
	}

	writeJSON(w, http.StatusCreated, PurchaseResponse{
		Transaction: toTransactionDTO(res.Transaction),
		Calculation: res.Calculation,
	})
}

// =============================================================================
// LEDGER WORKFLOW HANDLERS
// =============================================================================

// transactionInScope loads the entry named in the URL and checks a partner
// caller recorded it under their tenant. It writes the error response and
// returns false when the caller may not act on it.
func (h *Handler) transactionInScope(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	tx, err := h.Store.GetTransaction(r.Context(), id)
	if err != nil {
		writeFailure(w, r, "Failed to get transaction", err)
		return "", false
	}
	p := principal(r)
	if tx == nil || (p.Role == RolePartner && tx.TenantID != p.TenantID) {
		writeFailure(w, r, "Transaction not found", ledger.ErrTransactionNotFound)
		return "", false
	}
	return id, true
}

// ApproveTransaction approves a pending entry.
func (h *Handler) ApproveTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transactionInScope(w, r)
	if !ok {
		return
	}
	tx, err := h.Engine.ApproveTransaction(r.Context(), id)
	if err != nil {
		writeFailure(w, r, "Failed to approve transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// RejectTransaction rejects a pending entry.
func (h *Handler) RejectTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transactionInScope(w, r)
	if !ok {
		return
	}
	tx, err := h.Engine.RejectTransaction(r.Context(), id)
	if err != nil {
		writeFailure(w, r, "Failed to reject transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// VoidTransaction reverses an entry. The response is the reversal, or the
// rejected entry when it was still pending.
func (h *Handler) VoidTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transactionInScope(w, r)
	if !ok {
		return
	}
	var req ReverseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeInvalid(w, err)
		return
	}

	tx, err := h.Engine.VoidTransaction(r.Context(), id, principal(r).Subject, req.Reason)
	if err != nil {
		writeFailure(w, r, "Failed to void transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// RefundPurchase takes back the points of an approved purchase.
func (h *Handler) RefundPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transactionInScope(w, r)
	if !ok {
		return
	}
	var req ReverseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeInvalid(w, err)
		return
	}

	tx, err := h.Engine.RefundPurchase(r.Context(), id, principal(r).Subject, req.Reason)
	if err != nil {
		writeFailure(w, r, "Failed to refund purchase", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ResyncCustomer rewrites a customer's cached counter from the ledger.
func (h *Handler) ResyncCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	before, after, err := h.Engine.ResyncCachedPoints(r.Context(), id)
	if err != nil {
		writeFailure(w, r, "Failed to resync customer", err)
		return
	}
	writeJSON(w, http.StatusOK, ResyncResponse{CustomerID: id, Before: before, After: after})
}

// ExpireVouchers runs the expiry sweep now.
func (h *Handler) ExpireVouchers(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.ExpireAll(r.Context())
	if err != nil {
		writeFailure(w, r, "Failed to expire vouchers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"expired": n})
}
