/*
handlers.go - HTTP API handlers for the loyalty engine

PURPOSE:
  Exposes the redemption engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to rewards.Engine.

ENDPOINTS:
  Customers:
    POST   /api/customers                    Register (public)
    GET    /api/customers                    List customers (admin)
    GET    /api/customers/{id}               Profile with cached points
    GET    /api/customers/{id}/qr            QR image of the customer's code
    GET    /api/customers/{id}/balance       Ledger balance summary
    GET    /api/customers/{id}/transactions  Ledger history

  Tenants:
    GET    /api/tenants                               List (admin)
    POST   /api/tenants                               Create (admin)
    GET    /api/tenants/{tenantId}                    Details
    GET    /api/tenants/{tenantId}/points-config      Current configuration
    PUT    /api/tenants/{tenantId}/points-config      Validate and replace
    POST   /api/tenants/{tenantId}/points-config/preview  Score a purchase

  Rewards, vouchers and points: see redemption.go
  Purchases, ledger workflow and admin: see transactions.go
  Scenarios: see scenarios.go

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Engine: Ledger, redemption and catalog operations
  - Store: Health checks and scenario resets
  - Logger: Fallback when the request carries no logger

REQUEST FLOW:
  1. Authenticate (server.go middleware)
  2. Decode and validate the body (dto.go)
  3. Check the caller may touch the resource
  4. Call the engine
  5. Serialize response, or map the error (errors.go)

ERROR HANDLING:
  - 400: Validation errors and business rule violations, with a code
  - 401/403: Missing token, wrong role
  - 404: Resource not found, or owned by someone else
  - 409: Conflict (idempotency, duplicate email)
  - 500: Internal errors, logged

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Principal and roles
  - server.go: Router setup and middleware
*/
package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/yeqown/go-qrcode"
	"go.uber.org/zap"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/points"
	"github.com/warp/loyalty-engine/rewards"
	"github.com/warp/loyalty-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *rewards.Engine
	Store  *sqlite.Store
	Logger *zap.Logger

	// Track currently loaded scenario
	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over an engine backed by store.
func NewHandler(engine *rewards.Engine, store *sqlite.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: engine, Store: store, Logger: logger}
}

// principal returns the authenticated caller. Routes reaching a handler
// have passed Authenticate.
func principal(r *http.Request) Principal {
	if p := PrincipalFrom(r.Context()); p != nil {
		return *p
	}
	return Principal{}
}

// canSeeCustomer reports whether p may read customerID's data. Partners
// see customers so they can record purchases and answer questions.
func canSeeCustomer(p Principal, customerID string, partners bool) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RolePartner:
		return partners
	case RoleCustomer:
		return p.Subject == customerID
	}
	return false
}

// canManageTenant reports whether p may change tenantID's catalog or
// configuration.
func canManageTenant(p Principal, tenantID string) bool {
	return p.Role == RoleAdmin || (p.Role == RolePartner && p.TenantID == tenantID)
}

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// RegisterCustomer signs up a customer.
func (h *Handler) RegisterCustomer(w http.ResponseWriter, r *http.Request) {
	var req RegisterCustomerRequest
	if err := decodeRequest(r, &req); err != nil {
		writeInvalid(w, err)
		return
	}

	c, err := h.Engine.RegisterCustomer(r.Context(), rewards.NewCustomer{
		Email:    req.Email,
		Name:     req.Name,
		Mobile:   req.Mobile,
		TenantID: req.TenantID,
	})
	if err != nil {
		writeFailure(w, r, "Failed to register customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

// GetCustomer returns a customer's profile.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !canSeeCustomer(principal(r), id, false) {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}

	c, err := h.Engine.GetCustomer(r.Context(), id)
	if err != nil {
		writeFailure(w, r, "Failed to get customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// ListCustomers returns all customers for admins.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Engine.ListCustomers(r.Context())
	if err != nil {
		writeFailure(w, r, "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerDTO, len(customers))
	for i := range customers {
		dtos[i] = toCustomerDTO(&customers[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCustomerQR renders the customer's persistent QR code as a JPEG.
func (h *Handler) GetCustomerQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !canSeeCustomer(principal(r), id, false) {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}

	c, err := h.Engine.GetCustomer(r.Context(), id)
	if err != nil {
		writeFailure(w, r, "Failed to get customer", err)
		return
	}

	qrc, err := qrcode.New(c.QRCodeID)
	if err != nil {
		writeFailure(w, r, "Failed to encode QR code", err)
		return
	}
	dir, err := os.MkdirTemp("", "loyalty-qr-")
	if err != nil {
		writeFailure(w, r, "Failed to render QR code", err)
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, c.QRCodeID+".jpeg")
	if err := qrc.Save(path); err != nil {
		writeFailure(w, r, "Failed to render QR code", err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=86400")
	http.ServeFile(w, r, path)
}

// GetBalance returns the folded ledger balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !canSeeCustomer(principal(r), id, true) {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}
	if _, err := h.Engine.GetCustomer(r.Context(), id); err != nil {
		writeFailure(w, r, "Failed to get customer", err)
		return
	}

	bal, err := h.Engine.Balance(r.Context(), id)
	if err != nil {
		writeFailure(w, r, "Failed to compute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		CustomerID: id,
		Balance:    bal,
		Tier:       rewards.TierFor(bal.Available),
	})
}

// GetTransactions returns the customer's ledger history, oldest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !canSeeCustomer(principal(r), id, true) {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}
	if _, err := h.Engine.GetCustomer(r.Context(), id); err != nil {
		writeFailure(w, r, "Failed to get customer", err)
		return
	}

	txs, err := h.Engine.Transactions(r.Context(), id)
	if err != nil {
		writeFailure(w, r, "Failed to get transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TENANT HANDLERS
// =============================================================================

// ListTenants returns all tenants.
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.Store.ListTenants(r.Context())
	if err != nil {
		writeFailure(w, r, "Failed to list tenants", err)
		return
	}

	dtos := make([]TenantDTO, len(tenants))
	for i := range tenants {
		dtos[i] = toTenantDTO(&tenants[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTenant registers a partner.
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := decodeRequest(r, &req); err != nil {
		writeInvalid(w, err)
		return
	}

	t, err := h.Engine.CreateTenant(r.Context(), rewards.NewTenant{
		Name:                    req.Name,
		PointsConfig:            string(req.PointsConfig),
		RequireRewardApproval:   req.RequireRewardApproval,
		RequirePurchaseApproval: req.RequirePurchaseApproval,
	})
	if err != nil {
		writeFailure(w, r, "Failed to create tenant", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTenantDTO(t))
}

// GetTenant returns a tenant.
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.Engine.GetTenant(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		writeFailure(w, r, "Failed to get tenant", err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantDTO(t))
}

// GetPointsConfig returns the configuration the calculator uses for the
// tenant. A stored blob that no longer parses reads as the default.
func (h *Handler) GetPointsConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Engine.PointsConfig(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		writeFailure(w, r, "Failed to get points configuration", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

const maxConfigBytes = 64 << 10

// UpdatePointsConfig validates and replaces the tenant's configuration.
// The body is the configuration itself.
func (h *Handler) UpdatePointsConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	if !canManageTenant(principal(r), tenantID) {
		writeError(w, http.StatusForbidden, "Forbidden", fmt.Errorf("cannot configure tenant %s", tenantID))
		return
	}

	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBytes))
	if err != nil {
		writeInvalid(w, err)
		return
	}

	cfg, err := h.Engine.UpdatePointsConfig(r.Context(), tenantID, string(blob))
	if err != nil {
		writeFailure(w, r, "Invalid points configuration", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PreviewPoints scores a purchase with the tenant's configuration without
// recording anything.
func (h *Handler) PreviewPoints(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := decodeRequest(r, &req); err != nil {
		writeInvalid(w, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeInvalid(w, fmt.Errorf("%w: amount: %v", ledger.ErrValidation, err))
		return
	}

	cfg, err := h.Engine.PointsConfig(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		writeFailure(w, r, "Failed to get points configuration", err)
		return
	}

	at := time.Now()
	if req.At != nil {
		at = *req.At
	}
	writeJSON(w, http.StatusOK, points.Calculate(cfg, amount, at))
}
