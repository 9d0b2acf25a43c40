/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers and roles.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logging:    zap request log with a request-scoped logger
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the web and mobile clients

ROUTE GROUPS:
  /healthz                  Liveness (public)
  /api/customers            Registration (public), listing (admin),
                            profile (self/admin)
  /api/tenants/*            Tenants, points configuration, reward catalog
  /api/rewards/*            Approval, deletion, redemption
  /api/vouchers/*           Customer vouchers, counter use
  /api/points/mobile        Balance card
  /api/purchases            Earning points (partner/admin)
  /api/transactions/*       Ledger workflow (partner/admin)
  /api/admin/*              Maintenance (admin)
  /api/scenarios/*          Demo data (admin, only when enabled)

AUTHORIZATION:
  Role checks happen here with RequireRole. Ownership checks (a customer's
  own data, a partner's own tenant) happen in the handlers.

SEE ALSO:
  - auth.go: Token verification and roles
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/loyalty-engine/logging"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Logger         *zap.Logger
	AllowedOrigins []string
	// Scenarios mounts the demo scenario routes.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, tokens *Tokens, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = h.Logger
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)

	customers := RequireRole(RoleCustomer)
	partners := RequireRole(RolePartner, RoleAdmin)
	admins := RequireRole(RoleAdmin)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/customers", h.RegisterCustomer)

		r.Group(func(r chi.Router) {
			r.Use(tokens.Authenticate)

			// Customer routes
			r.With(admins).Get("/customers", h.ListCustomers)
			r.Route("/customers/{id}", func(r chi.Router) {
				r.Get("/", h.GetCustomer)
				r.Get("/qr", h.GetCustomerQR)
				r.Get("/balance", h.GetBalance)
				r.Get("/transactions", h.GetTransactions)
			})

			// Tenant routes
			r.Route("/tenants", func(r chi.Router) {
				r.With(admins).Get("/", h.ListTenants)
				r.With(admins).Post("/", h.CreateTenant)
				r.Route("/{tenantId}", func(r chi.Router) {
					r.Get("/", h.GetTenant)
					r.Get("/points-config", h.GetPointsConfig)
					r.With(partners).Put("/points-config", h.UpdatePointsConfig)
					r.Post("/points-config/preview", h.PreviewPoints)
					r.Get("/rewards", h.ListRewards)
					r.With(partners).Post("/rewards", h.CreateReward)
				})
			})

			// Reward routes
			r.Route("/rewards/{id}", func(r chi.Router) {
				r.With(admins).Post("/approve", h.ApproveReward)
				r.With(admins).Post("/reject", h.RejectReward)
				r.With(partners).Delete("/", h.DeleteReward)
				r.With(customers).Post("/redeem", h.RedeemReward)
			})

			// Voucher routes
			r.Route("/vouchers", func(r chi.Router) {
				r.With(customers).Get("/", h.ListVouchers)
				r.With(customers).Get("/mobile", h.ListVouchersMobile)
				r.With(customers).Post("/{id}/cancel", h.CancelVoucher)
				r.With(partners).Post("/{id}/use", h.UseVoucher)
			})

			r.With(customers).Get("/points/mobile", h.GetPointsMobile)

			// Earning and ledger workflow
			r.With(partners).Post("/purchases", h.RecordPurchase)
			r.Route("/transactions/{id}", func(r chi.Router) {
				r.Use(partners)
				r.Post("/approve", h.ApproveTransaction)
				r.Post("/reject", h.RejectTransaction)
				r.Post("/void", h.VoidTransaction)
				r.Post("/refund", h.RefundPurchase)
			})

			// Admin routes
			r.Route("/admin", func(r chi.Router) {
				r.Use(admins)
				r.Post("/customers/{id}/resync", h.ResyncCustomer)
				r.Post("/vouchers/expire", h.ExpireVouchers)
			})

			// Scenario routes
			if opts.Scenarios {
				r.Route("/scenarios", func(r chi.Router) {
					r.Use(admins)
					r.Get("/", h.ListScenarios)
					r.Get("/current", h.GetCurrentScenario)
					r.Post("/load", h.LoadScenario)
					r.Post("/reset", h.ResetDatabase)
				})
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found", nil)
	})

	return r
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
