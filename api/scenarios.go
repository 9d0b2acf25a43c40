/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates tenants, rewards, customers and
	purchases through the engine, so balances and vouchers come out of the
	same code paths as production traffic.

AVAILABLE SCENARIOS (scenarios.yaml):

	corner-cafe:       Flat earn rate, one customer short of the reward
	tiered-bakery:     Tiers, bonus rules and an existing voucher
	approval-workflow: Rewards and purchases waiting for approval

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create tenants with their points configuration
 3. Create rewards, approving those marked approved
 4. Register customers and record their purchases
 5. Redeem the listed rewards

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "corner-cafe"}

ADDING NEW SCENARIOS:

	Append an entry to scenarios.yaml. No code changes are needed.

NOTE:

	Scenarios reset the database. The routes are only mounted when
	scenarios.enabled is set, which production configuration refuses.

SEE ALSO:
  - server.go: Mounts the scenario routes
  - rewards/catalog.go: Tenant, customer and reward creation
*/
package api

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/warp/loyalty-engine/logging"
	"github.com/warp/loyalty-engine/rewards"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

//go:embed scenarios.yaml
var scenariosYAML []byte

type scenarioFile struct {
	Scenarios []scenario `yaml:"scenarios"`
}

type scenario struct {
	ID          string              `yaml:"id"`
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Tenants     []tenantFixture     `yaml:"tenants"`
	Customers   []customerFixture   `yaml:"customers"`
	Redemptions []redemptionFixture `yaml:"redemptions"`
}

type tenantFixture struct {
	Key                     string          `yaml:"key"`
	Name                    string          `yaml:"name"`
	PointsConfig            string          `yaml:"pointsConfig"`
	RequireRewardApproval   bool            `yaml:"requireRewardApproval"`
	RequirePurchaseApproval bool            `yaml:"requirePurchaseApproval"`
	Rewards                 []rewardFixture `yaml:"rewards"`
}

type rewardFixture struct {
	Key         string `yaml:"key"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Points      int64  `yaml:"points"`
	Approved    bool   `yaml:"approved"`
}

type customerFixture struct {
	Key       string            `yaml:"key"`
	Email     string            `yaml:"email"`
	Name      string            `yaml:"name"`
	Mobile    string            `yaml:"mobile"`
	Tenant    string            `yaml:"tenant"`
	Purchases []purchaseFixture `yaml:"purchases"`
}

type purchaseFixture struct {
	Tenant  string `yaml:"tenant"`
	Amount  string `yaml:"amount"`
	DaysAgo int    `yaml:"daysAgo"`
	Approve bool   `yaml:"approve"`
}

type redemptionFixture struct {
	Customer string `yaml:"customer"`
	Reward   string `yaml:"reward"`
}

// LoadedScenario maps fixture keys to the ids they were created with.
type LoadedScenario struct {
	Scenario  string            `json:"scenario"`
	Tenants   map[string]string `json:"tenants"`
	Rewards   map[string]string `json:"rewards"`
	Customers map[string]string `json:"customers"`
	Vouchers  []string          `json:"vouchers"`
}

// scenarioActor is recorded as the author of everything a scenario creates.
const scenarioActor = "scenario-loader"

var scenarios = mustParseScenarios(scenariosYAML)

func mustParseScenarios(data []byte) []scenario {
	list, err := parseScenarios(data)
	if err != nil {
		panic(err)
	}
	return list
}

func parseScenarios(data []byte) ([]scenario, error) {
	var f scenarioFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse scenarios: %w", err)
	}
	seen := make(map[string]bool, len(f.Scenarios))
	for _, s := range f.Scenarios {
		if s.ID == "" || seen[s.ID] {
			return nil, fmt.Errorf("parse scenarios: missing or duplicate id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return f.Scenarios, nil
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = ScenarioDTO{ID: s.ID, Name: s.Name, Description: s.Description}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	s, ok := findScenario(current)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: s.ID, Name: s.Name, Description: s.Description})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeRequest(r, &req); err != nil {
		writeInvalid(w, err)
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeFailure(w, r, "Failed to reset database", err)
		return
	}

	loaded, err := h.loadScenario(r.Context(), s)
	if err != nil {
		writeFailure(w, r, "Failed to load scenario", err)
		return
	}

	h.currentScenario = s.ID
	logging.FromContextOr(r.Context(), h.Logger).Info("scenario loaded", zap.String("scenario", s.ID))
	writeJSON(w, http.StatusOK, loaded)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeFailure(w, r, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// LOADER
// =============================================================================

func (h *Handler) loadScenario(ctx context.Context, s scenario) (*LoadedScenario, error) {
	out := &LoadedScenario{
		Scenario:  s.ID,
		Tenants:   make(map[string]string),
		Rewards:   make(map[string]string),
		Customers: make(map[string]string),
		Vouchers:  []string{},
	}

	for _, tf := range s.Tenants {
		t, err := h.Engine.CreateTenant(ctx, rewards.NewTenant{
			Name:                    tf.Name,
			PointsConfig:            tf.PointsConfig,
			RequireRewardApproval:   tf.RequireRewardApproval,
			RequirePurchaseApproval: tf.RequirePurchaseApproval,
		})
		if err != nil {
			return nil, fmt.Errorf("tenant %s: %w", tf.Key, err)
		}
		out.Tenants[tf.Key] = t.ID

		for _, rf := range tf.Rewards {
			reward, err := h.Engine.CreateReward(ctx, rewards.NewReward{
				TenantID:    t.ID,
				Name:        rf.Name,
				Description: rf.Description,
				Points:      rf.Points,
				CreatedBy:   scenarioActor,
			})
			if err != nil {
				return nil, fmt.Errorf("reward %s: %w", rf.Key, err)
			}
			if rf.Approved && reward.ApprovalStatus == rewards.ApprovalPending {
				if _, err := h.Engine.ApproveReward(ctx, reward.ID, scenarioActor); err != nil {
					return nil, fmt.Errorf("approve reward %s: %w", rf.Key, err)
				}
			}
			out.Rewards[rf.Key] = reward.ID
		}
	}

	now := h.Engine.Now()
	for _, cf := range s.Customers {
		c, err := h.Engine.RegisterCustomer(ctx, rewards.NewCustomer{
			Email:    cf.Email,
			Name:     cf.Name,
			Mobile:   cf.Mobile,
			TenantID: out.Tenants[cf.Tenant],
		})
		if err != nil {
			return nil, fmt.Errorf("customer %s: %w", cf.Key, err)
		}
		out.Customers[cf.Key] = c.ID

		for i, pf := range cf.Purchases {
			amount, err := decimal.NewFromString(pf.Amount)
			if err != nil {
				return nil, fmt.Errorf("customer %s purchase %d: %w", cf.Key, i, err)
			}
			res, err := h.Engine.RecordPurchase(ctx, rewards.Purchase{
				CustomerID:     c.ID,
				TenantID:       out.Tenants[pf.Tenant],
				Amount:         amount,
				RecordedBy:     scenarioActor,
				IdempotencyKey: fmt.Sprintf("scenario:%s:%s:%d", s.ID, cf.Key, i),
				At:             now.Add(-time.Duration(pf.DaysAgo) * 24 * time.Hour),
			})
			if err != nil {
				return nil, fmt.Errorf("customer %s purchase %d: %w", cf.Key, i, err)
			}
			if pf.Approve {
				if _, err := h.Engine.ApproveTransaction(ctx, res.Transaction.ID); err != nil {
					return nil, fmt.Errorf("customer %s approve purchase %d: %w", cf.Key, i, err)
				}
			}
		}
	}

	for _, rf := range s.Redemptions {
		res, err := h.Engine.Redeem(ctx, out.Customers[rf.Customer], out.Rewards[rf.Reward])
		if err != nil {
			return nil, fmt.Errorf("redeem %s for %s: %w", rf.Reward, rf.Customer, err)
		}
		out.Vouchers = append(out.Vouchers, res.Voucher.ID)
	}

	return out, nil
}
