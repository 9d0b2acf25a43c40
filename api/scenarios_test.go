/*
scenarios_test.go - Tests for the demo scenarios

PURPOSE:
	Tests that each scenario in scenarios.yaml loads through the engine and
	leaves the expected balances, vouchers and approvals behind. These double
	as integration tests of the catalog, purchase and redemption paths.
*/
package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/rewards"
)

func TestScenarios_EmbeddedFileParses(t *testing.T) {
	list, err := parseScenarios(scenariosYAML)
	require.NoError(t, err)
	require.NotEmpty(t, list)

	for _, s := range list {
		assert.NotEmpty(t, s.Name, s.ID)
		assert.NotEmpty(t, s.Tenants, s.ID)
	}
}

func TestScenarios_RejectsDuplicateIDs(t *testing.T) {
	_, err := parseScenarios([]byte("scenarios:\n  - id: a\n  - id: a\n"))
	assert.Error(t, err)
}

func TestScenarios_EveryScenarioLoads(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			s := newTestServer(t)
			ctx := context.Background()
			require.NoError(t, s.store.Reset(ctx))

			loaded, err := s.handler.loadScenario(ctx, sc)
			require.NoError(t, err)
			assert.Len(t, loaded.Tenants, len(sc.Tenants))
			assert.Len(t, loaded.Customers, len(sc.Customers))
			assert.Len(t, loaded.Vouchers, len(sc.Redemptions))
		})
	}
}

func TestScenario_CornerCafe(t *testing.T) {
	// GIVEN: The corner-cafe scenario loaded over HTTP
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", s.adminToken(t), map[string]string{"scenarioId": "corner-cafe"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	b := body(rec)
	ana := b.Get("customers.ana").String()
	ben := b.Get("customers.ben").String()
	coffee := b.Get("rewards.coffee").String()

	// THEN: Ana has 300 points and Ben has 50
	ctx := context.Background()
	bal, err := s.engine.Balance(ctx, ana)
	require.NoError(t, err)
	assert.Equal(t, int64(300), bal.Available)
	bal, err = s.engine.Balance(ctx, ben)
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal.Available)

	// AND: Ana can afford the coffee, Ben cannot
	_, err = s.engine.Redeem(ctx, ana, coffee)
	require.NoError(t, err)
	_, err = s.engine.Redeem(ctx, ben, coffee)
	var ipe *ledger.InsufficientPointsError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, int64(250), ipe.Required)
	assert.Equal(t, int64(50), ipe.Available)

	// AND: The fixture customer from the test server is gone
	_, err = s.engine.GetCustomer(ctx, s.customer.ID)
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)

	rec = s.do(t, http.MethodGet, "/api/scenarios/current", s.adminToken(t), nil)
	assert.Equal(t, "corner-cafe", body(rec).Get("id").String())
}

func TestScenario_TieredBakeryHasVoucher(t *testing.T) {
	s := newTestServer(t)
	sc, ok := findScenario("tiered-bakery")
	require.True(t, ok)
	ctx := context.Background()
	require.NoError(t, s.store.Reset(ctx))

	loaded, err := s.handler.loadScenario(ctx, sc)
	require.NoError(t, err)

	list, err := s.engine.ListVouchers(ctx, loaded.Customers["carla"])
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Sourdough Loaf", list[0].Reward.Name)
	assert.Equal(t, rewards.VoucherActive, list[0].Voucher.Status)

	// 120.00 lands in the 12/unit tier with at least the 1.5x big basket bonus
	txs, err := s.engine.Transactions(ctx, loaded.Customers["carla"])
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.GreaterOrEqual(t, txs[0].Points, int64(2160))
}

func TestScenario_ApprovalWorkflow(t *testing.T) {
	s := newTestServer(t)
	sc, ok := findScenario("approval-workflow")
	require.True(t, ok)
	ctx := context.Background()
	require.NoError(t, s.store.Reset(ctx))

	loaded, err := s.handler.loadScenario(ctx, sc)
	require.NoError(t, err)

	bal, err := s.engine.Balance(ctx, loaded.Customers["dan"])
	require.NoError(t, err)
	assert.Equal(t, int64(320), bal.Available)
	assert.Equal(t, int64(190), bal.Pending)

	dessert, err := s.engine.GetReward(ctx, loaded.Rewards["dessert"])
	require.NoError(t, err)
	assert.True(t, dessert.Redeemable())
	wine, err := s.engine.GetReward(ctx, loaded.Rewards["wine"])
	require.NoError(t, err)
	assert.Equal(t, rewards.ApprovalPending, wine.ApprovalStatus)
}

func TestScenarios_AdminOnlyAndUnknown(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/scenarios", s.customerToken(t), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/scenarios", s.adminToken(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body(rec).Array(), len(scenarios))

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", s.adminToken(t), map[string]string{"scenarioId": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScenarios_NotMountedWhenDisabled(t *testing.T) {
	s := newTestServer(t)
	router := NewRouter(s.handler, s.tokens, RouterOptions{})

	req, err := http.NewRequest(http.MethodGet, "/api/scenarios", nil)
	require.NoError(t, err)
	tok := s.adminToken(t)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
