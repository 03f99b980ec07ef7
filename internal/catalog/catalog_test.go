package catalog_test

import (
	"path/filepath"
	"testing"

	"github.com/ksred/arbitrage-api/internal/catalog"
	"github.com/ksred/arbitrage-api/internal/database"
	"github.com/ksred/arbitrage-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *catalog.Service {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "catalog_test.db"))
	require.NoError(t, err)
	return catalog.NewService(db)
}

func mustCreate(t *testing.T, svc *catalog.Service, order *types.Order) *types.Order {
	t.Helper()
	require.NoError(t, svc.CreateOrder(order))
	require.NotZero(t, order.SeqID)
	return order
}

func TestCreateOrderDefaultsAndValidation(t *testing.T) {
	svc := newTestCatalog(t)

	order := mustCreate(t, svc, &types.Order{
		Pair:     "EURUSD",
		Exchange: "alpha",
		Side:     types.SideBuy,
		Info:     types.InfoList{"limit", 1.0842},
	})
	assert.Equal(t, types.StatusPending, order.Status)

	cases := []struct {
		name  string
		order types.Order
	}{
		{"missing pair", types.Order{Exchange: "alpha", Side: types.SideBuy}},
		{"missing exchange", types.Order{Pair: "EURUSD", Side: types.SideBuy}},
		{"bad side", types.Order{Pair: "EURUSD", Exchange: "alpha", Side: "HOLD"}},
		{"bad status", types.Order{Pair: "EURUSD", Exchange: "alpha", Side: types.SideBuy, Status: "ARCHIVED"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.CreateOrder(&tc.order)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
}

func TestLookupPathsAgree(t *testing.T) {
	svc := newTestCatalog(t)

	// One order visible through every index it belongs to.
	order := mustCreate(t, svc, &types.Order{
		Pair:     "BTCUSD",
		Exchange: "beta",
		Side:     types.SideSell,
	})
	// Noise rows that the filters must exclude.
	mustCreate(t, svc, &types.Order{Pair: "BTCUSD", Exchange: "beta", Side: types.SideBuy})
	mustCreate(t, svc, &types.Order{Pair: "ETHUSD", Exchange: "beta", Side: types.SideSell})
	mustCreate(t, svc, &types.Order{Pair: "BTCUSD", Exchange: "gamma", Side: types.SideBuy})

	byID, err := svc.GetOrder(order.SeqID)
	require.NoError(t, err)
	assert.Equal(t, order.SeqID, byID.SeqID)

	byExchange, err := svc.FindByExchange("beta")
	require.NoError(t, err)
	assert.Len(t, byExchange, 2)

	byPair, err := svc.FindByPair("beta", "BTCUSD")
	require.NoError(t, err)
	require.Len(t, byPair, 2)

	byExchangeSide, err := svc.FindByExchangeAndSide("beta", types.SideSell)
	require.NoError(t, err)
	require.Len(t, byExchangeSide, 2)

	byPairSide, err := svc.FindByPairAndSide("BTCUSD", types.SideSell)
	require.NoError(t, err)
	require.Len(t, byPairSide, 1)
	assert.Equal(t, order.SeqID, byPairSide[0].SeqID)

	_, err = svc.GetOrder(9999)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAssignExchangeOrderID(t *testing.T) {
	svc := newTestCatalog(t)

	first := mustCreate(t, svc, &types.Order{Pair: "EURUSD", Exchange: "alpha", Side: types.SideBuy})
	second := mustCreate(t, svc, &types.Order{Pair: "EURUSD", Exchange: "alpha", Side: types.SideSell})
	elsewhere := mustCreate(t, svc, &types.Order{Pair: "EURUSD", Exchange: "beta", Side: types.SideBuy})

	updated, err := svc.AssignExchangeOrderID(first.SeqID, "alpha-1001")
	require.NoError(t, err)
	require.NotNil(t, updated.ExchangeOrderID)
	assert.Equal(t, "alpha-1001", *updated.ExchangeOrderID)

	// Re-assigning the same id is a no-op; a different id is refused.
	_, err = svc.AssignExchangeOrderID(first.SeqID, "alpha-1001")
	require.NoError(t, err)
	_, err = svc.AssignExchangeOrderID(first.SeqID, "alpha-2002")
	assert.ErrorIs(t, err, types.ErrDuplicate)

	// The id is taken on this exchange.
	_, err = svc.AssignExchangeOrderID(second.SeqID, "alpha-1001")
	assert.ErrorIs(t, err, types.ErrDuplicate)

	// Same id on a different exchange is fine.
	_, err = svc.AssignExchangeOrderID(elsewhere.SeqID, "alpha-1001")
	require.NoError(t, err)

	found, err := svc.FindByExchangeOrderID("alpha", "alpha-1001")
	require.NoError(t, err)
	assert.Equal(t, first.SeqID, found.SeqID)

	_, err = svc.FindByExchangeOrderID("alpha", "alpha-9999")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = svc.AssignExchangeOrderID(first.SeqID, "")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestUpdateStatusMonotonic(t *testing.T) {
	svc := newTestCatalog(t)

	order := mustCreate(t, svc, &types.Order{Pair: "ETHUSD", Exchange: "gamma", Side: types.SideBuy})

	updated, err := svc.UpdateStatus(order.SeqID, types.StatusExecuting)
	require.NoError(t, err)
	assert.Equal(t, types.StatusExecuting, updated.Status)

	// Equal status is a no-op, not an error.
	updated, err = svc.UpdateStatus(order.SeqID, types.StatusExecuting)
	require.NoError(t, err)
	assert.Equal(t, types.StatusExecuting, updated.Status)

	// Backwards is refused.
	_, err = svc.UpdateStatus(order.SeqID, types.StatusPending)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	updated, err = svc.UpdateStatus(order.SeqID, types.StatusExecuted)
	require.NoError(t, err)
	assert.Equal(t, types.StatusExecuted, updated.Status)

	// executed_at is stamped exactly once, on the executing -> executed move.
	stored, err := svc.GetOrder(order.SeqID)
	require.NoError(t, err)
	require.NotNil(t, stored.ExecutedAt)

	// Terminal states admit no further moves, even to other terminals.
	_, err = svc.UpdateStatus(order.SeqID, types.StatusCanceled)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	_, err = svc.UpdateStatus(order.SeqID, types.StatusFailed)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	_, err = svc.UpdateStatus(order.SeqID, "ARCHIVED")
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = svc.UpdateStatus(9999, types.StatusExecuting)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPendingCanFailDirectly(t *testing.T) {
	svc := newTestCatalog(t)

	order := mustCreate(t, svc, &types.Order{Pair: "ETHUSD", Exchange: "gamma", Side: types.SideSell})

	updated, err := svc.UpdateStatus(order.SeqID, types.StatusCanceled)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCanceled, updated.Status)
	assert.True(t, updated.IsTerminal())

	// Canceled never gains an execution timestamp.
	stored, err := svc.GetOrder(order.SeqID)
	require.NoError(t, err)
	assert.Nil(t, stored.ExecutedAt)
}

func TestInfoRoundTrip(t *testing.T) {
	svc := newTestCatalog(t)

	order := mustCreate(t, svc, &types.Order{
		Pair:     "EURUSD",
		Exchange: "alpha",
		Side:     types.SideBuy,
		Info:     types.InfoList{"limit", 1.0842, true},
	})

	stored, err := svc.GetOrder(order.SeqID)
	require.NoError(t, err)
	assert.Equal(t, types.InfoList{"limit", 1.0842, true}, stored.Info)
}
