package engine_test

import (
	"context"
	"testing"

	"papertrade/internal/engine"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placeLimitOrder(t *testing.T, svc *engine.Service, pfID, userID string) engine.ExecuteResult {
	t.Helper()
	limit := d("95")
	res := svc.PlacePendingOrder(context.Background(), engine.PendingOrderRequest{
		OrderRequest: engine.OrderRequest{
			UserID:       userID,
			PortfolioID:  pfID,
			Symbol:       "AAPL",
			Side:         types.OrderSideBuy,
			Quantity:     d("5"),
			CurrentPrice: d("100"),
			ProductType:  types.ProductTypeStock,
			Leverage:     1,
		},
		Type:       types.OrderTypeLimit,
		LimitPrice: &limit,
	})
	require.True(t, res.Success, res.Error)
	return res
}

func TestResetRestoresInitialCapital(t *testing.T) {
	svc, store, pf := newTestService(t)
	ctx := context.Background()

	require.True(t, svc.ExecuteMarketOrder(ctx, buyRequest(pf, "AAPL", "10", "100")).Success)
	require.True(t, svc.ExecuteMarketOrder(ctx, buyRequest(pf, "MSFT", "5", "200")).Success)
	openCFD(t, svc, pf, "2", "500", 5)
	placeLimitOrder(t, svc, pf.ID, pf.UserID)

	res := svc.ResetPortfolio(ctx, pf.ID, pf.UserID)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 3, res.ClosedPositions)
	assert.Equal(t, 1, res.CancelledOrders)
	assert.True(t, res.NewBalance.Equal(pf.InitialCapital), "balance %s", res.NewBalance)

	got, err := store.GetPortfolio(ctx, pf.ID, pf.UserID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(pf.InitialCapital))
	assert.True(t, got.InitialCapital.Equal(pf.InitialCapital), "reset keeps the configured capital")

	open, err := store.OpenPositions(ctx, pf.ID)
	require.NoError(t, err)
	assert.Empty(t, open)

	closed, err := store.ClosedPositions(ctx, pf.ID)
	require.NoError(t, err)
	require.Len(t, closed, 3)
	for _, pos := range closed {
		assert.Equal(t, types.CloseReasonReset, pos.CloseReason)
	}

	pending, err := store.PendingOrders(ctx, pf.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// history survives the wipe and records it
	txns, err := store.Transactions(ctx, pf.ID, 1)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, types.TransactionTypeReset, txns[0].Type)
	assert.True(t, txns[0].BalanceAfter.Equal(pf.InitialCapital))
}

func TestSetInitialCapital(t *testing.T) {
	svc, store, pf := newTestService(t)
	ctx := context.Background()

	require.True(t, svc.ExecuteMarketOrder(ctx, buyRequest(pf, "AAPL", "10", "100")).Success)

	res := svc.SetInitialCapital(ctx, pf.ID, pf.UserID, d("50000"))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.ClosedPositions)
	assert.True(t, res.NewBalance.Equal(d("50000")))

	got, err := store.GetPortfolio(ctx, pf.ID, pf.UserID)
	require.NoError(t, err)
	assert.True(t, got.InitialCapital.Equal(d("50000")))
	assert.True(t, got.CashBalance.Equal(d("50000")))

	closed, err := store.ClosedPositions(ctx, pf.ID)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, types.CloseReasonCapitalChange, closed[0].CloseReason)

	txns, err := store.Transactions(ctx, pf.ID, 1)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, types.TransactionTypeCapitalChange, txns[0].Type)
}

func TestSetInitialCapitalBounds(t *testing.T) {
	svc, store, pf := newTestService(t)
	ctx := context.Background()

	for _, capital := range []decimal.Decimal{d("999.99"), d("0"), d("-5000"), d("10000000.01")} {
		res := svc.SetInitialCapital(ctx, pf.ID, pf.UserID, capital)
		require.False(t, res.Success, "capital %s must be rejected", capital)
		assert.ErrorIs(t, res.Err, engine.ErrInvalidInput)
	}

	// the bounds themselves are allowed
	res := svc.SetInitialCapital(ctx, pf.ID, pf.UserID, d("1000"))
	require.True(t, res.Success, res.Error)
	res = svc.SetInitialCapital(ctx, pf.ID, pf.UserID, d("10000000"))
	require.True(t, res.Success, res.Error)

	got, err := store.GetPortfolio(ctx, pf.ID, pf.UserID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(d("10000000")))
}

func TestResetUnknownPortfolio(t *testing.T) {
	svc, _, pf := newTestService(t)

	res := svc.ResetPortfolio(context.Background(), "missing", pf.UserID)
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, engine.ErrNotFound)
}
