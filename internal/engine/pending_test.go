package engine_test

import (
	"context"
	"testing"

	"papertrade/internal/engine"
	"papertrade/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlacePendingOrderMovesNoCash(t *testing.T) {
	svc, store, pf := newTestService(t)
	ctx := context.Background()

	res := placeLimitOrder(t, svc, pf.ID, pf.UserID)
	require.NotNil(t, res.Order)
	assert.Equal(t, types.OrderStatusPending, res.Order.Status)
	assert.True(t, res.NewBalance.Equal(pf.CashBalance))

	got, err := store.GetPortfolio(ctx, pf.ID, pf.UserID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(pf.CashBalance), "pending orders reserve nothing")

	pending, err := store.PendingOrders(ctx, pf.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.Order.ID, pending[0].ID)

	txns, err := store.Transactions(ctx, pf.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, txns, "nothing fills, nothing is booked")
}

func TestPendingOrderValidation(t *testing.T) {
	svc, _, pf := newTestService(t)
	ctx := context.Background()

	base := engine.OrderRequest{
		UserID:       pf.UserID,
		PortfolioID:  pf.ID,
		Symbol:       "AAPL",
		Side:         types.OrderSideBuy,
		Quantity:     d("5"),
		CurrentPrice: d("100"),
		ProductType:  types.ProductTypeStock,
		Leverage:     1,
	}
	stop := d("105")

	cases := map[string]engine.PendingOrderRequest{
		"limit without price":      {OrderRequest: base, Type: types.OrderTypeLimit},
		"stop without price":       {OrderRequest: base, Type: types.OrderTypeStop},
		"stop-limit without limit": {OrderRequest: base, Type: types.OrderTypeStopLimit, StopPrice: &stop},
		"market is not pending":    {OrderRequest: base, Type: types.OrderTypeMarket},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			res := svc.PlacePendingOrder(ctx, req)
			require.False(t, res.Success)
			assert.ErrorIs(t, res.Err, engine.ErrInvalidInput)
		})
	}
}

func TestPendingStopOrder(t *testing.T) {
	svc, store, pf := newTestService(t)
	ctx := context.Background()

	stop := d("90")
	res := svc.PlacePendingOrder(ctx, engine.PendingOrderRequest{
		OrderRequest: engine.OrderRequest{
			UserID:       pf.UserID,
			PortfolioID:  pf.ID,
			Symbol:       "DAX",
			Side:         types.OrderSideSell,
			Quantity:     d("2"),
			CurrentPrice: d("100"),
			ProductType:  types.ProductTypeCFD,
			Leverage:     5,
		},
		Type:      types.OrderTypeStop,
		StopPrice: &stop,
	})
	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.Order.StopPrice)
	assert.True(t, res.Order.StopPrice.Equal(stop))

	pending, err := store.PendingOrders(ctx, pf.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, types.OrderTypeStop, pending[0].Type)
}
