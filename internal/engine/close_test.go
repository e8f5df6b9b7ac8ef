package engine_test

import (
	"context"
	"testing"

	"papertrade/internal/engine"
	"papertrade/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosePositionAtProfit(t *testing.T) {
	svc, store, pf := newTestService(t)
	ctx := context.Background()

	open := svc.ExecuteMarketOrder(ctx, engine.OrderRequest{
		UserID:       pf.UserID,
		PortfolioID:  pf.ID,
		Symbol:       "DAX",
		Side:         types.OrderSideBuy,
		Quantity:     d("5"),
		CurrentPrice: d("200"),
		ProductType:  types.ProductTypeCFD,
		Leverage:     5,
	})
	require.True(t, open.Success, open.Error)

	res := svc.ClosePosition(ctx, open.Position.ID, pf.UserID, d("210"), "")
	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.Position)
	require.NotNil(t, res.Fees)

	// leveraged move from entry to the effective exit, net of closing fees
	pos := open.Position
	exit := res.Fees.EffectivePrice
	move := pos.Quantity.Mul(exit).Sub(pos.Quantity.Mul(pos.EntryPrice))
	wantRealized := move.Mul(d("5")).Sub(res.Fees.TotalFees)
	assert.True(t, res.RealizedPnL.Equal(wantRealized), "realized %s want %s", res.RealizedPnL, wantRealized)
	assert.True(t, res.RealizedPnL.GreaterThan(d("0")))

	// the posted margin comes back plus the P&L
	wantCash := pos.MarginUsed.Add(wantRealized)
	assert.True(t, res.CashImpact.Equal(wantCash))

	got, err := store.GetPortfolio(ctx, pf.ID, pf.UserID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(res.NewBalance))
	assert.Equal(t, types.CloseReasonManual, res.Position.CloseReason)

	txns, err := store.Transactions(ctx, pf.ID, 1)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, types.TransactionTypeClose, txns[0].Type)
	assert.True(t, txns[0].BalanceAfter.Equal(res.NewBalance))
}

func TestCloseShortAtProfit(t *testing.T) {
	svc, _, pf := newTestService(t)
	ctx := context.Background()

	open := svc.ExecuteMarketOrder(ctx, engine.OrderRequest{
		UserID:       pf.UserID,
		PortfolioID:  pf.ID,
		Symbol:       "DAX",
		Side:         types.OrderSideSell,
		Quantity:     d("2"),
		CurrentPrice: d("500"),
		ProductType:  types.ProductTypeCFD,
		Leverage:     10,
	})
	require.True(t, open.Success, open.Error)

	// price drops: the short wins
	res := svc.ClosePosition(ctx, open.Position.ID, pf.UserID, d("450"), types.CloseReasonTakeProfit)
	require.True(t, res.Success, res.Error)
	assert.True(t, res.RealizedPnL.GreaterThan(d("0")), "realized %s", res.RealizedPnL)
	assert.Equal(t, types.CloseReasonTakeProfit, res.Position.CloseReason)
}

func TestClosePositionTwice(t *testing.T) {
	svc, _, pf := newTestService(t)
	ctx := context.Background()

	open := svc.ExecuteMarketOrder(ctx, buyRequest(pf, "AAPL", "5", "100"))
	require.True(t, open.Success, open.Error)

	first := svc.ClosePosition(ctx, open.Position.ID, pf.UserID, d("100"), "")
	require.True(t, first.Success, first.Error)

	second := svc.ClosePosition(ctx, open.Position.ID, pf.UserID, d("100"), "")
	require.False(t, second.Success)
	assert.ErrorIs(t, second.Err, engine.ErrInvalidInput)
}

func TestCloseUnknownPosition(t *testing.T) {
	svc, _, pf := newTestService(t)

	res := svc.ClosePosition(context.Background(), "missing", pf.UserID, d("100"), "")
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, engine.ErrNotFound)
}

func TestCloseSomeoneElsesPosition(t *testing.T) {
	svc, _, pf := newTestService(t)
	ctx := context.Background()

	open := svc.ExecuteMarketOrder(ctx, buyRequest(pf, "AAPL", "5", "100"))
	require.True(t, open.Success, open.Error)

	res := svc.ClosePosition(ctx, open.Position.ID, "intruder", d("100"), "")
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, engine.ErrNotFound)
}

func TestCloseRejectsBadPrice(t *testing.T) {
	svc, _, pf := newTestService(t)
	ctx := context.Background()

	open := svc.ExecuteMarketOrder(ctx, buyRequest(pf, "AAPL", "5", "100"))
	require.True(t, open.Success, open.Error)

	res := svc.ClosePosition(ctx, open.Position.ID, pf.UserID, d("0"), "")
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, engine.ErrInvalidInput)
}
