package ledgerstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"papertrade/internal/model"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestGetOrCreatePortfolioIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a, err := m.GetOrCreatePortfolio(ctx, "u1", "default", d("10000"), "standard")
	require.NoError(t, err)
	b, err := m.GetOrCreatePortfolio(ctx, "u1", "default", d("99999"), "premium")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.True(t, b.InitialCapital.Equal(d("10000")), "the existing portfolio wins")

	other, err := m.GetOrCreatePortfolio(ctx, "u2", "default", d("10000"), "standard")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, other.ID)
}

func TestFailedTxLeavesStateUntouched(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	pf, err := m.GetOrCreatePortfolio(ctx, "u1", "default", d("10000"), "standard")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.Tx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.ApplyCashDelta(ctx, pf.ID, d("-5000")); err != nil {
			return err
		}
		if err := tx.InsertPosition(ctx, &model.Position{
			PortfolioID: pf.ID,
			UserID:      pf.UserID,
			Symbol:      "AAPL",
			ProductType: types.ProductTypeStock,
			Side:        types.OrderSideBuy,
			Quantity:    d("1"),
			EntryPrice:  d("100"),
			Leverage:    1,
			IsOpen:      true,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.GetPortfolio(ctx, pf.ID, pf.UserID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(d("10000")), "rolled-back delta must not stick")

	open, err := m.OpenPositions(ctx, pf.ID)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestOpenLotsAreFIFOOrdered(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	pf, err := m.GetOrCreatePortfolio(ctx, "u1", "default", d("10000"), "standard")
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	err = m.Tx(ctx, func(ctx context.Context, tx Tx) error {
		for i := 0; i < 3; i++ {
			p := model.Position{
				PortfolioID: pf.ID,
				UserID:      pf.UserID,
				Symbol:      "AAPL",
				ProductType: types.ProductTypeStock,
				Side:        types.OrderSideBuy,
				Quantity:    d("1"),
				EntryPrice:  d("100"),
				Leverage:    1,
				IsOpen:      true,
				OpenedAt:    base.Add(time.Duration(i) * time.Minute),
			}
			if err := tx.InsertPosition(ctx, &p); err != nil {
				return err
			}
			ids = append(ids, p.ID)
		}
		return nil
	})
	require.NoError(t, err)

	err = m.Tx(ctx, func(ctx context.Context, tx Tx) error {
		lots, err := tx.OpenLotsForUpdate(ctx, pf.ID, "AAPL", types.ProductTypeStock, types.OrderSideBuy)
		if err != nil {
			return err
		}
		require.Len(t, lots, 3)
		for i, lot := range lots {
			assert.Equal(t, ids[i], lot.ID, "lot %d out of order", i)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestCancelPendingOrders(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	pf, err := m.GetOrCreatePortfolio(ctx, "u1", "default", d("10000"), "standard")
	require.NoError(t, err)

	err = m.Tx(ctx, func(ctx context.Context, tx Tx) error {
		limit := d("95")
		for i := 0; i < 2; i++ {
			o := model.Order{
				PortfolioID: pf.ID,
				UserID:      pf.UserID,
				Symbol:      "AAPL",
				ProductType: types.ProductTypeStock,
				Type:        types.OrderTypeLimit,
				Side:        types.OrderSideBuy,
				Quantity:    d("1"),
				LimitPrice:  &limit,
				Leverage:    1,
				Status:      types.OrderStatusPending,
			}
			if err := tx.InsertOrder(ctx, &o); err != nil {
				return err
			}
		}
		filled := model.Order{
			PortfolioID: pf.ID,
			UserID:      pf.UserID,
			Symbol:      "AAPL",
			ProductType: types.ProductTypeStock,
			Type:        types.OrderTypeMarket,
			Side:        types.OrderSideBuy,
			Quantity:    d("1"),
			Leverage:    1,
			Status:      types.OrderStatusFilled,
		}
		return tx.InsertOrder(ctx, &filled)
	})
	require.NoError(t, err)

	err = m.Tx(ctx, func(ctx context.Context, tx Tx) error {
		n, err := tx.CancelPendingOrders(ctx, pf.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n, "only pending orders are cancelled")
		return nil
	})
	require.NoError(t, err)

	pending, err := m.PendingOrders(ctx, pf.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCarryPositionsDueSince(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	pf, err := m.GetOrCreatePortfolio(ctx, "u1", "default", d("10000"), "standard")
	require.NoError(t, err)

	cutoff := time.Now().UTC().Truncate(24 * time.Hour)
	yesterday := cutoff.Add(-2 * time.Hour)
	today := cutoff.Add(2 * time.Hour)

	var wantID string
	err = m.Tx(ctx, func(ctx context.Context, tx Tx) error {
		never := model.Position{
			PortfolioID: pf.ID, UserID: pf.UserID, Symbol: "DAX",
			ProductType: types.ProductTypeCFD, Side: types.OrderSideBuy,
			Quantity: d("1"), EntryPrice: d("100"), Leverage: 5, IsOpen: true,
		}
		if err := tx.InsertPosition(ctx, &never); err != nil {
			return err
		}
		wantID = never.ID

		charged := model.Position{
			PortfolioID: pf.ID, UserID: pf.UserID, Symbol: "DAX",
			ProductType: types.ProductTypeCFD, Side: types.OrderSideBuy,
			Quantity: d("1"), EntryPrice: d("100"), Leverage: 5, IsOpen: true,
			LastOvernightAt: &today,
		}
		if err := tx.InsertPosition(ctx, &charged); err != nil {
			return err
		}

		stale := model.Position{
			PortfolioID: pf.ID, UserID: pf.UserID, Symbol: "DAX",
			ProductType: types.ProductTypeCFD, Side: types.OrderSideBuy,
			Quantity: d("1"), EntryPrice: d("100"), Leverage: 5, IsOpen: true,
			LastOvernightAt: &yesterday,
		}
		if err := tx.InsertPosition(ctx, &stale); err != nil {
			return err
		}

		stock := model.Position{
			PortfolioID: pf.ID, UserID: pf.UserID, Symbol: "AAPL",
			ProductType: types.ProductTypeStock, Side: types.OrderSideBuy,
			Quantity: d("1"), EntryPrice: d("100"), Leverage: 1, IsOpen: true,
		}
		return tx.InsertPosition(ctx, &stock)
	})
	require.NoError(t, err)

	due, err := m.CarryPositionsDueSince(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, due, 2, "never-charged and stale CFDs are due; charged and stock are not")
	found := map[string]bool{}
	for _, p := range due {
		found[p.ID] = true
	}
	assert.True(t, found[wantID])
}
