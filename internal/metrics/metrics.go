package metrics

import (
	"context"
	"time"

	"papertrade/internal/ledgerstore"
	"papertrade/internal/model"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PortfolioMetrics is a read-only performance snapshot. Nothing here mutates
// the ledger.
type PortfolioMetrics struct {
	PortfolioID       string           `json:"portfolio_id"`
	CashBalance       decimal.Decimal  `json:"cash_balance"`
	MarginUsed        decimal.Decimal  `json:"margin_used"`
	UnrealizedPnL     decimal.Decimal  `json:"unrealized_pnl"`
	RealizedPnL       decimal.Decimal  `json:"realized_pnl"`
	TotalValue        decimal.Decimal  `json:"total_value"`
	OpenPositions     int              `json:"open_positions"`
	ClosedPositions   int              `json:"closed_positions"`
	WinRate           decimal.Decimal  `json:"win_rate"`
	AvgWin            decimal.Decimal  `json:"avg_win"`
	AvgLoss           decimal.Decimal  `json:"avg_loss"`
	CommissionPaid    decimal.Decimal  `json:"commission_paid"`
	SpreadPaid        decimal.Decimal  `json:"spread_paid"`
	OvernightPaid     decimal.Decimal  `json:"overnight_paid"`
	TotalFees         decimal.Decimal  `json:"total_fees"`
	MarginLevel       *decimal.Decimal `json:"margin_level,omitempty"`
	IsMarginWarning   bool             `json:"is_margin_warning"`
	IsLiquidationRisk bool             `json:"is_liquidation_risk"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

type Aggregator struct {
	store ledgerstore.Store
}

func NewAggregator(store ledgerstore.Store) *Aggregator {
	return &Aggregator{store: store}
}

// UnrealizedPnL marks one open position against price: the leveraged move
// from entry, signed by side.
func UnrealizedPnL(pos model.Position, price decimal.Decimal) decimal.Decimal {
	move := price.Sub(pos.EntryPrice).Mul(pos.Quantity)
	sideMult := decimal.NewFromInt(types.SideMultiplier(pos.Side))
	lev := decimal.NewFromInt(int64(pos.Leverage))
	return move.Mul(sideMult).Mul(lev)
}

// ForPortfolio aggregates the portfolio's performance. marks maps symbol to
// the current quote; positions without a mark use their stored price.
func (a *Aggregator) ForPortfolio(ctx context.Context, portfolioID, userID string, marks map[string]decimal.Decimal) (PortfolioMetrics, error) {
	pf, err := a.store.GetPortfolio(ctx, portfolioID, userID)
	if err != nil {
		return PortfolioMetrics{}, err
	}
	open, err := a.store.OpenPositions(ctx, portfolioID)
	if err != nil {
		return PortfolioMetrics{}, err
	}
	closed, err := a.store.ClosedPositions(ctx, portfolioID)
	if err != nil {
		return PortfolioMetrics{}, err
	}
	feeTotals, err := a.store.FeeTotals(ctx, portfolioID)
	if err != nil {
		return PortfolioMetrics{}, err
	}

	m := PortfolioMetrics{
		PortfolioID:     portfolioID,
		CashBalance:     pf.CashBalance,
		OpenPositions:   len(open),
		ClosedPositions: len(closed),
		CommissionPaid:  feeTotals[types.FeeTypeCommission],
		SpreadPaid:      feeTotals[types.FeeTypeSpread],
		OvernightPaid:   feeTotals[types.FeeTypeOvernight],
		GeneratedAt:     time.Now().UTC(),
	}
	m.TotalFees = m.CommissionPaid.Add(m.SpreadPaid).Add(m.OvernightPaid)

	for _, pos := range open {
		price := pos.CurrentPrice
		if mark, ok := marks[pos.Symbol]; ok && mark.GreaterThan(decimal.Zero) {
			price = mark
		}
		m.MarginUsed = m.MarginUsed.Add(pos.MarginUsed)
		m.UnrealizedPnL = m.UnrealizedPnL.Add(UnrealizedPnL(pos, price))
	}

	wins, losses := 0, 0
	var winSum, lossSum decimal.Decimal
	for _, pos := range closed {
		m.RealizedPnL = m.RealizedPnL.Add(pos.RealizedPnL)
		switch {
		case pos.RealizedPnL.GreaterThan(decimal.Zero):
			wins++
			winSum = winSum.Add(pos.RealizedPnL)
		case pos.RealizedPnL.LessThan(decimal.Zero):
			losses++
			lossSum = lossSum.Add(pos.RealizedPnL)
		}
	}
	if len(closed) > 0 {
		m.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(closed)))).Mul(hundred)
	}
	if wins > 0 {
		m.AvgWin = winSum.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		m.AvgLoss = lossSum.Div(decimal.NewFromInt(int64(losses)))
	}

	m.TotalValue = pf.CashBalance.Add(m.MarginUsed).Add(m.UnrealizedPnL)
	if m.MarginUsed.GreaterThan(decimal.Zero) {
		level := m.TotalValue.Div(m.MarginUsed).Mul(hundred)
		m.MarginLevel = &level
		m.IsMarginWarning = level.LessThan(pf.Settings.MarginCallLevel)
		m.IsLiquidationRisk = level.LessThan(pf.Settings.LiquidationLevel)
	}
	return m, nil
}

// Snapshot captures the current aggregate state for historical charting.
func (a *Aggregator) Snapshot(ctx context.Context, pf model.Portfolio) (model.PortfolioSnapshot, error) {
	m, err := a.ForPortfolio(ctx, pf.ID, pf.UserID, nil)
	if err != nil {
		return model.PortfolioSnapshot{}, err
	}
	snap := model.PortfolioSnapshot{
		PortfolioID:   pf.ID,
		CashBalance:   m.CashBalance,
		MarginUsed:    m.MarginUsed,
		UnrealizedPnL: m.UnrealizedPnL,
		RealizedPnL:   m.RealizedPnL,
		TotalValue:    m.TotalValue,
		OpenPositions: m.OpenPositions,
	}
	if err := a.store.InsertSnapshot(ctx, snap); err != nil {
		return model.PortfolioSnapshot{}, err
	}
	return snap, nil
}
