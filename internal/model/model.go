package model

import (
	"time"

	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

// Portfolio owns the cash balance, the single source of truth for available
// liquidity. Every mutation that moves cash appends a matching Transaction
// whose BalanceAfter reconciles with the new balance.
type Portfolio struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Name           string            `json:"name"`
	InitialCapital decimal.Decimal   `json:"initial_capital"`
	CashBalance    decimal.Decimal   `json:"cash_balance"`
	Currency       string            `json:"currency"`
	BrokerProfile  string            `json:"broker_profile"`
	Settings       PortfolioSettings `json:"settings"`
	IsActive       bool              `json:"is_active"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// PortfolioSettings is the typed replacement for the legacy free-form
// settings blob. Unknown keys are rejected at the HTTP boundary.
type PortfolioSettings struct {
	MarginCallLevel    decimal.Decimal `json:"margin_call_level"`
	LiquidationLevel   decimal.Decimal `json:"liquidation_level"`
	MaxPositionPercent decimal.Decimal `json:"max_position_percent"`
	MaxLeverage        int             `json:"max_leverage"`
}

func DefaultSettings() PortfolioSettings {
	return PortfolioSettings{
		MarginCallLevel:    decimal.NewFromInt(150),
		LiquidationLevel:   decimal.NewFromInt(100),
		MaxPositionPercent: decimal.NewFromInt(100),
		MaxLeverage:        30,
	}
}

type Position struct {
	ID               string            `json:"id"`
	PortfolioID      string            `json:"portfolio_id"`
	UserID           string            `json:"user_id"`
	Symbol           string            `json:"symbol"`
	ProductType      types.ProductType `json:"product_type"`
	Side             types.OrderSide   `json:"side"`
	Quantity         decimal.Decimal   `json:"quantity"`
	EntryPrice       decimal.Decimal   `json:"entry_price"`
	CurrentPrice     decimal.Decimal   `json:"current_price"`
	Leverage         int               `json:"leverage"`
	MarginUsed       decimal.Decimal   `json:"margin_used"`
	LiquidationPrice *decimal.Decimal  `json:"liquidation_price,omitempty"`
	KnockoutLevel    *decimal.Decimal  `json:"knockout_level,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	StopLoss         *decimal.Decimal  `json:"stop_loss,omitempty"`
	TakeProfit       *decimal.Decimal  `json:"take_profit,omitempty"`
	TotalFees        decimal.Decimal   `json:"total_fees"`
	OvernightFees    decimal.Decimal   `json:"overnight_fees"`
	DaysHeld         int               `json:"days_held"`
	LastOvernightAt  *time.Time        `json:"last_overnight_at,omitempty"`
	IsOpen           bool              `json:"is_open"`
	OpenedAt         time.Time         `json:"opened_at"`
	ClosedAt         *time.Time        `json:"closed_at,omitempty"`
	ClosePrice       *decimal.Decimal  `json:"close_price,omitempty"`
	CloseReason      types.CloseReason `json:"close_reason,omitempty"`
	RealizedPnL      decimal.Decimal   `json:"realized_pnl"`
}

type Order struct {
	ID            string            `json:"id"`
	PortfolioID   string            `json:"portfolio_id"`
	UserID        string            `json:"user_id"`
	Symbol        string            `json:"symbol"`
	ProductType   types.ProductType `json:"product_type"`
	Type          types.OrderType   `json:"type"`
	Side          types.OrderSide   `json:"side"`
	Quantity      decimal.Decimal   `json:"quantity"`
	LimitPrice    *decimal.Decimal  `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal  `json:"stop_price,omitempty"`
	Leverage      int               `json:"leverage"`
	KnockoutLevel *decimal.Decimal  `json:"knockout_level,omitempty"`
	StopLoss      *decimal.Decimal  `json:"stop_loss,omitempty"`
	TakeProfit    *decimal.Decimal  `json:"take_profit,omitempty"`
	Commission    decimal.Decimal   `json:"commission"`
	SpreadCost    decimal.Decimal   `json:"spread_cost"`
	TotalFees     decimal.Decimal   `json:"total_fees"`
	Status        types.OrderStatus `json:"status"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	PositionID    *string           `json:"position_id,omitempty"`
	FilledPrice   *decimal.Decimal  `json:"filled_price,omitempty"`
	FilledAt      *time.Time        `json:"filled_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Transaction rows are append-only. For a given portfolio, ordered by time,
// BalanceAfter values form the cash audit trail.
type Transaction struct {
	ID           string                `json:"id"`
	PortfolioID  string                `json:"portfolio_id"`
	UserID       string                `json:"user_id"`
	PositionID   *string               `json:"position_id,omitempty"`
	OrderID      *string               `json:"order_id,omitempty"`
	Type         types.TransactionType `json:"type"`
	Symbol       string                `json:"symbol,omitempty"`
	Quantity     decimal.Decimal       `json:"quantity"`
	Price        decimal.Decimal       `json:"price"`
	Notional     decimal.Decimal       `json:"notional"`
	Commission   decimal.Decimal       `json:"commission"`
	SpreadCost   decimal.Decimal       `json:"spread_cost"`
	TotalFees    decimal.Decimal       `json:"total_fees"`
	RealizedPnL  decimal.Decimal       `json:"realized_pnl"`
	CashImpact   decimal.Decimal       `json:"cash_impact"`
	BalanceAfter decimal.Decimal       `json:"balance_after"`
	Description  string                `json:"description"`
	CreatedAt    time.Time             `json:"created_at"`
}

type FeeLog struct {
	ID          string          `json:"id"`
	PortfolioID string          `json:"portfolio_id"`
	UserID      string          `json:"user_id"`
	PositionID  *string         `json:"position_id,omitempty"`
	OrderID     *string         `json:"order_id,omitempty"`
	Type        types.FeeType   `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Symbol      string          `json:"symbol,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type PortfolioSnapshot struct {
	ID            string          `json:"id"`
	PortfolioID   string          `json:"portfolio_id"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	MarginUsed    decimal.Decimal `json:"margin_used"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	TotalValue    decimal.Decimal `json:"total_value"`
	OpenPositions int             `json:"open_positions"`
	CreatedAt     time.Time       `json:"created_at"`
}
