package types

type ProductType string

type OrderSide string

type OrderType string

type OrderStatus string

type TransactionType string

type FeeType string

type CloseReason string

type CommissionModel string

const (
	ProductTypeStock    ProductType = "stock"
	ProductTypeCFD      ProductType = "cfd"
	ProductTypeKnockout ProductType = "knockout"
	ProductTypeFactor   ProductType = "factor"
)

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

const (
	TransactionTypeBuy           TransactionType = "buy"
	TransactionTypeSell          TransactionType = "sell"
	TransactionTypeClose         TransactionType = "close"
	TransactionTypeOvernightFee  TransactionType = "overnight_fee"
	TransactionTypeCapitalChange TransactionType = "capital_change"
	TransactionTypeReset         TransactionType = "reset"
)

const (
	FeeTypeCommission FeeType = "commission"
	FeeTypeSpread     FeeType = "spread"
	FeeTypeOvernight  FeeType = "overnight"
)

const (
	CloseReasonManual        CloseReason = "manual"
	CloseReasonStopLoss      CloseReason = "stop_loss"
	CloseReasonTakeProfit    CloseReason = "take_profit"
	CloseReasonKnockout      CloseReason = "knockout"
	CloseReasonCapitalChange CloseReason = "capital_change"
	CloseReasonReset         CloseReason = "reset"
)

const (
	CommissionModelFlat       CommissionModel = "flat"
	CommissionModelPercentage CommissionModel = "percentage"
	CommissionModelMixed      CommissionModel = "mixed"
)

// SideMultiplier maps a position side to its P&L sign: +1 for long, -1 for short.
func SideMultiplier(side OrderSide) int64 {
	if side == OrderSideSell {
		return -1
	}
	return 1
}

// SupportsShort reports whether a product can be sold to open a short position.
// Spot stock can only be sold against an existing long.
func (p ProductType) SupportsShort() bool {
	return p == ProductTypeCFD || p == ProductTypeKnockout || p == ProductTypeFactor
}

// CarriesOvernight reports whether holding the product past end-of-day
// accrues a daily carry fee.
func (p ProductType) CarriesOvernight() bool {
	return p == ProductTypeCFD
}

func (p ProductType) Valid() bool {
	switch p {
	case ProductTypeStock, ProductTypeCFD, ProductTypeKnockout, ProductTypeFactor:
		return true
	}
	return false
}
