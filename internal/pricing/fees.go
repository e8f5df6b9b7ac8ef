package pricing

import (
	"papertrade/internal/model"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Fees is the full economics of one fill. EffectivePrice is the actual fill
// price used everywhere downstream; the raw quoted price is never persisted.
type Fees struct {
	Commission     decimal.Decimal `json:"commission"`
	SpreadCost     decimal.Decimal `json:"spread_cost"`
	TotalFees      decimal.Decimal `json:"total_fees"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
	BreakEvenMove  decimal.Decimal `json:"break_even_move"`
	MarginRequired decimal.Decimal `json:"margin_required"`
	NotionalValue  decimal.Decimal `json:"notional_value"`
	LeveragedValue decimal.Decimal `json:"leveraged_value"`
}

// Calculate prices one order. Pure: inputs are never mutated, identical
// inputs always produce identical outputs. Quantity and price validation is
// the caller's job; this only computes.
func Calculate(productType types.ProductType, side types.OrderSide, quantity, price decimal.Decimal, leverage int, profile Profile) Fees {
	if leverage < 1 {
		leverage = 1
	}
	lev := decimal.NewFromInt(int64(leverage))

	notional := quantity.Mul(price)
	leveraged := notional.Mul(lev)

	commission := commissionFor(notional, profile)
	spreadCost := notional.Mul(profile.SpreadPercent).Div(hundred)
	totalFees := commission.Add(spreadCost)

	// Half the spread moves the fill against the taker on either side.
	halfSpread := price.Mul(profile.SpreadPercent).Div(hundred).Div(decimal.NewFromInt(2))
	effectivePrice := price.Add(halfSpread)
	if side == types.OrderSideSell {
		effectivePrice = price.Sub(halfSpread)
	}

	var breakEven decimal.Decimal
	if notional.GreaterThan(decimal.Zero) {
		// Doubled: a round trip pays the fees twice.
		breakEven = totalFees.Mul(decimal.NewFromInt(2)).Div(notional).Mul(hundred)
	}

	// Leverage scales exposure, not posted margin: leveraged/leverage folds
	// back to notional. Observed legacy behavior, kept deliberately.
	marginRequired := notional
	if productType != types.ProductTypeStock || leverage > 1 {
		marginRequired = leveraged.Div(lev)
	}

	return Fees{
		Commission:     commission,
		SpreadCost:     spreadCost,
		TotalFees:      totalFees,
		EffectivePrice: effectivePrice,
		BreakEvenMove:  breakEven,
		MarginRequired: marginRequired,
		NotionalValue:  notional,
		LeveragedValue: leveraged,
	}
}

func commissionFor(notional decimal.Decimal, profile Profile) decimal.Decimal {
	switch profile.CommissionModel {
	case types.CommissionModelFlat:
		return profile.FlatFee
	case types.CommissionModelPercentage:
		return clamp(notional.Mul(profile.PercentRate).Div(hundred), profile.MinimumFee, profile.MaximumFee)
	case types.CommissionModelMixed:
		c := profile.FlatFee.Add(notional.Mul(profile.PercentRate).Div(hundred))
		return clamp(c, profile.MinimumFee, profile.MaximumFee)
	default:
		return profile.FlatFee
	}
}

func clamp(v, min, max decimal.Decimal) decimal.Decimal {
	if min.GreaterThan(decimal.Zero) && v.LessThan(min) {
		return min
	}
	if max.GreaterThan(decimal.Zero) && v.GreaterThan(max) {
		return max
	}
	return v
}

// OvernightFee is the daily carry cost of holding position at its current
// mark price. Non-carry products (stock, knockout, factor) pay nothing.
func OvernightFee(position model.Position, profile Profile) decimal.Decimal {
	if !position.ProductType.CarriesOvernight() {
		return decimal.Zero
	}
	rate := profile.OvernightLongRate
	if position.Side == types.OrderSideSell {
		rate = profile.OvernightShortRate
	}
	lev := decimal.NewFromInt(int64(position.Leverage))
	if position.Leverage < 1 {
		lev = decimal.NewFromInt(1)
	}
	exposure := position.Quantity.Mul(position.CurrentPrice).Mul(lev)
	return exposure.Mul(rate).Div(hundred)
}

// LiquidationPrice is the price at which a leveraged position's loss consumes
// its entire posted margin. Nil for unleveraged positions.
func LiquidationPrice(entryPrice decimal.Decimal, leverage int, side types.OrderSide) *decimal.Decimal {
	if leverage <= 1 {
		return nil
	}
	move := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(leverage)))
	factor := decimal.NewFromInt(1).Sub(move)
	if side == types.OrderSideSell {
		factor = decimal.NewFromInt(1).Add(move)
	}
	price := entryPrice.Mul(factor)
	return &price
}
