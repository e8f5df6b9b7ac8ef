package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"papertrade/internal/ledgerstore"
	"papertrade/internal/model"
	"papertrade/internal/notify"
	"papertrade/internal/pricing"
	"papertrade/internal/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Service orchestrates ledger operations. Every public method runs as one
// atomic unit of work against the store and returns a result instead of an
// error: callers always get a {success, error}-shaped payload.
type Service struct {
	store    ledgerstore.Store
	notifier notify.Notifier
	log      zerolog.Logger
}

func NewService(store ledgerstore.Store, notifier notify.Notifier, log zerolog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{
		store:    store,
		notifier: notifier,
		log:      log.With().Str("component", "engine").Logger(),
	}
}

type OrderRequest struct {
	UserID        string            `json:"user_id"`
	PortfolioID   string            `json:"portfolio_id"`
	Symbol        string            `json:"symbol"`
	Side          types.OrderSide   `json:"side"`
	Quantity      decimal.Decimal   `json:"quantity"`
	CurrentPrice  decimal.Decimal   `json:"current_price"`
	ProductType   types.ProductType `json:"product_type"`
	Leverage      int               `json:"leverage"`
	StopLoss      *decimal.Decimal  `json:"stop_loss,omitempty"`
	TakeProfit    *decimal.Decimal  `json:"take_profit,omitempty"`
	KnockoutLevel *decimal.Decimal  `json:"knockout_level,omitempty"`
}

// ExecuteResult is the full success payload of a market order, or a
// structured failure.
type ExecuteResult struct {
	Success     bool             `json:"success"`
	Error       string           `json:"error,omitempty"`
	Err         error            `json:"-"`
	Order       *model.Order     `json:"order,omitempty"`
	Position    *model.Position  `json:"position,omitempty"`
	Fees        *pricing.Fees    `json:"fees,omitempty"`
	CashImpact  decimal.Decimal  `json:"cash_impact"`
	RealizedPnL decimal.Decimal  `json:"realized_pnl"`
	NewBalance  decimal.Decimal  `json:"new_balance"`
}

func executeFailure(err error) ExecuteResult {
	return ExecuteResult{Success: false, Error: err.Error(), Err: err}
}

func (s *Service) validateOrderRequest(req OrderRequest) error {
	if req.UserID == "" || req.PortfolioID == "" || req.Symbol == "" {
		return fmt.Errorf("%w: missing user, portfolio or symbol", ErrInvalidInput)
	}
	if req.Side != types.OrderSideBuy && req.Side != types.OrderSideSell {
		return fmt.Errorf("%w: invalid side %q", ErrInvalidInput, req.Side)
	}
	if !req.ProductType.Valid() {
		return fmt.Errorf("%w: invalid product type %q", ErrInvalidInput, req.ProductType)
	}
	if !req.Quantity.GreaterThan(decimal.Zero) {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if !req.CurrentPrice.GreaterThan(decimal.Zero) {
		return fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	if req.Leverage < 0 {
		return fmt.Errorf("%w: leverage must be at least 1", ErrInvalidInput)
	}
	if req.ProductType == types.ProductTypeStock && req.Leverage > 1 {
		return fmt.Errorf("%w: stock orders cannot be leveraged", ErrInvalidInput)
	}
	return nil
}

// ExecuteMarketOrder fills a market order at the effective price in one
// atomic unit: order row, position effect, cash move, transaction row and
// fee logs commit together or not at all.
func (s *Service) ExecuteMarketOrder(ctx context.Context, req OrderRequest) ExecuteResult {
	if err := s.validateOrderRequest(req); err != nil {
		return executeFailure(err)
	}
	if req.Leverage < 1 {
		req.Leverage = 1
	}

	var res ExecuteResult
	err := s.store.Tx(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		pf, err := tx.PortfolioForUpdate(ctx, req.PortfolioID, req.UserID)
		if err != nil {
			if errors.Is(err, ledgerstore.ErrNotFound) {
				return fmt.Errorf("%w: portfolio %s", ErrNotFound, req.PortfolioID)
			}
			return err
		}
		if req.Leverage > pf.Settings.MaxLeverage {
			return fmt.Errorf("%w: leverage %d exceeds portfolio maximum %d", ErrInvalidInput, req.Leverage, pf.Settings.MaxLeverage)
		}

		profile := pricing.ProfileByKey(pf.BrokerProfile)
		fees := pricing.Calculate(req.ProductType, req.Side, req.Quantity, req.CurrentPrice, req.Leverage, profile)

		closing := req.Side == types.OrderSideSell && !req.ProductType.SupportsShort()
		if closing {
			return s.fillClosingSell(ctx, tx, pf, req, fees, &res)
		}
		return s.fillOpening(ctx, tx, pf, req, fees, &res)
	})
	if err != nil {
		if errors.Is(err, ledgerstore.ErrConflict) {
			err = ErrConcurrencyConflict
		}
		s.log.Warn().Err(err).Str("portfolio", req.PortfolioID).Str("symbol", req.Symbol).Msg("market order rejected")
		return executeFailure(err)
	}

	evt := notify.Event{
		Type:        notify.EventTradeExecuted,
		UserID:      req.UserID,
		PortfolioID: req.PortfolioID,
		Data:        res,
	}
	s.notifier.Publish(evt)
	return res
}

func (s *Service) fillOpening(ctx context.Context, tx ledgerstore.Tx, pf model.Portfolio, req OrderRequest, fees pricing.Fees, res *ExecuteResult) error {
	required := fees.MarginRequired.Add(fees.TotalFees)
	if pf.CashBalance.LessThan(required) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, required.StringFixed(2), pf.CashBalance.StringFixed(2))
	}

	now := time.Now().UTC()
	filled := fees.EffectivePrice
	order := model.Order{
		PortfolioID:   pf.ID,
		UserID:        req.UserID,
		Symbol:        req.Symbol,
		ProductType:   req.ProductType,
		Type:          types.OrderTypeMarket,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Leverage:      req.Leverage,
		KnockoutLevel: req.KnockoutLevel,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
		Commission:    fees.Commission,
		SpreadCost:    fees.SpreadCost,
		TotalFees:     fees.TotalFees,
		Status:        types.OrderStatusFilled,
		FilledPrice:   &filled,
		FilledAt:      &now,
	}
	if err := tx.InsertOrder(ctx, &order); err != nil {
		return err
	}

	position := model.Position{
		PortfolioID:      pf.ID,
		UserID:           req.UserID,
		Symbol:           req.Symbol,
		ProductType:      req.ProductType,
		Side:             req.Side,
		Quantity:         req.Quantity,
		EntryPrice:       fees.EffectivePrice,
		CurrentPrice:     fees.EffectivePrice,
		Leverage:         req.Leverage,
		MarginUsed:       fees.MarginRequired,
		LiquidationPrice: pricing.LiquidationPrice(fees.EffectivePrice, req.Leverage, req.Side),
		KnockoutLevel:    req.KnockoutLevel,
		StopLoss:         req.StopLoss,
		TakeProfit:       req.TakeProfit,
		TotalFees:        fees.TotalFees,
		IsOpen:           true,
	}
	if err := tx.InsertPosition(ctx, &position); err != nil {
		return err
	}
	if err := tx.LinkOrderPosition(ctx, order.ID, position.ID); err != nil {
		return err
	}
	order.PositionID = &position.ID

	cashImpact := fees.MarginRequired.Add(fees.TotalFees).Neg()
	balance, err := tx.ApplyCashDelta(ctx, pf.ID, cashImpact)
	if err != nil {
		return err
	}

	txType := types.TransactionTypeBuy
	if req.Side == types.OrderSideSell {
		txType = types.TransactionTypeSell
	}
	txn := model.Transaction{
		PortfolioID:  pf.ID,
		UserID:       req.UserID,
		PositionID:   &position.ID,
		OrderID:      &order.ID,
		Type:         txType,
		Symbol:       req.Symbol,
		Quantity:     req.Quantity,
		Price:        fees.EffectivePrice,
		Notional:     fees.NotionalValue,
		Commission:   fees.Commission,
		SpreadCost:   fees.SpreadCost,
		TotalFees:    fees.TotalFees,
		CashImpact:   cashImpact,
		BalanceAfter: balance,
		Description:  fmt.Sprintf("%s %s %s %s @ %s", txType, req.Quantity, req.Symbol, req.ProductType, fees.EffectivePrice.StringFixed(4)),
	}
	if err := tx.InsertTransaction(ctx, &txn); err != nil {
		return err
	}
	if err := s.logFees(ctx, tx, pf, fees, &position.ID, &order.ID, req.Symbol); err != nil {
		return err
	}

	*res = ExecuteResult{
		Success:    true,
		Order:      &order,
		Position:   &position,
		Fees:       &fees,
		CashImpact: cashImpact,
		NewBalance: balance,
	}
	return nil
}

func (s *Service) fillClosingSell(ctx context.Context, tx ledgerstore.Tx, pf model.Portfolio, req OrderRequest, fees pricing.Fees, res *ExecuteResult) error {
	lots, err := tx.OpenLotsForUpdate(ctx, pf.ID, req.Symbol, req.ProductType, types.OrderSideBuy)
	if err != nil {
		return err
	}
	if len(lots) == 0 {
		return fmt.Errorf("%w: no open %s position in %s", ErrInsufficientShares, req.ProductType, req.Symbol)
	}
	held := decimal.Zero
	for _, l := range lots {
		held = held.Add(l.Quantity)
	}
	if req.Quantity.GreaterThan(held) {
		return fmt.Errorf("%w: holding %s, sell requested %s", ErrInsufficientShares, held, req.Quantity)
	}
	// FIFO: only the oldest lot is affected, never netted across lots.
	lot := lots[0]
	if pf.CashBalance.LessThan(fees.TotalFees) {
		return fmt.Errorf("%w: need %s for fees, have %s", ErrInsufficientFunds, fees.TotalFees.StringFixed(2), pf.CashBalance.StringFixed(2))
	}

	now := time.Now().UTC()
	filled := fees.EffectivePrice
	order := model.Order{
		PortfolioID: pf.ID,
		UserID:      req.UserID,
		Symbol:      req.Symbol,
		ProductType: req.ProductType,
		Type:        types.OrderTypeMarket,
		Side:        req.Side,
		Quantity:    req.Quantity,
		Leverage:    lot.Leverage,
		Commission:  fees.Commission,
		SpreadCost:  fees.SpreadCost,
		TotalFees:   fees.TotalFees,
		Status:      types.OrderStatusFilled,
		PositionID:  &lot.ID,
		FilledPrice: &filled,
		FilledAt:    &now,
	}
	if err := tx.InsertOrder(ctx, &order); err != nil {
		return err
	}

	var cashImpact, realized decimal.Decimal
	if req.Quantity.GreaterThanOrEqual(lot.Quantity) {
		// Full close of the oldest lot.
		exitValue := lot.Quantity.Mul(fees.EffectivePrice)
		entryValue := lot.Quantity.Mul(lot.EntryPrice)
		realized = exitValue.Sub(entryValue).Mul(decimal.NewFromInt(int64(lot.Leverage))).Sub(fees.TotalFees)
		cashImpact = exitValue.Sub(fees.TotalFees)
		if err := tx.ClosePosition(ctx, lot.ID, fees.EffectivePrice, realized, types.CloseReasonManual, now); err != nil {
			return err
		}
		lot.IsOpen = false
		lot.ClosedAt = &now
		lot.ClosePrice = &filled
		lot.CloseReason = types.CloseReasonManual
		lot.RealizedPnL = realized
	} else {
		// Partial close: quantity shrinks, fees accumulate, no realized
		// P&L event.
		exitValue := req.Quantity.Mul(fees.EffectivePrice)
		cashImpact = exitValue.Sub(fees.TotalFees)
		newQty := lot.Quantity.Sub(req.Quantity)
		if err := tx.ReducePosition(ctx, lot.ID, newQty, fees.TotalFees); err != nil {
			return err
		}
		lot.Quantity = newQty
		lot.TotalFees = lot.TotalFees.Add(fees.TotalFees)
	}

	balance, err := tx.ApplyCashDelta(ctx, pf.ID, cashImpact)
	if err != nil {
		return err
	}

	txType := types.TransactionTypeSell
	if !lot.IsOpen {
		txType = types.TransactionTypeClose
	}
	txn := model.Transaction{
		PortfolioID:  pf.ID,
		UserID:       req.UserID,
		PositionID:   &lot.ID,
		OrderID:      &order.ID,
		Type:         txType,
		Symbol:       req.Symbol,
		Quantity:     req.Quantity,
		Price:        fees.EffectivePrice,
		Notional:     fees.NotionalValue,
		Commission:   fees.Commission,
		SpreadCost:   fees.SpreadCost,
		TotalFees:    fees.TotalFees,
		RealizedPnL:  realized,
		CashImpact:   cashImpact,
		BalanceAfter: balance,
		Description:  fmt.Sprintf("sell %s %s %s @ %s", req.Quantity, req.Symbol, req.ProductType, fees.EffectivePrice.StringFixed(4)),
	}
	if err := tx.InsertTransaction(ctx, &txn); err != nil {
		return err
	}
	if err := s.logFees(ctx, tx, pf, fees, &lot.ID, &order.ID, req.Symbol); err != nil {
		return err
	}

	*res = ExecuteResult{
		Success:     true,
		Order:       &order,
		Position:    &lot,
		Fees:        &fees,
		CashImpact:  cashImpact,
		RealizedPnL: realized,
		NewBalance:  balance,
	}
	return nil
}

// logFees appends one fee log row per nonzero fee component.
func (s *Service) logFees(ctx context.Context, tx ledgerstore.Tx, pf model.Portfolio, fees pricing.Fees, positionID, orderID *string, symbol string) error {
	if fees.Commission.GreaterThan(decimal.Zero) {
		f := model.FeeLog{
			PortfolioID: pf.ID,
			UserID:      pf.UserID,
			PositionID:  positionID,
			OrderID:     orderID,
			Type:        types.FeeTypeCommission,
			Amount:      fees.Commission,
			Symbol:      symbol,
		}
		if err := tx.InsertFeeLog(ctx, &f); err != nil {
			return err
		}
	}
	if fees.SpreadCost.GreaterThan(decimal.Zero) {
		f := model.FeeLog{
			PortfolioID: pf.ID,
			UserID:      pf.UserID,
			PositionID:  positionID,
			OrderID:     orderID,
			Type:        types.FeeTypeSpread,
			Amount:      fees.SpreadCost,
			Symbol:      symbol,
		}
		if err := tx.InsertFeeLog(ctx, &f); err != nil {
			return err
		}
	}
	return nil
}
