package engine

import (
	"context"
	"errors"
	"fmt"

	"papertrade/internal/ledgerstore"
	"papertrade/internal/model"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

type PendingOrderRequest struct {
	OrderRequest
	Type       types.OrderType  `json:"type"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice  *decimal.Decimal `json:"stop_price,omitempty"`
}

// PlacePendingOrder records a limit/stop/stop-limit order as pending. No
// cash moves until it fills; a portfolio reset cancels it.
func (s *Service) PlacePendingOrder(ctx context.Context, req PendingOrderRequest) ExecuteResult {
	if err := s.validateOrderRequest(req.OrderRequest); err != nil {
		return executeFailure(err)
	}
	switch req.Type {
	case types.OrderTypeLimit:
		if req.LimitPrice == nil || !req.LimitPrice.GreaterThan(decimal.Zero) {
			return executeFailure(fmt.Errorf("%w: limit price required", ErrInvalidInput))
		}
	case types.OrderTypeStop:
		if req.StopPrice == nil || !req.StopPrice.GreaterThan(decimal.Zero) {
			return executeFailure(fmt.Errorf("%w: stop price required", ErrInvalidInput))
		}
	case types.OrderTypeStopLimit:
		if req.LimitPrice == nil || req.StopPrice == nil {
			return executeFailure(fmt.Errorf("%w: limit and stop prices required", ErrInvalidInput))
		}
	default:
		return executeFailure(fmt.Errorf("%w: unsupported order type %q", ErrInvalidInput, req.Type))
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
		order := model.Order{
			PortfolioID:   pf.ID,
			UserID:        req.UserID,
			Symbol:        req.Symbol,
			ProductType:   req.ProductType,
			Type:          req.Type,
			Side:          req.Side,
			Quantity:      req.Quantity,
			LimitPrice:    req.LimitPrice,
			StopPrice:     req.StopPrice,
			Leverage:      req.Leverage,
			KnockoutLevel: req.KnockoutLevel,
			StopLoss:      req.StopLoss,
			TakeProfit:    req.TakeProfit,
			Status:        types.OrderStatusPending,
		}
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return err
		}
		res = ExecuteResult{Success: true, Order: &order, NewBalance: pf.CashBalance}
		return nil
	})
	if err != nil {
		if errors.Is(err, ledgerstore.ErrConflict) {
			err = ErrConcurrencyConflict
		}
		return executeFailure(err)
	}
	return res
}
