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

	"github.com/shopspring/decimal"
)

type CloseResult struct {
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
	Err         error           `json:"-"`
	Position    *model.Position `json:"position,omitempty"`
	Fees        *pricing.Fees   `json:"fees,omitempty"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	CashImpact  decimal.Decimal `json:"cash_impact"`
	NewBalance  decimal.Decimal `json:"new_balance"`
}

func closeFailure(err error) CloseResult {
	return CloseResult{Success: false, Error: err.Error(), Err: err}
}

func oppositeSide(side types.OrderSide) types.OrderSide {
	if side == types.OrderSideBuy {
		return types.OrderSideSell
	}
	return types.OrderSideBuy
}

// closeEconomics is the shared lot-close math used by the explicit close and
// the reset paths: realized P&L is the leveraged move from entry to exit net
// of the closing fees, and the cash returned is the posted margin plus that
// P&L.
func closeEconomics(pos model.Position, exitPrice decimal.Decimal, closeFees pricing.Fees) (realized, cashImpact decimal.Decimal) {
	exitValue := pos.Quantity.Mul(exitPrice)
	entryValue := pos.Quantity.Mul(pos.EntryPrice)
	sideMult := decimal.NewFromInt(types.SideMultiplier(pos.Side))
	lev := decimal.NewFromInt(int64(pos.Leverage))
	realized = exitValue.Sub(entryValue).Mul(sideMult).Mul(lev).Sub(closeFees.TotalFees)
	cashImpact = pos.MarginUsed.Add(realized)
	return realized, cashImpact
}

// ClosePosition closes one open position at the supplied mark price.
func (s *Service) ClosePosition(ctx context.Context, positionID, userID string, currentPrice decimal.Decimal, reason types.CloseReason) CloseResult {
	if positionID == "" || userID == "" {
		return closeFailure(fmt.Errorf("%w: missing position or user", ErrInvalidInput))
	}
	if !currentPrice.GreaterThan(decimal.Zero) {
		return closeFailure(fmt.Errorf("%w: price must be positive", ErrInvalidInput))
	}
	if reason == "" {
		reason = types.CloseReasonManual
	}

	var res CloseResult
	err := s.store.Tx(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		pos, err := tx.PositionForUpdate(ctx, positionID, userID)
		if err != nil {
			if errors.Is(err, ledgerstore.ErrNotFound) {
				return fmt.Errorf("%w: position %s", ErrNotFound, positionID)
			}
			return err
		}
		if !pos.IsOpen {
			return fmt.Errorf("%w: position already closed", ErrInvalidInput)
		}
		pf, err := tx.PortfolioForUpdate(ctx, pos.PortfolioID, userID)
		if err != nil {
			if errors.Is(err, ledgerstore.ErrNotFound) {
				return fmt.Errorf("%w: portfolio %s", ErrNotFound, pos.PortfolioID)
			}
			return err
		}

		profile := pricing.ProfileByKey(pf.BrokerProfile)
		fees := pricing.Calculate(pos.ProductType, oppositeSide(pos.Side), pos.Quantity, currentPrice, pos.Leverage, profile)
		realized, cashImpact := closeEconomics(pos, fees.EffectivePrice, fees)

		now := time.Now().UTC()
		if err := tx.ClosePosition(ctx, pos.ID, fees.EffectivePrice, realized, reason, now); err != nil {
			return err
		}
		balance, err := tx.ApplyCashDelta(ctx, pf.ID, cashImpact)
		if err != nil {
			return err
		}
		txn := model.Transaction{
			PortfolioID:  pf.ID,
			UserID:       userID,
			PositionID:   &pos.ID,
			Type:         types.TransactionTypeClose,
			Symbol:       pos.Symbol,
			Quantity:     pos.Quantity,
			Price:        fees.EffectivePrice,
			Notional:     fees.NotionalValue,
			Commission:   fees.Commission,
			SpreadCost:   fees.SpreadCost,
			TotalFees:    fees.TotalFees,
			RealizedPnL:  realized,
			CashImpact:   cashImpact,
			BalanceAfter: balance,
			Description:  fmt.Sprintf("close %s %s %s @ %s (%s)", pos.Quantity, pos.Symbol, pos.ProductType, fees.EffectivePrice.StringFixed(4), reason),
		}
		if err := tx.InsertTransaction(ctx, &txn); err != nil {
			return err
		}
		if err := s.logFees(ctx, tx, pf, fees, &pos.ID, nil, pos.Symbol); err != nil {
			return err
		}

		closePrice := fees.EffectivePrice
		pos.IsOpen = false
		pos.ClosedAt = &now
		pos.ClosePrice = &closePrice
		pos.CloseReason = reason
		pos.RealizedPnL = realized
		pos.CurrentPrice = closePrice

		res = CloseResult{
			Success:     true,
			Position:    &pos,
			Fees:        &fees,
			RealizedPnL: realized,
			CashImpact:  cashImpact,
			NewBalance:  balance,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ledgerstore.ErrConflict) {
			err = ErrConcurrencyConflict
		}
		s.log.Warn().Err(err).Str("position", positionID).Msg("close rejected")
		return closeFailure(err)
	}

	s.notifier.Publish(notify.Event{
		Type:        notify.EventPositionClosed,
		UserID:      userID,
		PortfolioID: res.Position.PortfolioID,
		Data:        res,
	})
	return res
}
