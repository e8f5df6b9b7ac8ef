package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"papertrade/internal/ledgerstore"
	"papertrade/internal/model"
	"papertrade/internal/notify"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

var (
	minInitialCapital = decimal.NewFromInt(1000)
	maxInitialCapital = decimal.NewFromInt(10_000_000)
)

type ResetResult struct {
	Success         bool            `json:"success"`
	Error           string          `json:"error,omitempty"`
	Err             error           `json:"-"`
	ClosedPositions int             `json:"closed_positions"`
	CancelledOrders int             `json:"cancelled_orders"`
	NewBalance      decimal.Decimal `json:"new_balance"`
}

func resetFailure(err error) ResetResult {
	return ResetResult{Success: false, Error: err.Error(), Err: err}
}

// SetInitialCapital wipes the portfolio back to a fresh state with the new
// capital: every open position is force-closed, pending orders are
// cancelled, and a single capital_change transaction records the delta.
func (s *Service) SetInitialCapital(ctx context.Context, portfolioID, userID string, newCapital decimal.Decimal) ResetResult {
	if newCapital.LessThan(minInitialCapital) || newCapital.GreaterThan(maxInitialCapital) {
		return resetFailure(fmt.Errorf("%w: capital must be between %s and %s",
			ErrInvalidInput, minInitialCapital, maxInitialCapital))
	}
	return s.wipe(ctx, portfolioID, userID, &newCapital)
}

// ResetPortfolio restores the portfolio to its existing initial capital.
func (s *Service) ResetPortfolio(ctx context.Context, portfolioID, userID string) ResetResult {
	return s.wipe(ctx, portfolioID, userID, nil)
}

// wipe is the shared destructive path. Irreversible: closed positions are
// never reopened.
func (s *Service) wipe(ctx context.Context, portfolioID, userID string, newCapital *decimal.Decimal) ResetResult {
	var res ResetResult
	err := s.store.Tx(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		pf, err := tx.PortfolioForUpdate(ctx, portfolioID, userID)
		if err != nil {
			if errors.Is(err, ledgerstore.ErrNotFound) {
				return fmt.Errorf("%w: portfolio %s", ErrNotFound, portfolioID)
			}
			return err
		}

		txType := types.TransactionTypeReset
		reason := types.CloseReasonReset
		target := pf.InitialCapital
		if newCapital != nil {
			txType = types.TransactionTypeCapitalChange
			reason = types.CloseReasonCapitalChange
			target = *newCapital
		}

		open, err := tx.AllOpenPositionsForUpdate(ctx, portfolioID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, pos := range open {
			// Marked down at the last known mark, no exit fees: the cash
			// is reset to the target immediately after.
			exitValue := pos.Quantity.Mul(pos.CurrentPrice)
			entryValue := pos.Quantity.Mul(pos.EntryPrice)
			sideMult := decimal.NewFromInt(types.SideMultiplier(pos.Side))
			lev := decimal.NewFromInt(int64(pos.Leverage))
			realized := exitValue.Sub(entryValue).Mul(sideMult).Mul(lev)
			if err := tx.ClosePosition(ctx, pos.ID, pos.CurrentPrice, realized, reason, now); err != nil {
				return err
			}
		}

		cancelled, err := tx.CancelPendingOrders(ctx, portfolioID)
		if err != nil {
			return err
		}

		if newCapital != nil {
			if err := tx.UpdateInitialCapital(ctx, portfolioID, *newCapital); err != nil {
				return err
			}
		}
		delta := target.Sub(pf.CashBalance)
		balance, err := tx.ApplyCashDelta(ctx, portfolioID, delta)
		if err != nil {
			return err
		}

		txn := model.Transaction{
			PortfolioID:  portfolioID,
			UserID:       userID,
			Type:         txType,
			CashImpact:   delta,
			BalanceAfter: balance,
			Description: fmt.Sprintf("%s to %s: closed %d positions, cancelled %d orders",
				txType, target.StringFixed(2), len(open), cancelled),
		}
		if err := tx.InsertTransaction(ctx, &txn); err != nil {
			return err
		}

		res = ResetResult{
			Success:         true,
			ClosedPositions: len(open),
			CancelledOrders: cancelled,
			NewBalance:      balance,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ledgerstore.ErrConflict) {
			err = ErrConcurrencyConflict
		}
		s.log.Warn().Err(err).Str("portfolio", portfolioID).Msg("reset rejected")
		return resetFailure(err)
	}

	evtType := notify.EventPortfolioReset
	if newCapital != nil {
		evtType = notify.EventCapitalChanged
	}
	s.notifier.Publish(notify.Event{
		Type:        evtType,
		UserID:      userID,
		PortfolioID: portfolioID,
		Data:        res,
	})
	return res
}
