package engine

import (
	"context"
	"fmt"
	"time"

	"papertrade/internal/ledgerstore"
	"papertrade/internal/model"
	"papertrade/internal/notify"
	"papertrade/internal/pricing"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

// startOfDay truncates t to midnight UTC; a position charged at or after this
// cutoff is not charged again today.
func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ProcessOvernightFees charges the daily carry fee on every eligible open
// position. Each position is its own atomic unit: one failing charge is
// logged and the batch continues. Idempotent per position per day.
func (s *Service) ProcessOvernightFees(ctx context.Context) {
	cutoff := startOfDay(time.Now())
	due, err := s.store.CarryPositionsDueSince(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("overnight batch: listing positions failed")
		return
	}
	if len(due) == 0 {
		return
	}

	charged, failed := 0, 0
	for _, pos := range due {
		if err := s.chargeOvernight(ctx, pos.ID, pos.UserID, cutoff); err != nil {
			failed++
			s.log.Error().Err(err).Str("position", pos.ID).Msg("overnight charge failed")
			continue
		}
		charged++
	}
	s.log.Info().Int("eligible", len(due)).Int("charged", charged).Int("failed", failed).Msg("overnight batch done")
}

func (s *Service) chargeOvernight(ctx context.Context, positionID, userID string, cutoff time.Time) error {
	var evt *notify.Event
	err := s.store.Tx(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		pos, err := tx.PositionForUpdate(ctx, positionID, userID)
		if err != nil {
			return err
		}
		// Re-check under lock: another run may have charged it already.
		if !pos.IsOpen || !pos.ProductType.CarriesOvernight() {
			return nil
		}
		if pos.LastOvernightAt != nil && !pos.LastOvernightAt.Before(cutoff) {
			return nil
		}
		pf, err := tx.PortfolioForUpdate(ctx, pos.PortfolioID, pos.UserID)
		if err != nil {
			return err
		}

		fee := pricing.OvernightFee(pos, pricing.ProfileByKey(pf.BrokerProfile))
		now := time.Now().UTC()
		if err := tx.ChargeOvernight(ctx, pos.ID, fee, now); err != nil {
			return err
		}
		if !fee.GreaterThan(decimal.Zero) {
			return nil
		}
		balance, err := tx.ApplyCashDelta(ctx, pf.ID, fee.Neg())
		if err != nil {
			return err
		}
		feeLog := model.FeeLog{
			PortfolioID: pf.ID,
			UserID:      pos.UserID,
			PositionID:  &pos.ID,
			Type:        types.FeeTypeOvernight,
			Amount:      fee,
			Symbol:      pos.Symbol,
		}
		if err := tx.InsertFeeLog(ctx, &feeLog); err != nil {
			return err
		}
		txn := model.Transaction{
			PortfolioID:  pf.ID,
			UserID:       pos.UserID,
			PositionID:   &pos.ID,
			Type:         types.TransactionTypeOvernightFee,
			Symbol:       pos.Symbol,
			Quantity:     pos.Quantity,
			Price:        pos.CurrentPrice,
			TotalFees:    fee,
			CashImpact:   fee.Neg(),
			BalanceAfter: balance,
			Description:  fmt.Sprintf("overnight fee %s %s", pos.Symbol, fee.StringFixed(4)),
		}
		if err := tx.InsertTransaction(ctx, &txn); err != nil {
			return err
		}
		evt = &notify.Event{
			Type:        notify.EventOvernightFee,
			UserID:      pos.UserID,
			PortfolioID: pf.ID,
			Data:        map[string]string{"position_id": pos.ID, "fee": fee.String()},
		}
		return nil
	})
	if err != nil {
		return err
	}
	if evt != nil {
		s.notifier.Publish(*evt)
	}
	return nil
}
