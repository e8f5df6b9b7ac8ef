package scheduler

import (
	"context"
	"time"

	"papertrade/internal/engine"
	"papertrade/internal/ledgerstore"
	"papertrade/internal/metrics"

	"github.com/rs/zerolog"
)

const jobTimeout = 5 * time.Minute

// OvernightJob charges carry fees on CFD positions held across the day
// boundary.
type OvernightJob struct {
	Engine *engine.Service
}

func (j OvernightJob) Name() string { return "overnight-fees" }

func (j OvernightJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	j.Engine.ProcessOvernightFees(ctx)
	return nil
}

// SnapshotJob records a point-in-time metrics snapshot for every active
// portfolio.
type SnapshotJob struct {
	Store      ledgerstore.Store
	Aggregator *metrics.Aggregator
	Log        zerolog.Logger
}

func (j SnapshotJob) Name() string { return "portfolio-snapshots" }

func (j SnapshotJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	portfolios, err := j.Store.ActivePortfolios(ctx)
	if err != nil {
		return err
	}
	for _, pf := range portfolios {
		if _, err := j.Aggregator.Snapshot(ctx, pf); err != nil {
			// One bad portfolio must not starve the rest.
			j.Log.Error().Err(err).Str("portfolio_id", pf.ID).Msg("snapshot failed")
		}
	}
	return nil
}
