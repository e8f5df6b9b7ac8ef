package ledgerstore

import (
	"context"
	"errors"
	"time"

	"papertrade/internal/model"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a portfolio or position does not exist or is
// not owned by the caller.
var ErrNotFound = errors.New("not found")

// Store is the durable ledger. It holds no business logic: CRUD plus the
// ability to run a closure as one atomic unit of work.
type Store interface {
	// Tx runs fn inside a single transaction. fn returning an error rolls
	// the whole unit back; nil commits it.
	Tx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// GetOrCreatePortfolio resolves the portfolio for (userID, name),
	// creating it with the given capital and broker profile on first access.
	GetOrCreatePortfolio(ctx context.Context, userID, name string, initialCapital decimal.Decimal, brokerProfile string) (model.Portfolio, error)
	GetPortfolio(ctx context.Context, portfolioID, userID string) (model.Portfolio, error)
	ListPortfolios(ctx context.Context, userID string) ([]model.Portfolio, error)
	ActivePortfolios(ctx context.Context) ([]model.Portfolio, error)

	OpenPositions(ctx context.Context, portfolioID string) ([]model.Position, error)
	ClosedPositions(ctx context.Context, portfolioID string) ([]model.Position, error)
	// CarryPositionsDueSince lists open carry-eligible positions whose last
	// overnight charge is older than cutoff (or never charged).
	CarryPositionsDueSince(ctx context.Context, cutoff time.Time) ([]model.Position, error)

	Transactions(ctx context.Context, portfolioID string, limit int) ([]model.Transaction, error)
	FeeTotals(ctx context.Context, portfolioID string) (map[types.FeeType]decimal.Decimal, error)
	FeeLogs(ctx context.Context, portfolioID string, limit int) ([]model.FeeLog, error)
	PendingOrders(ctx context.Context, portfolioID string) ([]model.Order, error)

	InsertSnapshot(ctx context.Context, snap model.PortfolioSnapshot) error
	Snapshots(ctx context.Context, portfolioID string, limit int) ([]model.PortfolioSnapshot, error)
}

// Tx is the transactional handle handed to a unit of work. Row-returning
// reads lock the rows they return for the duration of the transaction.
type Tx interface {
	PortfolioForUpdate(ctx context.Context, portfolioID, userID string) (model.Portfolio, error)
	PositionForUpdate(ctx context.Context, positionID, userID string) (model.Position, error)
	// OpenLotsForUpdate returns the open positions matching the key ordered
	// oldest-opened first, the shared FIFO lot selection.
	OpenLotsForUpdate(ctx context.Context, portfolioID, symbol string, productType types.ProductType, side types.OrderSide) ([]model.Position, error)
	AllOpenPositionsForUpdate(ctx context.Context, portfolioID string) ([]model.Position, error)

	InsertOrder(ctx context.Context, o *model.Order) error
	LinkOrderPosition(ctx context.Context, orderID, positionID string) error
	CancelPendingOrders(ctx context.Context, portfolioID string) (int, error)

	InsertPosition(ctx context.Context, p *model.Position) error
	ReducePosition(ctx context.Context, positionID string, newQuantity, addedFees decimal.Decimal) error
	ClosePosition(ctx context.Context, positionID string, closePrice, realizedPnL decimal.Decimal, reason types.CloseReason, closedAt time.Time) error
	ChargeOvernight(ctx context.Context, positionID string, fee decimal.Decimal, chargedAt time.Time) error

	// ApplyCashDelta moves cash with a relative update and returns the
	// resulting balance; two concurrent units can never both debit against
	// a stale read.
	ApplyCashDelta(ctx context.Context, portfolioID string, delta decimal.Decimal) (decimal.Decimal, error)
	UpdateInitialCapital(ctx context.Context, portfolioID string, capital decimal.Decimal) error

	InsertTransaction(ctx context.Context, t *model.Transaction) error
	InsertFeeLog(ctx context.Context, f *model.FeeLog) error
}
