package ledgerstore

import (
	"context"
	"errors"
	"time"

	"papertrade/internal/model"
	"papertrade/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrConflict is returned when the database aborts a unit of work because of
// a serialization failure or deadlock; the operation can be retried.
var ErrConflict = errors.New("concurrent update conflict")

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Postgres) Tx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return mapConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapConflict(err)
	}
	return nil
}

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure / deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return errors.Join(ErrConflict, err)
		}
	}
	return err
}

const portfolioColumns = `id, user_id, name, initial_capital, cash_balance, currency, broker_profile,
	margin_call_level, liquidation_level, max_position_percent, max_leverage, is_active, created_at, updated_at`

func scanPortfolio(row pgx.Row) (model.Portfolio, error) {
	var p model.Portfolio
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.InitialCapital, &p.CashBalance, &p.Currency, &p.BrokerProfile,
		&p.Settings.MarginCallLevel, &p.Settings.LiquidationLevel, &p.Settings.MaxPositionPercent, &p.Settings.MaxLeverage,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func (s *Postgres) GetOrCreatePortfolio(ctx context.Context, userID, name string, initialCapital decimal.Decimal, brokerProfile string) (model.Portfolio, error) {
	p, err := scanPortfolio(s.pool.QueryRow(ctx,
		"select "+portfolioColumns+" from portfolios where user_id = $1 and name = $2", userID, name))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return p, err
	}
	defaults := model.DefaultSettings()
	return scanPortfolio(s.pool.QueryRow(ctx,
		`insert into portfolios (user_id, name, initial_capital, cash_balance, broker_profile,
			margin_call_level, liquidation_level, max_position_percent, max_leverage)
		 values ($1,$2,$3,$3,$4,$5,$6,$7,$8)
		 on conflict (user_id, name) do update set updated_at = now()
		 returning `+portfolioColumns,
		userID, name, initialCapital, brokerProfile,
		defaults.MarginCallLevel, defaults.LiquidationLevel, defaults.MaxPositionPercent, defaults.MaxLeverage))
}

func (s *Postgres) GetPortfolio(ctx context.Context, portfolioID, userID string) (model.Portfolio, error) {
	return scanPortfolio(s.pool.QueryRow(ctx,
		"select "+portfolioColumns+" from portfolios where id = $1 and user_id = $2", portfolioID, userID))
}

func (s *Postgres) ListPortfolios(ctx context.Context, userID string) ([]model.Portfolio, error) {
	return queryPortfolios(ctx, s.pool,
		"select "+portfolioColumns+" from portfolios where user_id = $1 and is_active order by created_at", userID)
}

func (s *Postgres) ActivePortfolios(ctx context.Context) ([]model.Portfolio, error) {
	return queryPortfolios(ctx, s.pool,
		"select "+portfolioColumns+" from portfolios where is_active order by created_at")
}

func queryPortfolios(ctx context.Context, q querier, sql string, args ...any) ([]model.Portfolio, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const positionColumns = `id, portfolio_id, user_id, symbol, product_type, side, quantity, entry_price,
	current_price, leverage, margin_used, liquidation_price, knockout_level, expires_at, stop_loss,
	take_profit, total_fees, overnight_fees, days_held, last_overnight_at, is_open, opened_at,
	closed_at, close_price, close_reason, realized_pnl`

func scanPosition(row pgx.Row) (model.Position, error) {
	var p model.Position
	var productType, side string
	var closeReason *string
	err := row.Scan(&p.ID, &p.PortfolioID, &p.UserID, &p.Symbol, &productType, &side, &p.Quantity, &p.EntryPrice,
		&p.CurrentPrice, &p.Leverage, &p.MarginUsed, &p.LiquidationPrice, &p.KnockoutLevel, &p.ExpiresAt, &p.StopLoss,
		&p.TakeProfit, &p.TotalFees, &p.OvernightFees, &p.DaysHeld, &p.LastOvernightAt, &p.IsOpen, &p.OpenedAt,
		&p.ClosedAt, &p.ClosePrice, &closeReason, &p.RealizedPnL)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.ProductType = types.ProductType(productType)
	p.Side = types.OrderSide(side)
	if closeReason != nil {
		p.CloseReason = types.CloseReason(*closeReason)
	}
	return p, nil
}

func queryPositions(ctx context.Context, q querier, sql string, args ...any) ([]model.Position, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) OpenPositions(ctx context.Context, portfolioID string) ([]model.Position, error) {
	return queryPositions(ctx, s.pool,
		"select "+positionColumns+" from positions where portfolio_id = $1 and is_open order by opened_at", portfolioID)
}

func (s *Postgres) ClosedPositions(ctx context.Context, portfolioID string) ([]model.Position, error) {
	return queryPositions(ctx, s.pool,
		"select "+positionColumns+" from positions where portfolio_id = $1 and not is_open order by closed_at desc", portfolioID)
}

func (s *Postgres) CarryPositionsDueSince(ctx context.Context, cutoff time.Time) ([]model.Position, error) {
	return queryPositions(ctx, s.pool,
		`select `+positionColumns+` from positions
		 where is_open and product_type = 'cfd'
		   and (last_overnight_at is null or last_overnight_at < $1)
		 order by opened_at`, cutoff)
}

const transactionColumns = `id, portfolio_id, user_id, position_id, order_id, type, symbol, quantity, price,
	notional, commission, spread_cost, total_fees, realized_pnl, cash_impact, balance_after, description, created_at`

func (s *Postgres) Transactions(ctx context.Context, portfolioID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		"select "+transactionColumns+" from transactions where portfolio_id = $1 order by created_at desc limit $2",
		portfolioID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var txType string
		if err := rows.Scan(&t.ID, &t.PortfolioID, &t.UserID, &t.PositionID, &t.OrderID, &txType, &t.Symbol,
			&t.Quantity, &t.Price, &t.Notional, &t.Commission, &t.SpreadCost, &t.TotalFees, &t.RealizedPnL,
			&t.CashImpact, &t.BalanceAfter, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = types.TransactionType(txType)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) FeeTotals(ctx context.Context, portfolioID string) (map[types.FeeType]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		"select type, coalesce(sum(amount), 0) from fee_logs where portfolio_id = $1 group by type", portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[types.FeeType]decimal.Decimal, 3)
	for rows.Next() {
		var feeType string
		var total decimal.Decimal
		if err := rows.Scan(&feeType, &total); err != nil {
			return nil, err
		}
		out[types.FeeType(feeType)] = total
	}
	return out, rows.Err()
}

func (s *Postgres) FeeLogs(ctx context.Context, portfolioID string, limit int) ([]model.FeeLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`select id, portfolio_id, user_id, position_id, order_id, type, amount, symbol, created_at
		 from fee_logs where portfolio_id = $1 order by created_at desc limit $2`, portfolioID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.FeeLog
	for rows.Next() {
		var f model.FeeLog
		var feeType string
		if err := rows.Scan(&f.ID, &f.PortfolioID, &f.UserID, &f.PositionID, &f.OrderID, &feeType, &f.Amount, &f.Symbol, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Type = types.FeeType(feeType)
		out = append(out, f)
	}
	return out, rows.Err()
}

const orderColumns = `id, portfolio_id, user_id, symbol, product_type, type, side, quantity, limit_price,
	stop_price, leverage, knockout_level, stop_loss, take_profit, commission, spread_cost, total_fees,
	status, error_message, position_id, filled_price, filled_at, created_at, updated_at`

func scanOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	var productType, orderType, side, status string
	err := row.Scan(&o.ID, &o.PortfolioID, &o.UserID, &o.Symbol, &productType, &orderType, &side, &o.Quantity,
		&o.LimitPrice, &o.StopPrice, &o.Leverage, &o.KnockoutLevel, &o.StopLoss, &o.TakeProfit, &o.Commission,
		&o.SpreadCost, &o.TotalFees, &status, &o.ErrorMessage, &o.PositionID, &o.FilledPrice, &o.FilledAt,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.ProductType = types.ProductType(productType)
	o.Type = types.OrderType(orderType)
	o.Side = types.OrderSide(side)
	o.Status = types.OrderStatus(status)
	return o, nil
}

func (s *Postgres) PendingOrders(ctx context.Context, portfolioID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		"select "+orderColumns+" from orders where portfolio_id = $1 and status = 'pending' order by created_at", portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Postgres) InsertSnapshot(ctx context.Context, snap model.PortfolioSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`insert into portfolio_snapshots (portfolio_id, cash_balance, margin_used, unrealized_pnl, realized_pnl, total_value, open_positions)
		 values ($1,$2,$3,$4,$5,$6,$7)`,
		snap.PortfolioID, snap.CashBalance, snap.MarginUsed, snap.UnrealizedPnL, snap.RealizedPnL, snap.TotalValue, snap.OpenPositions)
	return err
}

func (s *Postgres) Snapshots(ctx context.Context, portfolioID string, limit int) ([]model.PortfolioSnapshot, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`select id, portfolio_id, cash_balance, margin_used, unrealized_pnl, realized_pnl, total_value, open_positions, created_at
		 from portfolio_snapshots where portfolio_id = $1 order by created_at desc limit $2`, portfolioID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PortfolioSnapshot
	for rows.Next() {
		var sn model.PortfolioSnapshot
		if err := rows.Scan(&sn.ID, &sn.PortfolioID, &sn.CashBalance, &sn.MarginUsed, &sn.UnrealizedPnL,
			&sn.RealizedPnL, &sn.TotalValue, &sn.OpenPositions, &sn.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// pgTx implements Tx against a live pgx transaction.
type pgTx struct {
	q pgx.Tx
}

func (t *pgTx) PortfolioForUpdate(ctx context.Context, portfolioID, userID string) (model.Portfolio, error) {
	return scanPortfolio(t.q.QueryRow(ctx,
		"select "+portfolioColumns+" from portfolios where id = $1 and user_id = $2 for update", portfolioID, userID))
}

func (t *pgTx) PositionForUpdate(ctx context.Context, positionID, userID string) (model.Position, error) {
	return scanPosition(t.q.QueryRow(ctx,
		"select "+positionColumns+" from positions where id = $1 and user_id = $2 for update", positionID, userID))
}

func (t *pgTx) OpenLotsForUpdate(ctx context.Context, portfolioID, symbol string, productType types.ProductType, side types.OrderSide) ([]model.Position, error) {
	return queryPositions(ctx, t.q,
		`select `+positionColumns+` from positions
		 where portfolio_id = $1 and symbol = $2 and product_type = $3 and side = $4 and is_open
		 order by opened_at asc, id asc for update`,
		portfolioID, symbol, string(productType), string(side))
}

func (t *pgTx) AllOpenPositionsForUpdate(ctx context.Context, portfolioID string) ([]model.Position, error) {
	return queryPositions(ctx, t.q,
		"select "+positionColumns+" from positions where portfolio_id = $1 and is_open order by opened_at asc for update", portfolioID)
}

func (t *pgTx) InsertOrder(ctx context.Context, o *model.Order) error {
	now := time.Now().UTC()
	return t.q.QueryRow(ctx,
		`insert into orders (portfolio_id, user_id, symbol, product_type, type, side, quantity, limit_price,
			stop_price, leverage, knockout_level, stop_loss, take_profit, commission, spread_cost, total_fees,
			status, error_message, position_id, filled_price, filled_at, created_at, updated_at)
		 values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$22)
		 returning id, created_at`,
		o.PortfolioID, o.UserID, o.Symbol, string(o.ProductType), string(o.Type), string(o.Side), o.Quantity,
		o.LimitPrice, o.StopPrice, o.Leverage, o.KnockoutLevel, o.StopLoss, o.TakeProfit, o.Commission,
		o.SpreadCost, o.TotalFees, string(o.Status), o.ErrorMessage, o.PositionID, o.FilledPrice, o.FilledAt, now).
		Scan(&o.ID, &o.CreatedAt)
}

func (t *pgTx) LinkOrderPosition(ctx context.Context, orderID, positionID string) error {
	_, err := t.q.Exec(ctx, "update orders set position_id = $1, updated_at = now() where id = $2", positionID, orderID)
	return err
}

func (t *pgTx) CancelPendingOrders(ctx context.Context, portfolioID string) (int, error) {
	tag, err := t.q.Exec(ctx,
		"update orders set status = 'cancelled', updated_at = now() where portfolio_id = $1 and status = 'pending'", portfolioID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) InsertPosition(ctx context.Context, p *model.Position) error {
	var closeReason *string
	if p.CloseReason != "" {
		cr := string(p.CloseReason)
		closeReason = &cr
	}
	return t.q.QueryRow(ctx,
		`insert into positions (portfolio_id, user_id, symbol, product_type, side, quantity, entry_price,
			current_price, leverage, margin_used, liquidation_price, knockout_level, expires_at, stop_loss,
			take_profit, total_fees, overnight_fees, days_held, is_open, opened_at, close_reason, realized_pnl)
		 values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		 returning id, opened_at`,
		p.PortfolioID, p.UserID, p.Symbol, string(p.ProductType), string(p.Side), p.Quantity, p.EntryPrice,
		p.CurrentPrice, p.Leverage, p.MarginUsed, p.LiquidationPrice, p.KnockoutLevel, p.ExpiresAt, p.StopLoss,
		p.TakeProfit, p.TotalFees, p.OvernightFees, p.DaysHeld, p.IsOpen, time.Now().UTC(), closeReason, p.RealizedPnL).
		Scan(&p.ID, &p.OpenedAt)
}

func (t *pgTx) ReducePosition(ctx context.Context, positionID string, newQuantity, addedFees decimal.Decimal) error {
	tag, err := t.q.Exec(ctx,
		"update positions set quantity = $1, total_fees = total_fees + $2 where id = $3 and is_open", newQuantity, addedFees, positionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ClosePosition(ctx context.Context, positionID string, closePrice, realizedPnL decimal.Decimal, reason types.CloseReason, closedAt time.Time) error {
	tag, err := t.q.Exec(ctx,
		`update positions set is_open = false, closed_at = $1, close_price = $2, close_reason = $3,
			realized_pnl = $4, current_price = $2
		 where id = $5 and is_open`,
		closedAt, closePrice, string(reason), realizedPnL, positionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ChargeOvernight(ctx context.Context, positionID string, fee decimal.Decimal, chargedAt time.Time) error {
	tag, err := t.q.Exec(ctx,
		`update positions set overnight_fees = overnight_fees + $1, total_fees = total_fees + $1,
			days_held = days_held + 1, last_overnight_at = $2
		 where id = $3 and is_open`,
		fee, chargedAt, positionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ApplyCashDelta(ctx context.Context, portfolioID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.q.QueryRow(ctx,
		"update portfolios set cash_balance = cash_balance + $1, updated_at = now() where id = $2 returning cash_balance",
		delta, portfolioID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return balance, ErrNotFound
	}
	return balance, err
}

func (t *pgTx) UpdateInitialCapital(ctx context.Context, portfolioID string, capital decimal.Decimal) error {
	_, err := t.q.Exec(ctx,
		"update portfolios set initial_capital = $1, updated_at = now() where id = $2", capital, portfolioID)
	return err
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	return t.q.QueryRow(ctx,
		`insert into transactions (portfolio_id, user_id, position_id, order_id, type, symbol, quantity, price,
			notional, commission, spread_cost, total_fees, realized_pnl, cash_impact, balance_after, description)
		 values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		 returning id, created_at`,
		tr.PortfolioID, tr.UserID, tr.PositionID, tr.OrderID, string(tr.Type), tr.Symbol, tr.Quantity, tr.Price,
		tr.Notional, tr.Commission, tr.SpreadCost, tr.TotalFees, tr.RealizedPnL, tr.CashImpact, tr.BalanceAfter,
		tr.Description).Scan(&tr.ID, &tr.CreatedAt)
}

func (t *pgTx) InsertFeeLog(ctx context.Context, f *model.FeeLog) error {
	return t.q.QueryRow(ctx,
		`insert into fee_logs (portfolio_id, user_id, position_id, order_id, type, amount, symbol)
		 values ($1,$2,$3,$4,$5,$6,$7) returning id, created_at`,
		f.PortfolioID, f.UserID, f.PositionID, f.OrderID, string(f.Type), f.Amount, f.Symbol).Scan(&f.ID, &f.CreatedAt)
}

var _ Store = (*Postgres)(nil)
