package ledgerstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`create extension if not exists "pgcrypto"`,
	`create table if not exists portfolios (
		id uuid primary key default gen_random_uuid(),
		user_id text not null,
		name text not null,
		initial_capital numeric not null,
		cash_balance numeric not null,
		currency text not null default 'EUR',
		broker_profile text not null default 'standard',
		margin_call_level numeric not null default 150,
		liquidation_level numeric not null default 100,
		max_position_percent numeric not null default 100,
		max_leverage int not null default 30,
		is_active boolean not null default true,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now(),
		unique (user_id, name)
	)`,
	`create table if not exists positions (
		id uuid primary key default gen_random_uuid(),
		portfolio_id uuid not null references portfolios(id) on delete cascade,
		user_id text not null,
		symbol text not null,
		product_type text not null,
		side text not null,
		quantity numeric not null,
		entry_price numeric not null,
		current_price numeric not null,
		leverage int not null default 1,
		margin_used numeric not null,
		liquidation_price numeric,
		knockout_level numeric,
		expires_at timestamptz,
		stop_loss numeric,
		take_profit numeric,
		total_fees numeric not null default 0,
		overnight_fees numeric not null default 0,
		days_held int not null default 0,
		last_overnight_at timestamptz,
		is_open boolean not null default true,
		opened_at timestamptz not null default now(),
		closed_at timestamptz,
		close_price numeric,
		close_reason text,
		realized_pnl numeric not null default 0
	)`,
	`create table if not exists orders (
		id uuid primary key default gen_random_uuid(),
		portfolio_id uuid not null references portfolios(id) on delete cascade,
		user_id text not null,
		symbol text not null,
		product_type text not null,
		type text not null,
		side text not null,
		quantity numeric not null,
		limit_price numeric,
		stop_price numeric,
		leverage int not null default 1,
		knockout_level numeric,
		stop_loss numeric,
		take_profit numeric,
		commission numeric not null default 0,
		spread_cost numeric not null default 0,
		total_fees numeric not null default 0,
		status text not null,
		error_message text not null default '',
		position_id uuid,
		filled_price numeric,
		filled_at timestamptz,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	)`,
	`create table if not exists transactions (
		id uuid primary key default gen_random_uuid(),
		portfolio_id uuid not null references portfolios(id) on delete cascade,
		user_id text not null,
		position_id uuid,
		order_id uuid,
		type text not null,
		symbol text not null default '',
		quantity numeric not null default 0,
		price numeric not null default 0,
		notional numeric not null default 0,
		commission numeric not null default 0,
		spread_cost numeric not null default 0,
		total_fees numeric not null default 0,
		realized_pnl numeric not null default 0,
		cash_impact numeric not null default 0,
		balance_after numeric not null,
		description text not null default '',
		created_at timestamptz not null default now()
	)`,
	`create table if not exists fee_logs (
		id uuid primary key default gen_random_uuid(),
		portfolio_id uuid not null references portfolios(id) on delete cascade,
		user_id text not null,
		position_id uuid,
		order_id uuid,
		type text not null,
		amount numeric not null,
		symbol text not null default '',
		created_at timestamptz not null default now()
	)`,
	`create table if not exists portfolio_snapshots (
		id uuid primary key default gen_random_uuid(),
		portfolio_id uuid not null references portfolios(id) on delete cascade,
		cash_balance numeric not null,
		margin_used numeric not null,
		unrealized_pnl numeric not null,
		realized_pnl numeric not null,
		total_value numeric not null,
		open_positions int not null,
		created_at timestamptz not null default now()
	)`,
	`create index if not exists idx_portfolios_user on portfolios (user_id)`,
	`create index if not exists idx_positions_portfolio on positions (portfolio_id)`,
	`create index if not exists idx_positions_user on positions (user_id)`,
	`create index if not exists idx_positions_open on positions (is_open)`,
	`create index if not exists idx_orders_portfolio on orders (portfolio_id)`,
	`create index if not exists idx_orders_status on orders (status)`,
	`create index if not exists idx_transactions_portfolio on transactions (portfolio_id, created_at)`,
	`create index if not exists idx_fee_logs_portfolio on fee_logs (portfolio_id)`,
	`create index if not exists idx_snapshots_portfolio on portfolio_snapshots (portfolio_id, created_at)`,
}

// EnsureSchema creates the ledger tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
