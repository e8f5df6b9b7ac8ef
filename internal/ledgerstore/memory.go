package ledgerstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"papertrade/internal/model"
	"papertrade/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Memory is an in-process Store used by tests and the dev mode
// (DB_DSN=memory). Transactions run serialized under one mutex against a
// cloned state, so a failed unit of work leaves nothing behind.
type Memory struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	portfolios   map[string]model.Portfolio
	positions    map[string]model.Position
	orders       map[string]model.Order
	transactions []model.Transaction
	feeLogs      []model.FeeLog
	snapshots    []model.PortfolioSnapshot
}

func NewMemory() *Memory {
	return &Memory{state: memState{
		portfolios: make(map[string]model.Portfolio),
		positions:  make(map[string]model.Position),
		orders:     make(map[string]model.Order),
	}}
}

func (s memState) clone() memState {
	c := memState{
		portfolios:   make(map[string]model.Portfolio, len(s.portfolios)),
		positions:    make(map[string]model.Position, len(s.positions)),
		orders:       make(map[string]model.Order, len(s.orders)),
		transactions: append([]model.Transaction(nil), s.transactions...),
		feeLogs:      append([]model.FeeLog(nil), s.feeLogs...),
		snapshots:    append([]model.PortfolioSnapshot(nil), s.snapshots...),
	}
	for k, v := range s.portfolios {
		c.portfolios[k] = v
	}
	for k, v := range s.positions {
		c.positions[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	return c
}

func (m *Memory) Tx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(ctx, &memTx{state: &work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *Memory) GetOrCreatePortfolio(ctx context.Context, userID, name string, initialCapital decimal.Decimal, brokerProfile string) (model.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.state.portfolios {
		if p.UserID == userID && p.Name == name {
			return p, nil
		}
	}
	now := time.Now().UTC()
	p := model.Portfolio{
		ID:             uuid.NewString(),
		UserID:         userID,
		Name:           name,
		InitialCapital: initialCapital,
		CashBalance:    initialCapital,
		Currency:       "EUR",
		BrokerProfile:  brokerProfile,
		Settings:       model.DefaultSettings(),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.state.portfolios[p.ID] = p
	return p, nil
}

func (m *Memory) GetPortfolio(ctx context.Context, portfolioID, userID string) (model.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.portfolios[portfolioID]
	if !ok || p.UserID != userID {
		return model.Portfolio{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPortfolios(ctx context.Context, userID string) ([]model.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Portfolio
	for _, p := range m.state.portfolios {
		if p.UserID == userID && p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ActivePortfolios(ctx context.Context) ([]model.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Portfolio
	for _, p := range m.state.portfolios {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func sortLots(lots []model.Position) {
	sort.Slice(lots, func(i, j int) bool {
		if lots[i].OpenedAt.Equal(lots[j].OpenedAt) {
			return lots[i].ID < lots[j].ID
		}
		return lots[i].OpenedAt.Before(lots[j].OpenedAt)
	})
}

func (m *Memory) OpenPositions(ctx context.Context, portfolioID string) ([]model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Position
	for _, p := range m.state.positions {
		if p.PortfolioID == portfolioID && p.IsOpen {
			out = append(out, p)
		}
	}
	sortLots(out)
	return out, nil
}

func (m *Memory) ClosedPositions(ctx context.Context, portfolioID string) ([]model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Position
	for _, p := range m.state.positions {
		if p.PortfolioID == portfolioID && !p.IsOpen {
			out = append(out, p)
		}
	}
	sortLots(out)
	return out, nil
}

func (m *Memory) CarryPositionsDueSince(ctx context.Context, cutoff time.Time) ([]model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Position
	for _, p := range m.state.positions {
		if !p.IsOpen || !p.ProductType.CarriesOvernight() {
			continue
		}
		if p.LastOvernightAt == nil || p.LastOvernightAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	sortLots(out)
	return out, nil
}

func (m *Memory) Transactions(ctx context.Context, portfolioID string, limit int) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Transaction
	for i := len(m.state.transactions) - 1; i >= 0; i-- {
		t := m.state.transactions[i]
		if t.PortfolioID != portfolioID {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) FeeTotals(ctx context.Context, portfolioID string) (map[types.FeeType]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[types.FeeType]decimal.Decimal, 3)
	for _, f := range m.state.feeLogs {
		if f.PortfolioID != portfolioID {
			continue
		}
		out[f.Type] = out[f.Type].Add(f.Amount)
	}
	return out, nil
}

func (m *Memory) FeeLogs(ctx context.Context, portfolioID string, limit int) ([]model.FeeLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.FeeLog
	for i := len(m.state.feeLogs) - 1; i >= 0; i-- {
		f := m.state.feeLogs[i]
		if f.PortfolioID != portfolioID {
			continue
		}
		out = append(out, f)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) PendingOrders(ctx context.Context, portfolioID string) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Order
	for _, o := range m.state.orders {
		if o.PortfolioID == portfolioID && o.Status == types.OrderStatusPending {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) InsertSnapshot(ctx context.Context, snap model.PortfolioSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.ID = uuid.NewString()
	snap.CreatedAt = time.Now().UTC()
	m.state.snapshots = append(m.state.snapshots, snap)
	return nil
}

func (m *Memory) Snapshots(ctx context.Context, portfolioID string, limit int) ([]model.PortfolioSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PortfolioSnapshot
	for i := len(m.state.snapshots) - 1; i >= 0; i-- {
		sn := m.state.snapshots[i]
		if sn.PortfolioID != portfolioID {
			continue
		}
		out = append(out, sn)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// memTx mutates the cloned working state; the caller swaps it in on commit.
type memTx struct {
	state *memState
}

func (t *memTx) PortfolioForUpdate(ctx context.Context, portfolioID, userID string) (model.Portfolio, error) {
	p, ok := t.state.portfolios[portfolioID]
	if !ok || p.UserID != userID {
		return model.Portfolio{}, ErrNotFound
	}
	return p, nil
}

func (t *memTx) PositionForUpdate(ctx context.Context, positionID, userID string) (model.Position, error) {
	p, ok := t.state.positions[positionID]
	if !ok || p.UserID != userID {
		return model.Position{}, ErrNotFound
	}
	return p, nil
}

func (t *memTx) OpenLotsForUpdate(ctx context.Context, portfolioID, symbol string, productType types.ProductType, side types.OrderSide) ([]model.Position, error) {
	var out []model.Position
	for _, p := range t.state.positions {
		if p.PortfolioID == portfolioID && p.Symbol == symbol && p.ProductType == productType && p.Side == side && p.IsOpen {
			out = append(out, p)
		}
	}
	sortLots(out)
	return out, nil
}

func (t *memTx) AllOpenPositionsForUpdate(ctx context.Context, portfolioID string) ([]model.Position, error) {
	var out []model.Position
	for _, p := range t.state.positions {
		if p.PortfolioID == portfolioID && p.IsOpen {
			out = append(out, p)
		}
	}
	sortLots(out)
	return out, nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *model.Order) error {
	o.ID = uuid.NewString()
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	t.state.orders[o.ID] = *o
	return nil
}

func (t *memTx) LinkOrderPosition(ctx context.Context, orderID, positionID string) error {
	o, ok := t.state.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.PositionID = &positionID
	o.UpdatedAt = time.Now().UTC()
	t.state.orders[orderID] = o
	return nil
}

func (t *memTx) CancelPendingOrders(ctx context.Context, portfolioID string) (int, error) {
	n := 0
	for id, o := range t.state.orders {
		if o.PortfolioID == portfolioID && o.Status == types.OrderStatusPending {
			o.Status = types.OrderStatusCancelled
			o.UpdatedAt = time.Now().UTC()
			t.state.orders[id] = o
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertPosition(ctx context.Context, p *model.Position) error {
	p.ID = uuid.NewString()
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	t.state.positions[p.ID] = *p
	return nil
}

func (t *memTx) ReducePosition(ctx context.Context, positionID string, newQuantity, addedFees decimal.Decimal) error {
	p, ok := t.state.positions[positionID]
	if !ok || !p.IsOpen {
		return ErrNotFound
	}
	p.Quantity = newQuantity
	p.TotalFees = p.TotalFees.Add(addedFees)
	t.state.positions[positionID] = p
	return nil
}

func (t *memTx) ClosePosition(ctx context.Context, positionID string, closePrice, realizedPnL decimal.Decimal, reason types.CloseReason, closedAt time.Time) error {
	p, ok := t.state.positions[positionID]
	if !ok || !p.IsOpen {
		return ErrNotFound
	}
	p.IsOpen = false
	p.ClosedAt = &closedAt
	p.ClosePrice = &closePrice
	p.CurrentPrice = closePrice
	p.CloseReason = reason
	p.RealizedPnL = realizedPnL
	t.state.positions[positionID] = p
	return nil
}

func (t *memTx) ChargeOvernight(ctx context.Context, positionID string, fee decimal.Decimal, chargedAt time.Time) error {
	p, ok := t.state.positions[positionID]
	if !ok || !p.IsOpen {
		return ErrNotFound
	}
	p.OvernightFees = p.OvernightFees.Add(fee)
	p.TotalFees = p.TotalFees.Add(fee)
	p.DaysHeld++
	p.LastOvernightAt = &chargedAt
	t.state.positions[positionID] = p
	return nil
}

func (t *memTx) ApplyCashDelta(ctx context.Context, portfolioID string, delta decimal.Decimal) (decimal.Decimal, error) {
	p, ok := t.state.portfolios[portfolioID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	p.CashBalance = p.CashBalance.Add(delta)
	p.UpdatedAt = time.Now().UTC()
	t.state.portfolios[portfolioID] = p
	return p.CashBalance, nil
}

func (t *memTx) UpdateInitialCapital(ctx context.Context, portfolioID string, capital decimal.Decimal) error {
	p, ok := t.state.portfolios[portfolioID]
	if !ok {
		return ErrNotFound
	}
	p.InitialCapital = capital
	p.UpdatedAt = time.Now().UTC()
	t.state.portfolios[portfolioID] = p
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	tr.ID = uuid.NewString()
	tr.CreatedAt = time.Now().UTC()
	t.state.transactions = append(t.state.transactions, *tr)
	return nil
}

func (t *memTx) InsertFeeLog(ctx context.Context, f *model.FeeLog) error {
	f.ID = uuid.NewString()
	f.CreatedAt = time.Now().UTC()
	t.state.feeLogs = append(t.state.feeLogs, *f)
	return nil
}

var _ Store = (*Memory)(nil)
