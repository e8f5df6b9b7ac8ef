package notify

import "time"

// Event is a domain event emitted after a successful commit.
type Event struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
	PortfolioID string `json:"portfolio_id"`
	Data        any    `json:"data,omitempty"`
	TS          int64  `json:"ts"`
}

const (
	EventTradeExecuted   = "trade_executed"
	EventPositionClosed  = "position_closed"
	EventOvernightFee    = "overnight_fee"
	EventPortfolioReset  = "portfolio_reset"
	EventCapitalChanged  = "capital_changed"
	EventOperationFailed = "operation_failed"
)

// Notifier delivers events best-effort. Implementations must never block the
// caller and never return an error to it; a lost event must not fail a
// committed operation.
type Notifier interface {
	Publish(evt Event)
}

type Noop struct{}

func (Noop) Publish(Event) {}

// Stamp fills the timestamp if the producer left it zero.
func Stamp(evt Event) Event {
	if evt.TS == 0 {
		evt.TS = time.Now().UnixMilli()
	}
	return evt
}
