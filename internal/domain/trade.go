package domain

import "time"

// TradeStatus is the reconciler-owned lifecycle state of a trade record.
type TradeStatus string

const (
	TradeDispatched TradeStatus = "dispatched"
	TradeOpen       TradeStatus = "open"
	TradeClosed     TradeStatus = "closed"
	TradeFailed     TradeStatus = "failed"
	// TradeOrphan marks a detached audit record created for a ticket that
	// never matched a dispatch. It exists so an unmatched open/close is
	// inspectable rather than silently dropped.
	TradeOrphan TradeStatus = "orphan"
)

// TradeOutcome classifies a closed trade for reward accounting.
type TradeOutcome string

const (
	OutcomeWin  TradeOutcome = "win"
	OutcomeLoss TradeOutcome = "loss"
	OutcomeFlat TradeOutcome = "flat"
)

// TradeRecord is the authoritative joined view of a dispatch request and its
// terminal activity. It is created and mutated exclusively by the reconciler;
// every other component reads it through a store.
type TradeRecord struct {
	CorrelationID string
	Ticket        string
	AccountID     string
	TerminalID    string
	Symbol        string
	Side          OrderSide
	Volume        float64
	Status        TradeStatus
	EntryPrice    float64
	ExitPrice     float64
	StopLoss      float64 // 0 = unset
	TakeProfit    float64 // 0 = unset
	Profit        float64
	ErrorKind     ErrorKind
	ErrorDetail   string
	DispatchedAt  time.Time
	OpenedAt      time.Time
	ClosedAt      time.Time
	UpdatedAt     time.Time
}

// Outcome classifies the realized profit. Only meaningful once closed.
func (t TradeRecord) Outcome() TradeOutcome {
	switch {
	case t.Profit > 0:
		return OutcomeWin
	case t.Profit < 0:
		return OutcomeLoss
	default:
		return OutcomeFlat
	}
}
