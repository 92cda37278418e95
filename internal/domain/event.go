package domain

import "time"

// EventKind tags a normalized terminal result event. The set is closed: the
// reconciler switches over every kind and treats anything else as an anomaly.
type EventKind string

const (
	EventOpened        EventKind = "opened"
	EventOrderPlaced   EventKind = "order_placed"
	EventClosed        EventKind = "closed"
	EventModified      EventKind = "modified"
	EventError         EventKind = "error"
	EventAccountUpdate EventKind = "account_update"
)

// ErrorKind is the internal taxonomy terminal-native error codes map to.
type ErrorKind string

const (
	ErrKindTransport       ErrorKind = "transport_unavailable"
	ErrKindRejected        ErrorKind = "terminal_rejected"
	ErrKindInvalidSymbol   ErrorKind = "invalid_symbol"
	ErrKindInsufficientMargin ErrorKind = "insufficient_margin"
	ErrKindMarketClosed    ErrorKind = "market_closed"
	ErrKindRequote         ErrorKind = "requote"
	ErrKindInvalidTicket   ErrorKind = "invalid_ticket"
	ErrKindUnknownTerminal ErrorKind = "unknown_terminal_error"
)

// OpenedEvent reports a filled market position.
type OpenedEvent struct {
	Symbol     string
	Side       OrderSide
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	OpenedAt   time.Time
}

// PlacedEvent reports an accepted pending order.
type PlacedEvent struct {
	Symbol     string
	Side       OrderSide
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
}

// ClosedEvent reports a closed position with realized economics.
type ClosedEvent struct {
	ClosePrice float64
	Profit     float64
	Swap       float64
	Commission float64
	ClosedAt   time.Time
}

// ModifiedEvent reports changed protective levels on an open position.
type ModifiedEvent struct {
	StopLoss   float64
	TakeProfit float64
}

// ErrorEvent reports a terminal-side execution error.
type ErrorEvent struct {
	Code    int
	Kind    ErrorKind
	Message string
	Context string
}

// AccountEvent reports an account snapshot. It never touches trade records;
// the reconciler forwards it straight to risk accounting.
type AccountEvent struct {
	Balance float64
	Equity  float64
	Margin  float64
}

// ResultEvent is a normalized terminal-originated message. Exactly one
// payload pointer matching Kind is non-nil. Ticket is the terminal-native
// id; CorrelationID is present when the terminal echoed the client tag.
type ResultEvent struct {
	Kind          EventKind
	Ticket        string
	CorrelationID string
	TerminalID    string
	AccountID     string
	Raw           string // original line, kept for audit

	Opened   *OpenedEvent
	Placed   *PlacedEvent
	Closed   *ClosedEvent
	Modified *ModifiedEvent
	Err      *ErrorEvent
	Account  *AccountEvent
}
