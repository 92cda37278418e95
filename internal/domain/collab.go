package domain

import "context"

// RewardAccounting is the external collaborator credited exactly once per
// closed trade.
type RewardAccounting interface {
	AwardReward(ctx context.Context, correlationID, ticket string, outcome TradeOutcome, pnl float64) error
}

// RiskAccounting is the external collaborator tracking per-account risk
// sessions. It receives realized P/L deltas and raw account snapshots.
type RiskAccounting interface {
	UpdateRiskSession(ctx context.Context, accountID string, pnlDelta float64) error
	AccountSnapshot(ctx context.Context, accountID string, balance, equity, margin float64) error
}

// NotifyKind is the class of user-facing notification.
type NotifyKind string

const (
	NotifyDeliveryFailed NotifyKind = "delivery_failed"
	NotifyTradeRejected  NotifyKind = "trade_rejected"
	NotifyTradeOpened    NotifyKind = "trade_opened"
	NotifyTradeClosed    NotifyKind = "trade_closed"
	NotifyTerminalError  NotifyKind = "terminal_error"
	NotifyTerminalDown   NotifyKind = "terminal_down"
)

// Notifier is the external notification collaborator. Transport (chat,
// email, webhook) is its concern; this subsystem only supplies the payload.
type Notifier interface {
	Notify(ctx context.Context, accountID string, kind NotifyKind, payload map[string]string) error
}
