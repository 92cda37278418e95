// Package reconciler owns the trade record lifecycle. It is the single writer
// of trade records: the router registers dispatches through DispatchTracker
// and every normalized terminal event flows through OnResultEvent, which
// applies guarded state transitions so replays and out-of-order deliveries
// cannot double-apply financial effects.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// replayTTL bounds how long a processed close is remembered by the replay
// guard. Status guards on the record remain authoritative past the window.
const replayTTL = 24 * time.Hour

// Reconciler joins dispatch requests with terminal result events and keeps
// trade records consistent. Rewards, risk, notifier and replay guard are
// optional collaborators; a nil field disables that effect.
type Reconciler struct {
	trades domain.TradeRecordStore
	audit  domain.AuditStore

	rewards domain.RewardAccounting
	risk    domain.RiskAccounting
	notify  domain.Notifier
	replay  domain.ReplayGuard

	logger *slog.Logger
	now    func() time.Time
}

// New builds a Reconciler. trades and audit are required.
func New(
	trades domain.TradeRecordStore,
	audit domain.AuditStore,
	rewards domain.RewardAccounting,
	risk domain.RiskAccounting,
	notify domain.Notifier,
	replay domain.ReplayGuard,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		trades:  trades,
		audit:   audit,
		rewards: rewards,
		risk:    risk,
		notify:  notify,
		replay:  replay,
		logger:  logger.With(slog.String("component", "reconciler")),
		now:     time.Now,
	}
}

// Run consumes events until the channel closes or the context is cancelled.
// All record mutation happens on this single goroutine, so transitions need
// no locking beyond the store's own.
func (rc *Reconciler) Run(ctx context.Context, events <-chan domain.ResultEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := rc.OnResultEvent(ctx, ev); err != nil {
				rc.logger.Error("event reconciliation failed",
					slog.String("kind", string(ev.Kind)),
					slog.String("ticket", ev.Ticket),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// TrackDispatch registers a delivered request as awaiting terminal results.
// It implements router.DispatchTracker.
func (rc *Reconciler) TrackDispatch(ctx context.Context, req domain.DispatchRequest, terminalID, ticket string) error {
	rec := domain.TradeRecord{
		CorrelationID: req.CorrelationID,
		Ticket:        ticket,
		AccountID:     req.AccountID,
		TerminalID:    terminalID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Volume:        req.Volume,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
		Status:        domain.TradeDispatched,
		DispatchedAt:  rc.now(),
		UpdatedAt:     rc.now(),
	}
	err := rc.trades.Create(ctx, rec)
	if errors.Is(err, domain.ErrAlreadyExists) {
		// A redelivered ack for a correlation id we already track. The
		// existing record wins; note it and move on.
		rc.anomaly(ctx, "duplicate_dispatch_track", map[string]any{
			"correlation_id": req.CorrelationID,
			"terminal_id":    terminalID,
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconciler: track dispatch %s: %w", req.CorrelationID, err)
	}
	rc.logger.Debug("dispatch tracked",
		slog.String("correlation_id", req.CorrelationID),
		slog.String("terminal_id", terminalID),
	)
	return nil
}

// OnResultEvent applies one normalized terminal event to the trade records.
// It is total over the event kinds: unknown kinds are audited, never dropped
// silently, and no error here is fatal to the event loop.
func (rc *Reconciler) OnResultEvent(ctx context.Context, ev domain.ResultEvent) error {
	switch ev.Kind {
	case domain.EventOpened:
		return rc.onOpened(ctx, ev)
	case domain.EventOrderPlaced:
		return rc.onPlaced(ctx, ev)
	case domain.EventClosed:
		return rc.onClosed(ctx, ev)
	case domain.EventModified:
		return rc.onModified(ctx, ev)
	case domain.EventError:
		return rc.onError(ctx, ev)
	case domain.EventAccountUpdate:
		return rc.onAccountUpdate(ctx, ev)
	default:
		rc.anomaly(ctx, "unknown_event_kind", map[string]any{
			"kind": string(ev.Kind),
			"raw":  ev.Raw,
		})
		return nil
	}
}

func (rc *Reconciler) onOpened(ctx context.Context, ev domain.ResultEvent) error {
	rec, found, err := rc.lookup(ctx, ev)
	if err != nil {
		return err
	}
	if !found {
		return rc.orphan(ctx, ev)
	}
	if rec.Status != domain.TradeDispatched {
		// Replayed open, or an open after close arrived first. The record
		// already advanced; nothing to apply.
		rc.logger.Debug("open ignored, record already advanced",
			slog.String("correlation_id", rec.CorrelationID),
			slog.String("status", string(rec.Status)),
		)
		return nil
	}

	rec.Status = domain.TradeOpen
	rec.Ticket = ev.Ticket
	if ev.TerminalID != "" {
		rec.TerminalID = ev.TerminalID
	}
	if ev.Opened != nil {
		rec.EntryPrice = ev.Opened.Price
		if ev.Opened.Volume > 0 {
			rec.Volume = ev.Opened.Volume
		}
		// The terminal's confirmed levels win over the requested ones.
		if ev.Opened.StopLoss > 0 {
			rec.StopLoss = ev.Opened.StopLoss
		}
		if ev.Opened.TakeProfit > 0 {
			rec.TakeProfit = ev.Opened.TakeProfit
		}
		if !ev.Opened.OpenedAt.IsZero() {
			rec.OpenedAt = ev.Opened.OpenedAt
		}
	}
	if rec.OpenedAt.IsZero() {
		rec.OpenedAt = rc.now()
	}
	rec.UpdatedAt = rc.now()

	if err := rc.trades.Update(ctx, rec); err != nil {
		return fmt.Errorf("reconciler: open %s: %w", rec.CorrelationID, err)
	}
	rc.logger.Info("trade opened",
		slog.String("correlation_id", rec.CorrelationID),
		slog.String("ticket", rec.Ticket),
		slog.String("symbol", rec.Symbol),
	)
	rc.send(ctx, rec.AccountID, domain.NotifyTradeOpened, map[string]string{
		"correlation_id": rec.CorrelationID,
		"ticket":         rec.Ticket,
		"symbol":         rec.Symbol,
		"side":           string(rec.Side),
		"price":          formatFloat(rec.EntryPrice),
	})
	return nil
}

func (rc *Reconciler) onPlaced(ctx context.Context, ev domain.ResultEvent) error {
	rec, found, err := rc.lookup(ctx, ev)
	if err != nil {
		return err
	}
	if !found {
		return rc.orphan(ctx, ev)
	}
	if rec.Status != domain.TradeDispatched {
		return nil
	}

	// A pending order is an open position from the lifecycle's point of
	// view: the terminal accepted it and will report a close or error.
	rec.Status = domain.TradeOpen
	rec.Ticket = ev.Ticket
	if ev.TerminalID != "" {
		rec.TerminalID = ev.TerminalID
	}
	if ev.Placed != nil {
		rec.EntryPrice = ev.Placed.Price
		if ev.Placed.Volume > 0 {
			rec.Volume = ev.Placed.Volume
		}
		if ev.Placed.StopLoss > 0 {
			rec.StopLoss = ev.Placed.StopLoss
		}
		if ev.Placed.TakeProfit > 0 {
			rec.TakeProfit = ev.Placed.TakeProfit
		}
	}
	rec.OpenedAt = rc.now()
	rec.UpdatedAt = rc.now()

	if err := rc.trades.Update(ctx, rec); err != nil {
		return fmt.Errorf("reconciler: place %s: %w", rec.CorrelationID, err)
	}
	rc.logger.Info("order placed",
		slog.String("correlation_id", rec.CorrelationID),
		slog.String("ticket", rec.Ticket),
	)
	return nil
}

func (rc *Reconciler) onClosed(ctx context.Context, ev domain.ResultEvent) error {
	rec, found, err := rc.lookup(ctx, ev)
	if err != nil {
		return err
	}
	if !found {
		return rc.orphan(ctx, ev)
	}
	if rec.Status == domain.TradeClosed {
		// Duplicate close. The status guard makes this a no-op so the
		// reward was credited exactly once.
		rc.logger.Debug("duplicate close ignored",
			slog.String("ticket", rec.Ticket),
		)
		return nil
	}
	if rec.Status != domain.TradeOpen && rec.Status != domain.TradeDispatched {
		rc.anomaly(ctx, "close_in_terminal_status", map[string]any{
			"correlation_id": rec.CorrelationID,
			"status":         string(rec.Status),
		})
		return nil
	}
	if rec.Status == domain.TradeDispatched {
		// Close without an observed open; the terminal's close report is
		// authoritative, so we accept it and note the gap.
		rc.anomaly(ctx, "close_without_open", map[string]any{
			"correlation_id": rec.CorrelationID,
			"ticket":         ev.Ticket,
		})
	}

	rec.Status = domain.TradeClosed
	if rec.Ticket == "" {
		rec.Ticket = ev.Ticket
	}
	if ev.Closed != nil {
		rec.ExitPrice = ev.Closed.ClosePrice
		rec.Profit = ev.Closed.Profit + ev.Closed.Swap + ev.Closed.Commission
		if !ev.Closed.ClosedAt.IsZero() {
			rec.ClosedAt = ev.Closed.ClosedAt
		}
	}
	if rec.ClosedAt.IsZero() {
		rec.ClosedAt = rc.now()
	}
	rec.UpdatedAt = rc.now()

	if err := rc.trades.Update(ctx, rec); err != nil {
		return fmt.Errorf("reconciler: close %s: %w", rec.CorrelationID, err)
	}
	rc.logger.Info("trade closed",
		slog.String("correlation_id", rec.CorrelationID),
		slog.String("ticket", rec.Ticket),
		slog.Float64("profit", rec.Profit),
		slog.String("outcome", string(rec.Outcome())),
	)

	rc.award(ctx, rec)

	if rc.risk != nil && rec.AccountID != "" {
		if err := rc.risk.UpdateRiskSession(ctx, rec.AccountID, rec.Profit); err != nil {
			rc.logger.Warn("risk session update failed",
				slog.String("account_id", rec.AccountID),
				slog.String("error", err.Error()),
			)
		}
	}
	rc.send(ctx, rec.AccountID, domain.NotifyTradeClosed, map[string]string{
		"correlation_id": rec.CorrelationID,
		"ticket":         rec.Ticket,
		"symbol":         rec.Symbol,
		"profit":         formatFloat(rec.Profit),
		"outcome":        string(rec.Outcome()),
	})
	return nil
}

// award credits reward accounting exactly once per closed trade. The status
// transition into closed is the primary guard; the replay guard catches the
// crash-between-update-and-award window when configured.
func (rc *Reconciler) award(ctx context.Context, rec domain.TradeRecord) {
	if rc.rewards == nil {
		return
	}
	if rc.replay != nil && rec.Ticket != "" {
		first, err := rc.replay.MarkProcessed(ctx, "bridge:done:"+rec.Ticket, replayTTL)
		if err != nil {
			rc.logger.Warn("replay guard unavailable, relying on status guard",
				slog.String("ticket", rec.Ticket),
				slog.String("error", err.Error()),
			)
		} else if !first {
			rc.logger.Debug("reward already credited",
				slog.String("ticket", rec.Ticket),
			)
			return
		}
	}
	if err := rc.rewards.AwardReward(ctx, rec.CorrelationID, rec.Ticket, rec.Outcome(), rec.Profit); err != nil {
		rc.logger.Error("reward accounting failed",
			slog.String("correlation_id", rec.CorrelationID),
			slog.String("error", err.Error()),
		)
	}
}

func (rc *Reconciler) onModified(ctx context.Context, ev domain.ResultEvent) error {
	rec, found, err := rc.lookup(ctx, ev)
	if err != nil {
		return err
	}
	if !found {
		return rc.orphan(ctx, ev)
	}
	if rec.Status != domain.TradeOpen {
		return nil
	}
	if ev.Modified != nil {
		// A modify carries the full protective levels; zero clears one.
		rec.StopLoss = ev.Modified.StopLoss
		rec.TakeProfit = ev.Modified.TakeProfit
	}
	rec.UpdatedAt = rc.now()
	if err := rc.trades.Update(ctx, rec); err != nil {
		return fmt.Errorf("reconciler: modify %s: %w", rec.CorrelationID, err)
	}
	rc.logger.Debug("trade modified",
		slog.String("ticket", rec.Ticket),
		slog.String("stop_loss", formatFloat(rec.StopLoss)),
		slog.String("take_profit", formatFloat(rec.TakeProfit)),
	)
	return nil
}

func (rc *Reconciler) onError(ctx context.Context, ev domain.ResultEvent) error {
	rec, found, err := rc.lookup(ctx, ev)
	if err != nil {
		return err
	}
	if !found {
		// Errors without a matching dispatch are common on shared
		// terminals (manual trades failing); audit, don't orphan.
		rc.anomaly(ctx, "unmatched_terminal_error", map[string]any{
			"terminal_id": ev.TerminalID,
			"raw":         ev.Raw,
		})
		return nil
	}
	if rec.Status == domain.TradeClosed || rec.Status == domain.TradeFailed {
		return nil
	}

	rec.Status = domain.TradeFailed
	if ev.Err != nil {
		rec.ErrorKind = ev.Err.Kind
		rec.ErrorDetail = ev.Err.Message
	} else {
		rec.ErrorKind = domain.ErrKindUnknownTerminal
	}
	rec.UpdatedAt = rc.now()

	if err := rc.trades.Update(ctx, rec); err != nil {
		return fmt.Errorf("reconciler: fail %s: %w", rec.CorrelationID, err)
	}
	rc.logger.Warn("trade failed",
		slog.String("correlation_id", rec.CorrelationID),
		slog.String("error_kind", string(rec.ErrorKind)),
		slog.String("detail", rec.ErrorDetail),
	)
	rc.send(ctx, rec.AccountID, domain.NotifyTerminalError, map[string]string{
		"correlation_id": rec.CorrelationID,
		"error_kind":     string(rec.ErrorKind),
		"detail":         rec.ErrorDetail,
	})
	return nil
}

func (rc *Reconciler) onAccountUpdate(ctx context.Context, ev domain.ResultEvent) error {
	if rc.risk == nil || ev.Account == nil {
		return nil
	}
	accountID := ev.AccountID
	if accountID == "" {
		accountID = ev.TerminalID
	}
	if err := rc.risk.AccountSnapshot(ctx, accountID, ev.Account.Balance, ev.Account.Equity, ev.Account.Margin); err != nil {
		return fmt.Errorf("reconciler: account snapshot %s: %w", accountID, err)
	}
	return nil
}

// lookup resolves the trade record an event refers to: the echoed correlation
// id is preferred, the ticket map is the fallback.
func (rc *Reconciler) lookup(ctx context.Context, ev domain.ResultEvent) (domain.TradeRecord, bool, error) {
	if ev.CorrelationID != "" {
		rec, err := rc.trades.GetByCorrelationID(ctx, ev.CorrelationID)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.TradeRecord{}, false, fmt.Errorf("reconciler: lookup %s: %w", ev.CorrelationID, err)
		}
	}
	if ev.Ticket != "" {
		rec, err := rc.trades.GetByTicket(ctx, ev.Ticket)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.TradeRecord{}, false, fmt.Errorf("reconciler: lookup ticket %s: %w", ev.Ticket, err)
		}
	}
	return domain.TradeRecord{}, false, nil
}

// orphan records a detached trade for a terminal event that matched no
// dispatch. Manual trades on a bridged terminal land here.
func (rc *Reconciler) orphan(ctx context.Context, ev domain.ResultEvent) error {
	rec := domain.TradeRecord{
		CorrelationID: "orphan-" + ev.Ticket,
		Ticket:        ev.Ticket,
		TerminalID:    ev.TerminalID,
		AccountID:     ev.AccountID,
		Status:        domain.TradeOrphan,
		UpdatedAt:     rc.now(),
	}
	if ev.Opened != nil {
		rec.Symbol = ev.Opened.Symbol
		rec.Side = ev.Opened.Side
		rec.Volume = ev.Opened.Volume
		rec.EntryPrice = ev.Opened.Price
	}
	if ev.Closed != nil {
		rec.ExitPrice = ev.Closed.ClosePrice
		rec.Profit = ev.Closed.Profit
	}

	err := rc.trades.Create(ctx, rec)
	if errors.Is(err, domain.ErrAlreadyExists) {
		err = nil // repeated events for the same orphan ticket
	}
	if err != nil {
		return fmt.Errorf("reconciler: orphan %s: %w", ev.Ticket, err)
	}
	rc.anomaly(ctx, "orphan_event", map[string]any{
		"kind":        string(ev.Kind),
		"ticket":      ev.Ticket,
		"terminal_id": ev.TerminalID,
		"raw":         ev.Raw,
	})
	return nil
}

func (rc *Reconciler) anomaly(ctx context.Context, event string, detail map[string]any) {
	rc.logger.Warn("reconciliation anomaly", slog.String("event", event))
	if err := rc.audit.Log(ctx, "reconciliation_anomaly:"+event, detail); err != nil {
		rc.logger.Error("audit write failed", slog.String("error", err.Error()))
	}
}

func (rc *Reconciler) send(ctx context.Context, accountID string, kind domain.NotifyKind, payload map[string]string) {
	if rc.notify == nil {
		return
	}
	if err := rc.notify.Notify(ctx, accountID, kind, payload); err != nil {
		rc.logger.Warn("notification failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
