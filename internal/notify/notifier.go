// Package notify provides a multi-channel notification system. Trade
// lifecycle events are dispatched to all registered senders (Telegram,
// Discord, etc.) and can be filtered by event kind so operators receive only
// the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches lifecycle notifications to one or more Senders. It
// maintains a set of allowed event kinds; Notify only forwards messages whose
// kind is in the allowed set. It implements domain.Notifier.
type Notifier struct {
	senders []Sender
	kinds   map[domain.NotifyKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose kind appears in the kinds slice will be forwarded. If kinds is
// empty, all kinds are allowed.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.NotifyKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[domain.NotifyKind(strings.TrimSpace(k))] = true
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// titles maps event kinds to human-readable headlines.
var titles = map[domain.NotifyKind]string{
	domain.NotifyDeliveryFailed: "Signal delivery failed",
	domain.NotifyTradeRejected:  "Trade rejected",
	domain.NotifyTradeOpened:    "Trade opened",
	domain.NotifyTradeClosed:    "Trade closed",
	domain.NotifyTerminalError:  "Terminal error",
	domain.NotifyTerminalDown:   "Terminal down",
}

// Notify renders the payload and sends it to all senders, subject to the
// kind filter.
func (n *Notifier) Notify(ctx context.Context, accountID string, kind domain.NotifyKind, payload map[string]string) error {
	if len(n.kinds) > 0 && !n.kinds[kind] {
		n.logger.DebugContext(ctx, "event kind filtered out",
			slog.String("kind", string(kind)),
		)
		return nil
	}

	title, ok := titles[kind]
	if !ok {
		title = string(kind)
	}
	return n.dispatch(ctx, title, renderMessage(accountID, payload))
}

// renderMessage formats the payload as stable "key: value" lines. Keys are
// sorted so repeated notifications render identically.
func renderMessage(accountID string, payload map[string]string) string {
	var b strings.Builder
	if accountID != "" {
		fmt.Fprintf(&b, "account: %s\n", accountID)
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if payload[k] == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", k, payload[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Compile-time interface check.
var _ domain.Notifier = (*Notifier)(nil)
