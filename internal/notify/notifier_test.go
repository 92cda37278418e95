package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

type recordingSender struct {
	name     string
	titles   []string
	messages []string
	fail     bool
}

func (s *recordingSender) Send(_ context.Context, title, message string) error {
	if s.fail {
		return errors.New("boom")
	}
	s.titles = append(s.titles, title)
	s.messages = append(s.messages, message)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyRendersPayload(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	err := n.Notify(context.Background(), "acct-1", domain.NotifyTradeClosed, map[string]string{
		"ticket": "555",
		"profit": "12.5",
	})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if len(sender.titles) != 1 || sender.titles[0] != "Trade closed" {
		t.Errorf("titles = %v", sender.titles)
	}
	msg := sender.messages[0]
	if !strings.Contains(msg, "account: acct-1") || !strings.Contains(msg, "ticket: 555") {
		t.Errorf("message = %q", msg)
	}
	// Sorted keys: profit before ticket.
	if strings.Index(msg, "profit:") > strings.Index(msg, "ticket:") {
		t.Errorf("keys not sorted: %q", msg)
	}
}

func TestNotifyKindFilter(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{"trade_closed"}, testLogger())
	ctx := context.Background()

	if err := n.Notify(ctx, "a", domain.NotifyTradeOpened, nil); err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(ctx, "a", domain.NotifyTradeClosed, nil); err != nil {
		t.Fatal(err)
	}

	if len(sender.titles) != 1 || sender.titles[0] != "Trade closed" {
		t.Errorf("filter failed, titles = %v", sender.titles)
	}
}

func TestNotifyContinuesPastFailingSender(t *testing.T) {
	bad := &recordingSender{name: "bad", fail: true}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), "a", domain.NotifyTerminalError, map[string]string{"detail": "x"})
	if err == nil {
		t.Fatal("expected combined error")
	}
	if !strings.Contains(err.Error(), "bad:") {
		t.Errorf("error = %v", err)
	}
	if len(good.titles) != 1 {
		t.Errorf("good sender skipped, titles = %v", good.titles)
	}
}

func TestNotifyNoSendersIsNoOp(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	if err := n.Notify(context.Background(), "a", domain.NotifyTradeOpened, nil); err != nil {
		t.Fatalf("no-sender notify errored: %v", err)
	}
}
