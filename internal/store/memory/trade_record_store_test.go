package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

func TestTradeRecordStore_CreateAndGet(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()

	rec := domain.TradeRecord{
		CorrelationID: "c1",
		Ticket:        "98765",
		AccountID:     "acct-9",
		Symbol:        "EURUSD",
		Side:          domain.SideBuy,
		Status:        domain.TradeDispatched,
		UpdatedAt:     time.Now(),
	}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.GetByCorrelationID(ctx, "c1")
	if err != nil {
		t.Fatalf("GetByCorrelationID failed: %v", err)
	}
	if got.Ticket != "98765" || got.Status != domain.TradeDispatched {
		t.Errorf("got %+v", got)
	}

	byTicket, err := store.GetByTicket(ctx, "98765")
	if err != nil {
		t.Fatalf("GetByTicket failed: %v", err)
	}
	if byTicket.CorrelationID != "c1" {
		t.Errorf("ticket lookup = %+v", byTicket)
	}
}

func TestTradeRecordStore_DuplicateCreate(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()

	rec := domain.TradeRecord{CorrelationID: "c1", Status: domain.TradeDispatched}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	err := store.Create(ctx, rec)
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestTradeRecordStore_UpdateReindexesTicket(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()

	rec := domain.TradeRecord{CorrelationID: "c1", Status: domain.TradeDispatched}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Ticket arrives with the opened event.
	rec.Ticket = "42"
	rec.Status = domain.TradeOpen
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.GetByTicket(ctx, "42")
	if err != nil {
		t.Fatalf("GetByTicket after update failed: %v", err)
	}
	if got.Status != domain.TradeOpen {
		t.Errorf("status = %s, want open", got.Status)
	}
}

func TestTradeRecordStore_UpdateUnknown(t *testing.T) {
	store := NewTradeRecordStore()
	err := store.Update(context.Background(), domain.TradeRecord{CorrelationID: "nope"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTradeRecordStore_ListByStatus(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()
	now := time.Now()

	for i, status := range []domain.TradeStatus{domain.TradeOpen, domain.TradeClosed, domain.TradeOpen} {
		rec := domain.TradeRecord{
			CorrelationID: string(rune('a' + i)),
			Status:        status,
			UpdatedAt:     now.Add(time.Duration(i) * time.Second),
		}
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	open, err := store.ListByStatus(ctx, domain.TradeOpen, domain.ListOpts{})
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open records = %d, want 2", len(open))
	}
	if !open[0].UpdatedAt.After(open[1].UpdatedAt) {
		t.Error("list not ordered newest first")
	}

	limited, _ := store.ListByStatus(ctx, domain.TradeOpen, domain.ListOpts{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limited list = %d, want 1", len(limited))
	}
}
