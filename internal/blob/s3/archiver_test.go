package s3blob

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
	"github.com/kestrelfx/sigbridge/internal/store/memory"
)

type capturedPut struct {
	path        string
	contentType string
	body        string
}

type fakeWriter struct {
	puts []capturedPut
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.puts = append(f.puts, capturedPut{path: path, contentType: contentType, body: string(body)})
	return nil
}

func TestArchiveAttempts(t *testing.T) {
	ctx := context.Background()
	attempts := memory.NewAttemptStore()
	audit := memory.NewAuditStore()
	writer := &fakeWriter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	old := domain.DeliveryAttempt{
		ID: "a1", CorrelationID: "c1", TerminalID: "t1",
		Transport: domain.TransportNetwork, Number: 1,
		Outcome:   domain.AttemptAck,
		StartedAt: cutoff.Add(-48 * time.Hour),
		EndedAt:   cutoff.Add(-48 * time.Hour),
	}
	recent := old
	recent.ID = "a2"
	recent.EndedAt = cutoff.Add(time.Hour)
	if err := attempts.Record(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := attempts.Record(ctx, recent); err != nil {
		t.Fatal(err)
	}

	arch := NewArchiver(writer, attempts, audit, logger)
	n, err := arch.ArchiveAttempts(ctx, cutoff)
	if err != nil {
		t.Fatalf("ArchiveAttempts failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("archived = %d, want 1", n)
	}

	if len(writer.puts) != 1 {
		t.Fatalf("puts = %d", len(writer.puts))
	}
	put := writer.puts[0]
	if put.path != "archive/attempts/2025-06.jsonl" {
		t.Errorf("path = %s", put.path)
	}
	if put.contentType != "application/x-ndjson" {
		t.Errorf("content type = %s", put.contentType)
	}
	if !strings.Contains(put.body, `"a1"`) || strings.Contains(put.body, `"a2"`) {
		t.Errorf("archived body wrong: %s", put.body)
	}
	if strings.Count(put.body, "\n") != 1 {
		t.Errorf("expected one JSONL line, body %q", put.body)
	}

	entries, _ := audit.List(ctx, domain.ListOpts{})
	if len(entries) != 1 || entries[0].Event != "archive.attempts" {
		t.Errorf("audit entries = %+v", entries)
	}
}

func TestArchiveAttemptsEmptyIsNoOp(t *testing.T) {
	writer := &fakeWriter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	arch := NewArchiver(writer, memory.NewAttemptStore(), memory.NewAuditStore(), logger)

	n, err := arch.ArchiveAttempts(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || len(writer.puts) != 0 {
		t.Errorf("empty archive produced n=%d puts=%d", n, len(writer.puts))
	}
}

func TestArchiveAuditLog(t *testing.T) {
	ctx := context.Background()
	audit := memory.NewAuditStore()
	writer := &fakeWriter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := audit.Log(ctx, "parse_reject", map[string]any{"raw": "garbage"}); err != nil {
		t.Fatal(err)
	}

	arch := NewArchiver(writer, memory.NewAttemptStore(), audit, logger)
	n, err := arch.ArchiveAuditLog(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ArchiveAuditLog failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("archived = %d, want 1", n)
	}
	if !strings.Contains(writer.puts[0].body, "parse_reject") {
		t.Errorf("body = %s", writer.puts[0].body)
	}
}
