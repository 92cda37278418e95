package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequest() domain.DispatchRequest {
	return domain.DispatchRequest{
		CorrelationID: "c1",
		AccountID:     "acct-9",
		Symbol:        "EURUSD",
		Side:          domain.SideBuy,
		Volume:        0.01,
		StopLoss:      1.0800,
		TakeProfit:    1.0900,
		CreatedAt:     time.Now(),
	}
}

func TestNetworkDeliver_Ack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/signals" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var payload signalPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.CorrelationID != "c1" || payload.Symbol != "EURUSD" {
			t.Errorf("payload = %+v", payload)
		}
		_ = json.NewEncoder(w).Encode(ackPayload{Accepted: true, Ticket: "98765"})
	}))
	defer srv.Close()

	n := NewNetwork(nil, 10*time.Second, testLogger())
	ack, err := n.Deliver(context.Background(), domain.Terminal{ID: "t1", Address: srv.URL}, testRequest())
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if ack.Ticket != "98765" {
		t.Errorf("ticket = %q, want 98765", ack.Ticket)
	}
}

func TestNetworkDeliver_ServerErrorIsTransportClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNetwork(nil, 10*time.Second, testLogger())
	_, err := n.Deliver(context.Background(), domain.Terminal{ID: "t1", Address: srv.URL}, testRequest())
	if !errors.Is(err, domain.ErrTransportUnavailable) {
		t.Errorf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestNetworkDeliver_ConnectionRefusedIsTransportClass(t *testing.T) {
	n := NewNetwork(nil, time.Second, testLogger())
	term := domain.Terminal{ID: "t1", Address: "http://127.0.0.1:1"}
	_, err := n.Deliver(context.Background(), term, testRequest())
	if !errors.Is(err, domain.ErrTransportUnavailable) {
		t.Errorf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestNetworkDeliver_SemanticRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ackPayload{Accepted: false, Reason: "invalid symbol", Retryable: false})
	}))
	defer srv.Close()

	n := NewNetwork(nil, 10*time.Second, testLogger())
	_, err := n.Deliver(context.Background(), domain.Terminal{ID: "t1", Address: srv.URL}, testRequest())
	if !errors.Is(err, domain.ErrTerminalRejected) {
		t.Errorf("expected ErrTerminalRejected, got %v", err)
	}
}

func TestNetworkDeliver_RetryableNackIsTransportClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ackPayload{Accepted: false, Reason: "busy", Retryable: true})
	}))
	defer srv.Close()

	n := NewNetwork(nil, 10*time.Second, testLogger())
	_, err := n.Deliver(context.Background(), domain.Terminal{ID: "t1", Address: srv.URL}, testRequest())
	if !errors.Is(err, domain.ErrTransportUnavailable) {
		t.Errorf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestFileDeliver_AtomicDrop(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(testLogger())
	term := domain.Terminal{ID: "t1", Kind: domain.TransportFile, DropDir: dir}

	ack, err := f.Deliver(context.Background(), term, testRequest())
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if ack.Ticket != "" {
		t.Errorf("file ack carried ticket %q", ack.Ticket)
	}

	data, err := os.ReadFile(filepath.Join(dir, "c1.sig"))
	if err != nil {
		t.Fatalf("drop file missing: %v", err)
	}
	var payload signalPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("drop file not valid JSON: %v", err)
	}
	if payload.Symbol != "EURUSD" || payload.Side != "buy" {
		t.Errorf("payload = %+v", payload)
	}

	// No temp file left behind.
	if _, err := os.Stat(filepath.Join(dir, "c1.sig.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind after rename")
	}
}

func TestFileDeliver_MissingDirIsTransportClass(t *testing.T) {
	f := NewFile(testLogger())
	term := domain.Terminal{ID: "t1", Kind: domain.TransportFile, DropDir: filepath.Join(t.TempDir(), "missing")}

	_, err := f.Deliver(context.Background(), term, testRequest())
	if !errors.Is(err, domain.ErrTransportUnavailable) {
		t.Errorf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestForTerminal(t *testing.T) {
	n := NewNetwork(nil, time.Second, testLogger())
	f := NewFile(testLogger())

	if got := ForTerminal(domain.Terminal{Kind: domain.TransportFile}, n, f); got.Kind() != domain.TransportFile {
		t.Error("file terminal routed to network transport")
	}
	if got := ForTerminal(domain.Terminal{Kind: domain.TransportNetwork}, n, f); got.Kind() != domain.TransportNetwork {
		t.Error("network terminal routed to file transport")
	}
}
