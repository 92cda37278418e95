package collab

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAwardRewardPostsPayload(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", 0, testLogger())
	if err := c.AwardReward(context.Background(), "c1", "98765", domain.OutcomeWin, 10.0); err != nil {
		t.Fatalf("AwardReward: %v", err)
	}
	if gotPath != "/rewards" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["ticket"] != "98765" || gotBody["outcome"] != "win" || gotBody["pnl"].(float64) != 10.0 {
		t.Errorf("body = %v", gotBody)
	}
}

func TestRiskEndpoints(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0, testLogger())
	if err := c.UpdateRiskSession(context.Background(), "acct-1", -3.5); err != nil {
		t.Fatalf("UpdateRiskSession: %v", err)
	}
	if err := c.AccountSnapshot(context.Background(), "acct-1", 1000, 996.5, 20); err != nil {
		t.Fatalf("AccountSnapshot: %v", err)
	}
	if len(paths) != 2 || paths[0] != "/risk/sessions" || paths[1] != "/risk/snapshots" {
		t.Errorf("paths = %v", paths)
	}
}

func TestNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0, testLogger())
	err := c.UpdateRiskSession(context.Background(), "acct-1", 1)
	if err == nil {
		t.Fatal("expected error on 502")
	}
}
