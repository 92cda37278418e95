package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
	"github.com/kestrelfx/sigbridge/internal/pool"
	"github.com/kestrelfx/sigbridge/internal/registry"
	"github.com/kestrelfx/sigbridge/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedTransport fails or acks per terminal id.
type scriptedTransport struct {
	mu       sync.Mutex
	kind     domain.TransportKind
	behavior map[string]error // terminal id -> error to return; nil = ack
	tickets  map[string]string
	calls    []string // terminal ids in delivery order
	sleeps   time.Duration
}

func (s *scriptedTransport) Kind() domain.TransportKind { return s.kind }

func (s *scriptedTransport) Deliver(ctx context.Context, t domain.Terminal, req domain.DispatchRequest) (transport.Ack, error) {
	s.mu.Lock()
	s.calls = append(s.calls, t.ID)
	err := s.behavior[t.ID]
	ticket := s.tickets[t.ID]
	s.mu.Unlock()

	if s.sleeps > 0 {
		select {
		case <-ctx.Done():
			return transport.Ack{}, fmt.Errorf("scripted: %w", ctx.Err())
		case <-time.After(s.sleeps):
		}
	}
	if err != nil {
		return transport.Ack{}, err
	}
	return transport.Ack{Ticket: ticket}, nil
}

func (s *scriptedTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// memAttempts is a minimal in-memory AttemptStore.
type memAttempts struct {
	mu       sync.Mutex
	attempts []domain.DeliveryAttempt
}

func (m *memAttempts) Record(_ context.Context, a domain.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memAttempts) ListByCorrelationID(_ context.Context, id string) ([]domain.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeliveryAttempt
	for _, a := range m.attempts {
		if a.CorrelationID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAttempts) ListBefore(_ context.Context, _ time.Time) ([]domain.DeliveryAttempt, error) {
	return nil, nil
}

// memAudit is a minimal in-memory AuditStore.
type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, domain.AuditEntry{Event: event, Detail: detail, CreatedAt: time.Now()})
	return nil
}

func (m *memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.entries...), nil
}

func (m *memAudit) ListBefore(_ context.Context, _ time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}

// fakeTracker records dispatches handed to the reconciler.
type fakeTracker struct {
	mu      sync.Mutex
	tracked []string
}

func (f *fakeTracker) TrackDispatch(_ context.Context, req domain.DispatchRequest, terminalID, ticket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, req.CorrelationID)
	return nil
}

type fixture struct {
	router  *Router
	reg     *registry.Registry
	net     *scriptedTransport
	tracker *fakeTracker
	audit   *memAudit
	att     *memAttempts
}

func newFixture(t *testing.T, cfg Config, terminalIDs ...string) *fixture {
	t.Helper()
	reg := registry.New(testLogger())
	for _, id := range terminalIDs {
		if err := reg.Register(domain.Terminal{
			ID:       id,
			Pool:     domain.PoolLive,
			Kind:     domain.TransportNetwork,
			Address:  "http://127.0.0.1:9101",
			Capacity: 4,
		}); err != nil {
			t.Fatalf("Register %s failed: %v", id, err)
		}
		if err := reg.UpdateHealth(id, registry.HealthUpdate{State: domain.HealthHealthy}); err != nil {
			t.Fatalf("UpdateHealth %s failed: %v", id, err)
		}
	}

	net := &scriptedTransport{
		kind:     domain.TransportNetwork,
		behavior: make(map[string]error),
		tickets:  make(map[string]string),
	}
	file := &scriptedTransport{kind: domain.TransportFile, behavior: make(map[string]error), tickets: make(map[string]string)}
	tracker := &fakeTracker{}
	audit := &memAudit{}
	att := &memAttempts{}

	r := New(pool.NewManager(reg, testLogger()), net, file, att, audit, tracker, cfg, testLogger())
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return &fixture{router: r, reg: reg, net: net, tracker: tracker, audit: audit, att: att}
}

func testRequest(corrID string) domain.DispatchRequest {
	return domain.DispatchRequest{
		CorrelationID: corrID,
		AccountID:     "acct-9",
		Pool:          domain.PoolLive,
		Symbol:        "EURUSD",
		Side:          domain.SideBuy,
		Volume:        0.01,
		CreatedAt:     time.Now(),
		Deadline:      time.Now().Add(time.Minute),
	}
}

func TestDeliver_FirstTerminalAcks(t *testing.T) {
	f := newFixture(t, Config{}, "t1")
	f.net.tickets["t1"] = "98765"

	res, err := f.router.Deliver(context.Background(), testRequest("c1"))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if res.Status != domain.DeliveryDelivered {
		t.Fatalf("status = %s, want delivered", res.Status)
	}
	if res.TerminalID != "t1" || res.Ticket != "98765" || res.Attempts != 1 {
		t.Errorf("result = %+v", res)
	}

	// Slot released after ack.
	term, _ := f.reg.Get("t1")
	if term.Assigned != 0 {
		t.Errorf("assigned = %d after successful delivery, want 0", term.Assigned)
	}

	if len(f.tracker.tracked) != 1 || f.tracker.tracked[0] != "c1" {
		t.Errorf("tracked = %v, want [c1]", f.tracker.tracked)
	}
}

// TestDeliver_FailoverToThirdTerminal covers the canonical failover path:
// two terminals refuse at the transport level, the third acks, and the total
// attempt count is three.
func TestDeliver_FailoverToThirdTerminal(t *testing.T) {
	f := newFixture(t, Config{MaxRetriesPerTerminal: 0}, "t1", "t2", "t3")
	f.net.behavior["t1"] = fmt.Errorf("refused: %w", domain.ErrTransportUnavailable)
	f.net.behavior["t2"] = fmt.Errorf("refused: %w", domain.ErrTransportUnavailable)
	f.net.tickets["t3"] = "42"

	res, err := f.router.Deliver(context.Background(), testRequest("c1"))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if res.Status != domain.DeliveryDelivered {
		t.Fatalf("status = %s, want delivered (reason %s)", res.Status, res.Reason)
	}
	if res.TerminalID != "t3" {
		t.Errorf("terminal = %s, want t3", res.TerminalID)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}

	// Every reservation released, including the failed ones.
	for _, id := range []string{"t1", "t2", "t3"} {
		term, _ := f.reg.Get(id)
		if term.Assigned != 0 {
			t.Errorf("terminal %s assigned = %d, want 0", id, term.Assigned)
		}
	}
}

func TestDeliver_RetriesSameTerminalThenFailsOver(t *testing.T) {
	f := newFixture(t, Config{MaxRetriesPerTerminal: 2, MaxFailovers: 2}, "t1", "t2")
	f.net.behavior["t1"] = fmt.Errorf("flaky: %w", domain.ErrTransportUnavailable)
	f.net.tickets["t2"] = "7"

	res, err := f.router.Deliver(context.Background(), testRequest("c1"))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if res.Status != domain.DeliveryDelivered || res.TerminalID != "t2" {
		t.Fatalf("result = %+v", res)
	}
	// 3 tries on t1 (initial + 2 retries), then 1 on t2.
	if res.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", res.Attempts)
	}

	attempts, _ := f.att.ListByCorrelationID(context.Background(), "c1")
	if len(attempts) != 4 {
		t.Fatalf("recorded attempts = %d, want 4", len(attempts))
	}
	for i, a := range attempts {
		if a.Number != i+1 {
			t.Errorf("attempt %d has number %d, want monotone", i, a.Number)
		}
	}
}

func TestDeliver_RejectionStopsRetryAndFailover(t *testing.T) {
	f := newFixture(t, Config{MaxRetriesPerTerminal: 2, MaxFailovers: 3}, "t1", "t2")
	f.net.behavior["t1"] = fmt.Errorf("invalid symbol: %w", domain.ErrTerminalRejected)
	f.net.tickets["t2"] = "7"

	res, err := f.router.Deliver(context.Background(), testRequest("c1"))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if res.Status != domain.DeliveryFailed || !res.Rejected {
		t.Fatalf("result = %+v, want rejected failure", res)
	}
	// One attempt only: no same-terminal retry, no failover for bad input.
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
	// t2 must stay assignable for honest traffic: t1's call was the only one.
	if f.net.callCount() != 1 {
		t.Errorf("transport calls = %d, want 1", f.net.callCount())
	}
}

func TestDeliver_AllCandidatesExhausted(t *testing.T) {
	f := newFixture(t, Config{MaxRetriesPerTerminal: 0, MaxFailovers: 3}, "t1", "t2")
	f.net.behavior["t1"] = fmt.Errorf("down: %w", domain.ErrTransportUnavailable)
	f.net.behavior["t2"] = fmt.Errorf("down: %w", domain.ErrTransportUnavailable)

	res, err := f.router.Deliver(context.Background(), testRequest("c1"))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if res.Status != domain.DeliveryFailed || res.Rejected {
		t.Fatalf("result = %+v, want transport failure", res)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d, want 2 (one per candidate)", res.Attempts)
	}

	entries, _ := f.audit.List(context.Background(), domain.ListOpts{})
	if len(entries) != 1 || entries[0].Event != "delivery_failed" {
		t.Errorf("audit entries = %+v, want one delivery_failed", entries)
	}
}

func TestDeliver_ExpiredDeadlineConsumesNoCapacity(t *testing.T) {
	f := newFixture(t, Config{}, "t1")
	req := testRequest("c1")
	req.Deadline = time.Now().Add(-time.Second)

	res, err := f.router.Deliver(context.Background(), req)
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if res.Status != domain.DeliveryFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if res.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", res.Attempts)
	}
	if f.net.callCount() != 0 {
		t.Errorf("transport called %d times for expired request", f.net.callCount())
	}
	term, _ := f.reg.Get("t1")
	if term.Assigned != 0 {
		t.Errorf("assigned = %d, want 0", term.Assigned)
	}
}

func TestDeliver_NoCapacity(t *testing.T) {
	f := newFixture(t, Config{})
	// Pool is empty: immediate capacity failure.
	res, err := f.router.Deliver(context.Background(), testRequest("c1"))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if res.Status != domain.DeliveryFailed || res.Attempts != 0 {
		t.Errorf("result = %+v, want failed with no attempts", res)
	}
}

// TestDeliver_SequentialPerCorrelationID verifies the single-pending-attempt
// invariant: a second Deliver for an in-flight id is refused outright.
func TestDeliver_SequentialPerCorrelationID(t *testing.T) {
	f := newFixture(t, Config{AttemptTimeout: 5 * time.Second}, "t1")
	f.net.sleeps = 200 * time.Millisecond
	f.net.tickets["t1"] = "1"

	started := make(chan struct{})
	done := make(chan domain.DeliveryResult, 1)
	go func() {
		close(started)
		res, _ := f.router.Deliver(context.Background(), testRequest("c1"))
		done <- res
	}()

	<-started
	time.Sleep(50 * time.Millisecond) // let the first delivery reach the transport

	_, err := f.router.Deliver(context.Background(), testRequest("c1"))
	if err == nil {
		t.Error("concurrent redelivery of an in-flight correlation id succeeded")
	}

	res := <-done
	if res.Status != domain.DeliveryDelivered {
		t.Fatalf("first delivery = %+v", res)
	}

	// Once resolved, the id may be dispatched again.
	if _, err := f.router.Deliver(context.Background(), testRequest("c1")); err != nil {
		t.Errorf("redelivery after resolution failed: %v", err)
	}
}

func TestDeliver_ConcurrentDistinctIDs(t *testing.T) {
	f := newFixture(t, Config{}, "t1", "t2")
	f.net.tickets["t1"] = "1"
	f.net.tickets["t2"] = "2"

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.router.Deliver(context.Background(), testRequest(fmt.Sprintf("c%d", i)))
			if err != nil {
				errs <- err
				return
			}
			if res.Status != domain.DeliveryDelivered {
				errs <- fmt.Errorf("dispatch %d not delivered: %s", i, res.Reason)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Cap: 500 * time.Millisecond}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 500 * time.Millisecond}, // capped
		{10, 500 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := b.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}

	if got := (Backoff{}).Delay(3); got != 0 {
		t.Errorf("zero backoff Delay = %s, want 0", got)
	}
}

// fakeLocks mimics the distributed lock: a held key refuses acquisition.
type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
	fail     error // non-nil forces Acquire to fail with this error
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	f.held[key] = true
	f.acquired = append(f.acquired, key)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
	}, nil
}

func TestDeliver_DistributedLockRefusesHeldID(t *testing.T) {
	f := newFixture(t, Config{}, "t1")
	f.net.tickets["t1"] = "1"
	locks := &fakeLocks{held: map[string]bool{"dispatch:c1": true}}
	f.router.WithLockManager(locks)

	_, err := f.router.Deliver(context.Background(), testRequest("c1"))
	if !errors.Is(err, domain.ErrDispatchInFlight) {
		t.Fatalf("err = %v, want ErrDispatchInFlight", err)
	}

	// A different correlation id is unaffected and releases its lock after.
	res, err := f.router.Deliver(context.Background(), testRequest("c2"))
	if err != nil || res.Status != domain.DeliveryDelivered {
		t.Fatalf("c2: res=%+v err=%v", res, err)
	}
	if locks.held["dispatch:c2"] {
		t.Error("lock for c2 not released after delivery")
	}
}

func TestDeliver_LockBackendFailureDoesNotBlockDelivery(t *testing.T) {
	f := newFixture(t, Config{}, "t1")
	f.net.tickets["t1"] = "1"
	f.router.WithLockManager(&fakeLocks{fail: fmt.Errorf("redis: connection refused")})

	res, err := f.router.Deliver(context.Background(), testRequest("c1"))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if res.Status != domain.DeliveryDelivered {
		t.Fatalf("status = %s, want delivered", res.Status)
	}
}

// fakeAlerts records notifications handed to the collaborator.
type fakeAlerts struct {
	mu    sync.Mutex
	kinds []domain.NotifyKind
	accts []string
	last  map[string]string
}

func (f *fakeAlerts) Notify(_ context.Context, accountID string, kind domain.NotifyKind, payload map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	f.accts = append(f.accts, accountID)
	f.last = payload
	return nil
}

func TestDeliver_RejectionNotifiesTradeRejected(t *testing.T) {
	f := newFixture(t, Config{MaxRetriesPerTerminal: 2}, "t1", "t2")
	f.net.behavior["t1"] = fmt.Errorf("invalid symbol: %w", domain.ErrTerminalRejected)
	alerts := &fakeAlerts{}
	f.router.WithNotifier(alerts)

	res, err := f.router.Deliver(context.Background(), testRequest("c1"))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if !res.Rejected {
		t.Fatalf("result = %+v, want rejected", res)
	}

	if len(alerts.kinds) != 1 || alerts.kinds[0] != domain.NotifyTradeRejected {
		t.Fatalf("notifications = %v, want one trade_rejected", alerts.kinds)
	}
	if alerts.accts[0] != "acct-9" {
		t.Errorf("account = %q, want acct-9", alerts.accts[0])
	}
	if alerts.last["correlation_id"] != "c1" || alerts.last["reason"] == "" {
		t.Errorf("payload = %v", alerts.last)
	}
}

func TestDeliver_ExhaustionNotifiesDeliveryFailed(t *testing.T) {
	f := newFixture(t, Config{MaxFailovers: 2, MaxRetriesPerTerminal: 0}, "t1", "t2")
	f.net.behavior["t1"] = fmt.Errorf("refused: %w", domain.ErrTransportUnavailable)
	f.net.behavior["t2"] = fmt.Errorf("refused: %w", domain.ErrTransportUnavailable)
	alerts := &fakeAlerts{}
	f.router.WithNotifier(alerts)

	res, err := f.router.Deliver(context.Background(), testRequest("c1"))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if res.Status != domain.DeliveryFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}

	if len(alerts.kinds) != 1 || alerts.kinds[0] != domain.NotifyDeliveryFailed {
		t.Fatalf("notifications = %v, want one delivery_failed", alerts.kinds)
	}
	if alerts.last["attempts"] != "2" {
		t.Errorf("attempts = %q, want 2", alerts.last["attempts"])
	}
}

func TestDeliver_SuccessSendsNoNotification(t *testing.T) {
	f := newFixture(t, Config{}, "t1")
	f.net.tickets["t1"] = "7"
	alerts := &fakeAlerts{}
	f.router.WithNotifier(alerts)

	if _, err := f.router.Deliver(context.Background(), testRequest("c1")); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if len(alerts.kinds) != 0 {
		t.Errorf("notifications = %v, want none on success", alerts.kinds)
	}
}
