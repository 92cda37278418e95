package pool

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/kestrelfx/sigbridge/internal/domain"
	"github.com/kestrelfx/sigbridge/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (*Manager, *registry.Registry) {
	t.Helper()
	reg := registry.New(testLogger())
	return NewManager(reg, testLogger()), reg
}

func register(t *testing.T, reg *registry.Registry, id string, health domain.HealthState, capacity, assigned int) {
	t.Helper()
	if err := reg.Register(domain.Terminal{
		ID:       id,
		Pool:     domain.PoolLive,
		Kind:     domain.TransportNetwork,
		Address:  "http://127.0.0.1:9101",
		Capacity: capacity,
	}); err != nil {
		t.Fatalf("Register %s failed: %v", id, err)
	}
	if err := reg.UpdateHealth(id, registry.HealthUpdate{State: health}); err != nil {
		t.Fatalf("UpdateHealth %s failed: %v", id, err)
	}
	for i := 0; i < assigned; i++ {
		ok, err := reg.TryReserve(id)
		if err != nil || !ok {
			t.Fatalf("pre-reserve %s: ok=%v err=%v", id, ok, err)
		}
	}
}

func TestAssign_PrefersHealthyOverDegraded(t *testing.T) {
	m, reg := setup(t)
	register(t, reg, "t1", domain.HealthDegraded, 10, 0)
	register(t, reg, "t2", domain.HealthHealthy, 10, 9)

	got, err := m.Assign(domain.PoolLive, "")
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if got.ID != "t2" {
		t.Errorf("assigned %s, want t2 (healthy beats lightly-loaded degraded)", got.ID)
	}
}

func TestAssign_PrefersLowestLoad(t *testing.T) {
	m, reg := setup(t)
	register(t, reg, "t1", domain.HealthHealthy, 10, 5)
	register(t, reg, "t2", domain.HealthHealthy, 10, 2)

	got, err := m.Assign(domain.PoolLive, "")
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if got.ID != "t2" {
		t.Errorf("assigned %s, want t2 (lower load)", got.ID)
	}
}

func TestAssign_TieBreaksByID(t *testing.T) {
	m, reg := setup(t)
	register(t, reg, "t2", domain.HealthHealthy, 4, 1)
	register(t, reg, "t1", domain.HealthHealthy, 4, 1)

	got, err := m.Assign(domain.PoolLive, "")
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if got.ID != "t1" {
		t.Errorf("assigned %s, want t1 (id tiebreak)", got.ID)
	}
}

func TestAssign_ExcludesDownAndFull(t *testing.T) {
	m, reg := setup(t)
	register(t, reg, "t1", domain.HealthDown, 4, 0)
	register(t, reg, "t2", domain.HealthHealthy, 1, 1)

	_, err := m.Assign(domain.PoolLive, "")
	if !errors.Is(err, domain.ErrNoCapacity) {
		t.Errorf("expected ErrNoCapacity, got %v", err)
	}
}

func TestAssign_EmptyPool(t *testing.T) {
	m, _ := setup(t)
	_, err := m.Assign(domain.PoolDemo, "")
	if !errors.Is(err, domain.ErrNoCapacity) {
		t.Errorf("expected ErrNoCapacity, got %v", err)
	}
}

func TestAssign_HonorsHint(t *testing.T) {
	m, reg := setup(t)
	register(t, reg, "t1", domain.HealthHealthy, 4, 0)
	register(t, reg, "t2", domain.HealthHealthy, 4, 2)

	got, err := m.Assign(domain.PoolLive, "t2")
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if got.ID != "t2" {
		t.Errorf("assigned %s, want hinted t2", got.ID)
	}
}

func TestAssign_IgnoresUnassignableHint(t *testing.T) {
	m, reg := setup(t)
	register(t, reg, "t1", domain.HealthHealthy, 4, 0)
	register(t, reg, "t2", domain.HealthDown, 4, 0)

	got, err := m.Assign(domain.PoolLive, "t2")
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if got.ID != "t1" {
		t.Errorf("assigned %s, want t1 (hint is down)", got.ID)
	}
}

func TestAssign_SkipsExcluded(t *testing.T) {
	m, reg := setup(t)
	register(t, reg, "t1", domain.HealthHealthy, 4, 0)
	register(t, reg, "t2", domain.HealthHealthy, 4, 2)

	got, err := m.Assign(domain.PoolLive, "", "t1")
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if got.ID != "t2" {
		t.Errorf("assigned %s, want t2 (t1 excluded)", got.ID)
	}

	_, err = m.Assign(domain.PoolLive, "", "t1", "t2")
	if !errors.Is(err, domain.ErrNoCapacity) {
		t.Errorf("expected ErrNoCapacity with all excluded, got %v", err)
	}
}

func TestAssign_ReservationIsTaken(t *testing.T) {
	m, reg := setup(t)
	register(t, reg, "t1", domain.HealthHealthy, 1, 0)

	first, err := m.Assign(domain.PoolLive, "")
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if first.Assigned != 1 {
		t.Errorf("assigned count = %d, want 1", first.Assigned)
	}

	if _, err := m.Assign(domain.PoolLive, ""); !errors.Is(err, domain.ErrNoCapacity) {
		t.Errorf("second assign on capacity-1 terminal: want ErrNoCapacity, got %v", err)
	}

	if err := m.Release("t1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := m.Assign(domain.PoolLive, ""); err != nil {
		t.Errorf("assign after release failed: %v", err)
	}
}
