// Package registry holds static and dynamic metadata for execution
// terminals and is the single admission-control gate for capacity
// reservations.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// HealthUpdate carries the outcome of one probe cycle for a terminal. The
// health monitor computes the state transition; the registry only stores it.
type HealthUpdate struct {
	State       domain.HealthState
	ConsecFails int
	ProbeAt     time.Time
	Success     bool
}

// entry pairs a terminal with its own lock so reservation on one terminal
// never serializes traffic on another.
type entry struct {
	mu sync.Mutex
	t  domain.Terminal
}

// Registry is an in-process terminal registry. The outer lock guards the map
// only; all terminal mutation happens under the per-entry lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// Register adds a terminal. It returns domain.ErrAlreadyExists if the id is
// taken and rejects terminals with a non-positive capacity or unknown pool.
func (r *Registry) Register(t domain.Terminal) error {
	if t.ID == "" {
		return fmt.Errorf("registry: register: missing terminal id")
	}
	if !t.Pool.Valid() {
		return fmt.Errorf("registry: register %s: invalid pool %q", t.ID, t.Pool)
	}
	if t.Capacity <= 0 {
		return fmt.Errorf("registry: register %s: capacity must be positive", t.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[t.ID]; ok {
		return fmt.Errorf("registry: register %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	t.Assigned = 0
	if t.Health == 0 {
		t.Health = domain.HealthUnknown
	}
	r.entries[t.ID] = &entry{t: t}

	r.logger.Info("terminal registered",
		slog.String("terminal_id", t.ID),
		slog.String("pool", string(t.Pool)),
		slog.String("broker", t.Broker),
		slog.Int("capacity", t.Capacity),
	)
	return nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: terminal %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

// Get returns a snapshot of the terminal with the given id.
func (r *Registry) Get(id string) (domain.Terminal, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.Terminal{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.t, nil
}

// List returns snapshots of all terminals ordered by id.
func (r *Registry) List() []domain.Terminal {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]domain.Terminal, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.t)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListByPool returns snapshots of all terminals in the given pool ordered by id.
func (r *Registry) ListByPool(pool domain.Pool) []domain.Terminal {
	all := r.List()
	out := all[:0]
	for _, t := range all {
		if t.Pool == pool {
			out = append(out, t)
		}
	}
	return out
}

// UpdateHealth stores the outcome of a probe cycle. Only the health monitor
// calls this.
func (r *Registry) UpdateHealth(id string, up HealthUpdate) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	prev := e.t.Health
	e.t.Health = up.State
	e.t.ConsecFails = up.ConsecFails
	e.t.LastProbeAt = up.ProbeAt
	if up.Success {
		e.t.LastOKAt = up.ProbeAt
	}
	e.mu.Unlock()

	if prev != up.State {
		r.logger.Info("terminal health changed",
			slog.String("terminal_id", id),
			slog.String("from", prev.String()),
			slog.String("to", up.State.String()),
		)
	}
	return nil
}

// TryReserve atomically increments the assigned count if the terminal has
// spare capacity and is not down. It reports whether the reservation was
// taken. This is the sole admission gate; callers must pair a successful
// reservation with Release.
func (r *Registry) TryReserve(id string) (bool, error) {
	e, err := r.lookup(id)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.t.Assignable() {
		return false, nil
	}
	e.t.Assigned++
	return true, nil
}

// Release frees one reservation. Releasing below zero is clamped and logged
// rather than panicking; it indicates a double release upstream.
func (r *Registry) Release(id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.t.Assigned <= 0 {
		r.logger.Warn("release without reservation", slog.String("terminal_id", id))
		e.t.Assigned = 0
		return nil
	}
	e.t.Assigned--
	return nil
}
