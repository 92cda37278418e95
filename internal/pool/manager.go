// Package pool selects a concrete terminal within a pool for each dispatch,
// honoring health and capacity.
package pool

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/kestrelfx/sigbridge/internal/domain"
	"github.com/kestrelfx/sigbridge/internal/registry"
)

// maxReserveCandidates bounds how many next-best candidates Assign retries
// when a reservation races and loses.
const maxReserveCandidates = 8

// Manager assigns dispatches to terminals. All admission control goes
// through the registry's TryReserve; the manager only ranks candidates.
type Manager struct {
	reg    *registry.Registry
	logger *slog.Logger
}

// NewManager creates a Manager over the given registry.
func NewManager(reg *registry.Registry, logger *slog.Logger) *Manager {
	return &Manager{
		reg:    reg,
		logger: logger.With(slog.String("component", "pool_manager")),
	}
}

// Assign reserves and returns the best terminal in the pool. Preference:
// healthy over degraded, then lowest load fraction, then terminal id for
// determinism. When a reservation loses a race it falls through to the next
// candidate, up to a bounded number, before reporting no capacity.
//
// The hint, when non-empty, names a preferred terminal; it is honored only
// if that terminal is currently assignable. Terminals in exclude are skipped
// entirely, which is how the router avoids re-selecting a terminal it has
// already exhausted during failover.
func (m *Manager) Assign(pool domain.Pool, hint string, exclude ...string) (domain.Terminal, error) {
	candidates := rank(m.reg.ListByPool(pool), exclude)
	if hint != "" {
		candidates = preferHint(candidates, hint)
	}

	tried := 0
	for _, c := range candidates {
		if tried >= maxReserveCandidates {
			break
		}
		tried++

		ok, err := m.reg.TryReserve(c.ID)
		if err != nil {
			return domain.Terminal{}, fmt.Errorf("pool: assign %s: %w", pool, err)
		}
		if !ok {
			// Lost the race or the terminal went down since listing.
			continue
		}

		m.logger.Debug("terminal assigned",
			slog.String("pool", string(pool)),
			slog.String("terminal_id", c.ID),
			slog.String("health", c.Health.String()),
		)
		// Return a fresh snapshot so the caller sees the reserved count.
		t, err := m.reg.Get(c.ID)
		if err != nil {
			return domain.Terminal{}, fmt.Errorf("pool: assign %s: %w", pool, err)
		}
		return t, nil
	}

	return domain.Terminal{}, fmt.Errorf("pool: assign %s: %w", pool, domain.ErrNoCapacity)
}

// Release frees the terminal's reservation once a delivery resolves. The
// slot models in-flight delivery, not an open position, so callers release
// as soon as the terminal acks or the attempt permanently fails.
func (m *Manager) Release(terminalID string) error {
	if err := m.reg.Release(terminalID); err != nil {
		return fmt.Errorf("pool: release %s: %w", terminalID, err)
	}
	return nil
}

// rank filters to assignable candidates and orders them by preference.
func rank(terminals []domain.Terminal, exclude []string) []domain.Terminal {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	out := make([]domain.Terminal, 0, len(terminals))
	for _, t := range terminals {
		if excluded[t.ID] {
			continue
		}
		if t.Health != domain.HealthHealthy && t.Health != domain.HealthDegraded {
			continue
		}
		if t.Assigned >= t.Capacity {
			continue
		}
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Health != b.Health {
			return a.Health == domain.HealthHealthy
		}
		la, lb := a.LoadFraction(), b.LoadFraction()
		if la != lb {
			return la < lb
		}
		return a.ID < b.ID
	})
	return out
}

// preferHint moves the hinted terminal to the front if it is a candidate.
func preferHint(candidates []domain.Terminal, hint string) []domain.Terminal {
	for i, c := range candidates {
		if c.ID == hint && i > 0 {
			reordered := make([]domain.Terminal, 0, len(candidates))
			reordered = append(reordered, c)
			reordered = append(reordered, candidates[:i]...)
			reordered = append(reordered, candidates[i+1:]...)
			return reordered
		}
	}
	return candidates
}
