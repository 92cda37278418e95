package domain

import "time"

// Pool is the account class a terminal serves.
type Pool string

const (
	PoolTrial Pool = "trial"
	PoolDemo  Pool = "demo"
	PoolLive  Pool = "live"
)

// Valid reports whether p is one of the known pools.
func (p Pool) Valid() bool {
	switch p {
	case PoolTrial, PoolDemo, PoolLive:
		return true
	}
	return false
}

// HealthState is the probe-driven liveness state of a terminal.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthDown
)

// String returns the lowercase name of the state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthDown:
		return "down"
	default:
		return "unknown"
	}
}

// TransportKind selects how signals reach a terminal.
type TransportKind string

const (
	TransportNetwork TransportKind = "network"
	TransportFile    TransportKind = "file"
)

// Terminal is a single remote execution endpoint. Static identity fields are
// set at provisioning time; health fields are written only by the health
// monitor and the assigned count only by the registry's reserve/release.
type Terminal struct {
	ID       string
	Pool     Pool
	Broker   string
	Address  string        // base URL for network terminals, ws feed derived from it
	DropDir  string        // shared drop directory for file terminals
	Feed     string        // websocket result feed URL; empty for file terminals
	Kind     TransportKind
	Capacity int

	// Dynamic state. Guarded per terminal by the registry.
	Assigned     int
	Health       HealthState
	ConsecFails  int
	LastProbeAt  time.Time
	LastOKAt     time.Time
}

// LoadFraction returns assigned/capacity for load-balanced selection.
// A zero-capacity terminal is reported as fully loaded.
func (t Terminal) LoadFraction() float64 {
	if t.Capacity <= 0 {
		return 1.0
	}
	return float64(t.Assigned) / float64(t.Capacity)
}

// Assignable reports whether the terminal may accept a new reservation.
func (t Terminal) Assignable() bool {
	return t.Health != HealthDown && t.Assigned < t.Capacity
}
