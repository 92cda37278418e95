// Package health runs the periodic terminal liveness loop and owns the
// four-state health machine. It is the only writer of terminal health.
package health

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
	"github.com/kestrelfx/sigbridge/internal/registry"
)

// Config controls probe cadence and the down threshold.
type Config struct {
	Interval      time.Duration // probe period, default 30s
	Timeout       time.Duration // per-probe bound, default 5s
	DownThreshold int           // consecutive failures before DOWN, default 5
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.DownThreshold <= 0 {
		c.DownThreshold = 5
	}
	return c
}

// Monitor probes every registered terminal on a fixed interval and writes
// the resulting state transitions back to the registry. Down terminals keep
// being probed so they can recover; they are only excluded from assignment.
type Monitor struct {
	reg    *registry.Registry
	prober Prober
	cfg    Config
	notify domain.Notifier
	logger *slog.Logger
	now    func() time.Time
}

// NewMonitor creates a Monitor over the given registry and prober.
func NewMonitor(reg *registry.Registry, prober Prober, cfg Config, logger *slog.Logger) *Monitor {
	return &Monitor{
		reg:    reg,
		prober: prober,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "health_monitor")),
		now:    time.Now,
	}
}

// WithNotifier makes the monitor announce DOWN transitions. Only the edge
// fires; a terminal that stays down is not re-announced every sweep.
func (m *Monitor) WithNotifier(n domain.Notifier) *Monitor {
	m.notify = n
	return m
}

// Run probes immediately, then on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.ProbeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.ProbeAll(ctx)
		}
	}
}

// ProbeAll probes every registered terminal concurrently. Each probe carries
// its own timeout so one slow terminal cannot stall the sweep.
func (m *Monitor) ProbeAll(ctx context.Context) {
	terminals := m.reg.List()

	var wg sync.WaitGroup
	for _, t := range terminals {
		wg.Add(1)
		go func(t domain.Terminal) {
			defer wg.Done()
			m.probeOne(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (m *Monitor) probeOne(ctx context.Context, t domain.Terminal) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	err := m.prober.Probe(probeCtx, t)
	cancel()

	at := m.now()
	var up registry.HealthUpdate
	if err == nil {
		up = registry.HealthUpdate{
			State:   transitionOnSuccess(t.Health),
			ProbeAt: at,
			Success: true,
		}
	} else {
		fails := t.ConsecFails + 1
		up = registry.HealthUpdate{
			State:       transitionOnFailure(fails, m.cfg.DownThreshold),
			ConsecFails: fails,
			ProbeAt:     at,
		}
		m.logger.Warn("probe failed",
			slog.String("terminal_id", t.ID),
			slog.Int("consecutive_failures", fails),
			slog.String("error", err.Error()),
		)

		if m.notify != nil && up.State == domain.HealthDown && t.Health != domain.HealthDown {
			if nerr := m.notify.Notify(ctx, "", domain.NotifyTerminalDown, map[string]string{
				"terminal_id":          t.ID,
				"pool":                 string(t.Pool),
				"consecutive_failures": strconv.Itoa(fails),
			}); nerr != nil {
				m.logger.Warn("down notification failed",
					slog.String("terminal_id", t.ID),
					slog.String("error", nerr.Error()),
				)
			}
		}
	}

	if uerr := m.reg.UpdateHealth(t.ID, up); uerr != nil {
		m.logger.Error("health update failed",
			slog.String("terminal_id", t.ID),
			slog.String("error", uerr.Error()),
		)
	}
}

// transitionOnSuccess implements the recovery half of the state machine. A
// down terminal earns its way back through DEGRADED so one lucky probe does
// not immediately restore full traffic.
func transitionOnSuccess(prev domain.HealthState) domain.HealthState {
	switch prev {
	case domain.HealthDown:
		return domain.HealthDegraded
	default:
		return domain.HealthHealthy
	}
}

// transitionOnFailure degrades on the first failure and goes DOWN once the
// consecutive-failure count reaches the threshold.
func transitionOnFailure(consecFails, threshold int) domain.HealthState {
	if consecFails >= threshold {
		return domain.HealthDown
	}
	return domain.HealthDegraded
}
