package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kestrelfx/sigbridge/internal/domain"
	"github.com/kestrelfx/sigbridge/internal/feed"
	"github.com/kestrelfx/sigbridge/internal/health"
	"github.com/kestrelfx/sigbridge/internal/reconciler"
	"github.com/kestrelfx/sigbridge/internal/router"
	"github.com/kestrelfx/sigbridge/internal/server"
	"github.com/kestrelfx/sigbridge/internal/server/handler"
	"github.com/kestrelfx/sigbridge/internal/server/ws"
)

// RouteMode runs the delivery path: router, result feeds, and the reconciler.
// Terminals are assumed provisioned and healthy enough to take traffic; run
// full mode when probe-driven health state is wanted too.
func (a *App) RouteMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting route mode")

	g, ctx := errgroup.WithContext(ctx)

	rec := a.buildReconciler(deps)
	rt := a.buildRouter(deps, rec)
	hub := a.startServer(ctx, g, deps, rt)
	a.startResultPipeline(ctx, g, deps, rec, hub)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// MonitorMode runs probes and the read-only admin surface. No signals are
// accepted and no terminal results are consumed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startHealthMonitor(ctx, g, deps)
	hub := a.startServer(ctx, g, deps, nil)
	a.startFleetPublisher(ctx, g, deps, hub)

	return g.Wait()
}

// FullMode runs every subsystem: health probes, routing, result feeds,
// reconciliation, archiving, and the admin server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startHealthMonitor(ctx, g, deps)

	rec := a.buildReconciler(deps)
	rt := a.buildRouter(deps, rec)
	hub := a.startServer(ctx, g, deps, rt)
	a.startResultPipeline(ctx, g, deps, rec, hub)
	a.startFleetPublisher(ctx, g, deps, hub)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

func (a *App) buildReconciler(deps *Dependencies) *reconciler.Reconciler {
	return reconciler.New(
		deps.Trades,
		deps.Audit,
		deps.Rewards,
		deps.Risk,
		deps.Notifier,
		deps.Replay,
		a.logger,
	)
}

func (a *App) buildRouter(deps *Dependencies, tracker router.DispatchTracker) *router.Router {
	rt := router.New(
		deps.Pools,
		deps.Network,
		deps.File,
		deps.Attempts,
		deps.Audit,
		tracker,
		router.Config{
			MaxFailovers:          a.cfg.Router.MaxFailovers,
			MaxRetriesPerTerminal: a.cfg.Router.MaxRetriesPerTerminal,
			AttemptTimeout:        a.cfg.Router.AttemptTimeout.Duration,
			Backoff: router.Backoff{
				Base: a.cfg.Router.BackoffBase.Duration,
				Cap:  a.cfg.Router.BackoffCap.Duration,
			},
		},
		a.logger,
	)
	if deps.Locks != nil {
		rt.WithLockManager(deps.Locks)
	}
	if deps.Notifier != nil {
		rt.WithNotifier(deps.Notifier)
	}
	return rt
}

func (a *App) startHealthMonitor(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	prober := health.ByKind{
		Network: health.NewHTTPProber(a.cfg.Health.Timeout.Duration),
		File:    health.NewFileProber(3 * a.cfg.Health.Interval.Duration),
	}
	mon := health.NewMonitor(deps.Registry, prober, health.Config{
		Interval:      a.cfg.Health.Interval.Duration,
		Timeout:       a.cfg.Health.Timeout.Duration,
		DownThreshold: a.cfg.Health.DownThreshold,
	}, a.logger)
	if deps.Notifier != nil {
		mon = mon.WithNotifier(deps.Notifier)
	}
	g.Go(func() error {
		return mon.Run(ctx)
	})
}

// startResultPipeline runs the feed collector and the reconciler. When hub is
// non-nil, every normalized event is also published to the live stream before
// it reaches the reconciler.
func (a *App) startResultPipeline(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	rec *reconciler.Reconciler,
	hub *ws.Hub,
) {
	sources := feed.SourcesForTerminals(deps.Registry.List(), a.logger)
	collector := feed.NewCollector(sources, deps.Audit, a.logger)

	events := make(chan domain.ResultEvent, 256)
	g.Go(func() error {
		return collector.Run(ctx, events)
	})

	if hub == nil {
		g.Go(func() error {
			return rec.Run(ctx, events)
		})
		return
	}

	teed := make(chan domain.ResultEvent, 256)
	g.Go(func() error {
		defer close(teed)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				hub.Publish(ws.ChannelTrades, string(ev.Kind), ev)
				if ev.Kind == domain.EventError {
					hub.Publish(ws.ChannelAudit, "terminal_error", ev)
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case teed <- ev:
				}
			}
		}
	})
	g.Go(func() error {
		return rec.Run(ctx, teed)
	})
}

// startFleetPublisher pushes a terminal fleet snapshot to the live stream on
// every probe interval so dashboards track health without polling.
func (a *App) startFleetPublisher(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub) {
	if hub == nil {
		return
	}
	interval := a.cfg.Health.Interval.Duration
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				hub.Publish(ws.ChannelTerminals, "fleet_snapshot", deps.Registry.List())
			}
		}
	})
}

// startServer starts the admin HTTP server and its WebSocket hub when the
// server is enabled. dispatcher may be nil (monitor mode); the signals
// endpoint is then not registered. Returns the hub, or nil when disabled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, dispatcher handler.Dispatcher) *ws.Hub {
	if !a.cfg.Server.Enabled {
		return nil
	}

	hub := ws.NewHub(a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, time.Now().UTC(), a.logger),
		Terminals: handler.NewTerminalHandler(deps.Registry, a.logger),
		Trades:    handler.NewTradeHandler(deps.Trades, deps.Attempts, a.logger),
		Audit:     handler.NewAuditHandler(deps.Audit, a.logger),
	}
	if dispatcher != nil {
		handlers.Signals = handler.NewSignalHandler(dispatcher, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.Limiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return hub
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	g.Go(func() error {
		return deps.Archiver.Run(ctx, interval, retention)
	})
}
