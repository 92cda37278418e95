// Package feed collects raw result lines from every configured terminal,
// normalizes them through the parser, and hands the events to the reconciler
// over a single channel. Network terminals stream over a websocket; file
// terminals are polled through their drop directory.
package feed

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kestrelfx/sigbridge/internal/domain"
	"github.com/kestrelfx/sigbridge/internal/parser"
)

// RawLine is one unparsed terminal output line tagged with its origin.
type RawLine struct {
	TerminalID string
	Text       string
}

// Source produces raw lines for one terminal until the context is cancelled.
type Source interface {
	Run(ctx context.Context, out chan<- RawLine) error
}

// Collector fans in all terminal sources, parses each line, and emits
// normalized events. Parse rejects are audited, never fatal.
type Collector struct {
	sources []Source
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewCollector builds a collector over the given sources.
func NewCollector(sources []Source, audit domain.AuditStore, logger *slog.Logger) *Collector {
	return &Collector{
		sources: sources,
		audit:   audit,
		logger:  logger.With(slog.String("component", "feed")),
	}
}

// Run pumps events into out until ctx is cancelled or every source stops.
// out is not closed by Run; ownership stays with the caller.
func (c *Collector) Run(ctx context.Context, out chan<- domain.ResultEvent) error {
	lines := make(chan RawLine, 256)

	g, ctx := errgroup.WithContext(ctx)
	for _, src := range c.sources {
		g.Go(func() error {
			return src.Run(ctx, lines)
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case line := <-lines:
				c.handleLine(ctx, line, out)
			}
		}
	})
	return g.Wait()
}

func (c *Collector) handleLine(ctx context.Context, line RawLine, out chan<- domain.ResultEvent) {
	ev, perr := parser.Parse(line.Text)
	if perr != nil {
		c.logger.Warn("result line rejected",
			slog.String("terminal_id", line.TerminalID),
			slog.String("reason", perr.Reason),
		)
		if err := c.audit.Log(ctx, "parse_reject", map[string]any{
			"terminal_id": line.TerminalID,
			"reason":      perr.Reason,
			"raw":         perr.Raw,
		}); err != nil {
			c.logger.Error("audit write failed", slog.String("error", err.Error()))
		}
		return
	}

	ev.TerminalID = line.TerminalID
	select {
	case <-ctx.Done():
	case out <- ev:
	}
}

// SourcesForTerminals builds the right source per terminal kind.
func SourcesForTerminals(terminals []domain.Terminal, logger *slog.Logger) []Source {
	sources := make([]Source, 0, len(terminals))
	for _, t := range terminals {
		switch t.Kind {
		case domain.TransportFile:
			if t.DropDir == "" {
				logger.Warn("file terminal without drop dir, no feed", slog.String("terminal_id", t.ID))
				continue
			}
			sources = append(sources, NewDropPoller(t, logger))
		default:
			if t.Feed == "" {
				logger.Warn("network terminal without feed url, no feed", slog.String("terminal_id", t.ID))
				continue
			}
			sources = append(sources, NewWSSource(t, logger))
		}
	}
	return sources
}
