package feed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// defaultPollInterval is how often the drop directory is scanned.
const defaultPollInterval = 2 * time.Second

// DropPoller tails a file terminal's drop directory. The terminal writes
// result batches as *.res files (written to a temp name, then renamed, so a
// visible .res file is always complete). Each file is consumed exactly once:
// read, emitted line by line, then removed.
type DropPoller struct {
	terminal domain.Terminal
	interval time.Duration
	logger   *slog.Logger
}

// NewDropPoller creates a poller over the terminal's DropDir.
func NewDropPoller(t domain.Terminal, logger *slog.Logger) *DropPoller {
	return &DropPoller{
		terminal: t,
		interval: defaultPollInterval,
		logger: logger.With(
			slog.String("component", "drop_feed"),
			slog.String("terminal_id", t.ID),
		),
	}
}

// Run polls until ctx is cancelled.
func (p *DropPoller) Run(ctx context.Context, out chan<- RawLine) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.sweep(ctx, out); err != nil {
			p.logger.Warn("drop dir sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sweep consumes every .res file currently in the drop directory, oldest
// name first so batch ordering is preserved.
func (p *DropPoller) sweep(ctx context.Context, out chan<- RawLine) error {
	entries, err := os.ReadDir(p.terminal.DropDir)
	if err != nil {
		return fmt.Errorf("feed: read drop dir %s: %w", p.terminal.DropDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".res" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(p.terminal.DropDir, name)
		if err := p.consume(ctx, path, out); err != nil {
			return err
		}
	}
	return nil
}

func (p *DropPoller) consume(ctx context.Context, path string, out chan<- RawLine) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("feed: read %s: %w", path, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- RawLine{TerminalID: p.terminal.ID, Text: line}:
		}
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("feed: remove %s: %w", path, err)
	}
	p.logger.Debug("result batch consumed", slog.String("file", filepath.Base(path)))
	return nil
}
