package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// Prober issues a single lightweight liveness check against one terminal.
type Prober interface {
	Probe(ctx context.Context, t domain.Terminal) error
}

// HTTPProber probes network terminals via their status endpoint.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates an HTTPProber with the given per-probe timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{Timeout: timeout},
	}
}

// Probe issues GET <address>/status and accepts any 2xx response.
func (p *HTTPProber) Probe(ctx context.Context, t domain.Terminal) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.Address+"/status", nil)
	if err != nil {
		return fmt.Errorf("health: build probe request for %s: %w", t.ID, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("health: probe %s: %w", t.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health: probe %s: status %d", t.ID, resp.StatusCode)
	}
	return nil
}

// FileProber probes file-transport terminals by checking that the drop
// directory is writable territory and that the terminal's heartbeat file is
// fresh. Terminal agents touch <drop>/heartbeat on every poll cycle.
type FileProber struct {
	maxStaleness time.Duration
	now          func() time.Time
}

// NewFileProber creates a FileProber that treats a heartbeat older than
// maxStaleness as a failed probe.
func NewFileProber(maxStaleness time.Duration) *FileProber {
	return &FileProber{maxStaleness: maxStaleness, now: time.Now}
}

// Probe checks drop-dir existence and heartbeat mtime.
func (p *FileProber) Probe(_ context.Context, t domain.Terminal) error {
	if t.DropDir == "" {
		return fmt.Errorf("health: probe %s: no drop dir configured", t.ID)
	}
	info, err := os.Stat(t.DropDir)
	if err != nil {
		return fmt.Errorf("health: probe %s: %w", t.ID, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("health: probe %s: drop path is not a directory", t.ID)
	}

	hb, err := os.Stat(filepath.Join(t.DropDir, "heartbeat"))
	if err != nil {
		return fmt.Errorf("health: probe %s: heartbeat: %w", t.ID, err)
	}
	if age := p.now().Sub(hb.ModTime()); age > p.maxStaleness {
		return fmt.Errorf("health: probe %s: heartbeat stale by %s", t.ID, age)
	}
	return nil
}

// ByKind routes probes to the prober matching the terminal's transport.
type ByKind struct {
	Network Prober
	File    Prober
}

// Probe dispatches to the transport-specific prober.
func (p ByKind) Probe(ctx context.Context, t domain.Terminal) error {
	switch t.Kind {
	case domain.TransportFile:
		return p.File.Probe(ctx, t)
	default:
		return p.Network.Probe(ctx, t)
	}
}
