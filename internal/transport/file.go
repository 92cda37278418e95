package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// File delivers signals by dropping JSON files into the terminal's shared
// directory. The write-to-temp-then-rename pattern guarantees the terminal
// agent never observes a partially written file; the rename succeeding is
// the ack. Terminals consume files asynchronously so no read-back happens.
type File struct {
	logger *slog.Logger
}

// NewFile creates a File transport.
func NewFile(logger *slog.Logger) *File {
	return &File{logger: logger.With(slog.String("component", "file_transport"))}
}

// Kind reports the transport kind.
func (f *File) Kind() domain.TransportKind { return domain.TransportFile }

// Deliver writes <drop>/<correlation_id>.sig atomically. All failures are
// transport-class: a full disk or missing mount is an availability problem,
// not a rejection.
func (f *File) Deliver(_ context.Context, t domain.Terminal, req domain.DispatchRequest) (Ack, error) {
	if t.DropDir == "" {
		return Ack{}, fmt.Errorf("transport: deliver %s to %s: no drop dir: %w",
			req.CorrelationID, t.ID, domain.ErrTransportUnavailable)
	}

	payload := signalPayload{
		CorrelationID: req.CorrelationID,
		AccountID:     req.AccountID,
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Volume:        req.Volume,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
	}
	if !req.Deadline.IsZero() {
		payload.DeadlineMs = req.Deadline.UnixMilli()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Ack{}, fmt.Errorf("transport: marshal signal %s: %w", req.CorrelationID, err)
	}

	final := filepath.Join(t.DropDir, req.CorrelationID+".sig")
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Ack{}, fmt.Errorf("transport: write %s: %v: %w",
			tmp, err, domain.ErrTransportUnavailable)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return Ack{}, fmt.Errorf("transport: publish %s: %v: %w",
			final, err, domain.ErrTransportUnavailable)
	}

	f.logger.Debug("signal dropped",
		slog.String("correlation_id", req.CorrelationID),
		slog.String("terminal_id", t.ID),
		slog.String("path", final),
	)
	// File terminals assign tickets asynchronously; the ack carries none.
	return Ack{}, nil
}
