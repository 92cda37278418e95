package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// WSSource streams result lines from one network terminal's websocket feed.
// Each text message is one line in the terminal's result grammar. The source
// reconnects with exponential backoff and runs until the context ends.
type WSSource struct {
	terminal domain.Terminal
	logger   *slog.Logger

	dial func(ctx context.Context, url string) (*websocket.Conn, error)
}

// NewWSSource creates a source for the terminal's Feed URL.
func NewWSSource(t domain.Terminal, logger *slog.Logger) *WSSource {
	return &WSSource{
		terminal: t,
		logger: logger.With(
			slog.String("component", "ws_feed"),
			slog.String("terminal_id", t.ID),
		),
		dial: func(ctx context.Context, url string) (*websocket.Conn, error) {
			dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
			conn, _, err := dialer.DialContext(ctx, url, nil)
			return conn, err
		},
	}
}

// Run connects and reads until ctx is cancelled, reconnecting on disconnect.
func (s *WSSource) Run(ctx context.Context, out chan<- RawLine) error {
	delay := reconnectDelay
	for {
		err := s.runConnection(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("result feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *WSSource) runConnection(ctx context.Context, out chan<- RawLine) error {
	conn, err := s.dial(ctx, s.terminal.Feed)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", s.terminal.ID, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Ping loop keeps the read deadline moving; it stops with the context
	// or when the connection drops.
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go s.pingLoop(pingCtx, conn)

	// Unblock ReadMessage on cancellation.
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	s.logger.Info("result feed connected", slog.String("url", s.terminal.Feed))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read %s: %w", s.terminal.ID, err)
		}
		for _, line := range strings.Split(string(message), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- RawLine{TerminalID: s.terminal.ID, Text: line}:
			}
		}
	}
}

func (s *WSSource) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
