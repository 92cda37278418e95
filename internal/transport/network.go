package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kestrelfx/sigbridge/internal/crypto"
	"github.com/kestrelfx/sigbridge/internal/domain"
)

// signalsPath is the terminal bridge endpoint that accepts signals.
const signalsPath = "/signals"

// signalPayload is the JSON body POSTed to a network terminal.
type signalPayload struct {
	CorrelationID string  `json:"correlation_id"`
	AccountID     string  `json:"account_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Volume        float64 `json:"volume"`
	StopLoss      float64 `json:"stop_loss,omitempty"`
	TakeProfit    float64 `json:"take_profit,omitempty"`
	DeadlineMs    int64   `json:"deadline_ms,omitempty"`
}

// ackPayload is the terminal's response body.
type ackPayload struct {
	Accepted  bool   `json:"accepted"`
	Ticket    string `json:"ticket"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

// Network delivers signals over HTTP with HMAC-signed requests. Per-attempt
// timeouts are the caller's responsibility via ctx; the client itself only
// bounds the worst case.
type Network struct {
	client *http.Client
	auth   *crypto.HMACAuth
	logger *slog.Logger
}

// NewNetwork creates a Network transport. auth may be nil when terminals
// run unauthenticated (trial fixtures, tests).
func NewNetwork(auth *crypto.HMACAuth, maxTimeout time.Duration, logger *slog.Logger) *Network {
	return &Network{
		client: &http.Client{Timeout: maxTimeout},
		auth:   auth,
		logger: logger.With(slog.String("component", "network_transport")),
	}
}

// Kind reports the transport kind.
func (n *Network) Kind() domain.TransportKind { return domain.TransportNetwork }

// Deliver POSTs the request to the terminal's signals endpoint.
func (n *Network) Deliver(ctx context.Context, t domain.Terminal, req domain.DispatchRequest) (Ack, error) {
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

	body, err := json.Marshal(payload)
	if err != nil {
		return Ack{}, fmt.Errorf("transport: marshal signal %s: %w", req.CorrelationID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Address+signalsPath, bytes.NewReader(body))
	if err != nil {
		return Ack{}, fmt.Errorf("transport: build request %s: %w", req.CorrelationID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if n.auth != nil {
		for k, v := range n.auth.Headers(http.MethodPost, signalsPath, string(body)) {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := n.client.Do(httpReq)
	if err != nil {
		// Timeout, refused connection, DNS failure: all transport-class.
		return Ack{}, fmt.Errorf("transport: deliver %s to %s: %v: %w",
			req.CorrelationID, t.ID, err, domain.ErrTransportUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Ack{}, fmt.Errorf("transport: deliver %s to %s: status %d: %w",
			req.CorrelationID, t.ID, resp.StatusCode, domain.ErrTransportUnavailable)
	}
	if resp.StatusCode >= 400 {
		return Ack{}, fmt.Errorf("transport: deliver %s to %s: status %d: %w",
			req.CorrelationID, t.ID, resp.StatusCode, domain.ErrTerminalRejected)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Ack{}, fmt.Errorf("transport: read ack %s: %v: %w",
			req.CorrelationID, err, domain.ErrTransportUnavailable)
	}

	var ack ackPayload
	if err := json.Unmarshal(respBody, &ack); err != nil {
		return Ack{}, fmt.Errorf("transport: decode ack %s: %v: %w",
			req.CorrelationID, err, domain.ErrTransportUnavailable)
	}

	if !ack.Accepted {
		if ack.Retryable {
			return Ack{}, fmt.Errorf("transport: deliver %s to %s: %s: %w",
				req.CorrelationID, t.ID, ack.Reason, domain.ErrTransportUnavailable)
		}
		return Ack{}, fmt.Errorf("transport: deliver %s to %s: %s: %w",
			req.CorrelationID, t.ID, ack.Reason, domain.ErrTerminalRejected)
	}

	n.logger.Debug("signal acked",
		slog.String("correlation_id", req.CorrelationID),
		slog.String("terminal_id", t.ID),
		slog.String("ticket", ack.Ticket),
	)
	return Ack{Ticket: ack.Ticket}, nil
}
