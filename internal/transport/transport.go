// Package transport abstracts how a dispatch request reaches a terminal so
// the router's retry and failover logic stays transport-agnostic.
package transport

import (
	"context"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// Ack is a terminal's acceptance of a dispatch request. Ticket is the
// terminal-native order id when the terminal assigns one synchronously;
// file-transport acks never carry one.
type Ack struct {
	Ticket string
}

// Transport delivers one dispatch request to one terminal. Implementations
// classify failures through the domain error taxonomy:
//
//   - domain.ErrTransportUnavailable for timeouts, connection failures, and
//     5xx-equivalent responses (retryable, triggers failover);
//   - domain.ErrTerminalRejected for explicit semantic rejections (never
//     retried, never failed over).
type Transport interface {
	Deliver(ctx context.Context, t domain.Terminal, req domain.DispatchRequest) (Ack, error)
	Kind() domain.TransportKind
}

// ForTerminal picks the transport matching the terminal's configured kind.
func ForTerminal(t domain.Terminal, network, file Transport) Transport {
	if t.Kind == domain.TransportFile {
		return file
	}
	return network
}
