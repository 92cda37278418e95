package domain

import "time"

// OrderSide is the direction of a trade instruction.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// DispatchRequest is a scored, authorized trade instruction awaiting delivery
// to an execution terminal. CorrelationID must be unique for the lifetime of
// the in-flight window; reuse is a caller error.
type DispatchRequest struct {
	CorrelationID string
	AccountID     string
	Pool          Pool
	Symbol        string
	Side          OrderSide
	Volume        float64
	StopLoss      float64 // 0 = unset
	TakeProfit    float64 // 0 = unset
	CreatedAt     time.Time
	Deadline      time.Time
}

// Expired reports whether the request's delivery deadline has passed.
func (r DispatchRequest) Expired(now time.Time) bool {
	return !r.Deadline.IsZero() && now.After(r.Deadline)
}

// AttemptOutcome is the terminal state of a single delivery attempt.
type AttemptOutcome string

const (
	AttemptPending  AttemptOutcome = "pending"
	AttemptAck      AttemptOutcome = "ack"
	AttemptTimeout  AttemptOutcome = "timeout"
	AttemptRejected AttemptOutcome = "rejected"
	AttemptError    AttemptOutcome = "error"
)

// DeliveryAttempt records one try of delivering a request to one terminal
// over one transport. Attempt numbers increase monotonically per correlation
// id and only one attempt is pending at a time.
type DeliveryAttempt struct {
	ID            string
	CorrelationID string
	TerminalID    string
	Transport     TransportKind
	Number        int
	Outcome       AttemptOutcome
	Detail        string
	StartedAt     time.Time
	EndedAt       time.Time
}

// DeliveryStatus is the final routing outcome for a dispatch request.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryResult is returned to the origination collaborator once routing
// resolves.
type DeliveryResult struct {
	CorrelationID string
	Status        DeliveryStatus
	TerminalID    string // terminal that acked; empty on failure
	Ticket        string // terminal-native ticket when the ack carried one
	Attempts      int
	Rejected      bool   // semantic rejection, not a transport failure
	Reason        string
}
