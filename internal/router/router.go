// Package router delivers dispatch requests to terminals with bounded
// per-terminal retry and cross-terminal failover. It never mutates trade
// records; it only reports resolved dispatches to the reconciler.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelfx/sigbridge/internal/domain"
	"github.com/kestrelfx/sigbridge/internal/pool"
	"github.com/kestrelfx/sigbridge/internal/transport"
)

// DispatchTracker is the reconciler-facing hook: a successfully delivered
// correlation id is registered as awaiting terminal results.
type DispatchTracker interface {
	TrackDispatch(ctx context.Context, req domain.DispatchRequest, terminalID, ticket string) error
}

// Config controls retry and failover bounds.
type Config struct {
	MaxFailovers          int           // terminal selections per dispatch, default 3
	MaxRetriesPerTerminal int           // retries after the first try, default 2
	AttemptTimeout        time.Duration // per-attempt bound, default 10s
	Backoff               Backoff
}

func (c Config) withDefaults() Config {
	if c.MaxFailovers <= 0 {
		c.MaxFailovers = 3
	}
	if c.MaxRetriesPerTerminal < 0 {
		c.MaxRetriesPerTerminal = 2
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff
	}
	return c
}

// Router routes dispatch requests. Deliver is safe for concurrent use
// across correlation ids; a second Deliver for an id still in flight is
// refused so attempts per id stay strictly sequential.
type Router struct {
	pools    *pool.Manager
	network  transport.Transport
	file     transport.Transport
	attempts domain.AttemptStore
	audit    domain.AuditStore
	tracker  DispatchTracker
	cfg      Config
	logger   *slog.Logger

	locks  domain.LockManager
	notify domain.Notifier

	sleep sleepFunc
	now   func() time.Time

	inflightMu sync.Mutex
	inflight   map[string]bool
}

// New creates a Router. attempts and audit may not be nil; pass the memory
// stores when durability is not configured.
func New(
	pools *pool.Manager,
	network, file transport.Transport,
	attempts domain.AttemptStore,
	audit domain.AuditStore,
	tracker DispatchTracker,
	cfg Config,
	logger *slog.Logger,
) *Router {
	return &Router{
		pools:    pools,
		network:  network,
		file:     file,
		attempts: attempts,
		audit:    audit,
		tracker:  tracker,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(slog.String("component", "router")),
		sleep:    realSleep,
		now:      time.Now,
		inflight: make(map[string]bool),
	}
}

// WithLockManager extends dispatch admission across router replicas sharing
// one terminal fleet. The in-process inflight set still applies; the
// distributed lock covers the replicas this instance cannot see.
func (r *Router) WithLockManager(lm domain.LockManager) *Router {
	r.locks = lm
	return r
}

// WithNotifier makes the router report terminal dispatch outcomes: a
// delivery that fails every option, and semantic rejections.
func (r *Router) WithNotifier(n domain.Notifier) *Router {
	r.notify = n
	return r
}

// Deliver routes one dispatch request. The returned result always reflects
// the final outcome; the error return is reserved for caller mistakes
// (missing correlation id, concurrent redelivery of the same id).
func (r *Router) Deliver(ctx context.Context, req domain.DispatchRequest) (domain.DeliveryResult, error) {
	if req.CorrelationID == "" {
		return domain.DeliveryResult{}, fmt.Errorf("router: deliver: missing correlation id")
	}
	if !req.Pool.Valid() {
		return domain.DeliveryResult{}, fmt.Errorf("router: deliver %s: invalid pool %q", req.CorrelationID, req.Pool)
	}

	if !r.markInflight(req.CorrelationID) {
		return domain.DeliveryResult{}, fmt.Errorf("router: deliver %s: %w", req.CorrelationID, domain.ErrDispatchInFlight)
	}
	defer r.clearInflight(req.CorrelationID)

	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, "dispatch:"+req.CorrelationID, r.dispatchBudget())
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			return domain.DeliveryResult{}, fmt.Errorf("router: deliver %s: %w", req.CorrelationID, domain.ErrDispatchInFlight)
		case err != nil:
			// Lock backend trouble must not stop delivery; the in-process
			// guard still holds for this instance.
			r.logger.Warn("dispatch lock unavailable",
				slog.String("correlation_id", req.CorrelationID),
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	result := domain.DeliveryResult{
		CorrelationID: req.CorrelationID,
		Status:        domain.DeliveryFailed,
	}
	tried := make([]string, 0, r.cfg.MaxFailovers)

	for failover := 0; failover < r.cfg.MaxFailovers; failover++ {
		if req.Expired(r.now()) {
			result.Reason = "deadline expired"
			r.auditFailure(ctx, req, result.Attempts, domain.ErrDeadlineExpired)
			r.notifyOutcome(ctx, req, domain.NotifyDeliveryFailed, result)
			return result, nil
		}

		term, err := r.pools.Assign(req.Pool, "", tried...)
		if err != nil {
			if errors.Is(err, domain.ErrNoCapacity) {
				result.Reason = "no terminal capacity"
				r.auditFailure(ctx, req, result.Attempts, err)
				r.notifyOutcome(ctx, req, domain.NotifyDeliveryFailed, result)
				return result, nil
			}
			return result, fmt.Errorf("router: deliver %s: %w", req.CorrelationID, err)
		}
		tried = append(tried, term.ID)

		ack, outcome := r.deliverToTerminal(ctx, req, term, &result)
		switch outcome {
		case outcomeDelivered:
			// Delivery, not execution, consumes the slot.
			r.release(term.ID)
			result.Status = domain.DeliveryDelivered
			result.TerminalID = term.ID
			result.Ticket = ack.Ticket
			result.Rejected = false
			result.Reason = ""
			if r.tracker != nil {
				if err := r.tracker.TrackDispatch(ctx, req, term.ID, ack.Ticket); err != nil {
					r.logger.Error("track dispatch failed",
						slog.String("correlation_id", req.CorrelationID),
						slog.String("error", err.Error()),
					)
				}
			}
			return result, nil

		case outcomeRejected:
			// Semantic rejection: the input is invalid, so retrying it
			// against another terminal would just fail again.
			r.release(term.ID)
			result.Rejected = true
			r.auditFailure(ctx, req, result.Attempts, domain.ErrTerminalRejected)
			r.notifyOutcome(ctx, req, domain.NotifyTradeRejected, result)
			return result, nil

		case outcomeDeadline:
			r.release(term.ID)
			result.Reason = "deadline expired"
			r.auditFailure(ctx, req, result.Attempts, domain.ErrDeadlineExpired)
			r.notifyOutcome(ctx, req, domain.NotifyDeliveryFailed, result)
			return result, nil

		case outcomeExhausted:
			// Transport-class failures used up this terminal; free its
			// slot and fail over.
			r.release(term.ID)
		}
	}

	if result.Reason == "" {
		result.Reason = "all failover candidates exhausted"
	}
	r.auditFailure(ctx, req, result.Attempts, domain.ErrTransportUnavailable)
	r.notifyOutcome(ctx, req, domain.NotifyDeliveryFailed, result)
	return result, nil
}

// notifyOutcome reports a terminal dispatch outcome to the notification
// collaborator. Notification is advisory; a sender failure is logged and
// does not change the delivery result.
func (r *Router) notifyOutcome(ctx context.Context, req domain.DispatchRequest, kind domain.NotifyKind, result domain.DeliveryResult) {
	if r.notify == nil {
		return
	}
	if err := r.notify.Notify(ctx, req.AccountID, kind, map[string]string{
		"correlation_id": req.CorrelationID,
		"symbol":         req.Symbol,
		"reason":         result.Reason,
		"attempts":       strconv.Itoa(result.Attempts),
	}); err != nil {
		r.logger.Warn("dispatch notification failed",
			slog.String("correlation_id", req.CorrelationID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

type terminalOutcome int

const (
	outcomeDelivered terminalOutcome = iota
	outcomeRejected
	outcomeDeadline
	outcomeExhausted
)

// deliverToTerminal tries one terminal up to 1+MaxRetriesPerTerminal times
// with backoff between tries. It records every attempt and updates
// result.Attempts and result.Reason as it goes.
func (r *Router) deliverToTerminal(
	ctx context.Context,
	req domain.DispatchRequest,
	term domain.Terminal,
	result *domain.DeliveryResult,
) (transport.Ack, terminalOutcome) {
	tr := transport.ForTerminal(term, r.network, r.file)

	for try := 0; try <= r.cfg.MaxRetriesPerTerminal; try++ {
		if req.Expired(r.now()) {
			return transport.Ack{}, outcomeDeadline
		}
		if try > 0 {
			if err := r.sleep(ctx, r.cfg.Backoff.Delay(try-1)); err != nil {
				return transport.Ack{}, outcomeDeadline
			}
		}

		result.Attempts++
		attempt := domain.DeliveryAttempt{
			ID:            uuid.New().String(),
			CorrelationID: req.CorrelationID,
			TerminalID:    term.ID,
			Transport:     tr.Kind(),
			Number:        result.Attempts,
			Outcome:       domain.AttemptPending,
			StartedAt:     r.now(),
		}

		attemptCtx, cancel := r.attemptContext(ctx, req)
		ack, err := tr.Deliver(attemptCtx, term, req)
		cancel()

		attempt.EndedAt = r.now()
		switch {
		case err == nil:
			attempt.Outcome = domain.AttemptAck
			r.recordAttempt(ctx, attempt)
			return ack, outcomeDelivered

		case errors.Is(err, domain.ErrTerminalRejected):
			attempt.Outcome = domain.AttemptRejected
			attempt.Detail = err.Error()
			result.Reason = err.Error()
			r.recordAttempt(ctx, attempt)
			return transport.Ack{}, outcomeRejected

		case errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
			attempt.Outcome = domain.AttemptTimeout
			attempt.Detail = err.Error()
			result.Reason = err.Error()
			r.recordAttempt(ctx, attempt)

		default:
			attempt.Outcome = domain.AttemptError
			attempt.Detail = err.Error()
			result.Reason = err.Error()
			r.recordAttempt(ctx, attempt)
		}

		r.logger.Warn("delivery attempt failed",
			slog.String("correlation_id", req.CorrelationID),
			slog.String("terminal_id", term.ID),
			slog.Int("attempt", attempt.Number),
			slog.String("outcome", string(attempt.Outcome)),
		)
	}

	return transport.Ack{}, outcomeExhausted
}

// dispatchBudget is the worst-case wall time one Deliver can spend, used as
// the distributed lock TTL so a crashed instance cannot wedge a correlation
// id forever.
func (r *Router) dispatchBudget() time.Duration {
	perTerminal := time.Duration(r.cfg.MaxRetriesPerTerminal+1)*r.cfg.AttemptTimeout +
		time.Duration(r.cfg.MaxRetriesPerTerminal)*r.cfg.Backoff.Cap
	return time.Duration(r.cfg.MaxFailovers)*perTerminal + 5*time.Second
}

// attemptContext bounds one attempt by both the per-attempt timeout and the
// request deadline, whichever comes first.
func (r *Router) attemptContext(ctx context.Context, req domain.DispatchRequest) (context.Context, context.CancelFunc) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	if req.Deadline.IsZero() {
		return attemptCtx, cancel
	}
	deadlineCtx, cancel2 := context.WithDeadline(attemptCtx, req.Deadline)
	return deadlineCtx, func() { cancel2(); cancel() }
}

func (r *Router) recordAttempt(ctx context.Context, attempt domain.DeliveryAttempt) {
	if err := r.attempts.Record(ctx, attempt); err != nil {
		r.logger.Error("record attempt failed",
			slog.String("correlation_id", attempt.CorrelationID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Router) auditFailure(ctx context.Context, req domain.DispatchRequest, attempts int, cause error) {
	if err := r.audit.Log(ctx, "delivery_failed", map[string]any{
		"correlation_id": req.CorrelationID,
		"account_id":     req.AccountID,
		"symbol":         req.Symbol,
		"attempts":       attempts,
		"cause":          cause.Error(),
	}); err != nil {
		r.logger.Error("audit log failed",
			slog.String("correlation_id", req.CorrelationID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Router) release(terminalID string) {
	if err := r.pools.Release(terminalID); err != nil {
		r.logger.Error("release failed",
			slog.String("terminal_id", terminalID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Router) markInflight(correlationID string) bool {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	if r.inflight[correlationID] {
		return false
	}
	r.inflight[correlationID] = true
	return true
}

func (r *Router) clearInflight(correlationID string) {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	delete(r.inflight, correlationID)
}
