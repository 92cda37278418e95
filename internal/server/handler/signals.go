package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// Dispatcher is the router surface the signal endpoint submits to.
type Dispatcher interface {
	Deliver(ctx context.Context, req domain.DispatchRequest) (domain.DeliveryResult, error)
}

// SignalHandler accepts dispatch requests over HTTP and hands them to the
// router.
type SignalHandler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(dispatcher Dispatcher, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{
		dispatcher: dispatcher,
		logger:     logHandler(logger, "signals"),
	}
}

// signalRequest is the JSON body of a signal submission.
type signalRequest struct {
	CorrelationID string  `json:"correlation_id"`
	AccountID     string  `json:"account_id"`
	Pool          string  `json:"pool"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Volume        float64 `json:"volume"`
	StopLoss      float64 `json:"stop_loss,omitempty"`
	TakeProfit    float64 `json:"take_profit,omitempty"`
	TTLSeconds    int     `json:"ttl_seconds,omitempty"`
}

// SubmitSignal validates the request, runs delivery synchronously, and
// returns the routing outcome.
// POST /api/signals
func (h *SignalHandler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	var body signalRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, errMsg := body.toDispatchRequest(time.Now())
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	result, err := h.dispatcher.Deliver(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrDispatchInFlight) {
			writeError(w, http.StatusConflict, "dispatch already in flight for correlation id")
			return
		}
		h.logger.Error("deliver failed",
			slog.String("correlation_id", req.CorrelationID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusOK
	if result.Status == domain.DeliveryFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (b signalRequest) toDispatchRequest(now time.Time) (domain.DispatchRequest, string) {
	if b.CorrelationID == "" {
		return domain.DispatchRequest{}, "correlation_id is required"
	}
	pool := domain.Pool(b.Pool)
	if !pool.Valid() {
		return domain.DispatchRequest{}, "pool must be one of trial, demo, live"
	}
	side := domain.OrderSide(b.Side)
	if side != domain.SideBuy && side != domain.SideSell {
		return domain.DispatchRequest{}, "side must be buy or sell"
	}
	if b.Symbol == "" {
		return domain.DispatchRequest{}, "symbol is required"
	}
	if b.Volume <= 0 {
		return domain.DispatchRequest{}, "volume must be positive"
	}

	req := domain.DispatchRequest{
		CorrelationID: b.CorrelationID,
		AccountID:     b.AccountID,
		Pool:          pool,
		Symbol:        b.Symbol,
		Side:          side,
		Volume:        b.Volume,
		StopLoss:      b.StopLoss,
		TakeProfit:    b.TakeProfit,
		CreatedAt:     now,
	}
	if b.TTLSeconds > 0 {
		req.Deadline = now.Add(time.Duration(b.TTLSeconds) * time.Second)
	}
	return req, ""
}
