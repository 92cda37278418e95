package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// TradeHandler serves trade record inspection endpoints.
type TradeHandler struct {
	trades   domain.TradeRecordStore
	attempts domain.AttemptStore
	logger   *slog.Logger
}

// NewTradeHandler creates a TradeHandler over the record and attempt stores.
func NewTradeHandler(trades domain.TradeRecordStore, attempts domain.AttemptStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades:   trades,
		attempts: attempts,
		logger:   logHandler(logger, "trades"),
	}
}

// ListTrades returns trade records filtered by status or account.
// GET /api/trades?status=open   GET /api/trades?account_id=acct-1
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()

	var (
		records []domain.TradeRecord
		err     error
	)
	switch {
	case q.Get("account_id") != "":
		records, err = h.trades.ListByAccount(r.Context(), q.Get("account_id"), opts)
	case q.Get("status") != "":
		records, err = h.trades.ListByStatus(r.Context(), domain.TradeStatus(q.Get("status")), opts)
	default:
		// Open positions are the default operational view.
		records, err = h.trades.ListByStatus(r.Context(), domain.TradeOpen, opts)
	}
	if err != nil {
		h.logger.Error("list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trades": records,
		"count":  len(records),
	})
}

// GetTrade returns one trade record with its delivery attempt history.
// GET /api/trades/{correlation_id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	correlationID := pathParam(r, "correlation_id")

	rec, err := h.trades.GetByCorrelationID(r.Context(), correlationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.Error("get trade failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	attempts, err := h.attempts.ListByCorrelationID(r.Context(), correlationID)
	if err != nil {
		h.logger.Error("list attempts failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trade":    rec,
		"attempts": attempts,
	})
}
