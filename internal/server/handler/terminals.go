package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// TerminalDirectory is the registry surface the terminal endpoints read.
type TerminalDirectory interface {
	List() []domain.Terminal
	ListByPool(pool domain.Pool) []domain.Terminal
	Get(id string) (domain.Terminal, error)
}

// TerminalHandler serves terminal fleet inspection endpoints.
type TerminalHandler struct {
	directory TerminalDirectory
	logger    *slog.Logger
}

// NewTerminalHandler creates a TerminalHandler over the registry.
func NewTerminalHandler(directory TerminalDirectory, logger *slog.Logger) *TerminalHandler {
	return &TerminalHandler{
		directory: directory,
		logger:    logHandler(logger, "terminals"),
	}
}

// terminalView is the JSON shape of a terminal in API responses.
type terminalView struct {
	ID          string  `json:"id"`
	Pool        string  `json:"pool"`
	Broker      string  `json:"broker,omitempty"`
	Kind        string  `json:"kind"`
	Health      string  `json:"health"`
	Capacity    int     `json:"capacity"`
	Assigned    int     `json:"assigned"`
	Load        float64 `json:"load"`
	ConsecFails int     `json:"consec_fails,omitempty"`
	LastProbeAt string  `json:"last_probe_at,omitempty"`
	LastOKAt    string  `json:"last_ok_at,omitempty"`
}

func toTerminalView(t domain.Terminal) terminalView {
	v := terminalView{
		ID:          t.ID,
		Pool:        string(t.Pool),
		Broker:      t.Broker,
		Kind:        string(t.Kind),
		Health:      t.Health.String(),
		Capacity:    t.Capacity,
		Assigned:    t.Assigned,
		Load:        t.LoadFraction(),
		ConsecFails: t.ConsecFails,
	}
	if !t.LastProbeAt.IsZero() {
		v.LastProbeAt = t.LastProbeAt.UTC().Format(time.RFC3339)
	}
	if !t.LastOKAt.IsZero() {
		v.LastOKAt = t.LastOKAt.UTC().Format(time.RFC3339)
	}
	return v
}

// ListTerminals returns the fleet, optionally filtered by pool.
// GET /api/terminals?pool=live
func (h *TerminalHandler) ListTerminals(w http.ResponseWriter, r *http.Request) {
	var terminals []domain.Terminal
	if poolParam := r.URL.Query().Get("pool"); poolParam != "" {
		pool := domain.Pool(poolParam)
		if !pool.Valid() {
			writeError(w, http.StatusBadRequest, "unknown pool "+poolParam)
			return
		}
		terminals = h.directory.ListByPool(pool)
	} else {
		terminals = h.directory.List()
	}

	views := make([]terminalView, len(terminals))
	for i, t := range terminals {
		views[i] = toTerminalView(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"terminals": views,
		"count":     len(views),
	})
}

// GetTerminal returns one terminal by id.
// GET /api/terminals/{id}
func (h *TerminalHandler) GetTerminal(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	t, err := h.directory.Get(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "terminal not found")
			return
		}
		h.logger.Error("get terminal failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toTerminalView(t))
}
