package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbengine/internal/arbitrage"
	"github.com/alanyoungcy/arbengine/internal/domain"
)

// ManagerControl is the part of the arbitrage manager exposed over HTTP.
type ManagerControl interface {
	Status() arbitrage.ManagerStatus
	Pause()
	Resume()
}

// ManagerHandler serves the auto-arbitrage manager controls.
type ManagerHandler struct {
	mgr       ManagerControl
	audit     domain.AuditStore
	publisher StatusPublisher
	logger    *slog.Logger
}

// NewManagerHandler creates a ManagerHandler; audit and publisher may be nil.
func NewManagerHandler(mgr ManagerControl, audit domain.AuditStore, publisher StatusPublisher, logger *slog.Logger) *ManagerHandler {
	return &ManagerHandler{
		mgr:       mgr,
		audit:     audit,
		publisher: publisher,
		logger:    logger.With(slog.String("handler", "manager")),
	}
}

// Get returns the manager status.
// GET /api/manager
func (h *ManagerHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Status())
}

// Pause stops the manager from acting on ticks.
// POST /api/manager/pause
func (h *ManagerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.mgr.Pause()
	h.changed(w, r, "manager.pause")
}

// Resume lets the manager act again.
// POST /api/manager/resume
func (h *ManagerHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.mgr.Resume()
	h.changed(w, r, "manager.resume")
}

func (h *ManagerHandler) changed(w http.ResponseWriter, r *http.Request, event string) {
	st := h.mgr.Status()
	if h.audit != nil {
		if err := h.audit.Log(r.Context(), event, map[string]any{"remote": r.RemoteAddr}); err != nil {
			h.logger.WarnContext(r.Context(), "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if h.publisher != nil {
		h.publisher.PublishStatus(r.Context(), "manager", st)
	}
	writeJSON(w, http.StatusOK, st)
}
