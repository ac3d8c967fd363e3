package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type StatusHandler struct {
	Monitor Monitor
}

func (h *StatusHandler) Register(r *gin.Engine) {
	r.GET("/status", h.status)
	r.GET("/status/cursors", h.cursors)
}

func (h *StatusHandler) status(c *gin.Context) {
	if h.Monitor == nil {
		writeStatusError(c, http.StatusServiceUnavailable, "monitor unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	report := h.Monitor.Health(ctx)
	writeStatus(c, http.StatusOK, report.State, report, map[string]any{"channels": len(report.Cursors)})
}

func (h *StatusHandler) cursors(c *gin.Context) {
	if h.Monitor == nil {
		writeStatusError(c, http.StatusServiceUnavailable, "monitor unavailable")
		return
	}
	snap := h.Monitor.Snapshot()
	writeStatus(c, http.StatusOK, h.Monitor.State(), snap.LastMessageIDs, map[string]any{"saved_at": snap.SavedAt})
}
