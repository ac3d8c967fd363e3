// Package handler exposes the ingestion daemon's operational HTTP surface.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"checkpointfeed/internal/ingest"
	"checkpointfeed/internal/models"
)

// Monitor is the read side of the scheduler.
type Monitor interface {
	State() ingest.State
	Snapshot() models.MonitorState
	Health(ctx context.Context) ingest.HealthReport
}

type HealthHandler struct {
	Monitor Monitor
	Timeout time.Duration
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

func (h *HealthHandler) health(c *gin.Context) {
	if h.Monitor == nil {
		writeHealth(c, http.StatusOK, "ok", "")
		return
	}
	st := h.Monitor.State()
	if st == ingest.StateFailed {
		writeHealth(c, http.StatusServiceUnavailable, "failed", st)
		return
	}
	writeHealth(c, http.StatusOK, "ok", st)
}

func (h *HealthHandler) ready(c *gin.Context) {
	if h.Monitor == nil {
		writeHealth(c, http.StatusServiceUnavailable, "monitor_missing", "")
		return
	}
	st := h.Monitor.State()
	switch st {
	case ingest.StateRunning, ingest.StateSleeping:
	default:
		writeHealth(c, http.StatusServiceUnavailable, "not_running", st)
		return
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()
	report := h.Monitor.Health(ctx)
	if !report.StoreHealthy {
		writeHealth(c, http.StatusServiceUnavailable, "store_unreachable", st)
		return
	}
	if !report.SourceHealthy {
		writeHealth(c, http.StatusServiceUnavailable, "source_unhealthy", st)
		return
	}
	writeHealth(c, http.StatusOK, "ready", st)
}
