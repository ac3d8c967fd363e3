package handler

import (
	"github.com/gin-gonic/gin"

	"checkpointfeed/internal/ingest"
)

// statusBody is the envelope for /status routes. State is the scheduler state
// when the payload was read.
type statusBody[T any] struct {
	OK    bool           `json:"ok"`
	State ingest.State   `json:"state,omitempty"`
	Data  T              `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error string         `json:"error,omitempty"`
}

// healthBody is returned by /healthz and /readyz.
type healthBody struct {
	Status string       `json:"status"`
	State  ingest.State `json:"state,omitempty"`
}

func writeStatus[T any](c *gin.Context, code int, state ingest.State, data T, meta map[string]any) {
	c.JSON(code, statusBody[T]{OK: true, State: state, Data: data, Meta: meta})
}

func writeStatusError(c *gin.Context, code int, msg string) {
	c.JSON(code, statusBody[struct{}]{Error: msg})
}

func writeHealth(c *gin.Context, code int, status string, state ingest.State) {
	c.JSON(code, healthBody{Status: status, State: state})
}
