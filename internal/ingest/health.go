package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"checkpointfeed/internal/source"
)

type HealthReport struct {
	State         State            `json:"state"`
	Uptime        string           `json:"uptime"`
	TotalRuns     int64            `json:"total_runs"`
	TotalMessages int64            `json:"total_messages"`
	Errors        int64            `json:"errors"`
	LastRun       *time.Time       `json:"last_run,omitempty"`
	LastError     *string          `json:"last_error,omitempty"`
	Cursors       map[string]int64 `json:"cursors"`
	SourceHealthy bool             `json:"source_healthy"`
	StoreHealthy  bool             `json:"store_healthy"`
	// StoredEvents is -1 when the store cannot report a count.
	StoredEvents int64 `json:"stored_events"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

type counter interface {
	Count(ctx context.Context) (int64, error)
}

// Health gathers stats and probes the source and store connections.
func (s *Scheduler) Health(ctx context.Context) HealthReport {
	snap := s.Snapshot()
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	r := HealthReport{
		State:         s.State(),
		TotalRuns:     snap.Stats.TotalRuns,
		TotalMessages: snap.Stats.TotalMessages,
		Errors:        snap.Stats.Errors,
		LastRun:       snap.Stats.LastRun,
		LastError:     snap.Stats.LastError,
		Cursors:       snap.LastMessageIDs,
		SourceHealthy: true,
		StoredEvents:  -1,
	}
	if !started.IsZero() {
		r.Uptime = s.now().Sub(started).Truncate(time.Second).String()
	}
	if h, ok := s.Source.(source.HealthChecker); ok {
		r.SourceHealthy = h.Healthy()
	}
	if p, ok := s.Events.(pinger); ok {
		r.StoreHealthy = p.Ping(ctx) == nil
	}
	if c, ok := s.Events.(counter); ok && r.StoreHealthy {
		if n, err := c.Count(ctx); err == nil {
			r.StoredEvents = n
		}
	}
	return r
}

// ReportHealth logs a health snapshot; it is scheduled by cron.
func (s *Scheduler) ReportHealth(ctx context.Context) {
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	r := s.Health(hctx)
	fields := []zap.Field{
		zap.String("state", string(r.State)),
		zap.String("uptime", r.Uptime),
		zap.Int64("total_runs", r.TotalRuns),
		zap.Int64("total_messages", r.TotalMessages),
		zap.Int64("errors", r.Errors),
		zap.Bool("source_healthy", r.SourceHealthy),
		zap.Bool("store_healthy", r.StoreHealthy),
		zap.Int64("stored_events", r.StoredEvents),
		zap.Any("cursors", r.Cursors),
	}
	if r.LastError != nil {
		fields = append(fields, zap.String("last_error", *r.LastError))
	}
	if !r.SourceHealthy || !r.StoreHealthy {
		s.log().Warn("health check degraded", fields...)
		return
	}
	s.log().Info("health check", fields...)
}
