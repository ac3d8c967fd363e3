package models

import "time"

// MonitorStats are the cumulative counters persisted alongside cursors.
type MonitorStats struct {
	StartTime     *time.Time `json:"start_time,omitempty"`
	TotalRuns     int64      `json:"total_runs"`
	TotalMessages int64      `json:"total_messages"`
	Errors        int64      `json:"errors"`
	LastRun       *time.Time `json:"last_run"`
	LastError     *string    `json:"last_error"`
	LastRunID     string     `json:"last_run_id,omitempty"`
}

// MonitorState is the durable scheduler state: one cursor per channel plus stats.
type MonitorState struct {
	LastMessageIDs map[string]int64 `json:"last_message_ids"`
	Stats          MonitorStats     `json:"stats"`
	// UpdateOffset is the upstream position confirmed after the last clean
	// cycle. Sources without confirmation leave it zero.
	UpdateOffset int64     `json:"update_offset,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

func NewMonitorState() MonitorState {
	return MonitorState{LastMessageIDs: map[string]int64{}}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s MonitorState) Clone() MonitorState {
	out := s
	out.LastMessageIDs = make(map[string]int64, len(s.LastMessageIDs))
	for k, v := range s.LastMessageIDs {
		out.LastMessageIDs[k] = v
	}
	if s.Stats.StartTime != nil {
		t := *s.Stats.StartTime
		out.Stats.StartTime = &t
	}
	if s.Stats.LastRun != nil {
		t := *s.Stats.LastRun
		out.Stats.LastRun = &t
	}
	if s.Stats.LastError != nil {
		e := *s.Stats.LastError
		out.Stats.LastError = &e
	}
	return out
}

// Advance moves a channel cursor forward. Lower values are ignored.
func (s *MonitorState) Advance(channel string, id int64) bool {
	if s.LastMessageIDs == nil {
		s.LastMessageIDs = map[string]int64{}
	}
	if id <= s.LastMessageIDs[channel] {
		return false
	}
	s.LastMessageIDs[channel] = id
	return true
}
