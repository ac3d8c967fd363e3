// Package cursor persists per-channel read positions and run statistics.
package cursor

import (
	"context"
	"errors"

	"checkpointfeed/internal/models"
)

// ErrStateCorrupt is returned alongside an empty state when stored data
// cannot be decoded. Callers continue from empty cursors.
var ErrStateCorrupt = errors.New("cursor state corrupt")

type Store interface {
	// Load returns an empty state when nothing has been saved yet.
	Load(ctx context.Context) (models.MonitorState, error)
	// Save replaces the stored state atomically.
	Save(ctx context.Context, state models.MonitorState) error
	Close() error
}

func normalize(st models.MonitorState) models.MonitorState {
	if st.LastMessageIDs == nil {
		st.LastMessageIDs = map[string]int64{}
	}
	for ch, id := range st.LastMessageIDs {
		if id < 0 {
			delete(st.LastMessageIDs, ch)
		}
	}
	return st
}
