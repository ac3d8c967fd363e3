// Package source fetches recent channel messages from chat platforms.
package source

import (
	"context"
	"errors"
	"strings"

	"checkpointfeed/internal/models"
)

var (
	ErrAuthentication = errors.New("source authentication failed")
	ErrFetch          = errors.New("source fetch failed")
	ErrUnknownChannel = errors.New("no source serves channel")
	ErrNotStarted     = errors.New("source not authenticated")
)

type Source interface {
	Authenticate(ctx context.Context) error
	// FetchRecent returns up to limit of the newest messages in no
	// particular order.
	FetchRecent(ctx context.Context, channel string, limit int) ([]models.RawMessage, error)
	Close() error
}

// Prober is implemented by sources that can check channel access up front.
type Prober interface {
	Probe(ctx context.Context, channel string) error
}

// Committer is implemented by sources whose upstream keeps messages until the
// caller confirms they are stored. Position is the value that confirms
// everything fetched so far; Commit applies it, also when restoring a
// position saved before a restart.
type Committer interface {
	Position() int64
	Commit(pos int64)
}

// HealthChecker reports whether a source is currently connected.
type HealthChecker interface {
	Healthy() bool
}

// DisplayName shortens a channel reference for logs:
// "https://t.me/roads" becomes "roads".
func DisplayName(channel string) string {
	c := strings.TrimRight(strings.TrimSpace(channel), "/")
	if i := strings.LastIndex(c, "/"); i >= 0 {
		c = c[i+1:]
	}
	return strings.TrimPrefix(c, "@")
}
