package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checkpointfeed/internal/models"
)

// Router dispatches "discord:" channels to Discord and everything else to
// Telegram. A nil backend leaves its channels unserved.
type Router struct {
	Telegram Source
	Discord  Source
}

func (r *Router) backends() []Source {
	var out []Source
	for _, b := range []Source{r.Telegram, r.Discord} {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

func (r *Router) route(channel string) (Source, error) {
	b := r.Telegram
	if strings.HasPrefix(channel, discordPrefix) {
		b = r.Discord
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return b, nil
}

func (r *Router) Authenticate(ctx context.Context) error {
	var errs []error
	for _, b := range r.backends() {
		if err := b.Authenticate(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) FetchRecent(ctx context.Context, channel string, limit int) ([]models.RawMessage, error) {
	b, err := r.route(channel)
	if err != nil {
		return nil, err
	}
	return b.FetchRecent(ctx, channel, limit)
}

func (r *Router) Probe(ctx context.Context, channel string) error {
	b, err := r.route(channel)
	if err != nil {
		return err
	}
	if p, ok := b.(Prober); ok {
		return p.Probe(ctx, channel)
	}
	return nil
}

// Position and Commit forward to the Telegram backend, the only one that
// needs confirmation.
func (r *Router) Position() int64 {
	if c, ok := r.Telegram.(Committer); ok {
		return c.Position()
	}
	return 0
}

func (r *Router) Commit(pos int64) {
	if c, ok := r.Telegram.(Committer); ok {
		c.Commit(pos)
	}
}

func (r *Router) Healthy() bool {
	for _, b := range r.backends() {
		if h, ok := b.(HealthChecker); ok && !h.Healthy() {
			return false
		}
	}
	return true
}

func (r *Router) Close() error {
	var errs []error
	for _, b := range r.backends() {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
