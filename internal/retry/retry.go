package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var ErrExhausted = errors.New("retry attempts exhausted")

// Options controls capped exponential backoff.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Name labels log lines.
	Name   string
	Logger *zap.Logger
}

// permanent marks an error that must not be retried.
type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent wraps err so that Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 10 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 2 * time.Minute
	}
	if o.Multiplier < 1 {
		o.Multiplier = 2
	}
	return o
}

// Delay returns the wait before the given retry (1-based).
func (o Options) Delay(retry int) time.Duration {
	o = o.withDefaults()
	d := o.InitialDelay
	for i := 1; i < retry; i++ {
		d = time.Duration(float64(d) * o.Multiplier)
		if d >= o.MaxDelay {
			return o.MaxDelay
		}
	}
	if d > o.MaxDelay {
		d = o.MaxDelay
	}
	return d
}

// Do runs op until it succeeds, returns a permanent error, the attempts run
// out, or ctx is done.
func Do(ctx context.Context, opts Options, op func(context.Context) error) error {
	opts = opts.withDefaults()
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		var p *permanent
		if errors.As(err, &p) {
			return p.err
		}
		lastErr = err
		if attempt == opts.MaxAttempts {
			break
		}
		delay := opts.Delay(attempt)
		if opts.Logger != nil {
			opts.Logger.Warn("operation failed, retrying",
				zap.String("op", opts.Name),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", opts.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, opts.MaxAttempts, lastErr)
}
