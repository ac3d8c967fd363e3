// Package ingest runs the polling loop that turns channel messages into
// stored checkpoint events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"checkpointfeed/internal/classifier"
	"checkpointfeed/internal/cursor"
	"checkpointfeed/internal/logger"
	"checkpointfeed/internal/metrics"
	"checkpointfeed/internal/models"
	"checkpointfeed/internal/noise"
	"checkpointfeed/internal/retry"
	"checkpointfeed/internal/source"
)

type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateSleeping     State = "sleeping"
	StateDraining     State = "draining"
	StateStopped      State = "stopped"
	StateFailed       State = "failed"
)

var allStates = []string{
	string(StateIdle), string(StateInitializing), string(StateRunning), string(StateSleeping),
	string(StateDraining), string(StateStopped), string(StateFailed),
}

var ErrInitFailed = errors.New("scheduler initialization failed")

// EventStore persists classified events.
type EventStore interface {
	Connect(ctx context.Context) error
	Persist(ctx context.Context, events []models.ClassifiedEvent) (int, error)
	Close(ctx context.Context) error
}

type Options struct {
	Channels         []string
	PollInterval     time.Duration
	MessageLimit     int
	FetchConcurrency int
	FetchTimeout     time.Duration
	CycleTimeout     time.Duration
	Init             retry.Options
	VerifyChannels   bool
}

// Scheduler owns the cursor map and stats. Only the goroutine running Run
// (or RunOnce) mutates them; Snapshot and Health may be called from others.
type Scheduler struct {
	Source     source.Source
	Events     EventStore
	Cursors    cursor.Store
	Classifier *classifier.Classifier
	Noise      *noise.Filter
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Options    Options
	Now        func() time.Time

	mu      sync.RWMutex
	state   State
	data    models.MonitorState
	started time.Time
	loaded  bool

	releaseOnce sync.Once
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Scheduler) log() *zap.Logger {
	return logger.Or(s.Logger)
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.Metrics.State(string(st), allStates)
}

func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == "" {
		return StateIdle
	}
	return s.state
}

// Snapshot returns a copy of the cursors and stats.
func (s *Scheduler) Snapshot() models.MonitorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Clone()
}

// Run initializes, then alternates cycles and sleeps until ctx is done. The
// cycle in flight at cancellation runs to completion and its state is saved.
// It returns nil on a clean shutdown and wraps ErrInitFailed when startup
// retries are exhausted.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Release()

	for {
		s.RunCycle(ctx)
		if ctx.Err() != nil {
			break
		}
		s.setState(StateSleeping)
		if !s.sleep(ctx) {
			break
		}
	}
	s.setState(StateDraining)
	s.log().Info("shutdown requested, draining")
	s.saveState(context.WithoutCancel(ctx))
	return nil
}

// RunOnce initializes, runs a single cycle and releases resources.
func (s *Scheduler) RunOnce(ctx context.Context) (CycleReport, error) {
	if err := s.Start(ctx); err != nil {
		return CycleReport{}, err
	}
	defer s.Release()
	return s.RunCycle(ctx), nil
}

func (s *Scheduler) sleep(ctx context.Context) bool {
	interval := s.Options.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTimer(interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Start authenticates the source, connects the event store and loads cursors,
// retrying with capped exponential backoff.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.Source == nil || s.Events == nil || s.Cursors == nil {
		return fmt.Errorf("%w: source, event store and cursor store are required", ErrInitFailed)
	}
	s.setState(StateInitializing)
	s.mu.Lock()
	s.started = s.now()
	s.mu.Unlock()

	opts := s.Options.Init
	opts.Logger = s.log()

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"source authenticate", s.Source.Authenticate},
		{"event store connect", s.Events.Connect},
		{"cursor load", s.loadState},
	}
	for _, step := range steps {
		opts.Name = step.name
		if err := retry.Do(ctx, opts, step.fn); err != nil {
			if ctx.Err() != nil {
				s.Release()
				return ctx.Err()
			}
			s.setState(StateFailed)
			s.log().Error("initialization failed", zap.String("step", step.name), zap.Error(err))
			s.Release()
			return fmt.Errorf("%w: %s: %w", ErrInitFailed, step.name, err)
		}
	}

	if s.Options.VerifyChannels {
		s.verifyChannels(ctx)
	}
	s.log().Info("scheduler initialized",
		zap.Int("channels", len(s.Options.Channels)),
		zap.Duration("interval", s.Options.PollInterval),
		zap.Int("limit", s.Options.MessageLimit),
	)
	return nil
}

func (s *Scheduler) loadState(ctx context.Context) error {
	st, err := s.Cursors.Load(ctx)
	if err != nil && !errors.Is(err, cursor.ErrStateCorrupt) {
		return err
	}
	if err != nil {
		s.log().Warn("state corrupt, starting from empty cursors", zap.Error(err))
		s.Metrics.Error("state")
		st = models.NewMonitorState()
	}
	if st.LastMessageIDs == nil {
		st.LastMessageIDs = map[string]int64{}
	}
	s.mu.Lock()
	started := s.started
	st.Stats.StartTime = &started
	s.data = st
	s.loaded = true
	s.mu.Unlock()
	for ch, id := range st.LastMessageIDs {
		s.Metrics.Cursor(ch, id)
	}
	if c, ok := s.Source.(source.Committer); ok && st.UpdateOffset > 0 {
		c.Commit(st.UpdateOffset)
	}
	s.log().Info("state loaded", zap.Int("cursors", len(st.LastMessageIDs)), zap.Int64("total_runs", st.Stats.TotalRuns))
	return nil
}

func (s *Scheduler) verifyChannels(ctx context.Context) {
	p, ok := s.Source.(source.Prober)
	if !ok {
		return
	}
	for _, ch := range s.Options.Channels {
		pctx, cancel := context.WithTimeout(ctx, s.fetchTimeout())
		err := p.Probe(pctx, ch)
		cancel()
		if err != nil {
			s.log().Warn("channel access limited", zap.String("channel", source.DisplayName(ch)), zap.Error(err))
			continue
		}
		s.log().Info("channel verified", zap.String("channel", source.DisplayName(ch)))
	}
}

// Release closes the source, event store and cursor store exactly once.
func (s *Scheduler) Release() {
	s.releaseOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if s.Source != nil {
			if err := s.Source.Close(); err != nil {
				s.log().Warn("source close failed", zap.Error(err))
			}
		}
		if s.Events != nil {
			if err := s.Events.Close(ctx); err != nil {
				s.log().Warn("event store close failed", zap.Error(err))
			}
		}
		if s.Cursors != nil {
			if err := s.Cursors.Close(); err != nil {
				s.log().Warn("cursor store close failed", zap.Error(err))
			}
		}
		if s.State() != StateFailed {
			s.setState(StateStopped)
		}
		s.log().Info("resources released")
	})
}

func (s *Scheduler) fetchTimeout() time.Duration {
	if s.Options.FetchTimeout <= 0 {
		return 30 * time.Second
	}
	return s.Options.FetchTimeout
}

func (s *Scheduler) saveState(ctx context.Context) bool {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return false
	}
	s.data.SavedAt = s.now()
	snap := s.data.Clone()
	s.mu.Unlock()

	if err := s.Cursors.Save(ctx, snap); err != nil {
		s.log().Error("state save failed", zap.Error(err))
		s.Metrics.Error("state")
		s.recordError("state", err)
		return false
	}
	return true
}

func (s *Scheduler) recordError(scope string, err error) {
	msg := fmt.Sprintf("%s: %v", scope, err)
	s.mu.Lock()
	s.data.Stats.Errors++
	s.data.Stats.LastError = &msg
	s.mu.Unlock()
}
