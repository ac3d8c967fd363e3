package ingest

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"checkpointfeed/internal/models"
	"checkpointfeed/internal/source"
)

// ChannelResult summarizes one channel within a cycle.
type ChannelResult struct {
	Channel string
	Fetched int
	New     int
	Noise   int
	Written int
	Cursor  int64
	Err     error
}

type CycleReport struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Channels []ChannelResult
	Saved    bool
	Sample   []models.ClassifiedEvent
}

func (r CycleReport) Totals() (newMsgs, written, noise, failed int) {
	for _, c := range r.Channels {
		newMsgs += c.New
		written += c.Written
		noise += c.Noise
		if c.Err != nil {
			failed++
		}
	}
	return
}

type fetchResult struct {
	msgs []models.RawMessage
	err  error
}

const sampleSize = 3

// RunCycle polls every channel once and persists state. It finishes even if
// ctx is cancelled midway, bounded by the cycle timeout.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	s.setState(StateRunning)
	report := CycleReport{RunID: uuid.NewString(), Started: s.now()}

	timeout := s.Options.CycleTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	fetched := s.fetchAll(cycleCtx)
	committer, _ := s.Source.(source.Committer)
	var pos int64
	if committer != nil {
		pos = committer.Position()
	}

	cursors := s.Snapshot().LastMessageIDs
	for i, ch := range s.Options.Channels {
		res := s.processChannel(cycleCtx, ch, cursors[ch], fetched[i], &report)
		report.Channels = append(report.Channels, res)
	}

	clean := true
	for _, c := range report.Channels {
		if c.Err != nil {
			clean = false
		}
	}

	s.mu.Lock()
	if clean && pos > s.data.UpdateOffset {
		s.data.UpdateOffset = pos
	}
	last := s.now()
	s.data.Stats.TotalRuns++
	s.data.Stats.LastRun = &last
	s.data.Stats.LastRunID = report.RunID
	s.mu.Unlock()

	report.Saved = s.saveState(cycleCtx)
	if report.Saved && clean && pos > 0 {
		committer.Commit(pos)
	}
	report.Duration = s.now().Sub(report.Started)
	s.Metrics.CycleDone(report.Duration, last)
	s.logCycle(report)
	return report
}

// fetchAll runs FetchRecent for every channel with bounded concurrency.
// Results are indexed like Options.Channels.
func (s *Scheduler) fetchAll(ctx context.Context) []fetchResult {
	out := make([]fetchResult, len(s.Options.Channels))
	limit := s.Options.FetchConcurrency
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, ch := range s.Options.Channels {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout())
			defer cancel()
			msgs, err := s.Source.FetchRecent(fctx, ch, s.Options.MessageLimit)
			out[i] = fetchResult{msgs: msgs, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Scheduler) processChannel(ctx context.Context, ch string, last int64, fr fetchResult, report *CycleReport) ChannelResult {
	res := ChannelResult{Channel: ch, Fetched: len(fr.msgs), Cursor: last}
	logger := s.log().With(zap.String("channel", source.DisplayName(ch)), zap.String("run_id", report.RunID))
	if fr.err != nil {
		res.Err = fr.err
		s.recordError(ch, fr.err)
		s.Metrics.Error("fetch")
		logger.Warn("fetch failed", zap.Error(fr.err))
		return res
	}

	fresh := NewerThan(fr.msgs, last)
	res.New = len(fresh)
	if len(fresh) == 0 {
		return res
	}
	s.Metrics.Fetched(ch, len(fresh))

	events := make([]models.ClassifiedEvent, 0, len(fresh))
	for _, m := range fresh {
		body := m.Body()
		c := s.Classifier.Classify(body)
		if isNoise, reason := s.Noise.Check(m.Text, c); isNoise {
			res.Noise++
			s.Metrics.Noise(reason)
			logger.Debug("noise dropped", zap.Int64("message_id", m.MessageID), zap.String("reason", reason))
			continue
		}
		events = append(events, models.ClassifiedEvent{
			MessageID:       m.MessageID,
			SourceChannel:   ch,
			OriginalMessage: body,
			CheckpointName:  c.Checkpoint,
			CityName:        c.City,
			Status:          c.Status,
			Direction:       c.Direction,
			CleanedText:     c.CleanedText,
			MessageDate:     m.Date,
			MessageDateText: m.DateText,
		})
	}

	if len(events) > 0 {
		n, err := s.Events.Persist(ctx, events)
		res.Written = n
		s.Metrics.Written(ch, n)
		if err != nil {
			res.Err = err
			s.recordError(ch, err)
			s.Metrics.Error("store")
			logger.Error("persist failed, cursor held", zap.Int("written", n), zap.Int("events", len(events)), zap.Error(err))
			return res
		}
		for _, ev := range events {
			if len(report.Sample) >= sampleSize {
				break
			}
			report.Sample = append(report.Sample, ev)
		}
	}

	maxID := fresh[len(fresh)-1].MessageID
	s.mu.Lock()
	advanced := s.data.Advance(ch, maxID)
	s.data.Stats.TotalMessages += int64(res.Written)
	s.mu.Unlock()
	if advanced {
		res.Cursor = maxID
		s.Metrics.Cursor(ch, maxID)
	}
	return res
}

// NewerThan returns messages with ids above cursor, sorted by id, with
// duplicate ids removed.
func NewerThan(msgs []models.RawMessage, cursor int64) []models.RawMessage {
	out := make([]models.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.MessageID > cursor {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	uniq := out[:0]
	for _, m := range out {
		if n := len(uniq); n > 0 && uniq[n-1].MessageID == m.MessageID {
			continue
		}
		uniq = append(uniq, m)
	}
	return uniq
}

func (s *Scheduler) logCycle(r CycleReport) {
	newMsgs, written, noise, failed := r.Totals()
	fields := []zap.Field{
		zap.String("run_id", r.RunID),
		zap.Duration("duration", r.Duration),
		zap.Int("new", newMsgs),
		zap.Int("written", written),
		zap.Int("noise", noise),
		zap.Int("failed_channels", failed),
		zap.Bool("saved", r.Saved),
	}
	s.log().Info("cycle complete", fields...)
	for _, ev := range r.Sample {
		s.log().Info("new event",
			zap.String("run_id", r.RunID),
			zap.String("channel", source.DisplayName(ev.SourceChannel)),
			zap.String("checkpoint", ev.CheckpointName),
			zap.String("status", ev.Status.String()),
			zap.String("direction", ev.Direction.String()),
		)
	}
}
