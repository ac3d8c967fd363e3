package ingest

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkpointfeed/internal/cursor"
	"checkpointfeed/internal/models"
	"checkpointfeed/internal/source"
)

func seedCursor(t *testing.T, path, channel string, id int64) {
	t.Helper()
	st := models.NewMonitorState()
	st.LastMessageIDs[channel] = id
	require.NoError(t, cursor.NewFileStore(path).Save(context.Background(), st))
}

func TestNewerThan(t *testing.T) {
	in := []models.RawMessage{msg(105, "a"), msg(98, "b"), msg(101, "c"), msg(103, "d"), msg(101, "dup"), msg(100, "e")}
	got := NewerThan(in, 100)
	var ids []int64
	for _, m := range got {
		ids = append(ids, m.MessageID)
	}
	assert.Equal(t, []int64{101, 103, 105}, ids)
	assert.Empty(t, NewerThan(nil, 0))
}

func TestCycleSkipsMessagesAtOrBelowCursor(t *testing.T) {
	path := statePath(t)
	seedCursor(t, path, "roads", 100)

	src := newFakeSource()
	src.set("roads", msg(98, "المربعة سالكة"), msg(101, "المربعة سالكة"), msg(103, "قلنديا أزمة"), msg(105, "عطارة البلد مغلق"))
	ev := newFakeEvents()
	s := newScheduler(t, src, ev, path, "roads")

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Channels, 1)
	assert.Equal(t, 3, report.Channels[0].New)
	assert.Equal(t, 3, report.Channels[0].Written)
	assert.Equal(t, int64(105), report.Channels[0].Cursor)
	assert.True(t, report.Saved)
	assert.NotEmpty(t, report.RunID)
	assert.Len(t, report.Sample, 3)

	assert.ElementsMatch(t, []int64{101, 103, 105}, ev.ids("roads"))
	st := loadState(t, path)
	assert.Equal(t, int64(105), st.LastMessageIDs["roads"])
	assert.Equal(t, int64(1), st.Stats.TotalRuns)
	assert.Equal(t, int64(3), st.Stats.TotalMessages)
	assert.Equal(t, report.RunID, st.Stats.LastRunID)
	assert.NotNil(t, st.Stats.LastRun)
	assert.NotNil(t, st.Stats.StartTime)
}

func TestClassifiedEventFields(t *testing.T) {
	src := newFakeSource()
	src.set("roads", msg(7, "راس الجورة مغلق❌"))
	ev := newFakeEvents()
	s := newScheduler(t, src, ev, statePath(t), "roads")

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	got := ev.stored["roads"][7]
	assert.Equal(t, "roads", got.SourceChannel)
	assert.Equal(t, "راس الجورة مغلق❌", got.OriginalMessage)
	assert.Equal(t, "راس الجورة", got.CheckpointName)
	assert.Equal(t, models.StatusClosed, got.Status)
	assert.Equal(t, models.DirectionBoth, got.Direction)
	assert.Equal(t, "راس الجورة مغلق", got.CleanedText)
}

func TestNoiseAdvancesCursor(t *testing.T) {
	path := statePath(t)
	src := newFakeSource()
	src.set("roads", msg(5, "شكرا"), msg(6, "مرحبا"))
	ev := newFakeEvents()
	s := newScheduler(t, src, ev, path, "roads")

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Channels[0].Noise)
	assert.Equal(t, 0, report.Channels[0].Written)
	assert.Empty(t, ev.ids("roads"))
	assert.Equal(t, int64(6), loadState(t, path).LastMessageIDs["roads"])
}

func TestMediaOnlyMessageIsNoise(t *testing.T) {
	path := statePath(t)
	src := newFakeSource()
	src.set("roads", models.RawMessage{MessageID: 9, HasMedia: true, Date: time.Unix(1714564809, 0)})
	ev := newFakeEvents()
	s := newScheduler(t, src, ev, path, "roads")

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Channels[0].Noise)
	assert.Zero(t, ev.writes)
	assert.Equal(t, int64(9), loadState(t, path).LastMessageIDs["roads"])
}

func TestRepeatedCycleIsIdempotent(t *testing.T) {
	path := statePath(t)
	src := newFakeSource()
	src.set("roads", msg(30, "المربعة سالكة"), msg(31, "قلنديا أزمة"))
	ev := newFakeEvents()
	s := newScheduler(t, src, ev, path, "roads")

	require.NoError(t, s.Start(context.Background()))
	defer s.Release()

	first := s.RunCycle(context.Background())
	assert.Equal(t, 2, first.Channels[0].Written)
	assert.Equal(t, 2, ev.writes)

	second := s.RunCycle(context.Background())
	assert.Zero(t, second.Channels[0].New)
	assert.Zero(t, second.Channels[0].Written)
	assert.Equal(t, 2, ev.writes)
	assert.Equal(t, int64(31), second.Channels[0].Cursor)

	st := loadState(t, path)
	assert.Equal(t, int64(31), st.LastMessageIDs["roads"])
	assert.Equal(t, int64(2), st.Stats.TotalRuns)
	assert.Equal(t, int64(2), st.Stats.TotalMessages)
}

func TestCleanCycleCommitsUpstreamPosition(t *testing.T) {
	path := statePath(t)
	src := newFakeSource()
	src.pos = 42
	src.set("roads", msg(40, "المربعة سالكة"))
	ev := newFakeEvents()
	s := newScheduler(t, src, ev, path, "roads")

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Saved)
	assert.Equal(t, []int64{42}, src.commits)
	assert.Equal(t, int64(42), loadState(t, path).UpdateOffset)
}

func TestFailedChannelWithholdsCommit(t *testing.T) {
	path := statePath(t)
	src := newFakeSource()
	src.pos = 42
	src.errs["broken"] = source.ErrFetch
	src.set("roads", msg(40, "المربعة سالكة"))
	ev := newFakeEvents()
	s := newScheduler(t, src, ev, path, "broken", "roads")

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, src.commits)
	st := loadState(t, path)
	assert.Zero(t, st.UpdateOffset)
	assert.Equal(t, int64(40), st.LastMessageIDs["roads"])
}

func TestStoreFailureWithholdsCommit(t *testing.T) {
	path := statePath(t)
	src := newFakeSource()
	src.pos = 42
	src.set("roads", msg(40, "المربعة سالكة"))
	ev := newFakeEvents()
	ev.persistErrs = []error{errWrite}
	s := newScheduler(t, src, ev, path, "roads")

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, src.commits)
	assert.Zero(t, loadState(t, path).UpdateOffset)
}

func TestRestartRestoresUpstreamPosition(t *testing.T) {
	path := statePath(t)
	st := models.NewMonitorState()
	st.UpdateOffset = 77
	require.NoError(t, cursor.NewFileStore(path).Save(context.Background(), st))

	src := newFakeSource()
	s := newScheduler(t, src, newFakeEvents(), path, "roads")
	require.NoError(t, s.Start(context.Background()))
	defer s.Release()

	assert.Equal(t, []int64{77}, src.commits)
	assert.Equal(t, int64(77), s.Snapshot().UpdateOffset)
}

func TestFetchFailureIsolatedToChannel(t *testing.T) {
	path := statePath(t)
	src := newFakeSource()
	src.errs["broken"] = source.ErrFetch
	src.set("roads", msg(11, "المربعة سالكة"))
	ev := newFakeEvents()
	s := newScheduler(t, src, ev, path, "broken", "roads")

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Channels, 2)
	assert.ErrorIs(t, report.Channels[0].Err, source.ErrFetch)
	assert.NoError(t, report.Channels[1].Err)
	assert.ElementsMatch(t, []int64{11}, ev.ids("roads"))

	st := loadState(t, path)
	assert.Equal(t, int64(11), st.LastMessageIDs["roads"])
	_, ok := st.LastMessageIDs["broken"]
	assert.False(t, ok)
	assert.Equal(t, int64(1), st.Stats.Errors)
	require.NotNil(t, st.Stats.LastError)
	assert.Contains(t, *st.Stats.LastError, "broken")
}

func TestStoreFailureHoldsCursor(t *testing.T) {
	path := statePath(t)
	src := newFakeSource()
	src.set("roads", msg(20, "المربعة سالكة"), msg(21, "قلنديا أزمة"))
	ev := newFakeEvents()
	ev.persistErrs = []error{errWrite}
	s := newScheduler(t, src, ev, path, "roads")

	require.NoError(t, s.Start(context.Background()))
	defer s.Release()

	first := s.RunCycle(context.Background())
	assert.ErrorIs(t, first.Channels[0].Err, errWrite)
	assert.Empty(t, ev.ids("roads"))
	st := loadState(t, path)
	assert.Zero(t, st.LastMessageIDs["roads"])
	assert.Equal(t, int64(1), st.Stats.Errors)

	second := s.RunCycle(context.Background())
	assert.NoError(t, second.Channels[0].Err)
	assert.ElementsMatch(t, []int64{20, 21}, ev.ids("roads"))
	st = loadState(t, path)
	assert.Equal(t, int64(21), st.LastMessageIDs["roads"])
	assert.Equal(t, int64(2), st.Stats.TotalRuns)
	assert.Equal(t, int64(2), st.Stats.TotalMessages)
}

func TestInitFailureReleasesResources(t *testing.T) {
	src := newFakeSource()
	src.authFailures = 100
	ev := newFakeEvents()
	s := newScheduler(t, src, ev, statePath(t), "roads")

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrInitFailed)
	assert.ErrorIs(t, err, source.ErrAuthentication)
	assert.Equal(t, 3, src.authCalls)
	assert.Equal(t, 1, src.closeCalls)
	assert.Equal(t, 1, ev.closeCalls)
	assert.Equal(t, StateFailed, s.State())

	s.Release()
	assert.Equal(t, 1, src.closeCalls)
}

func TestInitRetriesTransientFailures(t *testing.T) {
	src := newFakeSource()
	src.authFailures = 2
	s := newScheduler(t, src, newFakeEvents(), statePath(t), "roads")

	require.NoError(t, s.Start(context.Background()))
	defer s.Release()
	assert.Equal(t, 3, src.authCalls)
	assert.Equal(t, StateInitializing, s.State())
}

func TestInitStoreConnectFailure(t *testing.T) {
	src := newFakeSource()
	ev := newFakeEvents()
	ev.connectErr = errors.New("no server")
	s := newScheduler(t, src, ev, statePath(t), "roads")

	_, err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrInitFailed)
	assert.Equal(t, 1, src.closeCalls)
	assert.Equal(t, 1, ev.closeCalls)
}

func TestCancelledDuringInit(t *testing.T) {
	src := newFakeSource()
	src.authFailures = 100
	s := newScheduler(t, src, newFakeEvents(), statePath(t), "roads")
	s.Options.Init.InitialDelay = time.Hour
	s.Options.Init.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrInitFailed)
	assert.Equal(t, 1, src.closeCalls)
}

func TestGracefulShutdownDuringSleep(t *testing.T) {
	path := statePath(t)
	src := newFakeSource()
	src.fetched = make(chan string, 1)
	src.set("roads", msg(30, "المربعة سالكة"))
	ev := newFakeEvents()
	s := newScheduler(t, src, ev, path, "roads")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-src.fetched:
	case <-time.After(5 * time.Second):
		t.Fatal("first fetch never happened")
	}
	require.Eventually(t, func() bool { return s.State() == StateSleeping }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, StateStopped, s.State())
	assert.ElementsMatch(t, []int64{30}, ev.ids("roads"))
	assert.Equal(t, int64(30), loadState(t, path).LastMessageIDs["roads"])
	assert.Equal(t, 1, src.closeCalls)
	assert.Equal(t, 1, ev.closeCalls)
}

func TestCycleFinishesAfterCancellation(t *testing.T) {
	path := statePath(t)
	src := newFakeSource()
	src.set("roads", msg(40, "المربعة سالكة"))
	ev := newFakeEvents()
	s := newScheduler(t, src, ev, path, "roads")
	require.NoError(t, s.Start(context.Background()))
	defer s.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := s.RunCycle(ctx)
	assert.NoError(t, report.Channels[0].Err)
	assert.True(t, report.Saved)
	assert.ElementsMatch(t, []int64{40}, ev.ids("roads"))
}

func TestRestartResumesFromSavedCursor(t *testing.T) {
	path := statePath(t)
	src := newFakeSource()
	src.set("roads", msg(50, "المربعة سالكة"), msg(51, "قلنديا أزمة"))

	first := newFakeEvents()
	_, err := newScheduler(t, src, first, path, "roads").RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, first.ids("roads"), 2)

	src.set("roads", msg(50, "المربعة سالكة"), msg(51, "قلنديا أزمة"), msg(52, "عطارة البلد مغلق"))
	second := newFakeEvents()
	report, err := newScheduler(t, src, second, path, "roads").RunOnce(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{52}, second.ids("roads"))
	assert.Equal(t, 1, report.Channels[0].New)

	st := loadState(t, path)
	assert.Equal(t, int64(52), st.LastMessageIDs["roads"])
	assert.Equal(t, int64(2), st.Stats.TotalRuns)
}

func TestCursorNeverMovesBackwards(t *testing.T) {
	path := statePath(t)
	seedCursor(t, path, "roads", 500)
	src := newFakeSource()
	src.set("roads", msg(10, "المربعة سالكة"), msg(499, "قلنديا أزمة"))
	ev := newFakeEvents()

	report, err := newScheduler(t, src, ev, path, "roads").RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Channels[0].New)
	assert.Empty(t, ev.ids("roads"))
	assert.Equal(t, int64(500), loadState(t, path).LastMessageIDs["roads"])
}

func TestConcurrentFetches(t *testing.T) {
	channels := []string{"a", "b", "c", "d", "e"}
	src := newFakeSource()
	for i, ch := range channels {
		src.set(ch, msg(int64(100+i), "المربعة سالكة"))
	}
	ev := newFakeEvents()
	path := statePath(t)
	s := newScheduler(t, src, ev, path, channels...)
	s.Options.FetchConcurrency = 3

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	for i, ch := range channels {
		assert.Equal(t, ch, report.Channels[i].Channel)
		assert.ElementsMatch(t, []int64{int64(100 + i)}, ev.ids(ch))
	}
	assert.Len(t, loadState(t, path).LastMessageIDs, len(channels))
}

func TestCorruptStateStartsEmpty(t *testing.T) {
	path := statePath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	src := newFakeSource()
	src.set("roads", msg(3, "المربعة سالكة"))
	ev := newFakeEvents()

	_, err := newScheduler(t, src, ev, path, "roads").RunOnce(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{3}, ev.ids("roads"))
	assert.Equal(t, int64(3), loadState(t, path).LastMessageIDs["roads"])
}

func TestVerifyChannelsKeepsInaccessible(t *testing.T) {
	src := newFakeSource()
	src.errs["hidden"] = errors.New("forbidden")
	s := newScheduler(t, src, newFakeEvents(), statePath(t), "roads", "hidden")
	s.Options.VerifyChannels = true

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"roads", "hidden"}, src.probed)
	assert.Len(t, report.Channels, 2)
}

func TestHealthReport(t *testing.T) {
	src := newFakeSource()
	src.set("roads", msg(8, "المربعة سالكة"))
	ev := newFakeEvents()
	s := newScheduler(t, src, ev, statePath(t), "roads")
	require.NoError(t, s.Start(context.Background()))
	defer s.Release()
	s.RunCycle(context.Background())

	h := s.Health(context.Background())
	assert.Equal(t, StateRunning, h.State)
	assert.Equal(t, int64(1), h.TotalRuns)
	assert.Equal(t, int64(1), h.TotalMessages)
	assert.True(t, h.SourceHealthy)
	assert.True(t, h.StoreHealthy)
	assert.Equal(t, int64(1), h.StoredEvents)
	assert.Equal(t, int64(8), h.Cursors["roads"])
	s.ReportHealth(context.Background())
}
