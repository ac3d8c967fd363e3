package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"checkpointfeed/internal/classifier"
	"checkpointfeed/internal/cursor"
	"checkpointfeed/internal/models"
	"checkpointfeed/internal/noise"
	"checkpointfeed/internal/registry"
	"checkpointfeed/internal/retry"
	"checkpointfeed/internal/source"
)

type fakeSource struct {
	mu           sync.Mutex
	msgs         map[string][]models.RawMessage
	errs         map[string]error
	authFailures int
	authCalls    int
	closeCalls   int
	probed       []string
	fetched      chan string
	pos          int64
	commits      []int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{msgs: map[string][]models.RawMessage{}, errs: map[string]error{}}
}

func (f *fakeSource) set(channel string, msgs ...models.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs[channel] = msgs
}

func (f *fakeSource) Authenticate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	if f.authCalls <= f.authFailures {
		return source.ErrAuthentication
	}
	return nil
}

func (f *fakeSource) FetchRecent(_ context.Context, channel string, limit int) ([]models.RawMessage, error) {
	f.mu.Lock()
	err := f.errs[channel]
	msgs := append([]models.RawMessage(nil), f.msgs[channel]...)
	signal := f.fetched
	f.mu.Unlock()
	if signal != nil {
		select {
		case signal <- channel:
		default:
		}
	}
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	for i := range msgs {
		msgs[i].ChannelID = channel
	}
	return msgs, nil
}

func (f *fakeSource) Probe(_ context.Context, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, channel)
	if f.errs[channel] != nil {
		return f.errs[channel]
	}
	return nil
}

func (f *fakeSource) Position() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

func (f *fakeSource) Commit(pos int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, pos)
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

type fakeEvents struct {
	mu          sync.Mutex
	stored      map[string]map[int64]models.ClassifiedEvent
	persistErrs []error
	connectErr  error
	closeCalls  int
	writes      int
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{stored: map[string]map[int64]models.ClassifiedEvent{}}
}

func (f *fakeEvents) Connect(context.Context) error { return f.connectErr }

func (f *fakeEvents) Persist(_ context.Context, events []models.ClassifiedEvent) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.persistErrs) > 0 {
		err := f.persistErrs[0]
		f.persistErrs = f.persistErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	f.writes += len(events)
	for _, ev := range events {
		if f.stored[ev.SourceChannel] == nil {
			f.stored[ev.SourceChannel] = map[int64]models.ClassifiedEvent{}
		}
		f.stored[ev.SourceChannel][ev.MessageID] = ev
	}
	return len(events), nil
}

func (f *fakeEvents) Ping(context.Context) error { return nil }

func (f *fakeEvents) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.stored {
		n += int64(len(m))
	}
	return n, nil
}

func (f *fakeEvents) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeEvents) ids(channel string) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for id := range f.stored[channel] {
		out = append(out, id)
	}
	return out
}

var errWrite = errors.New("write failed")

func msg(id int64, text string) models.RawMessage {
	return models.RawMessage{MessageID: id, Text: text, Date: time.Unix(1714564800+id, 0)}
}

func statePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "monitor_state.json")
}

func newScheduler(t *testing.T, src source.Source, ev EventStore, path string, channels ...string) *Scheduler {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)
	cls, err := classifier.New(reg, true)
	require.NoError(t, err)
	nf, err := noise.Default()
	require.NoError(t, err)
	return &Scheduler{
		Source:     src,
		Events:     ev,
		Cursors:    cursor.NewFileStore(path),
		Classifier: cls,
		Noise:      nf,
		Options: Options{
			Channels:     channels,
			PollInterval: time.Hour,
			MessageLimit: 50,
			Init:         retry.Options{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		},
	}
}

func loadState(t *testing.T, path string) models.MonitorState {
	t.Helper()
	st, err := cursor.NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	return st
}
