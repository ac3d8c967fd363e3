package cursor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkpointfeed/internal/models"
)

func sampleState() models.MonitorState {
	st := models.NewMonitorState()
	st.LastMessageIDs["roads"] = 105
	st.LastMessageIDs["discord:42"] = 7
	run := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := "fetch roads: timeout"
	st.Stats = models.MonitorStats{TotalRuns: 3, TotalMessages: 9, Errors: 1, LastRun: &run, LastError: &msg}
	st.SavedAt = run
	st.UpdateOffset = 13
	return st
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "monitor_state.json"))
	st, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.LastMessageIDs)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "monitor_state.json")
	s := NewFileStore(path)
	want := sampleState()
	require.NoError(t, s.Save(context.Background(), want))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want.LastMessageIDs, got.LastMessageIDs)
	assert.Equal(t, want.Stats.TotalRuns, got.Stats.TotalRuns)
	assert.Equal(t, want.UpdateOffset, got.UpdateOffset)
	assert.Equal(t, *want.Stats.LastError, *got.Stats.LastError)
	assert.True(t, want.SavedAt.Equal(got.SavedAt))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStoreDocumentLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor_state.json")
	require.NoError(t, NewFileStore(path).Save(context.Background(), sampleState()))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Contains(t, doc, "last_message_ids")
	assert.Contains(t, doc, "stats")
	assert.Contains(t, doc, "saved_at")

	var stats map[string]any
	require.NoError(t, json.Unmarshal(doc["stats"], &stats))
	for _, k := range []string{"total_runs", "total_messages", "errors", "last_run", "last_error"} {
		assert.Contains(t, stats, k)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	st, err := NewFileStore(path).Load(context.Background())
	require.ErrorIs(t, err, ErrStateCorrupt)
	assert.NotNil(t, st.LastMessageIDs)
	assert.Empty(t, st.LastMessageIDs)
}

func TestFileStoreOverwriteKeepsLatest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor_state.json")
	s := NewFileStore(path)
	st := sampleState()
	require.NoError(t, s.Save(context.Background(), st))
	st.Advance("roads", 200)
	require.NoError(t, s.Save(context.Background(), st))
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.LastMessageIDs["roads"])
}

func TestPostgresRowsRoundTrip(t *testing.T) {
	want := sampleState()
	rows, err := rowsFromState(want)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	got, err := stateFromRows(rows)
	require.NoError(t, err)
	assert.Equal(t, want.LastMessageIDs, got.LastMessageIDs)
	assert.Equal(t, int64(13), got.UpdateOffset)
	assert.Equal(t, want.Stats.TotalMessages, got.Stats.TotalMessages)
	assert.True(t, want.SavedAt.Equal(got.SavedAt))
}

func TestPostgresRowsCorrupt(t *testing.T) {
	bad := "abc"
	_, err := stateFromRows([]models.SyncState{{Scope: channelScopePrefix + "roads", Cursor: &bad}})
	assert.ErrorIs(t, err, ErrStateCorrupt)
}

func TestRedisDecode(t *testing.T) {
	want := sampleState()
	stats, err := json.Marshal(want.Stats)
	require.NoError(t, err)
	hash := map[string]string{}
	for k, v := range encodeCursors(want.LastMessageIDs) {
		hash[k] = v.(string)
	}
	got, err := decodeRedisState(hash, stats, want.SavedAt.Format(time.RFC3339Nano))
	require.NoError(t, err)
	assert.Equal(t, want.LastMessageIDs, got.LastMessageIDs)
	assert.Equal(t, want.Stats.Errors, got.Stats.Errors)

	_, err = decodeRedisState(map[string]string{"roads": "-4"}, nil, "")
	assert.ErrorIs(t, err, ErrStateCorrupt)

	empty, err := decodeRedisState(nil, nil, "")
	require.NoError(t, err)
	assert.Empty(t, empty.LastMessageIDs)

	require.NoError(t, decodeOffset(&got, "13"))
	assert.Equal(t, int64(13), got.UpdateOffset)
	assert.ErrorIs(t, decodeOffset(&got, "x"), ErrStateCorrupt)
}
