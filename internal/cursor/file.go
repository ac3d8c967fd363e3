package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"checkpointfeed/internal/models"
)

// FileStore keeps state in a single JSON document on disk.
type FileStore struct {
	Path string

	mu sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) Load(ctx context.Context) (models.MonitorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.NewMonitorState(), nil
	}
	if err != nil {
		return models.NewMonitorState(), fmt.Errorf("read state %s: %w", s.Path, err)
	}
	var st models.MonitorState
	if err := json.Unmarshal(b, &st); err != nil {
		return models.NewMonitorState(), fmt.Errorf("%w: %s: %v", ErrStateCorrupt, s.Path, err)
	}
	return normalize(st), nil
}

// Save writes to a temp file in the same directory and renames it over the
// target so readers never observe a partial document.
func (s *FileStore) Save(ctx context.Context, st models.MonitorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.SavedAt.IsZero() {
		st.SavedAt = time.Now().UTC()
	}
	b, err := json.MarshalIndent(normalize(st), "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
