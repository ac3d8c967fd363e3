package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"checkpointfeed/internal/models"
)

// RedisStore keeps cursors in a hash and stats in a JSON string, written in
// one MULTI block.
type RedisStore struct {
	Client *redis.Client
	Prefix string
}

func NewRedisStore(opt *redis.Options, prefix string) *RedisStore {
	return &RedisStore{Client: redis.NewClient(opt), Prefix: prefix}
}

func (s *RedisStore) key(name string) string {
	p := strings.TrimSuffix(s.Prefix, ":")
	if p == "" {
		p = "checkpointfeed"
	}
	return p + ":" + name
}

func (s *RedisStore) Load(ctx context.Context) (models.MonitorState, error) {
	hash, err := s.Client.HGetAll(ctx, s.key("cursors")).Result()
	if err != nil {
		return models.NewMonitorState(), fmt.Errorf("load cursors: %w", err)
	}
	stats, err := s.Client.Get(ctx, s.key("stats")).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.NewMonitorState(), fmt.Errorf("load stats: %w", err)
	}
	savedAt, err := s.Client.Get(ctx, s.key("saved_at")).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.NewMonitorState(), fmt.Errorf("load saved_at: %w", err)
	}
	offset, err := s.Client.Get(ctx, s.key("update_offset")).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.NewMonitorState(), fmt.Errorf("load update_offset: %w", err)
	}
	st, err := decodeRedisState(hash, stats, savedAt)
	if err != nil {
		return st, err
	}
	return st, decodeOffset(&st, offset)
}

func (s *RedisStore) Save(ctx context.Context, st models.MonitorState) error {
	if st.SavedAt.IsZero() {
		st.SavedAt = time.Now().UTC()
	}
	st = normalize(st)
	stats, err := json.Marshal(st.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	_, err = s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key("cursors"))
		if fields := encodeCursors(st.LastMessageIDs); len(fields) > 0 {
			pipe.HSet(ctx, s.key("cursors"), fields)
		}
		pipe.Set(ctx, s.key("stats"), stats, 0)
		pipe.Set(ctx, s.key("saved_at"), st.SavedAt.UTC().Format(time.RFC3339Nano), 0)
		pipe.Set(ctx, s.key("update_offset"), strconv.FormatInt(st.UpdateOffset, 10), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}

func encodeCursors(ids map[string]int64) map[string]any {
	out := make(map[string]any, len(ids))
	for ch, id := range ids {
		out[ch] = strconv.FormatInt(id, 10)
	}
	return out
}

func decodeRedisState(hash map[string]string, stats []byte, savedAt string) (models.MonitorState, error) {
	st := models.NewMonitorState()
	for ch, raw := range hash {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			return models.NewMonitorState(), fmt.Errorf("%w: cursor %s=%q", ErrStateCorrupt, ch, raw)
		}
		st.LastMessageIDs[ch] = id
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &st.Stats); err != nil {
			return models.NewMonitorState(), fmt.Errorf("%w: stats: %v", ErrStateCorrupt, err)
		}
	}
	if savedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, savedAt)
		if err != nil {
			return models.NewMonitorState(), fmt.Errorf("%w: saved_at %q", ErrStateCorrupt, savedAt)
		}
		st.SavedAt = t.UTC()
	}
	return st, nil
}

func decodeOffset(st *models.MonitorState, raw string) error {
	if raw == "" {
		return nil
	}
	off, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || off < 0 {
		*st = models.NewMonitorState()
		return fmt.Errorf("%w: update_offset %q", ErrStateCorrupt, raw)
	}
	st.UpdateOffset = off
	return nil
}
