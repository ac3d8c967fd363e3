package cursor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"checkpointfeed/internal/models"
)

const (
	channelScopePrefix = "channel:"
	statsScope         = "stats"
	offsetScope        = "update_offset"
)

// PostgresStore keeps one sync_state row per channel plus a stats row.
type PostgresStore struct {
	DB *gorm.DB
	// CloseFn releases the underlying pool.
	CloseFn func() error
}

func (s *PostgresStore) Load(ctx context.Context) (models.MonitorState, error) {
	if s == nil || s.DB == nil {
		return models.NewMonitorState(), fmt.Errorf("postgres cursor store not configured")
	}
	var rows []models.SyncState
	err := s.DB.WithContext(ctx).
		Where("scope = ? OR scope LIKE ?", statsScope, channelScopePrefix+"%").
		Find(&rows).Error
	if err != nil {
		return models.NewMonitorState(), fmt.Errorf("load sync_state: %w", err)
	}
	return stateFromRows(rows)
}

func (s *PostgresStore) Save(ctx context.Context, st models.MonitorState) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("postgres cursor store not configured")
	}
	if st.SavedAt.IsZero() {
		st.SavedAt = time.Now().UTC()
	}
	rows, err := rowsFromState(st)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "scope"}},
				DoUpdates: clause.AssignmentColumns([]string{"cursor", "last_success_at", "last_attempt_at", "last_error", "stats_json"}),
			}).Create(&rows[i]).Error
			if err != nil {
				return fmt.Errorf("upsert sync_state %s: %w", rows[i].Scope, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Close() error {
	if s == nil || s.CloseFn == nil {
		return nil
	}
	return s.CloseFn()
}

func rowsFromState(st models.MonitorState) ([]models.SyncState, error) {
	st = normalize(st)
	saved := st.SavedAt.UTC()
	rows := make([]models.SyncState, 0, len(st.LastMessageIDs)+1)
	for ch, id := range st.LastMessageIDs {
		cur := strconv.FormatInt(id, 10)
		rows = append(rows, models.SyncState{
			Scope:         channelScopePrefix + ch,
			Cursor:        &cur,
			LastAttemptAt: &saved,
		})
	}
	if st.UpdateOffset > 0 {
		off := strconv.FormatInt(st.UpdateOffset, 10)
		rows = append(rows, models.SyncState{Scope: offsetScope, Cursor: &off, LastAttemptAt: &saved})
	}
	stats, err := json.Marshal(st.Stats)
	if err != nil {
		return nil, fmt.Errorf("encode stats: %w", err)
	}
	rows = append(rows, models.SyncState{
		Scope:         statsScope,
		LastSuccessAt: &saved,
		LastAttemptAt: &saved,
		LastError:     st.Stats.LastError,
		StatsJSON:     datatypes.JSON(stats),
	})
	return rows, nil
}

func stateFromRows(rows []models.SyncState) (models.MonitorState, error) {
	st := models.NewMonitorState()
	var corrupt []string
	for _, row := range rows {
		switch {
		case row.Scope == statsScope:
			if row.LastSuccessAt != nil {
				st.SavedAt = row.LastSuccessAt.UTC()
			}
			if len(row.StatsJSON) == 0 {
				continue
			}
			if err := json.Unmarshal(row.StatsJSON, &st.Stats); err != nil {
				st.Stats = models.MonitorStats{}
				corrupt = append(corrupt, row.Scope)
			}
		case row.Scope == offsetScope:
			if row.Cursor == nil {
				continue
			}
			off, err := strconv.ParseInt(*row.Cursor, 10, 64)
			if err != nil || off < 0 {
				corrupt = append(corrupt, row.Scope)
				continue
			}
			st.UpdateOffset = off
		case strings.HasPrefix(row.Scope, channelScopePrefix):
			if row.Cursor == nil {
				continue
			}
			id, err := strconv.ParseInt(*row.Cursor, 10, 64)
			if err != nil || id < 0 {
				corrupt = append(corrupt, row.Scope)
				continue
			}
			st.LastMessageIDs[strings.TrimPrefix(row.Scope, channelScopePrefix)] = id
		}
	}
	if len(corrupt) > 0 {
		return models.NewMonitorState(), fmt.Errorf("%w: rows %s", ErrStateCorrupt, strings.Join(corrupt, ","))
	}
	return st, nil
}
