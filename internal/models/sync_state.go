package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncState is one row of the postgres cursor backend. Channel rows carry the
// message id in Cursor; the stats row carries StatsJSON.
type SyncState struct {
	Scope         string         `gorm:"primaryKey;type:text;comment:channel or stats scope"`
	Cursor        *string        `gorm:"type:text;comment:last processed message id"`
	LastSuccessAt *time.Time     `gorm:"type:timestamptz"`
	LastAttemptAt *time.Time     `gorm:"type:timestamptz"`
	LastError     *string        `gorm:"type:text"`
	StatsJSON     datatypes.JSON `gorm:"type:jsonb"`
}

func (SyncState) TableName() string {
	return "sync_state"
}
