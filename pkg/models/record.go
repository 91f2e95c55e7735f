package models

import (
	"time"
)

// SyncStatus is the replication state of a record.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusSyncing marks a record claimed by a running sync cycle. It only
	// appears when the engine runs with claims enabled.
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// AllSyncStatuses lists every status in lifecycle order.
var AllSyncStatuses = []SyncStatus{
	SyncStatusPending,
	SyncStatusSyncing,
	SyncStatusSynced,
	SyncStatusFailed,
}

func (s SyncStatus) String() string { return string(s) }

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSyncing, SyncStatusSynced, SyncStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the sync engine will never move a record out of s.
func (s SyncStatus) Terminal() bool {
	return s == SyncStatusSynced || s == SyncStatusFailed
}

// Record is one agent submission as stored in the ai_agent_data table.
//
// ContentHash is non-nil exactly when SyncStatus is synced.
type Record struct {
	ID           RecordID   `gorm:"primaryKey" json:"id"`
	AgentID      string     `gorm:"not null;index:idx_ai_agent_data_owner,priority:1" json:"agent_id"`
	UserID       string     `gorm:"not null;index:idx_ai_agent_data_owner,priority:2" json:"user_id"`
	DataPayload  Payload    `gorm:"not null" json:"data_payload"`
	SyncStatus   SyncStatus `gorm:"type:varchar(16);not null;default:pending;index" json:"sync_status"`
	ContentHash  *string    `gorm:"type:text" json:"content_hash"`
	SyncError    string     `gorm:"type:text" json:"sync_error,omitempty"`
	SyncAttempts int        `gorm:"not null;default:0" json:"sync_attempts"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;index:idx_ai_agent_data_owner,priority:3" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`
}

// TableName returns the table name for the record model
func (Record) TableName() string {
	return "ai_agent_data"
}

// NewRecord returns a pending record with a fresh ID. Timestamps are left for
// the store to assign.
func NewRecord(agentID, userID string, payload Payload) *Record {
	return &Record{
		ID:          NewRecordID(),
		AgentID:     agentID,
		UserID:      userID,
		DataPayload: payload,
		SyncStatus:  SyncStatusPending,
	}
}

// Hash returns the content hash, or the empty string when the record is not synced.
func (r *Record) Hash() string {
	if r.ContentHash == nil {
		return ""
	}
	return *r.ContentHash
}

// StatusCounts holds the number of records per sync status.
type StatusCounts map[SyncStatus]int64
