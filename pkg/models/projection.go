package models

import (
	"fmt"
	"time"
)

// Projection is the document replicated to the content-addressed store for a
// record. It omits user_id and the sync bookkeeping columns.
type Projection struct {
	AgentID     string    `cbor:"agent_id" json:"agent_id"`
	DataPayload any       `cbor:"data_payload" json:"data_payload"`
	Timestamp   time.Time `cbor:"timestamp" json:"timestamp"`
}

// NewProjection builds the projection of r. The timestamp is the record's
// creation time in UTC.
func NewProjection(r *Record) (*Projection, error) {
	payload, err := r.DataPayload.Decode()
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", r.ID, err)
	}
	return &Projection{
		AgentID:     r.AgentID,
		DataPayload: payload,
		Timestamp:   r.CreatedAt.UTC(),
	}, nil
}

// SyncEvent is published when a record transitions to synced.
type SyncEvent struct {
	RecordID    RecordID  `json:"record_id"`
	AgentID     string    `json:"agent_id"`
	UserID      string    `json:"user_id"`
	ContentHash string    `json:"content_hash"`
	SyncedAt    time.Time `json:"synced_at"`
}

// CycleResult summarizes one run of the sync engine.
//
// Unresolved counts records whose content was written (or whose write failed)
// but whose final status could not be persisted; they remain pending and are
// picked up again by a later cycle.
type CycleResult struct {
	Processed  int   `json:"processed"`
	Synced     int   `json:"synced"`
	Failed     int   `json:"failed"`
	Unresolved int   `json:"unresolved"`
	DurationMS int64 `json:"duration_ms"`
}
