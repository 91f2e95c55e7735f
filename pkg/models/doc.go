// Package models defines the data types shared by every agentdata component.
//
// # Records
//
// [Record] is the unit of ingestion. Agents submit an arbitrary JSON [Payload]
// together with an agent identifier and a user identifier; the Record Store
// persists it with [SyncStatusPending] and the Sync Engine later copies a
// [Projection] of it into the content-addressed store.
//
// The status machine is small and one-directional:
//
//	pending ──▶ synced   (content_hash set)
//	pending ──▶ failed   (content_hash null, sync_error set)
//	pending ──▶ syncing ──▶ synced | failed   (claim mode only)
//
// failed only returns to pending through an explicit operator requeue.
//
// # Typed IDs
//
// [RecordID] wraps a UUID so record identifiers cannot be confused with the
// free-form agent and user identifiers. It implements JSON marshaling,
// database/sql scanning and GORM's data type hook, and can render itself as a
// SurrealDB record ID.
//
// # Projections and events
//
// [Projection] is the document written to the content-addressed store:
// agent_id, data_payload and the record's creation time. [SyncEvent] is what
// subscribers of the notification hub receive when a record reaches synced.
// [CycleResult] summarizes one sync cycle.
package models
