// Package agentdata implements the agent data service: an HTTP API that
// stores agent submissions in the ai_agent_data table and a sync engine that
// replicates them to a content-addressed store.
//
// # Record lifecycle
//
// A submission accepted by POST /data is stored with sync_status "pending".
// Each sync cycle selects up to Sync.BatchSize pending records, oldest first,
// writes a projection of each to the content store under the record ID and
// moves the record to "synced" (with the returned content hash) or "failed"
// (with the error). A failed record stays failed until an operator requeues
// it. A record whose final status cannot be persisted stays pending and is
// retried by a later cycle.
//
// # Running
//
//	agentdata migrate --database-url sqlite://agentdata.db
//	agentdata run --database-url sqlite://agentdata.db --content-store memory
//
// Cycles run on Schedule.Schedule (default every five minutes) and on
// POST /sync. Only one cycle runs at a time; a manual trigger during a cycle
// gets 409 Conflict.
//
// # Maintenance mode
//
// With ReadOnly set (or POST /admin/read-only), ingestion, requeue and manual
// sync return 503 while queries keep working. Scheduled cycles are skipped.
//
// # Authentication
//
// When AuthJWTSecret is set every route except /health requires an HS256
// bearer token. A token's subject limits it to that user's records; the
// "admin" role lifts that limit and is required for /sync and /admin.
package agentdata
