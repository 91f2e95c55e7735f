// Package store provides the persistence layer abstraction for agentdata records.
//
// The [Store] interface is the Record Store: the system of record for every
// agent submission and the place where replication status lives. Two groups of
// callers use it:
//
//   - the HTTP layer creates records and reads them back with [QueryFilter]
//   - the sync engine lists pending records and reconciles the outcome of each
//     content-store write through MarkSynced and MarkFailed
//
// # Status transitions
//
// Every status-changing method is a single conditional update keyed by the
// record ID. The update only applies while the record is still in one of the
// allowed source states, and the boolean result reports whether it applied.
// A false result is not an error: it means another cycle or an operator got
// there first, and the caller should leave the record alone.
//
//	ClaimRecord          pending           -> syncing
//	ReleaseStaleClaims   syncing (expired) -> pending
//	MarkSynced           pending|syncing   -> synced   (content_hash set)
//	MarkFailed           pending|syncing   -> failed   (content_hash cleared)
//	Requeue              failed            -> pending
//
// # Implementations
//
// [github.com/torusai/agentdata/pkg/store/sqlstore.SQLStore] implements the
// interface with GORM on PostgreSQL or SQLite. [ReadOnlyStore] wraps any Store
// and rejects writes while the service is in maintenance mode.
//
// # Usage
//
//	st, err := sqlstore.OpenPostgres(dsn)
//	if err != nil {
//		return err
//	}
//	defer st.Close()
//
//	if err := st.Migrate(ctx); err != nil {
//		return err
//	}
//
//	rec := models.NewRecord("agent-7", "user-1", payload)
//	if err := st.CreateRecord(ctx, rec); err != nil {
//		return err
//	}
package store

import (
	"context"
	"time"

	"github.com/torusai/agentdata/pkg/models"
)

const (
	// DefaultQueryLimit is the page size used when a query does not set one.
	DefaultQueryLimit = 10
	// MaxQueryLimit is the largest page size a query may request.
	MaxQueryLimit = 100
)

// QueryFilter selects records owned by one user and agent.
//
// From and To bound created_at inclusively; nil leaves the side open.
type QueryFilter struct {
	AgentID string
	UserID  string
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

// Normalize applies the default limit and clamps out of range values.
func (f QueryFilter) Normalize() QueryFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Store is the Record Store.
type Store interface {
	// Schema management
	Migrate(ctx context.Context) error
	Close() error

	// CreateRecord inserts a new pending record. It assigns the ID and the
	// timestamps when they are zero.
	CreateRecord(ctx context.Context, record *models.Record) error
	// GetRecord returns nil, nil when the record does not exist.
	GetRecord(ctx context.Context, id models.RecordID) (*models.Record, error)
	// QueryRecords returns one page of matching records ordered by created_at
	// descending, and the total number of matches ignoring pagination.
	QueryRecords(ctx context.Context, filter QueryFilter) ([]*models.Record, int64, error)

	// Sync engine operations
	ListPending(ctx context.Context, limit int) ([]*models.Record, error)
	ClaimRecord(ctx context.Context, id models.RecordID) (bool, error)
	ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error)
	MarkSynced(ctx context.Context, id models.RecordID, contentHash string) (bool, error)
	MarkFailed(ctx context.Context, id models.RecordID, cause string) (bool, error)

	// Operator actions
	Requeue(ctx context.Context, id models.RecordID) (bool, error)
	RequeueFailed(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) (models.StatusCounts, error)
}
