package store

import (
	"context"
	"errors"
	"time"

	"github.com/torusai/agentdata/pkg/models"
)

// ErrReadOnly is returned by write operations while the store is in read-only mode.
var ErrReadOnly = errors.New("operation denied: service is in read-only mode")

// ReadOnlyStore wraps a Store and prevents write operations when in read-only mode.
//
// Operators switch the service to read-only during maintenance of the Record
// Store or the content store. Queries keep working; ingestion, requeue and
// every sync transition are rejected with [ErrReadOnly], so a sync cycle that
// is already running leaves its remaining records pending instead of marking
// them.
//
// The read-only state is read through isReadOnly on every call, so it can be
// toggled at runtime without recreating the wrapper.
type ReadOnlyStore struct {
	Store
	isReadOnly func() bool
}

// NewReadOnlyStore creates a new read-only wrapper for a store
func NewReadOnlyStore(store Store, isReadOnly func() bool) *ReadOnlyStore {
	return &ReadOnlyStore{
		Store:      store,
		isReadOnly: isReadOnly,
	}
}

// Unwrap returns the underlying store
func (r *ReadOnlyStore) Unwrap() Store {
	return r.Store
}

// checkReadOnly returns an error if the store is in read-only mode
func (r *ReadOnlyStore) checkReadOnly() error {
	if r.isReadOnly() {
		return ErrReadOnly
	}
	return nil
}

func (r *ReadOnlyStore) CreateRecord(ctx context.Context, record *models.Record) error {
	if err := r.checkReadOnly(); err != nil {
		return err
	}
	return r.Store.CreateRecord(ctx, record)
}

func (r *ReadOnlyStore) ClaimRecord(ctx context.Context, id models.RecordID) (bool, error) {
	if err := r.checkReadOnly(); err != nil {
		return false, err
	}
	return r.Store.ClaimRecord(ctx, id)
}

func (r *ReadOnlyStore) ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error) {
	if err := r.checkReadOnly(); err != nil {
		return 0, err
	}
	return r.Store.ReleaseStaleClaims(ctx, claimedBefore)
}

func (r *ReadOnlyStore) MarkSynced(ctx context.Context, id models.RecordID, contentHash string) (bool, error) {
	if err := r.checkReadOnly(); err != nil {
		return false, err
	}
	return r.Store.MarkSynced(ctx, id, contentHash)
}

func (r *ReadOnlyStore) MarkFailed(ctx context.Context, id models.RecordID, cause string) (bool, error) {
	if err := r.checkReadOnly(); err != nil {
		return false, err
	}
	return r.Store.MarkFailed(ctx, id, cause)
}

func (r *ReadOnlyStore) Requeue(ctx context.Context, id models.RecordID) (bool, error) {
	if err := r.checkReadOnly(); err != nil {
		return false, err
	}
	return r.Store.Requeue(ctx, id)
}

func (r *ReadOnlyStore) RequeueFailed(ctx context.Context) (int64, error) {
	if err := r.checkReadOnly(); err != nil {
		return 0, err
	}
	return r.Store.RequeueFailed(ctx)
}
