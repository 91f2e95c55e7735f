// Package sqlstore implements [github.com/torusai/agentdata/pkg/store.Store] on a
// relational database through GORM.
//
// PostgreSQL is the production backend ([OpenPostgres]). SQLite ([OpenSQLite])
// serves local development and the test suite; both share every query in this
// package, and only the PostgreSQL path installs the change-notification
// trigger used by [Listener].
//
// # Schema
//
// [SQLStore.Migrate] runs GORM's AutoMigrate for [models.Record], which creates
// the ai_agent_data table, the (agent_id, user_id, created_at) index used by
// queries and the sync_status index used by the sync engine. On PostgreSQL it
// also installs a row trigger that calls pg_notify whenever a record becomes
// synced.
//
// # Conditional updates
//
// Status transitions are issued as
//
//	UPDATE ai_agent_data SET ... WHERE id = ? AND sync_status IN (...)
//
// and report whether a row was affected. Overlapping sync cycles therefore
// cannot move a record out of a terminal state.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/torusai/agentdata/pkg/models"
	"github.com/torusai/agentdata/pkg/store"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SQLStore implements the Store interface with GORM.
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ store.Store = (*SQLStore)(nil)

// Option configures an SQLStore.
type Option func(*SQLStore)

// WithClock overrides the time source used for updated_at and claim times.
func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) {
		s.now = now
	}
}

// Pool sizing for the underlying database/sql pool.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPool is used by OpenPostgres.
var DefaultPool = Pool{
	MaxOpenConns:    10,
	MaxIdleConns:    5,
	ConnMaxLifetime: 30 * time.Minute,
}

// OpenPostgres connects to PostgreSQL using a libpq style DSN or URL.
func OpenPostgres(dsn string, opts ...Option) (*SQLStore, error) {
	s, err := New(postgres.Open(dsn), opts...)
	if err != nil {
		return nil, err
	}
	if err := s.configurePool(DefaultPool); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens (or creates) a SQLite database file. SQLite serializes
// writers, so the pool is limited to a single connection.
func OpenSQLite(path string, opts ...Option) (*SQLStore, error) {
	s, err := New(sqlite.Open(path+"?_busy_timeout=5000&_foreign_keys=on"), opts...)
	if err != nil {
		return nil, err
	}
	if err := s.configurePool(Pool{MaxOpenConns: 1, MaxIdleConns: 1}); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// New creates a store on top of any GORM dialector.
func New(dialector gorm.Dialector, opts ...Option) (*SQLStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLStore{
		db: db,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLStore) configurePool(p Pool) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if p.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
	return nil
}

// getDB returns the database connection
func (s *SQLStore) getDB() *gorm.DB {
	return s.db
}

// Dialect returns the name of the GORM dialector, "postgres" or "sqlite".
func (s *SQLStore) Dialect() string {
	return s.db.Dialector.Name()
}

// Migrate creates or updates the ai_agent_data table. On PostgreSQL it also
// installs the synced-notification trigger.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if err := s.getDB().WithContext(ctx).AutoMigrate(&models.Record{}); err != nil {
		return fmt.Errorf("auto-migrate records: %w", err)
	}
	if s.Dialect() == "postgres" {
		if err := s.installNotifyTrigger(ctx); err != nil {
			return fmt.Errorf("install notify trigger: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) CreateRecord(ctx context.Context, record *models.Record) error {
	if record.ID.IsZero() {
		record.ID = models.NewRecordID()
	}
	now := s.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.CreatedAt = record.CreatedAt.UTC()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	record.UpdatedAt = record.UpdatedAt.UTC()
	record.SyncStatus = models.SyncStatusPending
	record.ContentHash = nil
	record.SyncError = ""
	record.SyncAttempts = 0
	record.ClaimedAt = nil

	if err := s.getDB().WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

func (s *SQLStore) GetRecord(ctx context.Context, id models.RecordID) (*models.Record, error) {
	var record models.Record
	err := s.getDB().WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return &record, nil
}

func (s *SQLStore) QueryRecords(ctx context.Context, filter store.QueryFilter) ([]*models.Record, int64, error) {
	filter = filter.Normalize()

	scoped := func() *gorm.DB {
		query := s.getDB().WithContext(ctx).
			Model(&models.Record{}).
			Where("user_id = ? AND agent_id = ?", filter.UserID, filter.AgentID)
		if filter.From != nil {
			query = query.Where("created_at >= ?", filter.From.UTC())
		}
		if filter.To != nil {
			query = query.Where("created_at <= ?", filter.To.UTC())
		}
		return query
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	records := make([]*models.Record, 0, filter.Limit)
	err := scoped().
		Order("created_at DESC").
		Order("id DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("query records: %w", err)
	}
	return records, total, nil
}

// ListPending returns up to limit pending records, oldest first.
func (s *SQLStore) ListPending(ctx context.Context, limit int) ([]*models.Record, error) {
	var records []*models.Record
	query := s.getDB().WithContext(ctx).
		Where("sync_status = ?", string(models.SyncStatusPending)).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list pending records: %w", err)
	}
	return records, nil
}

// transition applies updates to the record only while its status is one of from.
func (s *SQLStore) transition(ctx context.Context, id models.RecordID, from []models.SyncStatus, updates map[string]any) (bool, error) {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}
	updates["updated_at"] = s.now()
	result := s.getDB().WithContext(ctx).
		Model(&models.Record{}).
		Where("id = ? AND sync_status IN ?", id, states).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *SQLStore) ClaimRecord(ctx context.Context, id models.RecordID) (bool, error) {
	ok, err := s.transition(ctx, id, []models.SyncStatus{models.SyncStatusPending}, map[string]any{
		"sync_status": string(models.SyncStatusSyncing),
		"claimed_at":  s.now(),
	})
	if err != nil {
		return false, fmt.Errorf("claim record %s: %w", id, err)
	}
	return ok, nil
}

func (s *SQLStore) ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error) {
	result := s.getDB().WithContext(ctx).
		Model(&models.Record{}).
		Where("sync_status = ? AND claimed_at < ?", string(models.SyncStatusSyncing), claimedBefore.UTC()).
		Updates(map[string]any{
			"sync_status": string(models.SyncStatusPending),
			"claimed_at":  nil,
			"updated_at":  s.now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("release stale claims: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *SQLStore) MarkSynced(ctx context.Context, id models.RecordID, contentHash string) (bool, error) {
	if contentHash == "" {
		return false, fmt.Errorf("mark record %s synced: empty content hash", id)
	}
	ok, err := s.transition(ctx, id, []models.SyncStatus{models.SyncStatusPending, models.SyncStatusSyncing}, map[string]any{
		"sync_status":   string(models.SyncStatusSynced),
		"content_hash":  contentHash,
		"sync_error":    "",
		"claimed_at":    nil,
		"sync_attempts": gorm.Expr("sync_attempts + 1"),
	})
	if err != nil {
		return false, fmt.Errorf("mark record %s synced: %w", id, err)
	}
	return ok, nil
}

func (s *SQLStore) MarkFailed(ctx context.Context, id models.RecordID, cause string) (bool, error) {
	ok, err := s.transition(ctx, id, []models.SyncStatus{models.SyncStatusPending, models.SyncStatusSyncing}, map[string]any{
		"sync_status":   string(models.SyncStatusFailed),
		"content_hash":  nil,
		"sync_error":    cause,
		"claimed_at":    nil,
		"sync_attempts": gorm.Expr("sync_attempts + 1"),
	})
	if err != nil {
		return false, fmt.Errorf("mark record %s failed: %w", id, err)
	}
	return ok, nil
}

func (s *SQLStore) Requeue(ctx context.Context, id models.RecordID) (bool, error) {
	ok, err := s.transition(ctx, id, []models.SyncStatus{models.SyncStatusFailed}, map[string]any{
		"sync_status": string(models.SyncStatusPending),
		"sync_error":  "",
	})
	if err != nil {
		return false, fmt.Errorf("requeue record %s: %w", id, err)
	}
	return ok, nil
}

func (s *SQLStore) RequeueFailed(ctx context.Context) (int64, error) {
	result := s.getDB().WithContext(ctx).
		Model(&models.Record{}).
		Where("sync_status = ?", string(models.SyncStatusFailed)).
		Updates(map[string]any{
			"sync_status": string(models.SyncStatusPending),
			"sync_error":  "",
			"updated_at":  s.now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("requeue failed records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *SQLStore) CountByStatus(ctx context.Context) (models.StatusCounts, error) {
	var rows []struct {
		SyncStatus models.SyncStatus
		Count      int64
	}
	err := s.getDB().WithContext(ctx).
		Model(&models.Record{}).
		Select("sync_status, COUNT(*) AS count").
		Group("sync_status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count records by status: %w", err)
	}

	counts := make(models.StatusCounts, len(models.AllSyncStatuses))
	for _, status := range models.AllSyncStatuses {
		counts[status] = 0
	}
	for _, row := range rows {
		counts[row.SyncStatus] = row.Count
	}
	return counts, nil
}
