package agentdata

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/torusai/agentdata/internal/telemetry"
	"github.com/torusai/agentdata/pkg/contentstore"
	"github.com/torusai/agentdata/pkg/contentstore/surrealdb"
	"github.com/torusai/agentdata/pkg/logger"
	"github.com/torusai/agentdata/pkg/models"
	"github.com/torusai/agentdata/pkg/notify"
	"github.com/torusai/agentdata/pkg/scheduler"
	"github.com/torusai/agentdata/pkg/store"
	"github.com/torusai/agentdata/pkg/store/sqlstore"
	"github.com/torusai/agentdata/pkg/syncengine"
)

// App holds the application state: the record store, the content store pool,
// the sync engine and its scheduler, and the notification hub.
type App struct {
	config *Config
	logger zerolog.Logger

	store   *store.ReadOnlyStore
	backend store.Store
	pool    *contentstore.Pool
	engine  *syncengine.Engine
	sched   *scheduler.Scheduler
	hub     *notify.Hub

	telemetry *telemetry.Provider
	metrics   *telemetry.Metrics
	validator *requestValidator
	auth      *authenticator

	readOnly atomic.Bool
	logData  *logger.LogData
}

// Option customizes New. Tests use options to inject in-process backends.
type Option func(*appOptions)

type appOptions struct {
	store  store.Store
	dialer contentstore.Dialer
	logger *zerolog.Logger
}

// WithStore uses st instead of opening Config.DatabaseURL. The App takes
// ownership and closes it.
func WithStore(st store.Store) Option {
	return func(o *appOptions) {
		o.store = st
	}
}

// WithContentDialer uses dial instead of the configured content store.
func WithContentDialer(dial contentstore.Dialer) Option {
	return func(o *appOptions) {
		o.dialer = dial
	}
}

// WithLogger uses l instead of building a logger from the config.
func WithLogger(l zerolog.Logger) Option {
	return func(o *appOptions) {
		o.logger = &l
	}
}

// New creates a new application instance. Connections to the content store
// are opened lazily by the pool, so New succeeds while it is down.
func New(ctx context.Context, config *Config, opts ...Option) (_ *App, err error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{config: config}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	if o.logger != nil {
		app.logger = *o.logger
	} else {
		app.logData, err = logger.New().
			FromPath(config.LogFile).
			WithLevel(config.LogLevel).
			Console(config.LogConsole).
			Make()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		app.logger = app.logData.Logger
	}

	app.telemetry, err = telemetry.Init(ctx, config.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	app.metrics, err = telemetry.NewMetrics(app.telemetry.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	app.backend = o.store
	if app.backend == nil {
		app.backend, err = openStore(config)
		if err != nil {
			return nil, err
		}
	}
	app.readOnly.Store(config.ReadOnly)
	app.store = store.NewReadOnlyStore(app.backend, app.IsReadOnly)

	dial := o.dialer
	if dial == nil {
		dial = contentDialer(config)
	}
	app.pool, err = contentstore.NewPool(dial, config.ContentMaxConns)
	if err != nil {
		return nil, err
	}

	app.hub = notify.NewHub(notify.WithDropHook(func() {
		app.metrics.NotifyDropped.Add(context.Background(), 1)
	}))

	engineOpts := []syncengine.Option{
		syncengine.WithLogger(app.logger.With().Str("component", "syncengine").Logger()),
		syncengine.WithTelemetry(app.telemetry.Tracer, app.metrics),
	}
	// With the PostgreSQL listener on, the trigger feeds the hub for every
	// process, including this one.
	if !app.listensPostgres() {
		engineOpts = append(engineOpts, syncengine.WithPublisher(app.hub))
	}
	app.engine = syncengine.New(app.store, app.pool, config.Sync, engineOpts...)

	app.sched, err = scheduler.New(app.scheduledCycle, config.Schedule,
		app.logger.With().Str("component", "scheduler").Logger())
	if err != nil {
		return nil, err
	}

	app.validator, err = newRequestValidator()
	if err != nil {
		return nil, err
	}
	app.auth = newAuthenticator(config.AuthJWTSecret)
	return app, nil
}

func openStore(config *Config) (store.Store, error) {
	if path, ok := config.SQLitePath(); ok {
		st, err := sqlstore.OpenSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite: %w", err)
		}
		return st, nil
	}
	st, err := sqlstore.OpenPostgres(config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return st, nil
}

func contentDialer(config *Config) contentstore.Dialer {
	if config.ContentStore == ContentStoreMemory {
		return contentstore.NewMemoryStore().Dialer()
	}
	return surrealdb.Dialer(config.SurrealDB)
}

func (a *App) listensPostgres() bool {
	_, sqlite := a.config.SQLitePath()
	return a.config.ListenPostgres && !sqlite
}

// Close releases every resource the App opened.
func (a *App) Close() error {
	var errs []error
	if a.hub != nil {
		a.hub.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(context.Background()))
	}
	if a.logData != nil {
		errs = append(errs, a.logData.Close())
	}
	return errors.Join(errs...)
}

// Store returns the read-only guarded record store.
func (a *App) Store() store.Store {
	return a.store
}

// Hub returns the notification hub.
func (a *App) Hub() *notify.Hub {
	return a.hub
}

// Logger returns the application logger.
func (a *App) Logger() zerolog.Logger {
	return a.logger
}

// SetReadOnly switches maintenance mode. While read-only, ingestion, requeue
// and sync are refused and queries keep working.
func (a *App) SetReadOnly(readOnly bool) {
	a.readOnly.Store(readOnly)
	a.logger.Info().Bool("read_only", readOnly).Msg("Application read-only mode changed")
}

// IsReadOnly reports whether the application is in read-only mode.
func (a *App) IsReadOnly() bool {
	return a.readOnly.Load()
}

// Migrate creates or updates the record store schema.
func (a *App) Migrate(ctx context.Context) error {
	a.logger.Info().Msg("Running database migrations...")
	if err := a.backend.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	a.logger.Info().Msg("Migrations completed successfully")
	return nil
}

// RunSync runs one sync cycle now. It fails with store.ErrReadOnly in
// maintenance mode and with scheduler.ErrBusy while another cycle runs.
func (a *App) RunSync(ctx context.Context) (models.CycleResult, error) {
	if a.IsReadOnly() {
		return models.CycleResult{}, store.ErrReadOnly
	}
	return a.sched.RunNow(ctx)
}

func (a *App) scheduledCycle(ctx context.Context) (models.CycleResult, error) {
	if a.IsReadOnly() {
		a.logger.Debug().Msg("Read-only mode, skipping sync cycle")
		return models.CycleResult{}, nil
	}
	return a.engine.RunSyncCycle(ctx)
}

// Submit stores rec as a new pending record.
func (a *App) Submit(ctx context.Context, rec *models.Record) error {
	if err := a.store.CreateRecord(ctx, rec); err != nil {
		return err
	}
	a.metrics.RecordsIngested.Add(ctx, 1)
	return nil
}

// Requeue moves a failed record back to pending.
func (a *App) Requeue(ctx context.Context, id models.RecordID) (bool, error) {
	return a.store.Requeue(ctx, id)
}

// RequeueFailed moves every failed record back to pending.
func (a *App) RequeueFailed(ctx context.Context) (int64, error) {
	return a.store.RequeueFailed(ctx)
}

// Stats returns record counts by sync status.
func (a *App) Stats(ctx context.Context) (models.StatusCounts, error) {
	return a.store.CountByStatus(ctx)
}
