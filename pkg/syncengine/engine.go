// Package syncengine replicates pending records into the content-addressed
// store.
//
// One call to [Engine.RunSyncCycle] selects a batch of pending records, writes
// the projection of each one under its record ID and reconciles the outcome
// back into the record store. Records are isolated from each other: a write
// that fails, times out or panics marks that record failed and the cycle
// carries on with the rest of the batch.
//
// The two stores are never updated atomically. A write that succeeded but
// whose status update did not persist leaves the record pending; the next
// cycle writes it again, which the content store tolerates because writes are
// keyed and content addressed.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/torusai/agentdata/internal/telemetry"
	"github.com/torusai/agentdata/pkg/models"
	"github.com/torusai/agentdata/pkg/store"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrWritePanic wraps a panic raised by a content writer.
var ErrWritePanic = errors.New("content writer panicked")

// ContentWriter stores a projection under key and returns its content hash.
// [github.com/torusai/agentdata/pkg/contentstore.Pool] implements it.
type ContentWriter interface {
	Write(ctx context.Context, key string, proj *models.Projection) (string, error)
}

// Publisher receives an event for every record that reaches synced.
type Publisher interface {
	Publish(event models.SyncEvent)
}

// Config controls batch size, timeouts and parallelism.
type Config struct {
	BatchSize    int           `yaml:"batch_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Workers      int           `yaml:"workers"`
	Claim        bool          `yaml:"claim"`
	ClaimTTL     time.Duration `yaml:"claim_ttl"`
}

// statusUpdateTimeout bounds the failed-status write made after the cycle
// deadline has passed.
const statusUpdateTimeout = 5 * time.Second

// CycleBudget is the longest a cycle can spend writing: one WriteTimeout for
// each round of Workers records in a full batch. A cycle deadline must exceed
// it for every selected record to reach an outcome.
func (c Config) CycleBudget() time.Duration {
	c = c.withDefaults()
	rounds := (c.BatchSize + c.Workers - 1) / c.Workers
	return time.Duration(rounds) * c.WriteTimeout
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:    10,
		WriteTimeout: 30 * time.Second,
		Workers:      1,
		ClaimTTL:     10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = d.ClaimTTL
	}
	return c
}

// Engine runs sync cycles. It keeps no state between cycles.
type Engine struct {
	store     store.Store
	writer    ContentWriter
	cfg       Config
	publisher Publisher
	logger    zerolog.Logger
	tracer    trace.Tracer
	metrics   *telemetry.Metrics
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets where sync events go.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithTelemetry sets the tracer and metric instruments.
func WithTelemetry(tracer trace.Tracer, m *telemetry.Metrics) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
		if m != nil {
			e.metrics = m
		}
	}
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine that moves records from st to w.
func New(st store.Store, w ContentWriter, cfg Config, opts ...Option) *Engine {
	noop := telemetry.Noop()
	e := &Engine{
		store:   st,
		writer:  w,
		cfg:     cfg.withDefaults(),
		logger:  zerolog.Nop(),
		tracer:  noop.Tracer,
		metrics: telemetry.NoopMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSuperseded
	outcomeSynced
	outcomeFailed
	outcomeUnresolved
)

func (o outcome) String() string {
	switch o {
	case outcomeSynced:
		return "synced"
	case outcomeFailed:
		return "failed"
	case outcomeUnresolved:
		return "unresolved"
	case outcomeSuperseded:
		return "superseded"
	default:
		return "skipped"
	}
}

// RunSyncCycle processes one batch of pending records.
//
// The returned error is non-nil only when the batch could not be selected.
// Content store failures are recorded on the records themselves.
func (e *Engine) RunSyncCycle(ctx context.Context) (models.CycleResult, error) {
	start := e.now()
	ctx, span := telemetry.StartSpan(ctx, e.tracer, "syncengine.RunSyncCycle",
		telemetry.AttrBatchSize.Int(e.cfg.BatchSize),
	)
	defer span.End()

	var result models.CycleResult

	if e.cfg.Claim {
		released, err := e.store.ReleaseStaleClaims(ctx, start.Add(-e.cfg.ClaimTTL))
		if err != nil {
			e.logger.Warn().Err(err).Msg("Failed to release stale claims")
		} else if released > 0 {
			e.logger.Info().Int64("released", released).Msg("Released stale claims")
		}
	}

	pending, err := e.store.ListPending(ctx, e.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list pending")
		return result, fmt.Errorf("select pending records: %w", err)
	}
	batch := dedupe(pending)

	outcomes := make([]outcome, len(batch))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, rec := range batch {
		g.Go(func() error {
			outcomes[i] = e.syncRecord(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		switch o {
		case outcomeSkipped:
			continue
		case outcomeSynced:
			result.Synced++
		case outcomeFailed:
			result.Failed++
		case outcomeUnresolved:
			result.Unresolved++
		}
		result.Processed++
	}

	elapsed := e.now().Sub(start)
	result.DurationMS = elapsed.Milliseconds()
	e.metrics.CycleDuration.Record(ctx, elapsed.Seconds())

	if result.Processed > 0 {
		e.logger.Info().
			Int("processed", result.Processed).
			Int("synced", result.Synced).
			Int("failed", result.Failed).
			Int("unresolved", result.Unresolved).
			Int64("duration_ms", result.DurationMS).
			Msg("Sync cycle complete")
	}
	return result, nil
}

func dedupe(records []*models.Record) []*models.Record {
	seen := make(map[models.RecordID]struct{}, len(records))
	out := records[:0:0]
	for _, r := range records {
		if r == nil {
			continue
		}
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (e *Engine) syncRecord(ctx context.Context, rec *models.Record) (o outcome) {
	log := e.logger.With().Str("record_id", rec.ID.String()).Logger()
	defer func() {
		if o != outcomeSkipped {
			e.metrics.RecordsSynced.Add(ctx, 1,
				metric.WithAttributes(telemetry.AttrSyncStatus.String(o.String())))
		}
	}()

	if ctx.Err() != nil {
		log.Debug().Msg("Sync cycle ended before record was attempted")
		return outcomeUnresolved
	}

	if e.cfg.Claim {
		claimed, err := e.store.ClaimRecord(ctx, rec.ID)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to claim record")
			return outcomeUnresolved
		}
		if !claimed {
			log.Debug().Msg("Record claimed elsewhere, skipping")
			return outcomeSkipped
		}
	}

	hash, err := e.write(ctx, rec)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			if !errors.Is(cerr, context.DeadlineExceeded) {
				// The cycle itself was cancelled; leave the record for the next one.
				log.Warn().Err(err).Msg("Sync cycle cancelled during write")
				return outcomeUnresolved
			}
			// A write cut short by the cycle deadline is still a timed out write.
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusUpdateTimeout)
			defer cancel()
			return e.fail(fctx, log, rec, err)
		}
		return e.fail(ctx, log, rec, err)
	}

	ok, err := e.store.MarkSynced(ctx, rec.ID, hash)
	if err != nil {
		log.Error().Err(err).Str("content_hash", hash).Msg("Failed to persist synced status")
		return outcomeUnresolved
	}
	if !ok {
		log.Warn().Str("content_hash", hash).Msg("Record already resolved, synced status not applied")
		return outcomeSuperseded
	}

	if e.publisher != nil {
		e.publisher.Publish(models.SyncEvent{
			RecordID:    rec.ID,
			AgentID:     rec.AgentID,
			UserID:      rec.UserID,
			ContentHash: hash,
			SyncedAt:    e.now().UTC(),
		})
	}
	log.Debug().Str("content_hash", hash).Msg("Record synced")
	return outcomeSynced
}

func (e *Engine) fail(ctx context.Context, log zerolog.Logger, rec *models.Record, cause error) outcome {
	log.Error().Err(cause).Msg("Failed to write record to content store")

	ok, err := e.store.MarkFailed(ctx, rec.ID, cause.Error())
	if err != nil {
		log.Error().Err(err).Msg("Failed to persist failed status")
		return outcomeUnresolved
	}
	if !ok {
		log.Warn().Msg("Record already resolved, failed status not applied")
		return outcomeSuperseded
	}
	return outcomeFailed
}

// write bounds acquisition plus write by WriteTimeout.
func (e *Engine) write(ctx context.Context, rec *models.Record) (hash string, err error) {
	proj, err := models.NewProjection(rec)
	if err != nil {
		return "", err
	}

	wctx, cancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
	defer cancel()

	wctx, span := telemetry.StartClientSpan(wctx, e.tracer, "contentstore.Write",
		telemetry.AttrRecordID.String(rec.ID.String()),
		telemetry.AttrAgentID.String(rec.AgentID),
	)
	started := e.now()
	defer func() {
		e.metrics.WriteDuration.Record(ctx, e.now().Sub(started).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "write failed")
		} else {
			span.SetAttributes(telemetry.AttrContentHash.String(hash))
		}
		span.End()
	}()

	type writeResult struct {
		hash string
		err  error
	}
	done := make(chan writeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- writeResult{err: fmt.Errorf("%w: %v", ErrWritePanic, r)}
			}
		}()
		h, werr := e.writer.Write(wctx, rec.ID.String(), proj)
		done <- writeResult{hash: h, err: werr}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		if res.hash == "" {
			return "", errors.New("content store returned an empty hash")
		}
		return res.hash, nil
	case <-wctx.Done():
		return "", fmt.Errorf("content store write: %w", wctx.Err())
	}
}
