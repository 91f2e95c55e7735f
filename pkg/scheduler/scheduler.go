// Package scheduler triggers sync cycles on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/torusai/agentdata/pkg/logger"
	"github.com/torusai/agentdata/pkg/models"
)

const (
	DefaultSchedule   = "@every 5m"
	DefaultRunTimeout = 10 * time.Minute
)

// ErrBusy is returned by RunNow while another cycle is in progress.
var ErrBusy = errors.New("sync cycle already running")

// cronParser accepts standard 5-field expressions and descriptors such as @every 5m.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// RunFunc runs one sync cycle.
type RunFunc func(ctx context.Context) (models.CycleResult, error)

// Config holds the schedule settings.
type Config struct {
	Schedule   string        `yaml:"schedule"`
	RunTimeout time.Duration `yaml:"run_timeout"`
	RunOnStart bool          `yaml:"run_on_start"`
}

// Scheduler invokes a RunFunc on a cron schedule. At most one cycle runs at a
// time per Scheduler, whether started by the schedule or by RunNow.
type Scheduler struct {
	cron    *cronlib.Cron
	run     RunFunc
	cfg     Config
	logger  zerolog.Logger
	entry   cronlib.EntryID
	running atomic.Bool
	runs    atomic.Int64

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New parses the schedule and registers run. Nothing fires until Start.
func New(run RunFunc, cfg Config, l zerolog.Logger) (*Scheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Schedule, err)
	}

	cl := logger.NewCronLogger(l)
	s := &Scheduler{
		run:    run,
		cfg:    cfg,
		logger: l,
		ctx:    context.Background(),
		cron: cronlib.New(
			cronlib.WithParser(cronParser),
			cronlib.WithLogger(cl),
			cronlib.WithChain(cronlib.Recover(cl), cronlib.SkipIfStillRunning(cl)),
		),
	}
	s.entry = s.cron.Schedule(sched, cronlib.FuncJob(s.tick))
	return s, nil
}

// Start begins firing on schedule. Runs use ctx as their parent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Str("schedule", s.cfg.Schedule).Time("next_run", s.Next()).Msg("Sync scheduler started")

	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tick()
		}()
	}
}

// Stop halts the schedule, cancels a running cycle and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info().Msg("Sync scheduler stopped")
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Runs returns how many cycles have completed.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// RunNow runs a cycle immediately, bounded by RunTimeout. It returns ErrBusy
// if a cycle is already in progress.
func (s *Scheduler) RunNow(ctx context.Context) (models.CycleResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return models.CycleResult{}, ErrBusy
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	result, err := s.run(ctx)
	s.runs.Add(1)
	return result, err
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()

	result, err := s.RunNow(parent)
	switch {
	case errors.Is(err, ErrBusy):
		s.logger.Debug().Msg("Skipping scheduled sync, previous cycle still running")
	case err != nil:
		s.logger.Error().Err(err).Msg("Scheduled sync cycle failed")
	default:
		s.logger.Info().
			Int("processed", result.Processed).
			Int("synced", result.Synced).
			Int("failed", result.Failed).
			Int("unresolved", result.Unresolved).
			Int64("duration_ms", result.DurationMS).
			Msg("Scheduled sync cycle finished")
	}
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
