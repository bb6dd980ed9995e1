// Package scheduler runs cluster generation and expiry sweeps on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/trendwire/internal/scopes"
	"github.com/thebtf/trendwire/pkg/models"
)

// Runner is the lifecycle surface the scheduler drives.
type Runner interface {
	GenerateClusters(ctx context.Context, scope string, lookback time.Duration) (*models.GenerationResult, error)
	ExpireOldClusters(ctx context.Context) (int64, error)
}

// Options configures the cron entries.
type Options struct {
	GenerateSchedule string
	ExpireSchedule   string
	Lookback         time.Duration
	// RunTimeout bounds a single scheduled job. Zero means no bound.
	RunTimeout time.Duration
}

// Scheduler owns a cron instance whose entries can be replaced at runtime.
type Scheduler struct {
	runner  Runner
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries []cron.EntryID
	mu      sync.Mutex
	running bool
}

// New creates a scheduler. Jobs still running when their next tick fires are skipped.
func New(runner Runner) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cronLogger{}
	return &Scheduler{
		runner: runner,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Configure replaces all entries with one generation job per scope plus one
// expiry job. Schedules are validated first so a bad configuration leaves the
// current entries untouched.
func (s *Scheduler) Configure(reg *scopes.Registry, opts Options) error {
	type job struct {
		schedule cron.Schedule
		fn       func()
	}

	jobs := make([]job, 0, reg.Len()+1)
	for _, sc := range reg.All() {
		spec := sc.ScheduleOr(opts.GenerateSchedule)
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return fmt.Errorf("scope %q schedule %q: %w", sc.Name, spec, err)
		}
		name, lookback := sc.Name, sc.Lookback(opts.Lookback)
		jobs = append(jobs, job{schedule: sched, fn: func() {
			s.runGenerate(name, lookback, opts.RunTimeout)
		}})
	}
	expire, err := cron.ParseStandard(opts.ExpireSchedule)
	if err != nil {
		return fmt.Errorf("expiry schedule %q: %w", opts.ExpireSchedule, err)
	}
	jobs = append(jobs, job{schedule: expire, fn: func() {
		s.runExpire(opts.RunTimeout)
	}})

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = s.entries[:0]
	for _, j := range jobs {
		s.entries = append(s.entries, s.cron.Schedule(j.schedule, cron.FuncJob(j.fn)))
	}

	log.Info().
		Int("scopes", reg.Len()).
		Str("generate", opts.GenerateSchedule).
		Str("expire", opts.ExpireSchedule).
		Msg("Scheduler configured")
	return nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
}

// Stop halts the cron loop, cancels in-flight jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
}

// SetRunner swaps the runner used by subsequent jobs.
func (s *Scheduler) SetRunner(runner Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runner = runner
}

func (s *Scheduler) currentRunner() Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner
}

// EntryCount returns the number of scheduled entries.
func (s *Scheduler) EntryCount() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) jobContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(s.ctx, timeout)
	}
	return context.WithCancel(s.ctx)
}

func (s *Scheduler) runGenerate(scope string, lookback, timeout time.Duration) {
	ctx, cancel := s.jobContext(timeout)
	defer cancel()

	result, err := s.currentRunner().GenerateClusters(ctx, scope, lookback)
	if err != nil {
		log.Error().Err(err).Str("scope", scope).Msg("Scheduled generation failed")
		return
	}
	log.Info().
		Str("scope", scope).
		Str("method", string(result.Method)).
		Int("clusters", len(result.Clusters)).
		Dur("took", result.ProcessingTime).
		Msg("Scheduled generation complete")
}

func (s *Scheduler) runExpire(timeout time.Duration) {
	ctx, cancel := s.jobContext(timeout)
	defer cancel()

	n, err := s.currentRunner().ExpireOldClusters(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Scheduled expiry failed")
		return
	}
	if n > 0 {
		log.Info().Int64("expired", n).Msg("Scheduled expiry complete")
	}
}

// cronLogger adapts cron's logger interface to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
