// Package scheduler drives the recurring jobs: the hot and cold refresh
// groups, the activation and archival sweeps, the spam sweep and the
// NotArb export. Jobs run as supervised loops; a panicking job is
// restarted with backoff instead of taking the process down.
package scheduler

import (
	"context"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/dexscreener"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/events"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/export"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/health"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/scoring"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/settings"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/spam"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/telemetry"
)

// Refresh group names used in logs and metrics.
const (
	groupHot  = "hot"
	groupCold = "cold"
)

const (
	restartBackoffInitial = time.Second
	restartBackoffMax     = time.Minute
	startJitterMax        = 500 * time.Millisecond
)

// Deps are the collaborators a scheduler drives.
type Deps struct {
	Repo     storage.TokenRepository
	Settings *settings.Store
	Hot      *dexscreener.Client
	Cold     *dexscreener.Client
	Scoring  *scoring.Service
	Spam     *spam.Analyzer
	Export   *export.Writer
	Health   *health.Monitor
	Events   *events.Publisher
	Log      zerolog.Logger
}

// Config are the static scheduler knobs. Hot and cold periods are
// runtime settings and read each cycle instead.
type Config struct {
	ActivationInterval time.Duration
	ArchivalInterval   time.Duration
	SpamInterval       time.Duration
	ExportInterval     time.Duration

	HotTimeout  time.Duration
	ColdTimeout time.Duration

	HotConcurrency        int
	ColdConcurrency       int
	ActivationConcurrency int
	SpamConcurrency       int

	MinBatchSize     int
	MaxBatchSize     int
	SelectionCap     int
	DeferredCapacity int
	DeferredDrainMax int

	ExportCandidates int
	ExportTopN       int
	ExportGenerator  string

	LockStripes int
}

func (cfg Config) withDefaults() Config {
	if cfg.ActivationInterval <= 0 {
		cfg.ActivationInterval = time.Minute
	}
	if cfg.ArchivalInterval <= 0 {
		cfg.ArchivalInterval = time.Hour
	}
	if cfg.SpamInterval <= 0 {
		cfg.SpamInterval = 5 * time.Second
	}
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = 5 * time.Second
	}
	if cfg.HotTimeout <= 0 {
		cfg.HotTimeout = 3 * time.Second
	}
	if cfg.ColdTimeout <= 0 {
		cfg.ColdTimeout = 5 * time.Second
	}
	if cfg.HotConcurrency <= 0 {
		cfg.HotConcurrency = 12
	}
	if cfg.ColdConcurrency <= 0 {
		cfg.ColdConcurrency = 8
	}
	if cfg.ActivationConcurrency <= 0 {
		cfg.ActivationConcurrency = 4
	}
	if cfg.SpamConcurrency <= 0 {
		cfg.SpamConcurrency = 3
	}
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = 25
	}
	if cfg.MaxBatchSize < cfg.MinBatchSize {
		cfg.MaxBatchSize = cfg.MinBatchSize
	}
	if cfg.SelectionCap <= 0 {
		cfg.SelectionCap = 5000
	}
	if cfg.DeferredCapacity <= 0 {
		cfg.DeferredCapacity = 2000
	}
	if cfg.DeferredDrainMax <= 0 {
		cfg.DeferredDrainMax = 100
	}
	if cfg.ExportCandidates <= 0 {
		cfg.ExportCandidates = 50
	}
	if cfg.ExportTopN <= 0 {
		cfg.ExportTopN = 3
	}
	if cfg.ExportGenerator == "" {
		cfg.ExportGenerator = "tothemoon"
	}
	if cfg.LockStripes <= 0 {
		cfg.LockStripes = 64
	}
	return cfg
}

// Status is the scheduler slice of /health/scheduler.
type Status struct {
	DeferredDepth    int `json:"deferred_depth"`
	DeferredCapacity int `json:"deferred_capacity"`
}

// Scheduler owns the job loops.
type Scheduler struct {
	deps     Deps
	cfg      Config
	locks    *mintLocks
	deferred *deferredQueue
	log      zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(deps Deps, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		deps:     deps,
		cfg:      cfg,
		locks:    newMintLocks(cfg.LockStripes),
		deferred: newDeferredQueue(cfg.DeferredCapacity),
		log:      deps.Log.With().Str("component", "scheduler").Logger(),
	}
}

// Start launches all jobs. Stop cancels them and waits.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.supervise(ctx, "hot_refresh", s.hotInterval, s.runHot)
	s.supervise(ctx, "cold_refresh", s.coldInterval, s.runCold)
	s.supervise(ctx, "activation_sweep", fixed(s.cfg.ActivationInterval), s.runActivation)
	s.supervise(ctx, "archival_sweep", fixed(s.cfg.ArchivalInterval), s.runArchival)
	s.supervise(ctx, "spam_sweep", fixed(s.cfg.SpamInterval), s.runSpam)
	s.supervise(ctx, "export", fixed(s.cfg.ExportInterval), s.runExport)

	s.log.Info().Msg("scheduler started")
}

// Stop cancels the job loops and waits for in-flight work to finish.
// The caller bounds the wait with its shutdown grace period.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

// Status reports queue state for the health endpoint.
func (s *Scheduler) Status() Status {
	return Status{
		DeferredDepth:    s.deferred.Len(),
		DeferredCapacity: s.cfg.DeferredCapacity,
	}
}

// hotInterval and coldInterval come from settings so operators can
// retune the cadence without a restart.
func (s *Scheduler) hotInterval(ctx context.Context) time.Duration {
	if d := s.deps.Settings.DurationSec(ctx, settings.KeyHotIntervalSec); d > 0 {
		return d
	}
	return 10 * time.Second
}

func (s *Scheduler) coldInterval(ctx context.Context) time.Duration {
	if d := s.deps.Settings.DurationSec(ctx, settings.KeyColdIntervalSec); d > 0 {
		return d
	}
	return 45 * time.Second
}

func fixed(d time.Duration) func(context.Context) time.Duration {
	return func(context.Context) time.Duration { return d }
}

// supervise keeps one job loop alive, restarting it with backoff after
// a panic.
func (s *Scheduler) supervise(ctx context.Context, job string, interval func(context.Context) time.Duration, run func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		delay := restartBackoffInitial
		for {
			if clean := s.jobLoop(ctx, job, interval, run); clean {
				return
			}
			telemetry.JobRestarts.WithLabelValues(job).Inc()
			s.log.Error().Str("job", job).Dur("restart_in", delay).Msg("job loop crashed, restarting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if delay *= 2; delay > restartBackoffMax {
				delay = restartBackoffMax
			}
		}
	}()
}

// jobLoop ticks one job until ctx ends. Returns true on a clean exit,
// false when the loop died to a panic.
func (s *Scheduler) jobLoop(ctx context.Context, job string, interval func(context.Context) time.Duration, run func(context.Context) error) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Str("job", job).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("job panic")
			clean = false
		}
	}()

	// Stagger first runs so all jobs do not hit the store at once on boot.
	timer := time.NewTimer(time.Duration(rand.Int63n(int64(startJitterMax))))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return true
		case <-timer.C:
		}

		started := time.Now()
		err := run(ctx)
		took := time.Since(started)
		s.deps.Health.RecordJobRun(job, took, err)
		if err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Str("job", job).Dur("took", took).Msg("job run failed")
		}

		next := interval(ctx)
		if next <= 0 {
			next = time.Second
		}
		timer.Reset(next)
	}
}

// batchSize adapts the per-tick token budget to the load class.
func batchSize(class health.LoadClass, min, max int) int {
	if max < min {
		max = min
	}
	var n int
	switch class {
	case health.LoadLow:
		n = max
	case health.LoadMedium:
		n = max * 2 / 3
	case health.LoadHigh:
		n = max / 3
	default:
		n = min
	}
	if n < min {
		n = min
	}
	return n
}
