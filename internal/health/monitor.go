// Package health samples process and host load, classifies it, and turns
// the classification into concrete scheduler advice. It also keeps the
// operational registries surfaced on /health/scheduler: circuit-breaker
// states, job heartbeats and stale-token detection.
package health

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/telemetry"
)

// LoadClass buckets current resource pressure. Schedulers size their
// batches and semaphores off it.
type LoadClass string

const (
	LoadLow       LoadClass = "low"
	LoadMedium    LoadClass = "medium"
	LoadHigh      LoadClass = "high"
	LoadUnderLoad LoadClass = "under_load"
)

func (c LoadClass) gaugeValue() float64 {
	switch c {
	case LoadLow:
		return 0
	case LoadMedium:
		return 1
	case LoadHigh:
		return 2
	default:
		return 3
	}
}

// Thresholds are the class boundaries in percent. A class applies only
// when both CPU and memory sit under its marks.
type Thresholds struct {
	CPULow, CPUMedium, CPUHigh float64
	MemLow, MemMedium, MemHigh float64
}

// Classify maps a cpu/mem reading onto a load class.
func (t Thresholds) Classify(cpuPct, memPct float64) LoadClass {
	switch {
	case cpuPct < t.CPULow && memPct < t.MemLow:
		return LoadLow
	case cpuPct < t.CPUMedium && memPct < t.MemMedium:
		return LoadMedium
	case cpuPct < t.CPUHigh && memPct < t.MemHigh:
		return LoadHigh
	default:
		return LoadUnderLoad
	}
}

// Sample is one smoothed load reading.
type Sample struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	RSSBytes      uint64    `json:"rss_bytes"`
	Goroutines    int       `json:"goroutines"`
	Class         LoadClass `json:"class"`
	TakenAt       time.Time `json:"taken_at"`
}

// Advice is what a refresh group should run with right now.
type Advice struct {
	Concurrency int
	CallTimeout time.Duration
}

// JobStatus is the heartbeat record for one scheduler job.
type JobStatus struct {
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration_ms"`
	LastError    string        `json:"last_error,omitempty"`
	Runs         uint64        `json:"runs"`
	Failures     uint64        `json:"failures"`
}

// Options configure the monitor.
type Options struct {
	Interval             time.Duration
	Thresholds           Thresholds
	UnderLoadConcurrency int
	UnderLoadTimeout     time.Duration
}

// cpuSmoothingAlpha dampens sampling spikes; each reading contributes
// 30% to the reported value.
const cpuSmoothingAlpha = 0.3

// Monitor owns the sampling loop and the operational registries.
type Monitor struct {
	repo storage.TokenRepository
	opts Options
	log  zerolog.Logger
	proc *process.Process

	mu       sync.RWMutex
	sample   Sample
	breakers map[string]string
	jobs     map[string]JobStatus

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a monitor. Start must be called before Current returns
// meaningful samples; until then the class is low.
func New(repo storage.TokenRepository, opts Options, log zerolog.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.UnderLoadConcurrency <= 0 {
		opts.UnderLoadConcurrency = 4
	}
	if opts.UnderLoadTimeout <= 0 {
		opts.UnderLoadTimeout = 1500 * time.Millisecond
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn().Err(err).Msg("process handle unavailable, rss reporting disabled")
		proc = nil
	}
	return &Monitor{
		repo:     repo,
		opts:     opts,
		log:      log.With().Str("component", "health_monitor").Logger(),
		proc:     proc,
		sample:   Sample{Class: LoadLow, TakenAt: time.Now()},
		breakers: make(map[string]string),
		jobs:     make(map[string]JobStatus),
	}
}

// Start launches the sampling loop. Stop shuts it down.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
	m.log.Info().Dur("interval", m.opts.Interval).Msg("load monitor started")
}

// Stop cancels the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	m.sampleOnce(ctx)
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce(ctx)
		}
	}
}

func (m *Monitor) sampleOnce(ctx context.Context) {
	s := Sample{
		Goroutines: runtime.NumGoroutine(),
		TakenAt:    time.Now(),
	}

	if pcts, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(pcts) > 0 {
		prev := m.Current().CPUPercent
		s.CPUPercent = prev + cpuSmoothingAlpha*(pcts[0]-prev)
	} else if err != nil {
		m.log.Warn().Err(err).Msg("cpu sample failed")
		s.CPUPercent = m.Current().CPUPercent
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryPercent = vm.UsedPercent
	} else {
		m.log.Warn().Err(err).Msg("memory sample failed")
		s.MemoryPercent = m.Current().MemoryPercent
	}

	if m.proc != nil {
		if mi, err := m.proc.MemoryInfoWithContext(ctx); err == nil {
			s.RSSBytes = mi.RSS
		}
	}

	prevClass := m.Current().Class
	s.Class = m.opts.Thresholds.Classify(s.CPUPercent, s.MemoryPercent)

	m.mu.Lock()
	m.sample = s
	m.mu.Unlock()

	telemetry.CPUUsagePercent.Set(s.CPUPercent)
	telemetry.MemoryUsagePercent.Set(s.MemoryPercent)
	telemetry.ProcessRSSBytes.Set(float64(s.RSSBytes))
	telemetry.GoroutinesActive.Set(float64(s.Goroutines))
	telemetry.LoadClass.Set(s.Class.gaugeValue())

	if s.Class != prevClass {
		m.log.Info().
			Str("from", string(prevClass)).
			Str("to", string(s.Class)).
			Float64("cpu_percent", s.CPUPercent).
			Float64("memory_percent", s.MemoryPercent).
			Msg("load class changed")
	}

	m.refreshStatusGauges(ctx)
}

func (m *Monitor) refreshStatusGauges(ctx context.Context) {
	counts, err := m.repo.CountByStatus(ctx)
	if err != nil {
		return
	}
	for _, status := range []domain.TokenStatus{
		domain.StatusMonitoring, domain.StatusActive, domain.StatusArchived,
	} {
		telemetry.TokensByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// Current returns the latest sample.
func (m *Monitor) Current() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sample
}

// Advise adapts a group's base concurrency and per-call timeout to the
// current load class. Outside under_load the base values pass through.
func (m *Monitor) Advise(baseConcurrency int, baseTimeout time.Duration) Advice {
	if m.Current().Class != LoadUnderLoad {
		return Advice{Concurrency: baseConcurrency, CallTimeout: baseTimeout}
	}
	conc := m.opts.UnderLoadConcurrency
	if conc > baseConcurrency {
		conc = baseConcurrency
	}
	timeout := m.opts.UnderLoadTimeout
	if timeout > baseTimeout {
		timeout = baseTimeout
	}
	return Advice{Concurrency: conc, CallTimeout: timeout}
}

// SetBreakerState records a circuit-breaker transition for /health.
func (m *Monitor) SetBreakerState(client, state string) {
	m.mu.Lock()
	m.breakers[client] = state
	m.mu.Unlock()
}

// BreakerStates returns a copy of the breaker registry.
func (m *Monitor) BreakerStates() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.breakers))
	for k, v := range m.breakers {
		out[k] = v
	}
	return out
}

// RecordJobRun updates the heartbeat for one scheduler job.
func (m *Monitor) RecordJobRun(job string, took time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.jobs[job]
	st.LastRun = time.Now()
	st.LastDuration = took
	st.Runs++
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	} else {
		st.LastError = ""
	}
	m.jobs[job] = st
}

// JobStatuses returns a copy of the heartbeat registry.
func (m *Monitor) JobStatuses() map[string]JobStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]JobStatus, len(m.jobs))
	for k, v := range m.jobs {
		out[k] = v
	}
	return out
}

// StaleActive lists active tokens whose latest snapshot is older than
// the given age. These show up on /health/scheduler as a refresh-lag
// signal.
func (m *Monitor) StaleActive(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Token, error) {
	return m.repo.ListStale(ctx, domain.StatusActive, time.Now().Add(-olderThan), limit)
}
