package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/dexscreener"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/events"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/health"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/market"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/settings"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/telemetry"
)

// RunSummary is the per-group completion event.
type RunSummary struct {
	Group      string `json:"group"`
	RunID      string `json:"run_id"`
	Selected   int    `json:"selected"`
	Processed  int    `json:"processed"`
	Updated    int    `json:"updated"`
	Touched    int    `json:"touched"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Deferred   int    `json:"deferred"`
	DurationMs int64  `json:"duration_ms"`
	P95Ms      int64  `json:"p95_ms"`
	LoadClass  string `json:"load_class"`
}

// runStats collects per-token outcomes across worker goroutines.
type runStats struct {
	mu        sync.Mutex
	updated   int
	touched   int
	failed    int
	skipped   int
	durations []time.Duration
}

func (st *runStats) record(outcome string, took time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	switch outcome {
	case "updated":
		st.updated++
	case "touched":
		st.touched++
	case "skipped_lock":
		st.skipped++
	default:
		st.failed++
	}
	st.durations = append(st.durations, took)
}

func (st *runStats) p95() time.Duration {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.durations) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(st.durations))
	copy(sorted, st.durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[(len(sorted)-1)*95/100]
}

func (s *Scheduler) runHot(ctx context.Context) error {
	return s.runRefresh(ctx, groupHot, s.deps.Hot, s.cfg.HotConcurrency, s.cfg.HotTimeout)
}

func (s *Scheduler) runCold(ctx context.Context) error {
	return s.runRefresh(ctx, groupCold, s.deps.Cold, s.cfg.ColdConcurrency, s.cfg.ColdTimeout)
}

// runRefresh executes one tick of a refresh group: select the token
// set, size the batch for the current load, fan out per-token work
// under a semaphore and report the outcome.
func (s *Scheduler) runRefresh(ctx context.Context, group string, client *dexscreener.Client, baseConcurrency int, baseTimeout time.Duration) error {
	runID := uuid.NewString()[:8]
	log := s.log.With().Str("group", group).Str("run_id", runID).Logger()
	started := time.Now()
	telemetry.GroupRuns.WithLabelValues(group).Inc()

	minScore := s.deps.Settings.Float(ctx, settings.KeyMinScore)
	filterCfg := market.FilterConfig{
		ExcludedDexIDs:      s.deps.Settings.CSVSet(ctx, settings.KeyExcludedDexIDs),
		MinPoolLiquidityUSD: s.deps.Settings.Float(ctx, settings.KeyMinPoolLiquidityUSD),
	}
	thresholds := market.Thresholds{
		MinLiquidityForWarnings:    s.deps.Settings.Float(ctx, settings.KeyMinLiquidityForWarnings),
		MinTransactionsForWarnings: s.deps.Settings.Int(ctx, settings.KeyMinTransactionsForWarnings),
		MaxPriceChange5m:           s.deps.Settings.Float(ctx, settings.KeyMaxPriceChange5m),
	}

	tokens, err := s.selectRefreshSet(ctx, group, minScore)
	if err != nil {
		return err
	}

	load := s.deps.Health.Current()
	advice := s.deps.Health.Advise(baseConcurrency, baseTimeout)

	// Parked ids get first call once the box has headroom.
	if load.Class == health.LoadLow {
		tokens = s.prependDeferred(ctx, tokens)
	}
	selected := len(tokens)

	// Overflow beyond the adaptive batch parks in the deferred queue.
	deferred := 0
	if batch := batchSize(load.Class, s.cfg.MinBatchSize, s.cfg.MaxBatchSize); len(tokens) > batch {
		for _, t := range tokens[batch:] {
			if s.deferred.Push(t.ID) {
				deferred++
			}
		}
		tokens = tokens[:batch]
	}

	stats := &runStats{}
	sem := make(chan struct{}, advice.Concurrency)
	var wg sync.WaitGroup

	for _, t := range tokens {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
		wg.Add(1)
		go func(t domain.Token) {
			defer wg.Done()
			defer func() { <-sem }()
			taskStart := time.Now()
			outcome := s.guardedRefreshToken(ctx, log, group, client, t, filterCfg, thresholds, advice.CallTimeout)
			took := time.Since(taskStart)
			stats.record(outcome, took)
			telemetry.TokensProcessed.WithLabelValues(group, outcome).Inc()
			telemetry.TokenProcessDuration.WithLabelValues(group).Observe(took.Seconds())
		}(t)
	}
	wg.Wait()

	took := time.Since(started)
	telemetry.GroupDuration.WithLabelValues(group).Observe(took.Seconds())

	summary := RunSummary{
		Group:      group,
		RunID:      runID,
		Selected:   selected,
		Processed:  len(tokens),
		Updated:    stats.updated,
		Touched:    stats.touched,
		Failed:     stats.failed,
		Skipped:    stats.skipped,
		Deferred:   deferred,
		DurationMs: took.Milliseconds(),
		P95Ms:      stats.p95().Milliseconds(),
		LoadClass:  string(load.Class),
	}
	log.Info().
		Int("selected", summary.Selected).
		Int("processed", summary.Processed).
		Int("updated", summary.Updated).
		Int("touched", summary.Touched).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("deferred", summary.Deferred).
		Int("concurrency", advice.Concurrency).
		Dur("call_timeout", advice.CallTimeout).
		Str("load_class", summary.LoadClass).
		Dur("took", took).
		Dur("p95", stats.p95()).
		Msg("refresh group complete")
	s.deps.Events.Publish(events.SubjectSchedulerSummary, summary)
	return nil
}

// selectRefreshSet partitions tracked tokens between the groups. Hot
// takes active tokens scoring at or above min_score; cold takes the
// remaining active tokens plus everything still in monitoring.
func (s *Scheduler) selectRefreshSet(ctx context.Context, group string, minScore float64) ([]domain.Token, error) {
	active, err := s.deps.Repo.ListByStatus(ctx, domain.StatusActive, s.cfg.SelectionCap, 0)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	ids := make([]int64, len(active))
	for i := range active {
		ids[i] = active[i].ID
	}
	latest, err := s.deps.Repo.GetLatestSnapshotsBatch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load latest snapshots: %w", err)
	}

	out := make([]domain.Token, 0, len(active))
	for _, t := range active {
		snap := latest[t.ID]
		isHot := snap != nil && snap.SmoothedScore >= minScore
		if isHot == (group == groupHot) {
			out = append(out, t)
		}
	}

	if group == groupCold {
		room := s.cfg.SelectionCap - len(out)
		if room > 0 {
			monitoring, err := s.deps.Repo.ListByStatus(ctx, domain.StatusMonitoring, room, 0)
			if err != nil {
				return nil, fmt.Errorf("list monitoring: %w", err)
			}
			out = append(out, monitoring...)
		}
	}
	return out, nil
}

// prependDeferred pulls parked ids to the front of the work list,
// skipping ids already selected this tick.
func (s *Scheduler) prependDeferred(ctx context.Context, tokens []domain.Token) []domain.Token {
	ids := s.deferred.Drain(s.cfg.DeferredDrainMax)
	if len(ids) == 0 {
		return tokens
	}
	selected := make(map[int64]struct{}, len(tokens))
	for _, t := range tokens {
		selected[t.ID] = struct{}{}
	}
	front := make([]domain.Token, 0, len(ids))
	for _, id := range ids {
		if _, dup := selected[id]; dup {
			continue
		}
		t, err := s.deps.Repo.GetByID(ctx, id)
		if err != nil || t.Status == domain.StatusArchived {
			continue // token vanished or retired while parked
		}
		front = append(front, t)
	}
	return append(front, tokens...)
}

// guardedRefreshToken isolates per-token panics so one bad record
// cannot kill the whole group.
func (s *Scheduler) guardedRefreshToken(ctx context.Context, log zerolog.Logger, group string, client *dexscreener.Client, t domain.Token, fcfg market.FilterConfig, th market.Thresholds, callTimeout time.Duration) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("mint", t.MintAddress).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("token task panic")
			outcome = "failed"
		}
	}()
	return s.refreshToken(ctx, log, group, client, t, fcfg, th, callTimeout)
}

// refreshToken runs the fetch -> aggregate -> validate -> score
// pipeline for one token under its mint lock. Monitoring tokens get
// their market fields refreshed but are never scored.
func (s *Scheduler) refreshToken(ctx context.Context, log zerolog.Logger, group string, client *dexscreener.Client, t domain.Token, fcfg market.FilterConfig, th market.Thresholds, callTimeout time.Duration) string {
	release, ok := s.locks.TryLock(t.MintAddress)
	if !ok {
		return "skipped_lock"
	}
	defer release()

	fetchCtx, cancel := context.WithTimeout(ctx, callTimeout)
	pairs, err := client.GetPairs(fetchCtx, t.MintAddress)
	cancel()
	if err != nil {
		log.Debug().Err(err).Str("mint", t.MintAddress).Str("group", group).Msg("pair fetch failed")
		return "failed"
	}

	m := market.Aggregate(t, pairs, fcfg, time.Now().UTC())
	market.Validate(&m, th)

	if t.Status != domain.StatusActive {
		if err := s.deps.Repo.TouchMarketData(ctx, t.ID, m.LiquidityUSD, m.PrimaryDex); err != nil {
			log.Warn().Err(err).Str("mint", t.MintAddress).Msg("market touch failed")
			return "failed"
		}
		return "touched"
	}

	if _, err := s.deps.Scoring.CalculateAndPersist(ctx, t, m); err != nil {
		log.Warn().Err(err).Str("mint", t.MintAddress).Msg("score persist failed")
		return "failed"
	}
	return "updated"
}
