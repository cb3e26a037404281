package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/dexscreener"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/events"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/export"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/market"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/settings"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/telemetry"
)

// runActivation promotes monitoring tokens that grew a qualifying
// external pool, and archives the ones that never did within the
// monitoring window. Pair data comes from the cold client's batched
// endpoint: thirty mints per upstream call.
func (s *Scheduler) runActivation(ctx context.Context) error {
	log := s.log.With().Str("job", "activation_sweep").Logger()

	minLiquidity := s.deps.Settings.Float(ctx, settings.KeyActivationMinLiquidityUSD)
	excluded := s.deps.Settings.CSVSet(ctx, settings.KeyExcludedDexIDs)
	window := time.Duration(s.deps.Settings.Float(ctx, settings.KeyMonitoringTimeoutHours) * float64(time.Hour))

	monitoring, err := s.deps.Repo.ListByStatus(ctx, domain.StatusMonitoring, s.cfg.SelectionCap, 0)
	if err != nil {
		return fmt.Errorf("list monitoring: %w", err)
	}
	if len(monitoring) == 0 {
		return nil
	}

	mints := make([]string, len(monitoring))
	for i := range monitoring {
		mints[i] = monitoring[i].MintAddress
	}
	pairsByMint, fetchErr := s.deps.Cold.GetPairsBatched(ctx, mints, dexscreener.MaxMintsPerBatch)
	if fetchErr != nil {
		// Partial results still activate what they can.
		log.Warn().Err(fetchErr).Int("mints", len(mints)).Msg("batched pair fetch incomplete")
	}

	var (
		activated, archived, waiting, failed int
		wg                                   sync.WaitGroup
		mu                                   sync.Mutex
		sem                                  = make(chan struct{}, s.cfg.ActivationConcurrency)
	)
	for _, t := range monitoring {
		pairs, fetched := pairsByMint[t.MintAddress]
		if !fetched {
			failed++
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
		wg.Add(1)
		go func(t domain.Token, pairs []dexscreener.Pair) {
			defer wg.Done()
			defer func() { <-sem }()
			outcome := s.activateOne(ctx, t, pairs, minLiquidity, excluded, window)
			mu.Lock()
			switch outcome {
			case "activated":
				activated++
			case "archived":
				archived++
			case "failed":
				failed++
			default:
				waiting++
			}
			mu.Unlock()
		}(t, pairs)
	}
	wg.Wait()

	log.Info().
		Int("monitoring", len(monitoring)).
		Int("activated", activated).
		Int("archived", archived).
		Int("waiting", waiting).
		Int("failed", failed).
		Msg("activation sweep complete")
	return nil
}

func (s *Scheduler) activateOne(ctx context.Context, t domain.Token, pairs []dexscreener.Pair, minLiquidity float64, excluded map[string]struct{}, window time.Duration) string {
	release, ok := s.locks.TryLock(t.MintAddress)
	if !ok {
		return "waiting"
	}
	defer release()

	if market.MeetsActivation(pairs, minLiquidity, excluded) {
		if name, symbol := baseMeta(pairs, t.MintAddress); name != "" || symbol != "" {
			if err := s.deps.Repo.FillTokenMeta(ctx, t.ID, name, symbol); err != nil {
				s.log.Warn().Err(err).Str("mint", t.MintAddress).Msg("token meta fill failed")
			}
		}
		if err := s.deps.Repo.UpdateStatus(ctx, t.ID, domain.StatusActive); err != nil {
			s.log.Warn().Err(err).Str("mint", t.MintAddress).Msg("activation failed")
			return "failed"
		}
		telemetry.StatusTransitions.WithLabelValues(string(domain.StatusActive), "activation").Inc()
		s.log.Info().Str("mint", t.MintAddress).Msg("token activated")
		s.deps.Events.Publish(events.SubjectTokenActivated, events.TokenEvent{
			MintAddress: t.MintAddress,
			Status:      string(domain.StatusActive),
			Reason:      "qualifying_pool",
			At:          time.Now().UTC(),
		})
		return "activated"
	}

	if window > 0 && time.Since(t.CreatedAt) > window {
		if err := s.deps.Repo.UpdateStatus(ctx, t.ID, domain.StatusArchived); err != nil {
			s.log.Warn().Err(err).Str("mint", t.MintAddress).Msg("monitoring timeout archive failed")
			return "failed"
		}
		telemetry.StatusTransitions.WithLabelValues(string(domain.StatusArchived), "monitoring_timeout").Inc()
		s.log.Info().Str("mint", t.MintAddress).Dur("monitored_for", time.Since(t.CreatedAt)).Msg("token archived, never activated")
		s.deps.Events.Publish(events.SubjectTokenArchived, events.TokenEvent{
			MintAddress: t.MintAddress,
			Status:      string(domain.StatusArchived),
			Reason:      "monitoring_timeout",
			At:          time.Now().UTC(),
		})
		return "archived"
	}
	return "waiting"
}

// baseMeta pulls the token's name and symbol from the first pair whose
// base token is this mint.
func baseMeta(pairs []dexscreener.Pair, mint string) (name, symbol string) {
	for _, p := range pairs {
		if p.BaseToken.Address != mint {
			continue
		}
		if p.BaseToken.Name != "" || p.BaseToken.Symbol != "" {
			return p.BaseToken.Name, p.BaseToken.Symbol
		}
	}
	return "", ""
}

// runArchival retires active tokens whose smoothed score has stayed
// under min_score for the whole archive window. A single snapshot back
// above the floor resets the clock.
func (s *Scheduler) runArchival(ctx context.Context) error {
	log := s.log.With().Str("job", "archival_sweep").Logger()

	minScore := s.deps.Settings.Float(ctx, settings.KeyMinScore)
	dwell := time.Duration(s.deps.Settings.Float(ctx, settings.KeyArchiveBelowHours) * float64(time.Hour))
	if dwell <= 0 {
		return nil
	}

	active, err := s.deps.Repo.ListByStatus(ctx, domain.StatusActive, s.cfg.SelectionCap, 0)
	if err != nil {
		return fmt.Errorf("list active: %w", err)
	}
	ids := make([]int64, len(active))
	for i := range active {
		ids[i] = active[i].ID
	}
	latest, err := s.deps.Repo.GetLatestSnapshotsBatch(ctx, ids)
	if err != nil {
		return fmt.Errorf("load latest snapshots: %w", err)
	}

	archived, kept := 0, 0
	for _, t := range active {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		snap := latest[t.ID]
		if snap == nil || snap.SmoothedScore >= minScore {
			kept++
			continue
		}
		since, err := s.deps.Repo.GetBelowScoreSince(ctx, t.ID, minScore)
		if err != nil {
			log.Warn().Err(err).Str("mint", t.MintAddress).Msg("below-score history unavailable")
			continue
		}
		if since == nil || time.Since(*since) < dwell {
			kept++
			continue
		}

		release, ok := s.locks.TryLock(t.MintAddress)
		if !ok {
			kept++
			continue
		}
		err = s.deps.Repo.UpdateStatus(ctx, t.ID, domain.StatusArchived)
		release()
		if err != nil {
			log.Warn().Err(err).Str("mint", t.MintAddress).Msg("archive failed")
			continue
		}
		archived++
		telemetry.StatusTransitions.WithLabelValues(string(domain.StatusArchived), "low_score").Inc()
		log.Info().
			Str("mint", t.MintAddress).
			Float64("smoothed_score", snap.SmoothedScore).
			Time("below_since", *since).
			Msg("token archived, score stayed low")
		s.deps.Events.Publish(events.SubjectTokenArchived, events.TokenEvent{
			MintAddress: t.MintAddress,
			Status:      string(domain.StatusArchived),
			Reason:      "low_score",
			At:          time.Now().UTC(),
		})
	}

	log.Info().Int("active", len(active)).Int("archived", archived).Int("kept", kept).Msg("archival sweep complete")
	return nil
}

// runSpam analyzes the exportable tokens, newest scores first. The RPC
// work runs outside the mint lock; only the metrics attach takes it.
func (s *Scheduler) runSpam(ctx context.Context) error {
	log := s.log.With().Str("job", "spam_sweep").Logger()

	minScore := s.deps.Settings.Float(ctx, settings.KeyNotarbMinScore)
	whitelist := s.deps.Settings.CSVSet(ctx, settings.KeySpamWhitelistWallets)

	targets, err := s.deps.Repo.ListWithLatest(ctx, storage.TokenFilter{
		Statuses: []domain.TokenStatus{domain.StatusActive},
		MinScore: &minScore,
		SortBy:   storage.SortBySmoothedScore,
		Limit:    s.cfg.ExportCandidates,
	})
	if err != nil {
		return fmt.Errorf("list spam targets: %w", err)
	}
	if len(targets) == 0 {
		return nil
	}

	var (
		analyzed, failed, skipped int
		wg                        sync.WaitGroup
		mu                        sync.Mutex
		sem                       = make(chan struct{}, s.cfg.SpamConcurrency)
	)
	for _, st := range targets {
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

			sm, err := s.deps.Spam.Analyze(ctx, t.MintAddress, whitelist)
			if err != nil {
				log.Debug().Err(err).Str("mint", t.MintAddress).Msg("spam analysis failed")
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}

			release, ok := s.locks.TryLock(t.MintAddress)
			if !ok {
				// Contended mint; metrics land on the next sweep.
				mu.Lock()
				skipped++
				mu.Unlock()
				return
			}
			err = s.deps.Repo.AttachSpamMetrics(ctx, t.ID, sm)
			release()
			mu.Lock()
			if err != nil {
				log.Warn().Err(err).Str("mint", t.MintAddress).Msg("spam metrics attach failed")
				failed++
			} else {
				analyzed++
			}
			mu.Unlock()
		}(st.Token)
	}
	wg.Wait()

	log.Debug().
		Int("targets", len(targets)).
		Int("analyzed", analyzed).
		Int("failed", failed).
		Int("skipped", skipped).
		Msg("spam sweep complete")
	return nil
}

// runExport rewrites the NotArb pools file from the current ranking.
func (s *Scheduler) runExport(ctx context.Context) error {
	minScore := s.deps.Settings.Float(ctx, settings.KeyNotarbMinScore)
	maxSpam := s.deps.Settings.Float(ctx, settings.KeyNotarbMaxSpamPercentage)

	candidates, err := s.deps.Repo.ListActiveOrderedByScore(ctx, s.cfg.ExportCandidates)
	if err != nil {
		return fmt.Errorf("list export candidates: %w", err)
	}
	doc := export.BuildDocument(candidates, export.Selection{
		MinScore:   minScore,
		MaxSpamPct: maxSpam,
		TopN:       s.cfg.ExportTopN,
		Generator:  s.cfg.ExportGenerator,
	}, time.Now())
	return s.deps.Export.Write(doc)
}
