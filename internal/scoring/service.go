package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/settings"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/telemetry"
)

// fallbackWindow is how many recent snapshots feed the emergency median.
const fallbackWindow = 10

// Service orchestrates metrics -> components -> smoothing -> snapshot.
type Service struct {
	repo storage.TokenRepository
	cfg  *settings.Store
	log  zerolog.Logger
}

func NewService(repo storage.TokenRepository, cfg *settings.Store, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		cfg:  cfg,
		log:  log.With().Str("component", "scoring").Logger(),
	}
}

// CalculateAndPersist computes and writes one snapshot for the token. A
// critical verdict routes through the emergency fallback, which scores
// from history and leaves the EWMA state untouched.
func (s *Service) CalculateAndPersist(ctx context.Context, token domain.Token, m domain.SnapshotMetrics) (*domain.ScoreSnapshot, error) {
	if m.Verdict == domain.VerdictCritical {
		return s.persistFallback(ctx, token, m)
	}

	model := s.cfg.Get(ctx, settings.KeyScoringModelActive)
	if model != domain.ModelHybridMomentum {
		// hybrid_momentum is the only implemented model; legacy was retired.
		s.log.Debug().Str("configured", model).Msg("unsupported scoring model, using hybrid_momentum")
		model = domain.ModelHybridMomentum
	}
	alpha := s.cfg.Float(ctx, settings.KeyEwmaAlpha)

	raw := s.components(ctx, m)
	raw.FinalScore = s.cfg.Float(ctx, settings.KeyWeightTx)*raw.TxAccel +
		s.cfg.Float(ctx, settings.KeyWeightVol)*raw.VolMomentum +
		s.cfg.Float(ctx, settings.KeyWeightFresh)*raw.TokenFreshness +
		s.cfg.Float(ctx, settings.KeyWeightOI)*raw.OrderflowImbalance

	prior, err := s.ewmaPrior(ctx, token.ID)
	if err != nil {
		return nil, fmt.Errorf("load ewma prior: %w", err)
	}
	smoothed, err := SmoothComponents(prior, raw, alpha)
	if err != nil {
		return nil, err
	}

	snap := &domain.ScoreSnapshot{
		TokenID:            token.ID,
		Score:              raw.FinalScore,
		SmoothedScore:      smoothed.FinalScore,
		RawComponents:      raw,
		SmoothedComponents: smoothed,
		ScoringModel:       model,
		Metrics:            m,
	}

	if prior != nil && m.Verdict == domain.VerdictOK {
		minChange := s.cfg.Float(ctx, settings.KeyMinScoreChange)
		if math.Abs(smoothed.FinalScore-prior.FinalScore) < minChange {
			snap.Metrics.SetFlag(domain.FlagNoSignificantChange, "true")
		}
	}

	if err := s.repo.InsertScoreSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}
	telemetry.SnapshotWrites.Inc()
	return snap, nil
}

func (s *Service) components(ctx context.Context, m domain.SnapshotMetrics) domain.ComponentSet {
	tx5m := float64(m.TxCount5m)
	tx1h := float64(m.TxCount1h)

	var txComponent float64
	switch s.cfg.Get(ctx, settings.KeyTxCalculationMode) {
	case settings.TxModeArbitrageActivity:
		txComponent = TxArbitrageActivity(tx5m, tx1h,
			s.cfg.Float(ctx, settings.KeyArbitrageMinTx5m),
			s.cfg.Float(ctx, settings.KeyArbitrageOptimalTx5m),
			s.cfg.Float(ctx, settings.KeyArbitrageAccelWeight))
	default:
		txComponent = TxAccel(tx5m, tx1h)
	}

	return domain.ComponentSet{
		TxAccel:            txComponent,
		VolMomentum:        VolMomentum(m.Volume5m, m.Volume1h),
		TokenFreshness:     TokenFreshness(m.HoursSinceCreation, s.cfg.Float(ctx, settings.KeyFreshnessThresholdHours)),
		OrderflowImbalance: OrderflowImbalance(m.BuysVolume5m, m.SellsVolume5m),
	}
}

// ewmaPrior returns the smoothed components of the most recent snapshot
// that was not produced by the fallback path, or nil when none exists.
func (s *Service) ewmaPrior(ctx context.Context, tokenID int64) (*domain.ComponentSet, error) {
	latest, err := s.repo.GetLatestSnapshot(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	if !latest.IsFallback() {
		cp := latest.SmoothedComponents
		return &cp, nil
	}
	recent, err := s.repo.ListRecentSnapshots(ctx, tokenID, fallbackWindow)
	if err != nil {
		return nil, err
	}
	for i := range recent {
		if !recent[i].IsFallback() {
			cp := recent[i].SmoothedComponents
			return &cp, nil
		}
	}
	return nil, nil
}

// persistFallback writes the emergency snapshot: half the median of the
// last smoothed finals, flagged so later computations skip it as prior.
func (s *Service) persistFallback(ctx context.Context, token domain.Token, m domain.SnapshotMetrics) (*domain.ScoreSnapshot, error) {
	recent, err := s.repo.ListRecentSnapshots(ctx, token.ID, fallbackWindow)
	if err != nil {
		return nil, fmt.Errorf("load fallback history: %w", err)
	}
	finals := make([]float64, 0, len(recent))
	for i := range recent {
		finals = append(finals, recent[i].SmoothedScore)
	}
	score := 0.5 * median(finals)

	m.SetFlag(domain.FlagEmergencyFallback, "true")
	snap := &domain.ScoreSnapshot{
		TokenID:            token.ID,
		Score:              score,
		SmoothedScore:      score,
		RawComponents:      domain.ComponentSet{FinalScore: score},
		SmoothedComponents: domain.ComponentSet{FinalScore: score},
		ScoringModel:       domain.ModelHybridMomentum,
		Metrics:            m,
	}
	if err := s.repo.InsertScoreSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist fallback snapshot: %w", err)
	}
	telemetry.SnapshotWrites.Inc()
	s.log.Warn().
		Str("mint", token.MintAddress).
		Float64("score", score).
		Strs("issues", m.Issues).
		Msg("critical data verdict, emergency fallback score written")
	return snap, nil
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
