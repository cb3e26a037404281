package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/settings"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store, *settings.Store, domain.Token) {
	t.Helper()
	store := memory.New()
	cfg := settings.New(store, zerolog.Nop(), time.Millisecond)
	svc := NewService(store, cfg, zerolog.Nop())
	token, created, err := store.InsertMonitoring(context.Background(), "MintServiceTest111", "Test", "TST")
	require.NoError(t, err)
	require.True(t, created)
	return svc, store, cfg, token
}

// okMetrics builds a record whose components are all known: tx accel 1,
// vol momentum 1, freshness 0.5 (threshold 6h), orderflow 0.5.
func okMetrics() domain.SnapshotMetrics {
	return domain.SnapshotMetrics{
		LiquidityUSD:       1000,
		TxCount5m:          100,
		TxCount1h:          1200,
		Volume5m:           300,
		Volume1h:           3600,
		BuysVolume5m:       225,
		SellsVolume5m:      75,
		HoursSinceCreation: 3,
		Verdict:            domain.VerdictOK,
	}
}

func TestCalculateAndPersist_FirstSnapshot(t *testing.T) {
	svc, store, _, token := newTestService(t)
	ctx := context.Background()

	snap, err := svc.CalculateAndPersist(ctx, token, okMetrics())
	require.NoError(t, err)

	// Equal default weights of 0.25 over components 1, 1, 0.5, 0.5.
	assert.InDelta(t, 0.75, snap.Score, 1e-9)
	assert.InDelta(t, 1.0, snap.RawComponents.TxAccel, 1e-9)
	assert.InDelta(t, 1.0, snap.RawComponents.VolMomentum, 1e-9)
	assert.InDelta(t, 0.5, snap.RawComponents.TokenFreshness, 1e-9)
	assert.InDelta(t, 0.5, snap.RawComponents.OrderflowImbalance, 1e-9)

	// No prior state: smoothed mirrors raw.
	assert.Equal(t, snap.RawComponents, snap.SmoothedComponents)
	assert.InDelta(t, snap.Score, snap.SmoothedScore, 1e-9)
	assert.Equal(t, domain.ModelHybridMomentum, snap.ScoringModel)
	assert.False(t, snap.Metrics.HasFlag(domain.FlagNoSignificantChange))

	latest, err := store.GetLatestSnapshot(ctx, token.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, snap.ID, latest.ID)
}

func TestCalculateAndPersist_WeightsAreLinear(t *testing.T) {
	svc, _, cfg, token := newTestService(t)
	ctx := context.Background()

	require.NoError(t, cfg.Set(ctx, settings.KeyWeightTx, "1"))
	require.NoError(t, cfg.Set(ctx, settings.KeyWeightVol, "0"))
	require.NoError(t, cfg.Set(ctx, settings.KeyWeightFresh, "0"))
	require.NoError(t, cfg.Set(ctx, settings.KeyWeightOI, "0"))

	snap, err := svc.CalculateAndPersist(ctx, token, okMetrics())
	require.NoError(t, err)
	assert.InDelta(t, snap.RawComponents.TxAccel, snap.Score, 1e-9)
}

func TestCalculateAndPersist_SmoothsAgainstPrior(t *testing.T) {
	svc, _, _, token := newTestService(t)
	ctx := context.Background()

	first, err := svc.CalculateAndPersist(ctx, token, okMetrics())
	require.NoError(t, err)

	// Double the 5m activity: tx accel jumps from 1 to 2.
	m := okMetrics()
	m.TxCount5m = 200
	second, err := svc.CalculateAndPersist(ctx, token, m)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, second.RawComponents.TxAccel, 1e-9)
	// Default alpha 0.3: 0.3*2 + 0.7*1.
	assert.InDelta(t, 1.3, second.SmoothedComponents.TxAccel, 1e-9)
	want := 0.3*second.Score + 0.7*first.SmoothedScore
	assert.InDelta(t, want, second.SmoothedScore, 1e-9)
}

func TestCalculateAndPersist_FlagsInsignificantChange(t *testing.T) {
	svc, _, _, token := newTestService(t)
	ctx := context.Background()

	_, err := svc.CalculateAndPersist(ctx, token, okMetrics())
	require.NoError(t, err)

	second, err := svc.CalculateAndPersist(ctx, token, okMetrics())
	require.NoError(t, err)
	assert.True(t, second.Metrics.HasFlag(domain.FlagNoSignificantChange))

	// A warning verdict suppresses the flag even when the delta is small.
	warn := okMetrics()
	warn.Verdict = domain.VerdictWarning
	third, err := svc.CalculateAndPersist(ctx, token, warn)
	require.NoError(t, err)
	assert.False(t, third.Metrics.HasFlag(domain.FlagNoSignificantChange))
}

func TestCalculateAndPersist_CriticalFallback(t *testing.T) {
	svc, store, _, token := newTestService(t)
	ctx := context.Background()

	for _, score := range []float64{0.4, 0.8, 1.2} {
		require.NoError(t, store.InsertScoreSnapshot(ctx, &domain.ScoreSnapshot{
			TokenID:            token.ID,
			Score:              score,
			SmoothedScore:      score,
			SmoothedComponents: domain.ComponentSet{FinalScore: score},
			ScoringModel:       domain.ModelHybridMomentum,
			Metrics:            domain.SnapshotMetrics{Verdict: domain.VerdictOK},
		}))
	}

	bad := domain.SnapshotMetrics{
		LiquidityUSD: -50,
		Verdict:      domain.VerdictCritical,
		Issues:       []string{"negative_liquidity"},
	}
	snap, err := svc.CalculateAndPersist(ctx, token, bad)
	require.NoError(t, err)

	// Half the median of {0.4, 0.8, 1.2}.
	assert.InDelta(t, 0.4, snap.Score, 1e-9)
	assert.InDelta(t, 0.4, snap.SmoothedScore, 1e-9)
	assert.True(t, snap.IsFallback())

	// The next normal run must reach past the fallback row for its prior.
	next, err := svc.CalculateAndPersist(ctx, token, okMetrics())
	require.NoError(t, err)
	// prior FinalScore is 1.2 (last non-fallback), alpha 0.3.
	assert.InDelta(t, 0.3*next.Score+0.7*1.2, next.SmoothedScore, 1e-9)
}

func TestCalculateAndPersist_FallbackWithoutHistory(t *testing.T) {
	svc, _, _, token := newTestService(t)
	ctx := context.Background()

	bad := domain.SnapshotMetrics{Verdict: domain.VerdictCritical}
	snap, err := svc.CalculateAndPersist(ctx, token, bad)
	require.NoError(t, err)
	assert.Zero(t, snap.Score)
	assert.True(t, snap.IsFallback())
}

func TestCalculateAndPersist_UnknownModelFallsBack(t *testing.T) {
	svc, _, cfg, token := newTestService(t)
	ctx := context.Background()

	require.NoError(t, cfg.Set(ctx, settings.KeyScoringModelActive, "legacy"))
	snap, err := svc.CalculateAndPersist(ctx, token, okMetrics())
	require.NoError(t, err)
	assert.Equal(t, domain.ModelHybridMomentum, snap.ScoringModel)
}

func TestCalculateAndPersist_InvalidAlpha(t *testing.T) {
	svc, _, cfg, token := newTestService(t)
	ctx := context.Background()

	require.NoError(t, cfg.Set(ctx, settings.KeyEwmaAlpha, "1.5"))
	_, err := svc.CalculateAndPersist(ctx, token, okMetrics())
	assert.ErrorIs(t, err, domain.ErrInvalidAlpha)
}

func TestCalculateAndPersist_ArbitrageActivityMode(t *testing.T) {
	svc, _, cfg, token := newTestService(t)
	ctx := context.Background()

	require.NoError(t, cfg.Set(ctx, settings.KeyTxCalculationMode, settings.TxModeArbitrageActivity))

	// 200 tx/5m at the optimal band with a 4x acceleration ratio.
	m := okMetrics()
	m.TxCount5m = 200
	m.TxCount1h = 600
	snap, err := svc.CalculateAndPersist(ctx, token, m)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, snap.RawComponents.TxAccel, 1e-9)
}

func TestMedian(t *testing.T) {
	assert.Zero(t, median(nil))
	assert.InDelta(t, 0.8, median([]float64{1.2, 0.4, 0.8}), 1e-9)
	assert.InDelta(t, 0.6, median([]float64{0.4, 0.8}), 1e-9)
	assert.InDelta(t, 5, median([]float64{5}), 1e-9)
}
