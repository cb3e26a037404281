package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/dexscreener"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/events"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/export"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/health"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/scoring"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/settings"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/spam"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage/memory"
)

type fakeRPC struct {
	sigs []*rpc.TransactionSignature
	txs  map[solana.Signature]*rpc.GetParsedTransactionResult
}

func (f *fakeRPC) GetSignaturesForAddressWithOpts(_ context.Context, _ solana.PublicKey, _ *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	return f.sigs, nil
}

func (f *fakeRPC) GetParsedTransaction(_ context.Context, sig solana.Signature, _ *rpc.GetParsedTransactionOpts) (*rpc.GetParsedTransactionResult, error) {
	return f.txs[sig], nil
}

// dexServer serves both pair endpoints from a static mint -> pairs map.
func dexServer(t *testing.T, pairs map[string][]dexscreener.Pair) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/latest/dex/tokens/"):
			mint := strings.TrimPrefix(r.URL.Path, "/latest/dex/tokens/")
			_ = json.NewEncoder(w).Encode(map[string]any{"schemaVersion": "1.0.0", "pairs": pairs[mint]})
		case strings.HasPrefix(r.URL.Path, "/tokens/v1/solana/"):
			var flat []dexscreener.Pair
			for _, m := range strings.Split(strings.TrimPrefix(r.URL.Path, "/tokens/v1/solana/"), ",") {
				flat = append(flat, pairs[m]...)
			}
			_ = json.NewEncoder(w).Encode(flat)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	s          *Scheduler
	repo       *memory.Store
	cfg        *settings.Store
	rpc        *fakeRPC
	exportPath string
}

func newTestEnv(t *testing.T, pairs map[string][]dexscreener.Pair, cfg Config) *testEnv {
	t.Helper()
	repo := memory.New()
	store := settings.New(repo, zerolog.Nop(), time.Millisecond)
	srv := dexServer(t, pairs)

	client := func(name string) *dexscreener.Client {
		return dexscreener.New(dexscreener.Config{
			Name:            name,
			BaseURL:         srv.URL,
			Timeout:         2 * time.Second,
			MinCallGap:      time.Millisecond,
			MaxRetryElapsed: 50 * time.Millisecond,
			BreakerFailures: 100,
		}, zerolog.Nop(), nil)
	}

	rpcFake := &fakeRPC{}
	exportPath := filepath.Join(t.TempDir(), "markets.json")
	if cfg.ExportGenerator == "" {
		cfg.ExportGenerator = "test-gen"
	}

	s := New(Deps{
		Repo:     repo,
		Settings: store,
		Hot:      client("hot"),
		Cold:     client("cold"),
		Scoring:  scoring.NewService(repo, store, zerolog.Nop()),
		Spam:     spam.NewWithClient(rpcFake, 10, time.Second, zerolog.Nop()),
		Export:   export.NewWriter(exportPath, zerolog.Nop()),
		Health:   health.New(repo, health.Options{}, zerolog.Nop()),
		Events:   events.Disabled(),
		Log:      zerolog.Nop(),
	}, cfg)
	return &testEnv{s: s, repo: repo, cfg: store, rpc: rpcFake, exportPath: exportPath}
}

func (e *testEnv) insertToken(t *testing.T, mint string, status domain.TokenStatus) domain.Token {
	t.Helper()
	ctx := context.Background()
	tok, _, err := e.repo.InsertMonitoring(ctx, mint, "", "")
	require.NoError(t, err)
	if status != domain.StatusMonitoring {
		require.NoError(t, e.repo.UpdateStatus(ctx, tok.ID, status))
		tok, err = e.repo.GetByID(ctx, tok.ID)
		require.NoError(t, err)
	}
	return tok
}

func (e *testEnv) seedScore(t *testing.T, tokenID int64, smoothed float64, at time.Time) {
	t.Helper()
	require.NoError(t, e.repo.InsertScoreSnapshot(context.Background(), &domain.ScoreSnapshot{
		TokenID:       tokenID,
		Score:         smoothed,
		SmoothedScore: smoothed,
		ScoringModel:  domain.ModelHybridMomentum,
		Metrics:       domain.SnapshotMetrics{Verdict: domain.VerdictOK},
		CreatedAt:     at,
	}))
}

// solPair is a healthy SOL-quoted pool that passes the refresh filter
// and the quality thresholds.
func solPair(mint, dex, addr string, liquidityUSD float64) dexscreener.Pair {
	return dexscreener.Pair{
		ChainID:     "solana",
		DexID:       dex,
		PairAddress: addr,
		BaseToken:   dexscreener.TokenInfo{Address: mint, Name: "Moon Cat", Symbol: "MCAT"},
		QuoteToken:  dexscreener.TokenInfo{Symbol: "SOL"},
		Liquidity:   dexscreener.Liquidity{USD: liquidityUSD},
		Txns: dexscreener.TxWindows{
			M5: dexscreener.TxCounts{Buys: 30, Sells: 20},
			H1: dexscreener.TxCounts{Buys: 300, Sells: 200},
		},
		Volume:        dexscreener.VolumeWindows{M5: 400, H1: 3000},
		PriceChange:   dexscreener.ChangeWindows{M5: 0.02},
		PairCreatedAt: time.Now().Add(-3 * time.Hour).UnixMilli(),
	}
}

func TestSelectRefreshSet(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	ctx := context.Background()

	hot := env.insertToken(t, "MintHot1111111111111111111111111111111111111", domain.StatusActive)
	env.seedScore(t, hot.ID, 0.9, time.Now())
	coldActive := env.insertToken(t, "MintColdActive11111111111111111111111111111", domain.StatusActive)
	lowActive := env.insertToken(t, "MintLowActive111111111111111111111111111111", domain.StatusActive)
	env.seedScore(t, lowActive.ID, 0.05, time.Now())
	mon := env.insertToken(t, "MintMonitoring11111111111111111111111111111", domain.StatusMonitoring)

	got, err := env.s.selectRefreshSet(ctx, groupHot, 0.1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, hot.ID, got[0].ID)

	got, err = env.s.selectRefreshSet(ctx, groupCold, 0.1)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, coldActive.ID, got[0].ID) // unscored active
	assert.Equal(t, lowActive.ID, got[1].ID)  // scored below the floor
	assert.Equal(t, mon.ID, got[2].ID)        // monitoring rides the cold group
}

func TestRunHot_ScoresActiveTokens(t *testing.T) {
	const mint = "MintHotRefresh111111111111111111111111111111"
	env := newTestEnv(t, map[string][]dexscreener.Pair{
		mint: {solPair(mint, "raydium", "PoolHot1", 1500)},
	}, Config{})
	ctx := context.Background()

	tok := env.insertToken(t, mint, domain.StatusActive)
	env.seedScore(t, tok.ID, 0.9, time.Now().Add(-time.Minute))
	bystander := env.insertToken(t, "MintBystander1111111111111111111111111111111", domain.StatusMonitoring)

	require.NoError(t, env.s.runHot(ctx))

	snaps, err := env.repo.ListRecentSnapshots(ctx, tok.ID, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 1500.0, snaps[0].Metrics.LiquidityUSD)
	assert.Equal(t, "raydium", snaps[0].Metrics.PrimaryDex)
	assert.Equal(t, domain.VerdictOK, snaps[0].Metrics.Verdict)

	tok, err = env.repo.GetByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, tok.LiquidityUSD)
	assert.Equal(t, "raydium", tok.PrimaryDex)

	// Monitoring tokens belong to cold; the hot tick leaves them alone.
	snaps, err = env.repo.ListRecentSnapshots(ctx, bystander.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestRunCold_TouchesMonitoringAndScoresUnscored(t *testing.T) {
	const (
		monMint = "MintColdMonitoring11111111111111111111111111"
		actMint = "MintColdUnscored1111111111111111111111111111"
		hotMint = "MintColdHotSkip11111111111111111111111111111"
	)
	env := newTestEnv(t, map[string][]dexscreener.Pair{
		monMint: {solPair(monMint, "meteora", "PoolMon1", 800)},
		actMint: {solPair(actMint, "raydium", "PoolAct1", 1500)},
	}, Config{})
	ctx := context.Background()

	mon := env.insertToken(t, monMint, domain.StatusMonitoring)
	act := env.insertToken(t, actMint, domain.StatusActive)
	hot := env.insertToken(t, hotMint, domain.StatusActive)
	env.seedScore(t, hot.ID, 0.9, time.Now())

	require.NoError(t, env.s.runCold(ctx))

	// Monitoring tokens get market fields refreshed, never a score.
	mon, err := env.repo.GetByID(ctx, mon.ID)
	require.NoError(t, err)
	assert.Equal(t, 800.0, mon.LiquidityUSD)
	assert.Equal(t, "meteora", mon.PrimaryDex)
	assert.Equal(t, domain.StatusMonitoring, mon.Status)
	snaps, err := env.repo.ListRecentSnapshots(ctx, mon.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, snaps)

	// Unscored active tokens get their first snapshot here.
	snaps, err = env.repo.ListRecentSnapshots(ctx, act.ID, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 1500.0, snaps[0].Metrics.LiquidityUSD)

	// Tokens scoring above the floor are hot-group work.
	snaps, err = env.repo.ListRecentSnapshots(ctx, hot.ID, 10)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestRunHot_DefersOverflowBeyondBatch(t *testing.T) {
	const (
		mintA = "MintOverflowA1111111111111111111111111111111"
		mintB = "MintOverflowB1111111111111111111111111111111"
	)
	env := newTestEnv(t, map[string][]dexscreener.Pair{
		mintA: {solPair(mintA, "raydium", "PoolA", 1500)},
		mintB: {solPair(mintB, "raydium", "PoolB", 1500)},
	}, Config{MinBatchSize: 1, MaxBatchSize: 1})
	ctx := context.Background()

	a := env.insertToken(t, mintA, domain.StatusActive)
	env.seedScore(t, a.ID, 0.9, time.Now())
	b := env.insertToken(t, mintB, domain.StatusActive)
	env.seedScore(t, b.ID, 0.9, time.Now())

	require.NoError(t, env.s.runHot(ctx))

	snaps, err := env.repo.ListRecentSnapshots(ctx, a.ID, 10)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
	snaps, err = env.repo.ListRecentSnapshots(ctx, b.ID, 10)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	require.Equal(t, 1, env.s.deferred.Len())
	assert.Equal(t, []int64{b.ID}, env.s.deferred.Drain(10))
}

func TestPrependDeferred(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	ctx := context.Background()

	a := env.insertToken(t, "MintParkedA111111111111111111111111111111111", domain.StatusActive)
	b := env.insertToken(t, "MintParkedB111111111111111111111111111111111", domain.StatusActive)
	gone := env.insertToken(t, "MintParkedGone1111111111111111111111111111111", domain.StatusMonitoring)
	require.NoError(t, env.repo.UpdateStatus(ctx, gone.ID, domain.StatusArchived))

	env.s.deferred.Push(a.ID)    // already selected this tick
	env.s.deferred.Push(b.ID)    // live, goes to the front
	env.s.deferred.Push(999)     // vanished
	env.s.deferred.Push(gone.ID) // retired while parked

	out := env.s.prependDeferred(ctx, []domain.Token{a})
	require.Len(t, out, 2)
	assert.Equal(t, b.ID, out[0].ID)
	assert.Equal(t, a.ID, out[1].ID)
	assert.Zero(t, env.s.deferred.Len())
}

func TestRunActivation_PromotesQualifyingPool(t *testing.T) {
	const (
		readyMint = "MintActivateReady111111111111111111111111111"
		thinMint  = "MintActivateThin1111111111111111111111111111"
	)
	env := newTestEnv(t, map[string][]dexscreener.Pair{
		readyMint: {solPair(readyMint, "raydium", "PoolReady", 250)},
		thinMint:  {solPair(thinMint, "raydium", "PoolThin", 150)},
	}, Config{})
	ctx := context.Background()

	ready := env.insertToken(t, readyMint, domain.StatusMonitoring)
	thin := env.insertToken(t, thinMint, domain.StatusMonitoring)

	require.NoError(t, env.s.runActivation(ctx))

	ready, err := env.repo.GetByID(ctx, ready.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, ready.Status)
	assert.Equal(t, "Moon Cat", ready.Name)
	assert.Equal(t, "MCAT", ready.Symbol)

	thin, err = env.repo.GetByID(ctx, thin.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMonitoring, thin.Status)
}

func TestRunActivation_ArchivesAfterMonitoringWindow(t *testing.T) {
	const mint = "MintNeverActivated11111111111111111111111111"
	env := newTestEnv(t, map[string][]dexscreener.Pair{}, Config{})
	ctx := context.Background()

	tok := env.insertToken(t, mint, domain.StatusMonitoring)
	// A window of ~1ms so the token ages out immediately.
	require.NoError(t, env.cfg.Set(ctx, settings.KeyMonitoringTimeoutHours, "0.0000003"))
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, env.s.runActivation(ctx))

	tok, err := env.repo.GetByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, tok.Status)
}

func TestRunArchival(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	ctx := context.Background()
	now := time.Now()

	// Below the floor for longer than the 12h dwell.
	stale := env.insertToken(t, "MintArchiveStale1111111111111111111111111111", domain.StatusActive)
	env.seedScore(t, stale.ID, 0.05, now.Add(-13*time.Hour))

	// Dropped long ago but recovered since; the run restarts at recovery.
	recovered := env.insertToken(t, "MintArchiveRecovered111111111111111111111111", domain.StatusActive)
	env.seedScore(t, recovered.ID, 0.05, now.Add(-13*time.Hour))
	env.seedScore(t, recovered.ID, 0.5, now.Add(-10*time.Minute))

	// Below the floor, but not yet for the full dwell.
	fresh := env.insertToken(t, "MintArchiveFresh1111111111111111111111111111", domain.StatusActive)
	env.seedScore(t, fresh.ID, 0.05, now.Add(-time.Hour))

	// Never scored at all.
	unscored := env.insertToken(t, "MintArchiveUnscored1111111111111111111111111", domain.StatusActive)

	require.NoError(t, env.s.runArchival(ctx))

	for _, tc := range []struct {
		name string
		id   int64
		want domain.TokenStatus
	}{
		{"stale", stale.ID, domain.StatusArchived},
		{"recovered", recovered.ID, domain.StatusActive},
		{"fresh", fresh.ID, domain.StatusActive},
		{"unscored", unscored.ID, domain.StatusActive},
	} {
		tok, err := env.repo.GetByID(ctx, tc.id)
		require.NoError(t, err)
		assert.Equal(t, tc.want, tok.Status, tc.name)
	}
}

func TestRunArchival_DisabledDwellIsNoop(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	ctx := context.Background()

	tok := env.insertToken(t, "MintArchiveDisabled1111111111111111111111111", domain.StatusActive)
	env.seedScore(t, tok.ID, 0.01, time.Now().Add(-100*time.Hour))
	require.NoError(t, env.cfg.Set(ctx, settings.KeyArchiveBelowHours, "0"))

	require.NoError(t, env.s.runArchival(ctx))

	tok, err := env.repo.GetByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, tok.Status)
}

func TestRunSpam_AttachesMetricsToTopTokens(t *testing.T) {
	// Valid base58 mint; the analyzer parses it before calling the RPC.
	const spamMint = "So11111111111111111111111111111111111111112"
	env := newTestEnv(t, nil, Config{})
	ctx := context.Background()

	target := env.insertToken(t, spamMint, domain.StatusActive)
	env.seedScore(t, target.ID, 0.9, time.Now())
	ignored := env.insertToken(t, "MintBelowSpamFloor11111111111111111111111111", domain.StatusActive)
	env.seedScore(t, ignored.ID, 0.2, time.Now())

	env.rpc.sigs = []*rpc.TransactionSignature{{Signature: solana.Signature{1}}}
	env.rpc.txs = map[solana.Signature]*rpc.GetParsedTransactionResult{
		{1}: {
			Transaction: &rpc.ParsedTransaction{
				Message: rpc.ParsedMessage{
					Instructions: []*rpc.ParsedInstruction{
						{ProgramId: computebudget.ProgramID},
						{ProgramId: computebudget.ProgramID},
						{ProgramId: computebudget.ProgramID},
						{ProgramId: solana.TokenProgramID},
					},
				},
			},
		},
	}

	require.NoError(t, env.s.runSpam(ctx))

	snap, err := env.repo.GetLatestSnapshot(ctx, target.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.SpamMetrics)
	assert.InDelta(t, 75.0, snap.SpamMetrics.SpamPercentage, 1e-9)
	assert.Equal(t, domain.RiskHigh, snap.SpamMetrics.RiskLevel)
	assert.Equal(t, 3, snap.SpamMetrics.ComputeBudgetCount)
	assert.Equal(t, 4, snap.SpamMetrics.TotalInstructions)
	assert.Equal(t, 1, snap.SpamMetrics.AnalyzedTxCount)

	// Tokens under the export floor are not analyzed.
	snap, err = env.repo.GetLatestSnapshot(ctx, ignored.ID)
	require.NoError(t, err)
	assert.Nil(t, snap.SpamMetrics)
}

func TestRunExport_WritesRankedFile(t *testing.T) {
	env := newTestEnv(t, nil, Config{ExportTopN: 3})
	ctx := context.Background()

	lead := env.insertToken(t, "MintExportLead111111111111111111111111111111", domain.StatusActive)
	require.NoError(t, env.repo.InsertScoreSnapshot(ctx, &domain.ScoreSnapshot{
		TokenID:       lead.ID,
		Score:         0.9,
		SmoothedScore: 0.9,
		ScoringModel:  domain.ModelHybridMomentum,
		Metrics: domain.SnapshotMetrics{
			Verdict: domain.VerdictOK,
			Pools:   []domain.PoolRef{{Address: "PoolLead1", DexID: "raydium", Quote: "SOL"}},
		},
	}))

	spammy := env.insertToken(t, "MintExportSpammy11111111111111111111111111111", domain.StatusActive)
	env.seedScore(t, spammy.ID, 0.8, time.Now())
	require.NoError(t, env.repo.AttachSpamMetrics(ctx, spammy.ID, &domain.SpamMetrics{
		SpamPercentage: 90,
		RiskLevel:      domain.RiskHigh,
	}))

	low := env.insertToken(t, "MintExportLowScore111111111111111111111111111", domain.StatusActive)
	env.seedScore(t, low.ID, 0.3, time.Now())

	require.NoError(t, env.s.runExport(ctx))

	raw, err := os.ReadFile(env.exportPath)
	require.NoError(t, err)
	var doc export.Document
	require.NoError(t, json.Unmarshal(raw, &doc))

	require.Len(t, doc.Tokens, 1)
	assert.Equal(t, lead.MintAddress, doc.Tokens[0].MintAddress)
	assert.Equal(t, []string{"PoolLead1"}, doc.Tokens[0].Pools)
	assert.InDelta(t, 0.9, doc.Tokens[0].Score, 1e-9)
	assert.Equal(t, "test-gen", doc.Metadata.Generator)
	assert.InDelta(t, 0.5, doc.Metadata.MinScoreThreshold, 1e-9)
	assert.Equal(t, 1, doc.Metadata.TotalTokens)
	assert.False(t, doc.Metadata.GeneratedAt.IsZero())
}

func TestSchedulerStatus(t *testing.T) {
	env := newTestEnv(t, nil, Config{DeferredCapacity: 7})
	env.s.deferred.Push(1)
	env.s.deferred.Push(2)

	st := env.s.Status()
	assert.Equal(t, 2, st.DeferredDepth)
	assert.Equal(t, 7, st.DeferredCapacity)
}
