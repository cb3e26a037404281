package domain

import "time"

// Scoring model tags recorded on snapshots.
const (
	ModelHybridMomentum = "hybrid_momentum"
	ModelLegacy         = "legacy"
)

// Data-quality verdicts produced by the validation layer.
type Verdict string

const (
	VerdictOK       Verdict = "ok"
	VerdictWarning  Verdict = "warning"
	VerdictCritical Verdict = "critical"
)

// Flags carried in SnapshotMetrics.Flags.
const (
	FlagEmergencyFallback   = "emergency_fallback"
	FlagNoSignificantChange = "no_significant_change"
	FlagNoUsablePools       = "no_usable_pools"
)

// ComponentSet holds the four scoring components plus the weighted final
// score, in raw or smoothed form.
type ComponentSet struct {
	TxAccel            float64 `json:"tx_accel"`
	VolMomentum        float64 `json:"vol_momentum"`
	TokenFreshness     float64 `json:"token_freshness"`
	OrderflowImbalance float64 `json:"orderflow_imbalance"`
	FinalScore         float64 `json:"final_score"`
}

// PoolRef identifies one liquidity pool kept by the aggregator.
type PoolRef struct {
	Address string `json:"address"`
	DexID   string `json:"dex_id"`
	Quote   string `json:"quote"`
}

// SnapshotMetrics is the typed market-data record attached to every score
// snapshot. Quality flags that do not warrant their own field go into the
// Flags side channel.
type SnapshotMetrics struct {
	LiquidityUSD       float64           `json:"liquidity_usd"`
	TxCount5m          int               `json:"tx_count_5m"`
	TxCount1h          int               `json:"tx_count_1h"`
	Volume5m           float64           `json:"volume_5m"`
	Volume1h           float64           `json:"volume_1h"`
	BuysVolume5m       float64           `json:"buys_volume_5m"`
	SellsVolume5m      float64           `json:"sells_volume_5m"`
	PriceChange5m      float64           `json:"price_change_5m"`
	HoursSinceCreation float64           `json:"hours_since_creation"`
	PrimaryDex         string            `json:"primary_dex,omitempty"`
	PoolCount          int               `json:"pool_count"`
	Pools              []PoolRef         `json:"pools,omitempty"`
	Verdict            Verdict           `json:"verdict"`
	Issues             []string          `json:"issues,omitempty"`
	Flags              map[string]string `json:"flags,omitempty"`
}

// SetFlag records a quality flag, allocating the map on first use.
func (m *SnapshotMetrics) SetFlag(name, value string) {
	if m.Flags == nil {
		m.Flags = make(map[string]string, 2)
	}
	m.Flags[name] = value
}

// HasFlag reports whether a quality flag is set to "true".
func (m *SnapshotMetrics) HasFlag(name string) bool {
	return m.Flags[name] == "true"
}

// Spam risk levels derived from the spam percentage.
const (
	RiskClean  = "clean"
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// SpamMetrics is the instruction-mix analysis for one token, produced by
// the spam analyzer on its own cadence and carried across scoring-only
// snapshots by the repository.
type SpamMetrics struct {
	SpamPercentage     float64   `json:"spam_percentage"`
	RiskLevel          string    `json:"risk_level"`
	TotalInstructions  int       `json:"total_instructions"`
	ComputeBudgetCount int       `json:"compute_budget_count"`
	TransferCount      int       `json:"transfer_count"`
	SystemCount        int       `json:"system_count"`
	OtherCount         int       `json:"other_count"`
	AnalyzedTxCount    int       `json:"analyzed_tx_count"`
	WhitelistedTxCount int       `json:"whitelisted_tx_count"`
	AnalysisTime       time.Time `json:"analysis_time"`
}

// ScoreSnapshot is one appended row of scoring output for a token.
// Snapshots for a token form a totally ordered time series.
type ScoreSnapshot struct {
	ID                 int64           `json:"id"`
	TokenID            int64           `json:"token_id"`
	Score              float64         `json:"score"`
	SmoothedScore      float64         `json:"smoothed_score"`
	RawComponents      ComponentSet    `json:"raw_components"`
	SmoothedComponents ComponentSet    `json:"smoothed_components"`
	ScoringModel       string          `json:"scoring_model"`
	Metrics            SnapshotMetrics `json:"metrics"`
	SpamMetrics        *SpamMetrics    `json:"spam_metrics,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// IsFallback reports whether the snapshot was produced by the emergency
// fallback path and must not seed EWMA state.
func (s *ScoreSnapshot) IsFallback() bool {
	return s.Metrics.HasFlag(FlagEmergencyFallback)
}
