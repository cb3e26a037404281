package settings

// Setting keys form a closed enumeration. Values are stored as strings and
// typed at point of use; every key has a compile-time default.
const (
	KeyScoringModelActive         = "scoring_model_active"
	KeyTxCalculationMode          = "tx_calculation_mode"
	KeyWeightTx                   = "w_tx"
	KeyWeightVol                  = "w_vol"
	KeyWeightFresh                = "w_fresh"
	KeyWeightOI                   = "w_oi"
	KeyEwmaAlpha                  = "ewma_alpha"
	KeyFreshnessThresholdHours    = "freshness_threshold_hours"
	KeyMinScore                   = "min_score"
	KeyMinScoreChange             = "min_score_change"
	KeyArchiveBelowHours          = "archive_below_hours"
	KeyMonitoringTimeoutHours     = "monitoring_timeout_hours"
	KeyActivationMinLiquidityUSD  = "activation_min_liquidity_usd"
	KeyMinPoolLiquidityUSD        = "min_pool_liquidity_usd"
	KeyMaxPriceChange5m           = "max_price_change_5m"
	KeyHotIntervalSec             = "hot_interval_sec"
	KeyColdIntervalSec            = "cold_interval_sec"
	KeyArbitrageMinTx5m           = "arbitrage_min_tx_5m"
	KeyArbitrageOptimalTx5m       = "arbitrage_optimal_tx_5m"
	KeyArbitrageAccelWeight       = "arbitrage_acceleration_weight"
	KeyNotarbMinScore             = "notarb_min_score"
	KeyNotarbMaxSpamPercentage    = "notarb_max_spam_percentage"
	KeySpamWhitelistWallets       = "spam_whitelist_wallets"
	KeyMinLiquidityForWarnings    = "min_liquidity_for_warnings"
	KeyMinTransactionsForWarnings = "min_transactions_for_warnings"
	KeyExcludedDexIDs             = "excluded_dex_ids"
)

// TX component calculation modes.
const (
	TxModeAcceleration      = "acceleration"
	TxModeArbitrageActivity = "arbitrage_activity"
)

// Jupiter v6 router; its swaps are legitimate aggregator traffic, not spam.
const defaultWhitelist = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"

var defaults = map[string]string{
	KeyScoringModelActive:         "hybrid_momentum",
	KeyTxCalculationMode:          TxModeAcceleration,
	KeyWeightTx:                   "0.25",
	KeyWeightVol:                  "0.25",
	KeyWeightFresh:                "0.25",
	KeyWeightOI:                   "0.25",
	KeyEwmaAlpha:                  "0.3",
	KeyFreshnessThresholdHours:    "6.0",
	KeyMinScore:                   "0.1",
	KeyMinScoreChange:             "0.05",
	KeyArchiveBelowHours:          "12",
	KeyMonitoringTimeoutHours:     "12",
	KeyActivationMinLiquidityUSD:  "200",
	KeyMinPoolLiquidityUSD:        "500",
	KeyMaxPriceChange5m:           "0.5",
	KeyHotIntervalSec:             "10",
	KeyColdIntervalSec:            "45",
	KeyArbitrageMinTx5m:           "50",
	KeyArbitrageOptimalTx5m:       "200",
	KeyArbitrageAccelWeight:       "0.3",
	KeyNotarbMinScore:             "0.5",
	KeyNotarbMaxSpamPercentage:    "50",
	KeySpamWhitelistWallets:       defaultWhitelist,
	KeyMinLiquidityForWarnings:    "10000",
	KeyMinTransactionsForWarnings: "100",
	KeyExcludedDexIDs:             "pumpfun",
}

// KnownKey reports whether key belongs to the enumeration.
func KnownKey(key string) bool {
	_, ok := defaults[key]
	return ok
}

// Default returns the compile-time default for key ("" for unknown keys).
func Default(key string) string {
	return defaults[key]
}

// Defaults returns a copy of the full default table.
func Defaults() map[string]string {
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	return out
}
