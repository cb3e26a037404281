package market

import (
	"math"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
)

// Machine-readable issue tags attached to snapshot metrics.
const (
	IssueNegativeLiquidity   = "negative_liquidity"
	IssueNegativeTxCounts    = "negative_tx_counts"
	IssueNonFiniteValues     = "non_finite_values"
	IssueHighLiqZeroTxns     = "high_liquidity_zero_txns"
	IssueTxnsNoPriceChange   = "many_txns_no_price_change"
	IssueSuspiciousPriceMove = "suspicious_price_change"
)

// Thresholds drive the warning rules; all come from settings.
type Thresholds struct {
	MinLiquidityForWarnings    float64
	MinTransactionsForWarnings int
	MaxPriceChange5m           float64
}

// Validate classifies the record and writes verdict and issue tags in
// place. Critical verdicts block the normal scoring path.
func Validate(m *domain.SnapshotMetrics, th Thresholds) {
	var issues []string

	if m.LiquidityUSD < 0 {
		issues = append(issues, IssueNegativeLiquidity)
	}
	if m.TxCount5m < 0 || m.TxCount1h < 0 {
		issues = append(issues, IssueNegativeTxCounts)
	}
	if hasNonFinite(m) {
		issues = append(issues, IssueNonFiniteValues)
	}
	if len(issues) > 0 {
		m.Verdict = domain.VerdictCritical
		m.Issues = issues
		return
	}

	if th.MinLiquidityForWarnings > 0 && m.LiquidityUSD >= th.MinLiquidityForWarnings && m.TxCount5m == 0 {
		issues = append(issues, IssueHighLiqZeroTxns)
	}
	if th.MinTransactionsForWarnings > 0 && m.TxCount5m >= th.MinTransactionsForWarnings && m.PriceChange5m == 0 {
		issues = append(issues, IssueTxnsNoPriceChange)
	}
	if th.MaxPriceChange5m > 0 && math.Abs(m.PriceChange5m) > th.MaxPriceChange5m {
		issues = append(issues, IssueSuspiciousPriceMove)
	}

	if len(issues) > 0 {
		m.Verdict = domain.VerdictWarning
		m.Issues = issues
		return
	}
	m.Verdict = domain.VerdictOK
}

func hasNonFinite(m *domain.SnapshotMetrics) bool {
	for _, v := range []float64{
		m.LiquidityUSD, m.Volume5m, m.Volume1h,
		m.BuysVolume5m, m.SellsVolume5m, m.PriceChange5m, m.HoursSinceCreation,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
