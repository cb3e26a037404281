// Package market collapses raw pair records into the typed metrics record
// consumed by scoring, and classifies data quality.
package market

import (
	"strings"
	"time"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/dexscreener"
)

// Accepted quote assets. WSOL shows up under several spellings.
var quoteAliases = map[string]struct{}{
	"WSOL":  {},
	"SOL":   {},
	"W_SOL": {},
	"W-SOL": {},
	"USDC":  {},
}

// UsableQuote reports whether a pair's quote symbol is an accepted alias.
func UsableQuote(symbol string) bool {
	_, ok := quoteAliases[strings.ToUpper(strings.TrimSpace(symbol))]
	return ok
}

// FilterConfig selects which pairs count toward metrics.
type FilterConfig struct {
	// ExcludedDexIDs holds launchpad-native pool ids skipped entirely.
	ExcludedDexIDs map[string]struct{}
	// MinPoolLiquidityUSD drops thin pools when > 0.
	MinPoolLiquidityUSD float64
}

// FilterPairs applies the quote, dex and liquidity rules in order.
func FilterPairs(pairs []dexscreener.Pair, cfg FilterConfig) []dexscreener.Pair {
	kept := make([]dexscreener.Pair, 0, len(pairs))
	for _, p := range pairs {
		if !UsableQuote(p.QuoteToken.Symbol) {
			continue
		}
		if _, excluded := cfg.ExcludedDexIDs[p.DexID]; excluded {
			continue
		}
		if cfg.MinPoolLiquidityUSD > 0 && p.Liquidity.USD < cfg.MinPoolLiquidityUSD {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// Aggregate folds the kept pairs for one token into a single metrics
// record. With no usable pools the record is empty and flagged; scoring
// still proceeds and decays toward zero.
func Aggregate(token domain.Token, pairs []dexscreener.Pair, cfg FilterConfig, now time.Time) domain.SnapshotMetrics {
	kept := FilterPairs(pairs, cfg)
	m := domain.SnapshotMetrics{PoolCount: len(kept)}

	if len(kept) == 0 {
		m.HoursSinceCreation = hoursSince(token.CreatedAt, now)
		m.SetFlag(domain.FlagNoUsablePools, "true")
		return m
	}

	var (
		buys5m, sells5m int
		maxLiquidity    = -1.0
		oldestPairMs    int64
	)
	m.Pools = make([]domain.PoolRef, 0, len(kept))
	for _, p := range kept {
		m.LiquidityUSD += p.Liquidity.USD
		buys5m += p.Txns.M5.Buys
		sells5m += p.Txns.M5.Sells
		m.TxCount1h += p.Txns.H1.Buys + p.Txns.H1.Sells
		m.Volume5m += p.Volume.M5
		m.Volume1h += p.Volume.H1
		if p.Liquidity.USD > maxLiquidity {
			maxLiquidity = p.Liquidity.USD
			m.PrimaryDex = p.DexID
			m.PriceChange5m = p.PriceChange.M5 // primary pool's move
		}
		if p.PairCreatedAt > 0 && (oldestPairMs == 0 || p.PairCreatedAt < oldestPairMs) {
			oldestPairMs = p.PairCreatedAt
		}
		m.Pools = append(m.Pools, domain.PoolRef{
			Address: p.PairAddress,
			DexID:   p.DexID,
			Quote:   p.QuoteToken.Symbol,
		})
	}
	m.TxCount5m = buys5m + sells5m

	// Proportion the 5m volume into buy/sell halves by transaction counts.
	if m.TxCount5m > 0 {
		m.BuysVolume5m = m.Volume5m * float64(buys5m) / float64(m.TxCount5m)
		m.SellsVolume5m = m.Volume5m * float64(sells5m) / float64(m.TxCount5m)
	}

	if oldestPairMs > 0 {
		m.HoursSinceCreation = hoursSince(time.UnixMilli(oldestPairMs).UTC(), now)
	} else {
		m.HoursSinceCreation = hoursSince(token.CreatedAt, now)
	}
	return m
}

func hoursSince(t time.Time, now time.Time) float64 {
	h := now.Sub(t).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// MeetsActivation reports whether any single pool satisfies all activation
// criteria together: accepted quote, non-launchpad dex, and liquidity at
// or above the floor. Evaluated on raw pairs, before the aggregator's
// optional per-pool liquidity filter.
func MeetsActivation(pairs []dexscreener.Pair, minLiquidityUSD float64, excludedDexIDs map[string]struct{}) bool {
	for _, p := range pairs {
		if !UsableQuote(p.QuoteToken.Symbol) {
			continue
		}
		if _, excluded := excludedDexIDs[p.DexID]; excluded {
			continue
		}
		if p.Liquidity.USD >= minLiquidityUSD {
			return true
		}
	}
	return false
}
