package dexscreener

// Pair is one liquidity pool as reported by the pair-data API. Upstream
// JSON is decoded into this typed record; anything malformed fails the
// decode instead of leaking into scoring.
type Pair struct {
	ChainID       string        `json:"chainId"`
	DexID         string        `json:"dexId"`
	PairAddress   string        `json:"pairAddress"`
	BaseToken     TokenInfo     `json:"baseToken"`
	QuoteToken    TokenInfo     `json:"quoteToken"`
	PriceUSD      string        `json:"priceUsd"`
	Liquidity     Liquidity     `json:"liquidity"`
	Txns          TxWindows     `json:"txns"`
	Volume        VolumeWindows `json:"volume"`
	PriceChange   ChangeWindows `json:"priceChange"`
	PairCreatedAt int64         `json:"pairCreatedAt"` // ms epoch, 0 when absent
}

type TokenInfo struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type Liquidity struct {
	USD   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

type TxCounts struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

type TxWindows struct {
	M5 TxCounts `json:"m5"`
	H1 TxCounts `json:"h1"`
}

type VolumeWindows struct {
	M5 float64 `json:"m5"`
	H1 float64 `json:"h1"`
}

type ChangeWindows struct {
	M5 float64 `json:"m5"`
	H1 float64 `json:"h1"`
}

// pairsEnvelope is the single-mint response shape; the batched endpoint
// returns a bare array.
type pairsEnvelope struct {
	SchemaVersion string `json:"schemaVersion"`
	Pairs         []Pair `json:"pairs"`
}
