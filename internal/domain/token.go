package domain

import "time"

// TokenStatus is the lifecycle state of a tracked token.
type TokenStatus string

const (
	StatusMonitoring TokenStatus = "monitoring"
	StatusActive     TokenStatus = "active"
	StatusArchived   TokenStatus = "archived"
)

// ValidStatus reports whether s is one of the known lifecycle states.
func ValidStatus(s TokenStatus) bool {
	switch s {
	case StatusMonitoring, StatusActive, StatusArchived:
		return true
	}
	return false
}

// CanTransition reports whether a status change is allowed. Tokens move
// monitoring -> active -> archived, or monitoring -> archived on timeout.
// Archived is terminal.
func CanTransition(from, to TokenStatus) bool {
	switch from {
	case StatusMonitoring:
		return to == StatusActive || to == StatusArchived
	case StatusActive:
		return to == StatusArchived
	}
	return false
}

// Token is one tracked mint. Created by the migration listener in
// monitoring state, promoted and archived by the scheduler sweeps,
// never deleted.
type Token struct {
	ID            int64       `json:"id"`
	MintAddress   string      `json:"mint_address"`
	Name          string      `json:"name"`
	Symbol        string      `json:"symbol"`
	Status        TokenStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	LastUpdatedAt time.Time   `json:"last_updated_at"`
	LiquidityUSD  float64     `json:"liquidity_usd"`
	PrimaryDex    string      `json:"primary_dex,omitempty"`
}

// ScoredToken pairs a token with its latest score snapshot. Latest is nil
// for tokens that have never been scored.
type ScoredToken struct {
	Token  Token
	Latest *ScoreSnapshot
}
