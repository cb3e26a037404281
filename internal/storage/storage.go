// Package storage defines the persistence interfaces owned by the token
// repository. Two implementations exist: postgres for production and
// memory for tests and the -use-memory mode.
package storage

import (
	"context"
	"time"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
)

// Sort orders accepted by ListWithLatest.
const (
	SortBySmoothedScore = "smoothed_score"
	SortByCreatedAt     = "created_at"
)

// TokenFilter narrows ListWithLatest results. Zero values mean "no
// constraint"; Limit defaults are applied by the caller.
type TokenFilter struct {
	Statuses []domain.TokenStatus
	MinScore *float64
	SortBy   string
	Limit    int
	Offset   int
}

// TokenRepository owns tokens and their append-only score snapshots.
type TokenRepository interface {
	// InsertMonitoring creates a token in monitoring state. Idempotent on
	// mint: a second call returns the existing row with inserted=false.
	InsertMonitoring(ctx context.Context, mint, name, symbol string) (domain.Token, bool, error)

	GetByMint(ctx context.Context, mint string) (domain.Token, error)
	GetByID(ctx context.Context, id int64) (domain.Token, error)

	// ListByStatus returns tokens in a stable id order.
	ListByStatus(ctx context.Context, status domain.TokenStatus, limit, offset int) ([]domain.Token, error)

	// ListActiveOrderedByScore joins active tokens with their latest
	// snapshot, ordered by smoothed score descending.
	ListActiveOrderedByScore(ctx context.Context, limit int) ([]domain.ScoredToken, error)

	// ListWithLatest is the general filtered listing behind the HTTP API.
	ListWithLatest(ctx context.Context, f TokenFilter) ([]domain.ScoredToken, error)

	GetLatestSnapshot(ctx context.Context, tokenID int64) (*domain.ScoreSnapshot, error)

	// GetLatestSnapshotsBatch answers "latest snapshot per token" for a
	// whole refresh group in one query.
	GetLatestSnapshotsBatch(ctx context.Context, tokenIDs []int64) (map[int64]*domain.ScoreSnapshot, error)

	// ListRecentSnapshots returns up to n snapshots, newest first.
	ListRecentSnapshots(ctx context.Context, tokenID int64, n int) ([]domain.ScoreSnapshot, error)

	// GetBelowScoreSince returns the start of the current uninterrupted run
	// of snapshots with smoothed_score < minScore, or nil when the latest
	// snapshot is at or above minScore or no snapshots exist.
	GetBelowScoreSince(ctx context.Context, tokenID int64, minScore float64) (*time.Time, error)

	// InsertScoreSnapshot appends a snapshot. When snap.SpamMetrics is nil
	// the previous snapshot's spam metrics are carried over. Also refreshes
	// tokens.last_updated_at and the cached liquidity_usd / primary_dex.
	InsertScoreSnapshot(ctx context.Context, snap *domain.ScoreSnapshot) error

	// AttachSpamMetrics sets spam metrics on the token's latest snapshot so
	// the carry-over rule propagates them to later scoring-only snapshots.
	AttachSpamMetrics(ctx context.Context, tokenID int64, sm *domain.SpamMetrics) error

	// UpdateStatus applies a lifecycle transition, rejecting moves not
	// allowed by domain.CanTransition with ErrInvalidStatus.
	UpdateStatus(ctx context.Context, tokenID int64, status domain.TokenStatus) error

	// FillTokenMeta sets name/symbol only where currently empty.
	FillTokenMeta(ctx context.Context, tokenID int64, name, symbol string) error

	// TouchMarketData refreshes last_updated_at and the cached market
	// fields for tokens that were fetched but not scored.
	TouchMarketData(ctx context.Context, tokenID int64, liquidityUSD float64, primaryDex string) error

	CountByStatus(ctx context.Context) (map[domain.TokenStatus]int, error)

	// ListStale returns tokens in the given status whose last_updated_at is
	// older than the cutoff.
	ListStale(ctx context.Context, status domain.TokenStatus, olderThan time.Time, limit int) ([]domain.Token, error)
}

// SettingsRepository is the durable side of the settings store.
type SettingsRepository interface {
	// GetSetting returns domain.ErrNotFound for absent keys.
	GetSetting(ctx context.Context, key string) (string, error)
	UpsertSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)
}
