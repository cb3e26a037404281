// Package memory is an in-process storage implementation with the same
// semantics as the postgres store. It backs unit tests and the
// -use-memory mode.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage"
)

// Store implements storage.TokenRepository and storage.SettingsRepository.
type Store struct {
	mu        sync.RWMutex
	nextToken int64
	nextSnap  int64
	tokens    map[int64]domain.Token
	byMint    map[string]int64
	snapshots map[int64][]domain.ScoreSnapshot // ascending by CreatedAt
	settings  map[string]string
}

func New() *Store {
	return &Store{
		tokens:    make(map[int64]domain.Token),
		byMint:    make(map[string]int64),
		snapshots: make(map[int64][]domain.ScoreSnapshot),
		settings:  make(map[string]string),
	}
}

var (
	_ storage.TokenRepository    = (*Store)(nil)
	_ storage.SettingsRepository = (*Store)(nil)
)

func (s *Store) InsertMonitoring(_ context.Context, mint, name, symbol string) (domain.Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byMint[mint]; ok {
		return s.tokens[id], false, nil
	}
	s.nextToken++
	now := time.Now().UTC()
	t := domain.Token{
		ID:            s.nextToken,
		MintAddress:   mint,
		Name:          name,
		Symbol:        symbol,
		Status:        domain.StatusMonitoring,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	s.tokens[t.ID] = t
	s.byMint[mint] = t.ID
	return t, true, nil
}

func (s *Store) GetByMint(_ context.Context, mint string) (domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byMint[mint]
	if !ok {
		return domain.Token{}, domain.ErrNotFound
	}
	return s.tokens[id], nil
}

func (s *Store) GetByID(_ context.Context, id int64) (domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return domain.Token{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListByStatus(_ context.Context, status domain.TokenStatus, limit, offset int) ([]domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.tokens))
	for id, t := range s.tokens {
		if t.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]domain.Token, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.tokens[id])
	}
	return out, nil
}

func (s *Store) ListActiveOrderedByScore(ctx context.Context, limit int) ([]domain.ScoredToken, error) {
	return s.ListWithLatest(ctx, storage.TokenFilter{
		Statuses: []domain.TokenStatus{domain.StatusActive},
		SortBy:   storage.SortBySmoothedScore,
		Limit:    limit,
	})
}

func (s *Store) ListWithLatest(_ context.Context, f storage.TokenFilter) ([]domain.ScoredToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wantStatus := func(st domain.TokenStatus) bool {
		if len(f.Statuses) == 0 {
			return true
		}
		for _, w := range f.Statuses {
			if w == st {
				return true
			}
		}
		return false
	}
	out := make([]domain.ScoredToken, 0, 16)
	for id, t := range s.tokens {
		if !wantStatus(t.Status) {
			continue
		}
		st := domain.ScoredToken{Token: t, Latest: s.latestLocked(id)}
		if f.MinScore != nil {
			if st.Latest == nil || st.Latest.SmoothedScore < *f.MinScore {
				continue
			}
		}
		out = append(out, st)
	}
	switch f.SortBy {
	case storage.SortByCreatedAt:
		sort.Slice(out, func(i, j int) bool {
			if out[i].Token.CreatedAt.Equal(out[j].Token.CreatedAt) {
				return out[i].Token.ID < out[j].Token.ID
			}
			return out[i].Token.CreatedAt.After(out[j].Token.CreatedAt)
		})
	default: // smoothed score desc, unscored last
		sort.Slice(out, func(i, j int) bool {
			si, sj := -1.0, -1.0
			if out[i].Latest != nil {
				si = out[i].Latest.SmoothedScore
			}
			if out[j].Latest != nil {
				sj = out[j].Latest.SmoothedScore
			}
			if si == sj {
				return out[i].Token.ID < out[j].Token.ID
			}
			return si > sj
		})
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) latestLocked(tokenID int64) *domain.ScoreSnapshot {
	hist := s.snapshots[tokenID]
	if len(hist) == 0 {
		return nil
	}
	cp := hist[len(hist)-1]
	return &cp
}

func (s *Store) GetLatestSnapshot(_ context.Context, tokenID int64) (*domain.ScoreSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tokens[tokenID]; !ok {
		return nil, domain.ErrNotFound
	}
	return s.latestLocked(tokenID), nil
}

func (s *Store) GetLatestSnapshotsBatch(_ context.Context, tokenIDs []int64) (map[int64]*domain.ScoreSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]*domain.ScoreSnapshot, len(tokenIDs))
	for _, id := range tokenIDs {
		if snap := s.latestLocked(id); snap != nil {
			out[id] = snap
		}
	}
	return out, nil
}

func (s *Store) ListRecentSnapshots(_ context.Context, tokenID int64, n int) ([]domain.ScoreSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.snapshots[tokenID]
	if n <= 0 || n > len(hist) {
		n = len(hist)
	}
	out := make([]domain.ScoreSnapshot, 0, n)
	for i := len(hist) - 1; i >= len(hist)-n; i-- {
		out = append(out, hist[i])
	}
	return out, nil
}

func (s *Store) GetBelowScoreSince(_ context.Context, tokenID int64, minScore float64) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.snapshots[tokenID]
	if len(hist) == 0 {
		return nil, nil
	}
	if hist[len(hist)-1].SmoothedScore >= minScore {
		return nil, nil
	}
	start := hist[len(hist)-1].CreatedAt
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].SmoothedScore >= minScore {
			break
		}
		start = hist[i].CreatedAt
	}
	return &start, nil
}

func (s *Store) InsertScoreSnapshot(_ context.Context, snap *domain.ScoreSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[snap.TokenID]
	if !ok {
		return domain.ErrNotFound
	}
	s.nextSnap++
	cp := *snap
	cp.ID = s.nextSnap
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if cp.SpamMetrics == nil {
		if prev := s.latestLocked(snap.TokenID); prev != nil && prev.SpamMetrics != nil {
			sm := *prev.SpamMetrics
			cp.SpamMetrics = &sm
		}
	}
	s.snapshots[snap.TokenID] = append(s.snapshots[snap.TokenID], cp)
	snap.ID = cp.ID
	snap.CreatedAt = cp.CreatedAt
	snap.SpamMetrics = cp.SpamMetrics

	t.LastUpdatedAt = cp.CreatedAt
	t.LiquidityUSD = cp.Metrics.LiquidityUSD
	if cp.Metrics.PrimaryDex != "" {
		t.PrimaryDex = cp.Metrics.PrimaryDex
	}
	s.tokens[t.ID] = t
	return nil
}

func (s *Store) AttachSpamMetrics(_ context.Context, tokenID int64, sm *domain.SpamMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.snapshots[tokenID]
	if len(hist) == 0 {
		return domain.ErrNotFound
	}
	cp := *sm
	hist[len(hist)-1].SpamMetrics = &cp
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, tokenID int64, status domain.TokenStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return domain.ErrNotFound
	}
	if !domain.CanTransition(t.Status, status) {
		return domain.ErrInvalidStatus
	}
	t.Status = status
	t.LastUpdatedAt = time.Now().UTC()
	s.tokens[tokenID] = t
	return nil
}

func (s *Store) FillTokenMeta(_ context.Context, tokenID int64, name, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Name == "" && name != "" {
		t.Name = name
	}
	if t.Symbol == "" && symbol != "" {
		t.Symbol = symbol
	}
	s.tokens[tokenID] = t
	return nil
}

func (s *Store) TouchMarketData(_ context.Context, tokenID int64, liquidityUSD float64, primaryDex string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return domain.ErrNotFound
	}
	t.LastUpdatedAt = time.Now().UTC()
	t.LiquidityUSD = liquidityUSD
	if primaryDex != "" {
		t.PrimaryDex = primaryDex
	}
	s.tokens[tokenID] = t
	return nil
}

func (s *Store) CountByStatus(_ context.Context) (map[domain.TokenStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.TokenStatus]int, 3)
	for _, t := range s.tokens {
		out[t.Status]++
	}
	return out, nil
}

func (s *Store) ListStale(_ context.Context, status domain.TokenStatus, olderThan time.Time, limit int) ([]domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Token, 0, 8)
	for _, t := range s.tokens {
		if t.Status == status && t.LastUpdatedAt.Before(olderThan) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdatedAt.Before(out[j].LastUpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (s *Store) UpsertSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[strings.TrimSpace(key)] = value
	return nil
}

func (s *Store) ListSettings(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}
