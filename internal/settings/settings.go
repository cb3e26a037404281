// Package settings is the runtime-tunable configuration layer: a closed
// key enumeration with compile-time defaults, backed by the app_settings
// relation and fronted by a short-TTL in-process cache.
package settings

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage"
)

const defaultTTL = 15 * time.Second

type entry struct {
	value     string
	found     bool
	expiresAt time.Time
	warned    bool
}

// Store reads settings through a TTL cache and falls back to defaults for
// absent keys and unparsable values.
type Store struct {
	repo storage.SettingsRepository
	ttl  time.Duration
	log  zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*entry
}

func New(repo storage.SettingsRepository, log zerolog.Logger, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{
		repo:  repo,
		ttl:   ttl,
		log:   log.With().Str("component", "settings").Logger(),
		cache: make(map[string]*entry, len(defaults)),
	}
}

// Get returns the effective string value for key: cached value, then
// durable store, then compile-time default.
func (s *Store) Get(ctx context.Context, key string) string {
	s.mu.RLock()
	e, ok := s.cache[key]
	if ok && time.Now().Before(e.expiresAt) {
		s.mu.RUnlock()
		if e.found {
			return e.value
		}
		return Default(key)
	}
	s.mu.RUnlock()
	return s.refresh(ctx, key)
}

func (s *Store) refresh(ctx context.Context, key string) string {
	value, err := s.repo.GetSetting(ctx, key)
	e := &entry{expiresAt: time.Now().Add(s.ttl)}
	switch {
	case err == nil:
		e.value = value
		e.found = true
	case errors.Is(err, domain.ErrNotFound):
		// Absent key, defaults apply.
	default:
		s.log.Warn().Err(err).Str("key", key).Msg("settings read failed, using default")
	}
	s.mu.Lock()
	s.cache[key] = e
	s.mu.Unlock()
	if e.found {
		return e.value
	}
	return Default(key)
}

// Set validates the key against the enumeration, writes through and
// invalidates the cache entry.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if !KnownKey(key) {
		return domain.ErrUnknownKey
	}
	if err := s.repo.UpsertSetting(ctx, key, value); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	return nil
}

// All returns the effective settings map: defaults overlaid with whatever
// is stored durably.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	stored, err := s.repo.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	out := Defaults()
	for k, v := range stored {
		if KnownKey(k) {
			out[k] = v
		}
	}
	return out, nil
}

// warnParse logs one warning per cache refresh for a value that failed to
// parse, then falls back to the default.
func (s *Store) warnParse(key, value string, err error) {
	s.mu.Lock()
	e, ok := s.cache[key]
	if ok && !e.warned {
		e.warned = true
		s.mu.Unlock()
		s.log.Warn().Err(err).Str("key", key).Str("value", value).Msg("unparsable setting, using default")
		return
	}
	s.mu.Unlock()
}

// Float returns the value of key parsed as float64, falling back to the
// key's default on parse failure.
func (s *Store) Float(ctx context.Context, key string) float64 {
	raw := s.Get(ctx, key)
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err == nil {
		return v
	}
	s.warnParse(key, raw, err)
	v, _ = strconv.ParseFloat(Default(key), 64)
	return v
}

// Int is Float's integer counterpart.
func (s *Store) Int(ctx context.Context, key string) int {
	raw := s.Get(ctx, key)
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err == nil {
		return v
	}
	s.warnParse(key, raw, err)
	v, _ = strconv.Atoi(Default(key))
	return v
}

// DurationSec interprets an integer-seconds setting as a duration.
func (s *Store) DurationSec(ctx context.Context, key string) time.Duration {
	return time.Duration(s.Int(ctx, key)) * time.Second
}

// CSV splits a comma-separated setting into trimmed non-empty items.
func (s *Store) CSV(ctx context.Context, key string) []string {
	raw := s.Get(ctx, key)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CSVSet returns the CSV items as a membership set.
func (s *Store) CSVSet(ctx context.Context, key string) map[string]struct{} {
	items := s.CSV(ctx, key)
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}
