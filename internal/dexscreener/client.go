// Package dexscreener is the rate-limited, retrying, circuit-broken HTTP
// client for the pair-data API. Two instances run in production: a hot
// one with tight timeouts and a short cache, and a cold one with looser
// settings.
package dexscreener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/telemetry"
)

// MaxMintsPerBatch is the upstream limit on comma-joined mints per call.
const MaxMintsPerBatch = 30

// Config describes one client instance. Zero values fall back to the
// listed defaults.
type Config struct {
	Name            string        // "hot" or "cold", used in logs and metrics
	BaseURL         string        // default https://api.dexscreener.com
	Timeout         time.Duration // per attempt, default 15s
	CacheTTL        time.Duration // 0 disables the pair cache
	MinCallGap      time.Duration // min spacing between upstream calls, default 500ms
	MaxRetryElapsed time.Duration // retry budget per logical fetch, default 10s
	BreakerFailures uint32        // consecutive failures before opening, default 5
	BreakerCooldown time.Duration // open -> half_open delay, default 30s
}

func (cfg Config) withDefaults() Config {
	if cfg.Name == "" {
		cfg.Name = "dex"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.dexscreener.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MinCallGap <= 0 {
		cfg.MinCallGap = 500 * time.Millisecond
	}
	if cfg.MaxRetryElapsed <= 0 {
		cfg.MaxRetryElapsed = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	return cfg
}

// StateHook receives circuit-breaker transitions for the health registry.
type StateHook func(client, state string)

// Client fetches pair data for mints, either one mint per call or batched.
type Client struct {
	name       string
	base       string
	timeout    time.Duration
	maxElapsed time.Duration
	http       *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	cache      *pairCache
	log        zerolog.Logger
}

func New(cfg Config, log zerolog.Logger, onState StateHook) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		name:       cfg.Name,
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		maxElapsed: cfg.MaxRetryElapsed,
		http:       &http.Client{Timeout: 0}, // deadlines come from per-attempt contexts
		limiter:    rate.NewLimiter(rate.Every(cfg.MinCallGap), 1),
		cache:      newPairCache(cfg.CacheTTL),
		log:        log.With().Str("component", "dexscreener").Str("client", cfg.Name).Logger(),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1, // one trial call in half_open
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// Shutdown must not poison the failure window.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str("from", stateLabel(from)).
				Str("to", stateLabel(to)).
				Msg("circuit breaker state change")
			telemetry.BreakerState.WithLabelValues(name).Set(stateValue(to))
			if onState != nil {
				onState(name, stateLabel(to))
			}
		},
	})
	telemetry.BreakerState.WithLabelValues(cfg.Name).Set(stateValue(gobreaker.StateClosed))
	return c
}

// Name returns the instance name used in logs and metrics.
func (c *Client) Name() string { return c.name }

// State returns the breaker state as closed, half_open or open.
func (c *Client) State() string { return stateLabel(c.breaker.State()) }

func stateLabel(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "open"
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// GetPairs returns all pairs for one mint. Cached results are served
// without touching the upstream.
func (c *Client) GetPairs(ctx context.Context, mint string) ([]Pair, error) {
	if pairs, ok := c.cache.get(mint); ok {
		telemetry.DexCacheEvents.WithLabelValues(c.name, "hit").Inc()
		return pairs, nil
	}
	telemetry.DexCacheEvents.WithLabelValues(c.name, "miss").Inc()

	body, err := c.guarded(ctx, "/latest/dex/tokens/"+mint)
	if err != nil {
		return nil, err
	}
	var env pairsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode pairs for %s: %w", mint, err)
	}
	pairs := env.Pairs
	if pairs == nil {
		pairs = []Pair{}
	}
	c.cache.put(mint, pairs)
	return pairs, nil
}

// GetPairsBatched fetches pairs for many mints, joining up to batchSize
// mints per upstream call and grouping the flat response by base token.
// Mints without pairs map to an empty slice. On partial failure the
// successful groups are returned alongside the joined error.
func (c *Client) GetPairsBatched(ctx context.Context, mints []string, batchSize int) (map[string][]Pair, error) {
	if batchSize <= 0 || batchSize > MaxMintsPerBatch {
		batchSize = MaxMintsPerBatch
	}
	out := make(map[string][]Pair, len(mints))
	var misses []string
	for _, m := range mints {
		if pairs, ok := c.cache.get(m); ok {
			telemetry.DexCacheEvents.WithLabelValues(c.name, "hit").Inc()
			out[m] = pairs
			continue
		}
		telemetry.DexCacheEvents.WithLabelValues(c.name, "miss").Inc()
		misses = append(misses, m)
	}

	var errs []error
	for start := 0; start < len(misses); start += batchSize {
		end := start + batchSize
		if end > len(misses) {
			end = len(misses)
		}
		chunk := misses[start:end]

		body, err := c.guarded(ctx, "/tokens/v1/solana/"+strings.Join(chunk, ","))
		if err != nil {
			errs = append(errs, err)
			if errors.Is(err, domain.ErrCircuitOpen) || ctx.Err() != nil {
				break
			}
			continue
		}
		var flat []Pair
		if err := json.Unmarshal(body, &flat); err != nil {
			errs = append(errs, fmt.Errorf("decode batched pairs: %w", err))
			continue
		}
		grouped := make(map[string][]Pair, len(chunk))
		for _, p := range flat {
			grouped[p.BaseToken.Address] = append(grouped[p.BaseToken.Address], p)
		}
		for _, m := range chunk {
			pairs := grouped[m]
			if pairs == nil {
				pairs = []Pair{}
			}
			out[m] = pairs
			c.cache.put(m, pairs)
		}
	}
	return out, errors.Join(errs...)
}

// guarded runs one logical fetch through the circuit breaker.
func (c *Client) guarded(ctx context.Context, path string) ([]byte, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.getJSON(ctx, path)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			telemetry.DexRequests.WithLabelValues(c.name, "circuit_open").Inc()
			return nil, fmt.Errorf("%s: %w", path, domain.ErrCircuitOpen)
		}
		return nil, err
	}
	return res.([]byte), nil
}

// getJSON performs the HTTP call with the rate limiter and retry policy
// applied. Only transient failures are retried.
func (c *Client) getJSON(ctx context.Context, path string) ([]byte, error) {
	op := func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.http.Do(req)
		telemetry.DexRequestDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				telemetry.DexRequests.WithLabelValues(c.name, "canceled").Inc()
				return nil, backoff.Permanent(ctx.Err())
			}
			if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
				telemetry.DexRequests.WithLabelValues(c.name, "timeout").Inc()
				return nil, fmt.Errorf("%s: %w", path, domain.ErrTimeout)
			}
			telemetry.DexRequests.WithLabelValues(c.name, "network").Inc()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			// fall through to read
		case resp.StatusCode == http.StatusTooManyRequests:
			telemetry.DexRequests.WithLabelValues(c.name, "rate_limited").Inc()
			if secs := retryAfterSeconds(resp); secs > 0 {
				return nil, backoff.RetryAfter(secs)
			}
			return nil, fmt.Errorf("%s: %w", path, domain.ErrRateLimited)
		case resp.StatusCode >= 500:
			telemetry.DexRequests.WithLabelValues(c.name, "upstream").Inc()
			return nil, fmt.Errorf("%s: status %d: %w", path, resp.StatusCode, domain.ErrUpstream)
		default:
			telemetry.DexRequests.WithLabelValues(c.name, "rejected").Inc()
			return nil, backoff.Permanent(fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, fmt.Errorf("%s: read body: %w", path, err)
		}
		telemetry.DexRequests.WithLabelValues(c.name, "ok").Inc()
		return body, nil
	}

	body, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(c.maxElapsed))
	if err != nil {
		var ra *backoff.RetryAfterError
		if errors.As(err, &ra) {
			err = fmt.Errorf("%s: %w", path, domain.ErrRateLimited)
		}
		c.log.Warn().Err(err).Str("path", path).Msg("pair fetch failed")
		return nil, err
	}
	return body, nil
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func retryAfterSeconds(resp *http.Response) int {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}
