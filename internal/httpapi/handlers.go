package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/settings"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage"
)

const defaultPageSize = 50

// tokenView is the API projection of a token and its latest snapshot.
type tokenView struct {
	MintAddress        string                  `json:"mint_address"`
	Name               string                  `json:"name,omitempty"`
	Symbol             string                  `json:"symbol,omitempty"`
	Status             domain.TokenStatus      `json:"status"`
	CreatedAt          time.Time               `json:"created_at"`
	LastUpdatedAt      time.Time               `json:"last_updated_at"`
	LiquidityUSD       float64                 `json:"liquidity_usd"`
	PrimaryDex         string                  `json:"primary_dex,omitempty"`
	Score              *float64                `json:"score,omitempty"`
	SmoothedScore      *float64                `json:"smoothed_score,omitempty"`
	RawComponents      *domain.ComponentSet    `json:"raw_components,omitempty"`
	SmoothedComponents *domain.ComponentSet    `json:"smoothed_components,omitempty"`
	ScoringModel       string                  `json:"scoring_model,omitempty"`
	SpamMetrics        *domain.SpamMetrics     `json:"spam_metrics,omitempty"`
	Metrics            *domain.SnapshotMetrics `json:"metrics,omitempty"`
	ScoredAt           *time.Time              `json:"scored_at,omitempty"`
}

func viewOf(st domain.ScoredToken) tokenView {
	v := tokenView{
		MintAddress:   st.Token.MintAddress,
		Name:          st.Token.Name,
		Symbol:        st.Token.Symbol,
		Status:        st.Token.Status,
		CreatedAt:     st.Token.CreatedAt,
		LastUpdatedAt: st.Token.LastUpdatedAt,
		LiquidityUSD:  st.Token.LiquidityUSD,
		PrimaryDex:    st.Token.PrimaryDex,
	}
	if snap := st.Latest; snap != nil {
		v.Score = &snap.Score
		v.SmoothedScore = &snap.SmoothedScore
		v.RawComponents = &snap.RawComponents
		v.SmoothedComponents = &snap.SmoothedComponents
		v.ScoringModel = snap.ScoringModel
		v.SpamMetrics = snap.SpamMetrics
		v.Metrics = &snap.Metrics
		v.ScoredAt = &snap.CreatedAt
	}
	return v
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultPageSize
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > s.opts.MaxPageSize {
		limit = s.opts.MaxPageSize
	}

	offset := 0
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.badRequest(w, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	filter := storage.TokenFilter{Limit: limit, Offset: offset, SortBy: storage.SortBySmoothedScore}

	if raw := q.Get("min_score"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.badRequest(w, "min_score must be a number")
			return
		}
		filter.MinScore = &v
	}

	if raw := q.Get("sort"); raw != "" {
		switch raw {
		case storage.SortBySmoothedScore, storage.SortByCreatedAt:
			filter.SortBy = raw
		default:
			s.badRequest(w, "sort must be smoothed_score or created_at")
			return
		}
	}

	if raw := q.Get("statuses"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := domain.TokenStatus(strings.TrimSpace(part))
			if !domain.ValidStatus(status) {
				s.badRequest(w, "unknown status: "+string(status))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	scored, err := s.repo.ListWithLatest(r.Context(), filter)
	if err != nil {
		s.internalError(w, err, "token listing failed")
		return
	}
	views := make([]tokenView, 0, len(scored))
	for _, st := range scored {
		views = append(views, viewOf(st))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tokens": views,
		"count":  len(views),
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	mint := chi.URLParam(r, "mint")
	token, err := s.repo.GetByMint(r.Context(), mint)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "token not found"})
			return
		}
		s.internalError(w, err, "token lookup failed")
		return
	}
	snap, err := s.repo.GetLatestSnapshot(r.Context(), token.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.internalError(w, err, "snapshot lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(domain.ScoredToken{Token: token, Latest: snap}))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := s.repo.CountByStatus(r.Context())
	if err != nil {
		s.internalError(w, err, "status counts failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"tokens": map[string]int{
			string(domain.StatusMonitoring): counts[domain.StatusMonitoring],
			string(domain.StatusActive):     counts[domain.StatusActive],
			string(domain.StatusArchived):   counts[domain.StatusArchived],
		},
		"load": s.monitor.Current(),
	})
}

func (s *Server) handleSchedulerHealth(w http.ResponseWriter, r *http.Request) {
	staleAge := time.Duration(s.opts.StaleAgeFactor) * s.settings.DurationSec(r.Context(), settings.KeyHotIntervalSec)
	stale, err := s.monitor.StaleActive(r.Context(), staleAge, s.opts.MaxPageSize)
	if err != nil {
		s.internalError(w, err, "stale token scan failed")
		return
	}
	staleMints := make([]string, 0, len(stale))
	for _, t := range stale {
		staleMints = append(staleMints, t.MintAddress)
	}

	status := s.scheduler.Status()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"load":              s.monitor.Current(),
		"breakers":          s.monitor.BreakerStates(),
		"jobs":              s.monitor.JobStatuses(),
		"deferred_depth":    status.DeferredDepth,
		"deferred_capacity": status.DeferredCapacity,
		"stale_age_seconds": int64(staleAge.Seconds()),
		"stale_count":       len(staleMints),
		"stale_tokens":      staleMints,
	})
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.All(r.Context())
	if err != nil {
		s.internalError(w, err, "settings listing failed")
		return
	}
	s.writeJSON(w, http.StatusOK, all)
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.badRequest(w, "body must be {\"value\": \"...\"}")
		return
	}
	if err := s.settings.Set(r.Context(), key, body.Value); err != nil {
		if errors.Is(err, domain.ErrUnknownKey) {
			s.badRequest(w, "unknown setting key: "+key)
			return
		}
		s.internalError(w, err, "setting write failed")
		return
	}
	s.log.Info().Str("key", key).Str("value", body.Value).Msg("setting updated")
	s.writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": body.Value})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, err error, msg string) {
	s.log.Error().Err(err).Msg(msg)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
}
