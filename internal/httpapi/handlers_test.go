package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/health"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/scheduler"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/settings"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage/memory"
)

type apiEnv struct {
	srv  *httptest.Server
	repo *memory.Store
	cfg  *settings.Store
}

func newAPIServer(t *testing.T, opts Options) *apiEnv {
	t.Helper()
	repo := memory.New()
	store := settings.New(repo, zerolog.Nop(), time.Millisecond)
	monitor := health.New(repo, health.Options{}, zerolog.Nop())
	sched := scheduler.New(scheduler.Deps{Log: zerolog.Nop()}, scheduler.Config{})
	srv := httptest.NewServer(New(repo, store, monitor, sched, opts, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	return &apiEnv{srv: srv, repo: repo, cfg: store}
}

func (e *apiEnv) seedToken(t *testing.T, mint string, status domain.TokenStatus) domain.Token {
	t.Helper()
	ctx := context.Background()
	tok, _, err := e.repo.InsertMonitoring(ctx, mint, "", "")
	require.NoError(t, err)
	if status != domain.StatusMonitoring {
		require.NoError(t, e.repo.UpdateStatus(ctx, tok.ID, status))
	}
	// Keep created_at strictly ordered for the created_at sort.
	time.Sleep(2 * time.Millisecond)
	return tok
}

func (e *apiEnv) seedScore(t *testing.T, tokenID int64, smoothed float64) {
	t.Helper()
	require.NoError(t, e.repo.InsertScoreSnapshot(context.Background(), &domain.ScoreSnapshot{
		TokenID:       tokenID,
		Score:         smoothed,
		SmoothedScore: smoothed,
		ScoringModel:  domain.ModelHybridMomentum,
		Metrics:       domain.SnapshotMetrics{Verdict: domain.VerdictOK},
	}))
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	return res.StatusCode
}

func putJSON(t *testing.T, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(body))
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	return res.StatusCode
}

type listResponse struct {
	Tokens []tokenView `json:"tokens"`
	Count  int         `json:"count"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

const (
	mintTop  = "MintApiTop1111111111111111111111111111111111"
	mintMid  = "MintApiMid1111111111111111111111111111111111"
	mintCold = "MintApiCold111111111111111111111111111111111"
)

// seedRanking inserts two scored active tokens and one unscored
// monitoring token, oldest first.
func seedRanking(t *testing.T, env *apiEnv) {
	t.Helper()
	top := env.seedToken(t, mintTop, domain.StatusActive)
	env.seedScore(t, top.ID, 0.9)
	mid := env.seedToken(t, mintMid, domain.StatusActive)
	env.seedScore(t, mid.ID, 0.2)
	env.seedToken(t, mintCold, domain.StatusMonitoring)
}

func TestListTokens_RankedWithDefaults(t *testing.T) {
	env := newAPIServer(t, Options{})
	seedRanking(t, env)

	var resp listResponse
	code := getJSON(t, env.srv.URL+"/tokens", &resp)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, defaultPageSize, resp.Limit)
	assert.Zero(t, resp.Offset)
	require.Len(t, resp.Tokens, 3)

	// Ranked by smoothed score, never-scored tokens last.
	assert.Equal(t, mintTop, resp.Tokens[0].MintAddress)
	assert.Equal(t, mintMid, resp.Tokens[1].MintAddress)
	assert.Equal(t, mintCold, resp.Tokens[2].MintAddress)

	require.NotNil(t, resp.Tokens[0].SmoothedScore)
	assert.InDelta(t, 0.9, *resp.Tokens[0].SmoothedScore, 1e-9)
	assert.Equal(t, domain.ModelHybridMomentum, resp.Tokens[0].ScoringModel)
	assert.NotNil(t, resp.Tokens[0].ScoredAt)

	assert.Nil(t, resp.Tokens[2].Score)
	assert.Nil(t, resp.Tokens[2].Metrics)
	assert.Equal(t, domain.StatusMonitoring, resp.Tokens[2].Status)
}

func TestListTokens_QueryFilters(t *testing.T) {
	env := newAPIServer(t, Options{})
	seedRanking(t, env)

	t.Run("min_score", func(t *testing.T) {
		var resp listResponse
		code := getJSON(t, env.srv.URL+"/tokens?min_score=0.5", &resp)
		require.Equal(t, http.StatusOK, code)
		require.Len(t, resp.Tokens, 1)
		assert.Equal(t, mintTop, resp.Tokens[0].MintAddress)
	})

	t.Run("statuses", func(t *testing.T) {
		var resp listResponse
		code := getJSON(t, env.srv.URL+"/tokens?statuses=monitoring", &resp)
		require.Equal(t, http.StatusOK, code)
		require.Len(t, resp.Tokens, 1)
		assert.Equal(t, mintCold, resp.Tokens[0].MintAddress)
	})

	t.Run("pagination", func(t *testing.T) {
		var resp listResponse
		code := getJSON(t, env.srv.URL+"/tokens?limit=1&offset=1", &resp)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, 1, resp.Limit)
		assert.Equal(t, 1, resp.Offset)
		require.Len(t, resp.Tokens, 1)
		assert.Equal(t, mintMid, resp.Tokens[0].MintAddress)
	})

	t.Run("sort_created_at", func(t *testing.T) {
		var resp listResponse
		code := getJSON(t, env.srv.URL+"/tokens?sort=created_at", &resp)
		require.Equal(t, http.StatusOK, code)
		require.Len(t, resp.Tokens, 3)
		assert.Equal(t, mintCold, resp.Tokens[0].MintAddress) // newest first
	})
}

func TestListTokens_BadQuery(t *testing.T) {
	env := newAPIServer(t, Options{})

	for _, q := range []string{
		"limit=0",
		"limit=abc",
		"offset=-1",
		"min_score=abc",
		"sort=liquidity",
		"statuses=funky",
	} {
		t.Run(q, func(t *testing.T) {
			var resp map[string]string
			code := getJSON(t, env.srv.URL+"/tokens?"+q, &resp)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestListTokens_LimitCapped(t *testing.T) {
	env := newAPIServer(t, Options{MaxPageSize: 2})
	seedRanking(t, env)

	var resp listResponse
	code := getJSON(t, env.srv.URL+"/tokens?limit=9999", &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, resp.Limit)
	assert.Len(t, resp.Tokens, 2)
}

func TestGetToken(t *testing.T) {
	env := newAPIServer(t, Options{})
	tok := env.seedToken(t, mintTop, domain.StatusActive)
	env.seedScore(t, tok.ID, 0.7)

	var view tokenView
	code := getJSON(t, env.srv.URL+"/tokens/"+mintTop, &view)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, mintTop, view.MintAddress)
	assert.Equal(t, domain.StatusActive, view.Status)
	require.NotNil(t, view.SmoothedScore)
	assert.InDelta(t, 0.7, *view.SmoothedScore, 1e-9)

	t.Run("never_scored", func(t *testing.T) {
		env.seedToken(t, mintCold, domain.StatusMonitoring)
		var view tokenView
		code := getJSON(t, env.srv.URL+"/tokens/"+mintCold, &view)
		require.Equal(t, http.StatusOK, code)
		assert.Nil(t, view.Score)
	})

	t.Run("unknown_mint", func(t *testing.T) {
		var resp map[string]string
		code := getJSON(t, env.srv.URL+"/tokens/MintApiMissing111111111111111111111111111111", &resp)
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "token not found", resp["error"])
	})
}

func TestPutSetting(t *testing.T) {
	env := newAPIServer(t, Options{})
	ctx := context.Background()

	var resp map[string]string
	code := putJSON(t, env.srv.URL+"/settings/"+settings.KeyMinScore, `{"value":"0.25"}`, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, settings.KeyMinScore, resp["key"])
	assert.Equal(t, "0.25", resp["value"])
	assert.InDelta(t, 0.25, env.cfg.Float(ctx, settings.KeyMinScore), 1e-9)

	t.Run("unknown_key", func(t *testing.T) {
		var resp map[string]string
		code := putJSON(t, env.srv.URL+"/settings/definitely_not_a_key", `{"value":"1"}`, &resp)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, resp["error"], "unknown setting key")
	})

	t.Run("malformed_body", func(t *testing.T) {
		var resp map[string]string
		code := putJSON(t, env.srv.URL+"/settings/"+settings.KeyMinScore, `{`, &resp)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.NotEmpty(t, resp["error"])
	})
}

func TestListSettings(t *testing.T) {
	env := newAPIServer(t, Options{})
	require.NoError(t, env.cfg.Set(context.Background(), settings.KeyWeightTx, "0.5"))

	var resp map[string]string
	code := getJSON(t, env.srv.URL+"/settings", &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp, len(settings.Defaults()))
	assert.Equal(t, "0.5", resp[settings.KeyWeightTx])
	assert.Equal(t, "0.3", resp[settings.KeyEwmaAlpha])
}

func TestHealth(t *testing.T) {
	env := newAPIServer(t, Options{})
	env.seedToken(t, mintTop, domain.StatusActive)
	env.seedToken(t, mintCold, domain.StatusMonitoring)

	var resp struct {
		Status        string         `json:"status"`
		UptimeSeconds int64          `json:"uptime_seconds"`
		Tokens        map[string]int `json:"tokens"`
		Load          health.Sample  `json:"load"`
	}
	code := getJSON(t, env.srv.URL+"/health", &resp)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, "ok", resp.Status)
	assert.GreaterOrEqual(t, resp.UptimeSeconds, int64(0))
	assert.Equal(t, 1, resp.Tokens["active"])
	assert.Equal(t, 1, resp.Tokens["monitoring"])
	assert.Equal(t, 0, resp.Tokens["archived"])
	assert.Equal(t, health.LoadLow, resp.Load.Class)
}

func TestSchedulerHealth(t *testing.T) {
	env := newAPIServer(t, Options{})

	var resp struct {
		Load             health.Sample     `json:"load"`
		Breakers         map[string]string `json:"breakers"`
		DeferredDepth    int               `json:"deferred_depth"`
		DeferredCapacity int               `json:"deferred_capacity"`
		StaleAgeSeconds  int64             `json:"stale_age_seconds"`
		StaleCount       int               `json:"stale_count"`
		StaleTokens      []string          `json:"stale_tokens"`
	}
	code := getJSON(t, env.srv.URL+"/health/scheduler", &resp)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, health.LoadLow, resp.Load.Class)
	assert.Empty(t, resp.Breakers)
	assert.Zero(t, resp.DeferredDepth)
	assert.Equal(t, 2000, resp.DeferredCapacity)
	// Three hot intervals at the 10s default.
	assert.Equal(t, int64(30), resp.StaleAgeSeconds)
	assert.Zero(t, resp.StaleCount)
	assert.Empty(t, resp.StaleTokens)
}
