package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
)

const snapshotCols = `id, token_id, score, smoothed_score, raw_components, smoothed_components, spam_metrics, scoring_model, metrics, created_at`

func buildSnapshot(id, tokenID int64, score, smoothed float64,
	rawJSON, smoothedJSON, spamJSON []byte, model string, metricsJSON []byte,
	createdAt time.Time) (*domain.ScoreSnapshot, error) {

	snap := &domain.ScoreSnapshot{
		ID:            id,
		TokenID:       tokenID,
		Score:         score,
		SmoothedScore: smoothed,
		ScoringModel:  model,
		CreatedAt:     createdAt,
	}
	if len(rawJSON) > 0 {
		if err := json.Unmarshal(rawJSON, &snap.RawComponents); err != nil {
			return nil, fmt.Errorf("decode raw_components: %w", err)
		}
	}
	if len(smoothedJSON) > 0 {
		if err := json.Unmarshal(smoothedJSON, &snap.SmoothedComponents); err != nil {
			return nil, fmt.Errorf("decode smoothed_components: %w", err)
		}
	}
	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &snap.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics: %w", err)
		}
	}
	if len(spamJSON) > 0 {
		var sm domain.SpamMetrics
		if err := json.Unmarshal(spamJSON, &sm); err != nil {
			return nil, fmt.Errorf("decode spam_metrics: %w", err)
		}
		snap.SpamMetrics = &sm
	}
	return snap, nil
}

func scanSnapshot(row rowScanner) (*domain.ScoreSnapshot, error) {
	var (
		id, tokenID                     int64
		score, smoothed                 float64
		rawJSON, smoothedJSON, spamJSON []byte
		model                           string
		metricsJSON                     []byte
		createdAt                       time.Time
	)
	err := row.Scan(&id, &tokenID, &score, &smoothed, &rawJSON,
		&smoothedJSON, &spamJSON, &model, &metricsJSON, &createdAt)
	if err != nil {
		return nil, err
	}
	return buildSnapshot(id, tokenID, score, smoothed, rawJSON, smoothedJSON, spamJSON, model, metricsJSON, createdAt)
}

func (s *TokenStore) GetLatestSnapshot(ctx context.Context, tokenID int64) (*domain.ScoreSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+snapshotCols+` FROM token_scores
		WHERE token_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, tokenID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	return snap, nil
}

func (s *TokenStore) GetLatestSnapshotsBatch(ctx context.Context, tokenIDs []int64) (map[int64]*domain.ScoreSnapshot, error) {
	if len(tokenIDs) == 0 {
		return map[int64]*domain.ScoreSnapshot{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (token_id) `+snapshotCols+`
		FROM token_scores
		WHERE token_id = ANY($1)
		ORDER BY token_id, created_at DESC, id DESC`, tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("batch latest snapshots: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]*domain.ScoreSnapshot, len(tokenIDs))
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out[snap.TokenID] = snap
	}
	return out, rows.Err()
}

func (s *TokenStore) ListRecentSnapshots(ctx context.Context, tokenID int64, n int) ([]domain.ScoreSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+snapshotCols+` FROM token_scores
		WHERE token_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, tokenID, n)
	if err != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", err)
	}
	defer rows.Close()
	var out []domain.ScoreSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

func (s *TokenStore) GetBelowScoreSince(ctx context.Context, tokenID int64, minScore float64) (*time.Time, error) {
	// Start of the current uninterrupted run below minScore: everything
	// after the most recent snapshot at or above the threshold.
	var since *time.Time
	err := s.pool.QueryRow(ctx, `
		WITH reset AS (
			SELECT MAX(created_at) AS at FROM token_scores
			WHERE token_id = $1 AND smoothed_score >= $2
		)
		SELECT MIN(ts.created_at) FROM token_scores ts, reset
		WHERE ts.token_id = $1
		  AND ts.created_at > COALESCE(reset.at, '-infinity'::timestamptz)`,
		tokenID, minScore).Scan(&since)
	if err != nil {
		return nil, fmt.Errorf("below-score run start: %w", err)
	}
	return since, nil
}

func (s *TokenStore) InsertScoreSnapshot(ctx context.Context, snap *domain.ScoreSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot insert: %w", err)
	}
	defer tx.Rollback(ctx)

	if snap.SpamMetrics == nil {
		var prevSpam []byte
		err := tx.QueryRow(ctx, `
			SELECT spam_metrics FROM token_scores
			WHERE token_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT 1`, snap.TokenID).Scan(&prevSpam)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("read previous spam metrics: %w", err)
		}
		if len(prevSpam) > 0 {
			var sm domain.SpamMetrics
			if err := json.Unmarshal(prevSpam, &sm); err != nil {
				return fmt.Errorf("decode previous spam metrics: %w", err)
			}
			snap.SpamMetrics = &sm
		}
	}

	rawJSON, err := json.Marshal(snap.RawComponents)
	if err != nil {
		return fmt.Errorf("encode raw_components: %w", err)
	}
	smoothedJSON, err := json.Marshal(snap.SmoothedComponents)
	if err != nil {
		return fmt.Errorf("encode smoothed_components: %w", err)
	}
	metricsJSON, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	var spamJSON []byte
	if snap.SpamMetrics != nil {
		if spamJSON, err = json.Marshal(snap.SpamMetrics); err != nil {
			return fmt.Errorf("encode spam_metrics: %w", err)
		}
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO token_scores
			(token_id, score, smoothed_score, raw_components, smoothed_components,
			 spam_metrics, scoring_model, metrics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		snap.TokenID, snap.Score, snap.SmoothedScore, rawJSON, smoothedJSON,
		spamJSON, snap.ScoringModel, metricsJSON, snap.CreatedAt).Scan(&snap.ID)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE tokens SET
			last_updated_at = $2,
			liquidity_usd = $3,
			primary_dex = CASE WHEN $4 <> '' THEN $4 ELSE primary_dex END
		WHERE id = $1`,
		snap.TokenID, snap.CreatedAt, snap.Metrics.LiquidityUSD, snap.Metrics.PrimaryDex); err != nil {
		return fmt.Errorf("refresh token market fields: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *TokenStore) AttachSpamMetrics(ctx context.Context, tokenID int64, sm *domain.SpamMetrics) error {
	spamJSON, err := json.Marshal(sm)
	if err != nil {
		return fmt.Errorf("encode spam_metrics: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE token_scores SET spam_metrics = $2
		WHERE id = (
			SELECT id FROM token_scores
			WHERE token_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)`, tokenID, spamJSON)
	if err != nil {
		return fmt.Errorf("attach spam metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
