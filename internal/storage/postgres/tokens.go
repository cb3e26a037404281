package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage"
)

const tokenCols = `id, mint_address, name, symbol, status, created_at, last_updated_at, liquidity_usd, primary_dex`

// TokenStore implements storage.TokenRepository on a pgx pool.
type TokenStore struct {
	pool *pgxpool.Pool
}

func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

var _ storage.TokenRepository = (*TokenStore)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (domain.Token, error) {
	var (
		t      domain.Token
		status string
	)
	err := row.Scan(&t.ID, &t.MintAddress, &t.Name, &t.Symbol, &status,
		&t.CreatedAt, &t.LastUpdatedAt, &t.LiquidityUSD, &t.PrimaryDex)
	if err != nil {
		return domain.Token{}, err
	}
	t.Status = domain.TokenStatus(status)
	return t, nil
}

func (s *TokenStore) InsertMonitoring(ctx context.Context, mint, name, symbol string) (domain.Token, bool, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tokens (mint_address, name, symbol)
		VALUES ($1, $2, $3)
		ON CONFLICT (mint_address) DO NOTHING
		RETURNING `+tokenCols,
		mint, name, symbol)
	t, err := scanToken(row)
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) && !isUniqueViolation(err) {
		return domain.Token{}, false, fmt.Errorf("insert monitoring token: %w", err)
	}
	// Lost the race or the mint already exists; return the existing row.
	existing, err := s.GetByMint(ctx, mint)
	if err != nil {
		return domain.Token{}, false, err
	}
	return existing, false, nil
}

func (s *TokenStore) GetByMint(ctx context.Context, mint string) (domain.Token, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tokenCols+` FROM tokens WHERE mint_address = $1`, mint)
	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Token{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Token{}, fmt.Errorf("get token by mint: %w", err)
	}
	return t, nil
}

func (s *TokenStore) GetByID(ctx context.Context, id int64) (domain.Token, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tokenCols+` FROM tokens WHERE id = $1`, id)
	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Token{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Token{}, fmt.Errorf("get token by id: %w", err)
	}
	return t, nil
}

func (s *TokenStore) ListByStatus(ctx context.Context, status domain.TokenStatus, limit, offset int) ([]domain.Token, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tokenCols+` FROM tokens
		WHERE status = $1
		ORDER BY id
		LIMIT $2 OFFSET $3`,
		string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tokens by status: %w", err)
	}
	defer rows.Close()
	var out []domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *TokenStore) ListActiveOrderedByScore(ctx context.Context, limit int) ([]domain.ScoredToken, error) {
	return s.ListWithLatest(ctx, storage.TokenFilter{
		Statuses: []domain.TokenStatus{domain.StatusActive},
		SortBy:   storage.SortBySmoothedScore,
		Limit:    limit,
	})
}

func (s *TokenStore) ListWithLatest(ctx context.Context, f storage.TokenFilter) ([]domain.ScoredToken, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		conds = append(conds, "t.status = ANY("+arg(statuses)+")")
	}
	if f.MinScore != nil {
		conds = append(conds, "s.smoothed_score >= "+arg(*f.MinScore))
	}
	q := `
		SELECT t.id, t.mint_address, t.name, t.symbol, t.status, t.created_at,
		       t.last_updated_at, t.liquidity_usd, t.primary_dex,
		       s.id, s.token_id, s.score, s.smoothed_score, s.raw_components,
		       s.smoothed_components, s.spam_metrics, s.scoring_model, s.metrics, s.created_at
		FROM tokens t
		LEFT JOIN LATERAL (
			SELECT ` + snapshotCols + ` FROM token_scores ts
			WHERE ts.token_id = t.id
			ORDER BY ts.created_at DESC, ts.id DESC
			LIMIT 1
		) s ON true`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	switch f.SortBy {
	case storage.SortByCreatedAt:
		q += " ORDER BY t.created_at DESC, t.id"
	default:
		q += " ORDER BY s.smoothed_score DESC NULLS LAST, t.id"
	}
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		q += " OFFSET " + arg(f.Offset)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tokens with latest snapshot: %w", err)
	}
	defer rows.Close()
	var out []domain.ScoredToken
	for rows.Next() {
		st, err := scanScoredToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scored token: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanScoredToken(row rowScanner) (domain.ScoredToken, error) {
	var (
		t      domain.Token
		status string

		snapID        *int64
		snapTokenID   *int64
		score         *float64
		smoothed      *float64
		rawJSON       []byte
		smoothedJSON  []byte
		spamJSON      []byte
		scoringModel  *string
		metricsJSON   []byte
		snapCreatedAt *time.Time
	)
	err := row.Scan(&t.ID, &t.MintAddress, &t.Name, &t.Symbol, &status,
		&t.CreatedAt, &t.LastUpdatedAt, &t.LiquidityUSD, &t.PrimaryDex,
		&snapID, &snapTokenID, &score, &smoothed, &rawJSON,
		&smoothedJSON, &spamJSON, &scoringModel, &metricsJSON, &snapCreatedAt)
	if err != nil {
		return domain.ScoredToken{}, err
	}
	t.Status = domain.TokenStatus(status)
	st := domain.ScoredToken{Token: t}
	if snapID != nil {
		snap, err := buildSnapshot(*snapID, *snapTokenID, *score, *smoothed,
			rawJSON, smoothedJSON, spamJSON, *scoringModel, metricsJSON, *snapCreatedAt)
		if err != nil {
			return domain.ScoredToken{}, err
		}
		st.Latest = snap
	}
	return st, nil
}

func (s *TokenStore) UpdateStatus(ctx context.Context, tokenID int64, status domain.TokenStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM tokens WHERE id = $1 FOR UPDATE`, tokenID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock token row: %w", err)
	}
	if !domain.CanTransition(domain.TokenStatus(current), status) {
		return fmt.Errorf("%s -> %s: %w", current, status, domain.ErrInvalidStatus)
	}
	if _, err := tx.Exec(ctx, `UPDATE tokens SET status = $2, last_updated_at = now() WHERE id = $1`,
		tokenID, string(status)); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *TokenStore) FillTokenMeta(ctx context.Context, tokenID int64, name, symbol string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tokens SET
			name = CASE WHEN name = '' AND $2 <> '' THEN $2 ELSE name END,
			symbol = CASE WHEN symbol = '' AND $3 <> '' THEN $3 ELSE symbol END
		WHERE id = $1`,
		tokenID, name, symbol)
	if err != nil {
		return fmt.Errorf("fill token meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *TokenStore) TouchMarketData(ctx context.Context, tokenID int64, liquidityUSD float64, primaryDex string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tokens SET
			last_updated_at = now(),
			liquidity_usd = $2,
			primary_dex = CASE WHEN $3 <> '' THEN $3 ELSE primary_dex END
		WHERE id = $1`,
		tokenID, liquidityUSD, primaryDex)
	if err != nil {
		return fmt.Errorf("touch market data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *TokenStore) CountByStatus(ctx context.Context) (map[domain.TokenStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM tokens GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tokens by status: %w", err)
	}
	defer rows.Close()
	out := make(map[domain.TokenStatus]int, 3)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[domain.TokenStatus(status)] = n
	}
	return out, rows.Err()
}

func (s *TokenStore) ListStale(ctx context.Context, status domain.TokenStatus, olderThan time.Time, limit int) ([]domain.Token, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tokenCols+` FROM tokens
		WHERE status = $1 AND last_updated_at < $2
		ORDER BY last_updated_at
		LIMIT $3`,
		string(status), olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale tokens: %w", err)
	}
	defer rows.Close()
	var out []domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
