package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitpredict/engine/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

// Get retrieves one bet by its composite key.
func (s *BetStore) Get(ctx context.Context, voter string, marketKey, answerKey uint64) (domain.Bet, error) {
	const query = `
		SELECT voter, market_key, answer_key, tokens, create_time
		FROM bets WHERE voter = $1 AND market_key = $2 AND answer_key = $3`
	var b domain.Bet
	var mk, ak, tokens int64
	err := s.pool.QueryRow(ctx, query, voter, int64(marketKey), int64(answerKey)).
		Scan(&b.Voter, &mk, &ak, &tokens, &b.CreateTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s/%d/%d: %w", voter, marketKey, answerKey, err)
	}
	b.MarketKey = uint64(mk)
	b.AnswerKey = uint64(ak)
	b.Tokens = uint64(tokens)
	b.Exists = true
	return b, nil
}

// Upsert inserts or accumulates a bet record.
func (s *BetStore) Upsert(ctx context.Context, b domain.Bet) error {
	const query = `
		INSERT INTO bets (voter, market_key, answer_key, tokens, create_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (voter, market_key, answer_key) DO UPDATE SET
			tokens = EXCLUDED.tokens`
	_, err := s.pool.Exec(ctx, query,
		b.Voter, int64(b.MarketKey), int64(b.AnswerKey), int64(b.Tokens), b.CreateTime)
	if err != nil {
		return fmt.Errorf("postgres: upsert bet %s/%d/%d: %w", b.Voter, b.MarketKey, b.AnswerKey, err)
	}
	return nil
}

// Close deletes a settled bet record.
func (s *BetStore) Close(ctx context.Context, voter string, marketKey, answerKey uint64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM bets WHERE voter = $1 AND market_key = $2 AND answer_key = $3`,
		voter, int64(marketKey), int64(answerKey))
	if err != nil {
		return fmt.Errorf("postgres: close bet %s/%d/%d: %w", voter, marketKey, answerKey, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: bet %s/%d/%d: %w", voter, marketKey, answerKey, domain.ErrNotFound)
	}
	return nil
}

// ListByMarket returns a market's bets with pagination and optional
// create-time filtering.
func (s *BetStore) ListByMarket(ctx context.Context, marketKey uint64, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `
		SELECT voter, market_key, answer_key, tokens, create_time
		FROM bets WHERE market_key = $1`
	args := []any{int64(marketKey)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND create_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND create_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY voter, answer_key"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for market %d: %w", marketKey, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		var b domain.Bet
		var mk, ak, tokens int64
		if err := rows.Scan(&b.Voter, &mk, &ak, &tokens, &b.CreateTime); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		b.MarketKey = uint64(mk)
		b.AnswerKey = uint64(ak)
		b.Tokens = uint64(tokens)
		b.Exists = true
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows for market %d: %w", marketKey, err)
	}
	return bets, nil
}
