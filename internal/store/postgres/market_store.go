package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitpredict/engine/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `market_key, creator, betting_token, title, status,
	creator_fee, creator_fee_bps, service_fee_bps, charity_fee_bps,
	approve_time, finish_time, success_time, adjourn_time,
	correct_answer_key, total_tokens, remain_tokens, reward_base_tokens`

// Create inserts a new market together with its answer set in one
// transaction.
func (s *MarketStore) Create(ctx context.Context, m domain.Market, answers domain.AnswerSet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create market %d: %w", m.MarketKey, err)
	}
	defer tx.Rollback(ctx)

	const insertMarket = `
		INSERT INTO markets (` + marketCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err = tx.Exec(ctx, insertMarket,
		int64(m.MarketKey), m.Creator, m.BettingToken, m.Title, string(m.Status),
		int64(m.CreatorFee), int64(m.CreatorFeeBps), int64(m.ServiceFeeBps), int64(m.CharityFeeBps),
		timePtr(m.ApproveTime), timePtr(m.FinishTime), timePtr(m.SuccessTime), timePtr(m.AdjournTime),
		int64(m.CorrectAnswerKey), int64(m.TotalTokens), int64(m.RemainTokens), int64(m.RewardBaseTokens),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: market %d: %w", m.MarketKey, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert market %d: %w", m.MarketKey, err)
	}

	const insertAnswer = `
		INSERT INTO market_answers (market_key, answer_key, total_tokens)
		VALUES ($1, $2, $3)`
	for _, a := range answers.Answers {
		if _, err := tx.Exec(ctx, insertAnswer, int64(answers.MarketKey), int64(a.AnswerKey), int64(a.TotalTokens)); err != nil {
			return fmt.Errorf("postgres: insert answer %d/%d: %w", answers.MarketKey, a.AnswerKey, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create market %d: %w", m.MarketKey, err)
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	var marketKey, creatorFee, creatorBps, serviceBps, charityBps int64
	var correctAnswer, total, remain, rewardBase int64
	var approve, finish, success, adjourn *time.Time
	err := row.Scan(
		&marketKey, &m.Creator, &m.BettingToken, &m.Title, &status,
		&creatorFee, &creatorBps, &serviceBps, &charityBps,
		&approve, &finish, &success, &adjourn,
		&correctAnswer, &total, &remain, &rewardBase,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.ApproveTime = timeVal(approve)
	m.FinishTime = timeVal(finish)
	m.SuccessTime = timeVal(success)
	m.AdjournTime = timeVal(adjourn)
	m.MarketKey = uint64(marketKey)
	m.Status = domain.MarketStatus(status)
	m.CreatorFee = uint64(creatorFee)
	m.CreatorFeeBps = uint64(creatorBps)
	m.ServiceFeeBps = uint64(serviceBps)
	m.CharityFeeBps = uint64(charityBps)
	m.CorrectAnswerKey = uint64(correctAnswer)
	m.TotalTokens = uint64(total)
	m.RemainTokens = uint64(remain)
	m.RewardBaseTokens = uint64(rewardBase)
	return m, nil
}

// Get retrieves a market by its key.
func (s *MarketStore) Get(ctx context.Context, marketKey uint64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE market_key = $1`, int64(marketKey))
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", marketKey, err)
	}
	return m, nil
}

// Update persists a mutated market.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			status             = $2,
			creator_fee        = $3,
			approve_time       = $4,
			finish_time        = $5,
			success_time       = $6,
			adjourn_time       = $7,
			correct_answer_key = $8,
			total_tokens       = $9,
			remain_tokens      = $10,
			reward_base_tokens = $11,
			updated_at         = NOW()
		WHERE market_key = $1`
	tag, err := s.pool.Exec(ctx, query,
		int64(m.MarketKey), string(m.Status), int64(m.CreatorFee),
		timePtr(m.ApproveTime), timePtr(m.FinishTime), timePtr(m.SuccessTime), timePtr(m.AdjournTime),
		int64(m.CorrectAnswerKey), int64(m.TotalTokens), int64(m.RemainTokens), int64(m.RewardBaseTokens),
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %d: %w", m.MarketKey, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %d: %w", m.MarketKey, domain.ErrNotFound)
	}
	return nil
}

// GetAnswers retrieves a market's answer set ordered by answer key.
func (s *MarketStore) GetAnswers(ctx context.Context, marketKey uint64) (domain.AnswerSet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT answer_key, total_tokens FROM market_answers WHERE market_key = $1 ORDER BY answer_key`,
		int64(marketKey))
	if err != nil {
		return domain.AnswerSet{}, fmt.Errorf("postgres: get answers for market %d: %w", marketKey, err)
	}
	defer rows.Close()

	as := domain.AnswerSet{MarketKey: marketKey}
	for rows.Next() {
		var key, total int64
		if err := rows.Scan(&key, &total); err != nil {
			return domain.AnswerSet{}, fmt.Errorf("postgres: scan answer: %w", err)
		}
		as.Answers = append(as.Answers, domain.Answer{AnswerKey: uint64(key), TotalTokens: uint64(total)})
	}
	if err := rows.Err(); err != nil {
		return domain.AnswerSet{}, fmt.Errorf("postgres: answers rows for market %d: %w", marketKey, err)
	}
	if len(as.Answers) == 0 {
		return domain.AnswerSet{}, fmt.Errorf("postgres: answers for market %d: %w", marketKey, domain.ErrNotFound)
	}
	return as, nil
}

// UpdateAnswers persists the per-answer totals of a market.
func (s *MarketStore) UpdateAnswers(ctx context.Context, answers domain.AnswerSet) error {
	batch := &pgx.Batch{}
	const query = `
		UPDATE market_answers SET total_tokens = $3
		WHERE market_key = $1 AND answer_key = $2`
	for _, a := range answers.Answers {
		batch.Queue(query, int64(answers.MarketKey), int64(a.AnswerKey), int64(a.TotalTokens))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range answers.Answers {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: update answer batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByStatus returns markets in the given status with pagination and
// optional approve-time filtering.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND approve_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND approve_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY market_key"

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
		return nil, fmt.Errorf("postgres: list markets by status %s: %w", status, err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}
