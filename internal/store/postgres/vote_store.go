package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitpredict/engine/internal/domain"
)

// VoteStore implements domain.VoteStore using PostgreSQL.
type VoteStore struct {
	pool *pgxpool.Pool
}

// NewVoteStore creates a new VoteStore backed by the given connection pool.
func NewVoteStore(pool *pgxpool.Pool) *VoteStore {
	return &VoteStore{pool: pool}
}

func (s *VoteStore) GetQuestVote(ctx context.Context, questKey uint64) (domain.QuestVote, error) {
	const query = `
		SELECT quest_key, count_approver, count_rejector, total_voted, finalized
		FROM quest_votes WHERE quest_key = $1`
	var v domain.QuestVote
	var qk, approver, rejector, total int64
	err := s.pool.QueryRow(ctx, query, int64(questKey)).
		Scan(&qk, &approver, &rejector, &total, &v.Finalized)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.QuestVote{}, domain.ErrNotFound
		}
		return domain.QuestVote{}, fmt.Errorf("postgres: get quest vote %d: %w", questKey, err)
	}
	v.QuestKey = uint64(qk)
	v.CountApprover = uint64(approver)
	v.CountRejector = uint64(rejector)
	v.TotalVoted = uint64(total)
	return v, nil
}

func (s *VoteStore) PutQuestVote(ctx context.Context, v domain.QuestVote) error {
	const query = `
		INSERT INTO quest_votes (quest_key, count_approver, count_rejector, total_voted, finalized)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (quest_key) DO UPDATE SET
			count_approver = EXCLUDED.count_approver,
			count_rejector = EXCLUDED.count_rejector,
			total_voted    = EXCLUDED.total_voted,
			finalized      = EXCLUDED.finalized`
	_, err := s.pool.Exec(ctx, query,
		int64(v.QuestKey), int64(v.CountApprover), int64(v.CountRejector), int64(v.TotalVoted), v.Finalized)
	if err != nil {
		return fmt.Errorf("postgres: put quest vote %d: %w", v.QuestKey, err)
	}
	return nil
}

func (s *VoteStore) GetQuestVoter(ctx context.Context, questKey uint64, voter string) (domain.QuestVoterRecord, error) {
	const query = `
		SELECT quest_key, voter, vote_count, choice, cast_at
		FROM quest_voters WHERE quest_key = $1 AND voter = $2`
	var r domain.QuestVoterRecord
	var qk, count int64
	var choice string
	err := s.pool.QueryRow(ctx, query, int64(questKey), voter).
		Scan(&qk, &r.Voter, &count, &choice, &r.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.QuestVoterRecord{}, domain.ErrNotFound
		}
		return domain.QuestVoterRecord{}, fmt.Errorf("postgres: get quest voter %d/%s: %w", questKey, voter, err)
	}
	r.QuestKey = uint64(qk)
	r.VoteCount = uint64(count)
	r.Choice = domain.QuestVoteChoice(choice)
	return r, nil
}

func (s *VoteStore) PutQuestVoter(ctx context.Context, r domain.QuestVoterRecord) error {
	const query = `
		INSERT INTO quest_voters (quest_key, voter, vote_count, choice, cast_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (quest_key, voter) DO UPDATE SET
			vote_count = EXCLUDED.vote_count,
			choice     = EXCLUDED.choice,
			cast_at    = EXCLUDED.cast_at`
	_, err := s.pool.Exec(ctx, query,
		int64(r.QuestKey), r.Voter, int64(r.VoteCount), string(r.Choice), r.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: put quest voter %d/%s: %w", r.QuestKey, r.Voter, err)
	}
	return nil
}

func (s *VoteStore) GetDecisionVote(ctx context.Context, questKey uint64) (domain.DecisionVote, error) {
	const query = `
		SELECT quest_key, count_success, count_adjourn, total_voted, finalized
		FROM decision_votes WHERE quest_key = $1`
	var v domain.DecisionVote
	var qk, success, adjourn, total int64
	err := s.pool.QueryRow(ctx, query, int64(questKey)).
		Scan(&qk, &success, &adjourn, &total, &v.Finalized)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DecisionVote{}, domain.ErrNotFound
		}
		return domain.DecisionVote{}, fmt.Errorf("postgres: get decision vote %d: %w", questKey, err)
	}
	v.QuestKey = uint64(qk)
	v.CountSuccess = uint64(success)
	v.CountAdjourn = uint64(adjourn)
	v.TotalVoted = uint64(total)
	return v, nil
}

func (s *VoteStore) PutDecisionVote(ctx context.Context, v domain.DecisionVote) error {
	const query = `
		INSERT INTO decision_votes (quest_key, count_success, count_adjourn, total_voted, finalized)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (quest_key) DO UPDATE SET
			count_success = EXCLUDED.count_success,
			count_adjourn = EXCLUDED.count_adjourn,
			total_voted   = EXCLUDED.total_voted,
			finalized     = EXCLUDED.finalized`
	_, err := s.pool.Exec(ctx, query,
		int64(v.QuestKey), int64(v.CountSuccess), int64(v.CountAdjourn), int64(v.TotalVoted), v.Finalized)
	if err != nil {
		return fmt.Errorf("postgres: put decision vote %d: %w", v.QuestKey, err)
	}
	return nil
}

func (s *VoteStore) GetDecisionVoter(ctx context.Context, questKey uint64, voter string) (domain.DecisionVoterRecord, error) {
	const query = `
		SELECT quest_key, voter, choice, votes, cast_at
		FROM decision_voters WHERE quest_key = $1 AND voter = $2`
	var r domain.DecisionVoterRecord
	var qk, votes int64
	var choice string
	err := s.pool.QueryRow(ctx, query, int64(questKey), voter).
		Scan(&qk, &r.Voter, &choice, &votes, &r.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DecisionVoterRecord{}, domain.ErrNotFound
		}
		return domain.DecisionVoterRecord{}, fmt.Errorf("postgres: get decision voter %d/%s: %w", questKey, voter, err)
	}
	r.QuestKey = uint64(qk)
	r.Choice = domain.DecisionVoteChoice(choice)
	r.Votes = uint64(votes)
	return r, nil
}

func (s *VoteStore) PutDecisionVoter(ctx context.Context, r domain.DecisionVoterRecord) error {
	const query = `
		INSERT INTO decision_voters (quest_key, voter, choice, votes, cast_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (quest_key, voter) DO UPDATE SET
			choice  = EXCLUDED.choice,
			votes   = EXCLUDED.votes,
			cast_at = EXCLUDED.cast_at`
	_, err := s.pool.Exec(ctx, query,
		int64(r.QuestKey), r.Voter, string(r.Choice), int64(r.Votes), r.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: put decision voter %d/%s: %w", r.QuestKey, r.Voter, err)
	}
	return nil
}

func (s *VoteStore) GetAnswerVote(ctx context.Context, questKey uint64) (domain.AnswerVote, error) {
	const query = `
		SELECT quest_key, total_voted, finalized, winning_answer
		FROM answer_votes WHERE quest_key = $1`
	var v domain.AnswerVote
	var qk, total, winning int64
	err := s.pool.QueryRow(ctx, query, int64(questKey)).
		Scan(&qk, &total, &v.Finalized, &winning)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AnswerVote{}, domain.ErrNotFound
		}
		return domain.AnswerVote{}, fmt.Errorf("postgres: get answer vote %d: %w", questKey, err)
	}
	v.QuestKey = uint64(qk)
	v.TotalVoted = uint64(total)
	v.WinningAnswer = uint64(winning)
	return v, nil
}

func (s *VoteStore) PutAnswerVote(ctx context.Context, v domain.AnswerVote) error {
	const query = `
		INSERT INTO answer_votes (quest_key, total_voted, finalized, winning_answer)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (quest_key) DO UPDATE SET
			total_voted    = EXCLUDED.total_voted,
			finalized      = EXCLUDED.finalized,
			winning_answer = EXCLUDED.winning_answer`
	_, err := s.pool.Exec(ctx, query,
		int64(v.QuestKey), int64(v.TotalVoted), v.Finalized, int64(v.WinningAnswer))
	if err != nil {
		return fmt.Errorf("postgres: put answer vote %d: %w", v.QuestKey, err)
	}
	return nil
}

func (s *VoteStore) GetAnswerOption(ctx context.Context, questKey, answerKey uint64) (domain.AnswerOption, error) {
	const query = `
		SELECT quest_key, answer_key, total_votes
		FROM answer_options WHERE quest_key = $1 AND answer_key = $2`
	var o domain.AnswerOption
	var qk, ak, total int64
	err := s.pool.QueryRow(ctx, query, int64(questKey), int64(answerKey)).Scan(&qk, &ak, &total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AnswerOption{}, domain.ErrNotFound
		}
		return domain.AnswerOption{}, fmt.Errorf("postgres: get answer option %d/%d: %w", questKey, answerKey, err)
	}
	o.QuestKey = uint64(qk)
	o.AnswerKey = uint64(ak)
	o.TotalVotes = uint64(total)
	return o, nil
}

func (s *VoteStore) PutAnswerOption(ctx context.Context, o domain.AnswerOption) error {
	const query = `
		INSERT INTO answer_options (quest_key, answer_key, total_votes)
		VALUES ($1, $2, $3)
		ON CONFLICT (quest_key, answer_key) DO UPDATE SET
			total_votes = EXCLUDED.total_votes`
	_, err := s.pool.Exec(ctx, query,
		int64(o.QuestKey), int64(o.AnswerKey), int64(o.TotalVotes))
	if err != nil {
		return fmt.Errorf("postgres: put answer option %d/%d: %w", o.QuestKey, o.AnswerKey, err)
	}
	return nil
}

func (s *VoteStore) ListAnswerOptions(ctx context.Context, questKey uint64) ([]domain.AnswerOption, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT quest_key, answer_key, total_votes FROM answer_options WHERE quest_key = $1 ORDER BY answer_key`,
		int64(questKey))
	if err != nil {
		return nil, fmt.Errorf("postgres: list answer options %d: %w", questKey, err)
	}
	defer rows.Close()

	var out []domain.AnswerOption
	for rows.Next() {
		var qk, ak, total int64
		if err := rows.Scan(&qk, &ak, &total); err != nil {
			return nil, fmt.Errorf("postgres: scan answer option: %w", err)
		}
		out = append(out, domain.AnswerOption{
			QuestKey:   uint64(qk),
			AnswerKey:  uint64(ak),
			TotalVotes: uint64(total),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: answer options rows %d: %w", questKey, err)
	}
	return out, nil
}

func (s *VoteStore) GetAnswerVoter(ctx context.Context, questKey uint64, voter string) (domain.AnswerVoterRecord, error) {
	const query = `
		SELECT quest_key, voter, answer_key, vote_count, cast_at, rewarded
		FROM answer_voters WHERE quest_key = $1 AND voter = $2`
	var r domain.AnswerVoterRecord
	var qk, ak, count int64
	err := s.pool.QueryRow(ctx, query, int64(questKey), voter).
		Scan(&qk, &r.Voter, &ak, &count, &r.Timestamp, &r.Rewarded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AnswerVoterRecord{}, domain.ErrNotFound
		}
		return domain.AnswerVoterRecord{}, fmt.Errorf("postgres: get answer voter %d/%s: %w", questKey, voter, err)
	}
	r.QuestKey = uint64(qk)
	r.AnswerKey = uint64(ak)
	r.VoteCount = uint64(count)
	return r, nil
}

func (s *VoteStore) PutAnswerVoter(ctx context.Context, r domain.AnswerVoterRecord) error {
	const query = `
		INSERT INTO answer_voters (quest_key, voter, answer_key, vote_count, cast_at, rewarded)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (quest_key, voter) DO UPDATE SET
			answer_key = EXCLUDED.answer_key,
			vote_count = EXCLUDED.vote_count,
			cast_at    = EXCLUDED.cast_at,
			rewarded   = EXCLUDED.rewarded`
	_, err := s.pool.Exec(ctx, query,
		int64(r.QuestKey), r.Voter, int64(r.AnswerKey), int64(r.VoteCount), r.Timestamp, r.Rewarded)
	if err != nil {
		return fmt.Errorf("postgres: put answer voter %d/%s: %w", r.QuestKey, r.Voter, err)
	}
	return nil
}
