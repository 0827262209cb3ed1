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

// QuestStore implements domain.QuestStore using PostgreSQL.
type QuestStore struct {
	pool *pgxpool.Pool
}

// NewQuestStore creates a new QuestStore backed by the given connection pool.
func NewQuestStore(pool *pgxpool.Pool) *QuestStore {
	return &QuestStore{pool: pool}
}

const questCols = `quest_key, question, creator, quest_result, decision_result, answer_result,
	snapshot_slot, quest_start_time, quest_end_time, decision_start_time, decision_end_time,
	answer_start_time, answer_end_time, answer_keys`

func answerKeysToInt64(keys []uint64) []int64 {
	out := make([]int64, len(keys))
	for i, k := range keys {
		out[i] = int64(k)
	}
	return out
}

// Create inserts a new quest.
func (s *QuestStore) Create(ctx context.Context, q domain.Quest) error {
	const query = `
		INSERT INTO quests (` + questCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := s.pool.Exec(ctx, query,
		int64(q.QuestKey), q.Question, q.Creator,
		string(q.QuestResult), string(q.DecisionResult), int64(q.AnswerResult),
		int64(q.SnapshotSlot),
		timePtr(q.QuestStartTime), timePtr(q.QuestEndTime),
		timePtr(q.DecisionStartTime), timePtr(q.DecisionEndTime),
		timePtr(q.AnswerStartTime), timePtr(q.AnswerEndTime),
		answerKeysToInt64(q.AnswerKeys),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: quest %d: %w", q.QuestKey, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert quest %d: %w", q.QuestKey, err)
	}
	return nil
}

func scanQuest(row pgx.Row) (domain.Quest, error) {
	var q domain.Quest
	var questKey, answerResult, snapshotSlot int64
	var questResult, decisionResult string
	var qs, qe, ds, de, as, ae *time.Time
	var keys []int64
	err := row.Scan(
		&questKey, &q.Question, &q.Creator, &questResult, &decisionResult, &answerResult,
		&snapshotSlot, &qs, &qe, &ds, &de, &as, &ae, &keys,
	)
	if err != nil {
		return domain.Quest{}, err
	}
	q.QuestKey = uint64(questKey)
	q.QuestResult = domain.QuestResult(questResult)
	q.DecisionResult = domain.DecisionResult(decisionResult)
	q.AnswerResult = uint64(answerResult)
	q.SnapshotSlot = uint64(snapshotSlot)
	q.QuestStartTime = timeVal(qs)
	q.QuestEndTime = timeVal(qe)
	q.DecisionStartTime = timeVal(ds)
	q.DecisionEndTime = timeVal(de)
	q.AnswerStartTime = timeVal(as)
	q.AnswerEndTime = timeVal(ae)
	for _, k := range keys {
		q.AnswerKeys = append(q.AnswerKeys, uint64(k))
	}
	return q, nil
}

// Get retrieves a quest by its key.
func (s *QuestStore) Get(ctx context.Context, questKey uint64) (domain.Quest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+questCols+` FROM quests WHERE quest_key = $1`, int64(questKey))
	q, err := scanQuest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Quest{}, domain.ErrNotFound
		}
		return domain.Quest{}, fmt.Errorf("postgres: get quest %d: %w", questKey, err)
	}
	return q, nil
}

// Update persists a mutated quest.
func (s *QuestStore) Update(ctx context.Context, q domain.Quest) error {
	const query = `
		UPDATE quests SET
			quest_result        = $2,
			decision_result     = $3,
			answer_result       = $4,
			quest_start_time    = $5,
			quest_end_time      = $6,
			decision_start_time = $7,
			decision_end_time   = $8,
			answer_start_time   = $9,
			answer_end_time     = $10,
			answer_keys         = $11,
			updated_at          = NOW()
		WHERE quest_key = $1`
	tag, err := s.pool.Exec(ctx, query,
		int64(q.QuestKey),
		string(q.QuestResult), string(q.DecisionResult), int64(q.AnswerResult),
		timePtr(q.QuestStartTime), timePtr(q.QuestEndTime),
		timePtr(q.DecisionStartTime), timePtr(q.DecisionEndTime),
		timePtr(q.AnswerStartTime), timePtr(q.AnswerEndTime),
		answerKeysToInt64(q.AnswerKeys),
	)
	if err != nil {
		return fmt.Errorf("postgres: update quest %d: %w", q.QuestKey, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: quest %d: %w", q.QuestKey, domain.ErrNotFound)
	}
	return nil
}

// GetConfig loads the singleton governance config.
func (s *QuestStore) GetConfig(ctx context.Context) (domain.GovernanceConfig, error) {
	const query = `
		SELECT authority, base_token, nft_collection, treasury, paused,
			min_total_vote, max_total_vote, min_required_nft, max_votable_nft,
			duration_secs, reward_per_vote
		FROM governance_config WHERE id = 1`
	var cfg domain.GovernanceConfig
	var minTotal, maxTotal, minNFT, maxNFT, durationSecs, rewardPerVote int64
	err := s.pool.QueryRow(ctx, query).Scan(
		&cfg.Authority, &cfg.BaseToken, &cfg.NFTCollection, &cfg.Treasury, &cfg.Paused,
		&minTotal, &maxTotal, &minNFT, &maxNFT, &durationSecs, &rewardPerVote,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GovernanceConfig{}, domain.ErrNotFound
		}
		return domain.GovernanceConfig{}, fmt.Errorf("postgres: get governance config: %w", err)
	}
	cfg.MinTotalVote = uint64(minTotal)
	cfg.MaxTotalVote = uint64(maxTotal)
	cfg.MinRequiredNFT = uint64(minNFT)
	cfg.MaxVotableNFT = uint64(maxNFT)
	cfg.Duration = time.Duration(durationSecs) * time.Second
	cfg.RewardPerVote = uint64(rewardPerVote)
	return cfg, nil
}

// PutConfig stores the singleton governance config.
func (s *QuestStore) PutConfig(ctx context.Context, cfg domain.GovernanceConfig) error {
	const query = `
		INSERT INTO governance_config (
			id, authority, base_token, nft_collection, treasury, paused,
			min_total_vote, max_total_vote, min_required_nft, max_votable_nft,
			duration_secs, reward_per_vote
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			authority        = EXCLUDED.authority,
			base_token       = EXCLUDED.base_token,
			nft_collection   = EXCLUDED.nft_collection,
			treasury         = EXCLUDED.treasury,
			paused           = EXCLUDED.paused,
			min_total_vote   = EXCLUDED.min_total_vote,
			max_total_vote   = EXCLUDED.max_total_vote,
			min_required_nft = EXCLUDED.min_required_nft,
			max_votable_nft  = EXCLUDED.max_votable_nft,
			duration_secs    = EXCLUDED.duration_secs,
			reward_per_vote  = EXCLUDED.reward_per_vote,
			updated_at       = NOW()`
	_, err := s.pool.Exec(ctx, query,
		cfg.Authority, cfg.BaseToken, cfg.NFTCollection, cfg.Treasury, cfg.Paused,
		int64(cfg.MinTotalVote), int64(cfg.MaxTotalVote),
		int64(cfg.MinRequiredNFT), int64(cfg.MaxVotableNFT),
		int64(cfg.Duration/time.Second), int64(cfg.RewardPerVote),
	)
	if err != nil {
		return fmt.Errorf("postgres: put governance config: %w", err)
	}
	return nil
}

// GetStats loads the aggregate governance counters.
func (s *QuestStore) GetStats(ctx context.Context) (domain.GovernanceStats, error) {
	const query = `
		SELECT total_items, active_items, completed_items, total_rewards_distributed
		FROM governance_stats WHERE id = 1`
	var st domain.GovernanceStats
	var total, active, completed, rewards int64
	err := s.pool.QueryRow(ctx, query).Scan(&total, &active, &completed, &rewards)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GovernanceStats{}, domain.ErrNotFound
		}
		return domain.GovernanceStats{}, fmt.Errorf("postgres: get governance stats: %w", err)
	}
	st.TotalItems = uint64(total)
	st.ActiveItems = uint64(active)
	st.CompletedItems = uint64(completed)
	st.TotalRewardsDistributed = uint64(rewards)
	return st, nil
}

// PutStats stores the aggregate governance counters.
func (s *QuestStore) PutStats(ctx context.Context, st domain.GovernanceStats) error {
	const query = `
		INSERT INTO governance_stats (id, total_items, active_items, completed_items, total_rewards_distributed)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			total_items               = EXCLUDED.total_items,
			active_items              = EXCLUDED.active_items,
			completed_items           = EXCLUDED.completed_items,
			total_rewards_distributed = EXCLUDED.total_rewards_distributed`
	_, err := s.pool.Exec(ctx, query,
		int64(st.TotalItems), int64(st.ActiveItems), int64(st.CompletedItems), int64(st.TotalRewardsDistributed))
	if err != nil {
		return fmt.Errorf("postgres: put governance stats: %w", err)
	}
	return nil
}
