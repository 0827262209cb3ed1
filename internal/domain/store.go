package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets and their answer sets.
type MarketStore interface {
	Create(ctx context.Context, m Market, answers AnswerSet) error
	Get(ctx context.Context, marketKey uint64) (Market, error)
	Update(ctx context.Context, m Market) error
	GetAnswers(ctx context.Context, marketKey uint64) (AnswerSet, error)
	UpdateAnswers(ctx context.Context, answers AnswerSet) error
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// BetStore persists bets keyed by (voter, market, answer).
type BetStore interface {
	Get(ctx context.Context, voter string, marketKey, answerKey uint64) (Bet, error)
	Upsert(ctx context.Context, b Bet) error
	// Close removes the bet record, returning its storage deposit to the
	// voter per the host's account-close semantics.
	Close(ctx context.Context, voter string, marketKey, answerKey uint64) error
	ListByMarket(ctx context.Context, marketKey uint64, opts ListOpts) ([]Bet, error)
}

// EngineConfigStore persists the singleton market-engine config.
type EngineConfigStore interface {
	Get(ctx context.Context) (EngineConfig, error)
	Put(ctx context.Context, cfg EngineConfig) error
}

// QuestStore persists quests and the singleton governance config and stats.
type QuestStore interface {
	Create(ctx context.Context, q Quest) error
	Get(ctx context.Context, questKey uint64) (Quest, error)
	Update(ctx context.Context, q Quest) error
	GetConfig(ctx context.Context) (GovernanceConfig, error)
	PutConfig(ctx context.Context, cfg GovernanceConfig) error
	GetStats(ctx context.Context) (GovernanceStats, error)
	PutStats(ctx context.Context, s GovernanceStats) error
}

// VoteStore persists the three per-quest tallies and their voter records.
type VoteStore interface {
	GetQuestVote(ctx context.Context, questKey uint64) (QuestVote, error)
	PutQuestVote(ctx context.Context, v QuestVote) error
	GetQuestVoter(ctx context.Context, questKey uint64, voter string) (QuestVoterRecord, error)
	PutQuestVoter(ctx context.Context, r QuestVoterRecord) error

	GetDecisionVote(ctx context.Context, questKey uint64) (DecisionVote, error)
	PutDecisionVote(ctx context.Context, v DecisionVote) error
	GetDecisionVoter(ctx context.Context, questKey uint64, voter string) (DecisionVoterRecord, error)
	PutDecisionVoter(ctx context.Context, r DecisionVoterRecord) error

	GetAnswerVote(ctx context.Context, questKey uint64) (AnswerVote, error)
	PutAnswerVote(ctx context.Context, v AnswerVote) error
	GetAnswerOption(ctx context.Context, questKey, answerKey uint64) (AnswerOption, error)
	PutAnswerOption(ctx context.Context, o AnswerOption) error
	ListAnswerOptions(ctx context.Context, questKey uint64) ([]AnswerOption, error)
	GetAnswerVoter(ctx context.Context, questKey uint64, voter string) (AnswerVoterRecord, error)
	PutAnswerVoter(ctx context.Context, r AnswerVoterRecord) error
}

// CheckpointStore persists per-voter checkpoint histories.
type CheckpointStore interface {
	Get(ctx context.Context, voter string) (VoterCheckpoints, error)
	Put(ctx context.Context, vc VoterCheckpoints) error
}

// NFTStore persists attested governance-collection NFT records.
type NFTStore interface {
	Put(ctx context.Context, r NFTRecord) error
	Remove(ctx context.Context, nftMint string) error
	CountVerified(ctx context.Context, voter, collection string, max int) (int, error)
}
