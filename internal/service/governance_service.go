package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bitpredict/engine/internal/domain"
	"github.com/bitpredict/engine/internal/governance"
)

func questLockKey(questKey uint64) string {
	return fmt.Sprintf("quest:%d", questKey)
}

// GovernanceService orchestrates the quest lifecycle: caller authentication,
// per-quest locking, state loading, engine execution, persistence, and event
// emission. Voter-facing operations check signatures only; finalization and
// admin operations additionally require the configured authority.
type GovernanceService struct {
	quests domain.QuestStore
	votes  domain.VoteStore
	cps    domain.CheckpointStore
	cache  domain.QuestCache
	locks  domain.LockManager
	engine *governance.Engine
	ledger domain.TokenLedger
	auth   domain.Authenticator
	pub    *Publisher
	logger *slog.Logger
}

// NewGovernanceService creates a GovernanceService with all required
// dependencies. The ledger must be the one the engine pays rewards through;
// the service reverses a paid reward when the claim fails to persist.
func NewGovernanceService(
	quests domain.QuestStore,
	votes domain.VoteStore,
	cps domain.CheckpointStore,
	cache domain.QuestCache,
	locks domain.LockManager,
	engine *governance.Engine,
	ledger domain.TokenLedger,
	auth domain.Authenticator,
	pub *Publisher,
	logger *slog.Logger,
) *GovernanceService {
	return &GovernanceService{
		quests: quests,
		votes:  votes,
		cps:    cps,
		cache:  cache,
		locks:  locks,
		engine: engine,
		ledger: ledger,
		auth:   auth,
		pub:    pub,
		logger: logger,
	}
}

// CreateQuest opens a new proposal cycle. The caller becomes the creator and
// must hold the minimum number of verified collection NFTs.
func (s *GovernanceService) CreateQuest(ctx context.Context, caller Caller, questKey uint64, question string) (domain.Quest, error) {
	if err := authenticate(s.auth, caller); err != nil {
		return domain.Quest{}, err
	}

	unlock, err := s.locks.Acquire(ctx, questLockKey(questKey), opLockTTL)
	if err != nil {
		return domain.Quest{}, fmt.Errorf("governance_service: lock quest %d: %w", questKey, err)
	}
	defer unlock()

	if _, err := s.quests.Get(ctx, questKey); err == nil {
		return domain.Quest{}, fmt.Errorf("governance_service: quest %d: %w", questKey, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Quest{}, fmt.Errorf("governance_service: get quest %d: %w", questKey, err)
	}

	cfg, stats, err := s.loadConfigStats(ctx)
	if err != nil {
		return domain.Quest{}, err
	}

	q, qv, err := s.engine.CreateQuest(ctx, &cfg, &stats, questKey, question, caller.Principal)
	if err != nil {
		return domain.Quest{}, err
	}

	if err := s.quests.Create(ctx, q); err != nil {
		return domain.Quest{}, fmt.Errorf("governance_service: create quest %d: %w", questKey, err)
	}
	if err := s.votes.PutQuestVote(ctx, qv); err != nil {
		return domain.Quest{}, fmt.Errorf("governance_service: put quest vote: %w", err)
	}
	if err := s.quests.PutStats(ctx, stats); err != nil {
		return domain.Quest{}, fmt.Errorf("governance_service: put stats: %w", err)
	}

	if cacheErr := s.cache.Set(ctx, q); cacheErr != nil {
		s.logger.WarnContext(ctx, "governance_service: cache set failed",
			slog.Uint64("quest_key", questKey),
			slog.String("error", cacheErr.Error()),
		)
	}

	s.pub.Emit(ctx, domain.ChannelGovernanceEvents, StreamGovernanceEvents, EventQuestCreated, domain.QuestCreatedEvent{
		QuestKey:     q.QuestKey,
		Question:     q.Question,
		Creator:      q.Creator,
		SnapshotSlot: q.SnapshotSlot,
		EndTime:      q.QuestEndTime,
	})
	s.logger.InfoContext(ctx, "governance_service: quest created",
		slog.Uint64("quest_key", questKey),
		slog.String("creator", q.Creator),
	)
	return q, nil
}

// VoteQuest casts the calling voter's approval-phase ballot, weighted by the
// checkpointed balance at the quest's snapshot slot.
func (s *GovernanceService) VoteQuest(ctx context.Context, caller Caller, questKey uint64, choice domain.QuestVoteChoice) error {
	if err := authenticate(s.auth, caller); err != nil {
		return err
	}
	voter := caller.Principal

	unlock, err := s.locks.Acquire(ctx, questLockKey(questKey), opLockTTL)
	if err != nil {
		return fmt.Errorf("governance_service: lock quest %d: %w", questKey, err)
	}
	defer unlock()

	cfg, err := s.quests.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("governance_service: get config: %w", err)
	}
	q, err := s.loadQuest(ctx, questKey)
	if err != nil {
		return err
	}
	qv, err := s.votes.GetQuestVote(ctx, questKey)
	if err != nil {
		return fmt.Errorf("governance_service: get quest vote: %w", err)
	}
	rec, err := s.votes.GetQuestVoter(ctx, questKey, voter)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("governance_service: get quest voter: %w", err)
	}
	vc, err := s.loadCheckpoints(ctx, voter)
	if err != nil {
		return err
	}

	if err := s.engine.VoteQuest(&cfg, &q, &qv, &rec, &vc, voter, choice); err != nil {
		return err
	}

	if err := s.votes.PutQuestVoter(ctx, rec); err != nil {
		return fmt.Errorf("governance_service: put quest voter: %w", err)
	}
	if err := s.votes.PutQuestVote(ctx, qv); err != nil {
		return fmt.Errorf("governance_service: put quest vote: %w", err)
	}

	s.pub.Emit(ctx, domain.ChannelGovernanceEvents, StreamGovernanceEvents, EventQuestVoteCast, domain.QuestVoteCastEvent{
		QuestKey: questKey,
		Voter:    voter,
		Choice:   string(choice),
		Votes:    rec.VoteCount,
	})
	return nil
}

// SetQuestResult finalizes the approval phase once its window has elapsed.
// Authority only.
func (s *GovernanceService) SetQuestResult(ctx context.Context, caller Caller, questKey uint64) (domain.QuestResult, error) {
	var result domain.QuestResult
	err := s.adminQuestOp(ctx, caller, questKey, func(cfg *domain.GovernanceConfig, q *domain.Quest) error {
		qv, err := s.votes.GetQuestVote(ctx, questKey)
		if err != nil {
			return fmt.Errorf("governance_service: get quest vote: %w", err)
		}
		stats, err := s.loadStats(ctx)
		if err != nil {
			return err
		}

		result, err = s.engine.SetQuestResult(cfg, q, &qv, &stats)
		if err != nil {
			return err
		}

		if err := s.votes.PutQuestVote(ctx, qv); err != nil {
			return fmt.Errorf("governance_service: put quest vote: %w", err)
		}
		if err := s.quests.PutStats(ctx, stats); err != nil {
			return fmt.Errorf("governance_service: put stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.pub.Emit(ctx, domain.ChannelGovernanceEvents, StreamGovernanceEvents, EventQuestResultSet, domain.QuestResultSetEvent{
		QuestKey: questKey,
		Result:   string(result),
	})
	return result, nil
}

// CancelQuest force-finalizes a pending quest as Rejected. Authority only.
func (s *GovernanceService) CancelQuest(ctx context.Context, caller Caller, questKey uint64) error {
	err := s.adminQuestOp(ctx, caller, questKey, func(cfg *domain.GovernanceConfig, q *domain.Quest) error {
		qv, err := s.votes.GetQuestVote(ctx, questKey)
		if err != nil {
			return fmt.Errorf("governance_service: get quest vote: %w", err)
		}
		stats, err := s.loadStats(ctx)
		if err != nil {
			return err
		}

		if err := s.engine.CancelQuest(q, &qv, &stats); err != nil {
			return err
		}

		if err := s.votes.PutQuestVote(ctx, qv); err != nil {
			return fmt.Errorf("governance_service: put quest vote: %w", err)
		}
		if err := s.quests.PutStats(ctx, stats); err != nil {
			return fmt.Errorf("governance_service: put stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.pub.Emit(ctx, domain.ChannelGovernanceEvents, StreamGovernanceEvents, EventQuestResultSet, domain.QuestResultSetEvent{
		QuestKey: questKey,
		Result:   string(domain.QuestRejected),
	})
	return nil
}

// StartDecision opens the decision window of an approved quest. Authority
// only.
func (s *GovernanceService) StartDecision(ctx context.Context, caller Caller, questKey uint64) error {
	var endTime time.Time
	err := s.adminQuestOp(ctx, caller, questKey, func(cfg *domain.GovernanceConfig, q *domain.Quest) error {
		dv, err := s.engine.StartDecision(cfg, q)
		if err != nil {
			return err
		}
		if err := s.votes.PutDecisionVote(ctx, dv); err != nil {
			return fmt.Errorf("governance_service: put decision vote: %w", err)
		}
		endTime = q.DecisionEndTime
		return nil
	})
	if err != nil {
		return err
	}

	s.pub.Emit(ctx, domain.ChannelGovernanceEvents, StreamGovernanceEvents, EventDecisionStarted, domain.DecisionStartedEvent{
		QuestKey: questKey,
		EndTime:  endTime,
	})
	return nil
}

// VoteDecision casts the calling voter's decision-phase ballot. Only
// quest-phase participants may vote; the weight is their recorded
// quest-phase weight.
func (s *GovernanceService) VoteDecision(ctx context.Context, caller Caller, questKey uint64, choice domain.DecisionVoteChoice) error {
	if err := authenticate(s.auth, caller); err != nil {
		return err
	}
	voter := caller.Principal

	unlock, err := s.locks.Acquire(ctx, questLockKey(questKey), opLockTTL)
	if err != nil {
		return fmt.Errorf("governance_service: lock quest %d: %w", questKey, err)
	}
	defer unlock()

	cfg, err := s.quests.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("governance_service: get config: %w", err)
	}
	q, err := s.loadQuest(ctx, questKey)
	if err != nil {
		return err
	}
	dv, err := s.votes.GetDecisionVote(ctx, questKey)
	if err != nil {
		return fmt.Errorf("governance_service: get decision vote: %w", err)
	}
	rec, err := s.votes.GetDecisionVoter(ctx, questKey, voter)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("governance_service: get decision voter: %w", err)
	}
	questRec, err := s.votes.GetQuestVoter(ctx, questKey, voter)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("governance_service: get quest voter: %w", err)
	}

	if err := s.engine.VoteDecision(&cfg, &q, &dv, &rec, &questRec, voter, choice); err != nil {
		return err
	}

	if err := s.votes.PutDecisionVoter(ctx, rec); err != nil {
		return fmt.Errorf("governance_service: put decision voter: %w", err)
	}
	if err := s.votes.PutDecisionVote(ctx, dv); err != nil {
		return fmt.Errorf("governance_service: put decision vote: %w", err)
	}

	s.pub.Emit(ctx, domain.ChannelGovernanceEvents, StreamGovernanceEvents, EventDecisionVoteCast, domain.DecisionVoteCastEvent{
		QuestKey: questKey,
		Voter:    voter,
		Choice:   string(choice),
		Votes:    rec.Votes,
	})
	return nil
}

// SetDecisionResult finalizes the decision phase; on Success it opens the
// answer window with the provided answer key set. Authority only.
func (s *GovernanceService) SetDecisionResult(ctx context.Context, caller Caller, questKey uint64, answerKeys []uint64) (domain.DecisionResult, error) {
	var result domain.DecisionResult
	var q domain.Quest
	err := s.adminQuestOp(ctx, caller, questKey, func(cfg *domain.GovernanceConfig, quest *domain.Quest) error {
		dv, err := s.votes.GetDecisionVote(ctx, questKey)
		if err != nil {
			return fmt.Errorf("governance_service: get decision vote: %w", err)
		}

		var av *domain.AnswerVote
		result, av, err = s.engine.SetDecisionResult(cfg, quest, &dv, answerKeys)
		if err != nil {
			return err
		}

		if err := s.votes.PutDecisionVote(ctx, dv); err != nil {
			return fmt.Errorf("governance_service: put decision vote: %w", err)
		}
		if av != nil {
			if err := s.votes.PutAnswerVote(ctx, *av); err != nil {
				return fmt.Errorf("governance_service: put answer vote: %w", err)
			}
		}
		q = *quest
		return nil
	})
	if err != nil {
		return "", err
	}

	s.pub.Emit(ctx, domain.ChannelGovernanceEvents, StreamGovernanceEvents, EventDecisionResultSet, domain.DecisionResultSetEvent{
		QuestKey: questKey,
		Result:   string(result),
	})
	if result == domain.DecisionSuccess {
		s.pub.Emit(ctx, domain.ChannelGovernanceEvents, StreamGovernanceEvents, EventAnswerStarted, domain.AnswerStartedEvent{
			QuestKey:   questKey,
			AnswerKeys: q.AnswerKeys,
			EndTime:    q.AnswerEndTime,
		})
	}
	return result, nil
}

// CancelDecision force-finalizes a pending decision as Adjourn. Authority
// only.
func (s *GovernanceService) CancelDecision(ctx context.Context, caller Caller, questKey uint64) error {
	err := s.adminQuestOp(ctx, caller, questKey, func(cfg *domain.GovernanceConfig, q *domain.Quest) error {
		dv, err := s.votes.GetDecisionVote(ctx, questKey)
		if err != nil {
			return fmt.Errorf("governance_service: get decision vote: %w", err)
		}
		if err := s.engine.CancelDecision(q, &dv); err != nil {
			return err
		}
		if err := s.votes.PutDecisionVote(ctx, dv); err != nil {
			return fmt.Errorf("governance_service: put decision vote: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.pub.Emit(ctx, domain.ChannelGovernanceEvents, StreamGovernanceEvents, EventDecisionResultSet, domain.DecisionResultSetEvent{
		QuestKey: questKey,
		Result:   string(domain.DecisionAdjourn),
	})
	return nil
}

// VoteAnswer casts the calling voter's answer-phase ballot, weighted by the
// uncapped checkpoint balance at the quest's snapshot slot.
func (s *GovernanceService) VoteAnswer(ctx context.Context, caller Caller, questKey, answerKey uint64) error {
	if err := authenticate(s.auth, caller); err != nil {
		return err
	}
	voter := caller.Principal

	unlock, err := s.locks.Acquire(ctx, questLockKey(questKey), opLockTTL)
	if err != nil {
		return fmt.Errorf("governance_service: lock quest %d: %w", questKey, err)
	}
	defer unlock()

	cfg, err := s.quests.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("governance_service: get config: %w", err)
	}
	q, err := s.loadQuest(ctx, questKey)
	if err != nil {
		return err
	}
	av, err := s.votes.GetAnswerVote(ctx, questKey)
	if err != nil {
		return fmt.Errorf("governance_service: get answer vote: %w", err)
	}
	opt, err := s.votes.GetAnswerOption(ctx, questKey, answerKey)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("governance_service: get answer option: %w", err)
	}
	rec, err := s.votes.GetAnswerVoter(ctx, questKey, voter)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("governance_service: get answer voter: %w", err)
	}
	vc, err := s.loadCheckpoints(ctx, voter)
	if err != nil {
		return err
	}

	if err := s.engine.VoteAnswer(&cfg, &q, &av, &opt, &rec, &vc, voter, answerKey); err != nil {
		return err
	}

	if err := s.votes.PutAnswerVoter(ctx, rec); err != nil {
		return fmt.Errorf("governance_service: put answer voter: %w", err)
	}
	if err := s.votes.PutAnswerOption(ctx, opt); err != nil {
		return fmt.Errorf("governance_service: put answer option: %w", err)
	}
	if err := s.votes.PutAnswerVote(ctx, av); err != nil {
		return fmt.Errorf("governance_service: put answer vote: %w", err)
	}

	s.pub.Emit(ctx, domain.ChannelGovernanceEvents, StreamGovernanceEvents, EventAnswerVoteCast, domain.AnswerVoteCastEvent{
		QuestKey:  questKey,
		Voter:     voter,
		AnswerKey: answerKey,
		Votes:     rec.VoteCount,
	})
	return nil
}

// FinalizeAnswer closes the answer phase and computes the winning answer by
// plurality. Authority only.
func (s *GovernanceService) FinalizeAnswer(ctx context.Context, caller Caller, questKey uint64) (uint64, error) {
	var winner uint64
	err := s.adminQuestOp(ctx, caller, questKey, func(cfg *domain.GovernanceConfig, q *domain.Quest) error {
		av, err := s.votes.GetAnswerVote(ctx, questKey)
		if err != nil {
			return fmt.Errorf("governance_service: get answer vote: %w", err)
		}
		options, err := s.votes.ListAnswerOptions(ctx, questKey)
		if err != nil {
			return fmt.Errorf("governance_service: list answer options: %w", err)
		}

		winner, err = s.engine.FinalizeAnswer(q, &av, options)
		if err != nil {
			return err
		}

		if err := s.votes.PutAnswerVote(ctx, av); err != nil {
			return fmt.Errorf("governance_service: put answer vote: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.pub.Emit(ctx, domain.ChannelGovernanceEvents, StreamGovernanceEvents, EventAnswerFinalized, domain.AnswerFinalizedEvent{
		QuestKey:      questKey,
		WinningAnswer: winner,
	})
	s.logger.InfoContext(ctx, "governance_service: answer finalized",
		slog.Uint64("quest_key", questKey),
		slog.Uint64("winning_answer", winner),
	)
	return winner, nil
}

// CancelAnswer force-finalizes the answer phase with no winner. Authority
// only.
func (s *GovernanceService) CancelAnswer(ctx context.Context, caller Caller, questKey uint64) error {
	err := s.adminQuestOp(ctx, caller, questKey, func(cfg *domain.GovernanceConfig, q *domain.Quest) error {
		av, err := s.votes.GetAnswerVote(ctx, questKey)
		if err != nil {
			return fmt.Errorf("governance_service: get answer vote: %w", err)
		}
		if err := s.engine.CancelAnswer(q, &av); err != nil {
			return err
		}
		if err := s.votes.PutAnswerVote(ctx, av); err != nil {
			return fmt.Errorf("governance_service: put answer vote: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.pub.Emit(ctx, domain.ChannelGovernanceEvents, StreamGovernanceEvents, EventAnswerFinalized, domain.AnswerFinalizedEvent{
		QuestKey:      questKey,
		WinningAnswer: 0,
	})
	return nil
}

// refundReward returns a paid reward to the treasury after a persist failure.
// A refund that itself fails is logged at error level for manual
// reconciliation.
func (s *GovernanceService) refundReward(ctx context.Context, questKey uint64, voter, treasury string, reward uint64) {
	if reward == 0 {
		return
	}
	if err := s.ledger.Transfer(ctx, voter, treasury, reward); err != nil {
		s.logger.ErrorContext(ctx, "governance_service: reward refund failed, accounts need manual reconciliation",
			slog.Uint64("quest_key", questKey),
			slog.String("voter", voter),
			slog.Uint64("amount", reward),
			slog.String("error", err.Error()),
		)
	}
}

// ClaimReward pays the calling voter's one-shot answer-phase reward from the
// treasury.
func (s *GovernanceService) ClaimReward(ctx context.Context, caller Caller, questKey uint64) (uint64, error) {
	if err := authenticate(s.auth, caller); err != nil {
		return 0, err
	}
	voter := caller.Principal

	unlock, err := s.locks.Acquire(ctx, questLockKey(questKey), opLockTTL)
	if err != nil {
		return 0, fmt.Errorf("governance_service: lock quest %d: %w", questKey, err)
	}
	defer unlock()

	cfg, stats, err := s.loadConfigStats(ctx)
	if err != nil {
		return 0, err
	}
	q, err := s.loadQuest(ctx, questKey)
	if err != nil {
		return 0, err
	}
	av, err := s.votes.GetAnswerVote(ctx, questKey)
	if err != nil {
		return 0, fmt.Errorf("governance_service: get answer vote: %w", err)
	}
	rec, err := s.votes.GetAnswerVoter(ctx, questKey, voter)
	if err != nil {
		return 0, fmt.Errorf("governance_service: get answer voter: %w", err)
	}

	reward, err := s.engine.ClaimReward(ctx, &cfg, &stats, &q, &av, &rec, voter)
	if err != nil {
		return 0, err
	}

	// The reward already left the treasury; send it back if the claimed mark
	// cannot be persisted, otherwise the voter could claim twice.
	if err := s.votes.PutAnswerVoter(ctx, rec); err != nil {
		s.refundReward(ctx, questKey, voter, cfg.Treasury, reward)
		return 0, fmt.Errorf("governance_service: put answer voter: %w", err)
	}
	if err := s.quests.PutStats(ctx, stats); err != nil {
		s.refundReward(ctx, questKey, voter, cfg.Treasury, reward)
		return 0, fmt.Errorf("governance_service: put stats: %w", err)
	}

	s.pub.Emit(ctx, domain.ChannelGovernanceEvents, StreamGovernanceEvents, EventRewardDistributed, domain.RewardDistributedEvent{
		QuestKey:  questKey,
		Voter:     voter,
		AnswerKey: rec.AnswerKey,
		VoteCount: rec.VoteCount,
		Amount:    reward,
	})
	return reward, nil
}

// WithdrawTreasury moves tokens out of the treasury. Authority only.
func (s *GovernanceService) WithdrawTreasury(ctx context.Context, caller Caller, to string, amount uint64) error {
	if err := authenticate(s.auth, caller); err != nil {
		return err
	}
	cfg, err := s.quests.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("governance_service: get config: %w", err)
	}
	if err := requirePrincipal(caller, cfg.Authority); err != nil {
		return err
	}
	if err := s.engine.WithdrawTreasury(ctx, &cfg, to, amount); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "governance_service: treasury withdrawal",
		slog.String("to", to),
		slog.Uint64("amount", amount),
	)
	return nil
}

// Pause halts quest creation and voting. Authority only.
func (s *GovernanceService) Pause(ctx context.Context, caller Caller) error {
	return s.updateConfig(ctx, caller, func(cfg *domain.GovernanceConfig) error {
		cfg.Paused = true
		return nil
	})
}

// Unpause resumes quest creation and voting. Authority only.
func (s *GovernanceService) Unpause(ctx context.Context, caller Caller) error {
	return s.updateConfig(ctx, caller, func(cfg *domain.GovernanceConfig) error {
		cfg.Paused = false
		return nil
	})
}

// SetRewardRate changes the flat per-vote reward rate. Authority only.
func (s *GovernanceService) SetRewardRate(ctx context.Context, caller Caller, rewardPerVote uint64) error {
	return s.updateConfig(ctx, caller, func(cfg *domain.GovernanceConfig) error {
		cfg.RewardPerVote = rewardPerVote
		return nil
	})
}

// SetMaxVotes changes the per-voter and per-quest vote caps. Authority only.
func (s *GovernanceService) SetMaxVotes(ctx context.Context, caller Caller, maxVotable, maxTotal uint64) error {
	return s.updateConfig(ctx, caller, func(cfg *domain.GovernanceConfig) error {
		if maxVotable == 0 || maxTotal == 0 {
			return fmt.Errorf("governance_service: zero vote cap: %w", domain.ErrValidation)
		}
		cfg.MaxVotableNFT = maxVotable
		cfg.MaxTotalVote = maxTotal
		return nil
	})
}

// SetMinTotalVote changes the finalization quorum floor. Authority only.
func (s *GovernanceService) SetMinTotalVote(ctx context.Context, caller Caller, minTotal uint64) error {
	return s.updateConfig(ctx, caller, func(cfg *domain.GovernanceConfig) error {
		cfg.MinTotalVote = minTotal
		return nil
	})
}

// SetDuration changes the window length applied to newly opened voting
// phases. Authority only.
func (s *GovernanceService) SetDuration(ctx context.Context, caller Caller, d time.Duration) error {
	return s.updateConfig(ctx, caller, func(cfg *domain.GovernanceConfig) error {
		if d <= 0 {
			return fmt.Errorf("governance_service: non-positive duration: %w", domain.ErrValidation)
		}
		cfg.Duration = d
		return nil
	})
}

// UpdateBaseToken changes the governance base token. Authority only.
func (s *GovernanceService) UpdateBaseToken(ctx context.Context, caller Caller, token string) error {
	return s.updateConfig(ctx, caller, func(cfg *domain.GovernanceConfig) error {
		if token == "" {
			return fmt.Errorf("governance_service: empty base token: %w", domain.ErrValidation)
		}
		cfg.BaseToken = token
		return nil
	})
}

// SetQuestEndTime overrides a quest's approval-phase deadline. Authority
// only.
func (s *GovernanceService) SetQuestEndTime(ctx context.Context, caller Caller, questKey uint64, t time.Time) error {
	return s.adminQuestOp(ctx, caller, questKey, func(cfg *domain.GovernanceConfig, q *domain.Quest) error {
		q.QuestEndTime = t
		return nil
	})
}

// SetDecisionEndTime overrides a quest's decision-phase deadline. Authority
// only.
func (s *GovernanceService) SetDecisionEndTime(ctx context.Context, caller Caller, questKey uint64, t time.Time) error {
	return s.adminQuestOp(ctx, caller, questKey, func(cfg *domain.GovernanceConfig, q *domain.Quest) error {
		if q.DecisionStartTime.IsZero() {
			return fmt.Errorf("governance_service: decision not started: %w", domain.ErrPhaseViolation)
		}
		q.DecisionEndTime = t
		return nil
	})
}

// SetAnswerEndTime overrides a quest's answer-phase deadline. Authority
// only.
func (s *GovernanceService) SetAnswerEndTime(ctx context.Context, caller Caller, questKey uint64, t time.Time) error {
	return s.adminQuestOp(ctx, caller, questKey, func(cfg *domain.GovernanceConfig, q *domain.Quest) error {
		if q.AnswerStartTime.IsZero() {
			return fmt.Errorf("governance_service: answer phase not started: %w", domain.ErrPhaseViolation)
		}
		q.AnswerEndTime = t
		return nil
	})
}

// GetQuest retrieves a quest by key, cache first.
func (s *GovernanceService) GetQuest(ctx context.Context, questKey uint64) (domain.Quest, error) {
	q, err := s.cache.Get(ctx, questKey)
	if err == nil {
		return q, nil
	}

	q, err = s.quests.Get(ctx, questKey)
	if err != nil {
		return domain.Quest{}, fmt.Errorf("governance_service: get quest %d: %w", questKey, err)
	}

	if cacheErr := s.cache.Set(ctx, q); cacheErr != nil {
		s.logger.WarnContext(ctx, "governance_service: cache set failed",
			slog.Uint64("quest_key", questKey),
			slog.String("error", cacheErr.Error()),
		)
	}
	return q, nil
}

// GetStats returns the aggregate governance counters. Zero counters on a
// fresh system.
func (s *GovernanceService) GetStats(ctx context.Context) (domain.GovernanceStats, error) {
	return s.loadStats(ctx)
}

// adminQuestOp runs an authority-gated mutation against one quest under its
// lock and persists the updated quest.
func (s *GovernanceService) adminQuestOp(ctx context.Context, caller Caller, questKey uint64, op func(*domain.GovernanceConfig, *domain.Quest) error) error {
	if err := authenticate(s.auth, caller); err != nil {
		return err
	}
	cfg, err := s.quests.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("governance_service: get config: %w", err)
	}
	if err := requirePrincipal(caller, cfg.Authority); err != nil {
		return err
	}

	unlock, err := s.locks.Acquire(ctx, questLockKey(questKey), opLockTTL)
	if err != nil {
		return fmt.Errorf("governance_service: lock quest %d: %w", questKey, err)
	}
	defer unlock()

	q, err := s.loadQuest(ctx, questKey)
	if err != nil {
		return err
	}
	if err := op(&cfg, &q); err != nil {
		return err
	}
	if err := s.quests.Update(ctx, q); err != nil {
		return fmt.Errorf("governance_service: update quest %d: %w", questKey, err)
	}
	s.invalidate(ctx, questKey)
	return nil
}

// updateConfig applies an authority-gated mutation to the singleton
// governance config under the config lock.
func (s *GovernanceService) updateConfig(ctx context.Context, caller Caller, op func(*domain.GovernanceConfig) error) error {
	if err := authenticate(s.auth, caller); err != nil {
		return err
	}

	unlock, err := s.locks.Acquire(ctx, "governance-config", opLockTTL)
	if err != nil {
		return fmt.Errorf("governance_service: lock config: %w", err)
	}
	defer unlock()

	cfg, err := s.quests.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("governance_service: get config: %w", err)
	}
	if err := requirePrincipal(caller, cfg.Authority); err != nil {
		return err
	}
	if err := op(&cfg); err != nil {
		return err
	}
	if err := s.quests.PutConfig(ctx, cfg); err != nil {
		return fmt.Errorf("governance_service: put config: %w", err)
	}
	return nil
}

func (s *GovernanceService) loadQuest(ctx context.Context, questKey uint64) (domain.Quest, error) {
	q, err := s.quests.Get(ctx, questKey)
	if err != nil {
		return domain.Quest{}, fmt.Errorf("governance_service: get quest %d: %w", questKey, err)
	}
	return q, nil
}

func (s *GovernanceService) loadConfigStats(ctx context.Context) (domain.GovernanceConfig, domain.GovernanceStats, error) {
	cfg, err := s.quests.GetConfig(ctx)
	if err != nil {
		return domain.GovernanceConfig{}, domain.GovernanceStats{}, fmt.Errorf("governance_service: get config: %w", err)
	}
	stats, err := s.loadStats(ctx)
	if err != nil {
		return domain.GovernanceConfig{}, domain.GovernanceStats{}, err
	}
	return cfg, stats, nil
}

// loadStats fetches the aggregate counters. A missing row means no quest has
// ever been created, so it reads as zero counters rather than an error.
func (s *GovernanceService) loadStats(ctx context.Context) (domain.GovernanceStats, error) {
	stats, err := s.quests.GetStats(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.GovernanceStats{}, fmt.Errorf("governance_service: get stats: %w", err)
	}
	return stats, nil
}

func (s *GovernanceService) loadCheckpoints(ctx context.Context, voter string) (domain.VoterCheckpoints, error) {
	vc, err := s.cps.Get(ctx, voter)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.VoterCheckpoints{}, fmt.Errorf("governance_service: get checkpoints for %s: %w", voter, err)
	}
	if vc.Voter == "" {
		vc.Voter = voter
	}
	return vc, nil
}

func (s *GovernanceService) invalidate(ctx context.Context, questKey uint64) {
	if err := s.cache.Invalidate(ctx, questKey); err != nil {
		s.logger.WarnContext(ctx, "governance_service: cache invalidate failed",
			slog.Uint64("quest_key", questKey),
			slog.String("error", err.Error()),
		)
	}
}
