// Package governance implements the NFT-weighted quest governance track:
// sequential quest/decision/answer voting with snapshot-based voting power,
// per-phase double-vote guards, and flat-rate reward distribution.
package governance

import (
	"context"
	"fmt"
	"strings"

	"github.com/bitpredict/engine/internal/domain"
)

// Engine executes governance operations against loaded state objects. Like
// the market engine it mutates in place and leaves persistence to the
// caller; the host discards every mutation of a failed operation together.
type Engine struct {
	ledger   domain.TokenLedger
	attestor domain.Attestor
	clock    domain.Clock
}

// NewEngine creates an Engine backed by the given oracles.
func NewEngine(ledger domain.TokenLedger, attestor domain.Attestor, clock domain.Clock) *Engine {
	return &Engine{ledger: ledger, attestor: attestor, clock: clock}
}

// CreateQuest opens a new quest cycle. The creator must hold at least
// MinRequiredNFT verified collection NFTs. The voting-power snapshot slot is
// fixed at creation time for all three phases.
func (e *Engine) CreateQuest(ctx context.Context, cfg *domain.GovernanceConfig, stats *domain.GovernanceStats, questKey uint64, question, creator string) (domain.Quest, domain.QuestVote, error) {
	if cfg.Paused {
		return domain.Quest{}, domain.QuestVote{}, fmt.Errorf("governance: %w", domain.ErrPaused)
	}
	if strings.TrimSpace(question) == "" || len(question) > domain.MaxQuestionLen {
		return domain.Quest{}, domain.QuestVote{}, fmt.Errorf("governance: question length %d: %w", len(question), domain.ErrValidation)
	}

	held, err := e.attestor.VerifiedCount(ctx, creator, cfg.NFTCollection, int(cfg.MaxVotableNFT))
	if err != nil {
		return domain.Quest{}, domain.QuestVote{}, fmt.Errorf("governance: attest creator: %w", err)
	}
	if uint64(held) < cfg.MinRequiredNFT {
		return domain.Quest{}, domain.QuestVote{}, fmt.Errorf("governance: creator holds %d of %d required NFTs: %w", held, cfg.MinRequiredNFT, domain.ErrUnauthorized)
	}

	now, slot := e.clock.Now()
	q := domain.Quest{
		QuestKey:       questKey,
		Question:       question,
		Creator:        creator,
		QuestResult:    domain.QuestPending,
		DecisionResult: domain.DecisionPending,
		SnapshotSlot:   slot,
		QuestStartTime: now,
		QuestEndTime:   now.Add(cfg.Duration),
	}
	qv := domain.QuestVote{QuestKey: questKey}

	stats.TotalItems++
	stats.ActiveItems++
	return q, qv, nil
}

// VoteQuest casts an approval-phase ballot. Weight is the voter's checkpoint
// balance at the quest's snapshot slot, capped at MaxVotableNFT and then
// truncated to whatever headroom remains under the MaxTotalVote ceiling; the
// last voter in may receive a reduced weight rather than a rejection.
func (e *Engine) VoteQuest(cfg *domain.GovernanceConfig, q *domain.Quest, qv *domain.QuestVote, rec *domain.QuestVoterRecord, vc *domain.VoterCheckpoints, voter string, choice domain.QuestVoteChoice) error {
	if cfg.Paused {
		return fmt.Errorf("governance: %w", domain.ErrPaused)
	}
	if q.QuestResult != domain.QuestPending || qv.Finalized {
		return fmt.Errorf("quest %d: already finalized: %w", q.QuestKey, domain.ErrPhaseViolation)
	}
	now, _ := e.clock.Now()
	if now.After(q.QuestEndTime) {
		return fmt.Errorf("quest %d: voting period ended: %w", q.QuestKey, domain.ErrPhaseViolation)
	}
	if rec.Voter != "" {
		return fmt.Errorf("quest %d: voter %s: %w", q.QuestKey, voter, domain.ErrAlreadyDone)
	}

	cast := qv.CountApprover + qv.CountRejector
	if cast >= cfg.MaxTotalVote {
		return fmt.Errorf("quest %d: max total vote reached: %w", q.QuestKey, domain.ErrPhaseViolation)
	}

	weight := vc.GetPastVotes(q.SnapshotSlot)
	if weight == 0 {
		return fmt.Errorf("quest %d: voter %s has no voting power at slot %d: %w", q.QuestKey, voter, q.SnapshotSlot, domain.ErrUnauthorized)
	}
	if weight > cfg.MaxVotableNFT {
		weight = cfg.MaxVotableNFT
	}
	if headroom := cfg.MaxTotalVote - cast; weight > headroom {
		weight = headroom
	}

	switch choice {
	case domain.QuestVoteApprove:
		qv.CountApprover += weight
	case domain.QuestVoteReject:
		qv.CountRejector += weight
	default:
		return fmt.Errorf("quest %d: vote choice %q: %w", q.QuestKey, choice, domain.ErrValidation)
	}
	qv.TotalVoted++

	rec.QuestKey = q.QuestKey
	rec.Voter = voter
	rec.VoteCount = weight
	rec.Choice = choice
	rec.Timestamp = now
	return nil
}

// SetQuestResult finalizes the approval phase once its window has elapsed.
// The quest is Approved only on a strict approver plurality; a tie rejects.
func (e *Engine) SetQuestResult(cfg *domain.GovernanceConfig, q *domain.Quest, qv *domain.QuestVote, stats *domain.GovernanceStats) (domain.QuestResult, error) {
	if q.QuestResult != domain.QuestPending || qv.Finalized {
		return "", fmt.Errorf("quest %d: already finalized: %w", q.QuestKey, domain.ErrAlreadyDone)
	}
	now, _ := e.clock.Now()
	if !now.After(q.QuestEndTime) {
		return "", fmt.Errorf("quest %d: voting period not ended: %w", q.QuestKey, domain.ErrPhaseViolation)
	}
	if qv.TotalVoted < cfg.MinTotalVote {
		return "", fmt.Errorf("quest %d: %d of %d required votes: %w", q.QuestKey, qv.TotalVoted, cfg.MinTotalVote, domain.ErrValidation)
	}

	result := domain.QuestRejected
	if qv.CountApprover > qv.CountRejector {
		result = domain.QuestApproved
	}
	q.QuestResult = result
	qv.Finalized = true

	if result == domain.QuestRejected {
		stats.ActiveItems--
		stats.CompletedItems++
	}
	return result, nil
}

// CancelQuest force-finalizes a pending quest as Rejected.
func (e *Engine) CancelQuest(q *domain.Quest, qv *domain.QuestVote, stats *domain.GovernanceStats) error {
	if q.QuestResult != domain.QuestPending {
		return fmt.Errorf("quest %d: already finalized: %w", q.QuestKey, domain.ErrAlreadyDone)
	}
	q.QuestResult = domain.QuestRejected
	qv.Finalized = true
	stats.ActiveItems--
	stats.CompletedItems++
	return nil
}

// StartDecision opens the decision-vote window of an Approved quest.
func (e *Engine) StartDecision(cfg *domain.GovernanceConfig, q *domain.Quest) (domain.DecisionVote, error) {
	now, _ := e.clock.Now()
	if !now.After(q.QuestEndTime) {
		return domain.DecisionVote{}, fmt.Errorf("quest %d: quest period not ended: %w", q.QuestKey, domain.ErrPhaseViolation)
	}
	if q.QuestResult != domain.QuestApproved {
		return domain.DecisionVote{}, fmt.Errorf("quest %d: not approved: %w", q.QuestKey, domain.ErrPhaseViolation)
	}
	if q.DecisionResult != domain.DecisionPending || !q.DecisionStartTime.IsZero() {
		return domain.DecisionVote{}, fmt.Errorf("quest %d: decision already started: %w", q.QuestKey, domain.ErrAlreadyDone)
	}

	q.DecisionStartTime = now
	q.DecisionEndTime = now.Add(cfg.Duration)
	return domain.DecisionVote{QuestKey: q.QuestKey}, nil
}

// VoteDecision casts a decision-phase ballot. Only quest-phase participants
// may vote and their weight is the quest-phase recorded weight.
func (e *Engine) VoteDecision(cfg *domain.GovernanceConfig, q *domain.Quest, dv *domain.DecisionVote, rec *domain.DecisionVoterRecord, questRec *domain.QuestVoterRecord, voter string, choice domain.DecisionVoteChoice) error {
	if cfg.Paused {
		return fmt.Errorf("governance: %w", domain.ErrPaused)
	}
	if q.QuestResult != domain.QuestApproved {
		return fmt.Errorf("quest %d: not approved: %w", q.QuestKey, domain.ErrPhaseViolation)
	}
	if q.DecisionResult != domain.DecisionPending || dv.Finalized {
		return fmt.Errorf("quest %d: decision already finalized: %w", q.QuestKey, domain.ErrPhaseViolation)
	}
	now, _ := e.clock.Now()
	if q.DecisionStartTime.IsZero() || now.After(q.DecisionEndTime) {
		return fmt.Errorf("quest %d: decision window closed: %w", q.QuestKey, domain.ErrPhaseViolation)
	}
	if rec.Voter != "" {
		return fmt.Errorf("quest %d: voter %s: %w", q.QuestKey, voter, domain.ErrAlreadyDone)
	}
	if questRec.Voter == "" || questRec.VoteCount == 0 {
		return fmt.Errorf("quest %d: voter %s did not participate in quest phase: %w", q.QuestKey, voter, domain.ErrUnauthorized)
	}

	weight := questRec.VoteCount
	switch choice {
	case domain.DecisionVoteSuccess:
		dv.CountSuccess += weight
	case domain.DecisionVoteAdjourn:
		dv.CountAdjourn += weight
	default:
		return fmt.Errorf("quest %d: vote choice %q: %w", q.QuestKey, choice, domain.ErrValidation)
	}
	dv.TotalVoted++

	rec.QuestKey = q.QuestKey
	rec.Voter = voter
	rec.Choice = choice
	rec.Votes = weight
	rec.Timestamp = now
	return nil
}

// SetDecisionResult finalizes the decision phase. Success requires a strict
// plurality; a tie adjourns. On Success the answer window opens immediately
// with the given answer-key set.
func (e *Engine) SetDecisionResult(cfg *domain.GovernanceConfig, q *domain.Quest, dv *domain.DecisionVote, answerKeys []uint64) (domain.DecisionResult, *domain.AnswerVote, error) {
	if q.DecisionResult != domain.DecisionPending || dv.Finalized {
		return "", nil, fmt.Errorf("quest %d: decision already finalized: %w", q.QuestKey, domain.ErrAlreadyDone)
	}
	now, _ := e.clock.Now()
	if !now.After(q.DecisionEndTime) || q.DecisionStartTime.IsZero() {
		return "", nil, fmt.Errorf("quest %d: decision period not ended: %w", q.QuestKey, domain.ErrPhaseViolation)
	}
	if dv.TotalVoted < cfg.MinTotalVote {
		return "", nil, fmt.Errorf("quest %d: %d of %d required votes: %w", q.QuestKey, dv.TotalVoted, cfg.MinTotalVote, domain.ErrValidation)
	}

	result := domain.DecisionAdjourn
	if dv.CountSuccess > dv.CountAdjourn {
		result = domain.DecisionSuccess
	}
	q.DecisionResult = result
	dv.Finalized = true

	if result != domain.DecisionSuccess {
		return result, nil, nil
	}

	if len(answerKeys) == 0 || len(answerKeys) > domain.MaxAnswers {
		return "", nil, fmt.Errorf("quest %d: %d answer keys: %w", q.QuestKey, len(answerKeys), domain.ErrValidation)
	}
	seen := make(map[uint64]bool, len(answerKeys))
	for _, k := range answerKeys {
		if seen[k] {
			return "", nil, fmt.Errorf("quest %d: duplicate answer key %d: %w", q.QuestKey, k, domain.ErrValidation)
		}
		seen[k] = true
	}

	q.AnswerStartTime = now
	q.AnswerEndTime = now.Add(cfg.Duration)
	q.AnswerKeys = append([]uint64(nil), answerKeys...)
	av := &domain.AnswerVote{QuestKey: q.QuestKey}
	return result, av, nil
}

// CancelDecision force-finalizes a pending decision as Adjourn.
func (e *Engine) CancelDecision(q *domain.Quest, dv *domain.DecisionVote) error {
	if q.DecisionResult != domain.DecisionPending || dv.Finalized {
		return fmt.Errorf("quest %d: decision already finalized: %w", q.QuestKey, domain.ErrAlreadyDone)
	}
	q.DecisionResult = domain.DecisionAdjourn
	dv.Finalized = true
	return nil
}

// VoteAnswer casts an answer-phase ballot. Weight independently re-queries
// the checkpoint history at the quest's snapshot slot and must meet the
// MinRequiredNFT threshold.
func (e *Engine) VoteAnswer(cfg *domain.GovernanceConfig, q *domain.Quest, av *domain.AnswerVote, opt *domain.AnswerOption, rec *domain.AnswerVoterRecord, vc *domain.VoterCheckpoints, voter string, answerKey uint64) error {
	if len(q.AnswerKeys) == 0 {
		return fmt.Errorf("quest %d: answer voting not started: %w", q.QuestKey, domain.ErrPhaseViolation)
	}
	if !q.HasAnswerKey(answerKey) {
		return fmt.Errorf("quest %d: answer %d: %w", q.QuestKey, answerKey, domain.ErrNotFound)
	}
	if av.Finalized {
		return fmt.Errorf("quest %d: answer vote finalized: %w", q.QuestKey, domain.ErrPhaseViolation)
	}
	now, _ := e.clock.Now()
	if now.After(q.AnswerEndTime) {
		return fmt.Errorf("quest %d: answer window closed: %w", q.QuestKey, domain.ErrPhaseViolation)
	}
	if rec.Voter != "" {
		return fmt.Errorf("quest %d: voter %s: %w", q.QuestKey, voter, domain.ErrAlreadyDone)
	}

	weight := vc.GetPastVotes(q.SnapshotSlot)
	if weight < cfg.MinRequiredNFT {
		return fmt.Errorf("quest %d: voter %s holds %d of %d required NFTs at snapshot: %w", q.QuestKey, voter, weight, cfg.MinRequiredNFT, domain.ErrUnauthorized)
	}

	if opt.QuestKey == 0 {
		opt.QuestKey = q.QuestKey
		opt.AnswerKey = answerKey
	}
	opt.TotalVotes += weight
	av.TotalVoted += weight

	rec.QuestKey = q.QuestKey
	rec.Voter = voter
	rec.AnswerKey = answerKey
	rec.VoteCount = weight
	rec.Timestamp = now
	return nil
}

// FinalizeAnswer closes the answer phase and computes the winner by
// plurality over the per-option totals. A tie for the top total breaks
// toward the lowest answer key. Returns the winning answer key.
func (e *Engine) FinalizeAnswer(q *domain.Quest, av *domain.AnswerVote, options []domain.AnswerOption) (uint64, error) {
	if av.Finalized {
		return 0, fmt.Errorf("quest %d: answer vote finalized: %w", q.QuestKey, domain.ErrAlreadyDone)
	}
	now, _ := e.clock.Now()
	if q.AnswerStartTime.IsZero() || !now.After(q.AnswerEndTime) {
		return 0, fmt.Errorf("quest %d: answer period not ended: %w", q.QuestKey, domain.ErrPhaseViolation)
	}
	if len(options) == 0 || av.TotalVoted == 0 {
		return 0, fmt.Errorf("quest %d: no answer votes cast: %w", q.QuestKey, domain.ErrValidation)
	}

	var winner uint64
	var best uint64
	for _, opt := range options {
		if opt.TotalVotes > best || (opt.TotalVotes == best && best > 0 && opt.AnswerKey < winner) {
			winner = opt.AnswerKey
			best = opt.TotalVotes
		}
	}

	q.AnswerResult = winner
	av.WinningAnswer = winner
	av.Finalized = true
	return winner, nil
}

// CancelAnswer force-finalizes the answer phase with no winner.
func (e *Engine) CancelAnswer(q *domain.Quest, av *domain.AnswerVote) error {
	if av.Finalized {
		return fmt.Errorf("quest %d: answer vote finalized: %w", q.QuestKey, domain.ErrAlreadyDone)
	}
	q.AnswerResult = 0
	av.WinningAnswer = 0
	av.Finalized = true
	return nil
}

// ClaimReward pays a voter's one-shot answer-phase reward: recorded weight
// times the flat per-vote rate, drawn from the treasury. The treasury must
// cover the full amount; there is no partial payment.
func (e *Engine) ClaimReward(ctx context.Context, cfg *domain.GovernanceConfig, stats *domain.GovernanceStats, q *domain.Quest, av *domain.AnswerVote, rec *domain.AnswerVoterRecord, voter string) (uint64, error) {
	if q.AnswerResult == 0 {
		return 0, fmt.Errorf("quest %d: answer result not set: %w", q.QuestKey, domain.ErrPhaseViolation)
	}
	if !av.Finalized {
		return 0, fmt.Errorf("quest %d: answer vote not finalized: %w", q.QuestKey, domain.ErrPhaseViolation)
	}
	if rec.Voter != voter {
		return 0, fmt.Errorf("quest %d: record voter mismatch: %w", q.QuestKey, domain.ErrUnauthorized)
	}
	if rec.AnswerKey != q.AnswerResult {
		return 0, fmt.Errorf("quest %d: voter %s did not vote for winning answer: %w", q.QuestKey, voter, domain.ErrValidation)
	}
	if rec.VoteCount == 0 {
		return 0, fmt.Errorf("quest %d: voter %s has no votes: %w", q.QuestKey, voter, domain.ErrValidation)
	}
	if rec.Rewarded {
		return 0, fmt.Errorf("quest %d: voter %s: %w", q.QuestKey, voter, domain.ErrAlreadyDone)
	}

	reward := rec.VoteCount * cfg.RewardPerVote
	if cfg.RewardPerVote != 0 && reward/cfg.RewardPerVote != rec.VoteCount {
		return 0, fmt.Errorf("quest %d: reward amount: %w", q.QuestKey, domain.ErrOverflow)
	}

	bal, err := e.ledger.Balance(ctx, cfg.Treasury)
	if err != nil {
		return 0, fmt.Errorf("quest %d: treasury balance: %w", q.QuestKey, err)
	}
	if bal < reward {
		return 0, fmt.Errorf("quest %d: treasury holds %d, reward %d: %w", q.QuestKey, bal, reward, domain.ErrInsufficientFunds)
	}
	if err := e.ledger.Transfer(ctx, cfg.Treasury, voter, reward); err != nil {
		return 0, fmt.Errorf("quest %d: reward transfer: %w", q.QuestKey, err)
	}

	rec.Rewarded = true
	stats.TotalRewardsDistributed += reward
	return reward, nil
}

// WithdrawTreasury moves tokens out of the treasury to a destination
// account.
func (e *Engine) WithdrawTreasury(ctx context.Context, cfg *domain.GovernanceConfig, to string, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("governance: zero withdraw amount: %w", domain.ErrValidation)
	}
	if to == "" {
		return fmt.Errorf("governance: empty withdraw destination: %w", domain.ErrValidation)
	}
	bal, err := e.ledger.Balance(ctx, cfg.Treasury)
	if err != nil {
		return fmt.Errorf("governance: treasury balance: %w", err)
	}
	if bal < amount {
		return fmt.Errorf("governance: treasury holds %d, withdraw %d: %w", bal, amount, domain.ErrInsufficientFunds)
	}
	if err := e.ledger.Transfer(ctx, cfg.Treasury, to, amount); err != nil {
		return fmt.Errorf("governance: treasury withdraw: %w", err)
	}
	return nil
}

// RefreshCheckpoint re-counts the voter's verified collection NFTs through
// the attestation oracle and records the result at the current slot. This is
// the only path that mutates a checkpoint history.
func (e *Engine) RefreshCheckpoint(ctx context.Context, cfg *domain.GovernanceConfig, vc *domain.VoterCheckpoints, voter string) (uint64, uint64, error) {
	if vc.Voter == "" {
		vc.Voter = voter
	}

	held, err := e.attestor.VerifiedCount(ctx, voter, cfg.NFTCollection, int(cfg.MaxVotableNFT))
	if err != nil {
		return 0, 0, fmt.Errorf("governance: attest voter %s: %w", voter, err)
	}

	_, slot := e.clock.Now()
	if err := vc.Update(slot, uint64(held)); err != nil {
		return 0, 0, fmt.Errorf("governance: checkpoint update for %s: %w", voter, err)
	}
	return slot, uint64(held), nil
}
