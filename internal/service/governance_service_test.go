package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitpredict/engine/internal/domain"
	"github.com/bitpredict/engine/internal/governance"
	"github.com/bitpredict/engine/internal/store/memory"
)

// flakyVoteStore passes through to the real store until the failure flag is
// flipped, letting tests hit the persist-failure path after a reward payment.
type flakyVoteStore struct {
	domain.VoteStore
	failPutAnswerVoter bool
}

func (f *flakyVoteStore) PutAnswerVoter(ctx context.Context, rec domain.AnswerVoterRecord) error {
	if f.failPutAnswerVoter {
		return errStoreDown
	}
	return f.VoteStore.PutAnswerVoter(ctx, rec)
}

type governanceFixture struct {
	svc    *GovernanceService
	cpsSvc *CheckpointService
	stores *memory.Stores
	votes  *flakyVoteStore
	ledger *memory.Ledger
	clock  *fakeClock
	bus    *fakeBus
	auth   *fakeAuth
}

func newGovernanceFixture(t *testing.T) *governanceFixture {
	t.Helper()

	stores := memory.New()
	ledger := memory.NewLedger()
	clock := newFakeClock()
	bus := newFakeBus()
	auth := &fakeAuth{}
	attestor := &fakeAttestor{counts: map[string]int{"alice": 4, "bob": 2, "carol": 3}}

	require.NoError(t, stores.Quests.PutConfig(context.Background(), domain.GovernanceConfig{
		Authority:      "authority",
		BaseToken:      "base",
		NFTCollection:  "governance-pass",
		Treasury:       "treasury",
		MinTotalVote:   2,
		MaxTotalVote:   10,
		MinRequiredNFT: 1,
		MaxVotableNFT:  5,
		Duration:       24 * time.Hour,
		RewardPerVote:  5,
	}))
	ledger.Mint("treasury", 100)

	engine := governance.NewEngine(ledger, attestor, clock)
	locks := newFakeLocks()
	pub := NewPublisher(bus, nil, discardLogger())

	votes := &flakyVoteStore{VoteStore: stores.Votes}
	svc := NewGovernanceService(
		stores.Quests,
		votes,
		stores.Checkpoints,
		nopQuestCache{},
		locks,
		engine,
		ledger,
		auth,
		pub,
		discardLogger(),
	)
	cpsSvc := NewCheckpointService(
		stores.Quests,
		stores.Checkpoints,
		locks,
		engine,
		auth,
		pub,
		discardLogger(),
	)
	return &governanceFixture{
		svc:    svc,
		cpsSvc: cpsSvc,
		stores: stores,
		votes:  votes,
		ledger: ledger,
		clock:  clock,
		bus:    bus,
		auth:   auth,
	}
}

// refresh snapshots voting power for the given voters at the current slot.
func (fx *governanceFixture) refresh(t *testing.T, voters ...string) {
	t.Helper()
	for _, v := range voters {
		_, _, err := fx.cpsSvc.Refresh(context.Background(), asCaller(v))
		require.NoError(t, err)
	}
}

// approvedQuest walks quest 1 through creation and an approving vote round.
func (fx *governanceFixture) approvedQuest(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	fx.refresh(t, "alice", "bob")
	_, err := fx.svc.CreateQuest(ctx, asCaller("alice"), 1, "Adopt the new fee schedule?")
	require.NoError(t, err)

	require.NoError(t, fx.svc.VoteQuest(ctx, asCaller("alice"), 1, domain.QuestVoteApprove))
	require.NoError(t, fx.svc.VoteQuest(ctx, asCaller("bob"), 1, domain.QuestVoteReject))

	fx.clock.advance(25 * time.Hour)
	result, err := fx.svc.SetQuestResult(ctx, asCaller("authority"), 1)
	require.NoError(t, err)
	require.Equal(t, domain.QuestApproved, result)
}

// successQuest additionally finalizes the decision phase as Success with
// answer keys 10 and 20.
func (fx *governanceFixture) successQuest(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	fx.approvedQuest(t)
	require.NoError(t, fx.svc.StartDecision(ctx, asCaller("authority"), 1))
	require.NoError(t, fx.svc.VoteDecision(ctx, asCaller("alice"), 1, domain.DecisionVoteSuccess))
	require.NoError(t, fx.svc.VoteDecision(ctx, asCaller("bob"), 1, domain.DecisionVoteAdjourn))

	fx.clock.advance(25 * time.Hour)
	result, err := fx.svc.SetDecisionResult(ctx, asCaller("authority"), 1, []uint64{10, 20})
	require.NoError(t, err)
	require.Equal(t, domain.DecisionSuccess, result)
}

func TestGovernanceServiceCreateQuest(t *testing.T) {
	fx := newGovernanceFixture(t)
	ctx := context.Background()

	fx.refresh(t, "alice")
	q, err := fx.svc.CreateQuest(ctx, asCaller("alice"), 1, "Adopt the new fee schedule?")
	require.NoError(t, err)
	assert.Equal(t, "alice", q.Creator)
	assert.Equal(t, domain.QuestPending, q.QuestResult)

	got, err := fx.svc.GetQuest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, q.SnapshotSlot, got.SnapshotSlot)

	stats, err := fx.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalItems)
	assert.Equal(t, uint64(1), stats.ActiveItems)
}

func TestGovernanceServiceFreshSystemHasZeroStats(t *testing.T) {
	fx := newGovernanceFixture(t)
	ctx := context.Background()

	// No stats row exists until the first quest; reads see zero counters
	// and the lifecycle works without any seeding.
	stats, err := fx.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.GovernanceStats{}, stats)

	fx.refresh(t, "alice")
	_, err = fx.svc.CreateQuest(ctx, asCaller("alice"), 1, "Adopt the new fee schedule?")
	require.NoError(t, err)

	stats, err = fx.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalItems)
	assert.Equal(t, uint64(1), stats.ActiveItems)
}

func TestGovernanceServiceCreateQuestDuplicate(t *testing.T) {
	fx := newGovernanceFixture(t)
	ctx := context.Background()

	fx.refresh(t, "alice")
	_, err := fx.svc.CreateQuest(ctx, asCaller("alice"), 1, "First?")
	require.NoError(t, err)

	_, err = fx.svc.CreateQuest(ctx, asCaller("alice"), 1, "Again?")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestGovernanceServicePause(t *testing.T) {
	fx := newGovernanceFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, fx.svc.Pause(ctx, asCaller("alice")), domain.ErrUnauthorized)
	require.NoError(t, fx.svc.Pause(ctx, asCaller("authority")))

	fx.refresh(t, "alice")
	_, err := fx.svc.CreateQuest(ctx, asCaller("alice"), 1, "While paused?")
	assert.ErrorIs(t, err, domain.ErrPaused)

	require.NoError(t, fx.svc.Unpause(ctx, asCaller("authority")))
	_, err = fx.svc.CreateQuest(ctx, asCaller("alice"), 1, "After unpause?")
	assert.NoError(t, err)
}

func TestGovernanceServiceQuestVoteWeights(t *testing.T) {
	fx := newGovernanceFixture(t)
	ctx := context.Background()

	fx.refresh(t, "alice", "bob")
	_, err := fx.svc.CreateQuest(ctx, asCaller("alice"), 1, "Weighted?")
	require.NoError(t, err)

	require.NoError(t, fx.svc.VoteQuest(ctx, asCaller("alice"), 1, domain.QuestVoteApprove))
	require.NoError(t, fx.svc.VoteQuest(ctx, asCaller("bob"), 1, domain.QuestVoteReject))

	qv, err := fx.stores.Votes.GetQuestVote(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), qv.CountApprover)
	assert.Equal(t, uint64(2), qv.CountRejector)
	assert.Equal(t, uint64(2), qv.TotalVoted)

	// One ballot per voter.
	err = fx.svc.VoteQuest(ctx, asCaller("alice"), 1, domain.QuestVoteApprove)
	assert.ErrorIs(t, err, domain.ErrAlreadyDone)
}

func TestGovernanceServiceVoteWithoutPower(t *testing.T) {
	fx := newGovernanceFixture(t)
	ctx := context.Background()

	fx.refresh(t, "alice")
	_, err := fx.svc.CreateQuest(ctx, asCaller("alice"), 1, "No power?")
	require.NoError(t, err)

	// dave never refreshed a checkpoint, so his snapshot weight is zero.
	err = fx.svc.VoteQuest(ctx, asCaller("dave"), 1, domain.QuestVoteApprove)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGovernanceServiceDecisionPhase(t *testing.T) {
	fx := newGovernanceFixture(t)
	ctx := context.Background()

	fx.approvedQuest(t)
	require.NoError(t, fx.svc.StartDecision(ctx, asCaller("authority"), 1))

	// carol sat out the quest phase, so she cannot vote the decision.
	fx.refresh(t, "carol")
	err := fx.svc.VoteDecision(ctx, asCaller("carol"), 1, domain.DecisionVoteSuccess)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, fx.svc.VoteDecision(ctx, asCaller("alice"), 1, domain.DecisionVoteSuccess))
	require.NoError(t, fx.svc.VoteDecision(ctx, asCaller("bob"), 1, domain.DecisionVoteAdjourn))

	dv, err := fx.stores.Votes.GetDecisionVote(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), dv.CountSuccess)
	assert.Equal(t, uint64(2), dv.CountAdjourn)
}

func TestGovernanceServiceAnswerLifecycle(t *testing.T) {
	fx := newGovernanceFixture(t)
	ctx := context.Background()

	fx.successQuest(t)

	q, err := fx.svc.GetQuest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 20}, q.AnswerKeys)

	require.NoError(t, fx.svc.VoteAnswer(ctx, asCaller("alice"), 1, 10))
	require.NoError(t, fx.svc.VoteAnswer(ctx, asCaller("bob"), 1, 20))

	err = fx.svc.VoteAnswer(ctx, asCaller("alice"), 1, 20)
	assert.ErrorIs(t, err, domain.ErrAlreadyDone)

	fx.clock.advance(25 * time.Hour)
	winner, err := fx.svc.FinalizeAnswer(ctx, asCaller("authority"), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), winner)

	q, err = fx.svc.GetQuest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), q.AnswerResult)
}

func TestGovernanceServiceClaimReward(t *testing.T) {
	fx := newGovernanceFixture(t)
	ctx := context.Background()

	fx.successQuest(t)
	require.NoError(t, fx.svc.VoteAnswer(ctx, asCaller("alice"), 1, 10))
	require.NoError(t, fx.svc.VoteAnswer(ctx, asCaller("bob"), 1, 20))

	fx.clock.advance(25 * time.Hour)
	_, err := fx.svc.FinalizeAnswer(ctx, asCaller("authority"), 1)
	require.NoError(t, err)

	// alice voted the winner with weight 4: 4 x 5 = 20 tokens.
	reward, err := fx.svc.ClaimReward(ctx, asCaller("alice"), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), reward)

	bal, err := fx.ledger.Balance(ctx, "treasury")
	require.NoError(t, err)
	assert.Equal(t, uint64(80), bal)

	_, err = fx.svc.ClaimReward(ctx, asCaller("alice"), 1)
	assert.ErrorIs(t, err, domain.ErrAlreadyDone)

	_, err = fx.svc.ClaimReward(ctx, asCaller("bob"), 1)
	assert.ErrorIs(t, err, domain.ErrValidation)

	stats, err := fx.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), stats.TotalRewardsDistributed)
}

func TestGovernanceServiceClaimRewardRefundsOnFailedWrite(t *testing.T) {
	fx := newGovernanceFixture(t)
	ctx := context.Background()

	fx.successQuest(t)
	require.NoError(t, fx.svc.VoteAnswer(ctx, asCaller("alice"), 1, 10))
	require.NoError(t, fx.svc.VoteAnswer(ctx, asCaller("bob"), 1, 20))

	fx.clock.advance(25 * time.Hour)
	_, err := fx.svc.FinalizeAnswer(ctx, asCaller("authority"), 1)
	require.NoError(t, err)

	fx.votes.failPutAnswerVoter = true
	_, err = fx.svc.ClaimReward(ctx, asCaller("alice"), 1)
	require.ErrorIs(t, err, errStoreDown)

	// The claimed mark never landed, so the reward must be back in the
	// treasury and the claim must still be open.
	bal, err := fx.ledger.Balance(ctx, "treasury")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal)

	fx.votes.failPutAnswerVoter = false
	reward, err := fx.svc.ClaimReward(ctx, asCaller("alice"), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), reward)
}

func TestGovernanceServiceWithdrawTreasury(t *testing.T) {
	fx := newGovernanceFixture(t)
	ctx := context.Background()

	err := fx.svc.WithdrawTreasury(ctx, asCaller("alice"), "dest", 10)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, fx.svc.WithdrawTreasury(ctx, asCaller("authority"), "dest", 10))
	bal, err := fx.ledger.Balance(ctx, "dest")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), bal)
}

func TestGovernanceServiceCancelQuest(t *testing.T) {
	fx := newGovernanceFixture(t)
	ctx := context.Background()

	fx.refresh(t, "alice")
	_, err := fx.svc.CreateQuest(ctx, asCaller("alice"), 1, "Cancel me?")
	require.NoError(t, err)

	require.NoError(t, fx.svc.CancelQuest(ctx, asCaller("authority"), 1))

	q, err := fx.svc.GetQuest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.QuestRejected, q.QuestResult)

	stats, err := fx.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.ActiveItems)
	assert.Equal(t, uint64(1), stats.CompletedItems)
}

func TestGovernanceServiceSetDuration(t *testing.T) {
	fx := newGovernanceFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, fx.svc.SetDuration(ctx, asCaller("authority"), 0), domain.ErrValidation)
	require.NoError(t, fx.svc.SetDuration(ctx, asCaller("authority"), 48*time.Hour))

	cfg, err := fx.stores.Quests.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cfg.Duration)
}

func TestGovernanceServiceEventsEmitted(t *testing.T) {
	fx := newGovernanceFixture(t)

	fx.approvedQuest(t)

	// quest created + two ballots + result + two checkpoint refreshes.
	assert.Equal(t, 6, fx.bus.publishedCount(domain.ChannelGovernanceEvents))
}

func TestCheckpointServiceRefresh(t *testing.T) {
	fx := newGovernanceFixture(t)
	ctx := context.Background()

	slot, balance, err := fx.cpsSvc.Refresh(ctx, asCaller("alice"))
	require.NoError(t, err)
	assert.Equal(t, fx.clock.slot, slot)
	assert.Equal(t, uint64(4), balance)

	votes, err := fx.cpsSvc.GetPastVotes(ctx, "alice", slot)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), votes)

	// Unknown voters have zero power, not an error.
	votes, err = fx.cpsSvc.GetPastVotes(ctx, "dave", slot)
	require.NoError(t, err)
	assert.Zero(t, votes)

	// A later slot sees the latest balance.
	votes, err = fx.cpsSvc.GetPastVotes(ctx, "alice", slot+100)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), votes)
}
