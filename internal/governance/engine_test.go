package governance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitpredict/engine/internal/domain"
)

type fakeClock struct {
	now  time.Time
	slot uint64
}

func (c *fakeClock) Now() (time.Time, uint64) { return c.now, c.slot }

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
	c.slot += uint64(d / time.Second)
}

type fakeLedger struct {
	balances  map[string]uint64
	transfers []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]uint64)}
}

func (l *fakeLedger) Transfer(_ context.Context, from, to string, amount uint64) error {
	if l.balances[from] < amount {
		return domain.ErrInsufficientFunds
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	l.transfers = append(l.transfers, fmt.Sprintf("%s->%s:%d", from, to, amount))
	return nil
}

func (l *fakeLedger) Balance(_ context.Context, account string) (uint64, error) {
	return l.balances[account], nil
}

type fakeAttestor struct {
	counts map[string]int
}

func (a *fakeAttestor) VerifiedCount(_ context.Context, holder, _ string, limit int) (int, error) {
	n := a.counts[holder]
	if n > limit {
		n = limit
	}
	return n, nil
}

func testConfig() *domain.GovernanceConfig {
	return &domain.GovernanceConfig{
		Authority:      "authority",
		BaseToken:      "base",
		NFTCollection:  "collection",
		Treasury:       "treasury",
		MinTotalVote:   2,
		MaxTotalVote:   10,
		MinRequiredNFT: 3,
		MaxVotableNFT:  5,
		Duration:       24 * time.Hour,
		RewardPerVote:  5,
	}
}

func testEngine(t *testing.T) (*Engine, *fakeClock, *fakeLedger, *fakeAttestor) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), slot: 1000}
	ledger := newFakeLedger()
	attestor := &fakeAttestor{counts: make(map[string]int)}
	return NewEngine(ledger, attestor, clock), clock, ledger, attestor
}

func checkpointsAt(voter string, slot, balance uint64) *domain.VoterCheckpoints {
	return &domain.VoterCheckpoints{
		Voter:       voter,
		Checkpoints: []domain.Checkpoint{{Slot: slot, Balance: balance}},
	}
}

func TestCreateQuest(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	stats := &domain.GovernanceStats{}
	attestor.counts["alice"] = 4

	q, qv, err := eng.CreateQuest(context.Background(), cfg, stats, 1, "should we list market X?", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.QuestPending, q.QuestResult)
	assert.Equal(t, clock.slot, q.SnapshotSlot)
	assert.Equal(t, clock.now.Add(cfg.Duration), q.QuestEndTime)
	assert.Equal(t, uint64(1), qv.QuestKey)
	assert.Equal(t, uint64(1), stats.TotalItems)
	assert.Equal(t, uint64(1), stats.ActiveItems)
}

func TestCreateQuestRequiresNFTs(t *testing.T) {
	eng, _, _, attestor := testEngine(t)
	attestor.counts["bob"] = 2 // below MinRequiredNFT

	_, _, err := eng.CreateQuest(context.Background(), testConfig(), &domain.GovernanceStats{}, 1, "q", "bob")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCreateQuestPaused(t *testing.T) {
	eng, _, _, attestor := testEngine(t)
	attestor.counts["alice"] = 4
	cfg := testConfig()
	cfg.Paused = true

	_, _, err := eng.CreateQuest(context.Background(), cfg, &domain.GovernanceStats{}, 1, "q", "alice")
	assert.ErrorIs(t, err, domain.ErrPaused)
}

func newPendingQuest(eng *Engine, attestor *fakeAttestor, cfg *domain.GovernanceConfig, stats *domain.GovernanceStats) (domain.Quest, domain.QuestVote) {
	attestor.counts["alice"] = 4
	q, qv, _ := eng.CreateQuest(context.Background(), cfg, stats, 1, "question", "alice")
	return q, qv
}

func TestVoteQuestWeightCappedAtMaxVotable(t *testing.T) {
	eng, _, _, attestor := testEngine(t)
	cfg := testConfig()
	q, qv := newPendingQuest(eng, attestor, cfg, &domain.GovernanceStats{})

	// Eight NFTs at snapshot, capped to MaxVotableNFT = 5.
	vc := checkpointsAt("carol", q.SnapshotSlot, 8)
	rec := &domain.QuestVoterRecord{}
	require.NoError(t, eng.VoteQuest(cfg, &q, &qv, rec, vc, "carol", domain.QuestVoteApprove))

	assert.Equal(t, uint64(5), rec.VoteCount)
	assert.Equal(t, uint64(5), qv.CountApprover)
	assert.Equal(t, uint64(1), qv.TotalVoted)
}

func TestVoteQuestTruncatedToHeadroom(t *testing.T) {
	eng, _, _, attestor := testEngine(t)
	cfg := testConfig()
	cfg.MaxTotalVote = 10
	q, qv := newPendingQuest(eng, attestor, cfg, &domain.GovernanceStats{})

	// Voters A and B each cast 4, leaving headroom 2 for voter C.
	for i, voter := range []string{"va", "vb"} {
		vc := checkpointsAt(voter, q.SnapshotSlot, 4)
		rec := &domain.QuestVoterRecord{}
		require.NoError(t, eng.VoteQuest(cfg, &q, &qv, rec, vc, voter, domain.QuestVoteApprove), "voter %d", i)
	}

	vc := checkpointsAt("vc", q.SnapshotSlot, 5)
	rec := &domain.QuestVoterRecord{}
	require.NoError(t, eng.VoteQuest(cfg, &q, &qv, rec, vc, "vc", domain.QuestVoteApprove))
	assert.Equal(t, uint64(2), rec.VoteCount)
	assert.Equal(t, uint64(10), qv.CountApprover)

	// The ceiling is now reached, a fourth voter is turned away.
	vc = checkpointsAt("vd", q.SnapshotSlot, 3)
	err := eng.VoteQuest(cfg, &q, &qv, &domain.QuestVoterRecord{}, vc, "vd", domain.QuestVoteApprove)
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)
}

func TestVoteQuestDoubleVote(t *testing.T) {
	eng, _, _, attestor := testEngine(t)
	cfg := testConfig()
	q, qv := newPendingQuest(eng, attestor, cfg, &domain.GovernanceStats{})

	vc := checkpointsAt("carol", q.SnapshotSlot, 3)
	rec := &domain.QuestVoterRecord{}
	require.NoError(t, eng.VoteQuest(cfg, &q, &qv, rec, vc, "carol", domain.QuestVoteApprove))

	err := eng.VoteQuest(cfg, &q, &qv, rec, vc, "carol", domain.QuestVoteReject)
	assert.ErrorIs(t, err, domain.ErrAlreadyDone)
	assert.Equal(t, uint64(3), qv.CountApprover)
	assert.Zero(t, qv.CountRejector)
}

func TestVoteQuestNoPowerAtSnapshot(t *testing.T) {
	eng, _, _, attestor := testEngine(t)
	cfg := testConfig()
	q, qv := newPendingQuest(eng, attestor, cfg, &domain.GovernanceStats{})

	// First checkpoint is after the snapshot slot, so the snapshot reads 0.
	vc := checkpointsAt("late", q.SnapshotSlot+100, 5)
	err := eng.VoteQuest(cfg, &q, &qv, &domain.QuestVoterRecord{}, vc, "late", domain.QuestVoteApprove)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVoteQuestAfterWindow(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	q, qv := newPendingQuest(eng, attestor, cfg, &domain.GovernanceStats{})

	clock.advance(cfg.Duration + time.Minute)
	vc := checkpointsAt("carol", q.SnapshotSlot, 3)
	err := eng.VoteQuest(cfg, &q, &qv, &domain.QuestVoterRecord{}, vc, "carol", domain.QuestVoteApprove)
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)
}

func voteN(t *testing.T, eng *Engine, cfg *domain.GovernanceConfig, q *domain.Quest, qv *domain.QuestVote, n int, choice domain.QuestVoteChoice) []*domain.QuestVoterRecord {
	t.Helper()
	recs := make([]*domain.QuestVoterRecord, 0, n)
	for i := 0; i < n; i++ {
		voter := fmt.Sprintf("%s-%d", choice, i)
		vc := checkpointsAt(voter, q.SnapshotSlot, 1)
		rec := &domain.QuestVoterRecord{}
		require.NoError(t, eng.VoteQuest(cfg, q, qv, rec, vc, voter, choice))
		recs = append(recs, rec)
	}
	return recs
}

func TestSetQuestResult(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	stats := &domain.GovernanceStats{}
	q, qv := newPendingQuest(eng, attestor, cfg, stats)

	voteN(t, eng, cfg, &q, &qv, 2, domain.QuestVoteApprove)
	voteN(t, eng, cfg, &q, &qv, 1, domain.QuestVoteReject)

	// Window still open.
	_, err := eng.SetQuestResult(cfg, &q, &qv, stats)
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)

	clock.advance(cfg.Duration + time.Minute)
	result, err := eng.SetQuestResult(cfg, &q, &qv, stats)
	require.NoError(t, err)
	assert.Equal(t, domain.QuestApproved, result)
	assert.Equal(t, domain.QuestApproved, q.QuestResult)
	assert.True(t, qv.Finalized)
	assert.Equal(t, uint64(1), stats.ActiveItems)

	_, err = eng.SetQuestResult(cfg, &q, &qv, stats)
	assert.ErrorIs(t, err, domain.ErrAlreadyDone)
}

func TestSetQuestResultTieRejects(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	stats := &domain.GovernanceStats{}
	q, qv := newPendingQuest(eng, attestor, cfg, stats)

	voteN(t, eng, cfg, &q, &qv, 2, domain.QuestVoteApprove)
	voteN(t, eng, cfg, &q, &qv, 2, domain.QuestVoteReject)
	clock.advance(cfg.Duration + time.Minute)

	result, err := eng.SetQuestResult(cfg, &q, &qv, stats)
	require.NoError(t, err)
	assert.Equal(t, domain.QuestRejected, result)
	assert.Equal(t, uint64(0), stats.ActiveItems)
	assert.Equal(t, uint64(1), stats.CompletedItems)
}

func TestSetQuestResultBelowMinTotal(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	cfg.MinTotalVote = 5
	stats := &domain.GovernanceStats{}
	q, qv := newPendingQuest(eng, attestor, cfg, stats)

	voteN(t, eng, cfg, &q, &qv, 3, domain.QuestVoteApprove)
	clock.advance(cfg.Duration + time.Minute)

	_, err := eng.SetQuestResult(cfg, &q, &qv, stats)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// approvedQuest drives a quest through an approved quest phase and returns
// it with the clock positioned just after the quest window.
func approvedQuest(t *testing.T, eng *Engine, clock *fakeClock, attestor *fakeAttestor, cfg *domain.GovernanceConfig, stats *domain.GovernanceStats) (domain.Quest, []*domain.QuestVoterRecord) {
	t.Helper()
	q, qv := newPendingQuest(eng, attestor, cfg, stats)
	recs := voteN(t, eng, cfg, &q, &qv, 3, domain.QuestVoteApprove)
	clock.advance(cfg.Duration + time.Minute)
	result, err := eng.SetQuestResult(cfg, &q, &qv, stats)
	require.NoError(t, err)
	require.Equal(t, domain.QuestApproved, result)
	return q, recs
}

func TestDecisionPhase(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	stats := &domain.GovernanceStats{}
	q, questRecs := approvedQuest(t, eng, clock, attestor, cfg, stats)

	dv, err := eng.StartDecision(cfg, &q)
	require.NoError(t, err)
	assert.Equal(t, clock.now.Add(cfg.Duration), q.DecisionEndTime)

	_, err = eng.StartDecision(cfg, &q)
	assert.ErrorIs(t, err, domain.ErrAlreadyDone)

	// Quest-phase participants vote with their recorded weight.
	for i, qr := range questRecs {
		rec := &domain.DecisionVoterRecord{}
		choice := domain.DecisionVoteSuccess
		if i == 2 {
			choice = domain.DecisionVoteAdjourn
		}
		require.NoError(t, eng.VoteDecision(cfg, &q, &dv, rec, qr, qr.Voter, choice))
		assert.Equal(t, qr.VoteCount, rec.Votes)
	}
	assert.Equal(t, uint64(2), dv.CountSuccess)
	assert.Equal(t, uint64(1), dv.CountAdjourn)

	// Non-participants are rejected.
	err = eng.VoteDecision(cfg, &q, &dv, &domain.DecisionVoterRecord{}, &domain.QuestVoterRecord{}, "outsider", domain.DecisionVoteSuccess)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	clock.advance(cfg.Duration + time.Minute)
	result, av, err := eng.SetDecisionResult(cfg, &q, &dv, []uint64{10, 20, 30})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSuccess, result)
	require.NotNil(t, av)
	assert.Equal(t, []uint64{10, 20, 30}, q.AnswerKeys)
	assert.Equal(t, clock.now.Add(cfg.Duration), q.AnswerEndTime)
}

func TestDecisionTieAdjourns(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	stats := &domain.GovernanceStats{}
	q, questRecs := approvedQuest(t, eng, clock, attestor, cfg, stats)

	dv, err := eng.StartDecision(cfg, &q)
	require.NoError(t, err)

	require.NoError(t, eng.VoteDecision(cfg, &q, &dv, &domain.DecisionVoterRecord{}, questRecs[0], questRecs[0].Voter, domain.DecisionVoteSuccess))
	require.NoError(t, eng.VoteDecision(cfg, &q, &dv, &domain.DecisionVoterRecord{}, questRecs[1], questRecs[1].Voter, domain.DecisionVoteAdjourn))

	clock.advance(cfg.Duration + time.Minute)
	result, av, err := eng.SetDecisionResult(cfg, &q, &dv, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAdjourn, result)
	assert.Nil(t, av)
	assert.Empty(t, q.AnswerKeys)
}

func TestStartDecisionRequiresApproval(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	q, _ := newPendingQuest(eng, attestor, cfg, &domain.GovernanceStats{})
	clock.advance(cfg.Duration + time.Minute)

	_, err := eng.StartDecision(cfg, &q)
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)
}

// successQuest drives a quest through quest and decision phases into an open
// answer window with keys 10, 20 and 30.
func successQuest(t *testing.T, eng *Engine, clock *fakeClock, attestor *fakeAttestor, cfg *domain.GovernanceConfig, stats *domain.GovernanceStats) (domain.Quest, domain.AnswerVote) {
	t.Helper()
	q, questRecs := approvedQuest(t, eng, clock, attestor, cfg, stats)
	dv, err := eng.StartDecision(cfg, &q)
	require.NoError(t, err)
	for _, qr := range questRecs {
		require.NoError(t, eng.VoteDecision(cfg, &q, &dv, &domain.DecisionVoterRecord{}, qr, qr.Voter, domain.DecisionVoteSuccess))
	}
	clock.advance(cfg.Duration + time.Minute)
	result, av, err := eng.SetDecisionResult(cfg, &q, &dv, []uint64{10, 20, 30})
	require.NoError(t, err)
	require.Equal(t, domain.DecisionSuccess, result)
	return q, *av
}

func TestVoteAnswer(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	q, av := successQuest(t, eng, clock, attestor, cfg, &domain.GovernanceStats{})

	vc := checkpointsAt("carol", q.SnapshotSlot, 4)
	opt := &domain.AnswerOption{}
	rec := &domain.AnswerVoterRecord{}
	require.NoError(t, eng.VoteAnswer(cfg, &q, &av, opt, rec, vc, "carol", 20))

	// Answer-phase weight is uncapped, 4 > MaxVotableNFT would also count in full.
	assert.Equal(t, uint64(4), opt.TotalVotes)
	assert.Equal(t, uint64(20), opt.AnswerKey)
	assert.Equal(t, uint64(4), av.TotalVoted)
	assert.Equal(t, uint64(4), rec.VoteCount)

	err := eng.VoteAnswer(cfg, &q, &av, opt, rec, vc, "carol", 20)
	assert.ErrorIs(t, err, domain.ErrAlreadyDone)
}

func TestVoteAnswerBelowThreshold(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	q, av := successQuest(t, eng, clock, attestor, cfg, &domain.GovernanceStats{})

	vc := checkpointsAt("small", q.SnapshotSlot, 2) // below MinRequiredNFT = 3
	err := eng.VoteAnswer(cfg, &q, &av, &domain.AnswerOption{}, &domain.AnswerVoterRecord{}, vc, "small", 10)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVoteAnswerUnknownKey(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	q, av := successQuest(t, eng, clock, attestor, cfg, &domain.GovernanceStats{})

	vc := checkpointsAt("carol", q.SnapshotSlot, 4)
	err := eng.VoteAnswer(cfg, &q, &av, &domain.AnswerOption{}, &domain.AnswerVoterRecord{}, vc, "carol", 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFinalizeAnswerPlurality(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	q, av := successQuest(t, eng, clock, attestor, cfg, &domain.GovernanceStats{})

	options := []domain.AnswerOption{
		{QuestKey: q.QuestKey, AnswerKey: 10, TotalVotes: 3},
		{QuestKey: q.QuestKey, AnswerKey: 20, TotalVotes: 7},
		{QuestKey: q.QuestKey, AnswerKey: 30, TotalVotes: 5},
	}
	av.TotalVoted = 15

	_, err := eng.FinalizeAnswer(&q, &av, options)
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)

	clock.advance(cfg.Duration + time.Minute)
	winner, err := eng.FinalizeAnswer(&q, &av, options)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), winner)
	assert.Equal(t, uint64(20), q.AnswerResult)
	assert.True(t, av.Finalized)
}

func TestFinalizeAnswerTieLowestKey(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	q, av := successQuest(t, eng, clock, attestor, cfg, &domain.GovernanceStats{})

	options := []domain.AnswerOption{
		{QuestKey: q.QuestKey, AnswerKey: 30, TotalVotes: 5},
		{QuestKey: q.QuestKey, AnswerKey: 10, TotalVotes: 5},
	}
	av.TotalVoted = 10
	clock.advance(cfg.Duration + time.Minute)

	winner, err := eng.FinalizeAnswer(&q, &av, options)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), winner)
}

func TestClaimReward(t *testing.T) {
	eng, clock, ledger, attestor := testEngine(t)
	cfg := testConfig()
	stats := &domain.GovernanceStats{}
	q, av := successQuest(t, eng, clock, attestor, cfg, stats)

	vc := checkpointsAt("carol", q.SnapshotSlot, 4)
	opt := &domain.AnswerOption{}
	rec := &domain.AnswerVoterRecord{}
	require.NoError(t, eng.VoteAnswer(cfg, &q, &av, opt, rec, vc, "carol", 20))

	clock.advance(cfg.Duration + time.Minute)
	_, err := eng.FinalizeAnswer(&q, &av, []domain.AnswerOption{*opt})
	require.NoError(t, err)

	ledger.balances["treasury"] = 100
	reward, err := eng.ClaimReward(context.Background(), cfg, stats, &q, &av, rec, "carol")
	require.NoError(t, err)
	assert.Equal(t, uint64(20), reward) // 4 votes * 5 per vote
	assert.Equal(t, uint64(80), ledger.balances["treasury"])
	assert.Equal(t, uint64(20), ledger.balances["carol"])
	assert.True(t, rec.Rewarded)
	assert.Equal(t, uint64(20), stats.TotalRewardsDistributed)

	_, err = eng.ClaimReward(context.Background(), cfg, stats, &q, &av, rec, "carol")
	assert.ErrorIs(t, err, domain.ErrAlreadyDone)
}

func TestClaimRewardLosingVoter(t *testing.T) {
	eng, clock, ledger, attestor := testEngine(t)
	cfg := testConfig()
	stats := &domain.GovernanceStats{}
	q, av := successQuest(t, eng, clock, attestor, cfg, stats)

	loser := &domain.AnswerVoterRecord{}
	winner := &domain.AnswerVoterRecord{}
	optLose := &domain.AnswerOption{}
	optWin := &domain.AnswerOption{}
	require.NoError(t, eng.VoteAnswer(cfg, &q, &av, optLose, loser, checkpointsAt("dave", q.SnapshotSlot, 3), "dave", 10))
	require.NoError(t, eng.VoteAnswer(cfg, &q, &av, optWin, winner, checkpointsAt("erin", q.SnapshotSlot, 4), "erin", 20))

	clock.advance(cfg.Duration + time.Minute)
	_, err := eng.FinalizeAnswer(&q, &av, []domain.AnswerOption{*optLose, *optWin})
	require.NoError(t, err)

	ledger.balances["treasury"] = 100
	_, err = eng.ClaimReward(context.Background(), cfg, stats, &q, &av, loser, "dave")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestClaimRewardEmptyTreasury(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	stats := &domain.GovernanceStats{}
	q, av := successQuest(t, eng, clock, attestor, cfg, stats)

	rec := &domain.AnswerVoterRecord{}
	opt := &domain.AnswerOption{}
	require.NoError(t, eng.VoteAnswer(cfg, &q, &av, opt, rec, checkpointsAt("carol", q.SnapshotSlot, 4), "carol", 20))
	clock.advance(cfg.Duration + time.Minute)
	_, err := eng.FinalizeAnswer(&q, &av, []domain.AnswerOption{*opt})
	require.NoError(t, err)

	_, err = eng.ClaimReward(context.Background(), cfg, stats, &q, &av, rec, "carol")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.False(t, rec.Rewarded)
}

func TestWithdrawTreasury(t *testing.T) {
	eng, _, ledger, _ := testEngine(t)
	cfg := testConfig()
	ledger.balances["treasury"] = 50

	require.NoError(t, eng.WithdrawTreasury(context.Background(), cfg, "ops", 30))
	assert.Equal(t, uint64(20), ledger.balances["treasury"])
	assert.Equal(t, uint64(30), ledger.balances["ops"])

	err := eng.WithdrawTreasury(context.Background(), cfg, "ops", 30)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestRefreshCheckpoint(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	attestor.counts["carol"] = 7 // above MaxVotableNFT, attestor truncates

	vc := &domain.VoterCheckpoints{}
	slot, balance, err := eng.RefreshCheckpoint(context.Background(), cfg, vc, "carol")
	require.NoError(t, err)
	assert.Equal(t, clock.slot, slot)
	assert.Equal(t, uint64(5), balance)
	assert.Equal(t, "carol", vc.Voter)
	require.Len(t, vc.Checkpoints, 1)

	// Same-slot refresh overwrites in place.
	attestor.counts["carol"] = 3
	_, balance, err = eng.RefreshCheckpoint(context.Background(), cfg, vc, "carol")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), balance)
	require.Len(t, vc.Checkpoints, 1)

	clock.advance(time.Hour)
	_, _, err = eng.RefreshCheckpoint(context.Background(), cfg, vc, "carol")
	require.NoError(t, err)
	assert.Len(t, vc.Checkpoints, 2)
}

func TestCancelFlows(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	stats := &domain.GovernanceStats{}

	q, qv := newPendingQuest(eng, attestor, cfg, stats)
	require.NoError(t, eng.CancelQuest(&q, &qv, stats))
	assert.Equal(t, domain.QuestRejected, q.QuestResult)
	assert.ErrorIs(t, eng.CancelQuest(&q, &qv, stats), domain.ErrAlreadyDone)

	q2, av := successQuest(t, eng, clock, attestor, cfg, stats)
	require.NoError(t, eng.CancelAnswer(&q2, &av))
	assert.True(t, av.Finalized)
	assert.Zero(t, q2.AnswerResult)

	dv := domain.DecisionVote{QuestKey: q2.QuestKey, Finalized: true}
	assert.ErrorIs(t, eng.CancelDecision(&q2, &dv), domain.ErrAlreadyDone)
}

func TestVoteDecisionDoubleVote(t *testing.T) {
	eng, clock, _, attestor := testEngine(t)
	cfg := testConfig()
	stats := &domain.GovernanceStats{}
	q, questRecs := approvedQuest(t, eng, clock, attestor, cfg, stats)

	dv, err := eng.StartDecision(cfg, &q)
	require.NoError(t, err)

	rec := &domain.DecisionVoterRecord{}
	require.NoError(t, eng.VoteDecision(cfg, &q, &dv, rec, questRecs[0], questRecs[0].Voter, domain.DecisionVoteSuccess))
	err = eng.VoteDecision(cfg, &q, &dv, rec, questRecs[0], questRecs[0].Voter, domain.DecisionVoteAdjourn)
	assert.True(t, errors.Is(err, domain.ErrAlreadyDone))
}
