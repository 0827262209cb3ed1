package domain

import "time"

// QuestResult is the outcome of a quest's approval vote.
type QuestResult string

const (
	QuestPending  QuestResult = "pending"
	QuestApproved QuestResult = "approved"
	QuestRejected QuestResult = "rejected"
)

// DecisionResult is the outcome of a quest's decision vote.
type DecisionResult string

const (
	DecisionPending DecisionResult = "pending"
	DecisionSuccess DecisionResult = "success"
	DecisionAdjourn DecisionResult = "adjourn"
)

// MaxQuestionLen is the maximum quest question length in bytes.
const MaxQuestionLen = 280

// Quest is one governance proposal cycle. Its three voting phases run
// strictly in sequence: the quest vote must finalize Approved before the
// decision vote opens, and the decision must finalize Success before the
// answer vote opens.
type Quest struct {
	QuestKey          uint64
	Question          string
	Creator           string
	QuestResult       QuestResult
	DecisionResult    DecisionResult
	AnswerResult      uint64 // winning answer key, 0 = unset
	SnapshotSlot      uint64
	QuestStartTime    time.Time
	QuestEndTime      time.Time
	DecisionStartTime time.Time
	DecisionEndTime   time.Time
	AnswerStartTime   time.Time
	AnswerEndTime     time.Time
	AnswerKeys        []uint64
}

// HasAnswerKey reports whether the quest's answer phase includes the key.
func (q *Quest) HasAnswerKey(answerKey uint64) bool {
	for _, k := range q.AnswerKeys {
		if k == answerKey {
			return true
		}
	}
	return false
}

// QuestVoteChoice is a quest-phase ballot.
type QuestVoteChoice string

const (
	QuestVoteApprove QuestVoteChoice = "approve"
	QuestVoteReject  QuestVoteChoice = "reject"
)

// QuestVote is the running quest-phase tally for one quest.
type QuestVote struct {
	QuestKey      uint64
	CountApprover uint64
	CountRejector uint64
	TotalVoted    uint64
	Finalized     bool
}

// QuestVoterRecord is the per-voter quest-phase dedup record. Its existence
// is the double-voting guard.
type QuestVoterRecord struct {
	QuestKey  uint64
	Voter     string
	VoteCount uint64
	Choice    QuestVoteChoice
	Timestamp time.Time
}

// DecisionVoteChoice is a decision-phase ballot.
type DecisionVoteChoice string

const (
	DecisionVoteSuccess DecisionVoteChoice = "success"
	DecisionVoteAdjourn DecisionVoteChoice = "adjourn"
)

// DecisionVote is the running decision-phase tally for one quest.
type DecisionVote struct {
	QuestKey     uint64
	CountSuccess uint64
	CountAdjourn uint64
	TotalVoted   uint64
	Finalized    bool
}

// DecisionVoterRecord is the per-voter decision-phase dedup record.
type DecisionVoterRecord struct {
	QuestKey  uint64
	Voter     string
	Choice    DecisionVoteChoice
	Votes     uint64
	Timestamp time.Time
}

// AnswerVote is the running answer-phase tally for one quest.
type AnswerVote struct {
	QuestKey      uint64
	TotalVoted    uint64
	Finalized     bool
	WinningAnswer uint64
}

// AnswerOption is the per-answer vote total of one quest's answer phase.
type AnswerOption struct {
	QuestKey   uint64
	AnswerKey  uint64
	TotalVotes uint64
}

// AnswerVoterRecord is the per-voter answer-phase dedup record. Rewarded is
// the one-shot claim gate for reward distribution.
type AnswerVoterRecord struct {
	QuestKey  uint64
	Voter     string
	AnswerKey uint64
	VoteCount uint64
	Timestamp time.Time
	Rewarded  bool
}

// GovernanceConfig is the singleton governance configuration.
type GovernanceConfig struct {
	Authority     string
	BaseToken     string
	NFTCollection string
	Treasury      string
	Paused        bool
	MinTotalVote  uint64
	MaxTotalVote  uint64
	MinRequiredNFT uint64
	MaxVotableNFT  uint64
	Duration       time.Duration
	RewardPerVote  uint64
}

// GovernanceStats tracks aggregate governance counters across quests.
type GovernanceStats struct {
	TotalItems              uint64
	ActiveItems             uint64
	CompletedItems          uint64
	TotalRewardsDistributed uint64
}

// NFTRecord is one attested governance-collection NFT held by a voter.
type NFTRecord struct {
	Voter      string
	NFTMint    string
	Collection string
	Verified   bool
}
