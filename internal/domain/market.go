package domain

import "time"

// MarketStatus represents the lifecycle state of a prediction market.
type MarketStatus string

const (
	MarketStatusDraft    MarketStatus = "draft"
	MarketStatusApproved MarketStatus = "approved"
	MarketStatusFinished MarketStatus = "finished"
	MarketStatusSuccess  MarketStatus = "success"
	MarketStatusAdjourn  MarketStatus = "adjourn"
)

// Terminal reports whether the status admits no further transitions.
func (s MarketStatus) Terminal() bool {
	return s == MarketStatusSuccess || s == MarketStatusAdjourn
}

// MaxAnswers is the maximum number of answer options per market.
const MaxAnswers = 10

// MaxTitleLen is the maximum market title length in bytes.
const MaxTitleLen = 100

// Market is a prediction question with a fixed answer set and a token pool
// staked against it. Token amounts are integer base units of BettingToken.
type Market struct {
	MarketKey           uint64
	Creator             string
	BettingToken        string
	Title               string
	Status              MarketStatus
	CreatorFee          uint64
	CreatorFeeBps       uint64
	ServiceFeeBps       uint64
	CharityFeeBps       uint64
	ApproveTime         time.Time
	FinishTime          time.Time
	SuccessTime         time.Time
	AdjournTime         time.Time
	CorrectAnswerKey    uint64
	TotalTokens         uint64
	RemainTokens        uint64
	RewardBaseTokens    uint64
}

// Answer is one outcome option of a market together with the total staked
// on it.
type Answer struct {
	AnswerKey   uint64
	TotalTokens uint64
}

// AnswerSet is the immutable answer-key set of one market. It is created at
// publish time and only its per-answer totals mutate afterwards.
type AnswerSet struct {
	MarketKey uint64
	Answers   []Answer
}

// Contains reports whether the set holds the given answer key.
func (as *AnswerSet) Contains(answerKey uint64) bool {
	for _, a := range as.Answers {
		if a.AnswerKey == answerKey {
			return true
		}
	}
	return false
}

// Total returns the staked total for the given answer key, or 0 when the key
// is not part of the set.
func (as *AnswerSet) Total(answerKey uint64) uint64 {
	for _, a := range as.Answers {
		if a.AnswerKey == answerKey {
			return a.TotalTokens
		}
	}
	return 0
}

// Add increments the staked total of the given answer key.
func (as *AnswerSet) Add(answerKey, amount uint64) bool {
	for i := range as.Answers {
		if as.Answers[i].AnswerKey == answerKey {
			as.Answers[i].TotalTokens += amount
			return true
		}
	}
	return false
}

// Bet is one voter's accumulated stake on one answer of one market. Repeat
// bets on the same (voter, market, answer) accumulate into a single record.
type Bet struct {
	Voter      string
	MarketKey  uint64
	AnswerKey  uint64
	Tokens     uint64
	CreateTime time.Time
	Exists     bool
}
