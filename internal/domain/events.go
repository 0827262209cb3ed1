package domain

import "time"

// Event channel names on the signal bus.
const (
	ChannelMarketEvents     = "events:market"
	ChannelGovernanceEvents = "events:governance"
)

// Event is the envelope published on the signal bus for every mutating
// operation. Payload holds one of the *Event structs below.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	At   int64  `json:"at"`
	Data any    `json:"data"`
}

type MarketPublishedEvent struct {
	MarketKey     uint64   `json:"market_key"`
	Creator       string   `json:"creator"`
	BettingToken  string   `json:"betting_token"`
	Title         string   `json:"title"`
	CreateFee     uint64   `json:"create_fee"`
	CreatorFeeBps uint64   `json:"creator_fee_bps"`
	ServiceFeeBps uint64   `json:"service_fee_bps"`
	CharityFeeBps uint64   `json:"charity_fee_bps"`
	AnswerKeys    []uint64 `json:"answer_keys"`
}

type BetPlacedEvent struct {
	Voter     string `json:"voter"`
	MarketKey uint64 `json:"market_key"`
	AnswerKey uint64 `json:"answer_key"`
	Amount    uint64 `json:"amount"`
}

type MarketFinishedEvent struct {
	MarketKey uint64 `json:"market_key"`
}

type MarketSuccessEvent struct {
	MarketKey    uint64 `json:"market_key"`
	AnswerKey    uint64 `json:"answer_key"`
	CreatorFee   uint64 `json:"creator_fee"`
	ServiceFee   uint64 `json:"service_fee"`
	CharityFee   uint64 `json:"charity_fee"`
	RemainTokens uint64 `json:"remain_tokens"`
}

type MarketAdjournedEvent struct {
	MarketKey uint64 `json:"market_key"`
}

type TokenReceivedEvent struct {
	Receiver       string `json:"receiver"`
	MarketKey      uint64 `json:"market_key"`
	AnswerKey      uint64 `json:"answer_key"`
	ReceivedTokens uint64 `json:"received_tokens"`
}

type RemainderRetrievedEvent struct {
	MarketKey uint64 `json:"market_key"`
	Amount    uint64 `json:"amount"`
}

type QuestCreatedEvent struct {
	QuestKey     uint64    `json:"quest_key"`
	Question     string    `json:"question"`
	Creator      string    `json:"creator"`
	SnapshotSlot uint64    `json:"snapshot_slot"`
	EndTime      time.Time `json:"end_time"`
}

type QuestVoteCastEvent struct {
	QuestKey uint64 `json:"quest_key"`
	Voter    string `json:"voter"`
	Choice   string `json:"choice"`
	Votes    uint64 `json:"votes"`
}

type QuestResultSetEvent struct {
	QuestKey uint64 `json:"quest_key"`
	Result   string `json:"result"`
}

type DecisionStartedEvent struct {
	QuestKey uint64    `json:"quest_key"`
	EndTime  time.Time `json:"end_time"`
}

type DecisionVoteCastEvent struct {
	QuestKey uint64 `json:"quest_key"`
	Voter    string `json:"voter"`
	Choice   string `json:"choice"`
	Votes    uint64 `json:"votes"`
}

type DecisionResultSetEvent struct {
	QuestKey uint64 `json:"quest_key"`
	Result   string `json:"result"`
}

type AnswerStartedEvent struct {
	QuestKey   uint64    `json:"quest_key"`
	AnswerKeys []uint64  `json:"answer_keys"`
	EndTime    time.Time `json:"end_time"`
}

type AnswerVoteCastEvent struct {
	QuestKey  uint64 `json:"quest_key"`
	Voter     string `json:"voter"`
	AnswerKey uint64 `json:"answer_key"`
	Votes     uint64 `json:"votes"`
}

type AnswerFinalizedEvent struct {
	QuestKey      uint64 `json:"quest_key"`
	WinningAnswer uint64 `json:"winning_answer"`
}

type RewardDistributedEvent struct {
	QuestKey  uint64 `json:"quest_key"`
	Voter     string `json:"voter"`
	AnswerKey uint64 `json:"answer_key"`
	VoteCount uint64 `json:"vote_count"`
	Amount    uint64 `json:"amount"`
}

type CheckpointUpdatedEvent struct {
	Voter   string `json:"voter"`
	Slot    uint64 `json:"slot"`
	Balance uint64 `json:"balance"`
}
