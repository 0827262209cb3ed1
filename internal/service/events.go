package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bitpredict/engine/internal/crypto"
	"github.com/bitpredict/engine/internal/domain"
)

// Durable stream names mirroring the pub/sub channels, for replay by
// consumers that were offline when an event fired.
const (
	StreamMarketEvents     = "stream:market"
	StreamGovernanceEvents = "stream:governance"
)

// Event type tags carried in the envelope.
const (
	EventMarketPublished    = "market.published"
	EventBetPlaced          = "market.bet_placed"
	EventMarketFinished     = "market.finished"
	EventMarketSuccess      = "market.success"
	EventMarketAdjourned    = "market.adjourned"
	EventTokenReceived      = "market.token_received"
	EventRemainderRetrieved = "market.remainder_retrieved"

	EventQuestCreated      = "governance.quest_created"
	EventQuestVoteCast     = "governance.quest_vote_cast"
	EventQuestResultSet    = "governance.quest_result_set"
	EventDecisionStarted   = "governance.decision_started"
	EventDecisionVoteCast  = "governance.decision_vote_cast"
	EventDecisionResultSet = "governance.decision_result_set"
	EventAnswerStarted     = "governance.answer_started"
	EventAnswerVoteCast    = "governance.answer_vote_cast"
	EventAnswerFinalized   = "governance.answer_finalized"
	EventRewardDistributed = "governance.reward_distributed"
	EventCheckpointUpdated = "governance.checkpoint_updated"
)

// envelope is the wire form placed on the bus: the marshaled event plus
// optional HMAC headers so consumers holding the shared secret can
// authenticate it. Event stays raw so signatures verify over the exact
// published bytes.
type envelope struct {
	Headers map[string]string `json:"headers,omitempty"`
	Event   json.RawMessage   `json:"event"`
}

// Publisher fans mutating-operation events out to the signal bus: a pub/sub
// publish for live consumers plus a stream append for durable replay. Event
// delivery is best-effort; failures are logged and never fail the operation
// that emitted the event.
type Publisher struct {
	bus    domain.SignalBus
	signer *crypto.EventSigner // nil disables payload signing
	logger *slog.Logger
}

// NewPublisher creates a Publisher. signer may be nil.
func NewPublisher(bus domain.SignalBus, signer *crypto.EventSigner, logger *slog.Logger) *Publisher {
	return &Publisher{bus: bus, signer: signer, logger: logger}
}

// Emit publishes one event on channel and appends it to stream.
func (p *Publisher) Emit(ctx context.Context, channel, stream, eventType string, data any) {
	ev := domain.Event{
		ID:   uuid.NewString(),
		Type: eventType,
		At:   time.Now().Unix(),
		Data: data,
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.WarnContext(ctx, "events: marshal failed",
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	env := envelope{Event: payload}
	if p.signer != nil {
		env.Headers = p.signer.Headers(channel, payload)
	}
	body, err := json.Marshal(env)
	if err != nil {
		p.logger.WarnContext(ctx, "events: marshal envelope failed",
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := p.bus.Publish(ctx, channel, body); err != nil {
		p.logger.WarnContext(ctx, "events: publish failed",
			slog.String("channel", channel),
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
	}
	if err := p.bus.StreamAppend(ctx, stream, body); err != nil {
		p.logger.WarnContext(ctx, "events: stream append failed",
			slog.String("stream", stream),
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
	}
}
