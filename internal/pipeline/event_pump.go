package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/bitpredict/engine/internal/crypto"
	"github.com/bitpredict/engine/internal/domain"
)

// streamEnvelope mirrors the wire form the services put on the bus. Event
// stays raw so signatures verify over the exact published bytes.
type streamEnvelope struct {
	Headers map[string]string `json:"headers"`
	Event   json.RawMessage   `json:"event"`
}

// EventPump tails the durable event streams and surfaces every engine event
// into the structured log, verifying payload signatures when a signer secret
// is configured. It is the reference consumer for the event streams.
type EventPump struct {
	bus    domain.SignalBus
	signer *crypto.EventSigner // nil disables verification
	logger *slog.Logger
}

// NewEventPump creates an EventPump. signer may be nil.
func NewEventPump(bus domain.SignalBus, signer *crypto.EventSigner, logger *slog.Logger) *EventPump {
	return &EventPump{bus: bus, signer: signer, logger: logger}
}

// pumpStream maps one durable stream to the pub/sub channel its signatures
// were computed over.
type pumpStream struct {
	stream  string
	channel string
}

// Run tails the given streams until the context is cancelled.
func (p *EventPump) Run(ctx context.Context, interval time.Duration, streams map[string]string) error {
	var tails []pumpStream
	for stream, channel := range streams {
		tails = append(tails, pumpStream{stream: stream, channel: channel})
	}

	lastIDs := make(map[string]string, len(tails))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("event pump stopped")
			return ctx.Err()
		case <-ticker.C:
			for _, t := range tails {
				p.drain(ctx, t, lastIDs)
			}
		}
	}
}

// drain reads and logs every new entry on one stream.
func (p *EventPump) drain(ctx context.Context, t pumpStream, lastIDs map[string]string) {
	lastID := lastIDs[t.stream]
	if lastID == "" {
		lastID = "0"
	}

	msgs, err := p.bus.StreamRead(ctx, t.stream, lastID, 100)
	if err != nil {
		p.logger.Warn("event pump: stream read failed",
			slog.String("stream", t.stream),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, msg := range msgs {
		if msg.ID != "" {
			lastIDs[t.stream] = msg.ID
		}

		var env streamEnvelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			p.logger.Warn("event pump: malformed event",
				slog.String("stream", t.stream),
				slog.String("error", err.Error()),
			)
			continue
		}

		var ev domain.Event
		if err := json.Unmarshal(env.Event, &ev); err != nil {
			p.logger.Warn("event pump: malformed event body",
				slog.String("stream", t.stream),
				slog.String("error", err.Error()),
			)
			continue
		}

		if !p.verify(t.channel, env) {
			p.logger.Warn("event pump: signature verification failed",
				slog.String("stream", t.stream),
				slog.String("event_id", ev.ID),
				slog.String("type", ev.Type),
			)
			continue
		}

		p.logger.Info("engine event",
			slog.String("stream", t.stream),
			slog.String("event_id", ev.ID),
			slog.String("type", ev.Type),
			slog.Int64("at", ev.At),
		)
	}
}

// verify checks the envelope's HMAC headers against the inner event payload.
func (p *EventPump) verify(channel string, env streamEnvelope) bool {
	if p.signer == nil {
		return true
	}
	ts, err := strconv.ParseInt(env.Headers["timestamp"], 10, 64)
	if err != nil {
		return false
	}
	return p.signer.VerifyAt(channel, []byte(env.Event), ts, env.Headers["signature"])
}
