package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"LendingPool/internal/core"
	"LendingPool/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher is the subset of jetstream.JetStream the outbound publisher uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes persisted events for downstream consumers.
// Events are enqueued from the persistence commit hook, so nothing is
// published before it is durable.
type OutboundPublisher struct {
	js      Publisher
	queue   chan PublishableEvent
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// PublishableEvent is the outbound message body.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Asset          *string         `json:"asset,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Subject returns lending.ledger.events.{event_type}[.{asset}].
func (e PublishableEvent) Subject() string {
	subject := "lending.ledger.events." + e.EventType
	if e.Asset != nil {
		subject += "." + *e.Asset
	}
	return subject
}

// NewPublishableEvent converts a core output into its outbound form.
func NewPublishableEvent(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	return PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.Name(),
		IdempotencyKey: env.IdempotencyKey,
		Asset:          env.Asset,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
}

func NewOutboundPublisher(js Publisher, queueSize int, metrics *observability.Metrics) *OutboundPublisher {
	if queueSize <= 0 {
		queueSize = 4096
	}
	return &OutboundPublisher{
		js:      js,
		queue:   make(chan PublishableEvent, queueSize),
		metrics: metrics,
		logger:  observability.NewLogger("publisher"),
	}
}

// Enqueue queues a committed batch without blocking. Events that do not fit
// are dropped; consumers can read the event log directly.
func (op *OutboundPublisher) Enqueue(batch []core.CoreOutput) {
	for _, out := range batch {
		select {
		case op.queue <- NewPublishableEvent(out):
		default:
			if op.metrics != nil {
				op.metrics.PublishDrops.Inc()
			}
		}
	}
}

// Run publishes queued events until ctx is done.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-op.queue:
			if err := op.publish(ctx, evt); err != nil {
				op.logger.Warn().Err(err).Int64("seq", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The sequence as message id lets JetStream drop republished duplicates.
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(strconv.FormatInt(evt.Sequence, 10)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamOutbound,
		Subjects:   []string{"lending.ledger.events.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	lg := observability.NewLogger("publisher")
	lg.Info().Str("stream", streamOutbound).Msg("ensured outbound stream")
	return nil
}
