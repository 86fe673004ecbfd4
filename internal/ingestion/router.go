package ingestion

import (
	"context"
	"errors"

	"LendingPool/internal/core"
	"LendingPool/internal/event"
	"LendingPool/internal/observability"
	"LendingPool/internal/state"

	"github.com/rs/zerolog"
)

// Router parses raw NATS messages and submits them to the core's request
// channel. A message is acked once the core has decided on it; stale prices
// and sequence gaps are nak'd so JetStream redelivers them.
type Router struct {
	subjects []SubjectConfig
	requests chan<- core.Request
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewRouter(subjects []SubjectConfig, requests chan<- core.Request, metrics *observability.Metrics) *Router {
	return &Router{
		subjects: subjects,
		requests: requests,
		metrics:  metrics,
		logger:   observability.NewLogger("ingestion"),
	}
}

// Run drains raw until ctx is done or raw is closed.
func (r *Router) Run(ctx context.Context, raw <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-raw:
			if !ok {
				return nil
			}
			if err := r.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (r *Router) handle(ctx context.Context, msg RawEvent) error {
	eventType, ok := ResolveEventType(msg.Subject, r.subjects)
	if !ok {
		r.logger.Warn().Str("subject", msg.Subject).Msg("unknown subject")
		r.count("unknown_subject")
		msg.ack()
		return nil
	}

	evt, err := ParseRawEvent(msg, eventType)
	if err != nil {
		// Redelivery cannot fix a malformed payload.
		r.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("parse failed")
		r.count("invalid")
		msg.ack()
		return nil
	}

	res, err := Submit(ctx, r.requests, evt)
	if err != nil {
		msg.nak()
		return err
	}

	switch outcome := Outcome(res); outcome {
	case "accepted", "skipped", "rejected":
		msg.ack()
		r.count(outcome)
		if outcome == "rejected" {
			r.logger.Debug().Err(res.Err).Str("event_type", eventType).Str("key", evt.IdempotencyKey()).Msg("rejected")
		}
	default:
		msg.nak()
		r.count(outcome)
		r.logger.Info().Err(res.Err).Str("event_type", eventType).Str("key", evt.IdempotencyKey()).Msg("deferred for redelivery")
	}
	return nil
}

func (r *Router) count(result string) {
	if r.metrics != nil {
		r.metrics.IngestMessages.WithLabelValues("nats", result).Inc()
	}
}

// Submit hands evt to the core and waits for its result.
func Submit(ctx context.Context, requests chan<- core.Request, evt event.Event) (core.Result, error) {
	reply := make(chan core.Result, 1)
	select {
	case requests <- core.Request{Event: evt, Reply: reply}:
	case <-ctx.Done():
		return core.Result{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return core.Result{}, ctx.Err()
	}
}

// Outcome labels a core result. "retry" covers stale prices and sequence
// gaps, which may succeed once later inputs arrive.
func Outcome(res core.Result) string {
	switch {
	case res.Err == nil && res.Output == nil:
		return "skipped"
	case res.Err == nil:
		return "accepted"
	case errors.Is(res.Err, core.ErrSequence):
		return "retry"
	case state.Classify(res.Err) == state.KindRetryable:
		return "retry"
	default:
		return "rejected"
	}
}
