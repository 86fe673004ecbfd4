package ingestion

import (
	"context"
	"fmt"
	"time"

	"LendingPool/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to JetStream subjects and hands raw messages to
// the router. NATS is the high-throughput ingestion surface; gRPC is for
// admin injection.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is an inbound message that has not been parsed yet.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // message is done, never redeliver
	NakFunc   func() // redeliver later
}

func (r RawEvent) ack() {
	if r.AckFunc != nil {
		r.AckFunc()
	}
}

func (r RawEvent) nak() {
	if r.NakFunc != nil {
		r.NakFunc()
	}
}

// SubjectConfig maps a subject filter to an event type.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

const (
	streamActions   = "LENDING_ACTIONS"
	streamPrices    = "LENDING_PRICES"
	streamEmissions = "LENDING_EMISSIONS"
	streamAdmin     = "LENDING_ADMIN"
	streamOutbound  = "LENDING_LEDGER_EVENTS"
)

// DefaultSubjects returns one consumer per event type. User actions are keyed
// by user id in the last token, prices by asset.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "lending.actions.supply.>", EventType: "supply", ConsumerName: "pool-supply", StreamName: streamActions},
		{Subject: "lending.actions.withdraw.>", EventType: "withdraw", ConsumerName: "pool-withdraw", StreamName: streamActions},
		{Subject: "lending.actions.borrow.>", EventType: "borrow", ConsumerName: "pool-borrow", StreamName: streamActions},
		{Subject: "lending.actions.repay.>", EventType: "repay", ConsumerName: "pool-repay", StreamName: streamActions},
		{Subject: "lending.actions.liquidate.>", EventType: "liquidate", ConsumerName: "pool-liquidate", StreamName: streamActions},
		{Subject: "lending.prices.>", EventType: "price_update", ConsumerName: "pool-prices", StreamName: streamPrices},
		{Subject: "lending.emissions.distribute.>", EventType: "emission_distribute", ConsumerName: "pool-emissions", StreamName: streamEmissions},
		{Subject: "lending.emissions.claim.>", EventType: "reward_claim", ConsumerName: "pool-claims", StreamName: streamEmissions},
		{Subject: "lending.admin.initialize.>", EventType: "pool_initialized", ConsumerName: "pool-admin-init", StreamName: streamAdmin},
		{Subject: "lending.admin.status.>", EventType: "reserve_status_update", ConsumerName: "pool-admin-status", StreamName: streamAdmin},
		{Subject: "lending.admin.accrue.>", EventType: "reserve_accrual", ConsumerName: "pool-admin-accrue", StreamName: streamAdmin},
		{Subject: "lending.admin.backstop.>", EventType: "backstop_fund", ConsumerName: "pool-admin-backstop", StreamName: streamAdmin},
		{Subject: "lending.admin.emissions.>", EventType: "emission_config_update", ConsumerName: "pool-admin-emissions", StreamName: streamAdmin},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    observability.NewLogger("nats"),
	}
}

// Subscribe creates durable consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the inbound streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []struct{ name, subject string }{
		{streamActions, "lending.actions.>"},
		{streamPrices, "lending.prices.>"},
		{streamEmissions, "lending.emissions.>"},
		{streamAdmin, "lending.admin.>"},
	}

	logger := observability.NewLogger("nats")
	for _, s := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      s.name,
			Subjects:  []string{s.subject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		}); err != nil {
			return fmt.Errorf("create stream %s: %w", s.name, err)
		}
		logger.Info().Str("stream", s.name).Msg("ensured stream")
	}

	return nil
}

// Stop stops all consumers. Messages in flight are redelivered after AckWait.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.Name("lendingpool"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
