package ingestion

import (
	"context"
	"fmt"
	"sync"

	"LendingPool/internal/core"
	"LendingPool/internal/event"
	"LendingPool/internal/observability"
	"LendingPool/internal/state"

	"github.com/google/uuid"
)

// SequenceSource reports the next source sequence a core partition accepts.
type SequenceSource interface {
	ExpectedSequence(partition string) int64
}

// GRPCIngestService submits events on behalf of the gRPC surface and the
// operator. It is for admin operations and manual injection, not for
// high-throughput ingestion (use NATS for that).
type GRPCIngestService struct {
	requests chan<- core.Request
	seqs     SequenceSource
	metrics  *observability.Metrics

	// adminMu serializes read-expected-then-submit for injected events.
	adminMu sync.Mutex
}

func NewGRPCIngestService(requests chan<- core.Request, seqs SequenceSource, metrics *observability.Metrics) *GRPCIngestService {
	return &GRPCIngestService{requests: requests, seqs: seqs, metrics: metrics}
}

// SubmitRaw parses a JSON payload of the named type and submits it.
func (s *GRPCIngestService) SubmitRaw(ctx context.Context, eventType string, payload []byte) (core.Result, error) {
	evt, err := ParseRawEvent(RawEvent{Subject: "grpc", Data: payload}, eventType)
	if err != nil {
		s.count("invalid")
		return core.Result{}, fmt.Errorf("%w: %v", state.ErrInvalidInput, err)
	}
	return s.SubmitEvent(ctx, evt)
}

// SubmitEvent submits a typed event and waits for the core's decision.
func (s *GRPCIngestService) SubmitEvent(ctx context.Context, evt event.Event) (core.Result, error) {
	res, err := Submit(ctx, s.requests, evt)
	if err != nil {
		return res, err
	}
	s.count(Outcome(res))
	return res, nil
}

func (s *GRPCIngestService) count(result string) {
	if s.metrics != nil {
		s.metrics.IngestMessages.WithLabelValues("grpc", result).Inc()
	}
}

func (s *GRPCIngestService) injectAdmin(ctx context.Context, partition string, build func(seq int64) event.Event) (core.Result, error) {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()
	return s.SubmitEvent(ctx, build(s.seqs.ExpectedSequence(partition)))
}

// InjectPoolInitialized submits the one-time pool configuration.
func (s *GRPCIngestService) InjectPoolInitialized(ctx context.Context, cfg state.PoolConfig, ts int64) (core.Result, error) {
	return s.injectAdmin(ctx, "admin", func(seq int64) event.Event {
		return &event.PoolInitialized{Config: cfg, Sequence: seq, Timestamp: ts}
	})
}

// InjectReserveStatus moves a reserve to Active, Frozen or Paused.
func (s *GRPCIngestService) InjectReserveStatus(ctx context.Context, asset, status string, ts int64) (core.Result, error) {
	return s.injectAdmin(ctx, "admin", func(seq int64) event.Event {
		return &event.ReserveStatusUpdate{UpdateID: uuid.New(), Reserve: asset, Status: status, Sequence: seq, Timestamp: ts}
	})
}

// InjectBackstopFund tops up the insurance fund.
func (s *GRPCIngestService) InjectBackstopFund(ctx context.Context, asset string, amount, ts int64) (core.Result, error) {
	if amount <= 0 {
		return core.Result{}, fmt.Errorf("%w: amount must be positive", state.ErrInvalidInput)
	}
	return s.injectAdmin(ctx, "admin", func(seq int64) event.Event {
		return &event.BackstopFund{FundingID: uuid.New(), Reserve: asset, Amount: amount, Sequence: seq, Timestamp: ts}
	})
}

// InjectEmissionConfig replaces the reward share table.
func (s *GRPCIngestService) InjectEmissionConfig(ctx context.Context, shares []state.EmissionShare, ts int64) (core.Result, error) {
	return s.injectAdmin(ctx, "admin", func(seq int64) event.Event {
		return &event.EmissionConfigUpdate{UpdateID: uuid.New(), Shares: shares, Sequence: seq, Timestamp: ts}
	})
}

// InjectAccrual brings a reserve's indices current at ts.
func (s *GRPCIngestService) InjectAccrual(ctx context.Context, asset string, ts int64) (core.Result, error) {
	return s.injectAdmin(ctx, "keeper", func(seq int64) event.Event {
		return &event.ReserveAccrual{Reserve: asset, Sequence: seq, Timestamp: ts}
	})
}

// InjectPrice submits a price. Price sequences are per asset and need not be
// contiguous, so the caller chooses priceSequence.
func (s *GRPCIngestService) InjectPrice(ctx context.Context, asset string, price int64, decimals uint32, priceSequence, ts int64) (core.Result, error) {
	if price <= 0 {
		return core.Result{}, fmt.Errorf("%w: price must be positive", state.ErrInvalidInput)
	}
	return s.SubmitEvent(ctx, &event.PriceUpdate{
		Reserve:        asset,
		Price:          price,
		Decimals:       decimals,
		PriceSequence:  priceSequence,
		PriceTimestamp: ts,
	})
}
