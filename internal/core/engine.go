package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"LendingPool/internal/event"
	"LendingPool/internal/factory"
	"LendingPool/internal/ledger"
	fpmath "LendingPool/internal/math"
	"LendingPool/internal/observability"
	"LendingPool/internal/pool"
	"LendingPool/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultLRUCapacity bounds the tier-1 idempotency cache.
const DefaultLRUCapacity = 1_000_000

// DeterministicCore is the single-threaded event processor. Only the Run
// goroutine mutates state; the read accessors take mu for reading.
type DeterministicCore struct {
	mu sync.RWMutex

	sequence          int64
	clock             int64 // unix seconds of the latest applied non-price event
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	prices            *state.PriceFeed
	fund              *state.InsuranceFund
	factory           *factory.Factory
	pool              *pool.Pool
	watermarks        map[string]indexWatermark
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type indexWatermark struct {
	supply    int64
	liability int64
}

// CoreOutput is everything downstream needs to persist and project one event.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	Receipt    *pool.Receipt // nil for price updates and backstop funding
	StateDelta []byte
}

// Request is one event handed to Run. Reply, if set, should be buffered.
type Request struct {
	Event event.Event
	Reply chan<- Result
}

// Result is the outcome of a Request. A nil Output with a nil Err means the
// event was a duplicate or a stale price and was skipped.
type Result struct {
	Output *CoreOutput
	Err    error
}

func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	lruCapacity int,
	metrics *observability.Metrics,
) (*DeterministicCore, error) {
	if lruCapacity <= 0 {
		lruCapacity = DefaultLRUCapacity
	}
	idempotencyChecker, err := NewIdempotencyChecker(lruCapacity, dbChecker, metrics)
	if err != nil {
		return nil, err
	}

	balanceTracker := ledger.NewBalanceTracker()
	prices := state.NewPriceFeed()
	fund := state.NewInsuranceFund(nil)

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(startSequence),
		validator:         ledger.NewInvariantValidator(balanceTracker),
		prices:            prices,
		fund:              fund,
		factory:           factory.New(prices, fund),
		watermarks:        make(map[string]indexWatermark),
		idempotency:       idempotencyChecker,
		sequenceValidator: NewSequenceValidator(metrics),
		metrics:           metrics,
		logger:            observability.NewLogger("core"),
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}, nil
}

// Run processes requests until ctx is done or in is closed.
func (c *DeterministicCore) Run(ctx context.Context, in <-chan Request) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-in:
			if !ok {
				return nil
			}
			out, err := c.ProcessEvent(req.Event)
			if req.Reply != nil {
				req.Reply <- Result{Output: out, Err: err}
			}
		}
	}
}

// ProcessEvent is the main processing pipeline. Pool rejections are returned
// to the caller and take no sequence.
func (c *DeterministicCore) ProcessEvent(evt event.Event) (*CoreOutput, error) {
	start := time.Now()
	eventType := evt.EventType().String()

	if err := evt.Validate(); err != nil {
		c.recordRejection(eventType, "invalid_payload")
		return nil, fmt.Errorf("%w: %v", state.ErrInvalidInput, err)
	}

	output, err := c.apply(evt, false)
	if err != nil || output == nil {
		return nil, err
	}

	// Persistence: blocking send. The core stalls until the persistence
	// worker drains. This guarantees no event is lost.
	if c.persistChan != nil {
		c.persistChan <- *output
	}

	// Projections: non-blocking send, drop on full. Projection workers
	// can rebuild from the event log if they fall behind.
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- *output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(output.Envelope.Sequence))
		c.recordDomainMetrics(output.Receipt)
	}

	return output, nil
}

// ReplayEvent re-applies a persisted envelope after a snapshot restore. Tier-2
// dedup, ordering checks and output channels are skipped; the recomputed
// state hash must match the stored one.
func (c *DeterministicCore) ReplayEvent(env *event.EventEnvelope) error {
	_, err := c.ReplayEventOutput(env)
	return err
}

// ReplayEventOutput is ReplayEvent returning the recomputed output, for
// projection rebuilds.
func (c *DeterministicCore) ReplayEventOutput(env *event.EventEnvelope) (*CoreOutput, error) {
	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return nil, fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}

	c.mu.RLock()
	next := c.sequence
	c.mu.RUnlock()
	if env.Sequence != next {
		return nil, fmt.Errorf("replay seq %d: core expects %d", env.Sequence, next)
	}

	output, err := c.apply(evt, true)
	if err != nil {
		return nil, fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}
	if output == nil {
		return nil, fmt.Errorf("replay seq %d: event was skipped", env.Sequence)
	}
	if output.Envelope.StateHash != env.StateHash {
		return nil, fmt.Errorf("replay seq %d: state hash diverged", env.Sequence)
	}

	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return output, nil
}

// apply runs steps 1-9 under the write lock and returns the output to emit.
func (c *DeterministicCore) apply(evt event.Event, replay bool) (*CoreOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()
	partition := c.getPartition(evt)
	sourceSequence := evt.SourceSequence()

	if !replay {
		// Step 1: Idempotency check (two-tier)
		isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

		// Step 2: Sequence validation
		if priceEvt, ok := evt.(*event.PriceUpdate); ok {
			if isDuplicate || !c.sequenceValidator.IsNewerPrice(priceEvt.Reserve, priceEvt.PriceSequence) {
				if c.metrics != nil {
					c.metrics.PriceUpdatesIgnored.WithLabelValues(priceEvt.Reserve).Inc()
				}
				return nil, nil
			}
		} else if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, isDuplicate); err != nil {
			c.recordRejection(eventType, "sequence")
			return nil, fmt.Errorf("sequence validation failed: %w", err)
		}

		if isDuplicate {
			c.recordRejection(eventType, "duplicate")
			return nil, nil
		}
	}

	if err := c.checkClock(evt); err != nil {
		c.recordRejection(eventType, "clock")
		return nil, fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 3: Dispatch to the pool
	receipt, err := c.dispatchEvent(evt)
	if err != nil {
		c.recordRejection(eventType, state.Reason(err))
		if state.Classify(err) == state.KindFatal {
			c.logger.Error().Err(err).Str("event_type", eventType).Str("key", idempotencyKey).Msg("pool arithmetic failure")
		} else {
			c.logger.Debug().Err(err).Str("event_type", eventType).Str("key", idempotencyKey).Msg("event rejected")
		}
		return nil, fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Journals from the receipt
	var batch *ledger.Batch
	if receipt != nil {
		batch, err = c.journalGen.GenerateReceipt(idempotencyKey, receipt)
		if err != nil {
			panic(fmt.Sprintf("FATAL: cannot journal committed receipt: %v", err))
		}
	} else {
		batch = c.journalGen.GenerateEmpty(idempotencyKey, evt.Time())
	}

	// Steps 5-6: Validate and apply. State-only events produce no journals
	// but still take a sequence.
	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch failed: %v", err))
		}
		if c.metrics != nil {
			for _, j := range batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}

	if err := c.postCheckInvariants(receipt); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Steps 7-8: State digest and hash chain
	stateDigest := c.computeStateDigest(batch, receipt, evt)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	payload, err := event.Encode(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode applied event: %v", err))
	}

	// Step 9: Envelope
	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Asset:          evt.Asset(),
		Timestamp:      time.Unix(evt.Time(), 0).UTC(),
		SourceSequence: sourceSequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	if priceEvt, ok := evt.(*event.PriceUpdate); ok {
		c.sequenceValidator.AdvancePrice(priceEvt.Reserve, priceEvt.PriceSequence)
	} else {
		c.sequenceValidator.Advance(partition, sourceSequence)
	}
	c.idempotency.MarkProcessed(eventType, idempotencyKey)
	if _, ok := evt.(*event.PriceUpdate); !ok {
		c.clock = max(c.clock, evt.Time())
	}
	c.sequence++

	return &CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		Receipt:    receipt,
		StateDelta: stateDigest,
	}, nil
}

// checkClock keeps pool time monotonic and bounds how far ahead of the newest
// oracle quote an event may be dated. Price updates carry oracle time and are
// ordered by their price sequence instead.
func (c *DeterministicCore) checkClock(evt event.Event) error {
	if _, ok := evt.(*event.PriceUpdate); ok {
		return nil
	}
	ts := evt.Time()
	if ts < c.clock {
		return fmt.Errorf("%w: timestamp %d precedes pool clock %d", state.ErrInvalidInput, ts, c.clock)
	}
	if c.pool == nil {
		return nil
	}
	ref := c.clock
	if newest, ok := c.prices.Newest(); ok {
		ref = newest
	}
	if limit := ref + c.pool.Config().MaxPriceAge; ts > limit {
		return fmt.Errorf("%w: timestamp %d is past %d (newest quote plus max price age)",
			state.ErrInvalidInput, ts, limit)
	}
	return nil
}

// getPartition determines the ordering partition. User actions are ordered
// per acting account, like a nonce.
func (c *DeterministicCore) getPartition(evt event.Event) string {
	switch e := evt.(type) {
	case *event.Supply:
		return fmt.Sprintf("user:%s", e.UserID)
	case *event.Withdraw:
		return fmt.Sprintf("user:%s", e.UserID)
	case *event.Borrow:
		return fmt.Sprintf("user:%s", e.UserID)
	case *event.Repay:
		return fmt.Sprintf("user:%s", e.UserID)
	case *event.Liquidate:
		return fmt.Sprintf("user:%s", e.LiquidatorID)
	case *event.RewardClaim:
		return fmt.Sprintf("user:%s", e.UserID)
	case *event.PriceUpdate:
		return pricePartition(e.Reserve)
	case *event.EmissionDistribute:
		return "emitter"
	case *event.ReserveAccrual:
		return "keeper"
	default:
		return "admin"
	}
}

func (c *DeterministicCore) activePool() (*pool.Pool, error) {
	if c.pool == nil {
		return nil, state.ErrNotInitialized
	}
	return c.pool, nil
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) (*pool.Receipt, error) {
	now := evt.Time()

	switch e := evt.(type) {
	case *event.PoolInitialized:
		return c.handlePoolInitialized(e)
	case *event.PriceUpdate:
		return nil, c.prices.Update(e.Reserve, state.PriceData{
			Price:     e.Price,
			Decimals:  e.Decimals,
			Timestamp: e.PriceTimestamp,
		})
	case *event.BackstopFund:
		c.fund.Fund(e.Reserve, e.Amount)
		return nil, nil
	}

	p, err := c.activePool()
	if err != nil {
		return nil, err
	}

	switch e := evt.(type) {
	case *event.Supply:
		return p.Supply(e.UserID, e.Reserve, e.Amount, now)
	case *event.Withdraw:
		return p.Withdraw(e.UserID, e.Reserve, e.Amount, now)
	case *event.Borrow:
		return p.Borrow(e.UserID, e.Reserve, e.Amount, now)
	case *event.Repay:
		return p.Repay(e.UserID, e.Reserve, e.Amount, now)
	case *event.Liquidate:
		return p.Liquidate(e.LiquidatorID, e.BorrowerID, e.LiabilityAsset, e.CollateralAsset, e.Amount, now)
	case *event.EmissionDistribute:
		return p.Distribute(e.Amount, now)
	case *event.RewardClaim:
		return p.Claim(e.UserID, now)
	case *event.ReserveStatusUpdate:
		status, err := state.ParseReserveStatus(e.Status)
		if err != nil {
			return nil, err
		}
		return p.SetReserveStatus(e.Reserve, status, now)
	case *event.ReserveAccrual:
		return p.Accrue(e.Reserve, now)
	case *event.EmissionConfigUpdate:
		return p.SetEmissions(e.Shares, now)
	default:
		return nil, fmt.Errorf("%w: unknown event type %T", state.ErrInvalidInput, evt)
	}
}

func (c *DeterministicCore) handlePoolInitialized(evt *event.PoolInitialized) (*pool.Receipt, error) {
	if c.pool != nil {
		return nil, c.pool.Initialize(evt.Config, evt.Timestamp)
	}

	p, err := c.factory.Deploy(evt.Config, evt.Timestamp)
	if err != nil {
		return nil, err
	}
	c.adoptPool(p)

	c.logger.Info().Str("pool", p.Name()).Strs("reserves", p.Assets()).Msg("pool initialized")

	return &pool.Receipt{
		Action:    "initialize",
		Timestamp: evt.Timestamp,
		Reserves:  p.Reserves(),
	}, nil
}

// adoptPool makes p the active pool and registers its assets with the ledger
// in reserve order.
func (c *DeterministicCore) adoptPool(p *pool.Pool) {
	c.pool = p
	for _, asset := range p.Assets() {
		ledger.RegisterAsset(asset)
	}
	if reward := p.Config().RewardAsset; reward != "" {
		ledger.RegisterAsset(reward)
	}
	for _, r := range p.Reserves() {
		c.watermarks[r.Asset] = indexWatermark{supply: r.SupplyIndex, liability: r.LiabilityIndex}
	}
}

// computeStateDigest creates canonical bytes for the state hash: balances of
// the accounts the batch touched, then the post-state of every touched
// reserve and position, then any oracle or backstop change.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, receipt *pool.Receipt, evt event.Event) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	if receipt != nil {
		for i := range receipt.Reserves {
			digest = append(digest, receipt.Reserves[i].CanonicalBytes()...)
		}
		for _, sh := range receipt.Emissions {
			digest = append(digest, byte(len(sh.Asset)))
			digest = append(digest, []byte(sh.Asset)...)
			digest = append(digest, []byte(sh.Side)...)
			digest = appendInt64LE(digest, sh.Share)
		}
		for i := range receipt.Positions {
			pc := receipt.Positions[i]
			digest = append(digest, pc.Position.CanonicalBytes()...)
			if pc.Deleted {
				digest = append(digest, 1)
			} else {
				digest = append(digest, 0)
			}
		}
	}

	switch e := evt.(type) {
	case *event.PriceUpdate:
		pd, _ := c.prices.GetPrice(e.Reserve)
		digest = append(digest, []byte(e.Reserve)...)
		digest = appendInt64LE(digest, pd.Price)
		digest = appendInt64LE(digest, int64(pd.Decimals))
		digest = appendInt64LE(digest, pd.Timestamp)
	case *event.BackstopFund:
		digest = append(digest, []byte(e.Reserve)...)
		digest = appendInt64LE(digest, c.fund.Balance(e.Reserve))
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after batch application
func (c *DeterministicCore) postCheckInvariants(receipt *pool.Receipt) error {
	if receipt != nil {
		for i := range receipt.Reserves {
			r := &receipt.Reserves[i]
			if err := r.CheckInvariants(); err != nil {
				return fmt.Errorf("reserve %s: %w", r.Asset, err)
			}

			w := c.watermarks[r.Asset]
			if r.SupplyIndex < w.supply || r.LiabilityIndex < w.liability {
				return fmt.Errorf("reserve %s index decreased: supply %d->%d liability %d->%d",
					r.Asset, w.supply, r.SupplyIndex, w.liability, r.LiabilityIndex)
			}
			c.watermarks[r.Asset] = indexWatermark{supply: r.SupplyIndex, liability: r.LiabilityIndex}

			if err := c.validator.ValidateReserveCash(r.Asset, r.Cash); err != nil {
				return err
			}
			if err := c.validator.ValidatePoolAccountsNonNegative(r.Asset); err != nil {
				return err
			}
		}

		if c.pool != nil {
			if reward := c.pool.Config().RewardAsset; reward != "" {
				if err := c.validator.ValidatePoolAccountsNonNegative(reward); err != nil {
					return err
				}
			}
		}
	}

	// Periodic zero-sum check over the whole ledger
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("at seq %d: %w", c.sequence, err)
		}
	}

	return nil
}

func (c *DeterministicCore) recordRejection(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *DeterministicCore) recordDomainMetrics(receipt *pool.Receipt) {
	if receipt == nil {
		return
	}
	for i := range receipt.Reserves {
		r := &receipt.Reserves[i]
		c.metrics.ReserveCash.WithLabelValues(r.Asset).Set(float64(r.Cash))
		c.metrics.ReserveBadDebt.WithLabelValues(r.Asset).Set(float64(r.BadDebt))
		if u, err := r.Utilization(); err == nil {
			c.metrics.ReserveUtilization.WithLabelValues(r.Asset).Set(float64(u) / float64(fpmath.Scalar7))
		}
	}
	for _, a := range receipt.Accruals {
		c.metrics.ReserveBorrowRate.WithLabelValues(a.Asset).Set(float64(a.BorrowRate) / float64(fpmath.Scalar7))
		c.metrics.InterestAccrued.WithLabelValues(a.Asset).Add(float64(a.InterestAccrued))
		c.metrics.BackstopRevenue.WithLabelValues(a.Asset).Add(float64(a.ProtocolRevenue))
	}
	if liq := receipt.Liquidation; liq != nil {
		outcome := "partial"
		if len(liq.Shortfall) > 0 {
			outcome = "shortfall"
		} else if liq.Plan.Capped {
			outcome = "capped"
		}
		c.metrics.LiquidationsTotal.WithLabelValues(liq.CollateralAsset, outcome).Inc()
		for _, s := range liq.Shortfall {
			c.metrics.ShortfallDraws.WithLabelValues(s.Asset, fmt.Sprintf("%t", s.Covered)).Inc()
		}
	}
}

// --- Read accessors (safe from any goroutine) ---

// GetSequence returns the next sequence the core will assign.
func (c *DeterministicCore) GetSequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasher.GetPrevHash()
}

// LastSequence is the sequence of the most recently applied event, or -1.
// EmissionShares returns the active reward share table.
func (c *DeterministicCore) EmissionShares() ([]state.EmissionShare, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, err := c.activePool()
	if err != nil {
		return nil, err
	}
	return p.EmissionShares(), nil
}

// Clock returns the pool time of the latest applied event.
func (c *DeterministicCore) Clock() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clock
}

func (c *DeterministicCore) LastSequence() int64 {
	return c.GetSequence() - 1
}

func (c *DeterministicCore) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool != nil
}

func (c *DeterministicCore) PoolConfig() (state.PoolConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, err := c.activePool()
	if err != nil {
		return state.PoolConfig{}, err
	}
	return p.Config(), nil
}

func (c *DeterministicCore) Reserve(asset string) (state.Reserve, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, err := c.activePool()
	if err != nil {
		return state.Reserve{}, err
	}
	r, ok := p.Reserve(asset)
	if !ok {
		return state.Reserve{}, fmt.Errorf("%w: unknown reserve %s", state.ErrInvalidInput, asset)
	}
	return r, nil
}

func (c *DeterministicCore) Reserves() ([]state.Reserve, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, err := c.activePool()
	if err != nil {
		return nil, err
	}
	return p.Reserves(), nil
}

func (c *DeterministicCore) Positions(user uuid.UUID) ([]state.Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, err := c.activePool()
	if err != nil {
		return nil, err
	}
	return p.Positions(user), nil
}

// HealthCheck values the user's account at now. Stale prices surface as
// state.ErrStalePrice.
func (c *DeterministicCore) HealthCheck(user uuid.UUID, now int64) (state.AccountHealth, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, err := c.activePool()
	if err != nil {
		return state.AccountHealth{}, err
	}
	return p.HealthCheck(user, now)
}

func (c *DeterministicCore) PendingRewards(user uuid.UUID) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, err := c.activePool()
	if err != nil {
		return 0, err
	}
	return p.PendingRewards(user)
}

func (c *DeterministicCore) Price(asset string) (state.PriceData, error) {
	return c.prices.GetPrice(asset)
}

func (c *DeterministicCore) BackstopBalance(asset string) int64 {
	return c.fund.Balance(asset)
}

// LedgerBalance returns the balance of the account at path.
func (c *DeterministicCore) LedgerBalance(path string) (int64, error) {
	key, err := ledger.ParseAccountPath(path)
	if err != nil {
		return 0, errors.Join(state.ErrInvalidInput, err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balanceTracker.GetBalance(key), nil
}

// ExpectedSequence returns the next source sequence the partition accepts.
// Partitions are "admin", "keeper", "emitter" and "user:<id>".
func (c *DeterministicCore) ExpectedSequence(partition string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequenceValidator.GetExpectedSequence(partition)
}
