package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"LendingPool/internal/core"
	"LendingPool/internal/observability"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on the persist channel with a blocking send, so if this
// worker falls behind the core stalls and no event is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	// Sequence of the last committed event, -1 before the first flush.
	lastPersisted atomic.Int64

	// Called after each successful commit with the flushed outputs.
	onCommit func([]core.CoreOutput)
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushTimeout <= 0 {
		flushTimeout = 10 * time.Millisecond
	}
	pw := &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       observability.NewLogger("persistence"),
	}
	pw.lastPersisted.Store(-1)
	return pw
}

// OnCommit registers fn to receive outputs once they are durable. The
// outbound publisher hangs off this so nothing is published before it is
// in the log.
func (pw *PersistenceWorker) OnCommit(fn func([]core.CoreOutput)) {
	pw.onCommit = fn
}

// SetLastPersisted seeds the durable watermark after recovery.
func (pw *PersistenceWorker) SetLastPersisted(seq int64) {
	pw.lastPersisted.Store(seq)
}

// LastPersisted returns the sequence of the last committed event.
func (pw *PersistenceWorker) LastPersisted() int64 {
	return pw.lastPersisted.Load()
}

// Run batches incoming outputs and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled or the input
// channel is closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := make([]core.CoreOutput, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Drain whatever the core already handed over.
		drain:
			for {
				select {
				case output, ok := <-pw.inputChan:
					if !ok {
						break drain
					}
					batch = append(batch, output)
				default:
					break drain
				}
			}
			return pw.finalFlush(batch, ctx.Err())

		case output, ok := <-pw.inputChan:
			if !ok {
				return pw.finalFlush(batch, nil)
			}

			batch = append(batch, output)
			if len(batch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

func (pw *PersistenceWorker) finalFlush(batch []core.CoreOutput, cause error) error {
	if len(batch) > 0 {
		if err := pw.flush(context.Background(), batch); err != nil {
			pw.logger.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
			return fmt.Errorf("final flush: %w", err)
		}
	}
	return cause
}

// flushWithRetry retries with exponential backoff. The worker never drops a
// batch: it retries until the write succeeds or the context is cancelled.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch []core.CoreOutput) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("events", len(batch)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				return pw.finalFlush(batch, nil)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}

		pw.logger.Error().Err(err).Msg("persistence flush failed")
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch []core.CoreOutput) error {
	start := time.Now()

	events := make([]EventRow, 0, len(batch))
	journals := make([]JournalRow, 0, len(batch)*2)
	for _, out := range batch {
		row, js := RowsFromOutput(out)
		events = append(events, row)
		journals = append(journals, js...)
	}

	// Events and journals commit together.
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.recordError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.recordError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.recordError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.recordError("tx_commit")
		return err
	}

	last := events[len(events)-1].Sequence
	pw.lastPersisted.Store(last)

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(last))
	}

	if pw.onCommit != nil {
		pw.onCommit(batch)
	}
	return nil
}

func (pw *PersistenceWorker) recordError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
