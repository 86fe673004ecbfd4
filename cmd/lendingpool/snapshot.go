package main

import (
	"context"
	"fmt"
	"time"

	"LendingPool/internal/core"
	"LendingPool/internal/observability"
	"LendingPool/internal/persistence"

	"github.com/rs/zerolog"
)

const snapshotCheckInterval = 10 * time.Second

// snapshotter saves a snapshot every interval events. A snapshot is written
// unverified and marked verified once every event it covers is committed.
type snapshotter struct {
	core     *core.DeterministicCore
	mgr      *persistence.SnapshotManager
	persist  *persistence.PersistenceWorker
	interval int64
	metrics  *observability.Metrics
	logger   zerolog.Logger

	lastSeq int64
	pending []int64
}

func (s *snapshotter) run(ctx context.Context, tick func()) {
	if s.interval <= 0 {
		s.interval = 100_000
	}
	s.lastSeq = s.core.LastSequence()

	ticker := time.NewTicker(snapshotCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if tick != nil {
				tick()
			}
			s.verifyPending(ctx)

			if s.core.LastSequence()-s.lastSeq < s.interval {
				continue
			}
			if err := s.take(ctx, false); err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
			}
		}
	}
}

// take captures the core state and saves it. final is set at shutdown,
// after the last flush.
func (s *snapshotter) take(ctx context.Context, final bool) error {
	start := time.Now()

	state := s.core.CreateSnapshotState()
	if state.Sequence < 1 {
		return nil
	}
	data := persistence.FromCoreState(state, start)

	size, err := s.mgr.SaveSnapshot(ctx, data)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.lastSeq = data.Sequence
	s.pending = append(s.pending, data.Sequence)
	s.verifyPending(ctx)

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(data.Sequence))
	}
	s.logger.Info().
		Int64("sequence", data.Sequence).
		Int("bytes", size).
		Bool("final", final).
		Int("unverified", len(s.pending)).
		Msg("snapshot saved")
	return nil
}

func (s *snapshotter) verifyPending(ctx context.Context) {
	persisted := s.persist.LastPersisted()
	kept := s.pending[:0]
	for _, seq := range s.pending {
		if seq > persisted {
			kept = append(kept, seq)
			continue
		}
		if err := s.mgr.MarkVerified(ctx, seq); err != nil {
			s.logger.Warn().Err(err).Int64("sequence", seq).Msg("mark snapshot verified failed")
			kept = append(kept, seq)
		}
	}
	s.pending = kept
}
