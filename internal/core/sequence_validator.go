package core

import (
	"errors"
	"fmt"

	"LendingPool/internal/observability"
)

// ErrSequence marks an event whose source sequence is out of order or leaves a gap.
var ErrSequence = errors.New("source sequence rejected")

// SequenceValidator validates source sequences per partition.
// Not thread-safe; only accessed from the single-threaded deterministic core.
// Checks and advances are separate so that a rejected action leaves the
// partition where it was and the caller can resubmit the same sequence.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         metrics,
	}
}

// ValidateSequence checks source sequence ordering without advancing
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		if sv.metrics != nil {
			sv.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("%w: out-of-order event: partition=%s, expected=%d, got=%d",
			ErrSequence, partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		return nil
	}

	if isDuplicate {
		return nil
	}
	if sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
	}
	return fmt.Errorf("%w: sequence gap: partition=%s, expected=%d, got=%d",
		ErrSequence, partition, expected, sourceSequence)
}

// Advance records sourceSequence as applied
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	if sourceSequence+1 > sv.expectedNextSeq[partition] {
		sv.expectedNextSeq[partition] = sourceSequence + 1
	}
}

func pricePartition(asset string) string {
	return fmt.Sprintf("price:%s", asset)
}

// IsNewerPrice reports whether a price sequence should be applied. Gaps are
// tolerated; anything at or below the last applied sequence is stale.
func (sv *SequenceValidator) IsNewerPrice(asset string, priceSequence int64) bool {
	return priceSequence >= sv.expectedNextSeq[pricePartition(asset)]
}

// AdvancePrice records an applied price sequence
func (sv *SequenceValidator) AdvancePrice(asset string, priceSequence int64) {
	sv.Advance(pricePartition(asset), priceSequence)
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// GetAllPartitions returns a copy of every partition's next expected sequence
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// RestorePartition initializes expected sequence (used during recovery)
func (sv *SequenceValidator) RestorePartition(partition string, nextSeq int64) {
	sv.expectedNextSeq[partition] = nextSeq
}
