package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateReserveCash verifies the ledger agrees with the reserve's own cash figure
func (v *InvariantValidator) ValidateReserveCash(asset string, cash int64) error {
	assetID, ok := GetAssetID(asset)
	if !ok {
		if cash != 0 {
			return fmt.Errorf("reserve %s holds %d cash but has no ledger account", asset, cash)
		}
		return nil
	}
	if got := v.tracker.ReserveCash(assetID); got != cash {
		return fmt.Errorf("reserve %s cash mismatch: ledger=%d reserve=%d", asset, got, cash)
	}
	return nil
}

// ValidatePoolAccountsNonNegative checks the pool never pays out tokens it does not hold
func (v *InvariantValidator) ValidatePoolAccountsNonNegative(asset string) error {
	assetID, ok := GetAssetID(asset)
	if !ok {
		return nil
	}
	if err := v.tracker.ValidateNonNegative(NewSystemAccountKey(SubTypeReserveCash, assetID)); err != nil {
		return err
	}
	return v.tracker.ValidateNonNegative(NewSystemAccountKey(SubTypeRewardPool, assetID))
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
