package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeSupply JournalType = iota
	JournalTypeWithdraw
	JournalTypeBorrow
	JournalTypeRepay
	JournalTypeLiquidationRepay
	JournalTypeBackstopInterest
	JournalTypeBackstopDraw
	JournalTypeEmission
	JournalTypeRewardClaim
	JournalTypeAdjustment
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeSupply:
		return "supply"
	case JournalTypeWithdraw:
		return "withdraw"
	case JournalTypeBorrow:
		return "borrow"
	case JournalTypeRepay:
		return "repay"
	case JournalTypeLiquidationRepay:
		return "liquidation_repay"
	case JournalTypeBackstopInterest:
		return "backstop_interest"
	case JournalTypeBackstopDraw:
		return "backstop_draw"
	case JournalTypeEmission:
		return "emission"
	case JournalTypeRewardClaim:
		return "reward_claim"
	case JournalTypeAdjustment:
		return "adjustment"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source event
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Token base units (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (unix seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from credit to debit, so every entry
// balances on its own; multi-leg operations (liquidation repay plus backstop
// draw) are several entries under one batch_id.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
