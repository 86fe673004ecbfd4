package ledger

import (
	"fmt"

	"LendingPool/internal/pool"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from pool receipts
type JournalGenerator struct {
	sequence int64
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{
		sequence: startSequence,
	}
}

// SetSequence realigns the generator with the core after a restore
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// legFor maps a receipt transfer onto its debit and credit accounts.
// Debits increase a balance; pool inflows debit reserve cash.
func legFor(t pool.Transfer, assetID AssetID) (debit, credit AccountKey, jt JournalType, err error) {
	wallet := NewUserAccountKey(t.User, SubTypeWallet, assetID)
	cash := NewSystemAccountKey(SubTypeReserveCash, assetID)
	rewards := NewSystemAccountKey(SubTypeRewardPool, assetID)
	backstop := NewExternalAccountKey(SubTypeBackstop, assetID)
	emitter := NewExternalAccountKey(SubTypeEmitter, assetID)

	needsUser := true
	switch t.Purpose {
	case pool.PurposeSupply:
		debit, credit, jt = cash, wallet, JournalTypeSupply
	case pool.PurposeWithdraw:
		debit, credit, jt = wallet, cash, JournalTypeWithdraw
	case pool.PurposeBorrow:
		debit, credit, jt = wallet, cash, JournalTypeBorrow
	case pool.PurposeRepay:
		debit, credit, jt = cash, wallet, JournalTypeRepay
	case pool.PurposeLiquidationRepay:
		debit, credit, jt = cash, wallet, JournalTypeLiquidationRepay
	case pool.PurposeRewardClaim:
		debit, credit, jt = wallet, rewards, JournalTypeRewardClaim
	case pool.PurposeBackstopInterest:
		debit, credit, jt, needsUser = backstop, cash, JournalTypeBackstopInterest, false
	case pool.PurposeBackstopDraw:
		debit, credit, jt, needsUser = cash, backstop, JournalTypeBackstopDraw, false
	case pool.PurposeEmission:
		debit, credit, jt, needsUser = rewards, emitter, JournalTypeEmission, false
	default:
		return debit, credit, jt, fmt.Errorf("unknown transfer purpose %d", t.Purpose)
	}

	if needsUser && t.User == uuid.Nil {
		return debit, credit, jt, fmt.Errorf("%s transfer without a user", t.Purpose)
	}
	return debit, credit, jt, nil
}

// GenerateReceipt turns every token movement of a receipt into one journal.
// A receipt with no transfers yields an empty batch.
func (jg *JournalGenerator) GenerateReceipt(eventRef string, receipt *pool.Receipt) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: receipt.Timestamp,
		Journals:  make([]Journal, 0, len(receipt.Transfers)),
	}

	for _, t := range receipt.Transfers {
		if t.Amount <= 0 {
			return nil, fmt.Errorf("%s transfer of %d %s", t.Purpose, t.Amount, t.Asset)
		}
		assetID := RegisterAsset(t.Asset)

		debit, credit, jt, err := legFor(t, assetID)
		if err != nil {
			return nil, err
		}

		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  debit,
			CreditAccount: credit,
			AssetID:       assetID,
			Amount:        t.Amount,
			JournalType:   jt,
			Timestamp:     receipt.Timestamp,
		})
	}

	jg.sequence++
	return batch, nil
}

// GenerateEmpty returns a journal-less batch for state-only events
// (price updates, backstop funding) that still take a sequence.
func (jg *JournalGenerator) GenerateEmpty(eventRef string, timestamp int64) *Batch {
	batch := &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  []Journal{},
	}
	jg.sequence++
	return batch
}
