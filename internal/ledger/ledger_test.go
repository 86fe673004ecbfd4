package ledger_test

import (
	"testing"

	"LendingPool/internal/ledger"
	"LendingPool/internal/pool"

	"github.com/google/uuid"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assetID := ledger.RegisterAsset("USDC")
	key := ledger.NewUserAccountKey(userID, ledger.SubTypeWallet, assetID)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:wallet:USDC"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	assetID := ledger.RegisterAsset("USDC")
	key := ledger.NewSystemAccountKey(ledger.SubTypeReserveCash, assetID)

	path := key.AccountPath()
	if path != "system:reserve_cash:USDC" {
		t.Errorf("got %q, want %q", path, "system:reserve_cash:USDC")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	assetID := ledger.RegisterAsset("USDC")
	key := ledger.NewExternalAccountKey(ledger.SubTypeBackstop, assetID)

	path := key.AccountPath()
	if path != "external:backstop:USDC" {
		t.Errorf("got %q, want %q", path, "external:backstop:USDC")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	assetID := ledger.RegisterAsset("XLM")
	keys := []ledger.AccountKey{
		ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeWallet, assetID),
		ledger.NewSystemAccountKey(ledger.SubTypeRewardPool, assetID),
		ledger.NewExternalAccountKey(ledger.SubTypeEmitter, assetID),
	}
	for _, k := range keys {
		got, err := ledger.ParseAccountPath(k.AccountPath())
		if err != nil {
			t.Fatalf("parse %q: %v", k.AccountPath(), err)
		}
		if got != k {
			t.Errorf("round trip of %q gave %q", k.AccountPath(), got.AccountPath())
		}
	}

	if _, err := ledger.ParseAccountPath("system:fees"); err == nil {
		t.Error("expected error for malformed path")
	}
	if _, err := ledger.ParseAccountPath("system:collateral:XLM"); err == nil {
		t.Error("expected error for unknown sub-type")
	}
}

func TestRegisterAsset_Stable(t *testing.T) {
	a := ledger.RegisterAsset("WBTC")
	b := ledger.RegisterAsset("WBTC")
	if a != b || a == 0 {
		t.Errorf("registration not stable: %d vs %d", a, b)
	}

	_, ok := ledger.GetAssetID("DOGE-never-registered")
	if ok {
		t.Error("unregistered asset should not be known")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID := ledger.RegisterAsset("USDC")

	if bal := bt.UserWallet(uuid.New(), assetID); bal != 0 {
		t.Errorf("initial balance should be 0, got %d", bal)
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()
	assetID := ledger.RegisterAsset("USDC")

	// Supply: debit reserve cash, credit user wallet
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewSystemAccountKey(ledger.SubTypeReserveCash, assetID),
		CreditAccount: ledger.NewUserAccountKey(userID, ledger.SubTypeWallet, assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	})

	if got := bt.ReserveCash(assetID); got != 1_000_000 {
		t.Errorf("reserve cash: got %d, want 1_000_000", got)
	}
	if got := bt.UserWallet(userID, assetID); got != -1_000_000 {
		t.Errorf("wallet: got %d, want -1_000_000", got)
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID := ledger.RegisterAsset("USDC")

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewSystemAccountKey(ledger.SubTypeReserveCash, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeBackstop, assetID),
		AssetID:       assetID,
		Amount:        999,
	})

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	for k := range snap {
		snap[k] = 0
	}

	if bt.ReserveCash(assetID) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerateReceipt_LiquidationLegs(t *testing.T) {
	liquidator := uuid.New()
	receipt := &pool.Receipt{
		Action:    "liquidate",
		Timestamp: 1_700_000_000,
		Transfers: []pool.Transfer{
			{Purpose: pool.PurposeBackstopInterest, Asset: "USDC", Amount: 10},
			{Purpose: pool.PurposeLiquidationRepay, User: liquidator, Asset: "USDC", Amount: 500},
			{Purpose: pool.PurposeBackstopDraw, Asset: "USDC", Amount: 70},
		},
	}

	jg := ledger.NewJournalGenerator(5)
	batch, err := jg.GenerateReceipt("liq-1", receipt)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(batch.Journals) != 3 {
		t.Fatalf("expected 3 journals, got %d", len(batch.Journals))
	}
	if batch.Sequence != 5 {
		t.Errorf("sequence: got %d, want 5", batch.Sequence)
	}

	bt := ledger.NewBalanceTracker()
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	assetID, _ := ledger.GetAssetID("USDC")
	if got := bt.ReserveCash(assetID); got != 500+70-10 {
		t.Errorf("reserve cash: got %d, want 560", got)
	}
	if got := bt.BackstopNet(assetID); got != 10-70 {
		t.Errorf("backstop net: got %d, want -60", got)
	}
	if got := bt.UserWallet(liquidator, assetID); got != -500 {
		t.Errorf("liquidator wallet: got %d, want -500", got)
	}

	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("ledger should be zero-sum: %v", err)
	}
	if err := v.ValidateReserveCash("USDC", 560); err != nil {
		t.Errorf("reserve cash check: %v", err)
	}
	if err := v.ValidateReserveCash("USDC", 561); err == nil {
		t.Error("expected cash mismatch")
	}

	next := jg.GenerateEmpty("price", 1_700_000_001)
	if next.Sequence != 6 || len(next.Journals) != 0 {
		t.Errorf("empty batch: seq=%d journals=%d", next.Sequence, len(next.Journals))
	}
}

func TestGenerateReceipt_UserlessWithdrawFails(t *testing.T) {
	receipt := &pool.Receipt{
		Transfers: []pool.Transfer{{Purpose: pool.PurposeWithdraw, Asset: "USDC", Amount: 1}},
	}
	if _, err := ledger.NewJournalGenerator(0).GenerateReceipt("x", receipt); err == nil {
		t.Error("withdraw without a user should fail")
	}
}

func TestGenerateReceipt_RewardsFlow(t *testing.T) {
	user := uuid.New()
	jg := ledger.NewJournalGenerator(0)
	bt := ledger.NewBalanceTracker()

	for _, r := range []*pool.Receipt{
		{Transfers: []pool.Transfer{{Purpose: pool.PurposeEmission, Asset: "BLND", Amount: 1_000}}},
		{Transfers: []pool.Transfer{{Purpose: pool.PurposeRewardClaim, User: user, Asset: "BLND", Amount: 400}}},
	} {
		batch, err := jg.GenerateReceipt("r", r)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if err := bt.ApplyBatch(batch); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	assetID, _ := ledger.GetAssetID("BLND")
	if got := bt.RewardPool(assetID); got != 600 {
		t.Errorf("reward pool: got %d, want 600", got)
	}
	if got := bt.UserWallet(user, assetID); got != 400 {
		t.Errorf("user rewards: got %d, want 400", got)
	}
	if err := ledger.NewInvariantValidator(bt).ValidatePoolAccountsNonNegative("BLND"); err != nil {
		t.Errorf("pool accounts: %v", err)
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_NonPositiveAmount_Fails(t *testing.T) {
	assetID := ledger.RegisterAsset("USDC")

	for _, amount := range []int64{0, -100} {
		batchID := uuid.New()
		batch := &ledger.Batch{
			BatchID: batchID,
			Journals: []ledger.Journal{
				{
					JournalID:     uuid.New(),
					BatchID:       batchID,
					DebitAccount:  ledger.NewSystemAccountKey(ledger.SubTypeReserveCash, assetID),
					CreditAccount: ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeWallet, assetID),
					AssetID:       assetID,
					Amount:        amount,
				},
			},
		}

		if err := batch.Validate(); err == nil {
			t.Errorf("amount %d should fail validation", amount)
		}
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID := ledger.RegisterAsset("USDC")
	sameAccount := ledger.NewSystemAccountKey(ledger.SubTypeReserveCash, assetID)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  sameAccount,
				CreditAccount: sameAccount,
				AssetID:       assetID,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	assetID := ledger.RegisterAsset("USDC")

	batch := &ledger.Batch{
		BatchID: uuid.New(),
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       uuid.New(), // Different batch ID
				DebitAccount:  ledger.NewSystemAccountKey(ledger.SubTypeReserveCash, assetID),
				CreditAccount: ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeWallet, assetID),
				AssetID:       assetID,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

func TestBatchValidate_MixedAssets_Fails(t *testing.T) {
	usdc := ledger.RegisterAsset("USDC")
	xlm := ledger.RegisterAsset("XLM")
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewSystemAccountKey(ledger.SubTypeReserveCash, usdc),
				CreditAccount: ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeWallet, xlm),
				AssetID:       usdc,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("cross-asset journal should fail validation")
	}
}
