package event

import (
	"testing"

	"LendingPool/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventType(t *testing.T) {
	for et, name := range eventNames {
		got, err := ParseEventType(name)
		require.NoError(t, err)
		assert.Equal(t, et, got)

		got, err = ParseEventType(et.String())
		require.NoError(t, err)
		assert.Equal(t, et, got)
	}

	_, err := ParseEventType("open_position")
	assert.Error(t, err)
}

func TestDecodeSupply(t *testing.T) {
	in := &Supply{UserAction{
		ActionID:  uuid.New(),
		UserID:    uuid.New(),
		Reserve:   "USDC",
		Amount:    10_000_000_000,
		Sequence:  7,
		Timestamp: 1_700_000_000,
	}}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(EventTypeSupply, data)
	require.NoError(t, err)
	require.IsType(t, &Supply{}, out)
	assert.Equal(t, in, out)
	assert.Equal(t, EventTypeSupply, out.EventType())
	assert.Equal(t, "USDC", *out.Asset())
	assert.Equal(t, in.ActionID.String(), out.IdempotencyKey())
	assert.NoError(t, out.Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]Event{
		"zero amount": &Borrow{UserAction{ActionID: uuid.New(), UserID: uuid.New(), Reserve: "XLM"}},
		"no user":     &Repay{UserAction{ActionID: uuid.New(), Reserve: "XLM", Amount: 1}},
		"bad price":   &PriceUpdate{Reserve: "XLM", Price: 0, PriceSequence: 1},
		"bad status":  &ReserveStatusUpdate{UpdateID: uuid.New(), Reserve: "XLM", Status: "on_ice"},
		"no collateral asset": &Liquidate{
			LiquidationID: uuid.New(), LiquidatorID: uuid.New(), BorrowerID: uuid.New(),
			LiabilityAsset: "XLM", Amount: 10,
		},
	}
	for name, evt := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, evt.Validate())
		})
	}
}

func TestPriceUpdateKey(t *testing.T) {
	p := &PriceUpdate{Reserve: "XLM", Price: 1, PriceSequence: 42}
	assert.Equal(t, "XLM:price:42", p.IdempotencyKey())
	assert.Nil(t, (&EmissionDistribute{}).Asset())
}

// The event log stores these payloads; their encoding must not drift.
func TestPayloadEncodingGolden(t *testing.T) {
	user := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	tests := []struct {
		golden string
		evt    Event
	}{
		{"supply.golden.json", &Supply{UserAction{
			ActionID:  uuid.MustParse("11111111-1111-1111-1111-111111111111"),
			UserID:    user,
			Reserve:   "USDC",
			Amount:    10_000_000_000,
			Sequence:  7,
			Timestamp: testutil.BaseTime,
		}}},
		{"liquidate.golden.json", &Liquidate{
			LiquidationID:   uuid.MustParse("33333333-3333-3333-3333-333333333333"),
			LiquidatorID:    uuid.MustParse("44444444-4444-4444-4444-444444444444"),
			BorrowerID:      user,
			LiabilityAsset:  "USDC",
			CollateralAsset: "XLM",
			Amount:          5_000_000,
			Sequence:        3,
			Timestamp:       testutil.BaseTime + 60,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.golden, func(t *testing.T) {
			data, err := Encode(tt.evt)
			require.NoError(t, err)
			testutil.AssertGolden(t, tt.golden, data)

			back, err := Decode(tt.evt.EventType(), testutil.GoldenFile(t, tt.golden))
			require.NoError(t, err)
			assert.Equal(t, tt.evt, back)
		})
	}
}
