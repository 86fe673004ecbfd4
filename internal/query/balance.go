// internal/query/balance.go
package query

import (
	"context"
	"fmt"

	fpmath "LendingPool/internal/math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceResponse is one ledger account of a user. Wallet balances are the
// user's net receipts from the pool, so they go negative after a supply.
type BalanceResponse struct {
	AccountPath  string `json:"account_path"`
	Asset        string `json:"asset"`
	Balance      string `json:"balance"`
	Raw          int64  `json:"raw"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GetBalances returns every projected ledger account of a user.
func (qs *QueryService) GetBalances(ctx context.Context, userID uuid.UUID) ([]BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT b.account_path, b.asset, b.balance, COALESCE(r.decimals, 7)
		FROM projections.balances b
		LEFT JOIN projections.reserves r ON r.asset = b.asset
		WHERE b.account_path LIKE $1
		ORDER BY b.account_path
	`, fmt.Sprintf("user:%s:%%", userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceResponse
	for rows.Next() {
		var (
			b        BalanceResponse
			decimals uint32
		)
		if err := rows.Scan(&b.AccountPath, &b.Asset, &b.Raw, &decimals); err != nil {
			return nil, err
		}
		b.Balance = FormatAmount(b.Raw, decimals)
		b.AsOfSequence = asOfSeq
		out = append(out, b)
	}
	return out, rows.Err()
}

// FormatAmount renders raw token base units at the given decimals.
func FormatAmount(raw int64, decimals uint32) string {
	return decimal.New(raw, -int32(decimals)).String()
}

// FormatScalar7 renders a Scalar7 factor, e.g. 8_000_000 -> "0.8".
func FormatScalar7(v int64) string {
	return decimal.New(v, -7).String()
}

// FormatIndex renders a Scalar12 index.
func FormatIndex(v int64) string {
	return decimal.New(v, -12).String()
}

// SharesToTokens converts shares at a Scalar12 index to tokens, rounded down
// like the pool's own conversion for display.
func SharesToTokens(shares, index int64) decimal.Decimal {
	return decimal.NewFromInt(shares).
		Mul(decimal.NewFromInt(index)).
		Div(decimal.NewFromInt(fpmath.Scalar12)).
		Floor()
}

// FormatHealthFactor renders a Scalar7 health factor; debt-free accounts
// report "inf".
func FormatHealthFactor(hf int64) string {
	if hf == maxHealthFactor {
		return "inf"
	}
	return FormatScalar7(hf)
}
