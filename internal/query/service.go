package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"LendingPool/internal/observability"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a queried reserve does not exist.
var ErrNotFound = errors.New("not found")

const maxHealthFactor = math.MaxInt64

// QueryService provides read-only access to projection tables. All responses
// include as_of_sequence, the projection watermark at read time.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// observe records a query's outcome. Call it deferred with the named error.
func (qs *QueryService) observe(endpoint string, start time.Time, err *error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if *err != nil {
		status = "error"
		if errors.Is(*err, ErrNotFound) {
			status = "not_found"
		}
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

const reserveColumns = `
	asset, reserve_index, status, decimals, supply_index, liability_index,
	total_supply_shares, total_liability_shares, cash, backstop_credit,
	bad_debt, last_accrual, borrow_rate, supply_rate`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReserve(row rowScanner, asOfSeq int64) (*ReserveResponse, error) {
	var (
		r                             ReserveResponse
		supplyIdx, liabIdx            int64
		supplyShares, liabShares      int64
		cash, backstopCredit, badDebt int64
		borrowRate, supplyRate        int64
	)
	if err := row.Scan(
		&r.Asset, &r.Index, &r.Status, &r.Decimals, &supplyIdx, &liabIdx,
		&supplyShares, &liabShares, &cash, &backstopCredit, &badDebt, &r.LastAccrual,
		&borrowRate, &supplyRate,
	); err != nil {
		return nil, err
	}

	supplied := SharesToTokens(supplyShares, supplyIdx)
	borrowed := SharesToTokens(liabShares, liabIdx)
	shift := -int32(r.Decimals)

	r.SupplyIndex = FormatIndex(supplyIdx)
	r.LiabilityIndex = FormatIndex(liabIdx)
	r.TotalSupplied = supplied.Shift(shift).String()
	r.TotalBorrowed = borrowed.Shift(shift).String()
	r.Cash = FormatAmount(cash, r.Decimals)
	r.BackstopCredit = FormatAmount(backstopCredit, r.Decimals)
	r.BadDebt = FormatAmount(badDebt, r.Decimals)
	r.Utilization = "0"
	if supplied.IsPositive() {
		r.Utilization = borrowed.DivRound(supplied, 7).String()
	}
	r.BorrowAPR = FormatScalar7(borrowRate)
	r.SupplyAPR = FormatScalar7(supplyRate)
	r.AsOfSequence = asOfSeq
	return &r, nil
}

// GetReserve returns one reserve.
func (qs *QueryService) GetReserve(ctx context.Context, asset string) (_ *ReserveResponse, err error) {
	defer qs.observe("get_reserve", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	r, err := scanReserve(qs.db.QueryRowContext(ctx,
		`SELECT `+reserveColumns+` FROM projections.reserves WHERE asset = $1`, asset), asOfSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: reserve %s", ErrNotFound, asset)
	}
	return r, err
}

// ListReserves returns every reserve in registration order.
func (qs *QueryService) ListReserves(ctx context.Context) (_ []ReserveResponse, err error) {
	defer qs.observe("list_reserves", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx,
		`SELECT `+reserveColumns+` FROM projections.reserves ORDER BY reserve_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReserveResponse
	for rows.Next() {
		r, err := scanReserve(rows, asOfSeq)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetPositions returns all positions for a user, with token amounts valued at
// the projected indices.
func (qs *QueryService) GetPositions(ctx context.Context, userID uuid.UUID) (_ []PositionResponse, err error) {
	defer qs.observe("get_positions", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT p.asset, p.supply_shares, p.liability_shares, p.accrued_rewards,
		       r.supply_index, r.liability_index, r.decimals
		FROM projections.positions p
		JOIN projections.reserves r ON r.asset = p.asset
		WHERE p.user_id = $1
		ORDER BY r.reserve_index
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var (
			p                  PositionResponse
			supplyIdx, liabIdx int64
			decimals           uint32
		)
		if err := rows.Scan(
			&p.Asset, &p.SupplyShares, &p.LiabilityShares, &p.AccruedRewards,
			&supplyIdx, &liabIdx, &decimals,
		); err != nil {
			return nil, err
		}
		p.UserID = userID
		p.Supplied = SharesToTokens(p.SupplyShares, supplyIdx).Shift(-int32(decimals)).String()
		p.Borrowed = SharesToTokens(p.LiabilityShares, liabIdx).Shift(-int32(decimals)).String()
		p.AsOfSequence = asOfSeq
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// GetLiquidations returns liquidations of a borrower, newest first.
// beforeSequence pages backwards when set.
func (qs *QueryService) GetLiquidations(
	ctx context.Context,
	borrower uuid.UUID,
	limit int,
	beforeSequence *int64,
) (_ []LiquidationResponse, err error) {
	defer qs.observe("get_liquidations", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT sequence, liquidator, borrower, liability_asset, collateral_asset,
		       repay_amount, seize_tokens, seize_shares, capped, shortfall, bad_debt,
		       pre_health_factor, post_health_factor, timestamp
		FROM projections.liquidations
		WHERE borrower = $1
	`
	args := []any{borrower}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LiquidationResponse
	for rows.Next() {
		var (
			r           LiquidationResponse
			preHF, post int64
		)
		if err := rows.Scan(
			&r.Sequence, &r.Liquidator, &r.Borrower, &r.LiabilityAsset, &r.CollateralAsset,
			&r.RepayAmount, &r.SeizeTokens, &r.SeizeShares, &r.Capped, &r.Shortfall, &r.BadDebt,
			&preHF, &post, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		r.PreHealthFactor = FormatHealthFactor(preHF)
		r.PostHealthFactor = FormatHealthFactor(post)
		r.AsOfSequence = asOfSeq
		results = append(results, r)
	}

	return results, rows.Err()
}

// GetJournalHistory returns journal entries touching a user's accounts.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	afterSequence *int64,
) (_ []JournalHistoryEntry, err error) {
	defer qs.observe("get_journal_history", time.Now(), &err)

	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and that
// projected balances sum to zero per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (_ *IntegrityReport, err error) {
	defer qs.observe("verify_integrity", time.Now(), &err)

	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance)::BIGINT AS total
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.Asset, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
