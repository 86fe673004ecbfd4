package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"LendingPool/internal/core"
	"LendingPool/internal/event"
	"LendingPool/internal/ledger"
	"LendingPool/internal/observability"
	"LendingPool/internal/persistence"
	"LendingPool/internal/pool"

	"github.com/rs/zerolog"
)

const workerID = "main"

// ProjectionWorker updates projection tables from processed events. The
// projection channel is non-blocking with drop; projections that fall behind
// are rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			seq := output.Envelope.Sequence
			if seq <= pw.lastSeq {
				continue
			}
			if pw.lastSeq > 0 && seq != pw.lastSeq+1 {
				pw.logger.Warn().Int64("last", pw.lastSeq).Int64("got", seq).
					Msg("projection gap, rebuild from the event log to recover")
			}

			if err := Apply(ctx, pw.db, output, pw.metrics); err != nil {
				// Projections are eventually consistent and can be rebuilt.
				pw.logger.Warn().Err(err).Int64("seq", seq).Msg("projection update failed")
				continue
			}
			pw.lastSeq = seq
		}
	}
}

// Apply projects one core output in a single transaction and advances the
// watermark.
func Apply(ctx context.Context, db *sql.DB, output core.CoreOutput, metrics *observability.Metrics) error {
	seq := output.Envelope.Sequence

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.Batch != nil {
		start := time.Now()
		for _, j := range output.Batch.Journals {
			if err := updateBalanceProjection(ctx, tx, j, seq); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
		observe(metrics, "balances", start)
	}

	if r := output.Receipt; r != nil {
		start := time.Now()
		if err := updateReserveProjection(ctx, tx, r, seq); err != nil {
			return fmt.Errorf("reserve projection: %w", err)
		}
		observe(metrics, "reserves", start)

		start = time.Now()
		if err := updatePositionProjection(ctx, tx, r, seq); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
		observe(metrics, "positions", start)

		if r.Liquidation != nil {
			start = time.Now()
			if err := insertLiquidation(ctx, tx, r, seq); err != nil {
				return fmt.Errorf("liquidation projection: %w", err)
			}
			observe(metrics, "liquidations", start)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, workerID, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func observe(metrics *observability.Metrics, projection string, start time.Time) {
	if metrics != nil {
		metrics.ProjectionUpdateDur.WithLabelValues(projection).Observe(time.Since(start).Seconds())
	}
}

// updateBalanceProjection applies one journal: the debit account's balance
// increases and the credit account's decreases.
func updateBalanceProjection(ctx context.Context, tx *sql.Tx, j ledger.Journal, seq int64) error {
	asset, _ := ledger.GetAssetName(j.AssetID)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.DebitAccount.AccountPath(), asset, j.Amount, seq); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, -$3::BIGINT, $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.CreditAccount.AccountPath(), asset, j.Amount, seq)
	return err
}

func updateReserveProjection(ctx context.Context, tx *sql.Tx, receipt *pool.Receipt, seq int64) error {
	for i := range receipt.Reserves {
		r := &receipt.Reserves[i]
		borrowRate, supplyRate, err := r.Rates()
		if err != nil {
			return fmt.Errorf("rates %s: %w", r.Asset, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.reserves (
				asset, reserve_index, decimals, status, supply_index, liability_index,
				total_supply_shares, total_liability_shares, cash, backstop_credit,
				bad_debt, last_accrual, borrow_rate, supply_rate, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (asset) DO UPDATE SET
				status = $4, supply_index = $5, liability_index = $6,
				total_supply_shares = $7, total_liability_shares = $8, cash = $9,
				backstop_credit = $10, bad_debt = $11, last_accrual = $12,
				borrow_rate = $13, supply_rate = $14, last_sequence = $15
		`, r.Asset, r.Index, r.Config.Decimals, r.Status.String(), r.SupplyIndex, r.LiabilityIndex,
			r.TotalSupplyShares, r.TotalLiabilityShares, r.Cash, r.BackstopCredit,
			r.BadDebt, r.LastAccrual, borrowRate, supplyRate, seq); err != nil {
			return err
		}
	}
	return nil
}

func updatePositionProjection(ctx context.Context, tx *sql.Tx, receipt *pool.Receipt, seq int64) error {
	for _, pc := range receipt.Positions {
		p := pc.Position
		if pc.Deleted {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM projections.positions WHERE user_id = $1 AND asset = $2
			`, p.UserID, p.Asset); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions
				(user_id, asset, supply_shares, liability_shares, accrued_rewards, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, asset) DO UPDATE SET
				supply_shares = $3, liability_shares = $4, accrued_rewards = $5, last_sequence = $6
		`, p.UserID, p.Asset, p.SupplyShares, p.LiabilityShares, p.AccruedRewards, seq); err != nil {
			return err
		}
	}
	return nil
}

func insertLiquidation(ctx context.Context, tx *sql.Tx, receipt *pool.Receipt, seq int64) error {
	liq := receipt.Liquidation

	var shortfall, badDebt int64
	for _, s := range liq.Shortfall {
		shortfall += s.Amount
		badDebt += s.Recorded
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidations (
			sequence, liquidator, borrower, liability_asset, collateral_asset,
			repay_amount, seize_tokens, seize_shares, capped, shortfall, bad_debt,
			pre_health_factor, post_health_factor, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (sequence) DO NOTHING
	`, seq, liq.Liquidator, liq.Borrower, liq.LiabilityAsset, liq.CollateralAsset,
		liq.Plan.RepayAmount, liq.Plan.SeizeTokens, liq.Plan.SeizeShares, liq.Plan.Capped,
		shortfall, badDebt, liq.Plan.PreHealth.HealthFactor, liq.PostHealth.HealthFactor,
		receipt.Timestamp)
	return err
}

// RebuildProjections truncates every projection table and rebuilds them by
// replaying the event log into a scratch core.
func RebuildProjections(ctx context.Context, db *sql.DB, metrics *observability.Metrics) (int64, error) {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.reserves`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.liquidations`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("truncate failed: %w", err)
		}
	}

	scratch, err := core.NewDeterministicCore(1, nil, nil, nil, 0, nil)
	if err != nil {
		return 0, err
	}

	mgr := persistence.NewSnapshotManager(db)
	n, err := mgr.ReplayLog(ctx, 1, 1000, func(env *event.EventEnvelope) error {
		out, err := scratch.ReplayEventOutput(env)
		if err != nil {
			return err
		}
		return Apply(ctx, db, *out, metrics)
	})
	if err != nil {
		return n, fmt.Errorf("rebuild: %w", err)
	}

	lg := observability.NewLogger("projection")
	lg.Info().Int64("events", n).Msg("projection rebuild complete")
	return n, nil
}
