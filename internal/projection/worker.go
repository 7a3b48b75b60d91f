package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PerpVAMM/internal/event"
	"PerpVAMM/internal/ledger"
	"PerpVAMM/internal/observability"
)

// Name is the watermark key of this worker.
const Name = "main"

// ProjectionWorker updates the projection tables from applied outputs.
// The clearing house sends on the projection channel without blocking and
// drops when it is full; a worker that fell behind is brought back with
// Rebuild, which replays the history tables.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan event.Output
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan event.Output, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// Run applies outputs until ctx is cancelled or the channel closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	last, err := Watermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = last

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if out.Sequence <= pw.lastSeq {
				continue
			}
			if pw.lastSeq > 0 && out.Sequence != pw.lastSeq+1 {
				pw.logger.Warn().
					Int64("expected", pw.lastSeq+1).
					Int64("sequence", out.Sequence).
					Msg("projection gap, rebuild from history to repair")
			}

			start := time.Now()
			if err := pw.Apply(ctx, out); err != nil {
				// Projections are eventually consistent and rebuilt from history.
				pw.logger.Warn().Err(err).Int64("sequence", out.Sequence).Msg("projection update failed")
				continue
			}
			pw.lastSeq = out.Sequence
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(Name).Observe(time.Since(start).Seconds())
				pw.metrics.ProjectionWatermark.WithLabelValues(Name).Set(float64(out.Sequence))
			}
		}
	}
}

// Apply folds one output into the projections and advances the watermark,
// in one transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, out event.Output) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range out.Journals {
		if err := updateBalance(ctx, tx, j, out.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	for _, r := range out.Records {
		if r.Kind != event.HistoryFundingPayment {
			continue
		}
		if err := insertFundingPayment(ctx, tx, r, out.Sequence); err != nil {
			return fmt.Errorf("funding projection: %w", err)
		}
	}

	if err := setWatermark(ctx, tx, out.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return tx.Commit()
}

func updateBalance(ctx context.Context, tx *sql.Tx, j ledger.Journal, seq int64) error {
	// Debit account: increase balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.vault_balances (account, balance, last_sequence, updated_at)
		VALUES ($1, $2::NUMERIC, $3, NOW())
		ON CONFLICT (account)
		DO UPDATE SET balance = projections.vault_balances.balance + EXCLUDED.balance,
		              last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`, j.DebitAccount.AccountPath(), j.Amount.String(), seq); err != nil {
		return err
	}

	// Credit account: decrease balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.vault_balances (account, balance, last_sequence, updated_at)
		VALUES ($1, -($2::NUMERIC), $3, NOW())
		ON CONFLICT (account)
		DO UPDATE SET balance = projections.vault_balances.balance + EXCLUDED.balance,
		              last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`, j.CreditAccount.AccountPath(), j.Amount.String(), seq); err != nil {
		return err
	}
	return nil
}

func insertFundingPayment(ctx context.Context, tx *sql.Tx, r event.Record, seq int64) error {
	var p event.FundingPaymentRecord
	if err := json.Unmarshal(r.Data, &p); err != nil {
		return fmt.Errorf("decode funding payment %d: %w", r.ID, err)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.funding_payments
			(record_id, user_id, market_index, funding_payment, base_asset_amount, sequence, ts)
		VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)
		ON CONFLICT (record_id) DO NOTHING
	`, int64(r.ID), p.User, int64(p.MarketIndex), p.FundingPayment.String(), p.BaseAssetAmount.String(), seq, r.Ts)
	return err
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`, Name, seq)
	return err
}

// Watermark returns the last sequence the projections reflect, zero when
// they are empty.
func Watermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection = $1`, Name,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// RebuildProjections recomputes every projection table from the history
// schema in one transaction.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	logger := observability.NewLogger("projection")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	truncateStatements := []string{
		`TRUNCATE projections.vault_balances`,
		`TRUNCATE projections.funding_payments`,
		`DELETE FROM projections.watermark WHERE projection = '` + Name + `'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.vault_balances (account, balance, last_sequence, updated_at)
		SELECT account, SUM(delta), MAX(sequence), NOW() FROM (
			SELECT debit_account AS account, amount AS delta, sequence FROM history.journal
			UNION ALL
			SELECT credit_account, -amount, sequence FROM history.journal
		) flows
		GROUP BY account
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.funding_payments
			(record_id, user_id, market_index, funding_payment, base_asset_amount, sequence, ts)
		SELECT id,
		       (data->>'user')::UUID,
		       (data->>'market_index')::BIGINT,
		       (data->>'funding_payment')::NUMERIC,
		       (data->>'base_asset_amount')::NUMERIC,
		       sequence,
		       ts
		FROM history.records
		WHERE kind = $1
	`, event.HistoryFundingPayment.String()); err != nil {
		return fmt.Errorf("rebuild funding payments: %w", err)
	}

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM history.directives`).Scan(&last); err != nil {
		return fmt.Errorf("read history tip: %w", err)
	}
	if last.Valid {
		if err := setWatermark(ctx, tx, last.Int64); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Int64("watermark", last.Int64).Msg("projection rebuild complete")
	return nil
}
