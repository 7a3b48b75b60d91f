package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"PerpVAMM/internal/event"
	"PerpVAMM/internal/ledger"
)

// Postgres caps a statement at 65535 bind parameters.
const maxBindParams = 65535

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// HistoryWriter appends directive outputs to the history schema using
// multi-row INSERTs. Every insert is ON CONFLICT DO NOTHING so a batch that
// was committed but not acknowledged can be written again.
type HistoryWriter struct {
	db *sql.DB
}

func NewHistoryWriter(db *sql.DB) *HistoryWriter {
	return &HistoryWriter{db: db}
}

// WriteOutputs writes the directives, records and journals of outputs in
// one transaction.
func (w *HistoryWriter) WriteOutputs(ctx context.Context, outputs []event.Output) error {
	if len(outputs) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	var (
		records  []recordRow
		journals []ledger.Journal
	)
	for _, out := range outputs {
		for _, r := range out.Records {
			records = append(records, recordRow{Record: r, Sequence: out.Sequence})
		}
		journals = append(journals, out.Journals...)
	}

	if err := writeDirectives(ctx, tx, outputs); err != nil {
		return fmt.Errorf("write directives: %w", err)
	}
	if err := writeRecords(ctx, tx, records); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	if err := writeJournals(ctx, tx, journals); err != nil {
		return fmt.Errorf("write journals: %w", err)
	}
	return tx.Commit()
}

// WriteJournals appends journals that did not come from a directive, such
// as the seeding of the insurance vault.
func (w *HistoryWriter) WriteJournals(ctx context.Context, journals []ledger.Journal) error {
	return writeJournals(ctx, w.db, journals)
}

type recordRow struct {
	event.Record
	Sequence int64
}

func writeDirectives(ctx context.Context, db execer, outputs []event.Output) error {
	const cols = 9
	return insertChunked(ctx, db, len(outputs), cols,
		`INSERT INTO history.directives
			(sequence, directive_id, type, signer, market_index, ts, payload, state_hash, prev_hash)
		VALUES `,
		` ON CONFLICT (sequence) DO NOTHING`,
		func(i int, args []any) []any {
			o := outputs[i]
			return append(args,
				o.Sequence, o.DirectiveID, o.Type.String(), o.Signer, marketIndexArg(o.MarketIndex),
				o.Timestamp, payloadArg(o.Payload), o.StateHash[:], o.PrevHash[:],
			)
		})
}

func writeRecords(ctx context.Context, db execer, records []recordRow) error {
	const cols = 6
	return insertChunked(ctx, db, len(records), cols,
		`INSERT INTO history.records (kind, id, sequence, ts, market_index, data) VALUES `,
		` ON CONFLICT (kind, id) DO NOTHING`,
		func(i int, args []any) []any {
			r := records[i]
			return append(args,
				r.Kind.String(), int64(r.ID), r.Sequence, r.Ts, marketIndexArg(r.MarketIndex), []byte(r.Data),
			)
		})
}

func writeJournals(ctx context.Context, db execer, journals []ledger.Journal) error {
	const cols = 9
	return insertChunked(ctx, db, len(journals), cols,
		`INSERT INTO history.journal
			(journal_id, batch_id, directive_id, sequence, debit_account, credit_account, amount, journal_type, ts)
		VALUES `,
		` ON CONFLICT (journal_id) DO NOTHING`,
		func(i int, args []any) []any {
			j := journals[i]
			return append(args,
				j.JournalID, j.BatchID, j.DirectiveID, j.Sequence,
				j.DebitAccount.AccountPath(), j.CreditAccount.AccountPath(),
				j.Amount.String(), j.JournalType.String(), j.Timestamp,
			)
		})
}

// insertChunked builds "prefix ($1,...),(...) suffix" statements for n rows
// of cols columns, splitting so no statement exceeds maxBindParams.
func insertChunked(
	ctx context.Context,
	db execer,
	n, cols int,
	prefix, suffix string,
	row func(i int, args []any) []any,
) error {
	perStmt := maxBindParams / cols
	for start := 0; start < n; start += perStmt {
		end := min(start+perStmt, n)

		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*cols)
		for i := start; i < end; i++ {
			base := (i - start) * cols
			ph := make([]string, cols)
			for c := range ph {
				ph[c] = fmt.Sprintf("$%d", base+c+1)
			}
			values = append(values, "("+strings.Join(ph, ", ")+")")
			args = row(i, args)
		}

		query := prefix + strings.Join(values, ", ") + suffix
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func marketIndexArg(idx *uint64) any {
	if idx == nil {
		return nil
	}
	return int64(*idx)
}

func payloadArg(p []byte) []byte {
	if len(p) == 0 {
		return []byte("{}")
	}
	return p
}
