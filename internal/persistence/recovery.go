package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"PerpVAMM/internal/event"
	"PerpVAMM/internal/ledger"
	fpmath "PerpVAMM/internal/math"
)

// Recovery is what a restarting process needs beyond state.records: the
// chain tip, recently applied directive IDs for the dedup LRU, and the vault
// balances replayed from the journal.
type Recovery struct {
	Sequence           int64
	StateHash          [32]byte
	RecentDirectiveIDs []uuid.UUID // oldest first
	Balances           map[ledger.AccountKey]fpmath.Int
}

// Empty reports a cold start with no persisted history.
func (r *Recovery) Empty() bool {
	return r.Sequence == 0 && len(r.Balances) == 0
}

// RecoveryLoader reads the history schema back on startup.
type RecoveryLoader struct {
	db *sql.DB
}

func NewRecoveryLoader(db *sql.DB) *RecoveryLoader {
	return &RecoveryLoader{db: db}
}

// Load reads the chain tip, the last recentIDs directive IDs and every
// account balance.
func (rl *RecoveryLoader) Load(ctx context.Context, recentIDs int) (*Recovery, error) {
	rec := &Recovery{}

	var stateHash []byte
	err := rl.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash FROM history.directives
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&rec.Sequence, &stateHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("load chain tip: %w", err)
	default:
		if len(stateHash) != len(rec.StateHash) {
			return nil, fmt.Errorf("chain tip at %d has %d byte hash", rec.Sequence, len(stateHash))
		}
		copy(rec.StateHash[:], stateHash)
	}

	ids, err := rl.recentDirectiveIDs(ctx, recentIDs)
	if err != nil {
		return nil, err
	}
	rec.RecentDirectiveIDs = ids

	balances, err := rl.Balances(ctx)
	if err != nil {
		return nil, err
	}
	rec.Balances = balances
	return rec, nil
}

func (rl *RecoveryLoader) recentDirectiveIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := rl.db.QueryContext(ctx, `
		SELECT directive_id FROM (
			SELECT directive_id, sequence FROM history.directives
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent directive ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Balances nets every journal into per-account balances: debits add,
// credits subtract.
func (rl *RecoveryLoader) Balances(ctx context.Context) (map[ledger.AccountKey]fpmath.Int, error) {
	rows, err := rl.db.QueryContext(ctx, `
		SELECT account, SUM(delta)::TEXT FROM (
			SELECT debit_account AS account, amount AS delta FROM history.journal
			UNION ALL
			SELECT credit_account, -amount FROM history.journal
		) flows
		GROUP BY account
	`)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	defer rows.Close()

	balances := make(map[ledger.AccountKey]fpmath.Int)
	for rows.Next() {
		var path, amount string
		if err := rows.Scan(&path, &amount); err != nil {
			return nil, err
		}
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, err
		}
		v, err := fpmath.IntFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", path, err)
		}
		balances[key] = v
	}
	return balances, rows.Err()
}

// LoadOutputsFrom reads up to limit outputs starting at fromSequence, with
// their records and journals.
func (rl *RecoveryLoader) LoadOutputsFrom(ctx context.Context, fromSequence int64, limit int) ([]event.Output, error) {
	rows, err := rl.db.QueryContext(ctx, `
		SELECT sequence, directive_id, type, signer, market_index, ts, payload, state_hash, prev_hash
		FROM history.directives
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		outputs []event.Output
		index   = make(map[int64]int)
	)
	for rows.Next() {
		var (
			out                 event.Output
			typ                 string
			market              sql.NullInt64
			payload             []byte
			stateHash, prevHash []byte
		)
		if err := rows.Scan(
			&out.Sequence, &out.DirectiveID, &typ, &out.Signer, &market,
			&out.Timestamp, &payload, &stateHash, &prevHash,
		); err != nil {
			return nil, err
		}
		if out.Type, err = event.ParseDirectiveType(typ); err != nil {
			return nil, err
		}
		if market.Valid {
			m := uint64(market.Int64)
			out.MarketIndex = &m
		}
		out.Payload = json.RawMessage(payload)
		copy(out.StateHash[:], stateHash)
		copy(out.PrevHash[:], prevHash)
		index[out.Sequence] = len(outputs)
		outputs = append(outputs, out)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, nil
	}

	first, last := outputs[0].Sequence, outputs[len(outputs)-1].Sequence
	if err := rl.attachRecords(ctx, outputs, index, first, last); err != nil {
		return nil, err
	}
	if err := rl.attachJournals(ctx, outputs, index, first, last); err != nil {
		return nil, err
	}
	return outputs, nil
}

func (rl *RecoveryLoader) attachRecords(ctx context.Context, outputs []event.Output, index map[int64]int, first, last int64) error {
	rows, err := rl.db.QueryContext(ctx, `
		SELECT kind, id, sequence, ts, market_index, data
		FROM history.records
		WHERE sequence BETWEEN $1 AND $2
		ORDER BY sequence, kind, id
	`, first, last)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r      event.Record
			kind   string
			id     int64
			seq    int64
			market sql.NullInt64
			data   []byte
		)
		if err := rows.Scan(&kind, &id, &seq, &r.Ts, &market, &data); err != nil {
			return err
		}
		if r.Kind, err = event.ParseHistoryKind(kind); err != nil {
			return err
		}
		r.ID = uint64(id)
		if market.Valid {
			m := uint64(market.Int64)
			r.MarketIndex = &m
		}
		r.Data = json.RawMessage(data)
		if i, ok := index[seq]; ok {
			outputs[i].Records = append(outputs[i].Records, r)
		}
	}
	return rows.Err()
}

func (rl *RecoveryLoader) attachJournals(ctx context.Context, outputs []event.Output, index map[int64]int, first, last int64) error {
	rows, err := rl.db.QueryContext(ctx, `
		SELECT journal_id, batch_id, directive_id, sequence, debit_account, credit_account,
		       amount::TEXT, journal_type, ts
		FROM history.journal
		WHERE sequence BETWEEN $1 AND $2
		ORDER BY sequence, ts
	`, first, last)
	if err != nil {
		return fmt.Errorf("load journals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			j                     ledger.Journal
			debit, credit, amount string
			typ                   string
		)
		if err := rows.Scan(
			&j.JournalID, &j.BatchID, &j.DirectiveID, &j.Sequence,
			&debit, &credit, &amount, &typ, &j.Timestamp,
		); err != nil {
			return err
		}
		if err := j.DebitAccount.UnmarshalText([]byte(debit)); err != nil {
			return err
		}
		if err := j.CreditAccount.UnmarshalText([]byte(credit)); err != nil {
			return err
		}
		if j.Amount, err = fpmath.UintFromString(amount); err != nil {
			return err
		}
		if err := j.JournalType.UnmarshalText([]byte(typ)); err != nil {
			return err
		}
		if i, ok := index[j.Sequence]; ok {
			outputs[i].Journals = append(outputs[i].Journals, j)
		}
	}
	return rows.Err()
}

// VerifyChain walks the persisted outputs from genesis and checks that
// sequences are contiguous and each prev_hash equals the previous
// state_hash. It returns how many outputs were checked.
func (rl *RecoveryLoader) VerifyChain(ctx context.Context, genesis [32]byte, pageSize int) (int64, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	var (
		next     int64 = 1
		prevHash       = genesis
		checked  int64
	)
	for {
		page, err := rl.LoadOutputsFrom(ctx, next, pageSize)
		if err != nil {
			return checked, err
		}
		for _, out := range page {
			if out.Sequence != next {
				return checked, fmt.Errorf("sequence gap: expected %d, found %d", next, out.Sequence)
			}
			if !bytes.Equal(out.PrevHash[:], prevHash[:]) {
				return checked, fmt.Errorf("hash chain broken at sequence %d", out.Sequence)
			}
			prevHash = out.StateHash
			next++
			checked++
		}
		if len(page) < pageSize {
			return checked, nil
		}
	}
}
