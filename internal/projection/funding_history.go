package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"PerpVAMM/internal/ledger"
	fpmath "PerpVAMM/internal/math"
)

// FundingPayment is one settled funding payment of a user. Positive means
// the user received funding.
type FundingPayment struct {
	RecordID        uint64     `json:"record_id"`
	User            uuid.UUID  `json:"user"`
	MarketIndex     uint64     `json:"market_index"`
	FundingPayment  fpmath.Int `json:"funding_payment"`
	BaseAssetAmount fpmath.Int `json:"base_asset_amount"`
	Sequence        int64      `json:"sequence"`
	Ts              int64      `json:"ts"`
}

// AccountBalance is the projected net balance of one ledger account.
type AccountBalance struct {
	Account      ledger.AccountKey `json:"account"`
	Balance      fpmath.Int        `json:"balance"`
	LastSequence int64             `json:"last_sequence"`
}

// Reader serves queries against the projection tables.
type Reader struct {
	db *sql.DB
}

func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// FundingPayments returns a user's funding payments, newest first. A nil
// market returns every market.
func (r *Reader) FundingPayments(ctx context.Context, user uuid.UUID, market *uint64, limit int) ([]FundingPayment, error) {
	if limit <= 0 {
		limit = 100
	}
	var marketArg any
	if market != nil {
		marketArg = int64(*market)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT record_id, user_id, market_index, funding_payment::TEXT, base_asset_amount::TEXT, sequence, ts
		FROM projections.funding_payments
		WHERE user_id = $1 AND ($2::BIGINT IS NULL OR market_index = $2)
		ORDER BY ts DESC, record_id DESC
		LIMIT $3
	`, user, marketArg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FundingPayment
	for rows.Next() {
		var (
			p               FundingPayment
			recordID, mkt   int64
			payment, amount string
		)
		if err := rows.Scan(&recordID, &p.User, &mkt, &payment, &amount, &p.Sequence, &p.Ts); err != nil {
			return nil, err
		}
		p.RecordID, p.MarketIndex = uint64(recordID), uint64(mkt)
		if p.FundingPayment, err = fpmath.IntFromString(payment); err != nil {
			return nil, fmt.Errorf("funding payment %d: %w", recordID, err)
		}
		if p.BaseAssetAmount, err = fpmath.IntFromString(amount); err != nil {
			return nil, fmt.Errorf("funding payment %d: %w", recordID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Balances returns every projected account balance ordered by account.
func (r *Reader) Balances(ctx context.Context) ([]AccountBalance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account, balance::TEXT, last_sequence
		FROM projections.vault_balances
		ORDER BY account
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccountBalance
	for rows.Next() {
		var (
			b             AccountBalance
			path, balance string
		)
		if err := rows.Scan(&path, &balance, &b.LastSequence); err != nil {
			return nil, err
		}
		if b.Account, err = ledger.ParseAccountPath(path); err != nil {
			return nil, err
		}
		if b.Balance, err = fpmath.IntFromString(balance); err != nil {
			return nil, fmt.Errorf("balance of %s: %w", path, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
