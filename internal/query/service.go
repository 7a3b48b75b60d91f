package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PerpVAMM/internal/amm"
	"PerpVAMM/internal/core"
	"PerpVAMM/internal/event"
	"PerpVAMM/internal/ledger"
	"PerpVAMM/internal/margin"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/observability"
	"PerpVAMM/internal/oracle"
	"PerpVAMM/internal/persistence"
	"PerpVAMM/internal/position"
	"PerpVAMM/internal/projection"
	"PerpVAMM/internal/state"
)

// ErrHistoryUnavailable is returned by queries that need Postgres when the
// service runs without it.
var ErrHistoryUnavailable = errors.New("query: history database not configured")

// SequenceSource reports the sequence the state reflects. *core.ClearingHouse
// implements it.
type SequenceSource interface {
	Sequence() int64
}

// QueryService answers read-only queries. State queries read the store the
// clearing house commits to; history, journal and funding queries read
// Postgres.
type QueryService struct {
	st      core.Reader
	feed    oracle.Feed
	seq     SequenceSource
	db      *sql.DB
	metrics *observability.Metrics
}

// NewQueryService builds a service over st. db may be nil, in which case
// the Postgres-backed queries fail with ErrHistoryUnavailable.
func NewQueryService(st core.Reader, feed oracle.Feed, seq SequenceSource, db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{st: st, feed: feed, seq: seq, db: db, metrics: metrics}
}

// observe is deferred by every query with a pointer to its named error.
func (qs *QueryService) observe(method string, start time.Time, err *error) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(method).Inc()
	qs.metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if *err != nil {
		qs.metrics.QueryErrors.WithLabelValues(method, errorCode(*err)).Inc()
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, state.ErrUserDoesNotExist),
		errors.Is(err, state.ErrMarketIndexNotInitialized),
		errors.Is(err, state.ErrUserHasNoPositionInMarket):
		return "not_found"
	case errors.Is(err, core.ErrNotBootstrapped), errors.Is(err, ErrHistoryUnavailable):
		return "unavailable"
	case errors.Is(err, fpmath.ErrArithmetic):
		return "arithmetic"
	default:
		return "internal"
	}
}

func (qs *QueryService) asOf() int64 {
	if qs.seq == nil {
		return 0
	}
	return qs.seq.Sequence()
}

// --- Protocol ---

func (qs *QueryService) ProtocolState(ctx context.Context) (ps *state.ProtocolState, err error) {
	defer qs.observe("protocol_state", time.Now(), &err)
	return core.ReadProtocolState(ctx, qs.st)
}

func (qs *QueryService) FeeStructure(ctx context.Context) (fs *state.FeeStructure, err error) {
	defer qs.observe("fee_structure", time.Now(), &err)
	return core.ReadFeeStructure(ctx, qs.st)
}

func (qs *QueryService) OracleGuardRails(ctx context.Context) (r *state.OracleGuardRails, err error) {
	defer qs.observe("oracle_guard_rails", time.Now(), &err)
	return core.ReadOracleGuardRails(ctx, qs.st)
}

func (qs *QueryService) OrderState(ctx context.Context) (os *state.OrderState, err error) {
	defer qs.observe("order_state", time.Now(), &err)
	return core.ReadOrderState(ctx, qs.st)
}

// --- Markets ---

func (qs *QueryService) Market(ctx context.Context, index uint64) (mv *MarketView, err error) {
	defer qs.observe("market", time.Now(), &err)
	m, err := core.ReadMarket(ctx, qs.st, index)
	if err != nil {
		return nil, err
	}
	return marketView(m)
}

// Markets returns every initialized market in index order.
func (qs *QueryService) Markets(ctx context.Context) (out []*MarketView, err error) {
	defer qs.observe("markets", time.Now(), &err)
	ms, err := core.ReadMarkets(ctx, qs.st)
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		v, err := marketView(m)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// MarketsLength is the number of initialized markets.
func (qs *QueryService) MarketsLength(ctx context.Context) (n uint64, err error) {
	defer qs.observe("markets_length", time.Now(), &err)
	ps, err := core.ReadProtocolState(ctx, qs.st)
	if err != nil {
		return 0, err
	}
	return ps.MarketsLength, nil
}

func marketView(m *state.Market) (*MarketView, error) {
	mark, err := amm.MarkPrice(&m.AMM)
	if err != nil {
		return nil, fmt.Errorf("market %d mark price: %w", m.Index, err)
	}
	return &MarketView{Market: m, MarkPrice: mark}, nil
}

// --- Users ---

func (qs *QueryService) User(ctx context.Context, id uuid.UUID) (u *state.User, err error) {
	defer qs.observe("user", time.Now(), &err)
	return core.ReadUser(ctx, qs.st, id)
}

// Position returns the user's position in one market.
func (qs *QueryService) Position(ctx context.Context, user uuid.UUID, market uint64) (pv *PositionView, err error) {
	defer qs.observe("position", time.Now(), &err)
	positions, err := core.ReadPositions(ctx, qs.st, user)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.MarketIndex != market {
			continue
		}
		m, err := core.ReadMarket(ctx, qs.st, market)
		if err != nil {
			return nil, err
		}
		return positionView(p, m)
	}
	return nil, fmt.Errorf("user %s market %d: %w", user, market, state.ErrUserHasNoPositionInMarket)
}

// ActivePositions returns the user's open positions with unrealized pnl.
func (qs *QueryService) ActivePositions(ctx context.Context, user uuid.UUID) (out []*PositionView, err error) {
	defer qs.observe("active_positions", time.Now(), &err)
	holdings, err := qs.holdings(ctx, user)
	if err != nil {
		return nil, err
	}
	for _, h := range holdings {
		if h.Position.BaseAssetAmount.IsZero() {
			continue
		}
		v, err := positionView(h.Position, h.Market)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func positionView(p *state.Position, m *state.Market) (*PositionView, error) {
	v := &PositionView{Position: p}
	mark, err := amm.MarkPrice(&m.AMM)
	if err != nil {
		return nil, err
	}
	v.MarkPrice = mark
	if p.BaseAssetAmount.IsZero() {
		return v, nil
	}
	value, pnl, err := position.ValueAndPnl(p, &m.AMM)
	if err != nil {
		return nil, err
	}
	v.BaseAssetValue, v.UnrealizedPnl = value, pnl
	return v, nil
}

// Orders returns the user's orders in a market.
func (qs *QueryService) Orders(ctx context.Context, user uuid.UUID, market uint64) (out []*state.Order, err error) {
	defer qs.observe("orders", time.Now(), &err)
	if _, err := core.ReadUser(ctx, qs.st, user); err != nil {
		return nil, err
	}
	return core.ReadOrders(ctx, qs.st, user, market)
}

// Account summarises a user's collateral against their open positions.
func (qs *QueryService) Account(ctx context.Context, id uuid.UUID) (s *AccountSummary, err error) {
	defer qs.observe("account", time.Now(), &err)
	u, err := core.ReadUser(ctx, qs.st, id)
	if err != nil {
		return nil, err
	}
	holdings, err := qs.holdings(ctx, id)
	if err != nil {
		return nil, err
	}

	s = &AccountSummary{
		UserID:             u.ID,
		Collateral:         u.Collateral,
		CumulativeDeposits: u.CumulativeDeposits,
		TotalFeePaid:       u.TotalFeePaid,
		AsOfSequence:       qs.asOf(),
	}
	c := fpmath.NewCalc("account_summary")
	for _, h := range holdings {
		if h.Position.BaseAssetAmount.IsZero() {
			continue
		}
		_, pnl, err := position.ValueAndPnl(h.Position, &h.Market.AMM)
		if err != nil {
			return nil, err
		}
		s.UnrealizedPnl = c.IAdd(s.UnrealizedPnl, pnl)
		s.OpenPositions++
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	s.TotalCollateral = position.UpdatedCollateral(u.Collateral, s.UnrealizedPnl)
	if s.InitialMarginRequirement, err = margin.Requirement(holdings, state.LiquidationNone); err != nil {
		return nil, err
	}
	if s.FreeCollateral, _, err = margin.FreeCollateral(u, holdings, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// FreeCollateral is the collateral the user could withdraw or trade with.
func (qs *QueryService) FreeCollateral(ctx context.Context, id uuid.UUID) (free fpmath.Uint, err error) {
	defer qs.observe("free_collateral", time.Now(), &err)
	u, err := core.ReadUser(ctx, qs.st, id)
	if err != nil {
		return fpmath.Uint{}, err
	}
	holdings, err := qs.holdings(ctx, id)
	if err != nil {
		return fpmath.Uint{}, err
	}
	free, _, err = margin.FreeCollateral(u, holdings, nil)
	return free, err
}

// LiquidationStatus evaluates the user against the partial and maintenance
// margin thresholds using the live oracles.
func (qs *QueryService) LiquidationStatus(ctx context.Context, id uuid.UUID) (st state.LiquidationStatus, err error) {
	defer qs.observe("liquidation_status", time.Now(), &err)
	u, err := core.ReadUser(ctx, qs.st, id)
	if err != nil {
		return state.LiquidationStatus{}, err
	}
	rails, err := core.ReadOracleGuardRails(ctx, qs.st)
	if err != nil {
		return state.LiquidationStatus{}, err
	}
	holdings, err := qs.holdings(ctx, id)
	if err != nil {
		return state.LiquidationStatus{}, err
	}
	return margin.Status(u, holdings, qs.oracleSource(ctx), rails)
}

func (qs *QueryService) holdings(ctx context.Context, user uuid.UUID) ([]margin.Holding, error) {
	positions, err := core.ReadPositions(ctx, qs.st, user)
	if err != nil {
		return nil, err
	}
	out := make([]margin.Holding, 0, len(positions))
	for _, p := range positions {
		m, err := core.ReadMarket(ctx, qs.st, p.MarketIndex)
		if err != nil {
			return nil, err
		}
		out = append(out, margin.Holding{Market: m, Position: p})
	}
	return out, nil
}

func (qs *QueryService) oracleSource(ctx context.Context) margin.OracleSource {
	return func(m *state.Market) (state.OraclePriceData, error) {
		if qs.feed == nil {
			return state.OraclePriceData{}, state.ErrOracleNotFound
		}
		return qs.feed.Price(ctx, m.AMM.Oracle)
	}
}

// --- History ---

// History pages through one history log. afterID is exclusive; a nil
// market returns every market.
func (qs *QueryService) History(ctx context.Context, kind event.HistoryKind, market *uint64, afterID uint64, limit int) (page *HistoryPage, err error) {
	defer qs.observe("history", time.Now(), &err)
	if qs.db == nil {
		return nil, ErrHistoryUnavailable
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var marketArg any
	if market != nil {
		marketArg = int64(*market)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT id, ts, market_index, data
		FROM history.records
		WHERE kind = $1 AND id > $2 AND ($3::BIGINT IS NULL OR market_index = $3)
		ORDER BY id
		LIMIT $4
	`, kind.String(), int64(afterID), marketArg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page = &HistoryPage{Kind: kind}
	for rows.Next() {
		var (
			r    = event.Record{Kind: kind}
			id   int64
			mkt  sql.NullInt64
			data []byte
		)
		if err := rows.Scan(&id, &r.Ts, &mkt, &data); err != nil {
			return nil, err
		}
		r.ID, r.Data = uint64(id), data
		if mkt.Valid {
			m := uint64(mkt.Int64)
			r.MarketIndex = &m
		}
		page.Records = append(page.Records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(page.Records) == limit {
		page.Next = page.Records[len(page.Records)-1].ID
	}
	return page, nil
}

// FundingPayments returns the user's funding payments from the projection.
func (qs *QueryService) FundingPayments(ctx context.Context, user uuid.UUID, market *uint64, limit int) (out []projection.FundingPayment, err error) {
	defer qs.observe("funding_payments", time.Now(), &err)
	if qs.db == nil {
		return nil, ErrHistoryUnavailable
	}
	return projection.NewReader(qs.db).FundingPayments(ctx, user, market, limit)
}

// JournalHistory returns vault movements into and out of the user's
// wallet, newest first. beforeSequence is an exclusive cursor; zero starts
// at the tip.
func (qs *QueryService) JournalHistory(ctx context.Context, user uuid.UUID, limit int, beforeSequence int64) (out []JournalHistoryEntry, err error) {
	defer qs.observe("journal_history", time.Now(), &err)
	if qs.db == nil {
		return nil, ErrHistoryUnavailable
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	account := ledger.WalletAccount(user).AccountPath()

	query := `
		SELECT journal_id, directive_id, sequence, debit_account, credit_account,
		       amount::TEXT, journal_type, ts
		FROM history.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []any{account}
	argIdx := 2

	if beforeSequence > 0 {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, beforeSequence)
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

	for rows.Next() {
		var (
			e                          JournalHistoryEntry
			debit, credit, amount, typ string
		)
		if err := rows.Scan(
			&e.JournalID, &e.DirectiveID, &e.Sequence,
			&debit, &credit, &amount, &typ, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if e.DebitAccount, err = ledger.ParseAccountPath(debit); err != nil {
			return nil, err
		}
		if e.CreditAccount, err = ledger.ParseAccountPath(credit); err != nil {
			return nil, err
		}
		if e.Amount, err = fpmath.UintFromString(amount); err != nil {
			return nil, err
		}
		if err := e.JournalType.UnmarshalText([]byte(typ)); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the persisted hash chain from genesis and that the
// projected balances net to zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context, genesis [32]byte) (report *IntegrityReport, err error) {
	defer qs.observe("verify_integrity", time.Now(), &err)
	if qs.db == nil {
		return nil, ErrHistoryUnavailable
	}
	report = &IntegrityReport{}

	checked, chainErr := persistence.NewRecoveryLoader(qs.db).VerifyChain(ctx, genesis, 1000)
	report.CheckedOutputs = checked
	if chainErr != nil {
		report.HashChainError = chainErr.Error()
	}

	balances, err := projection.NewReader(qs.db).Balances(ctx)
	if err != nil {
		return nil, err
	}
	c := fpmath.NewCalc("global_balance")
	for _, b := range balances {
		report.GlobalBalance = c.IAdd(report.GlobalBalance, b.Balance)
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	if report.Watermark, err = projection.Watermark(ctx, qs.db); err != nil {
		return nil, err
	}

	report.IsHealthy = chainErr == nil && report.GlobalBalance.IsZero()
	return report, nil
}
