package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"PerpVAMM/internal/event"
	"PerpVAMM/internal/funding"
	"PerpVAMM/internal/ledger"
	"PerpVAMM/internal/margin"
	"PerpVAMM/internal/oracle"
	"PerpVAMM/internal/order"
	"PerpVAMM/internal/state"
)

// txn is the working set of one directive. Records are loaded once through
// the batch and mutated in place; flush stages every record whose encoding
// changed. Dropping a txn without flushing discards all of it.
type txn struct {
	ctx   context.Context
	batch *ledger.Batch
	feed  oracle.Feed
	now   int64

	orig map[string][]byte

	protocol     *state.ProtocolState
	feeStructure *state.FeeStructure
	rails        *state.OracleGuardRails
	orderState   *state.OrderState
	history      HistoryLengths

	markets   map[uint64]*state.Market
	users     map[uuid.UUID]*state.User
	positions map[string]*state.Position
	books     map[string]*cachedBook

	records     []event.Record
	liquidation *event.LiquidationRecord
}

type cachedBook struct {
	user      uuid.UUID
	book      *order.Book
	oldLength uint64
}

func newTxn(ctx context.Context, batch *ledger.Batch, feed oracle.Feed) *txn {
	return &txn{
		ctx:       ctx,
		batch:     batch,
		feed:      feed,
		now:       batch.Timestamp,
		orig:      make(map[string][]byte),
		markets:   make(map[uint64]*state.Market),
		users:     make(map[uuid.UUID]*state.User),
		positions: make(map[string]*state.Position),
		books:     make(map[string]*cachedBook),
	}
}

// load reads key through the batch and remembers its bytes. found is false
// for a missing key.
func load[T any](t *txn, key string) (v *T, found bool, err error) {
	v, data, err := readRecord[T](t.ctx, t.batch, key)
	if err != nil || v == nil {
		return nil, false, err
	}
	t.orig[key] = data
	return v, true, nil
}

func (t *txn) protocolState() (*state.ProtocolState, error) {
	if t.protocol == nil {
		ps, found, err := load[state.ProtocolState](t, state.KeyProtocolState)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNotBootstrapped
		}
		t.protocol = ps
	}
	return t.protocol, nil
}

func (t *txn) fees() (*state.FeeStructure, error) {
	if t.feeStructure == nil {
		fs, found, err := load[state.FeeStructure](t, state.KeyFeeStructure)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNotBootstrapped
		}
		t.feeStructure = fs
	}
	return t.feeStructure, nil
}

func (t *txn) guardRails() (*state.OracleGuardRails, error) {
	if t.rails == nil {
		r, found, err := load[state.OracleGuardRails](t, state.KeyOracleGuardRails)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNotBootstrapped
		}
		t.rails = r
	}
	return t.rails, nil
}

func (t *txn) orders() (*state.OrderState, error) {
	if t.orderState == nil {
		os, found, err := load[state.OrderState](t, state.KeyOrderState)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNotBootstrapped
		}
		t.orderState = os
	}
	return t.orderState, nil
}

// market returns an initialized market.
func (t *txn) market(index uint64) (*state.Market, error) {
	if m, ok := t.markets[index]; ok {
		if !m.Initialized {
			return nil, fmt.Errorf("market %d: %w", index, state.ErrMarketIndexNotInitialized)
		}
		return m, nil
	}
	m, found, err := load[state.Market](t, state.MarketKey(index))
	if err != nil {
		return nil, err
	}
	if !found || !m.Initialized {
		return nil, fmt.Errorf("market %d: %w", index, state.ErrMarketIndexNotInitialized)
	}
	t.markets[index] = m
	return m, nil
}

// createMarket registers a new market at index.
func (t *txn) createMarket(m *state.Market) error {
	if _, ok := t.markets[m.Index]; ok {
		return fmt.Errorf("market %d: %w", m.Index, state.ErrMarketIndexAlreadyInitialized)
	}
	_, found, err := load[state.Market](t, state.MarketKey(m.Index))
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("market %d: %w", m.Index, state.ErrMarketIndexAlreadyInitialized)
	}
	t.markets[m.Index] = m
	return nil
}

// allMarkets returns every initialized market in index order.
func (t *txn) allMarkets() ([]*state.Market, error) {
	stored, err := ReadMarkets(t.ctx, t.batch)
	if err != nil {
		return nil, err
	}
	out := make([]*state.Market, 0, len(stored))
	for _, m := range stored {
		cached, err := t.market(m.Index)
		if err != nil {
			return nil, err
		}
		out = append(out, cached)
	}
	return out, nil
}

func (t *txn) user(id uuid.UUID) (*state.User, error) {
	u, found, err := t.maybeUser(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("user %s: %w", id, state.ErrUserDoesNotExist)
	}
	return u, nil
}

func (t *txn) maybeUser(id uuid.UUID) (*state.User, bool, error) {
	if u, ok := t.users[id]; ok {
		return u, true, nil
	}
	u, found, err := load[state.User](t, state.UserKey(id))
	if err != nil || !found {
		return nil, false, err
	}
	t.users[id] = u
	return u, true, nil
}

func (t *txn) createUser(u *state.User) {
	t.users[u.ID] = u
}

// position returns the user's position in a market, creating an empty one
// when none is stored.
func (t *txn) position(user uuid.UUID, market uint64) (*state.Position, error) {
	key := state.PositionKey(user, market)
	if p, ok := t.positions[key]; ok {
		return p, nil
	}
	p, found, err := load[state.Position](t, key)
	if err != nil {
		return nil, err
	}
	if !found {
		p = state.NewPosition(user, market)
	}
	t.positions[key] = p
	return p, nil
}

// userPositions returns every position of the user in market order,
// including ones created earlier in this txn.
func (t *txn) userPositions(user uuid.UUID) ([]*state.Position, error) {
	stored, err := ReadPositions(t.ctx, t.batch, user)
	if err != nil {
		return nil, err
	}
	seen := make(map[uint64]bool, len(stored))
	out := make([]*state.Position, 0, len(stored))
	for _, s := range stored {
		p, err := t.position(user, s.MarketIndex)
		if err != nil {
			return nil, err
		}
		seen[s.MarketIndex] = true
		out = append(out, p)
	}
	for _, p := range t.positions {
		if p.User == user && !seen[p.MarketIndex] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketIndex < out[j].MarketIndex })
	return out, nil
}

// holdings pairs every position of the user with its market. Flat
// positions are included so a trade that opens one is seen by margin checks.
func (t *txn) holdings(user uuid.UUID) ([]margin.Holding, error) {
	positions, err := t.userPositions(user)
	if err != nil {
		return nil, err
	}
	out := make([]margin.Holding, 0, len(positions))
	for _, p := range positions {
		m, err := t.market(p.MarketIndex)
		if err != nil {
			return nil, err
		}
		out = append(out, margin.Holding{Market: m, Position: p})
	}
	return out, nil
}

// book loads the user's orders in a market around their position.
func (t *txn) book(user uuid.UUID, market uint64) (*order.Book, error) {
	prefix := state.OrderPrefix(user, market)
	if cb, ok := t.books[prefix]; ok {
		return cb.book, nil
	}
	pos, err := t.position(user, market)
	if err != nil {
		return nil, err
	}
	orders, err := ReadOrders(t.ctx, t.batch, user, market)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		data, err := json.Marshal(o)
		if err != nil {
			return nil, err
		}
		t.orig[state.OrderKey(user, market, o.Index)] = data
	}
	b, err := order.NewBook(pos, orders)
	if err != nil {
		return nil, err
	}
	t.books[prefix] = &cachedBook{user: user, book: b, oldLength: b.Length()}
	return b, nil
}

// userBooks loads a book for every position of the user that has orders.
func (t *txn) userBooks(user uuid.UUID) ([]*order.Book, error) {
	positions, err := t.userPositions(user)
	if err != nil {
		return nil, err
	}
	var out []*order.Book
	for _, p := range positions {
		if !p.HasOpenOrder() {
			continue
		}
		b, err := t.book(user, p.MarketIndex)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// oracle reads the market's oracle and records the price as the market's
// last oracle price. It returns nil when the oracle has no reading.
func (t *txn) oracle(m *state.Market) (*state.OraclePriceData, error) {
	data, err := t.feed.Price(t.ctx, m.AMM.Oracle)
	if errors.Is(err, state.ErrOracleNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("market %d oracle %q: %w", m.Index, m.AMM.Oracle, err)
	}
	m.AMM.LastOraclePrice = data.Price
	return &data, nil
}

// oracleSource adapts oracle for margin.Status.
func (t *txn) oracleSource(m *state.Market) (state.OraclePriceData, error) {
	data, err := t.oracle(m)
	if err != nil {
		return state.OraclePriceData{}, err
	}
	if data == nil {
		return state.OraclePriceData{}, state.ErrOracleNotFound
	}
	return *data, nil
}

// orderEnv gathers what an order operation needs for market m.
func (t *txn) orderEnv(m *state.Market) (order.Env, error) {
	fs, err := t.fees()
	if err != nil {
		return order.Env{}, err
	}
	os, err := t.orders()
	if err != nil {
		return order.Env{}, err
	}
	rails, err := t.guardRails()
	if err != nil {
		return order.Env{}, err
	}
	data, err := t.oracle(m)
	if err != nil {
		return order.Env{}, err
	}
	return order.Env{Market: m, FeeStructure: fs, OrderState: os, Rails: rails, Oracle: data}, nil
}

// settleFunding applies outstanding funding on every position of the user
// and records one payment per position settled.
func (t *txn) settleFunding(u *state.User) error {
	positions, err := t.userPositions(u.ID)
	if err != nil {
		return err
	}
	payments, err := funding.Settle(u, positions, t.market)
	if err != nil {
		return err
	}
	for _, p := range payments {
		if _, err := t.record(&event.FundingPaymentRecord{
			User:                      p.User,
			MarketIndex:               p.MarketIndex,
			FundingPayment:            p.Amount,
			BaseAssetAmount:           p.BaseAssetAmount,
			UserLastCumulativeFunding: p.UserLastCumulativeFunding,
			UserLastFundingRateTs:     p.UserLastFundingRateTs,
			AMMCumulativeFundingLong:  p.AMMCumulativeFundingLong,
			AMMCumulativeFundingShort: p.AMMCumulativeFundingShort,
		}); err != nil {
			return err
		}
	}
	return nil
}

// updateFundingRate advances the market's funding rate when due and records
// the update.
func (t *txn) updateFundingRate(m *state.Market, data *state.OraclePriceData) error {
	if data == nil {
		return nil
	}
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	rails, err := t.guardRails()
	if err != nil {
		return err
	}
	ru, err := funding.UpdateRate(m, *data, rails, ps.FundingPaused, t.now)
	if err != nil || ru == nil {
		return err
	}
	_, err = t.record(&event.FundingRateRecord{
		MarketIndex:                ru.MarketIndex,
		FundingRate:                ru.FundingRate,
		CumulativeFundingRateLong:  ru.CumulativeFundingRateLong,
		CumulativeFundingRateShort: ru.CumulativeFundingRateShort,
		OraclePriceTWAP:            ru.OraclePriceTWAP,
		MarkPriceTWAP:              ru.MarkPriceTWAP,
	})
	return err
}

// record appends a history record with the next ID of its kind.
func (t *txn) record(r event.HistoryRecord) (uint64, error) {
	if t.history == nil {
		h, data, err := readRecord[HistoryLengths](t.ctx, t.batch, state.KeyHistoryLength)
		if err != nil {
			return 0, err
		}
		if h == nil {
			t.history = HistoryLengths{}
		} else {
			t.history = *h
			t.orig[state.KeyHistoryLength] = data
		}
	}
	id := t.history[r.HistoryKind()] + 1
	rec, err := event.NewRecord(id, t.now, r)
	if err != nil {
		return 0, err
	}
	t.history[r.HistoryKind()] = id
	t.records = append(t.records, rec)
	return id, nil
}

// flush stages every changed record into the batch.
func (t *txn) flush() error {
	stage := func(key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		if orig, ok := t.orig[key]; ok && bytes.Equal(orig, data) {
			return nil
		}
		t.batch.PutRaw(key, data)
		return nil
	}

	singletons := []struct {
		key string
		v   any
		ok  bool
	}{
		{state.KeyProtocolState, t.protocol, t.protocol != nil},
		{state.KeyFeeStructure, t.feeStructure, t.feeStructure != nil},
		{state.KeyOracleGuardRails, t.rails, t.rails != nil},
		{state.KeyOrderState, t.orderState, t.orderState != nil},
		{state.KeyHistoryLength, t.history, t.history != nil},
	}
	for _, s := range singletons {
		if !s.ok {
			continue
		}
		if err := stage(s.key, s.v); err != nil {
			return err
		}
	}

	for index, m := range t.markets {
		if err := stage(state.MarketKey(index), m); err != nil {
			return err
		}
	}
	for id, u := range t.users {
		if err := stage(state.UserKey(id), u); err != nil {
			return err
		}
	}
	for key, p := range t.positions {
		if p.IsAvailable() {
			if _, stored := t.orig[key]; stored {
				t.batch.Delete(key)
			}
			continue
		}
		if err := stage(key, p); err != nil {
			return err
		}
	}
	for _, cb := range t.books {
		market := cb.book.Position.MarketIndex
		for _, o := range cb.book.Orders {
			if err := stage(state.OrderKey(cb.user, market, o.Index), o); err != nil {
				return err
			}
		}
		for i := cb.book.Length() + 1; i <= cb.oldLength; i++ {
			t.batch.Delete(state.OrderKey(cb.user, market, i))
		}
	}
	return nil
}
