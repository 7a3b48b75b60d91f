package query_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpVAMM/internal/event"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/oracle"
	"PerpVAMM/internal/persistence"
	"PerpVAMM/internal/query"
	"PerpVAMM/internal/state"
	"PerpVAMM/internal/testutil"
)

var reserve = fpmath.MustUint("5000000000000000000")

func newService(t *testing.T) (*testutil.Harness, *query.QueryService) {
	h := testutil.NewHarness(t)
	h.InitMarket(0, reserve, fpmath.NewUint(1000))
	return h, query.NewQueryService(h.Store, h.Oracle, h.CH, nil, h.Metrics)
}

func openLong(h *testutil.Harness, user uuid.UUID, quote uint64) {
	h.MustApply(&event.OpenPosition{
		Header:           h.Header(user),
		Market:           0,
		Direction:        state.DirectionLong,
		QuoteAssetAmount: fpmath.NewUint(quote),
	})
}

func TestQueryMarkets(t *testing.T) {
	h, qs := newService(t)
	ctx := context.Background()

	m, err := qs.Market(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "10000000000", m.MarkPrice.String())

	n, err := qs.MarketsLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	ms, err := qs.Markets(ctx)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, uint64(0), ms[0].Index)

	_, err = qs.Market(ctx, 3)
	assert.ErrorIs(t, err, state.ErrMarketIndexNotInitialized)
	assert.Equal(t, float64(1), promtestutil.ToFloat64(h.Metrics.QueryErrors.WithLabelValues("market", "not_found")))
	assert.Equal(t, float64(2), promtestutil.ToFloat64(h.Metrics.QueryRequests.WithLabelValues("market")))
}

func TestQueryProtocolRecords(t *testing.T) {
	h, qs := newService(t)
	ctx := context.Background()

	ps, err := qs.ProtocolState(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.Admin, ps.Admin)

	_, err = qs.FeeStructure(ctx)
	require.NoError(t, err)
	_, err = qs.OracleGuardRails(ctx)
	require.NoError(t, err)
	_, err = qs.OrderState(ctx)
	require.NoError(t, err)
}

func TestQueryUserAndPositions(t *testing.T) {
	h, qs := newService(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := qs.User(ctx, user)
	assert.ErrorIs(t, err, state.ErrUserDoesNotExist)

	h.Deposit(user, 10_000_000)
	openLong(h, user, 20_000_000)

	u, err := qs.User(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, user, u.ID)

	pos, err := qs.Position(ctx, user, 0)
	require.NoError(t, err)
	assert.True(t, pos.BaseAssetAmount.IsPositive())
	assert.True(t, pos.BaseAssetValue.GT(fpmath.NewUint(0)))

	active, err := qs.ActivePositions(ctx, user)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = qs.Position(ctx, user, 9)
	assert.ErrorIs(t, err, state.ErrUserHasNoPositionInMarket)
}

func TestQueryAccountSummary(t *testing.T) {
	h, qs := newService(t)
	ctx := context.Background()
	user := uuid.New()
	h.Deposit(user, 10_000_000)

	s, err := qs.Account(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "10000000", s.Collateral.String())
	assert.Equal(t, "10000000", s.FreeCollateral.String())
	assert.Equal(t, 0, s.OpenPositions)
	assert.Equal(t, h.CH.Sequence(), s.AsOfSequence)

	openLong(h, user, 20_000_000)
	s, err = qs.Account(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, s.OpenPositions)
	assert.True(t, s.InitialMarginRequirement.GT(fpmath.NewUint(0)))
	assert.True(t, s.FreeCollateral.LT(s.Collateral))

	free, err := qs.FreeCollateral(ctx, user)
	require.NoError(t, err)
	assert.True(t, free.Eq(s.FreeCollateral))
}

func TestQueryLiquidationStatus(t *testing.T) {
	h, qs := newService(t)
	ctx := context.Background()
	user := uuid.New()
	h.Deposit(user, 10_000_000)
	openLong(h, user, 20_000_000)

	st, err := qs.LiquidationStatus(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, state.LiquidationNone, st.LiquidationType)
	require.Len(t, st.MarketStatuses, 1)

	require.NoError(t, h.Oracle.Push(testutil.OracleName, oracle.Reading{
		Price:                   fpmath.NewInt(10_000_000_000),
		Confidence:              fpmath.NewUint(1),
		Slot:                    10,
		HasSufficientDataPoints: true,
	}))
	st, err = qs.LiquidationStatus(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, state.LiquidationNone, st.LiquidationType)
}

func TestQueryOrders(t *testing.T) {
	h, qs := newService(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := qs.Orders(ctx, user, 0)
	assert.ErrorIs(t, err, state.ErrUserDoesNotExist)

	h.Deposit(user, 10_000_000)
	orders, err := qs.Orders(ctx, user, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestQueryHistoryNeedsDatabase(t *testing.T) {
	_, qs := newService(t)
	_, err := qs.History(context.Background(), event.HistoryTrade, nil, 0, 10)
	assert.ErrorIs(t, err, query.ErrHistoryUnavailable)
}

func TestQueryHistory(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	h := testutil.NewHarness(t)
	outs := []event.Output{h.InitMarket(0, reserve, fpmath.NewUint(1000))}
	user := uuid.New()
	outs = append(outs, h.Deposit(user, 10_000_000))
	for i := 0; i < 3; i++ {
		outs = append(outs, h.MustApply(&event.OpenPosition{
			Header:           h.Header(user),
			Market:           0,
			Direction:        state.DirectionLong,
			QuoteAssetAmount: fpmath.NewUint(1_000_000),
		}))
	}
	require.NoError(t, persistence.NewHistoryWriter(db).WriteOutputs(ctx, outs))

	qs := query.NewQueryService(h.Store, h.Oracle, h.CH, db, nil)
	page, err := qs.History(ctx, event.HistoryTrade, nil, 0, 2)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, uint64(1), page.Records[0].ID)
	assert.Equal(t, uint64(2), page.Next)

	page, err = qs.History(ctx, event.HistoryTrade, nil, page.Next, 2)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, uint64(3), page.Records[0].ID)
	assert.Zero(t, page.Next)

	journal, err := qs.JournalHistory(ctx, user, 10, 0)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, "10000000", journal[0].Amount.String())
}
