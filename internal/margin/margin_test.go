package margin_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpVAMM/internal/margin"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/position"
	"PerpVAMM/internal/state"
)

func newMarket(index uint64) *state.Market {
	reserve := fpmath.MustUint("10000000000000000000")
	return &state.Market{
		Index:                  index,
		Initialized:            true,
		MarginRatioInitial:     2000,
		MarginRatioPartial:     625,
		MarginRatioMaintenance: 500,
		AMM: state.AMM{
			BaseAssetReserve:           reserve,
			QuoteAssetReserve:          reserve,
			SqrtK:                      reserve,
			PegMultiplier:              fpmath.NewUint(100_000),
			FundingPeriod:              3600,
			LastMarkPriceTWAP:          fpmath.NewUint(1_000_000_000_000),
			LastOraclePriceTWAP:        fpmath.NewInt(1_000_000_000_000),
			MinimumQuoteAssetTradeSize: state.DefaultMinimumTradeSize,
			MinimumBaseAssetTradeSize:  state.DefaultMinimumTradeSize,
		},
	}
}

func noOracle(*state.Market) (state.OraclePriceData, error) {
	return state.OraclePriceData{}, state.ErrOracleNotFound
}

// openLong gives a new user a long of quote dollars (quote precision) in m.
func openLong(t *testing.T, m *state.Market, user *state.User, quote uint64) margin.Holding {
	t.Helper()
	pos := state.NewPosition(user.ID, m.Index)
	_, err := position.Increase(m, pos, state.DirectionLong, fpmath.NewUint(quote), 10, nil)
	require.NoError(t, err)
	return margin.Holding{Market: m, Position: pos}
}

// underwater opens a $1000 long and pushes the price down with a $5000
// short from someone else, leaving the long with a pnl of -99997.
func underwater(t *testing.T, collateral uint64) (*state.User, []margin.Holding) {
	t.Helper()
	m := newMarket(1)
	user := &state.User{ID: uuid.New(), Collateral: fpmath.NewUint(collateral)}
	h := openLong(t, m, user, 1_000_000_000)

	other := state.NewPosition(uuid.New(), m.Index)
	_, err := position.Increase(m, other, state.DirectionShort, fpmath.NewUint(5_000_000_000), 20, nil)
	require.NoError(t, err)
	return user, []margin.Holding{h}
}

func TestMeetsInitialMarginRequirement(t *testing.T) {
	m := newMarket(1)
	user := &state.User{ID: uuid.New(), Collateral: fpmath.NewUint(200_000_000)}
	holdings := []margin.Holding{openLong(t, m, user, 1_000_000_000)}

	ok, err := margin.MeetsInitialMarginRequirement(user, holdings)
	require.NoError(t, err)
	assert.True(t, ok)

	user.Collateral = fpmath.NewUint(199_999_999)
	ok, err = margin.MeetsInitialMarginRequirement(user, holdings)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = margin.MeetsPartialMarginRequirement(user, holdings)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFreeCollateral(t *testing.T) {
	m := newMarket(1)
	user := &state.User{ID: uuid.New(), Collateral: fpmath.NewUint(300_000_000)}
	holdings := []margin.Holding{openLong(t, m, user, 1_000_000_000)}

	free, closed, err := margin.FreeCollateral(user, holdings, nil)
	require.NoError(t, err)
	assert.Equal(t, "100000000", free.String())
	assert.True(t, closed.IsZero())

	idx := m.Index
	free, closed, err = margin.FreeCollateral(user, holdings, &idx)
	require.NoError(t, err)
	assert.Equal(t, "300000000", free.String())
	assert.Equal(t, "1000000000", closed.String())

	user.Collateral = fpmath.NewUint(1)
	free, _, err = margin.FreeCollateral(user, holdings, nil)
	require.NoError(t, err)
	assert.True(t, free.IsZero())
}

func TestRequirementMonotoneInInitialRatio(t *testing.T) {
	m := newMarket(1)
	user := &state.User{ID: uuid.New()}
	holdings := []margin.Holding{openLong(t, m, user, 1_000_000_000)}

	prev := fpmath.Uint{}
	for _, ratio := range []uint32{500, 1000, 2000, 5000, 10_000} {
		m.MarginRatioInitial = ratio
		req, err := margin.Requirement(holdings, state.LiquidationNone)
		require.NoError(t, err)
		assert.True(t, req.GTE(prev), "ratio %d", ratio)
		prev = req
	}
	assert.Equal(t, "1000000000", prev.String())
}

func TestStatusWithoutOracle(t *testing.T) {
	tests := []struct {
		name       string
		collateral uint64
		want       state.LiquidationType
		required   string
	}{
		{"healthy", 100_000_000, state.LiquidationNone, "62493750"},
		{"partial", 52_000_000, state.LiquidationPartial, "62493750"},
		{"full", 45_000_000, state.LiquidationFull, "49995000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, holdings := underwater(t, tt.collateral)
			st, err := margin.Status(user, holdings, noOracle, state.DefaultOracleGuardRails())
			require.NoError(t, err)

			assert.Equal(t, tt.want, st.LiquidationType)
			assert.Equal(t, tt.required, st.MarginRequirement.String())
			assert.Equal(t, "999900003", st.BaseAssetValue.String())
			assert.Equal(t, "-99997", st.UnrealizedPnl.String())
			assert.Equal(t, st.TotalCollateral, st.AdjustedTotalCollateral)
			require.Len(t, st.MarketStatuses, 1)
			assert.Nil(t, st.MarketStatuses[0].ClosePositionSlippage)
			assert.False(t, st.MarketStatuses[0].OracleStatus.IsValid)
		})
	}
}

func TestStatusPrefersFavourableOraclePnl(t *testing.T) {
	user, holdings := underwater(t, 45_000_000)
	oracle := func(*state.Market) (state.OraclePriceData, error) {
		return state.OraclePriceData{
			Price:                   fpmath.NewInt(1_050_000_000_000),
			Confidence:              fpmath.NewUint(100),
			HasSufficientDataPoints: true,
		}, nil
	}

	st, err := margin.Status(user, holdings, oracle, state.DefaultOracleGuardRails())
	require.NoError(t, err)

	assert.Equal(t, state.LiquidationNone, st.LiquidationType)
	assert.Equal(t, "44900003", st.TotalCollateral.String())
	assert.True(t, st.AdjustedTotalCollateral.GT(st.TotalCollateral))
	require.Len(t, st.MarketStatuses, 1)
	assert.NotNil(t, st.MarketStatuses[0].ClosePositionSlippage)
	assert.True(t, st.MarketStatuses[0].OracleStatus.IsValid)
}

func TestStatusOrdersFullLiquidationByMaintenance(t *testing.T) {
	m1, m2 := newMarket(1), newMarket(2)
	user := &state.User{ID: uuid.New(), Collateral: fpmath.NewUint(1)}
	holdings := []margin.Holding{
		openLong(t, m1, user, 1_000_000_000),
		openLong(t, m2, user, 3_000_000_000),
	}

	st, err := margin.Status(user, holdings, noOracle, state.DefaultOracleGuardRails())
	require.NoError(t, err)
	require.Equal(t, state.LiquidationFull, st.LiquidationType)
	require.Len(t, st.MarketStatuses, 2)
	assert.Equal(t, uint64(2), st.MarketStatuses[0].MarketIndex)
	assert.Equal(t, "150000000", st.MarketStatuses[0].MaintenanceMarginRequirement.String())
	assert.Equal(t, uint64(1), st.MarketStatuses[1].MarketIndex)
}

func TestLiquidateHealthyUserFails(t *testing.T) {
	user, holdings := underwater(t, 100_000_000)
	st, err := margin.Status(user, holdings, noOracle, state.DefaultOracleGuardRails())
	require.NoError(t, err)

	_, err = margin.Liquidate(user, holdings, st, defaultProtocol(), state.DefaultOracleGuardRails(), 30)
	assert.ErrorIs(t, err, state.ErrSufficientCollateral)
}

func TestLiquidateFull(t *testing.T) {
	user, holdings := underwater(t, 45_000_000)
	rails := state.DefaultOracleGuardRails()
	st, err := margin.Status(user, holdings, noOracle, rails)
	require.NoError(t, err)
	require.Equal(t, state.LiquidationFull, st.LiquidationType)

	res, err := margin.Liquidate(user, holdings, st, defaultProtocol(), rails, 30)
	require.NoError(t, err)

	assert.True(t, res.Full)
	assert.Equal(t, "999900003", res.BaseAssetValueClosed.String())
	assert.Equal(t, "44900003", res.Fee.String())
	assert.Equal(t, "45000000", res.CollateralBefore.String())
	assert.True(t, user.Collateral.IsZero())
	assert.False(t, holdings[0].Position.IsOpen())
	require.Len(t, res.Trades, 1)
	assert.Equal(t, state.DirectionShort, res.Trades[0].Direction)
	assert.Equal(t, "99999000010000", res.Trades[0].BaseAssetAmount.String())
}

func TestLiquidatePartial(t *testing.T) {
	user, holdings := underwater(t, 52_000_000)
	rails := state.DefaultOracleGuardRails()
	st, err := margin.Status(user, holdings, noOracle, rails)
	require.NoError(t, err)
	require.Equal(t, state.LiquidationPartial, st.LiquidationType)

	res, err := margin.Liquidate(user, holdings, st, defaultProtocol(), rails, 30)
	require.NoError(t, err)

	assert.False(t, res.Full)
	assert.Equal(t, "249975000", res.BaseAssetValueClosed.String())
	assert.Equal(t, "12975000", res.Fee.String())
	assert.Equal(t, "39001876", user.Collateral.String())
	assert.Equal(t, "74999437594850", holdings[0].Position.BaseAssetAmount.String())
}

func TestFeeSplit(t *testing.T) {
	ps := defaultProtocol()

	liq, ins, err := margin.FeeSplit(fpmath.NewUint(1_000_000), fpmath.NewUint(10_000_000), fpmath.Uint{}, true, ps)
	require.NoError(t, err)
	assert.Equal(t, "500", liq.String())
	assert.Equal(t, "999500", ins.String())

	liq, ins, err = margin.FeeSplit(fpmath.NewUint(1_000_000), fpmath.NewUint(400_000), fpmath.Uint{}, false, ps)
	require.NoError(t, err)
	assert.Equal(t, "400000", liq.String())
	assert.True(t, ins.IsZero())
}

func defaultProtocol() *state.ProtocolState {
	return state.DefaultProtocolState(uuid.New(), "collateral", "insurance", "history", "oracle")
}
