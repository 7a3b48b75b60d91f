package position_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/position"
	"PerpVAMM/internal/state"
)

func newMarket() *state.Market {
	reserve := fpmath.MustUint("10000000000000000000")
	return &state.Market{
		Index:       1,
		Initialized: true,
		AMM: state.AMM{
			BaseAssetReserve:           reserve,
			QuoteAssetReserve:          reserve,
			SqrtK:                      reserve,
			PegMultiplier:              fpmath.NewUint(100_000),
			FundingPeriod:              3600,
			CumulativeFundingRateLong:  fpmath.NewInt(7),
			CumulativeFundingRateShort: fpmath.NewInt(-3),
			LastMarkPriceTWAP:          fpmath.NewUint(1_000_000_000_000),
			LastOraclePriceTWAP:        fpmath.NewInt(1_000_000_000_000),
			MinimumQuoteAssetTradeSize: state.DefaultMinimumTradeSize,
			MinimumBaseAssetTradeSize:  state.DefaultMinimumTradeSize,
		},
	}
}

func newUser(collateral uint64) *state.User {
	return &state.User{ID: uuid.New(), Collateral: fpmath.NewUint(collateral)}
}

const thousandDollars = 1_000_000_000

func TestIncreaseOpensPosition(t *testing.T) {
	m := newMarket()
	pos := state.NewPosition(uuid.New(), m.Index)

	acquired, err := position.Increase(m, pos, state.DirectionLong, fpmath.NewUint(thousandDollars), 10, nil)
	require.NoError(t, err)

	assert.Equal(t, "99999000010000", acquired.String())
	assert.Equal(t, acquired, pos.BaseAssetAmount)
	assert.Equal(t, "1000000000", pos.QuoteAssetAmount.String())
	assert.Equal(t, fpmath.NewInt(7), pos.LastCumulativeFundingRate)
	assert.Equal(t, uint64(1), m.OpenInterest)
	assert.Equal(t, acquired, m.BaseAssetAmount)
	assert.Equal(t, acquired, m.BaseAssetAmountLong)
	assert.True(t, m.BaseAssetAmountShort.IsZero())
}

func TestIncreaseWithZeroQuoteIsNoop(t *testing.T) {
	m := newMarket()
	pos := state.NewPosition(uuid.New(), m.Index)

	acquired, err := position.Increase(m, pos, state.DirectionShort, fpmath.Uint{}, 10, nil)
	require.NoError(t, err)
	assert.True(t, acquired.IsZero())
	assert.Zero(t, m.OpenInterest)
}

func TestCloseRoundTripIsFlat(t *testing.T) {
	m := newMarket()
	user := newUser(100_000_000)
	pos := state.NewPosition(user.ID, m.Index)

	_, err := position.Increase(m, pos, state.DirectionLong, fpmath.NewUint(thousandDollars), 10, nil)
	require.NoError(t, err)

	closed, err := position.Close(m, pos, user, 20, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "1000000000", closed.QuoteAssetAmount.String())
	assert.Equal(t, "99999000010000", closed.BaseAssetAmount.String())
	assert.True(t, closed.QuoteAssetAmountSurplus.IsZero())
	assert.Equal(t, "100000000", user.Collateral.String())

	assert.False(t, pos.IsOpen())
	assert.True(t, pos.QuoteAssetAmount.IsZero())
	assert.True(t, pos.LastCumulativeFundingRate.IsZero())
	assert.Zero(t, m.OpenInterest)
	assert.True(t, m.BaseAssetAmount.IsZero())
	assert.True(t, m.BaseAssetAmountLong.IsZero())
}

func TestCloseWithoutPositionReturnsZero(t *testing.T) {
	m := newMarket()
	user := newUser(1)
	closed, err := position.Close(m, state.NewPosition(user.ID, 1), user, 5, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, position.Closed{}, closed)
}

func TestReduceRealisesProportionalPnl(t *testing.T) {
	m := newMarket()
	user := newUser(100_000_000)
	pos := state.NewPosition(user.ID, m.Index)
	_, err := position.Increase(m, pos, state.DirectionLong, fpmath.NewUint(thousandDollars), 10, nil)
	require.NoError(t, err)

	swapped, err := position.Reduce(m, pos, user, state.DirectionShort, fpmath.NewUint(500_000_000), 20, nil)
	require.NoError(t, err)

	assert.Equal(t, "-49999250008750", swapped.String())
	assert.Equal(t, "49999750001250", pos.BaseAssetAmount.String())
	assert.Equal(t, "500002500", pos.QuoteAssetAmount.String())
	assert.Equal(t, "100002500", user.Collateral.String())
	assert.Equal(t, pos.BaseAssetAmount, m.BaseAssetAmountLong)
	assert.Equal(t, uint64(1), m.OpenInterest)
}

func TestReduceLosingShortChargesCollateral(t *testing.T) {
	m := newMarket()
	user := newUser(100_000_000)
	pos := state.NewPosition(user.ID, m.Index)
	_, err := position.Increase(m, pos, state.DirectionShort, fpmath.NewUint(thousandDollars), 10, nil)
	require.NoError(t, err)
	assert.Equal(t, "-100001000010000", pos.BaseAssetAmount.String())

	other := state.NewPosition(uuid.New(), m.Index)
	_, err = position.Increase(m, other, state.DirectionLong, fpmath.NewUint(5*thousandDollars), 11, nil)
	require.NoError(t, err)

	_, err = position.Reduce(m, pos, user, state.DirectionLong, fpmath.NewUint(500_000_000), 20, nil)
	require.NoError(t, err)

	assert.Equal(t, "-50005249738766", pos.BaseAssetAmount.String())
	assert.Equal(t, "99952503", user.Collateral.String())
	assert.Equal(t, pos.BaseAssetAmount, m.BaseAssetAmountShort)
}

func TestIncreaseWithBaseAtMakerLimit(t *testing.T) {
	m := newMarket()
	pos := state.NewPosition(uuid.New(), m.Index)
	limit := fpmath.NewUint(1_010_000_000_000)

	quote, surplus, err := position.IncreaseWithBase(m, pos, state.DirectionLong, fpmath.NewUint(10_000_000_000_000), 10, &limit, nil)
	require.NoError(t, err)

	assert.Equal(t, "101000000", quote.String())
	assert.Equal(t, "999899", surplus.String())
	assert.Equal(t, quote, pos.QuoteAssetAmount)
	assert.Equal(t, "10000000000000", pos.BaseAssetAmount.String())
}

func TestUpdateWithQuoteReverses(t *testing.T) {
	m := newMarket()
	user := newUser(100_000_000)
	pos := state.NewPosition(user.ID, m.Index)
	_, err := position.Increase(m, pos, state.DirectionLong, fpmath.NewUint(thousandDollars), 10, nil)
	require.NoError(t, err)

	mark := fpmath.NewUint(1_000_020_000_100)
	u, err := position.UpdateWithQuote(m, pos, user, fpmath.NewUint(2*thousandDollars), state.DirectionShort, mark, 20)
	require.NoError(t, err)

	assert.True(t, u.PotentiallyRiskIncreasing)
	assert.False(t, u.ReduceOnly)
	assert.Equal(t, "200000000020000", u.BaseAssetAmount.String())
	assert.Equal(t, "-100001000010000", pos.BaseAssetAmount.String())
	assert.Equal(t, uint64(1), m.OpenInterest)
	assert.True(t, m.BaseAssetAmountLong.IsZero())
	assert.Equal(t, pos.BaseAssetAmount, m.BaseAssetAmountShort)
}

func TestUpdateWithQuoteRoundsToFullClose(t *testing.T) {
	m := newMarket()
	user := newUser(100_000_000)
	pos := state.NewPosition(user.ID, m.Index)
	_, err := position.Increase(m, pos, state.DirectionLong, fpmath.NewUint(thousandDollars), 10, nil)
	require.NoError(t, err)

	mark := fpmath.NewUint(1_000_020_000_100)
	u, err := position.UpdateWithQuote(m, pos, user, fpmath.NewUint(thousandDollars-1), state.DirectionShort, mark, 20)
	require.NoError(t, err)

	assert.True(t, u.ReduceOnly)
	assert.False(t, u.PotentiallyRiskIncreasing)
	assert.Equal(t, "1000000000", u.QuoteAssetAmount.String())
	assert.False(t, pos.IsOpen())
	assert.Zero(t, m.OpenInterest)
}

func TestUpdateWithBaseReduces(t *testing.T) {
	m := newMarket()
	user := newUser(100_000_000)
	pos := state.NewPosition(user.ID, m.Index)
	_, _, err := position.IncreaseWithBase(m, pos, state.DirectionShort, fpmath.NewUint(50_000_000_000_000), 10, nil, nil)
	require.NoError(t, err)

	mark, _ := fpmath.UintFromString("999900000000")
	u, err := position.UpdateWithBase(m, pos, user, fpmath.NewUint(20_000_000_000_000), state.DirectionLong, mark, 20, nil)
	require.NoError(t, err)

	assert.True(t, u.ReduceOnly)
	assert.False(t, u.PotentiallyRiskIncreasing)
	assert.Equal(t, "-30000000000000", pos.BaseAssetAmount.String())
	assert.Equal(t, pos.BaseAssetAmount, m.BaseAssetAmountShort)
	assert.Equal(t, uint64(1), m.OpenInterest)
}

func TestUpdatedCollateralClampsAtZero(t *testing.T) {
	assert.True(t, position.UpdatedCollateral(fpmath.NewUint(10), fpmath.NewInt(-11)).IsZero())
	assert.Equal(t, "4", position.UpdatedCollateral(fpmath.NewUint(10), fpmath.NewInt(-6)).String())
	assert.Equal(t, "16", position.UpdatedCollateral(fpmath.NewUint(10), fpmath.NewInt(6)).String())
}

func TestWithdrawalAmounts(t *testing.T) {
	tests := []struct {
		name                  string
		amount, coll, ins     uint64
		wantColl, wantInsured uint64
	}{
		{"covered by collateral", 100, 150, 0, 100, 0},
		{"topped up from insurance", 100, 60, 50, 60, 40},
		{"insurance exhausted", 100, 60, 30, 60, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, i := position.WithdrawalAmounts(fpmath.NewUint(tt.amount), fpmath.NewUint(tt.coll), fpmath.NewUint(tt.ins))
			assert.Equal(t, fpmath.NewUint(tt.wantColl), c)
			assert.Equal(t, fpmath.NewUint(tt.wantInsured), i)
		})
	}
}

func TestSlippage(t *testing.T) {
	// 1 base unit exiting at $99 against a $100 mark.
	s, err := position.Slippage(fpmath.NewUint(99_000_000), fpmath.NewUint(10_000_000_000_000), fpmath.NewUint(1_000_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, "-10000000000", s.String())

	pct, err := position.SlippagePct(s, fpmath.NewUint(1_000_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, "-100", pct.String())
}

func TestValueWithOraclePrice(t *testing.T) {
	pos := &state.Position{
		BaseAssetAmount:  fpmath.NewInt(-20_000_000_000_000),
		QuoteAssetAmount: fpmath.NewUint(200_000_000),
	}
	value, pnl, err := position.ValueAndPnlWithOraclePrice(pos, fpmath.NewInt(1_100_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, "220000000", value.String())
	assert.Equal(t, "-20000000", pnl.String())

	value, _, err = position.ValueAndPnlWithOraclePrice(pos, fpmath.NewInt(-1))
	require.NoError(t, err)
	assert.True(t, value.IsZero())
}
