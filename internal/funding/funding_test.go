package funding_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpVAMM/internal/funding"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

func newMarket(index uint64) *state.Market {
	reserve := fpmath.MustUint("10000000000000000000")
	return &state.Market{
		Index:       index,
		Initialized: true,
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

func TestCalculatePaymentSign(t *testing.T) {
	c := fpmath.NewCalc("test")
	delta := fpmath.NewInt(1_000_000_000_000_000)
	long := fpmath.NewInt(10_000_000_000_000)

	assert.Equal(t, "-100000000000000", funding.CalculatePayment(c, delta, long).String())
	assert.Equal(t, "100000000000000", funding.CalculatePayment(c, delta, long.Neg()).String())
	assert.Equal(t, "100000000000000", funding.CalculatePayment(c, delta.Neg(), long).String())
	assert.True(t, funding.CalculatePayment(c, fpmath.Int{}, long).IsZero())
	require.NoError(t, c.Err())
}

func TestSettleAcrossMarkets(t *testing.T) {
	m1, m2 := newMarket(1), newMarket(2)
	m1.AMM.CumulativeFundingRateLong = fpmath.NewInt(1_000_000_000_000_000)
	m1.AMM.LastFundingRateTs = 3600
	m2.AMM.CumulativeFundingRateShort = fpmath.NewInt(1_000_000_000_000_000)
	m2.AMM.LastFundingRateTs = 7200
	markets := map[uint64]*state.Market{1: m1, 2: m2}
	lookup := func(i uint64) (*state.Market, error) {
		m, ok := markets[i]
		if !ok {
			return nil, fmt.Errorf("market %d: %w", i, state.ErrMarketIndexNotInitialized)
		}
		return m, nil
	}

	user := &state.User{ID: uuid.New(), Collateral: fpmath.NewUint(100_000_000)}
	long := &state.Position{User: user.ID, MarketIndex: 1, BaseAssetAmount: fpmath.NewInt(10_000_000_000_000)}
	short := &state.Position{User: user.ID, MarketIndex: 2, BaseAssetAmount: fpmath.NewInt(-20_000_000_000_000)}
	flat := &state.Position{User: user.ID, MarketIndex: 3}

	payments, err := funding.Settle(user, []*state.Position{long, short, flat}, lookup)
	require.NoError(t, err)
	require.Len(t, payments, 2)

	assert.Equal(t, "-100000000000000", payments[0].Amount.String())
	assert.Equal(t, "200000000000000", payments[1].Amount.String())
	assert.Equal(t, "110000000", user.Collateral.String())
	assert.Equal(t, m1.AMM.CumulativeFundingRateLong, long.LastCumulativeFundingRate)
	assert.Equal(t, int64(3600), long.LastFundingRateTs)
	assert.Equal(t, int64(7200), short.LastFundingRateTs)

	again, err := funding.Settle(user, []*state.Position{long, short}, lookup)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, "110000000", user.Collateral.String())
}

func TestNextUpdateWait(t *testing.T) {
	tests := []struct {
		lastTs, period, want int64
	}{
		{0, 3600, 3600},
		{7200, 3600, 3600},
		{100, 3600, 3500},
		{2000, 3600, 5200},
		{55, 1, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, funding.NextUpdateWait(tt.lastTs, tt.period), "last=%d period=%d", tt.lastTs, tt.period)
	}
}

func TestLongShortRatesProtocolReceives(t *testing.T) {
	m := newMarket(1)
	m.BaseAssetAmount = fpmath.NewInt(1_000_000_000_000_000)
	m.BaseAssetAmountLong = m.BaseAssetAmount

	rate := fpmath.NewInt(1_000_000_000)
	long, short, pool, err := funding.LongShortRates(m, rate)
	require.NoError(t, err)
	assert.Equal(t, rate, long)
	assert.Equal(t, rate, short)
	assert.Equal(t, "1000", pool.String())
}

func TestLongShortRatesCapsReceivingSide(t *testing.T) {
	m := newMarket(1)
	m.BaseAssetAmount = fpmath.NewInt(10_000_000_000_000)
	m.BaseAssetAmountLong = m.BaseAssetAmount
	m.AMM.TotalFee = fpmath.NewUint(10_000_000)
	m.AMM.TotalFeeMinusDistributions = fpmath.NewUint(10_000_000)

	rate := fpmath.NewInt(-1_000_000_000_000_000)
	long, short, pool, err := funding.LongShortRates(m, rate)
	require.NoError(t, err)
	assert.Equal(t, "-33333320", long.String())
	assert.Equal(t, rate, short)
	assert.Equal(t, "6666667", pool.String())
}

func TestUpdateRate(t *testing.T) {
	m := newMarket(1)
	rails := state.DefaultOracleGuardRails()
	data := state.OraclePriceData{
		Price:                   fpmath.NewInt(1_010_000_000_000),
		Confidence:              fpmath.NewUint(100),
		HasSufficientDataPoints: true,
	}

	update, err := funding.UpdateRate(m, data, rails, false, 1800)
	require.NoError(t, err)
	assert.Nil(t, update, "period has not elapsed")

	update, err = funding.UpdateRate(m, data, rails, true, 3600)
	require.NoError(t, err)
	assert.Nil(t, update, "funding paused")

	update, err = funding.UpdateRate(m, data, rails, false, 3600)
	require.NoError(t, err)
	require.NotNil(t, update)

	assert.Equal(t, "1009997222893", update.OraclePriceTWAP.String())
	assert.Equal(t, "1000000000000", update.MarkPriceTWAP.String())
	assert.Equal(t, "-4165509538750", update.FundingRate.String())
	assert.Equal(t, update.FundingRate, m.AMM.CumulativeFundingRateLong)
	assert.Equal(t, update.FundingRate, m.AMM.CumulativeFundingRateShort)
	assert.Equal(t, int64(3600), m.AMM.LastFundingRateTs)
	assert.True(t, m.AMM.TotalFeeMinusDistributions.IsZero())
}

func TestUpdateRateBlockedByInvalidOracle(t *testing.T) {
	m := newMarket(1)
	data := state.OraclePriceData{Price: fpmath.NewInt(1_000_000_000_000), Confidence: fpmath.NewUint(1)}

	update, err := funding.UpdateRate(m, data, state.DefaultOracleGuardRails(), false, 3600)
	require.NoError(t, err)
	assert.Nil(t, update)
	assert.True(t, m.AMM.CumulativeFundingRateLong.IsZero())
}
