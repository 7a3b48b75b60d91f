// Package funding settles periodic funding between longs and shorts and
// updates a market's cumulative funding rates from the mark and oracle TWAPs.
//
// A vAMM can carry an imbalance between longs and shorts, so funding may be
// asymmetric: the side the net position would pay is charged in full while
// the receiving side is capped by what the market's fee pool can afford.
package funding

import (
	"github.com/google/uuid"

	"PerpVAMM/internal/amm"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/position"
	"PerpVAMM/internal/state"
)

// Payment is one settled funding payment on one position.
type Payment struct {
	User                      uuid.UUID
	MarketIndex               uint64
	Amount                    fpmath.Int
	BaseAssetAmount           fpmath.Int
	UserLastCumulativeFunding fpmath.Int
	UserLastFundingRateTs     int64
	AMMCumulativeFundingLong  fpmath.Int
	AMMCumulativeFundingShort fpmath.Int
}

// RateUpdate describes an applied funding rate update.
type RateUpdate struct {
	MarketIndex                uint64
	FundingRate                fpmath.Int
	CumulativeFundingRateLong  fpmath.Int
	CumulativeFundingRateShort fpmath.Int
	OraclePriceTWAP            fpmath.Int
	MarkPriceTWAP              fpmath.Uint
}

// MarketLookup resolves a market by index.
type MarketLookup func(index uint64) (*state.Market, error)

// Settle applies every outstanding funding payment on the user's positions
// and moves the positions' checkpoints to the markets' current cumulative
// rates. Payments accumulate at funding precision and are credited to
// collateral once, in quote precision.
func Settle(user *state.User, positions []*state.Position, markets MarketLookup) ([]Payment, error) {
	c := fpmath.NewCalc("settle_funding_payment")
	var (
		payments []Payment
		total    fpmath.Int
	)
	for _, pos := range positions {
		if pos.BaseAssetAmount.IsZero() {
			continue
		}
		m, err := markets(pos.MarketIndex)
		if err != nil {
			return nil, err
		}
		cumulative := m.AMM.CumulativeFundingRateShort
		if pos.BaseAssetAmount.IsPositive() {
			cumulative = m.AMM.CumulativeFundingRateLong
		}
		if cumulative.Eq(pos.LastCumulativeFundingRate) {
			continue
		}

		amount := CalculatePayment(c, c.ISub(cumulative, pos.LastCumulativeFundingRate), pos.BaseAssetAmount)
		if err := c.Err(); err != nil {
			return nil, err
		}
		payments = append(payments, Payment{
			User:                      user.ID,
			MarketIndex:               pos.MarketIndex,
			Amount:                    amount,
			BaseAssetAmount:           pos.BaseAssetAmount,
			UserLastCumulativeFunding: pos.LastCumulativeFundingRate,
			UserLastFundingRateTs:     pos.LastFundingRateTs,
			AMMCumulativeFundingLong:  m.AMM.CumulativeFundingRateLong,
			AMMCumulativeFundingShort: m.AMM.CumulativeFundingRateShort,
		})
		total = c.IAdd(total, amount)
		pos.LastCumulativeFundingRate = cumulative
		pos.LastFundingRateTs = m.AMM.LastFundingRateTs
	}

	quote := c.IDiv(total, c.ToInt(fpmath.AMMToQuotePrecisionRatio))
	if err := c.Err(); err != nil {
		return nil, err
	}
	user.Collateral = position.UpdatedCollateral(user.Collateral, quote)
	return payments, nil
}

// CalculatePayment is what a position of base pays (negative) or receives
// (positive) for a cumulative rate move of delta. Longs pay shorts when
// delta is positive.
func CalculatePayment(c *fpmath.Calc, delta, base fpmath.Int) fpmath.Int {
	magnitude := c.Div(c.Div(c.Mul(delta.Abs(), base.Abs()), fpmath.MarkPricePrecision), fpmath.FundingPaymentPrecision)
	negative := base.IsPositive() == delta.IsPositive()
	return fpmath.IntFromUint(magnitude, negative)
}

func paymentInQuote(c *fpmath.Calc, delta, base fpmath.Int) fpmath.Int {
	return c.IDiv(CalculatePayment(c, delta, base), c.ToInt(fpmath.AMMToQuotePrecisionRatio))
}

// NextUpdateWait is how long after the last update the next may run. An
// update that landed off the period boundary is pulled back onto it, or
// pushed to the following boundary when it is already a third of a period
// late.
func NextUpdateWait(lastTs, period int64) int64 {
	if period <= 1 {
		return period
	}
	delay := lastTs % period
	if delay == 0 {
		return period
	}
	if delay > period/3 {
		return 2*period - delay
	}
	return period - delay
}

// UpdateRate refreshes the market's TWAPs and advances its cumulative
// funding rates when a period has elapsed. It returns nil when funding is
// paused, the oracle blocks the operation, or the period has not elapsed.
func UpdateRate(m *state.Market, data state.OraclePriceData, rails *state.OracleGuardRails, fundingPaused bool, now int64) (*RateUpdate, error) {
	a := &m.AMM
	mark, err := amm.MarkPrice(a)
	if err != nil {
		return nil, err
	}
	block, err := amm.BlockOperation(a, data, rails, &mark)
	if err != nil {
		return nil, err
	}
	normalised, err := amm.NormaliseOraclePrice(a, data, &mark)
	if err != nil {
		return nil, err
	}

	sinceLast := now - a.LastFundingRateTs
	if fundingPaused || block || sinceLast < NextUpdateWait(a.LastFundingRateTs, a.FundingPeriod) {
		return nil, nil
	}

	oracleTWAP, err := amm.UpdateOracleTWAP(a, now, normalised)
	if err != nil {
		return nil, err
	}
	markTWAP, err := amm.UpdateMarkTWAP(a, now, nil)
	if err != nil {
		return nil, err
	}

	c := fpmath.NewCalc("update_funding_rate")
	periodAdjustment := fpmath.OneDay / max(int64(fpmath.OneHour), a.FundingPeriod)
	spread := c.ISub(c.ToInt(markTWAP), oracleTWAP)
	rate := c.IDiv(c.IMul(spread, c.ToInt(fpmath.FundingPaymentPrecision)), fpmath.NewInt(periodAdjustment))
	if err := c.Err(); err != nil {
		return nil, err
	}

	long, short, feePool, err := LongShortRates(m, rate)
	if err != nil {
		return nil, err
	}
	a.TotalFeeMinusDistributions = feePool
	a.CumulativeFundingRateLong = c.IAdd(a.CumulativeFundingRateLong, long)
	a.CumulativeFundingRateShort = c.IAdd(a.CumulativeFundingRateShort, short)
	a.LastFundingRate = rate
	a.LastFundingRateTs = now
	if err := c.Err(); err != nil {
		return nil, err
	}

	return &RateUpdate{
		MarketIndex:                m.Index,
		FundingRate:                rate,
		CumulativeFundingRateLong:  a.CumulativeFundingRateLong,
		CumulativeFundingRateShort: a.CumulativeFundingRateShort,
		OraclePriceTWAP:            oracleTWAP,
		MarkPriceTWAP:              markTWAP,
	}, nil
}

// LongShortRates splits rate into the rates charged to longs and shorts and
// returns the market's fee pool after the protocol takes or pays the
// imbalance. The protocol never pays out below its reserved share of fees.
func LongShortRates(m *state.Market, rate fpmath.Int) (long, short fpmath.Int, feePool fpmath.Uint, err error) {
	c := fpmath.NewCalc("calculate_funding_rate_long_short")
	uncapped := paymentInQuote(c, rate, m.BaseAssetAmount).Neg()
	if err := c.Err(); err != nil {
		return fpmath.Int{}, fpmath.Int{}, fpmath.Uint{}, err
	}
	if !uncapped.IsNegative() {
		feePool = c.Add(m.AMM.TotalFeeMinusDistributions, uncapped.Abs())
		return rate, rate, feePool, c.Err()
	}

	capped, cappedPnl, err := cappedRate(m, uncapped, rate)
	if err != nil {
		return fpmath.Int{}, fpmath.Int{}, fpmath.Uint{}, err
	}
	feePool = c.Sub(m.AMM.TotalFeeMinusDistributions, cappedPnl.Abs())
	lower := feeLowerBound(c, &m.AMM)
	if err := c.Err(); err != nil {
		return fpmath.Int{}, fpmath.Int{}, fpmath.Uint{}, err
	}
	if !cappedPnl.IsZero() && feePool.LT(lower) {
		return fpmath.Int{}, fpmath.Int{}, fpmath.Uint{}, state.ErrInvalidFundingProfitability
	}

	long, short = rate, rate
	if rate.IsNegative() {
		long = capped
	}
	if rate.IsPositive() {
		short = capped
	}
	return long, short, feePool, nil
}

func feeLowerBound(c *fpmath.Calc, a *state.AMM) fpmath.Uint {
	return c.MulRatio(a.TotalFee, fpmath.ShareOfFeesAllocatedToClearingHouse)
}

// cappedRate limits what the protocol pays the receiving side to two thirds
// of the fee pool above its lower bound, plus what the paying side puts in.
func cappedRate(m *state.Market, uncapped, rate fpmath.Int) (fpmath.Int, fpmath.Int, error) {
	c := fpmath.NewCalc("calculate_capped_funding_rate")
	lower := feeLowerBound(c, &m.AMM)
	var limit fpmath.Int
	if m.AMM.TotalFeeMinusDistributions.GT(lower) {
		spare := c.Sub(m.AMM.TotalFeeMinusDistributions, lower)
		limit = c.ToInt(c.Div(c.Mul(spare, fpmath.NewUint(2)), fpmath.NewUint(3))).Neg()
	}
	cappedPnl := fpmath.MaxInt(uncapped, limit)
	if !uncapped.LT(limit) {
		return rate, cappedPnl, c.Err()
	}

	payer, receiver := m.BaseAssetAmountShort, m.BaseAssetAmountLong
	if rate.IsPositive() {
		payer, receiver = m.BaseAssetAmountLong, m.BaseAssetAmountShort
	}
	fromUsers := paymentInQuote(c, rate, payer)
	limit = c.ISub(limit, c.ToInt(fromUsers.Abs()))
	capped := rateFromPnlLimit(c, limit, receiver)
	return capped, cappedPnl, c.Err()
}

func rateFromPnlLimit(c *fpmath.Calc, limit, base fpmath.Int) fpmath.Int {
	if base.IsZero() {
		return fpmath.Int{}
	}
	if limit.IsNegative() {
		limit = c.IAdd(limit, fpmath.NewInt(1))
	}
	return c.IDiv(c.IMul(limit, c.ToInt(fpmath.QuoteToBaseAmountFundingPrecision)), base)
}
