package amm

import (
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

// twapWeights returns the weight of a new sample taken at now and the weight
// of the prior TWAP last updated at ts.
func twapWeights(now, ts, period int64) (sinceLast, fromStart int64) {
	sinceLast = max(1, now-ts)
	fromStart = max(1, period-sinceLast)
	return sinceLast, fromStart
}

func blend(c *fpmath.Calc, sample, prior fpmath.Int, sampleWeight, priorWeight int64) fpmath.Int {
	num := c.IAdd(
		c.IMul(prior, fpmath.NewInt(priorWeight)),
		c.IMul(sample, fpmath.NewInt(sampleWeight)),
	)
	return c.IDiv(num, fpmath.NewInt(sampleWeight+priorWeight))
}

// NewMarkTWAP blends mark into the mark TWAP without storing it.
func NewMarkTWAP(a *state.AMM, now int64, mark fpmath.Uint) (fpmath.Uint, error) {
	sinceLast, fromStart := twapWeights(now, a.LastMarkPriceTWAPTs, a.FundingPeriod)
	c := fpmath.NewCalc("calculate_new_mark_twap")
	twap := blend(c, c.ToInt(mark), c.ToInt(a.LastMarkPriceTWAP), sinceLast, fromStart)
	return twap.Abs(), c.Err()
}

// UpdateMarkTWAP folds the current mark price (or the precomputed one) into
// the mark TWAP and returns it.
func UpdateMarkTWAP(a *state.AMM, now int64, precomputedMark *fpmath.Uint) (fpmath.Uint, error) {
	mark, err := markOrPrecomputed(a, precomputedMark)
	if err != nil {
		return fpmath.Uint{}, err
	}
	twap, err := NewMarkTWAP(a, now, mark)
	if err != nil {
		return fpmath.Uint{}, err
	}
	a.LastMarkPriceTWAP = twap
	a.LastMarkPriceTWAPTs = now
	return twap, nil
}

// NewOracleTWAP blends price into the oracle TWAP without storing it.
func NewOracleTWAP(a *state.AMM, now int64, price fpmath.Int) (fpmath.Int, error) {
	sinceLast, fromStart := twapWeights(now, a.LastOraclePriceTWAPTs, a.FundingPeriod)
	c := fpmath.NewCalc("calculate_new_oracle_price_twap")
	twap := blend(c, price, a.LastOraclePriceTWAP, sinceLast, fromStart)
	return twap, c.Err()
}

// UpdateOracleTWAP folds an oracle price into the oracle TWAP. The sample is
// first capped to a third of the price away from the current TWAP, and is
// ignored unless both the capped sample and the raw price are positive.
func UpdateOracleTWAP(a *state.AMM, now int64, price fpmath.Int) (fpmath.Int, error) {
	c := fpmath.NewCalc("update_oracle_price_twap")
	spread := c.ISub(price, a.LastOraclePriceTWAP)
	third := c.IDiv(price, fpmath.NewInt(3))
	capped := price
	if spread.Abs().GT(third.Abs()) {
		if price.GT(a.LastOraclePriceTWAP) {
			capped = c.IAdd(a.LastOraclePriceTWAP, third)
		} else {
			capped = c.ISub(a.LastOraclePriceTWAP, third)
		}
	}
	if err := c.Err(); err != nil {
		return fpmath.Int{}, err
	}

	if !capped.IsPositive() || !price.IsPositive() {
		return a.LastOraclePriceTWAP, nil
	}
	twap, err := NewOracleTWAP(a, now, capped)
	if err != nil {
		return fpmath.Int{}, err
	}
	a.LastOraclePrice = capped
	a.LastOraclePriceTWAP = twap
	a.LastOraclePriceTWAPTs = now
	return twap, nil
}

func markOrPrecomputed(a *state.AMM, precomputed *fpmath.Uint) (fpmath.Uint, error) {
	if precomputed != nil {
		return *precomputed, nil
	}
	return MarkPrice(a)
}
