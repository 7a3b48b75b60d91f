package amm

import (
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

// NormaliseOraclePrice nudges the oracle price toward mark by at most one
// basis point of mark, never leaving the oracle's confidence interval.
func NormaliseOraclePrice(a *state.AMM, data state.OraclePriceData, precomputedMark *fpmath.Uint) (fpmath.Int, error) {
	m, err := markOrPrecomputed(a, precomputedMark)
	if err != nil {
		return fpmath.Int{}, err
	}
	c := fpmath.NewCalc("normalise_oracle_price")
	mark := c.ToInt(m)
	oneBp := c.IDiv(mark, fpmath.NewInt(10_000))
	conf := c.ToInt(data.Confidence)
	oracle := data.Price

	var normalised fpmath.Int
	if mark.GT(oracle) {
		normalised = fpmath.MinInt(fpmath.MaxInt(c.ISub(mark, oneBp), oracle), c.IAdd(oracle, conf))
	} else {
		normalised = fpmath.MaxInt(fpmath.MinInt(c.IAdd(mark, oneBp), oracle), c.ISub(oracle, conf))
	}
	return normalised, c.Err()
}

// OracleMarkSpread returns the oracle price and mark minus oracle.
func OracleMarkSpread(a *state.AMM, data state.OraclePriceData, precomputedMark *fpmath.Uint) (oracle, spread fpmath.Int, err error) {
	m, err := markOrPrecomputed(a, precomputedMark)
	if err != nil {
		return fpmath.Int{}, fpmath.Int{}, err
	}
	c := fpmath.NewCalc("calculate_oracle_mark_spread")
	spread = c.ISub(c.ToInt(m), data.Price)
	return data.Price, spread, c.Err()
}

// OracleMarkSpreadPct is (mark - oracle) / oracle at PriceSpreadPrecision.
func OracleMarkSpreadPct(a *state.AMM, data state.OraclePriceData, precomputedMark *fpmath.Uint) (fpmath.Int, error) {
	oracle, spread, err := OracleMarkSpread(a, data, precomputedMark)
	if err != nil {
		return fpmath.Int{}, err
	}
	c := fpmath.NewCalc("calculate_oracle_mark_spread_pct")
	pct := c.IDiv(c.IMul(spread, c.ToInt(fpmath.PriceSpreadPrecision)), oracle)
	return pct, c.Err()
}

// IsOracleMarkTooDivergent reports whether a spread exceeds the guard rail.
func IsOracleMarkTooDivergent(spreadPct fpmath.Int, rails *state.OracleGuardRails) (bool, error) {
	num, den := rails.MarkOracleDivergence.Parts()
	c := fpmath.NewCalc("is_oracle_mark_too_divergent")
	maxDivergence := c.Div(c.Mul(num, fpmath.PriceSpreadPrecision), den)
	return spreadPct.Abs().GT(maxDivergence), c.Err()
}

// MarkTWAPSpreadPct is (mark - mark twap) / mark twap at PriceSpreadPrecision.
func MarkTWAPSpreadPct(a *state.AMM, mark fpmath.Uint) (fpmath.Int, error) {
	c := fpmath.NewCalc("calculate_mark_twap_spread_pct")
	twap := c.ToInt(a.LastMarkPriceTWAP)
	spread := c.ISub(c.ToInt(mark), twap)
	pct := c.IDiv(c.IMul(spread, c.ToInt(fpmath.PriceSpreadPrecision)), twap)
	return pct, c.Err()
}

// UseOraclePriceForMargin reports whether the spread is wide enough (a third
// of the divergence guard rail) for margin to consider the oracle price.
func UseOraclePriceForMargin(spreadPct fpmath.Int, rails *state.OracleGuardRails) (bool, error) {
	num, den := rails.MarkOracleDivergence.Parts()
	c := fpmath.NewCalc("use_oracle_price_for_margin_calculation")
	maxDivergence := c.Div(c.Div(c.Mul(num, fpmath.PriceSpreadPrecision), fpmath.NewUint(3)), den)
	return spreadPct.Abs().GT(maxDivergence), c.Err()
}

// IsOracleValid applies the guard rails to one oracle reading.
func IsOracleValid(a *state.AMM, data state.OraclePriceData, rails *state.OracleGuardRails) (bool, error) {
	c := fpmath.NewCalc("is_oracle_valid")
	one := fpmath.NewInt(1)
	price := data.Price

	nonPositive := !price.IsPositive()
	tooVolatile := c.IDiv(price, fpmath.MaxInt(one, a.LastOraclePriceTWAP)).GT(rails.TooVolatileRatio) ||
		c.IDiv(a.LastOraclePriceTWAP, fpmath.MaxInt(one, price)).GT(rails.TooVolatileRatio)
	confDenom := c.Div(price.Abs(), fpmath.MaxUint(fpmath.NewUint(1), data.Confidence))
	confTooLarge := confDenom.LT(rails.ConfidenceIntervalMaxSize)
	stale := data.Delay > rails.SlotsBeforeStale
	if err := c.Err(); err != nil {
		return false, err
	}

	return !(stale || !data.HasSufficientDataPoints || nonPositive || tooVolatile || confTooLarge), nil
}

// Status evaluates an oracle reading against a market's AMM.
func Status(a *state.AMM, data state.OraclePriceData, rails *state.OracleGuardRails, precomputedMark *fpmath.Uint) (state.OracleStatus, error) {
	valid, err := IsOracleValid(a, data, rails)
	if err != nil {
		return state.OracleStatus{}, err
	}
	// A zero price is already invalid; its spread is reported as zero.
	var pct fpmath.Int
	if !data.Price.IsZero() {
		if pct, err = OracleMarkSpreadPct(a, data, precomputedMark); err != nil {
			return state.OracleStatus{}, err
		}
	}
	divergent, err := IsOracleMarkTooDivergent(pct, rails)
	if err != nil {
		return state.OracleStatus{}, err
	}
	return state.OracleStatus{
		PriceData:           data,
		OracleMarkSpreadPct: pct,
		IsValid:             valid,
		MarkTooDivergent:    divergent,
	}, nil
}

// BlockOperation reports whether funding-sensitive operations must pause
// because the oracle is invalid or mark has diverged from it.
func BlockOperation(a *state.AMM, data state.OraclePriceData, rails *state.OracleGuardRails, precomputedMark *fpmath.Uint) (bool, error) {
	st, err := Status(a, data, rails, precomputedMark)
	if err != nil {
		return false, err
	}
	return !st.IsValid || st.MarkTooDivergent, nil
}
