package amm

import (
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

// MaxBaseAssetAmountToTrade returns the base amount, and the direction of
// the trade, that would move the mark price to limitPrice.
func MaxBaseAssetAmountToTrade(a *state.AMM, limitPrice fpmath.Uint) (fpmath.Uint, state.PositionDirection, error) {
	c := fpmath.NewCalc("calculate_max_base_asset_amount_to_trade")
	invariant := c.Mul(a.SqrtK, a.SqrtK)
	squared := c.Div(c.Mul(c.Div(c.Mul(invariant, fpmath.MarkPricePrecision), limitPrice), a.PegMultiplier), fpmath.PegPrecision)
	if err := c.Err(); err != nil {
		return fpmath.Uint{}, state.DirectionLong, err
	}
	newBase := fpmath.Sqrt(squared)
	if newBase.GT(a.BaseAssetReserve) {
		return c.Sub(newBase, a.BaseAssetReserve), state.DirectionShort, c.Err()
	}
	return c.Sub(a.BaseAssetReserve, newBase), state.DirectionLong, c.Err()
}

// ShouldRoundTrade reports whether the gap between a requested quote amount
// and a position's value is below the minimum quote trade size, in which
// case the trade is rounded up to a full close.
func ShouldRoundTrade(a *state.AMM, quoteAmount, baseValue fpmath.Uint) (bool, error) {
	c := fpmath.NewCalc("should_round_trade")
	var diff fpmath.Uint
	if quoteAmount.GT(baseValue) {
		diff = c.Sub(quoteAmount, baseValue)
	} else {
		diff = c.Sub(baseValue, quoteAmount)
	}
	if err := c.Err(); err != nil {
		return false, err
	}
	reserve, err := AssetToReserve(diff, a.PegMultiplier)
	if err != nil {
		return false, err
	}
	return reserve.LT(a.MinimumQuoteAssetTradeSize), nil
}

// AdjustKCost rescales the reserves of m to newSqrtK and returns what the
// change costs the protocol: the pnl of the net market position valued on
// the new curve against its value on the old one. A single call may shrink
// sqrt k by at most 2.5%.
func AdjustKCost(m *state.Market, newSqrtK fpmath.Uint) (fpmath.Int, error) {
	currentValue, _, err := BaseAssetValueAndPnl(m.BaseAssetAmount, fpmath.Uint{}, &m.AMM)
	if err != nil {
		return fpmath.Int{}, err
	}

	c := fpmath.NewCalc("adjust_k_cost")
	ratio := c.Div(c.Mul(newSqrtK, fpmath.MarkPricePrecision), m.AMM.SqrtK)
	if err := c.Err(); err != nil {
		return fpmath.Int{}, err
	}
	if ratio.LT(fpmath.MinKAdjustmentRatio) {
		return fpmath.Int{}, state.ErrInvalidUpdateK
	}
	newBase := c.MulDiv(m.AMM.BaseAssetReserve, ratio, fpmath.MarkPricePrecision)
	newQuote := c.MulDiv(m.AMM.QuoteAssetReserve, ratio, fpmath.MarkPricePrecision)
	if err := c.Err(); err != nil {
		return fpmath.Int{}, err
	}

	m.AMM.SqrtK = newSqrtK
	m.AMM.BaseAssetReserve = newBase
	m.AMM.QuoteAssetReserve = newQuote

	_, cost, err := BaseAssetValueAndPnl(m.BaseAssetAmount, currentValue, &m.AMM)
	return cost, err
}

// AdjustPegCost sets the peg of m and returns the cost to the protocol.
func AdjustPegCost(m *state.Market, newPeg fpmath.Uint) (fpmath.Int, error) {
	currentValue, _, err := BaseAssetValueAndPnl(m.BaseAssetAmount, fpmath.Uint{}, &m.AMM)
	if err != nil {
		return fpmath.Int{}, err
	}
	m.AMM.PegMultiplier = newPeg
	_, cost, err := BaseAssetValueAndPnl(m.BaseAssetAmount, currentValue, &m.AMM)
	return cost, err
}

// Repeg moves the peg of m to newPeg. With a valid oracle the terminal price
// must move toward the oracle without overshooting its confidence band, and
// the cost is paid from fees without dipping below the protocol's share.
func Repeg(m *state.Market, newPeg fpmath.Uint, data state.OraclePriceData, rails *state.OracleGuardRails) (fpmath.Int, error) {
	if newPeg.Eq(m.AMM.PegMultiplier) {
		return fpmath.Int{}, state.ErrInvalidRepegRedundant
	}
	terminalBefore, err := TerminalPrice(m)
	if err != nil {
		return fpmath.Int{}, err
	}
	cost, err := AdjustPegCost(m, newPeg)
	if err != nil {
		return fpmath.Int{}, err
	}

	valid, err := IsOracleValid(&m.AMM, data, rails)
	if err != nil {
		return fpmath.Int{}, err
	}
	if valid {
		if err := checkRepegAgainstOracle(m, terminalBefore, data); err != nil {
			return fpmath.Int{}, err
		}
	}

	c := fpmath.NewCalc("repeg")
	if cost.IsPositive() {
		m.AMM.TotalFeeMinusDistributions = c.Sub(m.AMM.TotalFeeMinusDistributions, cost.Abs())
		floor := c.MulRatio(m.AMM.TotalFee, fpmath.ShareOfFeesAllocatedToClearingHouse)
		if err := c.Err(); err != nil {
			return fpmath.Int{}, err
		}
		if m.AMM.TotalFeeMinusDistributions.LT(floor) {
			return fpmath.Int{}, state.ErrInvalidRepegProfitability
		}
	} else {
		m.AMM.TotalFeeMinusDistributions = c.Add(m.AMM.TotalFeeMinusDistributions, cost.Abs())
	}
	return cost, c.Err()
}

func checkRepegAgainstOracle(m *state.Market, terminalBefore fpmath.Uint, data state.OraclePriceData) error {
	terminalAfter, err := TerminalPrice(m)
	if err != nil {
		return err
	}
	markAfter, err := MarkPrice(&m.AMM)
	if err != nil {
		return err
	}
	c := fpmath.NewCalc("repeg")
	oracle := data.Price.Abs()
	bandTop := c.Add(oracle, data.Confidence)
	bandBottom := c.Sub(oracle, data.Confidence)
	if err := c.Err(); err != nil {
		return err
	}

	switch {
	case oracle.GT(terminalAfter):
		if terminalAfter.LT(terminalBefore) {
			return state.ErrInvalidRepegDirection
		}
		if bandBottom.LT(terminalAfter) || markAfter.GT(bandTop) {
			return state.ErrInvalidRepegProfitability
		}
	case oracle.LT(terminalAfter):
		if terminalAfter.GT(terminalBefore) {
			return state.ErrInvalidRepegDirection
		}
		if bandTop.GT(terminalAfter) || markAfter.LT(bandBottom) {
			return state.ErrInvalidRepegProfitability
		}
	}
	return nil
}
