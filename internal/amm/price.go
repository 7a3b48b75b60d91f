// Package amm prices trades against a market's virtual constant-product
// curve and maintains the curve's TWAPs and oracle checks.
package amm

import (
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

// CalculatePrice returns quote*peg/base at MarkPricePrecision.
func CalculatePrice(quoteReserve, baseReserve, peg fpmath.Uint) (fpmath.Uint, error) {
	c := fpmath.NewCalc("calculate_price")
	p := c.Div(c.Mul(c.Mul(quoteReserve, peg), fpmath.PriceToPegPrecisionRatio), baseReserve)
	return p, c.Err()
}

// MarkPrice is the current curve price of a.
func MarkPrice(a *state.AMM) (fpmath.Uint, error) {
	return CalculatePrice(a.QuoteAssetReserve, a.BaseAssetReserve, a.PegMultiplier)
}

// SwapOutput moves amount into (Add) or out of (Remove) the input side of a
// curve with the given sqrt invariant. It returns the new output reserve and
// the new input reserve.
func SwapOutput(amount, inputReserve fpmath.Uint, dir state.SwapDirection, sqrtK fpmath.Uint) (newOutput, newInput fpmath.Uint, err error) {
	c := fpmath.NewCalc("swap_output")
	invariant := c.Mul(sqrtK, sqrtK)
	if err := c.Err(); err != nil {
		return fpmath.Uint{}, fpmath.Uint{}, err
	}
	if dir == state.SwapRemove && amount.GT(inputReserve) {
		return fpmath.Uint{}, fpmath.Uint{}, state.ErrTradeSizeTooLarge
	}
	if dir == state.SwapAdd {
		newInput = c.Add(inputReserve, amount)
	} else {
		newInput = c.Sub(inputReserve, amount)
	}
	newOutput = c.Div(invariant, newInput)
	return newOutput, newInput, c.Err()
}

// QuoteAssetAmountSwapped converts a quote reserve move into quote units.
// A Remove costs one extra unit so buying base always rounds against the
// trader.
func QuoteAssetAmountSwapped(before, after fpmath.Uint, dir state.SwapDirection, peg fpmath.Uint) (fpmath.Uint, error) {
	c := fpmath.NewCalc("quote_asset_amount_swapped")
	var change fpmath.Uint
	if dir == state.SwapAdd {
		change = c.Sub(before, after)
	} else {
		change = c.Sub(after, before)
	}
	amount := c.Div(c.Mul(change, peg), fpmath.AMMTimesPegToQuotePrecisionRatio)
	if dir == state.SwapRemove {
		amount = c.Add(amount, fpmath.NewUint(1))
	}
	return amount, c.Err()
}

// AssetToReserve converts quote units into quote reserve units.
func AssetToReserve(amount, peg fpmath.Uint) (fpmath.Uint, error) {
	c := fpmath.NewCalc("asset_to_reserve_amount")
	v := c.Div(c.Mul(amount, fpmath.AMMTimesPegToQuotePrecisionRatio), peg)
	return v, c.Err()
}

// TerminalPrice is the price the curve would reach if the market's whole
// net position were closed.
func TerminalPrice(m *state.Market) (fpmath.Uint, error) {
	dir := state.SwapRemove
	if m.BaseAssetAmount.IsPositive() {
		dir = state.SwapAdd
	}
	newQuote, newBase, err := SwapOutput(m.BaseAssetAmount.Abs(), m.AMM.BaseAssetReserve, dir, m.AMM.SqrtK)
	if err != nil {
		return fpmath.Uint{}, err
	}
	return CalculatePrice(newQuote, newBase, m.AMM.PegMultiplier)
}
