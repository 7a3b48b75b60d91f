package amm

import (
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

// SwapQuoteAsset trades quoteAmount (quote units) against the curve and
// returns the base acquired: positive when base left the curve.
func SwapQuoteAsset(a *state.AMM, quoteAmount fpmath.Uint, dir state.SwapDirection, now int64, precomputedMark *fpmath.Uint) (fpmath.Int, error) {
	if _, err := UpdateMarkTWAP(a, now, precomputedMark); err != nil {
		return fpmath.Int{}, err
	}
	reserveAmount, err := AssetToReserve(quoteAmount, a.PegMultiplier)
	if err != nil {
		return fpmath.Int{}, err
	}
	if reserveAmount.LT(a.MinimumQuoteAssetTradeSize) {
		return fpmath.Int{}, state.ErrTradeSizeTooSmall
	}

	initialBase := a.BaseAssetReserve
	newBase, newQuote, err := SwapOutput(reserveAmount, a.QuoteAssetReserve, dir, a.SqrtK)
	if err != nil {
		return fpmath.Int{}, err
	}
	a.BaseAssetReserve = newBase
	a.QuoteAssetReserve = newQuote

	c := fpmath.NewCalc("swap_quote_asset")
	acquired := c.ISub(c.ToInt(initialBase), c.ToInt(newBase))
	return acquired, c.Err()
}

// SwapBaseAsset trades baseAmount against the curve and returns the quote
// amount swapped.
func SwapBaseAsset(a *state.AMM, baseAmount fpmath.Uint, dir state.SwapDirection, now int64, precomputedMark *fpmath.Uint) (fpmath.Uint, error) {
	if _, err := UpdateMarkTWAP(a, now, precomputedMark); err != nil {
		return fpmath.Uint{}, err
	}
	initialQuote := a.QuoteAssetReserve
	newQuote, newBase, err := SwapOutput(baseAmount, a.BaseAssetReserve, dir, a.SqrtK)
	if err != nil {
		return fpmath.Uint{}, err
	}
	a.BaseAssetReserve = newBase
	a.QuoteAssetReserve = newQuote
	return QuoteAssetAmountSwapped(initialQuote, newQuote, dir, a.PegMultiplier)
}

// MoveToPrice sets the reserves directly and re-derives sqrt k.
func MoveToPrice(a *state.AMM, baseReserve, quoteReserve fpmath.Uint) error {
	c := fpmath.NewCalc("move_price")
	k := c.Mul(baseReserve, quoteReserve)
	if err := c.Err(); err != nil {
		return err
	}
	a.BaseAssetReserve = baseReserve
	a.QuoteAssetReserve = quoteReserve
	a.SqrtK = fpmath.Sqrt(k)
	return nil
}
