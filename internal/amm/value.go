package amm

import (
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

// SwapDirectionToClose is the swap that unwinds a position of the given base.
func SwapDirectionToClose(base fpmath.Int) state.SwapDirection {
	if base.IsNegative() {
		return state.SwapRemove
	}
	return state.SwapAdd
}

// DirectionToClose is the trade direction that unwinds a position.
func DirectionToClose(base fpmath.Int) state.PositionDirection {
	if base.IsPositive() {
		return state.DirectionShort
	}
	return state.DirectionLong
}

// CalculatePnl compares exit and entry value for the closing swap direction.
func CalculatePnl(exit, entry fpmath.Uint, closeDir state.SwapDirection) (fpmath.Int, error) {
	c := fpmath.NewCalc("calculate_pnl")
	x, e := c.ToInt(exit), c.ToInt(entry)
	var pnl fpmath.Int
	if closeDir == state.SwapAdd {
		pnl = c.ISub(x, e)
	} else {
		pnl = c.ISub(e, x)
	}
	return pnl, c.Err()
}

// BaseAssetValueAndPnl values base against the curve (the quote a full close
// would swap) and the pnl of that close against the quote entry value.
func BaseAssetValueAndPnl(base fpmath.Int, quoteEntry fpmath.Uint, a *state.AMM) (fpmath.Uint, fpmath.Int, error) {
	if base.IsZero() {
		return fpmath.Uint{}, fpmath.Int{}, nil
	}
	dir := SwapDirectionToClose(base)
	newQuote, _, err := SwapOutput(base.Abs(), a.BaseAssetReserve, dir, a.SqrtK)
	if err != nil {
		return fpmath.Uint{}, fpmath.Int{}, err
	}
	value, err := QuoteAssetAmountSwapped(a.QuoteAssetReserve, newQuote, dir, a.PegMultiplier)
	if err != nil {
		return fpmath.Uint{}, fpmath.Int{}, err
	}
	pnl, err := CalculatePnl(value, quoteEntry, dir)
	if err != nil {
		return fpmath.Uint{}, fpmath.Int{}, err
	}
	return value, pnl, nil
}
