package position

import (
	"PerpVAMM/internal/amm"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

// ValueAndPnl values the position against the curve.
func ValueAndPnl(pos *state.Position, a *state.AMM) (fpmath.Uint, fpmath.Int, error) {
	return amm.BaseAssetValueAndPnl(pos.BaseAssetAmount, pos.QuoteAssetAmount, a)
}

// ValueAndPnlWithOraclePrice values the position at the oracle price. A
// non-positive price values it at zero.
func ValueAndPnlWithOraclePrice(pos *state.Position, oraclePrice fpmath.Int) (fpmath.Uint, fpmath.Int, error) {
	if pos.BaseAssetAmount.IsZero() {
		return fpmath.Uint{}, fpmath.Int{}, nil
	}
	var price fpmath.Uint
	if oraclePrice.IsPositive() {
		price = oraclePrice.Abs()
	}
	c := fpmath.NewCalc("base_asset_value_with_oracle_price")
	value := c.Div(c.Mul(pos.BaseAssetAmount.Abs(), price), fpmath.MarkPriceTimesAMMToQuotePrecisionRatio)
	if err := c.Err(); err != nil {
		return fpmath.Uint{}, fpmath.Int{}, err
	}
	pnl, err := amm.CalculatePnl(value, pos.QuoteAssetAmount, amm.SwapDirectionToClose(pos.BaseAssetAmount))
	if err != nil {
		return fpmath.Uint{}, fpmath.Int{}, err
	}
	return value, pnl, nil
}

// UpdatedCollateral applies pnl to collateral, clamping at zero.
func UpdatedCollateral(collateral fpmath.Uint, pnl fpmath.Int) fpmath.Uint {
	if pnl.IsNegative() {
		if pnl.Abs().GT(collateral) {
			return fpmath.Uint{}
		}
		c := fpmath.NewCalc("updated_collateral")
		return c.Sub(collateral, pnl.Abs())
	}
	c := fpmath.NewCalc("updated_collateral")
	sum := c.Add(collateral, pnl.Abs())
	if c.Failed() {
		// Saturate; a 256-bit collateral balance is not reachable in practice.
		return fpmath.MaxUint(collateral, pnl.Abs())
	}
	return sum
}

// WithdrawalAmounts splits a payout between the collateral vault and the
// insurance vault, drawing on insurance only for what collateral cannot cover.
func WithdrawalAmounts(amount, collateralBalance, insuranceBalance fpmath.Uint) (fromCollateral, fromInsurance fpmath.Uint) {
	if collateralBalance.GTE(amount) {
		return amount, fpmath.Uint{}
	}
	c := fpmath.NewCalc("withdrawal_amounts")
	shortfall := c.Sub(amount, collateralBalance)
	if insuranceBalance.GT(shortfall) {
		return collateralBalance, shortfall
	}
	return collateralBalance, insuranceBalance
}

// Slippage is the AMM exit price of a close minus the mark price before it.
func Slippage(exitValue, baseAmount, markBefore fpmath.Uint) (fpmath.Int, error) {
	c := fpmath.NewCalc("calculate_slippage")
	exitPrice := c.Div(c.Mul(exitValue, fpmath.MarkPriceTimesAMMToQuotePrecisionRatio), baseAmount)
	s := c.ISub(c.ToInt(exitPrice), c.ToInt(markBefore))
	return s, c.Err()
}

// SlippagePct scales slippage by the mark price into PriceSpreadPrecision.
func SlippagePct(slippage fpmath.Int, markBefore fpmath.Uint) (fpmath.Int, error) {
	c := fpmath.NewCalc("calculate_slippage_pct")
	pct := c.IDiv(c.IMul(slippage, c.ToInt(fpmath.PriceSpreadPrecision)), c.ToInt(markBefore))
	return pct, c.Err()
}
