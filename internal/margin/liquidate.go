package margin

import (
	"PerpVAMM/internal/amm"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/position"
	"PerpVAMM/internal/state"
)

// LiquidationTrade is one position close or reduction made by a liquidation.
type LiquidationTrade struct {
	MarketIndex      uint64
	Direction        state.PositionDirection
	BaseAssetAmount  fpmath.Uint
	QuoteAssetAmount fpmath.Uint
	MarkPriceBefore  fpmath.Uint
	MarkPriceAfter   fpmath.Uint
	OraclePrice      fpmath.Int
}

// Liquidation is the outcome of Liquidate. The fee has already been taken
// from the user's collateral.
type Liquidation struct {
	Full                 bool
	BaseAssetValueClosed fpmath.Uint
	Fee                  fpmath.Uint
	CollateralBefore     fpmath.Uint
	Trades               []LiquidationTrade
}

// Liquidate executes st against the user's holdings. A FULL status, or any
// status on a dust account, closes positions in descending maintenance
// requirement until collateral covers the remaining requirement. A PARTIAL
// status reduces each position by the configured close percentage.
func Liquidate(user *state.User, holdings []Holding, st state.LiquidationStatus, ps *state.ProtocolState, rails *state.OracleGuardRails, now int64) (Liquidation, error) {
	if st.LiquidationType == state.LiquidationNone {
		return Liquidation{}, state.ErrSufficientCollateral
	}
	byMarket := make(map[uint64]Holding, len(holdings))
	for _, h := range holdings {
		byMarket[h.Market.Index] = h
	}

	dust := st.AdjustedTotalCollateral.LTE(fpmath.QuotePrecision)
	l := &liquidator{
		user:     user,
		holdings: byMarket,
		st:       st,
		ps:       ps,
		rails:    rails,
		now:      now,
		full:     st.LiquidationType == state.LiquidationFull || dust,
		dust:     dust,
		required: st.MarginRequirement,
		result:   Liquidation{CollateralBefore: user.Collateral},
	}
	l.result.Full = l.full

	var err error
	if l.full {
		err = l.runFull()
	} else {
		err = l.runPartial()
	}
	if err != nil {
		return Liquidation{}, err
	}
	if l.result.BaseAssetValueClosed.IsZero() {
		return Liquidation{}, state.ErrNoPositionsLiquidatable
	}

	// Realised losses can leave less collateral than the fee was sized on.
	fee := fpmath.MinUint(l.result.Fee, user.Collateral)
	c := fpmath.NewCalc("liquidation_fee")
	user.Collateral = c.Sub(user.Collateral, fee)
	l.result.Fee = fee
	return l.result, c.Err()
}

type liquidator struct {
	user     *state.User
	holdings map[uint64]Holding
	st       state.LiquidationStatus
	ps       *state.ProtocolState
	rails    *state.OracleGuardRails
	now      int64
	full     bool
	dust     bool
	required fpmath.Uint
	result   Liquidation
}

// skipUnreliable reports whether a market's oracle is invalid while its mark
// has run away from its own TWAP.
func skipUnreliable(h Holding, ms state.MarketStatus) (bool, error) {
	if ms.OracleStatus.IsValid {
		return false, nil
	}
	pct, err := amm.MarkTWAPSpreadPct(&h.Market.AMM, ms.MarkPriceBefore)
	if err != nil {
		return false, err
	}
	return pct.Abs().GTE(fpmath.NewUint(fpmath.MaxMarkTWAPDivergence)), nil
}

// divergenceAfter estimates the oracle/mark spread once a trade with the
// given slippage lands. Slippage beyond the liquidation bound is
// approximated as twice the bound.
func divergenceAfter(c *fpmath.Calc, ms state.MarketStatus, slippagePct fpmath.Int, tooLarge bool) fpmath.Int {
	spread := ms.OracleStatus.OracleMarkSpreadPct
	bound := fpmath.NewInt(2 * fpmath.MaxLiquidationSlippage)
	switch {
	case !tooLarge:
		return c.IAdd(spread, slippagePct)
	case slippagePct.IsPositive():
		return c.IAdd(spread, bound)
	default:
		return c.ISub(spread, bound)
	}
}

// worsensDivergence reports whether trading would push a valid oracle's
// spread past the guard rail and further from mark than it already is.
func (l *liquidator) worsensDivergence(ms state.MarketStatus, after fpmath.Int) (bool, error) {
	if !ms.OracleStatus.IsValid {
		return false, nil
	}
	tooDivergent, err := amm.IsOracleMarkTooDivergent(after, l.rails)
	if err != nil || !tooDivergent {
		return false, err
	}
	return ms.OracleStatus.OracleMarkSpreadPct.Abs().LT(after.Abs()), nil
}

func (l *liquidator) slippagePct(ms state.MarketStatus, pos *state.Position, divisor int64) (fpmath.Int, bool, error) {
	var slippage fpmath.Int
	if ms.ClosePositionSlippage != nil {
		slippage = *ms.ClosePositionSlippage
	} else {
		s, err := position.Slippage(ms.BaseAssetValue, pos.BaseAssetAmount.Abs(), ms.MarkPriceBefore)
		if err != nil {
			return fpmath.Int{}, false, err
		}
		slippage = s
	}
	c := fpmath.NewCalc("liquidation_slippage")
	slippage = c.IDiv(slippage, fpmath.NewInt(divisor))
	if err := c.Err(); err != nil {
		return fpmath.Int{}, false, err
	}
	pct, err := position.SlippagePct(slippage, ms.MarkPriceBefore)
	if err != nil {
		return fpmath.Int{}, false, err
	}
	return pct, pct.Abs().GT(fpmath.NewUint(fpmath.MaxLiquidationSlippage)), nil
}

func (l *liquidator) runFull() error {
	c := fpmath.NewCalc("full_liquidation")
	maxFee := c.MulRatio(l.st.TotalCollateral, l.ps.FullLiquidationPenaltyPercentage)
	if err := c.Err(); err != nil {
		return err
	}

	for _, ms := range l.st.MarketStatuses {
		if ms.BaseAssetValue.IsZero() {
			continue
		}
		h, ok := l.holdings[ms.MarketIndex]
		if !ok || h.Position == nil || h.Position.BaseAssetAmount.IsZero() {
			continue
		}
		skip, err := skipUnreliable(h, ms)
		if err != nil {
			return err
		}
		if skip {
			continue
		}

		pct, tooLarge, err := l.slippagePct(ms, h.Position, 1)
		if err != nil {
			return err
		}
		worse, err := l.worsensDivergence(ms, divergenceAfter(c, ms, pct, tooLarge))
		if err != nil {
			return err
		}
		if worse {
			continue
		}

		dir := amm.DirectionToClose(h.Position.BaseAssetAmount)
		var quote, base fpmath.Uint
		if tooLarge {
			quote = c.Div(c.Mul(ms.BaseAssetValue, fpmath.NewUint(fpmath.MaxLiquidationSlippage)), pct.Abs())
			if err := c.Err(); err != nil {
				return err
			}
			swapped, err := position.Reduce(h.Market, h.Position, l.user, dir, quote, l.now, &ms.MarkPriceBefore)
			if err != nil {
				return err
			}
			base = swapped.Abs()
		} else {
			closed, err := position.Close(h.Market, h.Position, l.user, l.now, nil, &ms.MarkPriceBefore)
			if err != nil {
				return err
			}
			quote, base = closed.QuoteAssetAmount, closed.BaseAssetAmount.Abs()
		}
		if err := l.record(h, ms, dir, base, quote); err != nil {
			return err
		}

		l.required = c.Sub(l.required, c.Div(c.Mul(ms.MaintenanceMarginRequirement, quote), ms.BaseAssetValue))
		l.result.Fee = c.Add(l.result.Fee, c.Div(c.Mul(maxFee, quote), l.st.BaseAssetValue))
		afterFee := c.Sub(l.st.AdjustedTotalCollateral, l.result.Fee)
		if err := c.Err(); err != nil {
			return err
		}
		if !l.dust && l.required.LT(afterFee) {
			break
		}
	}
	return nil
}

func (l *liquidator) runPartial() error {
	c := fpmath.NewCalc("partial_liquidation")
	maxFee := c.MulRatio(l.st.TotalCollateral, l.ps.PartialLiquidationPenaltyPercentage)
	maxClosed := c.MulRatio(l.st.BaseAssetValue, l.ps.PartialLiquidationClosePercentage)
	if err := c.Err(); err != nil {
		return err
	}

	for _, ms := range l.st.MarketStatuses {
		if ms.BaseAssetValue.IsZero() {
			continue
		}
		h, ok := l.holdings[ms.MarketIndex]
		if !ok || h.Position == nil || h.Position.BaseAssetAmount.IsZero() {
			continue
		}
		skip, err := skipUnreliable(h, ms)
		if err != nil {
			return err
		}
		if skip {
			continue
		}

		quote := c.MulRatio(ms.BaseAssetValue, l.ps.PartialLiquidationClosePercentage)
		pct, tooLarge, err := l.slippagePct(ms, h.Position, 4)
		if err != nil {
			return err
		}
		worse, err := l.worsensDivergence(ms, divergenceAfter(c, ms, pct, tooLarge))
		if err != nil {
			return err
		}
		if worse {
			return state.ErrOracleMarkSpreadLimit
		}
		if tooLarge {
			quote = c.Div(c.Mul(quote, fpmath.NewUint(fpmath.MaxLiquidationSlippage)), pct.Abs())
		}
		if err := c.Err(); err != nil {
			return err
		}

		dir := amm.DirectionToClose(h.Position.BaseAssetAmount)
		swapped, err := position.Reduce(h.Market, h.Position, l.user, dir, quote, l.now, &ms.MarkPriceBefore)
		if err != nil {
			return err
		}
		if err := l.record(h, ms, dir, swapped.Abs(), quote); err != nil {
			return err
		}

		l.required = c.Sub(l.required, c.Div(c.Mul(ms.PartialMarginRequirement, quote), ms.BaseAssetValue))
		l.result.Fee = c.Add(l.result.Fee, c.Div(c.Mul(maxFee, quote), maxClosed))
		afterFee := c.Sub(l.st.AdjustedTotalCollateral, l.result.Fee)
		if err := c.Err(); err != nil {
			return err
		}
		if l.required.LT(afterFee) {
			break
		}
	}
	return nil
}

func (l *liquidator) record(h Holding, ms state.MarketStatus, dir state.PositionDirection, base, quote fpmath.Uint) error {
	after, err := amm.MarkPrice(&h.Market.AMM)
	if err != nil {
		return err
	}
	c := fpmath.NewCalc("liquidation_value_closed")
	l.result.BaseAssetValueClosed = c.Add(l.result.BaseAssetValueClosed, quote)
	l.result.Trades = append(l.result.Trades, LiquidationTrade{
		MarketIndex:      ms.MarketIndex,
		Direction:        dir,
		BaseAssetAmount:  base,
		QuoteAssetAmount: quote,
		MarkPriceBefore:  ms.MarkPriceBefore,
		MarkPriceAfter:   after,
		OraclePrice:      ms.OracleStatus.PriceData.Price,
	})
	return c.Err()
}

// FeeSplit divides a liquidation fee between the liquidator and the
// insurance vault. Only what the collateral vault (topped up by insurance)
// can pay out is split; the liquidator's share is credited as collateral.
func FeeSplit(fee, collateralVault, insuranceVault fpmath.Uint, full bool, ps *state.ProtocolState) (toLiquidator, toInsurance fpmath.Uint, err error) {
	withdrawal, _ := position.WithdrawalAmounts(fee, collateralVault, insuranceVault)
	denominator := ps.PartialLiquidationLiquidatorShareDenominator
	if full {
		denominator = ps.FullLiquidationLiquidatorShareDenominator
	}
	c := fpmath.NewCalc("liquidation_fee_split")
	toLiquidator = c.Div(withdrawal, fpmath.NewUint(denominator))
	toInsurance = c.Sub(withdrawal, toLiquidator)
	return toLiquidator, toInsurance, c.Err()
}
