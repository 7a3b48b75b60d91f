package order

import (
	"fmt"

	"PerpVAMM/internal/amm"
	"PerpVAMM/internal/margin"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/position"
	"PerpVAMM/internal/state"
)

// MarketCanExecute is the base amount of o the curve can fill right now:
// nothing while a trigger is unmet, up to the limit price for limit orders,
// and the whole remainder for a triggered market order.
func MarketCanExecute(o *state.Order, m *state.Market, mark fpmath.Uint, validOraclePrice *fpmath.Int) (fpmath.Uint, error) {
	switch o.OrderType {
	case state.OrderTypeLimit:
		return limitExecutable(o, m, validOraclePrice)
	case state.OrderTypeTriggerMarket:
		return triggerExecutable(o, mark, validOraclePrice)
	case state.OrderTypeTriggerLimit:
		// Once partially filled the trigger has fired and stays fired.
		if o.BaseAssetAmountFilled.IsZero() {
			base, err := triggerExecutable(o, mark, validOraclePrice)
			if err != nil || base.IsZero() {
				return fpmath.Uint{}, err
			}
		}
		return limitExecutable(o, m, nil)
	default:
		return fpmath.Uint{}, invalid("order type %d is not executed against a limit", o.OrderType)
	}
}

func limitExecutable(o *state.Order, m *state.Market, validOraclePrice *fpmath.Int) (fpmath.Uint, error) {
	limit, err := o.LimitPrice(validOraclePrice)
	if err != nil {
		return fpmath.Uint{}, err
	}
	maxBase, dir, err := amm.MaxBaseAssetAmountToTrade(&m.AMM, limit)
	if err != nil {
		return fpmath.Uint{}, err
	}
	if dir != o.Direction || maxBase.IsZero() {
		return fpmath.Uint{}, nil
	}
	return fpmath.MinUint(o.RemainingBase(), maxBase), nil
}

// triggerExecutable checks the trigger against mark and, when available,
// against an oracle price widened by 1%.
func triggerExecutable(o *state.Order, mark fpmath.Uint, validOraclePrice *fpmath.Int) (fpmath.Uint, error) {
	c := fpmath.NewCalc("trigger_executable")
	trigger := c.ToInt(o.TriggerPrice)
	switch o.TriggerCondition {
	case state.TriggerAbove:
		if mark.LTE(o.TriggerPrice) {
			return fpmath.Uint{}, nil
		}
		if validOraclePrice != nil {
			widened := c.IDiv(c.IMul(*validOraclePrice, fpmath.NewInt(101)), fpmath.NewInt(100))
			if err := c.Err(); err != nil {
				return fpmath.Uint{}, err
			}
			if widened.LTE(trigger) {
				return fpmath.Uint{}, nil
			}
		}
	case state.TriggerBelow:
		if mark.GTE(o.TriggerPrice) {
			return fpmath.Uint{}, nil
		}
		if validOraclePrice != nil {
			narrowed := c.IDiv(c.IMul(*validOraclePrice, fpmath.NewInt(99)), fpmath.NewInt(100))
			if err := c.Err(); err != nil {
				return fpmath.Uint{}, err
			}
			if narrowed.Abs().GTE(o.TriggerPrice) {
				return fpmath.Uint{}, nil
			}
		}
	}
	return o.RemainingBase(), c.Err()
}

// UserCanExecute is the base amount the user's free collateral, levered up
// to the market's initial margin, can buy on the curve in the order's
// direction. An order against the current position also counts the value
// that closing the position frees.
func UserCanExecute(o *state.Order, m *state.Market, pos *state.Position, user *state.User, holdings []margin.Holding) (fpmath.Uint, error) {
	c := fpmath.NewCalc("calculate_base_asset_amount_user_can_execute")
	maxLeverage := c.Div(fpmath.MarginPrecision, fpmath.NewUint(uint64(m.MarginRatioInitial)+1))
	if err := c.Err(); err != nil {
		return fpmath.Uint{}, err
	}

	var available fpmath.Uint
	if pos.BaseAssetAmount.IsZero() || pos.Direction() == o.Direction {
		free, _, err := margin.FreeCollateral(user, holdings, nil)
		if err != nil {
			return fpmath.Uint{}, err
		}
		available = c.Mul(free, maxLeverage)
	} else {
		index := m.Index
		free, closedValue, err := margin.FreeCollateral(user, holdings, &index)
		if err != nil {
			return fpmath.Uint{}, err
		}
		available = c.Add(c.Mul(free, maxLeverage), closedValue)
	}
	if err := c.Err(); err != nil {
		return fpmath.Uint{}, err
	}

	reserveAmount, err := amm.AssetToReserve(available, m.AMM.PegMultiplier)
	if err != nil {
		return fpmath.Uint{}, err
	}
	reserveAmount = fpmath.MinUint(reserveAmount, c.Sub(m.AMM.QuoteAssetReserve, fpmath.NewUint(1)))
	swapDir := state.SwapAdd
	if o.Direction == state.DirectionShort {
		swapDir = state.SwapRemove
	}
	newBase, _, err := amm.SwapOutput(reserveAmount, m.AMM.QuoteAssetReserve, swapDir, m.AMM.SqrtK)
	if err != nil {
		return fpmath.Uint{}, err
	}
	if newBase.GT(m.AMM.BaseAssetReserve) {
		return c.Sub(newBase, m.AMM.BaseAssetReserve), c.Err()
	}
	return c.Sub(m.AMM.BaseAssetReserve, newBase), c.Err()
}

// execution is what one fill did to the position.
type execution struct {
	base, quote, surplus      fpmath.Uint
	potentiallyRiskIncreasing bool
}

func executeMarket(o *state.Order, m *state.Market, pos *state.Position, user *state.User, markBefore fpmath.Uint, now int64) (execution, error) {
	var (
		u   position.Update
		err error
	)
	if !o.BaseAssetAmount.IsZero() {
		u, err = position.UpdateWithBase(m, pos, user, o.BaseAssetAmount, o.Direction, markBefore, now, nil)
	} else {
		u, err = position.UpdateWithQuote(m, pos, user, o.QuoteAssetAmount, o.Direction, markBefore, now)
	}
	if err != nil {
		return execution{}, err
	}
	if u.BaseAssetAmount.LT(m.AMM.MinimumBaseAssetTradeSize) {
		return execution{}, state.ErrTradeSizeTooSmall
	}
	if !u.ReduceOnly && o.ReduceOnly {
		return execution{}, state.ErrReduceOnlyOrderIncreasedRisk
	}
	if !o.Price.IsZero() {
		ok, err := LimitPriceSatisfied(o.Price, u.QuoteAssetAmount, u.BaseAssetAmount, o.Direction)
		if err != nil {
			return execution{}, err
		}
		if !ok {
			return execution{}, state.ErrSlippageOutsideLimit
		}
	}
	return execution{
		base:                      u.BaseAssetAmount,
		quote:                     u.QuoteAssetAmount,
		potentiallyRiskIncreasing: u.PotentiallyRiskIncreasing,
	}, nil
}

func executeNonMarket(o *state.Order, m *state.Market, pos *state.Position, user *state.User, holdings []margin.Holding, markBefore fpmath.Uint, now int64, validOraclePrice *fpmath.Int) (execution, error) {
	userBase, err := UserCanExecute(o, m, pos, user, holdings)
	if err != nil || userBase.IsZero() {
		return execution{}, err
	}
	marketBase, err := MarketCanExecute(o, m, markBefore, validOraclePrice)
	if err != nil || marketBase.IsZero() {
		return execution{}, err
	}

	minSize := m.AMM.MinimumBaseAssetTradeSize
	base := fpmath.MinUint(marketBase, userBase)
	if base.LT(minSize) {
		return execution{}, nil
	}
	// A remainder too small to ever fill is swept into this fill.
	c := fpmath.NewCalc("order_base_left_to_fill")
	left := c.Sub(o.RemainingBase(), base)
	if err := c.Err(); err != nil {
		return execution{}, err
	}
	if !left.IsZero() && left.LT(minSize) {
		base = c.Add(base, left)
	}

	var makerLimit *fpmath.Uint
	if o.PostOnly {
		limit, err := o.LimitPrice(validOraclePrice)
		if err != nil {
			return execution{}, err
		}
		makerLimit = &limit
	}
	u, err := position.UpdateWithBase(m, pos, user, base, o.Direction, markBefore, now, makerLimit)
	if err != nil {
		return execution{}, err
	}
	if !u.ReduceOnly && o.ReduceOnly {
		return execution{}, state.ErrReduceOnlyOrderIncreasedRisk
	}
	return execution{
		base:                      base,
		quote:                     u.QuoteAssetAmount,
		surplus:                   u.QuoteAssetAmountSurplus,
		potentiallyRiskIncreasing: u.PotentiallyRiskIncreasing,
	}, nil
}

// recordFill adds a fill to the order's running totals. A limit-style
// order may not be left with an unfillable remainder.
func recordFill(o *state.Order, minBase, base, quote, fee fpmath.Uint) error {
	c := fpmath.NewCalc("update_order_after_trade")
	o.BaseAssetAmountFilled = c.Add(o.BaseAssetAmountFilled, base)
	o.QuoteAssetAmountFilled = c.Add(o.QuoteAssetAmountFilled, quote)
	o.Fee = c.Add(o.Fee, fee)
	if err := c.Err(); err != nil {
		return err
	}
	if o.OrderType == state.OrderTypeMarket {
		return nil
	}
	left := c.Sub(o.BaseAssetAmount, o.BaseAssetAmountFilled)
	if err := c.Err(); err != nil {
		return fmt.Errorf("order %d overfilled: %w", o.Index, err)
	}
	if !left.IsZero() && left.LT(minBase) {
		return state.ErrOrderAmountTooSmall
	}
	return nil
}

// complete reports whether o has nothing left to fill.
func complete(o *state.Order) bool {
	return o.OrderType == state.OrderTypeMarket || o.RemainingBase().IsZero()
}
