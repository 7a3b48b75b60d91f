package order

import (
	"fmt"

	"PerpVAMM/internal/amm"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, state.ErrInvalidOrder)...)
}

// ValidOraclePrice returns the oracle price an order may use, or nil when
// there is none to use. Orders priced off the oracle fail without a valid
// reading.
func ValidOraclePrice(m *state.Market, data *state.OraclePriceData, rails *state.OracleGuardRails, o *state.Order) (*fpmath.Int, error) {
	if data == nil {
		if o.HasOraclePriceOffset() {
			return nil, state.ErrOracleNotFound
		}
		return nil, nil
	}
	valid, err := amm.IsOracleValid(&m.AMM, *data, rails)
	if err != nil {
		return nil, err
	}
	switch {
	case valid:
		price := data.Price
		return &price, nil
	case o.HasOraclePriceOffset():
		return nil, state.ErrInvalidOracle
	default:
		return nil, nil
	}
}

// Validate checks an order against its type's rules and the minimum order
// size before it is placed.
func Validate(o *state.Order, m *state.Market, os *state.OrderState, validOraclePrice *fpmath.Int) error {
	switch o.OrderType {
	case state.OrderTypeMarket:
		return validateMarket(o, m)
	case state.OrderTypeLimit:
		return validateLimit(o, m, os, validOraclePrice)
	case state.OrderTypeTriggerMarket:
		return validateTriggerMarket(o, m, os)
	case state.OrderTypeTriggerLimit:
		return validateTriggerLimit(o, m, os)
	default:
		return invalid("unknown order type %d", o.OrderType)
	}
}

func validateMarket(o *state.Order, m *state.Market) error {
	if !o.QuoteAssetAmount.IsZero() && !o.BaseAssetAmount.IsZero() {
		return invalid("market order sets both base and quote amounts")
	}
	var err error
	if !o.BaseAssetAmount.IsZero() {
		err = validateBase(o, m)
	} else {
		err = validateQuote(o, m)
	}
	if err != nil {
		return err
	}
	if !o.TriggerPrice.IsZero() {
		return invalid("market order with trigger price")
	}
	if o.PostOnly {
		return invalid("market order cannot be post only")
	}
	if o.HasOraclePriceOffset() {
		return invalid("market order with oracle price offset")
	}
	return nil
}

func validateLimit(o *state.Order, m *state.Market, os *state.OrderState, validOraclePrice *fpmath.Int) error {
	if err := validateBase(o, m); err != nil {
		return err
	}
	if o.Price.IsZero() && !o.HasOraclePriceOffset() {
		return invalid("limit order without price")
	}
	if !o.Price.IsZero() && o.HasOraclePriceOffset() {
		return invalid("limit order with both price and oracle price offset")
	}
	if !o.TriggerPrice.IsZero() {
		return invalid("limit order with trigger price")
	}
	if !o.QuoteAssetAmount.IsZero() {
		return invalid("limit order with quote amount")
	}
	if o.PostOnly {
		fillable, err := limitExecutable(o, m, validOraclePrice)
		if err != nil {
			return err
		}
		if !fillable.IsZero() {
			return invalid("post only order would fill %s base", fillable)
		}
	}
	limit, err := o.LimitPrice(validOraclePrice)
	if err != nil {
		return err
	}
	return validateMinimumValue(o, os, limit)
}

func validateTriggerMarket(o *state.Order, m *state.Market, os *state.OrderState) error {
	if err := validateBase(o, m); err != nil {
		return err
	}
	if !o.Price.IsZero() {
		return invalid("trigger market order with price")
	}
	if err := validateTriggerCommon(o); err != nil {
		return err
	}
	return validateMinimumValue(o, os, o.TriggerPrice)
}

func validateTriggerLimit(o *state.Order, m *state.Market, os *state.OrderState) error {
	if err := validateBase(o, m); err != nil {
		return err
	}
	if o.Price.IsZero() {
		return invalid("trigger limit order without price")
	}
	if err := validateTriggerCommon(o); err != nil {
		return err
	}
	switch o.TriggerCondition {
	case state.TriggerAbove:
		if o.Direction == state.DirectionLong && o.Price.LT(o.TriggerPrice) {
			return invalid("long trigger above %s with lower limit %s", o.TriggerPrice, o.Price)
		}
	case state.TriggerBelow:
		if o.Direction == state.DirectionShort && o.Price.GT(o.TriggerPrice) {
			return invalid("short trigger below %s with higher limit %s", o.TriggerPrice, o.Price)
		}
	}
	return validateMinimumValue(o, os, o.Price)
}

func validateTriggerCommon(o *state.Order) error {
	if o.TriggerPrice.IsZero() {
		return invalid("trigger order without trigger price")
	}
	if !o.QuoteAssetAmount.IsZero() {
		return invalid("trigger order with quote amount")
	}
	if o.PostOnly {
		return invalid("trigger order cannot be post only")
	}
	if o.HasOraclePriceOffset() {
		return invalid("trigger order with oracle price offset")
	}
	return nil
}

func validateBase(o *state.Order, m *state.Market) error {
	if o.BaseAssetAmount.IsZero() {
		return invalid("order without base amount")
	}
	if o.BaseAssetAmount.LT(m.AMM.MinimumBaseAssetTradeSize) {
		return invalid("base amount %s below minimum %s", o.BaseAssetAmount, m.AMM.MinimumBaseAssetTradeSize)
	}
	return nil
}

func validateQuote(o *state.Order, m *state.Market) error {
	if o.QuoteAssetAmount.IsZero() {
		return invalid("order without quote amount")
	}
	reserve, err := amm.AssetToReserve(o.QuoteAssetAmount, m.AMM.PegMultiplier)
	if err != nil {
		return err
	}
	if reserve.LT(m.AMM.MinimumQuoteAssetTradeSize) {
		return invalid("quote amount %s below minimum trade size", o.QuoteAssetAmount)
	}
	return nil
}

// validateMinimumValue rejects orders whose notional at price is under the
// configured minimum. The product saturates rather than fail.
func validateMinimumValue(o *state.Order, os *state.OrderState, price fpmath.Uint) error {
	c := fpmath.NewCalc("order_market_value")
	value := c.Mul(price, o.BaseAssetAmount)
	if c.Failed() {
		value = fpmath.MaxUint256
		c = fpmath.NewCalc("order_market_value")
	}
	value = c.Div(c.Div(value, fpmath.AMMReservePrecision), fpmath.PriceToQuotePrecisionRatio)
	if err := c.Err(); err != nil {
		return err
	}
	if value.LT(os.MinOrderQuoteAssetAmount) {
		return invalid("order value %s below minimum %s", value, os.MinOrderQuoteAssetAmount)
	}
	return nil
}

// ValidateCanCancel refuses to cancel a post-only order the curve would
// now fill.
func ValidateCanCancel(o *state.Order, m *state.Market, validOraclePrice *fpmath.Int) error {
	if !o.PostOnly {
		return nil
	}
	fillable, err := limitExecutable(o, m, validOraclePrice)
	if err != nil {
		return err
	}
	if !fillable.IsZero() {
		return state.ErrCantCancelPostOnlyOrder
	}
	return nil
}

// LimitPriceSatisfied reports whether a fill of base for quote is at or
// better than limit for the given direction.
func LimitPriceSatisfied(limit, quote, base fpmath.Uint, dir state.PositionDirection) (bool, error) {
	c := fpmath.NewCalc("limit_price_satisfied")
	price := c.Div(c.Mul(quote, fpmath.MarkPriceTimesAMMToQuotePrecisionRatio), base)
	if err := c.Err(); err != nil {
		return false, err
	}
	if dir == state.DirectionLong {
		return price.LTE(limit), nil
	}
	return price.GTE(limit), nil
}
