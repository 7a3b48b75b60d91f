package state

import (
	"github.com/google/uuid"

	fpmath "PerpVAMM/internal/math"
)

// Order is a resting order keyed by (user, market, index). Indices are
// 1-based and dense: removing an order moves the last one into its slot.
type Order struct {
	Index                  uint64            `json:"index"`
	Ts                     int64             `json:"ts"`
	Status                 OrderStatus       `json:"status"`
	OrderType              OrderType         `json:"order_type"`
	MarketIndex            uint64            `json:"market_index"`
	Price                  fpmath.Uint       `json:"price"`
	UserBaseAssetAmount    fpmath.Int        `json:"user_base_asset_amount"`
	QuoteAssetAmount       fpmath.Uint       `json:"quote_asset_amount"`
	BaseAssetAmount        fpmath.Uint       `json:"base_asset_amount"`
	BaseAssetAmountFilled  fpmath.Uint       `json:"base_asset_amount_filled"`
	QuoteAssetAmountFilled fpmath.Uint       `json:"quote_asset_amount_filled"`
	Fee                    fpmath.Uint       `json:"fee"`
	Direction              PositionDirection `json:"direction"`
	ReduceOnly             bool              `json:"reduce_only"`
	PostOnly               bool              `json:"post_only"`
	DiscountTier           DiscountTier      `json:"discount_tier"`
	TriggerPrice           fpmath.Uint       `json:"trigger_price"`
	TriggerCondition       TriggerCondition  `json:"trigger_condition"`
	Referrer               *uuid.UUID        `json:"referrer,omitempty"`
	OraclePriceOffset      fpmath.Int        `json:"oracle_price_offset"`
}

// OrderParams is the caller-supplied part of a new order.
type OrderParams struct {
	OrderType         OrderType         `json:"order_type"`
	Direction         PositionDirection `json:"direction"`
	QuoteAssetAmount  fpmath.Uint       `json:"quote_asset_amount"`
	BaseAssetAmount   fpmath.Uint       `json:"base_asset_amount"`
	Price             fpmath.Uint       `json:"price"`
	MarketIndex       uint64            `json:"market_index"`
	ReduceOnly        bool              `json:"reduce_only"`
	PostOnly          bool              `json:"post_only"`
	TriggerPrice      fpmath.Uint       `json:"trigger_price"`
	TriggerCondition  TriggerCondition  `json:"trigger_condition"`
	OraclePriceOffset fpmath.Int        `json:"oracle_price_offset"`
}

// HasOraclePriceOffset reports whether the limit price floats with the oracle.
func (o *Order) HasOraclePriceOffset() bool {
	return !o.OraclePriceOffset.IsZero()
}

// RemainingBase is the unfilled base amount.
func (o *Order) RemainingBase() fpmath.Uint {
	c := fpmath.NewCalc("order_remaining_base")
	r := c.Sub(o.BaseAssetAmount, o.BaseAssetAmountFilled)
	if c.Failed() {
		return fpmath.Uint{}
	}
	return r
}

// LimitPrice returns the order's limit price. An oracle offset order needs a
// valid oracle price and must not produce a non-positive limit.
func (o *Order) LimitPrice(validOraclePrice *fpmath.Int) (fpmath.Uint, error) {
	if !o.HasOraclePriceOffset() {
		return o.Price, nil
	}
	if validOraclePrice == nil {
		return fpmath.Uint{}, ErrOracleNotFoundToOffset
	}
	c := fpmath.NewCalc("order_limit_price")
	limit := c.IAdd(*validOraclePrice, o.OraclePriceOffset)
	if err := c.Err(); err != nil {
		return fpmath.Uint{}, err
	}
	if !limit.IsPositive() {
		return fpmath.Uint{}, ErrInvalidOracleOffset
	}
	return limit.Abs(), nil
}
