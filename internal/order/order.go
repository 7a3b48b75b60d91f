package order

import (
	"fmt"

	"PerpVAMM/internal/amm"
	"PerpVAMM/internal/fees"
	"PerpVAMM/internal/margin"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

// Env is the market and protocol configuration an order operation runs
// against. Oracle is nil when the market's oracle has no reading.
type Env struct {
	Market       *state.Market
	FeeStructure *state.FeeStructure
	OrderState   *state.OrderState
	Rails        *state.OracleGuardRails
	Oracle       *state.OraclePriceData
}

// Place validates a new order and appends it to the book. The caller is
// expected to have settled the user's funding.
func Place(b *Book, user *state.User, params state.OrderParams, env Env, discountTokenBalance fpmath.Uint, now int64) (*state.Order, error) {
	m := env.Market
	if params.MarketIndex != m.Index || b.Position.MarketIndex != m.Index {
		return nil, invalid("order for market %d placed in market %d", params.MarketIndex, m.Index)
	}
	o := &state.Order{
		Ts:                  now,
		Status:              state.OrderStatusOpen,
		OrderType:           params.OrderType,
		MarketIndex:         m.Index,
		Price:               params.Price,
		UserBaseAssetAmount: b.Position.BaseAssetAmount,
		QuoteAssetAmount:    params.QuoteAssetAmount,
		BaseAssetAmount:     params.BaseAssetAmount,
		Direction:           params.Direction,
		ReduceOnly:          params.ReduceOnly,
		PostOnly:            params.PostOnly,
		DiscountTier:        fees.OrderFeeTier(env.FeeStructure, discountTokenBalance),
		TriggerPrice:        params.TriggerPrice,
		TriggerCondition:    params.TriggerCondition,
		Referrer:            user.Referrer,
		OraclePriceOffset:   params.OraclePriceOffset,
	}
	valid, err := ValidOraclePrice(m, env.Oracle, env.Rails, o)
	if err != nil {
		return nil, err
	}
	if err := Validate(o, m, env.OrderState, valid); err != nil {
		return nil, err
	}
	b.add(o)
	return o, nil
}

// Cancel removes an open order from the book and returns it.
func Cancel(b *Book, index uint64, env Env) (*state.Order, error) {
	o, err := b.Get(index)
	if err != nil {
		return nil, err
	}
	if o.Status != state.OrderStatusOpen {
		return nil, state.ErrOrderNotOpen
	}
	valid, err := ValidOraclePrice(env.Market, env.Oracle, env.Rails, o)
	if err != nil {
		return nil, err
	}
	if err := ValidateCanCancel(o, env.Market, valid); err != nil {
		return nil, err
	}
	return b.remove(index)
}

// Fill is the outcome of one order fill.
type Fill struct {
	Order                     state.Order // after the fill
	Removed                   bool
	Direction                 state.PositionDirection
	BaseAssetAmount           fpmath.Uint
	QuoteAssetAmount          fpmath.Uint
	QuoteAssetAmountSurplus   fpmath.Uint
	Fee                       fees.OrderFee
	MarkPriceBefore           fpmath.Uint
	MarkPriceAfter            fpmath.Uint
	OraclePrice               fpmath.Int
	PotentiallyRiskIncreasing bool
}

// Parties are the users a fill touches. Filler may be the same pointer as
// User, and Referrer is nil for users without one.
type Parties struct {
	User     *state.User
	Filler   *state.User
	Referrer *state.User
}

// FillOrder executes as much of order index as the curve and the user's
// collateral allow. holdings must cover every open position of the user,
// including b.Position. A fill that moves nothing fails with
// ErrCouldNotFillOrder. A partially filled order stays in the book.
func FillOrder(b *Book, index uint64, p Parties, holdings []margin.Holding, env Env, now int64) (Fill, error) {
	o, err := b.Get(index)
	if err != nil {
		return Fill{}, err
	}
	if o.Status != state.OrderStatusOpen {
		return Fill{}, state.ErrOrderNotOpen
	}
	m := env.Market
	markBefore, err := amm.MarkPrice(&m.AMM)
	if err != nil {
		return Fill{}, err
	}

	var (
		spreadBefore fpmath.Int
		oraclePrice  fpmath.Int
		oracleValid  bool
		validPrice   *fpmath.Int
	)
	if env.Oracle != nil {
		data := *env.Oracle
		oraclePrice = data.Price
		if spreadBefore, err = amm.OracleMarkSpreadPct(&m.AMM, data, &markBefore); err != nil {
			return Fill{}, err
		}
		normalised, err := amm.NormaliseOraclePrice(&m.AMM, data, &markBefore)
		if err != nil {
			return Fill{}, err
		}
		if oracleValid, err = amm.IsOracleValid(&m.AMM, data, env.Rails); err != nil {
			return Fill{}, err
		}
		if oracleValid {
			if _, err := amm.UpdateOracleTWAP(&m.AMM, now, normalised); err != nil {
				return Fill{}, err
			}
			validPrice = &oraclePrice
		}
	}

	var ex execution
	if o.OrderType == state.OrderTypeMarket {
		ex, err = executeMarket(o, m, b.Position, p.User, markBefore, now)
	} else {
		ex, err = executeNonMarket(o, m, b.Position, p.User, holdings, markBefore, now, validPrice)
	}
	if err != nil {
		return Fill{}, err
	}
	if ex.base.IsZero() {
		return Fill{}, fmt.Errorf("order %d in market %d: %w", index, m.Index, state.ErrCouldNotFillOrder)
	}

	markAfter, err := amm.MarkPrice(&m.AMM)
	if err != nil {
		return Fill{}, err
	}
	if env.Oracle != nil && oracleValid {
		spreadAfter, err := amm.OracleMarkSpreadPct(&m.AMM, *env.Oracle, &markAfter)
		if err != nil {
			return Fill{}, err
		}
		if err := checkDivergence(spreadBefore, spreadAfter, env.Rails, ex.potentiallyRiskIncreasing); err != nil {
			return Fill{}, err
		}
	}

	var meets bool
	if o.PostOnly {
		meets, err = margin.MeetsPartialMarginRequirement(p.User, holdings)
	} else {
		meets, err = margin.MeetsInitialMarginRequirement(p.User, holdings)
	}
	if err != nil {
		return Fill{}, err
	}
	if !meets && ex.potentiallyRiskIncreasing {
		return Fill{}, state.ErrInsufficientCollateral
	}

	fee, err := fees.FeeForOrder(ex.quote, env.FeeStructure, env.OrderState, o.DiscountTier, o.Ts, now,
		p.User.HasReferrer(), p.Filler.ID == p.User.ID, ex.surplus)
	if err != nil {
		return Fill{}, err
	}
	if err := applyFee(m, p, fee); err != nil {
		return Fill{}, err
	}
	if err := recordFill(o, m.AMM.MinimumBaseAssetTradeSize, ex.base, ex.quote, fee.UserFee); err != nil {
		return Fill{}, err
	}

	f := Fill{
		Order:                     *o,
		Direction:                 o.Direction,
		BaseAssetAmount:           ex.base,
		QuoteAssetAmount:          ex.quote,
		QuoteAssetAmountSurplus:   ex.surplus,
		Fee:                       fee,
		MarkPriceBefore:           markBefore,
		MarkPriceAfter:            markAfter,
		OraclePrice:               oraclePrice,
		PotentiallyRiskIncreasing: ex.potentiallyRiskIncreasing,
	}
	if complete(o) {
		if _, err := b.remove(index); err != nil {
			return Fill{}, err
		}
		f.Removed = true
	}
	return f, nil
}

// checkDivergence rejects a fill that pushes the oracle/mark spread past
// the guard rail, or widens an existing breach while adding risk.
func checkDivergence(before, after fpmath.Int, rails *state.OracleGuardRails, riskIncreasing bool) error {
	tooDivergentBefore, err := amm.IsOracleMarkTooDivergent(before, rails)
	if err != nil {
		return err
	}
	tooDivergentAfter, err := amm.IsOracleMarkTooDivergent(after, rails)
	if err != nil {
		return err
	}
	if tooDivergentAfter && !tooDivergentBefore {
		return state.ErrOracleMarkSpreadLimit
	}
	if tooDivergentAfter && after.Abs().GTE(before.Abs()) && riskIncreasing {
		return state.ErrOracleMarkSpreadLimit
	}
	return nil
}

func applyFee(m *state.Market, p Parties, fee fees.OrderFee) error {
	c := fpmath.NewCalc("order_fee")
	m.AMM.TotalFee = c.Add(m.AMM.TotalFee, fee.FeeToMarket)
	m.AMM.TotalFeeMinusDistributions = c.Add(m.AMM.TotalFeeMinusDistributions, fee.FeeToMarket)

	u := p.User
	u.Collateral = c.Sub(u.Collateral, fpmath.MinUint(u.Collateral, fee.UserFee))
	u.TotalFeePaid = c.Add(u.TotalFeePaid, fee.UserFee)
	u.TotalTokenDiscount = c.Add(u.TotalTokenDiscount, fee.TokenDiscount)
	u.TotalRefereeDiscount = c.Add(u.TotalRefereeDiscount, fee.RefereeDiscount)
	p.Filler.Collateral = c.Add(p.Filler.Collateral, fee.FillerReward)
	if p.Referrer != nil {
		p.Referrer.TotalReferralReward = c.Add(p.Referrer.TotalReferralReward, fee.ReferrerReward)
	}
	return c.Err()
}

// Expired is one order removed by ExpireOrders.
type Expired struct {
	MarketIndex  uint64
	Order        state.Order
	FillerReward fpmath.Uint
}

// ExpireFloor is the collateral below which a user's orders may be expired.
var ExpireFloor = fpmath.NewUint(10 * 1_000_000)

// MaxExpireReward caps what a filler earns for expiring a user's orders.
var MaxExpireReward = fpmath.NewUint(1_000_000 / 100)

// ExpireOrders removes every open order of a user whose collateral has
// fallen below ExpireFloor. The filler earns up to MaxExpireReward of the
// user's collateral, split evenly across the expired orders and booked
// as each order's fee.
func ExpireOrders(user, filler *state.User, books []*Book) ([]Expired, error) {
	if user.Collateral.GTE(ExpireFloor) {
		return nil, fmt.Errorf("collateral %s not below %s: %w", user.Collateral, ExpireFloor, state.ErrCantExpireOrders)
	}
	var open uint64
	for _, b := range books {
		for _, o := range b.Orders {
			if o.Status == state.OrderStatusOpen {
				open++
			}
		}
	}
	if open == 0 {
		return nil, fmt.Errorf("no open orders: %w", state.ErrCantExpireOrders)
	}

	c := fpmath.NewCalc("expire_orders")
	reward := fpmath.MinUint(user.Collateral, MaxExpireReward)
	user.Collateral = c.Sub(user.Collateral, reward)
	filler.Collateral = c.Add(filler.Collateral, reward)
	perOrder := c.Div(reward, fpmath.NewUint(open))
	if err := c.Err(); err != nil {
		return nil, err
	}

	expired := make([]Expired, 0, open)
	for _, b := range books {
		for j := uint64(1); j <= b.Length(); {
			o := b.Orders[j-1]
			if o.Status != state.OrderStatusOpen {
				j++
				continue
			}
			o.Fee = c.Add(o.Fee, perOrder)
			if err := c.Err(); err != nil {
				return nil, err
			}
			if _, err := b.remove(j); err != nil {
				return nil, err
			}
			expired = append(expired, Expired{MarketIndex: b.Position.MarketIndex, Order: *o, FillerReward: perOrder})
		}
	}
	return expired, nil
}
