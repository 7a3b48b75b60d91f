// Package position applies trades to a user's market position: the AMM swap,
// the position and market base accounting, and realised pnl on collateral.
//
// Every function mutates the market, position and user it is given and
// leaves persistence to the caller.
package position

import (
	"PerpVAMM/internal/amm"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

// Update is the outcome of a composite position update.
type Update struct {
	PotentiallyRiskIncreasing bool
	ReduceOnly                bool
	BaseAssetAmount           fpmath.Uint
	QuoteAssetAmount          fpmath.Uint
	QuoteAssetAmountSurplus   fpmath.Uint
}

// Closed is the outcome of closing a position in full.
type Closed struct {
	QuoteAssetAmount        fpmath.Uint
	BaseAssetAmount         fpmath.Int
	QuoteAssetAmountSurplus fpmath.Uint
}

// openIfFlat checkpoints funding and bumps open interest when a trade opens a
// fresh position.
func openIfFlat(m *state.Market, pos *state.Position, dir state.PositionDirection) {
	if !pos.BaseAssetAmount.IsZero() {
		return
	}
	if dir == state.DirectionLong {
		pos.LastCumulativeFundingRate = m.AMM.CumulativeFundingRateLong
	} else {
		pos.LastCumulativeFundingRate = m.AMM.CumulativeFundingRateShort
	}
	m.OpenInterest++
}

// applyBase moves delta into the position and the market's net and side
// totals. long selects the side bucket.
func applyBase(c *fpmath.Calc, m *state.Market, pos *state.Position, delta fpmath.Int, long bool) {
	pos.BaseAssetAmount = c.IAdd(pos.BaseAssetAmount, delta)
	m.BaseAssetAmount = c.IAdd(m.BaseAssetAmount, delta)
	if long {
		m.BaseAssetAmountLong = c.IAdd(m.BaseAssetAmountLong, delta)
	} else {
		m.BaseAssetAmountShort = c.IAdd(m.BaseAssetAmountShort, delta)
	}
}

func closeOpenInterest(c *fpmath.Calc, m *state.Market) {
	if m.OpenInterest == 0 {
		c.Fail("open interest underflow")
		return
	}
	m.OpenInterest--
}

// Increase grows the position in dir by quoteAmount and returns the signed
// base acquired.
func Increase(m *state.Market, pos *state.Position, dir state.PositionDirection, quoteAmount fpmath.Uint, now int64, precomputedMark *fpmath.Uint) (fpmath.Int, error) {
	if quoteAmount.IsZero() {
		return fpmath.Int{}, nil
	}
	openIfFlat(m, pos, dir)

	c := fpmath.NewCalc("increase_position")
	pos.QuoteAssetAmount = c.Add(pos.QuoteAssetAmount, quoteAmount)
	if err := c.Err(); err != nil {
		return fpmath.Int{}, err
	}

	swapDir := state.SwapAdd
	if dir == state.DirectionShort {
		swapDir = state.SwapRemove
	}
	acquired, err := amm.SwapQuoteAsset(&m.AMM, quoteAmount, swapDir, now, precomputedMark)
	if err != nil {
		return fpmath.Int{}, err
	}

	applyBase(c, m, pos, acquired, dir == state.DirectionLong)
	return acquired, c.Err()
}

// Reduce shrinks the position by quoteAmount of value and realises the pnl
// on the closed share of the entry value. It returns the signed base swapped.
func Reduce(m *state.Market, pos *state.Position, user *state.User, dir state.PositionDirection, quoteAmount fpmath.Uint, now int64, precomputedMark *fpmath.Uint) (fpmath.Int, error) {
	swapDir := state.SwapAdd
	if dir == state.DirectionShort {
		swapDir = state.SwapRemove
	}
	swapped, err := amm.SwapQuoteAsset(&m.AMM, quoteAmount, swapDir, now, precomputedMark)
	if err != nil {
		return fpmath.Int{}, err
	}

	c := fpmath.NewCalc("reduce_position")
	before := pos.BaseAssetAmount
	wasLong := before.IsPositive()
	applyBase(c, m, pos, swapped, wasLong)
	if pos.BaseAssetAmount.IsZero() {
		closeOpenInterest(c, m)
	}

	closed := realiseShare(c, pos, before)
	q, cl := c.ToInt(quoteAmount), c.ToInt(closed)
	var pnl fpmath.Int
	if wasLong {
		pnl = c.ISub(q, cl)
	} else {
		pnl = c.ISub(cl, q)
	}
	if err := c.Err(); err != nil {
		return fpmath.Int{}, err
	}
	user.Collateral = UpdatedCollateral(user.Collateral, pnl)
	return swapped, nil
}

// realiseShare removes the entry value of the base that left the position
// and returns it.
func realiseShare(c *fpmath.Calc, pos *state.Position, before fpmath.Int) fpmath.Uint {
	change := c.ISub(before, pos.BaseAssetAmount).Abs()
	closed := c.MulDiv(pos.QuoteAssetAmount, change, before.Abs())
	pos.QuoteAssetAmount = c.Sub(pos.QuoteAssetAmount, closed)
	return closed
}

// Close unwinds the whole position against the curve. With a maker limit
// price the reported quote amount is valued at the limit and the difference
// to the curve is returned as surplus.
func Close(m *state.Market, pos *state.Position, user *state.User, now int64, makerLimitPrice, precomputedMark *fpmath.Uint) (Closed, error) {
	if pos.BaseAssetAmount.IsZero() {
		return Closed{}, nil
	}
	base := pos.BaseAssetAmount
	swapDir := amm.SwapDirectionToClose(base)

	swapped, err := amm.SwapBaseAsset(&m.AMM, base.Abs(), swapDir, now, precomputedMark)
	if err != nil {
		return Closed{}, err
	}
	quote, surplus, err := makerQuote(swapDir, swapped, base.Abs(), makerLimitPrice)
	if err != nil {
		return Closed{}, err
	}
	pnl, err := amm.CalculatePnl(swapped, pos.QuoteAssetAmount, swapDir)
	if err != nil {
		return Closed{}, err
	}

	c := fpmath.NewCalc("close_position")
	user.Collateral = UpdatedCollateral(user.Collateral, pnl)
	pos.LastCumulativeFundingRate = fpmath.Int{}
	pos.LastFundingRateTs = 0
	closeOpenInterest(c, m)
	pos.QuoteAssetAmount = fpmath.Uint{}

	applyBase(c, m, pos, base.Neg(), base.IsPositive())
	if err := c.Err(); err != nil {
		return Closed{}, err
	}
	return Closed{QuoteAssetAmount: quote, BaseAssetAmount: base, QuoteAssetAmountSurplus: surplus}, nil
}

// IncreaseWithBase grows the position in dir by an exact base amount.
func IncreaseWithBase(m *state.Market, pos *state.Position, dir state.PositionDirection, baseAmount fpmath.Uint, now int64, makerLimitPrice, precomputedMark *fpmath.Uint) (quote, surplus fpmath.Uint, err error) {
	if baseAmount.IsZero() {
		return fpmath.Uint{}, fpmath.Uint{}, nil
	}
	openIfFlat(m, pos, dir)

	swapDir := baseSwapDirection(dir)
	swapped, err := amm.SwapBaseAsset(&m.AMM, baseAmount, swapDir, now, precomputedMark)
	if err != nil {
		return fpmath.Uint{}, fpmath.Uint{}, err
	}
	quote, surplus, err = makerQuote(swapDir, swapped, baseAmount, makerLimitPrice)
	if err != nil {
		return fpmath.Uint{}, fpmath.Uint{}, err
	}

	c := fpmath.NewCalc("increase_position_with_base")
	pos.QuoteAssetAmount = c.Add(pos.QuoteAssetAmount, quote)
	delta := signed(c, baseAmount, dir)
	applyBase(c, m, pos, delta, dir == state.DirectionLong)
	if err := c.Err(); err != nil {
		return fpmath.Uint{}, fpmath.Uint{}, err
	}
	return quote, surplus, nil
}

// ReduceWithBase shrinks the position by an exact base amount, which must be
// smaller than the position.
func ReduceWithBase(m *state.Market, pos *state.Position, user *state.User, dir state.PositionDirection, baseAmount fpmath.Uint, now int64, makerLimitPrice, precomputedMark *fpmath.Uint) (quote, surplus fpmath.Uint, err error) {
	swapDir := baseSwapDirection(dir)
	swapped, err := amm.SwapBaseAsset(&m.AMM, baseAmount, swapDir, now, precomputedMark)
	if err != nil {
		return fpmath.Uint{}, fpmath.Uint{}, err
	}
	quote, surplus, err = makerQuote(swapDir, swapped, baseAmount, makerLimitPrice)
	if err != nil {
		return fpmath.Uint{}, fpmath.Uint{}, err
	}

	c := fpmath.NewCalc("reduce_position_with_base")
	before := pos.BaseAssetAmount
	wasLong := before.IsPositive()
	applyBase(c, m, pos, signed(c, baseAmount, dir), wasLong)
	if pos.BaseAssetAmount.IsZero() {
		closeOpenInterest(c, m)
	}

	closed := realiseShare(c, pos, before)
	q, cl := c.ToInt(quote), c.ToInt(closed)
	var pnl fpmath.Int
	if dir == state.DirectionShort {
		pnl = c.ISub(q, cl)
	} else {
		pnl = c.ISub(cl, q)
	}
	if err := c.Err(); err != nil {
		return fpmath.Uint{}, fpmath.Uint{}, err
	}
	user.Collateral = UpdatedCollateral(user.Collateral, pnl)
	return quote, surplus, nil
}

// UpdateWithBase routes a base-denominated trade to increase, reduce, or
// close-and-reverse depending on the current exposure.
func UpdateWithBase(m *state.Market, pos *state.Position, user *state.User, baseAmount fpmath.Uint, dir state.PositionDirection, markBefore fpmath.Uint, now int64, makerLimitPrice *fpmath.Uint) (Update, error) {
	u := Update{PotentiallyRiskIncreasing: true, BaseAssetAmount: baseAmount}
	mark := &markBefore

	switch {
	case increases(pos, dir):
		q, s, err := IncreaseWithBase(m, pos, dir, baseAmount, now, makerLimitPrice, mark)
		if err != nil {
			return Update{}, err
		}
		u.QuoteAssetAmount, u.QuoteAssetAmountSurplus = q, s
	case pos.BaseAssetAmount.Abs().GT(baseAmount):
		q, s, err := ReduceWithBase(m, pos, user, dir, baseAmount, now, makerLimitPrice, mark)
		if err != nil {
			return Update{}, err
		}
		u.QuoteAssetAmount, u.QuoteAssetAmountSurplus = q, s
		u.ReduceOnly = true
		u.PotentiallyRiskIncreasing = false
	default:
		c := fpmath.NewCalc("update_position_with_base")
		existing := pos.BaseAssetAmount.Abs()
		afterClose := c.Sub(baseAmount, existing)
		if err := c.Err(); err != nil {
			return Update{}, err
		}
		if afterClose.LT(existing) {
			u.PotentiallyRiskIncreasing = false
		}
		closed, err := Close(m, pos, user, now, makerLimitPrice, mark)
		if err != nil {
			return Update{}, err
		}
		q, s, err := IncreaseWithBase(m, pos, dir, afterClose, now, makerLimitPrice, mark)
		if err != nil {
			return Update{}, err
		}
		if q.IsZero() {
			u.ReduceOnly = true
		}
		u.QuoteAssetAmount = c.Add(closed.QuoteAssetAmount, q)
		u.QuoteAssetAmountSurplus = c.Add(closed.QuoteAssetAmountSurplus, s)
		if err := c.Err(); err != nil {
			return Update{}, err
		}
	}
	return u, nil
}

// UpdateWithQuote routes a quote-denominated trade. A quote amount within
// rounding distance of the position's value is snapped to that value so the
// trade closes cleanly instead of leaving dust.
func UpdateWithQuote(m *state.Market, pos *state.Position, user *state.User, quoteAmount fpmath.Uint, dir state.PositionDirection, markBefore fpmath.Uint, now int64) (Update, error) {
	u := Update{PotentiallyRiskIncreasing: true, QuoteAssetAmount: quoteAmount}
	mark := &markBefore

	if increases(pos, dir) {
		base, err := Increase(m, pos, dir, quoteAmount, now, mark)
		if err != nil {
			return Update{}, err
		}
		u.BaseAssetAmount = base.Abs()
		return u, nil
	}

	value, _, err := amm.BaseAssetValueAndPnl(pos.BaseAssetAmount, pos.QuoteAssetAmount, &m.AMM)
	if err != nil {
		return Update{}, err
	}
	round, err := amm.ShouldRoundTrade(&m.AMM, quoteAmount, value)
	if err != nil {
		return Update{}, err
	}
	if round {
		u.QuoteAssetAmount = value
	}

	if value.GT(u.QuoteAssetAmount) {
		base, err := Reduce(m, pos, user, dir, u.QuoteAssetAmount, now, mark)
		if err != nil {
			return Update{}, err
		}
		u.BaseAssetAmount = base.Abs()
		u.PotentiallyRiskIncreasing = false
		u.ReduceOnly = true
		return u, nil
	}

	c := fpmath.NewCalc("update_position_with_quote")
	afterClose := c.Sub(u.QuoteAssetAmount, value)
	if err := c.Err(); err != nil {
		return Update{}, err
	}
	if afterClose.LT(value) {
		u.PotentiallyRiskIncreasing = false
	}
	closed, err := Close(m, pos, user, now, nil, mark)
	if err != nil {
		return Update{}, err
	}
	opened, err := Increase(m, pos, dir, afterClose, now, mark)
	if err != nil {
		return Update{}, err
	}
	if opened.IsZero() {
		u.ReduceOnly = true
	}
	u.BaseAssetAmount = c.Add(closed.BaseAssetAmount.Abs(), opened.Abs())
	return u, c.Err()
}

// increases reports whether a trade in dir adds to (or opens) the position.
func increases(pos *state.Position, dir state.PositionDirection) bool {
	b := pos.BaseAssetAmount
	return b.IsZero() ||
		b.IsPositive() && dir == state.DirectionLong ||
		b.IsNegative() && dir == state.DirectionShort
}

// baseSwapDirection is the reserve move for a base-denominated trade: a long
// takes base out of the curve.
func baseSwapDirection(dir state.PositionDirection) state.SwapDirection {
	if dir == state.DirectionLong {
		return state.SwapRemove
	}
	return state.SwapAdd
}

func signed(c *fpmath.Calc, amount fpmath.Uint, dir state.PositionDirection) fpmath.Int {
	v := c.ToInt(amount)
	if dir == state.DirectionShort {
		return v.Neg()
	}
	return v
}

// makerQuote values a fill at the maker's limit price when there is one.
// The surplus is what the curve gave beyond the limit.
func makerQuote(swapDir state.SwapDirection, swapped, baseAmount fpmath.Uint, limitPrice *fpmath.Uint) (quote, surplus fpmath.Uint, err error) {
	if limitPrice == nil {
		return swapped, fpmath.Uint{}, nil
	}
	c := fpmath.NewCalc("quote_asset_amount_surplus")
	quote = MakerOrderQuote(c, baseAmount, *limitPrice)
	if swapDir == state.SwapRemove {
		surplus = c.Sub(quote, swapped)
	} else {
		surplus = c.Sub(swapped, quote)
	}
	return quote, surplus, c.Err()
}

// MakerOrderQuote is the quote value of baseAmount at limitPrice.
func MakerOrderQuote(c *fpmath.Calc, baseAmount, limitPrice fpmath.Uint) fpmath.Uint {
	return c.Div(c.Mul(baseAmount, limitPrice), fpmath.MarkPriceTimesAMMToQuotePrecisionRatio)
}
