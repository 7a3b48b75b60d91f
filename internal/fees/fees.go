// Package fees computes trade and order fees, discount-token tiers, referral
// splits and filler rewards.
package fees

import (
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

// TradeFee is the breakdown of the fee charged on a market trade.
type TradeFee struct {
	UserFee         fpmath.Uint
	FeeToMarket     fpmath.Uint
	TokenDiscount   fpmath.Uint
	ReferrerReward  fpmath.Uint
	RefereeDiscount fpmath.Uint
}

// OrderFee is the breakdown of the fee charged on an order fill.
type OrderFee struct {
	UserFee         fpmath.Uint
	FeeToMarket     fpmath.Uint
	TokenDiscount   fpmath.Uint
	FillerReward    fpmath.Uint
	ReferrerReward  fpmath.Uint
	RefereeDiscount fpmath.Uint
}

// FeeForTrade charges the flat fee on quoteAmount, less the discount-token
// tier and, for referred users, the referee discount. The referrer reward
// comes out of the user fee.
func FeeForTrade(quoteAmount fpmath.Uint, fs *state.FeeStructure, discountTokenBalance fpmath.Uint, hasReferrer bool) (TradeFee, error) {
	c := fpmath.NewCalc("calculate_fee_for_trade")
	fee := c.MulRatio(quoteAmount, fs.Fee)
	tokenDiscount := c.MulRatio(fee, tierFor(fs, discountTokenBalance).discount(fs))
	referrerReward, refereeDiscount := referral(c, fee, fs, hasReferrer)
	userFee := c.Sub(c.Sub(fee, tokenDiscount), refereeDiscount)
	toMarket := c.Sub(userFee, referrerReward)
	if err := c.Err(); err != nil {
		return TradeFee{}, err
	}
	return TradeFee{
		UserFee:         userFee,
		FeeToMarket:     toMarket,
		TokenDiscount:   tokenDiscount,
		ReferrerReward:  referrerReward,
		RefereeDiscount: refereeDiscount,
	}, nil
}

// OrderFeeTier picks the discount tier recorded on an order at placement.
func OrderFeeTier(fs *state.FeeStructure, discountTokenBalance fpmath.Uint) state.DiscountTier {
	return state.DiscountTier(tierFor(fs, discountTokenBalance))
}

// FeeForOrder charges an order fill. A maker fill that earned a quote
// surplus against its limit price pays the surplus as its fee, none of it
// charged to the user's collateral. Otherwise the flat fee applies with the
// tier recorded on the order.
func FeeForOrder(
	quoteAmount fpmath.Uint,
	fs *state.FeeStructure,
	os *state.OrderState,
	tier state.DiscountTier,
	orderTs, now int64,
	hasReferrer bool,
	fillerIsUser bool,
	quoteSurplus fpmath.Uint,
) (OrderFee, error) {
	c := fpmath.NewCalc("calculate_fee_for_order")

	if !quoteSurplus.IsZero() {
		var fillerReward fpmath.Uint
		if !fillerIsUser {
			fillerReward = FillerReward(c, quoteSurplus, orderTs, now, os)
		}
		toMarket := c.Sub(quoteSurplus, fillerReward)
		if err := c.Err(); err != nil {
			return OrderFee{}, err
		}
		return OrderFee{FeeToMarket: toMarket, FillerReward: fillerReward}, nil
	}

	fee := c.MulRatio(quoteAmount, fs.Fee)
	tokenDiscount := c.MulRatio(fee, discountTier(tier).discount(fs))
	referrerReward, refereeDiscount := referral(c, fee, fs, hasReferrer)
	userFee := c.Sub(c.Sub(fee, refereeDiscount), tokenDiscount)
	var fillerReward fpmath.Uint
	if !fillerIsUser {
		fillerReward = FillerReward(c, userFee, orderTs, now, os)
	}
	toMarket := c.Sub(c.Sub(userFee, fillerReward), referrerReward)
	if err := c.Err(); err != nil {
		return OrderFee{}, err
	}
	return OrderFee{
		UserFee:         userFee,
		FeeToMarket:     toMarket,
		TokenDiscount:   tokenDiscount,
		FillerReward:    fillerReward,
		ReferrerReward:  referrerReward,
		RefereeDiscount: refereeDiscount,
	}, nil
}

// FillerReward is the lesser of a share of the fee and a reward that grows
// with the fourth root of the order's age, so older orders are filled first.
func FillerReward(c *fpmath.Calc, fee fpmath.Uint, orderTs, now int64, os *state.OrderState) fpmath.Uint {
	sizeReward := c.MulRatio(fee, os.Reward)
	age := max(1, now-orderTs)
	root := fpmath.Sqrt(fpmath.Sqrt(c.Mul(fpmath.NewUint(uint64(age)), fpmath.NewUint(100_000_000))))
	timeReward := c.Div(c.Mul(root, os.TimeBasedRewardLowerBound), fpmath.NewUint(100))
	return fpmath.MinUint(sizeReward, timeReward)
}

func referral(c *fpmath.Calc, fee fpmath.Uint, fs *state.FeeStructure, hasReferrer bool) (reward, discount fpmath.Uint) {
	if !hasReferrer {
		return fpmath.Uint{}, fpmath.Uint{}
	}
	return c.MulRatio(fee, fs.ReferrerReward), c.MulRatio(fee, fs.RefereeDiscount)
}

// discountTier indexes FeeStructure.Tiers from one; zero means no tier.
type discountTier state.DiscountTier

func tierFor(fs *state.FeeStructure, balance fpmath.Uint) discountTier {
	if balance.IsZero() {
		return discountTier(state.DiscountTierNone)
	}
	for i, t := range fs.Tiers {
		if balance.GTE(t.MinimumBalance) {
			return discountTier(i + 1)
		}
	}
	return discountTier(state.DiscountTierNone)
}

func (t discountTier) discount(fs *state.FeeStructure) fpmath.Ratio {
	if t == discountTier(state.DiscountTierNone) || int(t) > len(fs.Tiers) {
		return fpmath.Ratio{}
	}
	return fs.Tiers[t-1].Discount
}
