package state

import (
	"fmt"

	fpmath "PerpVAMM/internal/math"
)

var one = fpmath.NewRatio(1, 1)

// ValidateMarginRatios checks that every ratio lies in
// [MinimumMarginRatio, MaximumMarginRatio] and that
// initial >= partial >= maintenance.
func ValidateMarginRatios(initial, partial, maintenance uint32) error {
	inRange := func(name string, r uint32) error {
		if r < fpmath.MinimumMarginRatio || r > fpmath.MaximumMarginRatio {
			return fmt.Errorf("%s margin ratio %d outside [%d, %d]: %w",
				name, r, fpmath.MinimumMarginRatio, fpmath.MaximumMarginRatio, ErrInvalidMarginRatio)
		}
		return nil
	}
	if err := inRange("initial", initial); err != nil {
		return err
	}
	if err := inRange("partial", partial); err != nil {
		return err
	}
	if err := inRange("maintenance", maintenance); err != nil {
		return err
	}
	if initial < partial {
		return fmt.Errorf("initial (%d) below partial (%d): %w", initial, partial, ErrInvalidMarginRatio)
	}
	if partial < maintenance {
		return fmt.Errorf("partial (%d) below maintenance (%d): %w", partial, maintenance, ErrInvalidMarginRatio)
	}
	return nil
}

// ValidateFeeStructure checks that no fee, discount or referral share
// exceeds the whole, that the shares taken out of one fee together never do,
// and that the discount tiers run from the highest minimum balance down.
func ValidateFeeStructure(fs *FeeStructure) error {
	if fs.Fee.GT(one) {
		return fmt.Errorf("fee %s above 1: %w", fs.Fee, ErrInvalidParameter)
	}
	if fs.ReferrerReward.GT(one) || fs.RefereeDiscount.GT(one) {
		return fmt.Errorf("referrer reward %s / referee discount %s above 1: %w",
			fs.ReferrerReward, fs.RefereeDiscount, ErrInvalidParameter)
	}
	for i, t := range fs.Tiers {
		if t.Discount.GT(one) {
			return fmt.Errorf("tier %d discount %s above 1: %w", i+1, t.Discount, ErrInvalidParameter)
		}
		if shares := t.Discount.Add(fs.RefereeDiscount).Add(fs.ReferrerReward); shares.GT(one) {
			return fmt.Errorf("tier %d discount with referral shares %s above 1: %w", i+1, shares, ErrInvalidParameter)
		}
		if i > 0 && t.MinimumBalance.GT(fs.Tiers[i-1].MinimumBalance) {
			return fmt.Errorf("tier %d minimum balance %s above tier %d: %w",
				i+1, t.MinimumBalance, i, ErrInvalidParameter)
		}
	}
	return nil
}

func ValidateOrderState(os *OrderState) error {
	if os.Reward.GT(one) {
		return fmt.Errorf("filler reward %s above 1: %w", os.Reward, ErrInvalidParameter)
	}
	return nil
}

// ValidateGuardRails rejects guard rails that would make every oracle
// reading invalid.
func ValidateGuardRails(r *OracleGuardRails) error {
	if r.SlotsBeforeStale < 0 {
		return fmt.Errorf("slots before stale %d negative: %w", r.SlotsBeforeStale, ErrInvalidParameter)
	}
	if !r.TooVolatileRatio.IsPositive() {
		return fmt.Errorf("too volatile ratio %s not positive: %w", r.TooVolatileRatio, ErrInvalidParameter)
	}
	return nil
}

// ValidateLiquidationParams checks the liquidation percentages and
// liquidator share denominators of ps.
func ValidateLiquidationParams(ps *ProtocolState) error {
	for name, r := range map[string]fpmath.Ratio{
		"partial close":   ps.PartialLiquidationClosePercentage,
		"partial penalty": ps.PartialLiquidationPenaltyPercentage,
		"full penalty":    ps.FullLiquidationPenaltyPercentage,
	} {
		if r.GT(one) {
			return fmt.Errorf("%s percentage %s above 1: %w", name, r, ErrInvalidParameter)
		}
	}
	if ps.PartialLiquidationClosePercentage.IsZero() {
		return fmt.Errorf("partial close percentage is zero: %w", ErrInvalidParameter)
	}
	if ps.PartialLiquidationLiquidatorShareDenominator == 0 || ps.FullLiquidationLiquidatorShareDenominator == 0 {
		return fmt.Errorf("liquidator share denominator is zero: %w", ErrInvalidParameter)
	}
	return nil
}
