package state

import (
	"github.com/google/uuid"

	fpmath "PerpVAMM/internal/math"
)

// ProtocolState is the exchange-wide configuration record.
type ProtocolState struct {
	Admin               uuid.UUID `json:"admin"`
	ExchangePaused      bool      `json:"exchange_paused"`
	FundingPaused       bool      `json:"funding_paused"`
	AdminControlsPrices bool      `json:"admin_controls_prices"`

	CollateralVault string `json:"collateral_vault"`
	InsuranceVault  string `json:"insurance_vault"`
	HistoryStream   string `json:"history_stream"`
	Oracle          string `json:"oracle"`

	MarginRatioInitial     uint32 `json:"margin_ratio_initial"`
	MarginRatioPartial     uint32 `json:"margin_ratio_partial"`
	MarginRatioMaintenance uint32 `json:"margin_ratio_maintenance"`

	PartialLiquidationClosePercentage   fpmath.Ratio `json:"partial_liquidation_close_percentage"`
	PartialLiquidationPenaltyPercentage fpmath.Ratio `json:"partial_liquidation_penalty_percentage"`
	FullLiquidationPenaltyPercentage    fpmath.Ratio `json:"full_liquidation_penalty_percentage"`

	PartialLiquidationLiquidatorShareDenominator uint64 `json:"partial_liquidation_liquidator_share_denominator"`
	FullLiquidationLiquidatorShareDenominator    uint64 `json:"full_liquidation_liquidator_share_denominator"`

	// MaxDeposit caps cumulative deposits per user; zero disables the cap.
	MaxDeposit    fpmath.Uint `json:"max_deposit"`
	MarketsLength uint64      `json:"markets_length"`
}

// DiscountTokenTier grants Discount on fees to holders of at least MinimumBalance.
type DiscountTokenTier struct {
	MinimumBalance fpmath.Uint  `json:"minimum_balance"`
	Discount       fpmath.Ratio `json:"discount"`
}

// FeeStructure holds the trade fee and its discount and referral splits.
// Tiers are ordered from the highest minimum balance down.
type FeeStructure struct {
	Fee             fpmath.Ratio         `json:"fee"`
	Tiers           [4]DiscountTokenTier `json:"tiers"`
	ReferrerReward  fpmath.Ratio         `json:"referrer_reward"`
	RefereeDiscount fpmath.Ratio         `json:"referee_discount"`
}

// OracleGuardRails bound when the oracle may be trusted.
type OracleGuardRails struct {
	UseForLiquidations        bool         `json:"use_for_liquidations"`
	MarkOracleDivergence      fpmath.Ratio `json:"mark_oracle_divergence"`
	SlotsBeforeStale          int64        `json:"slots_before_stale"`
	ConfidenceIntervalMaxSize fpmath.Uint  `json:"confidence_interval_max_size"`
	TooVolatileRatio          fpmath.Int   `json:"too_volatile_ratio"`
}

// OrderState holds order placement and filler reward parameters.
type OrderState struct {
	MinOrderQuoteAssetAmount  fpmath.Uint  `json:"min_order_quote_asset_amount"`
	Reward                    fpmath.Ratio `json:"reward"`
	TimeBasedRewardLowerBound fpmath.Uint  `json:"time_based_reward_lower_bound"`
}

// DefaultProtocolState returns the state a fresh exchange starts with.
func DefaultProtocolState(admin uuid.UUID, collateralVault, insuranceVault, historyStream, oracle string) *ProtocolState {
	return &ProtocolState{
		Admin:                                        admin,
		AdminControlsPrices:                          true,
		CollateralVault:                              collateralVault,
		InsuranceVault:                               insuranceVault,
		HistoryStream:                                historyStream,
		Oracle:                                       oracle,
		MarginRatioInitial:                           2000,
		MarginRatioPartial:                           625,
		MarginRatioMaintenance:                       500,
		PartialLiquidationClosePercentage:            fpmath.NewRatio(25, 100),
		PartialLiquidationPenaltyPercentage:          fpmath.NewRatio(25, 100),
		FullLiquidationPenaltyPercentage:             fpmath.NewRatio(1, 1),
		PartialLiquidationLiquidatorShareDenominator: 1,
		FullLiquidationLiquidatorShareDenominator:    2000,
	}
}

// DefaultFeeStructure is a 10bps fee with four discount-token tiers.
func DefaultFeeStructure() *FeeStructure {
	return &FeeStructure{
		Fee: fpmath.NewRatio(1, 1000),
		Tiers: [4]DiscountTokenTier{
			{MinimumBalance: fpmath.NewUint(10_000_000_000_000), Discount: fpmath.NewRatio(20, 100)},
			{MinimumBalance: fpmath.NewUint(1_000_000_000_000), Discount: fpmath.NewRatio(15, 100)},
			{MinimumBalance: fpmath.NewUint(100_000_000_000), Discount: fpmath.NewRatio(10, 100)},
			{MinimumBalance: fpmath.NewUint(10_000_000_000), Discount: fpmath.NewRatio(5, 100)},
		},
		ReferrerReward:  fpmath.NewRatio(5, 100),
		RefereeDiscount: fpmath.NewRatio(5, 100),
	}
}

func DefaultOracleGuardRails() *OracleGuardRails {
	return &OracleGuardRails{
		UseForLiquidations:        true,
		MarkOracleDivergence:      fpmath.NewRatio(10, 100),
		SlotsBeforeStale:          1000,
		ConfidenceIntervalMaxSize: fpmath.NewUint(4),
		TooVolatileRatio:          fpmath.NewInt(5),
	}
}

func DefaultOrderState() *OrderState {
	return &OrderState{}
}
