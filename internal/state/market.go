package state

import (
	fpmath "PerpVAMM/internal/math"
)

// Market is one perpetual market and its embedded AMM.
// Invariant: BaseAssetAmount == BaseAssetAmountLong + BaseAssetAmountShort.
type Market struct {
	Index                  uint64     `json:"index"`
	Symbol                 string     `json:"symbol"`
	Initialized            bool       `json:"initialized"`
	BaseAssetAmountLong    fpmath.Int `json:"base_asset_amount_long"`
	BaseAssetAmountShort   fpmath.Int `json:"base_asset_amount_short"`
	BaseAssetAmount        fpmath.Int `json:"base_asset_amount"` // net market bias
	OpenInterest           uint64     `json:"open_interest"`     // number of users in a position
	AMM                    AMM        `json:"amm"`
	MarginRatioInitial     uint32     `json:"margin_ratio_initial"`
	MarginRatioPartial     uint32     `json:"margin_ratio_partial"`
	MarginRatioMaintenance uint32     `json:"margin_ratio_maintenance"`
}

// AMM is the virtual constant-product curve backing a market.
// Invariant: BaseAssetReserve * QuoteAssetReserve == SqrtK^2 (up to rounding)
// outside a cost-checked repeg or k adjustment.
type AMM struct {
	Oracle            string      `json:"oracle"`
	BaseAssetReserve  fpmath.Uint `json:"base_asset_reserve"`
	QuoteAssetReserve fpmath.Uint `json:"quote_asset_reserve"`
	SqrtK             fpmath.Uint `json:"sqrt_k"`
	PegMultiplier     fpmath.Uint `json:"peg_multiplier"`

	CumulativeFundingRateLong  fpmath.Int `json:"cumulative_funding_rate_long"`
	CumulativeFundingRateShort fpmath.Int `json:"cumulative_funding_rate_short"`
	LastFundingRate            fpmath.Int `json:"last_funding_rate"`
	LastFundingRateTs          int64      `json:"last_funding_rate_ts"`
	FundingPeriod              int64      `json:"funding_period"`

	LastMarkPriceTWAP   fpmath.Uint `json:"last_mark_price_twap"`
	LastMarkPriceTWAPTs int64       `json:"last_mark_price_twap_ts"`

	LastOraclePrice       fpmath.Int `json:"last_oracle_price"`
	LastOraclePriceTWAP   fpmath.Int `json:"last_oracle_price_twap"`
	LastOraclePriceTWAPTs int64      `json:"last_oracle_price_twap_ts"`

	TotalFee                   fpmath.Uint `json:"total_fee"`
	TotalFeeMinusDistributions fpmath.Uint `json:"total_fee_minus_distributions"`
	TotalFeeWithdrawn          fpmath.Uint `json:"total_fee_withdrawn"`

	MinimumQuoteAssetTradeSize fpmath.Uint `json:"minimum_quote_asset_trade_size"`
	MinimumBaseAssetTradeSize  fpmath.Uint `json:"minimum_base_asset_trade_size"`
}

// DefaultMinimumTradeSize applies to both quote and base sizes of a new market.
var DefaultMinimumTradeSize = fpmath.NewUint(10_000_000)
