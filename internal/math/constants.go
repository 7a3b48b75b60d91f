// internal/math/constants.go
package math

// Precision scales. Every stored amount uses one of these; changing them
// breaks compatibility with recorded history.
var (
	MarkPricePrecision      = NewUint(10_000_000_000)     // 1e10
	AMMReservePrecision     = NewUint(10_000_000_000_000) // 1e13
	QuotePrecision          = NewUint(1_000_000)          // 1e6
	FundingPaymentPrecision = NewUint(10_000)             // 1e4
	PegPrecision            = NewUint(1_000)              // 1e3
	MarginPrecision         = NewUint(10_000)
	PriceSpreadPrecision    = NewUint(10_000)

	PriceToPegPrecisionRatio               = NewUint(10_000_000)              // 1e7
	AMMToQuotePrecisionRatio               = NewUint(10_000_000)              // 1e7
	PriceToQuotePrecisionRatio             = NewUint(10_000)                  // 1e4
	AMMTimesPegToQuotePrecisionRatio       = NewUint(10_000_000_000)          // 1e10
	MarkPriceTimesAMMToQuotePrecisionRatio = NewUint(100_000_000_000_000_000) // 1e17
	QuoteToBaseAmountFundingPrecision      = NewUint(100_000_000_000)         // 1e11
	FundingPaymentTimesAMMToQuotePrecision = NewUint(100_000_000_000)         // 1e4 * 1e7
)

const (
	MinimumMarginRatio = 200
	MaximumMarginRatio = 10_000

	// MaxLiquidationSlippage is 1% in PriceSpreadPrecision units.
	MaxLiquidationSlippage = 100
	// MaxMarkTWAPDivergence is 50% in PriceSpreadPrecision units.
	MaxMarkTWAPDivergence = 5_000

	OneHour = 3600
	OneDay  = 86_400
)

var (
	// UpdateKAllowedPriceChange bounds the mark price move of an admin k update.
	UpdateKAllowedPriceChange = NewUint(100_000)

	// MinKAdjustmentRatio: a k update may shrink liquidity by at most 2.5%.
	MinKAdjustmentRatio = NewUint(9_750_000_000)

	// ShareOfFeesAllocatedToClearingHouse is the share of total fees that can
	// never be spent on funding or repegs.
	ShareOfFeesAllocatedToClearingHouse = NewRatio(1, 2)
)
