package state

import (
	fpmath "PerpVAMM/internal/math"
)

// LiquidationStatus is computed fresh for every liquidation check and never
// stored.
type LiquidationStatus struct {
	LiquidationType         LiquidationType `json:"liquidation_type"`
	MarginRequirement       fpmath.Uint     `json:"margin_requirement"`
	TotalCollateral         fpmath.Uint     `json:"total_collateral"`
	UnrealizedPnl           fpmath.Int      `json:"unrealized_pnl"`
	AdjustedTotalCollateral fpmath.Uint     `json:"adjusted_total_collateral"`
	BaseAssetValue          fpmath.Uint     `json:"base_asset_value"`
	MarginRatio             fpmath.Uint     `json:"margin_ratio"`
	MarketStatuses          []MarketStatus  `json:"market_statuses"`
}

// MarketStatus is the per-market part of a LiquidationStatus.
type MarketStatus struct {
	MarketIndex                  uint64       `json:"market_index"`
	PartialMarginRequirement     fpmath.Uint  `json:"partial_margin_requirement"`
	MaintenanceMarginRequirement fpmath.Uint  `json:"maintenance_margin_requirement"`
	BaseAssetValue               fpmath.Uint  `json:"base_asset_value"`
	MarkPriceBefore              fpmath.Uint  `json:"mark_price_before"`
	ClosePositionSlippage        *fpmath.Int  `json:"close_position_slippage,omitempty"`
	OracleStatus                 OracleStatus `json:"oracle_status"`
}
