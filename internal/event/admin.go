package event

import (
	"github.com/google/uuid"

	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

// InitializeMarket creates a market. Base and quote reserves must be equal
// so the initial price is the peg.
type InitializeMarket struct {
	Header
	Market                 uint64      `json:"market_index"`
	Symbol                 string      `json:"symbol"`
	BaseAssetReserve       fpmath.Uint `json:"base_asset_reserve"`
	QuoteAssetReserve      fpmath.Uint `json:"quote_asset_reserve"`
	FundingPeriod          int64       `json:"funding_period"`
	PegMultiplier          fpmath.Uint `json:"peg_multiplier"`
	MarginRatioInitial     uint32      `json:"margin_ratio_initial"`
	MarginRatioPartial     uint32      `json:"margin_ratio_partial"`
	MarginRatioMaintenance uint32      `json:"margin_ratio_maintenance"`
}

func (i *InitializeMarket) DirectiveType() DirectiveType { return DirectiveTypeInitializeMarket }
func (i *InitializeMarket) MarketIndex() *uint64         { return marketRef(i.Market) }

type MovePrice struct {
	Header
	Market            uint64      `json:"market_index"`
	BaseAssetReserve  fpmath.Uint `json:"base_asset_reserve"`
	QuoteAssetReserve fpmath.Uint `json:"quote_asset_reserve"`
}

func (m *MovePrice) DirectiveType() DirectiveType { return DirectiveTypeMovePrice }
func (m *MovePrice) MarketIndex() *uint64         { return marketRef(m.Market) }

// WithdrawFees pays the clearing house share of a market's fees out of the
// collateral vault.
type WithdrawFees struct {
	Header
	Market    uint64      `json:"market_index"`
	Recipient uuid.UUID   `json:"recipient"`
	Amount    fpmath.Uint `json:"amount"`
}

func (w *WithdrawFees) DirectiveType() DirectiveType { return DirectiveTypeWithdrawFees }
func (w *WithdrawFees) MarketIndex() *uint64         { return marketRef(w.Market) }

type WithdrawFromInsuranceVault struct {
	Header
	Recipient uuid.UUID   `json:"recipient"`
	Amount    fpmath.Uint `json:"amount"`
}

func (w *WithdrawFromInsuranceVault) DirectiveType() DirectiveType {
	return DirectiveTypeWithdrawFromInsuranceVault
}
func (w *WithdrawFromInsuranceVault) MarketIndex() *uint64 { return nil }

// WithdrawFromInsuranceVaultToMarket moves insurance funds into the
// collateral vault and credits them to the market's fee pool.
type WithdrawFromInsuranceVaultToMarket struct {
	Header
	Market uint64      `json:"market_index"`
	Amount fpmath.Uint `json:"amount"`
}

func (w *WithdrawFromInsuranceVaultToMarket) DirectiveType() DirectiveType {
	return DirectiveTypeWithdrawFromInsuranceVaultToMarket
}
func (w *WithdrawFromInsuranceVaultToMarket) MarketIndex() *uint64 { return marketRef(w.Market) }

type Repeg struct {
	Header
	Market uint64      `json:"market_index"`
	NewPeg fpmath.Uint `json:"new_peg"`
}

func (r *Repeg) DirectiveType() DirectiveType { return DirectiveTypeRepeg }
func (r *Repeg) MarketIndex() *uint64         { return marketRef(r.Market) }

type UpdateOracleTWAP struct {
	Header
	Market uint64 `json:"market_index"`
}

func (u *UpdateOracleTWAP) DirectiveType() DirectiveType { return DirectiveTypeUpdateOracleTWAP }
func (u *UpdateOracleTWAP) MarketIndex() *uint64         { return marketRef(u.Market) }

type ResetOracleTWAP struct {
	Header
	Market uint64 `json:"market_index"`
}

func (r *ResetOracleTWAP) DirectiveType() DirectiveType { return DirectiveTypeResetOracleTWAP }
func (r *ResetOracleTWAP) MarketIndex() *uint64         { return marketRef(r.Market) }

// UpdateFundingRate may be signed by anyone.
type UpdateFundingRate struct {
	Header
	Market uint64 `json:"market_index"`
}

func (u *UpdateFundingRate) DirectiveType() DirectiveType { return DirectiveTypeUpdateFundingRate }
func (u *UpdateFundingRate) MarketIndex() *uint64         { return marketRef(u.Market) }

type UpdateK struct {
	Header
	Market uint64      `json:"market_index"`
	SqrtK  fpmath.Uint `json:"sqrt_k"`
}

func (u *UpdateK) DirectiveType() DirectiveType { return DirectiveTypeUpdateK }
func (u *UpdateK) MarketIndex() *uint64         { return marketRef(u.Market) }

// FeedPrice overwrites the market's last oracle price and oracle TWAP.
type FeedPrice struct {
	Header
	Market uint64     `json:"market_index"`
	Price  fpmath.Int `json:"price"`
}

func (f *FeedPrice) DirectiveType() DirectiveType { return DirectiveTypeFeedPrice }
func (f *FeedPrice) MarketIndex() *uint64         { return marketRef(f.Market) }

type UpdateMarginRatio struct {
	Header
	Market      uint64 `json:"market_index"`
	Initial     uint32 `json:"margin_ratio_initial"`
	Partial     uint32 `json:"margin_ratio_partial"`
	Maintenance uint32 `json:"margin_ratio_maintenance"`
}

func (u *UpdateMarginRatio) DirectiveType() DirectiveType { return DirectiveTypeUpdateMarginRatio }
func (u *UpdateMarginRatio) MarketIndex() *uint64         { return marketRef(u.Market) }

// UpdateLiquidationParams changes only the fields that are set.
type UpdateLiquidationParams struct {
	Header
	PartialClosePercentage            *fpmath.Ratio `json:"partial_liquidation_close_percentage,omitempty"`
	PartialPenaltyPercentage          *fpmath.Ratio `json:"partial_liquidation_penalty_percentage,omitempty"`
	FullPenaltyPercentage             *fpmath.Ratio `json:"full_liquidation_penalty_percentage,omitempty"`
	PartialLiquidatorShareDenominator *uint64       `json:"partial_liquidation_liquidator_share_denominator,omitempty"`
	FullLiquidatorShareDenominator    *uint64       `json:"full_liquidation_liquidator_share_denominator,omitempty"`
}

func (u *UpdateLiquidationParams) DirectiveType() DirectiveType {
	return DirectiveTypeUpdateLiquidationParams
}
func (u *UpdateLiquidationParams) MarketIndex() *uint64 { return nil }

// UpdateFeeStructure replaces the whole fee structure.
type UpdateFeeStructure struct {
	Header
	FeeStructure state.FeeStructure `json:"fee_structure"`
}

func (u *UpdateFeeStructure) DirectiveType() DirectiveType { return DirectiveTypeUpdateFeeStructure }
func (u *UpdateFeeStructure) MarketIndex() *uint64         { return nil }

type UpdateOrderState struct {
	Header
	OrderState state.OrderState `json:"order_state"`
}

func (u *UpdateOrderState) DirectiveType() DirectiveType { return DirectiveTypeUpdateOrderState }
func (u *UpdateOrderState) MarketIndex() *uint64         { return nil }

type UpdateOracleGuardRails struct {
	Header
	Rails state.OracleGuardRails `json:"oracle_guard_rails"`
}

func (u *UpdateOracleGuardRails) DirectiveType() DirectiveType {
	return DirectiveTypeUpdateOracleGuardRails
}
func (u *UpdateOracleGuardRails) MarketIndex() *uint64 { return nil }

type UpdateMarketOracle struct {
	Header
	Market uint64 `json:"market_index"`
	Oracle string `json:"oracle"`
}

func (u *UpdateMarketOracle) DirectiveType() DirectiveType { return DirectiveTypeUpdateMarketOracle }
func (u *UpdateMarketOracle) MarketIndex() *uint64         { return marketRef(u.Market) }

// UpdateMarketMinimumTradeSize changes only the sizes that are set.
type UpdateMarketMinimumTradeSize struct {
	Header
	Market uint64       `json:"market_index"`
	Quote  *fpmath.Uint `json:"minimum_quote_asset_trade_size,omitempty"`
	Base   *fpmath.Uint `json:"minimum_base_asset_trade_size,omitempty"`
}

func (u *UpdateMarketMinimumTradeSize) DirectiveType() DirectiveType {
	return DirectiveTypeUpdateMarketMinimumTradeSize
}
func (u *UpdateMarketMinimumTradeSize) MarketIndex() *uint64 { return marketRef(u.Market) }

type UpdateMaxDeposit struct {
	Header
	MaxDeposit fpmath.Uint `json:"max_deposit"`
}

func (u *UpdateMaxDeposit) DirectiveType() DirectiveType { return DirectiveTypeUpdateMaxDeposit }
func (u *UpdateMaxDeposit) MarketIndex() *uint64         { return nil }

type UpdateAdmin struct {
	Header
	Admin uuid.UUID `json:"admin"`
}

func (u *UpdateAdmin) DirectiveType() DirectiveType { return DirectiveTypeUpdateAdmin }
func (u *UpdateAdmin) MarketIndex() *uint64         { return nil }

type UpdateExchangePaused struct {
	Header
	Paused bool `json:"exchange_paused"`
}

func (u *UpdateExchangePaused) DirectiveType() DirectiveType {
	return DirectiveTypeUpdateExchangePaused
}
func (u *UpdateExchangePaused) MarketIndex() *uint64 { return nil }

type UpdateFundingPaused struct {
	Header
	Paused bool `json:"funding_paused"`
}

func (u *UpdateFundingPaused) DirectiveType() DirectiveType { return DirectiveTypeUpdateFundingPaused }
func (u *UpdateFundingPaused) MarketIndex() *uint64         { return nil }

// DisableAdminControlsPrices is one-way.
type DisableAdminControlsPrices struct {
	Header
}

func (d *DisableAdminControlsPrices) DirectiveType() DirectiveType {
	return DirectiveTypeDisableAdminControlsPrices
}
func (d *DisableAdminControlsPrices) MarketIndex() *uint64 { return nil }

// UpdateProtocolAddresses renames the default oracle for new markets or the
// history stream.
type UpdateProtocolAddresses struct {
	Header
	Oracle        *string `json:"oracle,omitempty"`
	HistoryStream *string `json:"history_stream,omitempty"`
}

func (u *UpdateProtocolAddresses) DirectiveType() DirectiveType {
	return DirectiveTypeUpdateProtocolAddresses
}
func (u *UpdateProtocolAddresses) MarketIndex() *uint64 { return nil }
